package types

import "fmt"

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// MaxPeerIDLength PeerID 最大长度（字节）
const MaxPeerIDLength = 128

// PeerID 节点标识
//
// 由传输层完成身份认证后交给上层，核心层只把它当作可比较、可哈希的不透明值。
// 通常是 Base58(SHA256(公钥))。
type PeerID string

// EmptyPeerID 空节点 ID
const EmptyPeerID PeerID = ""

// String 返回字符串表示
func (id PeerID) String() string {
	return string(id)
}

// ShortString 返回前 8 个字符，用于日志
func (id PeerID) ShortString() string {
	if len(id) > 8 {
		return string(id[:8])
	}
	return string(id)
}

// IsEmpty 是否为空
func (id PeerID) IsEmpty() bool {
	return id == EmptyPeerID
}

// Bytes 返回字节表示（用于线上编码）
func (id PeerID) Bytes() []byte {
	return []byte(id)
}

// Validate 检查 PeerID 是否可用于线上传输
func (id PeerID) Validate() error {
	if id.IsEmpty() {
		return ErrEmptyPeerID
	}
	if len(id) > MaxPeerIDLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidPeerID, len(id), MaxPeerIDLength)
	}
	return nil
}

// PeerIDFromBytes 从线上字节构造 PeerID
func PeerIDFromBytes(b []byte) (PeerID, error) {
	id := PeerID(b)
	if err := id.Validate(); err != nil {
		return EmptyPeerID, err
	}
	return id, nil
}

// ============================================================================
//                              ProtocolID - 协议标识
// ============================================================================

// ProtocolID 协议标识，例如 "/dep2p/sys/rendezvous/1.0.0"
type ProtocolID string

// String 返回字符串表示
func (p ProtocolID) String() string {
	return string(p)
}
