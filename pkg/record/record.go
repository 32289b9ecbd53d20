// Package record 实现签名节点记录
//
// 节点记录描述节点 ID 与可达地址，由节点自己的 Ed25519 私钥签名。
// Rendezvous 协议把签名后的记录当作不透明字节传递，只有宿主在
// 需要时调用 Open 验证。
//
// 格式：
//
//	PeerRecord: [peerID_len(2) | peerID | seq(8) | timestamp(8) | addrs_count(2) | (addr_len(2) | addr)...]
//	Envelope:   [keyType(1) | pubKey_len(2) | pubKey | record_len(2) | record | sig_len(2) | sig]
//
// 签名内容为 PayloadType || record。
package record

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"

	"github.com/dep2p/go-rendezvous/pkg/types"
)

// PayloadType 信封载荷类型标识
var PayloadType = []byte("/dep2p/peer-record")

// KeyTypeEd25519 信封中的密钥类型
const KeyTypeEd25519 byte = 1

var (
	// ErrTooShort 数据不足
	ErrTooShort = errors.New("record: data too short")

	// ErrUnsupportedKey 不支持的密钥类型
	ErrUnsupportedKey = errors.New("record: unsupported key type")

	// ErrInvalidSignature 签名无效
	ErrInvalidSignature = errors.New("record: invalid signature")

	// ErrPeerIDMismatch 记录中的节点 ID 与签名密钥或发送者不一致
	ErrPeerIDMismatch = errors.New("record: peer id mismatch")
)

// ============================================================================
//                              PeerRecord
// ============================================================================

// PeerRecord 节点记录
type PeerRecord struct {
	// PeerID 节点 ID
	PeerID types.PeerID

	// Addrs 节点地址列表
	Addrs []string

	// Seq 序列号（单调递增）
	Seq uint64

	// Timestamp 记录创建时间
	Timestamp time.Time
}

// Marshal 序列化 PeerRecord
func (r *PeerRecord) Marshal() ([]byte, error) {
	if r == nil {
		return nil, errors.New("record: nil peer record")
	}
	if len(r.PeerID) > math.MaxUint16 || len(r.Addrs) > math.MaxUint16 {
		return nil, errors.New("record: peer record too large")
	}

	size := 2 + len(r.PeerID) + 8 + 8 + 2
	for _, addr := range r.Addrs {
		if len(addr) > math.MaxUint16 {
			return nil, fmt.Errorf("record: address too long: %d bytes", len(addr))
		}
		size += 2 + len(addr)
	}

	buf := make([]byte, 0, size)
	buf = appendField(buf, []byte(r.PeerID))
	buf = binary.BigEndian.AppendUint64(buf, r.Seq)
	buf = binary.BigEndian.AppendUint64(buf, uint64(r.Timestamp.UnixNano()))
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(r.Addrs)))
	for _, addr := range r.Addrs {
		buf = appendField(buf, []byte(addr))
	}
	return buf, nil
}

// UnmarshalPeerRecord 反序列化 PeerRecord
func UnmarshalPeerRecord(data []byte) (*PeerRecord, error) {
	r := reader{data: data}

	peerID, err := r.readField()
	if err != nil {
		return nil, fmt.Errorf("peer id: %w", err)
	}
	seq, err := r.readUint64()
	if err != nil {
		return nil, fmt.Errorf("seq: %w", err)
	}
	ts, err := r.readUint64()
	if err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	count, err := r.readUint16()
	if err != nil {
		return nil, fmt.Errorf("addrs count: %w", err)
	}

	var addrs []string
	for i := 0; i < int(count); i++ {
		addr, err := r.readField()
		if err != nil {
			return nil, fmt.Errorf("addr %d: %w", i, err)
		}
		addrs = append(addrs, string(addr))
	}

	return &PeerRecord{
		PeerID:    types.PeerID(peerID),
		Addrs:     addrs,
		Seq:       seq,
		Timestamp: time.Unix(0, int64(ts)),
	}, nil
}

// ============================================================================
//                              签名/验证
// ============================================================================

// PeerIDFromPublicKey 从公钥派生节点 ID：Base58(SHA256(公钥))
func PeerIDFromPublicKey(pub ed25519.PublicKey) (types.PeerID, error) {
	if len(pub) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: public key size %d", ErrUnsupportedKey, len(pub))
	}
	sum := sha256.Sum256(pub)
	return types.PeerID(base58.Encode(sum[:])), nil
}

// Seal 签名节点记录并封装为信封
//
// rec.PeerID 为空时填入由私钥派生的 ID；不为空时必须与之一致。
func Seal(priv ed25519.PrivateKey, rec *PeerRecord) (types.SignedPeerRecord, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key size %d", ErrUnsupportedKey, len(priv))
	}
	if rec == nil {
		return nil, errors.New("record: nil peer record")
	}

	pub := priv.Public().(ed25519.PublicKey)
	id, err := PeerIDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}
	if rec.PeerID.IsEmpty() {
		rec.PeerID = id
	} else if rec.PeerID != id {
		return nil, fmt.Errorf("%w: record claims %s, key derives %s", ErrPeerIDMismatch, rec.PeerID.ShortString(), id.ShortString())
	}

	raw, err := rec.Marshal()
	if err != nil {
		return nil, err
	}
	if len(raw) > math.MaxUint16 {
		return nil, errors.New("record: peer record too large")
	}
	sig := ed25519.Sign(priv, signingPayload(raw))

	buf := make([]byte, 0, 1+2+len(pub)+2+len(raw)+2+len(sig))
	buf = append(buf, KeyTypeEd25519)
	buf = appendField(buf, pub)
	buf = appendField(buf, raw)
	buf = appendField(buf, sig)
	return types.SignedPeerRecord(buf), nil
}

// Open 解析信封、验证签名，并检查记录中的节点 ID 由签名公钥派生
func Open(data types.SignedPeerRecord) (*PeerRecord, error) {
	r := reader{data: data}

	keyType, err := r.readByte()
	if err != nil {
		return nil, err
	}
	if keyType != KeyTypeEd25519 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedKey, keyType)
	}
	pub, err := r.readField()
	if err != nil {
		return nil, fmt.Errorf("public key: %w", err)
	}
	raw, err := r.readField()
	if err != nil {
		return nil, fmt.Errorf("peer record: %w", err)
	}
	sig, err := r.readField()
	if err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key size %d", ErrUnsupportedKey, len(pub))
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), signingPayload(raw), sig) {
		return nil, ErrInvalidSignature
	}

	rec, err := UnmarshalPeerRecord(raw)
	if err != nil {
		return nil, err
	}
	id, err := PeerIDFromPublicKey(ed25519.PublicKey(pub))
	if err != nil {
		return nil, err
	}
	if rec.PeerID != id {
		return nil, fmt.Errorf("%w: record claims %s, key derives %s", ErrPeerIDMismatch, rec.PeerID.ShortString(), id.ShortString())
	}
	return rec, nil
}

// Validator 返回 Rendezvous Point 使用的记录校验函数
//
// 记录必须验签通过，且记录中的节点 ID 与连接另一端的节点一致。
func Validator() func(from types.PeerID, data types.SignedPeerRecord) error {
	return func(from types.PeerID, data types.SignedPeerRecord) error {
		rec, err := Open(data)
		if err != nil {
			return err
		}
		if rec.PeerID != from {
			return fmt.Errorf("%w: record for %s sent by %s", ErrPeerIDMismatch, rec.PeerID.ShortString(), from.ShortString())
		}
		return nil
	}
}

func signingPayload(raw []byte) []byte {
	out := make([]byte, 0, len(PayloadType)+len(raw))
	out = append(out, PayloadType...)
	return append(out, raw...)
}

// ============================================================================
//                              Manager 管理器
// ============================================================================

// Manager 管理本地节点记录的序列号与签名
type Manager struct {
	priv ed25519.PrivateKey
	id   types.PeerID
	seq  atomic.Uint64
}

// NewManager 创建记录管理器
func NewManager(priv ed25519.PrivateKey) (*Manager, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: private key size %d", ErrUnsupportedKey, len(priv))
	}
	id, err := PeerIDFromPublicKey(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return nil, err
	}
	return &Manager{priv: priv, id: id}, nil
}

// ID 返回本地节点 ID
func (m *Manager) ID() types.PeerID {
	return m.id
}

// Sign 以递增的序列号创建并签名新记录
func (m *Manager) Sign(addrs []string) (types.SignedPeerRecord, error) {
	return Seal(m.priv, &PeerRecord{
		PeerID:    m.id,
		Addrs:     addrs,
		Seq:       m.seq.Add(1),
		Timestamp: time.Now(),
	})
}

// ============================================================================
//                              辅助函数
// ============================================================================

func appendField(buf, field []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(field)))
	return append(buf, field...)
}

// reader 顺序读取长度前缀字段
type reader struct {
	data []byte
	off  int
}

func (r *reader) need(n int) error {
	if r.off+n > len(r.data) {
		return ErrTooShort
	}
	return nil
}

func (r *reader) readByte() (byte, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	b := r.data[r.off]
	r.off++
	return b, nil
}

func (r *reader) readUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.data[r.off:])
	r.off += 2
	return v, nil
}

func (r *reader) readUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.data[r.off:])
	r.off += 8
	return v, nil
}

func (r *reader) readField() ([]byte, error) {
	n, err := r.readUint16()
	if err != nil {
		return nil, err
	}
	if err := r.need(int(n)); err != nil {
		return nil, err
	}
	v := r.data[r.off : r.off+int(n)]
	r.off += int(n)
	return v, nil
}
