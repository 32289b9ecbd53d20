package types

import "bytes"

// SignedPeerRecord 已签名的节点记录
//
// 记录中包含节点的可达地址，由身份层签名。rendezvous 核心只负责存储和返回，
// 不解析其内部格式；签名格式见 pkg/record。
type SignedPeerRecord []byte

// Equal 按值比较
func (r SignedPeerRecord) Equal(other SignedPeerRecord) bool {
	return bytes.Equal(r, other)
}

// IsEmpty 是否为空
func (r SignedPeerRecord) IsEmpty() bool {
	return len(r) == 0
}

// Clone 返回独立副本
//
// Store 保存的是副本，调用方之后修改原切片不会影响已存储的注册。
func (r SignedPeerRecord) Clone() SignedPeerRecord {
	if r == nil {
		return nil
	}
	out := make(SignedPeerRecord, len(r))
	copy(out, r)
	return out
}
