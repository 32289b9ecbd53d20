package rendezvous

import (
	"fmt"

	"github.com/dep2p/go-rendezvous/pkg/types"
)

// ============================================================================
//                              消息类型
// ============================================================================

// MessageType 线上消息类型，取值与 libp2p rendezvous 的 MessageType 对齐
type MessageType int32

const (
	// TypeRegister 注册请求
	TypeRegister MessageType = 0
	// TypeRegisterResponse 注册响应
	TypeRegisterResponse MessageType = 1
	// TypeUnregister 取消注册请求
	TypeUnregister MessageType = 2
	// TypeDiscover 发现请求
	TypeDiscover MessageType = 3
	// TypeDiscoverResponse 发现响应
	TypeDiscoverResponse MessageType = 4
)

// String 返回类型名称
func (t MessageType) String() string {
	switch t {
	case TypeRegister:
		return "REGISTER"
	case TypeRegisterResponse:
		return "REGISTER_RESPONSE"
	case TypeUnregister:
		return "UNREGISTER"
	case TypeDiscover:
		return "DISCOVER"
	case TypeDiscoverResponse:
		return "DISCOVER_RESPONSE"
	default:
		return fmt.Sprintf("MessageType(%d)", int32(t))
	}
}

// Message 线上消息
//
// 封闭的和类型：只有本包定义的五种消息实现该接口，处理方用 type switch 穷举。
type Message interface {
	// Type 返回消息类型
	Type() MessageType

	isMessage()
}

// RegisterRequest 注册请求
type RegisterRequest struct {
	// Namespace 命名空间
	Namespace string

	// TTL 请求的有效期（秒），0 表示未指定，由服务端使用默认值
	TTL uint32

	// Record 已签名的节点记录
	Record types.SignedPeerRecord
}

// RegisterResponse 注册响应
//
// Code 为 CodeOK 时表示 Ok{TTL}，否则表示 Err{Code} 且 TTL 必须为 0。
type RegisterResponse struct {
	Code ErrorCode
	TTL  uint32
}

// OK 是否成功
func (r *RegisterResponse) OK() bool { return r.Code == CodeOK }

// UnregisterRequest 取消注册请求，没有对应的响应
type UnregisterRequest struct {
	Namespace string
}

// DiscoverRequest 发现请求
type DiscoverRequest struct {
	// Namespace 为空表示列出所有命名空间
	Namespace string

	// Limit 最大返回数，0 表示使用服务端默认值
	Limit uint64
}

// DiscoverResponse 发现响应
//
// Code 为 CodeOK 时 Registrations 有效（可以为空），否则 Registrations 必须为空。
type DiscoverResponse struct {
	Code          ErrorCode
	Registrations []WireRegistration
}

// OK 是否成功
func (r *DiscoverResponse) OK() bool { return r.Code == CodeOK }

// WireRegistration 发现响应中的一条注册
type WireRegistration struct {
	Namespace string
	Peer      types.PeerID
	Record    types.SignedPeerRecord

	// TTL 剩余有效期（秒）
	TTL uint32
}

func (*RegisterRequest) Type() MessageType   { return TypeRegister }
func (*RegisterResponse) Type() MessageType  { return TypeRegisterResponse }
func (*UnregisterRequest) Type() MessageType { return TypeUnregister }
func (*DiscoverRequest) Type() MessageType   { return TypeDiscover }
func (*DiscoverResponse) Type() MessageType  { return TypeDiscoverResponse }

func (*RegisterRequest) isMessage()   {}
func (*RegisterResponse) isMessage()  {}
func (*UnregisterRequest) isMessage() {}
func (*DiscoverRequest) isMessage()   {}
func (*DiscoverResponse) isMessage()  {}

// IsResponse 判断消息是否为响应
func IsResponse(m Message) bool {
	switch m.(type) {
	case *RegisterResponse, *DiscoverResponse:
		return true
	}
	return false
}

// ============================================================================
//                              构造器
// ============================================================================

// NewRegisterOK 构造成功的注册响应
func NewRegisterOK(ttl uint32) *RegisterResponse {
	return &RegisterResponse{Code: CodeOK, TTL: ttl}
}

// NewRegisterErr 构造失败的注册响应
func NewRegisterErr(code ErrorCode) *RegisterResponse {
	return &RegisterResponse{Code: code}
}

// NewDiscoverOK 构造成功的发现响应
func NewDiscoverOK(regs []WireRegistration) *DiscoverResponse {
	if len(regs) == 0 {
		regs = nil
	}
	return &DiscoverResponse{Code: CodeOK, Registrations: regs}
}

// NewDiscoverErr 构造失败的发现响应
func NewDiscoverErr(code ErrorCode) *DiscoverResponse {
	return &DiscoverResponse{Code: code}
}
