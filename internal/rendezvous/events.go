package rendezvous

import (
	"github.com/dep2p/go-rendezvous/pkg/types"
)

// ============================================================================
//                              事件
// ============================================================================

// EventKind 事件类型名，用于日志和指标标签
type EventKind string

// 事件类型
const (
	EventDiscovered           EventKind = "discovered"
	EventFailedToDiscover     EventKind = "failed_to_discover"
	EventRegistered           EventKind = "registered"
	EventFailedToRegister     EventKind = "failed_to_register"
	EventRegistrationDeclined EventKind = "registration_declined"
	EventPeerRegistered       EventKind = "peer_registered"
	EventPeerUnregistered     EventKind = "peer_unregistered"
	EventProtocolViolation    EventKind = "protocol_violation"
)

// Event Engine 输出的事件
//
// 封闭的和类型，只由本包构造；每个事件只会被 Poll/Drain 交付一次。
type Event interface {
	Kind() EventKind

	isEvent()
}

// Discovered 发现成功（客户端）
type Discovered struct {
	RendezvousNode types.PeerID
	RequestID      RequestID

	// Namespace 请求的命名空间，空表示列出全部
	Namespace     string
	Registrations []Registration
}

// FailedToDiscover 发现失败（客户端）
type FailedToDiscover struct {
	RendezvousNode types.PeerID
	RequestID      RequestID
	Namespace      string
	Code           ErrorCode
}

// Registered 注册成功（客户端）
type Registered struct {
	RendezvousNode types.PeerID
	RequestID      RequestID
	Namespace      string

	// TTL 服务端实际采用的有效期（秒）
	TTL uint32
}

// FailedToRegister 注册失败（客户端）
type FailedToRegister struct {
	RendezvousNode types.PeerID
	RequestID      RequestID
	Namespace      string
	Code           ErrorCode
}

// RegistrationDeclined 本节点拒绝了一个入站注册（服务端）
type RegistrationDeclined struct {
	Peer      types.PeerID
	Namespace string
	Code      ErrorCode
}

// PeerRegistered 有节点注册成功（服务端）
type PeerRegistered struct {
	Peer         types.PeerID
	Namespace    string
	Registration Registration
}

// PeerUnregistered 节点的注册被移除（服务端，显式取消或断连）
type PeerUnregistered struct {
	Peer      types.PeerID
	Namespace string
}

// ProtocolViolation 远端发送了无法关联的响应
//
// 与普通的协议失败区分开：它表示远端实现不合规，而不是请求被拒绝。
type ProtocolViolation struct {
	Peer types.PeerID
	Code ErrorCode
	Err  error
}

func (Discovered) Kind() EventKind           { return EventDiscovered }
func (FailedToDiscover) Kind() EventKind     { return EventFailedToDiscover }
func (Registered) Kind() EventKind           { return EventRegistered }
func (FailedToRegister) Kind() EventKind     { return EventFailedToRegister }
func (RegistrationDeclined) Kind() EventKind { return EventRegistrationDeclined }
func (PeerRegistered) Kind() EventKind       { return EventPeerRegistered }
func (PeerUnregistered) Kind() EventKind     { return EventPeerUnregistered }
func (ProtocolViolation) Kind() EventKind    { return EventProtocolViolation }

func (Discovered) isEvent()           {}
func (FailedToDiscover) isEvent()     {}
func (Registered) isEvent()           {}
func (FailedToRegister) isEvent()     {}
func (RegistrationDeclined) isEvent() {}
func (PeerRegistered) isEvent()       {}
func (PeerUnregistered) isEvent()     {}
func (ProtocolViolation) isEvent()    {}

// CompletedRequest 返回事件完成的本地请求 ID
//
// 只有 Discovered/FailedToDiscover/Registered/FailedToRegister 对应本地调用。
func CompletedRequest(ev Event) (RequestID, bool) {
	switch e := ev.(type) {
	case Discovered:
		return e.RequestID, true
	case FailedToDiscover:
		return e.RequestID, true
	case Registered:
		return e.RequestID, true
	case FailedToRegister:
		return e.RequestID, true
	}
	return "", false
}
