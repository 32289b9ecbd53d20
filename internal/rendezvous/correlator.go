package rendezvous

import (
	"fmt"
	"time"

	"github.com/dep2p/go-rendezvous/pkg/types"
)

// RequestKind 等待中请求的类型
type RequestKind int

const (
	// KindRegister 注册
	KindRegister RequestKind = iota + 1
	// KindUnregister 取消注册（线上没有响应，不会进入队列）
	KindUnregister
	// KindDiscover 发现
	KindDiscover
)

// String 返回类型名称
func (k RequestKind) String() string {
	switch k {
	case KindRegister:
		return "register"
	case KindUnregister:
		return "unregister"
	case KindDiscover:
		return "discover"
	default:
		return fmt.Sprintf("RequestKind(%d)", int(k))
	}
}

// responseKind 返回响应消息对应的请求类型
func responseKind(m Message) (RequestKind, bool) {
	switch m.(type) {
	case *RegisterResponse:
		return KindRegister, true
	case *DiscoverResponse:
		return KindDiscover, true
	}
	return 0, false
}

// RequestID 本地调用标识，随完成事件一起返回
type RequestID string

// PendingRequest 等待远端响应的本地请求
type PendingRequest struct {
	ID        RequestID
	Kind      RequestKind
	Namespace string
	Target    types.PeerID

	// TTL 注册请求的 TTL（秒），0 表示未指定
	TTL uint32

	// SentAt 入队时间，用于宿主检测超时
	SentAt time.Time
}

// ============================================================================
//                              Correlator
// ============================================================================

// Correlator 请求关联器
//
// 线上响应不携带请求标识，只能依赖同一连接上的发送顺序：每个远端节点一条
// FIFO 队列，响应总是对应队首的请求。传输层必须保证同一逻辑连接按发送顺序
// 交付，且该连接的请求/响应固定在一条子流上。
type Correlator struct {
	pending map[types.PeerID][]PendingRequest
}

// NewCorrelator 创建关联器
func NewCorrelator() *Correlator {
	return &Correlator{
		pending: make(map[types.PeerID][]PendingRequest),
	}
}

// RecordSent 记录一个已发送的请求，追加到目标节点队列尾部
func (c *Correlator) RecordSent(req PendingRequest) {
	c.pending[req.Target] = append(c.pending[req.Target], req)
}

// ResolveResponse 为来自 target 的 kind 类型响应找到对应的请求
//
// 队列为空返回 ErrUnexpectedResponse；队首类型不匹配返回 ErrResponseMismatch，
// 两种情况下队列都保持不变，后续合法响应仍能正确关联。
func (c *Correlator) ResolveResponse(target types.PeerID, kind RequestKind) (PendingRequest, error) {
	queue := c.pending[target]
	if len(queue) == 0 {
		return PendingRequest{}, fmt.Errorf("%w: %s response from %s", ErrUnexpectedResponse, kind, target.ShortString())
	}

	front := queue[0]
	if front.Kind != kind {
		return PendingRequest{}, fmt.Errorf("%w: got %s response, expected %s", ErrResponseMismatch, kind, front.Kind)
	}

	if len(queue) == 1 {
		delete(c.pending, target)
	} else {
		queue[0] = PendingRequest{}
		c.pending[target] = queue[1:]
	}
	return front, nil
}

// ClearForPeer 取出节点所有等待中的请求（按发送顺序）
func (c *Correlator) ClearForPeer(target types.PeerID) []PendingRequest {
	queue := c.pending[target]
	delete(c.pending, target)
	return queue
}

// Pending 返回节点等待中的请求数
func (c *Correlator) Pending(target types.PeerID) int {
	return len(c.pending[target])
}

// OldestPending 返回节点最早的等待请求的发送时间
func (c *Correlator) OldestPending(target types.PeerID) (time.Time, bool) {
	queue := c.pending[target]
	if len(queue) == 0 {
		return time.Time{}, false
	}
	return queue[0].SentAt, true
}

// Peers 返回所有有等待请求的节点
func (c *Correlator) Peers() []types.PeerID {
	peers := make([]types.PeerID, 0, len(c.pending))
	for peer := range c.pending {
		peers = append(peers, peer)
	}
	return peers
}
