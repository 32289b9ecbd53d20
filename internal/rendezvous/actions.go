package rendezvous

import (
	"github.com/dep2p/go-rendezvous/pkg/types"
)

// Action Engine 对外输出的唯一通道：要发送的消息或要上报的事件
type Action interface {
	isAction()
}

// SendMessage 向节点发送一条消息
type SendMessage struct {
	Peer    types.PeerID
	Message Message
}

// EmitEvent 上报一个事件
type EmitEvent struct {
	Event Event
}

func (SendMessage) isAction() {}
func (EmitEvent) isAction()   {}

// actionQueue 先进先出的动作队列
type actionQueue struct {
	items []Action
}

func (q *actionQueue) push(a Action) {
	q.items = append(q.items, a)
}

func (q *actionQueue) pop() (Action, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	a := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return a, true
}

func (q *actionQueue) drain() []Action {
	items := q.items
	q.items = nil
	return items
}

func (q *actionQueue) len() int {
	return len(q.items)
}
