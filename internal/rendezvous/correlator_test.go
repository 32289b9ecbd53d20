package rendezvous

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-rendezvous/pkg/types"
)

// TestCorrelator_FIFO 测试同一节点的响应按发送顺序关联
func TestCorrelator_FIFO(t *testing.T) {
	c := NewCorrelator()
	c.RecordSent(PendingRequest{ID: "d1", Kind: KindDiscover, Namespace: "a", Target: "point", SentAt: t0})
	c.RecordSent(PendingRequest{ID: "r1", Kind: KindRegister, Namespace: "b", Target: "point", SentAt: t0.Add(time.Second)})
	c.RecordSent(PendingRequest{ID: "r2", Kind: KindRegister, Namespace: "c", Target: "other", SentAt: t0})

	req, err := c.ResolveResponse("point", KindDiscover)
	require.NoError(t, err)
	assert.Equal(t, RequestID("d1"), req.ID)
	assert.Equal(t, "a", req.Namespace)

	req, err = c.ResolveResponse("point", KindRegister)
	require.NoError(t, err)
	assert.Equal(t, RequestID("r1"), req.ID)
	assert.Equal(t, "b", req.Namespace)

	assert.Zero(t, c.Pending("point"))
	assert.Equal(t, 1, c.Pending("other"))

	t.Log("✅ FIFO 关联测试通过")
}

// TestCorrelator_Mismatch 测试类型不匹配时队列保持不变
func TestCorrelator_Mismatch(t *testing.T) {
	c := NewCorrelator()
	c.RecordSent(PendingRequest{ID: "r1", Kind: KindRegister, Namespace: "chat", Target: "point"})

	_, err := c.ResolveResponse("point", KindDiscover)
	assert.ErrorIs(t, err, ErrResponseMismatch)
	assert.Equal(t, 1, c.Pending("point"))

	req, err := c.ResolveResponse("point", KindRegister)
	require.NoError(t, err)
	assert.Equal(t, RequestID("r1"), req.ID)
}

// TestCorrelator_Unexpected 测试没有等待请求时的响应
func TestCorrelator_Unexpected(t *testing.T) {
	c := NewCorrelator()

	_, err := c.ResolveResponse("point", KindRegister)
	assert.ErrorIs(t, err, ErrUnexpectedResponse)
	assert.Empty(t, c.Peers())
}

// TestCorrelator_ResponseKind 测试响应与请求类型的对应
func TestCorrelator_ResponseKind(t *testing.T) {
	kind, ok := responseKind(NewRegisterOK(10))
	assert.True(t, ok)
	assert.Equal(t, KindRegister, kind)
	assert.True(t, IsResponse(NewRegisterOK(10)))

	kind, ok = responseKind(NewDiscoverOK(nil))
	assert.True(t, ok)
	assert.Equal(t, KindDiscover, kind)
	assert.True(t, IsResponse(NewDiscoverOK(nil)))

	for _, m := range []Message{&RegisterRequest{}, &UnregisterRequest{}, &DiscoverRequest{}} {
		_, ok := responseKind(m)
		assert.False(t, ok, "%T", m)
		assert.False(t, IsResponse(m), "%T", m)
	}
}

// TestCorrelator_ClearForPeer 测试按发送顺序清空
func TestCorrelator_ClearForPeer(t *testing.T) {
	c := NewCorrelator()
	c.RecordSent(PendingRequest{ID: "1", Kind: KindRegister, Target: "point", SentAt: t0})
	c.RecordSent(PendingRequest{ID: "2", Kind: KindDiscover, Target: "point", SentAt: t0.Add(time.Second)})

	oldest, ok := c.OldestPending("point")
	require.True(t, ok)
	assert.Equal(t, t0, oldest)
	assert.Equal(t, []types.PeerID{"point"}, c.Peers())

	cleared := c.ClearForPeer("point")
	require.Len(t, cleared, 2)
	assert.Equal(t, RequestID("1"), cleared[0].ID)
	assert.Equal(t, RequestID("2"), cleared[1].ID)

	_, ok = c.OldestPending("point")
	assert.False(t, ok)
	assert.Empty(t, c.ClearForPeer("point"))
}
