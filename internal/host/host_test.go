package host

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-rendezvous/config"
	"github.com/dep2p/go-rendezvous/internal/rendezvous"
	"github.com/dep2p/go-rendezvous/pkg/types"
)

const waitFor = 5 * time.Second

func newTestHost(t *testing.T, id types.PeerID, mock *clock.Mock, opts ...Option) *Host {
	t.Helper()
	base := []Option{
		WithClock(mock),
		WithLocalRecord(types.SignedPeerRecord("record-" + id)),
	}
	h, err := New(DefaultConfig(), id, append(base, opts...)...)
	require.NoError(t, err)
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Close() })
	return h
}

// pipe 通过 net.Pipe 连接两个宿主，a 为发起方
func pipe(t *testing.T, a, b *Host) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	left, right := net.Pipe()
	errCh := make(chan error, 1)
	go func() {
		_, err := b.AddConn(ctx, right, false)
		errCh <- err
	}()

	peer, err := a.AddConn(ctx, left, true)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, b.ID(), peer)
}

// fakePeer 只完成握手、由测试直接读写流的远端
//
// 返回远端一侧的连接（其 peer 字段是 h 的标识）以及 h 看到的远端标识。
func fakePeer(t *testing.T, h *Host, id types.PeerID) (*conn, types.PeerID) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()

	left, right := net.Pipe()
	connCh := make(chan *conn, 1)
	errCh := make(chan error, 1)
	go func() {
		c, err := handshake(ctx, right, id, false, waitFor, 16)
		errCh <- err
		connCh <- c
	}()

	peer, err := h.AddConn(ctx, left, true)
	require.NoError(t, err)
	require.NoError(t, <-errCh)
	require.Equal(t, id, peer)
	c := <-connCh
	require.Equal(t, h.ID(), c.peer)
	t.Cleanup(func() { c.close() })
	return c, peer
}

func ctxT(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	t.Cleanup(cancel)
	return ctx
}

// ============================================================================
//                              端到端
// ============================================================================

// TestHost_Scenario A 在 B 上注册，5 秒后 C 在 B 上发现 A
func TestHost_Scenario(t *testing.T) {
	mock := clock.NewMock()
	a := newTestHost(t, "peer-A", mock)
	b := newTestHost(t, "peer-B", mock)
	c := newTestHost(t, "peer-C", mock)

	pipe(t, a, b)
	pipe(t, c, b)

	ttl, err := a.RegisterSync(ctxT(t), "chat", b.ID(), 30)
	require.NoError(t, err)
	assert.Equal(t, uint32(30), ttl)

	mock.Add(5 * time.Second)

	regs, err := c.DiscoverSync(ctxT(t), "chat", b.ID(), 0)
	require.NoError(t, err)
	require.Len(t, regs, 1)
	assert.Equal(t, a.ID(), regs[0].Peer)
	assert.Equal(t, "chat", regs[0].Namespace)
	assert.Equal(t, uint32(25), regs[0].TTL)
	assert.Equal(t, types.SignedPeerRecord("record-peer-A"), regs[0].Record)

	cached, ok := c.Cached("chat")
	require.True(t, ok)
	assert.Len(t, cached, 1)

	held, err := b.Registrations(ctxT(t), "chat")
	require.NoError(t, err)
	assert.Len(t, held, 1)

	t.Log("✅ 端到端场景测试通过")
}

// TestHost_ExpiredNotDiscovered 过期的注册不会被发现
func TestHost_ExpiredNotDiscovered(t *testing.T) {
	mock := clock.NewMock()
	a := newTestHost(t, "peer-A", mock)
	b := newTestHost(t, "peer-B", mock)
	pipe(t, a, b)

	_, err := a.RegisterSync(ctxT(t), "chat", b.ID(), 10)
	require.NoError(t, err)

	mock.Add(11 * time.Second)

	regs, err := a.DiscoverSync(ctxT(t), "chat", b.ID(), 0)
	require.NoError(t, err)
	assert.Empty(t, regs)

	cached, ok := a.Cached("chat")
	assert.True(t, ok)
	assert.Empty(t, cached)
}

// TestHost_RegisterDeclined 服务端拒绝时返回对应错误
func TestHost_RegisterDeclined(t *testing.T) {
	mock := clock.NewMock()
	a := newTestHost(t, "peer-A", mock)
	b := newTestHost(t, "peer-B", mock, WithRecordValidator(func(types.PeerID, types.SignedPeerRecord) error {
		return rendezvous.ErrNotAuthorized
	}))
	pipe(t, a, b)

	_, err := a.RegisterSync(ctxT(t), "chat", b.ID(), 0)
	assert.ErrorIs(t, err, rendezvous.ErrNotAuthorized)

	_, err = a.DiscoverSync(ctxT(t), string(make([]byte, 300)), b.ID(), 0)
	assert.ErrorIs(t, err, rendezvous.ErrInvalidNamespace)
}

// TestHost_DisconnectRemovesRegistrations 断开连接后服务端移除注册
func TestHost_DisconnectRemovesRegistrations(t *testing.T) {
	mock := clock.NewMock()
	a := newTestHost(t, "peer-A", mock)
	b := newTestHost(t, "peer-B", mock)
	pipe(t, a, b)

	events, cancel, err := b.Subscribe(16)
	require.NoError(t, err)
	defer cancel()

	_, err = a.RegisterSync(ctxT(t), "chat", b.ID(), 0)
	require.NoError(t, err)
	_, err = a.RegisterSync(ctxT(t), "game", b.ID(), 0)
	require.NoError(t, err)

	require.NoError(t, a.Disconnect(ctxT(t), b.ID()))

	unregistered := map[string]bool{}
	deadline := time.After(waitFor)
	for len(unregistered) < 2 {
		select {
		case ev := <-events:
			if e, ok := ev.(rendezvous.PeerUnregistered); ok {
				assert.Equal(t, a.ID(), e.Peer)
				unregistered[e.Namespace] = true
			}
		case <-deadline:
			t.Fatalf("only %d PeerUnregistered events", len(unregistered))
		}
	}
	assert.True(t, unregistered["chat"])
	assert.True(t, unregistered["game"])

	stats, err := b.Stats(ctxT(t))
	require.NoError(t, err)
	assert.Zero(t, stats.TotalRegistrations)
}

// ============================================================================
//                              连接管理
// ============================================================================

// TestHost_DuplicateConn 同一节点的第二条连接被拒绝
func TestHost_DuplicateConn(t *testing.T) {
	mock := clock.NewMock()
	a := newTestHost(t, "peer-A", mock)
	b := newTestHost(t, "peer-B", mock)
	pipe(t, a, b)

	left, right := net.Pipe()
	errCh := make(chan error, 1)
	go func() {
		_, err := b.AddConn(ctxT(t), right, false)
		errCh <- err
	}()
	_, err := a.AddConn(ctxT(t), left, true)
	assert.ErrorIs(t, err, ErrDuplicateConn)
	assert.ErrorIs(t, <-errCh, ErrDuplicateConn)

	// 原有连接仍然可用
	_, err = a.RegisterSync(ctxT(t), "chat", b.ID(), 0)
	assert.NoError(t, err)
}

// TestHost_HandshakeRejectsSelf 对端使用相同 ID 时握手失败
func TestHost_HandshakeRejectsSelf(t *testing.T) {
	mock := clock.NewMock()
	a := newTestHost(t, "peer-A", mock)
	twin := newTestHost(t, "peer-A", mock)

	left, right := net.Pipe()
	errCh := make(chan error, 1)
	go func() {
		_, err := twin.AddConn(ctxT(t), right, false)
		errCh <- err
	}()
	_, err := a.AddConn(ctxT(t), left, true)
	assert.ErrorIs(t, err, ErrHandshake)
	assert.Error(t, <-errCh)
}

// TestHost_RequestTimeout 请求超时后关闭连接，等待的调用以 Unavailable 失败
func TestHost_RequestTimeout(t *testing.T) {
	mock := clock.NewMock()
	a := newTestHost(t, "peer-A", mock)
	_, silent := fakePeer(t, a, "peer-silent")

	errCh := make(chan error, 1)
	go func() {
		_, err := a.DiscoverSync(context.Background(), "chat", silent, 0)
		errCh <- err
	}()

	require.Eventually(t, func() bool {
		stats, err := a.Stats(ctxT(t))
		return err == nil && stats.PendingRequests == 1
	}, waitFor, 10*time.Millisecond)

	mock.Add(40 * time.Second)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, rendezvous.ErrUnavailable)
	case <-time.After(waitFor):
		t.Fatal("DiscoverSync did not return")
	}

	peers, err := a.Peers(ctxT(t))
	require.NoError(t, err)
	assert.Empty(t, peers)
}

// TestHost_ProtocolViolation 无法关联的响应产生 ProtocolViolation 事件
func TestHost_ProtocolViolation(t *testing.T) {
	mock := clock.NewMock()
	a := newTestHost(t, "peer-A", mock)
	events, cancel, err := a.Subscribe(4)
	require.NoError(t, err)
	defer cancel()

	remote, rogue := fakePeer(t, a, "peer-rogue")
	require.NoError(t, rendezvous.WriteMessage(remote.stream, rendezvous.NewRegisterOK(10)))

	select {
	case ev := <-events:
		v, ok := ev.(rendezvous.ProtocolViolation)
		require.True(t, ok, "got %T", ev)
		assert.Equal(t, types.PeerID("peer-rogue"), rogue)
		assert.Equal(t, rogue, v.Peer)
		assert.ErrorIs(t, v.Err, rendezvous.ErrUnexpectedResponse)
	case <-time.After(waitFor):
		t.Fatal("no ProtocolViolation event")
	}
}

// TestHost_MalformedFrameCloses 解码失败关闭连接
func TestHost_MalformedFrameCloses(t *testing.T) {
	mock := clock.NewMock()
	a := newTestHost(t, "peer-A", mock)
	remote, _ := fakePeer(t, a, "peer-garbage")

	_, err := remote.stream.Write([]byte{0x03, 0xff, 0xff, 0xff})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		peers, err := a.Peers(ctxT(t))
		return err == nil && len(peers) == 0
	}, waitFor, 10*time.Millisecond)
}

// TestHost_Listen 通过 TCP 建立连接
func TestHost_Listen(t *testing.T) {
	mock := clock.NewMock()
	a := newTestHost(t, "peer-A", mock)
	b := newTestHost(t, "peer-B", mock)

	addr, err := b.Listen("127.0.0.1:0")
	require.NoError(t, err)
	assert.Equal(t, []string{addr.String()}, b.Addrs())

	peer, err := a.Connect(ctxT(t), addr.String())
	require.NoError(t, err)
	assert.Equal(t, b.ID(), peer)

	ttl, err := a.RegisterSync(ctxT(t), "chat", b.ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(7200), ttl)
}

// ============================================================================
//                              API 边界
// ============================================================================

// TestHost_Errors 测试调用前置条件
func TestHost_Errors(t *testing.T) {
	mock := clock.NewMock()

	idle, err := New(DefaultConfig(), "peer-idle", WithClock(mock))
	require.NoError(t, err)
	_, err = idle.Register(ctxT(t), "chat", "peer-B", 0)
	assert.ErrorIs(t, err, ErrNotStarted)
	require.NoError(t, idle.Close())

	a := newTestHost(t, "peer-A", mock)
	_, err = a.Register(ctxT(t), "chat", "peer-B", 0)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, a.Disconnect(ctxT(t), "peer-B"), ErrNotConnected)

	noRecord, err := New(DefaultConfig(), "peer-N", WithClock(mock))
	require.NoError(t, err)
	require.NoError(t, noRecord.Start(context.Background()))
	defer noRecord.Close()
	b := newTestHost(t, "peer-B", mock)
	pipe(t, noRecord, b)
	_, err = noRecord.Register(ctxT(t), "chat", b.ID(), 0)
	assert.ErrorIs(t, err, ErrNoLocalRecord)

	_, err = noRecord.Register(ctxT(t), "", b.ID(), 0)
	assert.ErrorIs(t, err, ErrNoLocalRecord)
	noRecord.SetLocalRecord(types.SignedPeerRecord("rec"))
	_, err = noRecord.Register(ctxT(t), "", b.ID(), 0)
	assert.ErrorIs(t, err, rendezvous.ErrInvalidNamespace)

	_, err = New(DefaultConfig(), "")
	assert.Error(t, err)

	bad := DefaultConfig()
	bad.CacheSize = 0
	_, err = New(bad, "peer-X")
	assert.Error(t, err)
}

// TestHost_Close 关闭后调用返回 ErrClosed
func TestHost_Close(t *testing.T) {
	mock := clock.NewMock()
	a := newTestHost(t, "peer-A", mock)
	b := newTestHost(t, "peer-B", mock)
	pipe(t, a, b)

	events, _, err := a.Subscribe(1)
	require.NoError(t, err)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, open := <-events
	assert.False(t, open)

	_, err = a.Discover(ctxT(t), "chat", b.ID(), 0)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, a.Start(context.Background()), ErrClosed)

	require.Eventually(t, func() bool {
		peers, err := b.Peers(ctxT(t))
		return err == nil && len(peers) == 0
	}, waitFor, 10*time.Millisecond)
}

// TestHost_Metrics 测试指标注册与计数
func TestHost_Metrics(t *testing.T) {
	mock := clock.NewMock()
	reg := prometheus.NewRegistry()
	a := newTestHost(t, "peer-A", mock)
	b := newTestHost(t, "peer-B", mock, WithRegisterer(reg))
	pipe(t, a, b)

	_, err := a.RegisterSync(ctxT(t), "chat", b.ID(), 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(b.metrics.registrations) == 1
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(b.metrics.connected))
	assert.Equal(t, float64(1), testutil.ToFloat64(b.metrics.received.WithLabelValues(rendezvous.TypeRegister.String())))

	_, err = New(DefaultConfig(), "peer-dup", WithRegisterer(reg))
	assert.Error(t, err)
}

// TestModule 测试 Fx 模块
func TestModule(t *testing.T) {
	var h *Host
	app := fxtest.New(t,
		fx.Supply(config.NewConfig()),
		fx.Supply(types.PeerID("peer-fx")),
		rendezvous.Module,
		Module,
		fx.Populate(&h),
	)
	app.RequireStart()

	require.NotNil(t, h)
	assert.Equal(t, types.PeerID("peer-fx"), h.ID())
	_, err := h.Stats(context.Background())
	assert.NoError(t, err)

	app.RequireStop()
}
