package host

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-rendezvous/internal/rendezvous"
	"github.com/dep2p/go-rendezvous/pkg/lib/log"
	"github.com/dep2p/go-rendezvous/pkg/types"
)

var logger = log.Logger("rendezvous/host")

// ============================================================================
//                              选项
// ============================================================================

// Option 宿主选项
type Option func(*Host)

// WithClock 设置时钟（测试使用 clock.Mock）
func WithClock(c clock.Clock) Option {
	return func(h *Host) {
		h.clock = c
	}
}

// WithRegisterer 设置指标注册器
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(h *Host) {
		h.registerer = reg
	}
}

// WithRecordValidator 设置入站注册的记录校验
func WithRecordValidator(v rendezvous.RecordValidator) Option {
	return func(h *Host) {
		h.validator = v
	}
}

// WithLocalRecord 设置本节点注册时使用的签名记录
func WithLocalRecord(rec types.SignedPeerRecord) Option {
	return func(h *Host) {
		h.localRecord = rec.Clone()
	}
}

// WithEngine 使用外部创建的引擎
//
// 引擎交给宿主后只能由宿主的循环访问。
func WithEngine(e *rendezvous.Engine) Option {
	return func(h *Host) {
		h.engine = e
	}
}

// ============================================================================
//                              Host 结构
// ============================================================================

// Host Rendezvous 参考宿主
//
// 一个循环 goroutine 独占 Engine；所有公开方法把闭包发给该循环执行。
// 每条连接有一个读 goroutine（解码后提交给循环）和一个写 goroutine
// （发送循环产生的消息）。
type Host struct {
	id         types.PeerID
	cfg        Config
	clock      clock.Clock
	registerer prometheus.Registerer
	validator  rendezvous.RecordValidator

	recordMu    sync.RWMutex
	localRecord types.SignedPeerRecord

	metrics *metrics
	cache   *discoveryCache

	ctx      context.Context
	cancel   context.CancelFunc
	group    errgroup.Group
	cmds     chan func()
	loopDone chan struct{}

	started   atomic.Bool
	closeOnce sync.Once
	closeErr  error

	listenersMu sync.Mutex
	listeners   []net.Listener

	// 以下字段只由循环访问
	engine  *rendezvous.Engine
	conns   map[types.PeerID]*conn
	waiters map[rendezvous.RequestID]chan rendezvous.Event
	subs    map[int]chan rendezvous.Event
	nextSub int
}

// New 创建宿主
func New(cfg Config, local types.PeerID, opts ...Option) (*Host, error) {
	if err := local.Validate(); err != nil {
		return nil, fmt.Errorf("invalid local peer: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid host config: %w", err)
	}

	h := &Host{
		id:       local,
		cfg:      cfg,
		clock:    clock.New(),
		cmds:     make(chan func()),
		loopDone: make(chan struct{}),
		conns:    make(map[types.PeerID]*conn),
		waiters:  make(map[rendezvous.RequestID]chan rendezvous.Event),
		subs:     make(map[int]chan rendezvous.Event),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.engine == nil {
		engineOpts := []rendezvous.Option{
			rendezvous.WithClock(h.clock),
			rendezvous.WithLocalPeer(local),
		}
		if h.validator != nil {
			engineOpts = append(engineOpts, rendezvous.WithRecordValidator(h.validator))
		}
		engine, err := rendezvous.NewEngine(cfg.Rendezvous, engineOpts...)
		if err != nil {
			return nil, err
		}
		h.engine = engine
	}

	m, err := newMetrics(h.registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	h.metrics = m

	cache, err := newDiscoveryCache(cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	h.cache = cache

	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h, nil
}

// ID 返回本地节点 ID
func (h *Host) ID() types.PeerID {
	return h.id
}

// SetLocalRecord 替换本节点注册时使用的签名记录
func (h *Host) SetLocalRecord(rec types.SignedPeerRecord) {
	h.recordMu.Lock()
	h.localRecord = rec.Clone()
	h.recordMu.Unlock()
}

func (h *Host) record() types.SignedPeerRecord {
	h.recordMu.RLock()
	defer h.recordMu.RUnlock()
	return h.localRecord
}

// ============================================================================
//                              生命周期
// ============================================================================

// Start 启动循环
func (h *Host) Start(_ context.Context) error {
	if h.ctx.Err() != nil {
		return ErrClosed
	}
	if !h.started.CompareAndSwap(false, true) {
		return nil
	}
	h.group.Go(h.run)
	logger.Info("宿主已启动", "peer", h.id.ShortString())
	return nil
}

// Close 关闭监听器和所有连接，等待后台 goroutine 退出
func (h *Host) Close() error {
	h.closeOnce.Do(func() {
		h.cancel()

		var errs error
		h.listenersMu.Lock()
		for _, l := range h.listeners {
			errs = multierr.Append(errs, ignoreClosed(l.Close()))
		}
		h.listeners = nil
		h.listenersMu.Unlock()

		if h.started.Load() {
			errs = multierr.Append(errs, h.group.Wait())
		}
		h.cache.purge()
		h.closeErr = errs
		logger.Info("宿主已关闭", "peer", h.id.ShortString())
	})
	return h.closeErr
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// run 循环：执行命令、定时清理，每一步之后取出引擎动作
func (h *Host) run() error {
	defer close(h.loopDone)

	ticker := h.clock.Ticker(h.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case fn := <-h.cmds:
			fn()
			h.flush()
		case <-ticker.C:
			h.maintain()
			h.flush()
		case <-h.ctx.Done():
			h.shutdown()
			return nil
		}
	}
}

// do 在循环中执行 fn 并等待其完成
func (h *Host) do(ctx context.Context, fn func()) error {
	if !h.started.Load() {
		return ErrNotStarted
	}
	done := make(chan struct{})
	select {
	case h.cmds <- func() { fn(); close(done) }:
	case <-h.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-h.loopDone:
		select {
		case <-done:
			return nil
		default:
			return ErrClosed
		}
	}
}

// submit 把 fn 交给循环，不等待执行
func (h *Host) submit(fn func()) bool {
	select {
	case h.cmds <- fn:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// flush 执行引擎产生的全部动作
func (h *Host) flush() {
	for _, action := range h.engine.Drain() {
		switch a := action.(type) {
		case rendezvous.SendMessage:
			h.deliver(a.Peer, a.Message)
		case rendezvous.EmitEvent:
			h.dispatch(a.Event)
		}
	}
}

func (h *Host) deliver(peer types.PeerID, msg rendezvous.Message) {
	c, ok := h.conns[peer]
	if !ok {
		logger.Debug("丢弃发往未连接节点的消息", "peer", peer.ShortString(), "type", msg.Type())
		return
	}
	if !c.send(msg) {
		logger.Warn("发送队列已满，关闭连接", "peer", peer.ShortString())
		h.removeConn(c)
		return
	}
	h.metrics.messageSent(msg)
}

func (h *Host) dispatch(ev rendezvous.Event) {
	h.metrics.event(ev)

	switch e := ev.(type) {
	case rendezvous.Discovered:
		h.cache.put(e.Namespace, e.Registrations)
	case rendezvous.PeerRegistered, rendezvous.PeerUnregistered:
		h.metrics.registrations.Set(float64(h.engine.Stats().TotalRegistrations))
	}

	if id, ok := rendezvous.CompletedRequest(ev); ok {
		if ch, ok := h.waiters[id]; ok {
			delete(h.waiters, id)
			ch <- ev
		}
	}

	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			logger.Debug("订阅者队列已满，丢弃事件", "kind", ev.Kind())
		}
	}
}

// maintain 清理过期注册，关闭请求超时的连接
func (h *Host) maintain() {
	if n := h.engine.Sweep(); n > 0 {
		logger.Debug("清理过期注册", "count", n)
	}
	h.metrics.registrations.Set(float64(h.engine.Stats().TotalRegistrations))

	for _, peer := range h.engine.TimedOutPeers(h.cfg.RequestTimeout) {
		if c, ok := h.conns[peer]; ok {
			logger.Warn("请求超时，关闭连接", "peer", peer.ShortString())
			h.removeConn(c)
		}
	}
}

func (h *Host) shutdown() {
	for _, c := range h.conns {
		c.close()
	}
	h.conns = make(map[types.PeerID]*conn)
	h.metrics.connected.Set(0)

	for id := range h.waiters {
		delete(h.waiters, id)
	}
	for id, ch := range h.subs {
		close(ch)
		delete(h.subs, id)
	}
}

// ============================================================================
//                              连接管理
// ============================================================================

// Listen 在 TCP 地址上监听并接受连接
func (h *Host) Listen(addr string) (net.Addr, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	h.listenersMu.Lock()
	if h.ctx.Err() != nil {
		h.listenersMu.Unlock()
		l.Close()
		return nil, ErrClosed
	}
	h.listeners = append(h.listeners, l)
	h.listenersMu.Unlock()

	err = h.do(h.ctx, func() {
		h.group.Go(func() error { return h.acceptLoop(l) })
	})
	if err != nil {
		l.Close()
		return nil, err
	}
	logger.Info("开始监听", "addr", l.Addr().String())
	return l.Addr(), nil
}

// Addrs 返回监听地址
func (h *Host) Addrs() []string {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()

	addrs := make([]string, 0, len(h.listeners))
	for _, l := range h.listeners {
		addrs = append(addrs, l.Addr().String())
	}
	return addrs
}

func (h *Host) acceptLoop(l net.Listener) error {
	for {
		raw, err := l.Accept()
		if err != nil {
			if h.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logger.Warn("接受连接失败", "err", err)
			continue
		}
		h.group.Go(func() error {
			if _, err := h.AddConn(h.ctx, raw, false); err != nil {
				logger.Debug("入站连接建立失败", "remote", raw.RemoteAddr().String(), "err", err)
			}
			return nil
		})
	}
}

// Connect 拨号并建立连接
func (h *Host) Connect(ctx context.Context, addr string) (types.PeerID, error) {
	if !h.started.Load() {
		return "", ErrNotStarted
	}
	dialer := net.Dialer{Timeout: h.cfg.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("dial %s: %w", addr, err)
	}
	return h.AddConn(ctx, raw, true)
}

// AddConn 在已有连接上握手并接入宿主
//
// 失败时关闭 raw。
func (h *Host) AddConn(ctx context.Context, raw net.Conn, initiator bool) (types.PeerID, error) {
	if !h.started.Load() {
		raw.Close()
		return "", ErrNotStarted
	}

	// 握手期间宿主关闭或调用方取消时中断阻塞的读写
	stopHost := context.AfterFunc(h.ctx, func() { raw.Close() })
	stopCaller := context.AfterFunc(ctx, func() { raw.Close() })
	c, err := handshake(ctx, raw, h.id, initiator, h.cfg.HandshakeTimeout, h.cfg.OutboundQueueSize)
	stopHost()
	stopCaller()
	if err != nil {
		raw.Close()
		return "", err
	}

	var attachErr error
	if err := h.do(ctx, func() { attachErr = h.attach(c) }); err != nil {
		c.close()
		return "", err
	}
	if attachErr != nil {
		c.close()
		return "", attachErr
	}
	return c.peer, nil
}

// attach 登记连接并启动读写 goroutine（在循环中调用）
func (h *Host) attach(c *conn) error {
	if _, ok := h.conns[c.peer]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateConn, c.peer.ShortString())
	}
	if len(h.conns) >= h.cfg.MaxConnections {
		return ErrTooManyConns
	}

	h.conns[c.peer] = c
	h.engine.OnConnect(c.peer)
	h.metrics.connected.Set(float64(len(h.conns)))

	h.group.Go(func() error { return h.readLoop(c) })
	h.group.Go(func() error { return h.writeLoop(c) })

	logger.Info("连接已建立", "peer", c.peer.ShortString(), "outbound", c.outbound)
	return nil
}

// removeConn 关闭连接并通知引擎（在循环中调用）
func (h *Host) removeConn(c *conn) {
	c.close()
	if cur, ok := h.conns[c.peer]; !ok || cur != c {
		return
	}
	delete(h.conns, c.peer)
	h.engine.OnDisconnect(c.peer)
	h.metrics.connected.Set(float64(len(h.conns)))
	logger.Info("连接已断开", "peer", c.peer.ShortString())
}

// Disconnect 断开与节点的连接
func (h *Host) Disconnect(ctx context.Context, peer types.PeerID) error {
	var err error
	doErr := h.do(ctx, func() {
		c, ok := h.conns[peer]
		if !ok {
			err = ErrNotConnected
			return
		}
		h.removeConn(c)
	})
	return multierr.Append(doErr, err)
}

// Peers 返回已连接的节点
func (h *Host) Peers(ctx context.Context) ([]types.PeerID, error) {
	var peers []types.PeerID
	err := h.do(ctx, func() {
		for p := range h.conns {
			peers = append(peers, p)
		}
	})
	return peers, err
}

func (h *Host) readLoop(c *conn) error {
	r := bufio.NewReader(c.stream)
	for {
		msg, err := rendezvous.ReadMessage(r)
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.isClosed() {
				logger.Debug("读取消息失败，关闭连接", "peer", c.peer.ShortString(), "err", err)
			}
			h.submit(func() { h.removeConn(c) })
			return nil
		}
		ok := h.submit(func() {
			h.metrics.messageReceived(msg)
			h.engine.OnMessage(c.peer, msg)
		})
		if !ok {
			return nil
		}
	}
}

func (h *Host) writeLoop(c *conn) error {
	for {
		select {
		case msg := <-c.out:
			if err := rendezvous.WriteMessage(c.stream, msg); err != nil {
				if !c.isClosed() {
					logger.Debug("写入消息失败，关闭连接", "peer", c.peer.ShortString(), "err", err)
				}
				c.close()
				return nil
			}
		case <-c.done:
			return nil
		}
	}
}

// ============================================================================
//                              Rendezvous 操作
// ============================================================================

// Register 以本地记录在 target 上注册 namespace，返回请求 ID
func (h *Host) Register(ctx context.Context, namespace string, target types.PeerID, ttl uint32) (rendezvous.RequestID, error) {
	return h.call(ctx, target, nil, func() (rendezvous.RequestID, error) {
		rec := h.record()
		if rec.IsEmpty() {
			return "", ErrNoLocalRecord
		}
		return h.engine.Register(namespace, target, ttl, rec)
	})
}

// Unregister 取消在 target 上的注册
func (h *Host) Unregister(ctx context.Context, namespace string, target types.PeerID) error {
	_, err := h.call(ctx, target, nil, func() (rendezvous.RequestID, error) {
		return "", h.engine.Unregister(namespace, target)
	})
	return err
}

// Discover 向 target 查询 namespace 下的注册，空命名空间表示全部
func (h *Host) Discover(ctx context.Context, namespace string, target types.PeerID, limit uint64) (rendezvous.RequestID, error) {
	return h.call(ctx, target, nil, func() (rendezvous.RequestID, error) {
		return h.engine.Discover(namespace, target, limit)
	})
}

// RegisterSync 注册并等待结果，返回服务端采用的 TTL
func (h *Host) RegisterSync(ctx context.Context, namespace string, target types.PeerID, ttl uint32) (uint32, error) {
	ch := make(chan rendezvous.Event, 1)
	id, err := h.call(ctx, target, ch, func() (rendezvous.RequestID, error) {
		rec := h.record()
		if rec.IsEmpty() {
			return "", ErrNoLocalRecord
		}
		return h.engine.Register(namespace, target, ttl, rec)
	})
	if err != nil {
		return 0, err
	}

	ev, err := h.wait(ctx, id, ch)
	if err != nil {
		return 0, err
	}
	switch e := ev.(type) {
	case rendezvous.Registered:
		return e.TTL, nil
	case rendezvous.FailedToRegister:
		return 0, fmt.Errorf("register %q at %s: %w", namespace, target.ShortString(), e.Code.Err())
	}
	return 0, fmt.Errorf("unexpected event %s", ev.Kind())
}

// DiscoverSync 发现并等待结果
func (h *Host) DiscoverSync(ctx context.Context, namespace string, target types.PeerID, limit uint64) ([]rendezvous.Registration, error) {
	ch := make(chan rendezvous.Event, 1)
	id, err := h.call(ctx, target, ch, func() (rendezvous.RequestID, error) {
		return h.engine.Discover(namespace, target, limit)
	})
	if err != nil {
		return nil, err
	}

	ev, err := h.wait(ctx, id, ch)
	if err != nil {
		return nil, err
	}
	switch e := ev.(type) {
	case rendezvous.Discovered:
		return e.Registrations, nil
	case rendezvous.FailedToDiscover:
		return nil, fmt.Errorf("discover %q at %s: %w", namespace, target.ShortString(), e.Code.Err())
	}
	return nil, fmt.Errorf("unexpected event %s", ev.Kind())
}

// call 在循环中检查连接并执行 fn；waiter 非空时登记为请求的等待者
func (h *Host) call(ctx context.Context, target types.PeerID, waiter chan rendezvous.Event, fn func() (rendezvous.RequestID, error)) (rendezvous.RequestID, error) {
	var (
		id      rendezvous.RequestID
		callErr error
	)
	err := h.do(ctx, func() {
		if _, ok := h.conns[target]; !ok {
			callErr = fmt.Errorf("%w: %s", ErrNotConnected, target.ShortString())
			return
		}
		id, callErr = fn()
		if callErr == nil && waiter != nil {
			h.waiters[id] = waiter
		}
	})
	if err != nil {
		return "", err
	}
	return id, callErr
}

func (h *Host) wait(ctx context.Context, id rendezvous.RequestID, ch chan rendezvous.Event) (rendezvous.Event, error) {
	select {
	case ev := <-ch:
		return ev, nil
	case <-ctx.Done():
		h.submit(func() { delete(h.waiters, id) })
		return nil, ctx.Err()
	case <-h.ctx.Done():
		return nil, ErrClosed
	}
}

// Subscribe 订阅引擎事件
//
// 订阅者队列满时事件被丢弃。返回的函数取消订阅并关闭通道。
func (h *Host) Subscribe(buf int) (<-chan rendezvous.Event, func(), error) {
	ch := make(chan rendezvous.Event, buf)
	var id int
	err := h.do(h.ctx, func() {
		id = h.nextSub
		h.nextSub++
		h.subs[id] = ch
	})
	if err != nil {
		return nil, nil, err
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			_ = h.do(context.Background(), func() {
				if sub, ok := h.subs[id]; ok {
					delete(h.subs, id)
					close(sub)
				}
			})
		})
	}
	return ch, cancel, nil
}

// Cached 返回最近一次发现 namespace 的结果中仍未过期的注册
func (h *Host) Cached(namespace string) ([]rendezvous.Registration, bool) {
	return h.cache.get(namespace, h.clock.Now())
}

// Registrations 返回本节点作为会合点持有的注册
func (h *Host) Registrations(ctx context.Context, namespace string) ([]rendezvous.Registration, error) {
	var regs []rendezvous.Registration
	err := h.do(ctx, func() {
		regs = h.engine.Registrations(namespace)
	})
	return regs, err
}

// Stats 返回引擎统计
func (h *Host) Stats(ctx context.Context) (rendezvous.Stats, error) {
	var stats rendezvous.Stats
	err := h.do(ctx, func() {
		stats = h.engine.Stats()
	})
	return stats, err
}
