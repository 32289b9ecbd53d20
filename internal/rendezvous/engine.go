package rendezvous

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/dep2p/go-rendezvous/pkg/lib/log"
	"github.com/dep2p/go-rendezvous/pkg/types"
)

var logger = log.Logger("rendezvous/engine")

// RecordValidator 校验入站注册携带的签名记录
//
// 返回的错误若匹配本包的哨兵错误（如 ErrNotAuthorized），对应错误码会原样回给注册方，
// 否则一律按 CodeInvalidRecord 处理。
type RecordValidator func(from types.PeerID, record types.SignedPeerRecord) error

// Option 引擎选项
type Option func(*Engine)

// WithClock 设置时钟，测试中使用 clock.NewMock()
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithRecordValidator 设置入站记录校验器
func WithRecordValidator(v RecordValidator) Option {
	return func(e *Engine) {
		e.validator = v
	}
}

// WithLocalPeer 设置本地节点 ID，仅用于日志以及拒绝向自身发起请求
func WithLocalPeer(id types.PeerID) Option {
	return func(e *Engine) {
		e.localPeer = id
	}
}

// ============================================================================
//                              Engine
// ============================================================================

// Engine Rendezvous 协议引擎
//
// 同一个 Engine 同时扮演客户端与 Rendezvous Point：本地调用产生出站请求，
// 入站消息驱动存储变更与事件。引擎不做任何 I/O，所有输出都进入动作队列，
// 由宿主通过 Poll/Drain 取走。
//
// Engine 不是并发安全的，必须由单个 goroutine 驱动。
type Engine struct {
	config    Config
	clock     clock.Clock
	validator RecordValidator
	localPeer types.PeerID

	store      *Store
	correlator *Correlator
	actions    actionQueue
}

// NewEngine 创建引擎
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rendezvous config: %w", err)
	}

	e := &Engine{
		config:     cfg,
		clock:      clock.New(),
		store:      NewStore(),
		correlator: NewCorrelator(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config 返回引擎配置
func (e *Engine) Config() Config {
	return e.config
}

// ============================================================================
//                              本地调用
// ============================================================================

// Register 请求 target 把本节点注册到 namespace
//
// ttl 为 0 表示由对端使用默认值。参数错误同步返回，不会产生任何动作。
func (e *Engine) Register(namespace string, target types.PeerID, ttl uint32, record types.SignedPeerRecord) (RequestID, error) {
	if err := e.checkTarget(target); err != nil {
		return "", err
	}
	if err := e.config.validateNamespace(namespace); err != nil {
		return "", err
	}
	if ttl > e.config.maxTTLSeconds() {
		return "", fmt.Errorf("%w: %ds exceeds max %ds", ErrInvalidTTL, ttl, e.config.maxTTLSeconds())
	}
	if record.IsEmpty() {
		return "", fmt.Errorf("%w: empty record", ErrInvalidRecord)
	}

	id := newRequestID()
	e.send(target, &RegisterRequest{
		Namespace: namespace,
		TTL:       ttl,
		Record:    record.Clone(),
	})
	e.correlator.RecordSent(PendingRequest{
		ID:        id,
		Kind:      KindRegister,
		Namespace: namespace,
		Target:    target,
		TTL:       ttl,
		SentAt:    e.clock.Now(),
	})

	logger.Debug("发送注册请求",
		"namespace", namespace,
		"target", log.TruncateID(string(target), 8),
		"ttl", ttl,
		"requestID", id)
	return id, nil
}

// Unregister 请求 target 移除本节点在 namespace 下的注册
//
// 协议上没有响应，因此不会进入关联队列，也不会产生完成事件。
func (e *Engine) Unregister(namespace string, target types.PeerID) error {
	if err := e.checkTarget(target); err != nil {
		return err
	}
	if err := e.config.validateNamespace(namespace); err != nil {
		return err
	}

	e.send(target, &UnregisterRequest{Namespace: namespace})

	logger.Debug("发送取消注册请求",
		"namespace", namespace,
		"target", log.TruncateID(string(target), 8))
	return nil
}

// Discover 向 target 查询 namespace 下的注册
//
// namespace 为空表示查询所有命名空间；limit 为 0 表示使用对端默认值。
func (e *Engine) Discover(namespace string, target types.PeerID, limit uint64) (RequestID, error) {
	if err := e.checkTarget(target); err != nil {
		return "", err
	}
	if len(namespace) > e.config.MaxNamespaceLength {
		return "", fmt.Errorf("%w: length %d exceeds %d", ErrInvalidNamespace, len(namespace), e.config.MaxNamespaceLength)
	}

	id := newRequestID()
	e.send(target, &DiscoverRequest{Namespace: namespace, Limit: limit})
	e.correlator.RecordSent(PendingRequest{
		ID:        id,
		Kind:      KindDiscover,
		Namespace: namespace,
		Target:    target,
		SentAt:    e.clock.Now(),
	})

	logger.Debug("发送发现请求",
		"namespace", namespace,
		"target", log.TruncateID(string(target), 8),
		"limit", limit,
		"requestID", id)
	return id, nil
}

func (e *Engine) checkTarget(target types.PeerID) error {
	if target.IsEmpty() {
		return fmt.Errorf("%w: empty peer id", ErrInvalidTarget)
	}
	if err := target.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if e.localPeer != "" && target == e.localPeer {
		return fmt.Errorf("%w: cannot target self", ErrInvalidTarget)
	}
	return nil
}

// ============================================================================
//                              动作队列
// ============================================================================

// Poll 取出下一个动作
func (e *Engine) Poll() (Action, bool) {
	return e.actions.pop()
}

// Drain 取出当前所有动作
func (e *Engine) Drain() []Action {
	return e.actions.drain()
}

// QueuedActions 返回队列中未取走的动作数
func (e *Engine) QueuedActions() int {
	return e.actions.len()
}

func (e *Engine) send(peer types.PeerID, m Message) {
	e.actions.push(SendMessage{Peer: peer, Message: m})
}

func (e *Engine) emit(ev Event) {
	e.actions.push(EmitEvent{Event: ev})
}

// ============================================================================
//                              连接事件
// ============================================================================

// OnConnect 节点连接建立
//
// 状态都是按需创建的，这里只记录日志。
func (e *Engine) OnConnect(peer types.PeerID) {
	logger.Debug("节点已连接", "peer", log.TruncateID(string(peer), 8))
}

// OnDisconnect 节点连接断开
//
// 移除该节点在所有命名空间的注册，并让所有等待中的本地请求以 CodeUnavailable 失败。
func (e *Engine) OnDisconnect(peer types.PeerID) {
	namespaces := e.store.RemoveAllForPeer(peer, e.clock.Now())
	for _, ns := range namespaces {
		e.emit(PeerUnregistered{Peer: peer, Namespace: ns})
	}

	pending := e.correlator.ClearForPeer(peer)
	for _, req := range pending {
		e.failPending(req, CodeUnavailable)
	}

	if len(namespaces) > 0 || len(pending) > 0 {
		logger.Debug("节点断开，清理状态",
			"peer", log.TruncateID(string(peer), 8),
			"registrations", len(namespaces),
			"pending", len(pending))
	}
}

func (e *Engine) failPending(req PendingRequest, code ErrorCode) {
	switch req.Kind {
	case KindRegister:
		e.emit(FailedToRegister{
			RendezvousNode: req.Target,
			RequestID:      req.ID,
			Namespace:      req.Namespace,
			Code:           code,
		})
	case KindDiscover:
		e.emit(FailedToDiscover{
			RendezvousNode: req.Target,
			RequestID:      req.ID,
			Namespace:      req.Namespace,
			Code:           code,
		})
	}
}

// ============================================================================
//                              入站消息
// ============================================================================

// OnMessage 处理来自 from 的入站消息
func (e *Engine) OnMessage(from types.PeerID, msg Message) {
	if IsResponse(msg) {
		e.handleResponse(from, msg)
		return
	}

	switch m := msg.(type) {
	case *RegisterRequest:
		e.handleRegister(from, m)
	case *UnregisterRequest:
		e.handleUnregister(from, m)
	case *DiscoverRequest:
		e.handleDiscover(from, m)
	default:
		logger.Warn("忽略未知消息", "peer", log.TruncateID(string(from), 8))
	}
}

func (e *Engine) handleRegister(from types.PeerID, m *RegisterRequest) {
	now := e.clock.Now()

	ttl, err := e.admit(from, m, now)
	if err != nil {
		code := CodeFromError(err)
		logger.Debug("拒绝注册",
			"peer", log.TruncateID(string(from), 8),
			"namespace", m.Namespace,
			"code", code.String(),
			"err", err)
		e.send(from, NewRegisterErr(code))
		e.emit(RegistrationDeclined{Peer: from, Namespace: m.Namespace, Code: code})
		return
	}

	reg := Registration{
		Namespace:    m.Namespace,
		Peer:         from,
		Record:       m.Record.Clone(),
		RegisteredAt: now,
		TTL:          ttl,
	}
	e.store.Upsert(reg)

	e.send(from, NewRegisterOK(ttl))
	e.emit(PeerRegistered{Peer: from, Namespace: m.Namespace, Registration: reg})

	logger.Debug("节点注册成功",
		"peer", log.TruncateID(string(from), 8),
		"namespace", m.Namespace,
		"ttl", ttl)
}

// admit 校验入站注册，返回实际采用的 TTL
func (e *Engine) admit(from types.PeerID, m *RegisterRequest, now time.Time) (uint32, error) {
	if err := e.config.validateNamespace(m.Namespace); err != nil {
		return 0, err
	}

	ttl := m.TTL
	if ttl == 0 {
		ttl = e.config.defaultTTLSeconds()
	}
	if ttl > e.config.maxTTLSeconds() {
		return 0, fmt.Errorf("%w: %ds exceeds max %ds", ErrInvalidTTL, ttl, e.config.maxTTLSeconds())
	}

	if m.Record.IsEmpty() {
		return 0, fmt.Errorf("%w: empty record", ErrInvalidRecord)
	}
	if e.validator != nil {
		if err := e.validator(from, m.Record); err != nil {
			if CodeFromError(err) == CodeInternal {
				return 0, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
			}
			return 0, err
		}
	}

	// 替换已有注册不占用新的配额
	if _, exists := e.store.Get(m.Namespace, from, now); exists {
		return ttl, nil
	}
	if e.store.CountForPeer(from, now) >= e.config.MaxRegistrationsPerPeer {
		return 0, fmt.Errorf("%w: peer reached %d registrations", ErrUnavailable, e.config.MaxRegistrationsPerPeer)
	}
	if e.store.Len() >= e.config.MaxRegistrations {
		e.store.Sweep(now)
		if e.store.Len() >= e.config.MaxRegistrations {
			return 0, fmt.Errorf("%w: registry full", ErrUnavailable)
		}
	}
	return ttl, nil
}

// handleResponse 把响应关联到队首的等待请求，无法关联时上报违规
func (e *Engine) handleResponse(from types.PeerID, msg Message) {
	kind, _ := responseKind(msg)
	req, err := e.correlator.ResolveResponse(from, kind)
	if err != nil {
		e.violation(from, err)
		return
	}

	switch m := msg.(type) {
	case *RegisterResponse:
		e.handleRegisterResponse(from, req, m)
	case *DiscoverResponse:
		e.handleDiscoverResponse(from, req, m)
	}
}

func (e *Engine) handleRegisterResponse(from types.PeerID, req PendingRequest, m *RegisterResponse) {
	if m.OK() {
		e.emit(Registered{
			RendezvousNode: from,
			RequestID:      req.ID,
			Namespace:      req.Namespace,
			TTL:            m.TTL,
		})
		return
	}
	e.emit(FailedToRegister{
		RendezvousNode: from,
		RequestID:      req.ID,
		Namespace:      req.Namespace,
		Code:           m.Code,
	})
}

func (e *Engine) handleUnregister(from types.PeerID, m *UnregisterRequest) {
	if m.Namespace == "" {
		logger.Debug("忽略空命名空间的取消注册", "peer", log.TruncateID(string(from), 8))
		return
	}

	if e.store.Remove(m.Namespace, from) {
		e.emit(PeerUnregistered{Peer: from, Namespace: m.Namespace})
		logger.Debug("节点取消注册",
			"peer", log.TruncateID(string(from), 8),
			"namespace", m.Namespace)
	}

	now := e.clock.Now()
	if e.store.CountNonExpired(m.Namespace, now) == 0 {
		e.store.Compact(m.Namespace, now)
	}
}

func (e *Engine) handleDiscover(from types.PeerID, m *DiscoverRequest) {
	if len(m.Namespace) > e.config.MaxNamespaceLength {
		e.send(from, NewDiscoverErr(CodeInvalidNamespace))
		return
	}

	now := e.clock.Now()
	regs := e.store.List(m.Namespace, now, e.config.discoverLimit(m.Limit))

	wire := make([]WireRegistration, 0, len(regs))
	for i := range regs {
		wire = append(wire, regs[i].toWire(now))
	}
	e.send(from, NewDiscoverOK(wire))

	logger.Debug("响应发现请求",
		"peer", log.TruncateID(string(from), 8),
		"namespace", m.Namespace,
		"count", len(wire))
}

func (e *Engine) handleDiscoverResponse(from types.PeerID, req PendingRequest, m *DiscoverResponse) {
	if !m.OK() {
		e.emit(FailedToDiscover{
			RendezvousNode: from,
			RequestID:      req.ID,
			Namespace:      req.Namespace,
			Code:           m.Code,
		})
		return
	}

	now := e.clock.Now()
	var regs []Registration
	if len(m.Registrations) > 0 {
		regs = make([]Registration, 0, len(m.Registrations))
		for _, w := range m.Registrations {
			regs = append(regs, Registration{
				Namespace:    w.Namespace,
				Peer:         w.Peer,
				Record:       w.Record,
				RegisteredAt: now,
				TTL:          w.TTL,
			})
		}
	}
	e.emit(Discovered{
		RendezvousNode: from,
		RequestID:      req.ID,
		Namespace:      req.Namespace,
		Registrations:  regs,
	})
}

// violation 上报无法关联的响应，关联队列保持不变
func (e *Engine) violation(from types.PeerID, err error) {
	logger.Warn("协议违规",
		"peer", log.TruncateID(string(from), 8),
		"err", err)
	e.emit(ProtocolViolation{Peer: from, Code: CodeInternal, Err: err})
}

// ============================================================================
//                              维护
// ============================================================================

// Sweep 主动清理过期注册，返回清理数量
func (e *Engine) Sweep() int {
	removed := e.store.Sweep(e.clock.Now())
	if removed > 0 {
		logger.Debug("清理过期注册", "removed", removed)
	}
	return removed
}

// Registrations 返回本节点作为 Point 持有的未过期注册
func (e *Engine) Registrations(namespace string) []Registration {
	return e.store.List(namespace, e.clock.Now(), 0)
}

// Stats 返回统计信息
func (e *Engine) Stats() Stats {
	stats := e.store.Stats()
	for _, peer := range e.correlator.Peers() {
		stats.PendingRequests += e.correlator.Pending(peer)
	}
	return stats
}

// TimedOutPeers 返回最早的等待请求已超过 timeout 的节点（按 ID 排序）
func (e *Engine) TimedOutPeers(timeout time.Duration) []types.PeerID {
	now := e.clock.Now()

	var peers []types.PeerID
	for _, peer := range e.correlator.Peers() {
		sentAt, ok := e.correlator.OldestPending(peer)
		if ok && now.Sub(sentAt) > timeout {
			peers = append(peers, peer)
		}
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

func newRequestID() RequestID {
	return RequestID(uuid.NewString())
}

// IsInputError 判断错误是否为本地调用的参数错误
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidNamespace) ||
		errors.Is(err, ErrInvalidTTL) ||
		errors.Is(err, ErrInvalidRecord) ||
		errors.Is(err, ErrInvalidTarget)
}
