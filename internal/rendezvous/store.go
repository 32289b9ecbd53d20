package rendezvous

import (
	"sort"
	"time"

	"github.com/dep2p/go-rendezvous/pkg/types"
)

// ============================================================================
//                              注册记录
// ============================================================================

// Registration 注册记录
type Registration struct {
	// Namespace 命名空间
	Namespace string

	// Peer 注册者
	Peer types.PeerID

	// Record 已签名的节点记录
	Record types.SignedPeerRecord

	// RegisteredAt 注册时间（带单调时钟读数）
	RegisteredAt time.Time

	// TTL 有效期（秒）
	TTL uint32
}

// ttlDuration 返回 TTL 对应的时长
func (r *Registration) ttlDuration() time.Duration {
	return time.Duration(r.TTL) * time.Second
}

// ExpiresAt 过期时间
func (r *Registration) ExpiresAt() time.Time {
	return r.RegisteredAt.Add(r.ttlDuration())
}

// IsExpired 检查在 now 时刻是否已过期：now - RegisteredAt > TTL
func (r *Registration) IsExpired(now time.Time) bool {
	return now.Sub(r.RegisteredAt) > r.ttlDuration()
}

// RemainingTTL 返回剩余有效期（整秒，不小于 0）
func (r *Registration) RemainingTTL(now time.Time) uint32 {
	elapsed := now.Sub(r.RegisteredAt)
	if elapsed < 0 {
		return r.TTL
	}
	secs := uint64(elapsed / time.Second)
	if secs >= uint64(r.TTL) {
		return 0
	}
	return r.TTL - uint32(secs)
}

// toWire 转换为发现响应中的条目
func (r *Registration) toWire(now time.Time) WireRegistration {
	return WireRegistration{
		Namespace: r.Namespace,
		Peer:      r.Peer,
		Record:    r.Record,
		TTL:       r.RemainingTTL(now),
	}
}

// ============================================================================
//                              Store 存储
// ============================================================================

// Store 注册信息存储
//
// 两个索引：namespace -> peer -> Registration 用于发现与 O(1) 更新，
// peer -> namespaces 用于断连时批量移除。
// 过期条目在每条读路径上被过滤，Sweep 可主动清理。
//
// Store 不是并发安全的，由唯一的 Engine 持有。
type Store struct {
	registrations  map[string]map[types.PeerID]*Registration
	peerNamespaces map[types.PeerID]map[string]struct{}

	total   int
	expired uint64
}

// NewStore 创建存储
func NewStore() *Store {
	return &Store{
		registrations:  make(map[string]map[types.PeerID]*Registration),
		peerNamespaces: make(map[types.PeerID]map[string]struct{}),
	}
}

// ============================================================================
//                              写操作
// ============================================================================

// Upsert 添加或替换 (Namespace, Peer) 的注册
func (s *Store) Upsert(reg Registration) {
	nsRegs, exists := s.registrations[reg.Namespace]
	if !exists {
		nsRegs = make(map[types.PeerID]*Registration)
		s.registrations[reg.Namespace] = nsRegs
	}

	if _, isUpdate := nsRegs[reg.Peer]; !isUpdate {
		s.total++
	}

	reg.Record = reg.Record.Clone()
	nsRegs[reg.Peer] = &reg

	namespaces, exists := s.peerNamespaces[reg.Peer]
	if !exists {
		namespaces = make(map[string]struct{})
		s.peerNamespaces[reg.Peer] = namespaces
	}
	namespaces[reg.Namespace] = struct{}{}
}

// Remove 移除注册，返回条目是否存在
func (s *Store) Remove(namespace string, peer types.PeerID) bool {
	nsRegs, exists := s.registrations[namespace]
	if !exists {
		return false
	}
	if _, exists := nsRegs[peer]; !exists {
		return false
	}
	s.delete(namespace, peer)
	return true
}

// RemoveAllForPeer 移除节点在所有命名空间的注册
//
// 返回移除时仍未过期的命名空间（排序）；已过期的条目一并删除，计入过期统计。
func (s *Store) RemoveAllForPeer(peer types.PeerID, now time.Time) []string {
	namespaces, exists := s.peerNamespaces[peer]
	if !exists {
		return nil
	}

	all := make([]string, 0, len(namespaces))
	for ns := range namespaces {
		all = append(all, ns)
	}
	sort.Strings(all)

	var live []string
	for _, ns := range all {
		if reg, ok := s.registrations[ns][peer]; ok && reg.IsExpired(now) {
			s.expired++
		} else {
			live = append(live, ns)
		}
		s.delete(ns, peer)
	}
	return live
}

// delete 删除条目并维护两个索引
func (s *Store) delete(namespace string, peer types.PeerID) {
	nsRegs := s.registrations[namespace]
	delete(nsRegs, peer)
	s.total--

	// 清理空的命名空间
	if len(nsRegs) == 0 {
		delete(s.registrations, namespace)
	}

	if namespaces, exists := s.peerNamespaces[peer]; exists {
		delete(namespaces, namespace)
		if len(namespaces) == 0 {
			delete(s.peerNamespaces, peer)
		}
	}
}

// ============================================================================
//                              读操作
// ============================================================================

// List 返回未过期的注册
//
// namespace 为空时返回所有命名空间的注册。limit <= 0 表示不限制。
// 返回顺序不做保证。
func (s *Store) List(namespace string, now time.Time, limit int) []Registration {
	var results []Registration

	collect := func(nsRegs map[types.PeerID]*Registration) bool {
		for _, reg := range nsRegs {
			if reg.IsExpired(now) {
				continue
			}
			results = append(results, *reg)
			if limit > 0 && len(results) >= limit {
				return false
			}
		}
		return true
	}

	if namespace != "" {
		if nsRegs, exists := s.registrations[namespace]; exists {
			collect(nsRegs)
		}
		return results
	}

	for _, nsRegs := range s.registrations {
		if !collect(nsRegs) {
			break
		}
	}
	return results
}

// Get 返回单条未过期的注册
func (s *Store) Get(namespace string, peer types.PeerID, now time.Time) (Registration, bool) {
	reg, exists := s.registrations[namespace][peer]
	if !exists || reg.IsExpired(now) {
		return Registration{}, false
	}
	return *reg, true
}

// CountNonExpired 返回命名空间中未过期的注册数
func (s *Store) CountNonExpired(namespace string, now time.Time) int {
	count := 0
	for _, reg := range s.registrations[namespace] {
		if !reg.IsExpired(now) {
			count++
		}
	}
	return count
}

// CountForPeer 返回节点未过期的注册数
func (s *Store) CountForPeer(peer types.PeerID, now time.Time) int {
	count := 0
	for ns := range s.peerNamespaces[peer] {
		if reg, exists := s.registrations[ns][peer]; exists && !reg.IsExpired(now) {
			count++
		}
	}
	return count
}

// Len 返回存储中的条目数（含尚未清理的过期条目）
func (s *Store) Len() int {
	return s.total
}

// ============================================================================
//                              清理
// ============================================================================

// Sweep 清理所有过期注册，返回清理数量
func (s *Store) Sweep(now time.Time) int {
	removed := 0
	for namespace := range s.registrations {
		removed += s.Compact(namespace, now)
	}
	return removed
}

// Compact 清理单个命名空间中的过期注册
func (s *Store) Compact(namespace string, now time.Time) int {
	removed := 0
	for peer, reg := range s.registrations[namespace] {
		if reg.IsExpired(now) {
			s.delete(namespace, peer)
			removed++
		}
	}
	s.expired += uint64(removed)
	return removed
}

// ============================================================================
//                              统计
// ============================================================================

// Stats 统计信息
type Stats struct {
	TotalRegistrations   int
	TotalNamespaces      int
	RegistrationsExpired uint64

	// PendingRequests 本地等待响应的请求数（仅由 Engine.Stats 填充）
	PendingRequests int
}

// Stats 返回统计信息
func (s *Store) Stats() Stats {
	return Stats{
		TotalRegistrations:   s.total,
		TotalNamespaces:      len(s.registrations),
		RegistrationsExpired: s.expired,
	}
}
