package rendezvous

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-rendezvous/pkg/types"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newReg(ns string, peer types.PeerID, ttl uint32, at time.Time) Registration {
	return Registration{
		Namespace:    ns,
		Peer:         peer,
		Record:       types.SignedPeerRecord("record-" + string(peer)),
		RegisteredAt: at,
		TTL:          ttl,
	}
}

// TestStore_Uniqueness 测试 (命名空间, 节点) 唯一
func TestStore_Uniqueness(t *testing.T) {
	s := NewStore()

	s.Upsert(newReg("chat", "peer-a", 60, t0))
	second := newReg("chat", "peer-a", 120, t0.Add(30*time.Second))
	second.Record = types.SignedPeerRecord("newer")
	s.Upsert(second)

	assert.Equal(t, 1, s.Len())
	regs := s.List("chat", t0.Add(31*time.Second), 0)
	require.Len(t, regs, 1)
	assert.Equal(t, types.SignedPeerRecord("newer"), regs[0].Record)
	assert.Equal(t, uint32(120), regs[0].TTL)
	assert.Equal(t, t0.Add(30*time.Second), regs[0].RegisteredAt)

	t.Log("✅ 唯一性测试通过")
}

// TestStore_Expiry 测试过期边界：now - RegisteredAt > TTL
func TestStore_Expiry(t *testing.T) {
	s := NewStore()
	s.Upsert(newReg("chat", "peer-a", 30, t0))

	assert.Len(t, s.List("chat", t0.Add(29*time.Second), 0), 1)
	assert.Len(t, s.List("chat", t0.Add(30*time.Second), 0), 1)
	assert.Empty(t, s.List("chat", t0.Add(31*time.Second), 0))

	_, ok := s.Get("chat", "peer-a", t0.Add(31*time.Second))
	assert.False(t, ok)
	assert.Zero(t, s.CountNonExpired("chat", t0.Add(31*time.Second)))
	assert.Zero(t, s.CountForPeer("peer-a", t0.Add(31*time.Second)))

	// 惰性过期不删除条目
	assert.Equal(t, 1, s.Len())
}

// TestRegistration_RemainingTTL 测试剩余 TTL
func TestRegistration_RemainingTTL(t *testing.T) {
	reg := newReg("chat", "peer-a", 30, t0)

	assert.Equal(t, uint32(30), reg.RemainingTTL(t0))
	assert.Equal(t, uint32(30), reg.RemainingTTL(t0.Add(-time.Second)))
	assert.Equal(t, uint32(20), reg.RemainingTTL(t0.Add(10*time.Second)))
	assert.Equal(t, uint32(20), reg.RemainingTTL(t0.Add(10500*time.Millisecond)))
	assert.Zero(t, reg.RemainingTTL(t0.Add(30*time.Second)))
	assert.Zero(t, reg.RemainingTTL(t0.Add(time.Hour)))
	assert.Equal(t, t0.Add(30*time.Second), reg.ExpiresAt())
}

// TestStore_ListAllNamespaces 测试空命名空间列出全部
func TestStore_ListAllNamespaces(t *testing.T) {
	s := NewStore()
	s.Upsert(newReg("chat", "peer-a", 60, t0))
	s.Upsert(newReg("files", "peer-a", 60, t0))
	s.Upsert(newReg("files", "peer-b", 5, t0))

	now := t0.Add(10 * time.Second)
	assert.Len(t, s.List("", now, 0), 2)
	assert.Len(t, s.List("files", now, 0), 1)
	assert.Empty(t, s.List("unknown", now, 0))
	assert.Len(t, s.List("", t0, 2), 2)
	assert.Len(t, s.List("", t0, 1), 1)
}

// TestStore_Remove 测试移除
func TestStore_Remove(t *testing.T) {
	s := NewStore()
	s.Upsert(newReg("chat", "peer-a", 60, t0))

	assert.False(t, s.Remove("chat", "peer-b"))
	assert.False(t, s.Remove("files", "peer-a"))
	assert.True(t, s.Remove("chat", "peer-a"))
	assert.False(t, s.Remove("chat", "peer-a"))

	assert.Zero(t, s.Len())
	assert.Zero(t, s.Stats().TotalNamespaces)
	assert.Empty(t, s.RemoveAllForPeer("peer-a", t0))
}

// TestStore_RemoveAllForPeer 测试移除节点的全部注册
func TestStore_RemoveAllForPeer(t *testing.T) {
	s := NewStore()
	s.Upsert(newReg("zeta", "peer-a", 60, t0))
	s.Upsert(newReg("alpha", "peer-a", 60, t0))
	s.Upsert(newReg("alpha", "peer-b", 60, t0))

	removed := s.RemoveAllForPeer("peer-a", t0)
	assert.Equal(t, []string{"alpha", "zeta"}, removed)

	assert.Equal(t, 1, s.Len())
	assert.Zero(t, s.CountForPeer("peer-a", t0))
	assert.Empty(t, s.List("zeta", t0, 0))
	assert.Len(t, s.List("alpha", t0, 0), 1)
	assert.Nil(t, s.RemoveAllForPeer("peer-a", t0))
}

// TestStore_RemoveAllForPeer_SkipsExpired 已过期的条目被删除但不在返回列表中
func TestStore_RemoveAllForPeer_SkipsExpired(t *testing.T) {
	s := NewStore()
	s.Upsert(newReg("short", "peer-a", 10, t0))
	s.Upsert(newReg("long", "peer-a", 60, t0))

	removed := s.RemoveAllForPeer("peer-a", t0.Add(11*time.Second))
	assert.Equal(t, []string{"long"}, removed)
	assert.Zero(t, s.Len())
	assert.Zero(t, s.Stats().TotalNamespaces)
	assert.Equal(t, uint64(1), s.Stats().RegistrationsExpired)
}

// TestStore_SweepAndStats 测试主动清理与统计
func TestStore_SweepAndStats(t *testing.T) {
	s := NewStore()
	s.Upsert(newReg("chat", "peer-a", 10, t0))
	s.Upsert(newReg("chat", "peer-b", 100, t0))
	s.Upsert(newReg("files", "peer-a", 10, t0))

	stats := s.Stats()
	assert.Equal(t, 3, stats.TotalRegistrations)
	assert.Equal(t, 2, stats.TotalNamespaces)

	removed := s.Sweep(t0.Add(20 * time.Second))
	assert.Equal(t, 2, removed)

	stats = s.Stats()
	assert.Equal(t, 1, stats.TotalRegistrations)
	assert.Equal(t, 1, stats.TotalNamespaces)
	assert.Equal(t, uint64(2), stats.RegistrationsExpired)
	assert.Equal(t, 1, s.CountForPeer("peer-b", t0))
	assert.Zero(t, s.CountForPeer("peer-a", t0))
}

// TestStore_RecordIsCopied 测试存储不与调用方共享记录
func TestStore_RecordIsCopied(t *testing.T) {
	s := NewStore()
	reg := newReg("chat", "peer-a", 60, t0)
	s.Upsert(reg)

	reg.Record[0] = 'X'

	got, ok := s.Get("chat", "peer-a", t0)
	require.True(t, ok)
	assert.Equal(t, types.SignedPeerRecord("record-peer-a"), got.Record)
}
