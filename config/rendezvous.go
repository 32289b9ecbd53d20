package config

import (
	"errors"
	"math"
	"time"
)

// RendezvousConfig Rendezvous 协议配置
//
// 同一份配置同时约束本节点作为 Point 接受的注册，以及作为客户端发出的请求。
type RendezvousConfig struct {
	// DefaultTTL 注册未指定 TTL 时的默认值
	DefaultTTL Duration `json:"default_ttl"`

	// MaxTTL 允许的最大 TTL
	MaxTTL Duration `json:"max_ttl"`

	// MaxNamespaceLength 命名空间最大字节数
	MaxNamespaceLength int `json:"max_namespace_length"`

	// MaxRegistrations 最大注册总数
	MaxRegistrations int `json:"max_registrations"`

	// MaxRegistrationsPerPeer 每个节点最大注册数
	MaxRegistrationsPerPeer int `json:"max_registrations_per_peer"`

	// MaxDiscoverLimit 单次发现最多返回的条目数，0 表示不限制
	MaxDiscoverLimit int `json:"max_discover_limit,omitempty"`
}

// DefaultRendezvousConfig 返回默认 Rendezvous 配置
func DefaultRendezvousConfig() RendezvousConfig {
	return RendezvousConfig{
		DefaultTTL:              Duration(2 * time.Hour),  // 默认注册 TTL：2 小时
		MaxTTL:                  Duration(72 * time.Hour), // 最大 TTL：72 小时
		MaxNamespaceLength:      255,                      // 命名空间最长 255 字节
		MaxRegistrations:        10000,                    // Point 最多保存 10000 条注册
		MaxRegistrationsPerPeer: 100,                      // 单节点最多 100 个命名空间
		MaxDiscoverLimit:        0,                        // 发现结果默认不截断
	}
}

// Validate 验证 Rendezvous 配置
func (c RendezvousConfig) Validate() error {
	if c.DefaultTTL.Duration() < time.Second {
		return errors.New("rendezvous: default TTL must be at least one second")
	}
	if c.MaxTTL.Duration() < c.DefaultTTL.Duration() {
		return errors.New("rendezvous: max TTL must not be less than default TTL")
	}
	if c.MaxTTL.Duration()/time.Second > math.MaxUint32 {
		return errors.New("rendezvous: max TTL too large")
	}
	if c.MaxNamespaceLength <= 0 {
		return errors.New("rendezvous: max namespace length must be positive")
	}
	if c.MaxRegistrations <= 0 {
		return errors.New("rendezvous: max registrations must be positive")
	}
	if c.MaxRegistrationsPerPeer <= 0 {
		return errors.New("rendezvous: max registrations per peer must be positive")
	}
	if c.MaxDiscoverLimit < 0 {
		return errors.New("rendezvous: max discover limit must be non-negative")
	}
	return nil
}
