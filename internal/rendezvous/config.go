package rendezvous

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ============================================================================
//                              Engine 配置
// ============================================================================

// Config Rendezvous 引擎配置
type Config struct {
	// DefaultTTL 注册请求未指定 TTL 时使用的默认值
	DefaultTTL time.Duration

	// MaxTTL 允许的最大 TTL
	MaxTTL time.Duration

	// MaxNamespaceLength 命名空间最大字节数
	MaxNamespaceLength int

	// MaxRegistrations 本节点作为 Point 时的最大注册总数
	MaxRegistrations int

	// MaxRegistrationsPerPeer 每个节点最大注册数
	MaxRegistrationsPerPeer int

	// MaxDiscoverLimit 单次发现响应最多返回的条目数，0 表示不限制
	MaxDiscoverLimit int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		DefaultTTL:              2 * time.Hour,
		MaxTTL:                  72 * time.Hour,
		MaxNamespaceLength:      255,
		MaxRegistrations:        10000,
		MaxRegistrationsPerPeer: 100,
		MaxDiscoverLimit:        0,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.DefaultTTL < time.Second {
		return errors.New("default TTL must be at least one second")
	}
	if c.MaxTTL <= 0 {
		return errors.New("max TTL must be positive")
	}
	if c.DefaultTTL > c.MaxTTL {
		return errors.New("default TTL must not exceed max TTL")
	}
	if c.MaxTTL/time.Second > math.MaxUint32 {
		return errors.New("max TTL overflows the wire format")
	}
	if c.MaxNamespaceLength <= 0 {
		return errors.New("max namespace length must be positive")
	}
	if c.MaxRegistrations <= 0 {
		return errors.New("max registrations must be positive")
	}
	if c.MaxRegistrationsPerPeer <= 0 {
		return errors.New("max registrations per peer must be positive")
	}
	if c.MaxDiscoverLimit < 0 {
		return errors.New("max discover limit must be non-negative")
	}
	return nil
}

// defaultTTLSeconds 默认 TTL（秒）
func (c *Config) defaultTTLSeconds() uint32 {
	return uint32(c.DefaultTTL / time.Second)
}

// maxTTLSeconds 最大 TTL（秒）
func (c *Config) maxTTLSeconds() uint32 {
	return uint32(c.MaxTTL / time.Second)
}

// discoverLimit 计算一次发现请求实际使用的上限，0 表示不限制
func (c *Config) discoverLimit(requested uint64) int {
	limit := 0
	switch {
	case requested > math.MaxInt32:
		limit = math.MaxInt32
	case requested > 0:
		limit = int(requested)
	}
	if c.MaxDiscoverLimit > 0 && (limit == 0 || limit > c.MaxDiscoverLimit) {
		limit = c.MaxDiscoverLimit
	}
	return limit
}

// validateNamespace 检查命名空间非空且不超长
func (c *Config) validateNamespace(namespace string) error {
	if namespace == "" {
		return fmt.Errorf("%w: empty", ErrInvalidNamespace)
	}
	if len(namespace) > c.MaxNamespaceLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidNamespace, len(namespace), c.MaxNamespaceLength)
	}
	return nil
}
