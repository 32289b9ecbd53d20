package host

import (
	"errors"
	"time"

	"github.com/dep2p/go-rendezvous/internal/rendezvous"
)

// Config 宿主配置
type Config struct {
	// Rendezvous 引擎配置
	Rendezvous rendezvous.Config

	// DialTimeout 拨号超时
	DialTimeout time.Duration

	// HandshakeTimeout 协议协商与身份交换超时
	HandshakeTimeout time.Duration

	// RequestTimeout 最早的等待请求超过该时长时关闭连接
	RequestTimeout time.Duration

	// CleanupInterval 清理与超时检查间隔
	CleanupInterval time.Duration

	// MaxConnections 最大连接数
	MaxConnections int

	// CacheSize 发现结果缓存的命名空间数
	CacheSize int

	// OutboundQueueSize 每个连接的发送队列长度，队列满时关闭连接
	OutboundQueueSize int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Rendezvous:        rendezvous.DefaultConfig(),
		DialTimeout:       10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		RequestTimeout:    30 * time.Second,
		CleanupInterval:   5 * time.Second,
		MaxConnections:    1024,
		CacheSize:         128,
		OutboundQueueSize: 256,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if err := c.Rendezvous.Validate(); err != nil {
		return err
	}
	if c.DialTimeout <= 0 {
		return errors.New("dial timeout must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("handshake timeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request timeout must be positive")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be positive")
	}
	if c.CacheSize <= 0 {
		return errors.New("cache size must be positive")
	}
	if c.OutboundQueueSize <= 0 {
		return errors.New("outbound queue size must be positive")
	}
	return nil
}
