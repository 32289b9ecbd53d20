package config

import (
	"errors"
	"time"
)

// HostConfig 参考宿主配置
//
// 宿主负责 TCP 监听、连接握手、流复用，以及驱动 Rendezvous 引擎。
type HostConfig struct {
	// ListenAddr 监听地址，为空时不监听
	ListenAddr string `json:"listen_addr"`

	// DialTimeout 拨号超时
	DialTimeout Duration `json:"dial_timeout"`

	// HandshakeTimeout 协议协商与身份交换超时
	HandshakeTimeout Duration `json:"handshake_timeout"`

	// RequestTimeout 等待响应的超时，超时的连接会被关闭
	RequestTimeout Duration `json:"request_timeout"`

	// CleanupInterval 过期注册清理与超时检查间隔
	CleanupInterval Duration `json:"cleanup_interval"`

	// MaxConnections 最大连接数
	MaxConnections int `json:"max_connections"`

	// CacheSize 发现结果缓存的命名空间数
	CacheSize int `json:"cache_size"`

	// EnableMetrics 是否注册 Prometheus 指标
	EnableMetrics bool `json:"enable_metrics"`

	// MetricsAddr Prometheus 指标 HTTP 地址，为空时不启动
	MetricsAddr string `json:"metrics_addr,omitempty"`
}

// DefaultHostConfig 返回默认宿主配置
func DefaultHostConfig() HostConfig {
	return HostConfig{
		ListenAddr:       "",                         // 默认不监听：客户端模式
		DialTimeout:      Duration(10 * time.Second), // 拨号超时：10 秒
		HandshakeTimeout: Duration(10 * time.Second), // 握手超时：10 秒
		RequestTimeout:   Duration(30 * time.Second), // 请求超时：30 秒
		CleanupInterval:  Duration(5 * time.Second),  // 维护间隔：5 秒
		MaxConnections:   1024,                       // 最大连接数
		CacheSize:        128,                        // 缓存 128 个命名空间的发现结果
		EnableMetrics:    true,                       // 默认注册指标
		MetricsAddr:      "",                         // 默认不暴露 HTTP 端点
	}
}

// Validate 验证宿主配置
func (c HostConfig) Validate() error {
	if c.DialTimeout <= 0 {
		return errors.New("host: dial timeout must be positive")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.New("host: handshake timeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("host: request timeout must be positive")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("host: cleanup interval must be positive")
	}
	if c.MaxConnections <= 0 {
		return errors.New("host: max connections must be positive")
	}
	if c.CacheSize <= 0 {
		return errors.New("host: cache size must be positive")
	}
	return nil
}
