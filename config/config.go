// Package config 提供统一的配置管理
//
// 主 Config 结构体嵌入所有子配置，每个子配置在独立文件中定义，
// 支持从 JSON 加载和保存。各组件通过自己的 ConfigFromUnified 把统一配置
// 转换为组件配置。
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Host.ListenAddr = "0.0.0.0:4001"
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Config 是 go-rendezvous 的完整配置结构
//
// 配置按照功能模块组织：
//   - Identity: 身份和密钥
//   - Rendezvous: 协议参数与 Point 限额
//   - Host: 参考宿主的网络参数
//   - Log: 日志
type Config struct {
	// Identity 身份配置
	Identity IdentityConfig `json:"identity"`

	// Rendezvous 协议配置
	Rendezvous RendezvousConfig `json:"rendezvous"`

	// Host 宿主配置
	Host HostConfig `json:"host"`

	// Log 日志配置
	Log LogConfig `json:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Identity:   DefaultIdentityConfig(),
		Rendezvous: DefaultRendezvousConfig(),
		Host:       DefaultHostConfig(),
		Log:        DefaultLogConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if err := c.Identity.Validate(); err != nil {
		return err
	}
	if err := c.Rendezvous.Validate(); err != nil {
		return err
	}
	if err := c.Host.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}

// ValidateAll 验证整个配置，nil 视为错误
func ValidateAll(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}

// FromJSON 从 JSON 数据创建配置
//
// 未出现在 JSON 中的字段保持默认值。
//
// 示例 JSON:
//
//	{
//	  "rendezvous": {"default_ttl": "1h"},
//	  "host": {"listen_addr": "0.0.0.0:4001"}
//	}
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// LoadFile 从 JSON 文件加载配置
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return FromJSON(data)
}

// ToJSON 序列化配置
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// CloneConfig 克隆配置
func CloneConfig(cfg *Config) *Config {
	if cfg == nil {
		return nil
	}
	cloned := *cfg
	if cfg.Identity.Addrs != nil {
		cloned.Identity.Addrs = append([]string(nil), cfg.Identity.Addrs...)
	}
	return &cloned
}
