package config

import (
	"errors"
)

// IdentityConfig 身份配置
//
// 节点 ID 由 Ed25519 公钥派生，签名节点记录也使用同一把密钥。
type IdentityConfig struct {
	// KeyFile 私钥文件路径（base58 编码的 Ed25519 种子）
	// 如果为空，将在内存中生成临时密钥
	KeyFile string `json:"key_file"`

	// AutoGenerate 当密钥文件不存在时是否自动生成并写入
	AutoGenerate bool `json:"auto_generate"`

	// Addrs 写入签名记录的对外地址
	Addrs []string `json:"addrs,omitempty"`
}

// DefaultIdentityConfig 返回默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{
		KeyFile:      "",   // 默认空：内存中生成临时密钥
		AutoGenerate: true, // 默认启用：当 KeyFile 不存在时自动生成新密钥
	}
}

// Validate 验证身份配置
func (c IdentityConfig) Validate() error {
	if c.KeyFile == "" && !c.AutoGenerate {
		return errors.New("identity: key file required when auto generate is disabled")
	}
	for _, addr := range c.Addrs {
		if addr == "" {
			return errors.New("identity: empty address")
		}
	}
	return nil
}

// WithKeyFile 设置密钥文件路径
func (c IdentityConfig) WithKeyFile(path string) IdentityConfig {
	c.KeyFile = path
	return c
}

// WithAutoGenerate 设置是否自动生成密钥
func (c IdentityConfig) WithAutoGenerate(auto bool) IdentityConfig {
	c.AutoGenerate = auto
	return c
}
