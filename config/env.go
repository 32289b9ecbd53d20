package config

import (
	"fmt"
	"strconv"
	"strings"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "RENDEZVOUS_"

// 环境变量名（不含前缀）
const (
	EnvKeyFile        = "KEY_FILE"
	EnvListenAddr     = "LISTEN_ADDR"
	EnvMetricsAddr    = "METRICS_ADDR"
	EnvEnableMetrics  = "ENABLE_METRICS"
	EnvDefaultTTL     = "DEFAULT_TTL"
	EnvMaxTTL         = "MAX_TTL"
	EnvMaxRegs        = "MAX_REGISTRATIONS"
	EnvRequestTimeout = "REQUEST_TIMEOUT"
	EnvLogLevel       = "LOG_LEVEL"
	EnvLogFormat      = "LOG_FORMAT"
)

// ApplyEnvOverrides 用环境变量覆盖配置
//
// getenv 通常为 os.Getenv。环境变量优先级高于配置文件，低于命令行参数。
func ApplyEnvOverrides(c *Config, getenv func(string) string) error {
	lookup := func(name string) string {
		return strings.TrimSpace(getenv(EnvPrefix + name))
	}

	if v := lookup(EnvKeyFile); v != "" {
		c.Identity.KeyFile = v
	}
	if v := lookup(EnvListenAddr); v != "" {
		c.Host.ListenAddr = v
	}
	if v := lookup(EnvMetricsAddr); v != "" {
		c.Host.MetricsAddr = v
	}
	if v := lookup(EnvEnableMetrics); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, EnvEnableMetrics, err)
		}
		c.Host.EnableMetrics = enabled
	}

	durations := []struct {
		name string
		dst  *Duration
	}{
		{EnvDefaultTTL, &c.Rendezvous.DefaultTTL},
		{EnvMaxTTL, &c.Rendezvous.MaxTTL},
		{EnvRequestTimeout, &c.Host.RequestTimeout},
	}
	for _, d := range durations {
		v := lookup(d.name)
		if v == "" {
			continue
		}
		if err := d.dst.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, d.name, err)
		}
	}

	if v := lookup(EnvMaxRegs); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, EnvMaxRegs, err)
		}
		c.Rendezvous.MaxRegistrations = n
	}
	if v := lookup(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	if v := lookup(EnvLogFormat); v != "" {
		c.Log.Format = v
	}
	return nil
}
