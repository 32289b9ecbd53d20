package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) *options {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	o, err := parseFlags(fs, args)
	require.NoError(t, err)
	return o
}

func noEnv(string) string { return "" }

// TestBuildConfig_Priority 测试命令行 > 环境变量 > 配置文件
func TestBuildConfig_Priority(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"host": {"listen_addr": "127.0.0.1:5000", "metrics_addr": ":9000"},
		"log": {"level": "warn"}
	}`), 0o600))

	env := map[string]string{
		"RENDEZVOUS_METRICS_ADDR": ":9100",
		"RENDEZVOUS_LOG_LEVEL":    "debug",
	}

	o := parse(t, "-config", path, "-listen", "127.0.0.1:6000")
	cfg, err := buildConfig(o, func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:6000", cfg.Host.ListenAddr)
	assert.Equal(t, ":9100", cfg.Host.MetricsAddr)
	assert.Equal(t, "debug", cfg.Log.Level)
	// 文件中未出现的字段取默认值
	assert.Equal(t, 30*time.Second, cfg.Host.RequestTimeout.Duration())
}

// TestBuildConfig_PointDefaultListen Point 模式默认监听
func TestBuildConfig_PointDefaultListen(t *testing.T) {
	cfg, err := buildConfig(parse(t), noEnv)
	require.NoError(t, err)
	assert.Equal(t, defaultPointAddr, cfg.Host.ListenAddr)

	cfg, err = buildConfig(parse(t, "-mode", "discover", "-point", "127.0.0.1:4001"), noEnv)
	require.NoError(t, err)
	assert.Empty(t, cfg.Host.ListenAddr)

	_, err = buildConfig(parse(t, "-config", filepath.Join(t.TempDir(), "missing.json")), noEnv)
	assert.Error(t, err)

	_, err = buildConfig(parse(t), func(k string) string {
		if k == "RENDEZVOUS_LOG_LEVEL" {
			return "loud"
		}
		return ""
	})
	assert.Error(t, err)
}

// TestValidateMode 测试各模式的必需参数
func TestValidateMode(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"point", nil, false},
		{"register", []string{"-mode", "register", "-point", "1.2.3.4:4001", "-ns", "chat"}, false},
		{"register without ns", []string{"-mode", "register", "-point", "1.2.3.4:4001"}, true},
		{"register without point", []string{"-mode", "register", "-ns", "chat"}, true},
		{"discover all", []string{"-mode", "discover", "-point", "1.2.3.4:4001"}, false},
		{"discover without point", []string{"-mode", "discover"}, true},
		{"ttl overflow", []string{"-mode", "register", "-point", "p", "-ns", "chat", "-ttl", "4294967296"}, true},
		{"unknown", []string{"-mode", "relay"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateMode(parse(t, tt.args...))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// TestRefreshInterval 测试续期间隔
func TestRefreshInterval(t *testing.T) {
	assert.Equal(t, time.Hour, refreshInterval(7200))
	assert.Equal(t, 15*time.Second, refreshInterval(30))
	assert.Equal(t, time.Second, refreshInterval(1))
	assert.Equal(t, time.Second, refreshInterval(0))
}
