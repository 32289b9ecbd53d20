package log

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazyLogger_FollowsDefault(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetOutputWithLevel(&buf, LevelDebug, "text")

	l := Logger("rendezvous/test")
	l.Debug("注册成功", "ns", "chat")

	out := buf.String()
	assert.Contains(t, out, "component=rendezvous/test")
	assert.Contains(t, out, "ns=chat")
	assert.Equal(t, "rendezvous/test", l.Component())
}

func TestLazyLogger_JSON(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	var buf bytes.Buffer
	SetOutputWithLevel(&buf, LevelInfo, "json")

	Logger("host").Info("started")
	assert.Contains(t, buf.String(), `"component":"host"`)
	assert.False(t, Logger("host").Enabled(LevelDebug))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", LevelDebug},
		{"", LevelInfo},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("verbose")
	assert.Error(t, err)
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc", TruncateID("abc", 8))
	assert.Equal(t, "12345678", TruncateID("1234567890", 8))
}
