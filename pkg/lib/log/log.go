// Package log 提供 go-rendezvous 统一日志接口
//
// 基于 Go 标准库 log/slog 封装，每个组件通过 Logger(component) 获取
// 带 component 属性的 LazyLogger。
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// 日志级别常量（从 slog 导出，方便使用）
const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// SetDefault 设置默认 logger
func SetDefault(l *slog.Logger) {
	slog.SetDefault(l)
}

// New 创建文本格式 logger
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSON 创建 JSON 格式 logger
func NewJSON(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetOutputWithLevel 同时设置日志输出目标和级别
//
// format 为 "json" 时输出 JSON，否则输出文本。
func SetOutputWithLevel(w io.Writer, level slog.Level, format string) {
	if strings.EqualFold(format, "json") {
		slog.SetDefault(NewJSON(w, level))
		return
	}
	slog.SetDefault(New(w, level))
}

// ParseLevel 解析日志级别字符串（debug/info/warn/error）
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ============================================================================
//                              LazyLogger
// ============================================================================

// LazyLogger 懒加载 logger
//
// 每次日志调用时都从 slog.Default() 获取最新的 handler，
// 支持在运行时动态切换日志输出目标。
//
//	var logger = log.Logger("rendezvous/engine")
//	logger.Info("hello")
type LazyLogger struct {
	component string
}

// Logger 返回带组件名的 LazyLogger
func Logger(component string) *LazyLogger {
	return &LazyLogger{component: component}
}

func (l *LazyLogger) base() *slog.Logger {
	return slog.Default().With("component", l.component)
}

// Debug 输出 Debug 级别日志
func (l *LazyLogger) Debug(msg string, args ...any) {
	l.base().Debug(msg, args...)
}

// Info 输出 Info 级别日志
func (l *LazyLogger) Info(msg string, args ...any) {
	l.base().Info(msg, args...)
}

// Warn 输出 Warn 级别日志
func (l *LazyLogger) Warn(msg string, args ...any) {
	l.base().Warn(msg, args...)
}

// Error 输出 Error 级别日志
func (l *LazyLogger) Error(msg string, args ...any) {
	l.base().Error(msg, args...)
}

// DebugContext 带 context 的 Debug 日志
func (l *LazyLogger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.base().DebugContext(ctx, msg, args...)
}

// Enabled 判断某级别是否会输出，用于跳过昂贵的参数构造
func (l *LazyLogger) Enabled(level slog.Level) bool {
	return slog.Default().Enabled(context.Background(), level)
}

// With 添加额外的属性
func (l *LazyLogger) With(args ...any) *slog.Logger {
	return l.base().With(args...)
}

// Component 返回组件名
func (l *LazyLogger) Component() string {
	return l.component
}

// ============================================================================
//                              工具函数
// ============================================================================

// TruncateID 安全截取 ID 用于日志显示
func TruncateID(id string, maxLen int) string {
	if len(id) <= maxLen {
		return id
	}
	return id[:maxLen]
}

func init() {
	slog.SetDefault(New(os.Stderr, LevelInfo))
}
