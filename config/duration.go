package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration 是支持 JSON 字符串解析的 time.Duration 包装类型
//
// 支持的格式:
//   - 字符串: "30s", "5m", "1h30m" 等
//   - 数字: 纳秒数
//
// 同时实现 encoding.TextUnmarshaler，环境变量覆盖也走同一套解析。
type Duration time.Duration

// UnmarshalJSON 实现 json.Unmarshaler 接口
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return d.UnmarshalText([]byte(s))
	}

	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*d = Duration(n)
		return nil
	}

	return fmt.Errorf("duration must be a string (e.g., \"30s\") or number (nanoseconds)")
}

// UnmarshalText 实现 encoding.TextUnmarshaler 接口
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration string %q: %w", string(text), err)
	}
	*d = Duration(duration)
	return nil
}

// MarshalJSON 输出为人类可读的字符串格式
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Duration 返回底层的 time.Duration 值
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Seconds 返回整秒数，用于线上 TTL 字段
func (d Duration) Seconds() uint32 {
	return uint32(time.Duration(d) / time.Second)
}

// String 返回字符串表示
func (d Duration) String() string {
	return time.Duration(d).String()
}
