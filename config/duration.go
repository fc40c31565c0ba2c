package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration 可从 JSON 字符串（"30s"、"1m30s"）或纳秒数解析的时长
type Duration time.Duration

// UnmarshalJSON 实现 json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*d = Duration(n)
		return nil
	}
	return fmt.Errorf("duration must be a string like \"30s\" or nanoseconds, got %s", data)
}

// MarshalJSON 输出字符串形式
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Duration 底层 time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}
