package memswarm

import "time"

type config struct {
	requestTimeout time.Duration
	eventBuffer    int
}

func defaultConfig() config {
	return config{
		requestTimeout: 10 * time.Second,
		eventBuffer:    1024,
	}
}

// Option 配置 Swarm
type Option func(*config)

// WithRequestTimeout 设置单个请求的超时
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithEventBuffer 设置事件通道容量
func WithEventBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.eventBuffer = n
		}
	}
}
