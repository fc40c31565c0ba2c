package tcpswarm

import (
	"io"
	"time"

	"github.com/hashicorp/yamux"
	ma "github.com/multiformats/go-multiaddr"
)

// BandwidthReporter 收发字节计数
type BandwidthReporter interface {
	// AddBandwidth direction 为 in 或 out
	AddBandwidth(direction string, n int)
}

type config struct {
	listen           []ma.Multiaddr
	requestTimeout   time.Duration
	dialTimeout      time.Duration
	handshakeTimeout time.Duration
	eventBuffer      int
	yamux            *yamux.Config
	bandwidth        BandwidthReporter
}

func defaultConfig() config {
	return config{
		requestTimeout:   10 * time.Second,
		dialTimeout:      10 * time.Second,
		handshakeTimeout: 5 * time.Second,
		eventBuffer:      1024,
		yamux:            defaultYamuxConfig(),
	}
}

// defaultYamuxConfig 会话参数
func defaultYamuxConfig() *yamux.Config {
	return &yamux.Config{
		AcceptBacklog:          256,
		EnableKeepAlive:        true,
		KeepAliveInterval:      30 * time.Second,
		ConnectionWriteTimeout: 10 * time.Second,
		MaxStreamWindowSize:    256 * 1024,
		StreamOpenTimeout:      75 * time.Second,
		StreamCloseTimeout:     5 * time.Minute,
		LogOutput:              io.Discard,
	}
}

// Option 配置 Swarm
type Option func(*config)

// WithListenAddrs 监听地址，端口为 0 时由系统分配；不设置则只出站
func WithListenAddrs(addrs ...ma.Multiaddr) Option {
	return func(c *config) {
		c.listen = append(c.listen, addrs...)
	}
}

// WithRequestTimeout 单个请求的超时
func WithRequestTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithDialTimeout 建立连接（含 hello 交换）的超时
func WithDialTimeout(d time.Duration) Option {
	return func(c *config) {
		if d > 0 {
			c.dialTimeout = d
			c.handshakeTimeout = min(c.handshakeTimeout, d)
		}
	}
}

// WithEventBuffer 事件通道容量
func WithEventBuffer(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.eventBuffer = n
		}
	}
}

// WithBandwidthReporter 上报收发字节
func WithBandwidthReporter(r BandwidthReporter) Option {
	return func(c *config) {
		c.bandwidth = r
	}
}
