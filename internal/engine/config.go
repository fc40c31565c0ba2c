package engine

import (
	"fmt"
	"time"

	"github.com/dep2p/go-recordnet/internal/handler"
	"github.com/dep2p/go-recordnet/internal/replication"
	"github.com/dep2p/go-recordnet/internal/routing"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// Config 引擎配置
type Config struct {
	// CloseGroupSize 副本组大小 K
	CloseGroupSize int

	// Alpha 迭代查找的并发度
	Alpha int

	// BucketSize 路由表 K 桶大小
	BucketSize int

	// QueryTimeout 分布式查询的总期限
	QueryTimeout time.Duration

	// SweepInterval 检查查询期限的间隔
	SweepInterval time.Duration

	// RefreshInterval 路由表刷新间隔
	RefreshInterval time.Duration

	// DialTimeout 引导拨号超时
	DialTimeout time.Duration

	// CommandBuffer 命令通道容量
	CommandBuffer int

	// DefaultQuorum GetRecord 未指定时使用的法定数
	DefaultQuorum types.Quorum

	// ClientMode 为 true 时 PutRecord 与 GetStoreQuote 总是走网络
	ClientMode bool

	Handler     handler.Config
	Replication replication.Config
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		CloseGroupSize:  types.CloseGroupSize,
		Alpha:           3,
		BucketSize:      routing.DefaultBucketSize,
		QueryTimeout:    30 * time.Second,
		SweepInterval:   time.Second,
		RefreshInterval: 10 * time.Minute,
		DialTimeout:     10 * time.Second,
		CommandBuffer:   256,
		DefaultQuorum:   types.QuorumOne,
		Handler:         handler.DefaultConfig(),
		Replication:     replication.DefaultConfig(),
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	switch {
	case c.CloseGroupSize <= 0:
		return fmt.Errorf("%w: close group size must be positive", ErrInvalidConfig)
	case c.Alpha <= 0:
		return fmt.Errorf("%w: alpha must be positive", ErrInvalidConfig)
	case c.BucketSize <= 0:
		return fmt.Errorf("%w: bucket size must be positive", ErrInvalidConfig)
	case c.QueryTimeout <= 0 || c.SweepInterval <= 0 || c.RefreshInterval <= 0 || c.DialTimeout <= 0:
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	case c.CommandBuffer < 0:
		return fmt.Errorf("%w: negative command buffer", ErrInvalidConfig)
	}
	if err := c.Handler.Validate(); err != nil {
		return err
	}
	return c.Replication.Validate()
}

// Option 修改配置
type Option func(*Config)

// WithQueryTimeout 设置查询期限
func WithQueryTimeout(d time.Duration) Option {
	return func(c *Config) { c.QueryTimeout = d }
}

// WithClientMode 设置客户端模式
func WithClientMode(on bool) Option {
	return func(c *Config) { c.ClientMode = on }
}

// WithReplication 替换复制配置
func WithReplication(rc replication.Config) Option {
	return func(c *Config) { c.Replication = rc }
}
