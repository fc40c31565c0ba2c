package replication

import (
	"fmt"
	"time"

	"github.com/dep2p/go-recordnet/pkg/types"
)

// Config 复制管理器配置
type Config struct {
	// CloseGroupSize 副本组大小 K
	CloseGroupSize int

	// MaxInFlight 同时在途的 Replicate 请求上限
	MaxInFlight int

	// MaxAttempts 单个推送任务的最多尝试次数（含第一次）
	MaxAttempts int

	// InitialBackoff / MaxBackoff 重试间隔的指数退避区间
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Jitter 退避随机化系数，0 表示不随机
	Jitter float64

	// ReconcileInterval 周期对账间隔
	ReconcileInterval time.Duration

	// ReconcileBatch 每轮对账检查的地址数
	ReconcileBatch int

	// KnownHolders 已知持有者缓存的地址数
	KnownHolders int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		CloseGroupSize:    types.CloseGroupSize,
		MaxInFlight:       16,
		MaxAttempts:       4,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		Jitter:            0.2,
		ReconcileInterval: 30 * time.Second,
		ReconcileBatch:    64,
		KnownHolders:      8192,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	switch {
	case c.CloseGroupSize <= 0:
		return fmt.Errorf("%w: close group size must be positive", ErrInvalidConfig)
	case c.MaxInFlight <= 0:
		return fmt.Errorf("%w: max in-flight must be positive", ErrInvalidConfig)
	case c.MaxAttempts <= 0:
		return fmt.Errorf("%w: max attempts must be positive", ErrInvalidConfig)
	case c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff:
		return fmt.Errorf("%w: backoff range %s..%s", ErrInvalidConfig, c.InitialBackoff, c.MaxBackoff)
	case c.Jitter < 0 || c.Jitter >= 1:
		return fmt.Errorf("%w: jitter must be in [0, 1)", ErrInvalidConfig)
	case c.ReconcileInterval <= 0:
		return fmt.Errorf("%w: reconcile interval must be positive", ErrInvalidConfig)
	case c.ReconcileBatch <= 0:
		return fmt.Errorf("%w: reconcile batch must be positive", ErrInvalidConfig)
	case c.KnownHolders <= 0:
		return fmt.Errorf("%w: known holders cache size must be positive", ErrInvalidConfig)
	}
	return nil
}

// Option 修改配置
type Option func(*Config)

// WithMaxInFlight 设置在途上限
func WithMaxInFlight(n int) Option {
	return func(c *Config) { c.MaxInFlight = n }
}

// WithRetry 设置尝试次数与退避区间
func WithRetry(attempts int, initial, max time.Duration) Option {
	return func(c *Config) {
		c.MaxAttempts = attempts
		c.InitialBackoff = initial
		c.MaxBackoff = max
	}
}

// WithReconcile 设置对账间隔与批大小
func WithReconcile(interval time.Duration, batch int) Option {
	return func(c *Config) {
		c.ReconcileInterval = interval
		c.ReconcileBatch = batch
	}
}
