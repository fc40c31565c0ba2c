package engine

import (
	"fmt"
	"os"
	"time"
)

// Config 存储引擎配置
type Config struct {
	// Path 数据目录；InMemory 为 true 时忽略
	Path string

	// InMemory 不落盘，只用于测试
	InMemory bool

	// ReadOnly 只读打开
	ReadOnly bool

	// SyncWrites 每次提交都 fsync
	SyncWrites bool

	// MemTableSize 单个 memtable 大小
	MemTableSize int64

	// ValueLogFileSize 单个 value log 文件大小
	ValueLogFileSize int64

	// ValueThreshold 超过该大小的值写入 value log，上限 MaxValueThreshold
	//
	// 内存模式没有 value log，单个值不能超过它。
	ValueThreshold int64

	// BlockCacheSize 块缓存
	BlockCacheSize int64

	// GCInterval value log GC 周期，0 关闭
	GCInterval time.Duration

	// GCDiscardRatio GC 触发的可丢弃比例
	GCDiscardRatio float64
}

// MaxValueThreshold badger 允许的 ValueThreshold 上限
const MaxValueThreshold = 1 << 20

// DefaultConfig 返回落盘于 path 的默认配置
func DefaultConfig(path string) *Config {
	return &Config{
		Path:             path,
		SyncWrites:       false,
		MemTableSize:     64 << 20,
		ValueLogFileSize: 256 << 20,
		ValueThreshold:   1 << 10,
		BlockCacheSize:   64 << 20,
		GCInterval:       10 * time.Minute,
		GCDiscardRatio:   0.5,
	}
}

// InMemoryConfig 返回内存模式配置
func InMemoryConfig() *Config {
	cfg := DefaultConfig("")
	cfg.InMemory = true
	cfg.MemTableSize = 32 << 20
	cfg.ValueThreshold = MaxValueThreshold
	cfg.BlockCacheSize = 8 << 20
	cfg.GCInterval = 0
	return cfg
}

// Validate 校验配置
func (c *Config) Validate() error {
	if !c.InMemory && c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if c.MemTableSize <= 0 {
		return fmt.Errorf("%w: memtable size must be positive", ErrInvalidConfig)
	}
	if c.ValueLogFileSize <= 0 {
		return fmt.Errorf("%w: value log file size must be positive", ErrInvalidConfig)
	}
	if c.ValueThreshold <= 0 || c.ValueThreshold > MaxValueThreshold {
		return fmt.Errorf("%w: value threshold must be in (0, %d]", ErrInvalidConfig, MaxValueThreshold)
	}
	if c.GCDiscardRatio < 0 || c.GCDiscardRatio >= 1 {
		return fmt.Errorf("%w: gc discard ratio must be in [0, 1)", ErrInvalidConfig)
	}
	return nil
}

// MaxValueSize 单个值的上限
func (c *Config) MaxValueSize() int64 {
	if c.InMemory {
		return c.ValueThreshold
	}
	return c.ValueLogFileSize
}

// EnsureDir 创建数据目录
func (c *Config) EnsureDir() error {
	if c.InMemory {
		return nil
	}
	return os.MkdirAll(c.Path, 0o755)
}
