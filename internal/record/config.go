package record

import (
	"fmt"
)

// Config 记录存储配置
type Config struct {
	// MaxRecords 最多保存的记录条数
	MaxRecords int

	// MaxBytes 最多占用的字节数（按 Record.Size 计）
	MaxBytes int64

	// MaxRecordSize 单条记录上限
	MaxRecordSize int

	// BasePrice 空仓时每 KiB 的单价
	BasePrice uint64

	// PriceMultiplier 满仓时单价放大倍数，单价 = BasePrice * (1 + PriceMultiplier * fill²)
	PriceMultiplier float64
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		MaxRecords:      4096,
		MaxBytes:        2 << 30,
		MaxRecordSize:   4 << 20,
		BasePrice:       10,
		PriceMultiplier: 9,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.MaxRecords <= 0 {
		return fmt.Errorf("%w: max records must be positive", ErrInvalidConfig)
	}
	if c.MaxBytes <= 0 {
		return fmt.Errorf("%w: max bytes must be positive", ErrInvalidConfig)
	}
	if c.MaxRecordSize <= 0 || int64(c.MaxRecordSize) > c.MaxBytes {
		return fmt.Errorf("%w: max record size must be in (0, max bytes]", ErrInvalidConfig)
	}
	if c.BasePrice == 0 {
		return fmt.Errorf("%w: base price must be positive", ErrInvalidConfig)
	}
	if c.PriceMultiplier < 0 {
		return fmt.Errorf("%w: price multiplier must not be negative", ErrInvalidConfig)
	}
	return nil
}

// Option 修改配置
type Option func(*Config)

// WithCapacity 设置容量
func WithCapacity(records int, bytes int64) Option {
	return func(c *Config) {
		c.MaxRecords = records
		c.MaxBytes = bytes
	}
}

// WithPricing 设置定价参数
func WithPricing(base uint64, multiplier float64) Option {
	return func(c *Config) {
		c.BasePrice = base
		c.PriceMultiplier = multiplier
	}
}

// WithMaxRecordSize 设置单条上限
func WithMaxRecordSize(n int) Option {
	return func(c *Config) {
		c.MaxRecordSize = n
	}
}
