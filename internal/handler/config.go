package handler

import (
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/dep2p/go-recordnet/pkg/types"
)

// ErrInvalidConfig 配置无效
var ErrInvalidConfig = errors.New("handler: invalid config")

// Config 请求处理配置
type Config struct {
	// CloseGroupSize 未命中和 GetClosestPeers 返回的节点数
	CloseGroupSize int

	// WriteRate 单个对端每秒允许的写请求（PutRecord / Replicate），0 表示不限
	WriteRate rate.Limit

	// WriteBurst 写请求突发上限
	WriteBurst int

	// MaxTrackedPeers 保留限流状态的对端数
	MaxTrackedPeers int
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		CloseGroupSize:  types.CloseGroupSize,
		WriteRate:       50,
		WriteBurst:      100,
		MaxTrackedPeers: 1024,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	switch {
	case c.CloseGroupSize <= 0:
		return fmt.Errorf("%w: close group size must be positive", ErrInvalidConfig)
	case c.WriteRate < 0:
		return fmt.Errorf("%w: negative write rate", ErrInvalidConfig)
	case c.WriteRate > 0 && c.WriteBurst <= 0:
		return fmt.Errorf("%w: write burst must be positive", ErrInvalidConfig)
	case c.MaxTrackedPeers <= 0:
		return fmt.Errorf("%w: max tracked peers must be positive", ErrInvalidConfig)
	}
	return nil
}
