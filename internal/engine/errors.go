package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("engine: invalid config")

	// ErrMissingDependency 缺少必需的依赖
	ErrMissingDependency = errors.New("engine: missing dependency")

	// ErrAlreadyRunning Run 被调用了两次
	ErrAlreadyRunning = errors.New("engine: already running")
)

// FatalError 导致事件循环退出的本地故障
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("engine: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
