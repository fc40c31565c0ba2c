package engine

import "errors"

var (
	// ErrNotFound 键不存在
	ErrNotFound = errors.New("storage: key not found")

	// ErrEmptyKey 空键
	ErrEmptyKey = errors.New("storage: empty key")

	// ErrClosed 引擎已关闭
	ErrClosed = errors.New("storage: engine closed")

	// ErrReadOnly 只读模式下写入
	ErrReadOnly = errors.New("storage: read-only mode")

	// ErrTooLarge 单个值或一次提交超出引擎上限
	ErrTooLarge = errors.New("storage: value or batch too large")

	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("storage: invalid configuration")
)

// IsNotFound 是否为键不存在
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
