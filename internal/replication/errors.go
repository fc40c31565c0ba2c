package replication

import "errors"

var (
	// ErrInvalidConfig 配置无效
	ErrInvalidConfig = errors.New("replication: invalid config")

	// ErrMissingDependency 缺少必需的依赖
	ErrMissingDependency = errors.New("replication: missing dependency")
)
