package record

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig 无效配置
	ErrInvalidConfig = errors.New("record: invalid configuration")

	// ErrMissingCollaborator 缺少签名、合并或支付协作者
	ErrMissingCollaborator = errors.New("record: missing collaborator")

	// ErrUnsupportedFormat 磁盘格式版本不兼容
	ErrUnsupportedFormat = errors.New("record: unsupported on-disk format")
)

// StorageError 本地存储故障
//
// 记录存储只在底层引擎出错时返回 error，校验与容量问题都通过 Outcome 表达。
// 引擎收到 StorageError 后结束事件循环。
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("record: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
