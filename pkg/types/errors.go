package types

import (
	"errors"
	"fmt"
)

// 跨模块共享的错误类别
//
// Handle 的每个调用最终只会落到以下某一种（或成功）。
var (
	// ErrNotFound 记录不存在，是正常的否定结果
	ErrNotFound = errors.New("recordnet: record not found")

	// ErrTimeout 分布式操作或远端请求超时
	ErrTimeout = errors.New("recordnet: timeout")

	// ErrPeerUnreachable 对端不可达
	ErrPeerUnreachable = errors.New("recordnet: peer unreachable")

	// ErrCancelled 引擎已关闭，请求被取消
	ErrCancelled = errors.New("recordnet: cancelled")

	// ErrValidation 记录或支付凭证校验失败
	ErrValidation = errors.New("recordnet: validation failed")

	// ErrCapacityExceeded 存储已满
	ErrCapacityExceeded = errors.New("recordnet: capacity exceeded")

	// ErrSplitRecord 同一地址读到了多个互不相同的版本
	ErrSplitRecord = errors.New("recordnet: split record")

	// ErrNotEnoughCopies 副本数量未达到读取法定数
	ErrNotEnoughCopies = errors.New("recordnet: not enough copies")
)

// RejectedError 写入被拒绝
//
// errors.Is 对容量类原因匹配 ErrCapacityExceeded，其余匹配 ErrValidation。
type RejectedError struct {
	Reason RejectReason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("recordnet: rejected: %s", e.Reason)
}

// Is 归类到错误类别
func (e *RejectedError) Is(target error) bool {
	if e.Reason.IsCapacity() {
		return target == ErrCapacityExceeded
	}
	return target == ErrValidation
}

// Rejected 构造拒绝错误
func Rejected(reason RejectReason) error {
	return &RejectedError{Reason: reason}
}

// RejectReasonOf 从错误中提取拒绝原因
func RejectReasonOf(err error) (RejectReason, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re.Reason, true
	}
	return RejectNone, false
}
