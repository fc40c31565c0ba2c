package types

import "fmt"

// RejectReason 记录被拒绝的原因，线上以数字编码传输
type RejectReason uint8

const (
	// RejectNone 未拒绝
	RejectNone RejectReason = iota
	// RejectMalformed 结构非法（未知类型、空负载、缺少拥有者）
	RejectMalformed
	// RejectHashMismatch 内容块哈希与地址不符
	RejectHashMismatch
	// RejectAddressMismatch 可变记录地址与拥有者不符
	RejectAddressMismatch
	// RejectInvalidSignature 拥有者签名无效
	RejectInvalidSignature
	// RejectMissingPayment 首次存储但没有支付凭证
	RejectMissingPayment
	// RejectMalformedPayment 支付凭证格式错误
	RejectMalformedPayment
	// RejectInsufficientPayment 支付金额低于当前报价
	RejectInsufficientPayment
	// RejectPaymentVerificationFailed 支付协作者否认凭证
	RejectPaymentVerificationFailed
	// RejectMergeFailed 与已有版本合并失败
	RejectMergeFailed
	// RejectCapacityExceeded 存储已满且新记录不比任何可淘汰记录更近
	RejectCapacityExceeded
	// RejectRateLimited 对端写入过于频繁
	RejectRateLimited
	// RejectTooLarge 超过单条记录大小上限
	RejectTooLarge
)

var rejectNames = [...]string{
	RejectNone:                      "None",
	RejectMalformed:                 "Malformed",
	RejectHashMismatch:              "HashMismatch",
	RejectAddressMismatch:           "AddressMismatch",
	RejectInvalidSignature:          "InvalidSignature",
	RejectMissingPayment:            "MissingPayment",
	RejectMalformedPayment:          "MalformedPayment",
	RejectInsufficientPayment:       "InsufficientPayment",
	RejectPaymentVerificationFailed: "PaymentVerificationFailed",
	RejectMergeFailed:               "MergeFailed",
	RejectCapacityExceeded:          "CapacityExceeded",
	RejectRateLimited:               "RateLimited",
	RejectTooLarge:                  "TooLarge",
}

func (r RejectReason) String() string {
	if int(r) < len(rejectNames) {
		return rejectNames[r]
	}
	return fmt.Sprintf("RejectReason(%d)", uint8(r))
}

// Known 是否为已定义的原因
func (r RejectReason) Known() bool {
	return r > RejectNone && int(r) < len(rejectNames)
}

// IsCapacity 是否属于容量类错误，其余均为校验类
func (r RejectReason) IsCapacity() bool {
	return r == RejectCapacityExceeded
}
