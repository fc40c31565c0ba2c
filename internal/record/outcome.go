package record

import "github.com/dep2p/go-recordnet/pkg/types"

// Outcome Put 的结果
type Outcome struct {
	// Reason 为 types.RejectNone 表示接受
	Reason types.RejectReason

	// Changed 本地内容是否发生变化（新写入或合并出新版本）
	Changed bool

	// Evicted 为腾出空间被淘汰的地址
	Evicted []types.Address
}

// Accepted 是否接受
func (o Outcome) Accepted() bool {
	return o.Reason == types.RejectNone
}

// Err 接受时为 nil，否则为 *types.RejectedError
func (o Outcome) Err() error {
	if o.Accepted() {
		return nil
	}
	return types.Rejected(o.Reason)
}

func reject(reason types.RejectReason) Outcome {
	return Outcome{Reason: reason}
}

// PutOptions Put 选项
type PutOptions struct {
	// RequirePayment 内容块地址首次写入时要求有效支付凭证
	//
	// 客户端写入为 true；副本同步（已付费）为 false。
	RequirePayment bool
}
