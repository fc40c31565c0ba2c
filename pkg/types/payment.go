package types

import (
	"time"
)

// MaxTxRefLen 支付凭证中交易引用的最大长度
const MaxTxRefLen = 128

// PaymentProof 支付凭证
//
// 节点只检查格式与金额，链上真伪交给支付校验协作者。
type PaymentProof struct {
	// Payee 收款节点
	Payee PeerID

	// Amount 支付金额，与 Price.Amount 同一单位
	Amount uint64

	// TxRef 账本中的交易引用
	TxRef []byte
}

// WellFormed 格式检查：金额非零、有收款方、交易引用长度在范围内
func (p *PaymentProof) WellFormed() bool {
	if p == nil {
		return false
	}
	return p.Amount > 0 && !p.Payee.IsEmpty() && len(p.TxRef) > 0 && len(p.TxRef) <= MaxTxRefLen
}

// Price 报价
//
// 由本地存储压力临时计算，不是跨时间的承诺。
type Price struct {
	Amount   uint64
	Payee    PeerID
	QuotedAt time.Time
}
