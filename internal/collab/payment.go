package collab

import (
	"github.com/dep2p/go-recordnet/pkg/interfaces"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// QuoteVerifier 接受付给本节点、金额不低于报价的格式正确凭证
//
// 它代替链上支付确认，只适合测试网络与本地部署。
type QuoteVerifier struct {
	Local types.PeerID
}

var _ interfaces.PaymentVerifier = QuoteVerifier{}

// VerifyProof 实现 interfaces.PaymentVerifier
func (v QuoteVerifier) VerifyProof(proof *types.PaymentProof, price types.Price) bool {
	return proof.WellFormed() && proof.Payee == v.Local && proof.Amount >= price.Amount
}
