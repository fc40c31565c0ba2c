// Package interfaces 定义网络引擎依赖的外部协作者
//
// 签名、CRDT 合并、支付校验、引导节点来源和指标都以接口注入，
// 引擎只把它们当作不透明操作调用。internal/collab 提供参考实现，
// 测试中可以替换为确定性的假实现。
package interfaces

import (
	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-recordnet/pkg/types"
)

// SignatureVerifier 校验可变记录的拥有者签名
type SignatureVerifier interface {
	// Verify 签名有效返回 nil
	Verify(rec *types.Record) error
}

// Merger 可变记录的 CRDT 合并
//
// 实现必须满足交换律与幂等性，返回值的地址与类型必须与输入一致。
type Merger interface {
	Merge(existing, incoming *types.Record) (*types.Record, error)
}

// PaymentVerifier 支付凭证真伪校验（通常需要查询账本）
type PaymentVerifier interface {
	VerifyProof(proof *types.PaymentProof, price types.Price) bool
}

// BootstrapSource 引导节点地址来源
type BootstrapSource interface {
	InitialPeers() []ma.Multiaddr
}

// Metrics 引擎上报的指标
type Metrics interface {
	SetStoredRecords(n int)
	SetStoredBytes(n int64)
	SetRoutingTableSize(n int)

	// PutOutcome 写入结果，reason 为 types.RejectNone 表示接受
	PutOutcome(kind types.RecordKind, reason types.RejectReason)

	ReplicationSucceeded()
	ReplicationFailed()
	ReplicationRetried()

	// ObserveQuery 分布式查询耗时，outcome 为 ok/not_found/timeout/cancelled/error
	ObserveQuery(kind string, seconds float64, outcome string)
}
