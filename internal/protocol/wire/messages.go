// Package wire 定义节点间请求/响应协议的消息与编码
//
// 消息体使用 protobuf 线格式（字段编号 + 类型），未知字段被跳过，
// 新增字段不会破坏旧节点。每条消息前加 unsigned varint 长度前缀。
// 包本身无状态，可并发使用。
package wire

import (
	"fmt"

	"github.com/dep2p/go-recordnet/pkg/types"
)

// ProtocolID 请求/响应协议标识
const ProtocolID = "/recordnet/req/1.0.0"

// MaxMessageSize 单条消息体上限
const MaxMessageSize = 5 << 20

// RequestKind 请求类型
type RequestKind uint8

const (
	// KindUnknown 无效
	KindUnknown RequestKind = iota
	// KindGetRecord 读取记录
	KindGetRecord
	// KindPutRecord 付费写入
	KindPutRecord
	// KindReplicate 副本同步，不需要支付凭证
	KindReplicate
	// KindGetStoreQuote 询价
	KindGetStoreQuote
	// KindGetClosestPeers 查询最近节点
	KindGetClosestPeers
)

func (k RequestKind) String() string {
	switch k {
	case KindGetRecord:
		return "GetRecord"
	case KindPutRecord:
		return "PutRecord"
	case KindReplicate:
		return "Replicate"
	case KindGetStoreQuote:
		return "GetStoreQuote"
	case KindGetClosestPeers:
		return "GetClosestPeers"
	default:
		return fmt.Sprintf("RequestKind(%d)", uint8(k))
	}
}

// Valid 是否为已知请求类型
func (k RequestKind) Valid() bool {
	return k >= KindGetRecord && k <= KindGetClosestPeers
}

// Result 响应结果标记
type Result uint8

const (
	// ResultOk 成功
	ResultOk Result = iota
	// ResultNotFound 记录不存在
	ResultNotFound
	// ResultRejected 被拒绝，原因见 Response.Reason
	ResultRejected
)

func (r Result) String() string {
	switch r {
	case ResultOk:
		return "Ok"
	case ResultNotFound:
		return "NotFound"
	case ResultRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("Result(%d)", uint8(r))
	}
}

// Request 请求
//
// 各类型使用的字段:
//   - GetRecord / GetClosestPeers: Address
//   - PutRecord: Record, Proof
//   - Replicate: Record
//   - GetStoreQuote: Address, Size
type Request struct {
	Kind    RequestKind
	Address types.Address
	Record  *types.Record
	Proof   *types.PaymentProof
	Size    uint64
}

// Response 响应
type Response struct {
	Kind   RequestKind
	Result Result
	Reason types.RejectReason

	// Record GetRecord 命中时返回
	Record *types.Record

	// Peers GetClosestPeers 的结果；GetRecord 未命中时为更近的节点
	Peers []types.Peer

	// Price GetStoreQuote 的报价
	Price *types.Price
}

// Validate 按请求类型检查必需字段
func (r *Request) Validate() error {
	switch r.Kind {
	case KindGetRecord, KindGetClosestPeers, KindGetStoreQuote:
		return nil
	case KindPutRecord, KindReplicate:
		if r.Record == nil {
			return fmt.Errorf("%w: %s without record", ErrMalformed, r.Kind)
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, r.Kind)
	}
}

// OkResponse 成功响应
func OkResponse(kind RequestKind) *Response {
	return &Response{Kind: kind, Result: ResultOk}
}

// RejectedResponse 拒绝响应
func RejectedResponse(kind RequestKind, reason types.RejectReason) *Response {
	return &Response{Kind: kind, Result: ResultRejected, Reason: reason}
}

// NotFoundResponse 未命中响应，附带更近的节点
func NotFoundResponse(kind RequestKind, closer []types.Peer) *Response {
	return &Response{Kind: kind, Result: ResultNotFound, Peers: closer}
}
