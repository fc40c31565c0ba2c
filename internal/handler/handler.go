// Package handler 处理其他节点发来的请求
//
// 每个处理函数都是同步的，只读写本地状态，不发起分布式查询。
// 处理器在引擎的事件循环中调用，不加锁。
package handler

import (
	"errors"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/dep2p/go-recordnet/internal/protocol/wire"
	"github.com/dep2p/go-recordnet/internal/record"
	"github.com/dep2p/go-recordnet/internal/util/logger"
	"github.com/dep2p/go-recordnet/pkg/types"
)

var log = logger.Logger("handler")

// RecordStore 处理器需要的存储能力，由 *record.Store 实现
type RecordStore interface {
	Get(addr types.Address) (*types.Record, error)
	Put(rec *types.Record, proof *types.PaymentProof, opts record.PutOptions) (record.Outcome, error)
	Quote(size int) types.Price
}

// PeerTable 处理器需要的路由能力，由 *routing.Table 实现
type PeerTable interface {
	ClosestPeers(addr types.Address, count int, includeSelf bool) []types.Peer
}

// Handler 请求处理器
type Handler struct {
	cfg   Config
	store RecordStore
	table PeerTable
	clock clock.Clock

	// onStored 付费写入被接受且内容有变化时调用，触发写入推送
	onStored func(types.Address) error

	limiters *lru.Cache[types.PeerID, *rate.Limiter]
}

// Option 处理器选项
type Option func(*Handler)

// WithClock 注入时钟（限流用）
func WithClock(c clock.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithOnStored 设置写入成功回调
func WithOnStored(fn func(types.Address) error) Option {
	return func(h *Handler) { h.onStored = fn }
}

// New 创建处理器
func New(cfg Config, store RecordStore, table PeerTable, opts ...Option) (*Handler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	limiters, err := lru.New[types.PeerID, *rate.Limiter](cfg.MaxTrackedPeers)
	if err != nil {
		return nil, err
	}
	h := &Handler{
		cfg:      cfg,
		store:    store,
		table:    table,
		clock:    clock.New(),
		onStored: func(types.Address) error { return nil },
		limiters: limiters,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle 处理一个请求
//
// 校验与容量问题以 Rejected 响应返回；error 只表示本地存储故障，
// 调用方应当停止引擎。
func (h *Handler) Handle(from types.PeerID, req *wire.Request) (*wire.Response, error) {
	if req == nil {
		return wire.RejectedResponse(wire.KindUnknown, types.RejectMalformed), nil
	}
	if err := req.Validate(); err != nil {
		log.Debug("malformed request", "from", from.ShortString(), "err", err)
		return wire.RejectedResponse(req.Kind, types.RejectMalformed), nil
	}

	switch req.Kind {
	case wire.KindGetRecord:
		return h.getRecord(from, req.Address)
	case wire.KindPutRecord:
		return h.putRecord(from, req.Record, req.Proof)
	case wire.KindReplicate:
		return h.replicate(from, req.Record)
	case wire.KindGetStoreQuote:
		return h.quote(req.Size), nil
	default:
		return &wire.Response{
			Kind:   wire.KindGetClosestPeers,
			Result: wire.ResultOk,
			Peers:  h.closest(req.Address, from),
		}, nil
	}
}

func (h *Handler) getRecord(from types.PeerID, addr types.Address) (*wire.Response, error) {
	rec, err := h.store.Get(addr)
	switch {
	case err == nil:
		return &wire.Response{Kind: wire.KindGetRecord, Result: wire.ResultOk, Record: rec}, nil
	case errors.Is(err, types.ErrNotFound):
		return wire.NotFoundResponse(wire.KindGetRecord, h.closest(addr, from)), nil
	default:
		return nil, err
	}
}

func (h *Handler) putRecord(from types.PeerID, rec *types.Record, proof *types.PaymentProof) (*wire.Response, error) {
	if !h.allowWrite(from) {
		return wire.RejectedResponse(wire.KindPutRecord, types.RejectRateLimited), nil
	}
	out, err := h.store.Put(rec, proof, record.PutOptions{RequirePayment: true})
	if err != nil {
		return nil, err
	}
	if !out.Accepted() {
		return wire.RejectedResponse(wire.KindPutRecord, out.Reason), nil
	}
	if out.Changed {
		if err := h.onStored(rec.Address); err != nil {
			return nil, err
		}
	}
	return wire.OkResponse(wire.KindPutRecord), nil
}

// replicate 副本同步：不需要支付，也不再向外推送
func (h *Handler) replicate(from types.PeerID, rec *types.Record) (*wire.Response, error) {
	if !h.allowWrite(from) {
		return wire.RejectedResponse(wire.KindReplicate, types.RejectRateLimited), nil
	}
	out, err := h.store.Put(rec, nil, record.PutOptions{})
	if err != nil {
		return nil, err
	}
	if !out.Accepted() {
		return wire.RejectedResponse(wire.KindReplicate, out.Reason), nil
	}
	return wire.OkResponse(wire.KindReplicate), nil
}

func (h *Handler) quote(size uint64) *wire.Response {
	if size > wire.MaxMessageSize {
		return wire.RejectedResponse(wire.KindGetStoreQuote, types.RejectTooLarge)
	}
	price := h.store.Quote(int(size))
	return &wire.Response{Kind: wire.KindGetStoreQuote, Result: wire.ResultOk, Price: &price}
}

// closest 路由表中离 addr 最近的 K 个节点，不含请求方与本节点
func (h *Handler) closest(addr types.Address, exclude types.PeerID) []types.Peer {
	k := h.cfg.CloseGroupSize
	peers := h.table.ClosestPeers(addr, k+1, false)
	out := peers[:0]
	for _, p := range peers {
		if p.ID != exclude {
			out = append(out, p)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func (h *Handler) allowWrite(from types.PeerID) bool {
	if h.cfg.WriteRate == 0 {
		return true
	}
	l, ok := h.limiters.Get(from)
	if !ok {
		l = rate.NewLimiter(h.cfg.WriteRate, h.cfg.WriteBurst)
		h.limiters.Add(from, l)
	}
	if l.AllowN(h.clock.Now(), 1) {
		return true
	}
	log.Debug("write rate limited", "peer", from.ShortString())
	return false
}
