package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dep2p/go-recordnet/internal/record"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// Handle 引擎句柄
//
// 每个调用把命令放进引擎的 FIFO 通道，然后等待对应的应答、ctx 结束或引擎退出。
// 引擎退出后所有调用立即以 types.ErrCancelled 返回。Handle 可以复制，
// 副本共享同一个引擎，可并发使用。
type Handle struct {
	cmds chan<- command
	done <-chan struct{}
}

// PutOption PutRecord 选项
type PutOption func(*putCmd)

// ViaNetwork 不写本地存储，发给副本组并等待确认
func ViaNetwork() PutOption {
	return func(c *putCmd) { c.network = true }
}

// GetOption GetRecord 选项
type GetOption func(*getCmd)

// WithQuorum 指定读取法定数
func WithQuorum(q types.Quorum) GetOption {
	return func(c *getCmd) {
		c.quorum = q
		c.quorumSet = true
	}
}

// LocalOnly 只查本地存储
func LocalOnly() GetOption {
	return func(c *getCmd) { c.localOnly = true }
}

// QuoteOption GetStoreQuote 选项
type QuoteOption func(*quoteCmd)

// QuoteFromNetwork 向副本组询价而不是使用本地报价
func QuoteFromNetwork() QuoteOption {
	return func(c *quoteCmd) { c.network = true }
}

// PutRecord 写入记录
//
// 校验、支付与容量问题以 Outcome 返回（Outcome.Err() 转为 *types.RejectedError）；
// error 表示超时、取消、对端不可达或本地存储故障。
func (h *Handle) PutRecord(ctx context.Context, rec *types.Record, proof *types.PaymentProof, opts ...PutOption) (record.Outcome, error) {
	c := &putCmd{rec: rec.Clone(), proof: proof, reply: newPromise[record.Outcome]()}
	for _, opt := range opts {
		opt(c)
	}
	return call(ctx, h, c, c.reply)
}

// GetRecord 读取记录
//
// 本地命中且法定数为一时直接返回；否则在网络上查找。结果错误为
// types.ErrNotFound、types.ErrSplitRecord、types.ErrNotEnoughCopies、
// types.ErrTimeout 或 types.ErrCancelled。
func (h *Handle) GetRecord(ctx context.Context, addr types.Address, opts ...GetOption) (*types.Record, error) {
	c := &getCmd{addr: addr, reply: newPromise[*types.Record]()}
	for _, opt := range opts {
		opt(c)
	}
	return call(ctx, h, c, c.reply)
}

// GetLocalRecord 只读本地存储
func (h *Handle) GetLocalRecord(ctx context.Context, addr types.Address) (*types.Record, error) {
	return h.GetRecord(ctx, addr, LocalOnly())
}

// GetClosestPeers 网络上离 addr 最近的至多 K 个节点，不含本节点
func (h *Handle) GetClosestPeers(ctx context.Context, addr types.Address) ([]types.Peer, error) {
	c := &closestCmd{addr: addr, reply: newPromise[[]types.Peer]()}
	return call(ctx, h, c, c.reply)
}

// GetStoreQuote 存储 size 字节到 addr 的报价
func (h *Handle) GetStoreQuote(ctx context.Context, addr types.Address, size int, opts ...QuoteOption) (types.Price, error) {
	c := &quoteCmd{addr: addr, size: size, reply: newPromise[types.Price]()}
	for _, opt := range opts {
		opt(c)
	}
	return call(ctx, h, c, c.reply)
}

// Reconcile 立即执行一轮对账
func (h *Handle) Reconcile(ctx context.Context) error {
	c := &reconcileCmd{reply: newPromise[struct{}]()}
	_, err := call(ctx, h, c, c.reply)
	return err
}

// Stats 引擎状态快照
func (h *Handle) Stats(ctx context.Context) (Stats, error) {
	c := &statsCmd{reply: newPromise[Stats]()}
	return call(ctx, h, c, c.reply)
}

// Shutdown 请求引擎退出并等待其完成；引擎已经退出时返回 nil
func (h *Handle) Shutdown(ctx context.Context) error {
	c := &shutdownCmd{reply: newPromise[struct{}]()}
	if _, err := call(ctx, h, c, c.reply); err != nil && !errors.Is(err, types.ErrCancelled) {
		return err
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctxErr(ctx)
	}
}

// call 发送命令并等待应答
func call[T any](ctx context.Context, h *Handle, cmd command, reply promise[T]) (T, error) {
	var zero T
	select {
	case <-h.done:
		return zero, types.ErrCancelled
	default:
	}

	select {
	case h.cmds <- cmd:
	case <-h.done:
		return zero, types.ErrCancelled
	case <-ctx.Done():
		return zero, ctxErr(ctx)
	}

	select {
	case r := <-reply:
		return r.val, r.err
	case <-h.done:
		// 退出前的最后一个应答可能已经写入
		select {
		case r := <-reply:
			return r.val, r.err
		default:
			return zero, types.ErrCancelled
		}
	case <-ctx.Done():
		return zero, ctxErr(ctx)
	}
}

// ctxErr 把 ctx 的结束原因映射到错误类别
func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", types.ErrTimeout, ctx.Err())
	}
	return fmt.Errorf("%w: %w", types.ErrCancelled, ctx.Err())
}
