// Package engine 实现网络引擎
//
// 引擎是单一所有者的事件循环：记录存储、路由表、复制管理器和所有进行中的
// 分布式查询都只在 Run 所在的 goroutine 里读写。外部通过 Handle 发送命令，
// 底层网络通过 swarm.Swarm 送来事件；每个事件处理完毕后才处理下一个。
//
// 事件循环同时监听:
//   - Handle 发来的命令
//   - Swarm 事件（连接变化、入站请求、出站请求的结果）
//   - 定时任务（复制重试）
//   - 查询期限检查、周期对账、路由表刷新三个定时器
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-recordnet/internal/core/metrics"
	"github.com/dep2p/go-recordnet/internal/handler"
	"github.com/dep2p/go-recordnet/internal/protocol/wire"
	"github.com/dep2p/go-recordnet/internal/record"
	"github.com/dep2p/go-recordnet/internal/replication"
	"github.com/dep2p/go-recordnet/internal/routing"
	"github.com/dep2p/go-recordnet/internal/swarm"
	"github.com/dep2p/go-recordnet/internal/util/logger"
	"github.com/dep2p/go-recordnet/pkg/interfaces"
	"github.com/dep2p/go-recordnet/pkg/types"
)

var log = logger.Logger("engine")

// maxRefreshPerTick 每次刷新最多启动的查找数
const maxRefreshPerTick = 8

// Deps 引擎依赖
type Deps struct {
	Swarm swarm.Swarm
	Store *record.Store

	// Bootstrap 可选，启动时拨号的地址
	Bootstrap interfaces.BootstrapSource

	// Metrics 可选
	Metrics interfaces.Metrics

	// Clock 可选，默认真实时钟
	Clock clock.Clock
}

// outboundFunc 出站请求完成回调，resp 与 err 恰有一个非空
type outboundFunc func(resp *wire.Response, err error)

// Engine 网络引擎
type Engine struct {
	cfg       Config
	local     types.Peer
	swarm     swarm.Swarm
	store     *record.Store
	table     *routing.Table
	handler   *handler.Handler
	repl      *replication.Manager
	bootstrap interfaces.BootstrapSource
	metrics   interfaces.Metrics
	clock     clock.Clock

	cmds    chan command
	tasks   chan func()
	done    chan struct{}
	running atomic.Bool

	queries   map[uint64]*query
	joinable  map[queryKey]*query
	outbound  map[swarm.RequestID]outboundFunc
	nextQuery uint64

	// needSelfLookup 第一个节点连上后做一次自查找来填充路由表
	needSelfLookup bool

	fatal error
}

// New 创建引擎，Run 之前不会处理任何事件
func New(cfg Config, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Swarm == nil || deps.Store == nil {
		return nil, ErrMissingDependency
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	cfg.Handler.CloseGroupSize = cfg.CloseGroupSize
	cfg.Replication.CloseGroupSize = cfg.CloseGroupSize

	local := deps.Swarm.LocalPeer()
	e := &Engine{
		cfg:            cfg,
		local:          local,
		swarm:          deps.Swarm,
		store:          deps.Store,
		table:          routing.New(local.ID, routing.WithBucketSize(cfg.BucketSize), routing.WithClock(deps.Clock)),
		bootstrap:      deps.Bootstrap,
		metrics:        metrics.OrNop(deps.Metrics),
		clock:          deps.Clock,
		cmds:           make(chan command, cfg.CommandBuffer),
		tasks:          make(chan func(), 64),
		done:           make(chan struct{}),
		queries:        make(map[uint64]*query),
		joinable:       make(map[queryKey]*query),
		outbound:       make(map[swarm.RequestID]outboundFunc),
		needSelfLookup: true,
	}

	repl, err := replication.New(cfg.Replication, replication.Deps{
		Store:    deps.Store,
		Routing:  e.table,
		Send:     e.sendReplicate,
		Schedule: e.schedule,
		Metrics:  e.metrics,
	})
	if err != nil {
		return nil, err
	}
	e.repl = repl

	h, err := handler.New(cfg.Handler, deps.Store, e.table,
		handler.WithClock(deps.Clock),
		handler.WithOnStored(repl.OnStored))
	if err != nil {
		return nil, err
	}
	e.handler = h
	return e, nil
}

// Handle 返回引擎的句柄，可以在 Run 之前获取
func (e *Engine) Handle() *Handle {
	return &Handle{cmds: e.cmds, done: e.done}
}

// LocalPeer 本节点
func (e *Engine) LocalPeer() types.Peer {
	return e.local.Clone()
}

// Done 事件循环退出后关闭
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// ============================================================================
//                              事件循环
// ============================================================================

// Run 运行事件循环，直到 Shutdown、ctx 结束或发生本地存储故障
//
// 前两种情况返回 nil，存储故障返回 *FatalError。退出前所有等待者都以
// types.ErrCancelled 得到应答，Swarm 被关闭。
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	log.Info("engine started",
		"peer", e.local.ID.ShortString(),
		"records", e.store.Len(),
		"client", e.cfg.ClientMode)

	sweep := e.clock.Ticker(e.cfg.SweepInterval)
	defer sweep.Stop()
	reconcile := e.clock.Ticker(e.cfg.Replication.ReconcileInterval)
	defer reconcile.Stop()
	refresh := e.clock.Ticker(e.cfg.RefreshInterval)
	defer refresh.Stop()

	e.startBootstrap(ctx)

	events := e.swarm.Events()
	for {
		select {
		case <-ctx.Done():
			e.stop("context done")
			return nil

		case cmd := <-e.cmds:
			if sd, ok := cmd.(*shutdownCmd); ok {
				e.stop("shutdown requested")
				sd.reply.resolve(struct{}{}, nil)
				return nil
			}
			e.handleCommand(cmd)

		case ev := <-events:
			e.handleEvent(ev)

		case fn := <-e.tasks:
			fn()

		case <-sweep.C:
			e.sweep()

		case <-reconcile.C:
			e.check("reconcile", e.repl.Reconcile())

		case <-refresh.C:
			e.refresh()
		}

		if e.fatal != nil {
			log.Error("engine stopped by local fault", "err", e.fatal)
			e.stop("local fault")
			return e.fatal
		}
	}
}

// stop 应答所有等待者并关闭 Swarm
func (e *Engine) stop(reason string) {
	for _, q := range e.queries {
		e.abort(q, types.ErrCancelled)
	}

	drained := 0
	for {
		select {
		case cmd := <-e.cmds:
			cmd.cancel()
			drained++
			continue
		default:
		}
		break
	}

	if err := e.swarm.Close(); err != nil {
		log.Warn("swarm close failed", "err", err)
	}
	close(e.done)
	log.Info("engine stopped", "reason", reason, "cancelled_commands", drained)
}

// check 记录第一个本地存储故障，事件循环在本轮结束后退出
func (e *Engine) check(op string, err error) {
	if err == nil || e.fatal != nil {
		return
	}
	e.fatal = &FatalError{Op: op, Err: err}
}

// schedule 在 d 之后把 fn 投递回事件循环
func (e *Engine) schedule(d time.Duration, fn func()) {
	e.clock.AfterFunc(d, func() {
		select {
		case e.tasks <- fn:
		case <-e.done:
		}
	})
}

// ============================================================================
//                              命令
// ============================================================================

func (e *Engine) handleCommand(cmd command) {
	switch c := cmd.(type) {
	case *putCmd:
		e.putRecord(c)
	case *getCmd:
		e.getRecord(c)
	case *closestCmd:
		e.getClosest(c.addr, c.reply)
	case *quoteCmd:
		e.getQuote(c)
	case *reconcileCmd:
		err := e.repl.Reconcile()
		e.check("reconcile", err)
		c.reply.resolve(struct{}{}, err)
	case *statsCmd:
		c.reply.resolve(e.stats(), nil)
	default:
		log.Error("unknown command", "type", fmt.Sprintf("%T", cmd))
		cmd.cancel()
	}
}

func (e *Engine) putRecord(c *putCmd) {
	if c.network || e.cfg.ClientMode {
		e.startPut(c)
		return
	}

	out, err := e.store.Put(c.rec, c.proof, record.PutOptions{RequirePayment: true})
	if err != nil {
		e.check("put", err)
		c.reply.fail(err)
		return
	}
	if out.Accepted() && out.Changed {
		e.check("replicate", e.repl.OnStored(c.rec.Address))
	}
	c.reply.resolve(out, nil)
}

func (e *Engine) getRecord(c *getCmd) {
	rec, err := e.store.Get(c.addr)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		e.check("get", err)
		c.reply.fail(err)
		return
	}
	if !c.quorumSet {
		c.quorum = e.cfg.DefaultQuorum
	}

	switch {
	case rec != nil && (c.localOnly || c.quorum.IsOne()):
		c.reply.resolve(rec, nil)
	case c.localOnly:
		c.reply.fail(types.ErrNotFound)
	default:
		e.startGetRecord(c.addr, c.quorum, rec, c.reply)
	}
}

func (e *Engine) getQuote(c *quoteCmd) {
	if c.network || e.cfg.ClientMode {
		e.startQuote(c)
		return
	}
	c.reply.resolve(e.store.Quote(c.size), nil)
}

func (e *Engine) stats() Stats {
	st := e.store.Stats()
	rs := e.repl.Stats()
	return Stats{
		Peers:          e.table.Size(),
		Records:        st.Records,
		StoredBytes:    st.Bytes,
		PendingQueries: len(e.queries),
		Replication: ReplicationStats{
			InFlight: rs.InFlight,
			Queued:   rs.Queued,
			Waiting:  rs.Waiting,
		},
	}
}

// ============================================================================
//                              Swarm 事件
// ============================================================================

func (e *Engine) handleEvent(ev swarm.Event) {
	switch ev := ev.(type) {
	case swarm.PeerConnected:
		e.peerSeen(ev.Peer)

	case swarm.PeerDisconnected:
		e.peerLost(ev.ID)

	case swarm.InboundRequest:
		e.peerSeen(ev.From)
		resp, err := e.handler.Handle(ev.From.ID, ev.Request)
		if err != nil {
			e.check("handle "+ev.Request.Kind.String(), err)
			return
		}
		if err := ev.Channel.Send(resp); err != nil {
			log.Debug("response not sent", "peer", ev.From.ID.ShortString(), "err", err)
		}

	case swarm.OutboundResponse:
		e.peerSeen(ev.Peer)
		if fn, ok := e.outbound[ev.ID]; ok {
			delete(e.outbound, ev.ID)
			fn(ev.Response, nil)
		}

	case swarm.OutboundFailure:
		if errors.Is(ev.Err, types.ErrPeerUnreachable) {
			e.peerLost(ev.Peer.ID)
		}
		if fn, ok := e.outbound[ev.ID]; ok {
			delete(e.outbound, ev.ID)
			fn(nil, ev.Err)
		}
	}
}

func (e *Engine) peerSeen(p types.Peer) {
	if p.ID == e.local.ID || p.ID.IsEmpty() {
		return
	}
	if e.table.OnPeerSeen(p) {
		log.Debug("peer added", "peer", p.ID.ShortString(), "table", e.table.Size())
		e.metrics.SetRoutingTableSize(e.table.Size())
		e.check("churn", e.repl.OnPeerAdded(p))
	}
	if e.needSelfLookup {
		e.needSelfLookup = false
		e.getClosest(e.local.ID.Address(), nil)
	}
}

func (e *Engine) peerLost(id types.PeerID) {
	removed, promoted := e.table.OnPeerLost(id)
	if !removed {
		return
	}
	log.Debug("peer removed", "peer", id.ShortString(), "table", e.table.Size())
	e.repl.OnPeerRemoved(id)
	e.metrics.SetRoutingTableSize(e.table.Size())
	if promoted != nil {
		e.check("churn", e.repl.OnPeerAdded(*promoted))
	}
}

// send 发出请求并登记完成回调
func (e *Engine) send(peer types.Peer, req *wire.Request, fn outboundFunc) swarm.RequestID {
	id := e.swarm.SendRequest(peer, req)
	e.outbound[id] = fn
	return id
}

// sendReplicate 复制管理器的 Sender
func (e *Engine) sendReplicate(taskID uint64, peer types.Peer, rec *types.Record) {
	e.send(peer, &wire.Request{Kind: wire.KindReplicate, Record: rec}, func(resp *wire.Response, err error) {
		if err == nil {
			err = responseErr(resp)
		}
		e.check("replicate", e.repl.OnSendResult(taskID, err))
	})
}

// responseErr 把非 Ok 响应转换为错误
func responseErr(resp *wire.Response) error {
	switch resp.Result {
	case wire.ResultOk:
		return nil
	case wire.ResultRejected:
		return types.Rejected(resp.Reason)
	default:
		return types.ErrNotFound
	}
}

// ============================================================================
//                              引导与刷新
// ============================================================================

// startBootstrap 并发拨号引导地址；连接成功后 PeerConnected 事件触发自查找
func (e *Engine) startBootstrap(ctx context.Context) {
	if e.bootstrap == nil {
		return
	}
	addrs := e.bootstrap.InitialPeers()
	log.Info("bootstrapping", "addrs", len(addrs))
	for _, addr := range addrs {
		go func() {
			dctx, cancel := context.WithTimeout(ctx, e.cfg.DialTimeout)
			defer cancel()
			id, err := e.swarm.Dial(dctx, addr)
			if err != nil {
				log.Warn("bootstrap dial failed", "addr", addr.String(), "err", err)
				return
			}
			log.Debug("bootstrap peer connected", "addr", addr.String(), "peer", id.ShortString())
		}()
	}
}

// refresh 为长时间没有刷新的桶做一次随机地址查找
func (e *Engine) refresh() {
	buckets := e.table.BucketsNeedingRefresh(e.cfg.RefreshInterval)
	if len(buckets) > maxRefreshPerTick {
		buckets = buckets[:maxRefreshPerTick]
	}
	for _, cpl := range buckets {
		e.getClosest(e.table.RandomAddressInBucket(cpl), nil)
		e.table.MarkRefreshed(cpl)
	}
}
