package engine

import (
	"errors"
	"time"

	"github.com/dep2p/go-recordnet/internal/protocol/wire"
	"github.com/dep2p/go-recordnet/internal/record"
	"github.com/dep2p/go-recordnet/internal/swarm"
	"github.com/dep2p/go-recordnet/pkg/types"
)

type queryKind uint8

const (
	queryClosest queryKind = iota
	queryRecord
	queryPut
	queryQuote
)

func (k queryKind) String() string {
	switch k {
	case queryRecord:
		return "get_record"
	case queryPut:
		return "put_record"
	case queryQuote:
		return "get_store_quote"
	default:
		return "get_closest_peers"
	}
}

// queryKey 相同 key 的并发查询合并为一个
type queryKey struct {
	kind   queryKind
	target types.Address
	quorum int
}

// version 同一地址的一个版本及其持有者
type version struct {
	rec     *types.Record
	holders map[types.PeerID]struct{}
}

// query 进行中的分布式查询
//
// 先做一次迭代查找；GetRecord 在查找过程中收集副本，PutRecord 与
// GetStoreQuote 在查找结束后向副本组发第二轮请求。
type query struct {
	id       uint64
	kind     queryKind
	key      queryKey
	target   types.Address
	started  time.Time
	deadline time.Time
	look     *lookup
	inflight map[swarm.RequestID]struct{}
	finished bool

	closestWaiters []promise[[]types.Peer]
	recordWaiters  []promise[*types.Record]

	quorum   types.Quorum
	versions map[[32]byte]*version

	put   *putState
	quote *quoteState
}

type putState struct {
	rec      *types.Record
	proof    *types.PaymentProof
	reply    promise[record.Outcome]
	targets  int
	required int
	accepted int
	answered int
	reasons  map[types.RejectReason]int
	lastErr  error
}

type quoteState struct {
	size  int
	reply promise[types.Price]
	peers []types.Peer
}

// ============================================================================
//                              启动
// ============================================================================

func (e *Engine) newQuery(kind queryKind, target types.Address) *query {
	e.nextQuery++
	now := e.clock.Now()
	q := &query{
		id:       e.nextQuery,
		kind:     kind,
		key:      queryKey{kind: kind, target: target},
		target:   target,
		started:  now,
		deadline: now.Add(e.cfg.QueryTimeout),
		inflight: make(map[swarm.RequestID]struct{}),
	}
	seeds := e.table.ClosestPeers(target, e.cfg.CloseGroupSize, false)
	q.look = newLookup(target, e.local.ID, e.cfg.CloseGroupSize, e.cfg.Alpha, seeds)
	e.queries[q.id] = q
	return q
}

// getClosest 启动或加入最近节点查找；reply 为 nil 表示内部查找
func (e *Engine) getClosest(target types.Address, reply promise[[]types.Peer]) {
	key := queryKey{kind: queryClosest, target: target}
	if q, ok := e.joinable[key]; ok {
		if reply != nil {
			q.closestWaiters = append(q.closestWaiters, reply)
		}
		return
	}

	q := e.newQuery(queryClosest, target)
	if reply != nil {
		q.closestWaiters = append(q.closestWaiters, reply)
	}
	e.joinable[key] = q
	e.advance(q)
}

// startGetRecord 启动或加入记录查询；local 是本地副本（可为 nil），计为一个持有者
func (e *Engine) startGetRecord(target types.Address, quorum types.Quorum, local *types.Record, reply promise[*types.Record]) {
	key := queryKey{kind: queryRecord, target: target, quorum: quorum.Required()}
	if q, ok := e.joinable[key]; ok {
		q.recordWaiters = append(q.recordWaiters, reply)
		return
	}

	q := e.newQuery(queryRecord, target)
	q.key = key
	q.quorum = quorum
	q.versions = make(map[[32]byte]*version)
	q.recordWaiters = append(q.recordWaiters, reply)
	e.joinable[key] = q
	if local != nil && e.addCopy(q, e.local.ID, local) {
		return
	}
	e.advance(q)
}

// startPut 通过网络写入：查找副本组后发送 PutRecord
func (e *Engine) startPut(c *putCmd) {
	if c.rec == nil {
		c.reply.resolve(record.Outcome{Reason: types.RejectMalformed}, nil)
		return
	}
	if reason := e.store.Validate(c.rec); reason != types.RejectNone {
		c.reply.resolve(record.Outcome{Reason: reason}, nil)
		return
	}
	q := e.newQuery(queryPut, c.rec.Address)
	q.put = &putState{
		rec:     c.rec,
		proof:   c.proof,
		reply:   c.reply,
		reasons: make(map[types.RejectReason]int),
	}
	e.advance(q)
}

// startQuote 通过网络询价：依次询问副本组成员，取第一个有效报价
func (e *Engine) startQuote(c *quoteCmd) {
	q := e.newQuery(queryQuote, c.addr)
	q.quote = &quoteState{size: c.size, reply: c.reply}
	e.advance(q)
}

// ============================================================================
//                              查找阶段
// ============================================================================

// advance 发出下一批查找请求，查找结束时进入结果阶段
func (e *Engine) advance(q *query) {
	if q.finished {
		return
	}
	if q.look.done() {
		e.lookupDone(q)
		return
	}

	req := &wire.Request{Kind: wire.KindGetClosestPeers, Address: q.target}
	if q.kind == queryRecord {
		req = &wire.Request{Kind: wire.KindGetRecord, Address: q.target}
	}
	for _, p := range q.look.next() {
		var id swarm.RequestID
		id = e.send(p, req, func(resp *wire.Response, err error) {
			delete(q.inflight, id)
			e.onLookupResponse(q, p, resp, err)
		})
		q.inflight[id] = struct{}{}
	}
}

func (e *Engine) onLookupResponse(q *query, from types.Peer, resp *wire.Response, err error) {
	if q.finished {
		return
	}
	switch {
	case err != nil:
		log.Debug("lookup request failed", "query", q.id, "peer", from.ID.ShortString(), "err", err)
		q.look.failed(from.ID)

	case q.kind == queryRecord && resp.Result == wire.ResultOk:
		rec := resp.Record
		if rec == nil || rec.Address != q.target || e.store.Validate(rec) != types.RejectNone {
			log.Debug("invalid record copy", "query", q.id, "peer", from.ID.ShortString())
			q.look.failed(from.ID)
			break
		}
		q.look.succeeded(from.ID, nil)
		if e.addCopy(q, from.ID, rec) {
			return
		}

	case resp.Result == wire.ResultRejected:
		q.look.failed(from.ID)

	default:
		q.look.succeeded(from.ID, resp.Peers)
	}
	e.advance(q)
}

// lookupDone 查找结束：按查询类型给出结果或进入第二轮
func (e *Engine) lookupDone(q *query) {
	k := e.cfg.CloseGroupSize
	switch q.kind {
	case queryClosest:
		e.finishClosest(q, q.look.closest(k), nil)

	case queryRecord:
		switch len(q.versions) {
		case 0:
			e.finishRecord(q, nil, types.ErrNotFound)
		case 1:
			e.finishRecord(q, nil, types.ErrNotEnoughCopies)
		default:
			e.finishRecord(q, nil, types.ErrSplitRecord)
		}

	case queryPut:
		e.sendPuts(q, q.look.closest(k))

	case queryQuote:
		q.quote.peers = q.look.closest(k)
		e.askQuote(q)
	}
}

// addCopy 记录一份有效副本；达到法定数时结束查询并返回 true
func (e *Engine) addCopy(q *query, from types.PeerID, rec *types.Record) bool {
	h := rec.ContentHash()
	v, ok := q.versions[h]
	if !ok {
		v = &version{rec: rec, holders: make(map[types.PeerID]struct{})}
		q.versions[h] = v
	}
	v.holders[from] = struct{}{}

	if len(v.holders) < q.quorum.Required() {
		return false
	}
	if len(q.versions) > 1 {
		log.Warn("split record", "addr", q.target.ShortString(), "versions", len(q.versions))
		e.finishRecord(q, nil, types.ErrSplitRecord)
		return true
	}
	e.finishRecord(q, v.rec, nil)
	return true
}

// ============================================================================
//                              第二轮请求
// ============================================================================

// sendPuts 向目标节点发送 PutRecord
//
// 带支付凭证时只发给收款方，收款方必须在副本组内，其他成员通过复制得到记录；
// 不带凭证（更新已有的可变记录）时发给整个副本组，多数接受即成功。
func (e *Engine) sendPuts(q *query, group []types.Peer) {
	ps := q.put
	targets := group
	if ps.proof != nil {
		targets = nil
		for _, p := range group {
			if p.ID == ps.proof.Payee {
				targets = []types.Peer{p}
				break
			}
		}
		if targets == nil {
			log.Debug("payee outside close group", "addr", q.target.ShortString(), "payee", ps.proof.Payee.ShortString())
			e.finishPut(q, record.Outcome{Reason: types.RejectPaymentVerificationFailed}, nil)
			return
		}
	}
	if len(targets) == 0 {
		e.finishPut(q, record.Outcome{}, types.ErrPeerUnreachable)
		return
	}

	ps.targets = len(targets)
	ps.required = min(types.CloseGroupMajority(), len(targets))
	req := &wire.Request{Kind: wire.KindPutRecord, Record: ps.rec, Proof: ps.proof}
	for _, p := range targets {
		var id swarm.RequestID
		id = e.send(p, req, func(resp *wire.Response, err error) {
			delete(q.inflight, id)
			e.onPutResponse(q, resp, err)
		})
		q.inflight[id] = struct{}{}
	}
}

func (e *Engine) onPutResponse(q *query, resp *wire.Response, err error) {
	if q.finished {
		return
	}
	ps := q.put
	ps.answered++
	switch {
	case err != nil:
		ps.lastErr = err
	case resp.Result == wire.ResultOk:
		ps.accepted++
	case resp.Result == wire.ResultRejected:
		ps.reasons[resp.Reason]++
	default:
		ps.lastErr = types.ErrNotFound
	}

	if ps.accepted >= ps.required {
		e.finishPut(q, record.Outcome{Changed: true}, nil)
		return
	}
	if ps.accepted+ps.targets-ps.answered >= ps.required {
		return
	}
	if reason, ok := commonReason(ps.reasons); ok {
		e.finishPut(q, record.Outcome{Reason: reason}, nil)
		return
	}
	if ps.lastErr == nil {
		ps.lastErr = types.ErrPeerUnreachable
	}
	e.finishPut(q, record.Outcome{}, ps.lastErr)
}

// commonReason 出现最多的拒绝原因，次数相同时取编号小的
func commonReason(reasons map[types.RejectReason]int) (types.RejectReason, bool) {
	best, count := types.RejectNone, 0
	for r, n := range reasons {
		if n > count || (n == count && r < best) {
			best, count = r, n
		}
	}
	return best, count > 0
}

// askQuote 向下一个候选询价
func (e *Engine) askQuote(q *query) {
	qs := q.quote
	if len(qs.peers) == 0 {
		e.finishQuote(q, types.Price{}, types.ErrPeerUnreachable)
		return
	}
	p := qs.peers[0]
	qs.peers = qs.peers[1:]

	req := &wire.Request{Kind: wire.KindGetStoreQuote, Address: q.target, Size: uint64(max(qs.size, 0))}
	var id swarm.RequestID
	id = e.send(p, req, func(resp *wire.Response, err error) {
		delete(q.inflight, id)
		if q.finished {
			return
		}
		if err == nil && resp.Result == wire.ResultOk && resp.Price != nil {
			e.finishQuote(q, *resp.Price, nil)
			return
		}
		log.Debug("quote request failed", "peer", p.ID.ShortString(), "err", err)
		e.askQuote(q)
	})
	q.inflight[id] = struct{}{}
}

// ============================================================================
//                              结束
// ============================================================================

func (e *Engine) finishClosest(q *query, peers []types.Peer, err error) {
	if !e.retire(q, err) {
		return
	}
	for _, w := range q.closestWaiters {
		out := make([]types.Peer, len(peers))
		for i, p := range peers {
			out[i] = p.Clone()
		}
		w.resolve(out, err)
	}
}

func (e *Engine) finishRecord(q *query, rec *types.Record, err error) {
	if !e.retire(q, err) {
		return
	}
	for _, w := range q.recordWaiters {
		w.resolve(rec.Clone(), err)
	}
}

func (e *Engine) finishPut(q *query, out record.Outcome, err error) {
	if !e.retire(q, err) {
		return
	}
	q.put.reply.resolve(out, err)
}

func (e *Engine) finishQuote(q *query, price types.Price, err error) {
	if !e.retire(q, err) {
		return
	}
	q.quote.reply.resolve(price, err)
}

// abort 以 err 结束查询
func (e *Engine) abort(q *query, err error) {
	switch q.kind {
	case queryClosest:
		e.finishClosest(q, nil, err)
	case queryRecord:
		e.finishRecord(q, nil, err)
	case queryPut:
		e.finishPut(q, record.Outcome{}, err)
	case queryQuote:
		e.finishQuote(q, types.Price{}, err)
	}
}

// retire 撤销查询的在途请求并上报耗时；查询已经结束时返回 false
func (e *Engine) retire(q *query, err error) bool {
	if q.finished {
		return false
	}
	q.finished = true
	for id := range q.inflight {
		e.swarm.Cancel(id)
		delete(e.outbound, id)
	}
	delete(e.queries, q.id)
	if e.joinable[q.key] == q {
		delete(e.joinable, q.key)
	}

	elapsed := e.clock.Since(q.started)
	e.metrics.ObserveQuery(q.kind.String(), elapsed.Seconds(), outcomeLabel(err))
	log.Debug("query finished",
		"query", q.id,
		"kind", q.kind,
		"target", q.target.ShortString(),
		"elapsed", elapsed,
		"err", err)
	return true
}

// sweep 结束已过期限的查询
func (e *Engine) sweep() {
	now := e.clock.Now()
	for _, q := range e.queries {
		if !now.Before(q.deadline) {
			e.abort(q, types.ErrTimeout)
		}
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, types.ErrNotFound):
		return "not_found"
	case errors.Is(err, types.ErrTimeout):
		return "timeout"
	case errors.Is(err, types.ErrCancelled):
		return "cancelled"
	default:
		return "error"
	}
}
