// Package replication 维护记录在副本组中的冗余度
//
// 三种触发方式:
//   - 写入触发推送：本地接受新记录后推送给副本组中的其他成员
//   - 拓扑变化拉取：新节点加入某地址的副本组时把记录推送给它
//   - 周期对账：按游标分批扫描本地地址，补推未确认的成员
//
// Manager 只在引擎的事件循环中运行，不加锁。出站请求通过引擎提供的
// Sender 发出，结果通过 OnSendResult 送回；重试通过 Scheduler 在引擎
// 循环中执行。
package replication

import (
	"errors"
	"iter"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	"github.com/dep2p/go-recordnet/internal/core/metrics"
	"github.com/dep2p/go-recordnet/internal/util/logger"
	"github.com/dep2p/go-recordnet/pkg/interfaces"
	"github.com/dep2p/go-recordnet/pkg/types"
)

var log = logger.Logger("replication")

// Store 复制需要的存储能力，由 *record.Store 实现
type Store interface {
	Get(addr types.Address) (*types.Record, error)
	Has(addr types.Address) bool
	Pin(addr types.Address)
	Unpin(addr types.Address)
	Addresses() iter.Seq[types.Address]
	AddressesAfter(after *types.Address, limit int) []types.Address
}

// Routing 复制需要的路由能力，由 *routing.Table 实现
type Routing interface {
	LocalID() types.PeerID
	CloseGroup(addr types.Address, k int) []types.Peer
	InCloseGroup(addr types.Address, id types.PeerID, k int) bool
}

// Sender 向 peer 发送 Replicate 请求；完成后引擎调用 OnSendResult(taskID, err)
type Sender func(taskID uint64, peer types.Peer, rec *types.Record)

// Scheduler 在 d 之后于引擎循环中执行 fn
type Scheduler func(d time.Duration, fn func())

// Deps 依赖
type Deps struct {
	Store    Store
	Routing  Routing
	Send     Sender
	Schedule Scheduler

	// Metrics 可选
	Metrics interfaces.Metrics
}

type taskKey struct {
	addr types.Address
	peer types.PeerID
}

type taskState uint8

const (
	stateQueued taskState = iota
	stateInFlight
	stateWaiting
)

// task 一个 (地址, 节点) 推送任务
type task struct {
	id       uint64
	key      taskKey
	peer     types.Peer
	state    taskState
	attempts int
	backoff  backoff.BackOff

	// dirty 在途期间记录被更新，成功后需要再推一次新版本
	dirty bool

	// orphaned 在途期间对端离开了路由表，结果到达后直接结束
	orphaned bool
}

// Manager 复制管理器
type Manager struct {
	cfg      Config
	store    Store
	routing  Routing
	send     Sender
	schedule Scheduler
	metrics  interfaces.Metrics

	sem     *semaphore.Weighted
	holders *lru.Cache[types.Address, map[types.PeerID]struct{}]

	tasks  map[taskKey]*task
	byID   map[uint64]*task
	queue  []*task
	nextID uint64

	// cursor 对账游标，nil 表示下一轮从头开始
	cursor *types.Address
}

// New 创建复制管理器
func New(cfg Config, deps Deps) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Store == nil || deps.Routing == nil || deps.Send == nil || deps.Schedule == nil {
		return nil, ErrMissingDependency
	}
	holders, err := lru.New[types.Address, map[types.PeerID]struct{}](cfg.KnownHolders)
	if err != nil {
		return nil, err
	}
	return &Manager{
		cfg:      cfg,
		store:    deps.Store,
		routing:  deps.Routing,
		send:     deps.Send,
		schedule: deps.Schedule,
		metrics:  metrics.OrNop(deps.Metrics),
		sem:      semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		holders:  holders,
		tasks:    make(map[taskKey]*task),
		byID:     make(map[uint64]*task),
	}, nil
}

// ============================================================================
//                              触发
// ============================================================================

// OnStored 本地接受或更新了 addr 上的记录，推送给副本组
//
// 记录内容变了，之前确认过的持有者不再可信。
func (m *Manager) OnStored(addr types.Address) error {
	m.holders.Remove(addr)
	for _, t := range m.tasks {
		if t.key.addr == addr && t.state == stateInFlight {
			t.dirty = true
		}
	}
	return m.pushToGroup(addr)
}

// OnPeerAdded peer 加入路由表，把它新进入副本组的地址推送给它
func (m *Manager) OnPeerAdded(peer types.Peer) error {
	local := m.routing.LocalID()
	if peer.ID == local {
		return nil
	}
	for addr := range m.store.Addresses() {
		if !m.routing.InCloseGroup(addr, peer.ID, m.cfg.CloseGroupSize) {
			continue
		}
		if err := m.enqueue(addr, peer); err != nil {
			return err
		}
	}
	return nil
}

// OnPeerRemoved peer 离开路由表：不再视为任何记录的持有者，未发出的任务作废
func (m *Manager) OnPeerRemoved(id types.PeerID) {
	for _, addr := range m.holders.Keys() {
		if set, ok := m.holders.Peek(addr); ok {
			delete(set, id)
		}
	}

	kept := m.queue[:0]
	for _, t := range m.queue {
		if t.key.peer == id {
			m.finish(t)
			continue
		}
		kept = append(kept, t)
	}
	clear(m.queue[len(kept):])
	m.queue = kept

	for _, t := range m.tasks {
		if t.key.peer != id {
			continue
		}
		switch t.state {
		case stateWaiting:
			m.finish(t)
		case stateInFlight:
			t.orphaned = true
		}
	}
}

// Reconcile 执行一轮对账
//
// 从游标处取一批地址，把记录推给副本组中尚未确认持有的成员。
// 扫描到末尾后游标归零，下一轮从头开始。
func (m *Manager) Reconcile() error {
	batch := m.store.AddressesAfter(m.cursor, m.cfg.ReconcileBatch)
	if len(batch) < m.cfg.ReconcileBatch {
		m.cursor = nil
	} else {
		last := batch[len(batch)-1]
		m.cursor = &last
	}

	for _, addr := range batch {
		if err := m.pushToGroup(addr); err != nil {
			return err
		}
	}
	log.Debug("reconcile round", "addresses", len(batch), "queued", len(m.queue), "restart", m.cursor == nil)
	return nil
}

func (m *Manager) pushToGroup(addr types.Address) error {
	local := m.routing.LocalID()
	for _, peer := range m.routing.CloseGroup(addr, m.cfg.CloseGroupSize) {
		if peer.ID == local {
			continue
		}
		if err := m.enqueue(addr, peer); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
//                              任务
// ============================================================================

// enqueue 新建推送任务；已知持有者和重复任务被跳过
func (m *Manager) enqueue(addr types.Address, peer types.Peer) error {
	key := taskKey{addr: addr, peer: peer.ID}
	if _, ok := m.tasks[key]; ok {
		return nil
	}
	if m.isHolder(addr, peer.ID) || !m.store.Has(addr) {
		return nil
	}

	m.nextID++
	t := &task{
		id:      m.nextID,
		key:     key,
		peer:    peer.Clone(),
		state:   stateQueued,
		backoff: m.newBackOff(),
	}
	m.tasks[key] = t
	m.byID[t.id] = t
	m.store.Pin(addr)
	m.queue = append(m.queue, t)
	return m.pump()
}

// pump 按 FIFO 顺序启动排队的任务，直到在途数达到上限
func (m *Manager) pump() error {
	for len(m.queue) > 0 && m.sem.TryAcquire(1) {
		t := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		if err := m.start(t); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) start(t *task) error {
	rec, err := m.store.Get(t.key.addr)
	if err != nil {
		m.sem.Release(1)
		m.finish(t)
		if errors.Is(err, types.ErrNotFound) {
			return nil
		}
		return err
	}
	t.state = stateInFlight
	t.attempts++
	m.send(t.id, t.peer, rec)
	return nil
}

// OnSendResult 推送请求完成；err 为 nil 表示对方已接受
func (m *Manager) OnSendResult(taskID uint64, err error) error {
	t, ok := m.byID[taskID]
	if !ok || t.state != stateInFlight {
		return nil
	}
	m.sem.Release(1)

	switch {
	case t.orphaned:
		m.finish(t)
	case err == nil && t.dirty:
		t.dirty = false
		t.state = stateQueued
		t.backoff.Reset()
		m.queue = append(m.queue, t)
	case err == nil:
		m.addHolder(t.key.addr, t.key.peer)
		m.metrics.ReplicationSucceeded()
		m.finish(t)
	default:
		m.retry(t, err)
	}
	return m.pump()
}

func (m *Manager) retry(t *task, cause error) {
	wait := t.backoff.NextBackOff()
	if wait == backoff.Stop {
		log.Warn("replication gave up",
			"addr", t.key.addr.ShortString(),
			"peer", t.key.peer.ShortString(),
			"attempts", t.attempts,
			"err", cause)
		m.metrics.ReplicationFailed()
		m.finish(t)
		return
	}

	log.Debug("replication retry scheduled",
		"addr", t.key.addr.ShortString(),
		"peer", t.key.peer.ShortString(),
		"attempt", t.attempts,
		"wait", wait,
		"err", cause)
	m.metrics.ReplicationRetried()
	t.state = stateWaiting
	id := t.id
	m.schedule(wait, func() {
		if err := m.resume(id); err != nil {
			log.Error("replication retry failed", "err", err)
		}
	})
}

// resume 退避结束，任务重新排队；任务已作废时什么也不做
func (m *Manager) resume(id uint64) error {
	t, ok := m.byID[id]
	if !ok || t.state != stateWaiting {
		return nil
	}
	t.state = stateQueued
	m.queue = append(m.queue, t)
	return m.pump()
}

// finish 删除任务并解除对记录的固定
func (m *Manager) finish(t *task) {
	if _, ok := m.byID[t.id]; !ok {
		return
	}
	delete(m.byID, t.id)
	delete(m.tasks, t.key)
	m.store.Unpin(t.key.addr)
}

func (m *Manager) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.InitialBackoff
	b.MaxInterval = m.cfg.MaxBackoff
	b.RandomizationFactor = m.cfg.Jitter
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(m.cfg.MaxAttempts-1))
}

// ============================================================================
//                              已知持有者
// ============================================================================

func (m *Manager) isHolder(addr types.Address, id types.PeerID) bool {
	set, ok := m.holders.Get(addr)
	if !ok {
		return false
	}
	_, ok = set[id]
	return ok
}

func (m *Manager) addHolder(addr types.Address, id types.PeerID) {
	set, ok := m.holders.Get(addr)
	if !ok {
		set = make(map[types.PeerID]struct{})
		m.holders.Add(addr, set)
	}
	set[id] = struct{}{}
}

// KnownHolder peer 是否已确认持有 addr
func (m *Manager) KnownHolder(addr types.Address, id types.PeerID) bool {
	return m.isHolder(addr, id)
}

// Stats 任务统计
type Stats struct {
	InFlight int
	Queued   int
	Waiting  int
}

// Stats 返回当前任务统计
func (m *Manager) Stats() Stats {
	var s Stats
	for _, t := range m.tasks {
		switch t.state {
		case stateInFlight:
			s.InFlight++
		case stateQueued:
			s.Queued++
		case stateWaiting:
			s.Waiting++
		}
	}
	return s
}

// Pending 地址上是否还有推送任务
func (m *Manager) Pending(addr types.Address) bool {
	for key := range m.tasks {
		if key.addr == addr {
			return true
		}
	}
	return false
}
