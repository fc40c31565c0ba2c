// Package routing 实现路由表视图
//
// 256 个 K 桶按与本节点的公共前缀长度划分，满桶时新节点进入替换缓存，
// 节点离开时从缓存提升。Table 只在引擎事件循环里使用，不加锁。
package routing

import (
	"crypto/rand"
	"slices"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-recordnet/internal/util/logger"
	"github.com/dep2p/go-recordnet/pkg/types"
)

var log = logger.Logger("routing")

const (
	// KeyBits 地址空间位数
	KeyBits = types.AddressLen * 8

	// DefaultBucketSize K 桶大小
	DefaultBucketSize = 20
)

// Table 路由表
type Table struct {
	local      types.PeerID
	bucketSize int
	buckets    [KeyBits]*bucket
	size       int
	clock      clock.Clock
}

// Option 路由表选项
type Option func(*Table)

// WithBucketSize 设置桶大小
func WithBucketSize(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.bucketSize = n
		}
	}
}

// WithClock 注入时钟
func WithClock(c clock.Clock) Option {
	return func(t *Table) {
		t.clock = c
	}
}

// New 创建路由表
func New(local types.PeerID, opts ...Option) *Table {
	t := &Table{
		local:      local,
		bucketSize: DefaultBucketSize,
		clock:      clock.New(),
	}
	for _, o := range opts {
		o(t)
	}
	now := t.clock.Now()
	for i := range t.buckets {
		t.buckets[i] = &bucket{lastRefresh: now}
	}
	return t
}

// LocalID 本节点 ID
func (t *Table) LocalID() types.PeerID {
	return t.local
}

// bucketFor 目标所在桶；与本节点相同的 ID 没有桶
func (t *Table) bucketFor(id types.PeerID) *bucket {
	cpl := types.CommonPrefixLen(t.local.Address(), id.Address())
	if cpl >= KeyBits {
		return nil
	}
	return t.buckets[cpl]
}

// OnPeerSeen 记录一次与 peer 的成功交互
//
// 返回 true 表示 peer 是新加入路由表的节点（不含进入替换缓存）。
func (t *Table) OnPeerSeen(p types.Peer) bool {
	b := t.bucketFor(p.ID)
	if b == nil || p.ID.IsEmpty() {
		return false
	}
	p = p.Clone()
	p.LastSeen = t.clock.Now()

	added := b.upsert(p, t.bucketSize)
	if added {
		t.size++
		log.Debug("peer added", "peer", p.ID.ShortString(), "size", t.size)
	}
	return added
}

// OnPeerLost 移除节点
//
// 若有替换节点被提升，一并返回，调用方应把它当作新加入的节点处理。
func (t *Table) OnPeerLost(id types.PeerID) (removed bool, promoted *types.Peer) {
	b := t.bucketFor(id)
	if b == nil {
		return false, nil
	}
	removed, promoted = b.remove(id)
	if removed {
		if promoted == nil {
			t.size--
		}
		log.Debug("peer removed", "peer", id.ShortString(), "size", t.size)
	}
	return removed, promoted
}

// Get 查找节点
func (t *Table) Get(id types.PeerID) (types.Peer, bool) {
	b := t.bucketFor(id)
	if b == nil {
		return types.Peer{}, false
	}
	if i := b.indexOf(id); i >= 0 {
		return b.peers[i].Clone(), true
	}
	return types.Peer{}, false
}

// Contains 节点是否在路由表中
func (t *Table) Contains(id types.PeerID) bool {
	_, ok := t.Get(id)
	return ok
}

// Size 节点总数
func (t *Table) Size() int {
	return t.size
}

// All 全部节点
func (t *Table) All() []types.Peer {
	out := make([]types.Peer, 0, t.size)
	for _, b := range t.buckets {
		for _, p := range b.peers {
			out = append(out, p.Clone())
		}
	}
	return out
}

// ClosestPeers 离 addr 最近的至多 count 个节点
//
// 按距离升序，距离相同按 ID 升序；没有重复。includeSelf 为 true 时
// 本节点也参与排序（Addrs 为空）。
func (t *Table) ClosestPeers(addr types.Address, count int, includeSelf bool) []types.Peer {
	if count <= 0 {
		return nil
	}
	candidates := t.All()
	if includeSelf {
		candidates = append(candidates, types.Peer{ID: t.local, LastSeen: t.clock.Now()})
	}
	SortByDistance(candidates, addr)
	if len(candidates) > count {
		candidates = candidates[:count]
	}
	return candidates
}

// CloseGroup addr 的副本组（含本节点）
func (t *Table) CloseGroup(addr types.Address, k int) []types.Peer {
	return t.ClosestPeers(addr, k, true)
}

// InCloseGroup id 是否属于 addr 的副本组（按当前路由表与本节点计算）
//
// 只数比 id 更近的节点，数到 k 即停；不排序，不复制路由表。
func (t *Table) InCloseGroup(addr types.Address, id types.PeerID, k int) bool {
	if k <= 0 || (id != t.local && !t.Contains(id)) {
		return false
	}
	self := id.Address()
	nearer := func(other types.PeerID) bool {
		if c := types.CompareDistance(other.Address(), self, addr); c != 0 {
			return c < 0
		}
		return other.Less(id)
	}

	closer := 0
	if id != t.local && nearer(t.local) {
		closer++
	}
	for _, b := range t.buckets {
		for _, p := range b.peers {
			if p.ID != id && nearer(p.ID) {
				closer++
			}
		}
		if closer >= k {
			return false
		}
	}
	return closer < k
}

// SortByDistance 按离 target 的距离升序排序，距离相同按 ID
func SortByDistance(peers []types.Peer, target types.Address) {
	slices.SortFunc(peers, func(a, b types.Peer) int {
		if c := types.CompareDistance(a.ID.Address(), b.ID.Address(), target); c != 0 {
			return c
		}
		switch {
		case a.ID.Less(b.ID):
			return -1
		case b.ID.Less(a.ID):
			return 1
		}
		return 0
	})
}

// RemoveStale 移除超过 maxAge 未见的节点，返回被移除的 ID
func (t *Table) RemoveStale(maxAge time.Duration) []types.PeerID {
	cutoff := t.clock.Now().Add(-maxAge)
	var stale []types.PeerID
	for _, b := range t.buckets {
		for _, p := range b.peers {
			if p.LastSeen.Before(cutoff) {
				stale = append(stale, p.ID)
			}
		}
	}
	for _, id := range stale {
		t.OnPeerLost(id)
	}
	return stale
}

// ============================================================================
//                              刷新
// ============================================================================

// BucketsNeedingRefresh 超过 maxAge 未刷新且在本节点已知范围内的桶
//
// 公共前缀长度超过当前最深非空桶的桶不可能有节点，不需要刷新。
func (t *Table) BucketsNeedingRefresh(maxAge time.Duration) []int {
	deepest := -1
	for i, b := range t.buckets {
		if len(b.peers) > 0 {
			deepest = i
		}
	}
	cutoff := t.clock.Now().Add(-maxAge)
	var out []int
	for i := 0; i <= deepest+1 && i < KeyBits; i++ {
		if t.buckets[i].lastRefresh.Before(cutoff) {
			out = append(out, i)
		}
	}
	return out
}

// MarkRefreshed 记录桶刷新时间
func (t *Table) MarkRefreshed(cpl int) {
	if cpl >= 0 && cpl < KeyBits {
		t.buckets[cpl].lastRefresh = t.clock.Now()
	}
}

// RandomAddressInBucket 与本节点公共前缀恰为 cpl 位的随机地址
func (t *Table) RandomAddressInBucket(cpl int) types.Address {
	var a types.Address
	_, _ = rand.Read(a[:])
	local := t.local.Address()

	// 前 cpl 位与本节点相同，第 cpl 位相反
	for i := 0; i < cpl; i++ {
		setBit(&a, i, bit(local, i))
	}
	if cpl < KeyBits {
		setBit(&a, cpl, 1-bit(local, cpl))
	}
	return a
}

func bit(a types.Address, i int) byte {
	return (a[i/8] >> (7 - uint(i%8))) & 1
}

func setBit(a *types.Address, i int, v byte) {
	mask := byte(1) << (7 - uint(i%8))
	if v == 1 {
		a[i/8] |= mask
	} else {
		a[i/8] &^= mask
	}
}
