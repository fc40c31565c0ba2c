package routing

import (
	"slices"
	"time"

	"github.com/dep2p/go-recordnet/pkg/types"
)

// bucket K 桶，最近活跃的节点在前
type bucket struct {
	peers        []types.Peer
	replacements []types.Peer
	lastRefresh  time.Time
}

func (b *bucket) indexOf(id types.PeerID) int {
	return slices.IndexFunc(b.peers, func(p types.Peer) bool { return p.ID == id })
}

func (b *bucket) replacementIndex(id types.PeerID) int {
	return slices.IndexFunc(b.replacements, func(p types.Peer) bool { return p.ID == id })
}

// upsert 已存在则刷新并移到最前；桶满时进入替换缓存。新加入桶时返回 true
func (b *bucket) upsert(p types.Peer, size int) bool {
	if i := b.indexOf(p.ID); i >= 0 {
		if len(p.Addrs) == 0 {
			p.Addrs = b.peers[i].Addrs
		}
		b.peers = slices.Delete(b.peers, i, i+1)
		b.peers = slices.Insert(b.peers, 0, p)
		return false
	}

	if len(b.peers) < size {
		if i := b.replacementIndex(p.ID); i >= 0 {
			b.replacements = slices.Delete(b.replacements, i, i+1)
		}
		b.peers = slices.Insert(b.peers, 0, p)
		return true
	}

	if i := b.replacementIndex(p.ID); i >= 0 {
		b.replacements = slices.Delete(b.replacements, i, i+1)
	}
	b.replacements = slices.Insert(b.replacements, 0, p)
	if len(b.replacements) > size {
		b.replacements = b.replacements[:size]
	}
	return false
}

// remove 移除节点，必要时从替换缓存提升最新的一个
func (b *bucket) remove(id types.PeerID) (removed bool, promoted *types.Peer) {
	if i := b.indexOf(id); i >= 0 {
		b.peers = slices.Delete(b.peers, i, i+1)
		if len(b.replacements) > 0 {
			next := b.replacements[0]
			b.replacements = b.replacements[1:]
			b.peers = append(b.peers, next)
			promoted = &next
		}
		return true, promoted
	}
	if i := b.replacementIndex(id); i >= 0 {
		b.replacements = slices.Delete(b.replacements, i, i+1)
	}
	return false, nil
}
