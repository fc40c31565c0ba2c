package engine

import (
	"slices"

	"github.com/dep2p/go-recordnet/internal/routing"
	"github.com/dep2p/go-recordnet/pkg/types"
)

type peerState uint8

const (
	peerCandidate peerState = iota
	peerWaiting
	peerSucceeded
	peerFailed
)

// lookup 迭代式最近节点查找的状态，不做任何 IO
//
// 候选按离目标的距离排序。每轮向最近的 K 个未失败候选中尚未询问的
// 节点发请求，并发不超过 alpha；当最近的 K 个未失败候选都已应答时结束。
type lookup struct {
	target types.Address
	local  types.PeerID
	k      int
	alpha  int

	peers   []types.Peer
	state   map[types.PeerID]peerState
	waiting int
}

func newLookup(target types.Address, local types.PeerID, k, alpha int, seeds []types.Peer) *lookup {
	l := &lookup{
		target: target,
		local:  local,
		k:      k,
		alpha:  alpha,
		state:  make(map[types.PeerID]peerState),
	}
	l.add(seeds)
	return l
}

// add 加入新候选；本节点与已知节点被忽略
func (l *lookup) add(peers []types.Peer) {
	changed := false
	for _, p := range peers {
		if p.ID == l.local || p.ID.IsEmpty() {
			continue
		}
		if _, ok := l.state[p.ID]; ok {
			continue
		}
		l.state[p.ID] = peerCandidate
		l.peers = append(l.peers, p.Clone())
		changed = true
	}
	if changed {
		routing.SortByDistance(l.peers, l.target)
	}
}

// window 最近的 K 个未失败候选
func (l *lookup) window() []types.Peer {
	out := make([]types.Peer, 0, l.k)
	for _, p := range l.peers {
		if l.state[p.ID] == peerFailed {
			continue
		}
		out = append(out, p)
		if len(out) == l.k {
			break
		}
	}
	return out
}

// next 选出下一批要询问的节点并标记为等待中
func (l *lookup) next() []types.Peer {
	var out []types.Peer
	for _, p := range l.window() {
		if l.waiting >= l.alpha {
			break
		}
		if l.state[p.ID] == peerCandidate {
			l.state[p.ID] = peerWaiting
			l.waiting++
			out = append(out, p)
		}
	}
	return out
}

// succeeded id 应答，closer 是它给出的更近节点
func (l *lookup) succeeded(id types.PeerID, closer []types.Peer) {
	if l.state[id] == peerWaiting {
		l.waiting--
		l.state[id] = peerSucceeded
	}
	l.add(closer)
}

// failed id 请求失败或应答无效
func (l *lookup) failed(id types.PeerID) {
	switch l.state[id] {
	case peerWaiting:
		l.waiting--
		l.state[id] = peerFailed
	case peerCandidate:
		l.state[id] = peerFailed
	}
}

// done 最近的 K 个未失败候选都已应答
func (l *lookup) done() bool {
	for _, p := range l.window() {
		if l.state[p.ID] != peerSucceeded {
			return false
		}
	}
	return true
}

// closest 已应答节点中最近的 n 个
func (l *lookup) closest(n int) []types.Peer {
	out := make([]types.Peer, 0, n)
	for _, p := range l.peers {
		if l.state[p.ID] == peerSucceeded {
			out = append(out, p.Clone())
			if len(out) == n {
				break
			}
		}
	}
	return out
}

// contains id 是否在已应答的最近 n 个节点中
func (l *lookup) contains(id types.PeerID, n int) bool {
	return slices.ContainsFunc(l.closest(n), func(p types.Peer) bool { return p.ID == id })
}
