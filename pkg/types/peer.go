package types

import (
	"time"

	ma "github.com/multiformats/go-multiaddr"
)

// Peer 路由表中的一个节点
type Peer struct {
	ID       PeerID
	Addrs    []ma.Multiaddr
	LastSeen time.Time
}

// Clone 复制地址切片，避免与路由表共享底层数组
func (p Peer) Clone() Peer {
	out := p
	if p.Addrs != nil {
		out.Addrs = append([]ma.Multiaddr(nil), p.Addrs...)
	}
	return out
}

// PeerIDs 提取 ID 列表
func PeerIDs(peers []Peer) []PeerID {
	ids := make([]PeerID, len(peers))
	for i, p := range peers {
		ids[i] = p.ID
	}
	return ids
}
