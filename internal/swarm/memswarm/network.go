// Package memswarm 进程内的 Swarm 实现，用于测试
//
// 同一个 Network 上的 Swarm 互相可达。请求和响应都经过 wire 编解码，
// 和真实网络一样不共享内存。Block 让链路不可达（请求立即以
// ErrPeerUnreachable 失败），Stall 让请求石沉大海（以 ErrTimeout 失败）。
package memswarm

import (
	"fmt"
	"sync"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-recordnet/internal/util/logger"
	"github.com/dep2p/go-recordnet/pkg/types"
)

var log = logger.Logger("memswarm")

type link struct {
	from, to types.PeerID
}

// Network 进程内网络
type Network struct {
	mu      sync.Mutex
	swarms  map[types.PeerID]*Swarm
	byAddr  map[string]types.PeerID
	blocked map[link]bool
	stalled map[link]bool
	port    int
}

// NewNetwork 创建空网络
func NewNetwork() *Network {
	return &Network{
		swarms:  make(map[types.PeerID]*Swarm),
		byAddr:  make(map[string]types.PeerID),
		blocked: make(map[link]bool),
		stalled: make(map[link]bool),
		port:    10000,
	}
}

// NewSwarm 在网络上加入一个节点
func (n *Network) NewSwarm(id types.PeerID, opts ...Option) (*Swarm, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.swarms[id]; ok {
		return nil, fmt.Errorf("memswarm: peer %s already on network", id.ShortString())
	}
	n.port++
	addr, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/127.0.0.1/tcp/%d", n.port))
	if err != nil {
		return nil, err
	}

	s := newSwarm(n, types.Peer{ID: id, Addrs: []ma.Multiaddr{addr}}, cfg)
	n.swarms[id] = s
	n.byAddr[addr.String()] = id
	return s, nil
}

// Block 双向阻断 a 与 b，已建立的连接随之断开
func (n *Network) Block(a, b types.PeerID) {
	n.mu.Lock()
	n.blocked[link{a, b}] = true
	n.blocked[link{b, a}] = true
	sa, sb := n.swarms[a], n.swarms[b]
	n.mu.Unlock()

	if sa != nil && sb != nil {
		sa.dropConn(b)
		sb.dropConn(a)
	}
}

// Unblock 解除 Block
func (n *Network) Unblock(a, b types.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.blocked, link{a, b})
	delete(n.blocked, link{b, a})
}

// Stall 让 from 发往 to 的请求得不到任何响应，连接保持
func (n *Network) Stall(from, to types.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stalled[link{from, to}] = true
}

// Unstall 解除 Stall
func (n *Network) Unstall(from, to types.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.stalled, link{from, to})
}

// Connect 建立 a 与 b 之间的连接，双方都收到 PeerConnected
func (n *Network) Connect(a, b types.PeerID) error {
	sa, sb, err := n.reach(a, b)
	if err != nil {
		return err
	}
	sa.addConn(sb.local)
	sb.addConn(sa.local)
	return nil
}

// ConnectAll 两两连接网络上的所有节点
func (n *Network) ConnectAll() error {
	n.mu.Lock()
	ids := make([]types.PeerID, 0, len(n.swarms))
	for id := range n.swarms {
		ids = append(ids, id)
	}
	n.mu.Unlock()

	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			if err := n.Connect(ids[i], ids[j]); err != nil {
				return err
			}
		}
	}
	return nil
}

// reach 返回 from 与 to 两端；对端不存在、已关闭或链路被阻断时返回 ErrPeerUnreachable
func (n *Network) reach(from, to types.PeerID) (*Swarm, *Swarm, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	src, dst := n.swarms[from], n.swarms[to]
	if src == nil || dst == nil || dst.isClosed() || n.blocked[link{from, to}] {
		return nil, nil, types.ErrPeerUnreachable
	}
	return src, dst, nil
}

func (n *Network) isStalled(from, to types.PeerID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stalled[link{from, to}]
}

func (n *Network) resolve(addr ma.Multiaddr) (types.PeerID, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id, ok := n.byAddr[addr.String()]
	return id, ok
}

func (n *Network) remove(id types.PeerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if s, ok := n.swarms[id]; ok {
		for _, a := range s.local.Addrs {
			delete(n.byAddr, a.String())
		}
		delete(n.swarms, id)
	}
}

func (n *Network) lookup(id types.PeerID) *Swarm {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.swarms[id]
}
