package memswarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-recordnet/internal/protocol/wire"
	"github.com/dep2p/go-recordnet/internal/swarm"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// Swarm 进程内网络上的一个节点
type Swarm struct {
	net    *Network
	local  types.Peer
	cfg    config
	events chan swarm.Event
	nextID atomic.Uint64

	mu      sync.Mutex
	conns   map[types.PeerID]types.Peer
	pending map[swarm.RequestID]context.CancelFunc

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ swarm.Swarm = (*Swarm)(nil)

func newSwarm(n *Network, local types.Peer, cfg config) *Swarm {
	return &Swarm{
		net:     n,
		local:   local,
		cfg:     cfg,
		events:  make(chan swarm.Event, cfg.eventBuffer),
		conns:   make(map[types.PeerID]types.Peer),
		pending: make(map[swarm.RequestID]context.CancelFunc),
		closed:  make(chan struct{}),
	}
}

// LocalPeer 实现 swarm.Swarm
func (s *Swarm) LocalPeer() types.Peer {
	return s.local.Clone()
}

// Events 实现 swarm.Swarm
func (s *Swarm) Events() <-chan swarm.Event {
	return s.events
}

// Dial 实现 swarm.Swarm
func (s *Swarm) Dial(ctx context.Context, addr ma.Multiaddr) (types.PeerID, error) {
	if s.isClosed() {
		return types.PeerID{}, swarm.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return types.PeerID{}, err
	}
	id, ok := s.net.resolve(addr)
	if !ok {
		return types.PeerID{}, fmt.Errorf("dial %s: %w", addr, types.ErrPeerUnreachable)
	}
	if err := s.net.Connect(s.local.ID, id); err != nil {
		return types.PeerID{}, fmt.Errorf("dial %s: %w", addr, err)
	}
	return id, nil
}

// SendRequest 实现 swarm.Swarm
func (s *Swarm) SendRequest(peer types.Peer, req *wire.Request) swarm.RequestID {
	id := swarm.RequestID(s.nextID.Add(1))
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.requestTimeout)

	s.mu.Lock()
	s.pending[id] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.pending, id)
			s.mu.Unlock()
			cancel()
		}()
		s.roundTrip(ctx, id, peer, req)
	}()
	return id
}

// Cancel 实现 swarm.Swarm
func (s *Swarm) Cancel(id swarm.RequestID) {
	s.mu.Lock()
	cancel, ok := s.pending[id]
	s.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close 实现 swarm.Swarm
//
// 关闭后对端收到 PeerDisconnected，进行中的请求不再产生事件。
func (s *Swarm) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)

		s.mu.Lock()
		for _, cancel := range s.pending {
			cancel()
		}
		peers := make([]types.PeerID, 0, len(s.conns))
		for id := range s.conns {
			peers = append(peers, id)
		}
		s.conns = make(map[types.PeerID]types.Peer)
		s.mu.Unlock()

		s.net.remove(s.local.ID)
		for _, id := range peers {
			if remote := s.net.lookup(id); remote != nil {
				remote.dropConn(s.local.ID)
			}
		}
	})
	s.wg.Wait()
	return nil
}

func (s *Swarm) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// ============================================================================
//                              请求往返
// ============================================================================

func (s *Swarm) roundTrip(ctx context.Context, id swarm.RequestID, peer types.Peer, req *wire.Request) {
	fail := func(err error) {
		s.emit(ctx, swarm.OutboundFailure{ID: id, Peer: peer, Err: err})
	}

	_, dst, err := s.net.reach(s.local.ID, peer.ID)
	if err != nil {
		fail(err)
		return
	}
	s.addConn(dst.local)
	dst.addConn(s.local)

	decoded, err := wire.UnmarshalRequest(wire.MarshalRequest(req))
	if err != nil {
		fail(err)
		return
	}

	ch := &channel{body: make(chan []byte, 1)}
	if !s.net.isStalled(s.local.ID, peer.ID) {
		delivered := dst.deliver(ctx, swarm.InboundRequest{From: s.local.Clone(), Request: decoded, Channel: ch})
		if !delivered && ctx.Err() == nil {
			fail(types.ErrPeerUnreachable)
			return
		}
	}

	select {
	case raw := <-ch.body:
		resp, err := wire.UnmarshalResponse(raw)
		if err != nil {
			fail(err)
			return
		}
		s.emit(ctx, swarm.OutboundResponse{ID: id, Peer: dst.local.Clone(), Response: resp})
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.emitAlways(swarm.OutboundFailure{ID: id, Peer: peer, Err: types.ErrTimeout})
		}
	case <-dst.closed:
		fail(types.ErrPeerUnreachable)
	case <-s.closed:
	}
}

// deliver 把入站请求投递到本节点的事件流
func (s *Swarm) deliver(ctx context.Context, ev swarm.InboundRequest) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.closed:
		return false
	case <-ctx.Done():
		return false
	}
}

// emit 投递事件；请求已取消或本节点已关闭时丢弃
func (s *Swarm) emit(ctx context.Context, ev swarm.Event) {
	if ctx.Err() != nil {
		return
	}
	select {
	case s.events <- ev:
	case <-s.closed:
	case <-ctx.Done():
	}
}

func (s *Swarm) emitAlways(ev swarm.Event) {
	select {
	case s.events <- ev:
	case <-s.closed:
	}
}

// ============================================================================
//                              连接表
// ============================================================================

func (s *Swarm) addConn(p types.Peer) {
	if s.isClosed() {
		return
	}
	s.mu.Lock()
	_, ok := s.conns[p.ID]
	if !ok {
		s.conns[p.ID] = p.Clone()
	}
	s.mu.Unlock()

	if !ok {
		log.Debug("connected", "local", s.local.ID.ShortString(), "peer", p.ID.ShortString())
		s.emitAlways(swarm.PeerConnected{Peer: p.Clone()})
	}
}

func (s *Swarm) dropConn(id types.PeerID) {
	s.mu.Lock()
	_, ok := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()

	if ok {
		log.Debug("disconnected", "local", s.local.ID.ShortString(), "peer", id.ShortString())
		s.emitAlways(swarm.PeerDisconnected{ID: id})
	}
}

// Connected 当前已连接的对端
func (s *Swarm) Connected() []types.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.PeerID, 0, len(s.conns))
	for id := range s.conns {
		out = append(out, id)
	}
	return out
}

// channel 入站请求的响应通道
type channel struct {
	once sync.Once
	body chan []byte
}

// Send 实现 swarm.ResponseChannel
func (c *channel) Send(resp *wire.Response) error {
	err := swarm.ErrAlreadyResponded
	c.once.Do(func() {
		c.body <- wire.MarshalResponse(resp)
		err = nil
	})
	return err
}
