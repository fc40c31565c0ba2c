// Package tcpswarm 基于 TCP 与 yamux 的 Swarm 实现
//
// 每个对端一个 yamux 会话。连接建立后双方交换 hello（PeerID 与监听地址），
// 每个请求占用一个流：请求帧、响应帧，然后关闭。连接不加密，
// 安全握手由外部协作者负责。
//
// 双方同时拨号产生两条连接时，保留 PeerID 较小一方发起的那条。
package tcpswarm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-recordnet/internal/swarm"
	"github.com/dep2p/go-recordnet/internal/util/logger"
	"github.com/dep2p/go-recordnet/pkg/types"
)

var log = logger.Logger("tcpswarm")

var errSelfDial = errors.New("tcpswarm: dialed self")

// Swarm TCP 网络
type Swarm struct {
	id        types.PeerID
	cfg       config
	listeners []manet.Listener
	addrs     []ma.Multiaddr
	events    chan swarm.Event
	nextID    atomic.Uint64
	dials     singleflight.Group

	mu      sync.Mutex
	conns   map[types.PeerID]*conn
	pending map[swarm.RequestID]context.CancelFunc

	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ swarm.Swarm = (*Swarm)(nil)

// New 创建 Swarm 并开始监听
func New(local types.PeerID, opts ...Option) (*Swarm, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	s := &Swarm{
		id:      local,
		cfg:     cfg,
		events:  make(chan swarm.Event, cfg.eventBuffer),
		conns:   make(map[types.PeerID]*conn),
		pending: make(map[swarm.RequestID]context.CancelFunc),
		closed:  make(chan struct{}),
	}

	for _, addr := range cfg.listen {
		l, err := manet.Listen(addr)
		if err != nil {
			for _, prev := range s.listeners {
				_ = prev.Close()
			}
			return nil, fmt.Errorf("listen %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, l)
		s.addrs = append(s.addrs, l.Multiaddr())
	}
	for _, l := range s.listeners {
		s.wg.Add(1)
		go s.acceptLoop(l)
	}
	log.Info("swarm started", "peer", local.ShortString(), "addrs", s.addrs)
	return s, nil
}

// LocalPeer 实现 swarm.Swarm
func (s *Swarm) LocalPeer() types.Peer {
	return types.Peer{ID: s.id, Addrs: append([]ma.Multiaddr(nil), s.addrs...)}
}

// Events 实现 swarm.Swarm
func (s *Swarm) Events() <-chan swarm.Event {
	return s.events
}

// Dial 实现 swarm.Swarm
func (s *Swarm) Dial(ctx context.Context, addr ma.Multiaddr) (types.PeerID, error) {
	c, err := s.dial(ctx, addr)
	if err != nil {
		return types.PeerID{}, err
	}
	return c.remote.ID, nil
}

func (s *Swarm) dial(ctx context.Context, addr ma.Multiaddr) (*conn, error) {
	if s.isClosed() {
		return nil, swarm.ErrClosed
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.dialTimeout)
	defer cancel()

	var d manet.Dialer
	raw, err := d.DialContext(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %v", addr, types.ErrPeerUnreachable, err)
	}
	c, err := s.upgrade(ctx, raw, true)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("dial %s: %w: %v", addr, types.ErrPeerUnreachable, err)
	}
	return s.addConn(c), nil
}

func (s *Swarm) acceptLoop(l manet.Listener) {
	defer s.wg.Done()
	for {
		raw, err := l.Accept()
		if err != nil {
			if !s.isClosed() {
				log.Warn("accept failed", "addr", l.Multiaddr(), "err", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c, err := s.upgrade(context.Background(), raw, false)
			if err != nil {
				log.Debug("inbound handshake failed", "remote", raw.RemoteMultiaddr(), "err", err)
				_ = raw.Close()
				return
			}
			s.addConn(c)
		}()
	}
}

// ============================================================================
//                              连接表
// ============================================================================

// addConn 登记新会话并返回对端当前使用的会话
func (s *Swarm) addConn(c *conn) *conn {
	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		_ = c.sess.Close()
		return c
	}
	existing := s.conns[c.remote.ID]
	if existing != nil && !existing.sess.IsClosed() {
		keep := existing
		drop := c
		if c.dialer(s.id).Less(existing.dialer(s.id)) {
			keep, drop = c, existing
			s.conns[c.remote.ID] = c
		}
		s.mu.Unlock()
		_ = drop.sess.Close()
		if keep == c {
			s.startServing(c)
		}
		return keep
	}
	s.conns[c.remote.ID] = c
	s.mu.Unlock()

	log.Debug("connected", "local", s.id.ShortString(), "peer", c.remote.ID.ShortString(), "outbound", c.outbound)
	s.startServing(c)
	s.emitAlways(swarm.PeerConnected{Peer: c.remote.Clone()})
	return c
}

func (s *Swarm) startServing(c *conn) {
	s.wg.Add(1)
	go s.serve(c)
}

// serve 接受对端打开的流；会话结束时摘除连接
func (s *Swarm) serve(c *conn) {
	defer s.wg.Done()
	for {
		st, err := c.sess.AcceptStream()
		if err != nil {
			break
		}
		s.wg.Add(1)
		go s.handleStream(c, st)
	}

	s.mu.Lock()
	current := s.conns[c.remote.ID] == c
	if current {
		delete(s.conns, c.remote.ID)
	}
	s.mu.Unlock()

	if current && !s.isClosed() {
		log.Debug("disconnected", "local", s.id.ShortString(), "peer", c.remote.ID.ShortString())
		s.emitAlways(swarm.PeerDisconnected{ID: c.remote.ID})
	}
}

func (s *Swarm) lookup(id types.PeerID) *conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.conns[id]
	if c == nil || c.sess.IsClosed() {
		return nil
	}
	return c
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

// Close 实现 swarm.Swarm
func (s *Swarm) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		for _, l := range s.listeners {
			err = multierr.Append(err, l.Close())
		}

		s.mu.Lock()
		for _, cancel := range s.pending {
			cancel()
		}
		conns := make([]*conn, 0, len(s.conns))
		for _, c := range s.conns {
			conns = append(conns, c)
		}
		s.mu.Unlock()

		for _, c := range conns {
			err = multierr.Append(err, c.sess.Close())
		}
	})
	s.wg.Wait()
	return err
}

func (s *Swarm) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

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

// isTimeout 网络层超时
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
