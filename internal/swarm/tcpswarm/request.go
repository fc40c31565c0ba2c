package tcpswarm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/yamux"

	"github.com/dep2p/go-recordnet/internal/protocol/wire"
	"github.com/dep2p/go-recordnet/internal/swarm"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// SendRequest 实现 swarm.Swarm
//
// 没有到 peer 的会话时按 peer.Addrs 依次拨号。
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

func (s *Swarm) roundTrip(ctx context.Context, id swarm.RequestID, peer types.Peer, req *wire.Request) {
	fail := func(err error) {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.emitAlways(swarm.OutboundFailure{ID: id, Peer: peer, Err: types.ErrTimeout})
			return
		}
		s.emit(ctx, swarm.OutboundFailure{ID: id, Peer: peer, Err: err})
	}

	c, err := s.connect(ctx, peer)
	if err != nil {
		fail(err)
		return
	}

	st, err := c.sess.OpenStream()
	if err != nil {
		fail(fmt.Errorf("%w: open stream: %v", types.ErrPeerUnreachable, err))
		return
	}
	defer st.Close()

	// 取消或超时时让阻塞的读写立即返回
	stop := context.AfterFunc(ctx, func() { _ = st.SetDeadline(time.Now()) })
	defer stop()
	if dl, ok := ctx.Deadline(); ok {
		_ = st.SetDeadline(dl)
	}

	if err := wire.WriteRequest(st, req); err != nil {
		fail(streamErr(err))
		return
	}
	resp, err := wire.ReadResponse(st)
	if err != nil {
		fail(streamErr(err))
		return
	}
	s.emit(ctx, swarm.OutboundResponse{ID: id, Peer: c.remote.Clone(), Response: resp})
}

// connect 复用已有会话，否则拨号
func (s *Swarm) connect(ctx context.Context, peer types.Peer) (*conn, error) {
	if c := s.lookup(peer.ID); c != nil {
		return c, nil
	}
	if len(peer.Addrs) == 0 {
		return nil, fmt.Errorf("%w: no address for %s", types.ErrPeerUnreachable, peer.ID.ShortString())
	}

	// 同一对端的并发拨号合并为一次
	v, err, _ := s.dials.Do(peer.ID.String(), func() (any, error) {
		if c := s.lookup(peer.ID); c != nil {
			return c, nil
		}
		var lastErr error
		for _, addr := range peer.Addrs {
			c, err := s.dial(ctx, addr)
			if err != nil {
				lastErr = err
				continue
			}
			if c.remote.ID != peer.ID {
				lastErr = fmt.Errorf("%w: %s answered as %s", types.ErrPeerUnreachable, addr, c.remote.ID.ShortString())
				continue
			}
			return c, nil
		}
		return nil, lastErr
	})
	if err != nil {
		return nil, err
	}
	return v.(*conn), nil
}

// streamErr 把流错误归到错误类别；编解码错误原样返回
//
// 超时优先判断：即使超时发生在解码途中，也归为 ErrTimeout。
func streamErr(err error) error {
	switch {
	case isTimeout(err), errors.Is(err, yamux.ErrTimeout), errors.Is(err, os.ErrDeadlineExceeded):
		return fmt.Errorf("%w: %w", types.ErrTimeout, err)
	case errors.Is(err, wire.ErrMalformed), errors.Is(err, wire.ErrTooLarge), errors.Is(err, wire.ErrUnknownKind):
		return err
	default:
		return fmt.Errorf("%w: %w", types.ErrPeerUnreachable, err)
	}
}

// ============================================================================
//                              入站
// ============================================================================

func (s *Swarm) handleStream(c *conn, st *yamux.Stream) {
	defer s.wg.Done()
	defer st.Close()
	deadline := time.Now().Add(s.cfg.requestTimeout)
	_ = st.SetDeadline(deadline)

	req, err := wire.ReadRequest(st)
	if err != nil {
		log.Debug("bad inbound request", "peer", c.remote.ID.ShortString(), "err", err)
		return
	}

	ch := &channel{resp: make(chan *wire.Response, 1)}
	ev := swarm.InboundRequest{From: c.remote.Clone(), Request: req, Channel: ch}
	select {
	case s.events <- ev:
	case <-s.closed:
		return
	}

	// 响应由本协程写出，事件循环只做非阻塞投递
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case resp := <-ch.resp:
		if err := wire.WriteResponse(st, resp); err != nil {
			log.Debug("write response failed", "peer", c.remote.ID.ShortString(), "err", err)
		}
	case <-timer.C:
		log.Debug("inbound request not answered", "peer", c.remote.ID.ShortString())
	case <-s.closed:
	}
}

// channel 入站请求的响应通道
//
// Send 只把响应交给流所属的协程，从不阻塞在网络写上。
type channel struct {
	once sync.Once
	resp chan *wire.Response
}

// Send 实现 swarm.ResponseChannel
func (c *channel) Send(resp *wire.Response) error {
	err := swarm.ErrAlreadyResponded
	c.once.Do(func() {
		c.resp <- resp
		err = nil
	})
	return err
}
