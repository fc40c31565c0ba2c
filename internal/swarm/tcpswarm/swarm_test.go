package tcpswarm

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/yamux"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-recordnet/internal/protocol/wire"
	"github.com/dep2p/go-recordnet/internal/swarm"
	"github.com/dep2p/go-recordnet/pkg/types"
)

func peerID(b byte) types.PeerID {
	var id types.PeerID
	id[0] = b
	return id
}

func loopback(t *testing.T) ma.Multiaddr {
	t.Helper()
	a, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/0")
	require.NoError(t, err)
	return a
}

func newSwarm(t *testing.T, b byte, opts ...Option) *Swarm {
	t.Helper()
	opts = append([]Option{WithListenAddrs(loopback(t))}, opts...)
	s, err := New(peerID(b), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// next 等待下一个 T 类型的事件
func next[T swarm.Event](t *testing.T, s *Swarm) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-s.Events():
			if v, ok := ev.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

// answer 回答 s 收到的下一个请求
func answer(t *testing.T, s *Swarm, respond func(*wire.Request) *wire.Response) {
	t.Helper()
	in := next[swarm.InboundRequest](t, s)
	require.NoError(t, in.Channel.Send(respond(in.Request)))
}

type counter struct{ in, out atomic.Int64 }

func (c *counter) AddBandwidth(direction string, n int) {
	if direction == "in" {
		c.in.Add(int64(n))
	} else {
		c.out.Add(int64(n))
	}
}

// TestSwarm_DialAndRequest 测试拨号、hello 交换与一次请求往返
func TestSwarm_DialAndRequest(t *testing.T) {
	bw := &counter{}
	a := newSwarm(t, 1, WithBandwidthReporter(bw))
	b := newSwarm(t, 2)

	id, err := a.Dial(context.Background(), b.LocalPeer().Addrs[0])
	require.NoError(t, err)
	assert.Equal(t, b.LocalPeer().ID, id)

	connected := next[swarm.PeerConnected](t, a)
	assert.Equal(t, b.LocalPeer().ID, connected.Peer.ID)
	inbound := next[swarm.PeerConnected](t, b)
	assert.Equal(t, a.LocalPeer().ID, inbound.Peer.ID)
	require.NotEmpty(t, inbound.Peer.Addrs, "hello carries listen addrs")

	addr := types.ChunkAddress([]byte("x"))
	reqID := a.SendRequest(connected.Peer, &wire.Request{Kind: wire.KindGetRecord, Address: addr})
	go answer(t, b, func(r *wire.Request) *wire.Response {
		return wire.NotFoundResponse(r.Kind, []types.Peer{{ID: peerID(9)}})
	})

	resp := next[swarm.OutboundResponse](t, a)
	assert.Equal(t, reqID, resp.ID)
	assert.Equal(t, wire.ResultNotFound, resp.Response.Result)
	require.Len(t, resp.Response.Peers, 1)
	assert.Equal(t, peerID(9), resp.Response.Peers[0].ID)

	assert.Positive(t, bw.in.Load())
	assert.Positive(t, bw.out.Load())
}

// TestSwarm_DialOnDemand 测试没有连接时按地址拨号
func TestSwarm_DialOnDemand(t *testing.T) {
	a := newSwarm(t, 1)
	b := newSwarm(t, 2)

	a.SendRequest(b.LocalPeer(), &wire.Request{Kind: wire.KindGetClosestPeers})
	go answer(t, b, func(r *wire.Request) *wire.Response { return wire.OkResponse(r.Kind) })

	resp := next[swarm.OutboundResponse](t, a)
	assert.Equal(t, wire.ResultOk, resp.Response.Result)
	assert.Contains(t, a.Connected(), b.LocalPeer().ID)
}

// TestSwarm_Timeout 测试对端不响应时以超时失败
func TestSwarm_Timeout(t *testing.T) {
	a := newSwarm(t, 1, WithRequestTimeout(100*time.Millisecond))
	b := newSwarm(t, 2)

	a.SendRequest(b.LocalPeer(), &wire.Request{Kind: wire.KindGetRecord})
	next[swarm.InboundRequest](t, b)

	fail := next[swarm.OutboundFailure](t, a)
	assert.ErrorIs(t, fail.Err, types.ErrTimeout)
}

// TestSwarm_Cancel 测试取消的请求不产生结果事件
func TestSwarm_Cancel(t *testing.T) {
	a := newSwarm(t, 1)
	b := newSwarm(t, 2)

	id := a.SendRequest(b.LocalPeer(), &wire.Request{Kind: wire.KindGetRecord})
	in := next[swarm.InboundRequest](t, b)
	a.Cancel(id)
	time.Sleep(50 * time.Millisecond)
	_ = in.Channel.Send(wire.OkResponse(wire.KindGetRecord))

	select {
	case ev := <-a.Events():
		switch ev.(type) {
		case swarm.OutboundResponse, swarm.OutboundFailure:
			t.Fatalf("unexpected event %T", ev)
		}
	case <-time.After(200 * time.Millisecond):
	}
}

// TestSwarm_Unreachable 测试拨不通的地址
func TestSwarm_Unreachable(t *testing.T) {
	a := newSwarm(t, 1)
	b := newSwarm(t, 2)
	gone := b.LocalPeer()
	require.NoError(t, b.Close())

	a.SendRequest(gone, &wire.Request{Kind: wire.KindGetRecord})
	fail := next[swarm.OutboundFailure](t, a)
	assert.ErrorIs(t, fail.Err, types.ErrPeerUnreachable)

	a.SendRequest(types.Peer{ID: peerID(7)}, &wire.Request{Kind: wire.KindGetRecord})
	fail = next[swarm.OutboundFailure](t, a)
	assert.ErrorIs(t, fail.Err, types.ErrPeerUnreachable)
}

// TestSwarm_CloseDisconnects 测试对端关闭后收到断开事件
func TestSwarm_CloseDisconnects(t *testing.T) {
	a := newSwarm(t, 1)
	b := newSwarm(t, 2)

	_, err := a.Dial(context.Background(), b.LocalPeer().Addrs[0])
	require.NoError(t, err)
	next[swarm.PeerConnected](t, a)

	require.NoError(t, b.Close())
	gone := next[swarm.PeerDisconnected](t, a)
	assert.Equal(t, b.LocalPeer().ID, gone.ID)
	assert.Empty(t, a.Connected())

	_, err = b.Dial(context.Background(), a.LocalPeer().Addrs[0])
	assert.ErrorIs(t, err, swarm.ErrClosed)
}

// TestSwarm_SelfDial 测试拨号到自己被拒绝
func TestSwarm_SelfDial(t *testing.T) {
	a := newSwarm(t, 1)
	_, err := a.Dial(context.Background(), a.LocalPeer().Addrs[0])
	assert.ErrorIs(t, err, types.ErrPeerUnreachable)
	assert.Empty(t, a.Connected())
}

// TestSwarm_SimultaneousDial 测试双方同时拨号后只保留一条连接
func TestSwarm_SimultaneousDial(t *testing.T) {
	a := newSwarm(t, 1)
	b := newSwarm(t, 2)

	errs := make(chan error, 2)
	go func() {
		_, err := a.Dial(context.Background(), b.LocalPeer().Addrs[0])
		errs <- err
	}()
	go func() {
		_, err := b.Dial(context.Background(), a.LocalPeer().Addrs[0])
		errs <- err
	}()
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	next[swarm.PeerConnected](t, a)
	a.SendRequest(b.LocalPeer(), &wire.Request{Kind: wire.KindGetClosestPeers})
	go answer(t, b, func(r *wire.Request) *wire.Response { return wire.OkResponse(r.Kind) })
	resp := next[swarm.OutboundResponse](t, a)
	assert.Equal(t, wire.ResultOk, resp.Response.Result)
	assert.Len(t, a.Connected(), 1)
}

// deadlineReader 模拟读超时的流
type deadlineReader struct{}

func (deadlineReader) Read([]byte) (int, error) { return 0, os.ErrDeadlineExceeded }

// TestStreamErr_Classification 测试流错误归类：超时、格式错误与不可达
func TestStreamErr_Classification(t *testing.T) {
	_, err := wire.ReadResponse(deadlineReader{})
	classified := streamErr(err)
	assert.ErrorIs(t, classified, types.ErrTimeout)
	assert.NotErrorIs(t, classified, wire.ErrMalformed)

	assert.ErrorIs(t, streamErr(yamux.ErrTimeout), types.ErrTimeout)

	_, err = wire.ReadFrame(bytes.NewReader(bytes.Repeat([]byte{0xff}, 10)))
	assert.ErrorIs(t, streamErr(err), wire.ErrMalformed)

	assert.ErrorIs(t, streamErr(io.EOF), types.ErrPeerUnreachable)
	assert.ErrorIs(t, streamErr(yamux.ErrConnectionReset), types.ErrPeerUnreachable)
}

// stalledPeer 完成握手、发出请求后不再读取的对端
func stalledPeer(t *testing.T, s *Swarm, req *wire.Request) {
	t.Helper()
	c, err := manet.Dial(s.LocalPeer().Addrs[0])
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, wire.WriteHello(c, types.Peer{ID: peerID(9)}))
	_, err = wire.ReadHello(c)
	require.NoError(t, err)

	cfg := yamux.DefaultConfig()
	cfg.LogOutput = io.Discard
	sess, err := yamux.Client(c, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Close() })

	st, err := sess.OpenStream()
	require.NoError(t, err)
	require.NoError(t, wire.WriteRequest(st, req))
}

// TestSwarm_SendDoesNotBlockOnSlowReader 测试对端不读取时响应通道的 Send 立即返回
func TestSwarm_SendDoesNotBlockOnSlowReader(t *testing.T) {
	s := newSwarm(t, 1, WithRequestTimeout(time.Second))
	stalledPeer(t, s, &wire.Request{Kind: wire.KindGetRecord})

	in := next[swarm.InboundRequest](t, s)
	big := types.NewChunk(bytes.Repeat([]byte{7}, 4<<20))
	resp := &wire.Response{Kind: wire.KindGetRecord, Result: wire.ResultOk, Record: big}

	done := make(chan error, 1)
	go func() { done <- in.Channel.Send(resp) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Send blocked on a peer that never reads")
	}
	assert.ErrorIs(t, in.Channel.Send(resp), swarm.ErrAlreadyResponded)

	// 其他对端的请求照常处理
	other := newSwarm(t, 2)
	other.SendRequest(s.LocalPeer(), &wire.Request{Kind: wire.KindGetClosestPeers})
	go answer(t, s, func(r *wire.Request) *wire.Response { return wire.OkResponse(r.Kind) })
	got := next[swarm.OutboundResponse](t, other)
	assert.Equal(t, wire.ResultOk, got.Response.Result)
}
