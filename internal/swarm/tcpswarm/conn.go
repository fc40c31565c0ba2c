package tcpswarm

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/yamux"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/dep2p/go-recordnet/internal/protocol/wire"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// conn 与一个对端的 yamux 会话
type conn struct {
	remote   types.Peer
	sess     *yamux.Session
	outbound bool
}

// dialer 发起这条连接的一方
func (c *conn) dialer(local types.PeerID) types.PeerID {
	if c.outbound {
		return local
	}
	return c.remote.ID
}

// countingConn 统计经过连接的字节数
type countingConn struct {
	manet.Conn
	bw BandwidthReporter
}

func (c *countingConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.bw.AddBandwidth("in", n)
	}
	return n, err
}

func (c *countingConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.bw.AddBandwidth("out", n)
	}
	return n, err
}

// upgrade 交换 hello 并在连接上建立 yamux 会话
//
// 双方都先写后读；hello 很小，不会因为 TCP 缓冲而互相阻塞。
func (s *Swarm) upgrade(ctx context.Context, c manet.Conn, outbound bool) (*conn, error) {
	deadline := time.Now().Add(s.cfg.handshakeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := c.SetDeadline(deadline); err != nil {
		return nil, err
	}
	if err := wire.WriteHello(c, s.LocalPeer()); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}
	remote, err := wire.ReadHello(c)
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if err := c.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}

	switch {
	case remote.ID.IsEmpty():
		return nil, fmt.Errorf("%w: empty peer id", wire.ErrMalformed)
	case remote.ID == s.id:
		return nil, errSelfDial
	}
	if len(remote.Addrs) == 0 && outbound {
		remote.Addrs = append(remote.Addrs, c.RemoteMultiaddr())
	}

	var rwc manet.Conn = c
	if s.cfg.bandwidth != nil {
		rwc = &countingConn{Conn: c, bw: s.cfg.bandwidth}
	}
	var sess *yamux.Session
	if outbound {
		sess, err = yamux.Client(rwc, s.cfg.yamux)
	} else {
		sess, err = yamux.Server(rwc, s.cfg.yamux)
	}
	if err != nil {
		return nil, fmt.Errorf("yamux session: %w", err)
	}
	return &conn{remote: remote, sess: sess, outbound: outbound}, nil
}
