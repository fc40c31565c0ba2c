// Package swarm 定义网络引擎与底层 P2P 网络库之间的边界
//
// 连接建立、握手和多路复用都在 Swarm 实现里完成，引擎只消费事件、
// 发出不阻塞的请求。memswarm 是测试用的进程内实现，tcpswarm 是基于
// TCP + yamux 的参考实现。
package swarm

import (
	"context"
	"errors"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-recordnet/internal/protocol/wire"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// RequestID 出站请求标识，在单个 Swarm 内唯一
type RequestID uint64

// ErrClosed Swarm 已关闭
var ErrClosed = errors.New("swarm: closed")

// ErrAlreadyResponded 同一入站请求响应了两次
var ErrAlreadyResponded = errors.New("swarm: already responded")

// Swarm 底层网络
type Swarm interface {
	// LocalPeer 本节点 ID 与监听地址
	LocalPeer() types.Peer

	// Events 事件流；Close 之后不再产生新事件
	Events() <-chan Event

	// Dial 建立到 addr 的连接，成功后产生 PeerConnected 事件
	Dial(ctx context.Context, addr ma.Multiaddr) (types.PeerID, error)

	// SendRequest 发送请求，立即返回；结果以 OutboundResponse 或
	// OutboundFailure 事件送回，每个请求恰好一个
	SendRequest(peer types.Peer, req *wire.Request) RequestID

	// Cancel 尽力取消请求；被取消的请求不再产生事件
	Cancel(id RequestID)

	Close() error
}

// Event Swarm 事件
type Event interface {
	isEvent()
}

// PeerConnected 与对端建立了连接
type PeerConnected struct {
	Peer types.Peer
}

// PeerDisconnected 与对端的最后一个连接断开
type PeerDisconnected struct {
	ID types.PeerID
}

// InboundRequest 收到请求，必须通过 Channel 响应一次
type InboundRequest struct {
	From    types.Peer
	Request *wire.Request
	Channel ResponseChannel
}

// OutboundResponse 出站请求收到响应
type OutboundResponse struct {
	ID       RequestID
	Peer     types.Peer
	Response *wire.Response
}

// OutboundFailure 出站请求失败
//
// Err 为 types.ErrTimeout、types.ErrPeerUnreachable 或其他协议错误。
type OutboundFailure struct {
	ID   RequestID
	Peer types.Peer
	Err  error
}

func (PeerConnected) isEvent()    {}
func (PeerDisconnected) isEvent() {}
func (InboundRequest) isEvent()   {}
func (OutboundResponse) isEvent() {}
func (OutboundFailure) isEvent()  {}

// ResponseChannel 入站请求的响应通道
type ResponseChannel interface {
	Send(resp *wire.Response) error
}
