package recordnet

import (
	"context"
	"fmt"
	"sync"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-recordnet/config"
	"github.com/dep2p/go-recordnet/internal/core/metrics"
	"github.com/dep2p/go-recordnet/internal/engine"
	"github.com/dep2p/go-recordnet/internal/swarm"
	"github.com/dep2p/go-recordnet/internal/util/addrutil"
	"github.com/dep2p/go-recordnet/internal/util/logger"
	"github.com/dep2p/go-recordnet/pkg/types"
)

var log = logger.Logger("recordnet")

// ════════════════════════════════════════════════════════════════════════════
//                              节点状态
// ════════════════════════════════════════════════════════════════════════════

// NodeState 节点生命周期阶段
type NodeState int

const (
	// StateIdle 已创建，未启动
	StateIdle NodeState = iota
	// StateRunning 运行中
	StateRunning
	// StateStopped 已停止，不能再启动
	StateStopped
)

func (s NodeState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Node 一个记录网络节点
type Node struct {
	cfg *config.Config
	app *fx.App

	engine *engine.Engine
	swarm  swarm.Swarm
	prom   *metrics.Prometheus

	mu    sync.Mutex
	state NodeState

	errMu  sync.Mutex
	runErr error
}

// New 按配置组装节点；组件在 Start 之前不会开始工作
func New(cfg *config.Config, opts ...Option) (*Node, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	n := &Node{cfg: cfg}
	n.app = buildFxApp(cfg, o, n)
	if err := n.app.Err(); err != nil {
		return nil, fmt.Errorf("build node: %w", err)
	}
	return n, nil
}

// ════════════════════════════════════════════════════════════════════════════
//                              生命周期
// ════════════════════════════════════════════════════════════════════════════

// Start 启动网络与引擎，随后拨号引导节点
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrNodeClosed
	}
	if err := n.app.Start(ctx); err != nil {
		n.state = StateStopped
		return fmt.Errorf("start node: %w", err)
	}
	n.state = StateRunning
	log.Info("node started", "peer", n.PeerID().ShortString(), "addrs", n.Addrs(), "client", n.cfg.Engine.ClientMode)
	return nil
}

// Stop 停止引擎并释放网络与存储
func (n *Node) Stop(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch n.state {
	case StateIdle:
		return ErrNotStarted
	case StateStopped:
		return nil
	}
	n.state = StateStopped
	if err := n.app.Stop(ctx); err != nil {
		return fmt.Errorf("stop node: %w", err)
	}
	log.Info("node stopped", "peer", n.PeerID().ShortString())
	return nil
}

// State 当前阶段
func (n *Node) State() NodeState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Done 引擎事件循环退出时关闭
func (n *Node) Done() <-chan struct{} {
	return n.engine.Done()
}

// Err 引擎退出的原因；正常停止或仍在运行时为 nil
func (n *Node) Err() error {
	n.errMu.Lock()
	defer n.errMu.Unlock()
	return n.runErr
}

func (n *Node) setRunErr(err error) {
	n.errMu.Lock()
	n.runErr = err
	n.errMu.Unlock()
}

// ════════════════════════════════════════════════════════════════════════════
//                              访问器
// ════════════════════════════════════════════════════════════════════════════

// Handle 调用网络操作的句柄
func (n *Node) Handle() *engine.Handle {
	return n.engine.Handle()
}

// PeerID 节点 ID
func (n *Node) PeerID() types.PeerID {
	return n.swarm.LocalPeer().ID
}

// Addrs 实际监听的地址
func (n *Node) Addrs() []ma.Multiaddr {
	return n.swarm.LocalPeer().Addrs
}

// FullAddrs 带 /p2p/<PeerID> 后缀的监听地址，可直接作为其他节点的引导地址
func (n *Node) FullAddrs() []string {
	return addrutil.FullAddrs(n.Addrs(), n.PeerID())
}

// MetricsRegistry 指标注册表；指标关闭时为 nil
func (n *Node) MetricsRegistry() *prometheus.Registry {
	if n.prom == nil {
		return nil
	}
	return n.prom.Registry()
}
