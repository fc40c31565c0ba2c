package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-recordnet/internal/collab"
	storage "github.com/dep2p/go-recordnet/internal/core/storage/engine"
	"github.com/dep2p/go-recordnet/internal/core/storage/engine/badger"
	"github.com/dep2p/go-recordnet/internal/record"
	"github.com/dep2p/go-recordnet/internal/routing"
	"github.com/dep2p/go-recordnet/internal/swarm/memswarm"
	"github.com/dep2p/go-recordnet/pkg/types"
)

const eventually = 5 * time.Second
const tick = 10 * time.Millisecond

// testNode 运行在进程内网络上的一个引擎
type testNode struct {
	id     types.PeerID
	engine *Engine
	handle *Handle
	store  *record.Store
	swarm  *memswarm.Swarm
	exited chan error
}

type clusterOptions struct {
	configure      func(i int, cfg *Config)
	requestTimeout time.Duration
}

// testConfig 测试用的短间隔配置
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SweepInterval = 20 * time.Millisecond
	cfg.QueryTimeout = 3 * time.Second
	cfg.Replication.InitialBackoff = 20 * time.Millisecond
	cfg.Replication.MaxBackoff = 50 * time.Millisecond
	return cfg
}

func nodeID(i int) types.PeerID {
	return types.PeerID(types.ChunkAddress([]byte{byte(i), 'n', 'o', 'd', 'e'}))
}

// newCluster 在同一个进程内网络上启动 n 个节点（尚未互连）
func newCluster(t *testing.T, n int, opts clusterOptions) (*memswarm.Network, []*testNode) {
	t.Helper()
	net := memswarm.NewNetwork()
	nodes := make([]*testNode, n)
	for i := range nodes {
		nodes[i] = startNode(t, net, i, opts)
	}
	return net, nodes
}

func startNode(t *testing.T, net *memswarm.Network, i int, opts clusterOptions) *testNode {
	t.Helper()
	id := nodeID(i)

	var swOpts []memswarm.Option
	if opts.requestTimeout > 0 {
		swOpts = append(swOpts, memswarm.WithRequestTimeout(opts.requestTimeout))
	}
	sw, err := net.NewSwarm(id, swOpts...)
	require.NoError(t, err)

	eng, err := badger.Open(storage.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	store, err := record.Open(eng, id, record.DefaultConfig(), record.Deps{
		Verifier: collab.Ed25519Verifier{},
		Merger:   collab.SetMerger{},
		Payments: collab.QuoteVerifier{Local: id},
	})
	require.NoError(t, err)

	cfg := testConfig()
	if opts.configure != nil {
		opts.configure(i, &cfg)
	}
	e, err := New(cfg, Deps{Swarm: sw, Store: store})
	require.NoError(t, err)

	node := &testNode{id: id, engine: e, handle: e.Handle(), store: store, swarm: sw, exited: make(chan error, 1)}
	go func() { node.exited <- e.Run(context.Background()) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventually)
		defer cancel()
		_ = node.handle.Shutdown(ctx)
	})
	return node
}

// connectAll 两两连接并等待每个节点的路由表装满
func connectAll(t *testing.T, net *memswarm.Network, nodes []*testNode) {
	t.Helper()
	require.NoError(t, net.ConnectAll())
	for _, n := range nodes {
		require.Eventually(t, func() bool {
			st, err := n.handle.Stats(context.Background())
			return err == nil && st.Peers == len(nodes)-1
		}, eventually, tick)
	}
}

// pay 按节点当前报价构造付给它的凭证
func pay(t *testing.T, n *testNode, rec *types.Record) *types.PaymentProof {
	t.Helper()
	price, err := n.handle.GetStoreQuote(context.Background(), rec.Address, rec.Size())
	require.NoError(t, err)
	return &types.PaymentProof{Payee: price.Payee, Amount: price.Amount, TxRef: []byte("tx:" + rec.Address.ShortString())}
}

// expectedGroup 所有节点中离 addr 最近的 K 个
func expectedGroup(nodes []*testNode, addr types.Address) []types.PeerID {
	peers := make([]types.Peer, len(nodes))
	for i, n := range nodes {
		peers[i] = types.Peer{ID: n.id}
	}
	routing.SortByDistance(peers, addr)
	out := make([]types.PeerID, 0, types.CloseGroupSize)
	for _, p := range peers[:min(types.CloseGroupSize, len(peers))] {
		out = append(out, p.ID)
	}
	return out
}

func byID(nodes []*testNode, id types.PeerID) *testNode {
	for _, n := range nodes {
		if n.id == id {
			return n
		}
	}
	return nil
}

// hasLocal 节点本地是否存有 addr
func hasLocal(n *testNode, addr types.Address) bool {
	_, err := n.handle.GetLocalRecord(context.Background(), addr)
	return err == nil
}

// replicationIdle 节点没有任何复制任务
func replicationIdle(n *testNode) bool {
	st, err := n.handle.Stats(context.Background())
	return err == nil && st.Replication == ReplicationStats{}
}
