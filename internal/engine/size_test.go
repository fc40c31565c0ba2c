package engine

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-recordnet/internal/protocol/wire"
	"github.com/dep2p/go-recordnet/internal/record"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// alive 引擎仍在运行且命令可达
func alive(t *testing.T, n *testNode) {
	t.Helper()
	select {
	case err := <-n.exited:
		t.Fatalf("engine %s exited: %v", n.id.ShortString(), err)
	default:
	}
	_, err := n.handle.Stats(context.Background())
	require.NoError(t, err)
}

// TestEngine_RecordSizeBoundaries 测试内存存储上写入并复制大记录，超限记录被拒绝
func TestEngine_RecordSizeBoundaries(t *testing.T) {
	net, nodes := newCluster(t, 2, clusterOptions{})
	connectAll(t, net, nodes)
	a, b := nodes[0], nodes[1]
	ctx := context.Background()
	maxSize := record.DefaultConfig().MaxRecordSize

	for i, size := range []int{1<<10 + 1, maxSize} {
		chunk := types.NewChunk(bytes.Repeat([]byte{byte(i + 1)}, size))
		out, err := a.handle.PutRecord(ctx, chunk, pay(t, a, chunk))
		require.NoError(t, err)
		require.True(t, out.Accepted(), "size %d: reason %s", size, out.Reason)

		require.Eventually(t, func() bool { return hasLocal(b, chunk.Address) }, eventually, tick, "size %d", size)
	}

	over := types.NewChunk(bytes.Repeat([]byte{9}, maxSize+1))
	out, err := a.handle.PutRecord(ctx, over, pay(t, a, over))
	require.NoError(t, err)
	assert.Equal(t, types.RejectTooLarge, out.Reason)

	alive(t, a)
	alive(t, b)
}

// TestEngine_UnpaidReplicateOfLargeRecord 测试对端推送的大记录不会让引擎退出
func TestEngine_UnpaidReplicateOfLargeRecord(t *testing.T) {
	net, nodes := newCluster(t, 2, clusterOptions{})
	connectAll(t, net, nodes)
	a, b := nodes[0], nodes[1]
	maxSize := record.DefaultConfig().MaxRecordSize

	chunk := types.NewChunk(bytes.Repeat([]byte{0x42}, 2048))
	b.swarm.SendRequest(types.Peer{ID: a.id}, &wire.Request{Kind: wire.KindReplicate, Record: chunk})
	require.Eventually(t, func() bool { return hasLocal(a, chunk.Address) }, eventually, tick)

	over := types.NewChunk(bytes.Repeat([]byte{0x43}, maxSize+1))
	b.swarm.SendRequest(types.Peer{ID: a.id}, &wire.Request{Kind: wire.KindReplicate, Record: over})

	// 之后的推送照常处理，说明超限记录已被拒绝而引擎未退出
	next := types.NewChunk([]byte("after oversize"))
	b.swarm.SendRequest(types.Peer{ID: a.id}, &wire.Request{Kind: wire.KindReplicate, Record: next})
	require.Eventually(t, func() bool { return hasLocal(a, next.Address) }, eventually, tick)
	assert.False(t, hasLocal(a, over.Address))

	alive(t, a)
}
