package engine

import (
	"github.com/dep2p/go-recordnet/internal/record"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// result 命令结果
type result[T any] struct {
	val T
	err error
}

// promise 单次应答通道；容量为 1，引擎写入永不阻塞
type promise[T any] chan result[T]

func newPromise[T any]() promise[T] {
	return make(promise[T], 1)
}

func (p promise[T]) resolve(v T, err error) {
	p <- result[T]{val: v, err: err}
}

func (p promise[T]) fail(err error) {
	var zero T
	p.resolve(zero, err)
}

// command 发往引擎的命令；cancel 在引擎退出时以 ErrCancelled 应答
type command interface {
	cancel()
}

type putCmd struct {
	rec     *types.Record
	proof   *types.PaymentProof
	network bool
	reply   promise[record.Outcome]
}

type getCmd struct {
	addr      types.Address
	quorum    types.Quorum
	quorumSet bool
	localOnly bool
	reply     promise[*types.Record]
}

type closestCmd struct {
	addr  types.Address
	reply promise[[]types.Peer]
}

type quoteCmd struct {
	addr    types.Address
	size    int
	network bool
	reply   promise[types.Price]
}

type reconcileCmd struct {
	reply promise[struct{}]
}

type statsCmd struct {
	reply promise[Stats]
}

type shutdownCmd struct {
	reply promise[struct{}]
}

func (c *putCmd) cancel()       { c.reply.fail(types.ErrCancelled) }
func (c *getCmd) cancel()       { c.reply.fail(types.ErrCancelled) }
func (c *closestCmd) cancel()   { c.reply.fail(types.ErrCancelled) }
func (c *quoteCmd) cancel()     { c.reply.fail(types.ErrCancelled) }
func (c *reconcileCmd) cancel() { c.reply.fail(types.ErrCancelled) }
func (c *statsCmd) cancel()     { c.reply.fail(types.ErrCancelled) }
func (c *shutdownCmd) cancel()  { c.reply.resolve(struct{}{}, nil) }

// Stats 引擎状态快照
type Stats struct {
	Peers          int
	Records        int
	StoredBytes    int64
	PendingQueries int
	Replication    ReplicationStats
}

// ReplicationStats 复制任务统计
type ReplicationStats struct {
	InFlight int
	Queued   int
	Waiting  int
}
