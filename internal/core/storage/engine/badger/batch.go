package badger

import (
	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-recordnet/internal/core/storage/engine"
)

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// batch 先在内存中收集操作，Write 时放进同一个事务提交
type batch struct {
	eng *Engine
	ops []batchOp
}

func (b *batch) Put(key, value []byte) {
	if len(key) == 0 {
		return
	}
	b.ops = append(b.ops, batchOp{key: key, value: value})
}

func (b *batch) Delete(key []byte) {
	if len(key) == 0 {
		return
	}
	b.ops = append(b.ops, batchOp{key: key, delete: true})
}

func (b *batch) Write() error {
	if b.eng.closed.Load() {
		return engine.ErrClosed
	}
	if b.eng.cfg.ReadOnly {
		return engine.ErrReadOnly
	}
	if len(b.ops) == 0 {
		return nil
	}
	for _, op := range b.ops {
		if err := b.eng.checkValue(op.value); err != nil {
			return err
		}
	}

	err := b.eng.db.Update(func(txn *badger.Txn) error {
		for _, op := range b.ops {
			var err error
			if op.delete {
				err = txn.Delete(op.key)
			} else {
				err = txn.Set(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return convertError(err)
	}

	b.eng.writes.Add(int64(len(b.ops)))
	b.ops = b.ops[:0]
	return nil
}

func (b *batch) Discard() {
	b.ops = nil
}

func (b *batch) Size() int {
	return len(b.ops)
}
