// Package badger 基于 BadgerDB 实现 engine.Engine
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-recordnet/internal/core/storage/engine"
	"github.com/dep2p/go-recordnet/internal/util/logger"
)

var log = logger.Logger("storage")

// Engine BadgerDB 存储引擎
type Engine struct {
	db     *badger.DB
	cfg    *engine.Config
	closed atomic.Bool

	reads  atomic.Int64
	writes atomic.Int64

	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
}

// Open 打开（必要时创建）数据库并启动 value log GC
func Open(cfg *engine.Config) (*Engine, error) {
	if cfg == nil {
		return nil, engine.ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.EnsureDir(); err != nil {
		return nil, fmt.Errorf("storage: create dir: %w", err)
	}

	db, err := badger.Open(badgerOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("storage: open badger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{db: db, cfg: cfg, gcCancel: cancel}
	if cfg.GCInterval > 0 && !cfg.InMemory && !cfg.ReadOnly {
		e.gcWg.Add(1)
		go e.gcLoop(ctx)
	}
	return e, nil
}

func badgerOptions(cfg *engine.Config) badger.Options {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	return opts.
		WithSyncWrites(cfg.SyncWrites).
		WithReadOnly(cfg.ReadOnly).
		WithMemTableSize(cfg.MemTableSize).
		WithValueLogFileSize(cfg.ValueLogFileSize).
		WithValueThreshold(cfg.ValueThreshold).
		WithBlockCacheSize(cfg.BlockCacheSize).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{})
}

// badgerLogger 把 badger 的日志接到 slog，info 以下全部降为 debug
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, args ...interface{}) {
	log.Error(fmt.Sprintf(f, args...))
}

func (badgerLogger) Warningf(f string, args ...interface{}) {
	log.Warn(fmt.Sprintf(f, args...))
}

func (badgerLogger) Infof(f string, args ...interface{}) {
	log.Debug(fmt.Sprintf(f, args...))
}

func (badgerLogger) Debugf(f string, args ...interface{}) {
	log.Debug(fmt.Sprintf(f, args...))
}

func (e *Engine) gcLoop(ctx context.Context) {
	defer e.gcWg.Done()

	ticker := time.NewTicker(e.cfg.GCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// 一直回收到 badger 报告没有可回收的文件
			for e.db.RunValueLogGC(e.cfg.GCDiscardRatio) == nil {
			}
		}
	}
}

// Get 读取键
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, engine.ErrClosed
	}
	if len(key) == 0 {
		return nil, engine.ErrEmptyKey
	}

	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	e.reads.Add(1)
	if err != nil {
		return nil, convertError(err)
	}
	return value, nil
}

// Put 写入键值
func (e *Engine) Put(key, value []byte) error {
	if err := e.writable(key); err != nil {
		return err
	}
	if err := e.checkValue(value); err != nil {
		return err
	}
	err := e.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err == nil {
		e.writes.Add(1)
	}
	return convertError(err)
}

// Delete 删除键
func (e *Engine) Delete(key []byte) error {
	if err := e.writable(key); err != nil {
		return err
	}
	err := e.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err == nil {
		e.writes.Add(1)
	}
	return convertError(err)
}

// Has 检查键是否存在
func (e *Engine) Has(key []byte) (bool, error) {
	if e.closed.Load() {
		return false, engine.ErrClosed
	}
	if len(key) == 0 {
		return false, engine.ErrEmptyKey
	}

	err := e.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, convertError(err)
	}
}

func (e *Engine) writable(key []byte) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.cfg.ReadOnly {
		return engine.ErrReadOnly
	}
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	return nil
}

// checkValue 提前拒绝 badger 不接受的大值，返回可识别的 ErrTooLarge
func (e *Engine) checkValue(value []byte) error {
	if limit := e.cfg.MaxValueSize(); int64(len(value)) > limit {
		return fmt.Errorf("%w: value of %d bytes exceeds %d", engine.ErrTooLarge, len(value), limit)
	}
	return nil
}

// NewBatch 创建批量写入
//
// 基于一个读写事务实现，保证 Write 的原子性。
func (e *Engine) NewBatch() engine.Batch {
	return &batch{eng: e}
}

// NewPrefixIterator 创建前缀迭代器
func (e *Engine) NewPrefixIterator(prefix []byte) engine.Iterator {
	txn := e.db.NewTransaction(false)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchSize = 64
	return &iterator{
		txn:    txn,
		it:     txn.NewIterator(opts),
		prefix: prefix,
	}
}

// Sync 刷盘
func (e *Engine) Sync() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return e.db.Sync()
}

// Stats 统计快照
func (e *Engine) Stats() engine.Stats {
	lsm, vlog := e.db.Size()
	return engine.Stats{
		LSMSize:   lsm,
		VlogSize:  vlog,
		NumReads:  e.reads.Load(),
		NumWrites: e.writes.Load(),
	}
}

// Close 关闭引擎，可重复调用
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.gcCancel()
	e.gcWg.Wait()
	return e.db.Close()
}

func convertError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return engine.ErrNotFound
	case errors.Is(err, badger.ErrEmptyKey):
		return engine.ErrEmptyKey
	case errors.Is(err, badger.ErrTxnTooBig):
		return engine.ErrTooLarge
	case errors.Is(err, badger.ErrReadOnlyTxn):
		return engine.ErrReadOnly
	default:
		return err
	}
}

var _ engine.Engine = (*Engine)(nil)
