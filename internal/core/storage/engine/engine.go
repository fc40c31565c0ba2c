// Package engine 定义记录持久化使用的键值存储引擎接口
//
// 上层（kv、record）只依赖这里的接口，具体实现见 engine/badger。
// 实现必须是线程安全的；批量写在 Write 之前对其他读写不可见。
package engine

// Engine 键值存储引擎
type Engine interface {
	// Get 读取键，不存在返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put 写入单个键值
	Put(key, value []byte) error

	// Delete 删除键，键不存在不是错误
	Delete(key []byte) error

	// Has 检查键是否存在
	Has(key []byte) (bool, error)

	// NewBatch 创建批量写入，Write 时原子提交
	NewBatch() Batch

	// NewPrefixIterator 按键升序遍历指定前缀下的所有键
	NewPrefixIterator(prefix []byte) Iterator

	// Sync 将已提交数据刷到磁盘
	Sync() error

	// Stats 返回统计快照
	Stats() Stats

	// Close 关闭引擎，之后所有操作返回 ErrClosed
	Close() error
}

// Batch 批量写入
//
// 不是线程安全的，只应由一个 goroutine 使用。
type Batch interface {
	Put(key, value []byte)
	Delete(key []byte)

	// Write 原子提交全部操作；失败时一个都不生效
	Write() error

	// Discard 放弃未提交的操作
	Discard()

	// Size 待提交的操作数
	Size() int
}

// Iterator 前缀迭代器
//
//	it := eng.NewPrefixIterator([]byte("r/"))
//	defer it.Close()
//	for it.First(); it.Valid(); it.Next() {
//	    use(it.Key(), it.Value())
//	}
//	if err := it.Error(); err != nil {
//	    return err
//	}
type Iterator interface {
	First() bool
	Next() bool
	Valid() bool

	// Key 当前键的副本
	Key() []byte

	// Value 当前值的副本
	Value() []byte

	Error() error
	Close()
}

// Stats 引擎统计
type Stats struct {
	LSMSize   int64
	VlogSize  int64
	NumReads  int64
	NumWrites int64
}

// DiskSize 磁盘占用总量
func (s Stats) DiskSize() int64 {
	return s.LSMSize + s.VlogSize
}
