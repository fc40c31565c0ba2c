// Package kv 在存储引擎之上提供带前缀的命名空间
//
// 键空间约定:
//   - r/ - 记录，键为 32 字节地址
//   - p/ - 大记录的后续分段，键为地址加两字节段序号
//   - m/ - 元数据（存储格式版本等）
package kv

import (
	"encoding/binary"
	"fmt"

	"github.com/dep2p/go-recordnet/internal/core/storage/engine"
)

// Store 所有键自动加上 prefix 的视图
type Store struct {
	eng    engine.Engine
	prefix []byte
}

// New 创建命名空间视图
func New(eng engine.Engine, prefix []byte) *Store {
	return &Store{eng: eng, prefix: append([]byte(nil), prefix...)}
}

// Sub 在当前前缀之后再追加一段前缀
func (s *Store) Sub(prefix []byte) *Store {
	return New(s.eng, s.key(prefix))
}

// Prefix 完整前缀
func (s *Store) Prefix() []byte {
	return s.prefix
}

func (s *Store) key(k []byte) []byte {
	out := make([]byte, len(s.prefix)+len(k))
	copy(out, s.prefix)
	copy(out[len(s.prefix):], k)
	return out
}

// Get 读取
func (s *Store) Get(k []byte) ([]byte, error) {
	return s.eng.Get(s.key(k))
}

// Put 写入
func (s *Store) Put(k, v []byte) error {
	return s.eng.Put(s.key(k), v)
}

// Delete 删除
func (s *Store) Delete(k []byte) error {
	return s.eng.Delete(s.key(k))
}

// Has 是否存在
func (s *Store) Has(k []byte) (bool, error) {
	return s.eng.Has(s.key(k))
}

// GetUint64 读取大端 uint64，键不存在返回 engine.ErrNotFound
func (s *Store) GetUint64(k []byte) (uint64, error) {
	v, err := s.Get(k)
	if err != nil {
		return 0, err
	}
	if len(v) != 8 {
		return 0, fmt.Errorf("kv: uint64 value for %q has %d bytes", k, len(v))
	}
	return binary.BigEndian.Uint64(v), nil
}

// PutUint64 写入大端 uint64
func (s *Store) PutUint64(k []byte, n uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return s.Put(k, buf[:])
}

// Scan 按键升序遍历命名空间，回调拿到去掉前缀后的键
//
// fn 返回 false 时停止遍历。
func (s *Store) Scan(fn func(key, value []byte) bool) error {
	it := s.eng.NewPrefixIterator(s.prefix)
	defer it.Close()

	for it.First(); it.Valid(); it.Next() {
		if !fn(it.Key()[len(s.prefix):], it.Value()) {
			break
		}
	}
	return it.Error()
}

// Count 命名空间内的键数量
func (s *Store) Count() (int, error) {
	n := 0
	err := s.Scan(func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

// Clear 删除命名空间内全部键（一次提交）
func (s *Store) Clear() error {
	b := s.NewBatch()
	err := s.Scan(func(k, _ []byte) bool {
		b.Delete(k)
		return true
	})
	if err != nil {
		return err
	}
	return b.Write()
}

// NewBatch 创建命名空间内的批量写入
func (s *Store) NewBatch() *Batch {
	return &Batch{store: s, inner: s.eng.NewBatch()}
}

// Batch 自动加前缀的批量写入
type Batch struct {
	store *Store
	inner engine.Batch
}

// Put 追加写入
func (b *Batch) Put(k, v []byte) {
	b.inner.Put(b.store.key(k), v)
}

// Delete 追加删除
func (b *Batch) Delete(k []byte) {
	b.inner.Delete(b.store.key(k))
}

// With 写入 other 命名空间、与 b 共用底层批次的视图，两者一起原子提交
//
// other 必须建立在同一个存储引擎上。
func (b *Batch) With(other *Store) *Batch {
	return &Batch{store: other, inner: b.inner}
}

// Write 原子提交
func (b *Batch) Write() error {
	return b.inner.Write()
}

// Discard 放弃
func (b *Batch) Discard() {
	b.inner.Discard()
}

// Size 待提交操作数
func (b *Batch) Size() int {
	return b.inner.Size()
}
