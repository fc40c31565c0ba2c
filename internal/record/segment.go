package record

import (
	"encoding/binary"
	"errors"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-recordnet/internal/core/storage/engine"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// segmentSize 单个存储值承载的编码字节数
//
// 内存模式的 badger 拒绝超过 ValueThreshold 的值，这里必须留在它之内。
// 编码后超过 segmentSize 的记录拆成多段：r/<addr> 存段数前缀加第一段，
// 其余段存 p/<addr><段序号>。
const segmentSize = 512 << 10

// maxSegments 段序号占两个字节
const maxSegments = 1 << 16

var errBadSegments = errors.New("record: bad segment header")

func partKey(addr types.Address, idx int) []byte {
	k := make([]byte, types.AddressLen+2)
	copy(k, addr[:])
	binary.BigEndian.PutUint16(k[types.AddressLen:], uint16(idx))
	return k
}

// partAddr 从分段键取回地址与序号
func partAddr(key []byte) (types.Address, int, bool) {
	if len(key) != types.AddressLen+2 {
		return types.Address{}, 0, false
	}
	addr, err := types.AddressFromBytes(key[:types.AddressLen])
	if err != nil {
		return types.Address{}, 0, false
	}
	return addr, int(binary.BigEndian.Uint16(key[types.AddressLen:])), true
}

// split 把编码后的记录拆成首段值与后续段
func split(raw []byte) (head []byte, rest [][]byte) {
	n := max(1, (len(raw)+segmentSize-1)/segmentSize)
	first := raw[:min(len(raw), segmentSize)]
	head = append(varint.ToUvarint(uint64(n)), first...)
	for i := 1; i < n; i++ {
		rest = append(rest, raw[i*segmentSize:min(len(raw), (i+1)*segmentSize)])
	}
	return head, rest
}

// join 按首段声明的段数读回其余段，返回完整编码与段数
//
// 缺段或段头损坏返回 errBadSegments；引擎故障原样返回。
func (s *Store) join(addr types.Address, head []byte) ([]byte, int, error) {
	n, hl, err := varint.FromUvarint(head)
	if err != nil || n == 0 || n > maxSegments {
		return nil, 0, errBadSegments
	}
	if n == 1 {
		return head[hl:], 1, nil
	}

	raw := make([]byte, 0, int(n)*segmentSize)
	raw = append(raw, head[hl:]...)
	for i := 1; i < int(n); i++ {
		part, err := s.parts.Get(partKey(addr, i))
		switch {
		case engine.IsNotFound(err):
			return nil, 0, errBadSegments
		case err != nil:
			return nil, 0, err
		}
		raw = append(raw, part...)
	}
	return raw, int(n), nil
}

// dropOrphanParts 删除没有对应首段或序号越界的分段
func (s *Store) dropOrphanParts() error {
	var orphans [][]byte
	err := s.parts.Scan(func(key, _ []byte) bool {
		addr, idx, ok := partAddr(key)
		if e, known := s.index[addr]; !ok || !known || idx == 0 || idx >= e.segments {
			orphans = append(orphans, append([]byte(nil), key...))
		}
		return true
	})
	if err != nil {
		return storageErr("scan parts", err)
	}
	if len(orphans) == 0 {
		return nil
	}
	b := s.parts.NewBatch()
	for _, k := range orphans {
		b.Delete(k)
	}
	if err := b.Write(); err != nil {
		return storageErr("drop orphan parts", err)
	}
	log.Warn("dropped orphan record segments", "count", len(orphans))
	return nil
}
