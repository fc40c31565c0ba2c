package record

import (
	"slices"

	"github.com/dep2p/go-recordnet/pkg/types"
)

// makeRoom 计算为 addr 增加 addRecords 条、addBytes 字节需要淘汰的记录
//
// 只淘汰比 addr 离本节点更远且未被固定的记录，最远的先淘汰。
// 无法腾出足够空间时返回 false。
func (s *Store) makeRoom(addr types.Address, addRecords int, addBytes int64) ([]types.Address, bool) {
	needRecords := len(s.index) + addRecords - s.cfg.MaxRecords
	needBytes := s.bytes + addBytes - s.cfg.MaxBytes
	if needRecords <= 0 && needBytes <= 0 {
		return nil, true
	}

	local := s.local.Address()
	candidates := s.byDistanceDesc(func(a types.Address) bool {
		return a != addr && s.pins[a] == 0 && types.CompareDistance(a, addr, local) > 0
	})

	var victims []types.Address
	for _, a := range candidates {
		if needRecords <= 0 && needBytes <= 0 {
			break
		}
		victims = append(victims, a)
		needRecords--
		needBytes -= int64(s.index[a].size)
	}
	if needRecords > 0 || needBytes > 0 {
		return nil, false
	}
	return victims, true
}

// byDistanceDesc 满足 keep 的地址，按离本节点的距离从远到近
func (s *Store) byDistanceDesc(keep func(types.Address) bool) []types.Address {
	local := s.local.Address()
	out := make([]types.Address, 0, len(s.sorted))
	for _, a := range s.sorted {
		if keep(a) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b types.Address) int {
		return types.CompareDistance(b, a, local)
	})
	return out
}

// Pin 固定记录，复制推送期间不被淘汰；可重复调用，需对应次数的 Unpin
func (s *Store) Pin(addr types.Address) {
	s.pins[addr]++
}

// Unpin 解除一次固定
func (s *Store) Unpin(addr types.Address) {
	switch n := s.pins[addr]; {
	case n <= 1:
		delete(s.pins, addr)
	default:
		s.pins[addr] = n - 1
	}
}

// Pinned 是否被固定
func (s *Store) Pinned(addr types.Address) bool {
	return s.pins[addr] > 0
}

// fill 条数与字节占用比例中较大的一个
func (s *Store) fill() float64 {
	byRecords := float64(len(s.index)) / float64(s.cfg.MaxRecords)
	byBytes := float64(s.bytes) / float64(s.cfg.MaxBytes)
	return min(max(byRecords, byBytes), 1)
}
