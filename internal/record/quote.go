package record

import (
	"math"

	"github.com/dep2p/go-recordnet/pkg/types"
)

// quoteUnit 计价单位
const quoteUnit = 1024

// Quote 按当前存储压力给 size 字节报价，不修改任何状态
//
//	单价 = BasePrice * (1 + PriceMultiplier * fill²)
//	金额 = ceil(单价) * ceil(size / 1KiB)，至少一个单位
func (s *Store) Quote(size int) types.Price {
	fill := s.fill()
	unit := uint64(math.Ceil(float64(s.cfg.BasePrice) * (1 + s.cfg.PriceMultiplier*fill*fill)))

	units := uint64(1)
	if size > quoteUnit {
		units = uint64((size + quoteUnit - 1) / quoteUnit)
	}
	return types.Price{
		Amount:   unit * units,
		Payee:    s.local,
		QuotedAt: s.clock.Now(),
	}
}
