package collab

import (
	"bytes"
	"slices"

	"github.com/dep2p/go-recordnet/pkg/interfaces"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// SetMerger 可变记录的 CRDT 合并，满足交换律与幂等
type SetMerger struct{}

var _ interfaces.Merger = SetMerger{}

// Merge 实现 interfaces.Merger
func (SetMerger) Merge(existing, incoming *types.Record) (*types.Record, error) {
	if existing.Address != incoming.Address || existing.Kind != incoming.Kind ||
		!bytes.Equal(existing.Owner, incoming.Owner) {
		return nil, ErrMergeMismatch
	}

	switch existing.Kind {
	case types.KindRegister:
		a, err := DecodeRegister(existing.Payload)
		if err != nil {
			return nil, err
		}
		b, err := DecodeRegister(incoming.Payload)
		if err != nil {
			return nil, err
		}
		out := existing.Clone()
		out.Payload = EncodeRegister(append(a, b...))
		out.Signature = nil
		return out, nil

	case types.KindScratchpad:
		ca, _, err := ScratchpadCounter(existing.Payload)
		if err != nil {
			return nil, err
		}
		cb, _, err := ScratchpadCounter(incoming.Payload)
		if err != nil {
			return nil, err
		}
		switch {
		case cb > ca:
			return incoming.Clone(), nil
		case cb < ca:
			return existing.Clone(), nil
		}
		ha, hb := existing.ContentHash(), incoming.ContentHash()
		if slices.Compare(hb[:], ha[:]) > 0 {
			return incoming.Clone(), nil
		}
		return existing.Clone(), nil

	default:
		return existing.Clone(), nil
	}
}
