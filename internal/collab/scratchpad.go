package collab

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/dep2p/go-recordnet/pkg/types"
)

// counterLen Scratchpad 负载前缀长度
const counterLen = 8

// NewScratchpad 构造并签名一条 Scratchpad 记录
func NewScratchpad(priv ed25519.PrivateKey, counter uint64, data []byte) *types.Record {
	owner := priv.Public().(ed25519.PublicKey)
	payload := make([]byte, counterLen, counterLen+len(data))
	binary.BigEndian.PutUint64(payload, counter)
	payload = append(payload, data...)

	rec := &types.Record{
		Address: types.OwnerAddress(types.KindScratchpad, owner),
		Kind:    types.KindScratchpad,
		Payload: payload,
		Owner:   slices.Clone(owner),
	}
	rec.Signature = ed25519.Sign(priv, rec.SigningBytes())
	return rec
}

// ScratchpadCounter 解析 Scratchpad 负载
func ScratchpadCounter(payload []byte) (uint64, []byte, error) {
	if len(payload) < counterLen {
		return 0, nil, fmt.Errorf("%w: scratchpad shorter than counter", ErrBadPayload)
	}
	return binary.BigEndian.Uint64(payload), payload[counterLen:], nil
}
