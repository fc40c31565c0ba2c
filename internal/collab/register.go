package collab

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"slices"

	"github.com/multiformats/go-varint"

	"github.com/dep2p/go-recordnet/pkg/types"
)

// RegisterEntry Register 的一个条目
type RegisterEntry struct {
	Data      []byte
	Signature []byte
}

// entrySigningBytes 条目签名覆盖 地址 || 数据
func entrySigningBytes(addr types.Address, data []byte) []byte {
	out := make([]byte, 0, len(addr)+len(data))
	out = append(out, addr[:]...)
	return append(out, data...)
}

// EncodeRegister 编码条目：每条为 varint(len) data signature，按数据排序并去重
func EncodeRegister(entries []RegisterEntry) []byte {
	var buf []byte
	for _, e := range normalize(entries) {
		buf = append(buf, varint.ToUvarint(uint64(len(e.Data)))...)
		buf = append(buf, e.Data...)
		buf = append(buf, e.Signature...)
	}
	return buf
}

// DecodeRegister 解码 EncodeRegister 的输出
func DecodeRegister(payload []byte) ([]RegisterEntry, error) {
	var out []RegisterEntry
	for len(payload) > 0 {
		n, read, err := varint.FromUvarint(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		payload = payload[read:]
		if uint64(len(payload)) < n+ed25519.SignatureSize {
			return nil, fmt.Errorf("%w: truncated entry", ErrBadPayload)
		}
		out = append(out, RegisterEntry{
			Data:      slices.Clone(payload[:n]),
			Signature: slices.Clone(payload[n : n+ed25519.SignatureSize]),
		})
		payload = payload[n+ed25519.SignatureSize:]
	}
	return out, nil
}

func normalize(entries []RegisterEntry) []RegisterEntry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b RegisterEntry) int { return bytes.Compare(a.Data, b.Data) })
	return slices.CompactFunc(out, func(a, b RegisterEntry) bool { return bytes.Equal(a.Data, b.Data) })
}

// NewRegister 用 priv 签名每个条目，构造一条 Register 记录
func NewRegister(priv ed25519.PrivateKey, data ...[]byte) *types.Record {
	owner := priv.Public().(ed25519.PublicKey)
	addr := types.OwnerAddress(types.KindRegister, owner)
	entries := make([]RegisterEntry, 0, len(data))
	for _, d := range data {
		entries = append(entries, RegisterEntry{
			Data:      slices.Clone(d),
			Signature: ed25519.Sign(priv, entrySigningBytes(addr, d)),
		})
	}
	return &types.Record{
		Address: addr,
		Kind:    types.KindRegister,
		Payload: EncodeRegister(entries),
		Owner:   slices.Clone(owner),
	}
}
