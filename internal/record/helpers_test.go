package record

import (
	"bytes"
	"errors"
	"slices"
	"sort"
	"strings"
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-recordnet/internal/core/storage/engine"
	"github.com/dep2p/go-recordnet/internal/core/storage/engine/badger"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// ============================================================================
//                              确定性假协作者
// ============================================================================

// fakeVerifier 签名等于 "sig:"+owner 视为有效
type fakeVerifier struct{}

func (fakeVerifier) Verify(rec *types.Record) error {
	if string(rec.Signature) == "sig:"+string(rec.Owner) {
		return nil
	}
	return errors.New("bad signature")
}

// rejectAllVerifier 拒绝一切签名
type rejectAllVerifier struct{}

func (rejectAllVerifier) Verify(*types.Record) error { return errors.New("rejected") }

// lineSetMerger Register 负载为换行分隔的集合，合并取并集；Scratchpad 取字典序较大者
type lineSetMerger struct{}

func (lineSetMerger) Merge(existing, incoming *types.Record) (*types.Record, error) {
	if existing.Kind == types.KindScratchpad {
		if bytes.Compare(incoming.Payload, existing.Payload) > 0 {
			return incoming.Clone(), nil
		}
		return existing.Clone(), nil
	}
	set := map[string]bool{}
	for _, r := range []*types.Record{existing, incoming} {
		for _, l := range strings.Split(string(r.Payload), "\n") {
			set[l] = true
		}
	}
	lines := make([]string, 0, len(set))
	for l := range set {
		lines = append(lines, l)
	}
	sort.Strings(lines)
	out := existing.Clone()
	out.Payload = []byte(strings.Join(lines, "\n"))
	return out, nil
}

// fakePayments 固定返回 ok，并记录最后一次调用
type fakePayments struct {
	ok    bool
	calls int
	price types.Price
}

func (f *fakePayments) VerifyProof(_ *types.PaymentProof, price types.Price) bool {
	f.calls++
	f.price = price
	return f.ok
}

// ============================================================================
//                              构造工具
// ============================================================================

var localPeer = types.PeerID{}

func memEngine(t *testing.T) engine.Engine {
	t.Helper()
	eng, err := badger.Open(engine.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func openStore(t *testing.T, eng engine.Engine, cfg Config, payments *fakePayments) *Store {
	t.Helper()
	s, err := Open(eng, localPeer, cfg, Deps{
		Verifier: fakeVerifier{},
		Merger:   lineSetMerger{},
		Payments: payments,
		Clock:    clock.NewMock(),
	})
	require.NoError(t, err)
	return s
}

func newStore(t *testing.T) (*Store, *fakePayments) {
	t.Helper()
	p := &fakePayments{ok: true}
	return openStore(t, memEngine(t), DefaultConfig(), p), p
}

func proofFor(amount uint64) *types.PaymentProof {
	return &types.PaymentProof{Payee: types.PeerID{1}, Amount: amount, TxRef: []byte("tx")}
}

func register(owner string, payload string) *types.Record {
	o := []byte(owner)
	return &types.Record{
		Address:   types.OwnerAddress(types.KindRegister, o),
		Kind:      types.KindRegister,
		Payload:   []byte(payload),
		Owner:     o,
		Signature: []byte("sig:" + owner),
	}
}

// chunksByDistance n 个内容块，按离 localPeer 由近到远排序
func chunksByDistance(n int) []*types.Record {
	out := make([]*types.Record, n)
	for i := range out {
		out[i] = types.NewChunk([]byte{byte(i), 'c'})
	}
	local := localPeer.Address()
	slices.SortFunc(out, func(a, b *types.Record) int {
		return types.CompareDistance(a.Address, b.Address, local)
	})
	return out
}

func addresses(s *Store) []types.Address {
	return slices.Collect(s.Addresses())
}
