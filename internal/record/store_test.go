package record

import (
	"testing"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-recordnet/internal/core/storage/engine"
	"github.com/dep2p/go-recordnet/internal/core/storage/engine/badger"
	"github.com/dep2p/go-recordnet/pkg/types"
)

// TestStore_PutGetRoundTrip 测试写入后读取得到等价记录
func TestStore_PutGetRoundTrip(t *testing.T) {
	s, payments := newStore(t)
	rec := types.NewChunk([]byte("hello chunk"))

	out, err := s.Put(rec, proofFor(1000), PutOptions{RequirePayment: true})
	require.NoError(t, err)
	assert.True(t, out.Accepted())
	assert.True(t, out.Changed)
	assert.Equal(t, 1, payments.calls)

	got, err := s.Get(rec.Address)
	require.NoError(t, err)
	assert.True(t, rec.Equal(got))
	assert.True(t, s.Has(rec.Address))
	assert.Equal(t, 1, s.Len())
}

// TestStore_GetMissing 测试不存在的地址
func TestStore_GetMissing(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.Get(types.ChunkAddress([]byte("nope")))
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// TestStore_RejectionsLeaveStoreUnchanged 测试各种校验失败都不改变存储内容
func TestStore_RejectionsLeaveStoreUnchanged(t *testing.T) {
	s, payments := newStore(t)
	seed := types.NewChunk([]byte("seed"))
	_, err := s.Put(seed, proofFor(1000), PutOptions{RequirePayment: true})
	require.NoError(t, err)
	before := addresses(s)
	beforeStats := s.Stats()

	badHash := types.NewChunk([]byte("payload"))
	badHash.Payload = []byte("tampered")

	badSig := register("alice", "x")
	badSig.Signature = []byte("forged")

	wrongOwner := register("alice", "x")
	wrongOwner.Owner = []byte("mallory")
	wrongOwner.Signature = []byte("sig:mallory")

	cases := []struct {
		name   string
		rec    *types.Record
		proof  *types.PaymentProof
		reason types.RejectReason
	}{
		{"nil record", nil, nil, types.RejectMalformed},
		{"unknown kind", &types.Record{Kind: types.KindUnknown, Payload: []byte("x")}, nil, types.RejectMalformed},
		{"empty payload", &types.Record{Kind: types.KindChunk, Address: types.ChunkAddress(nil)}, nil, types.RejectMalformed},
		{"hash mismatch", badHash, proofFor(1000), types.RejectHashMismatch},
		{"bad signature", badSig, proofFor(1000), types.RejectInvalidSignature},
		{"owner mismatch", wrongOwner, proofFor(1000), types.RejectAddressMismatch},
		{"missing proof", types.NewChunk([]byte("a")), nil, types.RejectMissingPayment},
		{"malformed proof", types.NewChunk([]byte("b")), &types.PaymentProof{Amount: 1000}, types.RejectMalformedPayment},
		{"underpaid", types.NewChunk([]byte("c")), proofFor(1), types.RejectInsufficientPayment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := s.Put(tc.rec, tc.proof, PutOptions{RequirePayment: true})
			require.NoError(t, err)
			assert.False(t, out.Accepted())
			assert.Equal(t, tc.reason, out.Reason)
			assert.ErrorIs(t, out.Err(), types.ErrValidation)

			assert.Equal(t, before, addresses(s))
			assert.Equal(t, beforeStats, s.Stats())
		})
	}

	// 前面的校验失败都不会走到支付协作者
	assert.Equal(t, 1, payments.calls)

	payments.ok = false
	out, err := s.Put(types.NewChunk([]byte("d")), proofFor(1000), PutOptions{RequirePayment: true})
	require.NoError(t, err)
	assert.Equal(t, types.RejectPaymentVerificationFailed, out.Reason)
	assert.Equal(t, before, addresses(s))
}

// TestStore_InsufficientPaymentAgainstQuote 测试金额以当前报价为准
func TestStore_InsufficientPaymentAgainstQuote(t *testing.T) {
	s, payments := newStore(t)
	rec := types.NewChunk(make([]byte, 3000))
	price := s.Quote(rec.Size())
	require.Equal(t, uint64(30), price.Amount)

	out, err := s.Put(rec, proofFor(price.Amount-1), PutOptions{RequirePayment: true})
	require.NoError(t, err)
	assert.Equal(t, types.RejectInsufficientPayment, out.Reason)
	assert.False(t, s.Has(rec.Address))

	out, err = s.Put(rec, proofFor(price.Amount), PutOptions{RequirePayment: true})
	require.NoError(t, err)
	assert.True(t, out.Accepted())
	assert.Equal(t, price.Amount, payments.price.Amount)
}

// TestStore_ExistingChunkIsIdempotent 测试已有内容块再次写入无需支付
func TestStore_ExistingChunkIsIdempotent(t *testing.T) {
	s, payments := newStore(t)
	rec := types.NewChunk([]byte("again"))

	_, err := s.Put(rec, proofFor(1000), PutOptions{RequirePayment: true})
	require.NoError(t, err)

	out, err := s.Put(rec, nil, PutOptions{RequirePayment: true})
	require.NoError(t, err)
	assert.True(t, out.Accepted())
	assert.False(t, out.Changed)
	assert.Equal(t, 1, payments.calls)
}

// TestStore_ReplicateNeedsNoPayment 测试副本同步不要求支付但仍校验地址
func TestStore_ReplicateNeedsNoPayment(t *testing.T) {
	s, payments := newStore(t)

	out, err := s.Put(types.NewChunk([]byte("replica")), nil, PutOptions{})
	require.NoError(t, err)
	assert.True(t, out.Accepted())
	assert.Zero(t, payments.calls)

	forged := types.NewChunk([]byte("replica 2"))
	forged.Payload = []byte("other")
	out, err = s.Put(forged, nil, PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.RejectHashMismatch, out.Reason)
}

// TestStore_ConcurrentRegisterWritesMerge 测试两个并发的寄存器写入被合并而不是覆盖
func TestStore_ConcurrentRegisterWritesMerge(t *testing.T) {
	s, _ := newStore(t)

	first := register("alice", "entry-from-writer-1")
	second := register("alice", "entry-from-writer-2")

	out, err := s.Put(first, proofFor(1000), PutOptions{RequirePayment: true})
	require.NoError(t, err)
	require.True(t, out.Accepted())

	// 第二个写入不需要支付：地址已存在，走合并
	out, err = s.Put(second, nil, PutOptions{RequirePayment: true})
	require.NoError(t, err)
	require.True(t, out.Accepted())
	assert.True(t, out.Changed)

	got, err := s.Get(first.Address)
	require.NoError(t, err)
	assert.Equal(t, "entry-from-writer-1\nentry-from-writer-2", string(got.Payload))

	// 重放同一写入不产生变化
	out, err = s.Put(first, nil, PutOptions{})
	require.NoError(t, err)
	assert.True(t, out.Accepted())
	assert.False(t, out.Changed)
}

// TestStore_ScratchpadMerge 测试草稿区由合并协作者决定胜者
func TestStore_ScratchpadMerge(t *testing.T) {
	s, _ := newStore(t)
	mk := func(p string) *types.Record {
		r := register("bob", p)
		r.Kind = types.KindScratchpad
		r.Address = types.OwnerAddress(types.KindScratchpad, r.Owner)
		return r
	}

	_, err := s.Put(mk("v2"), proofFor(1000), PutOptions{RequirePayment: true})
	require.NoError(t, err)
	_, err = s.Put(mk("v1"), nil, PutOptions{})
	require.NoError(t, err)

	got, err := s.Get(mk("v1").Address)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got.Payload))
}

// TestStore_EvictsFarthestFirst 测试容量满时淘汰离本节点最远的记录
func TestStore_EvictsFarthestFirst(t *testing.T) {
	p := &fakePayments{ok: true}
	s := openStore(t, memEngine(t), Config{
		MaxRecords: 3, MaxBytes: 1 << 20, MaxRecordSize: 1 << 10, BasePrice: 1,
	}, p)
	c := chunksByDistance(6)

	for _, i := range []int{0, 2, 4} {
		out, err := s.Put(c[i], nil, PutOptions{})
		require.NoError(t, err)
		require.True(t, out.Accepted())
	}

	// c4 最远但被固定，淘汰 c2
	s.Pin(c[4].Address)
	out, err := s.Put(c[1], nil, PutOptions{})
	require.NoError(t, err)
	require.True(t, out.Accepted())
	assert.Equal(t, []types.Address{c[2].Address}, out.Evicted)
	assert.False(t, s.Has(c[2].Address))
	assert.True(t, s.Has(c[4].Address))

	// 唯一更远的 c4 被固定，c3 无处安放
	out, err = s.Put(c[3], nil, PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.RejectCapacityExceeded, out.Reason)
	assert.ErrorIs(t, out.Err(), types.ErrCapacityExceeded)
	assert.Equal(t, 3, s.Len())

	// 比所有已存记录都远的新记录被拒绝
	s.Unpin(c[4].Address)
	assert.False(t, s.Pinned(c[4].Address))
	out, err = s.Put(c[5], nil, PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, types.RejectCapacityExceeded, out.Reason)

	// 解除固定后 c4 可以被淘汰
	out, err = s.Put(c[3], nil, PutOptions{})
	require.NoError(t, err)
	require.True(t, out.Accepted())
	assert.Equal(t, []types.Address{c[4].Address}, out.Evicted)

	_, err = s.Get(c[4].Address)
	assert.ErrorIs(t, err, types.ErrNotFound)
}

// TestStore_PinIsCounted 测试固定计数
func TestStore_PinIsCounted(t *testing.T) {
	s, _ := newStore(t)
	a := types.ChunkAddress([]byte("x"))

	s.Pin(a)
	s.Pin(a)
	s.Unpin(a)
	assert.True(t, s.Pinned(a))
	s.Unpin(a)
	assert.False(t, s.Pinned(a))
	s.Unpin(a)
	assert.False(t, s.Pinned(a))
}

// TestStore_QuoteGrowsWithPressure 测试报价随占用率和大小上升
func TestStore_QuoteGrowsWithPressure(t *testing.T) {
	p := &fakePayments{ok: true}
	s := openStore(t, memEngine(t), Config{
		MaxRecords: 2, MaxBytes: 1 << 20, MaxRecordSize: 1 << 12, BasePrice: 10, PriceMultiplier: 9,
	}, p)

	empty := s.Quote(100)
	assert.Equal(t, uint64(10), empty.Amount)
	assert.Equal(t, uint64(20), s.Quote(1025).Amount)
	assert.Equal(t, localPeer, empty.Payee)

	_, err := s.Put(types.NewChunk([]byte("one")), nil, PutOptions{})
	require.NoError(t, err)
	// fill = 0.5 -> 10 * (1 + 9*0.25) = 32.5 -> 33
	assert.Equal(t, uint64(33), s.Quote(100).Amount)

	_, err = s.Put(types.NewChunk([]byte("two")), nil, PutOptions{})
	require.NoError(t, err)
	assert.Equal(t, uint64(100), s.Quote(100).Amount)
	assert.Equal(t, 1.0, s.Stats().Fill)
}

// TestStore_AddressesOrderedAndRestartable 测试地址遍历
func TestStore_AddressesOrderedAndRestartable(t *testing.T) {
	s, _ := newStore(t)
	for i := 0; i < 5; i++ {
		_, err := s.Put(types.NewChunk([]byte{byte(i)}), nil, PutOptions{})
		require.NoError(t, err)
	}

	first := addresses(s)
	require.Len(t, first, 5)
	for i := 1; i < len(first); i++ {
		assert.Negative(t, compareAddr(first[i-1], first[i]))
	}
	assert.Equal(t, first, addresses(s))

	// 提前终止
	n := 0
	for range s.Addresses() {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)

	batch := s.AddressesAfter(nil, 2)
	assert.Equal(t, first[:2], batch)
	batch = s.AddressesAfter(&batch[1], 10)
	assert.Equal(t, first[2:], batch)
	assert.Empty(t, s.AddressesAfter(&first[4], 10))

	require.NoError(t, s.Remove(first[0]))
	require.NoError(t, s.Remove(first[0]))
	assert.Equal(t, first[1:], addresses(s))
}

// TestStore_ReopenRevalidatesLazily 测试重启后记录在通过重新校验前不对外提供
func TestStore_ReopenRevalidatesLazily(t *testing.T) {
	dir := t.TempDir()
	open := func() engine.Engine {
		cfg := engine.DefaultConfig(dir)
		cfg.GCInterval = 0
		eng, err := badger.Open(cfg)
		require.NoError(t, err)
		return eng
	}

	eng := open()
	s := openStore(t, eng, DefaultConfig(), &fakePayments{ok: true})
	reg := register("carol", "v")
	chunk := types.NewChunk([]byte("durable"))
	for _, r := range []*types.Record{reg, chunk} {
		out, err := s.Put(r, nil, PutOptions{})
		require.NoError(t, err)
		require.True(t, out.Accepted())
	}
	require.NoError(t, eng.Close())

	// 签名协作者现在拒绝一切：寄存器不再可用，内容块只靠哈希，仍然可用
	eng = open()
	defer eng.Close()
	s2, err := Open(eng, localPeer, DefaultConfig(), Deps{
		Verifier: rejectAllVerifier{},
		Merger:   lineSetMerger{},
		Payments: &fakePayments{ok: true},
		Clock:    clock.NewMock(),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, s2.Len())
	assert.True(t, s2.Has(reg.Address))

	_, err = s2.Get(reg.Address)
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.False(t, s2.Has(reg.Address))

	got, err := s2.Get(chunk.Address)
	require.NoError(t, err)
	assert.True(t, chunk.Equal(got))
	assert.Equal(t, int64(chunk.Size()), s2.Stats().Bytes)
}

// TestStore_ReopenPrunesToCapacity 测试容量缩小后重启按距离淘汰
func TestStore_ReopenPrunesToCapacity(t *testing.T) {
	eng := memEngine(t)
	s := openStore(t, eng, DefaultConfig(), &fakePayments{ok: true})
	c := chunksByDistance(4)
	for _, r := range c {
		_, err := s.Put(r, nil, PutOptions{})
		require.NoError(t, err)
	}

	small := DefaultConfig()
	small.MaxRecords = 2
	s2 := openStore(t, eng, small, &fakePayments{ok: true})
	assert.Equal(t, 2, s2.Len())
	assert.True(t, s2.Has(c[0].Address))
	assert.True(t, s2.Has(c[1].Address))
}

// TestOpen_Validation 测试打开参数校验
func TestOpen_Validation(t *testing.T) {
	eng := memEngine(t)

	_, err := Open(eng, localPeer, Config{}, Deps{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Open(eng, localPeer, DefaultConfig(), Deps{Verifier: fakeVerifier{}})
	assert.ErrorIs(t, err, ErrMissingCollaborator)
}
