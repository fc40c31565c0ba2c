package collab

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-recordnet/pkg/types"
)

func newKey(t *testing.T) ed25519.PrivateKey {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return priv
}

func entries(t *testing.T, rec *types.Record) []string {
	t.Helper()
	es, err := DecodeRegister(rec.Payload)
	require.NoError(t, err)
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = string(e.Data)
	}
	return out
}

// TestEd25519Verifier_Register 测试 Register 条目签名校验
func TestEd25519Verifier_Register(t *testing.T) {
	priv := newKey(t)
	rec := NewRegister(priv, []byte("b"), []byte("a"))

	require.NoError(t, Ed25519Verifier{}.Verify(rec))
	assert.Equal(t, []string{"a", "b"}, entries(t, rec))
	addr, ok := rec.ExpectedAddress()
	require.True(t, ok)
	assert.Equal(t, addr, rec.Address)

	tampered := rec.Clone()
	tampered.Payload[len(tampered.Payload)-1] ^= 0xFF
	assert.ErrorIs(t, Ed25519Verifier{}.Verify(tampered), ErrBadSignature)

	other := NewRegister(newKey(t), []byte("a"))
	forged := rec.Clone()
	forged.Payload = other.Payload
	assert.ErrorIs(t, Ed25519Verifier{}.Verify(forged), ErrBadSignature)
}

// TestEd25519Verifier_Scratchpad 测试 Scratchpad 整条签名校验
func TestEd25519Verifier_Scratchpad(t *testing.T) {
	priv := newKey(t)
	rec := NewScratchpad(priv, 7, []byte("state"))
	require.NoError(t, Ed25519Verifier{}.Verify(rec))

	counter, data, err := ScratchpadCounter(rec.Payload)
	require.NoError(t, err)
	assert.EqualValues(t, 7, counter)
	assert.Equal(t, []byte("state"), data)

	rec.Payload[0] = 1
	assert.ErrorIs(t, Ed25519Verifier{}.Verify(rec), ErrBadSignature)

	short := NewScratchpad(priv, 1, nil)
	short.Owner = []byte("short")
	assert.ErrorIs(t, Ed25519Verifier{}.Verify(short), ErrBadOwner)
}

// TestSetMerger_RegisterUnion 测试并发写入的 Register 合并为并集，且满足交换律与幂等
func TestSetMerger_RegisterUnion(t *testing.T) {
	priv := newKey(t)
	x := NewRegister(priv, []byte("x"))
	y := NewRegister(priv, []byte("y"))

	xy, err := SetMerger{}.Merge(x, y)
	require.NoError(t, err)
	yx, err := SetMerger{}.Merge(y, x)
	require.NoError(t, err)

	assert.Equal(t, []string{"x", "y"}, entries(t, xy))
	assert.True(t, xy.Equal(yx))
	require.NoError(t, Ed25519Verifier{}.Verify(xy), "merged register stays verifiable")

	again, err := SetMerger{}.Merge(xy, y)
	require.NoError(t, err)
	assert.True(t, again.Equal(xy))
}

// TestSetMerger_ScratchpadCounter 测试计数器大者胜出，相同时按内容哈希
func TestSetMerger_ScratchpadCounter(t *testing.T) {
	priv := newKey(t)
	old := NewScratchpad(priv, 1, []byte("old"))
	cur := NewScratchpad(priv, 2, []byte("new"))

	got, err := SetMerger{}.Merge(old, cur)
	require.NoError(t, err)
	assert.True(t, got.Equal(cur))
	got, err = SetMerger{}.Merge(cur, old)
	require.NoError(t, err)
	assert.True(t, got.Equal(cur))

	a := NewScratchpad(priv, 3, []byte("a"))
	b := NewScratchpad(priv, 3, []byte("b"))
	ab, err := SetMerger{}.Merge(a, b)
	require.NoError(t, err)
	ba, err := SetMerger{}.Merge(b, a)
	require.NoError(t, err)
	assert.True(t, ab.Equal(ba))
}

// TestSetMerger_Mismatch 测试不同地址的记录不能合并
func TestSetMerger_Mismatch(t *testing.T) {
	_, err := SetMerger{}.Merge(NewRegister(newKey(t), []byte("a")), NewRegister(newKey(t), []byte("a")))
	assert.ErrorIs(t, err, ErrMergeMismatch)
}

// TestDecodeRegister_Truncated 测试截断的负载
func TestDecodeRegister_Truncated(t *testing.T) {
	rec := NewRegister(newKey(t), []byte("entry"))
	_, err := DecodeRegister(rec.Payload[:len(rec.Payload)-3])
	assert.ErrorIs(t, err, ErrBadPayload)
}

// TestQuoteVerifier 测试收款方与金额检查
func TestQuoteVerifier(t *testing.T) {
	local := types.PeerID{1}
	v := QuoteVerifier{Local: local}
	price := types.Price{Amount: 10, Payee: local}

	assert.True(t, v.VerifyProof(&types.PaymentProof{Payee: local, Amount: 10, TxRef: []byte("tx")}, price))
	assert.False(t, v.VerifyProof(&types.PaymentProof{Payee: local, Amount: 9, TxRef: []byte("tx")}, price))
	assert.False(t, v.VerifyProof(&types.PaymentProof{Payee: types.PeerID{2}, Amount: 10, TxRef: []byte("tx")}, price))
	assert.False(t, v.VerifyProof(nil, price))
}

// TestParseBootstrap 测试引导地址解析
func TestParseBootstrap(t *testing.T) {
	bs, err := ParseBootstrap([]string{"/ip4/127.0.0.1/tcp/4001", " ", "/ip4/10.0.0.1/tcp/4002"})
	require.NoError(t, err)
	require.Len(t, bs.InitialPeers(), 2)
	assert.Equal(t, "/ip4/10.0.0.1/tcp/4002", bs.InitialPeers()[1].String())

	full := "/ip4/10.0.0.2/tcp/4003/p2p/" + types.PeerID{7}.String()
	bs, err = ParseBootstrap([]string{full})
	require.NoError(t, err)
	require.Len(t, bs.InitialPeers(), 1)
	assert.Equal(t, "/ip4/10.0.0.2/tcp/4003", bs.InitialPeers()[0].String())

	_, err = ParseBootstrap([]string{"not-an-addr"})
	assert.Error(t, err)
	_, err = ParseBootstrap([]string{"/ip4/10.0.0.2/tcp/4003/p2p/bad-id"})
	assert.Error(t, err)
}
