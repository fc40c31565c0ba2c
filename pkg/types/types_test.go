package types

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAddress_Base58RoundTrip 测试地址文本形式
func TestAddress_Base58RoundTrip(t *testing.T) {
	a := ChunkAddress([]byte("hello"))

	parsed, err := ParseAddress(a.String())
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
	assert.Len(t, a.ShortString(), 8)

	_, err = ParseAddress("0OIl")
	assert.ErrorIs(t, err, ErrInvalidAddress)
	_, err = AddressFromBytes([]byte{1, 2})
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

// TestPeerID_Empty 测试零值 ID
func TestPeerID_Empty(t *testing.T) {
	var id PeerID
	assert.True(t, id.IsEmpty())
	assert.Equal(t, "", id.String())

	id[0] = 1
	parsed, err := ParsePeerID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

// TestCompareDistance 测试距离比较
func TestCompareDistance(t *testing.T) {
	var target, near, far Address
	near[31] = 0x01
	far[0] = 0x80

	assert.Equal(t, -1, CompareDistance(near, far, target))
	assert.Equal(t, 1, CompareDistance(far, near, target))
	assert.Equal(t, 0, CompareDistance(near, near, target))

	assert.Equal(t, 256, CommonPrefixLen(near, near))
	assert.Equal(t, 0, CommonPrefixLen(target, far))
	assert.Equal(t, 255, CommonPrefixLen(target, near))

	d := Distance(near, far)
	assert.Equal(t, byte(0x80), d[0])
	assert.Equal(t, byte(0x01), d[31])
}

// TestCompareDistance_SortsByXOR 测试按距离排序与逐位异或一致
func TestCompareDistance_SortsByXOR(t *testing.T) {
	target := ChunkAddress([]byte("target"))
	addrs := []Address{
		ChunkAddress([]byte("a")),
		ChunkAddress([]byte("b")),
		ChunkAddress([]byte("c")),
		ChunkAddress([]byte("d")),
	}
	sort.Slice(addrs, func(i, j int) bool {
		return CompareDistance(addrs[i], addrs[j], target) < 0
	})
	for i := 1; i < len(addrs); i++ {
		di := Distance(addrs[i-1], target)
		dj := Distance(addrs[i], target)
		assert.True(t, string(di[:]) < string(dj[:]))
	}
}

// TestRecord_Addresses 测试各类型地址推导
func TestRecord_Addresses(t *testing.T) {
	chunk := NewChunk([]byte("payload"))
	got, ok := chunk.ExpectedAddress()
	require.True(t, ok)
	assert.Equal(t, chunk.Address, got)

	owner := []byte("owner-key")
	reg := &Record{Kind: KindRegister, Owner: owner, Address: OwnerAddress(KindRegister, owner)}
	got, ok = reg.ExpectedAddress()
	require.True(t, ok)
	assert.Equal(t, reg.Address, got)
	assert.NotEqual(t, OwnerAddress(KindScratchpad, owner), reg.Address)

	_, ok = (&Record{Kind: KindScratchpad}).ExpectedAddress()
	assert.False(t, ok)
	_, ok = (&Record{Kind: KindUnknown}).ExpectedAddress()
	assert.False(t, ok)
}

// TestRecord_ContentHash 测试内容哈希区分不同版本
func TestRecord_ContentHash(t *testing.T) {
	a := &Record{Kind: KindScratchpad, Owner: []byte("o"), Payload: []byte("v1")}
	b := a.Clone()
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.ContentHash(), b.ContentHash())

	b.Payload = []byte("v2")
	assert.False(t, a.Equal(b))
	assert.NotEqual(t, a.ContentHash(), b.ContentHash())

	// 字段边界不能混淆
	c := &Record{Kind: KindScratchpad, Owner: []byte("ov"), Payload: []byte("1")}
	d := &Record{Kind: KindScratchpad, Owner: []byte("o"), Payload: []byte("v1")}
	assert.NotEqual(t, c.ContentHash(), d.ContentHash())
}

// TestPaymentProof_WellFormed 测试凭证格式检查
func TestPaymentProof_WellFormed(t *testing.T) {
	var nilProof *PaymentProof
	assert.False(t, nilProof.WellFormed())

	p := &PaymentProof{Payee: PeerID{1}, Amount: 10, TxRef: []byte("tx")}
	assert.True(t, p.WellFormed())

	p.Amount = 0
	assert.False(t, p.WellFormed())

	p.Amount = 10
	p.TxRef = make([]byte, MaxTxRefLen+1)
	assert.False(t, p.WellFormed())
}

// TestQuorum_Required 测试法定数
func TestQuorum_Required(t *testing.T) {
	assert.Equal(t, 1, QuorumOne.Required())
	assert.Equal(t, 3, QuorumMajority.Required())
	assert.Equal(t, CloseGroupSize, QuorumAll.Required())
	assert.Equal(t, 2, QuorumN(2).Required())
	assert.True(t, QuorumN(0).IsOne())
}

// TestRejectedError_Classification 测试拒绝错误归类
func TestRejectedError_Classification(t *testing.T) {
	err := Rejected(RejectInsufficientPayment)
	assert.ErrorIs(t, err, ErrValidation)
	assert.False(t, errors.Is(err, ErrCapacityExceeded))
	assert.Contains(t, err.Error(), "InsufficientPayment")

	err = Rejected(RejectCapacityExceeded)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.False(t, errors.Is(err, ErrValidation))

	reason, ok := RejectReasonOf(err)
	require.True(t, ok)
	assert.Equal(t, RejectCapacityExceeded, reason)

	_, ok = RejectReasonOf(ErrTimeout)
	assert.False(t, ok)
	assert.Equal(t, "RejectReason(200)", RejectReason(200).String())
}
