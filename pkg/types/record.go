package types

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// ============================================================================
//                              RecordKind - 记录类型
// ============================================================================

// RecordKind 记录类型，决定地址派生与校验规则
type RecordKind uint8

const (
	// KindUnknown 未知类型，总是被拒绝
	KindUnknown RecordKind = iota
	// KindChunk 不可变内容块，地址 = sha3(payload)
	KindChunk
	// KindRegister 可合并的寄存器，地址由拥有者派生
	KindRegister
	// KindScratchpad 拥有者可覆盖的草稿区，地址由拥有者派生
	KindScratchpad
)

// String 返回类型名称
func (k RecordKind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindRegister:
		return "register"
	case KindScratchpad:
		return "scratchpad"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid 是否为已知类型
func (k RecordKind) Valid() bool {
	return k >= KindChunk && k <= KindScratchpad
}

// Mutable 是否由拥有者派生地址、需要签名与合并
func (k RecordKind) Mutable() bool {
	return k == KindRegister || k == KindScratchpad
}

// ============================================================================
//                              Record - 记录
// ============================================================================

// Record 存储单元
type Record struct {
	Address Address
	Kind    RecordKind
	Payload []byte

	// Owner 拥有者公钥，仅可变记录使用
	Owner []byte

	// Signature 拥有者签名，格式由签名协作者定义
	Signature []byte
}

// Size 计入容量预算的字节数
func (r *Record) Size() int {
	return len(r.Payload) + len(r.Owner) + len(r.Signature)
}

// Clone 深拷贝
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Address:   r.Address,
		Kind:      r.Kind,
		Payload:   bytes.Clone(r.Payload),
		Owner:     bytes.Clone(r.Owner),
		Signature: bytes.Clone(r.Signature),
	}
}

// Equal 逐字段比较
func (r *Record) Equal(o *Record) bool {
	if r == nil || o == nil {
		return r == o
	}
	return r.Address == o.Address &&
		r.Kind == o.Kind &&
		bytes.Equal(r.Payload, o.Payload) &&
		bytes.Equal(r.Owner, o.Owner) &&
		bytes.Equal(r.Signature, o.Signature)
}

// SigningBytes 拥有者签名覆盖的内容: kind || address || payload
func (r *Record) SigningBytes() []byte {
	out := make([]byte, 0, 1+AddressLen+len(r.Payload))
	out = append(out, byte(r.Kind))
	out = append(out, r.Address[:]...)
	return append(out, r.Payload...)
}

// ContentHash 记录整体内容的哈希
//
// 同一地址的不同版本哈希不同，分布式读取用它区分副本是否一致。
func (r *Record) ContentHash() [32]byte {
	h := sha3.New256()
	var lenBuf [binary.MaxVarintLen64]byte
	writeField := func(b []byte) {
		n := binary.PutUvarint(lenBuf[:], uint64(len(b)))
		h.Write(lenBuf[:n])
		h.Write(b)
	}
	h.Write([]byte{byte(r.Kind)})
	h.Write(r.Address[:])
	writeField(r.Payload)
	writeField(r.Owner)
	writeField(r.Signature)

	var out [32]byte
	h.Sum(out[:0])
	return out
}

// ============================================================================
//                              地址派生
// ============================================================================

// ChunkAddress 内容块地址
func ChunkAddress(payload []byte) Address {
	return Address(sha3.Sum256(payload))
}

// OwnerAddress 可变记录地址: sha3(kind || owner)
//
// 同一拥有者的 Register 与 Scratchpad 落在不同地址。
func OwnerAddress(kind RecordKind, owner []byte) Address {
	h := sha3.New256()
	h.Write([]byte{byte(kind)})
	h.Write(owner)
	var a Address
	h.Sum(a[:0])
	return a
}

// NewChunk 构造内容块
func NewChunk(payload []byte) *Record {
	return &Record{
		Address: ChunkAddress(payload),
		Kind:    KindChunk,
		Payload: payload,
	}
}

// ExpectedAddress 按类型规则从内容推导出的地址
func (r *Record) ExpectedAddress() (Address, bool) {
	switch r.Kind {
	case KindChunk:
		return ChunkAddress(r.Payload), true
	case KindRegister, KindScratchpad:
		if len(r.Owner) == 0 {
			return EmptyAddress, false
		}
		return OwnerAddress(r.Kind, r.Owner), true
	default:
		return EmptyAddress, false
	}
}
