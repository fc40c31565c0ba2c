package types

import (
	"bytes"
	"errors"
	"math/bits"

	"github.com/mr-tron/base58"
)

// ============================================================================
//                              Address - 记录地址
// ============================================================================

// AddressLen 地址与节点 ID 的字节长度
const AddressLen = 32

// Address 256 位记录地址
//
// 由内容（Chunk）或拥有者公钥（Register/Scratchpad）确定性派生。
type Address [AddressLen]byte

// EmptyAddress 零地址
var EmptyAddress Address

// ErrInvalidAddress 地址长度或编码错误
var ErrInvalidAddress = errors.New("types: invalid address")

// String Base58 表示
func (a Address) String() string {
	return base58.Encode(a[:])
}

// ShortString 日志用短标识
func (a Address) ShortString() string {
	return shorten(a.String())
}

// Bytes 字节切片（副本）
func (a Address) Bytes() []byte {
	b := make([]byte, AddressLen)
	copy(b, a[:])
	return b
}

// IsEmpty 是否为零地址
func (a Address) IsEmpty() bool {
	return a == EmptyAddress
}

// AddressFromBytes 从 32 字节构造地址
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLen {
		return a, ErrInvalidAddress
	}
	copy(a[:], b)
	return a, nil
}

// ParseAddress 解析 Base58 地址
func ParseAddress(s string) (Address, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyAddress, ErrInvalidAddress
	}
	return AddressFromBytes(b)
}

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// PeerID 节点标识，公钥的 SHA-256
type PeerID [AddressLen]byte

// EmptyPeerID 零值
var EmptyPeerID PeerID

// ErrInvalidPeerID 节点 ID 长度或编码错误
var ErrInvalidPeerID = errors.New("types: invalid peer id")

// String Base58 表示
func (id PeerID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode(id[:])
}

// ShortString 日志用短标识
func (id PeerID) ShortString() string {
	return shorten(id.String())
}

// Bytes 字节切片（副本）
func (id PeerID) Bytes() []byte {
	b := make([]byte, AddressLen)
	copy(b, id[:])
	return b
}

// IsEmpty 是否为零值
func (id PeerID) IsEmpty() bool {
	return id == EmptyPeerID
}

// Address 节点 ID 在地址空间中的位置
func (id PeerID) Address() Address {
	return Address(id)
}

// Less 按字节序比较，用于距离相等时的稳定排序
func (id PeerID) Less(other PeerID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// PeerIDFromBytes 从 32 字节构造
func PeerIDFromBytes(b []byte) (PeerID, error) {
	var id PeerID
	if len(b) != AddressLen {
		return id, ErrInvalidPeerID
	}
	copy(id[:], b)
	return id, nil
}

// ParsePeerID 解析 Base58 节点 ID
func ParsePeerID(s string) (PeerID, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyPeerID, ErrInvalidPeerID
	}
	return PeerIDFromBytes(b)
}

func shorten(s string) string {
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// ============================================================================
//                              距离
// ============================================================================

// Distance 异或距离
func Distance(a, b Address) Address {
	var d Address
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

// CompareDistance 比较 a、b 到 target 的距离
//
// a 更近返回 -1，b 更近返回 1，相等返回 0。
func CompareDistance(a, b, target Address) int {
	for i := 0; i < AddressLen; i++ {
		da := a[i] ^ target[i]
		db := b[i] ^ target[i]
		if da != db {
			if da < db {
				return -1
			}
			return 1
		}
	}
	return 0
}

// CommonPrefixLen 公共前缀位数，相等时为 256
func CommonPrefixLen(a, b Address) int {
	for i := 0; i < AddressLen; i++ {
		if x := a[i] ^ b[i]; x != 0 {
			return i*8 + bits.LeadingZeros8(x)
		}
	}
	return AddressLen * 8
}
