// Package addrutil 提供完整地址的解析与构建
//
// 完整地址是可拨号地址加上 /p2p/<PeerID> 后缀，用于引导配置与地址分享:
//
//	/ip4/1.2.3.4/tcp/4001/p2p/<PeerID>
//
// PeerID 是 Base58 编码的 32 字节 ID，不是 multihash，go-multiaddr 的 p2p
// 协议无法解析它，因此后缀按字符串处理。
package addrutil

import (
	"errors"
	"strings"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-recordnet/pkg/types"
)

// ============================================================================
//                              错误定义
// ============================================================================

var (
	// ErrEmptyAddress 空地址
	ErrEmptyAddress = errors.New("addrutil: empty address")

	// ErrMissingPeerID 缺少 /p2p/<PeerID> 后缀
	ErrMissingPeerID = errors.New("addrutil: missing /p2p/<PeerID> suffix")

	// ErrInvalidPeerID 无效的 PeerID
	ErrInvalidPeerID = errors.New("addrutil: invalid peer id in address")

	// ErrPeerIDNotAtEnd /p2p/<PeerID> 不在地址末尾
	ErrPeerIDNotAtEnd = errors.New("addrutil: /p2p/<PeerID> must be the last component")

	// ErrInvalidDialAddr 去掉后缀后的部分不是合法 multiaddr
	ErrInvalidDialAddr = errors.New("addrutil: invalid dial address")
)

const p2pComponent = "/p2p/"

// ============================================================================
//                              解析
// ============================================================================

// ParseFullAddr 解析完整地址，返回节点 ID 与可拨号地址
func ParseFullAddr(fullAddr string) (types.PeerID, ma.Multiaddr, error) {
	fullAddr = strings.TrimSpace(fullAddr)
	if fullAddr == "" {
		return types.EmptyPeerID, nil, ErrEmptyAddress
	}
	idx := strings.LastIndex(fullAddr, p2pComponent)
	if idx == -1 {
		return types.EmptyPeerID, nil, ErrMissingPeerID
	}

	idStr := fullAddr[idx+len(p2pComponent):]
	if strings.Contains(idStr, "/") {
		return types.EmptyPeerID, nil, ErrPeerIDNotAtEnd
	}
	id, err := types.ParsePeerID(idStr)
	if err != nil {
		return types.EmptyPeerID, nil, ErrInvalidPeerID
	}

	dial, err := ma.NewMultiaddr(fullAddr[:idx])
	if err != nil {
		return types.EmptyPeerID, nil, errors.Join(ErrInvalidDialAddr, err)
	}
	return id, dial, nil
}

// SplitAddr 解析完整地址或纯拨号地址
//
// 没有 /p2p/ 后缀时返回 EmptyPeerID。
func SplitAddr(addr string) (types.PeerID, ma.Multiaddr, error) {
	addr = strings.TrimSpace(addr)
	if !HasPeerID(addr) {
		if addr == "" {
			return types.EmptyPeerID, nil, ErrEmptyAddress
		}
		dial, err := ma.NewMultiaddr(addr)
		if err != nil {
			return types.EmptyPeerID, nil, errors.Join(ErrInvalidDialAddr, err)
		}
		return types.EmptyPeerID, dial, nil
	}
	return ParseFullAddr(addr)
}

// HasPeerID 地址是否带 /p2p/<PeerID> 后缀
func HasPeerID(addr string) bool {
	return strings.Contains(addr, p2pComponent)
}

// ============================================================================
//                              构建
// ============================================================================

// BuildFullAddr 拼接完整地址
func BuildFullAddr(addr ma.Multiaddr, id types.PeerID) (string, error) {
	if addr == nil {
		return "", ErrEmptyAddress
	}
	if id.IsEmpty() {
		return "", ErrInvalidPeerID
	}
	return addr.String() + p2pComponent + id.String(), nil
}

// FullAddrs 为每个地址拼接同一个节点 ID，跳过无效项
func FullAddrs(addrs []ma.Multiaddr, id types.PeerID) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if s, err := BuildFullAddr(a, id); err == nil {
			out = append(out, s)
		}
	}
	return out
}
