package collab

import (
	"fmt"
	"strings"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-recordnet/internal/util/addrutil"
	"github.com/dep2p/go-recordnet/pkg/interfaces"
)

// StaticBootstrap 固定的引导地址
type StaticBootstrap []ma.Multiaddr

var _ interfaces.BootstrapSource = StaticBootstrap(nil)

// InitialPeers 实现 interfaces.BootstrapSource
func (s StaticBootstrap) InitialPeers() []ma.Multiaddr {
	out := make([]ma.Multiaddr, len(s))
	copy(out, s)
	return out
}

// ParseBootstrap 解析引导地址列表，空白项被忽略
//
// 接受纯拨号地址或带 /p2p/<PeerID> 后缀的完整地址；节点 ID 由握手确定，
// 后缀只做格式检查后去掉。
func ParseBootstrap(addrs []string) (StaticBootstrap, error) {
	out := make(StaticBootstrap, 0, len(addrs))
	for _, s := range addrs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		_, a, err := addrutil.SplitAddr(s)
		if err != nil {
			return nil, fmt.Errorf("bootstrap address %q: %w", s, err)
		}
		out = append(out, a)
	}
	return out, nil
}
