package config

import (
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/dep2p/go-recordnet/internal/util/addrutil"
)

// ListenConfig 监听与连接
type ListenConfig struct {
	// Addrs 监听的 multiaddr，端口 0 由系统分配；为空时节点只出站
	Addrs []string `json:"addrs"`

	// RequestTimeout 单个请求的超时
	RequestTimeout Duration `json:"request_timeout"`

	// DialTimeout 建立连接的超时
	DialTimeout Duration `json:"dial_timeout"`
}

// DefaultListenConfig 默认监听配置
func DefaultListenConfig() ListenConfig {
	return ListenConfig{
		Addrs:          []string{"/ip4/0.0.0.0/tcp/4001"},
		RequestTimeout: Duration(10 * time.Second),
		DialTimeout:    Duration(10 * time.Second),
	}
}

// Validate 校验
func (c ListenConfig) Validate() error {
	if _, err := c.Multiaddrs(); err != nil {
		return invalid("listen", "%v", err)
	}
	if c.RequestTimeout <= 0 {
		return invalid("listen", "request_timeout must be positive")
	}
	if c.DialTimeout <= 0 {
		return invalid("listen", "dial_timeout must be positive")
	}
	return nil
}

// Multiaddrs 解析监听地址
func (c ListenConfig) Multiaddrs() ([]ma.Multiaddr, error) {
	return parseAddrs(c.Addrs)
}

// BootstrapConfig 引导节点
type BootstrapConfig struct {
	// Peers 启动时拨号的地址，可带 /p2p/<PeerID> 后缀
	Peers []string `json:"peers"`
}

// DefaultBootstrapConfig 默认不配置引导节点
func DefaultBootstrapConfig() BootstrapConfig {
	return BootstrapConfig{}
}

// Validate 校验
func (c BootstrapConfig) Validate() error {
	for _, s := range c.Peers {
		if _, _, err := addrutil.SplitAddr(s); err != nil {
			return invalid("bootstrap", "%q: %v", s, err)
		}
	}
	return nil
}

func parseAddrs(in []string) ([]ma.Multiaddr, error) {
	out := make([]ma.Multiaddr, 0, len(in))
	for _, s := range in {
		a, err := ma.NewMultiaddr(s)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
