package recordnet

import (
	"errors"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-recordnet/internal/swarm"
	"github.com/dep2p/go-recordnet/internal/swarm/identity"
	"github.com/dep2p/go-recordnet/pkg/interfaces"
)

// Option 节点选项
type Option func(*options) error

type options struct {
	swarm     swarm.Swarm
	identity  *identity.Identity
	verifier  interfaces.SignatureVerifier
	merger    interfaces.Merger
	payments  interfaces.PaymentVerifier
	bootstrap interfaces.BootstrapSource
	clock     clock.Clock
	fxOptions []fx.Option
}

// WithIdentity 使用给定身份，忽略配置中的密钥文件
func WithIdentity(id *identity.Identity) Option {
	return func(o *options) error {
		if id == nil {
			return errors.New("recordnet: nil identity")
		}
		o.identity = id
		return nil
	}
}

// WithSwarm 使用给定网络代替 TCP 网络；节点 ID 取 sw.LocalPeer()
func WithSwarm(sw swarm.Swarm) Option {
	return func(o *options) error {
		if sw == nil {
			return errors.New("recordnet: nil swarm")
		}
		o.swarm = sw
		return nil
	}
}

// WithSignatureVerifier 替换可变记录的签名校验
func WithSignatureVerifier(v interfaces.SignatureVerifier) Option {
	return func(o *options) error {
		o.verifier = v
		return nil
	}
}

// WithMerger 替换可变记录的合并
func WithMerger(m interfaces.Merger) Option {
	return func(o *options) error {
		o.merger = m
		return nil
	}
}

// WithPaymentVerifier 替换支付凭证校验
func WithPaymentVerifier(v interfaces.PaymentVerifier) Option {
	return func(o *options) error {
		o.payments = v
		return nil
	}
}

// WithBootstrap 替换引导节点来源，忽略配置中的 bootstrap.peers
func WithBootstrap(b interfaces.BootstrapSource) Option {
	return func(o *options) error {
		o.bootstrap = b
		return nil
	}
}

// WithClock 注入时钟
func WithClock(c clock.Clock) Option {
	return func(o *options) error {
		o.clock = c
		return nil
	}
}

// WithFxOptions 追加 fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.fxOptions = append(o.fxOptions, opts...)
		return nil
	}
}
