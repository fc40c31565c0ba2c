package recordnet

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-recordnet/config"
	"github.com/dep2p/go-recordnet/internal/collab"
	"github.com/dep2p/go-recordnet/internal/core/metrics"
	storage "github.com/dep2p/go-recordnet/internal/core/storage/engine"
	"github.com/dep2p/go-recordnet/internal/core/storage/engine/badger"
	"github.com/dep2p/go-recordnet/internal/engine"
	"github.com/dep2p/go-recordnet/internal/record"
	"github.com/dep2p/go-recordnet/internal/swarm"
	"github.com/dep2p/go-recordnet/internal/swarm/identity"
	"github.com/dep2p/go-recordnet/internal/swarm/tcpswarm"
	"github.com/dep2p/go-recordnet/internal/util/logger"
	"github.com/dep2p/go-recordnet/pkg/interfaces"
)

var fxLog = logger.Logger("recordnet/fx")

// buildFxApp 组装节点
//
// 依赖顺序：指标 → 存储 → 网络 → 记录存储 → 引擎。停止时逆序：
// 引擎先退出（同时关闭网络），最后关闭存储。
func buildFxApp(cfg *config.Config, o *options, node *Node) *fx.App {
	modules := []fx.Option{
		fx.Supply(cfg),
		fx.Supply(o),

		metrics.Module,
		fx.Provide(
			provideStorage,
			provideSwarm,
			provideStore,
			provideEngine,
		),
		fx.Invoke(node.runEngine),
	}
	modules = append(modules, o.fxOptions...)
	modules = append(modules,
		fx.Populate(&node.engine, &node.swarm, &node.prom),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: zap.NewNop()}
		}),
	)
	return fx.New(modules...)
}

// provideStorage 打开 BadgerDB，停止时关闭
func provideStorage(lc fx.Lifecycle, cfg *config.Config) (storage.Engine, error) {
	sc := storage.InMemoryConfig()
	if !cfg.Storage.InMemory {
		sc = storage.DefaultConfig(cfg.Storage.DBPath())
		if err := sc.EnsureDir(); err != nil {
			return nil, fmt.Errorf("storage dir: %w", err)
		}
	}
	db, err := badger.Open(sc)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})
	fxLog.Debug("storage opened", "in_memory", cfg.Storage.InMemory, "path", sc.Path)
	return db, nil
}

// provideSwarm 使用注入的网络或创建 TCP 网络
func provideSwarm(lc fx.Lifecycle, cfg *config.Config, o *options, prom *metrics.Prometheus) (swarm.Swarm, error) {
	if o.swarm != nil {
		return o.swarm, nil
	}

	id := o.identity
	if id == nil {
		var err error
		id, err = identity.LoadOrGenerate(cfg.Identity.KeyPath(keyDir(cfg)))
		if err != nil {
			return nil, err
		}
	}
	listen, err := cfg.Listen.Multiaddrs()
	if err != nil {
		return nil, err
	}

	opts := []tcpswarm.Option{
		tcpswarm.WithListenAddrs(listen...),
		tcpswarm.WithRequestTimeout(cfg.Listen.RequestTimeout.Duration()),
		tcpswarm.WithDialTimeout(cfg.Listen.DialTimeout.Duration()),
	}
	if prom != nil {
		opts = append(opts, tcpswarm.WithBandwidthReporter(prom))
	}
	sw, err := tcpswarm.New(id.PeerID(), opts...)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return sw.Close()
		},
	})
	return sw, nil
}

// keyDir 内存模式下没有数据目录可写密钥
func keyDir(cfg *config.Config) string {
	if cfg.Storage.InMemory {
		return ""
	}
	return cfg.Storage.DataDir
}

func provideStore(cfg *config.Config, o *options, db storage.Engine, sw swarm.Swarm, m interfaces.Metrics) (*record.Store, error) {
	local := sw.LocalPeer().ID
	deps := record.Deps{
		Verifier: o.verifier,
		Merger:   o.merger,
		Payments: o.payments,
		Metrics:  m,
		Clock:    o.clock,
	}
	if deps.Verifier == nil {
		deps.Verifier = collab.Ed25519Verifier{}
	}
	if deps.Merger == nil {
		deps.Merger = collab.SetMerger{}
	}
	if deps.Payments == nil {
		deps.Payments = collab.QuoteVerifier{Local: local}
	}
	return record.Open(db, local, recordConfigFromUnified(cfg), deps)
}

func provideEngine(cfg *config.Config, o *options, sw swarm.Swarm, store *record.Store, m interfaces.Metrics) (*engine.Engine, error) {
	boot := o.bootstrap
	if boot == nil {
		peers, err := collab.ParseBootstrap(cfg.Bootstrap.Peers)
		if err != nil {
			return nil, err
		}
		boot = peers
	}
	return engine.New(engineConfigFromUnified(cfg), engine.Deps{
		Swarm:     sw,
		Store:     store,
		Bootstrap: boot,
		Metrics:   m,
		Clock:     o.clock,
	})
}

// runEngine 启动时在后台运行事件循环，停止时请求退出并等待
func (n *Node) runEngine(lc fx.Lifecycle, e *engine.Engine) {
	exited := make(chan error, 1)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				err := e.Run(context.Background())
				if err != nil {
					fxLog.Error("engine stopped", "err", err)
				}
				n.setRunErr(err)
				exited <- err
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := e.Handle().Shutdown(ctx); err != nil {
				return err
			}
			select {
			case err := <-exited:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}
