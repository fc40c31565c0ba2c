package metrics

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-recordnet/config"
	"github.com/dep2p/go-recordnet/pkg/interfaces"
)

// ModuleInput 模块依赖
type ModuleInput struct {
	fx.In

	Config *config.Config `optional:"true"`
}

// ModuleOutput 模块输出
//
// 指标关闭时 Prometheus 为 nil，Metrics 为 Nop。
type ModuleOutput struct {
	fx.Out

	Metrics    interfaces.Metrics
	Prometheus *Prometheus
}

// ProvideServices 按配置创建指标协作者
func ProvideServices(in ModuleInput) ModuleOutput {
	cfg := config.DefaultMetricsConfig()
	if in.Config != nil {
		cfg = in.Config.Metrics
	}
	if !cfg.Enabled {
		return ModuleOutput{Metrics: Nop()}
	}
	p := New()
	return ModuleOutput{Metrics: p, Prometheus: p}
}

// Module 指标 fx 模块
var Module = fx.Module("metrics",
	fx.Provide(ProvideServices),
)
