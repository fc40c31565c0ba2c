// Package metrics 用 Prometheus 实现引擎的指标协作者
//
// 每个 Prometheus 实例持有自己的 Registry，同一进程里可以并存多个节点
// （测试中很常见）。cmd/recordnet 通过 Registry() 暴露 /metrics。
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/dep2p/go-recordnet/pkg/interfaces"
	"github.com/dep2p/go-recordnet/pkg/types"
)

const namespace = "recordnet"

// Prometheus 指标集合
type Prometheus struct {
	registry *prometheus.Registry

	storedRecords prometheus.Gauge
	storedBytes   prometheus.Gauge
	routingSize   prometheus.Gauge

	puts        *prometheus.CounterVec
	replication *prometheus.CounterVec
	queries     *prometheus.HistogramVec
	bandwidth   *prometheus.CounterVec
}

// New 创建并注册全部指标
func New() *Prometheus {
	p := &Prometheus{
		registry: prometheus.NewRegistry(),
		storedRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "records",
			Help:      "Number of records held by the local store.",
		}),
		storedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "bytes",
			Help:      "Bytes held by the local store.",
		}),
		routingSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "routing",
			Name:      "peers",
			Help:      "Number of peers in the routing table.",
		}),
		puts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "puts_total",
			Help:      "Record puts by kind and outcome.",
		}, []string{"kind", "outcome"}),
		replication: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replication",
			Name:      "requests_total",
			Help:      "Replicate requests by result.",
		}, []string{"result"}),
		queries: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "query_duration_seconds",
			Help:      "Latency of distributed queries.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"kind", "outcome"}),
		bandwidth: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "bytes_total",
			Help:      "Bytes exchanged with remote peers.",
		}, []string{"direction"}),
	}

	p.registry.MustRegister(
		p.storedRecords, p.storedBytes, p.routingSize,
		p.puts, p.replication, p.queries, p.bandwidth,
	)
	return p
}

// Registry 供 promhttp 导出
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

func (p *Prometheus) SetStoredRecords(n int) {
	p.storedRecords.Set(float64(n))
}

func (p *Prometheus) SetStoredBytes(n int64) {
	p.storedBytes.Set(float64(n))
}

func (p *Prometheus) SetRoutingTableSize(n int) {
	p.routingSize.Set(float64(n))
}

func (p *Prometheus) PutOutcome(kind types.RecordKind, reason types.RejectReason) {
	outcome := "accepted"
	if reason != types.RejectNone {
		outcome = reason.String()
	}
	p.puts.WithLabelValues(kind.String(), outcome).Inc()
}

func (p *Prometheus) ReplicationSucceeded() {
	p.replication.WithLabelValues("success").Inc()
}

func (p *Prometheus) ReplicationFailed() {
	p.replication.WithLabelValues("failure").Inc()
}

func (p *Prometheus) ReplicationRetried() {
	p.replication.WithLabelValues("retry").Inc()
}

func (p *Prometheus) ObserveQuery(kind string, seconds float64, outcome string) {
	p.queries.WithLabelValues(kind, outcome).Observe(seconds)
}

// AddBandwidth 记录收发字节数，direction 为 in 或 out
func (p *Prometheus) AddBandwidth(direction string, n int) {
	if n > 0 {
		p.bandwidth.WithLabelValues(direction).Add(float64(n))
	}
}

var _ interfaces.Metrics = (*Prometheus)(nil)
