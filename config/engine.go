package config

import "time"

// EngineConfig 查询、路由与入站请求处理
type EngineConfig struct {
	// ClientMode 只读写网络、不自己保存付费写入
	ClientMode bool `json:"client_mode,omitempty"`

	// Alpha 迭代查找的并发度
	Alpha int `json:"alpha"`

	// BucketSize K 桶大小
	BucketSize int `json:"bucket_size"`

	// QueryTimeout 一次分布式查询的总期限
	QueryTimeout Duration `json:"query_timeout"`

	// RefreshInterval 桶刷新周期
	RefreshInterval Duration `json:"refresh_interval"`

	// WriteRate 每个对端每秒允许的写入请求数
	WriteRate float64 `json:"write_rate"`

	// WriteBurst 写入请求的突发上限
	WriteBurst int `json:"write_burst"`
}

// DefaultEngineConfig 默认引擎配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Alpha:           3,
		BucketSize:      20,
		QueryTimeout:    Duration(30 * time.Second),
		RefreshInterval: Duration(10 * time.Minute),
		WriteRate:       50,
		WriteBurst:      100,
	}
}

// Validate 校验
func (c EngineConfig) Validate() error {
	switch {
	case c.Alpha <= 0:
		return invalid("engine", "alpha must be positive")
	case c.BucketSize <= 0:
		return invalid("engine", "bucket_size must be positive")
	case c.QueryTimeout <= 0:
		return invalid("engine", "query_timeout must be positive")
	case c.RefreshInterval <= 0:
		return invalid("engine", "refresh_interval must be positive")
	case c.WriteRate <= 0 || c.WriteBurst <= 0:
		return invalid("engine", "write_rate and write_burst must be positive")
	}
	return nil
}

// ReplicationConfig 副本维护
type ReplicationConfig struct {
	// MaxInFlight 同时进行的推送数
	MaxInFlight int `json:"max_in_flight"`

	// MaxAttempts 单次推送的最多尝试次数（含首次）
	MaxAttempts int `json:"max_attempts"`

	// InitialBackoff 首次重试前的等待
	InitialBackoff Duration `json:"initial_backoff"`

	// MaxBackoff 重试等待上限
	MaxBackoff Duration `json:"max_backoff"`

	// ReconcileInterval 对账周期
	ReconcileInterval Duration `json:"reconcile_interval"`

	// ReconcileBatch 每轮对账检查的地址数
	ReconcileBatch int `json:"reconcile_batch"`
}

// DefaultReplicationConfig 默认副本配置
func DefaultReplicationConfig() ReplicationConfig {
	return ReplicationConfig{
		MaxInFlight:       16,
		MaxAttempts:       4,
		InitialBackoff:    Duration(500 * time.Millisecond),
		MaxBackoff:        Duration(10 * time.Second),
		ReconcileInterval: Duration(30 * time.Second),
		ReconcileBatch:    64,
	}
}

// Validate 校验
func (c ReplicationConfig) Validate() error {
	switch {
	case c.MaxInFlight <= 0:
		return invalid("replication", "max_in_flight must be positive")
	case c.MaxAttempts <= 0:
		return invalid("replication", "max_attempts must be positive")
	case c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff:
		return invalid("replication", "need 0 < initial_backoff <= max_backoff")
	case c.ReconcileInterval <= 0:
		return invalid("replication", "reconcile_interval must be positive")
	case c.ReconcileBatch <= 0:
		return invalid("replication", "reconcile_batch must be positive")
	}
	return nil
}

// PricingConfig 存储报价
//
//	单价 = BasePrice * (1 + Multiplier * fill²)，fill 为存储占用比例
type PricingConfig struct {
	BasePrice  uint64  `json:"base_price"`
	Multiplier float64 `json:"multiplier"`
}

// DefaultPricingConfig 默认报价参数
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{BasePrice: 10, Multiplier: 9}
}

// Validate 校验
func (c PricingConfig) Validate() error {
	if c.BasePrice == 0 {
		return invalid("pricing", "base_price must be positive")
	}
	if c.Multiplier < 0 {
		return invalid("pricing", "multiplier must not be negative")
	}
	return nil
}

// MetricsConfig 指标导出
type MetricsConfig struct {
	// Enabled 采集 Prometheus 指标
	Enabled bool `json:"enabled"`

	// Addr /metrics 的 HTTP 监听地址，为空时不导出
	Addr string `json:"addr,omitempty"`
}

// DefaultMetricsConfig 默认开启采集、不导出
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Enabled: true}
}

// Validate 校验
func (c MetricsConfig) Validate() error {
	if c.Addr != "" && !c.Enabled {
		return invalid("metrics", "addr set but metrics disabled")
	}
	return nil
}
