// Package config 节点的统一配置
//
// 每个配置段在独立文件中定义，各自提供 Default*Config 与 Validate。
// 配置以 JSON 保存，时长字段接受 "30s" 形式的字符串。
//
//	cfg, err := config.Load("node.json")
//	if err != nil { ... }
//	cfg.Storage.DataDir = "/var/lib/recordnet"
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"go.uber.org/multierr"
)

// ErrInvalidConfig 配置项非法
var ErrInvalidConfig = errors.New("config: invalid")

// Config 节点配置
type Config struct {
	// Identity 节点密钥
	Identity IdentityConfig `json:"identity"`

	// Listen 监听地址与连接超时
	Listen ListenConfig `json:"listen"`

	// Bootstrap 引导节点
	Bootstrap BootstrapConfig `json:"bootstrap"`

	// Storage 本地记录存储
	Storage StorageConfig `json:"storage"`

	// Engine 查询与路由参数
	Engine EngineConfig `json:"engine"`

	// Replication 副本维护
	Replication ReplicationConfig `json:"replication"`

	// Pricing 存储报价
	Pricing PricingConfig `json:"pricing"`

	// Metrics 指标导出
	Metrics MetricsConfig `json:"metrics"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Identity:    DefaultIdentityConfig(),
		Listen:      DefaultListenConfig(),
		Bootstrap:   DefaultBootstrapConfig(),
		Storage:     DefaultStorageConfig(),
		Engine:      DefaultEngineConfig(),
		Replication: DefaultReplicationConfig(),
		Pricing:     DefaultPricingConfig(),
		Metrics:     DefaultMetricsConfig(),
	}
}

// Validate 校验所有配置段，返回全部问题
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	return multierr.Combine(
		c.Identity.Validate(),
		c.Listen.Validate(),
		c.Bootstrap.Validate(),
		c.Storage.Validate(),
		c.Engine.Validate(),
		c.Replication.Validate(),
		c.Pricing.Validate(),
		c.Metrics.Validate(),
	)
}

// FromJSON 以默认配置为底解析 JSON，未知字段报错
func FromJSON(data []byte) (*Config, error) {
	cfg := Default()
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load 读取 JSON 配置文件并校验
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := FromJSON(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToJSON 缩进的 JSON
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Save 写入 JSON 文件
func (c *Config) Save(path string) error {
	data, err := c.ToJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func invalid(section, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, section, fmt.Sprintf(format, args...))
}
