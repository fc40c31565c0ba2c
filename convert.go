package recordnet

import (
	"golang.org/x/time/rate"

	"github.com/dep2p/go-recordnet/config"
	"github.com/dep2p/go-recordnet/internal/engine"
	"github.com/dep2p/go-recordnet/internal/record"
	"github.com/dep2p/go-recordnet/internal/replication"
)

// engineConfigFromUnified 统一配置到引擎配置
func engineConfigFromUnified(cfg *config.Config) engine.Config {
	ec := engine.DefaultConfig()
	ec.Alpha = cfg.Engine.Alpha
	ec.BucketSize = cfg.Engine.BucketSize
	ec.QueryTimeout = cfg.Engine.QueryTimeout.Duration()
	ec.RefreshInterval = cfg.Engine.RefreshInterval.Duration()
	ec.DialTimeout = cfg.Listen.DialTimeout.Duration()
	ec.ClientMode = cfg.Engine.ClientMode

	ec.Handler.WriteRate = rate.Limit(cfg.Engine.WriteRate)
	ec.Handler.WriteBurst = cfg.Engine.WriteBurst
	ec.Replication = replicationConfigFromUnified(cfg)
	return ec
}

func replicationConfigFromUnified(cfg *config.Config) replication.Config {
	rc := replication.DefaultConfig()
	rc.MaxInFlight = cfg.Replication.MaxInFlight
	rc.MaxAttempts = cfg.Replication.MaxAttempts
	rc.InitialBackoff = cfg.Replication.InitialBackoff.Duration()
	rc.MaxBackoff = cfg.Replication.MaxBackoff.Duration()
	rc.ReconcileInterval = cfg.Replication.ReconcileInterval.Duration()
	rc.ReconcileBatch = cfg.Replication.ReconcileBatch
	return rc
}

// recordConfigFromUnified 统一配置到记录存储配置
func recordConfigFromUnified(cfg *config.Config) record.Config {
	return record.Config{
		MaxRecords:      cfg.Storage.MaxRecords,
		MaxBytes:        cfg.Storage.MaxBytes,
		MaxRecordSize:   cfg.Storage.MaxRecordSize,
		BasePrice:       cfg.Pricing.BasePrice,
		PriceMultiplier: cfg.Pricing.Multiplier,
	}
}
