package config

import "path/filepath"

// StorageConfig 本地记录存储
//
// 数据目录结构：
//
//	${data_dir}/
//	├── records.db/   # BadgerDB
//	└── node.key      # 默认密钥位置
type StorageConfig struct {
	// DataDir 数据目录
	DataDir string `json:"data_dir"`

	// InMemory 不落盘，数据随进程结束丢失
	InMemory bool `json:"in_memory,omitempty"`

	// MaxRecords 最多保存的记录条数
	MaxRecords int `json:"max_records"`

	// MaxBytes 最多占用的字节数
	MaxBytes int64 `json:"max_bytes"`

	// MaxRecordSize 单条记录上限
	MaxRecordSize int `json:"max_record_size"`
}

// DefaultStorageConfig 默认存储配置
func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		DataDir:       "./data",
		MaxRecords:    4096,
		MaxBytes:      2 << 30,
		MaxRecordSize: 4 << 20,
	}
}

// Validate 校验
func (c StorageConfig) Validate() error {
	switch {
	case c.DataDir == "" && !c.InMemory:
		return invalid("storage", "data_dir cannot be empty")
	case c.MaxRecords <= 0:
		return invalid("storage", "max_records must be positive")
	case c.MaxBytes <= 0:
		return invalid("storage", "max_bytes must be positive")
	case c.MaxRecordSize <= 0 || int64(c.MaxRecordSize) > c.MaxBytes:
		return invalid("storage", "max_record_size must be in (0, max_bytes]")
	}
	return nil
}

// DBPath BadgerDB 目录
func (c StorageConfig) DBPath() string {
	return filepath.Join(c.DataDir, "records.db")
}
