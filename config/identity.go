package config

import "path/filepath"

// IdentityConfig 节点密钥
type IdentityConfig struct {
	// KeyFile ed25519 私钥（PEM）路径；为空时使用 ${data_dir}/node.key。
	// 文件不存在时生成新密钥并写入。
	KeyFile string `json:"key_file,omitempty"`

	// Ephemeral 每次启动生成新密钥，不读写文件
	Ephemeral bool `json:"ephemeral,omitempty"`
}

// DefaultIdentityConfig 默认身份配置
func DefaultIdentityConfig() IdentityConfig {
	return IdentityConfig{}
}

// Validate 校验
func (c IdentityConfig) Validate() error {
	return nil
}

// KeyPath 密钥文件路径；Ephemeral 时为空
func (c IdentityConfig) KeyPath(dataDir string) string {
	switch {
	case c.Ephemeral:
		return ""
	case c.KeyFile != "":
		return c.KeyFile
	case dataDir == "":
		return ""
	default:
		return filepath.Join(dataDir, "node.key")
	}
}
