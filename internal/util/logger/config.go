package logger

import (
	"log/slog"
	"os"
	"strings"
	"sync"
)

// 环境变量名
const (
	EnvLevel     = "RECORDNET_LOG_LEVEL"
	EnvFormat    = "RECORDNET_LOG_FORMAT"
	EnvAddSource = "RECORDNET_LOG_ADD_SOURCE"
)

// Format 日志输出格式
type Format int

const (
	// FormatText logfmt 风格文本（默认）
	FormatText Format = iota
	// FormatJSON 每行一个 JSON 对象
	FormatJSON
)

// Config 日志配置
type Config struct {
	// Default 未单独配置的子系统使用的级别
	Default slog.Level

	// Subsystems 子系统级别覆盖
	Subsystems map[string]slog.Level

	// Format 输出格式
	Format Format

	// AddSource 是否输出源码位置
	AddSource bool
}

// LevelFor 返回子系统的生效级别
func (c *Config) LevelFor(subsystem string) slog.Level {
	if lvl, ok := c.Subsystems[subsystem]; ok {
		return lvl
	}
	return c.Default
}

var (
	envConfig     *Config
	envConfigOnce sync.Once
)

// ConfigFromEnv 解析并缓存环境变量配置
func ConfigFromEnv() *Config {
	envConfigOnce.Do(func() {
		envConfig = ParseConfig(os.Getenv(EnvLevel), os.Getenv(EnvFormat), os.Getenv(EnvAddSource))
	})
	return envConfig
}

// ParseConfig 从三个环境变量的原始值构建配置
//
// level 格式: 子系统=级别,...,默认级别
func ParseConfig(level, format, addSource string) *Config {
	cfg := &Config{
		Default:    slog.LevelInfo,
		Subsystems: make(map[string]slog.Level),
	}

	for _, part := range strings.Split(level, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, lvlName, scoped := strings.Cut(part, "=")
		if !scoped {
			if lvl, ok := ParseLevel(part); ok {
				cfg.Default = lvl
			}
			continue
		}
		if lvl, ok := ParseLevel(strings.TrimSpace(lvlName)); ok {
			cfg.Subsystems[strings.TrimSpace(name)] = lvl
		}
	}

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		cfg.Format = FormatJSON
	}

	switch strings.ToLower(strings.TrimSpace(addSource)) {
	case "1", "true", "yes":
		cfg.AddSource = true
	}
	return cfg
}

// ParseLevel 解析级别名称，未知名称返回 false
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}

// resetEnvConfig 清除缓存（测试用）
func resetEnvConfig() {
	envConfigOnce = sync.Once{}
	envConfig = nil
}
