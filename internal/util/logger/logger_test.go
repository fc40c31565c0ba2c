package logger

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSetOutput_RedirectsExistingLoggers 测试已创建的 Logger 跟随输出切换
func TestSetOutput_RedirectsExistingLoggers(t *testing.T) {
	log := Logger("logger-test-a")

	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	log.Info("after switch", "key", "value")

	out := buf.String()
	assert.Contains(t, out, "after switch")
	assert.Contains(t, out, "key=value")
	assert.Contains(t, out, "subsystem=logger-test-a")
}

// TestSetLevel_AppliesToDerivedLoggers 测试调级对 With 派生的 Logger 生效
func TestSetLevel_AppliesToDerivedLoggers(t *testing.T) {
	buf := &bytes.Buffer{}
	SetOutput(buf)
	defer SetOutput(os.Stderr)

	derived := Logger("logger-test-b").With("peer", "abc")

	SetLevel("logger-test-b", slog.LevelError)
	derived.Info("hidden")
	assert.Empty(t, buf.String())

	SetLevel("logger-test-b", slog.LevelDebug)
	derived.Debug("shown")
	assert.Contains(t, buf.String(), "peer=abc")
}

// TestParseConfig 测试环境变量解析
func TestParseConfig(t *testing.T) {
	cfg := ParseConfig("engine=debug, replication=warn ,error,bogus=nope", "JSON", "true")

	require.NotNil(t, cfg)
	assert.Equal(t, slog.LevelError, cfg.Default)
	assert.Equal(t, slog.LevelDebug, cfg.LevelFor("engine"))
	assert.Equal(t, slog.LevelWarn, cfg.LevelFor("replication"))
	assert.Equal(t, slog.LevelError, cfg.LevelFor("record"))
	assert.NotContains(t, cfg.Subsystems, "bogus")
	assert.Equal(t, FormatJSON, cfg.Format)
	assert.True(t, cfg.AddSource)
}

// TestConfigFromEnv 测试从真实环境变量读取
func TestConfigFromEnv(t *testing.T) {
	t.Setenv(EnvLevel, "handler=warn")
	resetEnvConfig()
	defer resetEnvConfig()

	cfg := ConfigFromEnv()
	assert.Equal(t, slog.LevelWarn, cfg.LevelFor("handler"))
	assert.Equal(t, slog.LevelInfo, cfg.Default)
	assert.Equal(t, FormatText, cfg.Format)
}

// TestDiscard 测试 Discard 不输出任何内容
func TestDiscard(t *testing.T) {
	log := Discard()
	assert.False(t, log.Enabled(context.Background(), slog.LevelError))
	log.Error("nothing")
}
