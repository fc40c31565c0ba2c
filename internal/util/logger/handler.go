package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// switchWriter 所有 handler 共享的输出，SetOutput 后立即对旧 Logger 生效
type switchWriter struct {
	mu sync.RWMutex
	w  io.Writer
}

func (s *switchWriter) set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.RLock()
	w := s.w
	s.mu.RUnlock()
	return w.Write(p)
}

var output = &switchWriter{w: os.Stderr}

// levelHandler 带可调级别的子系统 handler
type levelHandler struct {
	level *atomic.Int64
	inner slog.Handler
}

func newLevelHandler(subsystem string, level slog.Level, cfg *Config) *levelHandler {
	opts := &slog.HandlerOptions{
		// 真正的过滤在 Enabled 里做
		Level:       slog.LevelDebug,
		AddSource:   cfg.AddSource,
		ReplaceAttr: shortenAttr,
	}

	var inner slog.Handler
	if cfg.Format == FormatJSON {
		inner = slog.NewJSONHandler(output, opts)
	} else {
		inner = slog.NewTextHandler(output, opts)
	}

	lvl := &atomic.Int64{}
	lvl.Store(int64(level))
	return &levelHandler{
		level: lvl,
		inner: inner.WithAttrs([]slog.Attr{slog.String("subsystem", subsystem)}),
	}
}

func shortenAttr(_ []string, a slog.Attr) slog.Attr {
	switch a.Key {
	case slog.TimeKey:
		a.Key = "ts"
	case slog.LevelKey:
		if lvl, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(levelName(lvl))
		}
	}
	return a
}

func (h *levelHandler) setLevel(level slog.Level) {
	h.level.Store(int64(level))
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return int64(level) >= h.level.Load()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

// WithAttrs 派生的 handler 共享级别，SetLevel 对 log.With(...) 的结果同样生效
func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, inner: h.inner.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, inner: h.inner.WithGroup(name)}
}

func levelName(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }
