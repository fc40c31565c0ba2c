// Package logger 提供 recordnet 的统一日志系统
//
// 基于标准库 log/slog，每个子系统一个 Logger：
//
//	var log = logger.Logger("engine")
//
//	log.Info("query completed", "query", id, "peers", len(peers))
//
// 环境变量:
//
//	# engine 为 debug，replication 为 warn，其余 info
//	RECORDNET_LOG_LEVEL=engine=debug,replication=warn,info
//
//	# JSON 输出
//	RECORDNET_LOG_FORMAT=json
package logger

import (
	"io"
	"log/slog"
	"sync"
)

// rootSubsystem 不属于任何子系统的日志使用的名称
const rootSubsystem = "recordnet"

var (
	// loggers 子系统 -> *slog.Logger
	loggers sync.Map

	// handlers 子系统 -> *levelHandler，用于运行时调级
	handlers sync.Map
)

// Logger 返回指定子系统的 Logger
//
// 同一子系统多次调用返回同一个实例，级别取自 RECORDNET_LOG_LEVEL。
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := ConfigFromEnv()
	h := newLevelHandler(subsystem, cfg.LevelFor(subsystem), cfg)
	actual, loaded := loggers.LoadOrStore(subsystem, slog.New(h))
	if !loaded {
		handlers.Store(subsystem, h)
	}
	return actual.(*slog.Logger)
}

// Root 返回根 Logger
func Root() *slog.Logger {
	return Logger(rootSubsystem)
}

// SetLevel 运行时修改子系统级别
func SetLevel(subsystem string, level slog.Level) {
	if h, ok := handlers.Load(subsystem); ok {
		h.(*levelHandler).setLevel(level)
	}
}

// SetAllLevels 修改所有已创建子系统的级别
func SetAllLevels(level slog.Level) {
	handlers.Range(func(_, v any) bool {
		v.(*levelHandler).setLevel(level)
		return true
	})
}

// SetOutput 重定向所有 Logger 的输出，已创建的 Logger 同样生效
func SetOutput(w io.Writer) {
	output.set(w)
}

// Discard 返回丢弃所有日志的 Logger，测试用
func Discard() *slog.Logger {
	return slog.New(discardHandler{})
}
