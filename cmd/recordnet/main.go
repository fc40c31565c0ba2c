// Package main recordnet 节点命令行入口
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dep2p/go-recordnet"
	"github.com/dep2p/go-recordnet/config"
	"github.com/dep2p/go-recordnet/internal/util/logger"
)

var log = logger.Logger("recordnet/cmd")

// ═══════════════════════════════════════════════════════════════════════════
// 命令行参数
// ═══════════════════════════════════════════════════════════════════════════
//
// 命令行参数覆盖配置文件中的同名项；其余参数只能通过配置文件设置。
var (
	configFile = flag.String("config", "", "JSON 配置文件路径")
	dataDir    = flag.String("data-dir", "", "数据目录（覆盖 storage.data_dir）")
	listen     = flag.String("listen", "", "监听地址，逗号分隔的 multiaddr")
	bootstrap  = flag.String("bootstrap", "", "引导节点，逗号分隔的 multiaddr")
	metrics    = flag.String("metrics", "", "Prometheus /metrics 监听地址，例如 :9100")
	client     = flag.Bool("client", false, "客户端模式：写入与询价都走网络")
)

const stopTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flag.Parse()

	cfg, err := buildConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	node, err := recordnet.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := node.Start(ctx); err != nil {
		return err
	}
	printNodeInfo(node)

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		srv = serveMetrics(cfg.Metrics.Addr, node)
	}

	select {
	case <-ctx.Done():
		fmt.Println("\nshutting down...")
	case <-node.Done():
		log.Error("engine exited unexpectedly")
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if srv != nil {
		_ = srv.Shutdown(stopCtx)
	}
	if err := node.Stop(stopCtx); err != nil {
		return err
	}
	return node.Err()
}

// buildConfig 配置文件（可选）叠加命令行覆盖
func buildConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}

	if *dataDir != "" {
		cfg.Storage.DataDir = *dataDir
	}
	if *listen != "" {
		cfg.Listen.Addrs = splitList(*listen)
	}
	if *bootstrap != "" {
		cfg.Bootstrap.Peers = splitList(*bootstrap)
	}
	if *metrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Addr = *metrics
	}
	if *client {
		cfg.Engine.ClientMode = true
	}
	return cfg, cfg.Validate()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func serveMetrics(addr string, node *recordnet.Node) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(node.MetricsRegistry(), promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	log.Info("serving metrics", "addr", addr)
	return srv
}

func printNodeInfo(node *recordnet.Node) {
	fmt.Printf("peer id: %s\n", node.PeerID())
	for _, a := range node.FullAddrs() {
		fmt.Printf("listening: %s\n", a)
	}
}
