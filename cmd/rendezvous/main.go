// Package main 提供 rendezvous 命令行入口
//
// 三种模式：
//
//	point     运行 Rendezvous Point，接受注册与发现
//	register  连接 Point 注册命名空间，并在 TTL 过半时续期，退出时取消注册
//	discover  连接 Point 查询命名空间后退出
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/dep2p/go-rendezvous/internal/host"
	"github.com/dep2p/go-rendezvous/internal/rendezvous"
	"github.com/dep2p/go-rendezvous/pkg/lib/log"
	"github.com/dep2p/go-rendezvous/pkg/record"
	"github.com/dep2p/go-rendezvous/pkg/types"
)

var logger = log.Logger("rendezvous/cmd")

const (
	startTimeout = 15 * time.Second
	stopTimeout  = 10 * time.Second
	callTimeout  = 30 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	fs := flag.NewFlagSet("rendezvous", flag.ContinueOnError)
	opts, err := parseFlags(fs, os.Args[1:])
	if err != nil {
		return err
	}
	if opts.showHelp {
		printHelp(fs)
		return nil
	}
	if err := validateMode(opts); err != nil {
		return err
	}

	cfg, err := buildConfig(opts, os.Getenv)
	if err != nil {
		return err
	}

	level, err := log.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	log.SetOutputWithLevel(os.Stderr, level, cfg.Log.Format)

	priv, err := record.LoadOrGenerateKey(cfg.Identity.KeyFile, cfg.Identity.AutoGenerate)
	if err != nil {
		return err
	}
	records, err := record.NewManager(priv)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	var h *host.Host
	app := fx.New(
		fx.Supply(cfg, records, records.ID(), registry),
		fx.Provide(func() rendezvous.RecordValidator {
			return rendezvous.RecordValidator(record.Validator())
		}),
		rendezvous.Module,
		host.Module,
		fx.Populate(&h),
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: fxZapLogger(level)}
		}),
	)

	startCtx, cancelStart := context.WithTimeout(context.Background(), startTimeout)
	defer cancelStart()
	if err := app.Start(startCtx); err != nil {
		return fmt.Errorf("启动失败: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			logger.Warn("停止失败", "err", err)
		}
	}()

	if cfg.Host.EnableMetrics && cfg.Host.MetricsAddr != "" {
		srv := serveMetrics(cfg.Host.MetricsAddr, registry)
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("节点 ID: %s\n", h.ID())
	switch opts.mode {
	case modePoint:
		return runPoint(ctx, h)
	case modeRegister:
		return runRegister(ctx, h, opts)
	default:
		return runDiscover(ctx, h, opts)
	}
}

// fxZapLogger 只有调试级别才输出 Fx 生命周期日志
func fxZapLogger(level slog.Level) *zap.Logger {
	if level > log.LevelDebug {
		return zap.NewNop()
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return l
}

func serveMetrics(addr string, registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("指标服务失败", "addr", addr, "err", err)
		}
	}()
	logger.Info("指标服务已启动", "addr", addr)
	return srv
}

// ============================================================================
//                              运行模式
// ============================================================================

func runPoint(ctx context.Context, h *host.Host) error {
	events, cancel, err := h.Subscribe(64)
	if err != nil {
		return err
	}
	defer cancel()

	fmt.Println("Rendezvous Point 已启动，监听地址:")
	for _, addr := range h.Addrs() {
		fmt.Printf("  %s\n", addr)
	}
	fmt.Println("按 Ctrl+C 退出")

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\n正在关闭...")
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			logEvent(ev)
		}
	}
}

func runRegister(ctx context.Context, h *host.Host, opts *options) error {
	point, err := connect(ctx, h, opts.point)
	if err != nil {
		return err
	}

	ttl, err := register(ctx, h, opts.namespace, point, uint32(opts.ttl))
	if err != nil {
		return err
	}
	fmt.Printf("已在 %s 注册 %q，TTL %ds\n", point.ShortString(), opts.namespace, ttl)

	refresh := time.NewTicker(refreshInterval(ttl))
	defer refresh.Stop()

	for {
		select {
		case <-ctx.Done():
			unregisterCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := h.Unregister(unregisterCtx, opts.namespace, point); err != nil {
				logger.Warn("取消注册失败", "err", err)
			}
			fmt.Println("\n已取消注册")
			return nil
		case <-refresh.C:
			ttl, err = register(ctx, h, opts.namespace, point, uint32(opts.ttl))
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				return err
			}
			logger.Debug("续期成功", "ns", opts.namespace, "ttl", ttl)
		}
	}
}

func runDiscover(ctx context.Context, h *host.Host, opts *options) error {
	point, err := connect(ctx, h, opts.point)
	if err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	regs, err := h.DiscoverSync(callCtx, opts.namespace, point, opts.limit)
	if err != nil {
		return err
	}

	fmt.Printf("发现 %d 个注册:\n", len(regs))
	for _, reg := range regs {
		addrs := "-"
		if rec, err := record.Open(reg.Record); err == nil && len(rec.Addrs) > 0 {
			addrs = fmt.Sprint(rec.Addrs)
		}
		fmt.Printf("  %-20s %s  ttl=%ds  addrs=%s\n", reg.Namespace, reg.Peer.ShortString(), reg.TTL, addrs)
	}
	return nil
}

func connect(ctx context.Context, h *host.Host, addr string) (types.PeerID, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	point, err := h.Connect(callCtx, addr)
	if err != nil {
		return "", fmt.Errorf("连接 %s 失败: %w", addr, err)
	}
	return point, nil
}

func register(ctx context.Context, h *host.Host, ns string, point types.PeerID, ttl uint32) (uint32, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	return h.RegisterSync(callCtx, ns, point, ttl)
}

// refreshInterval 在 TTL 过半时续期
func refreshInterval(ttl uint32) time.Duration {
	interval := time.Duration(ttl) * time.Second / 2
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func logEvent(ev rendezvous.Event) {
	switch e := ev.(type) {
	case rendezvous.PeerRegistered:
		logger.Info("节点注册", "peer", e.Peer.ShortString(), "ns", e.Namespace, "ttl", e.Registration.TTL)
	case rendezvous.PeerUnregistered:
		logger.Info("节点取消注册", "peer", e.Peer.ShortString(), "ns", e.Namespace)
	case rendezvous.RegistrationDeclined:
		logger.Info("拒绝注册", "peer", e.Peer.ShortString(), "ns", e.Namespace, "code", e.Code)
	default:
		logger.Debug("事件", "kind", ev.Kind())
	}
}
