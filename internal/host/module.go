package host

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-rendezvous/config"
	"github.com/dep2p/go-rendezvous/internal/rendezvous"
	"github.com/dep2p/go-rendezvous/pkg/record"
	"github.com/dep2p/go-rendezvous/pkg/types"
)

// Module 宿主模块
var Module = fx.Module("host",
	fx.Provide(
		NewFromParams,
	),
	fx.Invoke(registerLifecycle),
)

// Params 宿主依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Local      types.PeerID
	Engine     *rendezvous.Engine   `optional:"true"`
	Clock      clock.Clock          `optional:"true"`
	Registry   *prometheus.Registry `optional:"true"`
}

// ConfigFromUnified 从统一配置创建宿主配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	hc := cfg.Host
	out := DefaultConfig()
	out.Rendezvous = rendezvous.ConfigFromUnified(cfg)
	out.DialTimeout = hc.DialTimeout.Duration()
	out.HandshakeTimeout = hc.HandshakeTimeout.Duration()
	out.RequestTimeout = hc.RequestTimeout.Duration()
	out.CleanupInterval = hc.CleanupInterval.Duration()
	out.MaxConnections = hc.MaxConnections
	out.CacheSize = hc.CacheSize
	return out
}

// NewFromParams 从 Fx 参数创建宿主
func NewFromParams(p Params) (*Host, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)

	var opts []Option
	if p.Engine != nil {
		opts = append(opts, WithEngine(p.Engine))
	}
	if p.Clock != nil {
		opts = append(opts, WithClock(p.Clock))
	}
	if p.Registry != nil && (p.UnifiedCfg == nil || p.UnifiedCfg.Host.EnableMetrics) {
		opts = append(opts, WithRegisterer(p.Registry))
	}
	return New(cfg, p.Local, opts...)
}

type lifecycleParams struct {
	fx.In

	LC         fx.Lifecycle
	Host       *Host
	UnifiedCfg *config.Config  `optional:"true"`
	Records    *record.Manager `optional:"true"`
}

// registerLifecycle 启动时监听并签发本地记录，停止时关闭宿主
func registerLifecycle(p lifecycleParams) {
	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := p.Host.Start(ctx); err != nil {
				return err
			}
			if p.UnifiedCfg != nil && p.UnifiedCfg.Host.ListenAddr != "" {
				if _, err := p.Host.Listen(p.UnifiedCfg.Host.ListenAddr); err != nil {
					return err
				}
			}
			if p.Records != nil {
				addrs := p.Host.Addrs()
				if p.UnifiedCfg != nil && len(p.UnifiedCfg.Identity.Addrs) > 0 {
					addrs = p.UnifiedCfg.Identity.Addrs
				}
				rec, err := p.Records.Sign(addrs)
				if err != nil {
					return err
				}
				p.Host.SetLocalRecord(rec)
			}
			return nil
		},
		OnStop: func(context.Context) error {
			return p.Host.Close()
		},
	})
}
