package rendezvous

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-rendezvous/config"
	"github.com/dep2p/go-rendezvous/pkg/types"
)

// Module Rendezvous 引擎模块
var Module = fx.Module("rendezvous",
	fx.Provide(
		NewFromParams,
	),
)

// Params 引擎依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config  `optional:"true"`
	Clock      clock.Clock     `optional:"true"`
	Validator  RecordValidator `optional:"true"`
	LocalPeer  types.PeerID    `optional:"true"`
}

// Result 引擎导出结果
type Result struct {
	fx.Out

	Config Config
	Engine *Engine
}

// ConfigFromUnified 从统一配置创建引擎配置
func ConfigFromUnified(cfg *config.Config) Config {
	if cfg == nil {
		return DefaultConfig()
	}
	rc := cfg.Rendezvous
	return Config{
		DefaultTTL:              rc.DefaultTTL.Duration(),
		MaxTTL:                  rc.MaxTTL.Duration(),
		MaxNamespaceLength:      rc.MaxNamespaceLength,
		MaxRegistrations:        rc.MaxRegistrations,
		MaxRegistrationsPerPeer: rc.MaxRegistrationsPerPeer,
		MaxDiscoverLimit:        rc.MaxDiscoverLimit,
	}
}

// NewFromParams 从 Fx 参数创建引擎
func NewFromParams(p Params) (Result, error) {
	cfg := ConfigFromUnified(p.UnifiedCfg)

	var opts []Option
	if p.Clock != nil {
		opts = append(opts, WithClock(p.Clock))
	}
	if p.Validator != nil {
		opts = append(opts, WithRecordValidator(p.Validator))
	}
	if !p.LocalPeer.IsEmpty() {
		opts = append(opts, WithLocalPeer(p.LocalPeer))
	}

	engine, err := NewEngine(cfg, opts...)
	if err != nil {
		return Result{}, err
	}
	return Result{Config: cfg, Engine: engine}, nil
}
