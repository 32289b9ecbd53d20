package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/dep2p/go-rendezvous/config"
)

// ============================================================================
//                              配置加载（CLI 专用）
// ============================================================================

// 运行模式
const (
	modePoint    = "point"
	modeRegister = "register"
	modeDiscover = "discover"
)

// defaultPointAddr Point 模式未指定监听地址时使用
const defaultPointAddr = "0.0.0.0:4001"

// options 命令行参数
type options struct {
	mode       string
	configFile string
	listen     string
	point      string
	namespace  string
	ttl        uint
	limit      uint64
	identity   string
	metrics    string
	showHelp   bool
}

func parseFlags(fs *flag.FlagSet, args []string) (*options, error) {
	o := &options{}
	fs.StringVar(&o.mode, "mode", modePoint, "运行模式 (point/register/discover)")
	fs.StringVar(&o.configFile, "config", "", "配置文件路径")
	fs.StringVar(&o.listen, "listen", "", "监听地址，例如 0.0.0.0:4001")
	fs.StringVar(&o.point, "point", "", "Rendezvous Point 地址（register/discover 模式）")
	fs.StringVar(&o.namespace, "ns", "", "命名空间（discover 模式为空表示全部）")
	fs.UintVar(&o.ttl, "ttl", 0, "注册 TTL（秒，0 = Point 默认值）")
	fs.Uint64Var(&o.limit, "limit", 0, "发现结果上限（0 = Point 默认值）")
	fs.StringVar(&o.identity, "identity", "", "身份密钥文件路径")
	fs.StringVar(&o.metrics, "metrics", "", "Prometheus 指标地址，例如 :9100")
	fs.BoolVar(&o.showHelp, "help", false, "显示帮助信息")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return o, nil
}

// buildConfig 构建配置
//
// 优先级（从高到低）：命令行参数、环境变量（RENDEZVOUS_*）、配置文件、默认值。
func buildConfig(o *options, getenv func(string) string) (*config.Config, error) {
	cfg := config.NewConfig()
	if o.configFile != "" {
		loaded, err := config.LoadFile(o.configFile)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败: %w", err)
		}
		cfg = loaded
	}

	if err := config.ApplyEnvOverrides(cfg, getenv); err != nil {
		return nil, err
	}

	if o.listen != "" {
		cfg.Host.ListenAddr = o.listen
	}
	if o.identity != "" {
		cfg.Identity.KeyFile = o.identity
	}
	if o.metrics != "" {
		cfg.Host.MetricsAddr = o.metrics
	}
	if o.mode == modePoint && cfg.Host.ListenAddr == "" {
		cfg.Host.ListenAddr = defaultPointAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置无效: %w", err)
	}
	return cfg, nil
}

// validateMode 检查模式所需的参数
func validateMode(o *options) error {
	switch o.mode {
	case modePoint:
		return nil
	case modeRegister:
		if o.namespace == "" {
			return errors.New("register 模式需要 -ns")
		}
		fallthrough
	case modeDiscover:
		if o.point == "" {
			return fmt.Errorf("%s 模式需要 -point", o.mode)
		}
		if o.ttl > uint(^uint32(0)) {
			return fmt.Errorf("ttl %d 超出范围", o.ttl)
		}
		return nil
	default:
		return fmt.Errorf("未知模式 %q", o.mode)
	}
}

func printHelp(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "用法: rendezvous -mode point|register|discover [参数]")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "示例:")
	fmt.Fprintln(os.Stderr, "  rendezvous -mode point -listen 0.0.0.0:4001")
	fmt.Fprintln(os.Stderr, "  rendezvous -mode register -point 127.0.0.1:4001 -ns my-app/chat -ttl 300")
	fmt.Fprintln(os.Stderr, "  rendezvous -mode discover -point 127.0.0.1:4001 -ns my-app/chat")
	fmt.Fprintln(os.Stderr)
	fs.SetOutput(os.Stderr)
	fs.PrintDefaults()
}
