package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgegate/edgegate/internal/admission"
	"github.com/edgegate/edgegate/internal/config"
	"github.com/edgegate/edgegate/internal/decision"
	"github.com/edgegate/edgegate/internal/ops"
	"github.com/edgegate/edgegate/internal/proxy"
	"github.com/edgegate/edgegate/internal/quota"
	"github.com/edgegate/edgegate/internal/rules"
)

var (
	serveTarget         string
	serveListen         string
	serveTrustForwarded bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admission proxy",
	Long: `Start the reverse proxy that runs every inbound request through the
admission pipeline before forwarding it to the target application.`,
	Example: `  edgegate serve -c config.yaml
  edgegate serve -c config.yaml --target http://localhost:8080 --listen :3000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveTarget, "target", "", "target application URL (overrides config)")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (overrides config)")
	serveCmd.Flags().BoolVar(&serveTrustForwarded, "trust-forwarded", false, "trust X-Forwarded-For / X-Real-IP for client addresses")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("--config/-c is required for serve command")
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if serveTarget != "" {
		cfg.Target = serveTarget
	}
	if serveListen != "" {
		cfg.Listen = serveListen
	}
	if cfg.Target == "" {
		return fmt.Errorf("no target: set server.target, EDGEGATE_TARGET, or --target")
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	limiter, closeLimiter, err := buildLimiter(cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	built, err := buildPipeline(cfg, engine, limiter)
	if err != nil {
		return err
	}

	decisions, err := decision.NewJSONLStore(cfg.LogDir)
	if err != nil {
		return fmt.Errorf("creating decision log: %w", err)
	}
	defer decisions.Close()
	if err := decisions.Reopen(); err != nil {
		logger.Warn("restoring decision log tail", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	startJanitors(ctx, cfg, limiter, built)
	go watchConfig(ctx, cfg.Path, engine, built)

	if cfg.OpsListen != "" {
		opsSrv := ops.NewServer(cfg.OpsListen, decisions, logger)
		go func() {
			if err := opsSrv.ListenAndServe(ctx); err != nil {
				logger.Error("ops API error", "error", err)
			}
		}()
	}

	p, err := proxy.NewProxy(cfg.Target, built.Pipeline, decisions, logger, proxy.Options{
		TrustForwarded: serveTrustForwarded,
	})
	if err != nil {
		return err
	}

	return p.ListenAndServe(ctx, cfg.Listen)
}

// janitored is implemented by quota backends with idle-bucket eviction.
type janitored interface {
	StartJanitor(ctx context.Context, interval, ttl time.Duration, logger *slog.Logger)
}

func startJanitors(ctx context.Context, cfg *config.Config, limiter quota.Limiter, built *admission.Built) {
	if store, ok := limiter.(janitored); ok {
		interval, ttl := janitorInterval(cfg)
		store.StartJanitor(ctx, interval, ttl, logger)
	}
	if built.Throttle != nil {
		built.Throttle.StartJanitor(ctx)
	}
}

// watchConfig applies config file changes to the running pipeline:
// signature set, quota scopes, and the bot allow-list. Structural settings
// (listen address, target, store selection) still need a restart.
func watchConfig(ctx context.Context, path string, engine rules.Engine, built *admission.Built) {
	err := config.Watch(ctx, path, logger, func(next *config.Config) {
		built.Quota.UpdateScopes(next.Scopes)
		built.Bot.UpdateAllow(next.BotAllow)

		switch e := engine.(type) {
		case *rules.YAMLEngine:
			if next.Signatures != nil {
				if err := e.Update(next.Signatures); err != nil {
					logger.Error("signature reload rejected", "error", err)
				}
			}
		case *rules.OPAEngine:
			if err := e.Reload(ctx); err != nil {
				logger.Error("policy reload rejected", "error", err)
			}
		}
	})
	if err != nil {
		logger.Error("config watch stopped", "error", err)
	}
}
