// Command sniperd launches the token sniper daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/solrush/sniper/config"
	"github.com/solrush/sniper/internal/budget"
	"github.com/solrush/sniper/internal/chainstate"
	"github.com/solrush/sniper/internal/engine"
	"github.com/solrush/sniper/internal/event"
	"github.com/solrush/sniper/internal/executor"
	"github.com/solrush/sniper/internal/filter"
	"github.com/solrush/sniper/internal/observability"
	"github.com/solrush/sniper/internal/stream"
	"github.com/solrush/sniper/lib/telemetry"
)

const (
	defaultConfigPath        = "config/sniper.yaml"
	sniperLoggerPrefix       = "sniperd "
	statusReportInterval     = 30 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	cfgPath, walletAddr := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := log.New(os.Stdout, sniperLoggerPrefix, log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.LoadFile(cfgPath, cfgPath == defaultConfigPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	cfg = config.FromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("validate config: %v", err)
	}
	logger.Printf("configuration initialised: env=%s, backends=%d, max_strategies=%d",
		cfg.Environment, len(cfg.Execution.Backends), cfg.Engine.MaxConcurrentStrategies)

	observability.SetLogger(observability.NewStdLogger(logger, cfg.Debug))

	telemetryCfg := telemetry.Config{ServiceName: cfg.Telemetry.ServiceName}
	if cfg.Telemetry.Enabled {
		telemetryCfg.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	meterProvider, telemetryShutdown, err := telemetry.Init(ctx, telemetryCfg)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	observability.SetMetrics(telemetry.NewBridge(meterProvider))
	if cfg.Telemetry.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s", cfg.Telemetry.OTLPEndpoint)
	} else {
		logger.Print("telemetry disabled")
	}

	chainProvider := chainstate.NewRPCProvider(cfg.Chain.RPCEndpoint, 5*time.Second)
	chainCache := chainstate.NewCache(chainProvider, cfg.Chain.RefreshInterval, cfg.Chain.StalenessBound)
	if err := chainCache.Start(ctx); err != nil {
		logger.Fatalf("prime chain reference cache: %v", err)
	}
	logger.Print("chain reference cache primed")

	builder := &executor.InstructionBuilder{Wallet: walletAddr}
	backends := make([]executor.Backend, 0, len(cfg.Execution.Backends))
	for _, backendCfg := range cfg.Execution.Backends {
		backends = append(backends, executor.NewHTTPBackend(backendCfg, builder, chainCache))
	}
	health := executor.NewHealthTracker(backends, cfg.Execution.HealthTTL, cfg.Execution.ProbeTimeout)
	coordinator := executor.NewCoordinator(backends, health)

	feeProvider := budget.NewRPCFeeProvider(cfg.Chain.RPCEndpoint, 5*time.Second)
	budgets := budget.NewOracle(cfg.Budget, feeProvider)

	registry := engine.New(cfg.Engine, filter.New(cfg.Filter), coordinator, budgets)
	registry.Start(ctx)

	feed := stream.New(cfg.Stream, func(ctx context.Context, ev event.AssetEvent) {
		registry.HandleEvent(ctx, ev)
	})
	if err := feed.Start(ctx); err != nil {
		logger.Fatalf("connect event feed: %v", err)
	}
	logger.Printf("event feed connected: %s", cfg.Stream.URL)

	var lifecycle conc.WaitGroup
	lifecycle.Go(func() { health.Run(ctx, cfg.Execution.SweepInterval) })
	lifecycle.Go(func() { reportStatus(ctx, logger, registry) })

	logger.Print("sniper started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownStart := time.Now()
	feed.Stop()
	registry.StopAll()
	chainCache.Stop()
	cancel()
	lifecycle.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	if err := telemetryShutdown(shutdownCtx); err != nil {
		logger.Printf("telemetry shutdown: %v", err)
	}
	shutdownCancel()

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() (string, string) {
	cfgPath := flag.String("config", defaultConfigPath,
		fmt.Sprintf("Path to configuration file (default: %s)", defaultConfigPath))
	wallet := flag.String("wallet", os.Getenv("SNIPER_WALLET"), "Wallet public key to trade with")
	flag.Parse()
	return *cfgPath, *wallet
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// reportStatus periodically logs a one-line summary per live strategy.
func reportStatus(ctx context.Context, logger *log.Logger, registry *engine.Registry) {
	ticker := time.NewTicker(statusReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summaries := registry.GetActiveSummaries()
			logger.Printf("status: active_strategies=%d", len(summaries))
			for _, s := range summaries {
				logger.Printf("  strategy=%s mint=%s status=%s tokens=%d pnl=%d uptime=%v",
					s.ID, s.Mint, s.Status, s.Position.TokenAmount, s.Position.PnL, s.Uptime.Round(time.Second))
			}
		}
	}
}
