// Command run-worker runs the continuously-polling multi-asset trading
// worker. Flags mirror the Python original's run_fiona_worker management
// command exactly, per spec.md §6. Bootstrap/shutdown style grounded on
// the teacher's cmd/server/main.go.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/fiona-worker/internal/broker"
	"github.com/atlas-desktop/fiona-worker/internal/config"
	"github.com/atlas-desktop/fiona-worker/internal/diagnostics"
	"github.com/atlas-desktop/fiona-worker/internal/execution"
	"github.com/atlas-desktop/fiona-worker/internal/ki"
	"github.com/atlas-desktop/fiona-worker/internal/market"
	"github.com/atlas-desktop/fiona-worker/internal/risk"
	"github.com/atlas-desktop/fiona-worker/internal/storage"
	"github.com/atlas-desktop/fiona-worker/internal/strategy"
	"github.com/atlas-desktop/fiona-worker/internal/worker"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

func main() {
	opts := worker.Options{}
	var verboseLevel bool
	var intervalSeconds int

	cmd := &cobra.Command{
		Use:   "run-worker",
		Short: "Run the continuously-polling multi-asset trading worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Interval = time.Duration(intervalSeconds) * time.Second
			return runWorker(opts, verboseLevel)
		},
	}

	cmd.Flags().IntVar(&intervalSeconds, "interval", 60, "seconds between worker cycles")
	cmd.Flags().BoolVar(&opts.ShadowOnly, "shadow-only", false, "never place live orders, only shadow/paper fills")
	cmd.Flags().StringVar(&opts.Epic, "epic", "CC.D.CL.UNC.IP", "default epic when --multi-asset is not set")
	cmd.Flags().BoolVar(&opts.MultiAsset, "multi-asset", false, "cycle through every configured asset instead of just --epic")
	cmd.Flags().BoolVar(&verboseLevel, "verbose", false, "enable debug-level logging")
	opts.Verbose = verboseLevel
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "evaluate setups but never propose or confirm trades")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single cycle and exit")
	cmd.Flags().IntVar(&opts.MaxIterations, "max-iterations", 0, "stop after this many iterations (0 = unbounded)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorker(opts worker.Options, verbose bool) error {
	opts.Verbose = verbose
	log := setupLogger(verbose)
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	registry := broker.NewRegistry(log.Named("broker"), lookupFor(cfg))
	provider := market.NewProvider(log.Named("market"), storage.SQLiteRangeStore{Store: store}, store)
	strategyEngine := strategy.NewBreakoutEngine(provider)
	riskEngine := risk.NewEngine(risk.Limits{})
	execSvc := execution.NewService(log.Named("execution"), registry)
	diagStore := diagnostics.NewStore(store)

	var kiOrchestrator *ki.Orchestrator
	if cfg.KI.Enabled {
		kiOrchestrator = ki.NewOrchestrator(log.Named("ki"), cfg.KI.LocalEndpoint, cfg.KI.LocalAPIKey, cfg.KI.ReflectionEndpoint, cfg.KI.ReflectionAPIKey)
	}

	wc := &worker.Context{
		Log:       log,
		Store:     store,
		Registry:  registry,
		Provider:  provider,
		Strategy:  strategyEngine,
		Risk:      riskEngine,
		KI:        kiOrchestrator,
		Execution: execSvc,
		Diag:      diagStore,
	}

	assets, err := store.ActiveAssets()
	if err != nil {
		return fmt.Errorf("loading active assets: %w", err)
	}
	if len(assets) == 0 {
		assets = []types.TradingAsset{{Symbol: opts.Epic, Epic: opts.Epic, Broker: types.BrokerIG}}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	log.Info("starting worker", zap.Bool("multi_asset", opts.MultiAsset), zap.Bool("shadow_only", opts.ShadowOnly), zap.Bool("dry_run", opts.DryRun))

	if err := worker.Run(ctx, wc, assets, opts); err != nil && err != worker.ErrShuttingDown {
		return err
	}
	return nil
}

func lookupFor(cfg *config.Config) broker.ConfigLookup {
	return func(kind types.BrokerKind) (config.BrokerConfig, bool) {
		switch kind {
		case types.BrokerIG:
			return cfg.IG, cfg.IG.BaseURL != ""
		case types.BrokerMEXC:
			return cfg.MEXC, cfg.MEXC.BaseURL != ""
		case types.BrokerKraken:
			return cfg.Kraken, cfg.Kraken.BaseURL != ""
		default:
			return config.BrokerConfig{}, false
		}
	}
}

func setupLogger(verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(level),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to build logger: %v", err))
	}
	return logger
}
