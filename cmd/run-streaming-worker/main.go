// Command run-streaming-worker runs the C8 Streaming Worker: it subscribes
// to one broker's trade stream, aggregates 1-minute candles in real time,
// and periodically persists each open bar's latest trade price as a price
// snapshot, independent of the polling Worker Loop. It does not persist
// breakout ranges. Flags mirror spec.md §6.
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

	"github.com/atlas-desktop/fiona-worker/internal/broker"
	"github.com/atlas-desktop/fiona-worker/internal/config"
	"github.com/atlas-desktop/fiona-worker/internal/market"
	"github.com/atlas-desktop/fiona-worker/internal/storage"
	"github.com/atlas-desktop/fiona-worker/internal/streaming"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

func main() {
	var intervalSeconds int
	var brokerKind string

	cmd := &cobra.Command{
		Use:   "run-streaming-worker",
		Short: "Run the websocket trade-aggregation streaming worker for one broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(time.Duration(intervalSeconds)*time.Second, types.BrokerKind(brokerKind))
		},
	}

	cmd.Flags().IntVar(&intervalSeconds, "interval", 5, "seconds between price-snapshot persists of the open 1-minute bars (trades are pushed by the stream, not polled)")
	cmd.Flags().StringVar(&brokerKind, "broker", string(types.BrokerKraken), "broker kind to stream trades from (KRAKEN, MEXC)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(interval time.Duration, kind types.BrokerKind) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
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

	assets, err := store.ActiveAssets()
	if err != nil {
		return fmt.Errorf("loading active assets: %w", err)
	}

	var epics []string
	for _, a := range assets {
		if a.Broker == kind {
			epics = append(epics, a.Epic)
		}
	}
	if len(epics) == 0 {
		log.Info("no active assets configured for broker, exiting", zap.String("broker", string(kind)))
		return nil
	}

	registry := broker.NewRegistry(log.Named("broker"), lookupFor(cfg))
	provider := market.NewProvider(log.Named("market"), storage.SQLiteRangeStore{Store: store}, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	client, err := registry.GetByKind(ctx, kind)
	if err != nil {
		return fmt.Errorf("acquiring broker client: %w", err)
	}

	subscriber, ok := client.(streaming.TradeSubscriber)
	if !ok {
		return fmt.Errorf("broker %s does not support a trade stream", kind)
	}

	worker := streaming.NewWorker(log.Named("streaming"), store, provider)
	worker.SetPollInterval(interval)

	log.Info("starting streaming worker", zap.String("broker", string(kind)), zap.Strings("epics", epics))

	err = worker.Run(ctx, subscriber, epics)
	registry.DisconnectAll(context.Background())
	if err != nil && err != context.Canceled {
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
