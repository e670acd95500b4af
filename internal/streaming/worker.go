// Package streaming implements the Streaming Worker (C8): a websocket
// trade-feed consumer that aggregates ticks into 1-minute candles and
// periodically persists each open bar's latest trade price as a price
// snapshot (breakout ranges are not persisted here). Grounded on
// original_source/core/management/commands/run_kraken_market_data_worker.py
// for the aggregation/persist_interval/restart-on-symbol-change semantics.
package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/internal/market"
	"github.com/atlas-desktop/fiona-worker/internal/storage"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// TradeSubscriber is implemented by broker clients that expose a trade
// stream (MEXCClient, KrakenClient).
type TradeSubscriber interface {
	SubscribeTrades(ctx context.Context, epics []string, onTrade func(epic string, price, size decimal.Decimal, at time.Time)) error
}

const defaultPersistInterval = 60 * time.Second
const maxCandleBuffer = 1440 // one trading day of 1-minute bars

// Worker is the C8 Streaming Worker.
type Worker struct {
	log             *zap.Logger
	store           *storage.Store
	provider        *market.Provider
	persistInterval time.Duration

	mu      sync.Mutex
	bars    map[string]*partialCandle
	symbols []string
}

type partialCandle struct {
	open, high, low, close decimal.Decimal
	volume                 decimal.Decimal
	ticks                  int
	start                  time.Time
}

func NewWorker(log *zap.Logger, store *storage.Store, provider *market.Provider) *Worker {
	return &Worker{
		log:             log,
		store:           store,
		provider:        provider,
		persistInterval: defaultPersistInterval,
		bars:            make(map[string]*partialCandle),
	}
}

// SetPollInterval overrides the default 60s snapshot-persist cadence, used by
// cmd/run-streaming-worker's --interval flag.
func (w *Worker) SetPollInterval(interval time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.persistInterval = interval
}

// Run subscribes to the given symbols' trade stream and aggregates until ctx
// is cancelled. If the caller later needs a different symbol set, it should
// cancel ctx and call Run again — the worker itself does not hot-swap
// subscriptions, per the symbol-set-change restart semantics in spec.md.
func (w *Worker) Run(ctx context.Context, client TradeSubscriber, epics []string) error {
	w.mu.Lock()
	w.symbols = epics
	w.mu.Unlock()

	if err := client.SubscribeTrades(ctx, epics, w.onTrade); err != nil {
		return err
	}

	ticker := time.NewTicker(w.persistInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.flushAll(time.Now())
			return ctx.Err()
		case <-ticker.C:
			w.persistSnapshots()
		}
	}
}

func (w *Worker) onTrade(epic string, price, size decimal.Decimal, at time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	minute := at.Truncate(time.Minute)
	bar := w.bars[epic]
	if bar == nil || !bar.start.Equal(minute) {
		if bar != nil {
			w.closeCandle(epic, bar)
		}
		bar = &partialCandle{open: price, high: price, low: price, close: price, volume: size, ticks: 1, start: minute}
		w.bars[epic] = bar
		return
	}

	bar.close = price
	bar.volume = bar.volume.Add(size)
	bar.ticks++
	if price.GreaterThan(bar.high) {
		bar.high = price
	}
	if price.LessThan(bar.low) {
		bar.low = price
	}
}

func (w *Worker) closeCandle(epic string, bar *partialCandle) {
	c := types.Candle1m{
		Asset:     epic,
		Open:      bar.open,
		High:      bar.high,
		Low:       bar.low,
		Close:     bar.close,
		Volume:    bar.volume,
		TickCount: bar.ticks,
		StartTime: bar.start,
		EndTime:   bar.start.Add(time.Minute),
	}
	w.provider.UpdateCandleBuffer(epic, c, maxCandleBuffer)
}

func (w *Worker) flushAll(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for epic, bar := range w.bars {
		w.closeCandle(epic, bar)
	}
	w.persistSnapshotsLocked(now)
}

func (w *Worker) persistSnapshots() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.persistSnapshotsLocked(time.Now())
}

func (w *Worker) persistSnapshotsLocked(now time.Time) {
	for epic, bar := range w.bars {
		if err := w.store.SavePriceSnapshot(epic, bar.close, bar.close, now); err != nil {
			w.log.Warn("failed to persist price snapshot", zap.String("epic", epic), zap.Error(err))
		}
	}
}
