package streaming_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/internal/market"
	"github.com/atlas-desktop/fiona-worker/internal/storage"
	"github.com/atlas-desktop/fiona-worker/internal/streaming"
)

type capturingSubscriber struct {
	epics   []string
	capture *func(epic string, price, size decimal.Decimal, at time.Time)
}

func (c *capturingSubscriber) SubscribeTrades(ctx context.Context, epics []string, onTrade func(epic string, price, size decimal.Decimal, at time.Time)) error {
	c.epics = epics
	*c.capture = onTrade
	return nil
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "streaming.db")
	store, err := storage.Open(path)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestWorkerSubscribesToRequestedEpics(t *testing.T) {
	store := newTestStore(t)
	provider := market.NewProvider(zap.NewNop(), storage.SQLiteRangeStore{Store: store}, store)
	w := streaming.NewWorker(zap.NewNop(), store, provider)
	w.SetPollInterval(5 * time.Millisecond)

	var onTrade func(epic string, price, size decimal.Decimal, at time.Time)
	sub := &capturingSubscriber{capture: &onTrade}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, sub, []string{"XBTUSD"}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; err != nil && err != context.Canceled {
		t.Fatalf("Run returned unexpected error: %v", err)
	}

	if len(sub.epics) != 1 || sub.epics[0] != "XBTUSD" {
		t.Errorf("expected the worker to subscribe to the requested epics, got %v", sub.epics)
	}
}

func TestOnTradeAccumulatesVolumeWithinOneMinuteBar(t *testing.T) {
	store := newTestStore(t)
	provider := market.NewProvider(zap.NewNop(), storage.SQLiteRangeStore{Store: store}, store)
	w := streaming.NewWorker(zap.NewNop(), store, provider)

	var onTrade func(epic string, price, size decimal.Decimal, at time.Time)
	sub := &capturingSubscriber{capture: &onTrade}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, sub, []string{"XBTUSD"}) }()
	time.Sleep(10 * time.Millisecond)

	minute := time.Now().UTC().Truncate(time.Minute)
	onTrade("XBTUSD", decimal.NewFromInt(50000), decimal.NewFromFloat(0.5), minute.Add(time.Second))
	onTrade("XBTUSD", decimal.NewFromInt(50010), decimal.NewFromFloat(0.25), minute.Add(2*time.Second))
	// Crossing into the next minute bucket closes the first candle.
	onTrade("XBTUSD", decimal.NewFromInt(50020), decimal.NewFromFloat(0.1), minute.Add(time.Minute+time.Second))

	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	// The first bar closed on the minute crossing; the second, still open at
	// cancel, is closed by the shutdown flush.
	candles := provider.RecentCandles("XBTUSD")
	if len(candles) != 2 {
		t.Fatalf("expected two closed candles, got %d", len(candles))
	}
	c := candles[0]
	wantVolume := decimal.NewFromFloat(0.75)
	if !c.Volume.Equal(wantVolume) {
		t.Errorf("candle volume = %s, want %s", c.Volume, wantVolume)
	}
	if c.TickCount != 2 {
		t.Errorf("candle tick count = %d, want 2", c.TickCount)
	}
	if !c.High.Equal(decimal.NewFromInt(50010)) {
		t.Errorf("candle high = %s, want 50010", c.High)
	}
	if !c.Low.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("candle low = %s, want 50000", c.Low)
	}
}

func TestFlushAllOnShutdownClosesPartialCandle(t *testing.T) {
	store := newTestStore(t)
	provider := market.NewProvider(zap.NewNop(), storage.SQLiteRangeStore{Store: store}, store)
	w := streaming.NewWorker(zap.NewNop(), store, provider)
	w.SetPollInterval(time.Hour) // ensure the ticker never fires during the test

	var onTrade func(epic string, price, size decimal.Decimal, at time.Time)
	sub := &capturingSubscriber{capture: &onTrade}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, sub, []string{"ETHUSD"}) }()
	time.Sleep(10 * time.Millisecond)

	onTrade("ETHUSD", decimal.NewFromInt(3000), decimal.NewFromFloat(1.0), time.Now())

	cancel()
	<-done

	candles := provider.RecentCandles("ETHUSD")
	if len(candles) != 1 {
		t.Fatalf("expected shutdown to flush the still-open candle, got %d candles", len(candles))
	}
}
