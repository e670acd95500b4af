package market

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/internal/storage"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// PhaseConfigSource supplies the configured phase windows for one asset,
// abstracted so tests can substitute fixed configs.
type PhaseConfigSource interface {
	PhaseConfigsForAsset(asset string) ([]types.AssetSessionPhaseConfig, error)
}

// phaseRangeTracker holds the intra-phase high/low observed from mid
// prices for one epic. Kept separate from any broker-reported daily
// high/low: per the Python original's comment in run_fiona_worker.py,
// broker daily values would otherwise bleed across phase boundaries (e.g.
// using the Asia session's low for the London or US range).
type phaseRangeTracker struct {
	phase types.SessionPhase
	high  decimal.Decimal
	low   decimal.Decimal
	start time.Time
}

// Provider is the C3 Market State Provider: resolves the active session
// phase per asset, maintains a local phase-range tracker independent of
// broker daily highs/lows, buffers recent 1-minute candles, and falls back
// to persisted ranges when no live data has accumulated yet.
type Provider struct {
	log    *zap.Logger
	ranges storage.RangeStore
	config PhaseConfigSource

	mu            sync.Mutex
	trackers      map[string]*phaseRangeTracker
	candleBuffers map[string][]types.Candle1m
	candleCounts  map[string]int
	currentAsset  string
}

func NewProvider(log *zap.Logger, ranges storage.RangeStore, config PhaseConfigSource) *Provider {
	return &Provider{
		log:           log,
		ranges:        ranges,
		config:        config,
		trackers:      make(map[string]*phaseRangeTracker),
		candleBuffers: make(map[string][]types.Candle1m),
		candleCounts:  make(map[string]int),
	}
}

// SetCurrentAsset records the asset the single-threaded worker cycle is
// currently processing. Kept per spec's own C3 contract even though most
// of the rest of this package takes an explicit asset parameter — see
// SPEC_FULL.md §9 for why the pointer was not removed.
func (p *Provider) SetCurrentAsset(epic string) {
	p.mu.Lock()
	p.currentAsset = epic
	p.mu.Unlock()
}

func (p *Provider) ClearCurrentAsset() {
	p.mu.Lock()
	p.currentAsset = ""
	p.mu.Unlock()
}

func (p *Provider) CurrentAsset() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentAsset
}

// PhaseFor is the concurrency-safe, explicit-parameter phase resolution
// entry point the Streaming Worker and any concurrent caller should use.
func (p *Provider) PhaseFor(asset types.TradingAsset, now time.Time) (types.SessionPhase, error) {
	if phase, gated := weekendGatePhase(asset.Trades24x7, now); gated {
		return phase, nil
	}
	if phase, matched := resolveEIAWindow(asset.Breakout, now); matched {
		return phase, nil
	}

	configs, err := p.config.PhaseConfigsForAsset(asset.Symbol)
	if err != nil {
		return types.PhaseNone, err
	}
	return resolvePhase(configs, now), nil
}

// PhaseFlags reports whether phase is declared as a range-building and/or
// trading phase in asset's configured AssetSessionPhaseConfig entries,
// matched by phase name regardless of the Enabled bit: PhaseFor has already
// decided whether phase applies to now, this only reads its declared kind.
// PhaseNone (OTHER) is never a range-building or trading phase.
func (p *Provider) PhaseFlags(asset types.TradingAsset, phase types.SessionPhase) (isRangeBuild, isTrading bool, err error) {
	if phase == types.PhaseNone {
		return false, false, nil
	}
	configs, err := p.config.PhaseConfigsForAsset(asset.Symbol)
	if err != nil {
		return false, false, err
	}
	for i := range configs {
		if configs[i].Phase == phase {
			return configs[i].IsRangeBuildPhase, configs[i].IsTradingPhase, nil
		}
	}
	return false, false, nil
}

// UpdateCandle folds one live mid-price observation into the current
// phase's range tracker for asset, starting a fresh tracker whenever the
// resolved phase changes.
func (p *Provider) UpdateCandle(asset types.TradingAsset, now time.Time, mid decimal.Decimal) error {
	phase, err := p.PhaseFor(asset, now)
	if err != nil {
		return err
	}
	if phase == types.PhaseNone {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	t := p.trackers[asset.Symbol]
	if t == nil || t.phase != phase {
		t = &phaseRangeTracker{phase: phase, high: mid, low: mid, start: now}
		p.trackers[asset.Symbol] = t
		return nil
	}
	if mid.GreaterThan(t.high) {
		t.high = mid
	}
	if mid.LessThan(t.low) {
		t.low = mid
	}
	return nil
}

// rangeSnapshot builds the persisted BreakoutRange shape for the currently
// tracked high/low of t, as of now.
func rangeSnapshot(asset types.TradingAsset, t *phaseRangeTracker, now time.Time) types.BreakoutRange {
	heightTicks := 0
	if asset.TickSize.IsPositive() {
		heightTicks = int(t.high.Sub(t.low).Div(asset.TickSize).IntPart())
	}
	return types.BreakoutRange{
		Asset:      asset.Symbol,
		Phase:      t.phase,
		High:       t.high,
		Low:        t.low,
		HeightTick: heightTicks,
		StartTime:  t.start,
		EndTime:    now,
	}
}

// PersistRangeSnapshot writes the currently tracked range for asset's active
// phase to storage without closing it, for the Worker Loop to call once per
// tick while a range-building phase window remains open (spec.md §4.9 step
// d's "call the corresponding set_<phase>_range"). A no-op if nothing is
// being tracked.
func (p *Provider) PersistRangeSnapshot(asset types.TradingAsset, now time.Time) error {
	p.mu.Lock()
	t := p.trackers[asset.Symbol]
	p.mu.Unlock()
	if t == nil {
		return nil
	}
	return p.ranges.SaveRange(rangeSnapshot(asset, t, now))
}

// CloseRange persists the currently tracked range for asset/phase (called
// when a phase boundary is crossed) and clears the in-memory tracker.
func (p *Provider) CloseRange(asset types.TradingAsset, now time.Time) error {
	p.mu.Lock()
	t := p.trackers[asset.Symbol]
	p.mu.Unlock()
	if t == nil {
		return nil
	}

	if err := p.ranges.SaveRange(rangeSnapshot(asset, t, now)); err != nil {
		return err
	}

	p.mu.Lock()
	delete(p.trackers, asset.Symbol)
	p.mu.Unlock()
	return nil
}

// GetRange returns the active in-memory range if one is being tracked for
// asset's current phase, falling back to the most recently persisted range
// within the freshness window, and finally nil if nothing usable exists.
func (p *Provider) GetRange(asset types.TradingAsset, phase types.SessionPhase, now time.Time) (*types.BreakoutRange, error) {
	p.mu.Lock()
	t := p.trackers[asset.Symbol]
	p.mu.Unlock()

	if t != nil && t.phase == phase {
		return &types.BreakoutRange{
			Asset: asset.Symbol, Phase: phase, High: t.high, Low: t.low, StartTime: t.start, EndTime: now,
		}, nil
	}

	persisted, err := p.ranges.LatestRangeForPhase(asset.Symbol, phase)
	if err != nil {
		return nil, err
	}
	if persisted == nil {
		return nil, nil
	}
	if now.Sub(persisted.EndTime) > rangeFreshnessWindow {
		return nil, nil
	}
	return persisted, nil
}

// rangeFreshnessWindow bounds how old a persisted range may be before it is
// treated as stale rather than a usable fallback.
const rangeFreshnessWindow = 24 * time.Hour

// UpdateCandleBuffer appends a closed 1-minute candle to the asset's
// in-memory buffer, trimming to a bounded window and counting totals for
// diagnostics.
func (p *Provider) UpdateCandleBuffer(asset string, c types.Candle1m, maxBuffer int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf := append(p.candleBuffers[asset], c)
	if len(buf) > maxBuffer {
		buf = buf[len(buf)-maxBuffer:]
	}
	p.candleBuffers[asset] = buf
	p.candleCounts[asset]++
}

// CandleCount returns how many candles have been received in total for
// asset, used by CheckNoDataWarning.
func (p *Provider) CandleCount(asset string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.candleCounts[asset]
}

// RecentCandles returns a copy of the buffered candles for asset.
func (p *Provider) RecentCandles(asset string) []types.Candle1m {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]types.Candle1m, len(p.candleBuffers[asset]))
	copy(out, p.candleBuffers[asset])
	return out
}

// CheckNoDataWarning reports true when an asset in any resolved phase (not
// PhaseNone) has received no candles at all since the last
// ClearSessionCaches call.
func (p *Provider) CheckNoDataWarning(asset types.TradingAsset, phase types.SessionPhase) bool {
	if phase == types.PhaseNone {
		return false
	}
	return p.CandleCount(asset.Symbol) == 0
}

// ClearSessionCaches drops every in-memory cache (candle buffers/counts and
// phase-range trackers) without touching persisted ranges, matching the
// provider's clear_session_caches contract: the next per-phase range lookup
// falls back to storage, and CheckNoDataWarning starts counting from zero
// again.
func (p *Provider) ClearSessionCaches() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.trackers = make(map[string]*phaseRangeTracker)
	p.candleBuffers = make(map[string][]types.Candle1m)
	p.candleCounts = make(map[string]int)
}
