// Package strategy implements the Strategy Engine: a pure black-box
// evaluator that turns live range/candle data into tagged SetupCandidates.
package strategy

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// Criterion is one named pass/fail check the engine evaluated while
// deciding whether to emit a setup, surfaced for diagnostics.
type Criterion struct {
	Name   string
	Passed bool
	Detail string
}

// Diagnostics bundles the criteria evaluated for one asset/phase cycle
// alongside the live price-vs-range transparency readout.
type Diagnostics struct {
	Criteria    []Criterion
	RangeStatus types.RangeStatus
}

// RangeSource supplies the active range for an asset/phase, abstracting
// over internal/market.Provider so this package has no dependency on it.
type RangeSource interface {
	GetRange(asset types.TradingAsset, phase types.SessionPhase, now time.Time) (*types.BreakoutRange, error)
}

// Engine is the C4 black-box contract: Evaluate(epic, now) -> setups.
type Engine interface {
	Evaluate(asset types.TradingAsset, phase types.SessionPhase, now time.Time, price types.SymbolPrice) ([]types.SetupCandidate, error)
	EvaluateWithDiagnostics(asset types.TradingAsset, phase types.SessionPhase, now time.Time, price types.SymbolPrice) ([]types.SetupCandidate, Diagnostics, error)
}

// BreakoutEngine emits BREAKOUT setups when price clears the tracked range
// by at least MinBreakoutDistanceTicks, and EIA_REVERSION/EIA_TRENDDAY
// setups during the asset's configured EIA pre/post windows. Setup kinds
// are explicit tagged variants (SetupKind), not dynamic attributes, per
// SPEC_FULL.md §9's design note.
type BreakoutEngine struct {
	ranges RangeSource
}

func NewBreakoutEngine(ranges RangeSource) *BreakoutEngine {
	return &BreakoutEngine{ranges: ranges}
}

func (e *BreakoutEngine) Evaluate(asset types.TradingAsset, phase types.SessionPhase, now time.Time, price types.SymbolPrice) ([]types.SetupCandidate, error) {
	setups, _, err := e.EvaluateWithDiagnostics(asset, phase, now, price)
	return setups, err
}

// EvaluateWithDiagnostics assumes the caller has already confirmed phase is a
// declared trading phase (internal/market.Provider.PhaseFlags) before
// calling in; the PhaseNone check below only guards the OTHER case, it does
// not by itself distinguish a trading phase from a range-building one.
func (e *BreakoutEngine) EvaluateWithDiagnostics(asset types.TradingAsset, phase types.SessionPhase, now time.Time, price types.SymbolPrice) ([]types.SetupCandidate, Diagnostics, error) {
	diag := Diagnostics{}

	if phase == types.PhaseNone {
		diag.Criteria = append(diag.Criteria, Criterion{Name: "phase_active", Passed: false, Detail: "no phase active"})
		return nil, diag, nil
	}
	diag.Criteria = append(diag.Criteria, Criterion{Name: "phase_active", Passed: true, Detail: string(phase)})

	rng, err := e.ranges.GetRange(asset, rangeLookupPhase(phase), now)
	if err != nil {
		return nil, diag, err
	}
	diag.RangeStatus = ComputeRangeStatus(asset, phase, rng, price.Bid, price.Ask)

	if rng == nil {
		diag.Criteria = append(diag.Criteria, Criterion{Name: "range_present", Passed: false})
		return nil, diag, nil
	}
	diag.Criteria = append(diag.Criteria, Criterion{Name: "range_present", Passed: true})

	var setups []types.SetupCandidate

	switch phase {
	case types.PhaseEIAPre, types.PhaseEIAPost:
		s, crit := e.evaluateEIA(asset, phase, now, price, *rng)
		if s != nil {
			setups = append(setups, *s)
		}
		diag.Criteria = append(diag.Criteria, crit)
	default:
		s, crit := e.evaluateBreakout(asset, phase, now, price, *rng)
		if s != nil {
			setups = append(setups, *s)
		}
		diag.Criteria = append(diag.Criteria, crit)
	}

	return setups, diag, nil
}

// rangeLookupPhase maps an EIA phase back onto the underlying trading-phase
// range it reuses (EIA windows evaluate against the US_CORE_TRADING range,
// they do not maintain a separate range of their own).
func rangeLookupPhase(phase types.SessionPhase) types.SessionPhase {
	switch phase {
	case types.PhaseEIAPre, types.PhaseEIAPost:
		return types.PhaseUSCoreTrading
	default:
		return phase
	}
}

func (e *BreakoutEngine) evaluateBreakout(asset types.TradingAsset, phase types.SessionPhase, now time.Time, price types.SymbolPrice, rng types.BreakoutRange) (*types.SetupCandidate, Criterion) {
	minTicks := asset.Breakout.MinBreakoutDistanceTicks
	if minTicks <= 0 {
		minTicks = 1
	}
	tickSize := asset.TickSize
	if !tickSize.IsPositive() {
		tickSize = decimal.NewFromFloat(0.01)
	}
	minDistance := decimal.NewFromInt(int64(minTicks)).Mul(tickSize)

	switch {
	case price.Bid.GreaterThan(rng.High.Add(minDistance)):
		return e.newSetup(asset, phase, types.SetupBreakout, types.OrderSideBuy, price, rng, now),
			Criterion{Name: "breakout_distance", Passed: true, Detail: "long breakout"}
	case price.Ask.LessThan(rng.Low.Sub(minDistance)):
		return e.newSetup(asset, phase, types.SetupBreakout, types.OrderSideSell, price, rng, now),
			Criterion{Name: "breakout_distance", Passed: true, Detail: "short breakout"}
	default:
		return nil, Criterion{Name: "breakout_distance", Passed: false}
	}
}

func (e *BreakoutEngine) evaluateEIA(asset types.TradingAsset, phase types.SessionPhase, now time.Time, price types.SymbolPrice, rng types.BreakoutRange) (*types.SetupCandidate, Criterion) {
	kind := types.SetupEIAReversion
	if phase == types.PhaseEIAPost {
		kind = types.SetupEIATrendDay
	}

	mid := price.Bid.Add(price.Ask).Div(decimal.NewFromInt(2))
	rangeMid := rng.High.Add(rng.Low).Div(decimal.NewFromInt(2))

	side := types.OrderSideBuy
	if mid.LessThan(rangeMid) {
		side = types.OrderSideSell
	}

	return e.newSetup(asset, phase, kind, side, price, rng, now), Criterion{Name: "eia_window", Passed: true, Detail: string(kind)}
}

func (e *BreakoutEngine) newSetup(asset types.TradingAsset, phase types.SessionPhase, kind types.SetupKind, side types.OrderSide, price types.SymbolPrice, rng types.BreakoutRange, now time.Time) *types.SetupCandidate {
	entry := price.Ask
	if side == types.OrderSideSell {
		entry = price.Bid
	}

	return &types.SetupCandidate{
		ID:          uuid.NewString(),
		Asset:       asset.Symbol,
		Epic:        asset.Epic,
		Phase:       phase,
		Kind:        kind,
		Side:        side,
		EntryPrice:  entry,
		StopPrice:   stopFor(side, rng),
		TargetPrice: targetFor(side, entry, rng),
		Confidence:  decimal.NewFromFloat(0.6),
		CreatedAt:   now,
	}
}

func stopFor(side types.OrderSide, rng types.BreakoutRange) decimal.Decimal {
	if side == types.OrderSideBuy {
		return rng.Low
	}
	return rng.High
}

func targetFor(side types.OrderSide, entry decimal.Decimal, rng types.BreakoutRange) decimal.Decimal {
	height := rng.High.Sub(rng.Low)
	if side == types.OrderSideBuy {
		return entry.Add(height)
	}
	return entry.Sub(height)
}
