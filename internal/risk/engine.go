// Package risk implements the Risk Engine: a pure, non-mutating evaluation
// of a proposed order against account/position state and configured
// limits. Adapted from internal/execution/risk_manager.go's check list,
// reshaped from a stateful mutating RiskManager into a pure function per
// SPEC_FULL.md §4.5/§9 — callers own all state (Account/Position inputs)
// instead of the engine holding hidden counters.
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// Account is the daily-aggregate account state the risk engine checks
// against; the caller (the worker loop / diagnostics store) is responsible
// for keeping these counters current across the day.
type Account struct {
	PortfolioValue    decimal.Decimal
	DailyPnL          decimal.Decimal
	DailyTrades       int
	DailyVolume       decimal.Decimal
	ConsecutiveLosses int
	TotalExposure     decimal.Decimal
	SymbolExposure    map[string]decimal.Decimal
	KillSwitchActive  bool
}

// Limits configures the engine's thresholds. Grounded on
// internal/execution/risk_manager.go's RiskConfig fields.
type Limits struct {
	MinOrderSize          decimal.Decimal
	MaxOrderSize          decimal.Decimal
	MaxPositionPctOfPortfolio decimal.Decimal
	MaxDailyTrades        int
	MaxDailyVolume        decimal.Decimal
	MaxDailyLoss          decimal.Decimal
	MaxConsecutiveLosses  int
	MaxTotalExposure      decimal.Decimal
	MaxSymbolExposure     decimal.Decimal
	CorrelationGroups     map[string][]string
	MaxCorrelatedExposure decimal.Decimal
	TradingHoursStart     time.Duration
	TradingHoursEnd       time.Duration
}

// Engine evaluates a proposed order with no side effects.
type Engine struct {
	limits Limits
}

func NewEngine(limits Limits) *Engine {
	return &Engine{limits: limits}
}

// Evaluate runs every configured check against the proposed order and
// returns the accumulated violations/warnings. It never mutates account or
// positions, matching the "pure function" contract (unlike the teacher's
// RiskManager.CheckOrder, which records state as a side effect). positions
// is the caller's live broker-reported open-position snapshot (spec.md
// §4.5); their notional value is folded into a copy of account.SymbolExposure before
// the symbol/correlated-exposure checks run, so a caller that has not
// pre-aggregated exposure into Account still gets correct existing-position
// accounting.
func (e *Engine) Evaluate(account Account, positions []types.Position, setup types.SetupCandidate, order types.OrderRequest, now time.Time) types.RiskEvaluationResult {
	var violations []types.RiskViolation
	var warnings []string

	exposure := map[string]decimal.Decimal{}
	for symbol, v := range account.SymbolExposure {
		exposure[symbol] = v
	}
	for _, pos := range positions {
		exposure[pos.Epic] = exposure[pos.Epic].Add(pos.Size.Mul(pos.CurrentLevel))
	}

	if account.KillSwitchActive {
		violations = append(violations, types.RiskViolation{Code: types.RiskKillSwitchActive, Message: "kill switch is active"})
	}

	orderValue := order.Size.Mul(setup.EntryPrice)

	if e.limits.MinOrderSize.IsPositive() && order.Size.LessThan(e.limits.MinOrderSize) {
		violations = append(violations, types.RiskViolation{Code: types.RiskMinOrderSize, Value: order.Size, Limit: e.limits.MinOrderSize})
	}
	if e.limits.MaxOrderSize.IsPositive() && order.Size.GreaterThan(e.limits.MaxOrderSize) {
		violations = append(violations, types.RiskViolation{Code: types.RiskMaxOrderSize, Value: order.Size, Limit: e.limits.MaxOrderSize})
	}

	if e.limits.MaxPositionPctOfPortfolio.IsPositive() && account.PortfolioValue.IsPositive() {
		pct := orderValue.Div(account.PortfolioValue)
		if pct.GreaterThan(e.limits.MaxPositionPctOfPortfolio) {
			violations = append(violations, types.RiskViolation{Code: types.RiskMaxPositionPct, Value: pct, Limit: e.limits.MaxPositionPctOfPortfolio})
		}
	}

	if e.limits.MaxDailyTrades > 0 && account.DailyTrades >= e.limits.MaxDailyTrades {
		violations = append(violations, types.RiskViolation{Code: types.RiskMaxDailyTrades,
			Value: decimal.NewFromInt(int64(account.DailyTrades)), Limit: decimal.NewFromInt(int64(e.limits.MaxDailyTrades))})
	}

	if e.limits.MaxDailyVolume.IsPositive() {
		projected := account.DailyVolume.Add(orderValue)
		if projected.GreaterThan(e.limits.MaxDailyVolume) {
			violations = append(violations, types.RiskViolation{Code: types.RiskMaxDailyVolume, Value: projected, Limit: e.limits.MaxDailyVolume})
		}
	}

	if e.limits.MaxDailyLoss.IsPositive() && account.DailyPnL.IsNegative() && account.DailyPnL.Abs().GreaterThan(e.limits.MaxDailyLoss) {
		violations = append(violations, types.RiskViolation{Code: types.RiskMaxDailyLoss, Value: account.DailyPnL.Abs(), Limit: e.limits.MaxDailyLoss})
	}

	if e.limits.MaxConsecutiveLosses > 0 && account.ConsecutiveLosses >= e.limits.MaxConsecutiveLosses {
		violations = append(violations, types.RiskViolation{Code: types.RiskConsecutiveLosses,
			Value: decimal.NewFromInt(int64(account.ConsecutiveLosses)), Limit: decimal.NewFromInt(int64(e.limits.MaxConsecutiveLosses))})
	}

	if e.limits.MaxTotalExposure.IsPositive() {
		projected := account.TotalExposure.Add(orderValue)
		if projected.GreaterThan(e.limits.MaxTotalExposure) {
			violations = append(violations, types.RiskViolation{Code: types.RiskMaxTotalExposure, Value: projected, Limit: e.limits.MaxTotalExposure})
		}
	}

	if e.limits.MaxSymbolExposure.IsPositive() {
		existing := exposure[setup.Asset]
		projected := existing.Add(orderValue)
		if projected.GreaterThan(e.limits.MaxSymbolExposure) {
			violations = append(violations, types.RiskViolation{Code: types.RiskMaxSymbolExposure, Value: projected, Limit: e.limits.MaxSymbolExposure})
		}
	}

	if e.limits.MaxCorrelatedExposure.IsPositive() {
		if group, ok := correlationGroupFor(e.limits.CorrelationGroups, setup.Asset); ok {
			total := orderValue
			for _, sym := range group {
				total = total.Add(exposure[sym])
			}
			if total.GreaterThan(e.limits.MaxCorrelatedExposure) {
				violations = append(violations, types.RiskViolation{Code: types.RiskMaxCorrelatedExposure, Value: total, Limit: e.limits.MaxCorrelatedExposure})
			}
		}
	}

	if e.limits.TradingHoursEnd != e.limits.TradingHoursStart && !withinTradingHours(e.limits.TradingHoursStart, e.limits.TradingHoursEnd, now) {
		warnings = append(warnings, "order placed outside configured trading hours")
	}

	return types.RiskEvaluationResult{
		Approved:   len(violations) == 0,
		Violations: violations,
		Warnings:   warnings,
	}
}

func correlationGroupFor(groups map[string][]string, symbol string) ([]string, bool) {
	for _, members := range groups {
		for _, m := range members {
			if m == symbol {
				return members, true
			}
		}
	}
	return nil, false
}

// withinTradingHours reuses the same wraparound-window rule as
// internal/market.windowContains (and the teacher's
// RiskManager.isWithinTradingHours), expressed locally to keep this
// package free of a dependency on internal/market.
func withinTradingHours(start, end time.Duration, now time.Time) bool {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	offset := now.Sub(midnight)

	if start <= end {
		return offset >= start && offset < end
	}
	return offset >= start || offset < end
}
