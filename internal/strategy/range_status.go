package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// ComputeRangeStatus classifies the live bid/ask against a persisted
// breakout range. This is a pure transparency computation — it never gates
// a trade — ported from the priority-ordered decision tree in
// original_source/trading/services/price_range_status.py's
// _compute_status_code, supplemented into the diagnostics surface per
// SPEC_FULL.md §3.
func ComputeRangeStatus(asset types.TradingAsset, phase types.SessionPhase, rng *types.BreakoutRange, bid, ask decimal.Decimal) types.RangeStatus {
	minTicks := asset.Breakout.MinBreakoutDistanceTicks
	if minTicks <= 0 {
		minTicks = 1
	}

	status := types.RangeStatus{
		Asset:                    asset.Symbol,
		Phase:                    phase,
		TickSize:                 asset.TickSize,
		MinBreakoutDistanceTicks: minTicks,
		Code:                     types.RangeStatusNoRange,
	}

	if rng == nil {
		return status
	}

	tickSize := asset.TickSize
	if !tickSize.IsPositive() {
		tickSize = decimal.NewFromFloat(0.01)
	}

	high, low := rng.High, rng.Low
	status.RangeHigh, status.RangeLow = &high, &low
	heightTicks := rng.HeightTick
	status.RangeTicks = &heightTicks
	status.CurrentBid, status.CurrentAsk = &bid, &ask

	distanceToHigh := high.Sub(bid)
	distanceToLow := ask.Sub(low)
	distanceToHighTicks := int(distanceToHigh.Div(tickSize).IntPart())
	distanceToLowTicks := int(distanceToLow.Div(tickSize).IntPart())
	status.DistanceToHighTicks = &distanceToHighTicks
	status.DistanceToLowTicks = &distanceToLowTicks

	minBreakoutDistance := decimal.NewFromInt(int64(minTicks)).Mul(tickSize)

	switch {
	case bid.GreaterThan(high.Add(minBreakoutDistance)):
		status.Code = types.RangeStatusBreakoutLong
	case ask.LessThan(low.Sub(minBreakoutDistance)):
		status.Code = types.RangeStatusBreakoutShort
	case distanceToHighTicks <= minTicks && bid.GreaterThanOrEqual(low):
		status.Code = types.RangeStatusNearBreakoutLong
	case distanceToLowTicks <= minTicks && ask.LessThanOrEqual(high):
		status.Code = types.RangeStatusNearBreakoutShort
	case bid.LessThanOrEqual(high) && ask.GreaterThanOrEqual(low):
		status.Code = types.RangeStatusInsideRange
	default:
		status.Code = types.RangeStatusNoRange
	}

	return status
}
