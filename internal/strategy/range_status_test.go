package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

func statusAsset() types.TradingAsset {
	return types.TradingAsset{
		Symbol:   "XAUUSD",
		TickSize: decimal.NewFromFloat(0.1),
		Breakout: types.BreakoutConfig{MinBreakoutDistanceTicks: 5},
	}
}

func TestComputeRangeStatusNoRange(t *testing.T) {
	status := ComputeRangeStatus(statusAsset(), types.PhaseUSCoreTrading, nil, decimal.NewFromInt(2400), decimal.NewFromInt(2401))
	if status.Code != types.RangeStatusNoRange {
		t.Errorf("expected NO_RANGE, got %q", status.Code)
	}
}

func TestComputeRangeStatusInsideRange(t *testing.T) {
	rng := &types.BreakoutRange{High: decimal.NewFromInt(2410), Low: decimal.NewFromInt(2390)}
	status := ComputeRangeStatus(statusAsset(), types.PhaseUSCoreTrading, rng, decimal.NewFromInt(2400), decimal.NewFromInt(2401))
	if status.Code != types.RangeStatusInsideRange {
		t.Errorf("expected INSIDE_RANGE, got %q", status.Code)
	}
}

func TestComputeRangeStatusBreakoutLong(t *testing.T) {
	rng := &types.BreakoutRange{High: decimal.NewFromInt(2410), Low: decimal.NewFromInt(2390)}
	// 5 ticks of 0.1 = 0.5 clearance required beyond the high
	status := ComputeRangeStatus(statusAsset(), types.PhaseUSCoreTrading, rng, decimal.NewFromFloat(2411.0), decimal.NewFromFloat(2411.2))
	if status.Code != types.RangeStatusBreakoutLong {
		t.Errorf("expected BREAKOUT_LONG, got %q", status.Code)
	}
}

func TestComputeRangeStatusBreakoutShort(t *testing.T) {
	rng := &types.BreakoutRange{High: decimal.NewFromInt(2410), Low: decimal.NewFromInt(2390)}
	status := ComputeRangeStatus(statusAsset(), types.PhaseUSCoreTrading, rng, decimal.NewFromFloat(2388.8), decimal.NewFromFloat(2389.0))
	if status.Code != types.RangeStatusBreakoutShort {
		t.Errorf("expected BREAKOUT_SHORT, got %q", status.Code)
	}
}
