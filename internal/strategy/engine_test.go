package strategy_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fiona-worker/internal/strategy"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

type fakeRangeSource struct {
	rng *types.BreakoutRange
	err error
}

func (f fakeRangeSource) GetRange(asset types.TradingAsset, phase types.SessionPhase, now time.Time) (*types.BreakoutRange, error) {
	return f.rng, f.err
}

func breakoutAsset() types.TradingAsset {
	return types.TradingAsset{
		Symbol:   "XAUUSD",
		Epic:     "CC.D.XAU.UNC.IP",
		TickSize: decimal.NewFromFloat(0.1),
		Breakout: types.BreakoutConfig{MinBreakoutDistanceTicks: 5},
	}
}

func TestBreakoutEngineNoPhaseEmitsNoSetups(t *testing.T) {
	engine := strategy.NewBreakoutEngine(fakeRangeSource{})
	setups, err := engine.Evaluate(breakoutAsset(), types.PhaseNone, time.Now(), types.SymbolPrice{})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(setups) != 0 {
		t.Errorf("expected no setups when no phase is active, got %d", len(setups))
	}
}

func TestBreakoutEngineNoRangeEmitsNoSetups(t *testing.T) {
	engine := strategy.NewBreakoutEngine(fakeRangeSource{rng: nil})
	setups, diag, err := engine.EvaluateWithDiagnostics(breakoutAsset(), types.PhaseUSCoreTrading, time.Now(), types.SymbolPrice{Bid: decimal.NewFromInt(2400), Ask: decimal.NewFromInt(2401)})
	if err != nil {
		t.Fatalf("EvaluateWithDiagnostics: %v", err)
	}
	if len(setups) != 0 {
		t.Error("expected no setups when no range has been built yet")
	}
	if diag.RangeStatus.Code != types.RangeStatusNoRange {
		t.Errorf("expected NO_RANGE diagnostics code, got %q", diag.RangeStatus.Code)
	}
}

func TestBreakoutEngineEmitsLongSetupOnClearBreakout(t *testing.T) {
	rng := &types.BreakoutRange{Asset: "XAUUSD", Phase: types.PhaseUSCoreTrading, High: decimal.NewFromInt(2410), Low: decimal.NewFromInt(2390)}
	engine := strategy.NewBreakoutEngine(fakeRangeSource{rng: rng})

	price := types.SymbolPrice{Bid: decimal.NewFromFloat(2411.0), Ask: decimal.NewFromFloat(2411.2)}
	setups, err := engine.Evaluate(breakoutAsset(), types.PhaseUSCoreTrading, time.Now(), price)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(setups) != 1 {
		t.Fatalf("expected exactly one setup, got %d", len(setups))
	}
	setup := setups[0]
	if setup.Side != types.OrderSideBuy {
		t.Errorf("expected a buy-side setup on a long breakout, got %q", setup.Side)
	}
	if setup.Kind != types.SetupBreakout {
		t.Errorf("expected SetupBreakout kind, got %q", setup.Kind)
	}
	if !setup.StopPrice.Equal(rng.Low) {
		t.Errorf("expected stop at the range low, got %s", setup.StopPrice)
	}
}

func TestBreakoutEngineEmitsShortSetupOnClearBreakdown(t *testing.T) {
	rng := &types.BreakoutRange{Asset: "XAUUSD", Phase: types.PhaseUSCoreTrading, High: decimal.NewFromInt(2410), Low: decimal.NewFromInt(2390)}
	engine := strategy.NewBreakoutEngine(fakeRangeSource{rng: rng})

	price := types.SymbolPrice{Bid: decimal.NewFromFloat(2388.8), Ask: decimal.NewFromFloat(2389.0)}
	setups, err := engine.Evaluate(breakoutAsset(), types.PhaseUSCoreTrading, time.Now(), price)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(setups) != 1 || setups[0].Side != types.OrderSideSell {
		t.Fatalf("expected exactly one sell-side setup, got %+v", setups)
	}
}

func TestBreakoutEngineNoSetupInsideRange(t *testing.T) {
	rng := &types.BreakoutRange{Asset: "XAUUSD", Phase: types.PhaseUSCoreTrading, High: decimal.NewFromInt(2410), Low: decimal.NewFromInt(2390)}
	engine := strategy.NewBreakoutEngine(fakeRangeSource{rng: rng})

	price := types.SymbolPrice{Bid: decimal.NewFromInt(2400), Ask: decimal.NewFromInt(2401)}
	setups, err := engine.Evaluate(breakoutAsset(), types.PhaseUSCoreTrading, time.Now(), price)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(setups) != 0 {
		t.Errorf("expected no setup for a price still inside the range, got %d", len(setups))
	}
}

func TestBreakoutEngineEIAPhaseEmitsReversionSetup(t *testing.T) {
	rng := &types.BreakoutRange{Asset: "XAUUSD", Phase: types.PhaseUSCoreTrading, High: decimal.NewFromInt(2410), Low: decimal.NewFromInt(2390)}
	engine := strategy.NewBreakoutEngine(fakeRangeSource{rng: rng})

	price := types.SymbolPrice{Bid: decimal.NewFromInt(2395), Ask: decimal.NewFromInt(2396)}
	setups, err := engine.Evaluate(breakoutAsset(), types.PhaseEIAPre, time.Now(), price)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(setups) != 1 {
		t.Fatalf("expected exactly one EIA setup, got %d", len(setups))
	}
	if setups[0].Kind != types.SetupEIAReversion {
		t.Errorf("expected SetupEIAReversion in the EIA_PRE window, got %q", setups[0].Kind)
	}
}
