package risk_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/fiona-worker/internal/risk"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

func basicSetup() types.SetupCandidate {
	return types.SetupCandidate{
		Asset:      "XAUUSD",
		EntryPrice: decimal.NewFromInt(2400),
	}
}

func TestEngineApprovesWithinLimits(t *testing.T) {
	e := risk.NewEngine(risk.Limits{
		MinOrderSize: decimal.NewFromFloat(0.01),
		MaxOrderSize: decimal.NewFromInt(10),
	})
	account := risk.Account{PortfolioValue: decimal.NewFromInt(100000), SymbolExposure: map[string]decimal.Decimal{}}
	order := types.OrderRequest{Size: decimal.NewFromInt(1)}

	result := e.Evaluate(account, nil, basicSetup(), order, time.Now())
	if !result.Approved {
		t.Fatalf("expected approval, got violations: %+v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("expected no violations, got %d", len(result.Violations))
	}
}

func TestEngineKillSwitchAlwaysRejects(t *testing.T) {
	e := risk.NewEngine(risk.Limits{})
	account := risk.Account{KillSwitchActive: true, SymbolExposure: map[string]decimal.Decimal{}}
	order := types.OrderRequest{Size: decimal.NewFromInt(1)}

	result := e.Evaluate(account, nil, basicSetup(), order, time.Now())
	if result.Approved {
		t.Fatal("expected the kill switch to reject every order")
	}
	if !hasViolation(result.Violations, types.RiskKillSwitchActive) {
		t.Error("expected a RISK_KILL_SWITCH_ACTIVE violation")
	}
}

func TestEngineRejectsOrdersBelowMinSize(t *testing.T) {
	e := risk.NewEngine(risk.Limits{MinOrderSize: decimal.NewFromInt(5)})
	account := risk.Account{SymbolExposure: map[string]decimal.Decimal{}}
	order := types.OrderRequest{Size: decimal.NewFromInt(1)}

	result := e.Evaluate(account, nil, basicSetup(), order, time.Now())
	if result.Approved {
		t.Fatal("expected rejection for an order below the minimum size")
	}
	if !hasViolation(result.Violations, types.RiskMinOrderSize) {
		t.Error("expected a RISK_MIN_ORDER_SIZE violation")
	}
}

func TestEngineRejectsOverMaxDailyTrades(t *testing.T) {
	e := risk.NewEngine(risk.Limits{MaxDailyTrades: 3})
	account := risk.Account{DailyTrades: 3, SymbolExposure: map[string]decimal.Decimal{}}
	order := types.OrderRequest{Size: decimal.NewFromInt(1)}

	result := e.Evaluate(account, nil, basicSetup(), order, time.Now())
	if result.Approved {
		t.Fatal("expected rejection once the daily trade count reaches the limit")
	}
}

func TestEngineRejectsCorrelatedExposure(t *testing.T) {
	e := risk.NewEngine(risk.Limits{
		CorrelationGroups:     map[string][]string{"metals": {"XAUUSD", "XAGUSD"}},
		MaxCorrelatedExposure: decimal.NewFromInt(5000),
	})
	account := risk.Account{SymbolExposure: map[string]decimal.Decimal{"XAGUSD": decimal.NewFromInt(4000)}}
	order := types.OrderRequest{Size: decimal.NewFromInt(1)}

	result := e.Evaluate(account, nil, basicSetup(), order, time.Now())
	if result.Approved {
		t.Fatal("expected correlated exposure across XAUUSD/XAGUSD to be rejected")
	}
	if !hasViolation(result.Violations, types.RiskMaxCorrelatedExposure) {
		t.Error("expected a RISK_MAX_CORRELATED_EXPOSURE violation")
	}
}

func TestEngineFoldsOpenPositionsIntoCorrelatedExposure(t *testing.T) {
	e := risk.NewEngine(risk.Limits{
		CorrelationGroups:     map[string][]string{"metals": {"XAUUSD", "XAGUSD"}},
		MaxCorrelatedExposure: decimal.NewFromInt(5000),
	})
	account := risk.Account{SymbolExposure: map[string]decimal.Decimal{}}
	positions := []types.Position{
		{Epic: "XAGUSD", Size: decimal.NewFromInt(100), CurrentLevel: decimal.NewFromInt(40)},
	}
	order := types.OrderRequest{Size: decimal.NewFromInt(1)}

	result := e.Evaluate(account, positions, basicSetup(), order, time.Now())
	if result.Approved {
		t.Fatal("expected an open position alone (with no account.SymbolExposure entry) to still trip correlated exposure")
	}
	if !hasViolation(result.Violations, types.RiskMaxCorrelatedExposure) {
		t.Error("expected a RISK_MAX_CORRELATED_EXPOSURE violation sourced from the open position")
	}
}

func TestEngineApprovedPlusRejectedCountIsConsistent(t *testing.T) {
	e := risk.NewEngine(risk.Limits{MaxOrderSize: decimal.NewFromInt(2)})
	account := risk.Account{SymbolExposure: map[string]decimal.Decimal{}}

	approved, rejected := 0, 0
	for _, size := range []int64{1, 2, 3, 4} {
		order := types.OrderRequest{Size: decimal.NewFromInt(size)}
		result := e.Evaluate(account, nil, basicSetup(), order, time.Now())
		if result.Approved {
			approved++
		} else {
			rejected++
		}
	}
	if approved+rejected != 4 {
		t.Fatalf("expected every evaluated order to be either approved or rejected, got %d+%d", approved, rejected)
	}
	if approved != 2 || rejected != 2 {
		t.Errorf("expected 2 approved and 2 rejected, got approved=%d rejected=%d", approved, rejected)
	}
}

func hasViolation(violations []types.RiskViolation, code types.RiskViolationCode) bool {
	for _, v := range violations {
		if v.Code == code {
			return true
		}
	}
	return false
}
