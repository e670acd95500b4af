package execution_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/internal/broker"
	"github.com/atlas-desktop/fiona-worker/internal/config"
	"github.com/atlas-desktop/fiona-worker/internal/execution"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

func noBrokerRegistry() *broker.Registry {
	return broker.NewRegistry(zap.NewNop(), func(kind types.BrokerKind) (config.BrokerConfig, bool) {
		return config.BrokerConfig{}, false
	})
}

func sampleSetup() types.SetupCandidate {
	return types.SetupCandidate{ID: "setup-1", Asset: "XAUUSD", Epic: "CC.D.XAU.UNC.IP", EntryPrice: decimal.NewFromInt(2400)}
}

func TestProposeTradeCreatesProposedSession(t *testing.T) {
	svc := execution.NewService(zap.NewNop(), noBrokerRegistry())
	sess := svc.ProposeTrade(sampleSetup())

	if sess.ID == "" {
		t.Fatal("expected a non-empty session ID")
	}
	if sess.Status != execution.SessionProposed {
		t.Errorf("expected status proposed, got %q", sess.Status)
	}
}

func TestConfirmShadowTradeIsIdempotent(t *testing.T) {
	svc := execution.NewService(zap.NewNop(), noBrokerRegistry())
	sess := svc.ProposeTrade(sampleSetup())

	first, err := svc.ConfirmShadowTrade(sess.ID)
	if err != nil {
		t.Fatalf("ConfirmShadowTrade: %v", err)
	}
	if first.Status != execution.SessionShadowConfirmed {
		t.Fatalf("expected shadow_confirmed, got %q", first.Status)
	}
	firstFillTime := first.Result.FilledAt

	second, err := svc.ConfirmShadowTrade(sess.ID)
	if err != nil {
		t.Fatalf("ConfirmShadowTrade (repeat): %v", err)
	}
	if !second.Result.FilledAt.Equal(firstFillTime) {
		t.Error("expected re-confirming the same session to be a no-op returning the original result")
	}
}

func TestConfirmLiveTradeFallsBackToShadowWhenBrokerUnavailable(t *testing.T) {
	svc := execution.NewService(zap.NewNop(), noBrokerRegistry())
	asset := types.TradingAsset{Symbol: "XAUUSD", Epic: "CC.D.XAU.UNC.IP", Broker: types.BrokerIG}
	sess := svc.ProposeTrade(sampleSetup())

	order := types.OrderRequest{Epic: asset.Epic, Side: types.OrderSideBuy, Size: decimal.NewFromInt(1)}
	result, err := svc.ConfirmLiveTrade(context.Background(), sess.ID, asset, order)
	if err != nil {
		t.Fatalf("ConfirmLiveTrade: %v", err)
	}
	if result.Status != execution.SessionShadowConfirmed {
		t.Fatalf("expected a live failure to fall back to shadow_confirmed, got %q", result.Status)
	}
	if !result.Shadow {
		t.Error("expected the fallback session to be flagged as a shadow trade")
	}
	if result.Result == nil || result.Result.Status != types.OrderStatusFilled {
		t.Error("expected the shadow fallback to still produce a filled result")
	}
}

func TestConfirmLiveTradeUnknownSessionErrors(t *testing.T) {
	svc := execution.NewService(zap.NewNop(), noBrokerRegistry())
	asset := types.TradingAsset{Symbol: "XAUUSD", Broker: types.BrokerIG}

	_, err := svc.ConfirmLiveTrade(context.Background(), "does-not-exist", asset, types.OrderRequest{})
	if err == nil {
		t.Fatal("expected an error for an unknown session ID")
	}
}
