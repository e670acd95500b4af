// Package worker implements the Worker Loop (C9): the top-level,
// single-threaded scheduler that cycles through configured assets once per
// tick, evaluating the strategy/risk/execution pipeline sequentially.
// Grounded on
// original_source/core/management/commands/run_fiona_worker.py's
// handle()/GracefulShutdown for the tick loop and reconnect policy, and on
// the teacher's cmd/server/main.go for the signal-handling/shutdown style.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/internal/broker"
	"github.com/atlas-desktop/fiona-worker/internal/ki"
	"github.com/atlas-desktop/fiona-worker/internal/risk"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

var decimalOne = decimal.NewFromInt(1)
var decimalTwo = decimal.NewFromInt(2)

// Options mirrors the CLI flags of the Python original's run_fiona_worker
// command exactly (names and defaults), per spec.md §6.
type Options struct {
	Interval      time.Duration // --interval, default 60s
	ShadowOnly    bool          // --shadow-only
	Epic          string        // --epic, default "CC.D.CL.UNC.IP"
	MultiAsset    bool          // --multi-asset
	Verbose       bool          // --verbose
	DryRun        bool          // --dry-run
	Once          bool          // --once
	MaxIterations int           // --max-iterations, 0 = unbounded
}

// reconnectBackoff is the fixed sleep between Registry.Clear() and the next
// reacquire attempt, per spec.md's reconnect policy.
const reconnectBackoff = 5 * time.Second

// snapshotRetention bounds how long PriceSnapshot rows are kept before the
// hourly prune sweep removes them, per spec.md §4.9 step 5.
const snapshotRetention = 2 * time.Hour

// AssetCycleResult mirrors the Python original's AssetCycleResult dataclass.
type AssetCycleResult struct {
	Asset         string
	SetupsFound   int
	Phase         types.SessionPhase
	Bid           decimal.Decimal
	Ask           decimal.Decimal
	BidPrice      string
	AskPrice      string
	Spread        string
	StatusMessage string
}

// Run executes the worker loop until ctx is cancelled, Options.Once stops it
// after a single iteration, or MaxIterations is reached. It never panics out
// to the caller: every per-asset error is caught and logged, matching
// spec.md §7's "the Worker Loop is a cup that catches everything".
func Run(ctx context.Context, wc *Context, assets []types.TradingAsset, opts Options) error {
	iteration := 0
	lastPrune := time.Time{}

	for {
		select {
		case <-ctx.Done():
			wc.Log.Info("worker loop shutting down", zap.Error(ctx.Err()))
			wc.Registry.DisconnectAll(context.Background())
			return ErrShuttingDown
		default:
		}

		iteration++
		if opts.MaxIterations > 0 && iteration > opts.MaxIterations {
			wc.Log.Info("max iterations reached, stopping", zap.Int("max_iterations", opts.MaxIterations))
			return nil
		}

		now := time.Now()
		cycleAssets := assets
		if !opts.MultiAsset && len(assets) > 0 {
			// Single-asset mode cycles the asset whose epic is opts.Epic, or,
			// when none is configured, a bare IG asset for that epic.
			cycleAssets = assets[:1]
			if opts.Epic != "" {
				cycleAssets = []types.TradingAsset{{Symbol: opts.Epic, Epic: opts.Epic, Broker: types.BrokerIG}}
				for i := range assets {
					if assets[i].Epic == opts.Epic {
						cycleAssets = assets[i : i+1]
						break
					}
				}
			}
		}

		var firstResult *AssetCycleResult
		for _, asset := range cycleAssets {
			result, err := runAssetCycle(ctx, wc, asset, opts, now)
			if err != nil {
				wc.Log.Error("asset cycle failed", zap.String("asset", asset.Symbol), zap.Error(err))
				if isBrokerError(err) {
					reconnect(ctx, wc)
				}
				continue
			}
			if firstResult == nil {
				firstResult = result
			}
			if opts.Verbose {
				wc.Log.Info("asset cycle complete",
					zap.String("asset", result.Asset),
					zap.Int("setups_found", result.SetupsFound),
					zap.String("bid", result.BidPrice),
					zap.String("ask", result.AskPrice),
				)
			}
		}

		// WorkerStatus is a last-writer-wins singleton (spec.md §4.9 step 4):
		// write it once per tick from the first asset that produced a price,
		// not once per asset, so a multi-asset tick doesn't leave it
		// reflecting whichever asset happened to run last.
		if firstResult != nil {
			_ = wc.Diag.RecordTick(types.WorkerStatus{
				CurrentAsset:  firstResult.Asset,
				CurrentPhase:  firstResult.Phase,
				BidPrice:      firstResult.Bid,
				AskPrice:      firstResult.Ask,
				LastIteration: iteration,
				LastTickAt:    now,
				StatusMessage: "ok",
			})
		}

		if lastPrune.IsZero() || now.Sub(lastPrune) >= time.Hour {
			if err := wc.Store.PruneOldSnapshots(snapshotRetention, now); err != nil {
				wc.Log.Warn("failed to prune old price snapshots", zap.Error(err))
			}
			lastPrune = now
		}

		if opts.Once {
			return nil
		}

		select {
		case <-ctx.Done():
			wc.Registry.DisconnectAll(context.Background())
			return ErrShuttingDown
		case <-time.After(opts.Interval):
		}
	}
}

func runAssetCycle(ctx context.Context, wc *Context, asset types.TradingAsset, opts Options, now time.Time) (*AssetCycleResult, error) {
	wc.Provider.SetCurrentAsset(asset.Epic)
	defer wc.Provider.ClearCurrentAsset()

	client, err := wc.Registry.Get(ctx, asset)
	if err != nil {
		return nil, fmt.Errorf("acquiring broker client: %w", err)
	}

	price, err := client.GetSymbolPrice(ctx, asset.Epic)
	if err != nil {
		return nil, fmt.Errorf("fetching price: %w", err)
	}

	mid := price.Bid.Add(price.Ask).Div(decimalTwo)
	if err := wc.Provider.UpdateCandle(asset, now, mid); err != nil {
		return nil, fmt.Errorf("updating candle: %w", err)
	}
	if err := wc.Store.SavePriceSnapshot(asset.Symbol, price.Bid, price.Ask, now); err != nil {
		wc.Log.Warn("failed to record price snapshot", zap.String("asset", asset.Symbol), zap.Error(err))
	}

	phase, err := wc.Provider.PhaseFor(asset, now)
	if err != nil {
		return nil, fmt.Errorf("resolving phase: %w", err)
	}

	if wc.Provider.CheckNoDataWarning(asset, phase) {
		_ = wc.Diag.RecordNoDataWarning(asset.Symbol, now)
	}

	isRangeBuild, isTrading, err := wc.Provider.PhaseFlags(asset, phase)
	if err != nil {
		return nil, fmt.Errorf("resolving phase flags: %w", err)
	}

	// spec.md §4.9 step d: a range-building phase persists its accumulating
	// high/low every tick rather than only at the phase boundary.
	if isRangeBuild {
		if err := wc.Provider.PersistRangeSnapshot(asset, now); err != nil {
			wc.Log.Warn("failed to persist range snapshot", zap.String("asset", asset.Symbol), zap.Error(err))
		} else {
			_ = wc.Diag.RecordRangeBuilt(asset.Symbol, now, phase)
		}
	}

	// spec.md §4.9 step e: the strategy engine only ever runs during a
	// declared trading phase; a range-building (or OTHER) phase never emits
	// setups.
	var setups []types.SetupCandidate
	if isTrading {
		setups, err = wc.Strategy.Evaluate(asset, phase, now, *price)
		if err != nil {
			return nil, fmt.Errorf("evaluating strategy: %w", err)
		}
	}

	for _, setup := range setups {
		_ = wc.Diag.RecordSetupFound(asset.Symbol, now)
		if err := processSetup(ctx, wc, asset, setup, opts, now); err != nil {
			wc.Log.Warn("processing setup failed", zap.String("asset", asset.Symbol), zap.String("setup_id", setup.ID), zap.Error(err))
		}
	}

	_ = wc.Diag.RecordCandleReceived(asset.Symbol, now)

	return &AssetCycleResult{
		Asset:       asset.Symbol,
		SetupsFound: len(setups),
		Phase:       phase,
		Bid:         price.Bid,
		Ask:         price.Ask,
		BidPrice:    price.Bid.String(),
		AskPrice:    price.Ask.String(),
		Spread:      price.Ask.Sub(price.Bid).String(),
	}, nil
}

func processSetup(ctx context.Context, wc *Context, asset types.TradingAsset, setup types.SetupCandidate, opts Options, now time.Time) error {
	if opts.DryRun {
		return nil
	}

	account, err := accountFromBroker(ctx, wc, asset)
	if err != nil {
		return fmt.Errorf("reading account state: %w", err)
	}
	client, err := wc.Registry.Get(ctx, asset)
	if err != nil {
		return fmt.Errorf("acquiring broker client: %w", err)
	}
	positions, err := client.GetOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("fetching open positions: %w", err)
	}
	order := types.OrderRequest{Epic: asset.Epic, Side: setup.Side, Size: decimalOne, LimitLevel: setup.EntryPrice, Shadow: opts.ShadowOnly}

	_ = wc.Diag.RecordRiskEvaluated(asset.Symbol, now)
	result := wc.Risk.Evaluate(account, positions, setup, order, now)
	if !result.Approved {
		// One rejection per rejected setup, tagged with its first violation,
		// so risk_approved + risk_rejected == risk_evaluated holds per row.
		var reason types.RiskViolationCode
		if len(result.Violations) > 0 {
			reason = result.Violations[0].Code
		}
		_ = wc.Diag.RecordRiskRejection(asset.Symbol, now, reason)
		_ = wc.Diag.RecordSetupDiscarded(asset.Symbol, now)
		return nil
	}
	_ = wc.Diag.RecordRiskApproved(asset.Symbol, now)

	if wc.KI != nil {
		kiResult := wc.KI.Evaluate(ctx, ki.PromptInputs{Setup: setup, Phase: setup.Phase})
		if kiResult.Failed {
			wc.Log.Warn("ki evaluation failed, proceeding without it", zap.String("asset", asset.Symbol), zap.String("reason", kiResult.FailureReason))
		} else if kiResult.Strength == types.SignalNoTrade {
			_ = wc.Diag.RecordSetupDiscarded(asset.Symbol, now)
			return nil
		}
	}

	sess := wc.Execution.ProposeTrade(setup)

	if opts.ShadowOnly {
		_, err = wc.Execution.ConfirmShadowTrade(sess.ID)
	} else {
		_, err = wc.Execution.ConfirmLiveTrade(ctx, sess.ID, asset, order)
	}
	if err != nil {
		return err
	}

	return wc.Diag.RecordSetupExecuted(asset.Symbol, now)
}

// accountFromBroker translates the broker's live account snapshot into the
// risk engine's Account input. Daily aggregate counters (DailyTrades,
// ConsecutiveLosses, exposure maps, ...) are intentionally left at their
// zero values here: accumulating them across a trading day is diagnostics
// bookkeeping, not part of this pure per-tick evaluation call, and belongs
// in whatever persistent counters a future iteration layers on top of
// internal/diagnostics.
func accountFromBroker(ctx context.Context, wc *Context, asset types.TradingAsset) (risk.Account, error) {
	client, err := wc.Registry.Get(ctx, asset)
	if err != nil {
		return risk.Account{}, err
	}
	state, err := client.GetAccountState(ctx)
	if err != nil {
		return risk.Account{}, err
	}
	return risk.Account{
		PortfolioValue: state.Equity,
		SymbolExposure: map[string]decimal.Decimal{},
	}, nil
}

func reconnect(ctx context.Context, wc *Context) {
	wc.Log.Warn("broker error detected, reconnecting", zap.Duration("backoff", reconnectBackoff))
	wc.Registry.Clear(ctx)

	select {
	case <-ctx.Done():
	case <-time.After(reconnectBackoff):
	}
}

// isBrokerError reports whether err is a C2-class failure (auth, token
// invalidation, config/unsupported-broker) that warrants clearing the
// registry and reconnecting. Strategy/risk/execution errors are logged but
// never trigger a reconnect, per spec.md §7's error taxonomy.
func isBrokerError(err error) bool {
	if err == nil {
		return false
	}
	var cfgMissing *broker.ConfigMissingError
	var unsupported *broker.UnsupportedBrokerError
	return errors.As(err, &cfgMissing) ||
		errors.As(err, &unsupported) ||
		errors.Is(err, broker.ErrAuthFailed) ||
		errors.Is(err, broker.ErrTokenInvalid) ||
		errors.Is(err, broker.ErrNotConnected)
}
