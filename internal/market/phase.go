// Package market implements the Market State Provider: per-epic session
// phase resolution, candle caching and breakout-range tracking.
package market

import (
	"time"

	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// offsetSince returns the UTC-midnight-relative offset for now.
func offsetSince(now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return now.Sub(midnight)
}

// windowContains implements the wraparound-aware phase window match: when
// start <= end the window is a normal same-day range (start <= m < end);
// when start > end the window wraps past midnight (m >= start || m < end).
// Grounded on internal/execution/risk_manager.go's isWithinTradingHours,
// which resolves the identical overnight-wraparound shape for a different
// purpose (trading-hours warnings rather than phase windows).
func windowContains(w types.SessionTimes, offset time.Duration) bool {
	if w.Start <= w.End {
		return offset >= w.Start && offset < w.End
	}
	return offset >= w.Start || offset < w.End
}

// resolvePhase picks the highest-priority enabled phase config whose window
// contains now, or PhaseNone if none match.
func resolvePhase(configs []types.AssetSessionPhaseConfig, now time.Time) types.SessionPhase {
	offset := offsetSince(now)

	var best *types.AssetSessionPhaseConfig
	for i := range configs {
		c := &configs[i]
		if !c.Enabled {
			continue
		}
		if !windowContains(c.Times, offset) {
			continue
		}
		if best == nil || c.Priority < best.Priority {
			best = c
		}
	}
	if best == nil {
		return types.PhaseNone
	}
	return best.Phase
}

// resolveEIAWindow returns true and the corresponding phase if now falls
// inside the asset's configured EIA pre/post window around the reference
// time. When the asset has no eiaReferenceTimeUTC configured, EIA gating is
// skipped entirely and the caller should fall through to normal phase
// matching, per SPEC_FULL.md §4.3.
func resolveEIAWindow(cfg types.BreakoutConfig, now time.Time) (types.SessionPhase, bool) {
	if cfg.EIAReferenceTimeUTC == nil {
		return types.PhaseNone, false
	}

	offset := offsetSince(now)
	ref := *cfg.EIAReferenceTimeUTC
	preStart := ref - time.Duration(cfg.EIAPreMinutes)*time.Minute
	postEnd := ref + time.Duration(cfg.EIAPostMinutes)*time.Minute

	if offset >= preStart && offset < ref {
		return types.PhaseEIAPre, true
	}
	if offset >= ref && offset < postEnd {
		return types.PhaseEIAPost, true
	}
	return types.PhaseNone, false
}

// fridayLateStart is the UTC offset from which a non-24x7 asset enters the
// FRIDAY_LATE phase ahead of the weekend close.
const fridayLateStart = 21 * time.Hour

// weekendGatePhase reports whether the weekend/Friday-late gate determines
// the phase outright for a non-24x7 asset: Saturday/Sunday resolve to
// PhaseNone (OTHER), and Friday from fridayLateStart onward resolves to
// PhaseFridayLate, a distinct phase rather than a suppression of trading.
// A 24x7 asset is never gated. The second return value is false when normal
// phase-config matching should proceed undisturbed.
func weekendGatePhase(trades24x7 bool, now time.Time) (types.SessionPhase, bool) {
	if trades24x7 {
		return types.PhaseNone, false
	}
	now = now.UTC()
	switch now.Weekday() {
	case time.Saturday, time.Sunday:
		return types.PhaseNone, true
	case time.Friday:
		if offsetSince(now) >= fridayLateStart {
			return types.PhaseFridayLate, true
		}
	}
	return types.PhaseNone, false
}
