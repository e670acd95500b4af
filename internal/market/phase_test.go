package market

import (
	"testing"
	"time"

	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

func defaultPhaseConfigs(asset string) []types.AssetSessionPhaseConfig {
	return []types.AssetSessionPhaseConfig{
		{Asset: asset, Phase: types.PhaseAsiaRange, Times: types.SessionTimes{Start: 0, End: 8 * time.Hour}, Enabled: true, Priority: 0},
		{Asset: asset, Phase: types.PhaseLondonCore, Times: types.SessionTimes{Start: 8 * time.Hour, End: 11 * time.Hour}, Enabled: true, Priority: 0},
		{Asset: asset, Phase: types.PhasePreUSRange, Times: types.SessionTimes{Start: 13 * time.Hour, End: 15 * time.Hour}, Enabled: true, Priority: 0},
		{Asset: asset, Phase: types.PhaseUSCoreTrading, Times: types.SessionTimes{Start: 15 * time.Hour, End: 22 * time.Hour}, Enabled: true, Priority: 0},
	}
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 4, hour, minute, 0, 0, time.UTC)
}

func TestResolvePhaseDefaults(t *testing.T) {
	configs := defaultPhaseConfigs("XAUUSD")

	cases := []struct {
		name string
		now  time.Time
		want types.SessionPhase
	}{
		{"asia open", at(0, 0), types.PhaseAsiaRange},
		{"asia late", at(7, 59), types.PhaseAsiaRange},
		{"london open", at(8, 0), types.PhaseLondonCore},
		{"london late", at(10, 59), types.PhaseLondonCore},
		{"gap between london and pre-us", at(12, 0), types.PhaseNone},
		{"pre-us open", at(13, 0), types.PhasePreUSRange},
		{"us core open", at(15, 0), types.PhaseUSCoreTrading},
		{"us core late", at(21, 59), types.PhaseUSCoreTrading},
		{"after us core", at(22, 0), types.PhaseNone},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := resolvePhase(configs, tc.now)
			if got != tc.want {
				t.Errorf("resolvePhase(%s) = %q, want %q", tc.now.Format("15:04"), got, tc.want)
			}
		})
	}
}

func TestResolvePhasePriorityBreaksOverlapTies(t *testing.T) {
	configs := []types.AssetSessionPhaseConfig{
		{Phase: types.PhaseLondonCore, Times: types.SessionTimes{Start: 8 * time.Hour, End: 12 * time.Hour}, Enabled: true, Priority: 5},
		{Phase: types.PhaseEIAPre, Times: types.SessionTimes{Start: 9 * time.Hour, End: 10 * time.Hour}, Enabled: true, Priority: 1},
	}

	got := resolvePhase(configs, at(9, 30))
	if got != types.PhaseEIAPre {
		t.Errorf("expected the lower-priority-number config to win on overlap, got %q", got)
	}
}

func TestResolvePhaseSkipsDisabledConfigs(t *testing.T) {
	configs := []types.AssetSessionPhaseConfig{
		{Phase: types.PhaseAsiaRange, Times: types.SessionTimes{Start: 0, End: 8 * time.Hour}, Enabled: false, Priority: 0},
	}
	if got := resolvePhase(configs, at(1, 0)); got != types.PhaseNone {
		t.Errorf("expected disabled config to be skipped, got %q", got)
	}
}

func TestWindowContainsWraparound(t *testing.T) {
	w := types.SessionTimes{Start: 21 * time.Hour, End: 2 * time.Hour}

	if !windowContains(w, 22*time.Hour) {
		t.Error("expected offset in the pre-midnight leg to match")
	}
	if !windowContains(w, 1*time.Hour) {
		t.Error("expected offset in the post-midnight leg to match")
	}
	if windowContains(w, 10*time.Hour) {
		t.Error("expected offset outside either leg not to match")
	}
}

func TestWeekendGatePhaseCryptoException(t *testing.T) {
	saturday := time.Date(2026, 3, 7, 12, 0, 0, 0, time.UTC)
	if _, gated := weekendGatePhase(true, saturday); gated {
		t.Error("a 24x7 asset must never be weekend-gated")
	}
	phase, gated := weekendGatePhase(false, saturday)
	if !gated || phase != types.PhaseNone {
		t.Errorf("expected a non-24x7 asset to gate to OTHER all day Saturday, got phase=%q gated=%v", phase, gated)
	}
}

func TestWeekendGatePhaseFridayLateCutoff(t *testing.T) {
	friday := time.Date(2026, 3, 6, 0, 0, 0, 0, time.UTC)

	before := friday.Add(20*time.Hour + 59*time.Minute)
	if _, gated := weekendGatePhase(false, before); gated {
		t.Error("expected trading still allowed just before the Friday 21:00 cutoff")
	}

	after := friday.Add(21 * time.Hour)
	phase, gated := weekendGatePhase(false, after)
	if !gated || phase != types.PhaseFridayLate {
		t.Errorf("expected FRIDAY_LATE from Friday 21:00 UTC onward, got phase=%q gated=%v", phase, gated)
	}
}

func TestResolveEIAWindow(t *testing.T) {
	ref := 15 * time.Hour
	cfg := types.BreakoutConfig{EIAReferenceTimeUTC: &ref, EIAPreMinutes: 30, EIAPostMinutes: 60}

	if phase, ok := resolveEIAWindow(cfg, at(14, 45)); !ok || phase != types.PhaseEIAPre {
		t.Errorf("expected EIA_PRE inside the pre-window, got phase=%q ok=%v", phase, ok)
	}
	if phase, ok := resolveEIAWindow(cfg, at(15, 30)); !ok || phase != types.PhaseEIAPost {
		t.Errorf("expected EIA_POST inside the post-window, got phase=%q ok=%v", phase, ok)
	}
	if _, ok := resolveEIAWindow(cfg, at(12, 0)); ok {
		t.Error("expected no EIA match far outside the reference window")
	}
}

func TestResolveEIAWindowSkippedWhenUnconfigured(t *testing.T) {
	cfg := types.BreakoutConfig{}
	if _, ok := resolveEIAWindow(cfg, at(15, 0)); ok {
		t.Error("expected EIA gating to be skipped entirely when no reference time is configured")
	}
}
