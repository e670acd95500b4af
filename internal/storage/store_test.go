package storage_test

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/atlas-desktop/fiona-worker/internal/storage"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

func newTestStore(t *testing.T) (*storage.Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	store, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func TestSaveAndLatestRangeForPhaseRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	r := types.BreakoutRange{
		Asset: "XAUUSD", Phase: types.PhaseUSCoreTrading,
		High: decimal.NewFromFloat(2410.5), Low: decimal.NewFromFloat(2390.2), HeightTick: 203,
		StartTime: now.Add(-time.Hour), EndTime: now,
	}
	require.NoError(t, s.SaveRange(r))

	got, err := s.LatestRangeForPhase("XAUUSD", types.PhaseUSCoreTrading)
	require.NoError(t, err)
	require.NotNil(t, got, "expected a persisted range to come back")
	require.True(t, got.High.Equal(r.High), "high mismatch: got %s want %s", got.High, r.High)
	require.True(t, got.Low.Equal(r.Low), "low mismatch: got %s want %s", got.Low, r.Low)
}

func TestLatestRangeForPhaseReturnsNilWhenAbsent(t *testing.T) {
	s, _ := newTestStore(t)
	got, err := s.LatestRangeForPhase("UNKNOWN", types.PhaseAsiaRange)
	require.NoError(t, err)
	require.Nil(t, got, "expected nil for an asset/phase with no persisted range")
}

func TestPruneOldSnapshotsRemovesOnlyStaleRows(t *testing.T) {
	s, path := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.SavePriceSnapshot("XAUUSD", decimal.NewFromInt(2400), decimal.NewFromInt(2401), now.Add(-3*time.Hour)))
	require.NoError(t, s.SavePriceSnapshot("XAUUSD", decimal.NewFromInt(2405), decimal.NewFromInt(2406), now))

	require.NoError(t, s.PruneOldSnapshots(2*time.Hour, now))

	require.Equal(t, 1, countSnapshots(t, path, "XAUUSD"), "expected exactly one surviving snapshot after pruning")
}

func countSnapshots(t *testing.T, path, asset string) int {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err, "opening test verification connection")
	defer db.Close()

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM price_snapshots WHERE asset = ?`, asset).Scan(&n)
	require.NoError(t, err, "counting price_snapshots")
	return n
}

func TestUpsertWorkerStatusRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	ws := types.WorkerStatus{
		CurrentAsset: "XAUUSD", CurrentPhase: types.PhaseLondonCore,
		BidPrice: decimal.NewFromInt(2400), AskPrice: decimal.NewFromInt(2401),
		LastIteration: 7, LastTickAt: now, StatusMessage: "ok",
	}
	require.NoError(t, s.UpsertWorkerStatus(ws))

	got, err := s.CurrentWorkerStatus()
	require.NoError(t, err)
	require.NotNil(t, got, "expected a worker_status row")
	require.Equal(t, ws.CurrentAsset, got.CurrentAsset)
	require.Equal(t, ws.LastIteration, got.LastIteration)
}

func TestIncrementDiagnosticsAccumulatesInSameWindow(t *testing.T) {
	s, path := newTestStore(t)
	window := time.Now().UTC().Truncate(time.Hour)

	require.NoError(t, s.IncrementDiagnostics("XAUUSD", window, types.DiagnosticsDelta{SetupsFound: 1}))
	require.NoError(t, s.IncrementDiagnostics("XAUUSD", window, types.DiagnosticsDelta{SetupsFound: 2, SetupsExecuted: 1}))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err, "opening test verification connection")
	defer db.Close()

	var setupsFound, setupsExecuted int
	err = db.QueryRow(`SELECT setups_found, setups_executed FROM asset_diagnostics WHERE asset = ? AND window_start = ?`,
		"XAUUSD", window.Format(time.RFC3339)).Scan(&setupsFound, &setupsExecuted)
	require.NoError(t, err, "reading asset_diagnostics")
	require.Equal(t, 3, setupsFound, "expected setups_found to accumulate")
	require.Equal(t, 1, setupsExecuted, "expected setups_executed to accumulate")
}

func TestIncrementDiagnosticsAccumulatesRangesBuiltAndRejectionReasons(t *testing.T) {
	s, path := newTestStore(t)
	window := time.Now().UTC().Truncate(time.Hour)

	require.NoError(t, s.IncrementDiagnostics("XAUUSD", window, types.DiagnosticsDelta{RangePhase: types.PhaseAsiaRange}))
	require.NoError(t, s.IncrementDiagnostics("XAUUSD", window, types.DiagnosticsDelta{RangePhase: types.PhaseAsiaRange}))
	require.NoError(t, s.IncrementDiagnostics("XAUUSD", window, types.DiagnosticsDelta{RiskRejected: 1, RejectionReason: types.RiskMaxDailyTrades}))

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err, "opening test verification connection")
	defer db.Close()

	var rangesBuilt int
	require.NoError(t, db.QueryRow(`SELECT count FROM asset_diagnostics_ranges_built WHERE asset = ? AND window_start = ? AND phase = ?`,
		"XAUUSD", window.Format(time.RFC3339), string(types.PhaseAsiaRange)).Scan(&rangesBuilt))
	require.Equal(t, 2, rangesBuilt, "expected ranges_built to accumulate per phase")

	var reasonCount int
	require.NoError(t, db.QueryRow(`SELECT count FROM asset_diagnostics_rejection_reasons WHERE asset = ? AND window_start = ? AND reason = ?`,
		"XAUUSD", window.Format(time.RFC3339), string(types.RiskMaxDailyTrades)).Scan(&reasonCount))
	require.Equal(t, 1, reasonCount, "expected the rejection reason to be recorded")
}
