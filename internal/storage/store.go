// Package storage persists trading assets, session phase configuration,
// breakout ranges, price snapshots, worker status and diagnostics counters
// in a local SQLite database.
package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// Store is the sqlite-backed persistence layer shared by the worker loop and
// the streaming worker.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates (or reuses) the sqlite database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// ActiveAssets returns every configured trading asset.
func (s *Store) ActiveAssets() ([]types.TradingAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT symbol, epic, broker, tick_size, trades_24x7,
		min_breakout_distance_ticks, max_setups_per_phase, eia_pre_minutes, eia_post_minutes
		FROM trading_assets`)
	if err != nil {
		return nil, fmt.Errorf("storage: querying trading_assets: %w", err)
	}
	defer rows.Close()

	var assets []types.TradingAsset
	for rows.Next() {
		var a types.TradingAsset
		var tickSize string
		var trades24x7 int
		if err := rows.Scan(&a.Symbol, &a.Epic, &a.Broker, &tickSize, &trades24x7,
			&a.Breakout.MinBreakoutDistanceTicks, &a.Breakout.MaxSetupsPerPhase,
			&a.Breakout.EIAPreMinutes, &a.Breakout.EIAPostMinutes); err != nil {
			return nil, fmt.Errorf("storage: scanning trading_assets row: %w", err)
		}
		a.TickSize, err = decimal.NewFromString(tickSize)
		if err != nil {
			return nil, fmt.Errorf("storage: parsing tick_size for %s: %w", a.Symbol, err)
		}
		a.Trades24x7 = trades24x7 != 0
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

// PhaseConfigsForAsset returns the configured phase windows for one asset,
// ordered by priority ascending.
func (s *Store) PhaseConfigsForAsset(asset string) ([]types.AssetSessionPhaseConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT phase, start_offset_seconds, end_offset_seconds, enabled, priority,
		is_range_build_phase, is_trading_phase
		FROM asset_session_phase_configs WHERE asset = ? ORDER BY priority ASC`, asset)
	if err != nil {
		return nil, fmt.Errorf("storage: querying phase configs for %s: %w", asset, err)
	}
	defer rows.Close()

	var out []types.AssetSessionPhaseConfig
	for rows.Next() {
		var c types.AssetSessionPhaseConfig
		var startSec, endSec int64
		var enabled, isRangeBuild, isTrading int
		if err := rows.Scan(&c.Phase, &startSec, &endSec, &enabled, &c.Priority, &isRangeBuild, &isTrading); err != nil {
			return nil, fmt.Errorf("storage: scanning phase config row: %w", err)
		}
		c.Asset = asset
		c.Times = types.SessionTimes{Start: time.Duration(startSec) * time.Second, End: time.Duration(endSec) * time.Second}
		c.Enabled = enabled != 0
		c.IsRangeBuildPhase = isRangeBuild != 0
		c.IsTradingPhase = isTrading != 0
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestRangeForPhase returns the most recently closed BreakoutRange for an
// asset/phase pair, or nil if none has been persisted yet.
func (s *Store) LatestRangeForPhase(asset string, phase types.SessionPhase) (*types.BreakoutRange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT high, low, height_tick, start_time, end_time FROM breakout_ranges
		WHERE asset = ? AND phase = ? ORDER BY end_time DESC LIMIT 1`, asset, string(phase))

	var high, low, startStr, endStr string
	var heightTick int
	if err := row.Scan(&high, &low, &heightTick, &startStr, &endStr); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: reading latest range for %s/%s: %w", asset, phase, err)
	}

	r := &types.BreakoutRange{Asset: asset, Phase: phase, HeightTick: heightTick}
	var err error
	if r.High, err = decimal.NewFromString(high); err != nil {
		return nil, fmt.Errorf("storage: parsing range high: %w", err)
	}
	if r.Low, err = decimal.NewFromString(low); err != nil {
		return nil, fmt.Errorf("storage: parsing range low: %w", err)
	}
	if r.StartTime, err = time.Parse(time.RFC3339, startStr); err != nil {
		return nil, fmt.Errorf("storage: parsing range start_time: %w", err)
	}
	if r.EndTime, err = time.Parse(time.RFC3339, endStr); err != nil {
		return nil, fmt.Errorf("storage: parsing range end_time: %w", err)
	}
	return r, nil
}

// SaveRange upserts a closed breakout range.
func (s *Store) SaveRange(r types.BreakoutRange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO breakout_ranges (asset, phase, high, low, height_tick, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset, phase, end_time) DO UPDATE SET high = excluded.high, low = excluded.low,
			height_tick = excluded.height_tick, start_time = excluded.start_time`,
		r.Asset, string(r.Phase), r.High.String(), r.Low.String(), r.HeightTick,
		r.StartTime.Format(time.RFC3339), r.EndTime.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("storage: saving range for %s/%s: %w", r.Asset, r.Phase, err)
	}
	return nil
}

// SavePriceSnapshot persists a periodic bid/ask snapshot, grounded on the
// streaming worker's persist_interval requirement.
func (s *Store) SavePriceSnapshot(asset string, bid, ask decimal.Decimal, takenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO price_snapshots (asset, bid, ask, taken_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(asset, taken_at) DO UPDATE SET bid = excluded.bid, ask = excluded.ask`,
		asset, bid.String(), ask.String(), takenAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("storage: saving price snapshot for %s: %w", asset, err)
	}
	return nil
}

// PruneOldSnapshots deletes price_snapshots rows older than the given age,
// called once an hour by the worker loop per spec.md §4.9 step 5.
func (s *Store) PruneOldSnapshots(olderThan time.Duration, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-olderThan).Format(time.RFC3339)
	_, err := s.db.Exec(`DELETE FROM price_snapshots WHERE taken_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("storage: pruning price_snapshots: %w", err)
	}
	return nil
}

// UpsertWorkerStatus overwrites the singleton worker_status row
// (last-writer-wins, per the diagnostics contract).
func (s *Store) UpsertWorkerStatus(ws types.WorkerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO worker_status
			(id, current_asset, current_phase, bid_price, ask_price, last_iteration, last_tick_at, status_message)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			current_asset = excluded.current_asset, current_phase = excluded.current_phase,
			bid_price = excluded.bid_price, ask_price = excluded.ask_price,
			last_iteration = excluded.last_iteration, last_tick_at = excluded.last_tick_at,
			status_message = excluded.status_message`,
		ws.CurrentAsset, string(ws.CurrentPhase), ws.BidPrice.String(), ws.AskPrice.String(),
		ws.LastIteration, ws.LastTickAt.Format(time.RFC3339), ws.StatusMessage)
	if err != nil {
		return fmt.Errorf("storage: upserting worker_status: %w", err)
	}
	return nil
}

// CurrentWorkerStatus reads back the singleton worker_status row.
func (s *Store) CurrentWorkerStatus() (*types.WorkerStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`SELECT current_asset, current_phase, bid_price, ask_price,
		last_iteration, last_tick_at, status_message FROM worker_status WHERE id = 1`)

	var ws types.WorkerStatus
	var bid, ask, tickAt string
	if err := row.Scan(&ws.CurrentAsset, &ws.CurrentPhase, &bid, &ask, &ws.LastIteration, &tickAt, &ws.StatusMessage); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: reading worker_status: %w", err)
	}
	var err error
	if ws.BidPrice, err = decimal.NewFromString(bid); err != nil {
		return nil, fmt.Errorf("storage: parsing worker_status bid_price: %w", err)
	}
	if ws.AskPrice, err = decimal.NewFromString(ask); err != nil {
		return nil, fmt.Errorf("storage: parsing worker_status ask_price: %w", err)
	}
	if tickAt != "" {
		if ws.LastTickAt, err = time.Parse(time.RFC3339, tickAt); err != nil {
			return nil, fmt.Errorf("storage: parsing worker_status last_tick_at: %w", err)
		}
	}
	return &ws, nil
}

// IncrementDiagnostics atomically bumps the counters for one asset/hour
// bucket, creating the row on first write, and additionally bumps
// delta.RangePhase's ranges_built entry and delta.RejectionReason's
// rejection-reason entry when set. The worker loop calls this through
// internal/diagnostics; every bump relies on SQLite's upsert-on-conflict
// rather than read-modify-write in Go, so concurrent writers cannot lose
// increments.
func (s *Store) IncrementDiagnostics(asset string, windowStart time.Time, delta types.DiagnosticsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws := windowStart.Format(time.RFC3339)

	_, err := s.db.Exec(`INSERT INTO asset_diagnostics
			(asset, window_start, setups_found, setups_discarded, setups_executed,
			 risk_evaluated, risk_approved, risk_rejected, no_data_warnings, candles_received)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(asset, window_start) DO UPDATE SET
			setups_found = setups_found + excluded.setups_found,
			setups_discarded = setups_discarded + excluded.setups_discarded,
			setups_executed = setups_executed + excluded.setups_executed,
			risk_evaluated = risk_evaluated + excluded.risk_evaluated,
			risk_approved = risk_approved + excluded.risk_approved,
			risk_rejected = risk_rejected + excluded.risk_rejected,
			no_data_warnings = no_data_warnings + excluded.no_data_warnings,
			candles_received = candles_received + excluded.candles_received`,
		asset, ws, delta.SetupsFound, delta.SetupsDiscarded, delta.SetupsExecuted,
		delta.RiskEvaluated, delta.RiskApproved, delta.RiskRejected, delta.NoDataWarnings, delta.CandlesReceived)
	if err != nil {
		return fmt.Errorf("storage: incrementing diagnostics for %s: %w", asset, err)
	}

	if delta.RangePhase != types.PhaseNone {
		if _, err := s.db.Exec(`INSERT INTO asset_diagnostics_ranges_built (asset, window_start, phase, count)
			VALUES (?, ?, ?, 1)
			ON CONFLICT(asset, window_start, phase) DO UPDATE SET count = count + 1`,
			asset, ws, string(delta.RangePhase)); err != nil {
			return fmt.Errorf("storage: incrementing ranges_built for %s/%s: %w", asset, delta.RangePhase, err)
		}
	}

	if delta.RejectionReason != "" {
		if _, err := s.db.Exec(`INSERT INTO asset_diagnostics_rejection_reasons (asset, window_start, reason, count)
			VALUES (?, ?, ?, 1)
			ON CONFLICT(asset, window_start, reason) DO UPDATE SET count = count + 1`,
			asset, ws, string(delta.RejectionReason)); err != nil {
			return fmt.Errorf("storage: incrementing rejection_reasons for %s/%s: %w", asset, delta.RejectionReason, err)
		}
	}

	return nil
}
