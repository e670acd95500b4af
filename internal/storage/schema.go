package storage

const schema = `
CREATE TABLE IF NOT EXISTS trading_assets (
	symbol       TEXT PRIMARY KEY,
	epic         TEXT NOT NULL,
	broker       TEXT NOT NULL,
	tick_size    TEXT NOT NULL,
	trades_24x7  INTEGER NOT NULL DEFAULT 0,
	min_breakout_distance_ticks INTEGER NOT NULL DEFAULT 1,
	max_setups_per_phase INTEGER NOT NULL DEFAULT 1,
	eia_pre_minutes  INTEGER NOT NULL DEFAULT 0,
	eia_post_minutes INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS asset_session_phase_configs (
	asset    TEXT NOT NULL,
	phase    TEXT NOT NULL,
	start_offset_seconds INTEGER NOT NULL,
	end_offset_seconds   INTEGER NOT NULL,
	enabled  INTEGER NOT NULL DEFAULT 1,
	priority INTEGER NOT NULL DEFAULT 0,
	is_range_build_phase INTEGER NOT NULL DEFAULT 0,
	is_trading_phase     INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (asset, phase)
);

CREATE TABLE IF NOT EXISTS breakout_ranges (
	asset       TEXT NOT NULL,
	phase       TEXT NOT NULL,
	high        TEXT NOT NULL,
	low         TEXT NOT NULL,
	height_tick INTEGER NOT NULL,
	start_time  TEXT NOT NULL,
	end_time    TEXT NOT NULL,
	PRIMARY KEY (asset, phase, end_time)
);
CREATE INDEX IF NOT EXISTS idx_breakout_ranges_lookup
	ON breakout_ranges (asset, phase, end_time DESC);

CREATE TABLE IF NOT EXISTS price_snapshots (
	asset     TEXT NOT NULL,
	bid       TEXT NOT NULL,
	ask       TEXT NOT NULL,
	taken_at  TEXT NOT NULL,
	PRIMARY KEY (asset, taken_at)
);

CREATE TABLE IF NOT EXISTS worker_status (
	id             INTEGER PRIMARY KEY CHECK (id = 1),
	current_asset  TEXT NOT NULL DEFAULT '',
	current_phase  TEXT NOT NULL DEFAULT '',
	bid_price      TEXT NOT NULL DEFAULT '0',
	ask_price      TEXT NOT NULL DEFAULT '0',
	last_iteration INTEGER NOT NULL DEFAULT 0,
	last_tick_at   TEXT NOT NULL DEFAULT '',
	status_message TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS asset_diagnostics (
	asset            TEXT NOT NULL,
	window_start     TEXT NOT NULL,
	setups_found     INTEGER NOT NULL DEFAULT 0,
	setups_discarded INTEGER NOT NULL DEFAULT 0,
	setups_executed  INTEGER NOT NULL DEFAULT 0,
	risk_evaluated   INTEGER NOT NULL DEFAULT 0,
	risk_approved    INTEGER NOT NULL DEFAULT 0,
	risk_rejected    INTEGER NOT NULL DEFAULT 0,
	no_data_warnings INTEGER NOT NULL DEFAULT 0,
	candles_received INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (asset, window_start)
);

CREATE TABLE IF NOT EXISTS asset_diagnostics_ranges_built (
	asset        TEXT NOT NULL,
	window_start TEXT NOT NULL,
	phase        TEXT NOT NULL,
	count        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (asset, window_start, phase)
);

CREATE TABLE IF NOT EXISTS asset_diagnostics_rejection_reasons (
	asset        TEXT NOT NULL,
	window_start TEXT NOT NULL,
	reason       TEXT NOT NULL,
	count        INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (asset, window_start, reason)
);
`
