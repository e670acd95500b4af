// Package diagnostics implements the Diagnostics & Status Store (C10): a
// singleton last-writer-wins WorkerStatus row and bucketed, additive
// AssetDiagnostics counters, plus Prometheus gauges/counters mirroring the
// persisted values for ambient observability (teacher depends on
// prometheus/client_golang in its HTTP server layer; that dependency is
// carried here even though the dashboard itself is out of scope).
package diagnostics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/atlas-desktop/fiona-worker/internal/storage"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

var (
	setupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiona_worker_setups_total",
		Help: "Total setup candidates emitted by the strategy engine, by asset.",
	}, []string{"asset"})

	riskRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "fiona_worker_risk_rejections_total",
		Help: "Total risk-engine rejections, by asset and violation code.",
	}, []string{"asset", "reason"})

	currentPhase = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fiona_worker_phase",
		Help: "1 if asset is currently in the labeled phase, else 0.",
	}, []string{"asset", "phase"})
)

func init() {
	prometheus.MustRegister(setupsTotal, riskRejectionsTotal, currentPhase)
}

// Store is the C10 diagnostics facade over internal/storage.Store.
type Store struct {
	db *storage.Store
}

func NewStore(db *storage.Store) *Store {
	return &Store{db: db}
}

// RecordTick overwrites the singleton worker_status row for the current
// tick (last-writer-wins, per the diagnostics contract) and updates the
// phase gauge.
func (s *Store) RecordTick(ws types.WorkerStatus) error {
	currentPhase.Reset()
	if ws.CurrentAsset != "" && ws.CurrentPhase != types.PhaseNone {
		currentPhase.WithLabelValues(ws.CurrentAsset, string(ws.CurrentPhase)).Set(1)
	}
	return s.db.UpsertWorkerStatus(ws)
}

// CurrentStatus reads back the singleton worker_status row.
func (s *Store) CurrentStatus() (*types.WorkerStatus, error) {
	return s.db.CurrentWorkerStatus()
}

// windowStart aligns a timestamp to the hour boundary AssetDiagnostics rows
// are bucketed by.
func windowStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// RecordSetupFound increments the additive setups_found counter for the
// current hour bucket and the matching Prometheus counter.
func (s *Store) RecordSetupFound(asset string, at time.Time) error {
	setupsTotal.WithLabelValues(asset).Inc()
	return s.db.IncrementDiagnostics(asset, windowStart(at), types.DiagnosticsDelta{SetupsFound: 1})
}

// RecordSetupDiscarded increments the additive setups_discarded counter,
// for emitted setups that the risk engine rejects or the KI stage vetoes.
func (s *Store) RecordSetupDiscarded(asset string, at time.Time) error {
	return s.db.IncrementDiagnostics(asset, windowStart(at), types.DiagnosticsDelta{SetupsDiscarded: 1})
}

// RecordSetupExecuted increments the additive setups_executed counter.
func (s *Store) RecordSetupExecuted(asset string, at time.Time) error {
	return s.db.IncrementDiagnostics(asset, windowStart(at), types.DiagnosticsDelta{SetupsExecuted: 1})
}

// RecordRiskEvaluated increments the additive risk_evaluated counter, once
// per setup that reaches the risk engine, so that
// risk_approved + risk_rejected == risk_evaluated can be checked directly
// against a persisted row.
func (s *Store) RecordRiskEvaluated(asset string, at time.Time) error {
	return s.db.IncrementDiagnostics(asset, windowStart(at), types.DiagnosticsDelta{RiskEvaluated: 1})
}

// RecordRiskApproved increments the additive risk_approved counter.
func (s *Store) RecordRiskApproved(asset string, at time.Time) error {
	return s.db.IncrementDiagnostics(asset, windowStart(at), types.DiagnosticsDelta{RiskApproved: 1})
}

// RecordRiskRejection increments the additive risk_rejected counter and the
// rejection-reason breakdown for violation.
func (s *Store) RecordRiskRejection(asset string, at time.Time, violation types.RiskViolationCode) error {
	riskRejectionsTotal.WithLabelValues(asset, string(violation)).Inc()
	return s.db.IncrementDiagnostics(asset, windowStart(at), types.DiagnosticsDelta{RiskRejected: 1, RejectionReason: violation})
}

// RecordRangeBuilt increments the additive ranges_built counter for phase,
// called once per tick a range-building phase's snapshot is persisted.
func (s *Store) RecordRangeBuilt(asset string, at time.Time, phase types.SessionPhase) error {
	return s.db.IncrementDiagnostics(asset, windowStart(at), types.DiagnosticsDelta{RangePhase: phase})
}

// RecordNoDataWarning increments the additive no_data_warnings counter, fed
// by internal/market.Provider.CheckNoDataWarning.
func (s *Store) RecordNoDataWarning(asset string, at time.Time) error {
	return s.db.IncrementDiagnostics(asset, windowStart(at), types.DiagnosticsDelta{NoDataWarnings: 1})
}

// RecordCandleReceived increments the additive candles_received counter;
// the worker loop calls it once per asset cycle. Like every counter here,
// the underlying store uses an atomic SQL upsert-with-increment rather than
// a Go-side read-modify-write.
func (s *Store) RecordCandleReceived(asset string, at time.Time) error {
	return s.db.IncrementDiagnostics(asset, windowStart(at), types.DiagnosticsDelta{CandlesReceived: 1})
}
