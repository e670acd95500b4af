package worker

import (
	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/internal/broker"
	"github.com/atlas-desktop/fiona-worker/internal/diagnostics"
	"github.com/atlas-desktop/fiona-worker/internal/execution"
	"github.com/atlas-desktop/fiona-worker/internal/ki"
	"github.com/atlas-desktop/fiona-worker/internal/market"
	"github.com/atlas-desktop/fiona-worker/internal/risk"
	"github.com/atlas-desktop/fiona-worker/internal/storage"
	"github.com/atlas-desktop/fiona-worker/internal/strategy"
)

// Context bundles every collaborator the worker loop needs, replacing the
// implicit global singletons the Python original relied on
// (self.broker_registry, self.market_state_provider, ...) with one explicit
// struct constructed once at startup, per SPEC_FULL.md §9's design note.
type Context struct {
	Log       *zap.Logger
	Store     *storage.Store
	Registry  *broker.Registry
	Provider  *market.Provider
	Strategy  strategy.Engine
	Risk      *risk.Engine
	KI        *ki.Orchestrator // nil when the KI stage is disabled
	Execution *execution.Service
	Diag      *diagnostics.Store
}
