package storage

import (
	"sync"
	"time"

	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// RangeStore is the narrow persistence contract the Market State Provider
// depends on, split out from Store so tests can substitute an in-memory
// implementation instead of spinning up sqlite.
type RangeStore interface {
	LatestRangeForPhase(asset string, phase types.SessionPhase) (*types.BreakoutRange, error)
	SaveRange(r types.BreakoutRange) error
}

// SQLiteRangeStore adapts a *Store to the RangeStore interface.
type SQLiteRangeStore struct {
	Store *Store
}

func (s SQLiteRangeStore) LatestRangeForPhase(asset string, phase types.SessionPhase) (*types.BreakoutRange, error) {
	return s.Store.LatestRangeForPhase(asset, phase)
}

func (s SQLiteRangeStore) SaveRange(r types.BreakoutRange) error {
	return s.Store.SaveRange(r)
}

// MemoryRangeStore is an in-memory RangeStore for unit tests.
type MemoryRangeStore struct {
	mu     sync.Mutex
	ranges map[string]types.BreakoutRange
}

func NewMemoryRangeStore() *MemoryRangeStore {
	return &MemoryRangeStore{ranges: make(map[string]types.BreakoutRange)}
}

func (m *MemoryRangeStore) key(asset string, phase types.SessionPhase) string {
	return asset + "|" + string(phase)
}

func (m *MemoryRangeStore) LatestRangeForPhase(asset string, phase types.SessionPhase) (*types.BreakoutRange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.ranges[m.key(asset, phase)]
	if !ok {
		return nil, nil
	}
	cp := r
	return &cp, nil
}

func (m *MemoryRangeStore) SaveRange(r types.BreakoutRange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.key(r.Asset, r.Phase)
	if existing, ok := m.ranges[key]; ok && existing.EndTime.After(r.EndTime) {
		return nil
	}
	m.ranges[key] = r
	return nil
}

// freshnessWindow bounds how old a cached/DB range may be before it is
// treated as stale and recomputed from live candles.
const freshnessWindow = 24 * time.Hour
