// Package execution implements the Execution Service (C7): proposing a
// trade from a setup candidate, and confirming it either live (via the
// broker) or as a shadow (paper) trade, with idempotent sessions and
// automatic live-to-shadow fallback. Grounded on the teacher's
// internal/execution package layout, reshaped to match the propose/confirm
// flow spec.md §4.7 describes instead of the teacher's direct
// order-manager flow.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/internal/broker"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// SessionStatus is the lifecycle state of one execution session.
type SessionStatus string

const (
	SessionProposed     SessionStatus = "proposed"
	SessionLiveConfirmed SessionStatus = "live_confirmed"
	SessionShadowConfirmed SessionStatus = "shadow_confirmed"
)

// Session is one idempotent trade-execution attempt keyed by ID. Re-calling
// ConfirmLiveTrade/ConfirmShadowTrade with the same session ID is a no-op
// that returns the original result, matching the idempotency invariant.
type Session struct {
	ID        string
	Setup     types.SetupCandidate
	Status    SessionStatus
	Result    *types.OrderResult
	Shadow    bool
	CreatedAt time.Time
}

// Service is the C7 Execution Service.
type Service struct {
	log      *zap.Logger
	registry *broker.Registry

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewService(log *zap.Logger, registry *broker.Registry) *Service {
	return &Service{log: log, registry: registry, sessions: make(map[string]*Session)}
}

// ProposeTrade records a new idempotent session for a setup candidate and
// returns the new Session. No broker call is made yet.
func (s *Service) ProposeTrade(setup types.SetupCandidate) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := &Session{
		ID:        uuid.NewString(),
		Setup:     setup,
		Status:    SessionProposed,
		CreatedAt: time.Now(),
	}
	s.sessions[sess.ID] = sess
	return sess
}

// ConfirmLiveTrade attempts to place the order live through the asset's
// broker. On any execution error it falls back to a shadow confirmation
// instead of retrying the live attempt, per spec.md's live-to-shadow
// fallback contract.
func (s *Service) ConfirmLiveTrade(ctx context.Context, sessionID string, asset types.TradingAsset, order types.OrderRequest) (*Session, error) {
	sess, err := s.sessionFor(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	already := sess.Status != SessionProposed
	s.mu.Unlock()
	if already {
		return sess, nil
	}

	client, err := s.registry.Get(ctx, asset)
	if err != nil {
		s.log.Warn("live execution unavailable, falling back to shadow", zap.String("session", sessionID), zap.Error(err))
		return s.confirmShadow(sess)
	}

	result, err := client.PlaceOrder(ctx, order)
	if err != nil {
		s.log.Warn("live order failed, falling back to shadow", zap.String("session", sessionID), zap.Error(err))
		return s.confirmShadow(sess)
	}

	s.mu.Lock()
	sess.Status = SessionLiveConfirmed
	sess.Result = result
	sess.Shadow = false
	s.mu.Unlock()
	return sess, nil
}

// ConfirmShadowTrade explicitly records a paper/shadow fill without ever
// touching the broker, used in --shadow-only mode.
func (s *Service) ConfirmShadowTrade(sessionID string) (*Session, error) {
	sess, err := s.sessionFor(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	already := sess.Status != SessionProposed
	s.mu.Unlock()
	if already {
		return sess, nil
	}

	return s.confirmShadow(sess)
}

func (s *Service) confirmShadow(sess *Session) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess.Status = SessionShadowConfirmed
	sess.Shadow = true
	sess.Result = &types.OrderResult{
		Status:      types.OrderStatusFilled,
		FilledPrice: sess.Setup.EntryPrice,
		FilledAt:    time.Now(),
	}
	return sess, nil
}

func (s *Service) sessionFor(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("execution: unknown session %s", id)
	}
	return sess, nil
}
