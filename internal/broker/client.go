package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// ConnState is the broker client's authentication state, per the C2 FSM:
// Disconnected -> Connecting -> Connected -> (ReAuthing) -> Connected|Failed.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReAuthing    ConnState = "reauthing"
	StateFailed       ConnState = "failed"
)

// Client is the contract the registry and worker loop depend on. Every
// concrete broker (IG, MEXC, Kraken) implements this; request methods must
// retry exactly once on a token-invalid-class error via withReauth.
type Client interface {
	Kind() types.BrokerKind
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	State() ConnState

	GetAccountState(ctx context.Context) (*types.AccountState, error)
	GetOpenPositions(ctx context.Context) ([]types.Position, error)
	GetSymbolPrice(ctx context.Context, epic string) (*types.SymbolPrice, error)
	GetHistoricalPrices(ctx context.Context, epic string, resolution string, numPoints int) ([]types.OHLC, error)
	PlaceOrder(ctx context.Context, req types.OrderRequest) (*types.OrderResult, error)
}

// fsm is embedded by every concrete client to share the connection state and
// the single-retry re-auth wrapper.
type fsm struct {
	mu    sync.RWMutex
	state ConnState
	log   *zap.Logger
}

func newFSM(log *zap.Logger) *fsm {
	return &fsm{state: StateDisconnected, log: log}
}

func (f *fsm) State() ConnState {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.state
}

func (f *fsm) setState(s ConnState) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

// withReauth runs fn; if fn's error is (or wraps) ErrTokenInvalid it attempts
// exactly one reauthenticate-and-retry cycle before giving up.
func (f *fsm) withReauth(ctx context.Context, reauthenticate func(context.Context) error, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if !isTokenInvalid(err) {
		return err
	}

	f.setState(StateReAuthing)
	if reauthErr := reauthenticate(ctx); reauthErr != nil {
		f.setState(StateFailed)
		return fmt.Errorf("broker: re-auth after token-invalid failed: %w", reauthErr)
	}
	f.setState(StateConnected)

	if retryErr := fn(ctx); retryErr != nil {
		return fmt.Errorf("broker: retry after re-auth failed: %w", retryErr)
	}
	return nil
}

func isTokenInvalid(err error) bool {
	return errors.Is(err, ErrTokenInvalid)
}
