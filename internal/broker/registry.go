package broker

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/internal/config"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// ConfigLookup resolves the active broker configuration for a kind. In
// production this reads from internal/config.Config; tests can substitute a
// map-backed function.
type ConfigLookup func(kind types.BrokerKind) (config.BrokerConfig, bool)

// Registry is the C1 Broker Registry: a cache-if-connected map of broker
// clients, grounded 1:1 on the Python BrokerRegistry singleton
// (core/services/broker/config.py) — connect-and-cache on first use,
// disconnect_all/clear to reset for a fresh cycle.
type Registry struct {
	mu      sync.Mutex
	log     *zap.Logger
	lookup  ConfigLookup
	clients map[types.BrokerKind]Client
}

// NewRegistry builds an empty registry. lookup supplies the active broker
// configuration for a kind; clients are constructed lazily on first Get.
func NewRegistry(log *zap.Logger, lookup ConfigLookup) *Registry {
	return &Registry{
		log:     log,
		lookup:  lookup,
		clients: make(map[types.BrokerKind]Client),
	}
}

// Get returns a connected client for the asset's broker, constructing and
// connecting it on first use.
func (r *Registry) Get(ctx context.Context, asset types.TradingAsset) (Client, error) {
	return r.GetByKind(ctx, asset.Broker)
}

// GetByKind returns a connected client for the given broker kind.
func (r *Registry) GetByKind(ctx context.Context, kind types.BrokerKind) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[kind]; ok && c.State() == StateConnected {
		return c, nil
	}

	cfg, ok := r.lookup(kind)
	if !ok {
		return nil, &ConfigMissingError{Kind: kind}
	}

	client, err := r.construct(kind, cfg)
	if err != nil {
		return nil, err
	}

	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("broker: connecting %s client: %w", kind, err)
	}

	r.clients[kind] = client
	return client, nil
}

func (r *Registry) construct(kind types.BrokerKind, cfg config.BrokerConfig) (Client, error) {
	switch kind {
	case types.BrokerIG:
		return NewIGClient(r.log.Named("broker.ig"), cfg), nil
	case types.BrokerMEXC:
		return NewMEXCClient(r.log.Named("broker.mexc"), cfg), nil
	case types.BrokerKraken:
		return NewKrakenClient(r.log.Named("broker.kraken"), cfg), nil
	default:
		return nil, &UnsupportedBrokerError{Kind: kind}
	}
}

// DisconnectAll disconnects every cached client, logging (not failing on)
// individual disconnect errors — matching the Python registry's
// best-effort disconnect_all.
func (r *Registry) DisconnectAll(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for kind, c := range r.clients {
		if err := c.Disconnect(ctx); err != nil {
			r.log.Warn("broker disconnect failed", zap.String("broker", string(kind)), zap.Error(err))
		}
	}
}

// Clear disconnects every client and empties the cache, used by the worker
// loop's reconnect policy.
func (r *Registry) Clear(ctx context.Context) {
	r.DisconnectAll(ctx)

	r.mu.Lock()
	r.clients = make(map[types.BrokerKind]Client)
	r.mu.Unlock()
}
