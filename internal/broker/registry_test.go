package broker

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-desktop/fiona-worker/internal/config"
	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

func TestRegistryGetByKindReturnsConfigMissingError(t *testing.T) {
	r := NewRegistry(zap.NewNop(), func(kind types.BrokerKind) (config.BrokerConfig, bool) {
		return config.BrokerConfig{}, false
	})

	_, err := r.GetByKind(context.Background(), types.BrokerKraken)
	var missing *ConfigMissingError
	if !errors.As(err, &missing) {
		t.Fatalf("expected a ConfigMissingError, got %v", err)
	}
	if !errors.Is(err, ErrConfigMissing) {
		t.Error("expected ConfigMissingError to unwrap to ErrConfigMissing")
	}
}

func TestRegistryGetByKindReturnsUnsupportedBrokerError(t *testing.T) {
	r := NewRegistry(zap.NewNop(), func(kind types.BrokerKind) (config.BrokerConfig, bool) {
		return config.BrokerConfig{BaseURL: "https://example.test"}, true
	})

	_, err := r.GetByKind(context.Background(), types.BrokerKind("UNKNOWN"))
	var unsupported *UnsupportedBrokerError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected an UnsupportedBrokerError, got %v", err)
	}
}

func TestRegistryClearEmptiesCachedClients(t *testing.T) {
	r := NewRegistry(zap.NewNop(), func(kind types.BrokerKind) (config.BrokerConfig, bool) {
		return config.BrokerConfig{}, false
	})
	r.clients[types.BrokerKraken] = &KrakenClient{fsm: newFSM(zap.NewNop())}

	r.Clear(context.Background())

	if len(r.clients) != 0 {
		t.Errorf("expected Clear to empty the client cache, still has %d entries", len(r.clients))
	}
}
