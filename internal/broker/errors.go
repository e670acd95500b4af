package broker

import (
	"errors"
	"fmt"

	"github.com/atlas-desktop/fiona-worker/pkg/types"
)

// ErrConfigMissing is returned when no active broker configuration row
// exists for a requested broker kind.
var ErrConfigMissing = errors.New("broker: active configuration missing")

// ErrUnsupportedBroker is returned when an asset names a broker kind the
// registry does not know how to construct.
var ErrUnsupportedBroker = errors.New("broker: unsupported broker kind")

// ErrAuthFailed is returned when a login/authenticate call is rejected.
var ErrAuthFailed = errors.New("broker: authentication failed")

// ErrTokenInvalid is returned by a request when the broker reports the
// current session/token is no longer valid, triggering the single
// automatic re-auth retry.
var ErrTokenInvalid = errors.New("broker: session token invalid")

// ErrNotConnected is returned when a request is attempted before Connect.
var ErrNotConnected = errors.New("broker: client not connected")

// ConfigMissingError wraps ErrConfigMissing with the offending broker kind.
type ConfigMissingError struct {
	Kind types.BrokerKind
}

func (e *ConfigMissingError) Error() string {
	return fmt.Sprintf("broker: no active configuration for %s", e.Kind)
}

func (e *ConfigMissingError) Unwrap() error { return ErrConfigMissing }

// UnsupportedBrokerError wraps ErrUnsupportedBroker with the offending kind.
type UnsupportedBrokerError struct {
	Kind types.BrokerKind
}

func (e *UnsupportedBrokerError) Error() string {
	return fmt.Sprintf("broker: unsupported broker kind %q", e.Kind)
}

func (e *UnsupportedBrokerError) Unwrap() error { return ErrUnsupportedBroker }
