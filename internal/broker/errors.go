package broker

import (
	"errors"
	"fmt"
)

// The error taxonomy every adapter surfaces, whatever the vendor. Callers
// branch on these with errors.Is and never on vendor error text.
var (
	ErrConnection     = errors.New("broker: connection failed")
	ErrAuthentication = errors.New("broker: authentication failed")
	ErrOrder          = errors.New("broker: order rejected")
	ErrMarketData     = errors.New("broker: market data unavailable")
	ErrRateLimited    = errors.New("broker: rate limited")

	// ErrNotConnected is returned by registry lookups against a broker that
	// is configured but has no live session.
	ErrNotConnected = errors.New("broker: not connected")

	// ErrUnknownBroker is returned when a named broker is not registered.
	ErrUnknownBroker = errors.New("broker: unknown broker")
)

// wrap attaches a taxonomy sentinel to an underlying vendor error.
func wrap(kind error, err error) error {
	if err == nil {
		return kind
	}
	return fmt.Errorf("%w: %v", kind, err)
}

// wrapf attaches a taxonomy sentinel to a formatted message.
func wrapf(kind error, format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{kind}, args...)...)
}
