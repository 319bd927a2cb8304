package gmp

import (
	"errors"
	"fmt"
	"net"
	"os"
)

// Error kinds surfaced by the engine client. Callers classify with
// errors.Is; everything else from this package wraps one of these.
var (
	// ErrUnavailable covers connection refusals, resets, and TLS failures.
	ErrUnavailable = errors.New("engine unavailable")

	// ErrAuthFailed means gvmd rejected the configured credentials.
	ErrAuthFailed = errors.New("engine authentication failed")

	// ErrProtocol means gvmd answered with a non-2xx GMP status or an
	// unparseable document.
	ErrProtocol = errors.New("engine protocol error")

	// ErrTimeout means an operation exceeded the configured deadline.
	ErrTimeout = errors.New("engine timeout")
)

// Transient reports whether the error is worth a reconnect-and-retry.
// Auth and protocol errors are not: the engine answered, it just said no.
func Transient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

func classifyTransport(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
