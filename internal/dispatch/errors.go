package dispatch

import "errors"

// Domain errors recorded on terminal results.
var (
	// ErrUnsupportedKind is recorded for devices without an action
	// vocabulary (boxes, unknown kinds).
	ErrUnsupportedKind = errors.New("dispatch: device kind has no actions")

	// ErrNoTransport is recorded when neither the bridge nor the Web API
	// can reach the device.
	ErrNoTransport = errors.New("dispatch: no transport available")

	// ErrRetriesExhausted is recorded after MaxRetry failed sends.
	ErrRetriesExhausted = errors.New("dispatch: retries exhausted")

	// ErrStopped is recorded when a delayed retry is cut short by Stop.
	ErrStopped = errors.New("dispatch: dispatcher stopped")
)
