package nuki

import (
	"errors"
	"io"
	"strings"
	"syscall"
)

// Domain errors for the Bridge API client.
var (
	// ErrUnavailable is returned for HTTP 503, which bridges send while
	// busy talking to a device.
	ErrUnavailable = errors.New("nuki bridge: service unavailable")

	// ErrUnauthorized is returned for HTTP 401 (wrong or expired token).
	ErrUnauthorized = errors.New("nuki bridge: unauthorized")

	// ErrHTTPStatus is returned for any other non-2xx response.
	ErrHTTPStatus = errors.New("nuki bridge: unexpected HTTP status")

	// ErrRequestFailed is returned when the request could not be sent or
	// the response could not be read.
	ErrRequestFailed = errors.New("nuki bridge: request failed")

	// ErrInvalidResponse is returned when a response body is not the
	// expected JSON.
	ErrInvalidResponse = errors.New("nuki bridge: invalid response")

	// ErrActionFailed is returned when the bridge answers success=false.
	ErrActionFailed = errors.New("nuki bridge: action not successful")

	// ErrCallbackExists is returned when a callback URL is already
	// registered on the bridge.
	ErrCallbackExists = errors.New("nuki bridge: callback already added")
)

// IsTransient reports whether err is worth one quick retry: a 503 or a
// connection dropped by the bridge.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") || strings.Contains(msg, "socket hang up")
}
