package webapi

import "errors"

// Domain errors for the Web API client.
var (
	// ErrUnauthorized is returned for HTTP 401 and 403.
	ErrUnauthorized = errors.New("nuki web api: unauthorized")

	// ErrNotFound is returned for HTTP 404.
	ErrNotFound = errors.New("nuki web api: not found")

	// ErrHTTPStatus is returned for any other non-2xx response.
	ErrHTTPStatus = errors.New("nuki web api: unexpected HTTP status")

	// ErrRequestFailed is returned when the request could not be sent or
	// the response could not be read.
	ErrRequestFailed = errors.New("nuki web api: request failed")

	// ErrInvalidResponse is returned when a response body is not the
	// expected JSON.
	ErrInvalidResponse = errors.New("nuki web api: invalid response")

	// ErrNoToken is returned by New when no token is given.
	ErrNoToken = errors.New("nuki web api: token is required")
)
