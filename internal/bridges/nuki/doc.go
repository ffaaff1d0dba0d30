// Package nuki is the HTTP client for the local Bridge API.
//
// Every request goes through a per-bridge RateGate: a single-slot FIFO
// semaphore plus a minimum gap measured from the moment the previous
// request settled. Bridge firmware rejects requests that arrive faster,
// so the gate is applied to every endpoint, reads included.
//
// Authentication is either the plain shared token (token=...) or, for
// hardware bridges in secure mode, a hashed token regenerated for every
// request:
//
//	ts   = UTC time as YYYY-MM-DDTHH:MM:SSZ
//	rnr  = uniform random integer in [0, 65535]
//	hash = hex(sha256(ts + "," + rnr + "," + token))
//
// Errors are classified with sentinel values so that callers can decide
// on retries: ErrUnavailable (HTTP 503) and connection resets are
// transient, ErrUnauthorized is a configuration problem and
// ErrCallbackExists is reported when a callback URL is already
// registered.
package nuki
