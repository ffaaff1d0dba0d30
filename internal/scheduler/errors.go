package scheduler

import "errors"

// Domain errors for the scheduler.
var (
	// ErrNothingConfigured is returned by Start when neither a bridge nor
	// the Web API is configured.
	ErrNothingConfigured = errors.New("scheduler: either a bridge or the web api is required")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("scheduler: already started")
)
