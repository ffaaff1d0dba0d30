// Package dispatch relays user actions to devices.
//
// A Request moves through a small state machine:
//
//	Pending → Dispatched(transport) → Succeeded
//	                                → FailedRetryable → Dispatched(...)
//	                                → FailedTerminal
//
// The first transport is the preferred one when available, otherwise the
// other one. After a failure the bridge falls back to the Web API
// immediately, while the Web API falls back to the bridge (or to itself
// when the device has no bridge) after RetryDelay. A request is never sent
// more than MaxRetry times. Box devices have no actions and settle as
// terminal failures without being sent.
//
// Whatever the outcome, the action controls of the device are reset once
// the request settles, so the next user write is seen as a change.
package dispatch
