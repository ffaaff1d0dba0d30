package dispatch

import (
	"strconv"

	"github.com/google/uuid"

	"github.com/nerrad567/nuki-gateway/internal/device"
	"github.com/nerrad567/nuki-gateway/internal/nuki"
)

// Transport is the API used to reach a device.
type Transport string

const (
	TransportNone   Transport = ""
	TransportBridge Transport = "bridge"
	TransportWeb    Transport = "web"
)

// Status is the state of a request.
type Status string

const (
	StatusPending         Status = "pending"
	StatusDispatched      Status = "dispatched"
	StatusSucceeded       Status = "succeeded"
	StatusFailedRetryable Status = "failed_retryable"
	StatusFailedTerminal  Status = "failed_terminal"
)

// Request is one user action on one device.
type Request struct {
	ID          string
	Identity    nuki.Identity
	DeviceType  int
	SmartlockID uint64
	BridgeID    string
	Path        string
	Name        string
	Kind        nuki.Kind
	Action      int
	Preferred   Transport
}

// ActionName returns the vocabulary name of the action, or its code when
// the kind does not know it.
func (r Request) ActionName() string {
	if name, err := nuki.ActionName(r.Kind, r.Action); err == nil {
		return name
	}
	return "ACTION " + strconv.Itoa(r.Action)
}

// NewRequest builds a request for a device record. Preferred is left for
// the dispatcher to fill in.
func NewRequest(rec *device.Record, action int) Request {
	smartlockID := rec.SmartlockID
	if smartlockID == 0 {
		if id, err := nuki.CompositeID(rec.DeviceType, rec.HexID()); err == nil {
			smartlockID = id
		}
	}
	return Request{
		ID:          uuid.NewString(),
		Identity:    rec.Identity,
		DeviceType:  rec.DeviceType,
		SmartlockID: smartlockID,
		BridgeID:    rec.BridgeID,
		Path:        rec.Path,
		Name:        rec.Name,
		Kind:        rec.Kind,
		Action:      action,
	}
}

// Result is the settled outcome of a request.
type Result struct {
	Request   Request
	Status    Status
	Transport Transport
	Attempts  int
	Err       error
}
