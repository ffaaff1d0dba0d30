package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // payload for a device never seen with a name
//	}
var (
	// ErrDeviceNotFound is returned when no record exists for a hex ID or path.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrDeviceExists is returned when persisting a record whose hex ID is taken.
	ErrDeviceExists = errors.New("device: already exists")

	// ErrIncompleteDiscovery is returned when a first sighting lacks the
	// name or device type needed to create a record.
	ErrIncompleteDiscovery = errors.New("device: discovery needs name and device type")

	// ErrBridgeNotFound is returned when a bridge ID or key is unknown.
	ErrBridgeNotFound = errors.New("device: bridge not found")
)
