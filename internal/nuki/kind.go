package nuki

import "fmt"

// Kind is the device category. The zero value is not a valid kind.
type Kind int

const (
	KindUnknown Kind = iota
	KindSmartLock
	KindBox
	KindOpener
	KindSmartDoor
)

// Vendor device type discriminants.
const (
	DeviceTypeSmartLock   = 0
	DeviceTypeBox         = 1
	DeviceTypeOpener      = 2
	DeviceTypeSmartDoor   = 3
	DeviceTypeSmartLock30 = 4
)

// KindFromDiscriminant maps the vendor "deviceType" to a Kind.
func KindFromDiscriminant(deviceType int) (Kind, error) {
	switch deviceType {
	case DeviceTypeSmartLock, DeviceTypeSmartLock30:
		return KindSmartLock, nil
	case DeviceTypeBox:
		return KindBox, nil
	case DeviceTypeOpener:
		return KindOpener, nil
	case DeviceTypeSmartDoor:
		return KindSmartDoor, nil
	default:
		return KindUnknown, fmt.Errorf("%w: %d", ErrUnknownKind, deviceType)
	}
}

// String returns the display name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSmartLock:
		return "Smartlock"
	case KindBox:
		return "Box"
	case KindOpener:
		return "Opener"
	case KindSmartDoor:
		return "Smart Door"
	default:
		return "Unknown"
	}
}

// Plural returns the path segment under which devices of this kind live.
func (k Kind) Plural() string {
	switch k {
	case KindSmartLock:
		return "smartlocks"
	case KindBox:
		return "boxes"
	case KindOpener:
		return "openers"
	case KindSmartDoor:
		return "smartdoors"
	default:
		return "unknown"
	}
}

// IsLockFamily reports whether the kind has a lock bolt and therefore the
// derived locked/closed booleans.
func (k Kind) IsLockFamily() bool {
	return k == KindSmartLock || k == KindSmartDoor
}

// Actions returns the action vocabulary of the kind, or nil when the kind
// accepts no actions.
func (k Kind) Actions() map[int]string {
	switch k {
	case KindSmartLock, KindSmartDoor:
		return LockActions
	case KindOpener:
		return OpenerActions
	default:
		return nil
	}
}
