package nuki

import (
	"fmt"
	"sort"
	"strings"
)

// Action code for "do nothing". Writing it is a no-op.
const ActionNone = 0

// Lock actions (SmartLock and SmartDoor).
const (
	LockActionUnlock             = 1
	LockActionLock               = 2
	LockActionUnlatch            = 3
	LockActionLockNGo            = 4
	LockActionLockNGoWithUnlatch = 5
)

// Opener actions.
const (
	OpenerActionActivateRTO    = 1
	OpenerActionDeactivateRTO  = 2
	OpenerActionElectricStrike = 3
	OpenerActionActivateCM     = 4
	OpenerActionDeactivateCM   = 5
)

// Lock states.
const (
	LockStateUncalibrated    = 0
	LockStateLocked          = 1
	LockStateUnlocking       = 2
	LockStateUnlocked        = 3
	LockStateLocking         = 4
	LockStateUnlatched       = 5
	LockStateUnlockedLockNGo = 6
	LockStateUnlatching      = 7
	LockStateMotorBlocked    = 254
	LockStateUndefined       = 255
)

// Opener states and modes used by the continuous-mode remap.
const (
	OpenerStateOnline     = 1
	OpenerStateRingToOpen = 3
	ModeContinuous        = 3
)

// LockActions is the action vocabulary of lock-family devices.
var LockActions = map[int]string{
	ActionNone:                   "NO ACTION",
	LockActionUnlock:             "UNLOCK",
	LockActionLock:               "LOCK",
	LockActionUnlatch:            "UNLATCH",
	LockActionLockNGo:            "LOCK N GO",
	LockActionLockNGoWithUnlatch: "LOCK N GO WITH UNLATCH",
}

// OpenerActions is the action vocabulary of openers.
var OpenerActions = map[int]string{
	ActionNone:                 "NO ACTION",
	OpenerActionActivateRTO:    "ACTIVE RTO",
	OpenerActionDeactivateRTO:  "DEACTIVATE RTO",
	OpenerActionElectricStrike: "ELECTRIC STRIKE ACTUATION",
	OpenerActionActivateCM:     "ACTIVATE CM",
	OpenerActionDeactivateCM:   "DEACTIVATE CM",
}

// LockStates names every lock state.
var LockStates = map[int]string{
	0: "UNCALIBRATED", 1: "LOCKED", 2: "UNLOCKING", 3: "UNLOCKED", 4: "LOCKING",
	5: "UNLATCHED", 6: "UNLOCKED_LOCK_N_GO", 7: "UNLATCHING",
	254: "MOTOR_BLOCKED", 255: "UNDEFINED",
}

// DoorStates names every door sensor state.
var DoorStates = map[int]string{
	0: "UNAVAILABLE", 1: "DEACTIVATED", 2: "DOOR_CLOSED", 3: "DOOR_OPENED",
	4: "DOOR_STATE_UNKNOWN", 5: "CALIBRATING",
}

// OpenerStates names every opener state.
var OpenerStates = map[int]string{
	0: "UNTRAINED", 1: "ONLINE", 3: "RING_TO_OPEN", 5: "OPEN", 7: "OPENING",
	253: "BOOT_RUN", 255: "UNDEFINED",
}

// Modes names the device operating modes.
var Modes = map[int]string{
	0: "UNINITIALIZED", 1: "PAIRING", 2: "NORMAL", 3: "CONTINUOUS", 4: "MAINTENANCE",
}

// Triggers names the origin of a logged action.
var Triggers = map[int]string{
	0: "SYSTEM", 1: "MANUAL", 2: "BUTTON", 3: "AUTOMATIC", 4: "WEB", 5: "APP", 6: "CONTINUOUS",
}

// LockedStates is the truth table for the derived "locked" boolean.
var LockedStates = map[int]bool{LockStateLocked: true, LockStateLocking: true}

// ClosedDoorStates is the truth table for the derived "closed" boolean.
var ClosedDoorStates = map[int]bool{2: true, 4: true}

// IsLocked reports the derived "locked" value for a lock state.
func IsLocked(lockState int) bool { return LockedStates[lockState] }

// IsClosed reports the derived "closed" value for a door sensor state.
func IsClosed(doorState int) bool { return ClosedDoorStates[doorState] }

// ButtonName converts an action name to its state node segment,
// e.g. "LOCK N GO" → "LOCK_N_GO".
func ButtonName(action string) string {
	return strings.ReplaceAll(action, " ", "_")
}

// ActionName returns the name of an action code for a kind.
func ActionName(k Kind, code int) (string, error) {
	name, ok := k.Actions()[code]
	if !ok {
		return "", fmt.Errorf("%w: %d for %s", ErrUnknownAction, code, k)
	}
	return name, nil
}

// ActionByButton returns the action code of a button segment for a kind.
func ActionByButton(k Kind, button string) (int, error) {
	for code, name := range k.Actions() {
		if ButtonName(name) == button {
			return code, nil
		}
	}
	return 0, fmt.Errorf("%w: %q for %s", ErrUnknownAction, button, k)
}

// Buttons returns the button segments of a kind's non-trivial actions,
// ordered by action code.
func Buttons(k Kind) []string {
	actions := k.Actions()
	codes := make([]int, 0, len(actions))
	for code := range actions {
		if code != ActionNone {
			codes = append(codes, code)
		}
	}
	sort.Ints(codes)

	out := make([]string, 0, len(codes))
	for _, code := range codes {
		out = append(out, ButtonName(actions[code]))
	}
	return out
}
