package nuki

import "errors"

var (
	// ErrMissingIdentity is returned when a payload carries neither a numeric
	// nor a hexadecimal device ID.
	ErrMissingIdentity = errors.New("nuki: payload carries no device identity")

	// ErrIdentityMismatch is returned when a payload carries both IDs and they
	// do not describe the same device.
	ErrIdentityMismatch = errors.New("nuki: numeric and hex device ids disagree")

	// ErrInvalidHexID is returned when a hex ID cannot be parsed.
	ErrInvalidHexID = errors.New("nuki: invalid hex device id")

	// ErrUnknownKind is returned for a device type discriminant outside the
	// known set.
	ErrUnknownKind = errors.New("nuki: unknown device type")

	// ErrUnknownAction is returned when an action code or button name is not
	// part of the kind's action vocabulary.
	ErrUnknownAction = errors.New("nuki: unknown action")
)
