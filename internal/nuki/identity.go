package nuki

import (
	"fmt"
	"strconv"
	"strings"
)

// hexIDLength is the fixed width of a rendered hex ID.
const hexIDLength = 8

// Identity pairs the two equivalent IDs of a device.
//
// HexID is always HexFromNumeric(NumericID).
type Identity struct {
	NumericID uint32 `json:"nukiId"`
	HexID     string `json:"nukiHexId"`
}

// HexFromNumeric renders a numeric device ID as 8 lowercase hex characters,
// zero padded.
func HexFromNumeric(id uint32) string {
	return fmt.Sprintf("%08x", id)
}

// NumericFromHex parses a hex device ID. Upper case input is accepted.
func NumericFromHex(hex string) (uint32, error) {
	hex = strings.TrimSpace(hex)
	if hex == "" || len(hex) > hexIDLength {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHexID, hex)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHexID, hex)
	}
	return uint32(v), nil
}

// HexFromSmartlockID extracts the hex device ID from a Web API smartlockId,
// which is the device type digit followed by the 8 hex digits.
func HexFromSmartlockID(id uint64) string {
	return HexFromNumeric(uint32(id & 0xffffffff))
}

// CompositeID builds the Web API smartlockId for a device: the decimal device
// type is prepended to the hex ID and the result is read as base 16.
func CompositeID(deviceType int, hex string) (uint64, error) {
	if deviceType < 0 || deviceType > 9 {
		return 0, fmt.Errorf("%w: %d", ErrUnknownKind, deviceType)
	}
	numeric, err := NumericFromHex(hex)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strconv.Itoa(deviceType)+HexFromNumeric(numeric), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidHexID, hex)
	}
	return v, nil
}

// IdentityFromNumeric derives the hex ID from a numeric ID.
func IdentityFromNumeric(id uint32) Identity {
	return Identity{NumericID: id, HexID: HexFromNumeric(id)}
}

// IdentityFromHex derives the numeric ID from a hex ID. The returned HexID is
// normalised to the canonical form.
func IdentityFromHex(hex string) (Identity, error) {
	n, err := NumericFromHex(hex)
	if err != nil {
		return Identity{}, err
	}
	return IdentityFromNumeric(n), nil
}

// ResolveIdentity builds an Identity from whichever IDs a payload carried.
// numeric may be nil and hex may be empty, but not both. When both are
// present they must agree.
func ResolveIdentity(numeric *uint32, hex string) (Identity, error) {
	switch {
	case numeric == nil && hex == "":
		return Identity{}, ErrMissingIdentity
	case numeric == nil:
		return IdentityFromHex(hex)
	case hex == "":
		return IdentityFromNumeric(*numeric), nil
	}

	fromHex, err := IdentityFromHex(hex)
	if err != nil {
		return Identity{}, err
	}
	if fromHex.NumericID != *numeric {
		return Identity{}, fmt.Errorf("%w: nukiId=%d nukiHexId=%q", ErrIdentityMismatch, *numeric, hex)
	}
	return fromHex, nil
}
