// Package nuki holds the vendor vocabulary of the Nuki device family.
//
// It is a pure package with no I/O: identity conversion between the numeric
// device ID used by the Bridge API and the hexadecimal ID used by the Web API,
// the closed set of device kinds, and the lookup tables for lock actions,
// lock states, door states and opener states.
//
// # Identity
//
// Every device is known by a 32-bit numeric ID (Bridge API "nukiId") and by
// its 8-character lowercase hexadecimal rendering (Web API "nukiHexId").
// The Web API additionally addresses devices by a composite "smartlockId"
// formed by prefixing the hex ID with the device type digit:
//
//	id := nuki.IdentityFromNumeric(0x1a2b3c4d)  // {NumericID: 439041101, HexID: "1a2b3c4d"}
//	sid, _ := nuki.CompositeID(2, id.HexID)     // 0x21a2b3c4d
//	hex := nuki.HexFromSmartlockID(sid)         // "1a2b3c4d"
//
// # Kinds
//
// The vendor discriminant ("deviceType") maps to a Kind. Discriminants 0 and 4
// are both smart locks (4 is the third hardware generation):
//
//	0, 4 → SmartLock    1 → Box    2 → Opener    3 → SmartDoor
package nuki
