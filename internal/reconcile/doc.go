// Package reconcile turns raw Bridge API, Web API and callback payloads
// into device records and state tree nodes.
//
// Every payload runs through the same pipeline: identity resolution,
// discovery (CreateOrGet), source-specific stripping, lock-state
// inference, flattening, field-table normalisation, an additive registry
// merge and finally store writes for the fields that actually changed.
//
// The field tables in fields.go are data, not code: each entry names the
// target node, its type and role, and for booleans the truth table used
// to derive them from vendor enumerations. Fields missing from the table
// pass through under their own dotted name with an inferred type.
//
// Malformed payloads never propagate errors to the caller. A payload
// without a usable identity is dropped at debug level, a field that
// cannot be normalised is dropped on its own, and only persistence
// failures of the registry are returned.
package reconcile
