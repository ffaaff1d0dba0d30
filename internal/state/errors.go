package state

import "errors"

var (
	// ErrNotFound is returned when reading or commanding an unknown path.
	ErrNotFound = errors.New("state: path not found")

	// ErrInvalidPath is returned for empty paths or paths with empty segments.
	ErrInvalidPath = errors.New("state: invalid path")

	// ErrNotWritable is returned when a command targets a read-only node.
	ErrNotWritable = errors.New("state: node is not writable")

	// ErrTypeMismatch is returned when a command value cannot be coerced to
	// the node type.
	ErrTypeMismatch = errors.New("state: value does not match node type")
)
