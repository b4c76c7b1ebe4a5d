package layer

import "errors"

// Sentinel errors returned by layer operations, following the same
// package-level var pattern as the teacher's errors.go.
var (
	// ErrNotSealed is returned when a layer directory is opened before
	// its meta file has been written; readers must treat it as absent.
	ErrNotSealed = errors.New("layer: not sealed")

	// ErrNotFound is returned when a layer directory doesn't exist.
	ErrNotFound = errors.New("layer: not found")

	// ErrCorruptMeta is returned when the meta file can't be parsed.
	ErrCorruptMeta = errors.New("layer: corrupt meta")

	// ErrUnknownID names a subject, predicate, or object id that doesn't
	// resolve to a string in any dictionary reachable from the layer.
	// The layer id lookups do not return it: such an id surfaces as the
	// dictionary's own out-of-range error.
	ErrUnknownID = errors.New("layer: unknown id")

	// ErrNotImplemented is returned by Rollup: online compaction
	// scheduling policy (of which rollup merging is one option) is out
	// of scope for the core, same as original_source's own incomplete
	// rollup.rs.
	ErrNotImplemented = errors.New("layer: not implemented")
)
