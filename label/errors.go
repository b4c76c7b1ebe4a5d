// Package label implements the named-graph pointer store: one small
// file per graph, each holding a monotone version and an optional
// layer id, mediated by advisory file locks and versioned
// compare-and-set.
package label

import "errors"

// Sentinel errors returned by label store operations, following the
// same package-level var pattern as the teacher's errors.go.
var (
	// ErrNotFound is returned when a named label does not exist.
	ErrNotFound = errors.New("label: not found")

	// ErrAlreadyExists is returned by Create when the name is taken.
	ErrAlreadyExists = errors.New("label: already exists")

	// ErrCorrupt is returned when a label file's contents don't match
	// the two-line grammar spec.md §6 fixes.
	ErrCorrupt = errors.New("label: corrupt label file")

	// ErrInvalidName is returned for a name unsuitable as a filename
	// (empty, containing a path separator, or ".." ).
	ErrInvalidName = errors.New("label: invalid name")
)
