package store

import "errors"

var (
	// ErrVersionMismatch is returned by Graph.SetHead when expected no
	// longer matches the label's on-disk version.
	ErrVersionMismatch = errors.New("store: version mismatch")

	// ErrGraphExists is returned by CreateGraph for a name already in use.
	ErrGraphExists = errors.New("store: graph already exists")

	// ErrGraphNotFound is returned by OpenGraph for an unknown name.
	ErrGraphNotFound = errors.New("store: graph not found")

	// ErrClosed is returned by ListGraphs, ResolveGraphs and the Graph
	// methods Head, Layer, SetHead and BuildChild when attempted after
	// Close, or when blocked and woken by a concurrent Close. CreateGraph
	// and OpenGraph do not check for a closed store.
	ErrClosed = errors.New("store: closed")
)
