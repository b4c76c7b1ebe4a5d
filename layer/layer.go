package layer

// Layer is the single capability every layer (base or child) exposes.
// Per spec.md §9's design note, this stands in for the original's
// large base/child sum type dispatched across subject/predicate/object
// iterators: one interface plus two implementations, with the stack
// closure (EffectiveTriples) built once on top as a shared default
// rather than duplicated per variant.
type Layer interface {
	ID() ID
	Parent() (ID, bool)
	ParentHandle() Layer // nil for a base layer

	NodeCount() uint64      // total node-id space size through this layer
	PredicateCount() uint64 // total predicate-id space size through this layer
	ValueCount() uint64     // total value-id space size through this layer
	NodeAndValueCount() uint64 // NodeCount()+ValueCount(); total object-id space size, for a child's dictionary-extension fallthrough

	SubjectID(s string) (uint64, bool, error)
	PredicateID(s string) (uint64, bool, error)
	ObjectID(s string, kind ObjectKind) (uint64, bool, error)

	IDSubject(id uint64) (string, error)
	IDPredicate(id uint64) (string, error)
	IDObject(id uint64) (string, ObjectKind, error)

	// OwnAdditions and OwnRemovals are this layer's own delta: for a
	// base layer, additions is its entire triple set and removals is
	// empty; for a child layer, both are populated.
	OwnAdditions() []Triple
	OwnRemovals() []Triple

	// Rollup merges this layer's stack into a single equivalent layer.
	// Always returns ErrNotImplemented — see DESIGN.md Open Question (a).
	Rollup() (Layer, error)
}

// EffectiveTriples computes the closure of l's layer stack: starting
// from the base and walking down to l, each layer's own additions are
// added to a working set and its own removals are then subtracted —
// this single sequential replay, in ascending-depth order, implements
// spec.md §3's ordering rule ("a removal at depth d cancels any
// addition at any depth ≥ d") without needing any special-casing,
// since every earlier addition is already in the set by the time a
// later layer's removal step runs, and a still-later layer is free to
// re-add a triple a removal cancelled.
func EffectiveTriples(l Layer) []Triple {
	chain := ancestorChain(l)

	set := map[Triple]struct{}{}
	for _, layer := range chain {
		for _, t := range layer.OwnAdditions() {
			set[t] = struct{}{}
		}
		for _, t := range layer.OwnRemovals() {
			delete(set, t)
		}
	}

	out := make([]Triple, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

// Contains reports whether t is present in l's effective closure.
func Contains(l Layer, t Triple) bool {
	chain := ancestorChain(l)
	present := false
	for _, layer := range chain {
		for _, a := range layer.OwnAdditions() {
			if a == t {
				present = true
			}
		}
		for _, r := range layer.OwnRemovals() {
			if r == t {
				present = false
			}
		}
	}
	return present
}

// ancestorChain returns l's stack from the base layer down to l,
// inclusive.
func ancestorChain(l Layer) []Layer {
	var chain []Layer
	for cur := l; cur != nil; cur = cur.ParentHandle() {
		chain = append(chain, cur)
	}
	// reverse into base-first order
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain
}
