package layer

// Triple is a single (subject, predicate, object) statement with all
// three components already resolved to layer-scoped ids.
type Triple struct {
	Subject   uint64
	Predicate uint64
	Object    uint64
}

// ObjectKind distinguishes a node-object (a resource, also addressable
// as a subject) from a value-object (a literal). The encoding reserves
// two contiguous id ranges per layer so kind is recoverable from the id
// alone, given the layer's node count.
type ObjectKind int

const (
	// KindNode is an object id that falls in the node range and could
	// equally be used as a subject.
	KindNode ObjectKind = iota
	// KindValue is an object id that falls in the value (literal)
	// range.
	KindValue
)

func (k ObjectKind) String() string {
	if k == KindValue {
		return "value"
	}
	return "node"
}

// byTriple sorts a Triple slice by (subject, predicate, object).
type byTriple []Triple

func (t byTriple) Len() int      { return len(t) }
func (t byTriple) Swap(i, j int) { t[i], t[j] = t[j], t[i] }
func (t byTriple) Less(i, j int) bool {
	if t[i].Subject != t[j].Subject {
		return t[i].Subject < t[j].Subject
	}
	if t[i].Predicate != t[j].Predicate {
		return t[i].Predicate < t[j].Predicate
	}
	return t[i].Object < t[j].Object
}

// byObjectTriple sorts a Triple slice by (object, subject, predicate),
// the order the reverse object→subject index is built from.
type byObjectTriple []Triple

func (t byObjectTriple) Len() int      { return len(t) }
func (t byObjectTriple) Swap(i, j int) { t[i], t[j] = t[j], t[i] }
func (t byObjectTriple) Less(i, j int) bool {
	if t[i].Object != t[j].Object {
		return t[i].Object < t[j].Object
	}
	if t[i].Subject != t[j].Subject {
		return t[i].Subject < t[j].Subject
	}
	return t[i].Predicate < t[j].Predicate
}
