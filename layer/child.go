package layer

import (
	"fmt"
	"sort"

	"github.com/jpl-au/loom/backing"
	"github.com/jpl-au/loom/dict"
)

// ChildStores names every backing.Store a child layer's files are
// written through: one dictionary extension per kind, plus a full
// additions index and a full removals index, each shaped like a base
// layer's s_p/sp_o/o_ps indices.
type ChildStores struct {
	NodeExtBlocks, NodeExtOffsets   backing.Store
	PredExtBlocks, PredExtOffsets   backing.Store
	ValueExtBlocks, ValueExtOffsets backing.Store

	Additions TripleIndexStores
	Removals  TripleIndexStores
}

// TripleIndexStores is the s_p + sp_o adjacency pair backing a single
// triple set (used once for additions, once for removals).
type TripleIndexStores struct {
	SPBits, SPBlocks, SPSuper, SPValues     backing.Store
	SPOBits, SPOBlocks, SPOSuper, SPOValues backing.Store
}

// TripleIndexRaw mirrors TripleIndexStores for parsing.
type TripleIndexRaw struct {
	SPBits, SPBlocks, SPSuper, SPValues     []byte
	SPOBits, SPOBlocks, SPOSuper, SPOValues []byte
}

// ChildLayer is an immutable delta against a parent layer: a
// dictionary extension (new strings only, ids continuing from the
// parent's counts) plus independently indexed additions and removals
// triple sets.
type ChildLayer struct {
	id     ID
	parent Layer

	nodeExt, predExt, valueExt *dict.Dictionary
	nodeExtCount, predExtCount, valueExtCount uint64

	additions tripleIndex
	removals  tripleIndex
}

func (l *ChildLayer) NodeCount() uint64      { return l.parent.NodeCount() + l.nodeExtCount }
func (l *ChildLayer) PredicateCount() uint64 { return l.parent.PredicateCount() + l.predExtCount }
func (l *ChildLayer) ValueCount() uint64     { return l.parent.ValueCount() + l.valueExtCount }

// tripleIndex is a parsed s_p/sp_o adjacency pair.
type tripleIndex struct {
	sp  *Adjacency
	spo *Adjacency
}

func (idx tripleIndex) triples() []Triple {
	if idx.sp == nil {
		return nil
	}
	var out []Triple
	domain := idx.sp.domain
	for s := uint64(1); s <= domain; s++ {
		start, end := idx.sp.Range(s)
		for pos := start; pos < end; pos++ {
			p := idx.sp.Get(pos)
			pairID := pos + 1
			ostart, oend := idx.spo.Range(pairID)
			for opos := ostart; opos < oend; opos++ {
				out = append(out, Triple{Subject: s, Predicate: p, Object: idx.spo.Get(opos)})
			}
		}
	}
	return out
}

// BuildChildLayer builds a layer recording additions and removals
// against parent. Subject/predicate/object strings not already
// resolvable in parent (including its own ancestors, via parent's
// fallthrough) are interned into this layer's dictionary extensions;
// their ids continue from parent.NodeCount()/PredicateCount()/
// ValueCount().
func BuildChildLayer(parent Layer, additions, removals []RawTriple, stores ChildStores) (ID, error) {
	parentNodeCount := parent.NodeCount()
	parentPredicateCount := parent.PredicateCount()
	parentValueCount := parent.ValueCount()

	nodeExtIDs := map[string]uint64{}
	predExtIDs := map[string]uint64{}
	valueExtIDs := map[string]uint64{}
	var nodeExtStrs, predExtStrs, valueExtStrs []string

	resolveNode := func(s string) {
		if _, ok, _ := parent.SubjectID(s); ok {
			return
		}
		if _, ok := nodeExtIDs[s]; !ok {
			nodeExtIDs[s] = 0
			nodeExtStrs = append(nodeExtStrs, s)
		}
	}
	resolvePred := func(s string) {
		if _, ok, _ := parent.PredicateID(s); ok {
			return
		}
		if _, ok := predExtIDs[s]; !ok {
			predExtIDs[s] = 0
			predExtStrs = append(predExtStrs, s)
		}
	}
	resolveValue := func(s string) {
		if _, ok, _ := parent.ObjectID(s, KindValue); ok {
			return
		}
		if _, ok := valueExtIDs[s]; !ok {
			valueExtIDs[s] = 0
			valueExtStrs = append(valueExtStrs, s)
		}
	}

	all := append(append([]RawTriple(nil), additions...), removals...)
	for _, t := range all {
		resolveNode(t.Subject)
		resolvePred(t.Predicate)
		if t.ObjectKind == KindValue {
			resolveValue(t.Object)
		} else {
			resolveNode(t.Object)
		}
	}

	sort.Strings(nodeExtStrs)
	sort.Strings(predExtStrs)
	sort.Strings(valueExtStrs)
	for i, s := range nodeExtStrs {
		nodeExtIDs[s] = uint64(i + 1)
	}
	for i, s := range predExtStrs {
		predExtIDs[s] = uint64(i + 1)
	}
	for i, s := range valueExtStrs {
		valueExtIDs[s] = uint64(i + 1)
	}

	nodeCount := parentNodeCount + uint64(len(nodeExtStrs))

	resolve := func(t RawTriple) (Triple, error) {
		s, ok, err := parent.SubjectID(t.Subject)
		if err != nil {
			return Triple{}, err
		}
		if !ok {
			s, ok = nodeExtIDs[t.Subject]
			if !ok {
				return Triple{}, fmt.Errorf("layer: subject %q not resolved", t.Subject)
			}
			s += parentNodeCount
		}
		p, ok, err := parent.PredicateID(t.Predicate)
		if err != nil {
			return Triple{}, err
		}
		if !ok {
			p, ok = predExtIDs[t.Predicate]
			if !ok {
				return Triple{}, fmt.Errorf("layer: predicate %q not resolved", t.Predicate)
			}
			p += parentPredicateCount
		}
		var o uint64
		if t.ObjectKind == KindValue {
			o, ok, err = parent.ObjectID(t.Object, KindValue)
			if err != nil {
				return Triple{}, err
			}
			if !ok {
				localID, ok := valueExtIDs[t.Object]
				if !ok {
					return Triple{}, fmt.Errorf("layer: value %q not resolved", t.Object)
				}
				o = nodeCount + parentValueCount + localID
			} else {
				// parent.ObjectID for a value already includes parent's
				// node-count offset; rebase onto this layer's node count.
				o = o - parentNodeCount + nodeCount
			}
		} else {
			o, ok, err = parent.SubjectID(t.Object)
			if err != nil {
				return Triple{}, err
			}
			if !ok {
				localID, ok := nodeExtIDs[t.Object]
				if !ok {
					return Triple{}, fmt.Errorf("layer: node %q not resolved", t.Object)
				}
				o = parentNodeCount + localID
			}
		}
		return Triple{Subject: s, Predicate: p, Object: o}, nil
	}

	resolveAll := func(raws []RawTriple) ([]Triple, error) {
		out := make([]Triple, len(raws))
		for i, t := range raws {
			resolved, err := resolve(t)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		sort.Sort(byTriple(out))
		return out, nil
	}

	addTriples, err := resolveAll(additions)
	if err != nil {
		return ZeroID, err
	}
	remTriples, err := resolveAll(removals)
	if err != nil {
		return ZeroID, err
	}

	if err := writeDictionary(nodeExtStrs, stores.NodeExtBlocks, stores.NodeExtOffsets); err != nil {
		return ZeroID, fmt.Errorf("layer: node extension: %w", err)
	}
	if err := writeDictionary(predExtStrs, stores.PredExtBlocks, stores.PredExtOffsets); err != nil {
		return ZeroID, fmt.Errorf("layer: predicate extension: %w", err)
	}
	if err := writeDictionary(valueExtStrs, stores.ValueExtBlocks, stores.ValueExtOffsets); err != nil {
		return ZeroID, fmt.Errorf("layer: value extension: %w", err)
	}

	if err := buildTripleIndex(addTriples, nodeCount, stores.Additions); err != nil {
		return ZeroID, fmt.Errorf("layer: additions index: %w", err)
	}
	if err := buildTripleIndex(remTriples, nodeCount, stores.Removals); err != nil {
		return ZeroID, fmt.Errorf("layer: removals index: %w", err)
	}

	return NewID(parent.ID())
}

// buildTripleIndex writes the s_p + sp_o adjacency pair for a single
// triple set (shared by both additions and removals).
func buildTripleIndex(triples []Triple, domain uint64, dst TripleIndexStores) error {
	spGroups, spPairOf := buildSPGroups(triples, domain)
	if err := BuildAdjacency(spGroups, dst.SPBits, dst.SPBlocks, dst.SPSuper, dst.SPValues); err != nil {
		return err
	}
	spoGroups := buildSPOGroups(triples, spPairOf)
	return BuildAdjacency(spoGroups, dst.SPOBits, dst.SPOBlocks, dst.SPOSuper, dst.SPOValues)
}

func parseTripleIndex(raw TripleIndexRaw, domain uint64) (tripleIndex, error) {
	sp, err := ParseAdjacency(raw.SPBits, raw.SPBlocks, raw.SPSuper, raw.SPValues, domain)
	if err != nil {
		return tripleIndex{}, fmt.Errorf("s_p: %w", err)
	}
	spo, err := ParseAdjacency(raw.SPOBits, raw.SPOBlocks, raw.SPOSuper, raw.SPOValues, sp.Len())
	if err != nil {
		return tripleIndex{}, fmt.Errorf("sp_o: %w", err)
	}
	return tripleIndex{sp: sp, spo: spo}, nil
}

// ChildRaw is every byte slice ParseChildLayer needs.
type ChildRaw struct {
	NodeExtBlocks, NodeExtOffsets   []byte
	PredExtBlocks, PredExtOffsets   []byte
	ValueExtBlocks, ValueExtOffsets []byte

	Additions TripleIndexRaw
	Removals  TripleIndexRaw

	// NodeExtCount, PredExtCount, ValueExtCount are this layer's own
	// new-string counts (not accumulated through ancestors — those are
	// reached dynamically via parent).
	NodeExtCount, PredExtCount, ValueExtCount uint64
}

// ParseChildLayer wraps a previously built child layer's raw bytes,
// given its sealed parent.
func ParseChildLayer(id ID, parent Layer, raw ChildRaw) (*ChildLayer, error) {
	nodeExt, err := dict.ParseDictionary(raw.NodeExtBlocks, raw.NodeExtOffsets)
	if err != nil {
		return nil, fmt.Errorf("layer: node extension: %w", err)
	}
	predExt, err := dict.ParseDictionary(raw.PredExtBlocks, raw.PredExtOffsets)
	if err != nil {
		return nil, fmt.Errorf("layer: predicate extension: %w", err)
	}
	valueExt, err := dict.ParseDictionary(raw.ValueExtBlocks, raw.ValueExtOffsets)
	if err != nil {
		return nil, fmt.Errorf("layer: value extension: %w", err)
	}

	domain := parent.NodeCount() + raw.NodeExtCount
	additions, err := parseTripleIndex(raw.Additions, domain)
	if err != nil {
		return nil, fmt.Errorf("layer: additions: %w", err)
	}
	removals, err := parseTripleIndex(raw.Removals, domain)
	if err != nil {
		return nil, fmt.Errorf("layer: removals: %w", err)
	}

	return &ChildLayer{
		id:            id,
		parent:        parent,
		nodeExt:       nodeExt,
		predExt:       predExt,
		valueExt:      valueExt,
		nodeExtCount:  raw.NodeExtCount,
		predExtCount:  raw.PredExtCount,
		valueExtCount: raw.ValueExtCount,
		additions:     additions,
		removals:      removals,
	}, nil
}

func (l *ChildLayer) ID() ID             { return l.id }
func (l *ChildLayer) Parent() (ID, bool) { return l.parent.ID(), true }
func (l *ChildLayer) ParentHandle() Layer { return l.parent }
func (l *ChildLayer) NodeAndValueCount() uint64 {
	return l.NodeCount() + l.ValueCount()
}

// SubjectID resolves s against this layer's node extension, falling
// through to the parent (and, transitively, its ancestors) when absent
// here — the id-range fallthrough spec.md §4.5 describes. Node ids are
// contiguous across the whole layer stack, so an own-extension hit is
// rebased by the parent's node count alone, not its node+value count.
func (l *ChildLayer) SubjectID(s string) (uint64, bool, error) {
	if id, ok, err := l.nodeExt.StringToID(s); err != nil {
		return 0, false, err
	} else if ok {
		return l.parent.NodeCount() + id, true, nil
	}
	return l.parent.SubjectID(s)
}

// PredicateID mirrors SubjectID for the independent predicate id space.
func (l *ChildLayer) PredicateID(s string) (uint64, bool, error) {
	if id, ok, err := l.predExt.StringToID(s); err != nil {
		return 0, false, err
	} else if ok {
		return l.parent.PredicateCount() + id, true, nil
	}
	return l.parent.PredicateID(s)
}

// ObjectID resolves against the node space (shared with SubjectID) or,
// for a value, this layer's own value extension rebased onto this
// layer's total node count plus the parent's total value count — the
// same formula BuildChildLayer uses when resolving a fresh value.
func (l *ChildLayer) ObjectID(s string, kind ObjectKind) (uint64, bool, error) {
	if kind != KindValue {
		return l.SubjectID(s)
	}
	if id, ok, err := l.valueExt.StringToID(s); err != nil {
		return 0, false, err
	} else if ok {
		return l.NodeCount() + l.parent.ValueCount() + id, true, nil
	}
	parentID, ok, err := l.parent.ObjectID(s, KindValue)
	if err != nil || !ok {
		return 0, ok, err
	}
	// parentID is parent.NodeCount() + <offset within parent's value
	// space>; rebase onto this layer's (larger) total node count.
	return parentID - l.parent.NodeCount() + l.NodeCount(), true, nil
}

func (l *ChildLayer) IDSubject(id uint64) (string, error) {
	if id > l.parent.NodeCount() {
		return l.nodeExt.IDToString(id - l.parent.NodeCount())
	}
	return l.parent.IDSubject(id)
}

func (l *ChildLayer) IDPredicate(id uint64) (string, error) {
	if id > l.parent.PredicateCount() {
		return l.predExt.IDToString(id - l.parent.PredicateCount())
	}
	return l.parent.IDPredicate(id)
}

// IDObject inverts ObjectID: ids up to this layer's total node count are
// nodes (own extension if beyond the parent's node count, else an
// ancestor's); ids beyond that are values, offset first against the
// parent's total value count to decide whether they're this layer's own
// extension or must be rebased back into the parent's id space.
func (l *ChildLayer) IDObject(id uint64) (string, ObjectKind, error) {
	if id <= l.NodeCount() {
		if id > l.parent.NodeCount() {
			s, err := l.nodeExt.IDToString(id - l.parent.NodeCount())
			return s, KindNode, err
		}
		return l.parent.IDObject(id)
	}
	offset := id - l.NodeCount()
	if offset <= l.parent.ValueCount() {
		return l.parent.IDObject(l.parent.NodeCount() + offset)
	}
	s, err := l.valueExt.IDToString(offset - l.parent.ValueCount())
	return s, KindValue, err
}

func (l *ChildLayer) OwnAdditions() []Triple { return l.additions.triples() }
func (l *ChildLayer) OwnRemovals() []Triple  { return l.removals.triples() }

func (l *ChildLayer) Rollup() (Layer, error) {
	return nil, ErrNotImplemented
}
