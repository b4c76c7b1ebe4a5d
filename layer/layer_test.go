package layer

import (
	"testing"

	"github.com/jpl-au/loom/backing"
)

func newBaseStores() (BaseStores, func() BaseRaw) {
	s := BaseStores{
		NodeDictBlocks: backing.NewMemory(), NodeDictOffsets: backing.NewMemory(),
		PredDictBlocks: backing.NewMemory(), PredDictOffsets: backing.NewMemory(),
		ValueDictBlocks: backing.NewMemory(), ValueDictOffsets: backing.NewMemory(),

		SPBits: backing.NewMemory(), SPBlocks: backing.NewMemory(), SPSuper: backing.NewMemory(), SPValues: backing.NewMemory(),
		SPOBits: backing.NewMemory(), SPOBlocks: backing.NewMemory(), SPOSuper: backing.NewMemory(), SPOValues: backing.NewMemory(),

		OPSBits: backing.NewMemory(), OPSBlocks: backing.NewMemory(), OPSSuper: backing.NewMemory(),
		OPSSubjValues: backing.NewMemory(), OPSPredValues: backing.NewMemory(),

		PredWaveletBits: backing.NewMemory(), PredWaveletBlocks: backing.NewMemory(), PredWaveletSuper: backing.NewMemory(),
	}

	mapOrNil := func(st backing.Store) []byte {
		b, _ := st.Map()
		return b
	}

	raw := func() BaseRaw {
		return BaseRaw{
			NodeDictBlocks: mapOrNil(s.NodeDictBlocks), NodeDictOffsets: mapOrNil(s.NodeDictOffsets),
			PredDictBlocks: mapOrNil(s.PredDictBlocks), PredDictOffsets: mapOrNil(s.PredDictOffsets),
			ValueDictBlocks: mapOrNil(s.ValueDictBlocks), ValueDictOffsets: mapOrNil(s.ValueDictOffsets),

			SPBits: mapOrNil(s.SPBits), SPBlocks: mapOrNil(s.SPBlocks), SPSuper: mapOrNil(s.SPSuper), SPValues: mapOrNil(s.SPValues),
			SPOBits: mapOrNil(s.SPOBits), SPOBlocks: mapOrNil(s.SPOBlocks), SPOSuper: mapOrNil(s.SPOSuper), SPOValues: mapOrNil(s.SPOValues),

			OPSBits: mapOrNil(s.OPSBits), OPSBlocks: mapOrNil(s.OPSBlocks), OPSSuper: mapOrNil(s.OPSSuper),
			OPSSubjValues: mapOrNil(s.OPSSubjValues), OPSPredValues: mapOrNil(s.OPSPredValues),

			PredWaveletBits: mapOrNil(s.PredWaveletBits), PredWaveletBlocks: mapOrNil(s.PredWaveletBlocks), PredWaveletSuper: mapOrNil(s.PredWaveletSuper),
		}
	}

	return s, raw
}

func newChildStores() (ChildStores, func() ChildRaw) {
	s := ChildStores{
		NodeExtBlocks: backing.NewMemory(), NodeExtOffsets: backing.NewMemory(),
		PredExtBlocks: backing.NewMemory(), PredExtOffsets: backing.NewMemory(),
		ValueExtBlocks: backing.NewMemory(), ValueExtOffsets: backing.NewMemory(),
		Additions: TripleIndexStores{
			SPBits: backing.NewMemory(), SPBlocks: backing.NewMemory(), SPSuper: backing.NewMemory(), SPValues: backing.NewMemory(),
			SPOBits: backing.NewMemory(), SPOBlocks: backing.NewMemory(), SPOSuper: backing.NewMemory(), SPOValues: backing.NewMemory(),
		},
		Removals: TripleIndexStores{
			SPBits: backing.NewMemory(), SPBlocks: backing.NewMemory(), SPSuper: backing.NewMemory(), SPValues: backing.NewMemory(),
			SPOBits: backing.NewMemory(), SPOBlocks: backing.NewMemory(), SPOSuper: backing.NewMemory(), SPOValues: backing.NewMemory(),
		},
	}

	mapOrNil := func(st backing.Store) []byte {
		b, _ := st.Map()
		return b
	}
	mapIdx := func(st TripleIndexStores) TripleIndexRaw {
		return TripleIndexRaw{
			SPBits: mapOrNil(st.SPBits), SPBlocks: mapOrNil(st.SPBlocks), SPSuper: mapOrNil(st.SPSuper), SPValues: mapOrNil(st.SPValues),
			SPOBits: mapOrNil(st.SPOBits), SPOBlocks: mapOrNil(st.SPOBlocks), SPOSuper: mapOrNil(st.SPOSuper), SPOValues: mapOrNil(st.SPOValues),
		}
	}

	raw := func() ChildRaw {
		return ChildRaw{
			NodeExtBlocks: mapOrNil(s.NodeExtBlocks), NodeExtOffsets: mapOrNil(s.NodeExtOffsets),
			PredExtBlocks: mapOrNil(s.PredExtBlocks), PredExtOffsets: mapOrNil(s.PredExtOffsets),
			ValueExtBlocks: mapOrNil(s.ValueExtBlocks), ValueExtOffsets: mapOrNil(s.ValueExtOffsets),
			Additions: mapIdx(s.Additions),
			Removals:  mapIdx(s.Removals),
		}
	}

	return s, raw
}

// buildBase builds and parses a base layer from a small fixed triple
// set, used as the common fixture across several tests.
func buildBase(t *testing.T) *BaseLayer {
	t.Helper()
	raws := []RawTriple{
		{Subject: "alice", Predicate: "knows", Object: "bob", ObjectKind: KindNode},
		{Subject: "alice", Predicate: "age", Object: "30", ObjectKind: KindValue},
		{Subject: "bob", Predicate: "knows", Object: "carol", ObjectKind: KindNode},
		{Subject: "bob", Predicate: "age", Object: "25", ObjectKind: KindValue},
		{Subject: "carol", Predicate: "knows", Object: "alice", ObjectKind: KindNode},
	}

	stores, rawFn := newBaseStores()
	id, err := BuildBaseLayer(raws, stores)
	if err != nil {
		t.Fatalf("build base: %v", err)
	}

	raw := rawFn()
	raw.NodeCount, raw.PredicateCount, raw.ValueCount = baseCounts(raws)
	base, err := ParseBaseLayer(id, raw)
	if err != nil {
		t.Fatalf("parse base: %v", err)
	}
	return base
}

// baseCounts returns the distinct node, predicate and value counts of
// raws: the counts ParseBaseLayer takes from its caller (the store
// package reads them back from the layer's meta file).
func baseCounts(raws []RawTriple) (nodes, preds, values uint64) {
	n, p, v := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, t := range raws {
		n[t.Subject] = true
		p[t.Predicate] = true
		if t.ObjectKind == KindValue {
			v[t.Object] = true
		} else {
			n[t.Object] = true
		}
	}
	return uint64(len(n)), uint64(len(p)), uint64(len(v))
}

// childExtCounts returns how many node, predicate and value strings in
// additions and removals parent does not already resolve: the extension
// counts ParseChildLayer takes from its caller.
func childExtCounts(parent Layer, additions, removals []RawTriple) (nodes, preds, values uint64) {
	n, p, v := map[string]bool{}, map[string]bool{}, map[string]bool{}
	for _, t := range append(append([]RawTriple(nil), additions...), removals...) {
		if _, ok, _ := parent.SubjectID(t.Subject); !ok {
			n[t.Subject] = true
		}
		if _, ok, _ := parent.PredicateID(t.Predicate); !ok {
			p[t.Predicate] = true
		}
		if t.ObjectKind == KindValue {
			if _, ok, _ := parent.ObjectID(t.Object, KindValue); !ok {
				v[t.Object] = true
			}
		} else if _, ok, _ := parent.SubjectID(t.Object); !ok {
			n[t.Object] = true
		}
	}
	return uint64(len(n)), uint64(len(p)), uint64(len(v))
}

func tripleSet(ts []Triple) map[Triple]struct{} {
	m := make(map[Triple]struct{}, len(ts))
	for _, t := range ts {
		m[t] = struct{}{}
	}
	return m
}

// TestBaseLayerRoundTrip checks id assignment and dictionary lookups
// agree in both directions, and that OwnAdditions reconstructs the
// exact input triple set via the s_p/sp_o indices.
func TestBaseLayerRoundTrip(t *testing.T) {
	base := buildBase(t)

	if base.NodeCount() != 3 {
		t.Fatalf("nodeCount = %d, want 3", base.NodeCount())
	}
	if base.PredicateCount() != 2 {
		t.Fatalf("predicateCount = %d, want 2", base.PredicateCount())
	}
	if base.ValueCount() != 2 {
		t.Fatalf("valueCount = %d, want 2", base.ValueCount())
	}

	aliceID, ok, err := base.SubjectID("alice")
	if err != nil || !ok {
		t.Fatalf("subject_id(alice): ok=%v err=%v", ok, err)
	}
	back, err := base.IDSubject(aliceID)
	if err != nil || back != "alice" {
		t.Fatalf("id_subject(subject_id(alice)) = %q, err=%v", back, err)
	}

	ageID, ok, err := base.ObjectID("30", KindValue)
	if err != nil || !ok {
		t.Fatalf("object_id(30): ok=%v err=%v", ok, err)
	}
	if base.ObjectKindOf(ageID) != KindValue {
		t.Fatalf("object_kind_of(%d) = node, want value", ageID)
	}
	s, kind, err := base.IDObject(ageID)
	if err != nil || s != "30" || kind != KindValue {
		t.Fatalf("id_object(object_id(30)) = (%q,%v), err=%v", s, kind, err)
	}

	got := tripleSet(base.OwnAdditions())
	want := map[[3]string]struct{}{
		{"alice", "knows", "bob"}:  {},
		{"alice", "age", "30"}:     {},
		{"bob", "knows", "carol"}:  {},
		{"bob", "age", "25"}:       {},
		{"carol", "knows", "alice"}: {},
	}
	if len(got) != len(want) {
		t.Fatalf("OwnAdditions len = %d, want %d", len(got), len(want))
	}
	for tr := range got {
		subj, err := base.IDSubject(tr.Subject)
		if err != nil {
			t.Fatalf("id_subject(%d): %v", tr.Subject, err)
		}
		pred, err := base.IDPredicate(tr.Predicate)
		if err != nil {
			t.Fatalf("id_predicate(%d): %v", tr.Predicate, err)
		}
		objStr, _, err := base.IDObject(tr.Object)
		if err != nil {
			t.Fatalf("id_object(%d): %v", tr.Object, err)
		}
		key := [3]string{subj, pred, objStr}
		if _, ok := want[key]; !ok {
			t.Errorf("unexpected triple (%s,%s,%s)", subj, pred, objStr)
		}
	}

	if base.OwnRemovals() != nil {
		t.Fatalf("base layer OwnRemovals = %v, want nil", base.OwnRemovals())
	}
	if base.ParentHandle() != nil {
		t.Fatalf("base layer ParentHandle != nil")
	}
}

// TestChildLayerAdditionsAndFallthrough checks a child layer resolves
// strings already known to its parent without creating a redundant
// dictionary entry, interns only genuinely new strings, and that
// EffectiveTriples merges parent and child additions.
func TestChildLayerAdditionsAndFallthrough(t *testing.T) {
	base := buildBase(t)

	additions := []RawTriple{
		// reuses existing subject/predicate/object strings
		{Subject: "alice", Predicate: "knows", Object: "carol", ObjectKind: KindNode},
		// new node, new predicate, new value
		{Subject: "dave", Predicate: "likes", Object: "pizza", ObjectKind: KindValue},
	}

	childStores, childRawFn := newChildStores()
	childID, err := BuildChildLayer(base, additions, nil, childStores)
	if err != nil {
		t.Fatalf("build child: %v", err)
	}
	childRaw := childRawFn()
	childRaw.NodeExtCount, childRaw.PredExtCount, childRaw.ValueExtCount = childExtCounts(base, additions, nil)
	child, err := ParseChildLayer(childID, base, childRaw)
	if err != nil {
		t.Fatalf("parse child: %v", err)
	}

	if child.NodeCount() != base.NodeCount()+1 {
		t.Fatalf("child NodeCount = %d, want %d", child.NodeCount(), base.NodeCount()+1)
	}
	if child.PredicateCount() != base.PredicateCount()+1 {
		t.Fatalf("child PredicateCount = %d, want %d", child.PredicateCount(), base.PredicateCount()+1)
	}
	if child.ValueCount() != base.ValueCount()+1 {
		t.Fatalf("child ValueCount = %d, want %d", child.ValueCount(), base.ValueCount()+1)
	}

	// "alice" must resolve to the same id in both layers (fallthrough,
	// not a shadow copy).
	aliceBase, _, _ := base.SubjectID("alice")
	aliceChild, ok, err := child.SubjectID("alice")
	if err != nil || !ok || aliceChild != aliceBase {
		t.Fatalf("child subject_id(alice) = (%d,%v), want %d", aliceChild, ok, aliceBase)
	}

	daveID, ok, err := child.SubjectID("dave")
	if err != nil || !ok {
		t.Fatalf("child subject_id(dave): ok=%v err=%v", ok, err)
	}
	if daveID <= base.NodeCount() {
		t.Fatalf("dave id %d should be beyond base node count %d", daveID, base.NodeCount())
	}
	back, err := child.IDSubject(daveID)
	if err != nil || back != "dave" {
		t.Fatalf("id_subject(subject_id(dave)) = %q, err=%v", back, err)
	}

	pizzaID, ok, err := child.ObjectID("pizza", KindValue)
	if err != nil || !ok {
		t.Fatalf("child object_id(pizza): ok=%v err=%v", ok, err)
	}
	s, kind, err := child.IDObject(pizzaID)
	if err != nil || s != "pizza" || kind != KindValue {
		t.Fatalf("id_object(object_id(pizza)) = (%q,%v), err=%v", s, kind, err)
	}
	// a value already known to the parent must still resolve correctly
	// through the child, rebased onto the child's larger node count.
	ageChildID, ok, err := child.ObjectID("30", KindValue)
	if err != nil || !ok {
		t.Fatalf("child object_id(30): ok=%v err=%v", ok, err)
	}
	s, kind, err = child.IDObject(ageChildID)
	if err != nil || s != "30" || kind != KindValue {
		t.Fatalf("child id_object(object_id(30)) = (%q,%v), err=%v", s, kind, err)
	}

	effective := tripleSet(EffectiveTriples(child))
	if len(effective) != len(base.OwnAdditions())+len(additions) {
		t.Fatalf("effective triple count = %d, want %d", len(effective), len(base.OwnAdditions())+len(additions))
	}

	carolID, _, _ := base.SubjectID("carol")
	knowsID, _, _ := base.PredicateID("knows")
	want := Triple{Subject: aliceBase, Predicate: knowsID, Object: carolID}
	if !Contains(child, want) {
		t.Fatalf("Contains(child, alice-knows-carol) = false, want true")
	}
}

// TestEffectiveTriplesRemovalThenReaddition exercises the ordering
// rule: a removal at depth d cancels any addition at any depth >= d,
// but a later layer is free to re-add a triple an earlier layer's
// removal cancelled.
func TestEffectiveTriplesRemovalThenReaddition(t *testing.T) {
	base := buildBase(t)
	aliceID, _, _ := base.SubjectID("alice")
	knowsID, _, _ := base.PredicateID("knows")
	bobID, _, _ := base.SubjectID("bob")
	aliceKnowsBob := Triple{Subject: aliceID, Predicate: knowsID, Object: bobID}

	if !Contains(base, aliceKnowsBob) {
		t.Fatalf("base layer should contain alice-knows-bob")
	}

	// layer 1: remove alice-knows-bob
	removeStores, removeRawFn := newChildStores()
	removeRaw := []RawTriple{{Subject: "alice", Predicate: "knows", Object: "bob", ObjectKind: KindNode}}
	removeID, err := BuildChildLayer(base, nil, removeRaw, removeStores)
	if err != nil {
		t.Fatalf("build removal layer: %v", err)
	}
	removeChildRaw := removeRawFn()
	removeChildRaw.NodeExtCount, removeChildRaw.PredExtCount, removeChildRaw.ValueExtCount = childExtCounts(base, nil, removeRaw)
	removeLayer, err := ParseChildLayer(removeID, base, removeChildRaw)
	if err != nil {
		t.Fatalf("parse removal layer: %v", err)
	}
	if Contains(removeLayer, aliceKnowsBob) {
		t.Fatalf("removal layer should not contain alice-knows-bob")
	}

	// layer 2: re-add the exact same triple
	readdStores, readdRawFn := newChildStores()
	readdRaw := []RawTriple{{Subject: "alice", Predicate: "knows", Object: "bob", ObjectKind: KindNode}}
	readdID, err := BuildChildLayer(removeLayer, readdRaw, nil, readdStores)
	if err != nil {
		t.Fatalf("build readdition layer: %v", err)
	}
	readdChildRaw := readdRawFn()
	readdChildRaw.NodeExtCount, readdChildRaw.PredExtCount, readdChildRaw.ValueExtCount = childExtCounts(removeLayer, readdRaw, nil)
	readdLayer, err := ParseChildLayer(readdID, removeLayer, readdChildRaw)
	if err != nil {
		t.Fatalf("parse readdition layer: %v", err)
	}
	if !Contains(readdLayer, aliceKnowsBob) {
		t.Fatalf("readdition layer should contain alice-knows-bob again")
	}

	// every other original triple must still be present, untouched by
	// the remove/re-add cycle.
	carolID, _, _ := base.SubjectID("carol")
	carolKnowsAlice := Triple{Subject: carolID, Predicate: knowsID, Object: aliceID}
	if !Contains(readdLayer, carolKnowsAlice) {
		t.Fatalf("readdition layer lost an unrelated base triple")
	}
}

// TestAncestorChainOrder checks EffectiveTriples is stable regardless
// of how many intermediate layers separate a descendant from the base.
func TestAncestorChainOrder(t *testing.T) {
	base := buildBase(t)

	s1, r1 := newChildStores()
	adds1 := []RawTriple{{Subject: "eve", Predicate: "knows", Object: "alice", ObjectKind: KindNode}}
	id1, err := BuildChildLayer(base, adds1, nil, s1)
	if err != nil {
		t.Fatalf("build layer1: %v", err)
	}
	raw1 := r1()
	raw1.NodeExtCount, raw1.PredExtCount, raw1.ValueExtCount = childExtCounts(base, adds1, nil)
	l1, err := ParseChildLayer(id1, base, raw1)
	if err != nil {
		t.Fatalf("parse layer1: %v", err)
	}

	s2, r2 := newChildStores()
	adds2 := []RawTriple{{Subject: "eve", Predicate: "age", Object: "40", ObjectKind: KindValue}}
	id2, err := BuildChildLayer(l1, adds2, nil, s2)
	if err != nil {
		t.Fatalf("build layer2: %v", err)
	}
	raw2 := r2()
	raw2.NodeExtCount, raw2.PredExtCount, raw2.ValueExtCount = childExtCounts(l1, adds2, nil)
	l2, err := ParseChildLayer(id2, l1, raw2)
	if err != nil {
		t.Fatalf("parse layer2: %v", err)
	}

	effective := EffectiveTriples(l2)
	if len(effective) != len(base.OwnAdditions())+2 {
		t.Fatalf("effective count = %d, want %d", len(effective), len(base.OwnAdditions())+2)
	}

	eveID, ok, err := l2.SubjectID("eve")
	if err != nil || !ok {
		t.Fatalf("subject_id(eve): ok=%v err=%v", ok, err)
	}
	aliceID, _, _ := base.SubjectID("alice")
	knowsID, _, _ := base.PredicateID("knows")
	if !Contains(l2, Triple{Subject: eveID, Predicate: knowsID, Object: aliceID}) {
		t.Fatalf("two-layer-deep addition not visible via Contains")
	}
}

