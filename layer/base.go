package layer

import (
	"fmt"
	"sort"

	"github.com/jpl-au/loom/backing"
	"github.com/jpl-au/loom/dict"
	"github.com/jpl-au/loom/succinct"
)

// RawTriple is a triple expressed in terms of strings, the form a base
// layer builder accepts before ids are assigned.
type RawTriple struct {
	Subject    string
	Predicate  string
	Object     string
	ObjectKind ObjectKind
}

// BaseStores names every backing.Store a base layer's files are
// written through. Names favor clarity over the illustrative file
// prefixes in spec.md §6's directory sketch; the store package maps
// these fields to file names (store/layerio.go, store/files.go).
type BaseStores struct {
	NodeDictBlocks, NodeDictOffsets   backing.Store
	PredDictBlocks, PredDictOffsets   backing.Store
	ValueDictBlocks, ValueDictOffsets backing.Store

	SPBits, SPBlocks, SPSuper, SPValues    backing.Store
	SPOBits, SPOBlocks, SPOSuper, SPOValues backing.Store

	OPSBits, OPSBlocks, OPSSuper, OPSSubjValues, OPSPredValues backing.Store

	PredWaveletBits, PredWaveletBlocks, PredWaveletSuper backing.Store
}

// BaseLayer is an immutable base layer: it owns its dictionaries, its
// full triple set, and the indices built over it.
type BaseLayer struct {
	id ID

	nodeDict, predDict, valueDict *dict.Dictionary
	nodeCount, predCount, valueCount uint64

	sp  *Adjacency // subject (1..nodeCount) -> distinct predicate ids
	spo *Adjacency // (subject,predicate) pair id (1..len(sp values)) -> object ids

	opsSubj *Adjacency // object (1..nodeCount+valueCount) -> subject ids
	opsPred *Adjacency // same grouping -> predicate ids, lockstep with opsSubj

	predWavelet *succinct.WaveletTree // predicate stream, subject-major triple order
}

// BuildBaseLayer collects the distinct strings of each kind (nodes,
// predicates, values), assigns dense 1-based ids in sorted string
// order, sorts the resulting triples, and writes
// dictionaries plus every index through stores. It returns the fresh
// layer id.
func BuildBaseLayer(raw []RawTriple, stores BaseStores) (ID, error) {
	nodeIDs := map[string]uint64{}
	predIDs := map[string]uint64{}
	valueIDs := map[string]uint64{}

	var nodeStrs, predStrs, valueStrs []string
	internNode := func(s string) {
		if _, ok := nodeIDs[s]; !ok {
			nodeIDs[s] = 0
			nodeStrs = append(nodeStrs, s)
		}
	}
	internPred := func(s string) {
		if _, ok := predIDs[s]; !ok {
			predIDs[s] = 0
			predStrs = append(predStrs, s)
		}
	}
	internValue := func(s string) {
		if _, ok := valueIDs[s]; !ok {
			valueIDs[s] = 0
			valueStrs = append(valueStrs, s)
		}
	}

	for _, t := range raw {
		internNode(t.Subject)
		internPred(t.Predicate)
		if t.ObjectKind == KindValue {
			internValue(t.Object)
		} else {
			internNode(t.Object)
		}
	}

	sort.Strings(nodeStrs)
	sort.Strings(predStrs)
	sort.Strings(valueStrs)
	for i, s := range nodeStrs {
		nodeIDs[s] = uint64(i + 1)
	}
	for i, s := range predStrs {
		predIDs[s] = uint64(i + 1)
	}
	for i, s := range valueStrs {
		valueIDs[s] = uint64(i + 1)
	}
	nodeCount := uint64(len(nodeStrs))
	valueCount := uint64(len(valueStrs))

	triples := make([]Triple, len(raw))
	for i, t := range raw {
		obj := nodeIDs[t.Object]
		if t.ObjectKind == KindValue {
			obj = nodeCount + valueIDs[t.Object]
		}
		triples[i] = Triple{
			Subject:   nodeIDs[t.Subject],
			Predicate: predIDs[t.Predicate],
			Object:    obj,
		}
	}
	sort.Sort(byTriple(triples))

	if err := writeDictionary(nodeStrs, stores.NodeDictBlocks, stores.NodeDictOffsets); err != nil {
		return ZeroID, fmt.Errorf("layer: node dict: %w", err)
	}
	if err := writeDictionary(predStrs, stores.PredDictBlocks, stores.PredDictOffsets); err != nil {
		return ZeroID, fmt.Errorf("layer: predicate dict: %w", err)
	}
	if err := writeDictionary(valueStrs, stores.ValueDictBlocks, stores.ValueDictOffsets); err != nil {
		return ZeroID, fmt.Errorf("layer: value dict: %w", err)
	}

	spGroups, spPairOf := buildSPGroups(triples, nodeCount)
	if err := BuildAdjacency(spGroups, stores.SPBits, stores.SPBlocks, stores.SPSuper, stores.SPValues); err != nil {
		return ZeroID, fmt.Errorf("layer: s_p adjacency: %w", err)
	}

	spoGroups := buildSPOGroups(triples, spPairOf)
	if err := BuildAdjacency(spoGroups, stores.SPOBits, stores.SPOBlocks, stores.SPOSuper, stores.SPOValues); err != nil {
		return ZeroID, fmt.Errorf("layer: sp_o adjacency: %w", err)
	}

	objDomain := nodeCount + valueCount
	opsSubjGroups, opsPredGroups := buildOPSGroups(triples, objDomain)
	if err := BuildAdjacency(opsSubjGroups, stores.OPSBits, stores.OPSBlocks, stores.OPSSuper, stores.OPSSubjValues); err != nil {
		return ZeroID, fmt.Errorf("layer: o_ps subject adjacency: %w", err)
	}
	// opsPred shares the identical grouping boundaries as opsSubj by
	// construction (both are derived from the same per-object triple
	// groups in the same order), so only its values are kept: its
	// (identical) bits and rank summaries go to scratch stores, and
	// ParseBaseLayer reads both indices over the shared o_ps bits.
	if err := BuildAdjacency(opsPredGroups, backing.NewMemory(), backing.NewMemory(), backing.NewMemory(), stores.OPSPredValues); err != nil {
		return ZeroID, fmt.Errorf("layer: o_ps predicate adjacency: %w", err)
	}

	predCount := uint64(len(predStrs))
	numLayers := bitsFor(predCount)
	predStream := make([]uint64, len(triples))
	for i, t := range triples {
		predStream[i] = t.Predicate
	}
	if err := succinct.BuildWaveletTree(predStream, numLayers, stores.PredWaveletBits, stores.PredWaveletBlocks, stores.PredWaveletSuper); err != nil {
		return ZeroID, fmt.Errorf("layer: predicate wavelet: %w", err)
	}

	id, err := NewID(ZeroID)
	if err != nil {
		return ZeroID, err
	}
	return id, nil
}

// buildSPGroups groups triples by subject id into domain nodeCount
// buckets of distinct predicate ids (in first-seen order within the
// subject, which — since triples are pre-sorted by (subject,predicate,
// object) — is ascending predicate order). It also returns, for each
// (subject,predicate) pair actually present, its dense 1-based position
// in the flattened output (the sp-pair id the second adjacency level is
// keyed on).
func buildSPGroups(triples []Triple, nodeCount uint64) (groups [][]uint64, spPairOf map[[2]uint64]uint64) {
	groups = make([][]uint64, nodeCount)
	spPairOf = map[[2]uint64]uint64{}
	var flatIdx uint64
	i := 0
	for i < len(triples) {
		s := triples[i].Subject
		j := i
		for j < len(triples) && triples[j].Subject == s {
			p := triples[j].Predicate
			if len(groups[s-1]) == 0 || groups[s-1][len(groups[s-1])-1] != p {
				groups[s-1] = append(groups[s-1], p)
				flatIdx++
				spPairOf[[2]uint64{s, p}] = flatIdx
			}
			j++
		}
		i = j
	}
	return groups, spPairOf
}

// buildSPOGroups groups triples by their (subject,predicate) pair id
// into domain len(spPairOf) buckets of object ids.
func buildSPOGroups(triples []Triple, spPairOf map[[2]uint64]uint64) [][]uint64 {
	groups := make([][]uint64, len(spPairOf))
	for _, t := range triples {
		pairID := spPairOf[[2]uint64{t.Subject, t.Predicate}]
		groups[pairID-1] = append(groups[pairID-1], t.Object)
	}
	return groups
}

// buildOPSGroups groups triples by object id into domain objDomain
// buckets, in lockstep, returning parallel subject-value and
// predicate-value groupings (every triple with a given object appears
// once in each, at the same position).
func buildOPSGroups(triples []Triple, objDomain uint64) (subjGroups, predGroups [][]uint64) {
	sorted := append([]Triple(nil), triples...)
	sort.Sort(byObjectTriple(sorted))

	subjGroups = make([][]uint64, objDomain)
	predGroups = make([][]uint64, objDomain)
	for _, t := range sorted {
		subjGroups[t.Object-1] = append(subjGroups[t.Object-1], t.Subject)
		predGroups[t.Object-1] = append(predGroups[t.Object-1], t.Predicate)
	}
	return subjGroups, predGroups
}

func writeDictionary(strs []string, blocksDst, offsetsDst backing.Store) error {
	b := dict.NewBuilder(blocksDst)
	for _, s := range strs {
		if err := b.Push(s); err != nil {
			return err
		}
	}
	return b.Finalize(offsetsDst)
}

// bitsFor returns the number of bits needed so that every value in
// [1, max] fits in [0, 2^n), with a minimum of 1 — the wavelet tree's
// alphabet must be a power of two per spec.md §4.4, sized to the
// largest predicate id actually in use.
func bitsFor(max uint64) int {
	n := 1
	for (uint64(1) << uint(n)) <= max {
		n++
	}
	return n
}

// ParseBaseLayer wraps a previously built base layer's raw bytes.
func ParseBaseLayer(id ID, raw BaseRaw) (*BaseLayer, error) {
	nodeDict, err := dict.ParseDictionary(raw.NodeDictBlocks, raw.NodeDictOffsets)
	if err != nil {
		return nil, fmt.Errorf("layer: node dict: %w", err)
	}
	predDict, err := dict.ParseDictionary(raw.PredDictBlocks, raw.PredDictOffsets)
	if err != nil {
		return nil, fmt.Errorf("layer: predicate dict: %w", err)
	}
	valueDict, err := dict.ParseDictionary(raw.ValueDictBlocks, raw.ValueDictOffsets)
	if err != nil {
		return nil, fmt.Errorf("layer: value dict: %w", err)
	}

	sp, err := ParseAdjacency(raw.SPBits, raw.SPBlocks, raw.SPSuper, raw.SPValues, raw.NodeCount)
	if err != nil {
		return nil, fmt.Errorf("layer: s_p: %w", err)
	}
	spo, err := ParseAdjacency(raw.SPOBits, raw.SPOBlocks, raw.SPOSuper, raw.SPOValues, sp.Len())
	if err != nil {
		return nil, fmt.Errorf("layer: sp_o: %w", err)
	}

	objDomain := raw.NodeCount + raw.ValueCount
	opsSubj, err := ParseAdjacency(raw.OPSBits, raw.OPSBlocks, raw.OPSSuper, raw.OPSSubjValues, objDomain)
	if err != nil {
		return nil, fmt.Errorf("layer: o_ps subjects: %w", err)
	}
	opsPred, err := ParseAdjacency(raw.OPSBits, raw.OPSBlocks, raw.OPSSuper, raw.OPSPredValues, objDomain)
	if err != nil {
		return nil, fmt.Errorf("layer: o_ps predicates: %w", err)
	}

	predBA, err := succinct.ParseBitArray(raw.PredWaveletBits)
	if err != nil {
		return nil, fmt.Errorf("layer: predicate wavelet bits: %w", err)
	}
	predWavelet, err := succinct.ParseWaveletTree(predBA, raw.PredWaveletBlocks, raw.PredWaveletSuper, bitsFor(raw.PredicateCount))
	if err != nil {
		return nil, fmt.Errorf("layer: predicate wavelet: %w", err)
	}

	return &BaseLayer{
		id:          id,
		nodeDict:    nodeDict,
		predDict:    predDict,
		valueDict:   valueDict,
		nodeCount:   raw.NodeCount,
		predCount:   raw.PredicateCount,
		valueCount:  raw.ValueCount,
		sp:          sp,
		spo:         spo,
		opsSubj:     opsSubj,
		opsPred:     opsPred,
		predWavelet: predWavelet,
	}, nil
}

// BaseRaw is every byte slice ParseBaseLayer needs, plus the counts
// that size each structure's domain (these would, in the store
// package, come from the layer's Meta file).
type BaseRaw struct {
	NodeDictBlocks, NodeDictOffsets   []byte
	PredDictBlocks, PredDictOffsets   []byte
	ValueDictBlocks, ValueDictOffsets []byte

	SPBits, SPBlocks, SPSuper, SPValues     []byte
	SPOBits, SPOBlocks, SPOSuper, SPOValues []byte

	OPSBits, OPSBlocks, OPSSuper, OPSSubjValues, OPSPredValues []byte

	PredWaveletBits, PredWaveletBlocks, PredWaveletSuper []byte

	NodeCount, PredicateCount, ValueCount uint64
}

func (l *BaseLayer) ID() ID                 { return l.id }
func (l *BaseLayer) Parent() (ID, bool)      { return ZeroID, false }
func (l *BaseLayer) NodeCount() uint64       { return l.nodeCount }
func (l *BaseLayer) PredicateCount() uint64  { return l.predCount }
func (l *BaseLayer) ValueCount() uint64      { return l.valueCount }
func (l *BaseLayer) NodeAndValueCount() uint64 { return l.nodeCount + l.valueCount }

func (l *BaseLayer) SubjectID(s string) (uint64, bool, error) {
	return l.nodeDict.StringToID(s)
}

func (l *BaseLayer) PredicateID(s string) (uint64, bool, error) {
	return l.predDict.StringToID(s)
}

func (l *BaseLayer) ObjectID(s string, kind ObjectKind) (uint64, bool, error) {
	if kind == KindValue {
		id, ok, err := l.valueDict.StringToID(s)
		if err != nil || !ok {
			return 0, ok, err
		}
		return l.nodeCount + id, true, nil
	}
	return l.nodeDict.StringToID(s)
}

func (l *BaseLayer) IDSubject(id uint64) (string, error) {
	return l.nodeDict.IDToString(id)
}

func (l *BaseLayer) IDPredicate(id uint64) (string, error) {
	return l.predDict.IDToString(id)
}

func (l *BaseLayer) IDObject(id uint64) (string, ObjectKind, error) {
	if id <= l.nodeCount {
		s, err := l.nodeDict.IDToString(id)
		return s, KindNode, err
	}
	s, err := l.valueDict.IDToString(id - l.nodeCount)
	return s, KindValue, err
}

func (l *BaseLayer) ObjectKindOf(id uint64) ObjectKind {
	if id <= l.nodeCount {
		return KindNode
	}
	return KindValue
}

// OwnAdditions reconstructs every triple this layer stores (for a base
// layer, this is its entire triple set) by walking the s_p and sp_o
// adjacency indices — this exercises the actual on-disk structures
// rather than caching a separate in-memory copy of the triple list.
func (l *BaseLayer) OwnAdditions() []Triple {
	var out []Triple
	for s := uint64(1); s <= l.nodeCount; s++ {
		start, end := l.sp.Range(s)
		for pos := start; pos < end; pos++ {
			p := l.sp.Get(pos)
			pairID := pos + 1
			ostart, oend := l.spo.Range(pairID)
			for opos := ostart; opos < oend; opos++ {
				out = append(out, Triple{Subject: s, Predicate: p, Object: l.spo.Get(opos)})
			}
		}
	}
	return out
}

func (l *BaseLayer) OwnRemovals() []Triple { return nil }

func (l *BaseLayer) ParentHandle() Layer { return nil }

// SubjectsForObject returns every subject known to reference id as an
// object, by way of the o_ps reverse index.
func (l *BaseLayer) SubjectsForObject(id uint64) []uint64 {
	return l.opsSubj.Children(id)
}

// PredicatesForObject returns, in lockstep with SubjectsForObject, the
// predicate used for each such reference.
func (l *BaseLayer) PredicatesForObject(id uint64) []uint64 {
	return l.opsPred.Children(id)
}

// PredicateWavelet exposes the predicate-stream wavelet tree for
// predicate-driven global queries (total count of a predicate, k-th
// triple position with that predicate) independent of subject order.
func (l *BaseLayer) PredicateWavelet() *succinct.WaveletTree {
	return l.predWavelet
}

func (l *BaseLayer) Rollup() (Layer, error) {
	return nil, ErrNotImplemented
}
