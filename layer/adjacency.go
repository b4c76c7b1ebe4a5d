package layer

import (
	"fmt"

	"github.com/jpl-au/loom/backing"
	"github.com/jpl-au/loom/succinct"
)

// Adjacency is a two-level list: for each of domain dense, 1-based
// parent ids, a (possibly empty) list of uint64 child values. It is
// built from groups[i] = the children of parent id i+1, so groups must
// have exactly domain entries (empty slices for childless parents).
//
// Parent counts are encoded as a unary run in a bit array: parent i's
// entry is len(groups[i]) zero bits followed by one 1-bit. The k-th
// (1-based) 1-bit then marks the end of the cumulative-count prefix
// through parent k, so Select1 over this bit array turns a parent id
// into its children's start/end offsets in the flat values log array
// without ever materializing per-parent counts on disk. This mirrors
// terminubdb-store's AdjacencyList, which drives the same subject→
// predicate and (subject,predicate)→object indirections spec.md §4.6
// calls for.
type Adjacency struct {
	bits   *succinct.BitIndex
	values *succinct.LogArray
	domain uint64
}

// BuildAdjacency writes the unary bit encoding of groups' lengths and
// the flattened values through the given stores.
func BuildAdjacency(groups [][]uint64, bitsDst, blocksDst, superDst, valuesDst backing.Store) error {
	bb := succinct.NewBitArrayBuilder()
	var maxVal uint64
	var flat []uint64
	for _, g := range groups {
		for _, v := range g {
			bb.Push(false)
			if v > maxVal {
				maxVal = v
			}
			flat = append(flat, v)
		}
		bb.Push(true)
	}
	if err := bb.Finalize(bitsDst); err != nil {
		return err
	}
	bitsRaw, err := bitsDst.Map()
	if err != nil {
		return err
	}
	ba, err := succinct.ParseBitArray(bitsRaw)
	if err != nil {
		return err
	}
	if err := succinct.BuildBitIndex(ba, blocksDst, superDst); err != nil {
		return err
	}

	width := 1
	for (uint64(1) << uint(width)) <= maxVal {
		width++
	}
	vb := succinct.NewLogArrayBuilder(width)
	for _, v := range flat {
		vb.Push(v)
	}
	return vb.Finalize(valuesDst)
}

// ParseAdjacency wraps previously built adjacency files. domain is the
// number of parent ids (must match what BuildAdjacency was called
// with).
func ParseAdjacency(bitsRaw, blocksRaw, superRaw, valuesRaw []byte, domain uint64) (*Adjacency, error) {
	ba, err := succinct.ParseBitArray(bitsRaw)
	if err != nil {
		return nil, fmt.Errorf("layer: adjacency bits: %w", err)
	}
	idx, err := succinct.ParseBitIndex(ba, blocksRaw, superRaw)
	if err != nil {
		return nil, fmt.Errorf("layer: adjacency rank index: %w", err)
	}
	values, err := succinct.ParseLogArray(valuesRaw)
	if err != nil {
		return nil, fmt.Errorf("layer: adjacency values: %w", err)
	}
	return &Adjacency{bits: idx, values: values, domain: domain}, nil
}

// Range returns the [start, end) slice of Values() belonging to parent
// id p (1-based, 1 <= p <= domain).
func (a *Adjacency) Range(p uint64) (start, end uint64) {
	if p < 1 || p > a.domain {
		panic(fmt.Sprintf("layer: adjacency parent id %d out of range [1,%d]", p, a.domain))
	}
	end = a.bits.Select1(p) - p + 1
	if p == 1 {
		return 0, end
	}
	start = a.bits.Select1(p-1) - (p - 1) + 1
	return start, end
}

// Children returns the child values belonging to parent id p.
func (a *Adjacency) Children(p uint64) []uint64 {
	start, end := a.Range(p)
	out := make([]uint64, 0, end-start)
	for i := start; i < end; i++ {
		out = append(out, a.values.Get(i))
	}
	return out
}

// Get returns the i-th value in the flat values array (0-based,
// across all parents), for callers that already know a flat offset
// (e.g. from a sibling adjacency built over the same grouping).
func (a *Adjacency) Get(i uint64) uint64 {
	return a.values.Get(i)
}

// Len returns the number of flattened child values.
func (a *Adjacency) Len() uint64 {
	return a.values.Len()
}
