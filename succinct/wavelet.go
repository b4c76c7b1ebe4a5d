package succinct

import (
	"fmt"

	"github.com/jpl-au/loom/backing"
)

// WaveletTree is built from a log array of N symbols over an alphabet
// rounded up to a power of two, A = 2^L. It is encoded as a single bit
// array of L*N bits: layer l occupies bit range [l*N, (l+1)*N) and is
// built by replaying the source stream once per layer, writing one bit
// per symbol that falls into the layer's current alphabet sub-range.
// Within a layer, fragments tile the alphabet (2^l fragments, each
// covering A/2^l symbols) and are written in fragment order; within a
// fragment, symbols stream in source order. This mirrors
// build_wavelet_tree in terminusdb-store's structure/wavelettree.rs.
type WaveletTree struct {
	bits      *BitIndex
	numLayers int
}

// BuildWaveletTree builds a wavelet tree over the symbols in source
// (values in [0, 2^numLayers)) and writes its bit array + rank index
// through bitsDst/blocksDst/superDst.
func BuildWaveletTree(source []uint64, numLayers int, bitsDst, blocksDst, superDst backing.Store) error {
	if numLayers <= 0 {
		return fmt.Errorf("succinct: wavelet tree needs at least one layer")
	}
	n := uint64(len(source))
	alphabet := uint64(1) << uint(numLayers)

	builder := NewBitArrayBuilder()
	for layer := 0; layer < numLayers; layer++ {
		fragments := 1 << uint(layer)
		step := alphabet / uint64(fragments)
		for frag := 0; frag < fragments; frag++ {
			alphaStart := step * uint64(frag)
			alphaEnd := step * uint64(frag+1)
			alphaMid := (alphaStart + alphaEnd) / 2
			for _, sym := range source {
				if sym >= alphaStart && sym < alphaEnd {
					builder.Push(sym >= alphaMid)
				}
			}
		}
	}
	_ = n

	if err := builder.Finalize(bitsDst); err != nil {
		return err
	}
	bitsRaw, err := bitsDst.Map()
	if err != nil {
		return err
	}
	ba, err := ParseBitArray(bitsRaw)
	if err != nil {
		return err
	}
	return BuildBitIndex(ba, blocksDst, superDst)
}

// ParseWaveletTree wraps a previously built wavelet tree's bit index.
func ParseWaveletTree(ba *BitArray, blocksRaw, superRaw []byte, numLayers int) (*WaveletTree, error) {
	idx, err := ParseBitIndex(ba, blocksRaw, superRaw)
	if err != nil {
		return nil, err
	}
	if idx.Len()%uint64(numLayers) != 0 {
		return nil, fmt.Errorf("succinct: wavelet bit length %d not a multiple of %d layers", idx.Len(), numLayers)
	}
	return &WaveletTree{bits: idx, numLayers: numLayers}, nil
}

// Len returns the number of symbols encoded.
func (t *WaveletTree) Len() uint64 {
	return t.bits.Len() / uint64(t.numLayers)
}

// NumLayers returns ceil(log2(alphabet size)).
func (t *WaveletTree) NumLayers() int {
	return t.numLayers
}

// Access decodes the symbol at position i by walking the layers
// top-down. rangeStart/rangeEnd track the current fragment's position
// span within the layer's N-bit window (zeros-then-ones within a
// fragment become the left and right child fragments at the next
// layer, occupying that same span), and offset tracks i's position
// within that span. This mirrors decode_one in terminusdb-store's
// structure/wavelettree.rs, rephrased against exclusive rank (Rank1(i)
// counts set bits in [0, i)) instead of the original's inclusive one.
func (t *WaveletTree) Access(i uint64) uint64 {
	n := t.Len()
	offset := i
	var alphaStart, alphaEnd uint64 = 0, uint64(1) << uint(t.numLayers)
	var rangeStart, rangeEnd uint64 = 0, n

	for layer := uint64(0); layer < uint64(t.numLayers); layer++ {
		base := layer * n
		idx := base + rangeStart + offset
		bit := t.bits.Get(idx)

		zerosInRange := t.bits.Rank0Range(base+rangeStart, base+rangeEnd)

		if bit {
			alphaStart = (alphaStart + alphaEnd) / 2
			offset = t.bits.Rank1Range(base+rangeStart, idx)
			rangeStart += zerosInRange
		} else {
			alphaEnd = (alphaStart + alphaEnd) / 2
			offset = t.bits.Rank0Range(base+rangeStart, idx)
			rangeEnd = rangeStart + zerosInRange
		}
	}

	return alphaStart
}

// Rank returns the number of occurrences of symbol s within the first i
// positions (prefix [0, i)). It walks the same top-down fragment span
// Access would, using the bits of s to choose children instead of
// reading bits off the tree, and narrows a running position count
// (pos) instead of a single tracked offset.
func (t *WaveletTree) Rank(s uint64, i uint64) uint64 {
	n := t.Len()
	var rangeStart, rangeEnd uint64 = 0, n
	pos := i

	for layer := uint64(0); layer < uint64(t.numLayers); layer++ {
		base := layer * n
		bit := symbolBit(s, t.numLayers, int(layer))
		boundary := base + rangeStart + pos

		zerosInRange := t.bits.Rank0Range(base+rangeStart, base+rangeEnd)

		if bit {
			pos = t.bits.Rank1Range(base+rangeStart, boundary)
			rangeStart += zerosInRange
		} else {
			pos = t.bits.Rank0Range(base+rangeStart, boundary)
			rangeEnd = rangeStart + zerosInRange
		}
	}

	return pos
}

// Select returns the 0-based position of the k-th (1-based) occurrence
// of symbol s in the decoded sequence, found by binary-searching Rank
// over [0, N] since the corpus's own wavelet `lookup` is an unfinished
// stub (original_source structure/wavelettree.rs leaves it as dead code
// returning a placeholder).
func (t *WaveletTree) Select(s uint64, k uint64) (uint64, bool) {
	n := t.Len()
	lo, hi := uint64(0), n
	for lo < hi {
		mid := lo + (hi-lo)/2
		if t.Rank(s, mid+1) >= k {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	if lo >= n || t.Access(lo) != s {
		return 0, false
	}
	if t.Rank(s, lo+1) != k {
		return 0, false
	}
	return lo, true
}

// Decode returns every symbol in the sequence, in order.
func (t *WaveletTree) Decode() []uint64 {
	n := t.Len()
	out := make([]uint64, n)
	for i := range out {
		out[i] = t.Access(uint64(i))
	}
	return out
}

func symbolBit(s uint64, numLayers, layer int) bool {
	shift := numLayers - 1 - layer
	return (s>>uint(shift))&1 == 1
}
