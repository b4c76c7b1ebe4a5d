package succinct

import (
	"fmt"
	"sort"

	"github.com/jpl-au/loom/backing"
)

// Block and superblock sizes, in 64-bit words and blocks respectively.
// A block therefore spans 64*64 = 4096 bits and a superblock spans
// 64 blocks = 262144 bits.
const (
	blockWords       = 64
	blocksPerSuper   = 64
	bitsPerBlock     = blockWords * 64
	bitsPerSuperBlk  = blocksPerSuper * bitsPerBlock
)

// BitIndex augments a BitArray with two-level rank summaries: blocks[]
// holds, for each block, the popcount accumulated since the start of its
// enclosing superblock; superblocks[] holds the absolute popcount
// accumulated before each superblock. rank1 therefore costs two array
// lookups plus a bounded scan of at most blockWords words.
type BitIndex struct {
	bits        *BitArray
	blocks      *LogArray
	superblocks *LogArray
}

// BuildBitIndex computes the rank summaries for a finalized bit array
// and writes them as two log arrays through blocksDst/superDst.
func BuildBitIndex(ba *BitArray, blocksDst, superDst backing.Store) error {
	numWords := ba.numWords()
	numBlocks := int((numWords + blockWords - 1) / blockWords)
	if numBlocks == 0 {
		numBlocks = 0
	}
	numSupers := (numBlocks + blocksPerSuper - 1) / blocksPerSuper

	blockCounts := make([]uint64, numBlocks)
	superCounts := make([]uint64, numSupers)

	var total uint64
	var superBase uint64
	for blk := 0; blk < numBlocks; blk++ {
		if blk%blocksPerSuper == 0 {
			superBase = total
			superCounts[blk/blocksPerSuper] = superBase
		}
		blockCounts[blk] = total - superBase

		start := uint64(blk) * blockWords
		end := start + blockWords
		if end > numWords {
			end = numWords
		}
		for w := start; w < end; w++ {
			total += uint64(popcountWord(ba.word(w)))
		}
	}

	blockWidth := bitsFor(uint64(bitsPerSuperBlk))
	if blockWidth == 0 {
		blockWidth = 1
	}
	superWidth := bitsFor(total)
	if superWidth == 0 {
		superWidth = 1
	}

	blkBuilder := NewLogArrayBuilder(blockWidth)
	for _, c := range blockCounts {
		blkBuilder.Push(c)
	}
	if err := blkBuilder.Finalize(blocksDst); err != nil {
		return err
	}

	supBuilder := NewLogArrayBuilder(superWidth)
	for _, c := range superCounts {
		supBuilder.Push(c)
	}
	return supBuilder.Finalize(superDst)
}

// ParseBitIndex wraps a bit array with previously built rank summaries.
func ParseBitIndex(ba *BitArray, blocksRaw, superRaw []byte) (*BitIndex, error) {
	blocks, err := ParseLogArray(blocksRaw)
	if err != nil {
		return nil, fmt.Errorf("succinct: rank blocks: %w", err)
	}
	supers, err := ParseLogArray(superRaw)
	if err != nil {
		return nil, fmt.Errorf("succinct: rank superblocks: %w", err)
	}
	return &BitIndex{bits: ba, blocks: blocks, superblocks: supers}, nil
}

// Len returns the number of bits in the underlying array.
func (idx *BitIndex) Len() uint64 { return idx.bits.Len() }

// Get returns the bit at position i.
func (idx *BitIndex) Get(i uint64) bool { return idx.bits.Get(i) }

// Rank1 returns the number of set bits in [0, i).
func (idx *BitIndex) Rank1(i uint64) uint64 {
	if i == 0 {
		return 0
	}
	if i > idx.bits.Len() {
		panic("succinct: rank1 index out of range")
	}
	fullWords := i / 64
	remBits := i % 64

	blk := fullWords / blockWords
	if blk == idx.blocks.Len() {
		// i == Len() on a block boundary: there is no block entry at blk,
		// so count the last block's words in full instead.
		blk--
	}
	sup := blk / blocksPerSuper

	base := idx.superblocks.Get(sup) + idx.blocks.Get(blk)

	start := blk * blockWords
	for w := start; w < fullWords; w++ {
		base += uint64(popcountWord(idx.bits.word(w)))
	}
	if remBits > 0 {
		word := idx.bits.word(fullWords)
		base += uint64(popcountWord(word >> (64 - remBits)))
	}
	return base
}

// Rank0 returns the number of unset bits in [0, i).
func (idx *BitIndex) Rank0(i uint64) uint64 {
	return i - idx.Rank1(i)
}

// Rank1Range returns the number of set bits in [lo, hi).
func (idx *BitIndex) Rank1Range(lo, hi uint64) uint64 {
	return idx.Rank1(hi) - idx.Rank1(lo)
}

// Rank0Range returns the number of unset bits in [lo, hi).
func (idx *BitIndex) Rank0Range(lo, hi uint64) uint64 {
	return idx.Rank0(hi) - idx.Rank0(lo)
}

// Select1 returns the 0-based position p such that Rank1(p+1) == k and
// bit p is set, for 1-based k. Behavior is undefined when k exceeds the
// array's total popcount.
func (idx *BitIndex) Select1(k uint64) uint64 {
	numSupers := idx.superblocks.Len()
	// Largest sup such that superblocks[sup] < k.
	sup := sort.Search(int(numSupers), func(i int) bool {
		return idx.superblocks.Get(uint64(i)) >= k
	}) - 1
	if sup < 0 {
		sup = 0
	}
	supBase := idx.superblocks.Get(uint64(sup))

	blockLo := sup * blocksPerSuper
	numBlocks := idx.blocks.Len()
	blockHi := blockLo + blocksPerSuper
	if uint64(blockHi) > numBlocks {
		blockHi = int(numBlocks)
	}

	blk := sort.Search(blockHi-blockLo, func(i int) bool {
		return supBase+idx.blocks.Get(uint64(blockLo+i)) >= k
	}) - 1
	if blk < 0 {
		blk = 0
	}
	blk += blockLo
	base := supBase + idx.blocks.Get(uint64(blk))

	remaining := k - base
	start := uint64(blk) * blockWords
	end := start + blockWords
	numWords := idx.bits.numWords()
	if end > numWords {
		end = numWords
	}
	for w := start; w < end; w++ {
		word := idx.bits.word(w)
		pc := uint64(popcountWord(word))
		if remaining <= pc {
			return w*64 + selectInWord(word, remaining)
		}
		remaining -= pc
	}
	panic("succinct: select1 k exceeds total popcount")
}

// selectInWord returns the 0-based bit position (MSB-first) of the
// n-th (1-based) set bit within word.
func selectInWord(word uint64, n uint64) uint64 {
	var seen uint64
	for pos := uint64(0); pos < 64; pos++ {
		if (word>>(63-pos))&1 == 1 {
			seen++
			if seen == n {
				return pos
			}
		}
	}
	panic("succinct: selectInWord: n exceeds word popcount")
}

// bitsFor returns the number of bits needed to represent values in
// [0, max] inclusive, with a minimum of 1.
func bitsFor(max uint64) int {
	n := 1
	for (uint64(1) << uint(n)) <= max {
		n++
	}
	return n
}
