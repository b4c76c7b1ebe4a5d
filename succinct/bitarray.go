package succinct

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"github.com/jpl-au/loom/backing"
)

// BitArrayBuilder appends bits and finalizes them into a backing.Writer
// using the body-then-trailing-length-word format: a run of 64-bit
// big-endian words followed by an 8-byte little-endian bit length.
type BitArrayBuilder struct {
	w bitWriter
}

// NewBitArrayBuilder returns an empty builder.
func NewBitArrayBuilder() *BitArrayBuilder {
	return &BitArrayBuilder{}
}

// Push appends a single bit.
func (b *BitArrayBuilder) Push(bit bool) {
	b.w.pushBit(bit)
}

// Len returns the number of bits pushed so far.
func (b *BitArrayBuilder) Len() uint64 {
	return b.w.len()
}

// Finalize writes the padded word body and the trailing length word to
// dst, via dst.Writer(), and shuts the writer down.
func (b *BitArrayBuilder) Finalize(dst backing.Store) error {
	w, err := dst.Writer()
	if err != nil {
		return err
	}
	if _, err := w.Write(b.w.words); err != nil {
		return err
	}
	var trailer [8]byte
	binary.LittleEndian.PutUint64(trailer[:], b.w.count)
	if _, err := w.Write(trailer[:]); err != nil {
		return err
	}
	return w.Shutdown()
}

// BitArray is a read-only view over finalized bit array bytes.
type BitArray struct {
	data   []byte // word body only, trailer stripped
	length uint64 // bits
}

// ParseBitArray validates and wraps the raw finalized bytes of a bit
// array (as returned by backing.Store.Map or a full read).
func ParseBitArray(raw []byte) (*BitArray, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("succinct: bit array trailer truncated")
	}
	length := binary.LittleEndian.Uint64(raw[len(raw)-8:])
	body := raw[:len(raw)-8]
	wantWords := int((length + 63) / 64)
	if len(body) != wantWords*8 {
		return nil, fmt.Errorf("succinct: bit array body size %d inconsistent with length %d bits", len(body), length)
	}
	return &BitArray{data: body, length: length}, nil
}

// Len returns the number of bits in the array.
func (b *BitArray) Len() uint64 {
	return b.length
}

// Get returns the bit at position i.
func (b *BitArray) Get(i uint64) bool {
	if i >= b.length {
		panic("succinct: bit array index out of range")
	}
	wordIdx := i / 64
	bitPos := i % 64
	word := binary.BigEndian.Uint64(b.data[wordIdx*8 : wordIdx*8+8])
	return (word>>(63-bitPos))&1 == 1
}

// word returns the raw 64-bit word at index idx (zero-padded beyond the
// body, used by rank scanning of the tail word).
func (b *BitArray) word(idx uint64) uint64 {
	off := idx * 8
	if off+8 > uint64(len(b.data)) {
		return 0
	}
	return binary.BigEndian.Uint64(b.data[off : off+8])
}

func (b *BitArray) numWords() uint64 {
	return uint64(len(b.data)) / 8
}

// popcountWord is a thin wrapper kept for naming symmetry with the rank
// index's block/superblock scan helpers.
func popcountWord(w uint64) int {
	return bits.OnesCount64(w)
}
