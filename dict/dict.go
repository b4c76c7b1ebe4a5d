// Package dict implements the sorted, prefix-compressed string
// dictionary layer files are built from: a builder that accepts strings
// in sorted order and assigns them dense, 1-based ids, and a read-only
// view supporting constant-time id→string and block-binary-search
// string→id lookup.
//
// Strings are grouped into blocks of eight. Within a block, only the
// first entry is stored whole; each following entry stores the length
// of the prefix it shares with its predecessor plus its own suffix
// bytes (front-coding). Each block's front-coded byte run is then
// zstd-compressed (mirroring the teacher's compress.go choice of
// SpeedFastest, since encode runs on the hot path during layer build;
// there is no decoded-block cache, so every lookup decompresses each
// block it reads) and stored as
// [4-byte LE decompressed length][zstd frame]; the offsets log array
// records the byte offset of each such record in the blocks store.
package dict

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/jpl-au/loom/backing"
	"github.com/jpl-au/loom/succinct"
	"github.com/klauspost/compress/zstd"
)

const blockSize = 8

// Shared encoder/decoder, safe for concurrent use; construction cost is
// paid once at package init rather than per block, same rationale as
// the teacher's package-level zstdEncoder/zstdDecoder.
var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// Builder accepts strings in strictly increasing sort order and assigns
// them dense ids starting at 1.
type Builder struct {
	pending []string // current block, not yet flushed
	offsets *succinct.LogArrayBuilder
	blocks  backing.Store
	woff    uint64 // bytes written to blocks so far
	count   uint64
	last    string
	started bool
}

// NewBuilder returns a builder that will write compressed block bytes
// to blocks. Block offsets are tracked at full 64-bit width since the
// final byte size of blocks isn't known until Finalize.
func NewBuilder(blocks backing.Store) *Builder {
	return &Builder{
		offsets: succinct.NewLogArrayBuilder(64),
		blocks:  blocks,
	}
}

// Push appends the next string in sort order. Strings must be strictly
// greater than the previous one pushed; Push panics otherwise, since a
// dictionary builder fed out-of-order input indicates a caller bug, not
// a recoverable runtime condition.
func (b *Builder) Push(s string) error {
	if b.started && s <= b.last {
		panic(fmt.Sprintf("dict: strings must be strictly increasing, got %q after %q", s, b.last))
	}
	b.started = true
	b.last = s
	b.pending = append(b.pending, s)
	b.count++
	if len(b.pending) == blockSize {
		if err := b.flushBlock(); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of strings pushed so far.
func (b *Builder) Len() uint64 { return b.count }

func (b *Builder) flushBlock() error {
	if len(b.pending) == 0 {
		return nil
	}
	payload := encodeBlock(b.pending)
	compressed := zstdEncoder.EncodeAll(payload, nil)

	w, err := b.blocks.Writer()
	if err != nil {
		return err
	}
	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return err
	}
	if _, err := w.Write(compressed); err != nil {
		return err
	}
	if err := w.Shutdown(); err != nil {
		return err
	}

	b.offsets.Push(b.woff)
	b.woff += uint64(4 + len(compressed))
	b.pending = b.pending[:0]
	return nil
}

// Finalize flushes any partial trailing block and writes the offsets
// log array to offsetsDst.
func (b *Builder) Finalize(offsetsDst backing.Store) error {
	if err := b.flushBlock(); err != nil {
		return err
	}
	return b.offsets.Finalize(offsetsDst)
}

// encodeBlock front-codes up to blockSize strings: the first entry is
// stored whole (varint length + bytes); each following entry stores the
// varint-encoded length of the prefix shared with its predecessor, then
// the varint-encoded length and bytes of its own suffix.
func encodeBlock(strs []string) []byte {
	var buf bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte

	putUvarint := func(v uint64) {
		n := binary.PutUvarint(scratch[:], v)
		buf.Write(scratch[:n])
	}

	putUvarint(uint64(len(strs[0])))
	buf.WriteString(strs[0])

	prev := strs[0]
	for _, s := range strs[1:] {
		prefix := commonPrefixLen(prev, s)
		suffix := s[prefix:]
		putUvarint(uint64(prefix))
		putUvarint(uint64(len(suffix)))
		buf.WriteString(suffix)
		prev = s
	}
	return buf.Bytes()
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// decodeBlock reverses encodeBlock, returning up to blockSize strings.
func decodeBlock(payload []byte) ([]string, error) {
	var out []string
	r := bytes.NewReader(payload)

	readUvarint := func() (uint64, error) {
		v, err := binary.ReadUvarint(r)
		if err != nil {
			return 0, fmt.Errorf("dict: truncated block: %w", err)
		}
		return v, nil
	}
	readBytes := func(n uint64) (string, error) {
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", fmt.Errorf("dict: truncated block: %w", err)
		}
		return string(buf), nil
	}

	firstLen, err := readUvarint()
	if err != nil {
		return nil, err
	}
	first, err := readBytes(firstLen)
	if err != nil {
		return nil, err
	}
	out = append(out, first)

	prev := first
	for r.Len() > 0 && len(out) < blockSize {
		prefix, err := readUvarint()
		if err != nil {
			return nil, err
		}
		suffixLen, err := readUvarint()
		if err != nil {
			return nil, err
		}
		suffix, err := readBytes(suffixLen)
		if err != nil {
			return nil, err
		}
		if int(prefix) > len(prev) {
			return nil, fmt.Errorf("dict: prefix length %d exceeds predecessor length %d", prefix, len(prev))
		}
		s := prev[:prefix] + suffix
		out = append(out, s)
		prev = s
	}
	return out, nil
}

// Dictionary is a read-only view over a finalized blocks/offsets pair.
type Dictionary struct {
	blocksRaw []byte
	offsets   *succinct.LogArray
}

// ParseDictionary wraps previously finalized blocks bytes and an
// offsets log array.
func ParseDictionary(blocksRaw []byte, offsetsRaw []byte) (*Dictionary, error) {
	offsets, err := succinct.ParseLogArray(offsetsRaw)
	if err != nil {
		return nil, fmt.Errorf("dict: offsets: %w", err)
	}
	return &Dictionary{blocksRaw: blocksRaw, offsets: offsets}, nil
}

// NumBlocks returns the number of blocks in the dictionary.
func (d *Dictionary) NumBlocks() uint64 { return d.offsets.Len() }

func (d *Dictionary) readBlock(blockIdx uint64) ([]string, error) {
	start := d.offsets.Get(blockIdx)
	if start+4 > uint64(len(d.blocksRaw)) {
		return nil, fmt.Errorf("dict: block %d offset out of range", blockIdx)
	}
	decodedLen := binary.LittleEndian.Uint32(d.blocksRaw[start : start+4])
	var end uint64
	if blockIdx+1 < d.offsets.Len() {
		end = d.offsets.Get(blockIdx + 1)
	} else {
		end = uint64(len(d.blocksRaw))
	}
	compressed := d.blocksRaw[start+4 : end]
	payload, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, decodedLen))
	if err != nil {
		return nil, fmt.Errorf("dict: zstd: %w", err)
	}
	return decodeBlock(payload)
}

// IDToString returns the string for the given 1-based id.
func (d *Dictionary) IDToString(id uint64) (string, error) {
	if id == 0 {
		return "", fmt.Errorf("dict: id 0 is reserved")
	}
	blockIdx := (id - 1) / blockSize
	within := int((id - 1) % blockSize)
	strs, err := d.readBlock(blockIdx)
	if err != nil {
		return "", err
	}
	if within >= len(strs) {
		return "", fmt.Errorf("dict: id %d out of range", id)
	}
	return strs[within], nil
}

// StringToID returns the 1-based id of s, and false if s is absent.
// Lookup is block-binary-search (comparing each block's first entry)
// followed by a linear scan within the chosen block.
func (d *Dictionary) StringToID(s string) (uint64, bool, error) {
	numBlocks := d.NumBlocks()
	if numBlocks == 0 {
		return 0, false, nil
	}

	lo, hi := uint64(0), numBlocks
	for lo < hi {
		mid := lo + (hi-lo)/2
		first, err := d.blockFirst(mid)
		if err != nil {
			return 0, false, err
		}
		if first <= s {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0, false, nil
	}
	blockIdx := lo - 1

	strs, err := d.readBlock(blockIdx)
	if err != nil {
		return 0, false, err
	}
	for i, cand := range strs {
		if cand == s {
			return blockIdx*blockSize + uint64(i) + 1, true, nil
		}
	}
	return 0, false, nil
}

func (d *Dictionary) blockFirst(blockIdx uint64) (string, error) {
	strs, err := d.readBlock(blockIdx)
	if err != nil {
		return "", err
	}
	if len(strs) == 0 {
		return "", fmt.Errorf("dict: block %d is empty", blockIdx)
	}
	return strs[0], nil
}
