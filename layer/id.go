// Package layer implements the on-disk layer file set: base layers
// (own dictionaries, triples, and indices) and child layers (a
// dictionary extension plus additions/removals deltas against a
// parent), built on top of the succinct and dict packages.
package layer

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/blake2b"
)

// ID is a 160-bit layer identifier, stored as five big-endian uint32
// words. It doubles as the on-disk directory name (40 hex characters)
// and the value stored in label files.
type ID [5]uint32

// ZeroID is the absence of a layer (a label that has never been
// written).
var ZeroID ID

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == ZeroID
}

// String renders id as 40 lowercase hex characters.
func (id ID) String() string {
	var b [20]byte
	for i, w := range id {
		binary.BigEndian.PutUint32(b[i*4:i*4+4], w)
	}
	return hex.EncodeToString(b[:])
}

// ParseID parses a 40-hex-character layer id, as found in a label file
// or a layer directory name.
func ParseID(s string) (ID, error) {
	if len(s) != 40 {
		return ZeroID, fmt.Errorf("layer: id %q is not 40 hex characters", s)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return ZeroID, fmt.Errorf("layer: invalid hex id %q: %w", s, err)
	}
	var id ID
	for i := range id {
		id[i] = binary.BigEndian.Uint32(raw[i*4 : i*4+4])
	}
	return id, nil
}

// nonce is a process-wide monotonic counter mixed into every generated
// id alongside a fresh crypto/rand seed, so two generations in the same
// process hash different inputs even if the rand source were ever to
// repeat a seed.
var nonce uint64

// NewID generates a fresh, globally unique layer id by hashing
// parent ∥ monotonic-nonce ∥ random-seed with BLAKE2b-160 and splitting
// the digest into five big-endian uint32 words. parent is ZeroID for a
// base layer's id (there is no parent to mix in, the nonce and random
// seed alone provide uniqueness).
func NewID(parent ID) (ID, error) {
	seed := make([]byte, 16)
	if _, err := rand.Read(seed); err != nil {
		return ZeroID, fmt.Errorf("layer: generating id: %w", err)
	}
	n := atomic.AddUint64(&nonce, 1)

	h, err := blake2b.New(20, nil)
	if err != nil {
		return ZeroID, fmt.Errorf("layer: blake2b: %w", err)
	}
	var pbuf [20]byte
	for i, w := range parent {
		binary.BigEndian.PutUint32(pbuf[i*4:i*4+4], w)
	}
	h.Write(pbuf[:])
	var nbuf [8]byte
	binary.BigEndian.PutUint64(nbuf[:], n)
	h.Write(nbuf[:])
	h.Write(seed)

	digest := h.Sum(nil)
	var id ID
	for i := range id {
		id[i] = binary.BigEndian.Uint32(digest[i*4 : i*4+4])
	}
	return id, nil
}
