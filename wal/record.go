package wal

import (
	"encoding/binary"
	"fmt"

	"github.com/jpl-au/loom/layer"
)

// Record type markers, the first byte of every on-disk record.
const (
	typeLabelSet   = 0
	typeCheckpoint = 1
)

// MaxEntries is the largest number of label moves a single LabelSet
// record may batch, per spec.md §4.8.
const MaxEntries = 100

// maxLabelLen is the largest label name an entry can carry: label_len is
// a single byte, so names of 256 bytes or more cannot be represented.
const maxLabelLen = 255

// Entry is one label's move within a LabelSet record: the label's name
// and the layer it now points at.
type Entry struct {
	Label string
	Layer layer.ID
}

// encodedLen is this entry's on-disk size: 1 length byte + the label
// bytes + a 20-byte layer id.
func (e Entry) encodedLen() int {
	return 1 + len(e.Label) + 20
}

func (e Entry) appendTo(buf []byte) ([]byte, error) {
	if len(e.Label) > maxLabelLen {
		return nil, fmt.Errorf("%w: %q", ErrLabelTooLong, e.Label)
	}
	buf = append(buf, byte(len(e.Label)))
	buf = append(buf, e.Label...)
	var idBuf [20]byte
	for i, w := range e.Layer {
		binary.BigEndian.PutUint32(idBuf[i*4:i*4+4], w)
	}
	buf = append(buf, idBuf[:]...)
	return buf, nil
}

// parseEntry reads one Entry from the front of buf, returning the
// remaining, unconsumed bytes. It reports ErrTornRecord if buf is
// shorter than the entry it describes.
func parseEntry(buf []byte) (Entry, []byte, error) {
	if len(buf) < 1 {
		return Entry{}, nil, ErrTornRecord
	}
	labelLen := int(buf[0])
	total := 1 + labelLen + 20
	if len(buf) < total {
		return Entry{}, nil, ErrTornRecord
	}
	label := string(buf[1 : 1+labelLen])
	var id layer.ID
	idOff := 1 + labelLen
	for i := range id {
		id[i] = binary.BigEndian.Uint32(buf[idOff+i*4 : idOff+i*4+4])
	}
	return Entry{Label: label, Layer: id}, buf[total:], nil
}

// LabelSet is the type-0 record: a batch of [1, 100] label moves tagged
// with the WAL sequence number they belong to.
type LabelSet struct {
	Index   uint32
	Entries []Entry
}

// Checkpoint is the type-1 record: every record with a sequence number
// at or below Index has been durably applied to the label store.
type Checkpoint struct {
	Index uint32
}

// payload renders the type-specific body of a LabelSet record: entries
// first, the sequence number last, per spec.md §4.8.
func (ls LabelSet) payload() ([]byte, error) {
	if len(ls.Entries) == 0 {
		return nil, ErrZeroEntries
	}
	if len(ls.Entries) > MaxEntries {
		return nil, ErrTooManyEntries
	}
	n := 1
	for _, e := range ls.Entries {
		n += e.encodedLen()
	}
	n += 4
	buf := make([]byte, 0, n)
	buf = append(buf, byte(len(ls.Entries)))
	var err error
	for _, e := range ls.Entries {
		buf, err = e.appendTo(buf)
		if err != nil {
			return nil, err
		}
	}
	buf = binary.BigEndian.AppendUint32(buf, ls.Index)
	return buf, nil
}

func (c Checkpoint) payload() []byte {
	return binary.BigEndian.AppendUint32(nil, c.Index)
}

// parseLabelSetPayload parses a LabelSet's payload (the bytes after the
// type byte and before the length/checksum trailer).
func parseLabelSetPayload(buf []byte) (LabelSet, error) {
	if len(buf) < 1 {
		return LabelSet{}, ErrTornRecord
	}
	count := int(buf[0])
	if count == 0 {
		return LabelSet{}, ErrZeroEntries
	}
	if count > MaxEntries {
		return LabelSet{}, ErrTooManyEntries
	}
	rest := buf[1:]
	entries := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		var e Entry
		var err error
		e, rest, err = parseEntry(rest)
		if err != nil {
			return LabelSet{}, err
		}
		entries = append(entries, e)
	}
	if len(rest) != 4 {
		return LabelSet{}, ErrTornRecord
	}
	index := binary.BigEndian.Uint32(rest)
	return LabelSet{Index: index, Entries: entries}, nil
}

func parseCheckpointPayload(buf []byte) (Checkpoint, error) {
	if len(buf) != 4 {
		return Checkpoint{}, ErrTornRecord
	}
	return Checkpoint{Index: binary.BigEndian.Uint32(buf)}, nil
}
