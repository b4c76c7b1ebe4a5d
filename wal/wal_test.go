package wal

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/jpl-au/loom/label"
	"github.com/jpl-au/loom/layer"
)

func newTestLabelStore(t *testing.T) (*label.Store, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := label.Open(dir, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	if err != nil {
		t.Fatalf("label.Open: %v", err)
	}
	return s, dir
}

func mustID(t *testing.T) layer.ID {
	t.Helper()
	id, err := layer.NewID(layer.ZeroID)
	if err != nil {
		t.Fatalf("layer.NewID: %v", err)
	}
	return id
}

func quietLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestWALRecoveryAfterCrash is spec.md §8 S5: a LabelSet is appended and
// fsynced but the label files are never rewritten (a simulated crash
// before checkpoint). Reopening the WAL must replay both moves and
// leave a checkpoint behind; a second reopen must change nothing.
func TestWALRecoveryAfterCrash(t *testing.T) {
	store, dir := newTestLabelStore(t)
	if _, err := store.Create("a"); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := store.Create("b"); err != nil {
		t.Fatalf("create b: %v", err)
	}

	l1 := mustID(t)
	l2 := mustID(t)

	w, err := Open(dir, store, quietLog())
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	if _, err := w.AppendLabelSet([]Entry{
		{Label: "a", Layer: l1},
		{Label: "b", Layer: l2},
	}); err != nil {
		t.Fatalf("append label set: %v", err)
	}
	// Crash here: no checkpoint, no label file rewrite.
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Restart: recovery should apply both moves and checkpoint.
	w2, err := Open(dir, store, quietLog())
	if err != nil {
		t.Fatalf("reopen wal: %v", err)
	}

	got, err := store.Get("a")
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	if got.Layer == nil || *got.Layer != l1 {
		t.Fatalf("a = %v, want %v", got.Layer, l1)
	}
	got, err = store.Get("b")
	if err != nil {
		t.Fatalf("get b: %v", err)
	}
	if got.Layer == nil || *got.Layer != l2 {
		t.Fatalf("b = %v, want %v", got.Layer, l2)
	}
	bVersion := got.Version
	if err := w2.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Second restart: idempotent, no further changes.
	w3, err := Open(dir, store, quietLog())
	if err != nil {
		t.Fatalf("second reopen wal: %v", err)
	}
	defer w3.Close()

	again, err := store.Get("b")
	if err != nil {
		t.Fatalf("get b again: %v", err)
	}
	if again.Version != bVersion {
		t.Fatalf("second restart changed b's version: %d -> %d", bVersion, again.Version)
	}
}

// TestWALTornTrailingRecordTruncated is spec.md §8 S6: flipping a byte
// in the last record's payload must be detected as a CRC failure on
// reopen, that record truncated away, and the prior checkpointed state
// left intact.
func TestWALTornTrailingRecordTruncated(t *testing.T) {
	store, dir := newTestLabelStore(t)
	if _, err := store.Create("a"); err != nil {
		t.Fatalf("create a: %v", err)
	}

	l1 := mustID(t)
	l2 := mustID(t)

	w, err := Open(dir, store, quietLog())
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	idx, err := w.AppendLabelSet([]Entry{{Label: "a", Layer: l1}})
	if err != nil {
		t.Fatalf("append label set 1: %v", err)
	}
	if err := replayEntry(store, Entry{Label: "a", Layer: l1}); err != nil {
		t.Fatalf("apply label set 1: %v", err)
	}
	if err := w.Checkpoint(idx); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	offsetBeforeSecond, err := w.f.Seek(0, 1)
	if err != nil {
		t.Fatalf("seek: %v", err)
	}
	if _, err := w.AppendLabelSet([]Entry{{Label: "a", Layer: l2}}); err != nil {
		t.Fatalf("append label set 2: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Flip a byte inside the second record's payload: offset 5 is in the
	// entry's layer id (after type, count, label length and the one-byte
	// label "a"), safely before the final 8-byte length/crc trailer, so
	// the record still parses in full and fails its CRC check.
	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		t.Fatalf("open wal file: %v", err)
	}
	corruptOffset := offsetBeforeSecond + 5
	var b [1]byte
	if _, err := f.ReadAt(b[:], corruptOffset); err != nil {
		t.Fatalf("read byte: %v", err)
	}
	b[0] ^= 0xFF
	if _, err := f.WriteAt(b[:], corruptOffset); err != nil {
		t.Fatalf("corrupt byte: %v", err)
	}
	f.Close()

	w2, err := Open(dir, store, quietLog())
	if err != nil {
		t.Fatalf("reopen corrupted wal: %v", err)
	}
	defer w2.Close()

	got, err := store.Get("a")
	if err != nil {
		t.Fatalf("get a: %v", err)
	}
	if got.Layer == nil || *got.Layer != l1 {
		t.Fatalf("a = %v, want %v (corrupted record must not apply)", got.Layer, l1)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() != offsetBeforeSecond {
		t.Fatalf("wal size = %d, want truncated to %d", info.Size(), offsetBeforeSecond)
	}
}

// TestEncodeDecodeRoundTrip exercises the framing directly: a record
// built by encodeRecord must scan back out to the same payload.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	ls := LabelSet{Index: 7, Entries: []Entry{
		{Label: "alpha", Layer: mustID(t)},
		{Label: "beta", Layer: mustID(t)},
	}}
	payload, err := ls.payload()
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	raw := encodeRecord(typeLabelSet, payload)

	records, consumed := scan(raw)
	if consumed != len(raw) {
		t.Fatalf("consumed %d of %d bytes", consumed, len(raw))
	}
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	got := records[0].labelSet
	if got.Index != ls.Index || len(got.Entries) != len(ls.Entries) {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	for i, e := range got.Entries {
		if e.Label != ls.Entries[i].Label || e.Layer != ls.Entries[i].Layer {
			t.Fatalf("entry %d mismatch: %+v != %+v", i, e, ls.Entries[i])
		}
	}
}

// TestDecodePartialRecordYieldsNoRecord confirms the decoder reports no
// completed record (rather than an error) when fed a prefix of a valid
// one, as required for torn-tail detection to distinguish "truncated"
// from "corrupt".
func TestDecodePartialRecordYieldsNoRecord(t *testing.T) {
	cp := Checkpoint{Index: 3}
	raw := encodeRecord(typeCheckpoint, cp.payload())

	var dec decoder
	partial := append([]byte(nil), raw[:len(raw)-3]...)
	_, ok, err := dec.decode(&partial)
	if err != nil {
		t.Fatalf("decode partial: %v", err)
	}
	if ok {
		t.Fatalf("decode partial: got a complete record from a truncated buffer")
	}
	if !dec.pending() {
		t.Fatalf("decoder should report a pending record after a partial feed")
	}
}

// TestLabelSetEntryBounds checks the [1, 100] entry-count invariant
// from spec.md §4.8 is enforced on encode.
func TestLabelSetEntryBounds(t *testing.T) {
	if _, err := (LabelSet{Index: 0, Entries: nil}).payload(); err != ErrZeroEntries {
		t.Fatalf("empty label set = %v, want ErrZeroEntries", err)
	}

	entries := make([]Entry, 101)
	for i := range entries {
		entries[i] = Entry{Label: "x", Layer: mustID(t)}
	}
	if _, err := (LabelSet{Index: 0, Entries: entries}).payload(); err != ErrTooManyEntries {
		t.Fatalf("101-entry label set = %v, want ErrTooManyEntries", err)
	}
}
