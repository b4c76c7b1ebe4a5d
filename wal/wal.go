package wal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/jpl-au/loom/label"
)

// fileName is the WAL's fixed name within the store's root directory,
// named after original_source's own wa.log.
const fileName = "wa.log"

// encodeRecord renders one on-disk record: the type byte and payload,
// followed by a big-endian length and a CRC-32 IEEE checksum, both
// computed over type∥payload, per spec.md §4.8/§6.
func encodeRecord(typ byte, payload []byte) []byte {
	body := make([]byte, 0, 1+len(payload)+8)
	body = append(body, typ)
	body = append(body, payload...)

	out := make([]byte, len(body)+8)
	copy(out, body)
	binary.BigEndian.PutUint32(out[len(body):], uint32(len(body)))
	binary.BigEndian.PutUint32(out[len(body)+4:], crc32.ChecksumIEEE(body))
	return out
}

// WAL is the append-only log backing the label moves of every graph in
// one store. Appends
// serialize through mu; every batched LabelSet is flushed and fsynced
// before any label file is rewritten, and the corresponding Checkpoint
// is written only after those rewrites succeed.
type WAL struct {
	mu        sync.Mutex
	f         *os.File
	path      string
	log       *slog.Logger
	nextIndex uint32
}

// Open opens (creating if absent) the WAL file at dir/wa.log, truncates
// away any torn trailing record left by a prior crash, replays every
// record after the last checkpoint against store, and, if anything was
// replayed, writes a fresh checkpoint. The returned WAL is ready to
// accept new appends.
func Open(dir string, store *label.Store, log *slog.Logger) (*WAL, error) {
	if log == nil {
		log = slog.Default()
	}
	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	data, err := readAll(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("wal: read %s: %w", path, err)
	}

	records, goodLen := scan(data)
	if goodLen < len(data) {
		log.Warn("wal: truncating torn trailing record", "path", path, "at", goodLen, "total", len(data))
		if err := f.Truncate(int64(goodLen)); err != nil {
			f.Close()
			return nil, fmt.Errorf("wal: truncate %s: %w", path, err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, fmt.Errorf("wal: sync truncate %s: %w", path, err)
		}
	}

	w := &WAL{f: f, path: path, log: log}

	var lastCheckpoint uint32
	var haveCheckpoint bool
	var maxIndex uint32
	for _, r := range records {
		if r.isCheckpoint {
			lastCheckpoint = r.checkpoint.Index
			haveCheckpoint = true
			if r.checkpoint.Index > maxIndex {
				maxIndex = r.checkpoint.Index
			}
			continue
		}
		if r.labelSet.Index > maxIndex {
			maxIndex = r.labelSet.Index
		}
	}
	w.nextIndex = maxIndex + 1

	if err := w.recover(records, lastCheckpoint, haveCheckpoint, store); err != nil {
		f.Close()
		return nil, err
	}

	return w, nil
}

// recover replays every LabelSet whose index is past the last
// checkpoint (or every LabelSet, if none was ever written) against
// store, then, if any LabelSet was replayed, writes a fresh checkpoint
// covering everything just seen.
// Replay is idempotent: a label already pointing at a record's target
// is left untouched by Store.Set's short-circuit.
func (w *WAL) recover(records []decodedRecord, lastCheckpoint uint32, haveCheckpoint bool, store *label.Store) error {
	var replayed bool
	var maxSeen uint32
	for _, r := range records {
		if r.isCheckpoint {
			if r.checkpoint.Index > maxSeen {
				maxSeen = r.checkpoint.Index
			}
			continue
		}
		if r.labelSet.Index > maxSeen {
			maxSeen = r.labelSet.Index
		}
		if haveCheckpoint && r.labelSet.Index <= lastCheckpoint {
			continue
		}
		replayed = true
		for _, e := range r.labelSet.Entries {
			if err := replayEntry(store, e); err != nil {
				return fmt.Errorf("wal: recover label %q: %w", e.Label, err)
			}
		}
		w.log.Info("wal: replayed label set", "index", r.labelSet.Index, "entries", len(r.labelSet.Entries))
	}

	if !replayed && haveCheckpoint {
		return nil
	}
	if len(records) == 0 {
		return nil
	}
	return w.writeCheckpoint(maxSeen)
}

func replayEntry(store *label.Store, e Entry) error {
	target := e.Layer
	current, err := store.Get(e.Label)
	if errors.Is(err, label.ErrNotFound) {
		created, cerr := store.Create(e.Label)
		if cerr != nil {
			return cerr
		}
		current = created
	} else if err != nil {
		return err
	}
	if current.Layer != nil && *current.Layer == target {
		return nil
	}
	_, err = store.Set(current, &target)
	return err
}

// AppendLabelSet serializes, flushes, and fsyncs a LabelSet record
// covering entries, returning the sequence number it was assigned. The
// caller must not rewrite the corresponding label files until this
// returns successfully.
func (w *WAL) AppendLabelSet(entries []Entry) (uint32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	index := w.nextIndex
	ls := LabelSet{Index: index, Entries: entries}
	payload, err := ls.payload()
	if err != nil {
		return 0, err
	}
	if err := w.appendLocked(encodeRecord(typeLabelSet, payload)); err != nil {
		return 0, err
	}
	w.nextIndex++
	return index, nil
}

// Checkpoint appends a Checkpoint record for index, to be called only
// after every label file covered by records up to index has been
// durably rewritten.
func (w *WAL) Checkpoint(index uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeCheckpointLocked(index)
}

func (w *WAL) writeCheckpoint(index uint32) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeCheckpointLocked(index)
}

func (w *WAL) writeCheckpointLocked(index uint32) error {
	cp := Checkpoint{Index: index}
	if err := w.appendLocked(encodeRecord(typeCheckpoint, cp.payload())); err != nil {
		return err
	}
	w.log.Info("wal: checkpoint", "index", index)
	return nil
}

func (w *WAL) appendLocked(raw []byte) error {
	if _, err := w.f.Write(raw); err != nil {
		return fmt.Errorf("wal: append %s: %w", w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("wal: sync %s: %w", w.path, err)
	}
	return nil
}

// Close releases the underlying file. It does not remove any on-disk
// state.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

func readAll(f *os.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, info.Size())
	if _, err := f.ReadAt(buf, 0); err != nil && len(buf) > 0 {
		return nil, err
	}
	return buf, nil
}

// scan decodes as many complete, checksum-valid records from data as
// possible, returning them in file order along with the byte offset
// immediately following the last one. Any bytes after that offset are a
// torn or corrupt trailing record and should be truncated away.
func scan(data []byte) ([]decodedRecord, int) {
	var dec decoder
	buf := data
	pos := 0
	var records []decodedRecord
	for {
		before := len(buf)
		raw, ok, err := dec.decode(&buf)
		if err != nil {
			break
		}
		if !ok {
			break
		}
		pos += before - len(buf)
		rec, perr := parseBody(raw)
		if perr != nil {
			break
		}
		records = append(records, rec)
	}
	return records, pos
}
