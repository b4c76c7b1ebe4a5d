package label

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"github.com/jpl-au/loom/layer"
)

// Store is a directory of label files, one per named graph, each
// mediated by the same shared/exclusive advisory lock split the
// teacher uses over its single data file. Every operation that touches
// disk logs through log, in the teacher's doc-comment-driven narration
// style generalized to a shared *slog.Logger.
type Store struct {
	dir string
	log *slog.Logger
}

// Open returns a Store rooted at dir, creating it if absent. A nil
// logger falls back to slog.Default(), matching folio.Open's
// zero-value-default-filling for its Config.
func Open(dir string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("label: open store %s: %w", dir, err)
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// Create makes a fresh, empty label (version 0, no layer). Returns
// ErrAlreadyExists if name is taken.
func (s *Store) Create(name string) (Label, error) {
	if !validName(name) {
		return Label{}, ErrInvalidName
	}
	f, err := os.OpenFile(s.path(name), os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return Label{}, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
		}
		return Label{}, fmt.Errorf("label: create %s: %w", name, err)
	}
	defer f.Close()

	l := empty(name)
	if _, err := f.Write(encode(l)); err != nil {
		return Label{}, fmt.Errorf("label: create %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		return Label{}, fmt.Errorf("label: create %s: sync: %w", name, err)
	}
	s.log.Info("label created", "name", name)
	return l, nil
}

// Get returns the current value of name under a shared lock. Returns
// ErrNotFound if the label doesn't exist.
func (s *Store) Get(name string) (Label, error) {
	if !validName(name) {
		return Label{}, ErrInvalidName
	}
	f, err := os.Open(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return Label{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Label{}, fmt.Errorf("label: open %s: %w", name, err)
	}
	defer f.Close()

	lk := &fileLock{}
	lk.setFile(f)
	if err := lk.Lock(lockShared); err != nil {
		return Label{}, fmt.Errorf("label: lock %s: %w", name, err)
	}
	defer lk.setFile(nil)
	defer lk.Unlock()

	raw, err := io.ReadAll(f)
	if err != nil {
		return Label{}, fmt.Errorf("label: read %s: %w", name, err)
	}
	return decode(name, raw)
}

// List returns every label name currently in the store, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("label: list: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Set performs a versioned compare-and-set against expected, writing
// (expected.Version+1, newLayer) iff the on-disk version still equals
// expected.Version. Per spec.md §4.7: if the on-disk version is already
// greater, it returns (false, nil) rather than an error; if equal and
// newLayer already matches the stored target, it short-circuits to
// (true, nil) without rewriting.
func (s *Store) Set(expected Label, newLayer *layer.ID) (bool, error) {
	if !validName(expected.Name) {
		return false, ErrInvalidName
	}
	f, err := os.OpenFile(s.path(expected.Name), os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("%w: %s", ErrNotFound, expected.Name)
		}
		return false, fmt.Errorf("label: open %s: %w", expected.Name, err)
	}

	wh := newWriteHandle(f, s.log, expected.Name)
	defer wh.closeIfOpen()

	if err := wh.lock.Lock(lockExclusive); err != nil {
		return false, fmt.Errorf("label: lock %s: %w", expected.Name, err)
	}

	raw, err := io.ReadAll(f)
	if err != nil {
		return false, fmt.Errorf("label: read %s: %w", expected.Name, err)
	}
	current, err := decode(expected.Name, raw)
	if err != nil {
		return false, err
	}

	switch {
	case current.Version > expected.Version:
		return false, nil
	case current.Version < expected.Version:
		// expected refers to a version that hasn't happened on disk yet;
		// not a valid CAS target.
		return false, nil
	case sameTarget(current.Layer, newLayer):
		// already at the requested target, nothing to write.
		return true, nil
	}

	updated := Label{Name: expected.Name, Version: current.Version + 1, Layer: newLayer}
	if err := wh.commit(updated); err != nil {
		return false, err
	}
	s.log.Info("label set", "name", expected.Name, "version", updated.Version)
	return true, nil
}

// writeHandle is an exclusively locked label file mid-CAS. Per
// spec.md §4.7/§5, dropping one without an explicit shutdown is a
// soft-warning condition (the underlying fd and lock are still
// released, just noisily) — implemented here via a finalizer, since Go
// has no deterministic destructor to hook the way the original's Drop
// impl does.
type writeHandle struct {
	f    *os.File
	lock fileLock
	name string
	log  *slog.Logger
	done bool
}

func newWriteHandle(f *os.File, log *slog.Logger, name string) *writeHandle {
	wh := &writeHandle{f: f, name: name, log: log}
	wh.lock.setFile(f)
	runtime.SetFinalizer(wh, (*writeHandle).finalize)
	return wh
}

// commit writes updated, truncates any excess trailing bytes (the
// prior content may have been longer), fsyncs, and shuts the handle
// down.
func (wh *writeHandle) commit(updated Label) error {
	raw := encode(updated)
	if _, err := wh.f.WriteAt(raw, 0); err != nil {
		return fmt.Errorf("label: write %s: %w", wh.name, err)
	}
	if err := wh.f.Truncate(int64(len(raw))); err != nil {
		return fmt.Errorf("label: truncate %s: %w", wh.name, err)
	}
	if err := wh.f.Sync(); err != nil {
		return fmt.Errorf("label: sync %s: %w", wh.name, err)
	}
	return wh.shutdown()
}

// shutdown is the explicit clean path: unlock, drain the lock via
// setFile(nil) so no in-flight flock syscall can race the fd close,
// then close, and disarm the finalizer so it stays quiet.
func (wh *writeHandle) shutdown() error {
	if wh.done {
		return nil
	}
	wh.done = true
	runtime.SetFinalizer(wh, nil)
	unlockErr := wh.lock.Unlock()
	wh.lock.setFile(nil)
	if unlockErr != nil {
		return fmt.Errorf("label: unlock %s: %w", wh.name, unlockErr)
	}
	return wh.f.Close()
}

// closeIfOpen is Set's deferred safety net for error paths that return
// before commit: still tear the handle down cleanly, rather than
// leaving it to the finalizer's soft-warning path.
func (wh *writeHandle) closeIfOpen() {
	if !wh.done {
		wh.shutdown()
	}
}

// finalize is the GC finalizer callback. It fires only if shutdown was
// never called — logs a warning (networked filesystems delay error
// reporting until close, so a silently dropped handle can hide a
// failed flush) before releasing the lock and fd itself.
func (wh *writeHandle) finalize() {
	if wh.done {
		return
	}
	wh.log.Warn("exclusive label handle dropped without explicit shutdown", "name", wh.name)
	wh.lock.Unlock()
	wh.lock.setFile(nil)
	wh.f.Close()
}
