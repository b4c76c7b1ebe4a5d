// Package store ties the layer, label, and wal packages into a single
// on-disk graph store: named, versioned pointers (labels) at sealed,
// immutable layer chains, with every label move made durable
// through the write-ahead log before it is applied.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jpl-au/loom/label"
	"github.com/jpl-au/loom/layer"
	"github.com/jpl-au/loom/wal"
)

// State constants for the reader/writer/compaction gate, carried
// directly from folio.DB's StateAll/StateRead/StateNone/StateClosed.
const (
	StateAll    = 0 // graphs and layer builds allowed
	StateRead   = 1 // reads only (label store compaction in progress)
	StateNone   = 2 // nothing allowed
	StateClosed = 3 // store closed
)

// Config holds store-wide tuning knobs. Zero values are replaced with
// defaults by Open, mirroring folio.Config's own fill-on-open pattern.
type Config struct {
	// PoolSize bounds how many layer builds (Graph.BuildChild) and
	// layer-chain loads (Store.ResolveGraphs) run at once across every
	// graph sharing this Store. Label-file locking, label rewrites, WAL
	// appends and their fsyncs do not go through this pool.
	PoolSize int
}

// Store is one open graph database rooted at a directory containing
// labels/, layers/, and wa.log, as created by Open.
type Store struct {
	root   string
	config Config
	log    *slog.Logger

	labels *label.Store
	wal    *wal.WAL
	layers *layerCache

	sem *semaphore.Weighted

	state atomic.Int32
	cond  *sync.Cond
}

// Open opens (creating if absent) the graph store rooted at dir.
func Open(dir string, config Config, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if config.PoolSize <= 0 {
		config.PoolSize = 8
	}

	if err := os.MkdirAll(labelsDir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("store: create labels dir: %w", err)
	}
	if err := os.MkdirAll(layersDir(dir), 0o755); err != nil {
		return nil, fmt.Errorf("store: create layers dir: %w", err)
	}

	labels, err := label.Open(labelsDir(dir), log)
	if err != nil {
		return nil, fmt.Errorf("store: open labels: %w", err)
	}
	w, err := wal.Open(dir, labels, log)
	if err != nil {
		return nil, fmt.Errorf("store: open wal: %w", err)
	}

	s := &Store{
		root:   dir,
		config: config,
		log:    log,
		labels: labels,
		wal:    w,
		layers: newLayerCache(dir),
		sem:    semaphore.NewWeighted(int64(config.PoolSize)),
		cond:   sync.NewCond(&sync.Mutex{}),
	}
	return s, nil
}

// Close releases the WAL and every memory-mapped layer file this Store
// opened. It does not remove any on-disk state.
func (s *Store) Close() error {
	s.cond.L.Lock()
	s.state.Store(StateClosed)
	s.cond.Broadcast()
	s.cond.L.Unlock()

	var errs []error
	if err := s.wal.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := s.layers.close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// blockWrite blocks until the store is in StateAll, returning ErrClosed
// if it's closed in the meantime. Mirrors folio.DB.blockWrite.
func (s *Store) blockWrite() error {
	if s.state.Load() == StateClosed {
		return ErrClosed
	}
	s.cond.L.Lock()
	for s.state.Load() != StateAll {
		if s.state.Load() == StateClosed {
			s.cond.L.Unlock()
			return ErrClosed
		}
		s.cond.Wait()
	}
	s.cond.L.Unlock()
	return nil
}

// blockRead blocks while the store is in StateNone, returning
// ErrClosed if it's closed. Mirrors folio.DB.blockRead.
func (s *Store) blockRead() error {
	if s.state.Load() == StateClosed {
		return ErrClosed
	}
	s.cond.L.Lock()
	for s.state.Load() == StateNone {
		if s.state.Load() == StateClosed {
			s.cond.L.Unlock()
			return ErrClosed
		}
		s.cond.Wait()
	}
	s.cond.L.Unlock()
	return nil
}

// Maintain is the hook spec.md §1's "online compaction scheduling is
// out of scope; the core exposes hooks" leaves for a caller-driven
// label store maintenance pass: it puts the store into read-only mode
// for the duration of fn (new BuildChild/SetHead calls block; Head/
// Layer/ListGraphs keep working), then restores StateAll, mirroring
// folio's repair.go state transitions around its own compaction pass.
func (s *Store) Maintain(fn func() error) error {
	s.state.Store(StateRead)
	defer func() {
		s.cond.L.Lock()
		s.state.Store(StateAll)
		s.cond.Broadcast()
		s.cond.L.Unlock()
	}()
	return fn()
}

// acquire blocks until a slot in the bounded pool is free, submitting
// fn as the blocking disk operation spec.md §5's "dedicated blocking
// pool" describes. The pool is sized by Config.PoolSize.
func (s *Store) acquire(ctx context.Context, fn func() error) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	return fn()
}

// CreateGraph creates a fresh, empty named graph (no layer, version 0).
func (s *Store) CreateGraph(name string) (*Graph, error) {
	if _, err := s.labels.Create(name); err != nil {
		if errors.Is(err, label.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrGraphExists, name)
		}
		return nil, err
	}
	return &Graph{store: s, name: name}, nil
}

// OpenGraph returns a handle to an existing named graph.
func (s *Store) OpenGraph(name string) (*Graph, error) {
	if _, err := s.labels.Get(name); err != nil {
		if errors.Is(err, label.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrGraphNotFound, name)
		}
		return nil, err
	}
	return &Graph{store: s, name: name}, nil
}

// ListGraphs returns every graph name currently in the store, sorted.
func (s *Store) ListGraphs() ([]string, error) {
	if err := s.blockRead(); err != nil {
		return nil, err
	}
	return s.labels.List()
}

// Graph is a handle to one named, versioned pointer into the layer
// store.
type Graph struct {
	store *Store
	name  string
}

// Name returns the graph's label name.
func (g *Graph) Name() string { return g.name }

// Head returns the graph's current layer id and version. A nil id
// means the graph has never had a layer built for it.
func (g *Graph) Head() (id *layer.ID, version uint64, err error) {
	if err := g.store.blockRead(); err != nil {
		return nil, 0, err
	}
	l, err := g.store.labels.Get(g.name)
	if err != nil {
		return nil, 0, err
	}
	return l.Layer, l.Version, nil
}

// Layer resolves and returns the graph's current layer handle, loading
// its full ancestor chain from disk (or the shared cache) as needed.
// It returns (nil, nil) for a graph with no layer yet.
func (g *Graph) Layer() (layer.Layer, error) {
	id, _, err := g.Head()
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, nil
	}
	return g.store.layers.load(*id)
}

// SetHead performs the graph's versioned compare-and-set: expected
// must match the label's on-disk value, else ErrVersionMismatch. The
// move is WAL-logged and fsynced before the label file is rewritten,
// and checkpointed only after that rewrite succeeds, per spec.md §4.8's
// ordering contract.
func (g *Graph) SetHead(expected label.Label, newLayer layer.ID) error {
	if err := g.store.blockWrite(); err != nil {
		return err
	}
	idx, err := g.store.wal.AppendLabelSet([]wal.Entry{{Label: g.name, Layer: newLayer}})
	if err != nil {
		return fmt.Errorf("store: log label move: %w", err)
	}

	ok, err := g.store.labels.Set(expected, &newLayer)
	if err != nil {
		return fmt.Errorf("store: set head: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrVersionMismatch, g.name)
	}

	if err := g.store.wal.Checkpoint(idx); err != nil {
		return fmt.Errorf("store: checkpoint: %w", err)
	}
	return nil
}

// BuildChild builds and seals a new child layer recording additions
// and removals against the graph's current head (or a fresh base layer
// if the graph has none yet), then advances the graph's head to it.
// expected must match the graph's current label version.
func (g *Graph) BuildChild(expected label.Label, additions, removals []layer.RawTriple) (layer.ID, error) {
	if err := g.store.blockWrite(); err != nil {
		return layer.ZeroID, err
	}
	parent, err := g.Layer()
	if err != nil {
		return layer.ZeroID, err
	}

	var newID layer.ID
	err = g.store.acquire(context.Background(), func() error {
		var buildErr error
		if parent == nil {
			if len(removals) > 0 {
				return fmt.Errorf("store: cannot remove triples from an empty graph")
			}
			newID, buildErr = buildBaseLayer(g.store.root, additions)
		} else {
			newID, buildErr = buildChildLayer(g.store.root, parent, additions, removals)
		}
		return buildErr
	})
	if err != nil {
		return layer.ZeroID, err
	}

	if err := g.SetHead(expected, newID); err != nil {
		return layer.ZeroID, err
	}
	return newID, nil
}

// ResolveGraphs loads every named graph's current layer chain
// concurrently, bounded by the store's pool, returning a map from name
// to layer (nil for graphs with no layer yet). Errors from individual
// graphs are collected and the first one is returned.
func (s *Store) ResolveGraphs(ctx context.Context, names []string) (map[string]layer.Layer, error) {
	result := make(map[string]layer.Layer, len(names))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			return s.acquire(ctx, func() error {
				graph := &Graph{store: s, name: name}
				l, err := graph.Layer()
				if err != nil {
					return err
				}
				mu.Lock()
				result[name] = l
				mu.Unlock()
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}
