package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jpl-au/loom/backing"
	"github.com/jpl-au/loom/layer"
)

// layerCache resolves and memoizes layer.Layer handles loaded from
// root/layers/<id>, following parent pointers as needed. Every
// backing.File it opens is kept (never closed individually) so the
// memory-mapped view spec.md §4.1 promises stays valid for the handle's
// lifetime; Store.Close tears them all down together. Layers are
// immutable once sealed, so one cache shared across every graph in a
// Store is always safe to reuse.
type layerCache struct {
	root string

	mu    sync.Mutex
	cache map[layer.ID]layer.Layer
	files []*backing.File
}

func newLayerCache(root string) *layerCache {
	return &layerCache{root: root, cache: map[layer.ID]layer.Layer{}}
}

// load resolves id, parsing its meta file to decide base vs. child and
// recursing on the parent pointer as needed.
func (c *layerCache) load(id layer.ID) (layer.Layer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(id)
}

func (c *layerCache) loadLocked(id layer.ID) (layer.Layer, error) {
	if l, ok := c.cache[id]; ok {
		return l, nil
	}
	dir := layerDir(c.root, id.String())
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: layer %s", layer.ErrNotFound, id)
	}
	metaRaw, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: layer %s", layer.ErrNotSealed, id)
		}
		return nil, fmt.Errorf("store: read meta %s: %w", id, err)
	}
	meta, err := layer.ReadMeta(metaRaw)
	if err != nil {
		return nil, fmt.Errorf("store: layer %s: %w", id, err)
	}

	var l layer.Layer
	if meta.Parent == nil {
		l, err = c.loadBase(id, dir)
	} else {
		parentID, perr := layer.ParseID(*meta.Parent)
		if perr != nil {
			return nil, fmt.Errorf("store: layer %s: bad parent id: %w", id, perr)
		}
		parent, perr := c.loadLocked(parentID)
		if perr != nil {
			return nil, perr
		}
		l, err = c.loadChild(id, parent, dir)
	}
	if err != nil {
		return nil, err
	}
	c.cache[id] = l
	return l, nil
}

func (c *layerCache) mapFile(dir, name string) ([]byte, error) {
	f, err := backing.OpenFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", name, err)
	}
	c.files = append(c.files, f)
	return f.Map()
}

func (c *layerCache) loadBase(id layer.ID, dir string) (layer.Layer, error) {
	raw, err := readBaseRaw(c, dir)
	if err != nil {
		return nil, fmt.Errorf("store: base layer %s: %w", id, err)
	}
	return layer.ParseBaseLayer(id, raw)
}

func (c *layerCache) loadChild(id layer.ID, parent layer.Layer, dir string) (layer.Layer, error) {
	raw, err := readChildRaw(c, dir)
	if err != nil {
		return nil, fmt.Errorf("store: child layer %s: %w", id, err)
	}
	return layer.ParseChildLayer(id, parent, raw)
}

func readBaseRaw(c *layerCache, dir string) (layer.BaseRaw, error) {
	var raw layer.BaseRaw
	var err error
	must := func(name string) []byte {
		if err != nil {
			return nil
		}
		var b []byte
		b, err = c.mapFile(dir, name)
		return b
	}

	raw.NodeDictBlocks = must(nodeDictBlocks)
	raw.NodeDictOffsets = must(nodeDictOffsets)
	raw.PredDictBlocks = must(predDictBlocks)
	raw.PredDictOffsets = must(predDictOffsets)
	raw.ValueDictBlocks = must(valDictBlocks)
	raw.ValueDictOffsets = must(valDictOffsets)

	spBits, spBlocks, spSuper, spNums := adjacencyNames("s_p")
	raw.SPBits = must(spBits)
	raw.SPBlocks = must(spBlocks)
	raw.SPSuper = must(spSuper)
	raw.SPValues = must(spNums)

	spoBits, spoBlocks, spoSuper, spoNums := adjacencyNames("s_po")
	raw.SPOBits = must(spoBits)
	raw.SPOBlocks = must(spoBlocks)
	raw.SPOSuper = must(spoSuper)
	raw.SPOValues = must(spoNums)

	opsBits, opsBlocks, opsSuper, _ := adjacencyNames("o_ps")
	raw.OPSBits = must(opsBits)
	raw.OPSBlocks = must(opsBlocks)
	raw.OPSSuper = must(opsSuper)
	raw.OPSSubjValues = must("o_ps.subj_nums")
	raw.OPSPredValues = must("o_ps.pred_nums")

	raw.PredWaveletBits = must(waveletBits)
	raw.PredWaveletBlocks = must(waveletBlock)
	raw.PredWaveletSuper = must(waveletSuper)

	if err != nil {
		return layer.BaseRaw{}, err
	}

	metaRaw, rerr := os.ReadFile(filepath.Join(dir, metaFile))
	if rerr != nil {
		return layer.BaseRaw{}, rerr
	}
	meta, rerr := layer.ReadMeta(metaRaw)
	if rerr != nil {
		return layer.BaseRaw{}, rerr
	}
	raw.NodeCount = meta.SubjectCount
	raw.PredicateCount = meta.PredicateCount
	raw.ValueCount = meta.ObjectCount - meta.SubjectCount
	return raw, nil
}

func readChildRaw(c *layerCache, dir string) (layer.ChildRaw, error) {
	var raw layer.ChildRaw
	var err error
	must := func(name string) []byte {
		if err != nil {
			return nil
		}
		var b []byte
		b, err = c.mapFile(dir, name)
		return b
	}

	raw.NodeExtBlocks = must(nodeExtBlocks)
	raw.NodeExtOffsets = must(nodeExtOffsets)
	raw.PredExtBlocks = must(predExtBlocks)
	raw.PredExtOffsets = must(predExtOffsets)
	raw.ValueExtBlocks = must(valExtBlocks)
	raw.ValueExtOffsets = must(valExtOffsets)

	raw.Additions, err = readTripleIndexRaw(c, dir, "additions", err)
	raw.Removals, err = readTripleIndexRaw(c, dir, "removals", err)
	if err != nil {
		return layer.ChildRaw{}, err
	}

	metaRaw, rerr := os.ReadFile(filepath.Join(dir, metaFile))
	if rerr != nil {
		return layer.ChildRaw{}, rerr
	}
	meta, rerr := layer.ReadMeta(metaRaw)
	if rerr != nil {
		return layer.ChildRaw{}, rerr
	}
	raw.NodeExtCount = meta.SubjectCount
	raw.PredExtCount = meta.PredicateCount
	raw.ValueExtCount = meta.ObjectCount - meta.SubjectCount
	return raw, nil
}

func readTripleIndexRaw(c *layerCache, dir, kind string, prevErr error) (layer.TripleIndexRaw, error) {
	if prevErr != nil {
		return layer.TripleIndexRaw{}, prevErr
	}
	var raw layer.TripleIndexRaw
	var err error
	must := func(name string) []byte {
		if err != nil {
			return nil
		}
		var b []byte
		b, err = c.mapFile(dir, name)
		return b
	}

	spBits, spBlocks, spSuper, spNums := adjacencyNames(kind + "_s_p")
	raw.SPBits = must(spBits)
	raw.SPBlocks = must(spBlocks)
	raw.SPSuper = must(spSuper)
	raw.SPValues = must(spNums)

	spoBits, spoBlocks, spoSuper, spoNums := adjacencyNames(kind + "_s_po")
	raw.SPOBits = must(spoBits)
	raw.SPOBlocks = must(spoBlocks)
	raw.SPOSuper = must(spoSuper)
	raw.SPOValues = must(spoNums)

	return raw, err
}

// close releases every backing.File the cache opened.
func (c *layerCache) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for _, f := range c.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// openBaseStores opens (creating) every file a fresh base layer build
// writes through, under dir.
func openBaseStores(dir string) (layer.BaseStores, []*backing.File, error) {
	var stores layer.BaseStores
	var files []*backing.File
	var err error
	open := func(name string) backing.Store {
		if err != nil {
			return nil
		}
		var f *backing.File
		f, err = backing.OpenFile(filepath.Join(dir, name))
		if err != nil {
			return nil
		}
		files = append(files, f)
		return f
	}

	stores.NodeDictBlocks = open(nodeDictBlocks)
	stores.NodeDictOffsets = open(nodeDictOffsets)
	stores.PredDictBlocks = open(predDictBlocks)
	stores.PredDictOffsets = open(predDictOffsets)
	stores.ValueDictBlocks = open(valDictBlocks)
	stores.ValueDictOffsets = open(valDictOffsets)

	spBits, spBlocks, spSuper, spNums := adjacencyNames("s_p")
	stores.SPBits, stores.SPBlocks, stores.SPSuper, stores.SPValues = open(spBits), open(spBlocks), open(spSuper), open(spNums)

	spoBits, spoBlocks, spoSuper, spoNums := adjacencyNames("s_po")
	stores.SPOBits, stores.SPOBlocks, stores.SPOSuper, stores.SPOValues = open(spoBits), open(spoBlocks), open(spoSuper), open(spoNums)

	opsBits, opsBlocks, opsSuper, _ := adjacencyNames("o_ps")
	stores.OPSBits, stores.OPSBlocks, stores.OPSSuper = open(opsBits), open(opsBlocks), open(opsSuper)
	stores.OPSSubjValues = open("o_ps.subj_nums")
	stores.OPSPredValues = open("o_ps.pred_nums")

	stores.PredWaveletBits = open(waveletBits)
	stores.PredWaveletBlocks = open(waveletBlock)
	stores.PredWaveletSuper = open(waveletSuper)

	if err != nil {
		return layer.BaseStores{}, nil, err
	}
	return stores, files, nil
}

// openChildStores mirrors openBaseStores for a fresh child layer build.
func openChildStores(dir string) (layer.ChildStores, []*backing.File, error) {
	var files []*backing.File
	var err error
	open := func(name string) backing.Store {
		if err != nil {
			return nil
		}
		var f *backing.File
		f, err = backing.OpenFile(filepath.Join(dir, name))
		if err != nil {
			return nil
		}
		files = append(files, f)
		return f
	}

	openIndex := func(kind string) layer.TripleIndexStores {
		spBits, spBlocks, spSuper, spNums := adjacencyNames(kind + "_s_p")
		spoBits, spoBlocks, spoSuper, spoNums := adjacencyNames(kind + "_s_po")
		return layer.TripleIndexStores{
			SPBits: open(spBits), SPBlocks: open(spBlocks), SPSuper: open(spSuper), SPValues: open(spNums),
			SPOBits: open(spoBits), SPOBlocks: open(spoBlocks), SPOSuper: open(spoSuper), SPOValues: open(spoNums),
		}
	}

	stores := layer.ChildStores{
		NodeExtBlocks:   open(nodeExtBlocks),
		NodeExtOffsets:  open(nodeExtOffsets),
		PredExtBlocks:   open(predExtBlocks),
		PredExtOffsets:  open(predExtOffsets),
		ValueExtBlocks:  open(valExtBlocks),
		ValueExtOffsets: open(valExtOffsets),
	}
	stores.Additions = openIndex("additions")
	stores.Removals = openIndex("removals")

	if err != nil {
		return layer.ChildStores{}, nil, err
	}
	return stores, files, nil
}

