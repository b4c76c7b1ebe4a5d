package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jpl-au/loom/backing"
	"github.com/jpl-au/loom/layer"
)

// buildBaseLayer writes a fresh base layer from raw triples into a
// temporary sibling directory under root/layers, seals it with a meta
// file, then renames it into place under its final, freshly generated id
// — the pattern spec.md §4.6 requires so a crash mid-build never
// exposes a half-written layer under its real name.
func buildBaseLayer(root string, raws []layer.RawTriple) (layer.ID, error) {
	tmp, err := os.MkdirTemp(layersDir(root), ".building-")
	if err != nil {
		return layer.ZeroID, fmt.Errorf("store: create build dir: %w", err)
	}
	stores, files, err := openBaseStores(tmp)
	if err != nil {
		closeAll(files)
		os.RemoveAll(tmp)
		return layer.ZeroID, err
	}

	id, err := layer.BuildBaseLayer(raws, stores)
	closeAll(files)
	if err != nil {
		os.RemoveAll(tmp)
		return layer.ZeroID, err
	}

	nodeCount, predCount, valueCount := countBaseStrings(raws)
	meta := &layer.Meta{
		SealedAtUnixMs: time.Now().UnixMilli(),
		SubjectCount:   nodeCount,
		PredicateCount: predCount,
		ObjectCount:    nodeCount + valueCount,
		AdditionCount:  uint64(len(raws)),
	}
	if err := sealLayer(tmp, meta); err != nil {
		os.RemoveAll(tmp)
		return layer.ZeroID, err
	}

	dst := layerDir(root, id.String())
	if err := os.Rename(tmp, dst); err != nil {
		os.RemoveAll(tmp)
		return layer.ZeroID, fmt.Errorf("store: seal layer %s: %w", id, err)
	}
	return id, nil
}

// buildChildLayer mirrors buildBaseLayer for a child layer built
// against an already-resolved parent handle.
func buildChildLayer(root string, parent layer.Layer, additions, removals []layer.RawTriple) (layer.ID, error) {
	tmp, err := os.MkdirTemp(layersDir(root), ".building-")
	if err != nil {
		return layer.ZeroID, fmt.Errorf("store: create build dir: %w", err)
	}
	stores, files, err := openChildStores(tmp)
	if err != nil {
		closeAll(files)
		os.RemoveAll(tmp)
		return layer.ZeroID, err
	}

	id, err := layer.BuildChildLayer(parent, additions, removals, stores)
	closeAll(files)
	if err != nil {
		os.RemoveAll(tmp)
		return layer.ZeroID, err
	}

	nodeExt, predExt, valueExt := countChildExtensions(parent, additions, removals)
	parentID := parent.ID()
	parentHex := parentID.String()
	meta := &layer.Meta{
		Parent:         &parentHex,
		SealedAtUnixMs: time.Now().UnixMilli(),
		SubjectCount:   nodeExt,
		PredicateCount: predExt,
		ObjectCount:    nodeExt + valueExt,
		AdditionCount:  uint64(len(additions)),
		RemovalCount:   uint64(len(removals)),
	}
	if err := sealLayer(tmp, meta); err != nil {
		os.RemoveAll(tmp)
		return layer.ZeroID, err
	}

	dst := layerDir(root, id.String())
	if err := os.Rename(tmp, dst); err != nil {
		os.RemoveAll(tmp)
		return layer.ZeroID, fmt.Errorf("store: seal layer %s: %w", id, err)
	}
	return id, nil
}

func sealLayer(dir string, meta *layer.Meta) error {
	f, err := backing.OpenFile(filepath.Join(dir, metaFile))
	if err != nil {
		return fmt.Errorf("store: open meta: %w", err)
	}
	defer f.Close()
	if err := layer.WriteMeta(meta, f); err != nil {
		return fmt.Errorf("store: write meta: %w", err)
	}
	return nil
}

func closeAll(files []*backing.File) {
	for _, f := range files {
		f.Close()
	}
}

// countBaseStrings returns the distinct subject/object-node count and
// distinct predicate and value counts BuildBaseLayer will assign ids
// to, mirroring its own interning rules without repeating its build.
func countBaseStrings(raws []layer.RawTriple) (nodeCount, predCount, valueCount uint64) {
	nodes := map[string]struct{}{}
	preds := map[string]struct{}{}
	values := map[string]struct{}{}
	for _, t := range raws {
		nodes[t.Subject] = struct{}{}
		preds[t.Predicate] = struct{}{}
		if t.ObjectKind == layer.KindValue {
			values[t.Object] = struct{}{}
		} else {
			nodes[t.Object] = struct{}{}
		}
	}
	return uint64(len(nodes)), uint64(len(preds)), uint64(len(values))
}

// countChildExtensions returns how many new node, predicate, and value
// strings this layer's own additions/removals introduce beyond what
// parent (and its ancestors) already resolve — mirroring
// BuildChildLayer's own resolveNode/resolvePred/resolveValue rules.
func countChildExtensions(parent layer.Layer, additions, removals []layer.RawTriple) (nodeExt, predExt, valueExt uint64) {
	nodes := map[string]struct{}{}
	preds := map[string]struct{}{}
	values := map[string]struct{}{}

	consider := func(t layer.RawTriple) {
		if _, ok, _ := parent.SubjectID(t.Subject); !ok {
			nodes[t.Subject] = struct{}{}
		}
		if _, ok, _ := parent.PredicateID(t.Predicate); !ok {
			preds[t.Predicate] = struct{}{}
		}
		if t.ObjectKind == layer.KindValue {
			if _, ok, _ := parent.ObjectID(t.Object, layer.KindValue); !ok {
				values[t.Object] = struct{}{}
			}
		} else if _, ok, _ := parent.SubjectID(t.Object); !ok {
			nodes[t.Object] = struct{}{}
		}
	}
	for _, t := range additions {
		consider(t)
	}
	for _, t := range removals {
		consider(t)
	}
	return uint64(len(nodes)), uint64(len(preds)), uint64(len(values))
}
