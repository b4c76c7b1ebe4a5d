package store

import "path/filepath"

// File names within one layer directory. The adjacency files take the
// prefixes of spec.md §6's directory sketch with {bits,blocks,sblocks,
// nums} suffixes (see adjacencyNames); the dictionary and wavelet files
// are named here. store/layerio.go maps each name to its field in
// layer.BaseStores/layer.ChildStores.
const (
	metaFile = "meta"

	nodeDictBlocks  = "node_dict.blocks"
	nodeDictOffsets = "node_dict.offsets"
	predDictBlocks  = "pred_dict.blocks"
	predDictOffsets = "pred_dict.offsets"
	valDictBlocks   = "value_dict.blocks"
	valDictOffsets  = "value_dict.offsets"

	nodeExtBlocks  = "node_ext.blocks"
	nodeExtOffsets = "node_ext.offsets"
	predExtBlocks  = "pred_ext.blocks"
	predExtOffsets = "pred_ext.offsets"
	valExtBlocks   = "value_ext.blocks"
	valExtOffsets  = "value_ext.offsets"

	waveletBits  = "predicate_wavelet.bits"
	waveletBlock = "predicate_wavelet.blocks"
	waveletSuper = "predicate_wavelet.sblocks"
)

// adjacencyNames returns the four file names for one {bits,blocks,
// sblocks,nums} adjacency quartet under prefix.
func adjacencyNames(prefix string) (bits, blocks, sblocks, nums string) {
	return prefix + ".bits", prefix + ".blocks", prefix + ".sblocks", prefix + ".nums"
}

func layerDir(root, id string) string {
	return filepath.Join(root, "layers", id)
}

func labelsDir(root string) string {
	return filepath.Join(root, "labels")
}

func layersDir(root string) string {
	return filepath.Join(root, "layers")
}
