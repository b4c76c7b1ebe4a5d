package layer

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/jpl-au/loom/backing"
)

// Meta is a layer's metadata marker. Its existence on disk (fsynced)
// is what makes a layer directory visible to readers; absence means
// the layer is still being built and must be ignored. Encoded with
// goccy/go-json, the same library the teacher uses for its own
// Header/Record/Index types.
type Meta struct {
	Parent         *string `json:"parent,omitempty"` // 40-hex parent id, absent for a base layer
	SealedAtUnixMs int64   `json:"sealed_at"`
	SubjectCount   uint64  `json:"subject_count"`
	PredicateCount uint64  `json:"predicate_count"`
	ObjectCount    uint64  `json:"object_count"`
	AdditionCount  uint64  `json:"addition_count"`
	RemovalCount   uint64  `json:"removal_count"`
}

// WriteMeta marshals m and writes it through dst, shutting the writer
// down (which, for backing.File, fsyncs) before returning — this is
// the seal point spec.md §4.6 requires: "not visible until its metadata
// file is written and fsynced."
func WriteMeta(m *Meta, dst backing.Store) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("layer: marshal meta: %w", err)
	}
	w, err := dst.Writer()
	if err != nil {
		return err
	}
	if _, err := w.Write(raw); err != nil {
		return err
	}
	return w.Shutdown()
}

// ReadMeta parses a previously sealed meta file's bytes.
func ReadMeta(raw []byte) (*Meta, error) {
	if len(raw) == 0 {
		return nil, ErrNotSealed
	}
	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptMeta, err)
	}
	return &m, nil
}
