package label

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jpl-au/loom/layer"
)

// Label is a named graph pointer: a monotone version and the layer it
// currently points at (absent iff the graph has never been written).
type Label struct {
	Name    string
	Version uint64
	Layer   *layer.ID
}

// empty returns the label.create result for name: version 0, no layer.
func empty(name string) Label {
	return Label{Name: name, Version: 0}
}

// sameTarget reports whether a and b name the same layer (both absent,
// or both present and equal) — used by Set's short-circuit check.
func sameTarget(a, b *layer.ID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// encode renders l per spec.md §6's exact grammar:
// `<ascii-decimal-version> '\n' (<40-hex-layer> | '') '\n'`.
func encode(l Label) []byte {
	var layerStr string
	if l.Layer != nil {
		layerStr = l.Layer.String()
	}
	return []byte(fmt.Sprintf("%d\n%s\n", l.Version, layerStr))
}

// decode parses a label file's contents against name. Any content not
// matching the exact two-line grammar is ErrCorrupt.
func decode(name string, raw []byte) (Label, error) {
	s := string(raw)
	if !strings.HasSuffix(s, "\n") {
		return Label{}, fmt.Errorf("%w: %q: missing trailing newline", ErrCorrupt, name)
	}
	lines := strings.Split(strings.TrimSuffix(s, "\n"), "\n")
	if len(lines) != 2 {
		return Label{}, fmt.Errorf("%w: %q: expected two lines, got %d", ErrCorrupt, name, len(lines))
	}

	version, err := strconv.ParseUint(lines[0], 10, 64)
	if err != nil {
		return Label{}, fmt.Errorf("%w: %q: bad version %q: %v", ErrCorrupt, name, lines[0], err)
	}

	l := Label{Name: name, Version: version}
	if lines[1] != "" {
		id, err := layer.ParseID(lines[1])
		if err != nil {
			return Label{}, fmt.Errorf("%w: %q: bad layer id: %v", ErrCorrupt, name, err)
		}
		l.Layer = &id
	}
	return l, nil
}

// validName rejects anything unsuitable as a bare filename within the
// label directory.
func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\")
}
