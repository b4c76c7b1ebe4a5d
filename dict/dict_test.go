package dict

import (
	"sort"
	"testing"

	"github.com/jpl-au/loom/backing"
)

func buildDict(t *testing.T, strs []string) *Dictionary {
	t.Helper()
	blocksStore := backing.NewMemory()
	offsetsStore := backing.NewMemory()

	b := NewBuilder(blocksStore)
	for _, s := range strs {
		if err := b.Push(s); err != nil {
			t.Fatalf("push %q: %v", s, err)
		}
	}
	if err := b.Finalize(offsetsStore); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	blocksRaw, err := blocksStore.Map()
	if err != nil {
		t.Fatalf("map blocks: %v", err)
	}
	offsetsRaw, err := offsetsStore.Map()
	if err != nil {
		t.Fatalf("map offsets: %v", err)
	}
	d, err := ParseDictionary(blocksRaw, offsetsRaw)
	if err != nil {
		t.Fatalf("parse dictionary: %v", err)
	}
	return d
}

// TestDictionaryRoundTrip exercises spec invariant 4: id_to_string and
// string_to_id invert each other, and ids are strictly monotone in sort
// order.
func TestDictionaryRoundTrip(t *testing.T) {
	strs := []string{
		"", "a", "aardvark", "aardwolf", "ab", "abacus", "abalone", "abandon",
		"abase", "abashed", "abate", "abbey", "abbot", "abbreviate", "abdicate",
		"abdomen", "abduct", "aberration", "abet", "abeyance", "abhor", "abide",
		"ability", "abject", "ablaze",
	}
	sorted := append([]string(nil), strs...)
	sort.Strings(sorted)

	d := buildDict(t, sorted)

	var lastID uint64
	for i, s := range sorted {
		id, ok, err := d.StringToID(s)
		if err != nil {
			t.Fatalf("string_to_id(%q): %v", s, err)
		}
		if !ok {
			t.Fatalf("string_to_id(%q) not found", s)
		}
		if i > 0 && id <= lastID {
			t.Fatalf("ids not strictly monotone: %d after %d for %q", id, lastID, s)
		}
		lastID = id

		back, err := d.IDToString(id)
		if err != nil {
			t.Fatalf("id_to_string(%d): %v", id, err)
		}
		if back != s {
			t.Fatalf("id_to_string(string_to_id(%q)) = %q", s, back)
		}
	}

	for id := uint64(1); id <= uint64(len(sorted)); id++ {
		s, err := d.IDToString(id)
		if err != nil {
			t.Fatalf("id_to_string(%d): %v", id, err)
		}
		gotID, ok, err := d.StringToID(s)
		if err != nil || !ok {
			t.Fatalf("string_to_id(id_to_string(%d)) failed: ok=%v err=%v", id, ok, err)
		}
		if gotID != id {
			t.Fatalf("string_to_id(id_to_string(%d)) = %d", id, gotID)
		}
	}
}

// TestDictionaryMissing checks lookups for strings never inserted
// report absence cleanly rather than a false match.
func TestDictionaryMissing(t *testing.T) {
	sorted := []string{"apple", "banana", "cherry", "date", "fig", "grape", "kiwi", "lemon", "mango", "nectarine"}
	d := buildDict(t, sorted)

	for _, missing := range []string{"", "avocado", "zzz", "applesauce"} {
		if _, ok, err := d.StringToID(missing); err != nil {
			t.Fatalf("string_to_id(%q): %v", missing, err)
		} else if ok {
			t.Errorf("string_to_id(%q) unexpectedly found", missing)
		}
	}
}

// TestDictionarySingleBlock checks the boundary case of fewer than
// blockSize entries (no full block, exercises the finalize-time flush
// of a partial trailing block).
func TestDictionarySingleBlock(t *testing.T) {
	sorted := []string{"alpha", "beta", "gamma"}
	d := buildDict(t, sorted)

	if d.NumBlocks() != 1 {
		t.Fatalf("numBlocks = %d, want 1", d.NumBlocks())
	}
	for i, s := range sorted {
		id, ok, err := d.StringToID(s)
		if err != nil || !ok {
			t.Fatalf("string_to_id(%q) failed: ok=%v err=%v", s, ok, err)
		}
		if id != uint64(i+1) {
			t.Errorf("string_to_id(%q) = %d, want %d", s, id, i+1)
		}
	}
}
