package kvdb

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/pbtdb/pbtdb/pkg/pbtdberr"
)

func TestSmallKVRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	db, openErr := Open(filepath.Join(t.TempDir(), "db"), cfg)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}

	for _, kv := range [][2]string{{"apple", "1"}, {"banana", "2"}, {"cherry", "3"}} {
		if addErr := db.Add([]byte(kv[0]), []byte(kv[1])); addErr != nil {
			t.Fatalf("add: %s", addErr)
		}
	}

	if flushErr := db.Flush(); flushErr != nil {
		t.Fatalf("flush: %s", flushErr)
	}

	v, getErr := db.Get([]byte("banana"))
	if getErr != nil {
		t.Fatalf("get: %s", getErr)
	}
	if string(v) != "2" {
		t.Fatalf("expected 2, got %q", v)
	}

	k, val, atErr := db.At(0)
	if atErr != nil {
		t.Fatalf("at: %s", atErr)
	}
	if string(k) != "apple" || string(val) != "1" {
		t.Fatalf("expected (apple,1), got (%q,%q)", k, val)
	}

	if _, getErr := db.Get([]byte("date")); getErr == nil {
		t.Fatalf("expected miss for date")
	}
}

func TestDuplicateKeysOldestWinsFirstOccurrence(t *testing.T) {
	cfg := DefaultConfig()
	db, openErr := Open(filepath.Join(t.TempDir(), "db"), cfg)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}

	for _, v := range []string{"a", "b", "c"} {
		if addErr := db.Add([]byte("k"), []byte(v)); addErr != nil {
			t.Fatalf("add: %s", addErr)
		}
	}

	if flushErr := db.Flush(); flushErr != nil {
		t.Fatalf("flush: %s", flushErr)
	}

	v, getErr := db.Get([]byte("k"))
	if getErr != nil {
		t.Fatalf("get: %s", getErr)
	}
	if string(v) != "a" {
		t.Fatalf("expected first occurrence 'a', got %q", v)
	}

	if db.Count() != 3 {
		t.Fatalf("expected count 3, got %d", db.Count())
	}
}

func TestCascadedMergeLeavesOneFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBufferSize = 16
	cfg.MaxNodeChildren = 4
	cfg.MaxLevelCount = 2

	db, openErr := Open(filepath.Join(t.TempDir(), "db"), cfg)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}

	for i := 0; i < 50; i++ {
		key := []byte(fmt.Sprintf("k%04d", i))
		val := make([]byte, 8)
		val[0] = byte(i)

		if addErr := db.Add(key, val); addErr != nil {
			t.Fatalf("add %d: %s", i, addErr)
		}
	}

	if flushErr := db.Flush(); flushErr != nil {
		t.Fatalf("flush: %s", flushErr)
	}

	if db.Count() != 50 {
		t.Fatalf("expected count 50, got %d", db.Count())
	}

	it, beginErr := db.Begin()
	if beginErr != nil {
		t.Fatalf("begin: %s", beginErr)
	}
	defer it.Close()

	var seen int
	for !it.IsEnd() {
		seen++
		if nextErr := it.Next(); nextErr != nil {
			t.Fatalf("next: %s", nextErr)
		}
	}

	if seen != 50 {
		t.Fatalf("expected to scan 50 entries, saw %d", seen)
	}
}

func TestReopenRecoversState(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	cfg := DefaultConfig()

	db, openErr := Open(dir, cfg)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}

	for i := 0; i < 100; i++ {
		key := []byte(fmt.Sprintf("key-%05d", i))
		val := []byte(fmt.Sprintf("val-%05d", i))

		if addErr := db.Add(key, val); addErr != nil {
			t.Fatalf("add %d: %s", i, addErr)
		}
	}

	if closeErr := db.Close(); closeErr != nil {
		t.Fatalf("close: %s", closeErr)
	}

	reopened, reopenErr := Open(dir, cfg)
	if reopenErr != nil {
		t.Fatalf("reopen: %s", reopenErr)
	}
	defer reopened.Close()

	if reopened.Count() != 100 {
		t.Fatalf("expected count 100 after reopen, got %d", reopened.Count())
	}

	v, getErr := reopened.Get([]byte("key-00042"))
	if getErr != nil {
		t.Fatalf("get: %s", getErr)
	}
	if string(v) != "val-00042" {
		t.Fatalf("expected val-00042, got %q", v)
	}
}

func TestCompactLeavesExactlyOneFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxBufferSize = 8
	cfg.MaxNodeChildren = 4
	cfg.MaxLevelCount = 100

	db, openErr := Open(filepath.Join(t.TempDir(), "db"), cfg)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}

	for i := 0; i < 30; i++ {
		key := []byte(fmt.Sprintf("c%04d", i))
		if addErr := db.Add(key, []byte("v")); addErr != nil {
			t.Fatalf("add: %s", addErr)
		}
	}

	if compactErr := db.Compact(); compactErr != nil {
		t.Fatalf("compact: %s", compactErr)
	}

	if len(db.readers) != 1 {
		t.Fatalf("expected exactly one file after compact, got %d", len(db.readers))
	}

	if db.Count() != 30 {
		t.Fatalf("expected count 30, got %d", db.Count())
	}
}

func TestReduceLexicographicMaxTraverse(t *testing.T) {
	max := func(values [][]byte) ([]byte, error) {
		best := values[0]
		for _, v := range values[1:] {
			if bytes.Compare(v, best) > 0 {
				best = v
			}
		}

		return append([]byte(nil), best...), nil
	}

	cfg := DefaultConfig()
	cfg.MaxNodeChildren = 4
	cfg.Reduce = max

	db, openErr := Open(filepath.Join(t.TempDir(), "db"), cfg)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}

	for i := 1; i <= 999; i++ {
		key := []byte(fmt.Sprintf("%03d", i))
		if addErr := db.Add(key, key); addErr != nil {
			t.Fatalf("add: %s", addErr)
		}
	}

	if flushErr := db.Flush(); flushErr != nil {
		t.Fatalf("flush: %s", flushErr)
	}

	var out [][]byte
	traverseErr := db.Traverse(
		func(value []byte) bool {
			return len(value) == 0 || bytes.Equal(value, []byte("999"))
		},
		func(key, value []byte) error {
			out = append(out, append([]byte(nil), value...))
			return nil
		},
	)

	if traverseErr != nil {
		t.Fatalf("traverse: %s", traverseErr)
	}

	if len(out) != 1 || string(out[0]) != "999" {
		t.Fatalf("expected exactly one 999, got %v", out)
	}
}

func TestRangeScansBoundedSubsetAndRejectsInvertedBounds(t *testing.T) {
	cfg := DefaultConfig()
	db, openErr := Open(filepath.Join(t.TempDir(), "db"), cfg)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}

	for i := 0; i < 20; i++ {
		key := []byte(fmt.Sprintf("r%02d", i))
		if addErr := db.Add(key, key); addErr != nil {
			t.Fatalf("add: %s", addErr)
		}
	}

	if flushErr := db.Flush(); flushErr != nil {
		t.Fatalf("flush: %s", flushErr)
	}

	start := []byte("r05")
	end := []byte("r10")

	it, rangeErr := db.Range(start, end)
	if rangeErr != nil {
		t.Fatalf("range: %s", rangeErr)
	}
	defer it.Close()

	var seen []string
	for !it.IsEnd() && bytes.Compare(it.Key(), end) <= 0 {
		seen = append(seen, string(it.Key()))
		if nextErr := it.Next(); nextErr != nil {
			t.Fatalf("next: %s", nextErr)
		}
	}

	if len(seen) != 6 {
		t.Fatalf("expected 6 entries in [r05, r10], got %d (%v)", len(seen), seen)
	}

	if _, rangeErr := db.Range(end, start); rangeErr != pbtdberr.ErrRangeInverted {
		t.Fatalf("expected ErrRangeInverted, got %v", rangeErr)
	}
}

func TestOpenErrorIfExistsConflictWithDeleteIfExists(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ErrorIfExists = true
	cfg.DeleteIfExists = true

	if _, openErr := Open(t.TempDir(), cfg); openErr != pbtdberr.ErrConfigConflict {
		t.Fatalf("expected ErrConfigConflict, got %v", openErr)
	}
}

func TestOpenErrorIfExistsFailsWhenDirPresent(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()

	if _, openErr := Open(dir, cfg); openErr != nil {
		t.Fatalf("first open: %s", openErr)
	}

	cfg.ErrorIfExists = true
	if _, openErr := Open(dir, cfg); openErr != pbtdberr.ErrDirExists {
		t.Fatalf("expected ErrDirExists, got %v", openErr)
	}
}

func TestOpenCreateIfMissingFalseFailsOnAbsentDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CreateIfMissing = false

	dir := filepath.Join(t.TempDir(), "missing")
	if _, openErr := Open(dir, cfg); openErr != pbtdberr.ErrDirMissing {
		t.Fatalf("expected ErrDirMissing, got %v", openErr)
	}
}
