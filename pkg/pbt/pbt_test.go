package pbt

import (
	"bytes"
	"fmt"
	"path/filepath"
	"testing"
)

func sumReduce(values [][]byte) ([]byte, error) {
	var total uint64
	for _, v := range values {
		if len(v) == 8 {
			total += uint64(v[0])
		}
	}

	out := make([]byte, 8)
	out[0] = byte(total)
	return out, nil
}

func buildFile(t *testing.T, n int, maxChildren int) (string, []string, []string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "0.pbt")

	w, createErr := Create(path, 0, maxChildren, 0, nil)
	if createErr != nil {
		t.Fatalf("create: %s", createErr)
	}

	keys := make([]string, 0, n)
	values := make([]string, 0, n)

	for i := 0; i < n; i++ {
		k := fmt.Sprintf("key-%04d", i)
		v := fmt.Sprintf("value-%04d", i)

		if addErr := w.Add([]byte(k), []byte(v)); addErr != nil {
			t.Fatalf("add %d: %s", i, addErr)
		}

		keys = append(keys, k)
		values = append(values, v)
	}

	if finishErr := w.Finish(); finishErr != nil {
		t.Fatalf("finish: %s", finishErr)
	}

	return path, keys, values
}

func TestWriterReaderGetRoundTrip(t *testing.T) {
	path, keys, values := buildFile(t, 200, 4)

	r, openErr := Open(path, nil)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer r.Close()

	for i, k := range keys {
		got, getErr := r.Get([]byte(k))
		if getErr != nil {
			t.Fatalf("get %q: %s", k, getErr)
		}

		if !bytes.Equal(got, []byte(values[i])) {
			t.Fatalf("get %q: expected %q, got %q", k, values[i], got)
		}
	}

	if _, getErr := r.Get([]byte("missing")); getErr == nil {
		t.Fatalf("expected not-found error")
	}
}

func TestWriterReaderAtIsOrderPreserving(t *testing.T) {
	path, keys, values := buildFile(t, 97, 5)

	r, openErr := Open(path, nil)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer r.Close()

	if r.Count() != uint64(len(keys)) {
		t.Fatalf("expected count %d, got %d", len(keys), r.Count())
	}

	for i := range keys {
		it, atErr := r.At(uint64(i))
		if atErr != nil {
			t.Fatalf("at %d: %s", i, atErr)
		}

		if !bytes.Equal(it.Key(), []byte(keys[i])) {
			t.Fatalf("at %d: expected key %q, got %q", i, keys[i], it.Key())
		}

		if !bytes.Equal(it.Value(), []byte(values[i])) {
			t.Fatalf("at %d: expected value %q, got %q", i, values[i], it.Value())
		}

		it.Close()
	}
}

func TestIteratorWalksWholeFileInOrder(t *testing.T) {
	path, keys, _ := buildFile(t, 133, 3)

	r, openErr := Open(path, nil)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer r.Close()

	it, beginErr := r.Begin()
	if beginErr != nil {
		t.Fatalf("begin: %s", beginErr)
	}
	defer it.Close()

	var seen []string
	for !it.IsEnd() {
		seen = append(seen, string(it.Key()))
		if nextErr := it.Next(); nextErr != nil {
			t.Fatalf("next: %s", nextErr)
		}
	}

	if len(seen) != len(keys) {
		t.Fatalf("expected %d entries, saw %d", len(keys), len(seen))
	}

	for i := range keys {
		if seen[i] != keys[i] {
			t.Fatalf("position %d: expected %q, got %q", i, keys[i], seen[i])
		}
	}
}

func TestSeekFirstAndSeekNext(t *testing.T) {
	path, keys, _ := buildFile(t, 50, 4)

	r, openErr := Open(path, nil)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer r.Close()

	it, seekErr := r.SeekFirst([]byte(keys[10]))
	if seekErr != nil {
		t.Fatalf("seek first: %s", seekErr)
	}
	defer it.Close()

	if !bytes.Equal(it.Key(), []byte(keys[10])) {
		t.Fatalf("expected %q, got %q", keys[10], it.Key())
	}

	nextIt, nextErr := r.SeekNext([]byte(keys[10]))
	if nextErr != nil {
		t.Fatalf("seek next: %s", nextErr)
	}
	defer nextIt.Close()

	if !bytes.Equal(nextIt.Key(), []byte(keys[11])) {
		t.Fatalf("expected %q, got %q", keys[11], nextIt.Key())
	}
}

func TestSeekFirstBeforeRangeClampsToFirstEntry(t *testing.T) {
	path, keys, _ := buildFile(t, 20, 4)

	r, openErr := Open(path, nil)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer r.Close()

	it, seekErr := r.SeekFirst([]byte("aaa"))
	if seekErr != nil {
		t.Fatalf("seek first: %s", seekErr)
	}
	defer it.Close()

	if !bytes.Equal(it.Key(), []byte(keys[0])) {
		t.Fatalf("expected %q, got %q", keys[0], it.Key())
	}
}

func TestSeekFirstAfterRangeReturnsEnd(t *testing.T) {
	path, _, _ := buildFile(t, 20, 4)

	r, openErr := Open(path, nil)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer r.Close()

	it, seekErr := r.SeekFirst([]byte("zzzz"))
	if seekErr != nil {
		t.Fatalf("seek first: %s", seekErr)
	}
	defer it.Close()

	if !it.IsEnd() {
		t.Fatalf("expected end iterator")
	}
}

func TestReduceIsPropagatedToRoot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reduced.pbt")

	w, createErr := Create(path, 0, 4, 0, sumReduce)
	if createErr != nil {
		t.Fatalf("create: %s", createErr)
	}

	var expected uint64
	for i := 0; i < 40; i++ {
		v := make([]byte, 8)
		v[0] = byte(i % 7)
		expected += uint64(v[0])

		if addErr := w.Add([]byte(fmt.Sprintf("k%03d", i)), v); addErr != nil {
			t.Fatalf("add: %s", addErr)
		}
	}

	if finishErr := w.Finish(); finishErr != nil {
		t.Fatalf("finish: %s", finishErr)
	}

	r, openErr := Open(path, nil)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer r.Close()

	var total uint64
	traverseErr := r.Traverse(nil, func(key, value []byte) error {
		total += uint64(value[0])
		return nil
	})

	if traverseErr != nil {
		t.Fatalf("traverse: %s", traverseErr)
	}

	if total != expected {
		t.Fatalf("expected total %d, got %d", expected, total)
	}

	root := r.internalAt(r.footer.RootOffset)
	var rootTotal uint64
	for i := 0; i < root.NumChildren(); i++ {
		rootTotal += uint64(root.ReducedValue(i)[0])
	}

	if rootTotal != expected {
		t.Fatalf("expected root reduced total %d, got %d", expected, rootTotal)
	}
}

func lexMaxReduce(values [][]byte) ([]byte, error) {
	best := values[0]
	for _, v := range values[1:] {
		if bytes.Compare(v, best) > 0 {
			best = v
		}
	}

	return append([]byte(nil), best...), nil
}

func TestTraversePruneSkipsSubtree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prune.pbt")

	w, createErr := Create(path, 0, 3, 0, lexMaxReduce)
	if createErr != nil {
		t.Fatalf("create: %s", createErr)
	}

	const n = 60
	values := make([]string, n)
	for i := 0; i < n; i++ {
		v := fmt.Sprintf("value-%04d", i)
		values[i] = v

		if addErr := w.Add([]byte(fmt.Sprintf("key-%04d", i)), []byte(v)); addErr != nil {
			t.Fatalf("add %d: %s", i, addErr)
		}
	}

	if finishErr := w.Finish(); finishErr != nil {
		t.Fatalf("finish: %s", finishErr)
	}

	r, openErr := Open(path, nil)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer r.Close()

	cutoff := []byte(values[30])

	var seen, calls int
	traverseErr := r.Traverse(
		func(value []byte) bool {
			calls++
			return value == nil || bytes.Compare(value, cutoff) >= 0
		},
		func(key, value []byte) error {
			if bytes.Compare(value, cutoff) < 0 {
				t.Fatalf("visited value %q below cutoff %q: predicate should have excluded it", value, cutoff)
			}

			seen++
			return nil
		},
	)

	if traverseErr != nil {
		t.Fatalf("traverse: %s", traverseErr)
	}

	if seen == 0 || seen >= n {
		t.Fatalf("expected a proper subset of entries visited, got %d of %d", seen, n)
	}

	// Without pruning every one of the n leaf entries is tested; a pruned
	// subtree keeps the total number of predicate calls below n.
	if calls >= n {
		t.Fatalf("expected pruning to skip a subtree, predicate called %d times for %d entries", calls, n)
	}
}

func TestEmptyFileHasNoEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pbt")

	w, createErr := Create(path, 0, 4, 0, nil)
	if createErr != nil {
		t.Fatalf("create: %s", createErr)
	}

	if finishErr := w.Finish(); finishErr != nil {
		t.Fatalf("finish: %s", finishErr)
	}

	r, openErr := Open(path, nil)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer r.Close()

	if r.Count() != 0 {
		t.Fatalf("expected zero entries, got %d", r.Count())
	}

	if _, getErr := r.Get([]byte("anything")); getErr == nil {
		t.Fatalf("expected not-found on empty file")
	}

	it, beginErr := r.Begin()
	if beginErr != nil {
		t.Fatalf("begin: %s", beginErr)
	}
	defer it.Close()

	if !it.IsEnd() {
		t.Fatalf("expected end iterator on empty file")
	}
}

func TestAddOutOfOrderFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outoforder.pbt")

	w, createErr := Create(path, 0, 4, 0, nil)
	if createErr != nil {
		t.Fatalf("create: %s", createErr)
	}

	if addErr := w.Add([]byte("b"), []byte("1")); addErr != nil {
		t.Fatalf("add: %s", addErr)
	}

	if addErr := w.Add([]byte("a"), []byte("2")); addErr == nil {
		t.Fatalf("expected out-of-order error")
	}
}

func TestNextAcrossDuplicateKeyRunSpanningLeafBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dup.pbt")

	// maxChildren=2 with three equal-key entries guarantees the run
	// spans a leaf boundary (leaf1 = [("k","a"),("k","b")], leaf2 =
	// [("k","c")]), which used to send rollToNextLeaf into unbounded
	// recursion via a key-based reseek.
	w, createErr := Create(path, 0, 2, 0, nil)
	if createErr != nil {
		t.Fatalf("create: %s", createErr)
	}

	values := []string{"a", "b", "c"}
	for _, v := range values {
		if addErr := w.Add([]byte("k"), []byte(v)); addErr != nil {
			t.Fatalf("add: %s", addErr)
		}
	}

	if finishErr := w.Finish(); finishErr != nil {
		t.Fatalf("finish: %s", finishErr)
	}

	r, openErr := Open(path, nil)
	if openErr != nil {
		t.Fatalf("open: %s", openErr)
	}
	defer r.Close()

	it, beginErr := r.Begin()
	if beginErr != nil {
		t.Fatalf("begin: %s", beginErr)
	}
	defer it.Close()

	var seen []string
	for !it.IsEnd() {
		if !bytes.Equal(it.Key(), []byte("k")) {
			t.Fatalf("expected key 'k', got %q", it.Key())
		}

		seen = append(seen, string(it.Value()))
		if nextErr := it.Next(); nextErr != nil {
			t.Fatalf("next: %s", nextErr)
		}
	}

	if len(seen) != len(values) {
		t.Fatalf("expected %d entries, saw %d (%v)", len(values), len(seen), seen)
	}

	for i := range values {
		if seen[i] != values[i] {
			t.Fatalf("position %d: expected %q, got %q", i, values[i], seen[i])
		}
	}
}

func TestNonPositiveCacheSizeUsesDefaults(t *testing.T) {
	c := NewCache(0, -1)

	if c.internal.Len() != 0 || c.leaf.Len() != 0 {
		t.Fatalf("expected empty caches")
	}

	for i := 0; i <= DefaultInternalCacheSize; i++ {
		c.putInternal(uint64(i), InternalView{})
	}
	for i := 0; i <= DefaultLeafCacheSize; i++ {
		c.putLeaf(uint64(i), LeafView{})
	}

	if c.internal.Len() != DefaultInternalCacheSize || c.leaf.Len() != DefaultLeafCacheSize {
		t.Fatalf("expected capacities %d/%d, got %d/%d", DefaultInternalCacheSize, DefaultLeafCacheSize, c.internal.Len(), c.leaf.Len())
	}
}
