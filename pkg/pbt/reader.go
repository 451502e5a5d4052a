package pbt

import (
	"bytes"
	"sort"

	"github.com/pbtdb/pbtdb/pkg/pbtdberr"
	"github.com/pbtdb/pbtdb/pkg/storage"
)

//============================================= Reader

// Reader provides read-only, random-access and ordered traversal over
// one immutable PBT file. A Reader maps the file once on Open and
// serves every lookup out of that mapping plus an optional node view
// cache; it never re-reads the file from disk.
type Reader struct {
	store  *storage.File
	footer Footer
	cache  *Cache

	liveIters int
}

// Open maps path read-only and parses its footer. cache may be nil, in
// which case every descent re-parses node views directly from the
// mapped region (still zero-copy, just uncached).
func Open(path string, cache *Cache) (*Reader, error) {
	store, openErr := storage.Open(path, true)
	if openErr != nil {
		return nil, openErr
	}

	size := store.Size()
	if size < uint64(FooterSize) {
		store.Close()
		return nil, pbtdberr.ErrBadFooter
	}

	footerBuf := make([]byte, FooterSize)
	if readErr := store.Read(size-uint64(FooterSize), uint64(FooterSize), footerBuf); readErr != nil {
		store.Close()
		return nil, readErr
	}

	footer, parseErr := ParseFooter(footerBuf)
	if parseErr != nil {
		store.Close()
		return nil, parseErr
	}

	return &Reader{store: store, footer: footer, cache: cache}, nil
}

// Path returns the path the reader was opened with.
func (r *Reader) Path() string { return r.store.Path() }

// Footer returns the parsed footer of the underlying file.
func (r *Reader) Footer() Footer { return r.footer }

// Count returns the number of entries in the file.
func (r *Reader) Count() uint64 { return r.footer.Count() }

func (r *Reader) isLeafOffset(offset uint64) bool { return offset < r.footer.Level0End }

func (r *Reader) leafAt(offset uint64) LeafView {
	if r.cache != nil {
		if v, ok := r.cache.getLeaf(offset); ok {
			return v
		}
	}

	v := NewLeafView(r.store.Address()[offset:])
	if r.cache != nil {
		r.cache.putLeaf(offset, v)
	}

	return v
}

func (r *Reader) internalAt(offset uint64) InternalView {
	if r.cache != nil {
		if v, ok := r.cache.getInternal(offset); ok {
			return v
		}
	}

	v := NewInternalView(r.store.Address()[offset:])
	if r.cache != nil {
		r.cache.putInternal(offset, v)
	}

	return v
}

// searchInternal returns the smallest child index i such that
// RightKey(i) >= key, or v.NumChildren() if key sorts after every
// child's subtree.
func searchInternal(v InternalView, key []byte) int {
	n := v.NumChildren()
	return sort.Search(n, func(i int) bool {
		return bytes.Compare(v.RightKey(i), key) >= 0
	})
}

// searchLeaf returns the smallest entry index i such that Key(i) >=
// key, or v.NumChildren() if key sorts after every entry.
func searchLeaf(v LeafView, key []byte) int {
	n := v.NumChildren()
	return sort.Search(n, func(i int) bool {
		return bytes.Compare(v.Key(i), key) >= 0
	})
}

// Get returns the value stored for key, or ErrNotFound.
func (r *Reader) Get(key []byte) ([]byte, error) {
	if r.footer.TreeHeight == 0 {
		return nil, pbtdberr.ErrNotFound
	}

	offset := r.footer.RootOffset

	for !r.isLeafOffset(offset) {
		view := r.internalAt(offset)

		i := searchInternal(view, key)
		if i == view.NumChildren() {
			return nil, pbtdberr.ErrNotFound
		}

		if i == 0 && bytes.Compare(key, view.LeftKey()) < 0 {
			return nil, pbtdberr.ErrNotFound
		}

		offset = view.ChildOffset(i)
	}

	leaf := r.leafAt(offset)
	i := searchLeaf(leaf, key)
	if i == leaf.NumChildren() || !bytes.Equal(leaf.Key(i), key) {
		return nil, pbtdberr.ErrNotFound
	}

	return leaf.Value(i), nil
}

// descendSeekFirst walks from the root to the leaf that would contain
// the first entry >= key, returning the leaf offset, the index of
// that entry within the leaf's child array (== leaf.NumChildren() if
// key sorts after every entry in the whole file), and the global
// entry index of the leaf's first entry (so the caller can recover the
// absolute position without a second descent).
func (r *Reader) descendSeekFirst(key []byte) (leafOffset uint64, idx int, entryStart uint64, empty bool) {
	if r.footer.TreeHeight == 0 {
		return 0, 0, 0, true
	}

	offset := r.footer.RootOffset
	entryStart = r.footer.GlobalStart

	for !r.isLeafOffset(offset) {
		view := r.internalAt(offset)

		i := searchInternal(view, key)
		if i == view.NumChildren() {
			i = view.NumChildren() - 1
		}

		entryStart = view.ChildEntryStart(i)
		offset = view.ChildOffset(i)
	}

	leaf := r.leafAt(offset)
	i := searchLeaf(leaf, key)

	return offset, i, entryStart, false
}

// SeekFirst returns an iterator positioned at the first entry whose
// key is >= key. If no such entry exists the iterator's IsEnd is true.
func (r *Reader) SeekFirst(key []byte) (*Iterator, error) {
	leafOffset, idx, entryStart, empty := r.descendSeekFirst(key)
	if empty {
		return r.endIterator(), nil
	}

	leaf := r.leafAt(leafOffset)
	if idx == leaf.NumChildren() {
		return r.advanceToNextLeaf(leafOffset)
	}

	return r.newIteratorAt(leafOffset, idx, entryStart+uint64(idx)), nil
}

// SeekNext returns an iterator positioned at the first entry whose key
// is strictly greater than key.
func (r *Reader) SeekNext(key []byte) (*Iterator, error) {
	it, seekErr := r.SeekFirst(key)
	if seekErr != nil {
		return nil, seekErr
	}

	for !it.IsEnd() && bytes.Equal(it.Key(), key) {
		if nextErr := it.Next(); nextErr != nil {
			return nil, nextErr
		}
	}

	return it, nil
}

// SeekLast returns an iterator positioned at the last entry equal to
// key, or ErrNotFound if key is absent.
func (r *Reader) SeekLast(key []byte) (*Iterator, error) {
	it, seekErr := r.SeekFirst(key)
	if seekErr != nil {
		return nil, seekErr
	}

	if it.IsEnd() || !bytes.Equal(it.Key(), key) {
		return nil, pbtdberr.ErrNotFound
	}

	for {
		clone := it.Clone()
		if nextErr := clone.Next(); nextErr != nil {
			return nil, nextErr
		}

		if clone.IsEnd() || !bytes.Equal(clone.Key(), key) {
			return it, nil
		}

		it = clone
	}
}

// SeekPrev is not implemented; the format is designed for
// forward-only sequential scans.
func (r *Reader) SeekPrev(key []byte) (*Iterator, error) {
	return nil, pbtdberr.ErrNotImplemented
}

// findChildForIndex returns the largest child index i such that
// ChildEntryStart(i) <= index.
func findChildForIndex(v InternalView, index uint64) int {
	n := v.NumChildren()
	i := sort.Search(n, func(i int) bool {
		return v.ChildEntryStart(i) > index
	})

	if i == 0 {
		return 0
	}

	return i - 1
}

// At returns an iterator positioned at the global entry index.
func (r *Reader) At(index uint64) (*Iterator, error) {
	if index < r.footer.GlobalStart || index >= r.footer.GlobalEnd {
		return nil, pbtdberr.ErrIndexOutOfRange
	}

	offset := r.footer.RootOffset
	entryStart := r.footer.GlobalStart

	for !r.isLeafOffset(offset) {
		view := r.internalAt(offset)
		i := findChildForIndex(view, index)
		entryStart = view.ChildEntryStart(i)
		offset = view.ChildOffset(i)
	}

	return r.newIteratorAt(offset, int(index-entryStart), index), nil
}

// Seek is an alias for At, matching the spec's positional naming.
func (r *Reader) Seek(index uint64) (*Iterator, error) { return r.At(index) }

// Begin returns an iterator at the first entry in the file.
func (r *Reader) Begin() (*Iterator, error) {
	if r.footer.TreeHeight == 0 {
		return r.endIterator(), nil
	}

	return r.At(r.footer.GlobalStart)
}

// End returns an exhausted iterator, useful as a scan bound.
func (r *Reader) End() *Iterator { return r.endIterator() }

// advanceToNextLeaf is used when a seek lands past the end of a leaf's
// local entries (only possible when that leaf is the rightmost leaf in
// the file, since descendSeekFirst clamps to the last child
// otherwise); in that case there is no next entry.
func (r *Reader) advanceToNextLeaf(leafOffset uint64) (*Iterator, error) {
	return r.endIterator(), nil
}

//============================================= Traverse

// TraversePredicate is applied to a single value: a child's reduced
// value, to decide whether its subtree is worth descending into, or a
// leaf's own value, to decide whether it belongs in the output. A nil
// predicate matches everything. For pruning to be sound, predicate
// must be consistent with reduce: if predicate(reduce(vs)) is false,
// predicate(v) must be false for every v in vs.
type TraversePredicate func(value []byte) bool

// TraverseVisit is called once per matching leaf entry, in key order.
type TraverseVisit func(key, value []byte) error

// Traverse walks the tree, pruning subtrees whose reduced value fails
// predicate, and invokes visit on every leaf entry whose own value
// passes predicate within the subtrees that remain.
func (r *Reader) Traverse(predicate TraversePredicate, visit TraverseVisit) error {
	if r.footer.TreeHeight == 0 {
		return nil
	}

	return r.traverseNode(r.footer.RootOffset, predicate, visit)
}

func (r *Reader) traverseNode(offset uint64, predicate TraversePredicate, visit TraverseVisit) error {
	if r.isLeafOffset(offset) {
		leaf := r.leafAt(offset)
		for i := 0; i < leaf.NumChildren(); i++ {
			value := leaf.Value(i)
			if predicate != nil && !predicate(value) {
				continue
			}

			if err := visit(leaf.Key(i), value); err != nil {
				return err
			}
		}

		return nil
	}

	view := r.internalAt(offset)

	for i := 0; i < view.NumChildren(); i++ {
		reduced := view.ReducedValue(i)

		if predicate != nil && !predicate(reduced) {
			continue
		}

		if err := r.traverseNode(view.ChildOffset(i), predicate, visit); err != nil {
			return err
		}
	}

	return nil
}

// Close unmaps the underlying file. It fails with ErrReaderBusy while
// iterators derived from this reader are still open.
func (r *Reader) Close() error {
	if r.liveIters > 0 {
		return pbtdberr.ErrReaderBusy
	}

	return r.store.Close()
}
