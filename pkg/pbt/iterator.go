package pbt

//============================================= Iterator

// Iterator is a forward-only cursor over one PBT file's entries in
// key order. It tracks its current leaf, local index, and global entry
// index; crossing a leaf boundary re-descends from the root via the
// global index (Reader.At), since PBT leaves carry no sibling
// pointers. Using the global index rather than the last key's value
// keeps this correct (and non-recursive) across runs of duplicate
// keys that span a leaf boundary.
type Iterator struct {
	r *Reader

	end bool

	leafOffset  uint64
	localIdx    int
	globalIndex uint64
	leaf        LeafView
}

// newIteratorAt builds an iterator at a known-valid (leafOffset,
// localIdx) position whose global entry index is globalIndex; callers
// must ensure localIdx is within the leaf's range, since PBT leaves
// carry no sibling pointer to roll forward from here.
func (r *Reader) newIteratorAt(leafOffset uint64, localIdx int, globalIndex uint64) *Iterator {
	r.liveIters++

	leaf := r.leafAt(leafOffset)
	return &Iterator{r: r, leafOffset: leafOffset, localIdx: localIdx, globalIndex: globalIndex, leaf: leaf}
}

func (r *Reader) endIterator() *Iterator {
	r.liveIters++
	return &Iterator{r: r, end: true}
}

// IsEnd reports whether the iterator has been exhausted.
func (it *Iterator) IsEnd() bool { return it.end }

// Key returns the current entry's key. It must not be called once
// IsEnd is true.
func (it *Iterator) Key() []byte { return it.leaf.Key(it.localIdx) }

// Value returns the current entry's value. It must not be called once
// IsEnd is true.
func (it *Iterator) Value() []byte { return it.leaf.Value(it.localIdx) }

// rollToNextLeaf advances past the last entry of the current leaf by
// resolving the immediately following global entry index through
// Reader.At, rather than re-seeking by key — a key-based reseek would
// land back at the *first* occurrence of a duplicate run and require
// re-skipping it, which can re-enter the same leaf boundary and
// recurse without making progress whenever a duplicate-key run spans
// more than one leaf.
func (it *Iterator) rollToNextLeaf() error {
	next := it.globalIndex + 1

	if next >= it.r.footer.GlobalEnd {
		it.end = true
		return nil
	}

	ni, atErr := it.r.At(next)
	if atErr != nil {
		return atErr
	}

	it.r.liveIters--
	it.leafOffset = ni.leafOffset
	it.localIdx = ni.localIdx
	it.globalIndex = ni.globalIndex
	it.leaf = ni.leaf
	it.end = false

	return nil
}

// Next advances the iterator by one entry.
func (it *Iterator) Next() error {
	if it.end {
		return nil
	}

	it.localIdx++
	if it.localIdx < it.leaf.NumChildren() {
		it.globalIndex++
		return nil
	}

	return it.rollToNextLeaf()
}

// Clone returns an independent copy of the iterator positioned at the
// same entry.
func (it *Iterator) Clone() *Iterator {
	it.r.liveIters++

	return &Iterator{
		r:           it.r,
		end:         it.end,
		leafOffset:  it.leafOffset,
		localIdx:    it.localIdx,
		globalIndex: it.globalIndex,
		leaf:        it.leaf,
	}
}

// Close releases the iterator's hold on its reader. Readers refuse to
// Close while any iterator derived from them remains open.
func (it *Iterator) Close() error {
	if it.r.liveIters > 0 {
		it.r.liveIters--
	}

	return nil
}
