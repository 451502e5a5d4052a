package pbt

import (
	"bytes"

	"github.com/pbtdb/pbtdb/pkg/pbtdberr"
	"github.com/pbtdb/pbtdb/pkg/storage"
)

//============================================= Writer

// ReduceFunc folds a set of values into a single reduced value. At a
// leaf it is applied to the leaf's own values; at an internal node it
// is applied to the reduced values of its children. A nil ReduceFunc
// disables reduction: internal nodes carry zero-length reduced values.
type ReduceFunc func(values [][]byte) ([]byte, error)

// MergeIterator is the minimal cursor interface Writer.Merge consumes.
// It is satisfied implicitly by the k-way merge iterator the caller
// builds across existing PBT readers; pbt never imports that package.
type MergeIterator interface {
	IsEnd() bool
	Key() []byte
	Value() []byte
	Next() error
}

// nodeDescriptor records everything a parent level needs to know about
// a child node that has already been flushed: where it lives, what it
// spans, and what it reduces to.
type nodeDescriptor struct {
	minKey     []byte
	maxKey     []byte
	entryStart uint64
	offset     uint64
	size       uint64
	reduced    []byte
}

// Writer builds one immutable PBT file in a single forward pass:
// leaves are flushed as children accumulate, then parent levels are
// built bottom-up over the flushed leaf descriptors, finishing with a
// single root and a fixed footer.
type Writer struct {
	store *storage.File

	globalStart uint64
	maxChildren int
	reduce      ReduceFunc

	finished bool

	writeOffset uint64
	entryCursor uint64

	leafBuilder   *LeafBuilder
	leafMinKey    []byte
	leafValues    [][]byte
	pendingLeaves []nodeDescriptor

	lastKey    []byte
	haveLast   bool
	level0End  uint64
	totalCount uint64
}

// Create opens a new PBT file at path for writing. globalStart is the
// global index assigned to the first entry written;
// maxNodeChildren bounds the fan-out of every node; initialSize is the
// initial byte allocation for the backing storage.File.
func Create(path string, globalStart uint64, maxNodeChildren int, initialSize uint64, reduce ReduceFunc) (*Writer, error) {
	store, openErr := storage.Open(path, false)
	if openErr != nil {
		return nil, openErr
	}

	if initialSize > 0 {
		if growErr := store.Grow(initialSize); growErr != nil {
			store.Close()
			return nil, growErr
		}
	}

	return &Writer{
		store:       store,
		globalStart: globalStart,
		maxChildren: maxNodeChildren,
		reduce:      reduce,
		entryCursor: globalStart,
		leafBuilder: NewLeafBuilder(),
	}, nil
}

// Add appends one (key, value) pair. Keys must be added in
// non-decreasing order.
func (w *Writer) Add(key, value []byte) error {
	if w.finished {
		return pbtdberr.ErrAlreadyFinished
	}

	if w.haveLast && bytes.Compare(key, w.lastKey) < 0 {
		return pbtdberr.ErrKeyOutOfOrder
	}

	w.lastKey = append([]byte(nil), key...)
	w.haveLast = true

	if w.leafBuilder.Len() == 0 {
		w.leafMinKey = append([]byte(nil), key...)
	}

	w.leafBuilder.Add(append([]byte(nil), key...), append([]byte(nil), value...))
	w.leafValues = append(w.leafValues, value)
	w.totalCount++

	if w.leafBuilder.Len() >= w.maxChildren {
		return w.flushLeaf()
	}

	return nil
}

// Merge drains it, a cursor yielding keys in non-decreasing order
// (every duplicate kept, newest copy first), into the writer.
func (w *Writer) Merge(it MergeIterator) error {
	for !it.IsEnd() {
		if addErr := w.Add(it.Key(), it.Value()); addErr != nil {
			return addErr
		}

		if nextErr := it.Next(); nextErr != nil {
			return nextErr
		}
	}

	return nil
}

func (w *Writer) reduceValues(values [][]byte) ([]byte, error) {
	if w.reduce == nil {
		return nil, nil
	}

	return w.reduce(values)
}

func (w *Writer) flushLeaf() error {
	n := w.leafBuilder.Len()
	if n == 0 {
		return nil
	}

	maxKey := append([]byte(nil), w.leafBuilder.keys[n-1]...)
	entryStart := w.entryCursor

	reduced, reduceErr := w.reduceValues(w.leafValues)
	if reduceErr != nil {
		return pbtdberr.ErrReduceFailed
	}

	buf := w.leafBuilder.Bytes()
	offset, writeErr := w.writeRaw(buf)
	if writeErr != nil {
		return writeErr
	}

	w.pendingLeaves = append(w.pendingLeaves, nodeDescriptor{
		minKey:     w.leafMinKey,
		maxKey:     maxKey,
		entryStart: entryStart,
		offset:     offset,
		size:       uint64(len(buf)),
		reduced:    reduced,
	})

	w.entryCursor += uint64(n)
	w.leafBuilder = NewLeafBuilder()
	w.leafValues = nil
	w.leafMinKey = nil

	return nil
}

func (w *Writer) writeRaw(buf []byte) (uint64, error) {
	offset := w.writeOffset
	need := offset + uint64(len(buf))

	if growErr := w.store.Grow(need); growErr != nil {
		return 0, growErr
	}

	copy(w.store.Address()[offset:need], buf)
	w.writeOffset = need

	return offset, nil
}

// buildParentLevel groups descriptors maxChildren at a time into
// internal nodes and returns the descriptors for the level above.
func (w *Writer) buildParentLevel(level []nodeDescriptor) ([]nodeDescriptor, error) {
	var parents []nodeDescriptor

	for i := 0; i < len(level); i += w.maxChildren {
		end := i + w.maxChildren
		if end > len(level) {
			end = len(level)
		}

		group := level[i:end]

		b := NewInternalBuilder(group[0].minKey)
		reducedInputs := make([][]byte, 0, len(group))

		for _, child := range group {
			b.AddChild(child.maxKey, child.reduced, child.entryStart, child.offset, child.size)
			reducedInputs = append(reducedInputs, child.reduced)
		}

		reduced, reduceErr := w.reduceValues(reducedInputs)
		if reduceErr != nil {
			return nil, pbtdberr.ErrReduceFailed
		}

		buf := b.Bytes()
		offset, writeErr := w.writeRaw(buf)
		if writeErr != nil {
			return nil, writeErr
		}

		parents = append(parents, nodeDescriptor{
			minKey:     group[0].minKey,
			maxKey:     group[len(group)-1].maxKey,
			entryStart: group[0].entryStart,
			offset:     offset,
			size:       uint64(len(buf)),
			reduced:    reduced,
		})
	}

	return parents, nil
}

// Finish flushes any partial leaf, builds internal levels bottom-up
// until a single root remains, writes the footer, flushes the backing
// file to disk, and closes it.
func (w *Writer) Finish() error {
	if w.finished {
		return pbtdberr.ErrAlreadyFinished
	}
	w.finished = true

	if flushErr := w.flushLeaf(); flushErr != nil {
		return flushErr
	}

	w.level0End = w.writeOffset

	footer := Footer{
		GlobalStart: w.globalStart,
		GlobalEnd:   w.globalStart + w.totalCount,
		Level0End:   w.level0End,
	}

	if len(w.pendingLeaves) == 0 {
		footer.TreeHeight = 0
		footer.RootOffset = 0
		footer.RootSize = 0

		return w.writeFooterAndClose(footer)
	}

	level := w.pendingLeaves
	height := uint16(1)

	for len(level) > 1 {
		next, buildErr := w.buildParentLevel(level)
		if buildErr != nil {
			return buildErr
		}

		level = next
		height++
	}

	root := level[0]
	footer.TreeHeight = height
	footer.RootOffset = root.offset
	footer.RootSize = root.size

	return w.writeFooterAndClose(footer)
}

func (w *Writer) writeFooterAndClose(footer Footer) error {
	footerBytes := footer.Bytes()

	if _, writeErr := w.writeRaw(footerBytes); writeErr != nil {
		return writeErr
	}

	if resizeErr := w.store.Resize(w.writeOffset); resizeErr != nil {
		return resizeErr
	}

	if flushErr := w.store.Flush(); flushErr != nil {
		return flushErr
	}

	return w.store.Close()
}

// Abort closes and removes the partially written file.
func (w *Writer) Abort() error {
	return w.store.Remove()
}
