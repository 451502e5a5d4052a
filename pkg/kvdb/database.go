package kvdb

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/pbtdb/pbtdb/pkg/lsm"
	"github.com/pbtdb/pbtdb/pkg/pbt"
	"github.com/pbtdb/pbtdb/pkg/pbtdberr"
)

//============================================= Buffer

type bufferEntry struct {
	key   []byte
	value []byte
}

type buffer struct {
	entries []bufferEntry
	bytes   uint64
}

func (b *buffer) add(key, value []byte) {
	b.entries = append(b.entries, bufferEntry{
		key:   append([]byte(nil), key...),
		value: append([]byte(nil), value...),
	})

	b.bytes += uint64(len(key) + len(value))
}

func (b *buffer) reset() {
	b.entries = nil
	b.bytes = 0
}

//============================================= Database

// Database is the embedded KV façade: an in-memory insertion buffer
// backed by a cascading LSM of immutable PBT files. It is not safe
// for concurrent use; the scheduling model is single-threaded
// cooperative, matching the underlying PBT/LSM layers.
type Database struct {
	dir string
	cfg Config

	manager *lsm.Manager
	cache   *pbt.Cache

	buf buffer

	// readers and order together implement the "newest file wins"
	// invariant: order lists filenames newest-first, and Get consults
	// readers in that order, returning the first hit.
	readers map[string]*pbt.Reader
	order   []string

	log *zap.SugaredLogger
}

// Open creates or opens the database directory per Config, recovers
// LSM state from the directory listing, and opens a reader for every
// known file.
func Open(dir string, cfg Config) (*Database, error) {
	if cfg.ErrorIfExists && cfg.DeleteIfExists {
		return nil, pbtdberr.ErrConfigConflict
	}

	info, statErr := os.Stat(dir)
	exists := statErr == nil

	if statErr != nil && !os.IsNotExist(statErr) {
		return nil, statErr
	}

	if exists && cfg.DeleteIfExists {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return nil, rmErr
		}

		exists = false
	}

	if exists && cfg.ErrorIfExists {
		return nil, pbtdberr.ErrDirExists
	}

	if !exists {
		if !cfg.CreateIfMissing {
			return nil, pbtdberr.ErrDirMissing
		}

		if mkErr := os.MkdirAll(dir, 0755); mkErr != nil {
			return nil, mkErr
		}
	} else if !info.IsDir() {
		return nil, pbtdberr.ErrDirExists
	}

	manager, recoverErr := lsm.Recover(dir)
	if recoverErr != nil {
		return nil, recoverErr
	}

	db := &Database{
		dir:     dir,
		cfg:     cfg,
		manager: manager,
		cache:   pbt.NewCache(cfg.InternalCacheSize, cfg.LeafCacheSize),
		readers: make(map[string]*pbt.Reader),
		log:     cfg.logger(),
	}

	var all []lsm.FileEntry
	for _, list := range manager.Levels() {
		all = append(all, list...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Index > all[j].Index })

	for _, e := range all {
		path := e.Path(dir)
		name := filepath.Base(path)

		r, openErr := pbt.Open(path, db.cache)
		if openErr != nil {
			return nil, openErr
		}

		db.readers[name] = r
		db.order = append(db.order, name)
	}

	return db, nil
}

// Add inserts (key, value) into the in-memory buffer, flushing if the
// buffer now exceeds MaxBufferSize.
func (db *Database) Add(key, value []byte) error {
	db.buf.add(key, value)

	if db.buf.bytes > db.cfg.MaxBufferSize {
		return db.Flush()
	}

	return nil
}

// Get returns the value for key. The in-memory buffer is not
// consulted; only flushed entries are observable, per the documented
// open-question resolution.
func (db *Database) Get(key []byte) ([]byte, error) {
	for _, name := range db.order {
		v, getErr := db.readers[name].Get(key)
		if getErr == nil {
			return v, nil
		}

		if !errors.Is(getErr, pbtdberr.ErrNotFound) {
			return nil, getErr
		}
	}

	return nil, pbtdberr.ErrNotFound
}

// Count returns the number of entries currently reachable across all
// flushed files. Merges never drop duplicate keys, only reorder them
// newest-first, so this total never shrinks except via a future
// explicit garbage-collection pass (not implemented here).
func (db *Database) Count() uint64 {
	var total uint64
	for _, r := range db.readers {
		total += r.Count()
	}

	return total
}

// At returns the (key, value) pair at the given logical position,
// walking readers oldest-first and subtracting each reader's Count()
// from the running index until it falls within one.
func (db *Database) At(index uint64) ([]byte, []byte, error) {
	var running uint64

	for i := len(db.order) - 1; i >= 0; i-- {
		r := db.readers[db.order[i]]
		count := r.Count()

		if index < running+count {
			local := index - running
			it, atErr := r.At(r.Footer().GlobalStart + local)
			if atErr != nil {
				return nil, nil, atErr
			}
			defer it.Close()

			return it.Key(), it.Value(), nil
		}

		running += count
	}

	return nil, nil, pbtdberr.ErrIndexOutOfRange
}

func (db *Database) readerIterators(seek func(*pbt.Reader) (*pbt.Iterator, error)) ([]*pbt.Iterator, error) {
	iters := make([]*pbt.Iterator, 0, len(db.order))

	for _, name := range db.order {
		it, seekErr := seek(db.readers[name])
		if seekErr != nil {
			for _, opened := range iters {
				opened.Close()
			}

			return nil, seekErr
		}

		iters = append(iters, it)
	}

	return iters, nil
}

// Begin returns a merged iterator over every entry, in key order.
func (db *Database) Begin() (*lsm.MergeIterator, error) {
	iters, err := db.readerIterators(func(r *pbt.Reader) (*pbt.Iterator, error) { return r.Begin() })
	if err != nil {
		return nil, err
	}

	return lsm.NewMergeIterator(iters), nil
}

// Seek returns a merged iterator positioned at the first entry whose
// key is >= key.
func (db *Database) Seek(key []byte) (*lsm.MergeIterator, error) {
	iters, err := db.readerIterators(func(r *pbt.Reader) (*pbt.Iterator, error) { return r.SeekFirst(key) })
	if err != nil {
		return nil, err
	}

	return lsm.NewMergeIterator(iters), nil
}

// Range returns a merged iterator positioned at the first entry whose
// key is >= start. The caller drives the scan forward with Next and
// stops once a key sorts after end; the iterator itself carries no
// upper bound, since PBT leaves have no sibling pointer to stop a
// descent early. Range only validates that the bounds aren't
// inverted.
func (db *Database) Range(start, end []byte) (*lsm.MergeIterator, error) {
	if bytes.Compare(start, end) > 0 {
		return nil, pbtdberr.ErrRangeInverted
	}

	return db.Seek(start)
}

// SeekIndex looks up the key of the entry at the given logical index
// (see At) and returns Seek(key): a merged iterator positioned at the
// first entry with that key. When the key has duplicates this is the
// first of them, which is not necessarily the entry at index itself.
func (db *Database) SeekIndex(index uint64) (*lsm.MergeIterator, error) {
	key, _, atErr := db.At(index)
	if atErr != nil {
		return nil, atErr
	}

	return db.Seek(key)
}

// Traverse calls reader.Traverse on every open file with predicate and
// visit. Unlike Get, this does not dedup: a key stored more than once,
// in one file or across files, is visited once per stored copy, since
// merges keep every duplicate.
func (db *Database) Traverse(predicate pbt.TraversePredicate, visit pbt.TraverseVisit) error {
	for _, name := range db.order {
		if err := db.readers[name].Traverse(predicate, visit); err != nil {
			return err
		}
	}

	return nil
}

// Flush drains the in-memory buffer into a new level-0 PBT file, then
// consults the level manager for a cascaded merge.
func (db *Database) Flush() error {
	if len(db.buf.entries) == 0 {
		return nil
	}

	entries := db.buf.entries
	sort.SliceStable(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].key, entries[j].key) < 0
	})

	path := db.manager.NextLevel0Path()
	w, createErr := pbt.Create(path, db.manager.GlobalCounter(), db.cfg.MaxNodeChildren, db.cfg.InitialPBTSize, pbt.ReduceFunc(db.cfg.Reduce))
	if createErr != nil {
		return createErr
	}

	for _, e := range entries {
		if addErr := w.Add(e.key, e.value); addErr != nil {
			return addErr
		}
	}

	if finishErr := w.Finish(); finishErr != nil {
		return finishErr
	}

	r, openErr := pbt.Open(path, db.cache)
	if openErr != nil {
		return openErr
	}

	name := filepath.Base(path)
	db.readers[name] = r
	db.order = append([]string{name}, db.order...)

	flushed := uint64(len(entries))
	db.manager.AdvanceLevel0(flushed)
	db.buf.reset()

	db.log.Infow("flushed buffer to level 0", "file", name, "entries", flushed)

	if plan, ok := db.manager.CascadedMerge(db.cfg.MaxLevelCount); ok {
		if mergeErr := db.executeMerge(plan); mergeErr != nil {
			return mergeErr
		}
	}

	return nil
}

// Compact forces a full merge of every currently tracked file down to
// a single file, regardless of per-level thresholds.
func (db *Database) Compact() error {
	if flushErr := db.Flush(); flushErr != nil {
		return flushErr
	}

	for {
		plan, ok := db.manager.FullMerge()
		if !ok {
			return nil
		}

		if mergeErr := db.executeMerge(plan); mergeErr != nil {
			return mergeErr
		}
	}
}

func (db *Database) executeMerge(plan lsm.Plan) error {
	consumedNames := make(map[string]bool, len(plan.Sources))
	for _, e := range plan.Sources {
		consumedNames[filepath.Base(e.Path(db.dir))] = true
	}

	// Build the merge's source iterators in the database's own
	// newest-first order, restricted to the files this plan consumes,
	// so duplicate keys resolve the same way they would under Get.
	var mergeNames []string
	for _, name := range db.order {
		if consumedNames[name] {
			mergeNames = append(mergeNames, name)
		}
	}

	var minGlobalStart uint64
	haveMin := false

	iters := make([]*pbt.Iterator, 0, len(mergeNames))
	for _, name := range mergeNames {
		r := db.readers[name]

		if !haveMin || r.Footer().GlobalStart < minGlobalStart {
			minGlobalStart = r.Footer().GlobalStart
			haveMin = true
		}

		it, beginErr := r.Begin()
		if beginErr != nil {
			return beginErr
		}

		iters = append(iters, it)
	}

	destPath := (lsm.FileEntry{Level: plan.DestLevel, Index: plan.DestIndex}).Path(db.dir)

	// The merge is built into a temporary file and renamed over destPath
	// once the sources are removed, since destPath may name one of them.
	tmpPath := destPath + ".tmp"

	w, createErr := pbt.Create(tmpPath, minGlobalStart, db.cfg.MaxNodeChildren, db.cfg.InitialPBTSize, pbt.ReduceFunc(db.cfg.Reduce))
	if createErr != nil {
		return createErr
	}

	merged := lsm.NewMergeIterator(iters)

	if mergeErr := w.Merge(merged); mergeErr != nil {
		merged.Close()
		return mergeErr
	}

	if closeErr := merged.Close(); closeErr != nil {
		return closeErr
	}

	if finishErr := w.Finish(); finishErr != nil {
		return finishErr
	}

	// insertAt counts the kept (non-consumed) files preceding the first
	// consumed file in the current order, so the merged file is spliced
	// into the same relative position in the post-merge order.
	insertAt := 0
	for _, name := range db.order {
		if consumedNames[name] {
			break
		}

		insertAt++
	}

	var kept []string
	for _, name := range db.order {
		if consumedNames[name] {
			r := db.readers[name]
			path := r.Path()

			if closeErr := r.Close(); closeErr != nil {
				return closeErr
			}

			if rmErr := os.Remove(path); rmErr != nil {
				return rmErr
			}

			delete(db.readers, name)
			continue
		}

		kept = append(kept, name)
	}

	if renameErr := os.Rename(tmpPath, destPath); renameErr != nil {
		return renameErr
	}

	destReader, openErr := pbt.Open(destPath, db.cache)
	if openErr != nil {
		return openErr
	}

	destName := filepath.Base(destPath)
	db.readers[destName] = destReader

	if insertAt > len(kept) {
		insertAt = len(kept)
	}

	newOrder := make([]string, 0, len(kept)+1)
	newOrder = append(newOrder, kept[:insertAt]...)
	newOrder = append(newOrder, destName)
	newOrder = append(newOrder, kept[insertAt:]...)
	db.order = newOrder

	db.manager.Apply(plan)

	db.log.Infow("merged files", "sources", len(plan.Sources), "dest", destName)

	return nil
}

// Close flushes any remaining buffered entries and closes every open
// reader.
func (db *Database) Close() error {
	if flushErr := db.Flush(); flushErr != nil {
		return flushErr
	}

	var firstErr error
	for _, r := range db.readers {
		if closeErr := r.Close(); closeErr != nil && firstErr == nil {
			firstErr = closeErr
		}
	}

	return firstErr
}
