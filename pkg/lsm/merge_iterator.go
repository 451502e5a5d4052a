package lsm

import (
	"bytes"

	"github.com/pbtdb/pbtdb/pkg/pbt"
)

//============================================= Merged Iterator

type mergeSource struct {
	it    *pbt.Iterator
	order int
}

// MergeIterator performs a k-way merge over a set of pbt.Iterators
// ordered newest-first. When two sources carry the same key, only the
// newest source's entry is surfaced at this position; the others are
// left untouched and will be emitted in their turn once the merge
// reaches them, so every occurrence on disk still appears in the
// output exactly once (the newest copy simply sorts first). This
// preserves entry counts across a merge: Writer.Merge must not lose
// entries, only reorder duplicate keys so the newest comes first. It
// satisfies pbt.MergeIterator, so a MergeIterator can be fed directly
// into a pbt.Writer.Merge call.
type MergeIterator struct {
	sources []mergeSource

	current int
	end     bool
	key     []byte
	value   []byte
}

// NewMergeIterator builds a merged view over iters. iters[0] must be
// the newest source; ties are broken in favor of lower indices.
func NewMergeIterator(iters []*pbt.Iterator) *MergeIterator {
	sources := make([]mergeSource, len(iters))
	for i, it := range iters {
		sources[i] = mergeSource{it: it, order: i}
	}

	m := &MergeIterator{sources: sources, current: -1}
	m.recompute()

	return m
}

// recompute picks the winning source for the current position: the
// lexicographically smallest key among all non-exhausted sources,
// ties broken toward the lower (newer) order. It does not advance any
// source — advancing the previous winner is Next()'s job.
func (m *MergeIterator) recompute() {
	best := -1

	for i, s := range m.sources {
		if s.it.IsEnd() {
			continue
		}

		if best == -1 {
			best = i
			continue
		}

		cmp := bytes.Compare(s.it.Key(), m.sources[best].it.Key())
		if cmp < 0 || (cmp == 0 && s.order < m.sources[best].order) {
			best = i
		}
	}

	m.current = best

	if best == -1 {
		m.end = true
		m.key = nil
		m.value = nil
		return
	}

	m.end = false
	m.key = append([]byte(nil), m.sources[best].it.Key()...)
	m.value = append([]byte(nil), m.sources[best].it.Value()...)
}

// IsEnd reports whether every source is exhausted.
func (m *MergeIterator) IsEnd() bool { return m.end }

// Key returns the winning entry's key for the current position.
func (m *MergeIterator) Key() []byte { return m.key }

// Value returns the winning entry's value for the current position.
func (m *MergeIterator) Value() []byte { return m.value }

// Next advances past the current position: only the source that won
// the current position is advanced, so a duplicate key held by a
// different source is left in place and surfaces on a later Next().
func (m *MergeIterator) Next() error {
	if m.end {
		return nil
	}

	if nextErr := m.sources[m.current].it.Next(); nextErr != nil {
		return nextErr
	}

	m.recompute()
	return nil
}

// Close releases every underlying source iterator.
func (m *MergeIterator) Close() error {
	for _, s := range m.sources {
		if closeErr := s.it.Close(); closeErr != nil {
			return closeErr
		}
	}

	return nil
}
