package lsm

import "sort"

//============================================= Merge Planning

// maxCascadeLevels bounds how many levels CascadedMerge will fold in
// while looking for a level with room; once the bound is reached the
// merge lands at the next level whether or not that level has room.
// In practice a real workload settles within a handful of levels.
const maxCascadeLevels = 64

// Plan describes a merge: the files it consumes and where the merged
// result lands. Sources are sorted by increasing (level, index). This
// is not the order in which they are fed to a MergeIterator, which
// expects its newest source first.
type Plan struct {
	Sources  []FileEntry
	DestLevel uint64
	DestIndex uint64
}

func sortedEntries(entries []FileEntry) []FileEntry {
	out := make([]FileEntry, len(entries))
	copy(out, entries)

	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}

		return out[i].Index < out[j].Index
	})

	return out
}

func maxIndexOf(entries []FileEntry) uint64 {
	var max uint64
	for _, e := range entries {
		if e.Index > max {
			max = e.Index
		}
	}

	return max
}

// CascadedMerge plans a merge if level 0 holds at least maxLevelCount
// files. The merge consumes all of level 0, then recursively folds
// into each next level while that level would otherwise overflow, and
// lands at the first level with room. Returns ok=false if level 0 is
// under the threshold.
func (m *Manager) CascadedMerge(maxLevelCount int) (Plan, bool) {
	if len(m.byLevel[0]) < maxLevelCount {
		return Plan{}, false
	}

	consumed := append([]FileEntry(nil), m.byLevel[0]...)
	srcTopLevel := uint64(0)
	destLevel := uint64(1)

	for i := 0; i < maxCascadeLevels; i++ {
		existing := m.byLevel[destLevel]
		if len(existing)+1 <= maxLevelCount {
			break
		}

		consumed = append(consumed, existing...)
		srcTopLevel = destLevel
		destLevel++
	}

	var destIndex uint64
	if destLevel == srcTopLevel {
		destIndex = maxIndexOf(consumed)
	} else {
		topLevelEntries := m.byLevel[srcTopLevel]
		destIndex = maxIndexOf(topLevelEntries) + 1
	}

	return Plan{Sources: sortedEntries(consumed), DestLevel: destLevel, DestIndex: destIndex}, true
}

// FullMerge plans a merge collapsing every tracked file, across every
// level, into a single file at the highest occupied level. Returns
// ok=false if fewer than two files are tracked.
func (m *Manager) FullMerge() (Plan, bool) {
	var all []FileEntry
	var topLevel uint64
	var haveAny bool

	for level, list := range m.byLevel {
		all = append(all, list...)

		if !haveAny || level > topLevel {
			topLevel = level
			haveAny = true
		}
	}

	if len(all) < 2 {
		return Plan{}, false
	}

	return Plan{Sources: sortedEntries(all), DestLevel: topLevel, DestIndex: maxIndexOf(all)}, true
}

// Apply removes the plan's consumed files from tracking and registers
// the produced destination file, advancing the free index if needed.
func (m *Manager) Apply(plan Plan) {
	consumed := make(map[FileEntry]bool, len(plan.Sources))
	for _, e := range plan.Sources {
		consumed[e] = true
	}

	for level, list := range m.byLevel {
		var kept []FileEntry
		for _, e := range list {
			if !consumed[e] {
				kept = append(kept, e)
			}
		}

		m.byLevel[level] = kept
	}

	dest := FileEntry{Level: plan.DestLevel, Index: plan.DestIndex}
	m.byLevel[plan.DestLevel] = append(m.byLevel[plan.DestLevel], dest)

	if plan.DestIndex+1 > m.nextIndex {
		m.nextIndex = plan.DestIndex + 1
	}
}
