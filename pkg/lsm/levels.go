package lsm

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pbtdb/pbtdb/pkg/pbt"
)

//============================================= Level Manager

// FileEntry identifies one on-disk PBT file by its position in the
// level hierarchy.
type FileEntry struct {
	Level uint64
	Index uint64
}

// Path returns the file's name within dir.
func (e FileEntry) Path(dir string) string {
	return filepath.Join(dir, EncodeFilename(e.Index, e.Level))
}

// Manager tracks which PBT files exist at which level, the next free
// global index, and the total number of entries ever flushed. State is
// recovered from the directory listing plus each candidate file's
// footer, never persisted separately.
type Manager struct {
	dir     string
	byLevel map[uint64][]FileEntry

	nextIndex     uint64
	globalCounter uint64
}

// Recover scans dir for files matching the PBT naming convention and
// rebuilds level membership, the next free index, and the global entry
// counter from their footers.
func Recover(dir string) (*Manager, error) {
	entries, readErr := os.ReadDir(dir)
	if readErr != nil {
		return nil, readErr
	}

	m := &Manager{dir: dir, byLevel: make(map[uint64][]FileEntry)}

	var maxIndex uint64
	var haveAny bool

	for _, de := range entries {
		if de.IsDir() {
			continue
		}

		index, level, ok := DecodeFilename(de.Name())
		if !ok {
			continue
		}

		m.byLevel[level] = append(m.byLevel[level], FileEntry{Level: level, Index: index})

		if !haveAny || index > maxIndex {
			maxIndex = index
			haveAny = true
		}
	}

	for level := range m.byLevel {
		sort.Slice(m.byLevel[level], func(i, j int) bool {
			return m.byLevel[level][i].Index < m.byLevel[level][j].Index
		})
	}

	if haveAny {
		m.nextIndex = maxIndex + 1

		newest := FileEntry{Index: maxIndex}
		for level, list := range m.byLevel {
			for _, e := range list {
				if e.Index == maxIndex {
					newest = FileEntry{Level: level, Index: maxIndex}
				}
			}
		}

		counter, counterErr := readGlobalEnd(newest.Path(dir))
		if counterErr != nil {
			return nil, counterErr
		}

		m.globalCounter = counter
	}

	return m, nil
}

func readGlobalEnd(path string) (uint64, error) {
	r, openErr := pbt.Open(path, nil)
	if openErr != nil {
		return 0, openErr
	}
	defer r.Close()

	return r.Footer().GlobalEnd, nil
}

// Dir returns the directory this manager is rooted at.
func (m *Manager) Dir() string { return m.dir }

// GlobalCounter returns the total number of entries ever flushed.
func (m *Manager) GlobalCounter() uint64 { return m.globalCounter }

// Levels returns a snapshot of every currently tracked file, grouped
// by level, in ascending index order.
func (m *Manager) Levels() map[uint64][]FileEntry {
	out := make(map[uint64][]FileEntry, len(m.byLevel))
	for level, list := range m.byLevel {
		copied := make([]FileEntry, len(list))
		copy(copied, list)
		out[level] = copied
	}

	return out
}

// LevelCount returns the number of files currently at level.
func (m *Manager) LevelCount(level uint64) int { return len(m.byLevel[level]) }

// NextLevel0Path reserves (without yet committing) the filename for
// the next level-0 flush.
func (m *Manager) NextLevel0Path() string {
	return FileEntry{Level: 0, Index: m.nextIndex}.Path(m.dir)
}

// AdvanceLevel0 commits the reservation made by NextLevel0Path,
// registers the new file at level 0, advances the free index, and
// folds entriesFlushed into the global counter.
func (m *Manager) AdvanceLevel0(entriesFlushed uint64) FileEntry {
	entry := FileEntry{Level: 0, Index: m.nextIndex}

	m.byLevel[0] = append(m.byLevel[0], entry)
	m.nextIndex++
	m.globalCounter += entriesFlushed

	return entry
}
