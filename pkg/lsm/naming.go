// Package lsm manages the on-disk organization of PBT files into
// numbered levels: naming, recovery, merge planning, and the k-way
// merged view across every open file.
package lsm

import (
	"fmt"
	"strconv"
	"strings"
)

//============================================= File Naming

// indexWidth and levelWidth are the zero-padded decimal widths that
// make filenames lexicographically sortable by (index, level).
const (
	indexWidth = 20
	levelWidth = 8

	extension = ".pbt"
)

// EncodeFilename builds the fixed-width, lexicographically sortable
// filename for a PBT file at the given global index and level.
func EncodeFilename(index, level uint64) string {
	return fmt.Sprintf("%0*d-%0*d%s", indexWidth, index, levelWidth, level, extension)
}

// DecodeFilename parses a filename produced by EncodeFilename. ok is
// false if name does not match the expected shape.
func DecodeFilename(name string) (index, level uint64, ok bool) {
	if !strings.HasSuffix(name, extension) {
		return 0, 0, false
	}

	trimmed := strings.TrimSuffix(name, extension)
	parts := strings.SplitN(trimmed, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}

	if len(parts[0]) != indexWidth || len(parts[1]) != levelWidth {
		return 0, 0, false
	}

	idx, idxErr := strconv.ParseUint(parts[0], 10, 64)
	if idxErr != nil {
		return 0, 0, false
	}

	lvl, lvlErr := strconv.ParseUint(parts[1], 10, 64)
	if lvlErr != nil {
		return 0, 0, false
	}

	return idx, lvl, true
}
