// Package pbtdberr holds the sentinel errors shared across the pbtdb
// packages, so callers can identify a failure kind with errors.Is
// instead of matching on error strings.
package pbtdberr

import "errors"

var (
	// ErrDirExists is returned by Open when ErrorIfExists is set and the
	// database directory is already present.
	ErrDirExists = errors.New("pbtdb: directory already exists")

	// ErrDirMissing is returned by Open when CreateIfMissing is false and
	// the database directory does not exist.
	ErrDirMissing = errors.New("pbtdb: directory does not exist")

	// ErrBadMagic is returned when a PBT file footer does not carry the
	// expected magic number.
	ErrBadMagic = errors.New("pbt: bad footer magic")

	// ErrBadVersion is returned when a PBT file footer carries a version
	// this reader does not understand.
	ErrBadVersion = errors.New("pbt: unsupported footer version")

	// ErrBadFooter is returned when a file is too small to contain a
	// footer, or the footer bytes cannot be parsed.
	ErrBadFooter = errors.New("pbt: malformed or missing footer")

	// ErrKeyOutOfOrder is returned by Writer.Add when a key is strictly
	// smaller than the previously added key.
	ErrKeyOutOfOrder = errors.New("pbt: key out of order")

	// ErrReduceFailed is returned when the configured reduce callback
	// returns an error while the writer is building a node.
	ErrReduceFailed = errors.New("pbt: reduce callback failed")

	// ErrAlreadyFinished is returned by Writer.Add/Finish once Finish has
	// already been called.
	ErrAlreadyFinished = errors.New("pbt: writer already finished")

	// ErrNotFound is returned by Get and the exact-match seek operations
	// when no entry matches the requested key.
	ErrNotFound = errors.New("pbtdb: key not found")

	// ErrIndexOutOfRange is returned by At/Seek(index) when the requested
	// global index is outside the addressable range.
	ErrIndexOutOfRange = errors.New("pbtdb: index out of range")

	// ErrNotImplemented marks an operation the format defines a name for
	// but deliberately does not implement (SeekPrev).
	ErrNotImplemented = errors.New("pbtdb: not implemented")

	// ErrOutOfBounds is returned by the byte storage layer when a
	// read/write would fall outside the mapped region.
	ErrOutOfBounds = errors.New("pbtdb: out of bounds access")

	// ErrReaderBusy is returned by Reader.Close while iterators derived
	// from it are still live.
	ErrReaderBusy = errors.New("pbt: reader has live iterators")

	// ErrRangeInverted is returned by range-style operations when the
	// start key sorts after the end key.
	ErrRangeInverted = errors.New("pbtdb: start key greater than end key")

	// ErrConfigConflict is returned when incompatible open options are
	// combined (e.g. ErrorIfExists and DeleteIfExists both set).
	ErrConfigConflict = errors.New("pbtdb: conflicting open options")
)
