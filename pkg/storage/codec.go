package storage

import "encoding/binary"

//============================================= Frame Codec

// Fixed little-endian encoders/decoders for the fixed-width integers
// that make up every PBT node and footer field. Decoders never
// allocate; they read directly out of whatever slice they are given,
// which for readers is always a window into the memory-mapped file.

// PutUint16 writes v at buf[0:2].
func PutUint16(buf []byte, v uint16) { binary.LittleEndian.PutUint16(buf, v) }

// Uint16 reads a uint16 from buf[0:2].
func Uint16(buf []byte) uint16 { return binary.LittleEndian.Uint16(buf) }

// PutUint32 writes v at buf[0:4].
func PutUint32(buf []byte, v uint32) { binary.LittleEndian.PutUint32(buf, v) }

// Uint32 reads a uint32 from buf[0:4].
func Uint32(buf []byte) uint32 { return binary.LittleEndian.Uint32(buf) }

// PutUint64 writes v at buf[0:8].
func PutUint64(buf []byte, v uint64) { binary.LittleEndian.PutUint64(buf, v) }

// Uint64 reads a uint64 from buf[0:8].
func Uint64(buf []byte) uint64 { return binary.LittleEndian.Uint64(buf) }

// PutRaw copies src into dst with no length prefix; the caller records
// the length in the surrounding structure. Returns the number of bytes
// copied.
func PutRaw(dst, src []byte) int { return copy(dst, src) }
