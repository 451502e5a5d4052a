// Package pbt implements the PBT file format: an immutable,
// memory-mappable B+-tree serialized in one sequential pass, with
// optional per-subtree reductions stored inline in internal nodes.
package pbt

import (
	"github.com/pbtdb/pbtdb/pkg/pbtdberr"
	"github.com/pbtdb/pbtdb/pkg/storage"
)

//============================================= Node Layout
//
// Leaves precede internal nodes in byte order; the root is the last
// non-footer node. Integers live at fixed offsets so any child can be
// located in O(1) without scanning; string data is pooled at the end
// of the node for cache locality on linear scans.
//
// Leaf node:
//   u16 num_children
//   repeat num_children: u64 data_offset, u64 key_size, u64 value_size
//   [key‖value bytes, in declaration order]
//
// Internal node:
//   u16 num_children
//   u64 left_data_offset, u64 left_key_size
//   repeat num_children: u64 right_data_offset, u64 right_key_size,
//     u64 reduced_value_size, u64 child_entry_start, u64 child_offset,
//     u64 child_size
//   [(right_key‖reduced_value) bytes per child, then left_key bytes]

const (
	leafHeaderBase  = 2
	leafChildStride = 24

	internalHeaderBase  = 2 + 16
	internalChildStride = 48
)

//============================================= Leaf Builder / View

// LeafBuilder accumulates (key, value) pairs for one leaf node in
// declaration order and serializes them on Bytes.
type LeafBuilder struct {
	keys   [][]byte
	values [][]byte
}

// NewLeafBuilder returns an empty leaf builder.
func NewLeafBuilder() *LeafBuilder { return &LeafBuilder{} }

// Add appends a child entry.
func (b *LeafBuilder) Add(key, value []byte) {
	b.keys = append(b.keys, key)
	b.values = append(b.values, value)
}

// Len returns the number of accumulated entries.
func (b *LeafBuilder) Len() int { return len(b.keys) }

// Bytes serializes the leaf node.
func (b *LeafBuilder) Bytes() []byte {
	n := len(b.keys)
	headerSize := leafHeaderBase + n*leafChildStride

	dataSize := 0
	for i := range b.keys {
		dataSize += len(b.keys[i]) + len(b.values[i])
	}

	buf := make([]byte, headerSize+dataSize)
	storage.PutUint16(buf[0:2], uint16(n))

	dataOffset := uint64(headerSize)
	pos := headerSize

	for i := 0; i < n; i++ {
		h := leafHeaderBase + i*leafChildStride
		storage.PutUint64(buf[h:h+8], dataOffset)
		storage.PutUint64(buf[h+8:h+16], uint64(len(b.keys[i])))
		storage.PutUint64(buf[h+16:h+24], uint64(len(b.values[i])))

		pos += storage.PutRaw(buf[pos:], b.keys[i])
		pos += storage.PutRaw(buf[pos:], b.values[i])
		dataOffset += uint64(len(b.keys[i]) + len(b.values[i]))
	}

	return buf
}

// LeafView is a zero-copy read-only view over a serialized leaf node.
// Accessors return references into the underlying slice; they never
// allocate or copy.
type LeafView struct {
	raw []byte
}

// NewLeafView wraps raw, which must start at the node's first byte and
// extend at least to the end of the node (it may extend further; only
// SizeOf bytes are ever read).
func NewLeafView(raw []byte) LeafView { return LeafView{raw: raw} }

// NumChildren returns the number of entries in the leaf.
func (v LeafView) NumChildren() int { return int(storage.Uint16(v.raw[0:2])) }

func (v LeafView) child(i int) (dataOffset, keySize, valueSize uint64) {
	h := leafHeaderBase + i*leafChildStride
	dataOffset = storage.Uint64(v.raw[h : h+8])
	keySize = storage.Uint64(v.raw[h+8 : h+16])
	valueSize = storage.Uint64(v.raw[h+16 : h+24])
	return
}

// Key returns the key of child i.
func (v LeafView) Key(i int) []byte {
	off, ks, _ := v.child(i)
	return v.raw[off : off+ks]
}

// Value returns the value of child i.
func (v LeafView) Value(i int) []byte {
	off, ks, vs := v.child(i)
	return v.raw[off+ks : off+ks+vs]
}

// SizeOf returns the byte length of the serialized node, recovered
// from the last child's triple.
func (v LeafView) SizeOf() uint64 {
	n := v.NumChildren()
	if n == 0 {
		return leafHeaderBase
	}

	off, ks, vs := v.child(n - 1)
	return off + ks + vs
}

//============================================= Internal Builder / View

type internalChildSpec struct {
	rightKey    []byte
	reduced     []byte
	entryStart  uint64
	childOffset uint64
	childSize   uint64
}

// InternalBuilder accumulates per-child records for one internal node
// and serializes them on Bytes.
type InternalBuilder struct {
	leftKey  []byte
	children []internalChildSpec
}

// NewInternalBuilder starts an internal node whose left-key (the
// minimum key of the first child's subtree) is leftKey.
func NewInternalBuilder(leftKey []byte) *InternalBuilder {
	return &InternalBuilder{leftKey: leftKey}
}

// AddChild appends a child record. reduced may be nil when no reduce
// function is configured.
func (b *InternalBuilder) AddChild(rightKey, reduced []byte, entryStart, childOffset, childSize uint64) {
	b.children = append(b.children, internalChildSpec{
		rightKey:    rightKey,
		reduced:     reduced,
		entryStart:  entryStart,
		childOffset: childOffset,
		childSize:   childSize,
	})
}

// Len returns the number of accumulated children.
func (b *InternalBuilder) Len() int { return len(b.children) }

// Bytes serializes the internal node.
func (b *InternalBuilder) Bytes() []byte {
	n := len(b.children)
	headerSize := internalHeaderBase + n*internalChildStride

	poolSize := len(b.leftKey)
	for _, c := range b.children {
		poolSize += len(c.rightKey) + len(c.reduced)
	}

	buf := make([]byte, headerSize+poolSize)
	storage.PutUint16(buf[0:2], uint16(n))

	pos := headerSize
	for i, c := range b.children {
		h := internalHeaderBase + i*internalChildStride
		rightOff := uint64(pos)

		storage.PutUint64(buf[h:h+8], rightOff)
		storage.PutUint64(buf[h+8:h+16], uint64(len(c.rightKey)))
		storage.PutUint64(buf[h+16:h+24], uint64(len(c.reduced)))
		storage.PutUint64(buf[h+24:h+32], c.entryStart)
		storage.PutUint64(buf[h+32:h+40], c.childOffset)
		storage.PutUint64(buf[h+40:h+48], c.childSize)

		pos += storage.PutRaw(buf[pos:], c.rightKey)
		pos += storage.PutRaw(buf[pos:], c.reduced)
	}

	leftOff := uint64(pos)
	storage.PutRaw(buf[pos:], b.leftKey)
	storage.PutUint64(buf[2:10], leftOff)
	storage.PutUint64(buf[10:18], uint64(len(b.leftKey)))

	return buf
}

// InternalView is a zero-copy read-only view over a serialized
// internal node.
type InternalView struct {
	raw []byte
}

// NewInternalView wraps raw, which must start at the node's first byte.
func NewInternalView(raw []byte) InternalView { return InternalView{raw: raw} }

// NumChildren returns the number of children.
func (v InternalView) NumChildren() int { return int(storage.Uint16(v.raw[0:2])) }

// LeftKey returns the minimum key of the first child's subtree.
func (v InternalView) LeftKey() []byte {
	off := storage.Uint64(v.raw[2:10])
	size := storage.Uint64(v.raw[10:18])
	return v.raw[off : off+size]
}

func (v InternalView) childHeader(i int) (rightOff, rightSize, reducedSize, entryStart, childOffset, childSize uint64) {
	h := internalHeaderBase + i*internalChildStride
	rightOff = storage.Uint64(v.raw[h : h+8])
	rightSize = storage.Uint64(v.raw[h+8 : h+16])
	reducedSize = storage.Uint64(v.raw[h+16 : h+24])
	entryStart = storage.Uint64(v.raw[h+24 : h+32])
	childOffset = storage.Uint64(v.raw[h+32 : h+40])
	childSize = storage.Uint64(v.raw[h+40 : h+48])
	return
}

// RightKey returns the maximum key in child i's subtree.
func (v InternalView) RightKey(i int) []byte {
	off, size, _, _, _, _ := v.childHeader(i)
	return v.raw[off : off+size]
}

// ReducedValue returns the reduced value attached to child i.
func (v InternalView) ReducedValue(i int) []byte {
	off, size, rsize, _, _, _ := v.childHeader(i)
	return v.raw[off+size : off+size+rsize]
}

// ChildEntryStart returns the global index of the first entry in child
// i's subtree. The stored value already includes the file's
// GlobalStart; it is not relative to it.
func (v InternalView) ChildEntryStart(i int) uint64 {
	_, _, _, entryStart, _, _ := v.childHeader(i)
	return entryStart
}

// ChildOffset returns the byte offset of child i within the file.
func (v InternalView) ChildOffset(i int) uint64 {
	_, _, _, _, childOffset, _ := v.childHeader(i)
	return childOffset
}

// ChildSize returns the byte length of child i.
func (v InternalView) ChildSize(i int) uint64 {
	_, _, _, _, _, childSize := v.childHeader(i)
	return childSize
}

// SizeOf returns the byte length of the serialized node.
func (v InternalView) SizeOf() uint64 {
	off := storage.Uint64(v.raw[2:10])
	size := storage.Uint64(v.raw[10:18])
	return off + size
}

//============================================= Footer

// FooterSize is the fixed byte length of the trailer appended to
// every PBT file.
const FooterSize = 8 + 8 + 8 + 2 + 8 + 8 + 2 + 2 + 4

// Magic identifies a PBT file.
const Magic = 0x1EAF1111

// VersionMajor and VersionMinor are the current format version.
const (
	VersionMajor = 0
	VersionMinor = 1
)

// Footer is the fixed-size trailer at the end of every PBT file.
type Footer struct {
	RootOffset  uint64
	RootSize    uint64
	Level0End   uint64
	TreeHeight  uint16
	GlobalStart uint64
	GlobalEnd   uint64
}

// Count returns the number of entries described by the footer.
func (f Footer) Count() uint64 { return f.GlobalEnd - f.GlobalStart }

// Bytes serializes the footer.
func (f Footer) Bytes() []byte {
	buf := make([]byte, FooterSize)

	storage.PutUint64(buf[0:8], f.RootOffset)
	storage.PutUint64(buf[8:16], f.RootSize)
	storage.PutUint64(buf[16:24], f.Level0End)
	storage.PutUint16(buf[24:26], f.TreeHeight)
	storage.PutUint64(buf[26:34], f.GlobalStart)
	storage.PutUint64(buf[34:42], f.GlobalEnd)
	storage.PutUint16(buf[42:44], VersionMajor)
	storage.PutUint16(buf[44:46], VersionMinor)
	storage.PutUint32(buf[46:50], Magic)

	return buf
}

// ParseFooter deserializes and validates a footer.
func ParseFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterSize {
		return Footer{}, pbtdberr.ErrBadFooter
	}

	magic := storage.Uint32(buf[46:50])
	if magic != Magic {
		return Footer{}, pbtdberr.ErrBadMagic
	}

	vmaj := storage.Uint16(buf[42:44])
	vmin := storage.Uint16(buf[44:46])
	if vmaj != VersionMajor || vmin != VersionMinor {
		return Footer{}, pbtdberr.ErrBadVersion
	}

	return Footer{
		RootOffset:  storage.Uint64(buf[0:8]),
		RootSize:    storage.Uint64(buf[8:16]),
		Level0End:   storage.Uint64(buf[16:24]),
		TreeHeight:  storage.Uint16(buf[24:26]),
		GlobalStart: storage.Uint64(buf[26:34]),
		GlobalEnd:   storage.Uint64(buf[34:42]),
	}, nil
}
