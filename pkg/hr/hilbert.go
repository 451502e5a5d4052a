// Package hr implements HrDb, a 2-D spatial overlay on top of the
// kvdb key-value façade: points are addressed by their position along
// an order-16 Hilbert curve, and range queries are answered by a
// bounding-box-intersection predicate fed through kvdb.Traverse.
package hr

import "encoding/binary"

//============================================= Hilbert Curve

// order is the number of bits per axis; a 16-bit-per-axis point maps
// onto a 32-bit Hilbert index.
const order = 16

// avgOverflowSafe computes the midpoint of a and b without the
// intermediate overflow a 16-bit-plus-1-bit sum could otherwise
// trigger when both coordinates are near the top of their range.
func avgOverflowSafe(a, b uint32) uint32 {
	return (a / 2) + (b / 2) + (a & b & 1)
}

// encode maps a 2-D point (each coordinate in [0, 2^order)) onto its
// distance along the order-16 Hilbert curve.
func encode(x, y uint32) uint32 {
	var rx, ry, d uint32

	for s := uint32(1) << (order - 1); s > 0; s >>= 1 {
		if x&s > 0 {
			rx = 1
		} else {
			rx = 0
		}

		if y&s > 0 {
			ry = 1
		} else {
			ry = 0
		}

		d += s * s * ((3 * rx) ^ ry)
		x, y = rotate(s, x, y, rx, ry)
	}

	return d
}

func rotate(s, x, y, rx, ry uint32) (uint32, uint32) {
	if ry != 0 {
		return x, y
	}

	if rx == 1 {
		x = s - 1 - x
		y = s - 1 - y
	}

	return y, x
}

//============================================= Key Encoding

// keyBytes returns the 4-byte big-endian Hilbert index key for the
// midpoint of the box (x0,y0)-(x1,y1).
func keyBytes(x0, y0, x1, y1 uint32) []byte {
	mx := avgOverflowSafe(x0, x1)
	my := avgOverflowSafe(y0, y1)

	key := make([]byte, 4)
	binary.BigEndian.PutUint32(key, encode(mx, my))

	return key
}

// encodeValue prefixes value with the box's four uint32 coordinates.
func encodeValue(x0, y0, x1, y1 uint32, value []byte) []byte {
	out := make([]byte, 16+len(value))

	binary.BigEndian.PutUint32(out[0:4], x0)
	binary.BigEndian.PutUint32(out[4:8], y0)
	binary.BigEndian.PutUint32(out[8:12], x1)
	binary.BigEndian.PutUint32(out[12:16], y1)
	copy(out[16:], value)

	return out
}

// decodeValue splits a stored value back into its bounding box and
// the caller's original payload.
func decodeValue(raw []byte) (x0, y0, x1, y1 uint32, payload []byte) {
	x0 = binary.BigEndian.Uint32(raw[0:4])
	y0 = binary.BigEndian.Uint32(raw[4:8])
	x1 = binary.BigEndian.Uint32(raw[8:12])
	y1 = binary.BigEndian.Uint32(raw[12:16])
	payload = raw[16:]

	return
}

func intersects(ax0, ay0, ax1, ay1, bx0, by0, bx1, by1 uint32) bool {
	return ax0 <= bx1 && bx0 <= ax1 && ay0 <= by1 && by0 <= ay1
}

// bboxUnion folds the values of a node's children into their bounding
// box: leaf values (a 16-byte box prefix followed by the payload) for
// a leaf, reduced values (the 16-byte box alone) for an internal node.
// Only the box prefix of each input is read.
func bboxUnion(values [][]byte) ([]byte, error) {
	var ux0, uy0, ux1, uy1 uint32
	first := true

	for _, v := range values {
		x0, y0, x1, y1, _ := decodeValue(v)

		if first {
			ux0, uy0, ux1, uy1 = x0, y0, x1, y1
			first = false
			continue
		}

		if x0 < ux0 {
			ux0 = x0
		}
		if y0 < uy0 {
			uy0 = y0
		}
		if x1 > ux1 {
			ux1 = x1
		}
		if y1 > uy1 {
			uy1 = y1
		}
	}

	return encodeValue(ux0, uy0, ux1, uy1, nil), nil
}
