package hr

import "github.com/pbtdb/pbtdb/pkg/kvdb"

//============================================= HrDb

// HrDb layers a 2-D spatial index over a kvdb.Database: every stored
// box is keyed by the Hilbert index of its midpoint, and Search
// answers bounding-box queries via Traverse with a bbox-intersection
// predicate, pruning subtrees whose reduced bounding box cannot
// possibly intersect the query.
type HrDb struct {
	db *kvdb.Database
}

// Open opens (or creates) an HrDb at dir. The Reduce function in cfg
// is overwritten with the bbox-union reduction HrDb depends on for
// Search pruning.
func Open(dir string, cfg kvdb.Config) (*HrDb, error) {
	cfg.Reduce = bboxUnion

	db, openErr := kvdb.Open(dir, cfg)
	if openErr != nil {
		return nil, openErr
	}

	return &HrDb{db: db}, nil
}

// Add stores value under the box (x0,y0)-(x1,y1).
func (h *HrDb) Add(x0, y0, x1, y1 uint32, value []byte) error {
	return h.db.Add(keyBytes(x0, y0, x1, y1), encodeValue(x0, y0, x1, y1, value))
}

// Box is one (bounding box, payload) match returned by Search.
type Box struct {
	X0, Y0, X1, Y1 uint32
	Value          []byte
}

// Search returns every stored box that intersects the query box
// (x0,y0)-(x1,y1). The same bounding-box-intersection predicate is
// applied both to internal reduced values (pruning) and to individual
// leaf values (inclusion) — decodeValue only ever reads the leading
// 16-byte box prefix, so one predicate serves both.
func (h *HrDb) Search(x0, y0, x1, y1 uint32) ([]Box, error) {
	var out []Box

	predicate := func(value []byte) bool {
		if len(value) == 0 {
			return true
		}

		bx0, by0, bx1, by1, _ := decodeValue(value)
		return intersects(bx0, by0, bx1, by1, x0, y0, x1, y1)
	}

	visit := func(key, value []byte) error {
		bx0, by0, bx1, by1, payload := decodeValue(value)

		out = append(out, Box{
			X0: bx0, Y0: by0, X1: bx1, Y1: by1,
			Value: append([]byte(nil), payload...),
		})

		return nil
	}

	if traverseErr := h.db.Traverse(predicate, visit); traverseErr != nil {
		return nil, traverseErr
	}

	return out, nil
}

// Close flushes and closes the underlying database.
func (h *HrDb) Close() error { return h.db.Close() }

// Flush forces the underlying database to flush its buffer.
func (h *HrDb) Flush() error { return h.db.Flush() }
