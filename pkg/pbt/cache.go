package pbt

import lru "github.com/hashicorp/golang-lru/v2"

//============================================= Node View Cache

// DefaultInternalCacheSize and DefaultLeafCacheSize are used when a
// Cache is constructed with a non-positive size for either tier.
const (
	DefaultInternalCacheSize = 64
	DefaultLeafCacheSize     = 8
)

// Cache memoizes parsed node views by file offset. Internal nodes and
// leaves are cached separately since internal nodes are revisited far
// more often during descent (every lookup touches the same upper
// levels) while leaves are typically touched once per lookup.
type Cache struct {
	internal *lru.Cache[uint64, InternalView]
	leaf     *lru.Cache[uint64, LeafView]
}

// NewCache builds a Cache with the given per-tier capacities. A
// non-positive size falls back to the package default for that tier.
func NewCache(internalSize, leafSize int) *Cache {
	if internalSize <= 0 {
		internalSize = DefaultInternalCacheSize
	}
	if leafSize <= 0 {
		leafSize = DefaultLeafCacheSize
	}

	internal, _ := lru.New[uint64, InternalView](internalSize)
	leaf, _ := lru.New[uint64, LeafView](leafSize)

	return &Cache{internal: internal, leaf: leaf}
}

func (c *Cache) getInternal(offset uint64) (InternalView, bool) {
	return c.internal.Get(offset)
}

func (c *Cache) putInternal(offset uint64, v InternalView) {
	c.internal.Add(offset, v)
}

func (c *Cache) getLeaf(offset uint64) (LeafView, bool) {
	return c.leaf.Get(offset)
}

func (c *Cache) putLeaf(offset uint64, v LeafView) {
	c.leaf.Add(offset, v)
}
