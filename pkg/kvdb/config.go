// Package kvdb is the embedded key-value database façade: an
// in-memory insertion buffer backed by a cascading LSM of immutable
// PBT files.
package kvdb

import "go.uber.org/zap"

//============================================= Configuration

// ReduceFunc folds the values (or reduced values) of a node's children
// into a single aggregated value. A nil ReduceFunc disables
// aggregation.
type ReduceFunc func(values [][]byte) ([]byte, error)

// Config configures one database instance. The zero value is invalid;
// use DefaultConfig and override individual fields.
type Config struct {
	// CreateIfMissing creates the database directory if it does not
	// already exist. Default true.
	CreateIfMissing bool

	// ErrorIfExists fails Open if the directory is already present.
	// Default false.
	ErrorIfExists bool

	// DeleteIfExists removes the directory if present, then creates it
	// fresh. Default false.
	DeleteIfExists bool

	// MaxBufferSize is the byte threshold (sum of key+value lengths)
	// that triggers a flush. Default 1<<22.
	MaxBufferSize uint64

	// MaxLevelCount is the number of files a level may hold before a
	// cascaded merge is triggered. Default 10.
	MaxLevelCount int

	// MaxNodeChildren bounds PBT fan-out. Default 16.
	MaxNodeChildren int

	// InitialPBTSize is the starting byte allocation for a newly
	// created PBT file. Default 1<<23.
	InitialPBTSize uint64

	// Reduce installs the optional per-node aggregation. Nil disables
	// it.
	Reduce ReduceFunc

	// InternalCacheSize and LeafCacheSize set the per-reader node view
	// LRU capacities. Default 64/8.
	InternalCacheSize int
	LeafCacheSize     int

	// Logger receives flush/merge/compaction lifecycle events. A nil
	// Logger disables logging.
	Logger *zap.SugaredLogger
}

// DefaultConfig returns a Config with every option set to its
// documented default.
func DefaultConfig() Config {
	return Config{
		CreateIfMissing:   true,
		MaxBufferSize:     1 << 22,
		MaxLevelCount:     10,
		MaxNodeChildren:   16,
		InitialPBTSize:    1 << 23,
		InternalCacheSize: 64,
		LeafCacheSize:     8,
	}
}

func (c Config) logger() *zap.SugaredLogger {
	if c.Logger == nil {
		return zap.NewNop().Sugar()
	}

	return c.Logger
}
