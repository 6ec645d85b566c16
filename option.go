package cowtree

import "cowtree/internal/storage"

// SyncMode controls when a file-backed store fsyncs its writes
type SyncMode int

const (
	// SyncEveryCommit fdatasyncs the data pages and then the meta record on
	// every commit.
	// - A commit that returned survives power failure
	// - Limited by fsync latency (typically 1-10ms per commit)
	SyncEveryCommit SyncMode = iota

	// SyncOff never syncs (testing/bulk loads only).
	// - Maximum throughput
	// - Commits still land in the OS page cache, lost on power failure
	SyncOff
)

func (m SyncMode) String() string {
	switch m {
	case SyncEveryCommit:
		return "every-commit"
	case SyncOff:
		return "off"
	default:
		return "unknown"
	}
}

// ReadCachePolicy selects the cache that holds committed pages read from a
// file-backed store.
type ReadCachePolicy int

const (
	// ReadCacheLRU evicts the least recently read page
	ReadCacheLRU ReadCachePolicy = iota
	// ReadCacheFIFO evicts the page that was cached first, regardless of use
	ReadCacheFIFO
)

func (p ReadCachePolicy) String() string {
	switch p {
	case ReadCacheLRU:
		return "lru"
	case ReadCacheFIFO:
		return "fifo"
	default:
		return "unknown"
	}
}

const (
	// DefaultPageSize is the page size of new stores
	DefaultPageSize = storage.DefaultPageSize
	// DefaultReadCacheSize is the number of pages the read cache holds
	DefaultReadCacheSize = 1024
	// MinReadCacheSize is the smallest accepted read cache capacity
	MinReadCacheSize = 16
)

// Options configures store behavior.
type Options struct {
	pageSize      int
	logger        Logger
	syncMode      SyncMode
	readCache     ReadCachePolicy
	readCacheSize int
}

// DefaultOptions returns safe default configuration.
//
//goland:noinspection GoUnusedExportedFunction
func DefaultOptions() Options {
	return Options{
		pageSize:      DefaultPageSize,
		logger:        DiscardLogger{},
		syncMode:      SyncEveryCommit,
		readCache:     ReadCacheLRU,
		readCacheSize: DefaultReadCacheSize,
	}
}

// Option configures store options using the functional options pattern.
type Option func(*Options)

// WithPageSize sets the page size of a new store. It must be a power of two
// of at least 512 bytes. An existing file keeps the page size it was
// created with.
//
//goland:noinspection GoUnusedExportedFunction
func WithPageSize(size int) Option {
	return func(opts *Options) {
		opts.pageSize = size
	}
}

// WithLogger sets the logger for store lifecycle events. *slog.Logger
// satisfies Logger directly.
//
//goland:noinspection GoUnusedExportedFunction
func WithLogger(logger Logger) Option {
	return func(opts *Options) {
		if logger == nil {
			logger = DiscardLogger{}
		}
		opts.logger = logger
	}
}

// WithSyncMode sets the fsync behavior of a file-backed store.
//
//goland:noinspection GoUnusedExportedFunction
func WithSyncMode(mode SyncMode) Option {
	return func(opts *Options) {
		opts.syncMode = mode
	}
}

// WithSyncEveryCommit configures the store to fsync on every commit.
// This provides maximum durability but lower throughput.
//
//goland:noinspection GoUnusedExportedFunction
func WithSyncEveryCommit() Option {
	return WithSyncMode(SyncEveryCommit)
}

// WithSyncOff disables fsync entirely.
// Only use for testing or bulk loads where data can be reconstructed.
//
//goland:noinspection GoUnusedExportedFunction
func WithSyncOff() Option {
	return WithSyncMode(SyncOff)
}

// WithReadCache selects the eviction policy of the read cache.
//
//goland:noinspection GoUnusedExportedFunction
func WithReadCache(policy ReadCachePolicy) Option {
	return func(opts *Options) {
		opts.readCache = policy
	}
}

// WithReadCacheSize sets how many committed pages the read cache holds.
// Values below MinReadCacheSize are raised to it.
//
//goland:noinspection GoUnusedExportedFunction
func WithReadCacheSize(pages int) Option {
	return func(opts *Options) {
		opts.readCacheSize = max(pages, MinReadCacheSize)
	}
}

func buildOptions(opts []Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o Options) newReadCache() (storage.ReadCache, error) {
	switch o.readCache {
	case ReadCacheFIFO:
		return storage.NewFIFOCache(o.readCacheSize), nil
	default:
		return storage.NewLRUCache(o.readCacheSize)
	}
}
