package storage

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/elastic/go-freelru"

	"cowtree/internal/base"
	"cowtree/internal/cache"
)

// ReadCache holds committed pages read from disk
type ReadCache interface {
	Get(n base.PageNumber) (*Page, bool)
	Add(n base.PageNumber, p *Page)
	Remove(n base.PageNumber)
	Len() int
}

type lruCache struct {
	lru *freelru.SyncedLRU[base.PageNumber, *Page]
}

func hashPageNumber(n base.PageNumber) uint32 {
	var buf [8]byte
	for i := range buf {
		buf[i] = byte(n >> (8 * i))
	}
	return uint32(xxhash.Sum64(buf[:]))
}

// NewLRUCache creates a least-recently-used read cache holding up to
// capacity pages
func NewLRUCache(capacity int) (ReadCache, error) {
	capacity = max(capacity, cache.MinCacheSize)
	lru, err := freelru.NewSynced[base.PageNumber, *Page](uint32(capacity), hashPageNumber)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &lruCache{lru: lru}, nil
}

func (c *lruCache) Get(n base.PageNumber) (*Page, bool) {
	return c.lru.Get(n)
}

func (c *lruCache) Add(n base.PageNumber, p *Page) {
	c.lru.Add(n, p)
}

func (c *lruCache) Remove(n base.PageNumber) {
	c.lru.Remove(n)
}

func (c *lruCache) Len() int {
	return c.lru.Len()
}

type fifoCache struct {
	fifo *cache.Cache[*Page]
}

// NewFIFOCache creates a read cache that evicts the oldest inserted page
func NewFIFOCache(capacity int) ReadCache {
	return &fifoCache{fifo: cache.New[*Page](capacity)}
}

func (c *fifoCache) Get(n base.PageNumber) (*Page, bool) {
	return c.fifo.Get(uint64(n))
}

func (c *fifoCache) Add(n base.PageNumber, p *Page) {
	c.fifo.Insert(uint64(n), p)
}

func (c *fifoCache) Remove(n base.PageNumber) {
	c.fifo.Remove(uint64(n))
}

func (c *fifoCache) Len() int {
	return c.fifo.Len()
}
