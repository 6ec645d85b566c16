package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"

	"cowtree/internal/base"
)

const (
	MagicNumber   uint32 = 0x636f7774 // "cowt"
	FormatVersion uint16 = 1

	metaSize       = 64
	metaPages      = 2 // pages 0 and 1 hold alternating meta records
	flagHasRoot    = 1 << 0
	metaChecksumAt = 56
)

// meta is the commit record. Two copies alternate between pages 0 and 1 so
// a torn meta write always leaves the previous commit intact.
type meta struct {
	pageSize   uint32
	generation uint64
	root       *base.BtreeHeader
	highWater  base.PageNumber
}

func (m *meta) encode(buf []byte) {
	clear(buf[:metaSize])
	binary.LittleEndian.PutUint32(buf[0:4], MagicNumber)
	binary.LittleEndian.PutUint16(buf[4:6], FormatVersion)
	var flags uint16
	if m.root != nil {
		flags |= flagHasRoot
		binary.LittleEndian.PutUint64(buf[24:32], uint64(m.root.Root))
		binary.LittleEndian.PutUint64(buf[32:40], uint64(m.root.Checksum))
		binary.LittleEndian.PutUint64(buf[40:48], m.root.Length)
	}
	binary.LittleEndian.PutUint16(buf[6:8], flags)
	binary.LittleEndian.PutUint32(buf[8:12], m.pageSize)
	binary.LittleEndian.PutUint64(buf[16:24], m.generation)
	binary.LittleEndian.PutUint64(buf[48:56], uint64(m.highWater))
	binary.LittleEndian.PutUint64(buf[metaChecksumAt:metaSize], xxhash.Sum64(buf[:metaChecksumAt]))
}

func decodeMeta(buf []byte) (*meta, error) {
	if len(buf) < metaSize {
		return nil, base.ErrTruncated
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != MagicNumber {
		return nil, base.ErrInvalidMagicNumber
	}
	if binary.LittleEndian.Uint16(buf[4:6]) != FormatVersion {
		return nil, base.ErrInvalidVersion
	}
	if binary.LittleEndian.Uint64(buf[metaChecksumAt:metaSize]) != xxhash.Sum64(buf[:metaChecksumAt]) {
		return nil, base.ErrInvalidChecksum
	}
	m := &meta{
		pageSize:   binary.LittleEndian.Uint32(buf[8:12]),
		generation: binary.LittleEndian.Uint64(buf[16:24]),
		highWater:  base.PageNumber(binary.LittleEndian.Uint64(buf[48:56])),
	}
	if err := ValidatePageSize(int(m.pageSize)); err != nil {
		return nil, err
	}
	if binary.LittleEndian.Uint16(buf[6:8])&flagHasRoot != 0 {
		m.root = base.NewBtreeHeader(
			base.PageNumber(binary.LittleEndian.Uint64(buf[24:32])),
			base.Checksum(binary.LittleEndian.Uint64(buf[32:40])),
			binary.LittleEndian.Uint64(buf[40:48]),
		)
	}
	return m, nil
}

// FileOptions configures a FileStore
type FileOptions struct {
	PageSize int
	// Sync calls fdatasync after writing data pages and again after the meta
	// page. Without it commits are durable only once the OS flushes.
	Sync  bool
	Cache ReadCache
}

// FileStore keeps committed pages in a single file. Pages allocated by the
// open transaction stay in memory until Commit writes them out.
type FileStore struct {
	mu       sync.RWMutex
	file     *os.File
	pageSize int
	sync     bool
	meta     meta
	dirty    map[base.PageNumber]*Page
	free     *btree.BTreeG[base.PageNumber]
	cache    ReadCache
	closed   bool

	reads  atomic.Uint64
	writes atomic.Uint64
	hits   atomic.Uint64
	misses atomic.Uint64
}

// OpenFile opens or creates the store at path. An existing file keeps the
// page size it was created with.
func OpenFile(path string, opts FileOptions) (*FileStore, error) {
	if opts.PageSize == 0 {
		opts.PageSize = DefaultPageSize
	}
	if err := ValidatePageSize(opts.PageSize); err != nil {
		return nil, err
	}
	if opts.Cache == nil {
		opts.Cache = NewFIFOCache(0)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	s := &FileStore{
		file:     f,
		pageSize: opts.PageSize,
		sync:     opts.Sync,
		dirty:    make(map[base.PageNumber]*Page),
		free:     btree.NewOrderedG[base.PageNumber](16),
		cache:    opts.Cache,
	}

	info, err := f.Stat()
	if err != nil {
		_ = s.closeFile()
		return nil, err
	}
	if info.Size() == 0 {
		err = s.initialize()
	} else {
		err = s.loadMeta()
	}
	if err != nil {
		_ = s.closeFile()
		return nil, err
	}
	return s, nil
}

func (s *FileStore) initialize() error {
	s.meta = meta{pageSize: uint32(s.pageSize), highWater: metaPages}
	buf := make([]byte, s.pageSize)
	for i := 0; i < metaPages; i++ {
		s.meta.encode(buf)
		if _, err := s.file.WriteAt(buf, int64(i*s.pageSize)); err != nil {
			return fmt.Errorf("write meta page %d: %w", i, err)
		}
	}
	return fdatasync(s.file)
}

func (s *FileStore) loadMeta() error {
	buf := make([]byte, metaSize)
	if _, err := s.file.ReadAt(buf, 0); err != nil {
		return fmt.Errorf("read meta page 0: %w", err)
	}
	first, err0 := decodeMeta(buf)

	// the second record sits one page in, use whichever page size we trust
	pageSize := s.pageSize
	if first != nil {
		pageSize = int(first.pageSize)
	}
	var second *meta
	var err1 error
	if _, err := s.file.ReadAt(buf, int64(pageSize)); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read meta page 1: %w", err)
	} else if err == nil {
		second, err1 = decodeMeta(buf)
	}

	switch {
	case first == nil && second == nil:
		if err0 != nil {
			return err0
		}
		return err1
	case first == nil:
		s.meta = *second
	case second == nil || first.generation >= second.generation:
		s.meta = *first
	default:
		s.meta = *second
	}
	s.pageSize = int(s.meta.pageSize)
	return nil
}

func (s *FileStore) PageSize() int {
	return s.pageSize
}

func (s *FileStore) GetPage(n base.PageNumber) (*Page, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrStoreClosed
	}
	if p, ok := s.dirty[n]; ok {
		s.mu.RUnlock()
		return p, nil
	}
	if n < metaPages || n >= s.meta.highWater {
		s.mu.RUnlock()
		return nil, fmt.Errorf("%w: %d", ErrPageOutOfRange, n)
	}
	s.mu.RUnlock()

	if p, ok := s.cache.Get(n); ok {
		s.hits.Add(1)
		return p, nil
	}
	s.misses.Add(1)

	buf := make([]byte, s.pageSize)
	read, err := s.file.ReadAt(buf, int64(n)*int64(s.pageSize))
	if err != nil {
		return nil, fmt.Errorf("read page %d: %w", n, err)
	}
	if read != s.pageSize {
		return nil, fmt.Errorf("short read: expected %d bytes, got %d", s.pageSize, read)
	}
	s.reads.Add(1)
	p := newPage(n, buf)
	s.cache.Add(n, p)
	return p, nil
}

func (s *FileStore) GetPageMut(n base.PageNumber) (*Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	p, ok := s.dirty[n]
	if !ok {
		panic(fmt.Sprintf("page %d is committed and cannot be mutated", n))
	}
	return p, nil
}

func (s *FileStore) Allocate() (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	n, ok := s.free.DeleteMin()
	if !ok {
		n = s.meta.highWater
		s.meta.highWater++
	}
	p := newPage(n, make([]byte, s.pageSize))
	s.dirty[n] = p
	return p, nil
}

func (s *FileStore) Uncommitted(n base.PageNumber) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.dirty[n]
	return ok
}

func (s *FileStore) Free(n base.PageNumber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.freeLocked(n)
}

func (s *FileStore) FreeIfUncommitted(n base.PageNumber) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dirty[n]; !ok {
		return false
	}
	s.freeLocked(n)
	return true
}

func (s *FileStore) freeLocked(n base.PageNumber) {
	if n < metaPages || n >= s.meta.highWater {
		panic(fmt.Sprintf("free of page %d outside allocated range", n))
	}
	if _, dup := s.free.ReplaceOrInsert(n); dup {
		panic(fmt.Sprintf("double free of page %d", n))
	}
	delete(s.dirty, n)
	s.cache.Remove(n)
}

// Commit writes every dirty page, then the meta record for the next
// generation
func (s *FileStore) Commit(root *base.BtreeHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	numbers := make([]base.PageNumber, 0, len(s.dirty))
	for n := range s.dirty {
		numbers = append(numbers, n)
	}
	slices.Sort(numbers)
	for _, n := range numbers {
		p := s.dirty[n]
		written, err := s.file.WriteAt(p.data, int64(n)*int64(s.pageSize))
		if err != nil {
			return fmt.Errorf("write page %d: %w", n, err)
		}
		if written != s.pageSize {
			return fmt.Errorf("short write: expected %d bytes, wrote %d", s.pageSize, written)
		}
		s.writes.Add(1)
	}
	if s.sync && len(numbers) > 0 {
		if err := fdatasync(s.file); err != nil {
			return fmt.Errorf("sync data pages: %w", err)
		}
	}

	next := s.meta
	next.generation++
	next.root = root
	buf := make([]byte, metaSize)
	next.encode(buf)
	slot := int64(next.generation % metaPages)
	if _, err := s.file.WriteAt(buf, slot*int64(s.pageSize)); err != nil {
		return fmt.Errorf("write meta page %d: %w", slot, err)
	}
	if s.sync {
		if err := fdatasync(s.file); err != nil {
			return fmt.Errorf("sync meta page: %w", err)
		}
	}
	s.meta = next

	for _, n := range numbers {
		s.cache.Add(n, s.dirty[n])
	}
	clear(s.dirty)
	return nil
}

func (s *FileStore) Rollback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for n := range s.dirty {
		s.freeLocked(n)
	}
}

func (s *FileStore) Root() *base.BtreeHeader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.root
}

// Generation returns the number of commits recorded in the file
func (s *FileStore) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta.generation
}

func (s *FileStore) LowestFree() (base.PageNumber, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.free.Min()
}

// RebuildFreeList marks every data page below the high-water mark that is
// neither reachable nor dirty as free. Pages released by commits that were
// never reused are lost on restart otherwise.
func (s *FileStore) RebuildFreeList(reachable map[base.PageNumber]struct{}) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free.Clear(false)
	for n := base.PageNumber(metaPages); n < s.meta.highWater; n++ {
		if _, ok := reachable[n]; ok {
			continue
		}
		if _, ok := s.dirty[n]; ok {
			continue
		}
		s.free.ReplaceOrInsert(n)
		s.cache.Remove(n)
	}
	return s.free.Len()
}

func (s *FileStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	free := uint64(s.free.Len())
	return Stats{
		Allocated:   uint64(s.meta.highWater) - metaPages - free,
		Uncommitted: uint64(len(s.dirty)),
		Free:        free,
		Reads:       s.reads.Load(),
		Writes:      s.writes.Load(),
		CacheHits:   s.hits.Load(),
		CacheMisses: s.misses.Load(),
	}
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.closeFile()
}

func (s *FileStore) closeFile() error {
	unlockErr := unlockFile(s.file)
	closeErr := s.file.Close()
	if closeErr != nil {
		return closeErr
	}
	return unlockErr
}
