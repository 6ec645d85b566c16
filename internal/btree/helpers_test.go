package btree

import (
	"bytes"
	"encoding/binary"
	"errors"
	"flag"
	"testing"

	"github.com/stretchr/testify/require"

	"cowtree/internal/base"
	"cowtree/internal/storage"
)

var _ = flag.Bool("slow", false, "run slow tests")

var u32Schema = Schema{
	KeyWidth:   base.FixedWidth(4),
	ValueWidth: base.FixedWidth(4),
	Compare:    bytes.Compare,
}

var bytesSchema = Schema{
	KeyWidth:   base.Variable,
	ValueWidth: base.Variable,
	Compare:    bytes.Compare,
}

func u32(v uint32) []byte {
	return binary.BigEndian.AppendUint32(nil, v)
}

func readU32(b []byte) uint32 {
	return binary.BigEndian.Uint32(b)
}

type fixture struct {
	store *storage.MemStore
	freed *storage.FreedPages
	tree  *TreeMut
}

func newFixture(t *testing.T, schema Schema) *fixture {
	t.Helper()
	store, err := storage.NewMemStore(512)
	require.NoError(t, err)
	freed := storage.NewFreedPages()
	return &fixture{store: store, freed: freed, tree: NewTreeMut(store, nil, freed, schema)}
}

// commit finalizes checksums, commits the store and frees pages released by
// the transaction. No readers are open in these tests.
func (f *fixture) commit(t *testing.T) {
	t.Helper()
	root, err := f.tree.FinalizeDirtyChecksums()
	require.NoError(t, err)
	require.NoError(t, f.store.Commit(root))
	for _, p := range f.freed.Drain() {
		f.store.Free(p)
	}
}

func (f *fixture) insertU32(t *testing.T, k, v uint32) {
	t.Helper()
	old, err := f.tree.Insert(u32(k), u32(v))
	require.NoError(t, err)
	old.Release()
}

// collect returns every key/value in iteration order
func collect(t *testing.T, it *RangeIter) [][2]string {
	t.Helper()
	defer it.Close()
	var out [][2]string
	for {
		pair, err := it.Next()
		require.NoError(t, err)
		if pair == nil {
			return out
		}
		out = append(out, [2]string{string(pair.Key.Bytes()), string(pair.Value.Bytes())})
		pair.Release()
	}
}

var errInjected = errors.New("injected failure")

// failingStore fails Allocate once budget allocations have succeeded
type failingStore struct {
	*storage.MemStore
	budget int
}

func (s *failingStore) Allocate() (*storage.Page, error) {
	if s.budget <= 0 {
		return nil, errInjected
	}
	s.budget--
	return s.MemStore.Allocate()
}
