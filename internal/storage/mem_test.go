package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cowtree/internal/base"
)

func TestValidatePageSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		wantErr bool
	}{
		{"minimum", 512, false},
		{"default", 4096, false},
		{"large", 65536, false},
		{"too small", 256, true},
		{"not power of two", 3000, true},
		{"zero", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidatePageSize(tt.size)
			if tt.wantErr {
				assert.ErrorIs(t, err, base.ErrInvalidPageSize)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMemStoreAllocateAndFree(t *testing.T) {
	t.Parallel()

	m, err := NewMemStore(512)
	require.NoError(t, err)

	p0, err := m.Allocate()
	require.NoError(t, err)
	p1, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, base.PageNumber(0), p0.Number())
	assert.Equal(t, base.PageNumber(1), p1.Number())
	assert.Len(t, p0.Data(), 512)
	assert.True(t, m.Uncommitted(0))

	p0.Data()[0] = 0xAB
	got, err := m.GetPage(0)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), got.Data()[0])

	m.Free(0)
	_, err = m.GetPage(0)
	assert.ErrorIs(t, err, ErrPageNotAllocated)

	low, ok := m.LowestFree()
	require.True(t, ok)
	assert.Equal(t, base.PageNumber(0), low)

	// Freed numbers are reused lowest first, zeroed
	p, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, base.PageNumber(0), p.Number())
	assert.Equal(t, byte(0), p.Data()[0])
}

func TestMemStoreCommitAndRollback(t *testing.T) {
	t.Parallel()

	m, err := NewMemStore(512)
	require.NoError(t, err)

	p, err := m.Allocate()
	require.NoError(t, err)
	header := base.NewBtreeHeader(p.Number(), 42, 1)
	require.NoError(t, m.Commit(header))

	assert.False(t, m.Uncommitted(p.Number()))
	assert.Equal(t, header, m.Root())
	assert.False(t, m.FreeIfUncommitted(p.Number()), "Committed page must not be freed")
	assert.Panics(t, func() { _, _ = m.GetPageMut(p.Number()) })

	q, err := m.Allocate()
	require.NoError(t, err)
	_, err = m.GetPageMut(q.Number())
	require.NoError(t, err)

	m.Rollback()
	assert.False(t, m.Uncommitted(q.Number()))
	_, err = m.GetPage(q.Number())
	assert.ErrorIs(t, err, ErrPageNotAllocated)

	stats := m.Stats()
	assert.Equal(t, uint64(1), stats.Allocated)
	assert.Equal(t, uint64(0), stats.Uncommitted)
	assert.Equal(t, uint64(1), stats.Free)
}

func TestMemStorePinnedBufferSurvivesFree(t *testing.T) {
	t.Parallel()

	m, err := NewMemStore(512)
	require.NoError(t, err)

	p, err := m.Allocate()
	require.NoError(t, err)
	p.Data()[10] = 7
	p.Pin()
	require.True(t, m.FreeIfUncommitted(p.Number()))

	// Reallocating the number must not hand out the pinned buffer
	q, err := m.Allocate()
	require.NoError(t, err)
	assert.Equal(t, p.Number(), q.Number())
	q.Data()[10] = 9
	assert.Equal(t, byte(7), p.Data()[10])
	p.Unpin()
	assert.False(t, p.Pinned())
}

func TestMemStoreRebuildFreeList(t *testing.T) {
	t.Parallel()

	m, err := NewMemStore(512)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := m.Allocate()
		require.NoError(t, err)
	}
	require.NoError(t, m.Commit(nil))

	freed := m.RebuildFreeList(map[base.PageNumber]struct{}{1: {}, 3: {}})
	assert.Equal(t, 3, freed)
	assert.Equal(t, uint64(2), m.Stats().Allocated)
}

func TestMemStoreDoubleFreePanics(t *testing.T) {
	t.Parallel()

	m, err := NewMemStore(512)
	require.NoError(t, err)
	p, err := m.Allocate()
	require.NoError(t, err)
	m.Free(p.Number())
	assert.Panics(t, func() { m.Free(p.Number()) })
}

func TestMemStoreClosed(t *testing.T) {
	t.Parallel()

	m, err := NewMemStore(512)
	require.NoError(t, err)
	require.NoError(t, m.Close())
	_, err = m.Allocate()
	assert.ErrorIs(t, err, ErrStoreClosed)
}
