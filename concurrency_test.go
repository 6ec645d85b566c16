package cowtree

import (
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSnapshotsDuringCommits runs readers against a writer that rewrites
// every value on each commit. A snapshot must observe exactly one round.
func TestSnapshotsDuringCommits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		open func(t *testing.T) *Store
	}{
		{"memory", func(t *testing.T) *Store {
			s, err := OpenMemory(WithPageSize(512))
			require.NoError(t, err)
			return s
		}},
		{"file", func(t *testing.T) *Store {
			s, err := Open(filepath.Join(t.TempDir(), "concurrent.cow"), WithPageSize(512), WithSyncOff())
			require.NoError(t, err)
			return s
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := tt.open(t)
			defer s.Close()

			const keys = 300
			const rounds = 25
			write := func(round uint32) error {
				return Update(s, Uint32, Uint32, func(tree *BtreeMut[uint32, uint32]) error {
					for k := range uint32(keys) {
						old, err := tree.Insert(k, round)
						if err != nil {
							return err
						}
						old.Close()
					}
					return nil
				})
			}
			require.NoError(t, write(0))

			var done atomic.Bool
			var reads atomic.Int64
			var wg sync.WaitGroup
			for range 4 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for !done.Load() {
						err := View(s, Uint32, Uint32, func(tree *Btree[uint32, uint32]) error {
							it, err := tree.Range(Range[uint32]{})
							if err != nil {
								return err
							}
							defer it.Close()
							seen := map[uint32]int{}
							for {
								e, err := it.Next()
								if err != nil || e == nil {
									assert.Len(t, seen, 1, "snapshot mixes rounds")
									for _, n := range seen {
										assert.Equal(t, keys, n)
									}
									return err
								}
								seen[e.Value.Value()]++
								e.Close()
							}
						})
						if !assert.NoError(t, err) {
							return
						}
						reads.Add(1)
					}
				}()
			}

			for round := uint32(1); round <= rounds; round++ {
				require.NoError(t, write(round))
			}
			done.Store(true)
			wg.Wait()

			assert.Positive(t, reads.Load())
			assert.Equal(t, uint64(rounds+1), s.Generation())
			assert.Zero(t, s.pending.Size(), "every snapshot is closed")
			assertNoLeaks(t, s)
		})
	}
}
