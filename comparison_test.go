package cowtree_test

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"testing"

	bolt "go.etcd.io/bbolt"

	"cowtree"
)

const (
	// a quarter of a 4 KiB page is the largest entry a leaf accepts
	benchValueSize  = 512
	benchNumRecords = 10000
)

var benchBucket = []byte("test")

func benchKey(i int) []byte {
	return []byte(fmt.Sprintf("key-%020d", i))
}

func openCowtree(b *testing.B, opts ...cowtree.Option) *cowtree.Store {
	b.Helper()
	s, err := cowtree.Open(filepath.Join(b.TempDir(), "bench.cow"), opts...)
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = s.Close() })
	return s
}

func openBbolt(b *testing.B, noSync bool) *bolt.DB {
	b.Helper()
	db, err := bolt.Open(filepath.Join(b.TempDir(), "bench.bolt"), 0600, &bolt.Options{NoSync: noSync})
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = db.Close() })
	_ = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucket(benchBucket)
		return err
	})
	return db
}

func putCowtree(t *cowtree.BtreeMut[[]byte, []byte], key, value []byte) error {
	old, err := t.Insert(key, value)
	old.Close()
	return err
}

func populateCowtree(b *testing.B, s *cowtree.Store) {
	b.Helper()
	value := make([]byte, benchValueSize)
	for i := 0; i < benchNumRecords; i += 100 {
		err := cowtree.Update(s, cowtree.Bytes, cowtree.Bytes, func(t *cowtree.BtreeMut[[]byte, []byte]) error {
			for j := 0; j < 100 && i+j < benchNumRecords; j++ {
				if err := putCowtree(t, benchKey(i+j), value); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.Fatal(err)
		}
	}
}

func populateBbolt(b *testing.B, db *bolt.DB) {
	b.Helper()
	value := make([]byte, benchValueSize)
	for i := 0; i < benchNumRecords; i += 100 {
		_ = db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(benchBucket)
			for j := 0; j < 100 && i+j < benchNumRecords; j++ {
				_ = bucket.Put(benchKey(i+j), value)
			}
			return nil
		})
	}
}

// Write Benchmarks

func BenchmarkSequentialWrite_Cowtree(b *testing.B) {
	for _, mode := range []cowtree.SyncMode{cowtree.SyncEveryCommit, cowtree.SyncOff} {
		b.Run(mode.String(), func(b *testing.B) {
			s := openCowtree(b, cowtree.WithSyncMode(mode))
			value := make([]byte, benchValueSize)
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				_ = cowtree.Update(s, cowtree.Bytes, cowtree.Bytes, func(t *cowtree.BtreeMut[[]byte, []byte]) error {
					return putCowtree(t, benchKey(i), value)
				})
			}
		})
	}
}

func BenchmarkSequentialWrite_Bbolt(b *testing.B) {
	for _, noSync := range []bool{false, true} {
		b.Run(fmt.Sprintf("nosync=%v", noSync), func(b *testing.B) {
			db := openBbolt(b, noSync)
			value := make([]byte, benchValueSize)
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				_ = db.Update(func(tx *bolt.Tx) error {
					return tx.Bucket(benchBucket).Put(benchKey(i), value)
				})
			}
		})
	}
}

func BenchmarkBatchWrite_Cowtree(b *testing.B) {
	s := openCowtree(b, cowtree.WithSyncOff())
	value := make([]byte, benchValueSize)
	batchSize := 1000
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		batchStart := i * batchSize
		_ = cowtree.Update(s, cowtree.Bytes, cowtree.Bytes, func(t *cowtree.BtreeMut[[]byte, []byte]) error {
			for j := 0; j < batchSize; j++ {
				if err := putCowtree(t, benchKey(batchStart+j), value); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

func BenchmarkBatchWrite_Bbolt(b *testing.B) {
	db := openBbolt(b, true)
	value := make([]byte, benchValueSize)
	batchSize := 1000
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		batchStart := i * batchSize
		_ = db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(benchBucket)
			for j := 0; j < batchSize; j++ {
				if err := bucket.Put(benchKey(batchStart+j), value); err != nil {
					return err
				}
			}
			return nil
		})
	}
}

// Read Benchmarks

func BenchmarkRandomRead_Cowtree(b *testing.B) {
	for _, policy := range []cowtree.ReadCachePolicy{cowtree.ReadCacheLRU, cowtree.ReadCacheFIFO} {
		b.Run(policy.String(), func(b *testing.B) {
			s := openCowtree(b, cowtree.WithSyncOff(), cowtree.WithReadCache(policy))
			populateCowtree(b, s)
			rng := rand.New(rand.NewSource(42))
			b.ResetTimer()

			for i := 0; i < b.N; i++ {
				key := benchKey(rng.Intn(benchNumRecords))
				_ = cowtree.View(s, cowtree.Bytes, cowtree.Bytes, func(t *cowtree.Btree[[]byte, []byte]) error {
					g, err := t.Get(key)
					g.Close()
					return err
				})
			}
		})
	}
}

func BenchmarkRandomRead_Bbolt(b *testing.B) {
	db := openBbolt(b, true)
	populateBbolt(b, db)
	rng := rand.New(rand.NewSource(42))
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		key := benchKey(rng.Intn(benchNumRecords))
		_ = db.View(func(tx *bolt.Tx) error {
			tx.Bucket(benchBucket).Get(key)
			return nil
		})
	}
}

func BenchmarkConcurrentRead_Cowtree(b *testing.B) {
	s := openCowtree(b, cowtree.WithSyncOff())
	populateCowtree(b, s)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(42))
		for pb.Next() {
			key := benchKey(rng.Intn(benchNumRecords))
			_ = cowtree.View(s, cowtree.Bytes, cowtree.Bytes, func(t *cowtree.Btree[[]byte, []byte]) error {
				g, err := t.Get(key)
				g.Close()
				return err
			})
		}
	})
}

func BenchmarkConcurrentRead_Bbolt(b *testing.B) {
	db := openBbolt(b, true)
	populateBbolt(b, db)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		rng := rand.New(rand.NewSource(42))
		for pb.Next() {
			key := benchKey(rng.Intn(benchNumRecords))
			_ = db.View(func(tx *bolt.Tx) error {
				tx.Bucket(benchBucket).Get(key)
				return nil
			})
		}
	})
}

func BenchmarkRangeScan_Cowtree(b *testing.B) {
	s := openCowtree(b, cowtree.WithSyncOff())
	populateCowtree(b, s)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = cowtree.View(s, cowtree.Bytes, cowtree.Bytes, func(t *cowtree.Btree[[]byte, []byte]) error {
			it, err := t.Range(cowtree.Range[[]byte]{})
			if err != nil {
				return err
			}
			defer it.Close()
			for {
				e, err := it.Next()
				if e == nil || err != nil {
					return err
				}
				e.Close()
			}
		})
	}
}

func BenchmarkRangeScan_Bbolt(b *testing.B) {
	db := openBbolt(b, true)
	populateBbolt(b, db)
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_ = db.View(func(tx *bolt.Tx) error {
			c := tx.Bucket(benchBucket).Cursor()
			for k, _ := c.First(); k != nil; k, _ = c.Next() {
			}
			return nil
		})
	}
}
