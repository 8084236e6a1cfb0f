package hnsw

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c1.hnsw")

	cfg := testConfig(MetricCosine)
	idx := mustNew(t, 8, cfg)

	rng := rand.New(rand.NewSource(77))
	for i := 0; i < 200; i++ {
		_, err := idx.Insert(randomVector(rng, 8), fmt.Sprintf("v%03d", i),
			map[string]string{"n": fmt.Sprintf("%d", i)})
		require.NoError(t, err)
	}

	// A fixed query pool pins the pre-save results.
	queries := make([][]float32, 20)
	for i := range queries {
		queries[i] = randomVector(rng, 8)
	}
	before := make([][]SearchResult, len(queries))
	for i, q := range queries {
		results, err := idx.Search(q, 10, 0)
		require.NoError(t, err)
		before[i] = results
	}

	require.NoError(t, idx.Save(path))

	restored := mustNew(t, 8, cfg)
	require.NoError(t, restored.Load(path))

	assert.Equal(t, idx.Size(), restored.Size())

	for i := 0; i < 200; i++ {
		id := fmt.Sprintf("v%03d", i)
		orig, ok := idx.Get(id)
		require.True(t, ok)
		loaded, ok := restored.Get(id)
		require.True(t, ok, "id %s missing after load", id)
		assert.Equal(t, orig.Values, loaded.Values)
		assert.Equal(t, orig.Metadata, loaded.Metadata)
	}

	for i, q := range queries {
		results, err := restored.Search(q, 10, 0)
		require.NoError(t, err)
		require.Len(t, results, len(before[i]), "query %d", i)
		for j := range results {
			assert.Equal(t, before[i][j].ID, results[j].ID, "query %d rank %d", i, j)
		}
	}
}

func TestSnapshotCompactsTombstones(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c1.hnsw")

	idx := mustNew(t, 4, testConfig(MetricCosine))
	rng := rand.New(rand.NewSource(8))
	for i := 0; i < 50; i++ {
		idx.Insert(randomVector(rng, 4), fmt.Sprintf("v%d", i), nil)
	}
	for i := 0; i < 50; i += 2 {
		idx.Remove(fmt.Sprintf("v%d", i))
	}
	require.Equal(t, 25, idx.Size())

	require.NoError(t, idx.Save(path))

	restored := mustNew(t, 4, testConfig(MetricCosine))
	require.NoError(t, restored.Load(path))

	assert.Equal(t, 25, restored.Size())
	assert.Empty(t, restored.tombstones, "snapshots must compact tombstones away")
	assert.Len(t, restored.nodes, 25, "snapshots must rewrite internal indices densely")

	for i := 0; i < 50; i++ {
		id := fmt.Sprintf("v%d", i)
		_, ok := restored.Get(id)
		assert.Equal(t, i%2 == 1, ok, "id %s", id)
	}
}

func TestSnapshotEmptyIndex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.hnsw")

	idx := mustNew(t, 16, testConfig(MetricEuclidean))
	require.NoError(t, idx.Save(path))

	restored := mustNew(t, 16, testConfig(MetricEuclidean))
	require.NoError(t, restored.Load(path))
	assert.Equal(t, 0, restored.Size())

	results, err := restored.Search(make([]float32, 16), 5, 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSnapshotCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c1.hnsw")

	idx := mustNew(t, 4, testConfig(MetricCosine))
	rng := rand.New(rand.NewSource(9))
	for i := 0; i < 20; i++ {
		idx.Insert(randomVector(rng, 4), fmt.Sprintf("v%d", i), nil)
	}
	require.NoError(t, idx.Save(path))

	load := func(t *testing.T, mutate func(data []byte) []byte) error {
		t.Helper()
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		mutated := mutate(append([]byte(nil), data...))
		bad := filepath.Join(dir, "bad.hnsw")
		require.NoError(t, os.WriteFile(bad, mutated, 0o644))
		fresh := mustNew(t, 4, testConfig(MetricCosine))
		return fresh.Load(bad)
	}

	t.Run("bad magic", func(t *testing.T) {
		err := load(t, func(data []byte) []byte {
			data[0] = 'X'
			return data
		})
		assert.ErrorIs(t, err, ErrCorruptSnapshot)
	})

	t.Run("flipped payload byte", func(t *testing.T) {
		err := load(t, func(data []byte) []byte {
			data[len(data)/2] ^= 0xFF
			return data
		})
		assert.ErrorIs(t, err, ErrCorruptSnapshot)
	})

	t.Run("truncated", func(t *testing.T) {
		err := load(t, func(data []byte) []byte {
			return data[:len(data)/2]
		})
		assert.ErrorIs(t, err, ErrCorruptSnapshot)
	})

	t.Run("unsupported version", func(t *testing.T) {
		err := load(t, func(data []byte) []byte {
			// Version sits right after the 5-byte magic; the CRC must be
			// recomputed so only the version check can fail.
			binary.LittleEndian.PutUint32(data[5:9], 99)
			rewriteCRC(data)
			return data
		})
		assert.ErrorIs(t, err, ErrCorruptSnapshot)
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		other := mustNew(t, 8, testConfig(MetricCosine))
		bad := filepath.Join(dir, "dim.hnsw")
		require.NoError(t, os.WriteFile(bad, data, 0o644))
		assert.ErrorIs(t, other.Load(bad), ErrCorruptSnapshot)
	})

	t.Run("missing file", func(t *testing.T) {
		fresh := mustNew(t, 4, testConfig(MetricCosine))
		assert.Error(t, fresh.Load(filepath.Join(dir, "nope.hnsw")))
	})
}

func TestSnapshotAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "c1.hnsw")

	idx := mustNew(t, 2, testConfig(MetricCosine))
	idx.Insert([]float32{1, 0}, "a", nil)
	require.NoError(t, idx.Save(path))

	idx.Insert([]float32{0, 1}, "b", nil)
	require.NoError(t, idx.Save(path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not survive a save")

	restored := mustNew(t, 2, testConfig(MetricCosine))
	require.NoError(t, restored.Load(path))
	assert.Equal(t, 2, restored.Size())
}

// rewriteCRC recomputes the trailing checksum after a deliberate header edit.
func rewriteCRC(data []byte) {
	body := data[:len(data)-4]
	binary.LittleEndian.PutUint32(data[len(data)-4:], crc32.ChecksumIEEE(body))
}
