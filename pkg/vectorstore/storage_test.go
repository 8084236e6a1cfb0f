package vectorstore

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appcorner/vexdb/pkg/hnsw"
)

func testCollection(name string, dim int) CollectionConfig {
	return CollectionConfig{Name: name, Dimension: dim, Metric: "cosine"}
}

func TestCreateCollection(t *testing.T) {
	s := New("", Options{})

	assert.True(t, s.CreateCollection(testCollection("c1", 3)))

	t.Run("duplicate name", func(t *testing.T) {
		assert.False(t, s.CreateCollection(testCollection("c1", 3)))
	})

	t.Run("invalid dimension", func(t *testing.T) {
		assert.False(t, s.CreateCollection(testCollection("bad", 0)))
	})

	t.Run("unknown metric", func(t *testing.T) {
		cfg := testCollection("bad", 3)
		cfg.Metric = "hamming"
		assert.False(t, s.CreateCollection(cfg))
	})

	t.Run("empty name", func(t *testing.T) {
		assert.False(t, s.CreateCollection(testCollection("", 3)))
	})

	t.Run("custom index params", func(t *testing.T) {
		cfg := testCollection("tuned", 3)
		cfg.HNSW = IndexParams{M: 8, EfConstruction: 100, EfSearch: 20}
		assert.True(t, s.CreateCollection(cfg))
	})
}

func TestDeleteCollection(t *testing.T) {
	s := New("", Options{})
	require.True(t, s.CreateCollection(testCollection("c1", 3)))

	assert.True(t, s.DeleteCollection("c1"))
	assert.False(t, s.DeleteCollection("c1"))
	assert.False(t, s.DeleteCollection("never-existed"))
}

func TestListCollections(t *testing.T) {
	s := New("", Options{})
	require.True(t, s.CreateCollection(testCollection("a", 3)))
	require.True(t, s.CreateCollection(testCollection("b", 8)))

	_, err := s.Insert("a", []float32{1, 0, 0}, "v1", nil)
	require.NoError(t, err)

	infos := s.ListCollections()
	require.Len(t, infos, 2)

	byName := map[string]CollectionInfo{}
	for _, info := range infos {
		byName[info.Name] = info
	}
	assert.Equal(t, 3, byName["a"].Dimension)
	assert.Equal(t, 1, byName["a"].Count)
	assert.Equal(t, "cosine", byName["a"].Metric)
	assert.Equal(t, 8, byName["b"].Dimension)
	assert.Equal(t, 0, byName["b"].Count)
}

func TestDataOperations(t *testing.T) {
	s := New("", Options{})
	require.True(t, s.CreateCollection(testCollection("c1", 3)))

	id, err := s.Insert("c1", []float32{1, 0, 0}, "a", map[string]string{"k": "v"})
	require.NoError(t, err)
	assert.Equal(t, "a", id)

	t.Run("get", func(t *testing.T) {
		data, found, err := s.Get("c1", "a")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, []float32{1, 0, 0}, data.Values)
		assert.Equal(t, "v", data.Metadata["k"])
	})

	t.Run("get missing id", func(t *testing.T) {
		_, found, err := s.Get("c1", "nope")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("search", func(t *testing.T) {
		_, err := s.Insert("c1", []float32{0, 1, 0}, "b", nil)
		require.NoError(t, err)

		results, err := s.Search("c1", []float32{1, 0, 0}, 1, 0)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "a", results[0].ID)
	})

	t.Run("batch insert and search", func(t *testing.T) {
		count, err := s.BatchInsert("c1", []hnsw.VectorData{
			{ID: "c", Values: []float32{0, 0, 1}},
			{ID: "short", Values: []float32{1}},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		lists, err := s.BatchSearch("c1", [][]float32{{1, 0, 0}, {0, 0, 1}}, 1)
		require.NoError(t, err)
		require.Len(t, lists, 2)
		assert.Equal(t, "a", lists[0][0].ID)
		assert.Equal(t, "c", lists[1][0].ID)
	})

	t.Run("remove", func(t *testing.T) {
		existed, err := s.Remove("c1", "a")
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = s.Remove("c1", "a")
		require.NoError(t, err)
		assert.False(t, existed)
	})

	t.Run("unknown collection", func(t *testing.T) {
		_, err := s.Insert("ghost", []float32{1, 0, 0}, "", nil)
		assert.ErrorIs(t, err, ErrUnknownCollection)

		_, err = s.Search("ghost", []float32{1, 0, 0}, 1, 0)
		assert.ErrorIs(t, err, ErrUnknownCollection)

		_, _, err = s.Get("ghost", "a")
		assert.ErrorIs(t, err, ErrUnknownCollection)

		_, err = s.Remove("ghost", "a")
		assert.ErrorIs(t, err, ErrUnknownCollection)
	})
}

func TestGetStats(t *testing.T) {
	s := New("", Options{})
	require.True(t, s.CreateCollection(testCollection("c1", 3)))
	_, err := s.Insert("c1", []float32{1, 0, 0}, "a", nil)
	require.NoError(t, err)

	stats, ok := s.GetStats("c1")
	require.True(t, ok)
	assert.Equal(t, 3, stats.Dimension)
	assert.Equal(t, 1, stats.VectorCount)
	assert.Equal(t, "cosine", stats.Metric)
	assert.Positive(t, stats.MemoryUsage)

	_, ok = s.GetStats("ghost")
	assert.False(t, ok)
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()

	s := New(dir, Options{})
	require.True(t, s.CreateCollection(testCollection("c1", 3)))
	require.True(t, s.CreateCollection(testCollection("c2", 8)))

	_, err := s.Insert("c1", []float32{1, 0, 0}, "a", map[string]string{"k": "v"})
	require.NoError(t, err)
	_, err = s.Insert("c1", []float32{0, 1, 0}, "b", nil)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(4))
	for i := 0; i < 50; i++ {
		v := make([]float32, 8)
		for j := range v {
			v[j] = rng.Float32()
		}
		_, err := s.Insert("c2", v, fmt.Sprintf("v%d", i), nil)
		require.NoError(t, err)
	}

	before, err := s.Search("c1", []float32{1, 0, 0}, 2, 0)
	require.NoError(t, err)

	require.NoError(t, s.SaveAll())

	// Expected layout: one snapshot per collection plus the catalog.
	for _, name := range []string{"c1.hnsw", "c2.hnsw", "collections.json"} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, statErr, name)
	}

	restored := New(dir, Options{})
	require.NoError(t, restored.LoadAll())

	infos := restored.ListCollections()
	require.Len(t, infos, 2)

	data, found, err := restored.Get("c1", "a")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "v", data.Metadata["k"])

	after, err := restored.Search("c1", []float32{1, 0, 0}, 2, 0)
	require.NoError(t, err)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID, "rank %d", i)
	}
}

func TestLoadAllEmptyRoot(t *testing.T) {
	s := New(t.TempDir(), Options{})
	require.NoError(t, s.LoadAll())
	assert.Empty(t, s.ListCollections())
}

func TestLoadAllCorruptSnapshot(t *testing.T) {
	dir := t.TempDir()

	s := New(dir, Options{})
	require.True(t, s.CreateCollection(testCollection("good", 3)))
	require.True(t, s.CreateCollection(testCollection("bad", 3)))
	_, err := s.Insert("good", []float32{1, 0, 0}, "a", nil)
	require.NoError(t, err)
	require.NoError(t, s.SaveAll())

	// Wreck one snapshot body.
	badPath := filepath.Join(dir, "bad.hnsw")
	data, err := os.ReadFile(badPath)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(badPath, data, 0o644))

	t.Run("lenient skips", func(t *testing.T) {
		restored := New(dir, Options{})
		require.NoError(t, restored.LoadAll())

		infos := restored.ListCollections()
		require.Len(t, infos, 1)
		assert.Equal(t, "good", infos[0].Name)
	})

	t.Run("strict fails", func(t *testing.T) {
		restored := New(dir, Options{StrictLoad: true})
		err := restored.LoadAll()
		assert.ErrorIs(t, err, hnsw.ErrCorruptSnapshot)
	})
}

func TestDeleteCollectionRemovesSnapshot(t *testing.T) {
	dir := t.TempDir()

	s := New(dir, Options{})
	require.True(t, s.CreateCollection(testCollection("c1", 3)))
	require.NoError(t, s.SaveAll())

	path := filepath.Join(dir, "c1.hnsw")
	_, err := os.Stat(path)
	require.NoError(t, err)

	require.True(t, s.DeleteCollection("c1"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	restored := New(dir, Options{})
	require.NoError(t, restored.LoadAll())
	assert.Empty(t, restored.ListCollections())
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"plain":         "plain",
		"with space":    "with_space",
		"slash/../evil": "slash_.._evil",
		"héllo":         "h_llo",
		"ok-1.2_3":      "ok-1.2_3",
	}
	for in, want := range cases {
		assert.Equal(t, want, sanitizeName(in), "input %q", in)
	}
}
