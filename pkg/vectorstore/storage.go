// Package vectorstore manages the set of named vector collections and their
// persistence.
//
// A Storage owns one HNSW index per collection and routes every data
// operation to the right index. Collection creation and deletion take the
// storage writer lock; data operations only take the reader lock on the
// name->index map, so traffic against different collections proceeds in
// parallel while each index serializes itself internally.
//
// Persistence lives under a single root directory:
//
//	<root>/<collection>.hnsw    one snapshot per collection
//	<root>/collections.json     the collection configurations
//
// Example:
//
//	storage := vectorstore.New("./data", vectorstore.Options{})
//	if err := storage.LoadAll(); err != nil {
//		log.Fatal(err)
//	}
//
//	storage.CreateCollection(vectorstore.CollectionConfig{
//		Name:      "memories",
//		Dimension: 1024,
//		Metric:    "cosine",
//	})
//
//	id, _ := storage.Insert("memories", embedding, "", nil)
//	results, _ := storage.Search("memories", query, 10, 0)
package vectorstore

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/appcorner/vexdb/pkg/hnsw"
)

// ErrUnknownCollection means the referenced collection does not exist.
var ErrUnknownCollection = errors.New("unknown collection")

// IndexParams is the caller-tunable subset of the HNSW configuration.
// Zero values fall back to the index defaults.
type IndexParams struct {
	M              int `json:"m,omitempty"`
	EfConstruction int `json:"ef_construction,omitempty"`
	EfSearch       int `json:"ef_search,omitempty"`
}

// CollectionConfig describes a collection. All fields are immutable after
// creation.
type CollectionConfig struct {
	Name      string      `json:"name"`
	Dimension int         `json:"dimension"`
	Metric    string      `json:"metric"`
	HNSW      IndexParams `json:"hnsw"`
}

// Stats reports per-collection figures for the stats endpoint.
type Stats struct {
	Dimension   int
	VectorCount int
	MemoryUsage int64
	Metric      string
}

// CollectionInfo is one row of a ListCollections response.
type CollectionInfo struct {
	Name      string
	Dimension int
	Count     int
	Metric    string
}

// Options configures a Storage.
type Options struct {
	// StrictLoad makes LoadAll fail on a corrupt snapshot instead of
	// skipping the collection.
	StrictLoad bool
}

type collection struct {
	cfg   CollectionConfig
	index *hnsw.Index
}

// Storage is the multi-collection manager. Safe for concurrent use.
type Storage struct {
	mu          sync.RWMutex
	root        string
	opts        Options
	collections map[string]*collection
}

// New creates a Storage rooted at dir. An empty dir disables persistence.
func New(dir string, opts Options) *Storage {
	return &Storage{
		root:        dir,
		opts:        opts,
		collections: make(map[string]*collection),
	}
}

// CreateCollection creates a new empty collection. Returns false when the
// name is already taken or the config is invalid (empty name, dimension <= 0,
// unknown metric).
func (s *Storage) CreateCollection(cfg CollectionConfig) bool {
	metric, err := hnsw.ParseMetric(cfg.Metric)
	if err != nil || cfg.Name == "" || cfg.Dimension <= 0 {
		return false
	}

	hcfg := hnsw.DefaultConfig()
	hcfg.Metric = metric
	if cfg.HNSW.M > 0 {
		hcfg.M = cfg.HNSW.M
		hcfg.Mmax0 = 2 * cfg.HNSW.M
		hcfg.ML = 0 // recomputed from M
	}
	if cfg.HNSW.EfConstruction > 0 {
		hcfg.EfConstruction = cfg.HNSW.EfConstruction
	}
	if cfg.HNSW.EfSearch > 0 {
		hcfg.EfSearch = cfg.HNSW.EfSearch
	}

	index, err := hnsw.New(cfg.Dimension, hcfg)
	if err != nil {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[cfg.Name]; exists {
		return false
	}
	s.collections[cfg.Name] = &collection{cfg: cfg, index: index}

	if s.root != "" {
		// Seed an empty snapshot so a crash before the first SaveAll still
		// leaves a loadable file behind.
		if err := os.MkdirAll(s.root, 0o755); err == nil {
			if err := index.Save(s.snapshotPath(cfg.Name)); err == nil {
				_ = s.writeCatalogLocked()
			}
		}
	}
	return true
}

// DeleteCollection destroys a collection and removes its snapshot. Returns
// false when the name is unknown.
func (s *Storage) DeleteCollection(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.collections[name]; !exists {
		return false
	}
	delete(s.collections, name)

	if s.root != "" {
		s.removeSnapshot(name)
		_ = s.writeCatalogLocked()
	}
	return true
}

// ListCollections enumerates the collections at a point in time. No ordering
// is guaranteed.
func (s *Storage) ListCollections() []CollectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]CollectionInfo, 0, len(s.collections))
	for name, c := range s.collections {
		out = append(out, CollectionInfo{
			Name:      name,
			Dimension: c.cfg.Dimension,
			Count:     c.index.Size(),
			Metric:    c.cfg.Metric,
		})
	}
	return out
}

// GetStats reports figures for one collection.
func (s *Storage) GetStats(name string) (*Stats, bool) {
	c, err := s.lookup(name)
	if err != nil {
		return nil, false
	}
	return &Stats{
		Dimension:   c.cfg.Dimension,
		VectorCount: c.index.Size(),
		MemoryUsage: c.index.MemoryUsage(),
		Metric:      c.cfg.Metric,
	}, true
}

// Insert adds one vector to the named collection, returning its effective id.
func (s *Storage) Insert(name string, values []float32, id string, meta map[string]string) (string, error) {
	c, err := s.lookup(name)
	if err != nil {
		return "", err
	}
	return c.index.Insert(values, id, meta)
}

// BatchInsert adds vectors to the named collection under one writer lock and
// returns the inserted count.
func (s *Storage) BatchInsert(name string, vectors []hnsw.VectorData) (int, error) {
	c, err := s.lookup(name)
	if err != nil {
		return 0, err
	}
	return c.index.BatchInsert(vectors)
}

// Remove deletes a vector by id. The bool reports whether the id existed.
func (s *Storage) Remove(name, id string) (bool, error) {
	c, err := s.lookup(name)
	if err != nil {
		return false, err
	}
	return c.index.Remove(id), nil
}

// Get fetches a vector payload by id.
func (s *Storage) Get(name, id string) (*hnsw.VectorData, bool, error) {
	c, err := s.lookup(name)
	if err != nil {
		return nil, false, err
	}
	data, ok := c.index.Get(id)
	return data, ok, nil
}

// Search runs a single query against the named collection.
func (s *Storage) Search(name string, query []float32, k, efOverride int) ([]hnsw.SearchResult, error) {
	c, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return c.index.Search(query, k, efOverride)
}

// BatchSearch runs queries against the named collection.
func (s *Storage) BatchSearch(name string, queries [][]float32, k int) ([][]hnsw.SearchResult, error) {
	c, err := s.lookup(name)
	if err != nil {
		return nil, err
	}
	return c.index.BatchSearch(queries, k)
}

func (s *Storage) lookup(name string) (*collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCollection, name)
	}
	return c, nil
}
