// Package hnsw provides the per-collection approximate nearest neighbor
// index used by VexDB.
//
// The index implements the Hierarchical Navigable Small World graph: a
// multi-layer proximity graph where upper layers are sparse long-range
// shortcuts and layer 0 contains every node. Search greedily descends the
// upper layers and then runs a beam search across layer 0, giving
// logarithmic-ish query times with a tunable accuracy/latency knob (EfSearch).
//
// Reference: "Efficient and robust approximate nearest neighbor search using
// Hierarchical Navigable Small World graphs" by Malkov & Yashunin (2016).
//
// Representation:
//
// Nodes live in an arena (a slice of node records indexed by a dense internal
// index). Neighbor lists store internal indices, never pointers, which keeps
// the cyclic graph serializable and cheap to traverse. Deletion is a
// tombstone: the slot stays in the arena and its edges stay in the graph
// until the next Save compacts them away; searches filter tombstoned nodes.
//
// Concurrency:
//
// A single RWMutex serializes writers (Insert, BatchInsert, Remove, Save,
// Load) against readers (Search, BatchSearch, Get, Size, MemoryUsage).
// Writes are rare compared to searches, so the coarse lock is intentional.
//
// Example:
//
//	idx, err := hnsw.New(128, hnsw.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	id, _ := idx.Insert(embedding, "doc-1", map[string]string{"source": "chat"})
//
//	results, _ := idx.Search(query, 10, 0)
//	for _, r := range results {
//		fmt.Printf("%s: %.4f\n", r.ID, r.Distance)
//	}
package hnsw

import (
	"fmt"
	"math"
)

// levelCap bounds randomly assigned node levels to keep the layer stack sane
// even for adversarial RNG draws.
const levelCap = 32

// Metric identifies the distance function a collection was created with.
//
// The index captures its metric once at construction and resolves the kernel
// at the outer function level, so interior loops call a monomorphic kernel
// with no per-distance dispatch.
type Metric uint8

const (
	// MetricCosine orders results by 1 - cosine_similarity.
	MetricCosine Metric = iota
	// MetricEuclidean orders results by L2 distance (squared internally,
	// square root applied to reported distances).
	MetricEuclidean
	// MetricDotProduct orders results by negated dot product, so
	// smaller-is-better holds uniformly across metrics.
	MetricDotProduct
)

// ParseMetric converts a wire-level metric name to a Metric.
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "cosine":
		return MetricCosine, nil
	case "euclidean":
		return MetricEuclidean, nil
	case "dot_product":
		return MetricDotProduct, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, s)
	}
}

// String returns the wire-level name of the metric.
func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricEuclidean:
		return "euclidean"
	case MetricDotProduct:
		return "dot_product"
	default:
		return fmt.Sprintf("metric(%d)", uint8(m))
	}
}

// Config contains the build and search parameters of an HNSW index.
// All fields are immutable after the index is created.
type Config struct {
	// M is the maximum number of neighbors per node on upper layers.
	// Higher M = better recall, more memory, slower construction.
	M int

	// Mmax0 is the maximum number of neighbors on layer 0. Typically 2*M.
	Mmax0 int

	// EfConstruction is the beam width during insertion.
	EfConstruction int

	// EfSearch is the default beam width during queries. Individual
	// searches may override it.
	EfSearch int

	// ML is the level-generation scale. New nodes get level
	// floor(-ln(U(0,1)) * ML). Defaults to 1/ln(M).
	ML float64

	// Metric selects the distance function.
	Metric Metric

	// Seed seeds the level-assignment RNG. Zero means seed from a
	// high-entropy source; tests pass a fixed value for determinism.
	Seed int64
}

// DefaultConfig returns the parameters VexDB uses when a collection does not
// specify its own.
func DefaultConfig() Config {
	return Config{
		M:              16,
		Mmax0:          32,
		EfConstruction: 200,
		EfSearch:       50,
		ML:             1.0 / math.Log(16.0),
		Metric:         MetricCosine,
	}
}

// withDefaults fills zero-valued fields so partially specified configs
// behave like DefaultConfig.
func (c Config) withDefaults() Config {
	if c.M <= 0 {
		c.M = 16
	}
	if c.Mmax0 <= 0 {
		c.Mmax0 = 2 * c.M
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = 200
	}
	if c.EfSearch <= 0 {
		c.EfSearch = 50
	}
	if c.ML <= 0 {
		c.ML = 1.0 / math.Log(float64(c.M))
	}
	return c
}
