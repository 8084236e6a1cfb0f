package hnsw

import (
	crand "crypto/rand"
	"encoding/binary"
	"math"
	"math/rand"
	"sync"

	"github.com/google/uuid"

	"github.com/appcorner/vexdb/pkg/math/vector"
)

// VectorData is a stored vector payload: the caller-visible identity, the
// values, and free-form string metadata.
type VectorData struct {
	ID       string
	Values   []float32
	Metadata map[string]string
}

// SearchResult is one entry of a search response. Distance is
// metric-specific but always smaller-is-better: 1-cosine for cosine,
// L2 for euclidean, negated dot product for dot_product. Data carries a
// copy of the payload.
type SearchResult struct {
	ID       string
	Distance float32
	Data     *VectorData
}

// node is one slot of the arena. Neighbor lists hold internal indices into
// the arena, one list per layer 0..level.
type node struct {
	id        string
	values    []float32
	meta      map[string]string
	level     int
	neighbors [][]int
}

// Index is an HNSW graph over vectors of one fixed dimension.
//
// All methods are safe for concurrent use; see the package documentation for
// the locking model.
type Index struct {
	mu   sync.RWMutex
	dim  int
	cfg  Config
	dist func(a, b []float32) float32

	nodes        []*node
	idToInternal map[string]int
	tombstones   map[int]struct{}
	entryPoint   int // -1 when no live node exists
	topLevel     int
	rng          *rand.Rand
}

// New creates an empty index for vectors of the given dimension. Zero-valued
// config fields fall back to DefaultConfig values.
func New(dimension int, cfg Config) (*Index, error) {
	if dimension <= 0 {
		return nil, ErrInvalidConfig
	}
	cfg = cfg.withDefaults()

	seed := cfg.Seed
	if seed == 0 {
		var buf [8]byte
		if _, err := crand.Read(buf[:]); err != nil {
			return nil, err
		}
		seed = int64(binary.LittleEndian.Uint64(buf[:]))
	}

	return &Index{
		dim:          dimension,
		cfg:          cfg,
		dist:         metricDistance(cfg.Metric),
		idToInternal: make(map[string]int),
		tombstones:   make(map[int]struct{}),
		entryPoint:   -1,
		rng:          rand.New(rand.NewSource(seed)),
	}, nil
}

// metricDistance resolves the internal distance kernel for a metric once,
// so the interior loops stay monomorphic.
func metricDistance(m Metric) func(a, b []float32) float32 {
	switch m {
	case MetricEuclidean:
		// Squared form on the hot path; Search applies the square root
		// to reported distances.
		return vector.SquaredDistance
	case MetricDotProduct:
		return func(a, b []float32) float32 { return -vector.Dot(a, b) }
	default:
		return func(a, b []float32) float32 { return 1 - vector.CosineSimilarity(a, b) }
	}
}

// Config returns the index parameters.
func (idx *Index) Config() Config {
	return idx.cfg
}

// Dimension returns the fixed vector dimension.
func (idx *Index) Dimension() int {
	return idx.dim
}

// Insert adds a vector to the index and returns its effective id.
//
// An empty id mints a fresh identifier. If the id already exists the old
// entry is replaced (remove + insert, atomically under the writer lock).
// Returns ErrDimensionMismatch when len(values) != Dimension().
func (idx *Index) Insert(values []float32, id string, meta map[string]string) (string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.insertLocked(values, id, meta)
}

// BatchInsert inserts vectors in input order under a single writer lock and
// returns how many were inserted. Entries with a wrong dimension are skipped
// and excluded from the count.
func (idx *Index) BatchInsert(vectors []VectorData) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	inserted := 0
	for i := range vectors {
		v := &vectors[i]
		if _, err := idx.insertLocked(v.Values, v.ID, v.Metadata); err != nil {
			continue
		}
		inserted++
	}
	return inserted, nil
}

// Get returns a copy of the payload stored under id.
func (idx *Index) Get(id string) (*VectorData, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	internal, ok := idx.idToInternal[id]
	if !ok {
		return nil, false
	}
	return idx.nodes[internal].payload(), true
}

// Remove soft-deletes a vector: its slot is tombstoned, its id mapping
// removed, and its payload released. Graph edges referencing the slot stay
// until the next Save compacts the graph; searches filter them out. Returns
// true iff the id existed.
func (idx *Index) Remove(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.removeLocked(id)
}

// Size returns the live vector count (inserted minus removed).
func (idx *Index) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.idToInternal)
}

// MemoryUsage returns an estimate in bytes of payloads, neighbor lists, and
// mapping overhead.
func (idx *Index) MemoryUsage() int64 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	const nodeOverhead = 96   // struct, slice headers, arena slot
	const mapEntryOverhead = 48

	var total int64
	for _, n := range idx.nodes {
		if n == nil {
			continue
		}
		total += nodeOverhead
		total += int64(len(n.values)) * 4
		total += int64(len(n.id))
		for k, v := range n.meta {
			total += int64(len(k) + len(v) + 32)
		}
		for _, layer := range n.neighbors {
			total += int64(len(layer)) * 8
		}
	}
	total += int64(len(idx.idToInternal)) * mapEntryOverhead
	total += int64(len(idx.tombstones)) * 16
	return total
}

// payload builds a caller-owned copy of the node's data.
func (n *node) payload() *VectorData {
	values := make([]float32, len(n.values))
	copy(values, n.values)
	var meta map[string]string
	if n.meta != nil {
		meta = make(map[string]string, len(n.meta))
		for k, v := range n.meta {
			meta[k] = v
		}
	}
	return &VectorData{ID: n.id, Values: values, Metadata: meta}
}

func (idx *Index) insertLocked(values []float32, id string, meta map[string]string) (string, error) {
	if len(values) != idx.dim {
		return "", ErrDimensionMismatch
	}
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := idx.idToInternal[id]; exists {
		idx.removeLocked(id)
	}

	owned := make([]float32, len(values))
	copy(owned, values)
	var ownedMeta map[string]string
	if meta != nil {
		ownedMeta = make(map[string]string, len(meta))
		for k, v := range meta {
			ownedMeta[k] = v
		}
	}

	level := idx.randomLevel()
	n := &node{
		id:        id,
		values:    owned,
		meta:      ownedMeta,
		level:     level,
		neighbors: make([][]int, level+1),
	}
	for l := range n.neighbors {
		n.neighbors[l] = make([]int, 0, idx.layerCap(l))
	}

	internal := len(idx.nodes)
	idx.nodes = append(idx.nodes, n)
	idx.idToInternal[id] = internal

	if idx.entryPoint < 0 {
		idx.entryPoint = internal
		idx.topLevel = level
		return id, nil
	}

	// Greedy descent through the layers above the new node's level.
	ep := idx.entryPoint
	for l := idx.topLevel; l > level; l-- {
		ep = idx.greedyClosestLocked(owned, ep, l)
	}

	// Link the new node into every layer it participates in.
	for l := min(level, idx.topLevel); l >= 0; l-- {
		candidates := idx.searchLayerLocked(owned, ep, idx.cfg.EfConstruction, l)
		selected := idx.selectNeighborsLocked(owned, candidates, idx.layerCap(l))

		n.neighbors[l] = n.neighbors[l][:0]
		for _, c := range selected {
			n.neighbors[l] = append(n.neighbors[l], c.internal)
			idx.linkLocked(c.internal, internal, l)
		}

		if len(candidates) > 0 {
			ep = candidates[0].internal
		}
	}

	if level > idx.topLevel {
		idx.entryPoint = internal
		idx.topLevel = level
	}
	return id, nil
}

// linkLocked adds the reciprocal edge from -> to on the given layer and
// re-applies the selection heuristic if the list overflows its cap.
func (idx *Index) linkLocked(from, to, layer int) {
	fn := idx.nodes[from]
	if layer > fn.level {
		return
	}
	for _, existing := range fn.neighbors[layer] {
		if existing == to {
			return
		}
	}
	fn.neighbors[layer] = append(fn.neighbors[layer], to)

	capacity := idx.layerCap(layer)
	if len(fn.neighbors[layer]) <= capacity {
		return
	}

	candidates := make([]candidate, 0, len(fn.neighbors[layer]))
	for _, nb := range fn.neighbors[layer] {
		if _, dead := idx.tombstones[nb]; dead {
			continue
		}
		candidates = append(candidates, candidate{
			internal: nb,
			dist:     idx.dist(fn.values, idx.nodes[nb].values),
		})
	}
	sortCandidates(candidates)
	pruned := idx.selectNeighborsLocked(fn.values, candidates, capacity)

	fn.neighbors[layer] = fn.neighbors[layer][:0]
	for _, c := range pruned {
		fn.neighbors[layer] = append(fn.neighbors[layer], c.internal)
	}
}

// selectNeighborsLocked applies the diversity heuristic: walk candidates in
// ascending distance to the query and keep each one that is not closer to an
// already-kept neighbor than it is to the query. Candidates must be sorted.
func (idx *Index) selectNeighborsLocked(query []float32, candidates []candidate, m int) []candidate {
	selected := make([]candidate, 0, m)
	for _, c := range candidates {
		if len(selected) >= m {
			break
		}
		keep := true
		cv := idx.nodes[c.internal].values
		for _, s := range selected {
			if idx.dist(cv, idx.nodes[s.internal].values) < c.dist {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		}
	}
	return selected
}

func (idx *Index) removeLocked(id string) bool {
	internal, ok := idx.idToInternal[id]
	if !ok {
		return false
	}
	delete(idx.idToInternal, id)
	idx.tombstones[internal] = struct{}{}

	// Release the payload; tombstoned slots are never traversed again, and
	// the next Save drops them from the graph entirely.
	n := idx.nodes[internal]
	n.values = nil
	n.meta = nil
	n.id = ""

	if idx.entryPoint != internal {
		return true
	}

	// The entry point died; promote the lowest-indexed live node with the
	// highest level so repeated runs stay deterministic.
	idx.entryPoint = -1
	idx.topLevel = 0
	best := -1
	for i, cand := range idx.nodes {
		if _, dead := idx.tombstones[i]; dead {
			continue
		}
		if best < 0 || cand.level > idx.nodes[best].level {
			best = i
		}
	}
	if best >= 0 {
		idx.entryPoint = best
		idx.topLevel = idx.nodes[best].level
	}
	return true
}

// layerCap returns the neighbor-list cap for a layer.
func (idx *Index) layerCap(layer int) int {
	if layer == 0 {
		return idx.cfg.Mmax0
	}
	return idx.cfg.M
}

// randomLevel draws a level from the exponential distribution
// floor(-ln(U(0,1)) * ML), clamped to levelCap.
func (idx *Index) randomLevel() int {
	u := idx.rng.Float64()
	if u == 0 {
		u = math.SmallestNonzeroFloat64
	}
	level := int(-math.Log(u) * idx.cfg.ML)
	if level > levelCap {
		level = levelCap
	}
	return level
}
