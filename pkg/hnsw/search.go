package hnsw

import (
	"container/heap"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/appcorner/vexdb/pkg/pool"
)

// candidate pairs an arena slot with its distance to the current query.
type candidate struct {
	internal int
	dist     float32
}

// Search returns up to k live entries closest to the query, ordered by
// ascending distance. efOverride replaces the configured EfSearch for this
// call when positive. An empty index or k <= 0 yields an empty result.
func (idx *Index) Search(query []float32, k, efOverride int) ([]SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.searchLocked(query, k, efOverride)
}

// BatchSearch runs the queries independently and returns one result list per
// query, identical to calling Search once per query. Queries fan out over a
// bounded worker group inside a single reader-lock hold; callers must not
// rely on a particular degree of parallelism.
func (idx *Index) BatchSearch(queries [][]float32, k int) ([][]SearchResult, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, q := range queries {
		if len(q) != idx.dim {
			return nil, ErrDimensionMismatch
		}
	}

	out := make([][]SearchResult, len(queries))
	if len(queries) == 0 {
		return out, nil
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > len(queries) {
		workers = len(queries)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results, err := idx.searchLocked(queries[i], k, 0)
				if err != nil {
					results = nil
				}
				out[i] = results
			}
		}()
	}
	for i := range queries {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return out, nil
}

func (idx *Index) searchLocked(query []float32, k, efOverride int) ([]SearchResult, error) {
	if len(query) != idx.dim {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 || len(idx.idToInternal) == 0 || idx.entryPoint < 0 {
		return []SearchResult{}, nil
	}

	ef := idx.cfg.EfSearch
	if efOverride > 0 {
		ef = efOverride
	}
	if ef < k {
		ef = k
	}

	ep := idx.entryPoint
	for l := idx.topLevel; l >= 1; l-- {
		ep = idx.greedyClosestLocked(query, ep, l)
	}

	candidates := idx.searchLayerLocked(query, ep, ef, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		n := idx.nodes[c.internal]
		results = append(results, SearchResult{
			ID:       n.id,
			Distance: idx.surfaceDistance(c.dist),
			Data:     n.payload(),
		})
	}
	return results, nil
}

// surfaceDistance converts an internal hot-path distance to the reported
// form: euclidean runs squared internally and reports the square root.
func (idx *Index) surfaceDistance(d float32) float32 {
	if idx.cfg.Metric == MetricEuclidean {
		return float32(math.Sqrt(float64(d)))
	}
	return d
}

// greedyClosestLocked walks one layer greedily: keep moving to the neighbor
// closest to the query until no neighbor improves. Tombstoned neighbors are
// skipped.
func (idx *Index) greedyClosestLocked(query []float32, entry, layer int) int {
	current := entry
	currentDist := idx.dist(query, idx.nodes[current].values)

	for {
		changed := false
		n := idx.nodes[current]
		if layer <= n.level {
			for _, nb := range n.neighbors[layer] {
				if _, dead := idx.tombstones[nb]; dead {
					continue
				}
				d := idx.dist(query, idx.nodes[nb].values)
				if d < currentDist || (d == currentDist && nb < current) {
					current = nb
					currentDist = d
					changed = true
				}
			}
		}
		if !changed {
			return current
		}
	}
}

// searchLayerLocked is the layer-local beam search: a candidate min-heap of
// nodes still to explore and a result max-heap capped at ef. Returns the
// collected candidates sorted by ascending distance, tombstones excluded.
func (idx *Index) searchLayerLocked(query []float32, entry, ef, layer int) []candidate {
	visited := pool.GetVisited(len(idx.nodes))
	defer pool.PutVisited(visited)
	visited[entry] = true

	entryDist := idx.dist(query, idx.nodes[entry].values)

	toExplore := &minCandidateHeap{{internal: entry, dist: entryDist}}
	results := &maxCandidateHeap{{internal: entry, dist: entryDist}}

	for toExplore.Len() > 0 {
		closest := heap.Pop(toExplore).(candidate)

		if results.Len() >= ef {
			if worst := (*results)[0]; closest.dist > worst.dist {
				break
			}
		}

		n := idx.nodes[closest.internal]
		if layer > n.level {
			continue
		}
		for _, nb := range n.neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			if _, dead := idx.tombstones[nb]; dead {
				continue
			}

			d := idx.dist(query, idx.nodes[nb].values)
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(toExplore, candidate{internal: nb, dist: d})
				heap.Push(results, candidate{internal: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, 0, results.Len())
	for _, c := range *results {
		if _, dead := idx.tombstones[c.internal]; dead {
			continue
		}
		out = append(out, c)
	}
	sortCandidates(out)
	return out
}

// sortCandidates orders by ascending distance, ties broken by ascending
// internal index so outputs are deterministic for a fixed seed and insertion
// order.
func sortCandidates(cs []candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].dist != cs[j].dist {
			return cs[i].dist < cs[j].dist
		}
		return cs[i].internal < cs[j].internal
	})
}

// minCandidateHeap pops the closest candidate first.
type minCandidateHeap []candidate

func (h minCandidateHeap) Len() int { return len(h) }
func (h minCandidateHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].internal < h[j].internal
}
func (h minCandidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minCandidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minCandidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// maxCandidateHeap pops the furthest candidate first; used as the capped
// result set during beam search.
type maxCandidateHeap []candidate

func (h maxCandidateHeap) Len() int { return len(h) }
func (h maxCandidateHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist > h[j].dist
	}
	return h[i].internal > h[j].internal
}
func (h maxCandidateHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxCandidateHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxCandidateHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
