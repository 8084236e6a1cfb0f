package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/appcorner/vexdb/pkg/hnsw"
	"github.com/appcorner/vexdb/pkg/vectorstore"
)

// =============================================================================
// Wire types
// =============================================================================

// VectorPayload is the wire form of a stored vector.
type VectorPayload struct {
	ID       string            `json:"id,omitempty" msgpack:"id,omitempty"`
	Values   []float32         `json:"values" msgpack:"values"`
	Metadata map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// CreateCollectionRequest creates a collection.
type CreateCollectionRequest struct {
	Name        string       `json:"name" msgpack:"name"`
	Dimension   int          `json:"dimension" msgpack:"dimension"`
	Metric      string       `json:"metric" msgpack:"metric"`
	IndexConfig *IndexConfig `json:"index_config,omitempty" msgpack:"index_config,omitempty"`
}

// IndexConfig is the tunable HNSW parameter subset on the wire.
type IndexConfig struct {
	M              int `json:"m,omitempty" msgpack:"m,omitempty"`
	EfConstruction int `json:"ef_construction,omitempty" msgpack:"ef_construction,omitempty"`
	EfSearch       int `json:"ef_search,omitempty" msgpack:"ef_search,omitempty"`
}

// StatusResponse is the generic success/message envelope.
type StatusResponse struct {
	Success bool   `json:"success" msgpack:"success"`
	Message string `json:"message,omitempty" msgpack:"message,omitempty"`
}

// CollectionInfoPayload is one row of a list response.
type CollectionInfoPayload struct {
	Name      string `json:"name" msgpack:"name"`
	Dimension int    `json:"dimension" msgpack:"dimension"`
	Count     int    `json:"count" msgpack:"count"`
	Metric    string `json:"metric" msgpack:"metric"`
}

// ListCollectionsResponse lists collections.
type ListCollectionsResponse struct {
	Collections []CollectionInfoPayload `json:"collections" msgpack:"collections"`
}

// InsertResponse reports the outcome of a single insert.
type InsertResponse struct {
	Success bool   `json:"success" msgpack:"success"`
	ID      string `json:"id,omitempty" msgpack:"id,omitempty"`
	Message string `json:"message,omitempty" msgpack:"message,omitempty"`
}

// BatchInsertRequest inserts many vectors at once.
type BatchInsertRequest struct {
	Vectors []VectorPayload `json:"vectors" msgpack:"vectors"`
}

// BatchInsertResponse reports how many vectors were inserted.
type BatchInsertResponse struct {
	Success       bool   `json:"success" msgpack:"success"`
	InsertedCount int    `json:"inserted_count" msgpack:"inserted_count"`
	Message       string `json:"message,omitempty" msgpack:"message,omitempty"`
}

// SearchRequest is a single query. Score semantics: smaller is better (the
// field carries a metric distance, never a similarity).
type SearchRequest struct {
	Query           []float32 `json:"query" msgpack:"query"`
	TopK            int       `json:"top_k" msgpack:"top_k"`
	Ef              int       `json:"ef,omitempty" msgpack:"ef,omitempty"`
	IncludeValues   bool      `json:"include_values,omitempty" msgpack:"include_values,omitempty"`
	IncludeMetadata bool      `json:"include_metadata,omitempty" msgpack:"include_metadata,omitempty"`
}

// SearchResultPayload is one result row. Score is a smaller-is-better
// distance in the collection's metric.
type SearchResultPayload struct {
	ID       string            `json:"id" msgpack:"id"`
	Score    float32           `json:"score" msgpack:"score"`
	Values   []float32         `json:"values,omitempty" msgpack:"values,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty" msgpack:"metadata,omitempty"`
}

// SearchResponse answers a single query.
type SearchResponse struct {
	Results      []SearchResultPayload `json:"results" msgpack:"results"`
	SearchTimeMs float64               `json:"search_time_ms" msgpack:"search_time_ms"`
}

// BatchQuery is one entry of a batch search request.
type BatchQuery struct {
	Values []float32 `json:"values" msgpack:"values"`
}

// BatchSearchRequest runs several queries in one call.
type BatchSearchRequest struct {
	Queries         []BatchQuery `json:"queries" msgpack:"queries"`
	TopK            int          `json:"top_k" msgpack:"top_k"`
	IncludeValues   bool         `json:"include_values,omitempty" msgpack:"include_values,omitempty"`
	IncludeMetadata bool         `json:"include_metadata,omitempty" msgpack:"include_metadata,omitempty"`
}

// BatchSearchResponse carries one result list per query.
type BatchSearchResponse struct {
	Results     [][]SearchResultPayload `json:"results" msgpack:"results"`
	TotalTimeMs float64                 `json:"total_time_ms" msgpack:"total_time_ms"`
}

// GetVectorResponse reports a lookup by id.
type GetVectorResponse struct {
	Found  bool           `json:"found" msgpack:"found"`
	Vector *VectorPayload `json:"vector,omitempty" msgpack:"vector,omitempty"`
}

// HealthResponse reports liveness.
type HealthResponse struct {
	Healthy       bool    `json:"healthy" msgpack:"healthy"`
	Version       string  `json:"version" msgpack:"version"`
	UptimeSeconds float64 `json:"uptime_seconds" msgpack:"uptime_seconds"`
}

// StatsResponse reports per-collection figures plus process-wide search
// latency.
type StatsResponse struct {
	TotalVectors     int     `json:"total_vectors" msgpack:"total_vectors"`
	MemoryUsageBytes int64   `json:"memory_usage_bytes" msgpack:"memory_usage_bytes"`
	IndexSizeBytes   int64   `json:"index_size_bytes" msgpack:"index_size_bytes"`
	AvgSearchTimeMs  float64 `json:"avg_search_time_ms" msgpack:"avg_search_time_ms"`
}

// =============================================================================
// Handlers
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.writeResponse(w, r, http.StatusOK, HealthResponse{
		Healthy:       true,
		Version:       s.config.Version,
		UptimeSeconds: s.Uptime().Seconds(),
	})
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListCollections(w, r)
	case http.MethodPost:
		s.handleCreateCollection(w, r)
	default:
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCollectionSubtree routes /collections/{name}/... requests.
func (s *Server) handleCollectionSubtree(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/collections/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		s.writeError(w, r, http.StatusBadRequest, "collection name required")
		return
	}
	name := parts[0]
	rest := parts[1:]

	switch {
	case len(rest) == 0:
		if r.Method != http.MethodDelete {
			s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleDeleteCollection(w, r, name)

	case rest[0] == "stats" && len(rest) == 1:
		s.handleStats(w, r, name)

	case rest[0] == "vectors":
		s.handleVectors(w, r, name, rest[1:])

	case rest[0] == "search" && len(rest) == 1:
		s.handleSearch(w, r, name)

	case rest[0] == "search" && len(rest) == 2 && rest[1] == "batch":
		s.handleBatchSearch(w, r, name)

	default:
		s.writeError(w, r, http.StatusNotFound, "unknown endpoint")
	}
}

func (s *Server) handleVectors(w http.ResponseWriter, r *http.Request, name string, rest []string) {
	switch {
	case len(rest) == 0:
		if r.Method != http.MethodPost {
			s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleInsert(w, r, name)

	case len(rest) == 1 && rest[0] == "batch":
		if r.Method != http.MethodPost {
			s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		s.handleBatchInsert(w, r, name)

	case len(rest) == 1:
		switch r.Method {
		case http.MethodGet:
			s.handleGetVector(w, r, name, rest[0])
		case http.MethodDelete:
			s.handleDeleteVector(w, r, name, rest[0])
		default:
			s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		}

	default:
		s.writeError(w, r, http.StatusNotFound, "unknown endpoint")
	}
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	infos := s.storage.ListCollections()
	payload := make([]CollectionInfoPayload, 0, len(infos))
	for _, info := range infos {
		payload = append(payload, CollectionInfoPayload{
			Name:      info.Name,
			Dimension: info.Dimension,
			Count:     info.Count,
			Metric:    info.Metric,
		})
	}
	s.writeResponse(w, r, http.StatusOK, ListCollectionsResponse{Collections: payload})
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var req CreateCollectionRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	cfg := vectorstore.CollectionConfig{
		Name:      req.Name,
		Dimension: req.Dimension,
		Metric:    req.Metric,
	}
	if req.IndexConfig != nil {
		cfg.HNSW = vectorstore.IndexParams{
			M:              req.IndexConfig.M,
			EfConstruction: req.IndexConfig.EfConstruction,
			EfSearch:       req.IndexConfig.EfSearch,
		}
	}

	if !s.storage.CreateCollection(cfg) {
		// Duplicate name or invalid config; reported in-band, not as a
		// transport failure.
		s.writeResponse(w, r, http.StatusOK, StatusResponse{
			Success: false,
			Message: "collection already exists or config invalid",
		})
		return
	}
	s.writeResponse(w, r, http.StatusOK, StatusResponse{Success: true, Message: "created"})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request, name string) {
	if !s.storage.DeleteCollection(name) {
		s.writeResponse(w, r, http.StatusOK, StatusResponse{
			Success: false,
			Message: "collection not found",
		})
		return
	}
	s.writeResponse(w, r, http.StatusOK, StatusResponse{Success: true, Message: "deleted"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodGet {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, ok := s.storage.GetStats(name)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, "unknown collection")
		return
	}
	s.writeResponse(w, r, http.StatusOK, StatsResponse{
		TotalVectors:     stats.VectorCount,
		MemoryUsageBytes: stats.MemoryUsage,
		IndexSizeBytes:   s.storage.IndexFileSize(name),
		AvgSearchTimeMs:  s.avgSearchTimeMs(),
	})
}

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request, name string) {
	var req VectorPayload
	if !s.decodeRequest(w, r, &req) {
		return
	}

	id, err := s.storage.Insert(name, req.Values, req.ID, req.Metadata)
	if err != nil {
		s.respondStorageError(w, r, err, func(msg string) any {
			return InsertResponse{Success: false, Message: msg}
		})
		return
	}
	s.writeResponse(w, r, http.StatusOK, InsertResponse{Success: true, ID: id})
}

func (s *Server) handleBatchInsert(w http.ResponseWriter, r *http.Request, name string) {
	var req BatchInsertRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	vectors := make([]hnsw.VectorData, len(req.Vectors))
	for i, v := range req.Vectors {
		vectors[i] = hnsw.VectorData{ID: v.ID, Values: v.Values, Metadata: v.Metadata}
	}

	count, err := s.storage.BatchInsert(name, vectors)
	if err != nil {
		s.respondStorageError(w, r, err, func(msg string) any {
			return BatchInsertResponse{Success: false, Message: msg}
		})
		return
	}
	s.writeResponse(w, r, http.StatusOK, BatchInsertResponse{Success: true, InsertedCount: count})
}

func (s *Server) handleDeleteVector(w http.ResponseWriter, r *http.Request, name, id string) {
	existed, err := s.storage.Remove(name, id)
	if err != nil {
		s.respondStorageError(w, r, err, nil)
		return
	}
	s.writeResponse(w, r, http.StatusOK, StatusResponse{Success: existed})
}

func (s *Server) handleGetVector(w http.ResponseWriter, r *http.Request, name, id string) {
	data, found, err := s.storage.Get(name, id)
	if err != nil {
		s.respondStorageError(w, r, err, nil)
		return
	}
	if !found {
		s.writeResponse(w, r, http.StatusOK, GetVectorResponse{Found: false})
		return
	}
	s.writeResponse(w, r, http.StatusOK, GetVectorResponse{
		Found: true,
		Vector: &VectorPayload{
			ID:       data.ID,
			Values:   data.Values,
			Metadata: data.Metadata,
		},
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req SearchRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	start := time.Now()
	results, err := s.storage.Search(name, req.Query, req.TopK, req.Ef)
	elapsed := time.Since(start)
	if err != nil {
		s.respondStorageError(w, r, err, nil)
		return
	}
	s.recordSearch(elapsed, 1)

	s.writeResponse(w, r, http.StatusOK, SearchResponse{
		Results:      toResultPayloads(results, req.IncludeValues, req.IncludeMetadata),
		SearchTimeMs: float64(elapsed.Microseconds()) / 1000.0,
	})
}

func (s *Server) handleBatchSearch(w http.ResponseWriter, r *http.Request, name string) {
	if r.Method != http.MethodPost {
		s.writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req BatchSearchRequest
	if !s.decodeRequest(w, r, &req) {
		return
	}

	queries := make([][]float32, len(req.Queries))
	for i, q := range req.Queries {
		queries[i] = q.Values
	}

	start := time.Now()
	resultLists, err := s.storage.BatchSearch(name, queries, req.TopK)
	elapsed := time.Since(start)
	if err != nil {
		s.respondStorageError(w, r, err, nil)
		return
	}
	s.recordSearch(elapsed, int64(len(queries)))

	payload := make([][]SearchResultPayload, len(resultLists))
	for i, results := range resultLists {
		payload[i] = toResultPayloads(results, req.IncludeValues, req.IncludeMetadata)
	}
	s.writeResponse(w, r, http.StatusOK, BatchSearchResponse{
		Results:     payload,
		TotalTimeMs: float64(elapsed.Microseconds()) / 1000.0,
	})
}

func toResultPayloads(results []hnsw.SearchResult, includeValues, includeMetadata bool) []SearchResultPayload {
	payload := make([]SearchResultPayload, 0, len(results))
	for _, res := range results {
		row := SearchResultPayload{ID: res.ID, Score: res.Distance}
		if res.Data != nil {
			if includeValues {
				row.Values = res.Data.Values
			}
			if includeMetadata {
				row.Metadata = res.Data.Metadata
			}
		}
		payload = append(payload, row)
	}
	return payload
}

// respondStorageError maps storage errors to the wire. Unknown collections
// are 404s; dimension mismatches are in-band failures when the caller
// provides an envelope; anything else is an internal error.
func (s *Server) respondStorageError(w http.ResponseWriter, r *http.Request, err error, envelope func(msg string) any) {
	switch {
	case errors.Is(err, vectorstore.ErrUnknownCollection):
		s.writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, hnsw.ErrDimensionMismatch):
		if envelope != nil {
			s.writeResponse(w, r, http.StatusOK, envelope(err.Error()))
		} else {
			s.writeError(w, r, http.StatusBadRequest, err.Error())
		}
	default:
		s.writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
