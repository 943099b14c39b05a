package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperjump/kioku/internal/models"
	"go.uber.org/zap"
)

// qdrant requires point IDs to be UUIDs or integers; arbitrary record ids
// are mapped to deterministic v5 UUIDs in this namespace and the original
// id travels in the payload.
var qdrantIDNamespace = uuid.MustParse("8f8e7f6a-0f3d-4c7e-9d2a-5b1c2e3f4a5b")

const qdrantIDKey = "__kioku_id"
const qdrantSeqKey = "__kioku_seq"

// QdrantStore fronts an external Qdrant instance over its REST API. It
// performs no internal retries; retry and backoff policy belongs to the
// caller. No in-process lock is held across HTTP calls.
type QdrantStore struct {
	baseURL       string
	client        *http.Client
	scrollCeiling int
	logger        *zap.Logger

	mu   sync.Mutex
	meta map[string]models.Collection // dimension/distance cache
	seq  map[string]int64             // per-collection insertion counter
}

// NewQdrantStore creates a store talking to the Qdrant REST API at
// baseURL (e.g. "http://localhost:6333").
func NewQdrantStore(baseURL string, scrollCeiling int, logger *zap.Logger) *QdrantStore {
	if scrollCeiling <= 0 {
		scrollCeiling = DefaultScrollCeiling
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QdrantStore{
		baseURL:       strings.TrimRight(baseURL, "/"),
		client:        &http.Client{Timeout: 30 * time.Second},
		scrollCeiling: scrollCeiling,
		logger:        logger,
		meta:          make(map[string]models.Collection),
		seq:           make(map[string]int64),
	}
}

func qdrantDistance(d models.Distance) string {
	switch d {
	case models.DistanceEuclidean:
		return "Euclid"
	case models.DistanceDot:
		return "Dot"
	default:
		return "Cosine"
	}
}

func fromQdrantDistance(d string) models.Distance {
	switch d {
	case "Euclid":
		return models.DistanceEuclidean
	case "Dot":
		return models.DistanceDot
	default:
		return models.DistanceCosine
	}
}

func pointID(recordID string) string {
	return uuid.NewSHA1(qdrantIDNamespace, []byte(recordID)).String()
}

// doJSON issues one request and decodes the response body into out when
// non-nil. Qdrant 404s map to ErrNotFound.
func (s *QdrantStore) doJSON(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("qdrant request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return resp.StatusCode, fmt.Errorf("qdrant %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// CreateCollection registers a collection; a duplicate name fails with
// ErrAlreadyExists (Qdrant's PUT is idempotent, so existence is checked
// first to preserve the non-idempotent contract).
func (s *QdrantStore) CreateCollection(ctx context.Context, name string, dimension int, distance models.Distance) error {
	if name == "" {
		return fmt.Errorf("%w: collection name must not be empty", ErrValidation)
	}
	if dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrValidation, dimension)
	}
	if !distance.Valid() {
		return fmt.Errorf("%w: unknown distance metric %q", ErrValidation, distance)
	}
	if _, err := s.Describe(ctx, name); err == nil {
		return fmt.Errorf("%w: %q", ErrAlreadyExists, name)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": qdrantDistance(distance),
		},
	}
	if _, err := s.doJSON(ctx, http.MethodPut, "/collections/"+name, body, nil); err != nil {
		return err
	}
	s.mu.Lock()
	s.meta[name] = models.Collection{Name: name, Dimension: dimension, Distance: distance}
	s.mu.Unlock()
	return nil
}

// Describe returns collection metadata, consulting the server the first
// time a collection is seen.
func (s *QdrantStore) Describe(ctx context.Context, name string) (*models.Collection, error) {
	s.mu.Lock()
	if meta, ok := s.meta[name]; ok {
		s.mu.Unlock()
		return &meta, nil
	}
	s.mu.Unlock()

	var resp struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	status, err := s.doJSON(ctx, http.MethodGet, "/collections/"+name, nil, &resp)
	if status == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, err
	}
	meta := models.Collection{
		Name:      name,
		Dimension: resp.Result.Config.Params.Vectors.Size,
		Distance:  fromQdrantDistance(resp.Result.Config.Params.Vectors.Distance),
	}
	s.mu.Lock()
	s.meta[name] = meta
	s.mu.Unlock()
	return &meta, nil
}

func (s *QdrantStore) nextSeq(collection string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq[collection]++
	return s.seq[collection]
}

// Upsert stores a record under its deterministic point UUID.
func (s *QdrantStore) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]any) error {
	meta, err := s.Describe(ctx, collection)
	if err != nil {
		return err
	}
	if len(vector) != meta.Dimension {
		return fmt.Errorf("%w: vector dimension %d, collection %q expects %d", ErrValidation, len(vector), collection, meta.Dimension)
	}
	stored := clonePayload(payload)
	if stored == nil {
		stored = make(map[string]any, 2)
	}
	stored[qdrantIDKey] = id
	// Keep the original seq across overwrites for stable tie-breaks.
	if existing, err := s.Get(ctx, collection, id, false); err == nil && existing != nil {
		// seq already present server-side; re-read it from the payload.
		if prior, ok := existing.Payload[qdrantSeqKey]; ok {
			stored[qdrantSeqKey] = prior
		}
	}
	if _, ok := stored[qdrantSeqKey]; !ok {
		stored[qdrantSeqKey] = s.nextSeq(collection)
	}
	body := map[string]any{
		"points": []map[string]any{{
			"id":      pointID(id),
			"vector":  vector,
			"payload": stored,
		}},
	}
	_, err = s.doJSON(ctx, http.MethodPut, "/collections/"+collection+"/points?wait=true", body, nil)
	return err
}

func restorePayload(p map[string]any) (id string, seq float64, payload map[string]any) {
	payload = make(map[string]any, len(p))
	for k, v := range p {
		switch k {
		case qdrantIDKey:
			id, _ = v.(string)
		case qdrantSeqKey:
			seq, _ = toFloat(v)
		default:
			payload[k] = v
		}
	}
	return id, seq, payload
}

// Get returns the record or nil when absent.
func (s *QdrantStore) Get(ctx context.Context, collection, id string, withVector bool) (*models.Record, error) {
	if _, err := s.Describe(ctx, collection); err != nil {
		return nil, err
	}
	var resp struct {
		Result struct {
			Payload map[string]any `json:"payload"`
			Vector  []float32      `json:"vector"`
		} `json:"result"`
	}
	status, err := s.doJSON(ctx, http.MethodGet, "/collections/"+collection+"/points/"+pointID(id), nil, &resp)
	if status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	_, _, payload := restorePayload(resp.Result.Payload)
	rec := &models.Record{ID: id, Payload: payload}
	if withVector {
		rec.Vector = resp.Result.Vector
	}
	return rec, nil
}

// Delete removes a record; absent ids are a no-op (Qdrant treats missing
// points as deleted).
func (s *QdrantStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.Describe(ctx, collection); err != nil {
		return err
	}
	body := map[string]any{"points": []string{pointID(id)}}
	_, err := s.doJSON(ctx, http.MethodPost, "/collections/"+collection+"/points/delete?wait=true", body, nil)
	return err
}

// qdrantFilter translates the conjunctive filter language into Qdrant's
// must-clause form.
func qdrantFilter(f Filter) (map[string]any, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if len(f) == 0 {
		return nil, nil
	}
	must := make([]map[string]any, 0, len(f))
	for field, cond := range f {
		ops, isOps := cond.(map[string]any)
		if !isOps {
			must = append(must, map[string]any{"key": field, "match": map[string]any{"value": cond}})
			continue
		}
		rng := make(map[string]any)
		for op, arg := range ops {
			switch op {
			case "$gte":
				rng["gte"] = arg
			case "$lte":
				rng["lte"] = arg
			case "$gt":
				rng["gt"] = arg
			case "$lt":
				rng["lt"] = arg
			case "$in":
				members, _ := toSlice(arg)
				must = append(must, map[string]any{"key": field, "match": map[string]any{"any": members}})
			}
		}
		if len(rng) > 0 {
			must = append(must, map[string]any{"key": field, "range": rng})
		}
	}
	return map[string]any{"must": must}, nil
}

// Search runs a scored query against the collection. Euclidean scores
// come back as distances and are negated so higher always means more
// similar, matching the other backends.
func (s *QdrantStore) Search(ctx context.Context, collection string, query []float32, limit int, filters Filter) ([]models.SearchResult, error) {
	meta, err := s.Describe(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(query) != meta.Dimension {
		return nil, fmt.Errorf("%w: query dimension %d, collection %q expects %d", ErrValidation, len(query), collection, meta.Dimension)
	}
	if limit <= 0 {
		return nil, nil
	}
	qf, err := qdrantFilter(filters)
	if err != nil {
		return nil, err
	}
	body := map[string]any{
		"vector":       query,
		"limit":        limit,
		"with_payload": true,
	}
	if qf != nil {
		body["filter"] = qf
	}
	var resp struct {
		Result []struct {
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	if _, err := s.doJSON(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body, &resp); err != nil {
		return nil, err
	}
	results := make([]models.SearchResult, 0, len(resp.Result))
	for _, hit := range resp.Result {
		id, _, payload := restorePayload(hit.Payload)
		score := hit.Score
		if meta.Distance == models.DistanceEuclidean {
			score = -score
		}
		results = append(results, models.SearchResult{ID: id, Score: score, Payload: payload})
	}
	return results, nil
}

// Scroll pages through matching points up to the limit, capped at the
// scan ceiling with a warning.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, limit int, filters Filter, withVectors bool) ([]models.SearchResult, error) {
	if _, err := s.Describe(ctx, collection); err != nil {
		return nil, err
	}
	qf, err := qdrantFilter(filters)
	if err != nil {
		return nil, err
	}
	effective := limit
	if effective <= 0 || effective > s.scrollCeiling {
		effective = s.scrollCeiling
	}
	var results []models.SearchResult
	var offset any
	for len(results) < effective {
		page := effective - len(results)
		if page > 1000 {
			page = 1000
		}
		body := map[string]any{
			"limit":        page,
			"with_payload": true,
			"with_vector":  withVectors,
		}
		if qf != nil {
			body["filter"] = qf
		}
		if offset != nil {
			body["offset"] = offset
		}
		var resp struct {
			Result struct {
				Points []struct {
					Payload map[string]any `json:"payload"`
					Vector  []float32      `json:"vector"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}
		if _, err := s.doJSON(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body, &resp); err != nil {
			return nil, err
		}
		for _, p := range resp.Result.Points {
			id, _, payload := restorePayload(p.Payload)
			r := models.SearchResult{ID: id, Payload: payload}
			if withVectors {
				r.Vector = p.Vector
			}
			results = append(results, r)
		}
		if resp.Result.NextPageOffset == nil || len(resp.Result.Points) == 0 {
			offset = nil
			break
		}
		offset = resp.Result.NextPageOffset
	}
	if len(results) >= effective && effective == s.scrollCeiling && offset != nil {
		s.logger.Warn("scroll hit scan ceiling, results truncated",
			zap.String("collection", collection),
			zap.Int("ceiling", s.scrollCeiling))
	}
	return results, nil
}

// Count returns the exact number of matching points.
func (s *QdrantStore) Count(ctx context.Context, collection string, filters Filter) (int, error) {
	if _, err := s.Describe(ctx, collection); err != nil {
		return 0, err
	}
	qf, err := qdrantFilter(filters)
	if err != nil {
		return 0, err
	}
	body := map[string]any{"exact": true}
	if qf != nil {
		body["filter"] = qf
	}
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if _, err := s.doJSON(ctx, http.MethodPost, "/collections/"+collection+"/points/count", body, &resp); err != nil {
		return 0, err
	}
	return resp.Result.Count, nil
}

// Close is a no-op; the HTTP client holds no persistent connections worth
// tearing down explicitly.
func (s *QdrantStore) Close() error {
	return nil
}
