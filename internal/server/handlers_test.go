package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hyperjump/kioku/internal/cluster"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/dedup"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/retrieval"
	"github.com/hyperjump/kioku/internal/store"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Embedding.Dimensions = 8

	standard := []models.Collection{
		{Name: "memories", Dimension: 8, Distance: models.DistanceCosine},
	}
	for _, name := range cfg.Cluster.AxisCollections {
		standard = append(standard, models.Collection{
			Name: name, Dimension: 8, Distance: models.DistanceCosine,
		})
	}
	managed := store.NewManaged(store.NewMemoryStore(0, nil), standard, zap.NewNop())
	t.Cleanup(func() { managed.Close() })

	embedder := embedding.NewMockEmbedder(8)
	engine := retrieval.NewEngine(managed, embedder, retrieval.Options{
		Collections: map[models.Source]string{models.SourceMemory: "memories"},
		Weights:     map[models.Source]int{models.SourceMemory: 1},
		MaxTokens:   500,
		Dedup:       dedup.Options{},
	}, zap.NewNop())

	extractor := cluster.NewExtractor(managed, cluster.Config{
		MinClusterSize: 3,
		MinSamples:     3,
	}, zap.NewNop())
	runner := cluster.NewRunner(extractor, 1, 10*time.Second, zap.NewNop())
	t.Cleanup(runner.Close)

	return NewServer(engine, managed, embedder, runner, cfg, zap.NewNop())
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "ok" {
		t.Errorf("status field: got %q", out["status"])
	}
}

func TestHandleStoreMemory(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()

	w := postJSON(t, router, "/api/v1/memories", map[string]any{
		"content":  "prefer table-driven tests",
		"category": "preference",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out map[string]string
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["id"] == "" {
		t.Error("expected a generated id")
	}
	if out["collection"] != "memories" {
		t.Errorf("collection: got %q", out["collection"])
	}

	count, err := srv.store.Count(context.Background(), "memories", nil)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("count: got %d, want 1", count)
	}
}

func TestHandleStoreMemory_MissingContent(t *testing.T) {
	srv := newTestServer(t)
	w := postJSON(t, srv.routes(), "/api/v1/memories", map[string]any{
		"category": "preference",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleStoreMemory_WhitespaceContent(t *testing.T) {
	srv := newTestServer(t)
	w := postJSON(t, srv.routes(), "/api/v1/memories", map[string]any{
		"content": "  \n\t ",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleStoreMemory_InvalidBody(t *testing.T) {
	srv := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/memories", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleQuery(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()

	if w := postJSON(t, router, "/api/v1/memories", map[string]any{
		"content": "always run the linter before committing",
	}); w.Code != http.StatusCreated {
		t.Fatalf("seed memory: got %d", w.Code)
	}

	w := postJSON(t, router, "/api/v1/query", map[string]any{
		"text":       "linter",
		"max_tokens": 200,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out retrieval.Response
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Markdown == "" {
		t.Error("expected non-empty markdown")
	}
	if out.Stats.TokenCount > 200 {
		t.Errorf("token count %d exceeds budget", out.Stats.TokenCount)
	}
}

func TestHandleQuery_EmptyStore(t *testing.T) {
	srv := newTestServer(t)
	w := postJSON(t, srv.routes(), "/api/v1/query", map[string]any{
		"text": "anything",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
}

func TestHandleQuery_InvalidFilter(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()

	if w := postJSON(t, router, "/api/v1/memories", map[string]any{
		"content": "seed",
	}); w.Code != http.StatusCreated {
		t.Fatalf("seed memory: got %d", w.Code)
	}

	w := postJSON(t, router, "/api/v1/query", map[string]any{
		"text": "anything",
		"filters": map[string]any{
			"memory": map[string]any{
				"importance": map[string]any{"$regex": ".*"},
			},
		},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400, body: %s", w.Code, w.Body.String())
	}
}

func TestHandleCollectionCount(t *testing.T) {
	srv := newTestServer(t)
	router := srv.routes()

	r := httptest.NewRequest(http.MethodGet, "/api/v1/collections/memories/count", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Collection string `json:"collection"`
		Count      int    `json:"count"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Collection != "memories" || out.Count != 0 {
		t.Errorf("got %+v", out)
	}
}

func TestHandleCollectionCount_Unknown(t *testing.T) {
	srv := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/api/v1/collections/nope/count", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
}

func TestHandleExtractClusters_UnknownAxis(t *testing.T) {
	srv := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/clusters/velocity", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", w.Code)
	}
}

func TestHandleExtractClusters_Accepted(t *testing.T) {
	srv := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/clusters/full", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, r)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, body: %s", w.Code, w.Body.String())
	}
	var out map[string]string
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "accepted" || out["axis"] != "full" {
		t.Errorf("got %v", out)
	}
}

func TestHandleExtractClusters_WaitOnEmptyAxis(t *testing.T) {
	srv := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/v1/clusters/full?wait=1", nil)
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404, body: %s", w.Code, w.Body.String())
	}
}
