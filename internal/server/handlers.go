package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hyperjump/kioku/internal/cluster"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/retrieval"
	"github.com/hyperjump/kioku/internal/store"
	"go.uber.org/zap"
)

// queryRequest is the body of POST /api/v1/query.
type queryRequest struct {
	Text      string                  `json:"text"`
	MaxTokens int                     `json:"max_tokens"`
	Filters   map[string]store.Filter `json:"filters"`
	Premortem bool                    `json:"premortem"`
	Estimator string                  `json:"estimator"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	q := retrieval.Query{
		Text:      req.Text,
		MaxTokens: req.MaxTokens,
		Premortem: req.Premortem,
		Estimator: req.Estimator,
	}
	if len(req.Filters) > 0 {
		q.Filters = make(map[models.Source]store.Filter, len(req.Filters))
		for src, f := range req.Filters {
			q.Filters[models.Source(src)] = f
		}
	}

	resp, err := s.engine.BuildContext(r.Context(), q)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			s.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("query failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "query failed")
		return
	}

	s.respondJSON(w, http.StatusOK, resp)
}

// memoryRequest is the body of POST /api/v1/memories.
type memoryRequest struct {
	ID         string  `json:"id"`
	Content    string  `json:"content"`
	Category   string  `json:"category"`
	Importance float32 `json:"importance"`
	Collection string  `json:"collection"`
}

func (s *Server) handleStoreMemory(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		s.respondError(w, http.StatusBadRequest, "content is required")
		return
	}

	collection := req.Collection
	if collection == "" {
		collection = s.config.Retrieval.Collections[string(models.SourceMemory)]
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	vector, err := s.embedder.Embed(r.Context(), req.Content)
	if err != nil {
		s.logger.Error("failed to embed memory", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "embedding failed")
		return
	}

	payload := models.MemoryPayload{
		BasePayload: models.BasePayload{
			ID:        req.ID,
			CreatedAt: time.Now().UTC(),
		},
		Content:    req.Content,
		Category:   req.Category,
		Importance: req.Importance,
	}
	if err := s.store.Upsert(r.Context(), collection, req.ID, vector, payload.Map()); err != nil {
		s.logger.Error("failed to store memory",
			zap.String("collection", collection),
			zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "store failed")
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]string{
		"id":         req.ID,
		"collection": collection,
	})
}

func (s *Server) handleExtractClusters(w http.ResponseWriter, r *http.Request) {
	axis := chi.URLParam(r, "axis")
	collection, ok := s.config.Cluster.AxisCollections[axis]
	if !ok {
		s.respondError(w, http.StatusNotFound, "unknown axis")
		return
	}

	if r.URL.Query().Get("wait") != "1" {
		if err := s.runner.Submit(collection, nil); err != nil {
			s.respondError(w, http.StatusServiceUnavailable, "runner is shut down")
			return
		}
		s.respondJSON(w, http.StatusAccepted, map[string]string{
			"status": "accepted",
			"axis":   axis,
		})
		return
	}

	results := make(chan cluster.Result, 1)
	if err := s.runner.Submit(collection, results); err != nil {
		s.respondError(w, http.StatusServiceUnavailable, "runner is shut down")
		return
	}
	select {
	case res := <-results:
		if res.Err != nil {
			if errors.Is(res.Err, cluster.ErrNoData) {
				s.respondError(w, http.StatusNotFound, "no data for axis")
				return
			}
			s.logger.Error("cluster extraction failed",
				zap.String("axis", axis),
				zap.Error(res.Err))
			s.respondError(w, http.StatusInternalServerError, "extraction failed")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]any{
			"axis":     axis,
			"clusters": res.Clusters,
		})
	case <-r.Context().Done():
		// The run keeps going on the pool; only this wait is abandoned.
		s.respondError(w, http.StatusRequestTimeout, "request cancelled")
	}
}

func (s *Server) handleCollectionCount(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	count, err := s.store.Count(r.Context(), name, nil)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "collection not found")
			return
		}
		s.logger.Error("count failed", zap.String("collection", name), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "count failed")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"collection": name,
		"count":      count,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
