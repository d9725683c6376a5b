// Package api serves the query HTTP API: word search, per-file tokens,
// watcher and index statistics, the change journal and cache control.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/internal/search"
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/live-index/internal/watcher"
	apperrors "github.com/Adithya-Monish-Kumar-K/live-index/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/logger"
)

// Searcher answers word queries. *search.Service satisfies it.
type Searcher interface {
	FindWord(ctx context.Context, word string) ([]string, error)
	TokensOf(path string) []string
	Stats() search.Stats
}

// WatcherStats is satisfied by *watcher.Watcher.
type WatcherStats interface {
	Stats() watcher.Stats
	Running() bool
}

// EventLog is satisfied by *sink.Journal.
type EventLog interface {
	Recent(ctx context.Context, path string, limit int) ([]sink.Entry, error)
}

// CacheAdmin is satisfied by *cache.WordCache.
type CacheAdmin interface {
	Stats() (hits, misses int64)
	Invalidate(ctx context.Context) error
}

// Handler holds the API's collaborators. Events and Cache may be nil when
// the journal or the cache is disabled.
type Handler struct {
	Search  Searcher
	Watcher WatcherStats
	Events  EventLog
	Cache   CacheAdmin
	logger  *slog.Logger
}

// SearchResponse is the body of GET /api/v1/search.
type SearchResponse struct {
	Word      string   `json:"word"`
	Paths     []string `json:"paths"`
	Count     int      `json:"count"`
	LatencyMs float64  `json:"latency_ms"`
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	Watcher watcher.Stats `json:"watcher"`
	Index   search.Stats  `json:"index"`
	Cache   *CacheStats   `json:"cache,omitempty"`
}

// CacheStats reports query cache effectiveness.
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

func New(s Searcher, w WatcherStats, events EventLog, cache CacheAdmin) *Handler {
	return &Handler{
		Search:  s,
		Watcher: w,
		Events:  events,
		Cache:   cache,
		logger:  slog.Default().With("component", "api"),
	}
}

func (h *Handler) SearchWord(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	word := r.URL.Query().Get("word")
	if word == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'word' is required"))
		return
	}
	paths, err := h.Search.FindWord(r.Context(), word)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	latency := time.Since(start)
	logger.FromContext(r.Context()).Debug("search completed", "word", word, "hits", len(paths), "latency", latency)
	h.writeJSON(w, http.StatusOK, SearchResponse{
		Word:      word,
		Paths:     paths,
		Count:     len(paths),
		LatencyMs: float64(latency.Microseconds()) / 1000,
	})
}

func (h *Handler) FileTokens(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "query parameter 'path' is required"))
		return
	}
	tokens := h.Search.TokensOf(path)
	if len(tokens) == 0 {
		h.writeError(w, r, apperrors.Newf(apperrors.ErrNotFound, http.StatusNotFound, "%s is not indexed", path))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"path": path, "tokens": tokens, "count": len(tokens)})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		Watcher: h.Watcher.Stats(),
		Index:   h.Search.Stats(),
	}
	if h.Cache != nil {
		hits, misses := h.Cache.Stats()
		cs := &CacheStats{Hits: hits, Misses: misses}
		if total := hits + misses; total > 0 {
			cs.HitRate = float64(hits) / float64(total)
		}
		resp.Cache = cs
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "change journal is disabled"))
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, r, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := h.Events.Recent(r.Context(), r.URL.Query().Get("path"), limit)
	if err != nil {
		h.writeError(w, r, apperrors.Wrap(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "change journal unavailable", err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"events": entries, "count": len(entries)})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.Cache == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	if err := h.Cache.Invalidate(r.Context()); err != nil {
		h.writeError(w, r, apperrors.Wrap(apperrors.ErrUnavailable, http.StatusServiceUnavailable, "cache invalidation failed", err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	var appErr *apperrors.AppError
	message := http.StatusText(status)
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
