package api

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/live-index/pkg/middleware"
)

// NewRouter builds the HTTP handler.
//
// Route table:
//
//	GET  /api/v1/search?word=        containers holding a word
//	GET  /api/v1/files/tokens?path=  words indexed for one file
//	GET  /api/v1/stats               watcher, index and cache counters
//	GET  /api/v1/events?limit=&path= change journal, newest first
//	POST /api/v1/cache/invalidate    drop every cached lookup
//	GET  /health/live, /health/ready probes
//	GET  /metrics                    Prometheus scrape (when m is set)
//
// Middleware chain (outermost first): RequestID, CORS, Metrics, RateLimit,
// AccessLog, Timeout. CORS and RateLimit apply only when configured.
func NewRouter(h *Handler, checker *health.Checker, m *metrics.Metrics, cfg config.ServerConfig) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/search", h.SearchWord)
	mux.HandleFunc("GET /api/v1/files/tokens", h.FileTokens)
	mux.HandleFunc("GET /api/v1/stats", h.Stats)
	mux.HandleFunc("GET /api/v1/events", h.RecentEvents)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	if cfg.WriteTimeout > 0 {
		chain = middleware.Timeout(cfg.WriteTimeout)(chain)
	}
	chain = middleware.AccessLog(chain)
	if cfg.RateLimit > 0 {
		chain = middleware.RateLimit(middleware.NewLimiter(cfg.RateLimit, time.Minute))(chain)
	}
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
		chain = middleware.Metrics(m,
			"/api/v1/search", "/api/v1/files/tokens", "/api/v1/stats", "/api/v1/events",
			"/api/v1/cache/invalidate", "/health/live", "/health/ready", "/metrics",
		)(chain)
	}
	if len(cfg.CORSOrigins) > 0 {
		chain = middleware.CORS(cfg.CORSOrigins)(chain)
	}
	return middleware.RequestID(chain)
}
