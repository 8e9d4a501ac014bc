// Package router wires the searcher's routes onto a chi router and applies
// the middleware chain.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/searcher/handler"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/middleware"
)

// Options carries the optional pieces of the chain. Zero values disable them.
type Options struct {
	Metrics     *metrics.Metrics
	RateLimiter *middleware.RateLimiter
	Timeout     time.Duration
	// AdminKeys guards document adds, commits and cache invalidation.
	AdminKeys *middleware.KeySet
	CORS      middleware.CORSConfig
}

// New builds the searcher HTTP handler.
//
// Route table:
//
//	POST /api/v1/documents          add documents (optionally commit)   [key]
//	GET  /api/v1/documents/{id}     document from the current snapshot
//	POST /api/v1/commit             publish buffered documents          [key]
//	GET  /api/v1/search?q=&limit=   query the current snapshot
//	POST /api/v1/refresh?mode=      check | acquire | blocking
//	GET  /api/v1/stats              engine and snapshot stats
//	GET  /api/v1/cache/stats        result cache counters
//	POST /api/v1/cache/invalidate   drop every cached result            [key]
//	GET  /health/live, /health/ready
//
// Middleware chain (outermost first):
//
//	RequestID → CORS → Metrics → RateLimit → Timeout → [RequireKey] → handler
func New(h *handler.Handler, checker *health.Checker, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(opts.CORS))
	r.Use(middleware.Metrics(opts.Metrics))
	r.Use(middleware.RateLimit(opts.RateLimiter))
	if opts.Timeout > 0 {
		r.Use(middleware.Timeout(opts.Timeout))
	}

	r.Get("/health/live", checker.LiveHandler())
	r.Get("/health/ready", checker.ReadyHandler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/documents/{id}", h.GetDocument)
		r.Get("/search", h.Search)
		r.Post("/refresh", h.Refresh)
		r.Get("/stats", h.Stats)
		r.Get("/cache/stats", h.CacheStats)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireKey(opts.AdminKeys))
			r.Post("/documents", h.AddDocuments)
			r.Post("/commit", h.Commit)
			r.Post("/cache/invalidate", h.CacheInvalidate)
		})
	})
	return r
}
