// Package handler serves the ingestion HTTP API: documents are validated
// against the schema and queued on Kafka for the indexer.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/field"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion/validator"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/middleware"
)

const maxBodyBytes = 8 << 20

// Ingester is implemented by publisher.Publisher.
type Ingester interface {
	Ingest(ctx context.Context, reqs []ingestion.IngestRequest) ([]ingestion.IngestResponse, error)
}

type Handler struct {
	ingester Ingester
	schema   *field.Schema
	logger   *slog.Logger
}

func New(ingester Ingester, schema *field.Schema) *Handler {
	return &Handler{
		ingester: ingester,
		schema:   schema,
		logger:   logger.WithComponent("ingestion-handler"),
	}
}

// ingestBody accepts either a single document or a batch.
type ingestBody struct {
	ingestion.IngestRequest
	Documents []ingestion.IngestRequest `json:"documents"`
}

// Ingest handles POST /api/v1/documents. A single document answers with its
// IngestResponse; a batch answers with {"documents": [...]} in request order.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromContext(ctx)
	var body ingestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	single := body.Documents == nil
	batch := ingestion.IngestBatch{Documents: body.Documents}
	if single {
		batch.Documents = []ingestion.IngestRequest{body.IngestRequest}
	}
	if err := validator.ValidateBatch(&batch, h.schema); err != nil {
		var verr *field.ValidationError
		if errors.As(err, &verr) {
			h.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": verr.Fields,
			})
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resps, err := h.ingester.Ingest(ctx, batch.Documents)
	if err != nil {
		statusCode := apperrors.HTTPStatusCode(err)
		log.Error("ingestion failed",
			"error", err,
			"status_code", statusCode,
		)
		h.writeError(w, statusCode, "ingestion failed")
		return
	}
	log.Info("documents accepted", "count", len(resps))
	if single {
		h.writeJSON(w, http.StatusAccepted, resps[0])
		return
	}
	h.writeJSON(w, http.StatusAccepted, map[string]any{"documents": resps})
}

// Routes builds the ingestion router. m and limiter may be nil.
func (h *Handler) Routes(checker *health.Checker, m *metrics.Metrics, limiter *middleware.RateLimiter) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics(m))
	r.Use(middleware.RateLimit(limiter))

	r.Get("/health/live", checker.LiveHandler())
	r.Get("/health/ready", checker.ReadyHandler())
	r.Post("/api/v1/documents", h.Ingest)
	return r
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
