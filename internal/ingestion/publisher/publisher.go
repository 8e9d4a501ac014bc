// Package publisher turns accepted ingestion requests into IngestEvents on
// the document-ingest Kafka topic.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/resilience"
)

// idempotencyNamespace scopes event ids derived from idempotency keys.
var idempotencyNamespace = uuid.MustParse("6f1d3c2a-8f7e-4b5d-9a0c-1e2f3a4b5c6d")

// EventWriter is the part of kafka.Producer the publisher needs.
type EventWriter interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// Publisher coordinates event id assignment and Kafka production.
type Publisher struct {
	writer  EventWriter
	breaker *resilience.CircuitBreaker
	now     func() time.Time
	logger  *slog.Logger
}

// New creates a Publisher. m may be nil.
func New(writer EventWriter, m *metrics.Metrics) *Publisher {
	return &Publisher{
		writer: writer,
		breaker: resilience.NewCircuitBreaker("kafka-ingest", resilience.CircuitBreakerConfig{
			FailureThreshold: 3,
			ResetTimeout:     10 * time.Second,
			IsFailure: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, to resilience.State) {
				m.BreakerState(name, int(to))
			},
		}),
		now:    time.Now,
		logger: logger.WithComponent("publisher"),
	}
}

// EventID returns the event id for a request. Requests carrying the same
// idempotency key map to the same id, so the indexer can drop redeliveries
// and client retries alike.
func EventID(req *ingestion.IngestRequest) string {
	if req.IdempotencyKey != "" {
		return uuid.NewSHA1(idempotencyNamespace, []byte(req.IdempotencyKey)).String()
	}
	return uuid.NewString()
}

// Ingest publishes one event per request in a single Kafka write. Either all
// documents are queued or none are.
func (p *Publisher) Ingest(ctx context.Context, reqs []ingestion.IngestRequest) ([]ingestion.IngestResponse, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	now := p.now().UTC()
	events := make([]kafka.Event, 0, len(reqs))
	resps := make([]ingestion.IngestResponse, 0, len(reqs))
	for i := range reqs {
		id := EventID(&reqs[i])
		events = append(events, kafka.Event{
			Key: id,
			Value: ingestion.IngestEvent{
				EventID:    id,
				Fields:     reqs[i].Fields,
				IngestedAt: now,
			},
		})
		resps = append(resps, ingestion.IngestResponse{EventID: id, Status: ingestion.StatusAccepted})
	}

	err := p.breaker.Execute(func() error {
		return p.writer.PublishBatch(ctx, events)
	})
	if err != nil {
		logger.FromContext(ctx).Error("failed to publish ingest events",
			"count", len(events),
			"error", err,
		)
		return nil, apperrors.Newf(apperrors.ErrInternal, http.StatusServiceUnavailable, "ingest queue unavailable: %v", err)
	}
	p.logger.Debug("ingest events published", "count", len(events))
	return resps, nil
}

// BreakerState reports the Kafka circuit breaker's state.
func (p *Publisher) BreakerState() resilience.State {
	return p.breaker.GetState()
}

// Ping reports an error while the breaker is open. It fits health.PingCheck.
func (p *Publisher) Ping(context.Context) error {
	if p.breaker.GetState() == resilience.StateOpen {
		return fmt.Errorf("%w: kafka-ingest", resilience.ErrCircuitOpen)
	}
	return nil
}
