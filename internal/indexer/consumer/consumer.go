// Package consumer reads ingest events from Kafka and buffers them in the
// indexing engine. Redelivered events are recognised by event id and
// skipped.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/document"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/ingestion"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/resilience"
)

// defaultSeenCapacity is how many recent event ids are remembered.
const defaultSeenCapacity = 100_000

// Indexer is the part of indexer.Engine the consumer drives.
type Indexer interface {
	AddRaw(raw map[string]any) (document.ID, error)
	TryCommit() (*snapshot.Handle, error)
}

// IndexConsumer wraps a Kafka consumer to drive the indexing pipeline.
type IndexConsumer struct {
	consumer *kafka.Consumer
	logger   *slog.Logger
}

// New creates an IndexConsumer backed by the given Kafka consumer.
func New(kafkaConsumer *kafka.Consumer) *IndexConsumer {
	return &IndexConsumer{
		consumer: kafkaConsumer,
		logger:   logger.WithComponent("index-consumer"),
	}
}

// Start begins consuming Kafka messages. It blocks until ctx is cancelled.
func (ic *IndexConsumer) Start(ctx context.Context) error {
	ic.logger.Info("index consumer starting")
	return ic.consumer.Start(ctx)
}

// Options tunes HandleMessage.
type Options struct {
	// CommitEvery commits after that many accepted documents. Zero leaves
	// commits to the engine's own loop and threshold.
	CommitEvery int
	// SeenCapacity bounds the redelivery filter.
	SeenCapacity int
	// Retry controls commit retries while another commit holds the lock.
	Retry resilience.RetryConfig
}

// Handler indexes ingest events. Use its Handle method as the
// kafka.MessageHandler.
type Handler struct {
	engine Indexer
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	seen      map[string]struct{}
	order     []string
	next      int
	sinceLast int

	commitRetries atomic.Int64
}

// NewHandler returns a Handler over engine.
func NewHandler(engine Indexer, opts Options) *Handler {
	if opts.SeenCapacity <= 0 {
		opts.SeenCapacity = defaultSeenCapacity
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = resilience.RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 20 * time.Millisecond,
			MaxDelay:     time.Second,
		}
	}
	opts.Retry.Retryable = func(err error) bool {
		return errors.Is(err, apperrors.ErrCommitInProgress)
	}
	h := &Handler{
		engine: engine,
		opts:   opts,
		logger: logger.WithComponent("index-consumer"),
		seen:   make(map[string]struct{}, opts.SeenCapacity),
		order:  make([]string, opts.SeenCapacity),
	}
	h.opts.Retry.OnRetry = func(int, error, time.Duration) { h.commitRetries.Add(1) }
	return h
}

// CommitRetries counts commit attempts that found another commit running.
func (h *Handler) CommitRetries() int64 { return h.commitRetries.Load() }

// HandleMessage returns a kafka.MessageHandler indexing into engine with
// default options.
func HandleMessage(engine Indexer) kafka.MessageHandler {
	return NewHandler(engine, Options{}).Handle
}

// Handle decodes one IngestEvent and adds its document. Undecodable events
// and documents the schema rejects are permanent failures; anything else,
// such as a closed engine, is returned for redelivery.
func (h *Handler) Handle(ctx context.Context, key []byte, value []byte) error {
	log := logger.FromContext(ctx)
	event, err := kafka.DecodeJSON[ingestion.IngestEvent](value)
	if err != nil {
		return err
	}
	if event.EventID != "" && h.isSeen(event.EventID) {
		log.Debug("skipping redelivered event", "event_id", event.EventID)
		return nil
	}

	id, err := h.engine.AddRaw(event.Fields)
	if err != nil {
		if errors.Is(err, apperrors.ErrValidation) {
			return fmt.Errorf("%w: event %s: %w", kafka.ErrPermanent, event.EventID, err)
		}
		return fmt.Errorf("indexing event %s: %w", event.EventID, err)
	}
	h.markSeen(event.EventID)
	log.Debug("document buffered",
		"event_id", event.EventID,
		"doc_id", id,
		"lag", time.Since(event.IngestedAt).Round(time.Millisecond),
	)

	if h.dueForCommit() {
		if err := h.commit(ctx); err != nil {
			log.Error("consumer commit failed", "error", err)
		}
	}
	return nil
}

func (h *Handler) commit(ctx context.Context) error {
	return resilience.Retry(ctx, "consumer-commit", h.opts.Retry, func() error {
		snap, err := h.engine.TryCommit()
		if err != nil {
			return err
		}
		return snap.Release()
	})
}

func (h *Handler) dueForCommit() bool {
	if h.opts.CommitEvery <= 0 {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinceLast++
	if h.sinceLast < h.opts.CommitEvery {
		return false
	}
	h.sinceLast = 0
	return true
}

func (h *Handler) isSeen(id string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.seen[id]
	return ok
}

// markSeen records id, evicting the oldest id once the ring is full.
func (h *Handler) markSeen(id string) {
	if id == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.seen[id]; ok {
		return
	}
	if old := h.order[h.next]; old != "" {
		delete(h.seen, old)
	}
	h.order[h.next] = id
	h.seen[id] = struct{}{}
	h.next = (h.next + 1) % len(h.order)
}
