package journal

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
)

// Sink receives batches of commit records.
type Sink interface {
	Name() string
	Flush(ctx context.Context, batch []indexer.CommitInfo) error
}

// KafkaSink publishes each commit as a snapshot-published event keyed by
// generation.
type KafkaSink struct {
	producer *kafka.Producer
}

func NewKafkaSink(p *kafka.Producer) *KafkaSink {
	return &KafkaSink{producer: p}
}

func (k *KafkaSink) Name() string { return "kafka:" + k.producer.Topic() }

func (k *KafkaSink) Flush(ctx context.Context, batch []indexer.CommitInfo) error {
	events := make([]kafka.Event, 0, len(batch))
	for _, info := range batch {
		events = append(events, kafka.Event{Key: fmt.Sprint(info.Generation), Value: info})
	}
	return k.producer.PublishBatch(ctx, events)
}

// Collector buffers commit records from Engine.OnCommit and flushes them to
// every sink in the background, either when the buffer reaches batchSize or
// after flushInterval. A sink that fails keeps its records queued for the
// next flush, up to three batches.
type Collector struct {
	sinks         []Sink
	mu            sync.Mutex
	pending       map[string][]indexer.CommitInfo
	batchSize     int
	flushInterval time.Duration
	kick          chan struct{}
	logger        *slog.Logger
	done          chan struct{}
}

func NewCollector(batchSize int, flushInterval time.Duration, sinks ...Sink) *Collector {
	if batchSize <= 0 {
		batchSize = 16
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	pending := make(map[string][]indexer.CommitInfo, len(sinks))
	for _, s := range sinks {
		pending[s.Name()] = nil
	}
	return &Collector{
		sinks:         sinks,
		pending:       pending,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		kick:          make(chan struct{}, 1),
		logger:        logger.WithComponent("journal"),
		done:          make(chan struct{}),
	}
}

// Start launches the flush loop. On ctx cancellation it makes a final flush
// with a short deadline and stops.
func (c *Collector) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.flushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.Flush(ctx)
			case <-c.kick:
				c.Flush(ctx)
			case <-ctx.Done():
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				c.Flush(flushCtx)
				cancel()
				return
			}
		}
	}()
	c.logger.Info("commit journal started",
		"sinks", len(c.sinks),
		"batch_size", c.batchSize,
		"flush_interval", c.flushInterval,
	)
}

// Track queues one commit for every sink. It never blocks on I/O, so it is
// safe to register directly with Engine.OnCommit.
func (c *Collector) Track(info indexer.CommitInfo) {
	c.mu.Lock()
	full := false
	for name := range c.pending {
		c.pending[name] = append(c.pending[name], info)
		if len(c.pending[name]) >= c.batchSize {
			full = true
		}
	}
	c.mu.Unlock()
	if full {
		select {
		case c.kick <- struct{}{}:
		default:
		}
	}
}

// Pending returns how many records are queued for the named sink.
func (c *Collector) Pending(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending[name])
}

// Flush sends every queued record to its sink now.
func (c *Collector) Flush(ctx context.Context) {
	for _, sink := range c.sinks {
		name := sink.Name()
		c.mu.Lock()
		batch := c.pending[name]
		c.pending[name] = nil
		c.mu.Unlock()
		if len(batch) == 0 {
			continue
		}
		if err := sink.Flush(ctx, batch); err != nil {
			c.logger.Error("journal flush failed", "sink", name, "batch_size", len(batch), "error", err)
			c.requeue(name, batch)
			continue
		}
		c.logger.Debug("journal flushed", "sink", name, "records", len(batch))
	}
}

func (c *Collector) requeue(name string, batch []indexer.CommitInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := append(batch, c.pending[name]...)
	if limit := c.batchSize * 3; len(merged) > limit {
		dropped := len(merged) - limit
		merged = merged[dropped:]
		c.logger.Warn("journal buffer overflow, oldest records dropped", "sink", name, "dropped", dropped)
	}
	c.pending[name] = merged
}

// Close waits for the flush loop started by Start to finish.
func (c *Collector) Close() {
	<-c.done
}
