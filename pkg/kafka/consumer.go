// Package kafka provides Kafka producer and consumer clients backed by
// segmentio/kafka-go. Events travel as JSON and carry the request id of the
// HTTP call that produced them in a message header.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/snapsearch/pkg/logger"
)

// ErrPermanent marks a message that will never succeed. The consumer commits
// its offset instead of redelivering it.
var ErrPermanent = errors.New("permanent message failure")

// MessageHandler is a callback invoked for each Kafka message. The request id
// header, when present, is already attached to ctx.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads messages from a Kafka topic and dispatches them to a
// MessageHandler.
type Consumer struct {
	reader     messageReader
	logger     *slog.Logger
	handler    MessageHandler
	retryDelay time.Duration
}

// NewConsumer creates a Consumer for the given topic and handler.
func NewConsumer(cfg config.KafkaConfig, topic string, handler MessageHandler) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     cfg.ConsumerGroup,
		MinBytes:    1e3,
		MaxBytes:    10e6,
		StartOffset: kafka.FirstOffset,
	})
	return newConsumer(r, topic, handler)
}

func newConsumer(r messageReader, topic string, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:     r,
		logger:     slog.Default().With("component", "kafka-consumer", "topic", topic),
		handler:    handler,
		retryDelay: time.Second,
	}
}

// Start enters the consume loop, fetching and processing messages until ctx
// is cancelled. A message is committed once its handler succeeds or fails
// with ErrPermanent; any other failure leaves it uncommitted and is retried.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", "reason", ctx.Err())
				return nil
			}
			c.logger.Error("failed to fetch message", "error", err)
			if !c.sleep(ctx) {
				return nil
			}
			continue
		}
		if !c.process(ctx, msg) {
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) bool {
	msgCtx := ctx
	if id := requestID(msg); id != "" {
		msgCtx = logger.WithRequestID(ctx, id)
	}
	log := logger.FromContext(msgCtx).With("partition", msg.Partition, "offset", msg.Offset)
	log.Debug("message received", "key", string(msg.Key), "value_size", len(msg.Value))

	for {
		err := c.handler(msgCtx, msg.Key, msg.Value)
		if err == nil {
			break
		}
		if errors.Is(err, ErrPermanent) {
			log.Warn("dropping message", "error", err)
			break
		}
		log.Error("failed to process message", "error", err)
		if !c.sleep(ctx) {
			return false
		}
	}
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		log.Error("failed to commit message", "error", err)
	}
	return true
}

func (c *Consumer) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(c.retryDelay):
		return true
	}
}

func requestID(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == HeaderRequestID {
			return string(h.Value)
		}
	}
	return ""
}

// Close closes the underlying Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

// DecodeJSON is a generic helper that unmarshals a Kafka message value into T.
// Undecodable values are permanent failures.
func DecodeJSON[T any](value []byte) (T, error) {
	var result T
	if err := json.Unmarshal(value, &result); err != nil {
		return result, fmt.Errorf("%w: decoding kafka message: %w", ErrPermanent, err)
	}
	return result, nil
}
