package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// MessageReader is the part of *kafka.Reader the consumer uses
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one event. It must be idempotent: a message whose
// commit is lost is delivered again.
type Handler func(ctx context.Context, event Event) error

// NewKafkaReader builds a consumer-group reader for topic
func NewKafkaReader(broker, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        []string{broker},
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		CommitInterval: time.Second,
	})
}

// Consumer feeds events from a reader to a handler
type Consumer struct {
	reader      MessageReader
	handler     Handler
	pollTimeout time.Duration
	maxBackoff  time.Duration
}

// NewConsumer creates a consumer
func NewConsumer(reader MessageReader, handler Handler) *Consumer {
	return &Consumer{
		reader:      reader,
		handler:     handler,
		pollTimeout: 10 * time.Second,
		maxBackoff:  30 * time.Second,
	}
}

// Run consumes until ctx is cancelled. Messages are committed only after
// the handler succeeds; undecodable messages are logged and skipped.
func (c *Consumer) Run(ctx context.Context) error {
	logrus.Info("Starting admin events consumer...")

	for {
		if ctx.Err() != nil {
			return nil
		}

		pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
		msg, err := c.reader.FetchMessage(pollCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// no messages within the poll window
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			logrus.WithError(err).Error("Error reading event message")
			if !sleep(ctx, time.Second) {
				return nil
			}
			continue
		}

		if err := c.handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	log := logrus.WithFields(logrus.Fields{
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	event, err := Decode(msg)
	if err != nil {
		log.WithError(err).Warn("Skipping malformed event")
		return c.commit(ctx, msg)
	}
	log = log.WithFields(logrus.Fields{"event_id": event.ID, "event_type": event.Type})

	backoff := 500 * time.Millisecond
	for {
		err := c.handler(ctx, event)
		if err == nil {
			break
		}
		log.WithError(err).Warnf("Failed to handle event, retrying in %s", backoff)
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff *= 2
		if backoff > c.maxBackoff {
			backoff = c.maxBackoff
		}
	}

	log.Debug("Event handled")
	return c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to commit offset %d: %w", msg.Offset, err)
	}
	return nil
}

// Close closes the reader
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("failed to close event reader: %w", err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
