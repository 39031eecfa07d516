package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CatalogChannel is the Redis channel announcing role and ability changes
const CatalogChannel = "authz:catalog"

// CatalogSync tells every process sharing a Redis that the role catalog
// changed, so each can reload its authorization registry
type CatalogSync struct {
	client  *redis.Client
	channel string
	origin  string
}

// NewCatalogSync announces and listens on channel
func NewCatalogSync(client *redis.Client, channel string) *CatalogSync {
	return &CatalogSync{client: client, channel: channel, origin: uuid.NewString()}
}

// CatalogChanged announces a change made by this process
func (s *CatalogSync) CatalogChanged(ctx context.Context) error {
	if err := s.client.Publish(ctx, s.channel, s.origin).Err(); err != nil {
		return fmt.Errorf("failed to announce catalog change: %w", err)
	}
	return nil
}

// Watch subscribes to the channel and calls reload for every change
// announced by another process, and every interval when interval > 0.
// It returns once the subscription is live; the loop stops with ctx.
func (s *CatalogSync) Watch(ctx context.Context, reload func(context.Context) error, interval time.Duration) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}
	go s.loop(ctx, pubsub, reload, interval)
	return nil
}

func (s *CatalogSync) loop(ctx context.Context, pubsub *redis.PubSub, reload func(context.Context) error, interval time.Duration) {
	defer pubsub.Close()

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	msgs := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.Payload == s.origin {
				continue
			}
			s.reload(ctx, reload, "announced")
		case <-tick:
			s.reload(ctx, reload, "interval")
		}
	}
}

func (s *CatalogSync) reload(ctx context.Context, reload func(context.Context) error, trigger string) {
	if err := reload(ctx); err != nil {
		logrus.WithError(err).WithField("trigger", trigger).Warn("Failed to reload authorization registry")
		return
	}
	logrus.WithField("trigger", trigger).Debug("Authorization registry reloaded")
}
