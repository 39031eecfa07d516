package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-rbac/shared/models"
)

// RetryConfig controls redelivery of failed events
type RetryConfig struct {
	MaxRetries    int
	BatchSize     int
	CheckInterval time.Duration
	BaseDelay     time.Duration
}

// DefaultRetryConfig backs off 1m, 2m, 4m... and gives up after 8 attempts
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    8,
		BatchSize:     100,
		CheckInterval: 30 * time.Second,
		BaseDelay:     time.Minute,
	}
}

// Writer sends one event synchronously
type Writer interface {
	WriteSync(ctx context.Context, event Event) error
}

// Redeliverer moves failed events back onto the broker
type Redeliverer struct {
	db     *gorm.DB
	writer Writer
	cfg    RetryConfig
	now    func() time.Time
}

// NewRedeliverer creates a Redeliverer
func NewRedeliverer(db *gorm.DB, writer Writer, cfg RetryConfig) *Redeliverer {
	return &Redeliverer{db: db, writer: writer, cfg: cfg, now: time.Now}
}

// Run processes due events every CheckInterval until ctx is done
func (r *Redeliverer) Run(ctx context.Context) {
	logrus.Info("Starting failed event redelivery...")
	ticker := time.NewTicker(r.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		if n, err := r.ProcessBatch(ctx); err != nil {
			logrus.WithError(err).Error("Error processing failed events")
		} else if n > 0 {
			logrus.Infof("Processed %d failed events", n)
		}

		select {
		case <-ctx.Done():
			logrus.Info("Failed event redelivery stopped")
			return
		case <-ticker.C:
		}
	}
}

// ProcessBatch retries up to BatchSize due events, oldest first so that
// per-tenant order is kept as far as possible. It returns how many were tried.
func (r *Redeliverer) ProcessBatch(ctx context.Context) (int, error) {
	var due []models.FailedEvent
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_retry_at <= ?", models.FailedEventPending, r.now()).
		Order("created_at ASC").
		Limit(r.cfg.BatchSize).
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("failed to fetch failed events: %w", err)
	}

	for i := range due {
		if err := r.retry(ctx, &due[i]); err != nil {
			logrus.WithError(err).WithField("event_id", due[i].EventID).Error("Failed to update failed event")
		}
	}
	return len(due), nil
}

func (r *Redeliverer) retry(ctx context.Context, failed *models.FailedEvent) error {
	var event Event
	if err := json.Unmarshal(failed.Body, &event); err != nil {
		return r.markPermanentlyFailed(ctx, failed, fmt.Sprintf("Undecodable event: %v", err))
	}

	if err := r.writer.WriteSync(ctx, event); err != nil {
		return r.scheduleRetry(ctx, failed, err)
	}
	return r.markResolved(ctx, failed)
}

// Backoff returns the delay before attempt n+1, after n failed attempts
func (r *Redeliverer) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return r.cfg.BaseDelay * time.Duration(1<<(attempts-1))
}

func (r *Redeliverer) scheduleRetry(ctx context.Context, failed *models.FailedEvent, cause error) error {
	now := r.now()
	failed.RetryCount++

	if failed.RetryCount >= r.cfg.MaxRetries {
		failed.Status = models.FailedEventPermanentlyFailed
		failed.ResolvedAt = &now
		failed.ErrorMessage = fmt.Sprintf("Max retries reached: %s", cause.Error())
	} else {
		next := now.Add(r.Backoff(failed.RetryCount))
		failed.NextRetryAt = &next
		failed.ErrorMessage = cause.Error()
	}
	return r.db.WithContext(ctx).Save(failed).Error
}

func (r *Redeliverer) markResolved(ctx context.Context, failed *models.FailedEvent) error {
	now := r.now()
	failed.Status = models.FailedEventResolved
	failed.ResolvedAt = &now
	return r.db.WithContext(ctx).Save(failed).Error
}

func (r *Redeliverer) markPermanentlyFailed(ctx context.Context, failed *models.FailedEvent, reason string) error {
	now := r.now()
	failed.Status = models.FailedEventPermanentlyFailed
	failed.ResolvedAt = &now
	failed.ErrorMessage = reason
	return r.db.WithContext(ctx).Save(failed).Error
}

// RetryStats counts failed events by status
type RetryStats struct {
	Pending           int64 `json:"pending"`
	Resolved          int64 `json:"resolved"`
	PermanentlyFailed int64 `json:"permanently_failed"`
}

// Stats returns counts by status and the active configuration
func (r *Redeliverer) Stats(ctx context.Context) (map[string]interface{}, error) {
	var stats RetryStats
	counts := []struct {
		status models.FailedEventStatus
		dst    *int64
	}{
		{models.FailedEventPending, &stats.Pending},
		{models.FailedEventResolved, &stats.Resolved},
		{models.FailedEventPermanentlyFailed, &stats.PermanentlyFailed},
	}
	for _, c := range counts {
		err := r.db.WithContext(ctx).Model(&models.FailedEvent{}).Where("status = ?", c.status).Count(c.dst).Error
		if err != nil {
			return nil, fmt.Errorf("failed to count %s events: %w", c.status, err)
		}
	}

	return map[string]interface{}{
		"retry_stats": stats,
		"config": map[string]interface{}{
			"max_retries":    r.cfg.MaxRetries,
			"batch_size":     r.cfg.BatchSize,
			"check_interval": r.cfg.CheckInterval.String(),
		},
	}, nil
}
