package main

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-rbac/shared/events"
	"github.com/pavitra93/go-tenant-rbac/shared/metrics"
	"github.com/pavitra93/go-tenant-rbac/shared/middleware"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

// RetryConsumer redelivers events the producers parked in failed_events
type RetryConsumer struct {
	db          *gorm.DB
	redeliverer *events.Redeliverer
	metrics     *metrics.Metrics
}

// NewRetryConsumer creates a retry consumer writing through writer
func NewRetryConsumer(db *gorm.DB, writer events.Writer, cfg events.RetryConfig, m *metrics.Metrics) *RetryConsumer {
	return &RetryConsumer{
		db:          db,
		redeliverer: events.NewRedeliverer(db, writer, cfg),
		metrics:     m,
	}
}

// Run redelivers due events until ctx is cancelled
func (rc *RetryConsumer) Run(ctx context.Context) {
	rc.redeliverer.Run(ctx)
}

func (rc *RetryConsumer) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	sqlDB, err := rc.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func setupRouter(rc *RetryConsumer) *gin.Engine {
	router := gin.Default()
	router.Use(middleware.RequestID("retry-consumer"))
	router.Use(rc.metrics.Middleware())

	router.GET("/health", func(c *gin.Context) {
		if err := rc.ping(c.Request.Context()); err != nil {
			utils.ServiceUnavailableResponse(c, "database unavailable: "+err.Error())
			return
		}
		utils.OKResponse(c, "retry-consumer service is healthy", nil)
	})

	router.GET("/stats", func(c *gin.Context) {
		stats, err := rc.redeliverer.Stats(c.Request.Context())
		if err != nil {
			middleware.Logger(c).WithError(err).Error("Failed to load retry stats")
			utils.InternalServerErrorResponse(c, "Failed to load retry stats")
			return
		}
		utils.OKResponse(c, "Retry stats retrieved successfully", stats)
	})

	router.GET("/metrics", gin.WrapH(rc.metrics.Handler()))
	return router
}
