// Package app wires the dependencies every HTTP service starts with.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/pavitra93/go-tenant-rbac/shared/auth"
	"github.com/pavitra93/go-tenant-rbac/shared/authz"
	"github.com/pavitra93/go-tenant-rbac/shared/config"
	"github.com/pavitra93/go-tenant-rbac/shared/events"
	"github.com/pavitra93/go-tenant-rbac/shared/metrics"
	"github.com/pavitra93/go-tenant-rbac/shared/middleware"
	"github.com/pavitra93/go-tenant-rbac/shared/storage"
	"github.com/pavitra93/go-tenant-rbac/shared/store"
	"github.com/pavitra93/go-tenant-rbac/shared/utils"
)

// Core holds the connections and services shared by the auth and admin services
type Core struct {
	Service  string
	Config   *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Metrics  *metrics.Metrics
	Authz    *authz.Service
	Store    *store.Store
	Sessions *utils.SessionStore
	Tokens   *auth.TokenIssuer
	Auth     *middleware.AuthMiddleware
	Events   events.Publisher

	closers []func() error
}

// NewCore connects to Postgres and Redis, migrates, provisions the default
// roles and loads the authorization registry
func NewCore(ctx context.Context, service string, cfg *config.Config) (*Core, error) {
	db, err := config.ConnectDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := config.Migrate(db); err != nil {
		return nil, err
	}

	registry := authz.DefaultRegistry()
	if err := authz.Provision(ctx, db, registry); err != nil {
		return nil, fmt.Errorf("failed to provision roles: %w", err)
	}

	rdb, err := utils.NewRedisClient(ctx, cfg.Redis.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	m := metrics.New(service)
	catalog := utils.NewCatalogSync(rdb, utils.CatalogChannel)
	az := authz.NewService(registry, db, authz.Options{
		Policy:   authz.ParseAssignmentPolicy(cfg.AssignmentPolicy),
		Recorder: m,
		Notifier: catalog,
	})

	watchCtx, stopWatch := context.WithCancel(context.Background())
	if err := catalog.Watch(watchCtx, az.Reload, cfg.RegistryReload); err != nil {
		stopWatch()
		_ = rdb.Close()
		return nil, err
	}

	c := NewCoreFrom(service, cfg, db, rdb, az, m)
	c.closers = append(c.closers, rdb.Close, func() error {
		stopWatch()
		return nil
	})
	logrus.Infof("Authorization registry loaded: %d roles, %d abilities (policy %s)",
		len(registry.Roles()), len(registry.Abilities()), az.Policy())
	return c, nil
}

// NewCoreFrom assembles a Core from existing connections; tests use it with
// sqlite and miniredis
func NewCoreFrom(service string, cfg *config.Config, db *gorm.DB, rdb *redis.Client, az *authz.Service, m *metrics.Metrics) *Core {
	st := store.New(db, az)
	sessions := utils.NewSessionStore(rdb)
	tokens := auth.NewTokenIssuer(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)
	return &Core{
		Service:  service,
		Config:   cfg,
		DB:       db,
		Redis:    rdb,
		Metrics:  m,
		Authz:    az,
		Store:    st,
		Sessions: sessions,
		Tokens:   tokens,
		Auth:     middleware.NewAuthMiddleware(tokens, sessions, st.Users),
	}
}

// Publisher returns a Kafka producer backed by the failed-events outbox, or
// a no-op publisher when no broker is configured
func (c *Core) Publisher() events.Publisher {
	if c.Config.Kafka.Broker == "" {
		logrus.Warn("KAFKA_BROKER not set, admin events will not be published")
		return events.NoopPublisher{}
	}
	producer := events.NewKafkaProducer(
		events.NewKafkaWriter(c.Config.Kafka.Broker),
		c.Config.Kafka.Topic,
		events.ProducerOptions{Sink: events.NewOutbox(c.DB), Recorder: c.Metrics},
	)
	c.closers = append(c.closers, producer.Close)
	return producer
}

// Emit hands an event to Events on behalf of a request. Failures are
// logged against the request and never fail it; a nil Events drops the event.
func (c *Core) Emit(gc *gin.Context, event events.Event) {
	if c.Events == nil {
		return
	}
	if err := c.Events.Publish(gc.Request.Context(), event); err != nil {
		middleware.Logger(gc).WithError(err).WithField("event_type", event.Type).Warn("Failed to publish event")
	}
}

// ObjectStore connects to S3 behind a circuit breaker reported through the
// service metrics. It returns nil when storage is unreachable.
func (c *Core) ObjectStore(ctx context.Context) storage.ObjectStore {
	breaker := utils.NewCircuitBreakerWithSettings(utils.BreakerSettings{
		Name:          "storage",
		MaxFailures:   5,
		ResetTimeout:  30 * time.Second,
		OnStateChange: c.Metrics.BreakerStateChanged,
	})
	objects, err := storage.NewS3Store(ctx, c.Config.Storage, breaker)
	if err != nil {
		logrus.Warnf("Object storage unavailable, avatars disabled: %v", err)
		return nil
	}
	return objects
}

// Router returns a gin engine with request ids, metrics, /health and /metrics
func (c *Core) Router() *gin.Engine {
	router := gin.Default()
	router.Use(middleware.RequestID(c.Service))
	router.Use(c.Metrics.Middleware())

	router.GET("/health", func(ctx *gin.Context) {
		if err := c.Ping(ctx.Request.Context()); err != nil {
			utils.ServiceUnavailableResponse(ctx, err.Error())
			return
		}
		utils.OKResponse(ctx, fmt.Sprintf("%s service is healthy", c.Service), nil)
	})
	router.GET("/metrics", gin.WrapH(c.Metrics.Handler()))
	return router
}

// Ping checks the database and Redis
func (c *Core) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database unavailable: %w", err)
	}
	if err := c.Sessions.Ping(ctx); err != nil {
		return fmt.Errorf("redis unavailable: %w", err)
	}
	return nil
}

// Close releases everything NewCore and Publisher opened, newest first
func (c *Core) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logrus.WithError(err).Warn("Error during shutdown")
		}
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
