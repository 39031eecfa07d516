package main

import (
	"context"
	"log"

	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-tenant-rbac/shared/app"
	"github.com/pavitra93/go-tenant-rbac/shared/config"
	"github.com/pavitra93/go-tenant-rbac/shared/events"
	"github.com/pavitra93/go-tenant-rbac/shared/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	cfg.ConfigureLogging()

	if cfg.Kafka.Broker == "" {
		log.Fatal("KAFKA_BROKER must be set for the retry consumer")
	}

	db, err := config.ConnectDatabase(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	if err := config.Migrate(db); err != nil {
		log.Fatal("Failed to migrate database:", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	m := metrics.New("retry-consumer")
	// no sink: a failed redelivery stays in failed_events and is rescheduled
	producer := events.NewKafkaProducer(
		events.NewKafkaWriter(cfg.Kafka.Broker),
		cfg.Kafka.Topic,
		events.ProducerOptions{Workers: 1, Recorder: m},
	)
	defer producer.Close()

	retryCfg := events.DefaultRetryConfig()
	consumer := NewRetryConsumer(db, producer, retryCfg, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		consumer.Run(ctx)
	}()
	logrus.Infof("Redelivering failed events to %s every %s (max %d retries)",
		cfg.Kafka.Topic, retryCfg.CheckInterval, retryCfg.MaxRetries)

	router := setupRouter(consumer)
	if err := app.Serve("Retry Consumer", router, config.Port("retry_consumer", "8085")); err != nil {
		logrus.WithError(err).Error("Failed to start Retry Consumer")
	}

	cancel()
	<-done
}
