package main

import (
	"context"
	"log"

	"github.com/sirupsen/logrus"

	"github.com/pavitra93/go-tenant-rbac/shared/app"
	"github.com/pavitra93/go-tenant-rbac/shared/config"
	"github.com/pavitra93/go-tenant-rbac/shared/events"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	cfg.ConfigureLogging()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, err := app.NewCore(ctx, "audit", cfg)
	if err != nil {
		log.Fatal("Failed to initialize audit service:", err)
	}
	defer core.Close()

	server := &Server{Core: core}

	done := make(chan struct{})
	if cfg.Kafka.Broker == "" {
		logrus.Warn("KAFKA_BROKER not set, audit events will not be consumed")
		close(done)
	} else {
		consumer := events.NewConsumer(
			events.NewKafkaReader(cfg.Kafka.Broker, cfg.Kafka.Topic, cfg.Kafka.GroupID),
			server.recordEvent,
		)
		defer consumer.Close()

		go func() {
			defer close(done)
			if err := consumer.Run(ctx); err != nil {
				logrus.WithError(err).Error("Audit consumer stopped")
			}
		}()
		logrus.Infof("Consuming %s as group %s", cfg.Kafka.Topic, cfg.Kafka.GroupID)
	}

	router := setupRouter(server)
	if err := app.Serve("Audit service", router, config.Port("audit", "8003")); err != nil {
		logrus.WithError(err).Error("Failed to start audit service")
	}

	cancel()
	<-done
}
