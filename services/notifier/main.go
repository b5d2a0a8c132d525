package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/pavitra93/go-multi-tenant-pos/shared/bootstrap"
	"github.com/pavitra93/go-multi-tenant-pos/shared/config"
	"github.com/pavitra93/go-multi-tenant-pos/shared/events"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	cfg.ConfigureLogging()

	if cfg.KafkaBroker == "" || cfg.NotifyWebhookURL == "" {
		log.Fatal("KAFKA_BROKER and NOTIFY_WEBHOOK_URL must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := NewWebhookClient(cfg.NotifyWebhookURL)
	consumer := events.NewKafkaConsumer(cfg.KafkaBroker, cfg.SessionEventsTopic, "session-notifier")
	defer func() {
		if err := consumer.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close consumer")
		}
	}()

	go func() {
		if err := consumer.Consume(ctx, client.Deliver); err != nil {
			logrus.WithError(err).Error("Session event consumer stopped")
		}
	}()

	router := bootstrap.NewRouter("Notifier")
	router.GET("/notifier/status", handleGetStatus(client))

	port := config.ServicePort("NOTIFIER", "8004")
	if err := bootstrap.Serve("Notifier", port, router); err != nil {
		log.Fatal("Failed to start notifier:", err)
	}
}
