package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bizyou-chat/internal/config"
	"bizyou-chat/internal/notify"
	"bizyou-chat/internal/observability"
	"bizyou-chat/internal/push"
)

func main() {
	cfg := config.Load()

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logFormat := os.Getenv("LOG_FORMAT")
	if logFormat == "" {
		logFormat = "json"
	}
	observability.InitLogger(logLevel, logFormat)

	slog.Info("starting push worker")

	db, err := config.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to postgresql")

	brokerCtx, brokerCancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer brokerCancel()

	notifier, err := notify.NewAMQPNotifierWithRetry(brokerCtx, cfg.AMQPURL)
	if err != nil {
		slog.Error("failed to connect to broker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer notifier.Close()
	slog.Info("connected to broker")

	deliverer := push.NewDeliverer(db, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	if deliverer == nil {
		slog.Error("VAPID keys not configured, push delivery disabled")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := push.NewConsumer(notifier, deliverer)
	if err := consumer.Start(ctx); err != nil {
		slog.Error("failed to start consumer", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("push worker is ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down push worker")
	cancel()
	time.Sleep(1 * time.Second)
	slog.Info("push worker stopped")
}
