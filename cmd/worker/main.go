package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/noah-isme/hostel-api/internal/app"
	"github.com/noah-isme/hostel-api/internal/service"
	"github.com/noah-isme/hostel-api/pkg/config"
	"github.com/noah-isme/hostel-api/pkg/jobs"
	"github.com/noah-isme/hostel-api/pkg/logger"
)

// The worker drains notification deliveries from Redis when the API runs
// with NOTIFICATION_QUEUE_DRIVER=redis.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Notifications.QueueDriver != config.QueueDriverRedis {
		log.Fatalf("worker needs NOTIFICATION_QUEUE_DRIVER=%s, got %s", config.QueueDriverRedis, cfg.Notifications.QueueDriver)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	application, err := app.New(cfg, logr)
	if err != nil {
		logr.Fatal("failed to initialise application", zap.Error(err))
	}
	defer application.Close()

	worker := jobs.NewRedisWorker(application.RedisJobConfig())
	worker.Register(service.JobDeliverNotification, application.Notifications.HandleJob)
	if err := worker.Start(); err != nil {
		logr.Fatal("failed to start worker", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	logr.Info("shutdown signal received")
	worker.Stop()
}
