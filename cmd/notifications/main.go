package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/broker"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/config"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/notifications"
)

func main() {
	cfg, err := config.LoadNotificationsConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	appLogger.Info("Notification Service starting...")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pingCancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()

	amqpClient := broker.NewClient(cfg.Broker.URL, appLogger.With(zap.String("component", "Broker")))
	amqpClient.Connect()
	defer amqpClient.Close()

	dispatcher := notifications.NewDispatcher(
		notifications.NewRedisContactStore(redisClient),
		notifications.NewLogEmailSender(appLogger),
		notifications.NewLogSMSSender(appLogger),
		appLogger.With(zap.String("component", "Dispatcher")),
	)
	if err := dispatcher.Register(amqpClient, cfg.Broker.Exchange); err != nil {
		appLogger.Fatal("Failed to register notification subscriptions", zap.Error(err))
	}
	appLogger.Info("Notification Service initialized.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLogger.Info("Shutting down application...")
	appLogger.Info("Application gracefully shut down.")
}
