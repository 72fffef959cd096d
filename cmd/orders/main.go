package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/0xRazumovsky/e-commerce-fullstack/internal/app/orders"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/broker"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/config"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/handler/events"
	orders_http "github.com/0xRazumovsky/e-commerce-fullstack/internal/handler/http/orders"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/infrastructure/database"
	"github.com/0xRazumovsky/e-commerce-fullstack/internal/outbox"
	order_postgres "github.com/0xRazumovsky/e-commerce-fullstack/internal/repository/order_repo/postgres"
	outbox_postgres "github.com/0xRazumovsky/e-commerce-fullstack/internal/repository/outbox_repo/postgres"
)

const paymentStatusQueue = "orders.payment-status"

func main() {
	cfg, err := config.LoadOrdersConfig()
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
	appLogger.Info("Order Service starting...")

	db := connectWithRetry(cfg.DB, appLogger)
	if db == nil {
		appLogger.Fatal("Could not connect to database after multiple retries. Exiting.")
	}
	defer db.Close()

	appLogger.Info("Running database migrations...")
	m, err := migrate.New("file://migrations/orders", config.MigrationDSN(cfg.DB))
	if err != nil {
		appLogger.Fatal("Failed to create migrate instance", zap.Error(err))
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		appLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}
	appLogger.Info("Database migrations completed.")

	amqpClient := broker.NewClient(cfg.Broker.URL, appLogger.With(zap.String("component", "Broker")))
	amqpClient.Connect()
	defer amqpClient.Close()

	orderRepository := order_postgres.NewOrderRepository(db, appLogger.With(zap.String("component", "OrderRepository")))
	outboxRepository := outbox_postgres.NewOutboxRepository(db, appLogger.With(zap.String("component", "OutboxRepository")))

	orderService := orders.NewOrderService(
		orderRepository,
		cfg.Broker.Exchange,
		appLogger.With(zap.String("component", "OrderService")),
	)
	appLogger.Info("Order Service initialized.")

	consumer := events.NewPaymentStatusConsumer(orderService, appLogger.With(zap.String("component", "PaymentStatusConsumer")))
	if err := amqpClient.Subscribe(cfg.Broker.Exchange, paymentStatusQueue, "payment.*", consumer.HandleMessage); err != nil {
		appLogger.Fatal("Failed to subscribe to payment events", zap.Error(err))
	}

	outboxProcessor := outbox.NewProcessor(
		outboxRepository,
		amqpClient,
		cfg.OutboxPollInterval,
		cfg.OutboxPollTimeout,
		appLogger.With(zap.String("component", "OutboxProcessor")),
	)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	orders_http.RegisterRoutes(router, orderService, appLogger)

	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: router,
	}

	ctxMain, cancelMain := context.WithCancel(context.Background())
	defer cancelMain()

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	go func() {
		appLogger.Info("Starting Outbox Processor...")
		outboxProcessor.Run(ctxMain)
		appLogger.Info("Outbox Processor stopped.")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLogger.Info("Shutting down application...")

	cancelMain()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	}

	appLogger.Info("Application gracefully shut down.")
}

func connectWithRetry(dbCfg database.DBConfig, logger *zap.Logger) *sql.DB {
	const maxRetries = 10
	const retryDelay = 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err := database.NewPostgresDB(dbCfg)
		if err == nil {
			logger.Info("Successfully connected to PostgreSQL database.")
			return db
		}
		logger.Warn(fmt.Sprintf("Failed to connect to database (attempt %d/%d): %v. Retrying in %s...",
			i+1, maxRetries, err, retryDelay))
		time.Sleep(retryDelay)
	}
	return nil
}
