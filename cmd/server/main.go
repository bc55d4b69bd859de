package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/adapter"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/application"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/config"
	paymentEvents "github.com/Kilat-Pet-Delivery/service-payment-sync/internal/events"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/handler"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/kafka"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/logger"
	"github.com/Kilat-Pet-Delivery/service-payment-sync/internal/repository"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const serviceName = "service-payment-sync"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.NewNamed(cfg.AppEnv, serviceName)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("starting "+serviceName,
		zap.String("port", cfg.Port),
		zap.String("billing_policy", string(cfg.SubscriptionConfig.BillingPolicy)),
	)

	// Connect to database
	dbConfig := repository.PostgresConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.DBName,
		SSLMode:  cfg.DBConfig.SSLMode,
	}

	db, err := repository.Connect(dbConfig, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to connect to database", zap.Error(err))
	}

	// Run database migrations
	if cfg.AppEnv == "development" {
		if err := db.AutoMigrate(repository.AllModels()...); err != nil {
			zapLogger.Fatal("failed to auto-migrate", zap.Error(err))
		}
		zapLogger.Info("database migration completed (dev auto-migrate)")
	} else {
		if err := repository.RunMigrations(dbConfig.DatabaseURL(), zapLogger); err != nil {
			zapLogger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	// Initialize Kafka producer
	kafkaProducer := kafka.NewProducer(cfg.KafkaConfig.Brokers, zapLogger)
	defer kafkaProducer.Close()

	// Initialize Stripe adapter
	stripeAdapter := adapter.NewStripeClient(cfg.StripeConfig.SecretKey, zapLogger)

	// Initialize repositories
	paymentRepo := repository.NewPaymentRepository(db)
	cartRepo := repository.NewCartRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	productRepo := repository.NewProductRepository(db)
	subRepo := repository.NewGormSubscriptionRepository(db)
	ledger := repository.NewEventLedger(db)

	// Initialize application services
	paymentService := application.NewPaymentService(paymentRepo, cartRepo, stripeAdapter, application.PaymentOptions{
		ProjectKey:    cfg.ProjectKey,
		ManualCapture: cfg.StripeConfig.ManualCapture,
	}, zapLogger)
	modificationService := application.NewModificationService(paymentRepo, stripeAdapter, zapLogger)
	priceService := application.NewPriceService(stripeAdapter, productRepo, zapLogger)
	subService := application.NewSubscriptionService(
		paymentService,
		priceService,
		paymentRepo,
		cartRepo,
		orderRepo,
		subRepo,
		stripeAdapter,
		application.SubscriptionOptions{
			ProjectKey:          cfg.ProjectKey,
			Settings:            cfg.SubscriptionConfig.Settings,
			BillingPolicy:       cfg.SubscriptionConfig.BillingPolicy,
			PriceSyncEnabled:    cfg.SubscriptionConfig.PriceSyncEnabled,
			MetadataRaceDelay:   cfg.SubscriptionConfig.MetadataRaceDelay,
			MetadataRaceRetries: cfg.SubscriptionConfig.MetadataRaceRetries,
		},
		zapLogger,
	)

	publisher := paymentEvents.NewOutcomePublisher(kafkaProducer, cfg.KafkaConfig.PaymentEventsTopic)
	router := application.NewEventRouter(paymentService, subService, ledger, publisher, zapLogger)

	// Initialize Kafka consumer for verified PSP events
	consumerGroupID := cfg.KafkaConfig.GroupPrefix + serviceName
	pspConsumer := paymentEvents.NewPSPEventConsumer(
		cfg.KafkaConfig.Brokers,
		consumerGroupID,
		cfg.KafkaConfig.PSPEventsTopic,
		router,
		zapLogger,
	)
	defer pspConsumer.Close()

	// Start Kafka consumer in a goroutine
	consumerCtx, consumerCancel := context.WithCancel(context.Background())
	defer consumerCancel()

	go func() {
		zapLogger.Info("starting psp event consumer")
		if err := pspConsumer.Start(consumerCtx); err != nil {
			if consumerCtx.Err() == nil {
				zapLogger.Error("psp event consumer failed", zap.Error(err))
			}
		}
	}()

	// Initialize HTTP handlers
	webhookHandler := handler.NewWebhookHandler(cfg.StripeConfig.WebhookSecret, kafkaProducer, cfg.KafkaConfig.PSPEventsTopic, zapLogger)
	paymentHandler := handler.NewPaymentHandler(paymentService, modificationService)
	subHandler := handler.NewSubscriptionHandler(subService)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Apply global middleware
	engine.Use(handler.RecoveryMiddleware(zapLogger))
	engine.Use(handler.LoggerMiddleware(zapLogger))
	engine.Use(handler.CORSMiddleware(cfg.CORSAllowedOrigins))
	engine.Use(handler.RequestIDMiddleware())
	engine.Use(handler.SecurityHeadersMiddleware())

	// Register health check and metrics routes
	healthHandler := handler.NewHealthHandler(db, serviceName)
	healthHandler.RegisterRoutes(engine)

	webhookHandler.RegisterRoutes(engine)

	apiV1 := engine.Group("/api/v1")
	paymentHandler.RegisterRoutes(apiV1)
	subHandler.RegisterRoutes(apiV1)

	// Create HTTP server
	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		zapLogger.Info("HTTP server starting", zap.String("addr", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down " + serviceName + "...")

	// Cancel Kafka consumer
	consumerCancel()

	// Shutdown HTTP server with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("server forced to shutdown", zap.Error(err))
	}

	zapLogger.Info(serviceName + " stopped")
}
