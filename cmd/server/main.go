package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkout-service/config"
	"checkout-service/internal/api"
	"checkout-service/internal/broker"
	"checkout-service/internal/inventory"
	"checkout-service/internal/payment"
	"checkout-service/internal/reservation"
	"checkout-service/internal/service"
	"checkout-service/internal/store"
	"checkout-service/internal/util"
	"checkout-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting checkout service")

	tp, err := util.InitTracer("checkout-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	reservationStore, err := reservation.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer reservationStore.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)

	inventoryClient := inventory.NewHTTPClient(
		cfg.Inventory.BaseURL,
		time.Duration(cfg.Inventory.TimeoutSeconds)*time.Second,
	)

	gateway, err := buildGateway(cfg)
	if err != nil {
		log.Fatalf("Failed to configure payment gateway: %v", err)
	}

	window := time.Duration(cfg.Reservation.WindowSeconds) * time.Second
	reservations := reservation.NewManager(inventoryClient, reservationStore, window)
	defer reservations.Stop()

	if cfg.Reservation.RecoverOnStart {
		recoverCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := reservations.Recover(recoverCtx); err != nil {
			log.Printf("Reservation recovery sweep failed: %v", err)
		}
		cancel()
	}

	stateMachine := service.NewStateMachine(db, eventPublisher)
	processor := service.NewProcessor(db, stateMachine, reservations, gateway, eventPublisher)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
	checkoutWorker := worker.NewCheckoutWorker(consumer, processor)
	go func() {
		if err := checkoutWorker.Start(workerCtx); err != nil {
			log.Printf("Checkout worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(processor, eventPublisher)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	checkoutWorker.Stop()

	log.Println("Server exited")
}

// buildGateway selects the payment backend. Callers everywhere else hold
// only the Gateway interface.
func buildGateway(cfg *config.Config) (payment.Gateway, error) {
	switch cfg.Payment.Provider {
	case "mock":
		threshold, err := decimal.NewFromString(cfg.Payment.MockThreshold)
		if err != nil {
			return nil, fmt.Errorf("invalid mock threshold %q: %w", cfg.Payment.MockThreshold, err)
		}
		latency := time.Duration(cfg.Payment.MockLatencyMS) * time.Millisecond
		return payment.NewMockGateway(threshold, latency), nil

	case "http":
		timeout := time.Duration(cfg.Payment.TimeoutSeconds) * time.Second
		return payment.NewHTTPGateway(cfg.Payment.BaseURL, timeout), nil

	default:
		return nil, fmt.Errorf("unknown payment provider: %s", cfg.Payment.Provider)
	}
}
