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

	"commerce-service/config"
	"commerce-service/internal/api"
	"commerce-service/internal/broker"
	"commerce-service/internal/gateway"
	"commerce-service/internal/redisclient"
	"commerce-service/internal/service"
	"commerce-service/internal/store"
	"commerce-service/internal/util"
	"commerce-service/internal/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "commerce-api"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting commerce api")

	tp, err := util.InitTracer("commerce-api", cfg.Observ.JaegerEndpoint)
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
	logger.Info("Database connected")

	if cfg.Database.Migrate {
		if err := db.Migrate(context.Background()); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
	}

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	logger.Info("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers)
	eventPublisher := broker.NewEventPublisher(producer, broker.Topics{
		Order:   cfg.Kafka.TopicOrder,
		Catalog: cfg.Kafka.TopicCatalog,
	})
	defer eventPublisher.Close()
	logger.Info("Kafka producer initialized", zap.Strings("brokers", cfg.Kafka.Brokers))

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:        cfg.Gateway.BaseURL,
		CallbackURL:    cfg.Gateway.CallbackURL,
		MerchantID:     cfg.Gateway.MerchantID,
		Timeout:        cfg.Gateway.Timeout,
		RequestsPerSec: cfg.Gateway.RequestsPerSec,
	})

	biz := cfg.Business
	pointService := service.NewPointService(db)
	stockService := service.NewStockService(db, pointService, eventPublisher, biz.ReservationTTL, biz.SweepBatchSize)
	paymentService := service.NewPaymentService(db, stockService, pointService, eventPublisher, gatewayClient,
		service.PaymentOptions{
			CallbackURL:    gatewayClient.CallbackURL(),
			ReconcileAfter: biz.PaymentReconcileAfter,
			FailAfter:      biz.PaymentFailAfter,
			BatchSize:      biz.SweepBatchSize,
		})
	orderService := service.NewOrderService(db, stockService, pointService, paymentService, service.NoCoupons{}, redisClient)
	catalogService := service.NewCatalogService(db, eventPublisher, redisClient, biz.ProductCacheTTL)
	rankingService := service.NewRankingService(redisClient, service.DefaultScorePolicy, biz.RankingTTL, biz.Location)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	sweepWorker := worker.NewSweepWorker(redisClient, stockService, paymentService, biz.SweepInterval)
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		if err := sweepWorker.Start(workerCtx); err != nil {
			logger.Error("Sweep worker error", zap.Error(err))
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	handler := api.NewHandler(api.Services{
		Orders:   orderService,
		Payments: paymentService,
		Rankings: rankingService,
		Catalog:  catalogService,
		Stock:    stockService,
		Points:   pointService,
	}, map[string]api.ReadinessCheck{
		"database": func(ctx context.Context) error { return db.GetDB().PingContext(ctx) },
		"redis":    redisClient.Ping,
	})
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Info("Starting HTTP server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	workerCancel()
	<-sweepDone

	logger.Info("Server exited")
}
