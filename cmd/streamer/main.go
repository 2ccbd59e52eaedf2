package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"commerce-service/config"
	"commerce-service/internal/broker"
	"commerce-service/internal/redisclient"
	"commerce-service/internal/service"
	"commerce-service/internal/store"
	"commerce-service/internal/util"
	"commerce-service/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env, "commerce-streamer"); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting commerce streamer")

	tp, err := util.InitTracer("commerce-streamer", cfg.Observ.JaegerEndpoint)
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

	topics := broker.Topics{Order: cfg.Kafka.TopicOrder, Catalog: cfg.Kafka.TopicCatalog}
	biz := cfg.Business

	guard := service.NewIdempotencyService(db)
	ranking := service.NewRankingService(redisClient, service.DefaultScorePolicy, biz.RankingTTL, biz.Location)
	metrics := service.NewMetricsService(db, biz.Location)
	audit := service.NewAuditService()

	newWorker := func(group string, handler *broker.EventHandler) *worker.ConsumerWorker {
		consumers := make([]*broker.Consumer, 0, cfg.Kafka.ConsumerConcurrency)
		for i := 0; i < cfg.Kafka.ConsumerConcurrency; i++ {
			consumers = append(consumers, broker.NewConsumer(cfg.Kafka.Brokers, topics.All(), group))
		}
		return worker.NewConsumerWorker(group, consumers, handler)
	}
	workers := []*worker.ConsumerWorker{
		newWorker(worker.GroupRanking, worker.NewRankingHandler(guard, ranking)),
		newWorker(worker.GroupMetrics, worker.NewMetricsHandler(guard, metrics)),
		newWorker(worker.GroupAudit, worker.NewAuditHandler(guard, audit)),
	}

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Observ.PrometheusPort),
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("Serving metrics", zap.String("port", cfg.Observ.PrometheusPort))
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		g.Go(func() error {
			if err := w.Start(gctx); err != nil {
				return fmt.Errorf("%s: %w", w.Group(), err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("Consumer worker stopped", zap.Error(err))
	}
	logger.Info("Shutting down streamer...")

	for _, w := range workers {
		if err := w.Stop(); err != nil {
			logger.Warn("Error closing consumer", zap.String("group", w.Group()), zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Metrics server forced to shutdown", zap.Error(err))
	}

	logger.Info("Streamer exited")
}
