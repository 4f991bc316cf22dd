package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/event"
	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/ledger"
	"github.com/rl1809/stock-ledger/internal/logging"
	"github.com/rl1809/stock-ledger/internal/notifier"
	"github.com/rl1809/stock-ledger/internal/port"
)

const kafkaSinkSubscriberID = "kafka-mirror"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logging.Sync(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		logger.Fatal("failed to open mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	logger.Info("connected to mysql")

	// Redis (optional duplicate-request guard)
	var guard port.IdempotencyGuard
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, PoolSize: 100})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		guard = storage.NewRedisAdapter(rdb)
		logger.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
	} else {
		logger.Info("redis not configured, duplicate-request guard disabled")
	}

	hub := notifier.New(cfg.RetainedEvents, cfg.SubscriberQueueSize, logger)
	store := storage.NewMySQLAdapter(db)
	stockLedger := ledger.New(store, guard, hub, cfg.LeaseAbandonAfter, logger)

	// Warm load before accepting mutations.
	if err := stockLedger.WarmLoad(ctx); err != nil {
		logger.Fatal("warm load failed", zap.Error(err))
	}

	// Kafka change-event mirror (optional)
	var sink *event.KafkaSink
	var sinkWG sync.WaitGroup
	if len(cfg.KafkaBrokers) > 0 {
		sink = event.NewKafkaSink(logger, cfg.KafkaBrokers, cfg.KafkaTopic)
		sinkHandle, err := hub.Attach(kafkaSinkSubscriberID, hub.CurrentSequence())
		if err != nil {
			logger.Fatal("failed to attach kafka sink", zap.Error(err))
		}
		sinkWG.Add(1)
		go func() {
			defer sinkWG.Done()
			sink.Run(ctx, sinkHandle)
		}()
		logger.Info("kafka mirror attached", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	}

	// HTTP server
	httpHandler := handler.NewHTTPHandler(stockLedger, hub, cfg.MutationTimeout, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpHandler.HealthCheck)
	mux.HandleFunc("/api/stock/mutate", httpHandler.Mutate)
	mux.HandleFunc("/api/stock", httpHandler.Catalog)
	mux.HandleFunc("/api/stock/", httpHandler.Read)
	mux.HandleFunc("/api/stream", httpHandler.Stream)

	httpServer := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("http server stopped")

	hub.Close()
	cancel()
	if sink != nil {
		sinkWG.Wait()
		sink.Close()
		logger.Info("kafka mirror stopped")
	}

	if rdb != nil {
		rdb.Close()
	}
	db.Close()
	logger.Info("connections closed")
}
