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

	"pos-engine/config"
	"pos-engine/internal/api"
	"pos-engine/internal/broker"
	"pos-engine/internal/catalog"
	"pos-engine/internal/clock"
	"pos-engine/internal/kvstore"
	"pos-engine/internal/ledger"
	"pos-engine/internal/notify"
	"pos-engine/internal/orders"
	"pos-engine/internal/sequence"
	"pos-engine/internal/syncer"
	"pos-engine/internal/util"
	"pos-engine/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting pos engine")

	tp, err := util.InitTracer("pos-engine", cfg.Observ.JaegerEndpoint)
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

	store, err := kvstore.NewSQLite(cfg.Store.SQLitePath)
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer store.Close()
	log.Println("Local store opened")

	var notifier notify.Notifier = notify.NewNoop()
	if cfg.Redis.Enabled {
		redisNotifier, err := notify.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			// The engine stays correct without cross-actor wakeups, just
			// with wider race windows.
			log.Printf("Redis notifier unavailable, running without broadcasts: %v", err)
		} else {
			notifier = redisNotifier
			defer redisNotifier.Close()
			log.Println("Redis notifier connected")
		}
	}

	var publisher *broker.EventPublisher
	if cfg.Kafka.Enabled {
		producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
		defer producer.Close()
		publisher = broker.NewEventPublisher(producer)
		log.Println("Kafka producer initialized")
	}

	clk := clock.NewSystem()
	cat := catalog.NewKVCatalog(store)
	ldg := ledger.New(store, cat, clk, ledger.WithCartTTL(cfg.Engine.CartTTL))
	seq := sequence.New(store, notifier, clk, cfg.Engine.ActorID,
		sequence.WithRetryBudget(cfg.Engine.RetryBudget))

	var events orders.EventSink
	if publisher != nil {
		events = publisher
	}
	machine := orders.NewMachine(store, ldg, seq, cat, events, clk, cfg.Engine.ActorID)

	gateway := syncer.NewHTTPGateway(cfg.Remote.BaseURL, cfg.Remote.Timeout)
	sync := syncer.New(store, gateway, machine)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	syncWorker := worker.NewSyncWorker(sync, ldg, publisher, cfg.Engine.SyncInterval, cfg.Engine.ActorID)
	go func() {
		if err := syncWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Sync worker error: %v", err)
		}
	}()

	var kitchenWorker *worker.KitchenWorker
	if cfg.Kafka.Enabled {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder, cfg.Kafka.ConsumerGroup)
		kitchenWorker = worker.NewKitchenWorker(consumer)
		go func() {
			if err := kitchenWorker.Start(workerCtx); err != nil && err != context.Canceled {
				log.Printf("Kitchen worker error: %v", err)
			}
		}()
	}

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(sync, machine, ldg)
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
	if kitchenWorker != nil {
		kitchenWorker.Stop()
	}

	log.Println("Server exited")
}
