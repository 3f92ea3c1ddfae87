package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"hostdeck.app/internal/adapters/docker"
	http_handler "hostdeck.app/internal/adapters/handler/http"
	mqtt_mirror "hostdeck.app/internal/adapters/mirror/mqtt"
	redis_mirror "hostdeck.app/internal/adapters/mirror/redis"
	"hostdeck.app/internal/adapters/repository/pg"
	"hostdeck.app/internal/config"
	"hostdeck.app/internal/core/broker"
	"hostdeck.app/internal/core/domain"
	"hostdeck.app/internal/core/logger"
	"hostdeck.app/internal/core/ports"
	"hostdeck.app/internal/core/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Initialize structured logger
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	logger.Info("Starting HostDeck Server", "version", "0.1.0")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize adapters
	opRepo, db, err := pg.NewRepository(cfg.DatabaseURL)
	if err != nil {
		logger.Error("Failed to init postgres", "error", err)
		log.Fatalf("failed to init postgres: %v", err)
	}

	var mirrors []ports.EventMirror

	// Cross-worker event relay, needed when several server processes sit
	// behind one load balancer. Single-worker deployments leave REDIS_URL
	// empty and the relay off.
	var relay *redis_mirror.Mirror
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		relay, redisClient, err = redis_mirror.NewMirror(cfg.RedisURL)
		if err != nil {
			logger.Error("Failed to init redis relay", "error", err)
			log.Fatalf("failed to init redis relay: %v", err)
		}
		mirrors = append(mirrors, relay)
	}

	// Outbound MQTT mirror for external dashboards.
	if cfg.MQTTBroker != "" {
		publisher, err := mqtt_mirror.NewPublisher(cfg.MQTTBroker)
		if err != nil {
			logger.Error("Failed to init MQTT mirror", "error", err)
		} else {
			mirrors = append(mirrors, publisher)
			defer publisher.Close()
		}
	}

	b := broker.New(mirrors...)
	if relay != nil {
		go relay.Run(ctx, b)
	}

	prober, err := docker.NewProber()
	if err != nil {
		logger.Error("Failed to init docker client", "error", err)
		log.Fatalf("failed to init docker client: %v", err)
	}
	builder := docker.NewBuilder()

	// Initialize domain services
	streams := services.NewStreamManager(b, builder, prober)
	coordinator := services.NewCoordinator(opRepo, b, cfg.OperationTimeout)
	execBridge := services.NewExecBridge(b, builder, cfg.ExecTimeout)
	fileBridge := services.NewFileBridge(b, builder, cfg.ExecTimeout)
	healthService := services.NewHealthService(db, redisClient, "0.1.0")

	// Metric hooks
	if cfg.EnableMetrics {
		b.OnPublish = func(kind domain.EventKind) { http_handler.RecordEventPublished(string(kind)) }
		b.OnDrop = func(string) { http_handler.RecordEventDropped() }
		streams.OnSessionCount = http_handler.SetActiveSessions
		coordinator.OnFinished = func(status domain.OperationStatus, d time.Duration) {
			http_handler.RecordOperationFinished(string(status), d)
		}
	}

	// Reconciliation sweep for lost log sessions
	go streams.RunSweeper(ctx, cfg.SweepInterval)

	// Initialize HTTP handlers
	hub := http_handler.NewHub(b, streams, execBridge, fileBridge)
	httpServer := http_handler.NewServer(b, streams, coordinator, prober, builder, healthService, hub, cfg.ComposeDir)

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutting down gracefully...")
		cancel()
		os.Exit(0)
	}()

	logger.Info("HTTP Server starting", "port", cfg.HTTPPort)
	if err := httpServer.Run(":" + cfg.HTTPPort); err != nil {
		logger.Error("HTTP server failed", "error", err)
		log.Fatalf("failed to serve http: %v", err)
	}
}
