package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelpuzzle/internal/config"
	"github.com/dunamismax/pixelpuzzle/internal/pipeline"
	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
	"github.com/dunamismax/pixelpuzzle/internal/storage"
	"github.com/dunamismax/pixelpuzzle/internal/store"
	"github.com/dunamismax/pixelpuzzle/internal/telemetry"
	"github.com/dunamismax/pixelpuzzle/internal/webhook"
	"github.com/dunamismax/pixelpuzzle/internal/worker"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmsgprefix)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
		ServiceName:  "pixelpuzzle-worker",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
		SampleRatio:  cfg.Trace.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	if err := pipeline.Startup(pipeline.RuntimeConfig{CacheMemMB: cfg.Worker.ImageCacheMB}); err != nil {
		logger.Fatalf("image runtime startup failed: %v", err)
	}
	defer pipeline.Shutdown()

	codec, err := puzzle.NewCodec(puzzle.WithMaxTokenBytes(cfg.Puzzle.MaxTokenBytes))
	if err != nil {
		logger.Fatalf("share codec init failed: %v", err)
	}
	defer codec.Close()

	var storageClient *storage.Client
	if cfg.Storage.Enabled {
		storageClient, err = storage.NewClient(storage.Config{
			Endpoint: cfg.Storage.Endpoint,
			Access:   cfg.Storage.AccessKey,
			Secret:   cfg.Storage.SecretKey,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatalf("storage client init failed: %v", err)
		}
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Queue.RedisAddr,
		Password: cfg.Queue.RedisPassword,
		DB:       cfg.Queue.RedisDB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Printf("redis client close error: %v", err)
		}
	}()
	captureStore, err := store.NewRedisCaptureStore(redisClient, "pixelpuzzle:capture", cfg.Puzzle.CaptureTTL)
	if err != nil {
		logger.Fatalf("capture store init failed: %v", err)
	}

	webhookClient := webhook.NewClient(webhook.Config{
		SigningSecret:  cfg.Webhook.SigningSecret,
		Timeout:        cfg.Webhook.Timeout,
		MaxAttempts:    cfg.Webhook.MaxAttempts,
		InitialBackoff: cfg.Webhook.InitialBackoff,
		MaxBackoff:     cfg.Webhook.MaxBackoff,
	})

	logger.Printf(
		"starting worker concurrency=%d max_active_jobs=%d queue=%s redis=%s output=%s backend=%s",
		cfg.Worker.Concurrency,
		cfg.Worker.MaxActiveJobs,
		cfg.Queue.Name,
		cfg.Queue.RedisAddr,
		cfg.Worker.OutputTarget,
		pipeline.Backend(),
	)

	srv, err := worker.NewServer(logger, cfg.Queue, cfg.Worker, codec, storageClient, webhookClient, captureStore)
	if err != nil {
		logger.Fatalf("worker init failed: %v", err)
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening on %s", cfg.Worker.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server failed: %v", err)
		}
	}()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		<-stop
		logger.Println("shutting down")
		srv.Shutdown()
	}()

	if err := srv.Run(); err != nil {
		logger.Printf("worker stopped: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Printf("metrics shutdown failed: %v", err)
	}
	if err := shutdownTracing(ctx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}
