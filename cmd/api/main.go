package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/pixelpuzzle/internal/api"
	"github.com/dunamismax/pixelpuzzle/internal/config"
	"github.com/dunamismax/pixelpuzzle/internal/pipeline"
	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
	"github.com/dunamismax/pixelpuzzle/internal/queue"
	"github.com/dunamismax/pixelpuzzle/internal/ratelimit"
	"github.com/dunamismax/pixelpuzzle/internal/storage"
	"github.com/dunamismax/pixelpuzzle/internal/store"
	"github.com/dunamismax/pixelpuzzle/internal/telemetry"
	"github.com/dunamismax/pixelpuzzle/internal/webhook"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	shutdownTracing, err := telemetry.SetupTracing(context.Background(), telemetry.TraceConfig{
		ServiceName:  "pixelpuzzle-api",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
		SampleRatio:  cfg.Trace.SampleRatio,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	codec, err := puzzle.NewCodec(puzzle.WithMaxTokenBytes(cfg.Puzzle.MaxTokenBytes))
	if err != nil {
		logger.Fatalf("share codec init failed: %v", err)
	}
	defer codec.Close()

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

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	captureStore, err := store.NewRedisCaptureStore(redisClient, "pixelpuzzle:capture", cfg.Puzzle.CaptureTTL)
	if err != nil {
		logger.Fatalf("capture store init failed: %v", err)
	}
	sessionStore := store.NewMemorySessionStore()
	defer sessionStore.CloseAll()

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	go sessionStore.RunSweeper(sweepCtx, cfg.Puzzle.SessionIdleTTL, sweepInterval(cfg.Puzzle.SessionIdleTTL), func(n int) {
		logger.Printf("idle sessions swept count=%d ttl=%s", n, cfg.Puzzle.SessionIdleTTL)
	})

	options := api.Options{
		Logger:         logger,
		Sessions:       sessionStore,
		Captures:       captureStore,
		Queue:          queueClient,
		Webhooks:       webhook.NewClient(webhookConfig(cfg.Webhook)),
		ShareBaseURL:   cfg.Puzzle.ShareBaseURL,
		SliceTimeout:   cfg.Puzzle.SliceTimeout,
		PresignTTL:     cfg.API.PresignTTL,
		AllowLocalFile: cfg.Puzzle.AllowLocalFile,
		Codec:          codec,

		RateLimitUserIDHeader: cfg.RateLimit.UserIDHeader,
	}

	var objectFetcher pipeline.Fetcher
	if cfg.Storage.Enabled {
		storageClient, err := storage.NewClient(storage.Config{
			Endpoint:     cfg.Storage.Endpoint,
			Access:       cfg.Storage.AccessKey,
			Secret:       cfg.Storage.SecretKey,
			Bucket:       cfg.Storage.Bucket,
			UseSSL:       cfg.Storage.UseSSL,
			MaxReadBytes: int64(cfg.Puzzle.MaxSourceBytes),
		})
		if err != nil {
			logger.Fatalf("storage client init failed: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := storageClient.EnsureBucket(ctx); err != nil {
			logger.Printf("ensure bucket failed bucket=%s err=%v", storageClient.Bucket(), err)
		}
		cancel()
		options.Storage = storageClient
		objectFetcher = pipeline.ObjectStoreFetcher{Storage: storageClient}
	}
	options.Slicer = puzzle.NewSlicer(pipeline.NewSourceLoader(cfg.Puzzle.MaxSourceBytes, objectFetcher))

	if cfg.RateLimit.Enabled {
		limiter, err := ratelimit.NewRedisTokenBucket(redisClient, cfg.RateLimit.Capacity, cfg.RateLimit.Window, "")
		if err != nil {
			logger.Fatalf("rate limiter init failed: %v", err)
		}
		options.RateLimiter = limiter
	}

	app, err := api.NewServer(options)
	if err != nil {
		logger.Fatalf("api init failed: %v", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.API.Addr,
		Handler:      app.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s storage=%t rate_limit=%t", cfg.API.Addr, cfg.Storage.Enabled, cfg.RateLimit.Enabled)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	app.Close()
	if err := shutdownTracing(ctx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}

// sweepInterval checks for idle sessions a few times per TTL, at most once a minute.
func sweepInterval(ttl time.Duration) time.Duration {
	return max(ttl/4, time.Minute)
}

func webhookConfig(cfg config.WebhookConfig) webhook.Config {
	return webhook.Config{
		SigningSecret:  cfg.SigningSecret,
		Timeout:        cfg.Timeout,
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}
