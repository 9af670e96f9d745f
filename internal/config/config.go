package config

import (
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Puzzle    PuzzleConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Trace     TraceConfig
}

type APIConfig struct {
	Addr       string
	PresignTTL time.Duration
}

type PuzzleConfig struct {
	ShareBaseURL   string
	SliceTimeout   time.Duration
	MaxSourceBytes int
	MaxTokenBytes  int
	AllowLocalFile bool
	CaptureTTL     time.Duration

	// SessionIdleTTL drops sessions nobody has touched for this long.
	SessionIdleTTL time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string

	// OutputTarget is "local" or "s3".
	OutputTarget string
	MetricsAddr  string
	ImageCacheMB int
}

type StorageConfig struct {
	Enabled   bool
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type RateLimitConfig struct {
	Enabled      bool
	Capacity     int
	Window       time.Duration
	UserIDHeader string
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type TraceConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	return Config{
		API: APIConfig{
			Addr:       env("PIXELPUZZLE_API_ADDR", ":8080"),
			PresignTTL: envDuration("PIXELPUZZLE_PRESIGN_TTL", 15*time.Minute),
		},
		Puzzle: PuzzleConfig{
			ShareBaseURL:   env("PUZZLE_SHARE_BASE_URL", "http://localhost:8080/play"),
			SliceTimeout:   envDuration("PUZZLE_SLICE_TIMEOUT", 30*time.Second),
			MaxSourceBytes: envInt("PUZZLE_MAX_SOURCE_BYTES", 25<<20),
			MaxTokenBytes:  envInt("PUZZLE_MAX_TOKEN_BYTES", 32<<20),
			AllowLocalFile: envBool("PUZZLE_ALLOW_LOCAL_FILE", true),
			CaptureTTL:     envDuration("PUZZLE_CAPTURE_TTL", 24*time.Hour),
			SessionIdleTTL: envDuration("PUZZLE_SESSION_IDLE_TTL", 2*time.Hour),
		},
		Queue: QueueConfig{
			RedisAddr:     env("REDIS_ADDR", "localhost:6379"),
			RedisPassword: env("REDIS_PASSWORD", ""),
			RedisDB:       envInt("REDIS_DB", 0),
			Name:          env("ASYNC_QUEUE", "default"),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs:  envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			LocalOutputDir: env("WORKER_LOCAL_OUTPUT_DIR", "./.pixelpuzzle-output"),
			OutputTarget:   env("WORKER_OUTPUT_TARGET", "local"),
			MetricsAddr:    env("WORKER_METRICS_ADDR", ":9091"),
			ImageCacheMB:   envInt("WORKER_IMAGE_CACHE_MB", 128),
		},
		Storage: StorageConfig{
			Enabled:   envBool("MINIO_ENABLED", true),
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "pixelpuzzle"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		RateLimit: RateLimitConfig{
			Enabled:      envBool("RATE_LIMIT_ENABLED", true),
			Capacity:     envInt("RATE_LIMIT_CAPACITY", 600),
			Window:       envDuration("RATE_LIMIT_WINDOW", time.Minute),
			UserIDHeader: env("RATE_LIMIT_USER_HEADER", "X-User-ID"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", "change-me"),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 4),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		Trace: TraceConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
	}
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
