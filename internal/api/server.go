package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/dunamismax/pixelpuzzle/internal/domain"
	"github.com/dunamismax/pixelpuzzle/internal/pipeline"
	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
	"github.com/dunamismax/pixelpuzzle/internal/queue"
	"github.com/dunamismax/pixelpuzzle/internal/store"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger                *log.Logger
	sessions              store.SessionStore
	captures              store.CaptureStore
	queueClient           queueEnqueuer
	storage               objectStorage
	slicer                *puzzle.Slicer
	codec                 *puzzle.Codec
	webhookClient         webhookSender
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	tracer                trace.Tracer
	metrics               *metrics
	shareBaseURL          string
	sliceTimeout          time.Duration
	presignTTL            time.Duration
	allowLocalFile        bool
	mux                   *http.ServeMux

	baseCtx    context.Context
	cancelBase context.CancelFunc
	background sync.WaitGroup
}

type queueEnqueuer interface {
	EnqueueCapture(ctx context.Context, payload queue.CapturePuzzlePayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type Options struct {
	Logger   *log.Logger
	Sessions store.SessionStore
	Captures store.CaptureStore
	Queue    queueEnqueuer
	Storage  objectStorage
	Slicer   *puzzle.Slicer
	Codec    *puzzle.Codec
	Webhooks webhookSender

	RateLimiter           RateLimiter
	RateLimitUserIDHeader string
	Tracer                trace.Tracer

	ShareBaseURL   string
	SliceTimeout   time.Duration
	PresignTTL     time.Duration
	AllowLocalFile bool
}

func NewServer(opts Options) (*Server, error) {
	if opts.Sessions == nil || opts.Captures == nil {
		return nil, errors.New("session and capture stores are required")
	}
	if opts.Slicer == nil || opts.Codec == nil {
		return nil, errors.New("slicer and codec are required")
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard, "", 0)
	}
	if opts.SliceTimeout <= 0 {
		opts.SliceTimeout = 30 * time.Second
	}
	if opts.PresignTTL <= 0 {
		opts.PresignTTL = 15 * time.Minute
	}
	if opts.Storage == nil {
		opts.Storage = unavailableObjectStorage{}
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("pixelpuzzle/api")
	}
	if opts.RateLimitUserIDHeader == "" {
		opts.RateLimitUserIDHeader = "X-User-ID"
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		logger:                opts.Logger,
		sessions:              opts.Sessions,
		captures:              opts.Captures,
		queueClient:           opts.Queue,
		storage:               opts.Storage,
		slicer:                opts.Slicer,
		codec:                 opts.Codec,
		webhookClient:         opts.Webhooks,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: opts.RateLimitUserIDHeader,
		tracer:                opts.Tracer,
		metrics:               newMetrics(opts.Sessions.Len),
		shareBaseURL:          opts.ShareBaseURL,
		sliceTimeout:          opts.SliceTimeout,
		presignTTL:            opts.PresignTTL,
		allowLocalFile:        opts.AllowLocalFile,
		mux:                   http.NewServeMux(),
		baseCtx:               baseCtx,
		cancelBase:            cancel,
	}
	s.routes()
	return s, nil
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

// Close stops in-flight slicing and webhook deliveries and waits for them.
func (s *Server) Close() {
	s.cancelBase()
	s.background.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())

	s.mux.HandleFunc("POST /v1/uploads", s.handleCreateUpload)
	s.mux.HandleFunc("POST /v1/puzzles", s.handleCreatePuzzle)
	s.mux.HandleFunc("GET /v1/puzzles/open", s.handleOpenPuzzle)
	s.mux.HandleFunc("GET /v1/puzzles/{id}", s.handleGetPuzzle)
	s.mux.HandleFunc("DELETE /v1/puzzles/{id}", s.handleDeletePuzzle)
	s.mux.HandleFunc("POST /v1/puzzles/{id}/pointer", s.handlePointer)
	s.mux.HandleFunc("POST /v1/puzzles/{id}/click", s.handleClick)
	s.mux.HandleFunc("PUT /v1/puzzles/{id}/mode", s.handleSetMode)
	s.mux.HandleFunc("PUT /v1/puzzles/{id}/config", s.handleReconfigure)
	s.mux.HandleFunc("POST /v1/puzzles/{id}/reset", s.handleReset)
	s.mux.HandleFunc("GET /v1/puzzles/{id}/share", s.handleShare)
	s.mux.HandleFunc("POST /v1/puzzles/{id}/captures", s.handleCreateCapture)
	s.mux.HandleFunc("GET /v1/captures/{id}", s.handleGetCapture)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) verifySource(ctx context.Context, ref string) (int, error) {
	src, err := pipeline.ParseSourceRef(ref)
	if err != nil {
		return http.StatusBadRequest, err
	}

	switch src.Type {
	case domain.SourceTypeInline:
		return http.StatusOK, nil
	case domain.SourceTypeLocalFile:
		if !s.allowLocalFile {
			return http.StatusBadRequest, fmt.Errorf("%w: %s", pipeline.ErrUnsupportedSourceType, src.Type)
		}
		if _, err := os.Stat(src.Key); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return http.StatusConflict, fmt.Errorf("source image is missing: %s", src.Key)
			}
			return http.StatusInternalServerError, fmt.Errorf("source image check failed: %w", err)
		}
		return http.StatusOK, nil
	default:
		exists, err := s.storage.ObjectExists(ctx, src.Key)
		if err != nil {
			return http.StatusBadGateway, fmt.Errorf("source object check failed: %w", err)
		}
		if !exists {
			return http.StatusConflict, fmt.Errorf("source object is missing: %s", src.Key)
		}
		return http.StatusOK, nil
	}
}

func statusForSessionError(err error) int {
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, puzzle.ErrNoSource), errors.Is(err, puzzle.ErrNotReady):
		return http.StatusConflict
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
