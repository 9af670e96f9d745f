package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelpuzzle/internal/config"
	"github.com/dunamismax/pixelpuzzle/internal/domain"
	"github.com/dunamismax/pixelpuzzle/internal/pipeline"
	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
	"github.com/dunamismax/pixelpuzzle/internal/queue"
	"github.com/dunamismax/pixelpuzzle/internal/storage"
	"github.com/dunamismax/pixelpuzzle/internal/store"
	"github.com/dunamismax/pixelpuzzle/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	processor     capturer
	webhookClient webhookSender
	captureStore  store.CaptureStore
	metrics       *metrics
	tracer        trace.Tracer
}

type capturer interface {
	Capture(ctx context.Context, req pipeline.CaptureRequest) (pipeline.Result, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	codec *puzzle.Codec,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	captureStore store.CaptureStore,
) (*Server, error) {
	processor, err := newProcessor(workerCfg, codec, storageClient)
	if err != nil {
		return nil, err
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:          make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		processor:    processor,
		captureStore: captureStore,
		metrics:      newMetrics(),
		tracer:       otel.Tracer("pixelpuzzle/worker"),
	}
	if webhookClient != nil {
		s.webhookClient = webhookClient
	}
	return s, nil
}

func newProcessor(workerCfg config.WorkerConfig, codec *puzzle.Codec, storageClient *storage.Client) (*pipeline.Processor, error) {
	switch strings.ToLower(strings.TrimSpace(workerCfg.OutputTarget)) {
	case "s3":
		if storageClient == nil {
			return nil, fmt.Errorf("output target s3 requires a storage client")
		}
		processor, err := pipeline.NewObjectStoreProcessor(codec, pipeline.ObjectStoreEmitter{Storage: storageClient, OutputPrefix: "captures"})
		if err != nil {
			return nil, fmt.Errorf("initialize object-store processor: %w", err)
		}
		return processor, nil
	case "", "local":
		processor, err := pipeline.NewLocalProcessor(codec, workerCfg.LocalOutputDir)
		if err != nil {
			return nil, fmt.Errorf("initialize capture processor: %w", err)
		}
		return processor, nil
	default:
		return nil, fmt.Errorf("unsupported output target: %s", workerCfg.OutputTarget)
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeCapturePuzzle, s.handleCapture)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleCapture(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.CaptureStatusFailed

	payload, err := queue.ParseCapturePuzzlePayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	format := outputFormatLabel(payload.Format)

	ctx, span := s.tracer.Start(ctx, "worker.capture_puzzle", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("capture.id", payload.JobID),
		attribute.String("puzzle.session_id", payload.SessionID),
		attribute.String("capture.format", format),
		attribute.Int("capture.token_bytes", len(payload.Token)),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(format, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(format, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf("Working... capture_id=%s session_id=%s format=%s", payload.JobID, payload.SessionID, format)
	s.updateStatus(ctx, payload.JobID, domain.CaptureStatusProcessing)

	result, err := s.processor.Capture(ctx, pipeline.CaptureRequest{
		JobID:      payload.JobID,
		Token:      payload.Token,
		Format:     payload.Format,
		Quality:    payload.Quality,
		Caption:    payload.Caption,
		Background: payload.Background,
		Guide:      payload.Guide,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")

		permanent := errors.Is(err, pipeline.ErrInvalidToken)
		if !permanent && !finalAttempt(ctx) {
			return fmt.Errorf("capture: %w", err)
		}

		s.failCapture(ctx, payload.JobID, err)
		if webhookErr := s.dispatchWebhook(ctx, payload, webhook.EventCaptureFailed, map[string]any{
			"capture_id":   payload.JobID,
			"session_id":   payload.SessionID,
			"status":       domain.CaptureStatusFailed,
			"requested_at": payload.RequestedAt,
			"failed_at":    time.Now().UTC(),
			"error":        err.Error(),
		}); webhookErr != nil {
			span.RecordError(webhookErr)
		}
		if permanent {
			return fmt.Errorf("capture: %v: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("capture: %w", err)
	}

	output := domain.CaptureOutput{
		Path:   result.Output.Path,
		Format: result.Output.Format,
		Bytes:  result.Output.Bytes,
		Width:  result.Output.Width,
		Height: result.Output.Height,
		Solved: result.Solved,
	}
	s.logger.Printf("Captured capture_id=%s pieces=%d bytes=%d solved=%t path=%s", payload.JobID, result.Pieces, output.Bytes, output.Solved, output.Path)
	if s.captureStore != nil {
		if _, err := s.captureStore.Complete(ctx, payload.JobID, output); err != nil {
			s.logger.Printf("capture status update failed capture_id=%s err=%v", payload.JobID, err)
		}
	}
	s.metrics.captureBytesTotal.Add(float64(output.Bytes))
	s.metrics.capturePixelsTotal.Add(float64(output.Width * output.Height))
	if output.Solved {
		s.metrics.solvedCaptures.Inc()
	}

	if err := s.dispatchWebhook(ctx, payload, webhook.EventCaptureCompleted, map[string]any{
		"capture_id":   payload.JobID,
		"session_id":   payload.SessionID,
		"status":       domain.CaptureStatusSucceeded,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"output":       output,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.CaptureStatusSucceeded
	span.SetStatus(codes.Ok, "captured")
	return nil
}

// finalAttempt reports whether asynq will not retry this task again. Outside
// an asynq handler every attempt is final.
func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

func (s *Server) updateStatus(ctx context.Context, captureID, status string) {
	if s.captureStore == nil {
		return
	}
	if _, err := s.captureStore.UpdateStatus(ctx, captureID, status); err != nil {
		s.logger.Printf("capture status update failed capture_id=%s status=%s err=%v", captureID, status, err)
	}
}

func (s *Server) failCapture(ctx context.Context, captureID string, cause error) {
	if s.captureStore == nil {
		return
	}
	if _, err := s.captureStore.Fail(ctx, captureID, cause.Error()); err != nil {
		s.logger.Printf("capture status update failed capture_id=%s status=failed err=%v", captureID, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.CapturePuzzlePayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed capture_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func outputFormatLabel(format string) string {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "jpg", "jpeg":
		return "jpeg"
	case "webp":
		return "webp"
	default:
		return "png"
	}
}
