package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelpuzzle/internal/domain"
	"github.com/dunamismax/pixelpuzzle/internal/id"
	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
	"github.com/dunamismax/pixelpuzzle/internal/webhook"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	uploadID := id.New("up")
	objectKey := fmt.Sprintf("uploads/%s/source", uploadID)

	url, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
	if err != nil {
		s.logger.Printf("generate presigned url failed upload_id=%s err=%v", uploadID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"upload_id":         uploadID,
		"object_key":        objectKey,
		"source":            "s3://" + objectKey,
		"presigned_put_url": url,
		"expires_at":        time.Now().UTC().Add(s.presignTTL),
	})
}

func (s *Server) handleCreatePuzzle(w http.ResponseWriter, r *http.Request) {
	var req domain.CreatePuzzleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	source := strings.TrimSpace(req.Source)
	if status, err := s.verifySource(r.Context(), source); err != nil {
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	session, gen, err := s.openSession(r.Context(), req.PuzzleConfig(), req.PuzzleMode(), req.WebhookURL, source)
	if err != nil {
		s.logger.Printf("create puzzle failed err=%v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create puzzle"})
		return
	}
	s.startSlice(session.ID(), gen, source, session.Config())

	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": session.ID(),
		"status":     puzzle.StatusLoading,
		"config":     session.Config(),
		"links":      sessionLinks(session.ID()),
	})
}

// handleOpenPuzzle launches a puzzle from link parameters. A decodable
// puzzleData token wins; otherwise the legacy config parameter (or the
// default config) is sliced from the source parameter.
func (s *Server) handleOpenPuzzle(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	launch := puzzle.ParseLaunch(query, s.codec)
	if launch.SharedRejected != nil {
		s.metrics.shareDecodeFailures.Inc()
		s.logger.Printf("share token rejected, falling back to config err=%v", launch.SharedRejected)
	}
	webhookURL := strings.TrimSpace(query.Get("webhook_url"))
	if err := (domain.CreatePuzzleRequest{Source: "-", WebhookURL: webhookURL}).Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if launch.Shared != nil {
		session := s.newSession(launch.Shared.Config, launch.Shared.Mode, webhookURL)
		session.Restore(*launch.Shared)
		if err := s.sessions.Create(r.Context(), session); err != nil {
			s.logger.Printf("restore puzzle failed err=%v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to open puzzle"})
			return
		}
		s.logger.Printf("puzzle restored session_id=%s pieces=%d shared_at=%d", session.ID(), len(launch.Shared.Pieces), launch.Shared.Timestamp)
		writeJSON(w, http.StatusCreated, map[string]any{
			"session_id": session.ID(),
			"restored":   true,
			"puzzle":     session.Snapshot(),
			"links":      sessionLinks(session.ID()),
		})
		return
	}

	source := strings.TrimSpace(query.Get("source"))
	if source == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":          "source is required unless puzzleData holds a shared puzzle",
			"share_rejected": launch.SharedRejected != nil,
		})
		return
	}
	if status, err := s.verifySource(r.Context(), source); err != nil {
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	cfg := puzzle.DefaultConfig()
	if launch.Config != nil {
		cfg = *launch.Config
	}
	mode, err := puzzle.ParseMode(query.Get("mode"))
	if err != nil {
		mode = puzzle.ModeDrag
	}

	session, gen, err := s.openSession(r.Context(), cfg, mode, webhookURL, source)
	if err != nil {
		s.logger.Printf("open puzzle failed err=%v", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to open puzzle"})
		return
	}
	s.startSlice(session.ID(), gen, source, cfg)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id":     session.ID(),
		"status":         puzzle.StatusLoading,
		"restored":       false,
		"share_rejected": launch.SharedRejected != nil,
		"config":         cfg,
		"links":          sessionLinks(session.ID()),
	})
}

func (s *Server) handleGetPuzzle(w http.ResponseWriter, r *http.Request) {
	s.respondWithSnapshot(w, r, func(*puzzle.Session) error { return nil })
}

func (s *Server) handleDeletePuzzle(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeJSON(w, statusForSessionError(err), map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePointer(w http.ResponseWriter, r *http.Request) {
	var event domain.PointerEvent
	if err := decodeJSON(r, &event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := event.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.respondWithSnapshot(w, r, func(session *puzzle.Session) error {
		switch strings.ToLower(strings.TrimSpace(event.Type)) {
		case domain.PointerDown:
			session.PointerDown(event.PieceID, event.X, event.Y)
		case domain.PointerMove:
			session.PointerMove(event.X, event.Y)
		case domain.PointerUp:
			session.PointerUp()
		case domain.PointerLeave:
			session.PointerLeave()
		}
		return nil
	})
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var event domain.ClickEvent
	if err := decodeJSON(r, &event); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.respondWithSnapshot(w, r, func(session *puzzle.Session) error {
		session.Click(event.PieceID)
		return nil
	})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req domain.ModeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	mode, err := puzzle.ParseMode(req.Mode)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	s.respondWithSnapshot(w, r, func(session *puzzle.Session) error {
		session.SetMode(mode)
		return nil
	})
}

func (s *Server) handleReconfigure(w http.ResponseWriter, r *http.Request) {
	var cfg puzzle.Config
	if err := decodeJSON(r, &cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := cfg.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var (
		gen    uint64
		source string
	)
	err := s.sessions.Update(r.Context(), r.PathValue("id"), func(session *puzzle.Session) error {
		var err error
		gen, err = session.Reconfigure(cfg)
		source = session.Source()
		return err
	})
	if err != nil {
		writeJSON(w, statusForSessionError(err), map[string]string{"error": err.Error()})
		return
	}
	s.startSlice(r.PathValue("id"), gen, source, cfg)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"session_id": r.PathValue("id"),
		"status":     puzzle.StatusLoading,
		"config":     cfg,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var (
		gen        uint64
		needsSlice bool
		source     string
		cfg        puzzle.Config
	)
	err := s.sessions.Update(r.Context(), r.PathValue("id"), func(session *puzzle.Session) error {
		var err error
		gen, needsSlice, err = session.Reset(s.slicer)
		source = session.Source()
		cfg = session.Config()
		return err
	})
	if err != nil {
		writeJSON(w, statusForSessionError(err), map[string]string{"error": err.Error()})
		return
	}

	if needsSlice {
		s.startSlice(r.PathValue("id"), gen, source, cfg)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"session_id": r.PathValue("id"),
			"status":     puzzle.StatusLoading,
		})
		return
	}
	s.respondWithSnapshot(w, r, func(*puzzle.Session) error { return nil })
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	var token string
	err := s.sessions.Update(r.Context(), r.PathValue("id"), func(session *puzzle.Session) error {
		var err error
		token, err = session.Share(s.codec)
		return err
	})
	if err != nil {
		writeJSON(w, statusForSessionError(err), map[string]string{"error": err.Error()})
		return
	}
	s.metrics.shareTokenBytes.Observe(float64(len(token)))

	body := map[string]any{
		"session_id": r.PathValue("id"),
		"token":      token,
		"param":      puzzle.ParamPuzzleData,
	}
	if s.shareBaseURL != "" {
		shareURL, err := puzzle.ShareURL(s.shareBaseURL, token)
		if err != nil {
			s.logger.Printf("build share url failed base=%s err=%v", s.shareBaseURL, err)
		} else {
			body["url"] = shareURL
		}
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) respondWithSnapshot(w http.ResponseWriter, r *http.Request, fn func(*puzzle.Session) error) {
	var snapshot puzzle.Snapshot
	err := s.sessions.Update(r.Context(), r.PathValue("id"), func(session *puzzle.Session) error {
		if err := fn(session); err != nil {
			return err
		}
		snapshot = session.Snapshot()
		return nil
	})
	if err != nil {
		writeJSON(w, statusForSessionError(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) newSession(cfg puzzle.Config, mode puzzle.Mode, webhookURL string) *puzzle.Session {
	return puzzle.NewSession(id.New("pz"), cfg, mode, puzzle.WithSolvedHook(func(snap puzzle.Snapshot) {
		s.announceSolved(snap, webhookURL)
	}))
}

func (s *Server) openSession(ctx context.Context, cfg puzzle.Config, mode puzzle.Mode, webhookURL, source string) (*puzzle.Session, uint64, error) {
	session := s.newSession(cfg, mode, webhookURL)
	gen, err := session.BeginLoad(source, cfg)
	if err != nil {
		return nil, 0, err
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, 0, err
	}
	return session, gen, nil
}

// startSlice slices in the background and hands the result to the session.
// Results for a superseded generation or a deleted session are released.
func (s *Server) startSlice(sessionID string, gen uint64, source string, cfg puzzle.Config) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(s.baseCtx, s.sliceTimeout)
		defer cancel()

		ctx, span := s.tracer.Start(ctx, "puzzle.slice", trace.WithAttributes(
			attribute.String("puzzle.session_id", sessionID),
			attribute.Int("puzzle.rows", cfg.Rows),
			attribute.Int("puzzle.columns", cfg.Columns),
			attribute.Int64("puzzle.generation", int64(gen)),
		))
		defer span.End()

		startedAt := time.Now()
		set, sliceErr := s.slice(ctx, source, cfg)
		outcome := "ready"
		if sliceErr != nil {
			outcome = "failed"
			span.RecordError(sliceErr)
			span.SetStatus(codes.Error, "slice failed")
		}

		err := s.sessions.Update(context.WithoutCancel(ctx), sessionID, func(session *puzzle.Session) error {
			return session.ApplySlice(gen, set, sliceErr)
		})
		switch {
		case errors.Is(err, puzzle.ErrStaleSlice):
			outcome = "stale"
		case err != nil && sliceErr == nil:
			outcome = "dropped"
			set.Release()
		}

		s.metrics.slicesTotal.WithLabelValues(outcome).Inc()
		s.metrics.sliceDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		if sliceErr != nil {
			s.logger.Printf("slice failed session_id=%s generation=%d source=%s err=%v", sessionID, gen, redactSource(source), sliceErr)
			return
		}
		s.logger.Printf("slice %s session_id=%s generation=%d rows=%d columns=%d", outcome, sessionID, gen, cfg.Rows, cfg.Columns)
	}()
}

func (s *Server) slice(ctx context.Context, source string, cfg puzzle.Config) (set *puzzle.PieceSet, err error) {
	defer func() {
		if r := recover(); r != nil {
			set, err = nil, fmt.Errorf("slice panicked: %v", r)
		}
	}()
	return s.slicer.Slice(ctx, source, cfg)
}

func (s *Server) announceSolved(snap puzzle.Snapshot, webhookURL string) {
	s.metrics.puzzlesSolved.Inc()

	record := domain.SolveRecord{
		SessionID: snap.ID,
		Rows:      snap.Config.Rows,
		Columns:   snap.Config.Columns,
		Moves:     snap.Moves,
	}
	if snap.SolvedAt != nil {
		record.SolvedAt = *snap.SolvedAt
		record.ElapsedMS = snap.SolvedAt.Sub(snap.CreatedAt).Milliseconds()
	}
	s.logger.Printf("puzzle solved session_id=%s moves=%d elapsed_ms=%d", record.SessionID, record.Moves, record.ElapsedMS)

	if webhookURL == "" || s.webhookClient == nil {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if err := s.webhookClient.Send(s.baseCtx, webhookURL, webhook.EventPuzzleSolved, record); err != nil {
			s.logger.Printf("webhook delivery failed session_id=%s event=%s err=%v", record.SessionID, webhook.EventPuzzleSolved, err)
		}
	}()
}

func sessionLinks(sessionID string) map[string]string {
	base := "/v1/puzzles/" + sessionID
	return map[string]string{
		"self":     base,
		"pointer":  base + "/pointer",
		"click":    base + "/click",
		"share":    base + "/share",
		"captures": base + "/captures",
	}
}

// redactSource keeps inline image payloads out of the logs.
func redactSource(source string) string {
	if strings.HasPrefix(source, "data:") {
		if i := strings.IndexByte(source, ','); i >= 0 {
			return source[:i] + ",..."
		}
		return "data:..."
	}
	return source
}
