package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/pixelpuzzle/internal/domain"
	"github.com/dunamismax/pixelpuzzle/internal/id"
	"github.com/dunamismax/pixelpuzzle/internal/pipeline"
	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
	"github.com/dunamismax/pixelpuzzle/internal/queue"
)

func (s *Server) handleCreateCapture(w http.ResponseWriter, r *http.Request) {
	if s.queueClient == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "capture queue is unavailable"})
		return
	}

	var req domain.CreateCaptureRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, err := pipeline.ParseBackground(req.Background); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	sessionID := r.PathValue("id")
	var token string
	err := s.sessions.Update(r.Context(), sessionID, func(session *puzzle.Session) error {
		var err error
		token, err = session.Share(s.codec)
		return err
	})
	if err != nil {
		writeJSON(w, statusForSessionError(err), map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	job := domain.CaptureJob{
		ID:         id.New("cap"),
		SessionID:  sessionID,
		Status:     domain.CaptureStatusQueued,
		Format:     strings.ToLower(strings.TrimSpace(req.Format)),
		WebhookURL: req.WebhookURL,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if job.Format == "" {
		job.Format = "png"
	}
	if err := s.captures.Create(r.Context(), job); err != nil {
		s.logger.Printf("create capture failed capture_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create capture"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueCapture(r.Context(), queue.CapturePuzzlePayload{
		JobID:       job.ID,
		SessionID:   sessionID,
		Token:       token,
		Format:      job.Format,
		Quality:     req.Quality,
		Caption:     req.Caption,
		Background:  req.Background,
		Guide:       req.Guide,
		WebhookURL:  req.WebhookURL,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Printf("enqueue failed capture_id=%s err=%v", job.ID, err)
		if _, failErr := s.captures.Fail(r.Context(), job.ID, "enqueue failed"); failErr != nil {
			s.logger.Printf("capture status update failed capture_id=%s err=%v", job.ID, failErr)
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue capture"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"capture_id":  job.ID,
		"session_id":  sessionID,
		"status":      job.Status,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
		"status_url":  "/v1/captures/" + job.ID,
	})
}

func (s *Server) handleGetCapture(w http.ResponseWriter, r *http.Request) {
	captureID := r.PathValue("id")
	job, ok, err := s.captures.Get(r.Context(), captureID)
	if err != nil {
		s.logger.Printf("fetch capture failed capture_id=%s err=%v", captureID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load capture"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "capture not found"})
		return
	}
	resp := captureResponse{CaptureJob: job}
	if job.Status == domain.CaptureStatusSucceeded && job.Output != nil {
		if src, err := pipeline.ParseSourceRef(job.Output.Path); err == nil && src.Type == domain.SourceTypeObject {
			url, err := s.storage.PresignedGetURL(r.Context(), src.Key, s.presignTTL)
			if err != nil {
				s.logger.Printf("presign capture download failed capture_id=%s err=%v", captureID, err)
			} else {
				resp.DownloadURL = url
				resp.DownloadExpiresAt = time.Now().UTC().Add(s.presignTTL)
			}
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// captureResponse adds a short-lived download link for renders kept in
// object storage.
type captureResponse struct {
	domain.CaptureJob
	DownloadURL       string    `json:"download_url,omitempty"`
	DownloadExpiresAt time.Time `json:"download_expires_at,omitzero"`
}
