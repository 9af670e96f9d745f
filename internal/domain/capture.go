package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	CaptureStatusQueued     = "queued"
	CaptureStatusProcessing = "processing"
	CaptureStatusSucceeded  = "succeeded"
	CaptureStatusFailed     = "failed"
)

type CreateCaptureRequest struct {
	Format     string `json:"format,omitempty"`
	Quality    int    `json:"quality,omitempty"`
	Caption    string `json:"caption,omitempty"`
	Background string `json:"background,omitempty"`
	Guide      bool   `json:"guide,omitempty"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

func (r CreateCaptureRequest) Validate() error {
	switch strings.ToLower(strings.TrimSpace(r.Format)) {
	case "", "png", "jpg", "jpeg", "webp":
	default:
		return fmt.Errorf("unsupported format: %s", r.Format)
	}
	if r.Quality < 0 || r.Quality > 100 {
		return fmt.Errorf("quality must be between 0 and 100")
	}
	if len(r.Caption) > 200 {
		return fmt.Errorf("caption is limited to 200 bytes")
	}
	return validateWebhookURL(r.WebhookURL)
}

type CaptureOutput struct {
	Path   string `json:"path"`
	Format string `json:"format"`
	Bytes  int    `json:"bytes"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Solved bool   `json:"solved"`
}

type CaptureJob struct {
	ID         string         `json:"id"`
	SessionID  string         `json:"session_id"`
	Status     string         `json:"status"`
	Format     string         `json:"format"`
	WebhookURL string         `json:"webhook_url,omitempty"`
	Output     *CaptureOutput `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (j CaptureJob) Terminal() bool {
	return j.Status == CaptureStatusSucceeded || j.Status == CaptureStatusFailed
}
