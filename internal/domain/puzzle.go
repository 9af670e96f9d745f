package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
)

const (
	SourceTypeLocalFile = "local_file"
	SourceTypeObject    = "s3_object"
	SourceTypeInline    = "inline"
)

type CreatePuzzleRequest struct {
	Source     string         `json:"source"`
	Config     *puzzle.Config `json:"config,omitempty"`
	Mode       string         `json:"mode,omitempty"`
	WebhookURL string         `json:"webhook_url,omitempty"`
}

// PuzzleConfig returns the requested configuration, or the default 3x3 medium
// puzzle when none was given.
func (r CreatePuzzleRequest) PuzzleConfig() puzzle.Config {
	if r.Config == nil {
		return puzzle.DefaultConfig()
	}
	return *r.Config
}

func (r CreatePuzzleRequest) PuzzleMode() puzzle.Mode {
	mode, err := puzzle.ParseMode(r.Mode)
	if err != nil {
		return puzzle.ModeDrag
	}
	return mode
}

func (r CreatePuzzleRequest) Validate() error {
	if strings.TrimSpace(r.Source) == "" {
		return errors.New("source is required")
	}
	if r.Config != nil {
		if err := r.Config.Validate(); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	if strings.TrimSpace(r.Mode) != "" {
		if _, err := puzzle.ParseMode(r.Mode); err != nil {
			return err
		}
	}
	return validateWebhookURL(r.WebhookURL)
}

type PointerEvent struct {
	Type    string  `json:"type"`
	PieceID int     `json:"piece_id"`
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
}

const (
	PointerDown  = "down"
	PointerMove  = "move"
	PointerUp    = "up"
	PointerLeave = "leave"
)

func (e PointerEvent) Validate() error {
	switch strings.ToLower(strings.TrimSpace(e.Type)) {
	case PointerDown, PointerMove, PointerUp, PointerLeave:
		return nil
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unsupported pointer type: %s", e.Type)
	}
}

type ClickEvent struct {
	PieceID int `json:"piece_id"`
}

type ModeRequest struct {
	Mode string `json:"mode"`
}

func validateWebhookURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("webhook_url must be an absolute http(s) URL")
	}
	return nil
}
