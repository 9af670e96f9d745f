package store

import (
	"context"
	"errors"

	"github.com/dunamismax/pixelpuzzle/internal/domain"
	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
)

var (
	ErrSessionNotFound = errors.New("puzzle session not found")
	ErrSessionExists   = errors.New("puzzle session already exists")
	ErrCaptureNotFound = errors.New("capture job not found")
)

// SessionStore owns open puzzle sessions. Update runs fn with exclusive access
// to one session; fn must not call back into the store.
type SessionStore interface {
	Create(ctx context.Context, session *puzzle.Session) error
	Update(ctx context.Context, id string, fn func(*puzzle.Session) error) error
	Delete(ctx context.Context, id string) error
	Len() int
}

type CaptureStore interface {
	Create(ctx context.Context, job domain.CaptureJob) error
	Get(ctx context.Context, id string) (domain.CaptureJob, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.CaptureJob, error)
	Complete(ctx context.Context, id string, output domain.CaptureOutput) (domain.CaptureJob, error)
	Fail(ctx context.Context, id, reason string) (domain.CaptureJob, error)
}
