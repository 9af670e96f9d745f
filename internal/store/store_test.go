package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dunamismax/pixelpuzzle/internal/domain"
	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
)

func TestMemorySessionStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore()
	session := puzzle.NewSession("pz-1", puzzle.DefaultConfig(), puzzle.ModeDrag)

	if err := s.Create(ctx, session); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, session); !errors.Is(err, ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}

	var seen string
	if err := s.Update(ctx, "pz-1", func(sess *puzzle.Session) error {
		seen = sess.ID()
		return nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if seen != "pz-1" {
		t.Fatalf("expected pz-1, got %q", seen)
	}

	if err := s.Delete(ctx, "pz-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Update(ctx, "pz-1", func(*puzzle.Session) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, "pz-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on second delete, got %v", err)
	}
}

func TestMemorySessionStoreSerialisesUpdates(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySessionStore()
	if err := s.Create(ctx, puzzle.NewSession("pz-2", puzzle.DefaultConfig(), puzzle.ModeClick)); err != nil {
		t.Fatalf("create: %v", err)
	}

	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Update(ctx, "pz-2", func(*puzzle.Session) error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 serialised updates, got %d", counter)
	}
}

func TestMemorySessionStoreSweepsIdleSessions(t *testing.T) {
	ctx := context.Background()
	clock := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemorySessionStore()
	s.now = func() time.Time { return clock }

	for _, id := range []string{"pz-old", "pz-busy"} {
		if err := s.Create(ctx, puzzle.NewSession(id, puzzle.DefaultConfig(), puzzle.ModeDrag)); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	clock = clock.Add(90 * time.Minute)
	if err := s.Update(ctx, "pz-busy", func(*puzzle.Session) error { return nil }); err != nil {
		t.Fatalf("touch: %v", err)
	}
	if n := s.SweepIdle(ctx, 2*time.Hour); n != 0 {
		t.Fatalf("expected nothing swept before the ttl, got %d", n)
	}

	clock = clock.Add(time.Hour)
	if n := s.SweepIdle(ctx, 2*time.Hour); n != 1 {
		t.Fatalf("expected one idle session swept, got %d", n)
	}
	if s.Len() != 1 {
		t.Fatalf("expected one session left, got %d", s.Len())
	}
	if err := s.Update(ctx, "pz-old", func(*puzzle.Session) error { return nil }); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected swept session to be gone, got %v", err)
	}
	if err := s.Update(ctx, "pz-busy", func(*puzzle.Session) error { return nil }); err != nil {
		t.Fatalf("expected touched session to survive, got %v", err)
	}

	clock = clock.Add(3 * time.Hour)
	if n := s.SweepIdle(ctx, 0); n != 0 {
		t.Fatalf("expected a zero ttl to disable sweeping, got %d", n)
	}
	if n := s.SweepIdle(ctx, 2*time.Hour); n != 1 || s.Len() != 0 {
		t.Fatalf("expected the last session swept, got n=%d len=%d", n, s.Len())
	}
}

func TestMemoryCaptureStoreTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCaptureStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	if err := s.Create(ctx, domain.CaptureJob{ID: "cap-1", Status: domain.CaptureStatusQueued}); err != nil {
		t.Fatalf("create: %v", err)
	}
	job, err := s.UpdateStatus(ctx, "cap-1", domain.CaptureStatusProcessing)
	if err != nil || job.Status != domain.CaptureStatusProcessing {
		t.Fatalf("expected processing, got %+v err=%v", job, err)
	}
	job, err = s.Complete(ctx, "cap-1", domain.CaptureOutput{Path: "/tmp/cap-1.png", Bytes: 10})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !job.Terminal() || job.Output == nil || job.Output.Bytes != 10 || !job.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected completed job: %+v", job)
	}

	if _, err := s.Fail(ctx, "missing", "boom"); !errors.Is(err, ErrCaptureNotFound) {
		t.Fatalf("expected ErrCaptureNotFound, got %v", err)
	}
	if _, ok, _ := s.Get(ctx, "missing"); ok {
		t.Fatal("expected missing job lookup to miss")
	}
}
