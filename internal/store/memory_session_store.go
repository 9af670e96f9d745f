package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/pixelpuzzle/internal/puzzle"
)

type sessionEntry struct {
	mu       sync.Mutex
	session  *puzzle.Session
	closed   bool
	lastUsed time.Time
}

type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	now      func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*sessionEntry),
		now:      time.Now,
	}
}

func (s *MemorySessionStore) Create(_ context.Context, session *puzzle.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID()]; ok {
		return ErrSessionExists
	}
	s.sessions[session.ID()] = &sessionEntry{session: session, lastUsed: s.now()}
	return nil
}

func (s *MemorySessionStore) Update(ctx context.Context, id string, fn func(*puzzle.Session) error) error {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return ErrSessionNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	entry.lastUsed = s.now()
	return fn(entry.session)
}

// Delete closes the session, releasing its tiles, and forgets it.
func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	entry, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.closed = true
	entry.session.Close()
	return nil
}

func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// CloseAll releases every session. Used on shutdown.
func (s *MemorySessionStore) CloseAll() {
	s.mu.Lock()
	entries := s.sessions
	s.sessions = make(map[string]*sessionEntry)
	s.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		entry.closed = true
		entry.session.Close()
		entry.mu.Unlock()
	}
}

// SweepIdle deletes every session that has not been created or updated
// within ttl and returns how many were removed.
func (s *MemorySessionStore) SweepIdle(ctx context.Context, ttl time.Duration) int {
	if ttl <= 0 {
		return 0
	}
	cutoff := s.now().Add(-ttl)

	s.mu.RLock()
	entries := make(map[string]*sessionEntry, len(s.sessions))
	for id, entry := range s.sessions {
		entries[id] = entry
	}
	s.mu.RUnlock()

	swept := 0
	for id, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if s.deleteIfIdle(id, entry, cutoff) {
			swept++
		}
	}
	return swept
}

// deleteIfIdle re-checks the entry under its lock so a session touched
// after the scan survives.
func (s *MemorySessionStore) deleteIfIdle(id string, entry *sessionEntry, cutoff time.Time) bool {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed || !entry.lastUsed.Before(cutoff) {
		return false
	}

	s.mu.Lock()
	current, ok := s.sessions[id]
	if !ok || current != entry {
		s.mu.Unlock()
		return false
	}
	delete(s.sessions, id)
	s.mu.Unlock()

	entry.closed = true
	entry.session.Close()
	return true
}

// RunSweeper calls SweepIdle every interval until ctx is done. onSweep,
// when set, receives the count of each sweep that removed something.
func (s *MemorySessionStore) RunSweeper(ctx context.Context, ttl, interval time.Duration, onSweep func(int)) {
	if ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepIdle(ctx, ttl); n > 0 && onSweep != nil {
				onSweep(n)
			}
		}
	}
}
