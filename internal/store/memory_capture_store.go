package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/pixelpuzzle/internal/domain"
)

type MemoryCaptureStore struct {
	mu   sync.RWMutex
	jobs map[string]domain.CaptureJob
	now  func() time.Time
}

func NewMemoryCaptureStore() *MemoryCaptureStore {
	return &MemoryCaptureStore{
		jobs: make(map[string]domain.CaptureJob),
		now:  time.Now,
	}
}

func (s *MemoryCaptureStore) Create(_ context.Context, job domain.CaptureJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *MemoryCaptureStore) Get(_ context.Context, id string) (domain.CaptureJob, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryCaptureStore) UpdateStatus(_ context.Context, id, status string) (domain.CaptureJob, error) {
	return s.update(id, func(job *domain.CaptureJob) {
		job.Status = status
	})
}

func (s *MemoryCaptureStore) Complete(_ context.Context, id string, output domain.CaptureOutput) (domain.CaptureJob, error) {
	return s.update(id, func(job *domain.CaptureJob) {
		job.Status = domain.CaptureStatusSucceeded
		job.Output = &output
		job.Error = ""
	})
}

func (s *MemoryCaptureStore) Fail(_ context.Context, id, reason string) (domain.CaptureJob, error) {
	return s.update(id, func(job *domain.CaptureJob) {
		job.Status = domain.CaptureStatusFailed
		job.Error = reason
	})
}

func (s *MemoryCaptureStore) update(id string, fn func(*domain.CaptureJob)) (domain.CaptureJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.CaptureJob{}, ErrCaptureNotFound
	}
	fn(&job)
	job.UpdatedAt = s.now().UTC()
	s.jobs[id] = job
	return job, nil
}
