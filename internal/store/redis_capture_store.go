package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dunamismax/pixelpuzzle/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCaptureStore keeps capture jobs in Redis so the API and the worker
// see the same status. Records expire after ttl.
type RedisCaptureStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	now       func() time.Time
}

func NewRedisCaptureStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration) (*RedisCaptureStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "pixelpuzzle:capture"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCaptureStore{
		client:    client,
		keyPrefix: keyPrefix,
		ttl:       ttl,
		now:       time.Now,
	}, nil
}

func (s *RedisCaptureStore) key(id string) string {
	return s.keyPrefix + ":" + id
}

func (s *RedisCaptureStore) Create(ctx context.Context, job domain.CaptureJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal capture job: %w", err)
	}
	if err := s.client.Set(ctx, s.key(job.ID), body, s.ttl).Err(); err != nil {
		return fmt.Errorf("store capture job: %w", err)
	}
	return nil
}

func (s *RedisCaptureStore) Get(ctx context.Context, id string) (domain.CaptureJob, bool, error) {
	body, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CaptureJob{}, false, nil
	}
	if err != nil {
		return domain.CaptureJob{}, false, fmt.Errorf("load capture job: %w", err)
	}

	var job domain.CaptureJob
	if err := json.Unmarshal(body, &job); err != nil {
		return domain.CaptureJob{}, false, fmt.Errorf("unmarshal capture job: %w", err)
	}
	return job, true, nil
}

func (s *RedisCaptureStore) UpdateStatus(ctx context.Context, id, status string) (domain.CaptureJob, error) {
	return s.update(ctx, id, func(job *domain.CaptureJob) {
		job.Status = status
	})
}

func (s *RedisCaptureStore) Complete(ctx context.Context, id string, output domain.CaptureOutput) (domain.CaptureJob, error) {
	return s.update(ctx, id, func(job *domain.CaptureJob) {
		job.Status = domain.CaptureStatusSucceeded
		job.Output = &output
		job.Error = ""
	})
}

func (s *RedisCaptureStore) Fail(ctx context.Context, id, reason string) (domain.CaptureJob, error) {
	return s.update(ctx, id, func(job *domain.CaptureJob) {
		job.Status = domain.CaptureStatusFailed
		job.Error = reason
	})
}

// update is an optimistic read-modify-write guarded by WATCH.
func (s *RedisCaptureStore) update(ctx context.Context, id string, fn func(*domain.CaptureJob)) (domain.CaptureJob, error) {
	key := s.key(id)
	var updated domain.CaptureJob

	txf := func(tx *redis.Tx) error {
		body, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrCaptureNotFound
		}
		if err != nil {
			return err
		}

		var job domain.CaptureJob
		if err := json.Unmarshal(body, &job); err != nil {
			return fmt.Errorf("unmarshal capture job: %w", err)
		}
		fn(&job)
		job.UpdatedAt = s.now().UTC()

		next, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal capture job: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, s.ttl)
			return nil
		})
		if err == nil {
			updated = job
		}
		return err
	}

	const maxAttempts = 5
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrCaptureNotFound) {
			return domain.CaptureJob{}, err
		}
		return domain.CaptureJob{}, fmt.Errorf("update capture job: %w", err)
	}
	return domain.CaptureJob{}, fmt.Errorf("update capture job: too much contention on %s", key)
}
