package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// gcraScript keeps one theoretical arrival time per subject. It behaves like a
// token bucket of ARGV[2]/ARGV[1] tokens refilled one every ARGV[1] ms.
var gcraScript = redis.NewScript(`
local key = KEYS[1]
local interval = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tat = tonumber(redis.call("GET", key))
if tat == nil or tat < now then
  tat = now
end

local new_tat = tat + cost * interval
local allow_at = new_tat - burst
if allow_at > now then
  local available = math.floor((now - (tat - burst)) / interval)
  return {0, math.max(0, available), math.ceil(allow_at - now)}
end

redis.call("SET", key, string.format("%.3f", new_tat), "PX", math.max(1, math.ceil(new_tat - now)))
return {1, math.floor((now - allow_at) / interval), 0}
`)

type scripter interface {
	Run(ctx context.Context, c redis.Scripter, keys []string, args ...interface{}) *redis.Cmd
}

// RedisTokenBucket rate limits subjects across API replicas. Requests carry a
// cost so interaction events and slicing work can share one budget.
type RedisTokenBucket struct {
	client     redis.UniversalClient
	capacity   int64
	intervalMS float64
	keyPrefix  string
	now        func() time.Time
	script     scripter
}

func NewRedisTokenBucket(client redis.UniversalClient, capacity int, window time.Duration, keyPrefix string) (*RedisTokenBucket, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}

	if strings.TrimSpace(keyPrefix) == "" {
		keyPrefix = "pixelpuzzle:ratelimit"
	}

	windowMS := max(1, window.Milliseconds())
	return &RedisTokenBucket{
		client:     client,
		capacity:   int64(capacity),
		intervalMS: float64(windowMS) / float64(capacity),
		keyPrefix:  keyPrefix,
		now:        time.Now,
		script:     gcraScript,
	}, nil
}

func (l *RedisTokenBucket) Allow(ctx context.Context, subject string) (Decision, error) {
	return l.AllowN(ctx, subject, 1)
}

// AllowN takes cost tokens from the subject's bucket. A cost larger than the
// bucket capacity is clamped to the capacity.
func (l *RedisTokenBucket) AllowN(ctx context.Context, subject string, cost int) (Decision, error) {
	cost = int(min(max(int64(cost), 1), l.capacity))
	subject = strings.TrimSpace(subject)
	if subject == "" {
		subject = "anonymous"
	}

	key := fmt.Sprintf("%s:%s", l.keyPrefix, subject)
	now := float64(l.now().UTC().UnixMilli())
	raw, err := l.script.Run(
		ctx,
		l.client,
		[]string{key},
		strconv.FormatFloat(l.intervalMS, 'f', 3, 64),
		strconv.FormatFloat(l.intervalMS*float64(l.capacity), 'f', 3, 64),
		strconv.FormatFloat(now, 'f', 0, 64),
		cost,
	).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run rate limit script: %w", err)
	}

	values, ok := raw.([]any)
	if !ok || len(values) != 3 {
		return Decision{}, fmt.Errorf("invalid rate limit response")
	}

	allowed, err := toInt64(values[0])
	if err != nil {
		return Decision{}, fmt.Errorf("parse allow value: %w", err)
	}
	remaining, err := toInt64(values[1])
	if err != nil {
		return Decision{}, fmt.Errorf("parse remaining value: %w", err)
	}
	retryAfterMS, err := toInt64(values[2])
	if err != nil {
		return Decision{}, fmt.Errorf("parse retry-after value: %w", err)
	}

	return Decision{
		Allowed:    allowed == 1,
		Remaining:  min(remaining, l.capacity),
		RetryAfter: time.Duration(retryAfterMS) * time.Millisecond,
	}, nil
}

func toInt64(in any) (int64, error) {
	switch v := in.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(math.Floor(v)), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", in)
	}
}
