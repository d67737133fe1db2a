// Package retryqueue holds back-sync writes that failed their single inline
// attempt, in a bounded Redis list.
package retryqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const defaultKey = "journea:backsync"

// Job is one pending CRM contact field write.
type Job struct {
	ContactID  string    `json:"contact_id"`
	FieldKey   string    `json:"field_key"`
	Value      string    `json:"value"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Handler performs the write for a job. A nil error removes the job.
type Handler func(ctx context.Context, job Job) error

type Options struct {
	Key         string
	Capacity    int
	MaxAttempts int
}

// Queue is newest-first: Enqueue pushes to the head and trims the tail, so
// when full the oldest job is dropped.
type Queue struct {
	client      *redis.Client
	key         string
	capacity    int64
	maxAttempts int
	logger      *zap.Logger
}

// Dial connects to redisURL and checks the connection.
func Dial(redisURL string, opts Options, logger *zap.Logger) (*Queue, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return New(client, opts, logger), nil
}

func New(client *redis.Client, opts Options, logger *zap.Logger) *Queue {
	if opts.Key == "" {
		opts.Key = defaultKey
	}
	if opts.Capacity <= 0 {
		opts.Capacity = 1000
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		client:      client,
		key:         opts.Key,
		capacity:    int64(opts.Capacity),
		maxAttempts: opts.MaxAttempts,
		logger:      logger,
	}
}

func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, q.key, payload)
		pipe.LTrim(ctx, q.key, 0, q.capacity-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue back-sync job: %w", err)
	}
	return nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// DrainResult summarizes one Drain pass.
type DrainResult struct {
	Succeeded int
	Requeued  int
	Dropped   int
}

// Drain makes one pass over the jobs present when it starts, oldest first.
// Failed jobs are pushed back until they reach the attempt limit.
func (q *Queue) Drain(ctx context.Context, handle Handler) (DrainResult, error) {
	var result DrainResult
	pending, err := q.Len(ctx)
	if err != nil {
		return result, err
	}
	for i := int64(0); i < pending; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		raw, err := q.client.RPop(ctx, q.key).Bytes()
		if errors.Is(err, redis.Nil) {
			return result, nil
		}
		if err != nil {
			return result, fmt.Errorf("dequeue back-sync job: %w", err)
		}

		var job Job
		if err := json.Unmarshal(raw, &job); err != nil {
			q.logger.Warn("dropping undecodable back-sync job", zap.Error(err))
			result.Dropped++
			continue
		}

		handleErr := handle(ctx, job)
		if handleErr == nil {
			result.Succeeded++
			continue
		}
		job.Attempts++
		if job.Attempts >= q.maxAttempts {
			q.logger.Warn("back-sync job exhausted",
				zap.String("contact_id", job.ContactID),
				zap.Int("attempts", job.Attempts),
				zap.Error(handleErr),
			)
			result.Dropped++
			continue
		}
		if err := q.Enqueue(ctx, job); err != nil {
			return result, err
		}
		result.Requeued++
	}
	return result, nil
}

// Run drains every interval until ctx is cancelled.
func (q *Queue) Run(ctx context.Context, interval time.Duration, handle Handler) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			result, err := q.Drain(ctx, handle)
			if err != nil && ctx.Err() == nil {
				q.logger.Warn("back-sync drain failed", zap.Error(err))
				continue
			}
			if result.Succeeded+result.Requeued+result.Dropped > 0 {
				q.logger.Info("back-sync drain pass",
					zap.Int("succeeded", result.Succeeded),
					zap.Int("requeued", result.Requeued),
					zap.Int("dropped", result.Dropped),
				)
			}
		}
	}
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) Close() error {
	return q.client.Close()
}
