// Package redisstore keeps composite jobs in Redis with a retention TTL.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/cwrk-planet/booth-service/internal/composite"
	"github.com/cwrk-planet/booth-service/internal/domain"

	"github.com/go-redis/redis/v8"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// casScript swaps the stored job only if it still equals the expected encoding.
var casScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if not cur then return -1 end
if cur ~= ARGV[1] then return 0 end
redis.call("SET", KEYS[1], ARGV[2], "KEEPTTL")
return 1
`)

type JobRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

func NewJobRepository(client *redis.Client, ttl time.Duration) *JobRepository {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JobRepository{client: client, ttl: ttl}
}

const keyPrefix = "composite:"

func jobKey(sessionID string) string {
	return keyPrefix + sessionID
}

func (r *JobRepository) Create(ctx context.Context, job domain.CompositeJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ok, err := r.client.SetNX(ctx, jobKey(job.SessionID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	if !ok {
		return domain.ErrJobExists
	}
	return nil
}

func (r *JobRepository) Get(ctx context.Context, sessionID string) (domain.CompositeJob, error) {
	job, _, err := r.load(ctx, sessionID)
	return job, err
}

func (r *JobRepository) load(ctx context.Context, sessionID string) (domain.CompositeJob, string, error) {
	raw, err := r.client.Get(ctx, jobKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.CompositeJob{}, "", domain.ErrJobNotFound
	}
	if err != nil {
		return domain.CompositeJob{}, "", fmt.Errorf("failed to get job: %w", err)
	}
	var job domain.CompositeJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return domain.CompositeJob{}, "", fmt.Errorf("decode job: %w", err)
	}
	return job, raw, nil
}

// Transition retries the compare-and-swap while competing writers move the job.
func (r *JobRepository) Transition(ctx context.Context, sessionID string, t composite.Transition) (domain.CompositeJob, error) {
	for attempt := 0; attempt < 5; attempt++ {
		job, raw, err := r.load(ctx, sessionID)
		if err != nil {
			return domain.CompositeJob{}, err
		}
		next, err := t.Apply(job)
		if err != nil {
			return job, err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return job, err
		}

		res, err := casScript.Run(ctx, r.client, []string{jobKey(sessionID)}, raw, data).Int()
		if err != nil {
			return job, fmt.Errorf("failed to update job: %w", err)
		}
		switch res {
		case 1:
			return next, nil
		case -1:
			return domain.CompositeJob{}, domain.ErrJobNotFound
		}
	}
	return domain.CompositeJob{}, fmt.Errorf("update job %s: too much contention", sessionID)
}

// Pending scans the job keyspace; expired keys are already gone.
func (r *JobRepository) Pending(ctx context.Context) ([]domain.CompositeJob, error) {
	var out []domain.CompositeJob
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		job, _, err := r.load(ctx, iter.Val()[len(keyPrefix):])
		if errors.Is(err, domain.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !job.Status.Terminal() {
			out = append(out, job)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
