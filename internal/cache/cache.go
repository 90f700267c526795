// Package cache mirrors the running job and its live progress into Redis so
// other processes can observe a batch without touching the state directory.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/config"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

// DefaultTTL applies when the configuration leaves the TTL unset.
const DefaultTTL = 24 * time.Hour

const activeJobKey = "job:active"

func jobKey(jobID string) string      { return fmt.Sprintf("job:%s", jobID) }
func progressKey(jobID string) string { return fmt.Sprintf("job:progress:%s", jobID) }

// ProgressChannel is the pub/sub channel progress updates of jobID go to.
func ProgressChannel(jobID string) string { return fmt.Sprintf("job:progress:%s:events", jobID) }

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache creates a new cache instance
func NewCache(cfg config.RedisConfig) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks the connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// MirrorJob stores the job snapshot and marks it as the active job while it
// is not terminal. It implements jobs.ProgressMirror.
func (c *Cache) MirrorJob(ctx context.Context, job *models.Job) (err error) {
	defer func() { metrics.RecordCacheOperation("mirror_job", err) }()

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), data, c.ttl)
	if job.IsTerminal() {
		pipe.Del(ctx, activeJobKey)
	} else {
		pipe.Set(ctx, activeJobKey, job.ID, c.ttl)
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror job: %w", err)
	}
	return nil
}

// MirrorProgress stores the latest progress of jobID and publishes it.
func (c *Cache) MirrorProgress(ctx context.Context, jobID string, progress models.Progress) (err error) {
	defer func() { metrics.RecordCacheOperation("mirror_progress", err) }()

	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, progressKey(jobID), data, c.ttl)
	pipe.Publish(ctx, ProgressChannel(jobID), data)
	if _, err = pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to mirror progress: %w", err)
	}
	return nil
}

// GetJob retrieves a mirrored job. A miss returns nil without error.
func (c *Cache) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	found, err := c.getJSON(ctx, jobKey(jobID), &job)
	if err != nil || !found {
		return nil, err
	}
	return &job, nil
}

// GetActiveJob returns the job currently marked active, or nil.
func (c *Cache) GetActiveJob(ctx context.Context) (*models.Job, error) {
	id, err := c.client.Get(ctx, activeJobKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active job: %w", err)
	}
	return c.GetJob(ctx, id)
}

// GetProgress retrieves the last progress update of jobID, or nil.
func (c *Cache) GetProgress(ctx context.Context, jobID string) (*models.Progress, error) {
	var p models.Progress
	found, err := c.getJSON(ctx, progressKey(jobID), &p)
	if err != nil || !found {
		return nil, err
	}
	return &p, nil
}

// SubscribeProgress subscribes to the live progress of jobID.
func (c *Cache) SubscribeProgress(ctx context.Context, jobID string) *redis.PubSub {
	return c.client.Subscribe(ctx, ProgressChannel(jobID))
}

// DeleteJob removes everything mirrored for jobID.
func (c *Cache) DeleteJob(ctx context.Context, jobID string) error {
	return c.client.Del(ctx, jobKey(jobID), progressKey(jobID)).Err()
}

func (c *Cache) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil // Cache miss
		}
		return false, fmt.Errorf("failed to get value from cache: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return true, nil
}
