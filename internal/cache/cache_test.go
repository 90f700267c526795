package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/config"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	// Create a mini Redis server for testing
	mr := miniredis.RunT(t)

	cache, err := NewCache(config.RedisConfig{
		Host: mr.Host(),
		Port: mr.Server().Addr().Port,
		TTL:  time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	return cache, mr
}

func testJob(status string) *models.Job {
	return &models.Job{
		ID:              "job-1",
		SourceDirectory: "/videos",
		ProfileID:       "h265",
		Status:          status,
		TotalFiles:      1,
		Files: models.FileTasks{
			models.NewFileTask("/videos/a.mp4", models.MediaRecord{Duration: models.Float64(30)}),
		},
	}
}

func TestNewCache(t *testing.T) {
	cache, _ := setupTestCache(t)
	assert.NoError(t, cache.Ping(context.Background()))
}

func TestNewCacheUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	port := mr.Server().Addr().Port
	mr.Close()

	_, err := NewCache(config.RedisConfig{Host: "127.0.0.1", Port: port})
	assert.Error(t, err)
}

func TestMirrorJob(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.MirrorJob(ctx, testJob(models.JobStatusInProgress)))

	active, err := cache.GetActiveJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "job-1", active.ID)
	require.Len(t, active.Files, 1)
	assert.Equal(t, time.Hour, mr.TTL(jobKey("job-1")))

	require.NoError(t, cache.MirrorJob(ctx, testJob(models.JobStatusCompleted)))

	active, err = cache.GetActiveJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, active, "terminal job is no longer active")

	job, err := cache.GetJob(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

func TestMirrorProgress(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	sub := cache.SubscribeProgress(ctx, "job-1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	fps := 48.5
	require.NoError(t, cache.MirrorProgress(ctx, "job-1", models.Progress{
		Percentage: 42.5,
		FileName:   "a.mp4",
		FileIndex:  1,
		TotalFiles: 3,
		FPS:        &fps,
	}))

	p, err := cache.GetProgress(ctx, "job-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, 42.5, p.Percentage)
	assert.Equal(t, "a.mp4", p.FileName)
	require.NotNil(t, p.FPS)
	assert.Equal(t, fps, *p.FPS)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var published models.Progress
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &published))
	assert.Equal(t, 42.5, published.Percentage)
}

func TestCacheMiss(t *testing.T) {
	cache, _ := setupTestCache(t)
	ctx := context.Background()

	job, err := cache.GetJob(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, job)

	p, err := cache.GetProgress(ctx, "missing")
	assert.NoError(t, err)
	assert.Nil(t, p)
}

func TestDeleteJob(t *testing.T) {
	cache, mr := setupTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.MirrorJob(ctx, testJob(models.JobStatusInProgress)))
	require.NoError(t, cache.MirrorProgress(ctx, "job-1", models.Progress{Percentage: 10}))
	require.NoError(t, cache.DeleteJob(ctx, "job-1"))

	assert.False(t, mr.Exists(jobKey("job-1")))
	assert.False(t, mr.Exists(progressKey("job-1")))
}

func TestCorruptEntry(t *testing.T) {
	cache, mr := setupTestCache(t)
	require.NoError(t, mr.Set(jobKey("job-1"), "{not json"))

	_, err := cache.GetJob(context.Background(), "job-1")
	assert.Error(t, err)
}
