package events

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

type recordingNotifier struct {
	name   string
	err    error
	events []Event
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func testJob() *models.Job {
	return &models.Job{
		ID:         "job-1",
		Status:     models.JobStatusCompletedWithErrors,
		TotalFiles: 2,
		Files: models.FileTasks{
			{OriginalPath: "/v/a.mp4", Status: models.FileStatusCompleted, OutputPath: "/out/a.mkv"},
			{OriginalPath: "/v/b.mp4", Status: models.FileStatusFailed, ErrorMsg: "exit code 1"},
		},
	}
}

func TestForJob(t *testing.T) {
	evt := ForJob(JobFinished, testJob())

	assert.NotEmpty(t, evt.ID)
	assert.Equal(t, JobFinished, evt.Type)
	assert.Equal(t, "job-1", evt.JobID)
	assert.Equal(t, models.JobStatusCompletedWithErrors, evt.Status)
	require.NotNil(t, evt.Counts)
	assert.Equal(t, 1, evt.Counts.Completed)
	assert.Equal(t, 1, evt.Counts.Failed)
}

func TestForFile(t *testing.T) {
	job := testJob()
	evt := ForFile(FileFinished, job, job.Files[1])

	assert.Equal(t, "/v/b.mp4", evt.File)
	assert.Equal(t, models.FileStatusFailed, evt.Status)
	assert.Equal(t, "exit code 1", evt.Error)
	assert.Nil(t, evt.Counts)
}

func TestMultiDeliversToAllSinks(t *testing.T) {
	metrics.EventsPublishedTotal.Reset()

	broken := &recordingNotifier{name: "broken", err: errors.New("connection refused")}
	healthy := &recordingNotifier{name: "healthy"}
	m := NewMulti(nil, broken, nil, healthy)
	assert.Equal(t, 2, m.Len())

	err := m.Notify(context.Background(), ForJob(JobStarted, testJob()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")

	assert.Len(t, broken.events, 1)
	assert.Len(t, healthy.events, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsPublishedTotal.WithLabelValues("healthy", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EventsPublishedTotal.WithLabelValues("broken", "error")))
}

func TestMultiEmpty(t *testing.T) {
	m := NewMulti(nil)
	assert.NoError(t, m.Notify(context.Background(), ForJob(JobStarted, testJob())))
}
