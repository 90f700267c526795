// Package events defines job and file lifecycle events and fans them out to
// the configured notifiers.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

// Event types
const (
	JobScanned   = "job.scanned"
	JobStarted   = "job.started"
	JobFinished  = "job.finished"
	FileFinished = "file.finished"
	FileRepaired = "file.repaired"
)

// Event is one lifecycle notification.
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	JobID      string            `json:"job_id"`
	Status     string            `json:"status"`
	File       string            `json:"file,omitempty"`
	OutputPath string            `json:"output_path,omitempty"`
	Error      string            `json:"error,omitempty"`
	Counts     *models.JobCounts `json:"counts,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ForJob builds a job-level event from the job's current state.
func ForJob(eventType string, job *models.Job) Event {
	counts := job.Counts()
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		JobID:     job.ID,
		Status:    job.Status,
		Error:     job.ErrorMsg,
		Counts:    &counts,
		Timestamp: time.Now().UTC(),
	}
}

// ForFile builds a file-level event.
func ForFile(eventType string, job *models.Job, task *models.FileTask) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       eventType,
		JobID:      job.ID,
		Status:     task.Status,
		File:       task.OriginalPath,
		OutputPath: task.OutputPath,
		Error:      task.ErrorMsg,
		Timestamp:  time.Now().UTC(),
	}
}

// Notifier delivers events to one sink.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Multi delivers every event to all of its notifiers. A failing sink does
// not stop delivery to the others.
type Multi struct {
	notifiers []Notifier
	logger    *logging.Logger
}

// NewMulti creates a fan-out notifier. Nil notifiers are dropped.
func NewMulti(logger *logging.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = logging.Nop()
	}
	m := &Multi{logger: logger.WithComponent("events")}
	for _, n := range notifiers {
		if n != nil {
			m.notifiers = append(m.notifiers, n)
		}
	}
	return m
}

// Name implements Notifier.
func (m *Multi) Name() string {
	return "multi"
}

// Len returns the number of sinks.
func (m *Multi) Len() int {
	return len(m.notifiers)
}

// Notify implements Notifier and returns the joined sink errors.
func (m *Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m.notifiers {
		err := n.Notify(ctx, event)
		metrics.RecordEventPublished(n.Name(), err)
		if err != nil {
			m.logger.WithError(err).Warnf("Failed to deliver %s event to %s", event.Type, n.Name())
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
