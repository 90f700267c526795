package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one batch of files from a single source directory processed with a
// single encoding profile.
type Job struct {
	ID              string     `json:"id" db:"id"`
	SourceDirectory string     `json:"source_directory" db:"source_directory"`
	ProfileID       string     `json:"profile_id" db:"profile_id"`
	Status          string     `json:"status" db:"status"`
	ErrorMsg        string     `json:"error_msg,omitempty" db:"error_msg"`
	TotalFiles      int        `json:"total_files" db:"total_files"`
	Files           FileTasks  `json:"files" db:"files"`
	StartedAt       *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

// FileTask tracks one file through probe, transcode and repair within a Job.
type FileTask struct {
	ID           string       `json:"id"`
	OriginalPath string       `json:"original_path"`
	Status       string       `json:"status"`
	OutputPath   string       `json:"output_path,omitempty"`
	RepairedFrom string       `json:"repaired_from,omitempty"`
	ErrorMsg     string       `json:"error_msg,omitempty"`
	Media        *MediaRecord `json:"media,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// NewFileTask creates a pending task for path with its probe result.
func NewFileTask(path string, media MediaRecord) *FileTask {
	task := &FileTask{
		ID:           uuid.New().String(),
		OriginalPath: path,
		Status:       FileStatusPending,
		Media:        &media,
	}
	if media.Suspicious() {
		task.ErrorMsg = media.Issue()
	}
	return task
}

// FileTasks is the ordered task list of a job.
type FileTasks []*FileTask

// Value implements driver.Valuer for database storage
func (ft FileTasks) Value() (driver.Value, error) {
	return json.Marshal(ft)
}

// Scan implements sql.Scanner for database retrieval
func (ft *FileTasks) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, ft)
	case string:
		return json.Unmarshal([]byte(v), ft)
	}
	return fmt.Errorf("cannot scan %T into FileTasks", value)
}

// JobStatus constants
const (
	JobStatusScanning             = "scanning"
	JobStatusReadyToProcess       = "ready_to_process"
	JobStatusAwaitingConfirmation = "awaiting_confirmation"
	JobStatusInProgress           = "in_progress"
	JobStatusResuming             = "resuming"
	JobStatusCompleted            = "completed"
	JobStatusCompletedWithErrors  = "completed_with_errors"
	JobStatusStopped              = "stopped"
	JobStatusCriticalError        = "critical_error"
	JobStatusCancelled            = "cancelled"
)

// FileStatus constants
const (
	FileStatusPending         = "pending"
	FileStatusProcessing      = "processing"
	FileStatusCompleted       = "completed"
	FileStatusFailed          = "failed"
	FileStatusFailedProbe     = "failed_probe"
	FileStatusFailedProfile   = "failed_profile"
	FileStatusSkippedConflict = "skipped_conflict"
	FileStatusCancelled       = "cancelled"
)

var terminalJobStatuses = map[string]bool{
	JobStatusCompleted:           true,
	JobStatusCompletedWithErrors: true,
	JobStatusStopped:             true,
	JobStatusCriticalError:       true,
	JobStatusCancelled:           true,
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	return terminalJobStatuses[j.Status]
}

// Resumable reports whether the job can be picked up again.
func (j *Job) Resumable() bool {
	if j.IsTerminal() || j.Status == JobStatusScanning {
		return false
	}
	if j.Status == JobStatusAwaitingConfirmation || j.Status == JobStatusReadyToProcess {
		return true
	}
	for _, f := range j.Files {
		if f.NeedsProcessing() {
			return true
		}
	}
	return false
}

// Validate checks the invariants of a loaded snapshot.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job id is empty")
	}
	if j.TotalFiles != len(j.Files) {
		return fmt.Errorf("total_files is %d but %d file tasks are present", j.TotalFiles, len(j.Files))
	}
	for i, f := range j.Files {
		if f == nil {
			return fmt.Errorf("file task %d is null", i)
		}
		if f.OriginalPath == "" {
			return fmt.Errorf("file task %d has no original path", i)
		}
	}
	return nil
}

// JobCounts summarises task outcomes.
type JobCounts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Pending   int `json:"pending"`
}

// Counts tallies the tasks of the job by outcome.
func (j *Job) Counts() JobCounts {
	c := JobCounts{Total: len(j.Files)}
	for _, f := range j.Files {
		switch {
		case f.Status == FileStatusCompleted:
			c.Completed++
		case f.Status == FileStatusSkippedConflict:
			c.Skipped++
		case f.Failed():
			c.Failed++
		default:
			c.Pending++
		}
	}
	return c
}

// Done reports whether the task must never be processed again.
func (f *FileTask) Done() bool {
	return f.Status == FileStatusCompleted || f.Status == FileStatusSkippedConflict
}

// Failed reports whether the task ended in one of the failure states.
func (f *FileTask) Failed() bool {
	switch f.Status {
	case FileStatusFailed, FileStatusFailedProbe, FileStatusFailedProfile:
		return true
	}
	return false
}

// NeedsProcessing reports whether a resumed job should (re)run the task.
func (f *FileTask) NeedsProcessing() bool {
	switch f.Status {
	case FileStatusPending, FileStatusProcessing, FileStatusFailed, FileStatusFailedProbe, FileStatusCancelled:
		return true
	}
	return false
}

// Reset puts a retryable task back to pending.
func (f *FileTask) Reset() {
	f.Status = FileStatusPending
	f.ErrorMsg = ""
	f.StartedAt = nil
	f.CompletedAt = nil
}
