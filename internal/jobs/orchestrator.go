// Package jobs drives batch transcoding jobs through their lifecycle. The
// job snapshot is persisted after every job and file transition, so a
// restarted process knows exactly which files are done, failed or pending.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/config"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/events"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/scanner"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/tracing"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

var (
	// ErrJobActive is returned when a job is already running.
	ErrJobActive = errors.New("another job is already active")
	// ErrNoResumableJob is returned when the last job has nothing left to do.
	ErrNoResumableJob = errors.New("no resumable job")
	// ErrProfileNotFound is returned when the job's encoding profile is missing.
	ErrProfileNotFound = errors.New("encoding profile not found")
	// ErrNotAwaitingConfirmation is returned by Confirm for any other job state.
	ErrNotAwaitingConfirmation = errors.New("job is not awaiting confirmation")
)

// Error handling and output conflict policies.
const (
	ErrorPolicyStop = "stop"
	ErrorPolicySkip = "skip"

	ConflictOverwrite = "overwrite"
	ConflictRename    = "rename"
	ConflictSkip      = "skip"
)

// Runner transcodes one file.
type Runner interface {
	Run(ctx context.Context, req transcoder.Request) transcoder.Result
}

// Scanner turns a directory into file tasks.
type Scanner interface {
	Scan(ctx context.Context, root string, progress scanner.ProgressFunc) ([]*models.FileTask, error)
}

// PathResolver places transcode outputs.
type PathResolver interface {
	TranscodeOutputPath(input string, profile models.EncodingProfile) (string, error)
	ResolveConflict(desired, input string, profile models.EncodingProfile) (string, error)
}

// ProfileCatalog looks up encoding profiles. *config.Config satisfies it.
type ProfileCatalog interface {
	EncodingProfile(id string) (models.EncodingProfile, bool)
}

// Archiver stores terminal job snapshots.
type Archiver interface {
	ArchiveJob(ctx context.Context, job *models.Job) error
}

// OutputPublisher copies a finished output somewhere else and returns its
// location there.
type OutputPublisher interface {
	PublishOutput(ctx context.Context, jobID, path string) (string, error)
}

// ProgressMirror exposes the running job to other processes.
type ProgressMirror interface {
	MirrorJob(ctx context.Context, job *models.Job) error
	MirrorProgress(ctx context.Context, jobID string, progress models.Progress) error
}

// Hooks are the optional integrations. Nil fields are skipped.
type Hooks struct {
	Notifier  events.Notifier
	Archiver  Archiver
	Publisher OutputPublisher
	Mirror    ProgressMirror
}

// Policy holds the per-job processing rules.
type Policy struct {
	ErrorHandling    string
	OutputFileExists string
	DeleteOriginal   bool
	PublishOutputs   bool
}

// PolicyFromConfig builds a Policy from the processing section.
func PolicyFromConfig(cfg config.ProcessingConfig) Policy {
	return Policy{
		ErrorHandling:    cfg.ErrorHandling,
		OutputFileExists: cfg.OutputFileExists,
		DeleteOriginal:   cfg.DeleteOriginalOnSuccess,
		PublishOutputs:   cfg.PublishOutputs,
	}
}

// Deps wires an Orchestrator.
type Deps struct {
	StateDir string
	Store    *Store
	Scanner  Scanner
	Runner   Runner
	Paths    PathResolver
	Profiles ProfileCatalog
	Policy   Policy
	Hooks    Hooks
	Logger   *logging.Logger
}

// StartRequest describes a new job.
type StartRequest struct {
	SourceDirectory string
	ProfileID       string
	// Confirm processes the files right after the scan. Otherwise the job
	// stops in awaiting_confirmation.
	Confirm      bool
	ScanProgress scanner.ProgressFunc
	Progress     models.ProgressFunc
}

type fileOutcome int

const (
	fileDone fileOutcome = iota
	fileFailed
	fileCancelled
)

// Orchestrator runs at most one job at a time.
type Orchestrator struct {
	d      Deps
	logger *logging.Logger
	now    func() time.Time

	mu       sync.Mutex
	active   *models.Job
	snapshot *models.Job
	lock     *Lock
}

// New creates an Orchestrator.
func New(d Deps) *Orchestrator {
	logger := d.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	if d.Store == nil {
		d.Store = NewStore(d.StateDir, logger)
	}
	return &Orchestrator{
		d:      d,
		logger: logger.WithComponent("orchestrator"),
		now:    time.Now,
	}
}

// Active returns a copy of the running job, or nil.
func (o *Orchestrator) Active() *models.Job {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active == nil || o.snapshot == nil {
		return nil
	}
	return cloneJob(o.snapshot)
}

// LastJob returns the persisted snapshot of the most recent job, or nil.
func (o *Orchestrator) LastJob() (*models.Job, error) {
	return o.d.Store.Load()
}

// Start scans req.SourceDirectory and, when req.Confirm is set, processes
// the discovered files.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*models.Job, error) {
	job, err := o.newJob(req)
	if err != nil {
		return nil, err
	}
	if err := o.begin(job); err != nil {
		return nil, err
	}
	defer o.end()

	if err := o.scan(ctx, job, req.ScanProgress); err != nil || job.IsTerminal() || !req.Confirm {
		return job, err
	}

	job.Status = models.JobStatusReadyToProcess
	o.persist(ctx, job)
	return o.process(ctx, job, req.Progress, false)
}

// Scan creates a job and scans its directory without processing. The job
// is left awaiting confirmation, or completed when nothing was found.
func (o *Orchestrator) Scan(ctx context.Context, req StartRequest) (*models.Job, error) {
	req.Confirm = false
	return o.Start(ctx, req)
}

// Confirm processes the last job when it is awaiting confirmation.
func (o *Orchestrator) Confirm(ctx context.Context, progress models.ProgressFunc) (*models.Job, error) {
	job, err := o.d.Store.Load()
	if err != nil {
		return nil, err
	}
	if job == nil || job.Status != models.JobStatusAwaitingConfirmation {
		return job, ErrNotAwaitingConfirmation
	}
	return o.Process(ctx, job, progress)
}

// Process runs the per-file loop over job.
func (o *Orchestrator) Process(ctx context.Context, job *models.Job, progress models.ProgressFunc) (*models.Job, error) {
	if err := job.Validate(); err != nil {
		return job, err
	}
	if err := o.begin(job); err != nil {
		return job, err
	}
	defer o.end()

	job.Status = models.JobStatusReadyToProcess
	o.persist(ctx, job)
	return o.process(ctx, job, progress, false)
}

// Resume continues the last job. Tasks left processing or failed are
// retried from the start; completed and skipped tasks are left alone. The
// job-level error from the previous pass is cleared.
func (o *Orchestrator) Resume(ctx context.Context, progress models.ProgressFunc) (*models.Job, error) {
	job, err := o.d.Store.Load()
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNoResumableJob
	}

	if !job.Resumable() {
		if !job.IsTerminal() {
			o.closeUnresumable(ctx, job)
		}
		return job, fmt.Errorf("%w: job %s is %s", ErrNoResumableJob, job.ID, job.Status)
	}

	if err := o.begin(job); err != nil {
		return job, err
	}
	defer o.end()

	job.Status = models.JobStatusResuming
	job.ErrorMsg = ""
	job.CompletedAt = nil
	o.persist(ctx, job)
	return o.process(ctx, job, progress, true)
}

func (o *Orchestrator) newJob(req StartRequest) (*models.Job, error) {
	if _, ok := o.d.Profiles.EncodingProfile(req.ProfileID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, req.ProfileID)
	}

	source, err := filepath.Abs(req.SourceDirectory)
	if err != nil {
		return nil, fmt.Errorf("resolve source directory: %w", err)
	}

	now := o.now()
	return &models.Job{
		ID:              uuid.New().String(),
		SourceDirectory: source,
		ProfileID:       req.ProfileID,
		Status:          models.JobStatusScanning,
		Files:           models.FileTasks{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// begin claims the in-process slot and the cross-process lock.
func (o *Orchestrator) begin(job *models.Job) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.active != nil {
		return fmt.Errorf("%w: job %s", ErrJobActive, o.active.ID)
	}
	lock, err := AcquireLock(o.d.StateDir, job.ID)
	if err != nil {
		return err
	}

	o.active = job
	o.snapshot = cloneJob(job)
	o.lock = lock
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.lock.Release(); err != nil {
		o.logger.WithError(err).Warn("Failed to release job lock")
	}
	o.active = nil
	o.snapshot = nil
	o.lock = nil
}

func (o *Orchestrator) scan(ctx context.Context, job *models.Job, progress scanner.ProgressFunc) error {
	span, ctx := tracing.StartFileSpan(ctx, "job.scan", job.SourceDirectory)
	defer tracing.FinishSpan(span)

	logger := o.logger.WithJobID(job.ID)
	logger.LogJobEvent(job.ID, "scanning", job.Status, map[string]interface{}{
		"source_directory": job.SourceDirectory,
		"profile_id":       job.ProfileID,
	})
	o.persist(ctx, job)

	tasks, err := o.d.Scanner.Scan(ctx, job.SourceDirectory, progress)
	if err != nil {
		tracing.LogError(span, err)
		if ctx.Err() != nil {
			o.finish(ctx, job, models.JobStatusCancelled, "scan cancelled")
			return ctx.Err()
		}
		o.finish(ctx, job, models.JobStatusCriticalError, err.Error())
		return err
	}

	job.Files = tasks
	job.TotalFiles = len(tasks)
	if len(tasks) == 0 {
		o.finish(ctx, job, models.JobStatusCompleted, "no matching files found")
		return nil
	}

	job.Status = models.JobStatusAwaitingConfirmation
	o.persist(ctx, job)
	o.notify(ctx, events.ForJob(events.JobScanned, job))
	logger.Infof("Scan found %d files", len(tasks))
	return nil
}

func (o *Orchestrator) process(ctx context.Context, job *models.Job, progress models.ProgressFunc, resuming bool) (*models.Job, error) {
	span, ctx := tracing.StartSpan(ctx, "job.process")
	tracing.SetTag(span, "job.id", job.ID)
	defer tracing.FinishSpan(span)

	logger := o.logger.WithJobID(job.ID)

	profile, ok := o.d.Profiles.EncodingProfile(job.ProfileID)
	if !ok {
		err := fmt.Errorf("%w: %s", ErrProfileNotFound, job.ProfileID)
		tracing.LogError(span, err)
		now := o.now()
		for _, task := range job.Files {
			if task.Done() {
				continue
			}
			task.Status = models.FileStatusFailedProfile
			task.ErrorMsg = err.Error()
			task.CompletedAt = &now
		}
		o.finish(ctx, job, models.JobStatusCriticalError, err.Error())
		return job, err
	}

	mode := "new"
	if resuming {
		mode = "resume"
	} else {
		job.Status = models.JobStatusInProgress
	}
	if job.StartedAt == nil {
		now := o.now()
		job.StartedAt = &now
	}
	metrics.RecordJobStarted(mode)
	o.persist(ctx, job)
	o.notify(ctx, events.ForJob(events.JobStarted, job))
	logger.LogJobEvent(job.ID, "started", job.Status, map[string]interface{}{
		"total_files": job.TotalFiles,
		"profile":     profile.Name,
		"mode":        mode,
	})

	total := len(job.Files)
	for i, task := range job.Files {
		if ctx.Err() != nil {
			return o.cancelled(ctx, job)
		}
		if task.Done() {
			continue
		}
		if task.Status != models.FileStatusPending {
			if !task.NeedsProcessing() {
				logger.Warnf("Leaving %s with status %s", task.OriginalPath, task.Status)
				continue
			}
			logger.Infof("Retrying %s (was %s)", filepath.Base(task.OriginalPath), task.Status)
			task.Reset()
		}

		outcome := o.processFile(ctx, job, profile, task, i+1, total, progress)
		o.persist(ctx, job)
		o.notify(ctx, events.ForFile(events.FileFinished, job, task))

		switch outcome {
		case fileCancelled:
			return o.cancelled(ctx, job)
		case fileFailed:
			if o.d.Policy.ErrorHandling == ErrorPolicyStop {
				o.finish(ctx, job, models.JobStatusStopped,
					fmt.Sprintf("stopped at %s: %s", filepath.Base(task.OriginalPath), task.ErrorMsg))
				return job, nil
			}
		}
	}

	counts := job.Counts()
	if counts.Failed > 0 {
		o.finish(ctx, job, models.JobStatusCompletedWithErrors,
			fmt.Sprintf("%d of %d files failed", counts.Failed, counts.Total))
	} else {
		o.finish(ctx, job, models.JobStatusCompleted, "")
	}
	return job, nil
}

func (o *Orchestrator) processFile(ctx context.Context, job *models.Job, profile models.EncodingProfile,
	task *models.FileTask, index, total int, progress models.ProgressFunc) fileOutcome {
	span, ctx := tracing.StartFileSpan(ctx, "job.file", task.OriginalPath)
	defer tracing.FinishSpan(span)

	logger := o.logger.WithJobID(job.ID).WithFile(task.OriginalPath)
	started := o.now()

	fail := func(status, msg string) fileOutcome {
		now := o.now()
		task.Status = status
		task.ErrorMsg = msg
		task.CompletedAt = &now
		tracing.SetTag(span, "file.status", status)
		logger.LogFileEvent(job.ID, task.OriginalPath, status, map[string]interface{}{"error": msg})
		metrics.RecordFileFinished(status, now.Sub(started).Seconds())
		return fileFailed
	}

	if task.Media == nil {
		return fail(models.FileStatusFailedProbe, "media information unavailable")
	}
	duration, ok := task.Media.UsableDuration()
	if !ok {
		return fail(models.FileStatusFailedProbe, "unusable media information: "+task.Media.Issue())
	}

	desired, err := o.d.Paths.TranscodeOutputPath(task.OriginalPath, profile)
	if err != nil {
		return fail(models.FileStatusFailed, err.Error())
	}

	output := desired
	if _, err := os.Lstat(desired); err == nil {
		switch o.d.Policy.OutputFileExists {
		case ConflictSkip:
			now := o.now()
			task.Status = models.FileStatusSkippedConflict
			task.ErrorMsg = "output file already exists"
			task.OutputPath = desired
			task.CompletedAt = &now
			logger.LogFileEvent(job.ID, task.OriginalPath, task.Status, map[string]interface{}{"output": desired})
			metrics.RecordFileFinished(task.Status, 0)
			return fileDone
		case ConflictOverwrite:
			logger.Warnf("Overwriting existing output %s", desired)
		default:
			output, err = o.d.Paths.ResolveConflict(desired, task.OriginalPath, profile)
			if err != nil {
				return fail(models.FileStatusFailed, err.Error())
			}
			logger.Infof("Output %s exists, writing %s", filepath.Base(desired), filepath.Base(output))
		}
	}
	if samePath(output, task.OriginalPath) {
		return fail(models.FileStatusFailed, "output path is the input file")
	}

	now := o.now()
	task.OutputPath = output
	task.Status = models.FileStatusProcessing
	task.StartedAt = &now
	task.CompletedAt = nil
	o.persist(ctx, job)

	res := o.d.Runner.Run(ctx, transcoder.Request{
		InputPath:        task.OriginalPath,
		OutputPath:       output,
		Args:             profile.Args,
		ExpectedDuration: duration,
		FileIndex:        index,
		TotalFiles:       total,
		Progress:         o.progressSink(ctx, job.ID, progress),
	})

	if errors.Is(res.Err, transcoder.ErrCancelled) {
		now := o.now()
		task.Status = models.FileStatusCancelled
		task.ErrorMsg = "cancelled"
		task.CompletedAt = &now
		tracing.LogError(span, res.Err)
		metrics.RecordFileFinished(task.Status, now.Sub(started).Seconds())
		return fileCancelled
	}
	if !res.OK() {
		tracing.LogError(span, res.Err)
		return fail(models.FileStatusFailed, res.Message())
	}

	done := o.now()
	task.Status = models.FileStatusCompleted
	task.ErrorMsg = ""
	task.CompletedAt = &done

	if o.d.Policy.DeleteOriginal {
		if err := os.Remove(task.OriginalPath); err != nil {
			logger.WithError(err).Error("Failed to delete original")
			task.ErrorMsg = "failed to delete original: " + err.Error()
		} else {
			logger.Info("Deleted original")
		}
	}
	if o.d.Policy.PublishOutputs && o.d.Hooks.Publisher != nil {
		if location, err := o.d.Hooks.Publisher.PublishOutput(ctx, job.ID, output); err != nil {
			logger.WithError(err).Warn("Failed to publish output")
		} else {
			logger.Infof("Published output to %s", location)
		}
	}

	logger.LogFileEvent(job.ID, task.OriginalPath, task.Status, map[string]interface{}{
		"output":  output,
		"elapsed": res.Elapsed.Seconds(),
	})
	metrics.RecordFileFinished(task.Status, res.Elapsed.Seconds())
	return fileDone
}

func (o *Orchestrator) progressSink(ctx context.Context, jobID string, progress models.ProgressFunc) models.ProgressFunc {
	mirror := o.d.Hooks.Mirror
	if mirror == nil {
		return progress
	}
	return func(p models.Progress) {
		if progress != nil {
			progress(p)
		}
		if err := mirror.MirrorProgress(context.WithoutCancel(ctx), jobID, p); err != nil {
			o.logger.WithError(err).Debug("Failed to mirror progress")
		}
	}
}

func (o *Orchestrator) cancelled(ctx context.Context, job *models.Job) (*models.Job, error) {
	o.finish(ctx, job, models.JobStatusCancelled, "cancelled by operator")
	return job, fmt.Errorf("%w: %v", transcoder.ErrCancelled, ctx.Err())
}

// closeUnresumable finalizes a non-terminal job that has nothing left to
// process, so it is not offered for resumption again.
func (o *Orchestrator) closeUnresumable(ctx context.Context, job *models.Job) {
	now := o.now()
	job.CompletedAt = &now
	job.UpdatedAt = now
	if job.Status == models.JobStatusScanning {
		job.Status = models.JobStatusStopped
		job.ErrorMsg = "scan was interrupted"
	} else {
		job.Status = models.JobStatusCompleted
	}
	if err := o.d.Store.Save(job); err != nil {
		o.logger.WithJobID(job.ID).WithError(err).Error("Failed to persist job snapshot")
	}
}

// finish moves job to a terminal status. Hooks run even when ctx is
// cancelled.
func (o *Orchestrator) finish(ctx context.Context, job *models.Job, status, msg string) {
	ctx = context.WithoutCancel(ctx)
	now := o.now()

	job.Status = status
	if msg != "" {
		job.ErrorMsg = msg
	}
	job.CompletedAt = &now
	o.persist(ctx, job)

	started := job.CreatedAt
	if job.StartedAt != nil {
		started = *job.StartedAt
	}
	metrics.RecordJobFinished(status, now.Sub(started).Seconds())

	counts := job.Counts()
	o.logger.LogJobEvent(job.ID, "finished", status, map[string]interface{}{
		"completed": counts.Completed,
		"failed":    counts.Failed,
		"skipped":   counts.Skipped,
		"message":   job.ErrorMsg,
	})
	o.notify(ctx, events.ForJob(events.JobFinished, job))

	if o.d.Hooks.Archiver != nil {
		if err := o.d.Hooks.Archiver.ArchiveJob(ctx, job); err != nil {
			o.logger.WithJobID(job.ID).WithError(err).Warn("Failed to archive job")
		}
	}
}

// persist writes the snapshot and refreshes the in-memory copy served by
// Active. It is only called from the goroutine running the job.
func (o *Orchestrator) persist(ctx context.Context, job *models.Job) {
	job.UpdatedAt = o.now()
	if err := o.d.Store.Save(job); err != nil {
		o.logger.WithJobID(job.ID).WithError(err).Error("Failed to persist job snapshot")
	}

	o.mu.Lock()
	if o.active == job {
		o.snapshot = cloneJob(job)
	}
	o.mu.Unlock()

	if o.d.Hooks.Mirror != nil {
		if err := o.d.Hooks.Mirror.MirrorJob(context.WithoutCancel(ctx), job); err != nil {
			o.logger.WithError(err).Debug("Failed to mirror job")
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, evt events.Event) {
	if o.d.Hooks.Notifier == nil {
		return
	}
	if err := o.d.Hooks.Notifier.Notify(context.WithoutCancel(ctx), evt); err != nil {
		o.logger.WithError(err).Debugf("Event %s not delivered everywhere", evt.Type)
	}
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}

func cloneJob(job *models.Job) *models.Job {
	out := *job
	out.Files = make(models.FileTasks, len(job.Files))
	for i, f := range job.Files {
		task := *f
		if f.Media != nil {
			media := *f.Media
			task.Media = &media
		}
		out.Files[i] = &task
	}
	return &out
}
