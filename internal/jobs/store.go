package jobs

import (
	"fmt"
	"path/filepath"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/statefile"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

const (
	// SnapshotFile holds the last job inside the state directory.
	SnapshotFile = "last_job_state.json"

	snapshotKind = "job_snapshot"
)

// Store persists the snapshot of the most recent job.
type Store struct {
	path   string
	logger *logging.Logger
}

// NewStore returns a store rooted at stateDir.
func NewStore(stateDir string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		path:   filepath.Join(stateDir, SnapshotFile),
		logger: logger.WithComponent("job_store"),
	}
}

// Path returns the snapshot location.
func (s *Store) Path() string {
	return s.path
}

// Save replaces the snapshot with job.
func (s *Store) Save(job *models.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid job %s: %w", job.ID, err)
	}
	return statefile.Save(s.path, snapshotKind, job)
}

// Load returns the last job, or nil when there is none. A snapshot that
// cannot be decoded or violates the job invariants is backed up and treated
// as absent.
func (s *Store) Load() (*models.Job, error) {
	var job models.Job
	found, err := statefile.LoadOrReset(s.path, snapshotKind, &job, s.logger)
	if err != nil || !found {
		return nil, err
	}

	if err := job.Validate(); err != nil {
		backup, berr := statefile.BackupCorrupt(s.path, "invalid_snapshot")
		if berr != nil {
			return nil, fmt.Errorf("%v; %w", err, berr)
		}
		s.logger.WithError(err).Warnf("Invalid job snapshot moved to %s", backup)
		return nil, nil
	}
	return &job, nil
}
