package jobs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shirou/gopsutil/process"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/statefile"
)

const (
	lockDirName   = "job.lock"
	lockOwnerFile = "owner.json"
	lockOwnerKind = "job_lock_owner"
)

// LockOwner describes the process holding the job lock.
type LockOwner struct {
	PID       int    `json:"pid"`
	JobID     string `json:"job_id"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// Lock is the cross-process single-active-job lock: a directory in the
// state directory whose creation is atomic.
type Lock struct {
	dir string
}

// AcquireLock takes the job lock for jobID. A lock left behind by a dead
// process on this host is reclaimed.
func AcquireLock(stateDir, jobID string) (*Lock, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	lockDir := filepath.Join(stateDir, lockDirName)
	for attempt := 0; attempt < 2; attempt++ {
		err := os.Mkdir(lockDir, 0755)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("acquire job lock: %w", err)
		}

		owner, ok := ReadLockOwner(stateDir)
		if attempt == 0 && ok && owner.stale() {
			if err := os.RemoveAll(lockDir); err != nil {
				return nil, fmt.Errorf("reclaim stale job lock: %w", err)
			}
			continue
		}
		if ok {
			return nil, fmt.Errorf("%w: job %s (pid=%d created_at=%s host=%s)",
				ErrJobActive, owner.JobID, owner.PID, owner.CreatedAt, owner.Hostname)
		}
		return nil, fmt.Errorf("%w: %s is locked", ErrJobActive, stateDir)
	}

	owner := LockOwner{
		PID:       os.Getpid(),
		JobID:     jobID,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	if err := statefile.Save(filepath.Join(lockDir, lockOwnerFile), lockOwnerKind, owner); err != nil {
		_ = os.RemoveAll(lockDir)
		return nil, fmt.Errorf("write job lock owner: %w", err)
	}

	return &Lock{dir: lockDir}, nil
}

// Release drops the lock. Releasing twice is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.dir == "" {
		return nil
	}
	if err := os.RemoveAll(l.dir); err != nil {
		return fmt.Errorf("release job lock %s: %w", l.dir, err)
	}
	l.dir = ""
	return nil
}

// ReadLockOwner reports the current lock holder, if any.
func ReadLockOwner(stateDir string) (LockOwner, bool) {
	var owner LockOwner
	err := statefile.Load(filepath.Join(stateDir, lockDirName, lockOwnerFile), lockOwnerKind, &owner)
	if err != nil || owner.PID <= 0 {
		return LockOwner{}, false
	}
	return owner, true
}

// stale reports whether the owner is a process on this host that no longer
// exists. Locks from other hosts are never considered stale.
func (o LockOwner) stale() bool {
	if o.Hostname != hostnameOrUnknown() || o.PID == os.Getpid() {
		return false
	}
	alive, err := process.PidExists(int32(o.PID))
	if err != nil {
		return false
	}
	return !alive
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
