// Package registry keeps the persisted ledger of damaged media files.
// Every mutation rewrites the whole document.
package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/statefile"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

const (
	// FileName is the registry document inside the state directory.
	FileName = "damaged_files_registry.json"

	kind = "damaged_file_registry"
)

// Prober re-reads media metadata during verification.
type Prober interface {
	Probe(ctx context.Context, path string) models.MediaRecord
}

type document struct {
	Entries []models.DamagedFileEntry `json:"entries"`
}

// Registry is the damaged-file ledger. It is safe for use by one process;
// concurrent writers in separate processes are not supported.
type Registry struct {
	mu     sync.Mutex
	path   string
	logger *logging.Logger
	now    func() time.Time
}

// New returns a registry stored in stateDir.
func New(stateDir string, logger *logging.Logger) *Registry {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		path:   filepath.Join(stateDir, FileName),
		logger: logger.WithComponent("registry"),
		now:    time.Now,
	}
}

// Path returns the registry document location.
func (r *Registry) Path() string {
	return r.path
}

// Key normalizes a file path into the registry key.
func Key(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

func (r *Registry) load() ([]models.DamagedFileEntry, error) {
	var doc document
	if _, err := statefile.LoadOrReset(r.path, kind, &doc, r.logger); err != nil {
		return nil, err
	}
	return doc.Entries, nil
}

func (r *Registry) save(entries []models.DamagedFileEntry) error {
	if entries == nil {
		entries = []models.DamagedFileEntry{}
	}
	if err := statefile.Save(r.path, kind, document{Entries: entries}); err != nil {
		return fmt.Errorf("save damaged registry: %w", err)
	}
	metrics.SetDamagedFiles(len(entries))
	return nil
}

func indexOf(entries []models.DamagedFileEntry, key string) int {
	for i := range entries {
		if Key(entries[i].Path) == key {
			return i
		}
	}
	return -1
}

// List returns all entries in insertion order.
func (r *Registry) List() ([]models.DamagedFileEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

// Get returns the entry for path.
func (r *Registry) Get(path string) (models.DamagedFileEntry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return models.DamagedFileEntry{}, false, err
	}
	if i := indexOf(entries, Key(path)); i >= 0 {
		return entries[i], true, nil
	}
	return models.DamagedFileEntry{}, false, nil
}

// Add registers path as damaged. An existing entry is refreshed in place
// (timestamp, details, media) and keeps its status and attempt history.
func (r *Registry) Add(path, details string, media *models.MediaRecord) (models.DamagedFileEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return models.DamagedFileEntry{}, err
	}

	key := Key(path)
	var entry models.DamagedFileEntry
	if i := indexOf(entries, key); i >= 0 {
		entries[i].Timestamp = r.now()
		entries[i].ErrorDetails = details
		if media != nil {
			entries[i].Media = media
		}
		entry = entries[i]
	} else {
		entry = models.DamagedFileEntry{
			Path:         key,
			Timestamp:    r.now(),
			ErrorDetails: details,
			Status:       models.DamagedStatusReported,
			Media:        media,
		}
		entries = append(entries, entry)
		r.logger.WithFile(key).Infof("Registered damaged file: %s", details)
	}

	return entry, r.save(entries)
}

// Put upserts a complete entry keyed by its path.
func (r *Registry) Put(entry models.DamagedFileEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return err
	}

	entry.Path = Key(entry.Path)
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	if i := indexOf(entries, entry.Path); i >= 0 {
		entries[i] = entry
	} else {
		entries = append(entries, entry)
	}
	return r.save(entries)
}

// UpdateStatus sets the status of an existing entry. Empty details leave the
// previous details in place. It reports whether the entry existed.
func (r *Registry) UpdateStatus(path, status, details string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return false, err
	}

	i := indexOf(entries, Key(path))
	if i < 0 {
		r.logger.WithFile(path).Warn("Status update for unknown damaged file")
		return false, nil
	}
	entries[i].Status = status
	entries[i].Timestamp = r.now()
	if details != "" {
		entries[i].ErrorDetails = details
	}
	return true, r.save(entries)
}

// Remove deletes the entry for path and reports whether it existed.
func (r *Registry) Remove(path string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return false, err
	}

	i := indexOf(entries, Key(path))
	if i < 0 {
		return false, nil
	}
	entries = append(entries[:i], entries[i+1:]...)
	return true, r.save(entries)
}

// Clear removes every entry.
func (r *Registry) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("Clearing damaged file registry")
	return r.save(nil)
}

// VerifyAll re-probes every entry, drops the ones that are readable again
// and returns the entries that remain. progress, when set, is called before
// each probe. A cancelled context keeps the unverified remainder.
func (r *Registry) VerifyAll(ctx context.Context, prober Prober, progress func(current, total int, path string)) ([]models.DamagedFileEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load()
	if err != nil {
		return nil, err
	}

	kept := make([]models.DamagedFileEntry, 0, len(entries))
	removed := 0
	for i, entry := range entries {
		if ctx.Err() != nil {
			kept = append(kept, entries[i:]...)
			break
		}
		if progress != nil {
			progress(i+1, len(entries), entry.Path)
		}

		rec := prober.Probe(ctx, entry.Path)
		if !rec.Suspicious() {
			r.logger.WithFile(entry.Path).Info("Damaged file is readable again, removing from registry")
			removed++
			continue
		}
		kept = append(kept, entry)
	}

	if removed > 0 {
		if err := r.save(kept); err != nil {
			return nil, err
		}
	}
	r.logger.Infof("Verification finished: %d removed, %d remaining", removed, len(kept))
	return kept, nil
}
