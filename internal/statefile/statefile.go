// Package statefile persists typed JSON documents with atomic replacement.
//
// Every document is wrapped in an envelope naming its kind, so a file can
// never be decoded into the wrong type:
//
//	{"kind": "job_snapshot", "version": 1, "saved_at": "...", "data": {...}}
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/renameio/v2"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
)

// Version is the current envelope version.
const Version = 1

var (
	// ErrCorrupt is returned when a file cannot be decoded as the expected kind.
	ErrCorrupt = errors.New("corrupt state file")
	// ErrNotFound is returned when the file does not exist.
	ErrNotFound = errors.New("state file not found")
)

type envelope struct {
	Kind    string          `json:"kind"`
	Version int             `json:"version"`
	SavedAt time.Time       `json:"saved_at"`
	Data    json.RawMessage `json:"data"`
}

// Save writes payload to path as the given kind. The previous content is
// replaced atomically; readers never observe a partial document.
func Save(path, kind string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", kind, err)
	}

	doc, err := json.MarshalIndent(envelope{
		Kind:    kind,
		Version: Version,
		SavedAt: time.Now().UTC(),
		Data:    data,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", kind, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0644))
	if err != nil {
		return fmt.Errorf("create pending %s file: %w", kind, err)
	}
	defer pendingFile.Cleanup() //nolint:errcheck

	if _, err := pendingFile.Write(append(doc, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", kind, err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", kind, err)
	}
	return nil
}

// Load decodes the document at path into out. It returns ErrNotFound when
// the file is absent and ErrCorrupt when the content is unusable.
func Load(path, kind string, out interface{}) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if env.Kind != kind {
		return fmt.Errorf("%w: %s: kind %q, want %q", ErrCorrupt, path, env.Kind, kind)
	}
	if env.Version < 1 || env.Version > Version {
		return fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, path, env.Version)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("%w: %s: empty data", ErrCorrupt, path)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return nil
}

var reasonCleaner = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// BackupCorrupt moves path aside as <path>.backup_<reason>_<YYYYmmddHHMMSS>
// and returns the backup location.
func BackupCorrupt(path, reason string) (string, error) {
	tag := reasonCleaner.ReplaceAllString(reason, "_")
	if tag == "" {
		tag = "corrupt"
	}
	backup := fmt.Sprintf("%s.backup_%s_%s", path, tag, time.Now().Format("20060102150405"))
	if err := os.Rename(path, backup); err != nil {
		return "", fmt.Errorf("backup %s: %w", path, err)
	}
	return backup, nil
}

// LoadOrReset loads path into out. A missing file leaves out untouched and
// reports false. A corrupt file is backed up, logged and also reports false,
// so callers fall back to defaults.
func LoadOrReset(path, kind string, out interface{}, logger *logging.Logger) (bool, error) {
	err := Load(path, kind, out)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	case errors.Is(err, ErrCorrupt):
		backup, berr := BackupCorrupt(path, "decode_error")
		if berr != nil {
			return false, fmt.Errorf("%v; %w", err, berr)
		}
		if logger != nil {
			logger.WithError(err).Warnf("Corrupt %s moved to %s, using defaults", kind, backup)
		}
		return false, nil
	default:
		return false, err
	}
}
