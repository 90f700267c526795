// Package scanner enumerates media files under a directory, probes them and
// turns them into file tasks, repairing suspicious files on the way when
// auto-repair is enabled.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/config"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/repair"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/tracing"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

// ErrNotDirectory is returned when the scan root is missing or not a directory.
var ErrNotDirectory = errors.New("scan root is not a directory")

// Prober reads media metadata.
type Prober interface {
	Probe(ctx context.Context, path string) models.MediaRecord
}

// Repairer runs the repair chain for one file.
type Repairer interface {
	Repair(ctx context.Context, path string, opts repair.Options) repair.Outcome
}

// Ledger is the damaged-file registry as seen by the scanner.
type Ledger interface {
	Add(path, details string, media *models.MediaRecord) (models.DamagedFileEntry, error)
	UpdateStatus(path, status, details string) (bool, error)
}

// ProgressFunc reports the file about to be probed.
type ProgressFunc func(current, total int, name string)

// Options controls discovery and scan-time repair.
type Options struct {
	Recursive  bool
	Extensions []string
	AutoRepair bool
	Verify     bool
}

// OptionsFromConfig builds scanner options from the processing section.
func OptionsFromConfig(cfg config.ProcessingConfig) Options {
	return Options{
		Recursive:  cfg.RecursiveScan,
		Extensions: cfg.Extensions,
		AutoRepair: cfg.AutoRepair,
		Verify:     cfg.VerifyRepairedFiles,
	}
}

// Scanner is the directory scanner.
type Scanner struct {
	prober   Prober
	repairer Repairer
	ledger   Ledger
	opts     Options
	logger   *logging.Logger
}

// New creates a Scanner. repairer and ledger may be nil; without a repairer
// suspicious files are only registered.
func New(prober Prober, repairer Repairer, ledger Ledger, opts Options, logger *logging.Logger) *Scanner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Scanner{
		prober:   prober,
		repairer: repairer,
		ledger:   ledger,
		opts:     opts,
		logger:   logger.WithComponent("scanner"),
	}
}

// Discover lists files under root whose extension is in exts, sorted by path.
// Extension matching is case-insensitive. Without recursive only the top
// level is listed.
func Discover(root string, recursive bool, exts []string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDirectory, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, root)
	}

	allowed := make(map[string]bool, len(exts))
	for _, e := range exts {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		allowed[e] = true
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			// Unreadable subtrees are skipped rather than failing the scan.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && !recursive {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		if allowed[strings.ToLower(filepath.Ext(path))] {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Strings(files)
	return files, nil
}

// Scan discovers and probes every candidate under root. A cancelled context
// returns the tasks built so far together with the context error.
func (s *Scanner) Scan(ctx context.Context, root string, progress ProgressFunc) ([]*models.FileTask, error) {
	span, ctx := tracing.StartFileSpan(ctx, "scanner.scan", root)
	defer tracing.FinishSpan(span)

	files, err := Discover(root, s.opts.Recursive, s.opts.Extensions)
	if err != nil {
		tracing.LogError(span, err)
		return nil, err
	}
	s.logger.Infof("Found %d candidate files in %s", len(files), root)

	tasks := make([]*models.FileTask, 0, len(files))
	for i, path := range files {
		if err := ctx.Err(); err != nil {
			return tasks, err
		}
		if progress != nil {
			progress(i+1, len(files), filepath.Base(path))
		}
		tasks = append(tasks, s.ScanFile(ctx, path))
	}

	tracing.SetTag(span, "scanner.files", len(tasks))
	return tasks, nil
}

// ScanFile probes one file and returns its task.
func (s *Scanner) ScanFile(ctx context.Context, path string) *models.FileTask {
	logger := s.logger.WithFile(path)

	rec := s.prober.Probe(ctx, path)
	if !rec.Suspicious() {
		metrics.RecordScannedFile("healthy")
		return models.NewFileTask(path, rec)
	}

	issue := rec.Issue()
	logger.Warnf("Suspicious media: %s", issue)

	if !s.opts.AutoRepair || s.repairer == nil {
		metrics.RecordScannedFile("suspicious")
		s.register(path, issue, &rec)
		return models.NewFileTask(path, rec)
	}

	opts := repair.AutoRepairOptions(s.opts.Verify)
	opts.Details = issue
	opts.Media = &rec

	out := s.repairer.Repair(ctx, path, opts)
	if !out.Repaired {
		// The chain has already recorded repair_failed.
		logger.WithError(out.Err).Warn("Automatic repair failed")
		metrics.RecordScannedFile("suspicious")
		return models.NewFileTask(path, rec)
	}

	repaired := out.Record
	if !s.opts.Verify {
		repaired = s.prober.Probe(ctx, out.OutputPath)
		if repaired.Suspicious() && s.ledger != nil {
			details := "repaired but still problematic: " + repaired.Issue()
			if _, err := s.ledger.UpdateStatus(path, models.DamagedStatusRepairedWithIssues, details); err != nil {
				logger.WithError(err).Error("Failed to update damaged file registry")
			}
		}
	}

	logger.Infof("Using repaired file %s", out.OutputPath)
	metrics.RecordScannedFile("repaired")

	task := models.NewFileTask(out.OutputPath, repaired)
	task.RepairedFrom = path
	return task
}

func (s *Scanner) register(path, issue string, rec *models.MediaRecord) {
	if s.ledger == nil {
		return
	}
	if _, err := s.ledger.Add(path, issue, rec); err != nil {
		s.logger.WithFile(path).WithError(err).Error("Failed to register damaged file")
	}
}
