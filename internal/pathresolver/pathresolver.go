// Package pathresolver places transcode and repair outputs and generates
// collision-safe file names from rename patterns.
//
// Patterns understand the placeholders {original_stem}, {profile_name},
// {timestamp} (YYYYmmddHHMMSS) and {counter}.
package pathresolver

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/config"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

// MaxAttempts bounds unique-name generation.
const MaxAttempts = 100

// TimestampLayout renders {timestamp}.
const TimestampLayout = "20060102150405"

// ErrConflict is returned when no unique output path can be produced or the
// output directory cannot be created.
var ErrConflict = errors.New("output path conflict")

// Vars supplies placeholder values for RenderPattern.
type Vars struct {
	Stem        string
	ProfileName string
	Timestamp   time.Time
}

// RenderPattern substitutes the placeholders in pattern.
func RenderPattern(pattern string, vars Vars, counter int) string {
	ts := vars.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return strings.NewReplacer(
		"{original_stem}", vars.Stem,
		"{profile_name}", sanitize(vars.ProfileName),
		"{timestamp}", ts.Format(TimestampLayout),
		"{counter}", strconv.Itoa(counter),
	).Replace(pattern)
}

// UniqueOutputPath returns desired if nothing exists there. Otherwise it
// renders pattern with counter 1..MaxAttempts until a free name in the same
// directory is found. Patterns without {counter} get a "_N" suffix from the
// second attempt on. The returned path never exists at call time.
func UniqueOutputPath(desired, pattern string, vars Vars) (string, error) {
	if !exists(desired) {
		return desired, nil
	}

	dir := filepath.Dir(desired)
	ext := filepath.Ext(desired)
	if vars.Stem == "" {
		vars.Stem = strings.TrimSuffix(filepath.Base(desired), ext)
	}
	if vars.Timestamp.IsZero() {
		vars.Timestamp = time.Now()
	}
	hasCounter := strings.Contains(pattern, "{counter}")

	for counter := 1; counter <= MaxAttempts; counter++ {
		stem := RenderPattern(pattern, vars, counter)
		if stem == "" {
			stem = vars.Stem
		}
		if !hasCounter && counter > 1 {
			stem = fmt.Sprintf("%s_%d", stem, counter-1)
		}

		candidate := filepath.Join(dir, stem+ext)
		if !exists(candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: no free name for %s after %d attempts", ErrConflict, filepath.Base(desired), MaxAttempts)
}

// exists treats any stat result other than "not exist" as occupied.
func exists(path string) bool {
	_, err := os.Lstat(path)
	return !errors.Is(err, os.ErrNotExist)
}

func sanitize(name string) string {
	name = strings.TrimSpace(name)
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, name)
}

// Resolver computes output locations from configuration.
type Resolver struct {
	outputDir     string
	repairedDir   string
	renamePattern string
	repairPattern string
	now           func() time.Time
}

// New creates a Resolver.
func New(paths config.PathsConfig, processing config.ProcessingConfig) *Resolver {
	return &Resolver{
		outputDir:     paths.OutputDirectory,
		repairedDir:   paths.RepairedDirectory,
		renamePattern: processing.RenamePattern,
		repairPattern: processing.RepairRenamePattern,
		now:           time.Now,
	}
}

// TranscodeOutputPath returns the desired output path for input under
// profile: <outputDirectory>[/<subdirectory>]/<stem><extension>. The
// directory is created. The path may already exist; see ResolveConflict.
func (r *Resolver) TranscodeOutputPath(input string, profile models.EncodingProfile) (string, error) {
	dir := r.outputDir
	if sub := strings.TrimSpace(profile.Subdirectory); sub != "" {
		dir = filepath.Join(dir, sub)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: create output directory: %v", ErrConflict, err)
	}

	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, stem+profile.Extension()), nil
}

// ResolveConflict renames an existing transcode output using the configured
// rename pattern.
func (r *Resolver) ResolveConflict(desired, input string, profile models.EncodingProfile) (string, error) {
	return UniqueOutputPath(desired, r.renamePattern, Vars{
		Stem:        stemOf(input),
		ProfileName: profile.Name,
		Timestamp:   r.now(),
	})
}

// RepairOutputPath returns a fresh candidate path in the repaired directory
// for input, using ext (with dot) or the input's own extension when empty.
func (r *Resolver) RepairOutputPath(input, ext string) (string, error) {
	if err := os.MkdirAll(r.repairedDir, 0755); err != nil {
		return "", fmt.Errorf("%w: create repaired directory: %v", ErrConflict, err)
	}
	if ext == "" {
		ext = filepath.Ext(input)
	}

	stem := stemOf(input)
	desired := filepath.Join(r.repairedDir, stem+ext)
	return UniqueOutputPath(desired, r.repairPattern, Vars{Stem: stem, Timestamp: r.now()})
}

func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
