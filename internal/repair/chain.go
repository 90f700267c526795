// Package repair runs an ordered chain of repair strategies against a
// damaged media file and verifies each candidate before accepting it.
package repair

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/config"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/tracing"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/transcoder"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

var (
	// ErrVerification means a candidate was produced but does not re-probe as readable.
	ErrVerification = errors.New("repaired file failed verification")
	// ErrNotApplicable means a strategy does not apply to the file's container.
	ErrNotApplicable = errors.New("strategy does not apply")
	// ErrExhausted means every enabled strategy was tried without success.
	ErrExhausted = errors.New("all repair strategies failed")
	// ErrNoStrategies means nothing is enabled.
	ErrNoStrategies = errors.New("no repair strategies enabled")
	// ErrUnknownStrategy means a single-choice selection names no enabled strategy.
	ErrUnknownStrategy = errors.New("unknown repair strategy")
	// ErrSelectionRequired means single-choice mode found several strategies and no selection.
	ErrSelectionRequired = errors.New("repair strategy selection required")
)

// ProcessRunner executes the external tools.
type ProcessRunner interface {
	Run(ctx context.Context, req transcoder.Request) transcoder.Result
	Exec(ctx context.Context, req transcoder.ExecRequest) transcoder.Result
}

// Prober verifies candidates.
type Prober interface {
	Probe(ctx context.Context, path string) models.MediaRecord
}

// PathResolver provides collision-safe candidate paths.
type PathResolver interface {
	RepairOutputPath(input, ext string) (string, error)
}

// Ledger is the damaged-file registry as seen by the chain.
type Ledger interface {
	Get(path string) (models.DamagedFileEntry, bool, error)
	Put(entry models.DamagedFileEntry) error
	Remove(path string) (bool, error)
}

// Options selects strategies and bookkeeping for one repair.
type Options struct {
	// Builtins lists enabled built-in strategy ids in order.
	Builtins []string
	// UseProfiles enables custom repair profiles filtered by ProfileIDs.
	UseProfiles bool
	ProfileIDs  []string
	// Sequential tries strategies in order until one succeeds. Otherwise
	// exactly one strategy runs: Selected, or the only enabled one.
	// A non-empty Selected always runs alone.
	Sequential bool
	Selected   string
	Verify     bool
	// KeepRegistryEntry marks a repaired file in the registry instead of
	// removing its entry.
	KeepRegistryEntry bool
	// Details and Media seed a new registry entry on failure.
	Details  string
	Media    *models.MediaRecord
	Progress models.ProgressFunc
}

// OptionsFromConfig builds interactive repair options from configuration.
func OptionsFromConfig(cfg config.ProcessingConfig) Options {
	return Options{
		Builtins:    cfg.EnabledBuiltinStrategies,
		UseProfiles: cfg.UseCustomRepairProfiles,
		ProfileIDs:  cfg.EnabledRepairProfileIDs,
		Sequential:  cfg.AttemptSequentially,
		Verify:      cfg.VerifyRepairedFiles,
	}
}

// AutoRepairOptions is the scan-time configuration: only the default
// stream-copy strategy, with the registry entry kept as a record.
func AutoRepairOptions(verify bool) Options {
	return Options{
		Builtins:          []string{StrategyFFmpegCopy},
		Sequential:        true,
		Verify:            verify,
		KeepRegistryEntry: true,
	}
}

// Outcome is the result of a chain run.
type Outcome struct {
	Repaired   bool
	OutputPath string
	Strategy   string
	// Record is the verification probe of OutputPath when Verify was set.
	Record   models.MediaRecord
	Attempts []models.RepairAttempt
	Err      error
}

// Chain is the repair strategy chain.
type Chain struct {
	runner       ProcessRunner
	prober       Prober
	paths        PathResolver
	ledger       Ledger
	profiles     []models.RepairProfile
	mkvmergePath string
	timeout      time.Duration
	logger       *logging.Logger
	now          func() time.Time
}

// NewChain creates a Chain. ledger may be nil.
func NewChain(runner ProcessRunner, prober Prober, paths PathResolver, ledger Ledger,
	profiles []models.RepairProfile, mkvmergePath string, timeout time.Duration, logger *logging.Logger) *Chain {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Chain{
		runner:       runner,
		prober:       prober,
		paths:        paths,
		ledger:       ledger,
		profiles:     profiles,
		mkvmergePath: mkvmergePath,
		timeout:      timeout,
		logger:       logger.WithComponent("repair"),
		now:          time.Now,
	}
}

// Strategies returns the enabled strategies in registration order:
// built-ins first, then custom profiles in catalog order.
func (c *Chain) Strategies(opts Options) []Strategy {
	var out []Strategy
	seen := make(map[string]bool)

	for _, id := range opts.Builtins {
		s, ok := Builtin(id)
		if !ok {
			c.logger.Warnf("Unknown built-in repair strategy %q ignored", id)
			continue
		}
		if !seen[s.ID] {
			out = append(out, s)
			seen[s.ID] = true
		}
	}

	if opts.UseProfiles {
		allowed := make(map[string]bool, len(opts.ProfileIDs))
		for _, id := range opts.ProfileIDs {
			allowed[id] = true
		}
		for _, p := range c.profiles {
			if allowed[p.ID] && !seen[p.ID] {
				out = append(out, FromProfile(p))
				seen[p.ID] = true
			}
		}
	}
	return out
}

func (c *Chain) plan(opts Options) ([]Strategy, error) {
	strategies := c.Strategies(opts)
	if len(strategies) == 0 {
		return nil, ErrNoStrategies
	}
	if opts.Sequential && opts.Selected == "" {
		return strategies, nil
	}

	if opts.Selected == "" {
		if len(strategies) == 1 {
			return strategies, nil
		}
		return nil, ErrSelectionRequired
	}
	for _, s := range strategies {
		if s.ID == opts.Selected {
			return []Strategy{s}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownStrategy, opts.Selected)
}

// Repair tries the enabled strategies against path. On success the
// candidate is kept and the registry entry is updated or removed; on failure
// no candidate remains on disk and the entry is marked repair_failed.
func (c *Chain) Repair(ctx context.Context, path string, opts Options) Outcome {
	span, ctx := tracing.StartFileSpan(ctx, "repair.chain", path)
	defer tracing.FinishSpan(span)

	logger := c.logger.WithFile(path)

	if _, err := os.Stat(path); err != nil {
		out := Outcome{Err: fmt.Errorf("repair input: %w", err)}
		tracing.LogError(span, out.Err)
		return out
	}

	strategies, err := c.plan(opts)
	if err != nil {
		tracing.LogError(span, err)
		return Outcome{Err: err}
	}

	var out Outcome
	var lastReason string

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			out.Err = fmt.Errorf("%w: %v", transcoder.ErrCancelled, err)
			tracing.LogError(span, out.Err)
			return out
		}

		attempt, candidate, rec := c.attempt(ctx, path, s, opts)
		out.Attempts = append(out.Attempts, attempt)
		metrics.RecordRepairAttempt(s.ID, attempt.Outcome)

		if attempt.Outcome == models.RepairOutcomeRepaired {
			logger.Infof("Repaired with %s: %s", s.Name, candidate)
			out.Repaired = true
			out.OutputPath = candidate
			out.Strategy = s.ID
			out.Record = rec
			break
		}

		lastReason = attempt.Reason
		logger.Warnf("Repair strategy %s %s: %s", s.Name, attempt.Outcome, attempt.Reason)
	}

	metrics.RecordRepair(out.Repaired)
	tracing.SetTag(span, "repair.repaired", out.Repaired)

	if !out.Repaired {
		out.Err = fmt.Errorf("%w: %s", ErrExhausted, lastReason)
		tracing.LogError(span, out.Err)
	}

	if err := c.record(path, opts, out); err != nil {
		logger.WithError(err).Error("Failed to update damaged file registry")
	}
	return out
}

// attempt runs one strategy and returns the attempt record, the candidate
// path and the verification probe.
func (c *Chain) attempt(ctx context.Context, path string, s Strategy, opts Options) (models.RepairAttempt, string, models.MediaRecord) {
	attempt := models.RepairAttempt{StrategyID: s.ID, Strategy: s.Name, At: c.now()}

	if !s.Applies(path) {
		attempt.Outcome = models.RepairOutcomeNotApplied
		attempt.Reason = fmt.Sprintf("%v: only for %s files", ErrNotApplicable, s.AppliesTo)
		return attempt, "", models.MediaRecord{}
	}

	candidate, err := c.paths.RepairOutputPath(path, s.OutputExt)
	if err != nil {
		attempt.Outcome = models.RepairOutcomeFailed
		attempt.Reason = err.Error()
		return attempt, "", models.MediaRecord{}
	}

	span, ctx := tracing.StartFileSpan(ctx, "repair.strategy", path)
	tracing.SetTag(span, "repair.strategy", s.ID)
	defer tracing.FinishSpan(span)

	res := c.run(ctx, path, candidate, s, opts)
	if !res.OK() {
		c.removeCandidate(candidate)
		attempt.Outcome = models.RepairOutcomeFailed
		attempt.Reason = res.Message()
		tracing.LogError(span, res.Err)
		return attempt, "", models.MediaRecord{}
	}

	rec := models.MediaRecord{Path: candidate}
	if opts.Verify {
		rec = c.prober.Probe(ctx, candidate)
		if rec.Suspicious() {
			c.removeCandidate(candidate)
			attempt.Outcome = models.RepairOutcomeUnverifiable
			attempt.Reason = fmt.Sprintf("%v: %s", ErrVerification, rec.Issue())
			tracing.LogError(span, ErrVerification)
			return attempt, "", rec
		}
	}

	attempt.Outcome = models.RepairOutcomeRepaired
	return attempt, candidate, rec
}

func (c *Chain) run(ctx context.Context, input, candidate string, s Strategy, opts Options) transcoder.Result {
	if s.remux {
		res := c.runner.Exec(ctx, transcoder.ExecRequest{
			Tool:            c.mkvmergePath,
			Args:            []string{"--output", candidate, input},
			OutputPath:      candidate,
			Timeout:         c.timeout,
			AcceptExitCodes: []int{0, 1},
		})
		if res.OK() && res.ExitCode == 1 {
			c.logger.WithFile(input).Warnf("mkvmerge finished with warnings: %s", res.Diagnostics)
		}
		return res
	}

	var expected float64
	if opts.Media != nil {
		expected, _ = opts.Media.UsableDuration()
	}
	return c.runner.Run(ctx, transcoder.Request{
		InputPath:        input,
		OutputPath:       candidate,
		Args:             s.Args(),
		ExpectedDuration: expected,
		Progress:         opts.Progress,
		Timeout:          c.timeout,
	})
}

func (c *Chain) record(path string, opts Options, out Outcome) error {
	if c.ledger == nil {
		return nil
	}

	if out.Repaired && !opts.KeepRegistryEntry {
		_, err := c.ledger.Remove(path)
		return err
	}

	entry, ok, err := c.ledger.Get(path)
	if err != nil {
		return err
	}
	if !ok {
		entry = models.DamagedFileEntry{Path: path, ErrorDetails: opts.Details, Media: opts.Media}
	}
	entry.Timestamp = c.now()
	entry.Attempts = append(entry.Attempts, out.Attempts...)

	if out.Repaired {
		entry.Status = models.DamagedStatusRepaired
		entry.RepairedPath = out.OutputPath
	} else {
		entry.Status = models.DamagedStatusRepairFailed
		if entry.ErrorDetails == "" && out.Err != nil {
			entry.ErrorDetails = out.Err.Error()
		}
	}
	return c.ledger.Put(entry)
}

func (c *Chain) removeCandidate(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.WithError(err).Warnf("Failed to remove repair candidate %s", path)
	}
}
