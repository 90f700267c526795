package transcoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/procgroup"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

const (
	// DefaultJoinTimeout bounds how long the runner waits for the output
	// pipes once the process has exited or was killed.
	DefaultJoinTimeout = 5 * time.Second

	diagnosticLines = 200
)

// Request describes one ffmpeg conversion.
type Request struct {
	InputPath  string
	OutputPath string
	// Args are the profile arguments placed between input and output.
	Args []string
	// ExpectedDuration is the input duration in seconds; <= 0 means unknown.
	ExpectedDuration float64
	FileIndex        int
	TotalFiles       int
	Progress         models.ProgressFunc
	// Timeout overrides the policy deadline when positive.
	Timeout time.Duration
}

// Runner executes ffmpeg with progress tracking and a deadline.
type Runner struct {
	ffmpegPath  string
	policy      TimeoutPolicy
	joinTimeout time.Duration
	logger      *logging.Logger
}

// NewRunner creates a Runner for the given ffmpeg executable.
func NewRunner(ffmpegPath string, policy TimeoutPolicy, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Runner{
		ffmpegPath:  ffmpegPath,
		policy:      policy,
		joinTimeout: DefaultJoinTimeout,
		logger:      logger.WithComponent("transcoder"),
	}
}

// BuildArgs assembles the full ffmpeg argument list for a request.
func BuildArgs(input, output string, args []string) []string {
	full := make([]string, 0, len(args)+8)
	full = append(full, "-y", "-nostdin", "-i", input)
	full = append(full, args...)
	full = append(full, "-progress", "pipe:1", output)
	return full
}

// Run converts req.InputPath into req.OutputPath. Partial output is removed
// on any failure. The returned Result is never nil-valued; inspect Err.
func (r *Runner) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	res := r.run(ctx, req, start)
	res.Elapsed = time.Since(start)

	metrics.RecordProcessRun("ffmpeg", res.kind())
	return res
}

func (r *Runner) run(ctx context.Context, req Request, start time.Time) Result {
	logger := r.logger.WithFile(req.InputPath)

	if _, err := exec.LookPath(r.ffmpegPath); err != nil {
		return Result{Err: fmt.Errorf("%w: ffmpeg not found at %q: %v", ErrLaunch, r.ffmpegPath, err), ExitCode: -1}
	}
	if _, err := os.Stat(req.InputPath); err != nil {
		return Result{Err: fmt.Errorf("%w: input file: %v", ErrLaunch, err), ExitCode: -1}
	}
	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0755); err != nil {
		return Result{Err: fmt.Errorf("%w: output directory: %v", ErrLaunch, err), ExitCode: -1}
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.policy.Compute(req.ExpectedDuration)
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	args := BuildArgs(req.InputPath, req.OutputPath, req.Args)
	cmd := exec.CommandContext(runCtx, r.ffmpegPath, args...)
	// Helpers that inherit the pipes must not hold Run past the process exit.
	cmd.WaitDelay = r.joinTimeout
	procgroup.Set(cmd)

	stdout, stdoutW := io.Pipe()
	stderr, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	logger.WithFields(map[string]interface{}{
		"output":  req.OutputPath,
		"timeout": timeout.String(),
	}).Debugf("Starting ffmpeg: %s", strings.Join(args, " "))

	if err := cmd.Start(); err != nil {
		stdoutW.Close()
		stderrW.Close()
		return Result{Err: fmt.Errorf("%w: %v", ErrLaunch, err), ExitCode: -1, Timeout: timeout}
	}

	tracker := newProgressTracker(req, filepath.Base(req.InputPath), start)
	diag := newTailBuffer(diagnosticLines)

	var g errgroup.Group
	g.Go(func() error {
		defer stdout.Close()
		return r.drain(stdout, "stdout", tracker, nil)
	})
	g.Go(func() error {
		defer stderr.Close()
		return r.drain(stderr, "stderr", tracker, diag)
	})

	waitErr := r.join(cmd, &g, stdoutW, stderrW)

	res := Result{Timeout: timeout, Diagnostics: diag.String()}
	switch {
	case waitErr == nil && cmd.ProcessState != nil && cmd.ProcessState.Success():
		// Exited cleanly; a deadline passing while the pipes drained is not a timeout.
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.Err = fmt.Errorf("%w: ffmpeg exceeded %s", ErrTimeout, timeout)
		res.ExitCode = -1
	case ctx.Err() != nil:
		res.Err = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		res.ExitCode = -1
	case waitErr != nil:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			res.Err = &ExitError{Tool: "ffmpeg", Code: res.ExitCode}
		} else {
			res.ExitCode = -1
			res.Err = fmt.Errorf("%w: %v", ErrExit, waitErr)
		}
	}

	if res.Err != nil {
		logger.LogDiagnostics("ffmpeg", res.ExitCode, res.Diagnostics)
		removePartial(req.OutputPath, logger)
		return res
	}

	final := tracker.finish()
	if req.ExpectedDuration > 0 && final.ElapsedSeconds > 0 {
		metrics.RecordTranscodingSpeed(req.ExpectedDuration / final.ElapsedSeconds)
	}
	logger.LogTranscodingProgress(filepath.Base(req.InputPath), 100, 0, fmt.Sprintf("%.2fx", tracker.lastSpeed()))

	return res
}

// join waits for the process and then for both readers. Wait itself is
// bounded by WaitDelay once the process exits or is killed, so a helper that
// keeps the pipes open cannot stall the runner.
func (r *Runner) join(cmd *exec.Cmd, g *errgroup.Group, pipes ...*io.PipeWriter) error {
	waitErr := cmd.Wait()
	if waitErr != nil && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		// ErrWaitDelay or a copy error: the tool itself finished.
		r.logger.WithError(waitErr).Warn("Output pipes did not close cleanly after exit")
		waitErr = nil
	}
	for _, w := range pipes {
		w.Close()
	}

	drained := make(chan error, 1)
	go func() { drained <- g.Wait() }()
	select {
	case err := <-drained:
		if err != nil {
			r.logger.WithError(err).Warn("Output reader failed")
		}
	case <-time.After(r.joinTimeout):
		r.logger.Error("Output readers did not terminate")
	}
	return waitErr
}

func (r *Runner) drain(rd io.Reader, stream string, tracker *progressTracker, diag *tailBuffer) error {
	scanner := newLineScanner(rd)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		r.logger.LogProcessOutput("ffmpeg", stream, line)
		tracker.consume(line)
		if diag != nil && !isStatsLine(line) {
			diag.Add(line)
		}
	}
	// A closed pipe after kill is expected.
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

func isStatsLine(line string) bool {
	line = strings.TrimSpace(line)
	return strings.HasPrefix(line, "frame=") || strings.HasPrefix(line, "size=")
}

func removePartial(path string, logger *logging.Logger) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WithError(err).Warnf("Failed to remove partial output %s", path)
	}
}

// tailBuffer keeps the last n lines written to it.
type tailBuffer struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (b *tailBuffer) Add(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append(b.lines, line)
	if len(b.lines) > b.max {
		b.lines = b.lines[len(b.lines)-b.max:]
	}
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Join(b.lines, "\n")
}
