package transcoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/procgroup"
)

// ExecRequest describes a single-shot tool invocation without progress,
// such as an mkvmerge remux.
type ExecRequest struct {
	// Tool is the executable path or name.
	Tool string
	Args []string
	// OutputPath is removed when the run fails.
	OutputPath string
	Timeout    time.Duration
	// AcceptExitCodes lists exit codes treated as success. Empty means {0}.
	AcceptExitCodes []int
}

// Exec runs a tool to completion and captures its combined output.
func (r *Runner) Exec(ctx context.Context, req ExecRequest) Result {
	start := time.Now()
	name := filepath.Base(req.Tool)
	res := r.exec(ctx, req, name)
	res.Elapsed = time.Since(start)

	metrics.RecordProcessRun(name, res.kind())
	if res.Err != nil {
		r.logger.LogDiagnostics(name, res.ExitCode, res.Diagnostics)
		removePartial(req.OutputPath, r.logger)
	}
	return res
}

func (r *Runner) exec(ctx context.Context, req ExecRequest, name string) Result {
	if _, err := exec.LookPath(req.Tool); err != nil {
		return Result{Err: fmt.Errorf("%w: %s not found: %v", ErrLaunch, name, err), ExitCode: -1}
	}

	runCtx, cancel := ctx, context.CancelFunc(func() {})
	if req.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, req.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, req.Tool, req.Args...)
	cmd.WaitDelay = r.joinTimeout
	procgroup.Set(cmd)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	r.logger.Debugf("Running %s %s", name, strings.Join(req.Args, " "))

	err := cmd.Run()
	if err != nil && cmd.ProcessState != nil && cmd.ProcessState.Success() {
		// A child still held the output pipes when WaitDelay expired.
		r.logger.WithError(err).Warnf("%s output pipes did not close cleanly after exit", name)
		err = nil
	}
	res := Result{Timeout: req.Timeout, Diagnostics: strings.TrimSpace(output.String())}

	switch {
	case err == nil && cmd.ProcessState != nil && cmd.ProcessState.Success():
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		res.Err = fmt.Errorf("%w: %s exceeded %s", ErrTimeout, name, req.Timeout)
		res.ExitCode = -1
	case ctx.Err() != nil:
		res.Err = fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		res.ExitCode = -1
	case err != nil:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			res.Err = fmt.Errorf("%w: %v", ErrLaunch, err)
			res.ExitCode = -1
			break
		}
		res.ExitCode = exitErr.ExitCode()
		if !accepted(res.ExitCode, req.AcceptExitCodes) {
			res.Err = &ExitError{Tool: name, Code: res.ExitCode}
		}
	}
	return res
}

func accepted(code int, codes []int) bool {
	if len(codes) == 0 {
		return code == 0
	}
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}
