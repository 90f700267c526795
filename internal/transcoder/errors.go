package transcoder

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrLaunch means the process could not be started (missing tool or input).
	ErrLaunch = errors.New("process launch failed")
	// ErrTimeout means the process overran its deadline and was killed.
	ErrTimeout = errors.New("process deadline exceeded")
	// ErrExit means the process exited with a code that is not accepted.
	ErrExit = errors.New("process exited with error")
	// ErrCancelled means the caller cancelled the run.
	ErrCancelled = errors.New("process cancelled")
)

// ExitError reports a non-accepted exit code.
type ExitError struct {
	Tool string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.Code)
}

// Is lets errors.Is(err, ErrExit) match.
func (e *ExitError) Is(target error) bool {
	return target == ErrExit
}

// Result is the outcome of one external process run.
type Result struct {
	Err         error
	ExitCode    int
	Elapsed     time.Duration
	Timeout     time.Duration
	Diagnostics string
}

// OK reports whether the run succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Message returns a short human-readable failure reason, or "" on success.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// kind maps the result onto a metrics label.
func (r Result) kind() string {
	switch {
	case r.Err == nil:
		return "ok"
	case errors.Is(r.Err, ErrTimeout):
		return "timeout"
	case errors.Is(r.Err, ErrCancelled):
		return "cancelled"
	case errors.Is(r.Err, ErrLaunch):
		return "launch_error"
	default:
		return "exit_error"
	}
}
