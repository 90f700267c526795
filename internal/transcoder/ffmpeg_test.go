package transcoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/testutil"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

// lastArg assigns the final positional parameter (the output path) to $last.
const lastArg = `for last; do :; done`

func newTestRunner(t *testing.T, body string) *Runner {
	t.Helper()
	shim := testutil.WriteShim(t, "ffmpeg", body)
	runner := NewRunner(shim, TimeoutPolicy{}, logging.Nop())
	runner.joinTimeout = 2 * time.Second
	return runner
}

func newInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.mp4")
	testutil.Touch(t, path, "source")
	return path
}

type progressRecorder struct {
	mu      sync.Mutex
	updates []models.Progress
}

func (r *progressRecorder) record(p models.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, p)
}

func (r *progressRecorder) all() []models.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Progress(nil), r.updates...)
}

func TestBuildArgs(t *testing.T) {
	args := BuildArgs("in.mkv", "out.mp4", []string{"-c:v", "libx264"})

	assert.Equal(t, []string{
		"-y", "-nostdin", "-i", "in.mkv",
		"-c:v", "libx264",
		"-progress", "pipe:1", "out.mp4",
	}, args)
}

func TestRunSuccessReportsProgress(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := newTestRunner(t, lastArg+`
printf 'fps=25.00\nout_time_ms=5000000\nspeed=1.5x\nprogress=continue\n'
printf 'out_time_ms=10000000\nprogress=end\n'
echo "Stream mapping: copy" >&2
echo converted > "$last"
`)

	output := filepath.Join(t.TempDir(), "nested", "out.mkv")
	recorder := &progressRecorder{}

	res := runner.Run(context.Background(), Request{
		InputPath:        newInput(t),
		OutputPath:       output,
		ExpectedDuration: 10,
		FileIndex:        1,
		TotalFiles:       3,
		Progress:         recorder.record,
	})

	require.True(t, res.OK(), res.Message())
	assert.Zero(t, res.ExitCode)
	assert.Empty(t, res.Message())
	assert.FileExists(t, output)

	updates := recorder.all()
	require.Len(t, updates, 3)
	assert.Equal(t, 50.0, updates[0].Percentage)
	require.NotNil(t, updates[0].FPS)
	assert.Equal(t, 25.0, *updates[0].FPS)
	assert.Equal(t, "1.5x", updates[0].Speed)
	assert.Equal(t, 100.0, updates[1].Percentage)

	final := updates[2]
	assert.True(t, final.Done)
	assert.Equal(t, 100.0, final.Percentage)
	assert.Equal(t, output, final.OutputPath)
	assert.Equal(t, 3, final.TotalFiles)
}

func TestRunNonZeroExitRemovesPartialOutput(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := newTestRunner(t, lastArg+`
echo partial > "$last"
echo "Invalid data found when processing input" >&2
exit 1
`)

	output := filepath.Join(t.TempDir(), "out.mp4")
	res := runner.Run(context.Background(), Request{InputPath: newInput(t), OutputPath: output})

	require.False(t, res.OK())
	assert.True(t, errors.Is(res.Err, ErrExit))
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Diagnostics, "Invalid data found")
	assert.NoFileExists(t, output)

	var exitErr *ExitError
	require.True(t, errors.As(res.Err, &exitErr))
	assert.Equal(t, 1, exitErr.Code)
}

func TestRunSerialisesProgressAcrossStreams(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := newTestRunner(t, lastArg+`
i=0
while [ $i -lt 400 ]; do
	printf 'out_time_ms=%d\nprogress=continue\n' $((i * 10000))
	printf 'frame=%d fps=25 size=1kB time=00:00:%02d.%02d bitrate=1.0kbits/s speed=1x\n' $i $((i / 100)) $((i % 100)) >&2
	i=$((i + 1))
done
echo converted > "$last"
`)

	var (
		inFlight    int32
		maxInFlight int32
		calls       int
		percentages []float64
	)
	sink := func(p models.Progress) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		time.Sleep(50 * time.Microsecond)
		// Unsynchronised on purpose: overlapping calls would trip the race detector.
		calls++
		percentages = append(percentages, p.Percentage)
		atomic.AddInt32(&inFlight, -1)
	}

	res := runner.Run(context.Background(), Request{
		InputPath:        newInput(t),
		OutputPath:       filepath.Join(t.TempDir(), "out.mkv"),
		ExpectedDuration: 10,
		Progress:         sink,
	})

	require.True(t, res.OK(), res.Message())
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	require.NotEmpty(t, percentages)
	for i := 1; i < len(percentages); i++ {
		require.GreaterOrEqual(t, percentages[i], percentages[i-1], "update %d went backwards", i)
	}
	assert.Equal(t, 100.0, percentages[len(percentages)-1])
	assert.Equal(t, len(percentages), calls)
}

func TestRunNotBlockedByChildHoldingPipes(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	body := lastArg + `
echo converted > "$last"
sleep 8 &
exit 0
`
	tests := []struct {
		name    string
		timeout time.Duration
	}{
		{name: "no deadline"},
		{name: "deadline passes while pipes drain", timeout: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newTestRunner(t, body)
			output := filepath.Join(t.TempDir(), "out.mkv")

			start := time.Now()
			res := runner.Run(context.Background(), Request{
				InputPath:  newInput(t),
				OutputPath: output,
				Timeout:    tt.timeout,
			})

			require.True(t, res.OK(), res.Message())
			assert.Less(t, time.Since(start), 6*time.Second)
			assert.FileExists(t, output)
		})
	}
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := newTestRunner(t, lastArg+`
echo partial > "$last"
sleep 30
`)

	output := filepath.Join(t.TempDir(), "out.mp4")
	start := time.Now()
	res := runner.Run(context.Background(), Request{
		InputPath:  newInput(t),
		OutputPath: output,
		Timeout:    300 * time.Millisecond,
	})

	assert.True(t, errors.Is(res.Err, ErrTimeout), "got %v", res.Err)
	assert.Equal(t, 300*time.Millisecond, res.Timeout)
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.NoFileExists(t, output)
}

func TestRunUsesPolicyDeadline(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := newTestRunner(t, "sleep 30")
	runner.policy = TimeoutPolicy{Fixed: 200 * time.Millisecond}

	res := runner.Run(context.Background(), Request{
		InputPath:  newInput(t),
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	})

	assert.True(t, errors.Is(res.Err, ErrTimeout), "got %v", res.Err)
}

func TestRunCancelled(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	runner := newTestRunner(t, "sleep 30")

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)

	res := runner.Run(ctx, Request{
		InputPath:  newInput(t),
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	})

	assert.True(t, errors.Is(res.Err, ErrCancelled), "got %v", res.Err)
	assert.False(t, errors.Is(res.Err, ErrTimeout))
}

func TestRunMissingTool(t *testing.T) {
	runner := NewRunner(filepath.Join(t.TempDir(), "no-ffmpeg"), TimeoutPolicy{}, nil)

	res := runner.Run(context.Background(), Request{
		InputPath:  newInput(t),
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	})

	assert.True(t, errors.Is(res.Err, ErrLaunch))
	assert.Equal(t, -1, res.ExitCode)
}

func TestRunMissingInput(t *testing.T) {
	runner := newTestRunner(t, "exit 0")

	res := runner.Run(context.Background(), Request{
		InputPath:  filepath.Join(t.TempDir(), "missing.mp4"),
		OutputPath: filepath.Join(t.TempDir(), "out.mp4"),
	})

	assert.True(t, errors.Is(res.Err, ErrLaunch))
	assert.Contains(t, res.Message(), "input file")
}

func TestExecAcceptsWarningExitCode(t *testing.T) {
	shim := testutil.WriteShim(t, "mkvmerge", `echo "Warning: unknown element"; exit 1`)
	runner := NewRunner("ffmpeg", TimeoutPolicy{}, nil)

	res := runner.Exec(context.Background(), ExecRequest{
		Tool:            shim,
		Args:            []string{"-o", "out.mkv", "in.mkv"},
		AcceptExitCodes: []int{0, 1},
	})

	require.True(t, res.OK(), res.Message())
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Diagnostics, "unknown element")
}

func TestExecFailureRemovesOutput(t *testing.T) {
	output := filepath.Join(t.TempDir(), "out.mkv")
	shim := testutil.WriteShim(t, "mkvmerge", `echo partial > "$2"; echo "Error: no tracks" >&2; exit 2`)
	runner := NewRunner("ffmpeg", TimeoutPolicy{}, nil)

	res := runner.Exec(context.Background(), ExecRequest{
		Tool:            shim,
		Args:            []string{"-o", output, "in.mkv"},
		OutputPath:      output,
		AcceptExitCodes: []int{0, 1},
	})

	var exitErr *ExitError
	require.True(t, errors.As(res.Err, &exitErr))
	assert.Equal(t, 2, exitErr.Code)
	assert.Equal(t, "mkvmerge", exitErr.Tool)
	assert.NoFileExists(t, output)

	_, err := os.Stat(output)
	assert.True(t, os.IsNotExist(err))
}

func TestExecTimeout(t *testing.T) {
	shim := testutil.WriteShim(t, "mkvmerge", "sleep 30")
	runner := NewRunner("ffmpeg", TimeoutPolicy{}, nil)

	res := runner.Exec(context.Background(), ExecRequest{Tool: shim, Timeout: 200 * time.Millisecond})

	assert.True(t, errors.Is(res.Err, ErrTimeout), "got %v", res.Err)
}
