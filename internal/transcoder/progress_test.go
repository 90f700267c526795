package transcoder

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

func TestPercentage(t *testing.T) {
	tests := []struct {
		processed, duration, want float64
	}{
		{0, 100, 0},
		{25, 100, 25},
		{100, 100, 100},
		{150, 100, 100},
		{-3, 100, 0},
		{50, 0, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Percentage(tt.processed, tt.duration))
	}
}

func TestPercentageMonotonic(t *testing.T) {
	prev := -1.0
	for processed := 0.0; processed <= 200; processed += 0.5 {
		got := Percentage(processed, 120)
		assert.GreaterOrEqual(t, got, prev)
		assert.LessOrEqual(t, got, 100.0)
		prev = got
	}
}

func TestETA(t *testing.T) {
	eta := ETA(30, 120, 10*time.Second)
	require.NotNil(t, eta)
	assert.InDelta(t, 30.0, *eta, 1e-9, "3s of media per second leaves 90s of media")

	assert.Nil(t, ETA(0, 120, 10*time.Second), "no rate yet")
	assert.Nil(t, ETA(30, 0, 10*time.Second), "unknown duration")
	assert.Nil(t, ETA(30, 120, 0))

	done := ETA(130, 120, 10*time.Second)
	require.NotNil(t, done)
	assert.Zero(t, *done)
}

func TestMarkersProgressBlock(t *testing.T) {
	var m Markers

	lines := []string{
		"frame=120",
		"fps=24.50",
		"bitrate=1500.2kbits/s",
		"total_size=1048576",
		"out_time_ms=4500000",
		"out_time=00:00:04.500000",
		"speed=1.25x",
	}
	for _, line := range lines {
		assert.False(t, m.Apply(line), "line %q must not close a block", line)
	}
	assert.True(t, m.Apply("progress=continue"))

	assert.True(t, m.HasTime)
	assert.InDelta(t, 4.5, m.TimeSeconds, 1e-9)
	assert.True(t, m.HasFPS)
	assert.Equal(t, 24.5, m.FPS)
	assert.Equal(t, "1500.2kbits/s", m.Bitrate)
	assert.Equal(t, "1.25x", m.Speed)
	assert.Equal(t, "1.0MiB", m.Size)
	assert.False(t, m.End)

	assert.True(t, m.Apply("progress=end"))
	assert.True(t, m.End)
}

func TestMarkersStatsLine(t *testing.T) {
	var m Markers

	tick := m.Apply("frame=  250 fps= 25 q=28.0 size=    2048kB time=00:01:02.50 bitrate=1677.7kbits/s speed=1.02x")

	assert.True(t, tick)
	assert.InDelta(t, 62.5, m.TimeSeconds, 1e-9)
	assert.Equal(t, 25.0, m.FPS)
	assert.Equal(t, "2048kB", m.Size)
	assert.Equal(t, "1677.7kbits/s", m.Bitrate)
	assert.Equal(t, "1.02x", m.Speed)
}

func TestMarkersIgnoresNoise(t *testing.T) {
	var m Markers

	assert.False(t, m.Apply(""))
	assert.False(t, m.Apply("out_time_ms=N/A"))
	assert.False(t, m.Apply("Stream #0:0: Video: h264, yuv420p, 1920x1080"))
	assert.False(t, m.Apply("[mp4 @ 0x55] time=00:00:01.00 in a log message"))
	assert.False(t, m.HasTime)
	assert.Empty(t, m.Speed)
}

func TestSplitLines(t *testing.T) {
	scanner := newLineScanner(strings.NewReader("a\rb\r\nc\nd"))

	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}

	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"a", "b", "c", "d"}, got)
}

func TestProgressTrackerUnknownDuration(t *testing.T) {
	var updates []models.Progress
	tracker := newProgressTracker(Request{
		OutputPath: "/out/a.mkv",
		FileIndex:  2,
		TotalFiles: 5,
		Progress:   func(p models.Progress) { updates = append(updates, p) },
	}, "a.mp4", time.Now())

	tracker.consume("out_time_ms=3000000")
	tracker.consume("speed=2.0x")
	tracker.consume("progress=continue")

	require.Len(t, updates, 1)
	assert.Zero(t, updates[0].Percentage)
	assert.Nil(t, updates[0].ETASeconds)
	assert.Equal(t, "2.0x", updates[0].Speed)
	assert.Equal(t, 2, updates[0].FileIndex)
	assert.Equal(t, "a.mp4", updates[0].FileName)

	final := tracker.finish()
	assert.True(t, final.Done)
	assert.Equal(t, 100.0, final.Percentage)
	assert.Equal(t, 2.0, tracker.lastSpeed())
	assert.Len(t, updates, 2)
}

func TestProgressTrackerNeverGoesBackwards(t *testing.T) {
	var updates []models.Progress
	tracker := newProgressTracker(Request{
		ExpectedDuration: 10,
		Progress:         func(p models.Progress) { updates = append(updates, p) },
	}, "a.mp4", time.Now())

	tracker.consume("out_time_ms=5000000")
	tracker.consume("progress=continue")
	// The stats line on stderr lags behind the progress stream.
	tracker.consume("frame=50 fps=25 size=1kB time=00:00:02.00 bitrate=1.0kbits/s speed=1x")
	tracker.consume("out_time_ms=6000000")
	tracker.consume("progress=continue")

	require.Len(t, updates, 3)
	assert.Equal(t, 50.0, updates[0].Percentage)
	assert.Equal(t, 50.0, updates[1].Percentage)
	assert.Equal(t, 60.0, updates[2].Percentage)
}

func TestProgressTrackerDropsStaleSnapshot(t *testing.T) {
	var updates []models.Progress
	tracker := newProgressTracker(Request{
		ExpectedDuration: 10,
		Progress:         func(p models.Progress) { updates = append(updates, p) },
	}, "a.mp4", time.Now())

	tracker.deliver(2, models.Progress{Percentage: 40})
	tracker.deliver(1, models.Progress{Percentage: 30})
	tracker.deliver(3, models.Progress{Percentage: 50})

	require.Len(t, updates, 2)
	assert.Equal(t, 40.0, updates[0].Percentage)
	assert.Equal(t, 50.0, updates[1].Percentage)
}
