package probe

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/testutil"
)

const sampleJSON = `{
  "streams": [
    {"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080,
     "r_frame_rate": "30000/1001", "avg_frame_rate": "30000/1001"},
    {"index": 1, "codec_name": "aac", "codec_type": "audio"},
    {"index": 2, "codec_name": "ac3", "codec_type": "audio"}
  ],
  "format": {
    "filename": "movie.mkv",
    "format_name": "matroska,webm",
    "duration": "125.400000",
    "size": "1048576",
    "bit_rate": "4500000"
  }
}`

func TestParseJSON(t *testing.T) {
	rec := ParseJSON("/videos/movie.mkv", []byte(sampleJSON))

	assert.Empty(t, rec.Error)
	require.NotNil(t, rec.Duration)
	assert.InDelta(t, 125.4, *rec.Duration, 1e-9)
	assert.Equal(t, "h264", rec.VideoCodec)
	assert.Equal(t, "aac", rec.AudioCodec, "first audio stream wins")
	assert.Equal(t, 1920, rec.Width)
	assert.Equal(t, 1080, rec.Height)
	assert.Equal(t, "matroska,webm", rec.FormatName)
	assert.Equal(t, int64(4500000), rec.BitRate)
	assert.InDelta(t, 29.97, rec.FrameRate, 0.01)
	assert.Equal(t, "/videos/movie.mkv", rec.Path)
}

func TestParseJSONStreamDurationFallback(t *testing.T) {
	data := `{"format": {"format_name": "mpegts", "duration": "N/A"},
	          "streams": [{"codec_type": "video", "codec_name": "mpeg2video", "duration": "42.5",
	                       "r_frame_rate": "0/0", "avg_frame_rate": "25/1"}]}`

	rec := ParseJSON("a.ts", []byte(data))

	require.NotNil(t, rec.Duration)
	assert.Equal(t, 42.5, *rec.Duration)
	assert.Equal(t, 25.0, rec.FrameRate)
}

func TestParseJSONFailures(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{"empty output", "", "no data"},
		{"whitespace output", "  \n", "no data"},
		{"malformed output", "{not json", "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ParseJSON("x.mp4", []byte(tt.data))
			assert.Contains(t, rec.Error, tt.wantErr)
			assert.Nil(t, rec.Duration)
			assert.Empty(t, rec.VideoCodec)
		})
	}
}

func TestParseJSONWithoutDuration(t *testing.T) {
	rec := ParseJSON("x.mp4", []byte(`{"format": {"format_name": "mov"}, "streams": []}`))

	assert.Empty(t, rec.Error)
	assert.True(t, rec.Suspicious(), "missing duration must still be flagged")
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"25/1", 25},
		{"30000/1001", 30000.0 / 1001.0},
		{"0/0", 0},
		{"24", 24},
		{"", 0},
		{"1/0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, parseFrameRate(tt.in), 1e-9)
		})
	}
}

func TestProbeMissingFile(t *testing.T) {
	p := NewProber("ffprobe", time.Second, logging.Nop())

	rec := p.Probe(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))

	assert.Contains(t, rec.Error, "cannot access file")
}

func TestProbeMissingTool(t *testing.T) {
	input := filepath.Join(t.TempDir(), "a.mp4")
	testutil.Touch(t, input, "data")

	p := NewProber(filepath.Join(t.TempDir(), "no-such-ffprobe"), time.Second, logging.Nop())
	rec := p.Probe(context.Background(), input)

	assert.Contains(t, rec.Error, "ffprobe unavailable")
}

func TestProbeWithShim(t *testing.T) {
	input := filepath.Join(t.TempDir(), "movie.mkv")
	testutil.Touch(t, input, "data")

	shim := testutil.WriteShim(t, "ffprobe", "cat <<'JSON'\n"+sampleJSON+"\nJSON")
	p := NewProber(shim, 5*time.Second, logging.Nop())

	rec := p.Probe(context.Background(), input)

	require.Empty(t, rec.Error)
	require.NotNil(t, rec.Duration)
	assert.InDelta(t, 125.4, *rec.Duration, 1e-9)
	assert.Equal(t, "h264", rec.VideoCodec)
}

func TestProbeNonZeroExit(t *testing.T) {
	input := filepath.Join(t.TempDir(), "broken.mp4")
	testutil.Touch(t, input, "garbage")

	shim := testutil.WriteShim(t, "ffprobe", "echo 'moov atom not found' >&2\nexit 1")
	p := NewProber(shim, 5*time.Second, logging.Nop())

	rec := p.Probe(context.Background(), input)

	assert.Contains(t, rec.Error, "exited with code 1")
	assert.Contains(t, rec.Error, "moov atom not found")
	assert.Nil(t, rec.Duration)
}

func TestProbeTimeout(t *testing.T) {
	input := filepath.Join(t.TempDir(), "slow.mp4")
	testutil.Touch(t, input, "data")

	shim := testutil.WriteShim(t, "ffprobe", "sleep 10")
	p := NewProber(shim, 200*time.Millisecond, logging.Nop())

	start := time.Now()
	rec := p.Probe(context.Background(), input)

	assert.True(t, strings.Contains(rec.Error, "timed out"), "got %q", rec.Error)
	assert.Less(t, time.Since(start), 8*time.Second)
}

func TestNewProberDefaults(t *testing.T) {
	p := NewProber("ffprobe", 0, nil)
	assert.Equal(t, DefaultTimeout, p.timeout)
}
