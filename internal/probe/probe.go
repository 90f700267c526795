// Package probe extracts media metadata with ffprobe. Probing never fails
// outward: every failure is reported through models.MediaRecord.Error.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/metrics"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/procgroup"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

// DefaultTimeout bounds a single ffprobe invocation.
const DefaultTimeout = 30 * time.Second

// Prober wraps ffprobe
type Prober struct {
	ffprobePath string
	timeout     time.Duration
	logger      *logging.Logger
}

// NewProber creates a new Prober. A non-positive timeout selects DefaultTimeout.
func NewProber(ffprobePath string, timeout time.Duration, logger *logging.Logger) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Prober{
		ffprobePath: ffprobePath,
		timeout:     timeout,
		logger:      logger.WithComponent("probe"),
	}
}

// Probe returns the metadata of path. It never returns an error; failures are
// encoded in the Error field of the returned record.
func (p *Prober) Probe(ctx context.Context, path string) models.MediaRecord {
	start := time.Now()
	rec := p.probe(ctx, path)

	result := "ok"
	if rec.HasError() {
		result = "error"
		p.logger.WithFile(path).Warnf("Probe failed: %s", rec.Error)
	}
	metrics.RecordProbe(result, time.Since(start).Seconds())

	return rec
}

func (p *Prober) probe(ctx context.Context, path string) models.MediaRecord {
	info, err := os.Stat(path)
	if err != nil {
		return models.FailedRecord(path, fmt.Sprintf("cannot access file: %v", err))
	}
	if info.IsDir() {
		return models.FailedRecord(path, "path is a directory")
	}

	if _, err := exec.LookPath(p.ffprobePath); err != nil {
		return models.FailedRecord(path, fmt.Sprintf("ffprobe unavailable: %v", err))
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath, args...)
	procgroup.Set(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.FailedRecord(path, fmt.Sprintf("ffprobe timed out after %s", p.timeout))
		}
		if ctx.Err() != nil {
			return models.FailedRecord(path, "probe cancelled")
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := fmt.Sprintf("ffprobe exited with code %d", exitErr.ExitCode())
			if detail := strings.TrimSpace(stderr.String()); detail != "" {
				msg += ": " + detail
			}
			return models.FailedRecord(path, msg)
		}
		return models.FailedRecord(path, fmt.Sprintf("ffprobe failed: %v", err))
	}

	return ParseJSON(path, stdout.Bytes())
}

// ParseJSON converts raw ffprobe JSON output into a MediaRecord.
// Exported for testing without a real ffprobe binary.
func ParseJSON(path string, data []byte) models.MediaRecord {
	if len(bytes.TrimSpace(data)) == 0 {
		return models.FailedRecord(path, "ffprobe returned no data")
	}

	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.FailedRecord(path, fmt.Sprintf("malformed ffprobe output: %v", err))
	}

	rec := models.MediaRecord{
		Path:       path,
		FormatName: raw.Format.FormatName,
		BitRate:    parseInt64(raw.Format.BitRate),
	}
	if d, ok := parseFloat(raw.Format.Duration); ok {
		rec.Duration = &d
	}

	videoSeen, audioSeen := false, false
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if videoSeen {
				continue
			}
			videoSeen = true
			rec.VideoCodec = s.CodecName
			rec.Width = s.Width
			rec.Height = s.Height
			rec.FrameRate = parseFrameRate(s.RFrameRate)
			if rec.FrameRate == 0 {
				rec.FrameRate = parseFrameRate(s.AvgFrameRate)
			}
			if rec.Duration == nil {
				if d, ok := parseFloat(s.Duration); ok {
					rec.Duration = &d
				}
			}
		case "audio":
			if audioSeen {
				continue
			}
			audioSeen = true
			rec.AudioCodec = s.CodecName
		}
	}

	return rec
}

// --- ffprobe JSON wire types ---

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Duration     string `json:"duration"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
}

// --- Numeric parsing helpers (ffprobe returns numbers as strings) ---

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}

// parseFrameRate turns "30000/1001" or "25" into frames per second.
func parseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" || s == "0/0" {
		return 0
	}
	num, den, found := strings.Cut(s, "/")
	if !found {
		f, _ := parseFloat(s)
		return f
	}
	n, ok1 := parseFloat(num)
	d, ok2 := parseFloat(den)
	if !ok1 || !ok2 || d == 0 {
		return 0
	}
	return n / d
}
