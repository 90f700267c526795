package transcoder

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

var (
	statsTimeRegex    = regexp.MustCompile(`(?:^|\s)time=\s*(-?\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)
	statsFPSRegex     = regexp.MustCompile(`(?:^|\s)fps=\s*([\d.]+)`)
	statsSpeedRegex   = regexp.MustCompile(`(?:^|\s)speed=\s*([\d.]+x)`)
	statsBitrateRegex = regexp.MustCompile(`(?:^|\s)bitrate=\s*([\d.]+\s*[kmg]?bits/s)`)
	statsSizeRegex    = regexp.MustCompile(`(?:^|\s)L?size=\s*(\d+\s*[kKmMgG]i?B)`)
)

// Markers holds the most recent progress values reported by ffmpeg, either
// through the -progress key=value stream or the stderr stats line.
type Markers struct {
	TimeSeconds float64
	HasTime     bool
	FPS         float64
	HasFPS      bool
	Speed       string
	Bitrate     string
	Size        string
	End         bool
}

// Apply folds one output line into m and reports whether the line closes a
// progress update (an end-of-block marker or a stats line carrying time=).
func (m *Markers) Apply(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if key, value, ok := strings.Cut(line, "="); ok && !strings.ContainsAny(key, " \t") {
		switch key {
		case "out_time_ms", "out_time_us":
			// Both keys carry microseconds.
			if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
				m.TimeSeconds = float64(us) / 1e6
				m.HasTime = true
			}
			return false
		case "out_time":
			if secs, ok := parseClock(value); ok {
				m.TimeSeconds = secs
				m.HasTime = true
			}
			return false
		case "total_size":
			if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
				m.Size = formatBytes(n)
			}
			return false
		case "progress":
			m.End = value == "end"
			return true
		}
	}

	stats := strings.HasPrefix(line, "frame=") || strings.HasPrefix(line, "size=") || strings.HasPrefix(line, "Lsize=")

	if match := statsFPSRegex.FindStringSubmatch(line); match != nil {
		if fps, err := strconv.ParseFloat(match[1], 64); err == nil {
			m.FPS = fps
			m.HasFPS = true
		}
	}
	if match := statsSpeedRegex.FindStringSubmatch(line); match != nil {
		m.Speed = match[1]
	}
	if match := statsBitrateRegex.FindStringSubmatch(line); match != nil {
		m.Bitrate = strings.ReplaceAll(match[1], " ", "")
	}
	if match := statsSizeRegex.FindStringSubmatch(line); match != nil {
		m.Size = strings.ReplaceAll(match[1], " ", "")
	}

	if !stats {
		return false
	}
	match := statsTimeRegex.FindStringSubmatch(line)
	if match == nil {
		return false
	}
	if secs, ok := parseClock(match[1] + ":" + match[2] + ":" + match[3]); ok {
		m.TimeSeconds = secs
		m.HasTime = true
		return true
	}
	return false
}

// parseClock parses HH:MM:SS(.fraction). Negative clocks clamp to zero.
func parseClock(s string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return 0, false
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, false
	}
	secs, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return 0, false
	}
	total := float64(hours)*3600 + float64(minutes)*60 + secs
	if total < 0 {
		total = 0
	}
	return total, true
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Percentage returns clamp(processed/duration*100, 0, 100). An unknown
// duration yields 0.
func Percentage(processed, duration float64) float64 {
	if duration <= 0 {
		return 0
	}
	pct := processed / duration * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// ETA estimates the remaining seconds from the observed processing rate.
// It returns nil when no rate can be derived.
func ETA(processed, duration float64, elapsed time.Duration) *float64 {
	if duration <= 0 || processed <= 0 || elapsed <= 0 {
		return nil
	}
	rate := processed / elapsed.Seconds()
	if rate <= 0 {
		return nil
	}
	remaining := duration - processed
	if remaining < 0 {
		remaining = 0
	}
	eta := remaining / rate
	return &eta
}

// splitLines is a bufio.SplitFunc that treats \r, \n and \r\n as line ends,
// so carriage-return-refreshed stats lines arrive one at a time.
func splitLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		} else if data[i] == '\r' && i+1 == len(data) && !atEOF {
			// Wait for more data to see whether \n follows.
			return 0, nil, nil
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func newLineScanner(r interface{ Read([]byte) (int, error) }) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(splitLines)
	return scanner
}

// progressTracker turns markers from both output streams into callbacks.
// Deliveries are serialised and a snapshot older than the last delivered
// one is dropped, so the sink sees one call at a time in order.
type progressTracker struct {
	mu        sync.Mutex
	markers   Markers
	processed float64
	seq       uint64
	req       Request
	fileName  string
	start     time.Time

	deliverMu sync.Mutex
	delivered uint64
}

func newProgressTracker(req Request, fileName string, start time.Time) *progressTracker {
	return &progressTracker{req: req, fileName: fileName, start: start}
}

func (t *progressTracker) consume(line string) {
	t.mu.Lock()
	if !t.markers.Apply(line) {
		t.mu.Unlock()
		return
	}
	p := t.snapshot(time.Since(t.start))
	t.seq++
	seq := t.seq
	t.mu.Unlock()

	t.deliver(seq, p)
}

func (t *progressTracker) deliver(seq uint64, p models.Progress) {
	if t.req.Progress == nil {
		return
	}
	t.deliverMu.Lock()
	defer t.deliverMu.Unlock()
	if seq <= t.delivered {
		return
	}
	t.delivered = seq
	t.req.Progress(p)
}

// snapshot must be called with t.mu held. The processed time never moves
// backwards: stdout and stderr report the same clock with different lag.
func (t *progressTracker) snapshot(elapsed time.Duration) models.Progress {
	p := models.Progress{
		ElapsedSeconds: elapsed.Seconds(),
		FileName:       t.fileName,
		FileIndex:      t.req.FileIndex,
		TotalFiles:     t.req.TotalFiles,
		Speed:          t.markers.Speed,
		Bitrate:        t.markers.Bitrate,
		OutputSize:     t.markers.Size,
		OutputPath:     t.req.OutputPath,
	}
	if t.markers.HasTime {
		if t.markers.TimeSeconds > t.processed {
			t.processed = t.markers.TimeSeconds
		}
		p.Percentage = Percentage(t.processed, t.req.ExpectedDuration)
		p.ETASeconds = ETA(t.processed, t.req.ExpectedDuration, elapsed)
	}
	if t.markers.HasFPS {
		fps := t.markers.FPS
		p.FPS = &fps
	}
	return p
}

// finish emits the terminal 100% update after a successful run.
func (t *progressTracker) finish() models.Progress {
	t.mu.Lock()
	p := t.snapshot(time.Since(t.start))
	t.seq++
	seq := t.seq
	t.mu.Unlock()

	zero := 0.0
	p.Percentage = 100
	p.ETASeconds = &zero
	p.Done = true
	t.deliver(seq, p)
	return p
}

// lastSpeed returns the last reported speed as a float ("1.5x" -> 1.5).
func (t *progressTracker) lastSpeed() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	speed, err := strconv.ParseFloat(strings.TrimSuffix(t.markers.Speed, "x"), 64)
	if err != nil {
		return 0
	}
	return speed
}
