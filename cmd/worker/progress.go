package main

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/logging"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

// progressPrinter renders progress updates as a single rewritten line.
type progressPrinter struct {
	w      io.Writer
	logger *logging.Logger
}

func newProgressPrinter(w io.Writer, logger *logging.Logger) *progressPrinter {
	return &progressPrinter{w: w, logger: logger}
}

// Transcode is a models.ProgressFunc.
func (p *progressPrinter) Transcode(pr models.Progress) {
	fps := 0.0
	if pr.FPS != nil {
		fps = *pr.FPS
	}
	p.logger.LogTranscodingProgress(pr.FileName, pr.Percentage, fps, pr.Speed)

	fmt.Fprintf(p.w, "\r%s", formatProgress(pr))
	if pr.Done {
		fmt.Fprintln(p.w)
	}
}

// Scan is a scanner.ProgressFunc.
func (p *progressPrinter) Scan(current, total int, name string) {
	fmt.Fprintf(p.w, "\rProbing [%d/%d] %s\033[K", current, total, filepath.Base(name))
	if current == total {
		fmt.Fprintln(p.w)
	}
}

func formatProgress(pr models.Progress) string {
	var b strings.Builder
	if pr.TotalFiles > 0 {
		fmt.Fprintf(&b, "[%d/%d] ", pr.FileIndex, pr.TotalFiles)
	}
	fmt.Fprintf(&b, "%s %5.1f%%", pr.FileName, pr.Percentage)
	if pr.FPS != nil {
		fmt.Fprintf(&b, " fps=%.1f", *pr.FPS)
	}
	if pr.Speed != "" {
		fmt.Fprintf(&b, " speed=%s", pr.Speed)
	}
	if pr.ETASeconds != nil {
		fmt.Fprintf(&b, " eta=%s", formatSeconds(*pr.ETASeconds))
	}
	b.WriteString("\033[K")
	return b.String()
}

func formatSeconds(s float64) string {
	d := time.Duration(s * float64(time.Second)).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

// printJob writes a short summary of job.
func printJob(w io.Writer, job *models.Job) {
	c := job.Counts()
	fmt.Fprintf(w, "Job %s\n", job.ID)
	fmt.Fprintf(w, "  Source:  %s\n", job.SourceDirectory)
	fmt.Fprintf(w, "  Profile: %s\n", job.ProfileID)
	fmt.Fprintf(w, "  Status:  %s\n", job.Status)
	if job.ErrorMsg != "" {
		fmt.Fprintf(w, "  Message: %s\n", job.ErrorMsg)
	}
	fmt.Fprintf(w, "  Files:   %d total, %d completed, %d failed, %d skipped, %d pending\n",
		c.Total, c.Completed, c.Failed, c.Skipped, c.Pending)
}

// printTasks lists the tasks that did not complete.
func printTasks(w io.Writer, job *models.Job) {
	for _, f := range job.Files {
		if f.Status == models.FileStatusCompleted {
			continue
		}
		line := fmt.Sprintf("  %-17s %s", f.Status, f.OriginalPath)
		if f.ErrorMsg != "" {
			line += ": " + f.ErrorMsg
		}
		fmt.Fprintln(w, line)
	}
}
