package config

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	tmpfile, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	return tmpfile.Name()
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, `
tools:
  ffmpegPath: "/opt/ffmpeg/bin/ffmpeg"
  probeTimeout: "10s"

processing:
  errorHandling: "stop"
  outputFileExists: "skip"
  extensions: ["MKV", "mp4"]

timeouts:
  multiplier: 3

profiles:
  encoding:
    - id: "h265"
      name: "HEVC"
      args: ["-c:v", "libx265", "-crf", "28"]
      outputExtension: "mkv"
      subdirectory: "hevc"
`)

	// Load config
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	// Verify loaded values
	if cfg.Tools.FFmpegPath != "/opt/ffmpeg/bin/ffmpeg" {
		t.Errorf("Expected ffmpeg path /opt/ffmpeg/bin/ffmpeg, got %s", cfg.Tools.FFmpegPath)
	}

	if cfg.Tools.ProbeTimeout != 10*time.Second {
		t.Errorf("Expected probe timeout 10s, got %s", cfg.Tools.ProbeTimeout)
	}

	if cfg.Processing.ErrorHandling != "stop" {
		t.Errorf("Expected error handling stop, got %s", cfg.Processing.ErrorHandling)
	}

	if len(cfg.Processing.Extensions) != 2 || cfg.Processing.Extensions[0] != ".mkv" {
		t.Errorf("Expected normalized extensions, got %v", cfg.Processing.Extensions)
	}

	if cfg.Timeouts.Multiplier != 3 {
		t.Errorf("Expected multiplier 3, got %f", cfg.Timeouts.Multiplier)
	}

	profile, ok := cfg.EncodingProfile("h265")
	if !ok {
		t.Fatal("Expected encoding profile h265")
	}
	if profile.Subdirectory != "hevc" || profile.OutputExtension != "mkv" || len(profile.Args) != 4 {
		t.Errorf("Unexpected profile: %+v", profile)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load defaults: %v", err)
	}

	if cfg.Tools.MkvmergePath != "mkvmerge" {
		t.Errorf("Expected mkvmerge, got %s", cfg.Tools.MkvmergePath)
	}
	if cfg.Tools.ProbeTimeout != 30*time.Second {
		t.Errorf("Expected 30s probe timeout, got %s", cfg.Tools.ProbeTimeout)
	}
	if !cfg.Timeouts.EnableDynamic || cfg.Timeouts.Multiplier != 2.0 || cfg.Timeouts.BufferSeconds != 300 || cfg.Timeouts.MinSeconds != 600 {
		t.Errorf("Unexpected timeout defaults: %+v", cfg.Timeouts)
	}
	if cfg.Timeouts.FixedSeconds != 86400 {
		t.Errorf("Expected fixed timeout 86400, got %f", cfg.Timeouts.FixedSeconds)
	}
	if cfg.Processing.ErrorHandling != "skip" || cfg.Processing.OutputFileExists != "rename" {
		t.Errorf("Unexpected policy defaults: %+v", cfg.Processing)
	}
	if cfg.Processing.DeleteOriginalOnSuccess {
		t.Error("Expected deleteOriginalOnSuccess to default to false")
	}
	if cfg.Processing.RepairTimeout != 300*time.Second {
		t.Errorf("Expected 300s repair timeout, got %s", cfg.Processing.RepairTimeout)
	}
	if len(cfg.Processing.Extensions) != len(DefaultExtensions) {
		t.Errorf("Expected %d default extensions, got %d", len(DefaultExtensions), len(cfg.Processing.Extensions))
	}
	if len(cfg.Profiles.Repair) != 2 || cfg.Profiles.Repair[0].ID != models.RepairProfileStreamCopyID {
		t.Errorf("Expected default repair profiles, got %+v", cfg.Profiles.Repair)
	}
	if cfg.Paths.JobStateDir != ".app_data/job_state" {
		t.Errorf("Unexpected job state dir %s", cfg.Paths.JobStateDir)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent file")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name: "unknown error policy",
			content: `
processing:
  errorHandling: "retry"
`,
		},
		{
			name: "zero multiplier",
			content: `
timeouts:
  multiplier: 0
`,
		},
		{
			name: "duplicate profile ids",
			content: `
profiles:
  encoding:
    - {id: "a", name: "A", outputExtension: "mp4"}
    - {id: "a", name: "B", outputExtension: "mkv"}
`,
		},
		{
			name: "webhook without urls",
			content: `
webhook:
  enabled: true
`,
		},
		{
			name: "profile without extension",
			content: `
profiles:
  encoding:
    - {id: "a", name: "A"}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tt.content))
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Expected ErrInvalid, got %v", err)
			}
		})
	}
}

func TestLoadEnvironmentOverride(t *testing.T) {
	t.Setenv("MEDIABATCH_TOOLS_FFPROBEPATH", "/usr/local/bin/ffprobe")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Tools.FFprobePath != "/usr/local/bin/ffprobe" {
		t.Errorf("Expected env override, got %s", cfg.Tools.FFprobePath)
	}
}
