package models

import "strings"

// EncodingProfile is a named ffmpeg argument set used for transcoding.
// Profiles are supplied from configuration and never mutated.
type EncodingProfile struct {
	ID              string   `json:"id" mapstructure:"id" validate:"required"`
	Name            string   `json:"name" mapstructure:"name" validate:"required"`
	Description     string   `json:"description,omitempty" mapstructure:"description"`
	Args            []string `json:"args" mapstructure:"args"`
	OutputExtension string   `json:"output_extension" mapstructure:"outputExtension" validate:"required"`
	Subdirectory    string   `json:"subdirectory,omitempty" mapstructure:"subdirectory"`
}

// Extension returns the output extension with a leading dot.
func (p EncodingProfile) Extension() string {
	return "." + strings.TrimPrefix(p.OutputExtension, ".")
}

// RepairProfile is a named ffmpeg argument set used to recover a damaged file.
type RepairProfile struct {
	ID          string   `json:"id" mapstructure:"id" validate:"required"`
	Name        string   `json:"name" mapstructure:"name" validate:"required"`
	Description string   `json:"description,omitempty" mapstructure:"description"`
	Args        []string `json:"args" mapstructure:"args"`
	// AppliesTo restricts the profile to one container extension (e.g. ".mkv").
	// Empty means any container.
	AppliesTo string `json:"applies_to,omitempty" mapstructure:"appliesTo"`
	CopyTags  bool   `json:"copy_tags" mapstructure:"copyTags"`
}

// Applies reports whether the profile may run against a file with the given extension.
func (p RepairProfile) Applies(ext string) bool {
	if p.AppliesTo == "" {
		return true
	}
	want := "." + strings.TrimPrefix(strings.ToLower(p.AppliesTo), ".")
	return strings.EqualFold(ext, want)
}

// Default repair profile identifiers
const (
	RepairProfileStreamCopyID   = "d7f2c7a0-74f8-4f80-8a19-16a9ff7de4d5"
	RepairProfileIgnoreErrorsID = "0b9d3c1e-5a44-4c1f-9f2e-8f6d1a7c2b30"
)

// DefaultRepairProfiles returns the profiles used when none are configured.
func DefaultRepairProfiles() []RepairProfile {
	return []RepairProfile{
		{
			ID:          RepairProfileStreamCopyID,
			Name:        "FFmpeg - stream copy",
			Description: "Copies every stream into a fresh container and regenerates timestamps.",
			Args:        []string{"-c", "copy", "-map", "0", "-ignore_unknown", "-fflags", "+genpts"},
			CopyTags:    true,
		},
		{
			ID:          RepairProfileIgnoreErrorsID,
			Name:        "FFmpeg - ignore decode errors",
			Description: "Stream copy that tolerates decoding errors.",
			Args:        []string{"-err_detect", "ignore_err", "-c", "copy", "-map", "0", "-ignore_unknown"},
			CopyTags:    true,
		},
	}
}
