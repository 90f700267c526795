package models

import (
	"database/sql/driver"
	"encoding/json"
)

// MediaRecord describes one media file as reported by ffprobe.
// A record with Error set carries no trustworthy metadata; a record without
// Error may still lack a usable duration.
type MediaRecord struct {
	Path       string   `json:"path"`
	Duration   *float64 `json:"duration,omitempty"`
	VideoCodec string   `json:"video_codec,omitempty"`
	AudioCodec string   `json:"audio_codec,omitempty"`
	Width      int      `json:"width,omitempty"`
	Height     int      `json:"height,omitempty"`
	FormatName string   `json:"format_name,omitempty"`
	BitRate    int64    `json:"bit_rate,omitempty"`
	FrameRate  float64  `json:"frame_rate,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// FailedRecord returns a record that only carries the path and the failure reason.
func FailedRecord(path, reason string) MediaRecord {
	return MediaRecord{Path: path, Error: reason}
}

// HasError reports whether probing failed.
func (m MediaRecord) HasError() bool {
	return m.Error != ""
}

// UsableDuration returns the duration when it is present and positive.
func (m MediaRecord) UsableDuration() (float64, bool) {
	if m.Duration == nil || *m.Duration <= 0 {
		return 0, false
	}
	return *m.Duration, true
}

// Suspicious reports whether the file should be treated as damaged.
func (m MediaRecord) Suspicious() bool {
	if m.HasError() {
		return true
	}
	_, ok := m.UsableDuration()
	return !ok
}

// Issue returns a short description of why the record is suspicious.
func (m MediaRecord) Issue() string {
	switch {
	case m.HasError():
		return m.Error
	case m.Duration == nil:
		return "duration unavailable"
	case *m.Duration <= 0:
		return "non-positive duration"
	default:
		return ""
	}
}

// Value implements driver.Valuer for database storage
func (m MediaRecord) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan implements sql.Scanner for database retrieval
func (m *MediaRecord) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}

	return json.Unmarshal(bytes, m)
}

// Float64 returns a pointer to v. Handy for optional numeric fields.
func Float64(v float64) *float64 {
	return &v
}
