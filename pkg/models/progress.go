package models

// Progress is a single live update for the file currently being processed.
// Zero values mean "unknown" for the optional fields; FPS and ETASeconds are
// pointers because zero is a meaningful reading for them.
type Progress struct {
	Percentage     float64  `json:"percentage"`
	ElapsedSeconds float64  `json:"elapsed_seconds"`
	FileName       string   `json:"file_name"`
	FileIndex      int      `json:"file_index,omitempty"`
	TotalFiles     int      `json:"total_files,omitempty"`
	FPS            *float64 `json:"fps,omitempty"`
	Speed          string   `json:"speed,omitempty"`
	Bitrate        string   `json:"bitrate,omitempty"`
	ETASeconds     *float64 `json:"eta_seconds,omitempty"`
	OutputSize     string   `json:"output_size,omitempty"`
	OutputPath     string   `json:"output_path,omitempty"`
	Done           bool     `json:"done,omitempty"`
}

// ProgressFunc receives progress updates. Implementations must not block for long:
// they run on the output reader goroutines. Calls for one process never
// overlap and their percentages never decrease.
type ProgressFunc func(Progress)
