package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMediaRecordValue(t *testing.T) {
	rec := MediaRecord{Path: "/videos/a.mp4", Duration: Float64(125.4), VideoCodec: "h264"}

	value, err := rec.Value()
	if err != nil {
		t.Fatalf("Failed to get value: %v", err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(value.([]byte), &result); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	if result["video_codec"] != "h264" {
		t.Errorf("Expected video_codec=h264, got %v", result["video_codec"])
	}
	if _, ok := result["error"]; ok {
		t.Errorf("Expected error to be omitted, got %v", result["error"])
	}
}

func TestMediaRecordScanNil(t *testing.T) {
	var rec MediaRecord
	if err := rec.Scan(nil); err != nil {
		t.Fatalf("Failed to scan nil: %v", err)
	}
	assert.Empty(t, rec.Path)
}

func TestMediaRecordSuspicious(t *testing.T) {
	tests := []struct {
		name      string
		record    MediaRecord
		want      bool
		wantIssue string
	}{
		{"healthy", MediaRecord{Duration: Float64(90)}, false, ""},
		{"probe error", MediaRecord{Error: "corrupt header"}, true, "corrupt header"},
		{"missing duration", MediaRecord{}, true, "duration unavailable"},
		{"zero duration", MediaRecord{Duration: Float64(0)}, true, "non-positive duration"},
		{"negative duration", MediaRecord{Duration: Float64(-1)}, true, "non-positive duration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.record.Suspicious())
			assert.Equal(t, tt.wantIssue, tt.record.Issue())
		})
	}
}

func TestRepairProfileApplies(t *testing.T) {
	unrestricted := RepairProfile{ID: "a"}
	mkv := RepairProfile{ID: "b", AppliesTo: "mkv"}

	assert.True(t, unrestricted.Applies(".mp4"))
	assert.True(t, mkv.Applies(".mkv"))
	assert.True(t, mkv.Applies(".MKV"))
	assert.False(t, mkv.Applies(".mp4"))
}

func TestEncodingProfileExtension(t *testing.T) {
	assert.Equal(t, ".mp4", EncodingProfile{OutputExtension: "mp4"}.Extension())
	assert.Equal(t, ".mkv", EncodingProfile{OutputExtension: ".mkv"}.Extension())
}

func TestDefaultRepairProfiles(t *testing.T) {
	profiles := DefaultRepairProfiles()
	require.Len(t, profiles, 2)
	assert.Equal(t, RepairProfileStreamCopyID, profiles[0].ID)
	assert.True(t, profiles[0].CopyTags)
	assert.Contains(t, profiles[1].Args, "ignore_err")
}

func TestJobValidate(t *testing.T) {
	job := &Job{
		ID:         "job-1",
		TotalFiles: 2,
		Files: FileTasks{
			{ID: "t1", OriginalPath: "/a.mp4", Status: FileStatusPending},
			{ID: "t2", OriginalPath: "/b.mp4", Status: FileStatusPending},
		},
	}
	require.NoError(t, job.Validate())

	job.TotalFiles = 3
	assert.Error(t, job.Validate())

	job.TotalFiles = 2
	job.Files[1].OriginalPath = ""
	assert.Error(t, job.Validate())
}

func TestJobCountsAndResumable(t *testing.T) {
	job := &Job{
		ID:     "job-1",
		Status: JobStatusInProgress,
		Files: FileTasks{
			{Status: FileStatusCompleted},
			{Status: FileStatusSkippedConflict},
			{Status: FileStatusFailed},
			{Status: FileStatusFailedProbe},
			{Status: FileStatusProcessing},
		},
	}

	counts := job.Counts()
	assert.Equal(t, JobCounts{Total: 5, Completed: 1, Skipped: 1, Failed: 2, Pending: 1}, counts)
	assert.True(t, job.Resumable())

	job.Status = JobStatusCompleted
	assert.False(t, job.Resumable())

	job.Status = JobStatusAwaitingConfirmation
	assert.True(t, job.Resumable())
}

func TestFileTaskLifecycle(t *testing.T) {
	tests := []struct {
		status      string
		done        bool
		needsWork   bool
		countsAsErr bool
	}{
		{FileStatusPending, false, true, false},
		{FileStatusProcessing, false, true, false},
		{FileStatusFailed, false, true, true},
		{FileStatusFailedProbe, false, true, true},
		{FileStatusFailedProfile, false, false, true},
		{FileStatusCompleted, true, false, false},
		{FileStatusSkippedConflict, true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			task := &FileTask{Status: tt.status}
			assert.Equal(t, tt.done, task.Done())
			assert.Equal(t, tt.needsWork, task.NeedsProcessing())
			assert.Equal(t, tt.countsAsErr, task.Failed())
		})
	}
}

func TestFileTasksScan(t *testing.T) {
	var tasks FileTasks
	require.NoError(t, tasks.Scan([]byte(`[{"id":"t1","original_path":"/a.mkv","status":"completed"}]`)))
	require.Len(t, tasks, 1)
	assert.Equal(t, FileStatusCompleted, tasks[0].Status)
}

func TestNewFileTask(t *testing.T) {
	healthy := NewFileTask("/v/a.mp4", MediaRecord{Path: "/v/a.mp4", Duration: Float64(10)})
	assert.NotEmpty(t, healthy.ID)
	assert.Equal(t, FileStatusPending, healthy.Status)
	assert.Empty(t, healthy.ErrorMsg)
	require.NotNil(t, healthy.Media)

	broken := NewFileTask("/v/b.mp4", FailedRecord("/v/b.mp4", "corrupt header"))
	assert.Equal(t, FileStatusPending, broken.Status, "the job decides what to do with unusable media")
	assert.Equal(t, "corrupt header", broken.ErrorMsg)
	assert.NotEqual(t, healthy.ID, broken.ID)
}
