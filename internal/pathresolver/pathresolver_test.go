package pathresolver

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/config"
	"github.com/therealutkarshpriyadarshi/mediabatch/internal/testutil"
	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

var fixedTime = time.Date(2024, 3, 9, 14, 5, 7, 0, time.UTC)

func TestRenderPattern(t *testing.T) {
	got := RenderPattern("{original_stem}_{profile_name}_{timestamp}_{counter}", Vars{
		Stem:        "movie",
		ProfileName: "H.265/HEVC",
		Timestamp:   fixedTime,
	}, 3)

	assert.Equal(t, "movie_H.265_HEVC_20240309140507_3", got)
}

func TestUniqueOutputPathFree(t *testing.T) {
	desired := filepath.Join(t.TempDir(), "video.mp4")

	got, err := UniqueOutputPath(desired, "{original_stem}_{counter}", Vars{})
	require.NoError(t, err)
	assert.Equal(t, desired, got)
}

func TestUniqueOutputPathCounter(t *testing.T) {
	dir := t.TempDir()
	testutil.Touch(t, filepath.Join(dir, "video.mp4"), "x")
	testutil.Touch(t, filepath.Join(dir, "video_1.mp4"), "x")

	got, err := UniqueOutputPath(filepath.Join(dir, "video.mp4"), "{original_stem}_{counter}", Vars{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "video_2.mp4"), got)
	assert.NoFileExists(t, got)
}

func TestUniqueOutputPathWithoutCounterPlaceholder(t *testing.T) {
	dir := t.TempDir()
	testutil.Touch(t, filepath.Join(dir, "video.mkv"), "x")
	testutil.Touch(t, filepath.Join(dir, "video_repaired_20240309140507.mkv"), "x")

	got, err := UniqueOutputPath(filepath.Join(dir, "video.mkv"), "{original_stem}_repaired_{timestamp}", Vars{Timestamp: fixedTime})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "video_repaired_20240309140507_1.mkv"), got)
}

func TestUniqueOutputPathBounded(t *testing.T) {
	dir := t.TempDir()
	testutil.Touch(t, filepath.Join(dir, "video.mp4"), "x")
	for i := 1; i <= MaxAttempts; i++ {
		testutil.Touch(t, filepath.Join(dir, fmt.Sprintf("video_%d.mp4", i)), "x")
	}

	_, err := UniqueOutputPath(filepath.Join(dir, "video.mp4"), "{original_stem}_{counter}", Vars{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConflict))
}

func newResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	root := t.TempDir()
	r := New(config.PathsConfig{
		OutputDirectory:   filepath.Join(root, "out"),
		RepairedDirectory: filepath.Join(root, "repaired"),
	}, config.ProcessingConfig{
		RenamePattern:       "{original_stem}_{profile_name}_{counter}",
		RepairRenamePattern: "{original_stem}_repaired_{timestamp}",
	})
	r.now = func() time.Time { return fixedTime }
	return r, root
}

func TestTranscodeOutputPath(t *testing.T) {
	r, root := newResolver(t)

	got, err := r.TranscodeOutputPath("/videos/holiday.avi", models.EncodingProfile{
		Name:            "HEVC",
		OutputExtension: "mkv",
		Subdirectory:    "hevc",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "out", "hevc", "holiday.mkv"), got)
	assert.DirExists(t, filepath.Join(root, "out", "hevc"))
}

func TestResolveConflict(t *testing.T) {
	r, root := newResolver(t)
	profile := models.EncodingProfile{Name: "HEVC", OutputExtension: ".mkv"}

	desired, err := r.TranscodeOutputPath("/videos/holiday.avi", profile)
	require.NoError(t, err)
	testutil.Touch(t, desired, "existing")

	got, err := r.ResolveConflict(desired, "/videos/holiday.avi", profile)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "out", "holiday_HEVC_1.mkv"), got)
}

func TestRepairOutputPath(t *testing.T) {
	r, root := newResolver(t)

	first, err := r.RepairOutputPath("/videos/broken.mp4", "")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "repaired", "broken.mp4"), first)

	testutil.Touch(t, first, "x")
	second, err := r.RepairOutputPath("/videos/broken.mp4", ".mkv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "repaired", "broken.mkv"), second)

	testutil.Touch(t, second, "x")
	third, err := r.RepairOutputPath("/videos/broken.mp4", ".mkv")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "repaired", "broken_repaired_20240309140507.mkv"), third)
}
