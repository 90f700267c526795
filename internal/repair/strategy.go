package repair

import (
	"path/filepath"
	"strings"

	"github.com/therealutkarshpriyadarshi/mediabatch/pkg/models"
)

// Built-in strategy identifiers
const (
	StrategyMkvmergeRemux = "mkvmerge_remux"
	StrategyFFmpegCopy    = "ffmpeg_copy"
)

// Strategy kinds
const (
	KindBuiltin = "builtin"
	KindProfile = "profile"
)

// Strategy is one repair technique in the chain.
type Strategy struct {
	ID   string
	Name string
	Kind string
	// AppliesTo restricts the strategy to one container extension.
	AppliesTo string
	// OutputExt forces the candidate extension; empty keeps the input's.
	OutputExt string

	remux   bool
	args    []string
	copyTag bool
}

// Applies reports whether the strategy may run against path.
func (s Strategy) Applies(path string) bool {
	return models.RepairProfile{AppliesTo: s.AppliesTo}.Applies(filepath.Ext(path))
}

// Args returns the ffmpeg arguments the strategy runs with. Remux
// strategies have none.
func (s Strategy) Args() []string {
	if s.remux {
		return nil
	}
	return BuildRepairArgs(s.args, s.copyTag)
}

var builtins = map[string]Strategy{
	StrategyMkvmergeRemux: {
		ID:        StrategyMkvmergeRemux,
		Name:      "mkvmerge remux",
		Kind:      KindBuiltin,
		AppliesTo: ".mkv",
		OutputExt: ".mkv",
		remux:     true,
	},
	StrategyFFmpegCopy: {
		ID:   StrategyFFmpegCopy,
		Name: "FFmpeg stream copy (default)",
		Kind: KindBuiltin,
		args: []string{
			"-map_metadata", "0", "-map_chapters", "0",
			"-c", "copy", "-map", "0", "-ignore_unknown", "-fflags", "+genpts",
		},
	},
}

// Builtin returns a built-in strategy by id.
func Builtin(id string) (Strategy, bool) {
	s, ok := builtins[id]
	return s, ok
}

// FromProfile wraps a custom repair profile.
func FromProfile(p models.RepairProfile) Strategy {
	return Strategy{
		ID:        p.ID,
		Name:      p.Name,
		Kind:      KindProfile,
		AppliesTo: p.AppliesTo,
		args:      p.Args,
		copyTag:   p.CopyTags,
	}
}

var logLevels = map[string]bool{
	"quiet": true, "panic": true, "fatal": true, "error": true, "warning": true,
	"info": true, "verbose": true, "debug": true, "trace": true,
}

// BuildRepairArgs prepares profile arguments for a repair run. With copyTags,
// -map_metadata 0 and -map_chapters 0 are prepended unless already present.
// A -loglevel error pair is appended when no valid log level is set.
func BuildRepairArgs(args []string, copyTags bool) []string {
	out := make([]string, 0, len(args)+6)

	if copyTags {
		if !hasFlag(args, "-map_metadata") {
			out = append(out, "-map_metadata", "0")
		}
		if !hasFlag(args, "-map_chapters") {
			out = append(out, "-map_chapters", "0")
		}
	}
	out = append(out, args...)

	for i, arg := range out {
		if strings.HasPrefix(arg, "-loglevel=") {
			return out
		}
		if arg == "-loglevel" {
			switch {
			case i+1 < len(out) && logLevels[out[i+1]]:
			case i+1 < len(out):
				out[i+1] = "error"
			default:
				out = append(out, "error")
			}
			return out
		}
	}
	return append(out, "-loglevel", "error")
}

func hasFlag(args []string, flag string) bool {
	for _, arg := range args {
		if strings.HasPrefix(arg, flag) {
			return true
		}
	}
	return false
}
