package transcoder

import (
	"time"

	"github.com/therealutkarshpriyadarshi/mediabatch/internal/config"
)

// TimeoutPolicy derives a process deadline from the expected media duration.
type TimeoutPolicy struct {
	Dynamic    bool
	Multiplier float64
	Buffer     time.Duration
	Min        time.Duration
	Fixed      time.Duration
}

// PolicyFromConfig converts the configured seconds into a TimeoutPolicy.
func PolicyFromConfig(cfg config.TimeoutsConfig) TimeoutPolicy {
	return TimeoutPolicy{
		Dynamic:    cfg.EnableDynamic,
		Multiplier: cfg.Multiplier,
		Buffer:     seconds(cfg.BufferSeconds),
		Min:        seconds(cfg.MinSeconds),
		Fixed:      seconds(cfg.FixedSeconds),
	}
}

// Compute returns the deadline for a run whose input lasts durationSeconds.
// With dynamic timeouts and a known duration the result is
// max(Min, duration*Multiplier + Buffer). Otherwise Fixed applies; zero means
// no deadline.
func (p TimeoutPolicy) Compute(durationSeconds float64) time.Duration {
	if p.Dynamic && durationSeconds > 0 && p.Multiplier > 0 {
		timeout := seconds(durationSeconds*p.Multiplier) + p.Buffer
		if timeout < p.Min {
			timeout = p.Min
		}
		return timeout
	}
	if p.Fixed > 0 {
		return p.Fixed
	}
	return 0
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
