package rotation

import (
	"fmt"
	"time"
)

// ETAThresholds decide when a run's ETA is flagged as a regression. Both
// must be exceeded.
type ETAThresholds struct {
	// Pct is the relative growth over the previous ETA, in percent.
	Pct float64
	// MinDelta is the minimum absolute growth.
	MinDelta time.Duration
}

// estimate returns the time left at the observed throughput. A run that
// processed nothing has no estimate.
func estimate(remaining int64, rowsPerSecond float64) time.Duration {
	if remaining <= 0 || rowsPerSecond <= 0 {
		return 0
	}
	return time.Duration(float64(remaining) / rowsPerSecond * float64(time.Second))
}

// regression returns a warning when eta grew beyond both thresholds
// compared to prev.
func (t ETAThresholds) regression(prev, eta time.Duration) string {
	if prev <= 0 || eta <= prev {
		return ""
	}
	delta := eta - prev
	pct := float64(delta) / float64(prev) * 100
	if pct <= t.Pct || delta <= t.MinDelta {
		return ""
	}
	return fmt.Sprintf("eta regressed %.1f%% (%s -> %s)", pct, prev.Round(time.Millisecond), eta.Round(time.Millisecond))
}
