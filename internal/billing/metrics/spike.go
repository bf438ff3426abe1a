package metrics

import (
	"context"
	"time"

	"github.com/dukerupert/clinicops/internal/middleware"
)

// SpikeDetector raises an alert once per window when the number of recorded
// occurrences reaches the threshold.
type SpikeDetector struct {
	name      string
	threshold int
	window    time.Duration
	counter   *middleware.RateLimiter
	alerter   Alerter
}

func NewSpikeDetector(name string, threshold int, window time.Duration, alerter Alerter) *SpikeDetector {
	return &SpikeDetector{
		name:      name,
		threshold: threshold,
		window:    window,
		counter:   middleware.NewRateLimiter(),
		alerter:   alerter,
	}
}

// Record counts one occurrence and reports whether it crossed the threshold.
func (d *SpikeDetector) Record(ctx context.Context) bool {
	n := d.counter.Hit(d.name, d.window)
	if n != d.threshold {
		return false
	}
	d.alerter.Alert(ctx, d.name, "threshold reached", "count", n, "window", d.window.String())
	return true
}
