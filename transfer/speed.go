package transfer

import (
	"time"
)

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// speedWindow is how much history the rate estimate considers.
const speedWindow = 5 * time.Second

type rateSample struct {
	at    time.Time
	bytes int64
}

// rateMeter estimates throughput over a sliding window so the figure
// tracks current conditions instead of the whole transfer's average.
type rateMeter struct {
	tp      TimeProvider
	samples []rateSample
}

func newRateMeter(tp TimeProvider) *rateMeter {
	return &rateMeter{tp: tp}
}

// add records cumulative bytes transferred as of now.
func (r *rateMeter) add(total int64) {
	now := r.tp.Now()
	r.samples = append(r.samples, rateSample{at: now, bytes: total})
	cutoff := now.Add(-speedWindow)
	i := 0
	for i < len(r.samples)-1 && r.samples[i].at.Before(cutoff) {
		i++
	}
	r.samples = r.samples[i:]
}

// rate returns bytes per second over the window, or 0 with too little
// history.
func (r *rateMeter) rate() float64 {
	if len(r.samples) < 2 {
		return 0
	}
	first := r.samples[0]
	last := r.samples[len(r.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.bytes-first.bytes) / elapsed
}

// eta estimates time to completion. Zero means unknown: either the
// total size is unknown or there is no rate yet.
func (r *rateMeter) eta(transferred, total int64) time.Duration {
	rate := r.rate()
	if rate <= 0 || total <= 0 || transferred >= total {
		return 0
	}
	secs := float64(total-transferred) / rate
	return time.Duration(secs * float64(time.Second))
}
