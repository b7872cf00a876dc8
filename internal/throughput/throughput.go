// Package throughput times transfer sessions and derives their byte rate.
package throughput

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoElapsed is returned when a rate is requested for a session whose
// measured duration is zero or negative.
var ErrNoElapsed = errors.New("elapsed time too small to compute a rate")

// Meter records the start and end of a session
type Meter struct {
	start time.Time
	end   time.Time
	now   func() time.Time
}

// Start returns a running meter
func Start() *Meter {
	return startWithClock(time.Now)
}

func startWithClock(now func() time.Time) *Meter {
	return &Meter{start: now(), now: now}
}

// Stop freezes the meter and returns the elapsed time. Later calls keep the
// first end time.
func (m *Meter) Stop() time.Duration {
	if m.end.IsZero() {
		m.end = m.now()
	}
	return m.Elapsed()
}

// Elapsed returns the time between start and stop, or up to now when the
// meter is still running.
func (m *Meter) Elapsed() time.Duration {
	if m.end.IsZero() {
		return m.now().Sub(m.start)
	}
	return m.end.Sub(m.start)
}

// StartedAt returns the start timestamp
func (m *Meter) StartedAt() time.Time {
	return m.start
}

// Summarize stops the meter and returns the summary for bytes.
func (m *Meter) Summarize(bytes int64) Summary {
	return NewSummary(bytes, m.Stop())
}

// Rate returns bytes per second. It never divides by a non-positive duration.
func Rate(bytes int64, elapsed time.Duration) (float64, error) {
	if elapsed <= 0 {
		return 0, ErrNoElapsed
	}
	return float64(bytes) / elapsed.Seconds(), nil
}

// Summary is the reportable outcome of one session
type Summary struct {
	Bytes       int64
	Elapsed     time.Duration
	BytesPerSec float64
	HasRate     bool
}

// NewSummary builds a Summary, leaving HasRate false when the rate is
// undefined.
func NewSummary(bytes int64, elapsed time.Duration) Summary {
	s := Summary{Bytes: bytes, Elapsed: elapsed}
	if rate, err := Rate(bytes, elapsed); err == nil {
		s.BytesPerSec = rate
		s.HasRate = true
	}
	return s
}

// MBps returns the rate in MiB per second, or 0 when undefined
func (s Summary) MBps() float64 {
	if !s.HasRate {
		return 0
	}
	return s.BytesPerSec / (1024 * 1024)
}

// RateString formats the rate for console output
func (s Summary) RateString() string {
	if !s.HasRate {
		return "n/a"
	}
	return fmt.Sprintf("%.0f bytes/s", s.BytesPerSec)
}
