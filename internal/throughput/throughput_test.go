package throughput

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRate(t *testing.T) {
	tests := []struct {
		name    string
		bytes   int64
		elapsed time.Duration
		want    float64
		wantErr bool
	}{
		{"one second", 10000, time.Second, 10000, false},
		{"half second", 500, 500 * time.Millisecond, 1000, false},
		{"zero bytes", 0, time.Second, 0, false},
		{"zero elapsed", 10000, 0, 0, true},
		{"negative elapsed", 10000, -time.Millisecond, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Rate(tt.bytes, tt.elapsed)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrNoElapsed))
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 0.0001)
		})
	}
}

func TestMeterStopIsSticky(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := startWithClock(clock.now)

	clock.advance(2 * time.Second)
	assert.Equal(t, 2*time.Second, m.Elapsed())

	assert.Equal(t, 2*time.Second, m.Stop())
	clock.advance(time.Hour)
	assert.Equal(t, 2*time.Second, m.Stop())
	assert.Equal(t, 2*time.Second, m.Elapsed())
	assert.Equal(t, time.Unix(1000, 0), m.StartedAt())
}

func TestSummaryWithoutElapsedTime(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	m := startWithClock(clock.now)

	s := m.Summarize(10000)

	assert.Equal(t, int64(10000), s.Bytes)
	assert.False(t, s.HasRate)
	assert.Zero(t, s.MBps())
	assert.Equal(t, "n/a", s.RateString())
}

func TestSummary(t *testing.T) {
	s := NewSummary(2*1024*1024, 2*time.Second)

	assert.True(t, s.HasRate)
	assert.InDelta(t, 1.0, s.MBps(), 0.0001)
	assert.Equal(t, "1048576 bytes/s", s.RateString())
}
