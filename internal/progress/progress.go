package progress

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fatih/color"

	"rawxfer/internal/throughput"
)

// Stats holds the byte counters of one transfer session. Counters only grow.
type Stats struct {
	TotalBytes    int64
	SentBytes     atomic.Int64
	ReceivedBytes atomic.Int64
	StartTime     time.Time
	Label         string
}

// NewStats returns counters for a session expected to move total bytes
func NewStats(label string, total int64) *Stats {
	return &Stats{
		TotalBytes: total,
		StartTime:  time.Now(),
		Label:      label,
	}
}

// AddSent atomically adds to the sent counter
func (s *Stats) AddSent(bytes int64) {
	s.SentBytes.Add(bytes)
}

// AddReceived atomically adds to the received counter
func (s *Stats) AddReceived(bytes int64) {
	s.ReceivedBytes.Add(bytes)
}

// Sent returns the bytes sent so far
func (s *Stats) Sent() int64 {
	return s.SentBytes.Load()
}

// Received returns the bytes received so far
func (s *Stats) Received() int64 {
	return s.ReceivedBytes.Load()
}

// Reporter handles progress reporting
type Reporter struct {
	stats    *Stats
	out      io.Writer
	interval time.Duration
	ticker   *time.Ticker
	done     chan struct{}
	stopped  chan struct{}
}

// NewReporter creates a reporter drawing a bar on stdout every second
func NewReporter(stats *Stats) *Reporter {
	return NewReporterTo(stats, color.Output, time.Second)
}

// NewReporterTo creates a reporter writing to out at the given interval
func NewReporterTo(stats *Stats, out io.Writer, interval time.Duration) *Reporter {
	return &Reporter{
		stats:    stats,
		out:      out,
		interval: interval,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start begins progress reporting
func (r *Reporter) Start() {
	r.ticker = time.NewTicker(r.interval)
	go r.reportLoop()
}

// Stop stops progress reporting and draws the final state
func (r *Reporter) Stop() {
	close(r.done)
	<-r.stopped
	r.render()
	fmt.Fprintln(r.out)
}

func (r *Reporter) reportLoop() {
	defer close(r.stopped)
	defer r.ticker.Stop()

	for {
		select {
		case <-r.ticker.C:
			r.render()
		case <-r.done:
			return
		}
	}
}

func (r *Reporter) render() {
	sent := r.stats.Sent()
	summary := throughput.NewSummary(sent, time.Since(r.stats.StartTime))
	fmt.Fprint(r.out, "\r"+Bar(sent, r.stats.TotalBytes, summary))
}

// Bar renders one progress line for done of total bytes
func Bar(done, total int64, s throughput.Summary) string {
	const barWidth = 30

	percent := 100.0
	if total > 0 {
		percent = float64(done) / float64(total) * 100
	}
	if percent > 100 {
		percent = 100
	}
	completed := int(float64(barWidth) * percent / 100)
	bar := color.GreenString(strings.Repeat("█", completed)) + strings.Repeat("░", barWidth-completed)

	return fmt.Sprintf("[%s] %.1f%% (%d/%d bytes) at %.2f MB/s",
		bar, percent, done, total, s.MBps())
}

// PrintSummary prints a one-line session result to stdout
func PrintSummary(label string, s throughput.Summary) {
	FprintSummary(color.Output, label, s)
}

// FprintSummary prints a one-line session result to w
func FprintSummary(w io.Writer, label string, s throughput.Summary) {
	head := color.New(color.FgCyan, color.Bold).Sprint(label)
	rate := s.RateString()
	if !s.HasRate {
		rate = color.YellowString(rate)
	}
	fmt.Fprintf(w, "%s: %d bytes in %s, speed: %s\n", head, s.Bytes, s.Elapsed.Round(time.Microsecond), rate)
}
