package adaptive

import (
	"context"
	"sync"
	"time"

	"github.com/newtron-network/newtslice/pkg/util"
)

// DefaultInterval is the sampling cadence.
const DefaultInterval = time.Second

// Sample is the outcome of one monitor tick.
type Sample struct {
	Time                   time.Time
	Elapsed                time.Duration
	VideoBytes             uint64
	VideoMbps              float64
	AllowNonVideoOnPrimary bool
}

// Sink receives every computed sample.
type Sink interface {
	ObserveSample(s Sample)
}

// Monitor periodically converts the video byte counter into a rate and
// updates the path flag.
type Monitor struct {
	state     *State
	interval  time.Duration
	threshold float64
	sinks     []Sink
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithInterval overrides the sampling cadence.
func WithInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) { m.interval = d }
}

// WithThreshold overrides the congestion threshold in Mbit/s.
func WithThreshold(mbps float64) MonitorOption {
	return func(m *Monitor) { m.threshold = mbps }
}

// WithSink adds a sample observer.
func WithSink(s Sink) MonitorOption {
	return func(m *Monitor) { m.sinks = append(m.sinks, s) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MonitorOption {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a monitor over state.
func NewMonitor(state *State, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		state:     state,
		interval:  DefaultInterval,
		threshold: DefaultThresholdMbps,
		now:       time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Sample runs one tick at the given instant. When no time has elapsed
// since the previous sample the tick is skipped and nothing is reset.
func (m *Monitor) Sample(now time.Time) (Sample, bool) {
	elapsed := now.Sub(m.state.LastSample())
	if elapsed <= 0 {
		return Sample{}, false
	}

	bytes := m.state.drain()
	mbps := float64(bytes) * 8.0 / 1e6 / elapsed.Seconds()
	allow := mbps < m.threshold

	m.state.lastSample.Store(now.UnixNano())
	m.state.setAllow(allow)

	s := Sample{
		Time:                   now,
		Elapsed:                elapsed,
		VideoBytes:             bytes,
		VideoMbps:              mbps,
		AllowNonVideoOnPrimary: allow,
	}
	util.Infof("video=%.2f Mbps allow_non_video_upper=%v", mbps, allow)

	for _, sink := range m.sinks {
		sink.ObserveSample(s)
	}
	return s, true
}

// Start launches the sampling loop on its own goroutine. It returns
// immediately; the loop ends when ctx is cancelled or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, m.done)
	util.Infof("traffic monitor started (interval %s, threshold %.1f Mbps)", m.interval, m.threshold)
}

// Stop ends the sampling loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sample(m.now())
		}
	}
}
