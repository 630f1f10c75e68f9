package adaptive

import (
	"context"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/newtron-network/newtslice/pkg/util"
)

func init() {
	util.SetLogOutput(io.Discard)
}

type sinkRecorder struct {
	mu      sync.Mutex
	samples []Sample
}

func (r *sinkRecorder) ObserveSample(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *sinkRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func TestNewState(t *testing.T) {
	t0 := time.Unix(1000, 0)
	s := NewState(t0)

	if !s.AllowNonVideoOnPrimary() {
		t.Error("non-video should start on the primary path")
	}
	if !s.LastSample().Equal(t0) {
		t.Errorf("LastSample() = %v, want %v", s.LastSample(), t0)
	}

	s.AddVideoBytes(100)
	s.AddVideoBytes(0)
	s.AddVideoBytes(-5)
	if got := s.PendingVideoBytes(); got != 100 {
		t.Errorf("PendingVideoBytes() = %d, want 100", got)
	}
}

func TestMonitor_Sample(t *testing.T) {
	tests := []struct {
		name      string
		bytes     int
		elapsed   time.Duration
		wantMbps  float64
		wantAllow bool
	}{
		{"at threshold", 2_000_000, 2 * time.Second, 8.0, false},
		{"below threshold", 1_000_000, 2 * time.Second, 4.0, true},
		{"above threshold", 1_500_000, time.Second, 12.0, false},
		{"idle", 0, time.Second, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t0 := time.Unix(1000, 0)
			state := NewState(t0)
			sink := &sinkRecorder{}
			m := NewMonitor(state, WithSink(sink))

			state.AddVideoBytes(tt.bytes)
			s, ok := m.Sample(t0.Add(tt.elapsed))
			if !ok {
				t.Fatal("Sample() skipped")
			}
			if math.Abs(s.VideoMbps-tt.wantMbps) > 1e-9 {
				t.Errorf("VideoMbps = %v, want %v", s.VideoMbps, tt.wantMbps)
			}
			if s.AllowNonVideoOnPrimary != tt.wantAllow || state.AllowNonVideoOnPrimary() != tt.wantAllow {
				t.Errorf("allow = %v/%v, want %v", s.AllowNonVideoOnPrimary, state.AllowNonVideoOnPrimary(), tt.wantAllow)
			}
			if state.PendingVideoBytes() != 0 {
				t.Error("counter should be reset after a sample")
			}
			if !state.LastSample().Equal(t0.Add(tt.elapsed)) {
				t.Errorf("LastSample() = %v, want advanced", state.LastSample())
			}
			if sink.count() != 1 {
				t.Errorf("sink saw %d samples, want 1", sink.count())
			}
		})
	}
}

func TestMonitor_SampleSkipsNonPositiveElapsed(t *testing.T) {
	t0 := time.Unix(1000, 0)
	state := NewState(t0)
	sink := &sinkRecorder{}
	m := NewMonitor(state, WithSink(sink))

	state.AddVideoBytes(5_000_000)

	for _, at := range []time.Time{t0, t0.Add(-time.Second)} {
		if _, ok := m.Sample(at); ok {
			t.Errorf("Sample(%v) should be skipped", at)
		}
	}

	if state.PendingVideoBytes() != 5_000_000 {
		t.Errorf("skipped tick must not reset the counter, got %d", state.PendingVideoBytes())
	}
	if !state.LastSample().Equal(t0) {
		t.Error("skipped tick must not advance the timestamp")
	}
	if !state.AllowNonVideoOnPrimary() {
		t.Error("skipped tick must not change the flag")
	}
	if sink.count() != 0 {
		t.Errorf("sink saw %d samples, want 0", sink.count())
	}
}

func TestMonitor_FlagRecovers(t *testing.T) {
	t0 := time.Unix(1000, 0)
	state := NewState(t0)
	m := NewMonitor(state)

	state.AddVideoBytes(2_000_000)
	m.Sample(t0.Add(time.Second))
	if state.AllowNonVideoOnPrimary() {
		t.Fatal("16 Mbps should close the primary path")
	}

	m.Sample(t0.Add(2 * time.Second))
	if !state.AllowNonVideoOnPrimary() {
		t.Error("an idle second should reopen the primary path")
	}
}

func TestMonitor_WithThreshold(t *testing.T) {
	t0 := time.Unix(1000, 0)
	state := NewState(t0)
	m := NewMonitor(state, WithThreshold(1.0))

	state.AddVideoBytes(250_000)
	s, _ := m.Sample(t0.Add(time.Second))
	if s.AllowNonVideoOnPrimary {
		t.Errorf("2 Mbps against a 1 Mbps threshold should close the primary path")
	}
}

func TestMonitor_StartStop(t *testing.T) {
	state := NewState(time.Now())
	sink := &sinkRecorder{}
	m := NewMonitor(state, WithInterval(5*time.Millisecond), WithSink(sink))

	m.Start(context.Background())
	m.Start(context.Background()) // second Start is a no-op

	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()

	if sink.count() < 2 {
		t.Fatalf("expected at least 2 samples, got %d", sink.count())
	}

	n := sink.count()
	time.Sleep(20 * time.Millisecond)
	if sink.count() != n {
		t.Error("monitor kept sampling after Stop")
	}

	m.Stop() // idempotent
}

func TestMonitor_ContextCancel(t *testing.T) {
	state := NewState(time.Now())
	m := NewMonitor(state, WithInterval(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	cancel()
	m.Stop()
}

func TestState_ConcurrentAdd(t *testing.T) {
	t0 := time.Unix(1000, 0)
	state := NewState(t0)
	m := NewMonitor(state)

	var wg sync.WaitGroup
	var total uint64
	var mu sync.Mutex
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		at := t0
		for {
			select {
			case <-stop:
				return
			default:
			}
			at = at.Add(time.Millisecond)
			if s, ok := m.Sample(at); ok {
				mu.Lock()
				total += s.VideoBytes
				mu.Unlock()
			}
		}
	}()

	var writers sync.WaitGroup
	for i := 0; i < 4; i++ {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for j := 0; j < 1000; j++ {
				state.AddVideoBytes(10)
			}
		}()
	}
	writers.Wait()
	close(stop)
	wg.Wait()

	mu.Lock()
	got := total + state.PendingVideoBytes()
	mu.Unlock()
	if got != 40_000 {
		t.Errorf("bytes accounted = %d, want 40000 (lost updates)", got)
	}
}
