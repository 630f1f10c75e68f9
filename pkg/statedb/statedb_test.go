package statedb

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/newtron-network/newtslice/pkg/adaptive"
	"github.com/newtron-network/newtslice/pkg/util"
)

func init() {
	util.SetLogOutput(io.Discard)
}

type fakeWriter struct {
	mu      sync.Mutex
	updates []update
	block   chan struct{}
	err     error
}

func (f *fakeWriter) write(_ context.Context, batch []update) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, batch...)
	return f.err
}

func (f *fakeWriter) snapshot() []update {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]update(nil), f.updates...)
}

func TestKeys(t *testing.T) {
	mac := net.HardwareAddr{0, 0, 0, 0, 0, 1}
	if got := FDBKey(4, mac); got != "FDB_TABLE|s4|00:00:00:00:00:01" {
		t.Errorf("FDBKey() = %q", got)
	}
	if got := MonitorHashKey(); got != "SLICE_MONITOR|video" {
		t.Errorf("MonitorHashKey() = %q", got)
	}
}

func TestClient_PublishAndClose(t *testing.T) {
	w := &fakeWriter{}
	c := newClient(w, 16)

	mac := net.HardwareAddr{0, 0, 0, 0, 0, 3}
	c.PublishFDB(1, mac, 3)
	c.ObserveSample(adaptive.Sample{
		Time:                   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		VideoMbps:              8,
		AllowNonVideoOnPrimary: false,
	})

	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	got := w.snapshot()
	if len(got) != 2 {
		t.Fatalf("wrote %d updates, want 2", len(got))
	}
	if got[0].key != "FDB_TABLE|s1|00:00:00:00:00:03" || got[0].fields["port"] != "3" {
		t.Errorf("fdb update = %+v", got[0])
	}
	if got[1].key != "SLICE_MONITOR|video" {
		t.Errorf("monitor key = %q", got[1].key)
	}
	if got[1].fields["mbps"] != "8.000" || got[1].fields["allow_non_video_upper"] != "false" {
		t.Errorf("monitor fields = %v", got[1].fields)
	}
	if got[1].fields["timestamp"] != "2026-01-02T03:04:05Z" {
		t.Errorf("timestamp = %v", got[1].fields["timestamp"])
	}

	// Publishing after Close is ignored; Close is idempotent.
	c.PublishFDB(1, mac, 4)
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if len(w.snapshot()) != 2 {
		t.Error("update after Close should be dropped")
	}
}

func TestClient_DropsWhenFull(t *testing.T) {
	w := &fakeWriter{block: make(chan struct{})}
	c := newClient(w, 2)

	mac := net.HardwareAddr{0, 0, 0, 0, 0, 1}
	for i := 0; i < 50; i++ {
		c.PublishFDB(1, mac, uint32(i+1))
	}
	if c.Dropped() == 0 {
		t.Error("expected dropped updates with a blocked writer")
	}

	close(w.block)
	c.Close()

	if n := uint64(len(w.snapshot())) + c.Dropped(); n != 50 {
		t.Errorf("written + dropped = %d, want 50", n)
	}
}

func TestClient_WriteErrorIsNotFatal(t *testing.T) {
	w := &fakeWriter{err: errors.New("connection refused")}
	c := newClient(w, 4)
	c.PublishFDB(2, net.HardwareAddr{0, 0, 0, 0, 0, 2}, 1)
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	p.PublishFDB(1, nil, 1)
	p.PublishSample(adaptive.Sample{})
	if err := p.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
