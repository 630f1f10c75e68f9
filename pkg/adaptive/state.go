// Package adaptive tracks video load and derives whether non-video traffic
// may share the primary backbone path.
package adaptive

import (
	"sync/atomic"
	"time"
)

// DefaultThresholdMbps is the video rate at or above which non-video
// traffic is pushed onto the secondary path.
const DefaultThresholdMbps = 8.0

// State is shared between the packet path and the Monitor. Any number of
// goroutines may call AddVideoBytes; only the Monitor drains the counter
// and writes the flag.
type State struct {
	videoBytes atomic.Uint64
	allowUpper atomic.Bool
	lastSample atomic.Int64 // unix nanos
}

// NewState returns a state whose sampling window starts at now, with
// non-video traffic allowed on the primary path.
func NewState(now time.Time) *State {
	s := &State{}
	s.allowUpper.Store(true)
	s.lastSample.Store(now.UnixNano())
	return s
}

// AddVideoBytes accounts one video frame.
func (s *State) AddVideoBytes(n int) {
	if n > 0 {
		s.videoBytes.Add(uint64(n))
	}
}

// PendingVideoBytes returns the bytes accumulated since the last sample.
func (s *State) PendingVideoBytes() uint64 {
	return s.videoBytes.Load()
}

// AllowNonVideoOnPrimary reports the current path decision for non-video
// traffic: true selects the primary path.
func (s *State) AllowNonVideoOnPrimary() bool {
	return s.allowUpper.Load()
}

// LastSample returns the start of the current sampling window.
func (s *State) LastSample() time.Time {
	return time.Unix(0, s.lastSample.Load())
}

func (s *State) drain() uint64 {
	return s.videoBytes.Swap(0)
}

func (s *State) setAllow(v bool) {
	s.allowUpper.Store(v)
}
