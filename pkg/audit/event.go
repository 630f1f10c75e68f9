// Package audit records enforcement outcomes: every drop rule the
// controller installs is written as a JSON-lines event that can be
// queried later.
package audit

import (
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Event is one enforcement action taken on a switch.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	DPID      uint64    `json:"dpid"`
	Policy    string    `json:"policy"`
	InPort    uint32    `json:"in_port"`
	Src       string    `json:"src,omitempty"`
	Dst       string    `json:"dst,omitempty"`
	Class     string    `json:"class,omitempty"`
	Verdict   string    `json:"verdict"`
	Reason    string    `json:"reason,omitempty"`
	Priority  uint16    `json:"priority"`
	Match     string    `json:"match,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Filter selects journal events. Zero fields match everything.
type Filter struct {
	DPID    uint64
	Policy  string
	Verdict string
	Src     string
	Class   string // traffic class, e.g. "video"
	Reason  string
	Since   time.Time
	Until   time.Time
	Limit   int
}

// Match reports whether e passes every set criterion.
func (f Filter) Match(e *Event) bool {
	switch {
	case f.DPID != 0 && e.DPID != f.DPID:
		return false
	case f.Policy != "" && e.Policy != f.Policy:
		return false
	case f.Verdict != "" && e.Verdict != f.Verdict:
		return false
	case f.Src != "" && e.Src != f.Src:
		return false
	case f.Class != "" && e.Class != f.Class:
		return false
	case f.Reason != "" && e.Reason != f.Reason:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && e.Timestamp.After(f.Until):
		return false
	}
	return true
}

// NewEvent creates an event for a decision taken by policy on dpid.
func NewEvent(dpid uint64, policy, verdict string) *Event {
	return &Event{
		ID:        generateID(),
		Timestamp: time.Now(),
		DPID:      dpid,
		Policy:    policy,
		Verdict:   verdict,
	}
}

// WithFrame records the ingress port and addresses of the triggering frame.
func (e *Event) WithFrame(inPort uint32, src, dst net.HardwareAddr) *Event {
	e.InPort = inPort
	if src != nil {
		e.Src = src.String()
	}
	if dst != nil {
		e.Dst = dst.String()
	}
	return e
}

// WithClass sets the traffic class of the frame.
func (e *Event) WithClass(class string) *Event {
	e.Class = class
	return e
}

// WithReason sets the policy's reason string.
func (e *Event) WithReason(reason string) *Event {
	e.Reason = reason
	return e
}

// WithRule records the installed rule.
func (e *Event) WithRule(priority uint16, match string) *Event {
	e.Priority = priority
	e.Match = match
	return e
}

// WithError records a failure to deliver the rule to the switch.
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

var idSeq atomic.Uint64

func generateID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), idSeq.Add(1))
}
