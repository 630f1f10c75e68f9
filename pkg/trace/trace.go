// Package trace loads scripted controller event sequences from YAML so the
// slice policies can be exercised without a live network.
//
// A trace looks like:
//
//	name: video-burst
//	events:
//	  - connect: [1, 2, 3, 4]
//	  - packet_in:
//	      dpid: 1
//	      in_port: 1
//	      frame: { kind: udp, src: h1, dst: h3, udp_dst: 9999, size: 1200 }
//	      count: 10
//	  - sleep: 1s
package trace

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/newtron-network/newtslice/pkg/openflow"
	"github.com/newtron-network/newtslice/pkg/topology"
	"github.com/newtron-network/newtslice/pkg/util"
)

// StepKind distinguishes trace steps.
type StepKind string

const (
	StepConnect  StepKind = "connect"
	StepPacketIn StepKind = "packet_in"
	StepSleep    StepKind = "sleep"
)

// PacketInSpec is the YAML form of a packet-in event.
type PacketInSpec struct {
	DPID     uint64    `yaml:"dpid"`
	InPort   uint32    `yaml:"in_port"`
	BufferID *uint32   `yaml:"buffer_id,omitempty"`
	Frame    FrameSpec `yaml:"frame"`
	Count    int       `yaml:"count,omitempty"`
}

type eventSpec struct {
	Connect  []uint64      `yaml:"connect,omitempty"`
	PacketIn *PacketInSpec `yaml:"packet_in,omitempty"`
	Sleep    string        `yaml:"sleep,omitempty"`
}

type fileSpec struct {
	Name   string      `yaml:"name"`
	Events []eventSpec `yaml:"events"`
}

// Step is one resolved trace step.
type Step struct {
	Kind StepKind

	DPIDs []uint64 // StepConnect

	DPID     uint64 // StepPacketIn
	InPort   uint32
	BufferID uint32
	Frame    []byte
	Count    int

	Sleep time.Duration // StepSleep
}

// Trace is a resolved event sequence.
type Trace struct {
	Name  string
	Steps []Step
}

// Load reads a trace file and resolves it against topo.
func Load(path string, topo *topology.Map) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading trace file: %w", err)
	}
	t, err := Parse(data, topo)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Parse decodes trace YAML and synthesizes every frame.
func Parse(data []byte, topo *topology.Map) (*Trace, error) {
	var f fileSpec
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing trace YAML: %w", err)
	}

	v := &util.ValidationBuilder{}
	t := &Trace{Name: f.Name}

	for i, ev := range f.Events {
		set := 0
		if len(ev.Connect) > 0 {
			set++
		}
		if ev.PacketIn != nil {
			set++
		}
		if ev.Sleep != "" {
			set++
		}
		if set != 1 {
			v.AddErrorf("event %d: exactly one of connect, packet_in, sleep is required", i)
			continue
		}

		switch {
		case len(ev.Connect) > 0:
			t.Steps = append(t.Steps, Step{Kind: StepConnect, DPIDs: ev.Connect})

		case ev.Sleep != "":
			d, err := time.ParseDuration(ev.Sleep)
			if err != nil || d < 0 {
				v.AddErrorf("event %d: invalid sleep %q", i, ev.Sleep)
				continue
			}
			t.Steps = append(t.Steps, Step{Kind: StepSleep, Sleep: d})

		default:
			pi := ev.PacketIn
			if pi.DPID == 0 {
				v.AddErrorf("event %d: packet_in.dpid is required", i)
			}
			if pi.InPort == 0 {
				v.AddErrorf("event %d: packet_in.in_port is required", i)
			}
			frame, err := pi.Frame.Build(topo)
			if err != nil {
				v.AddErrorf("event %d: %v", i, err)
				continue
			}
			step := Step{
				Kind:     StepPacketIn,
				DPID:     pi.DPID,
				InPort:   pi.InPort,
				BufferID: openflow.NoBuffer,
				Frame:    frame,
				Count:    pi.Count,
			}
			if pi.BufferID != nil {
				step.BufferID = *pi.BufferID
			}
			if step.Count <= 0 {
				step.Count = 1
			}
			t.Steps = append(t.Steps, step)
		}
	}

	if err := v.Build(); err != nil {
		return nil, err
	}
	return t, nil
}

// PacketIns returns the total number of packet-in events the trace emits.
func (t *Trace) PacketIns() int {
	n := 0
	for _, s := range t.Steps {
		if s.Kind == StepPacketIn {
			n += s.Count
		}
	}
	return n
}
