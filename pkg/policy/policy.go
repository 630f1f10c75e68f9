// Package policy implements the slice policies that turn a classified
// packet-in into flow rules and packet-outs.
package policy

import (
	"fmt"
	"sort"

	"github.com/newtron-network/newtslice/pkg/adaptive"
	"github.com/newtron-network/newtslice/pkg/classifier"
	"github.com/newtron-network/newtslice/pkg/fdb"
	"github.com/newtron-network/newtslice/pkg/openflow"
	"github.com/newtron-network/newtslice/pkg/topology"
	"github.com/newtron-network/newtslice/pkg/util"
)

// Verdict is the outcome class of a decision.
type Verdict string

const (
	VerdictForward Verdict = "forward"
	VerdictFlood   Verdict = "flood"
	VerdictDrop    Verdict = "drop"
)

// Env is the shared state a policy reads. Policies never write to it;
// learning and accounting happen before Decide is called.
type Env struct {
	Table    fdb.Reader
	Topology *topology.Map
	Adaptive *adaptive.State
}

// Decision is what the controller must send for one packet-in. Flows are
// sent first, in order, then PacketOut if present.
type Decision struct {
	Verdict   Verdict
	Reason    string
	Flows     []openflow.FlowMod
	PacketOut *openflow.PacketOut
}

// Priority returns the priority of the first flow in the decision, or 0.
func (d *Decision) Priority() uint16 {
	if len(d.Flows) == 0 {
		return 0
	}
	return d.Flows[0].Priority
}

// Policy decides how one switch handles one frame.
type Policy interface {
	Name() string
	// Baseline returns the proactive rules installed on every switch at
	// connect time, in addition to the table-miss rule.
	Baseline() []openflow.FlowMod
	Decide(pctx *classifier.Context, env *Env) *Decision
}

// Policy names accepted by New.
const (
	NameStatic  = "static"
	NameService = "service"
	NameDynamic = "dynamic"
)

var registry = map[string]struct {
	description string
	build       func() Policy
}{
	NameStatic: {
		description: "host-to-backbone isolation with an allow-list of host pairs",
		build:       func() Policy { return &Static{} },
	},
	NameService: {
		description: "per-flow slicing: video on the primary path, the rest on the secondary",
		build:       func() Policy { return &Service{} },
	},
	NameDynamic: {
		description: "queue-based slicing; non-video leaves the primary path under video load",
		build:       func() Policy { return &Dynamic{} },
	},
}

// New returns the named policy.
func New(name string) (Policy, error) {
	entry, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (valid: %v)", util.ErrUnknownPolicy, name, Names())
	}
	return entry.build(), nil
}

// Names returns the registered policy names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns a one-line description of the named policy.
func Describe(name string) string {
	return registry[name].description
}

// UsesAdaptive reports whether the named policy reads the adaptive state,
// i.e. whether a traffic monitor must run alongside it.
func UsesAdaptive(name string) bool {
	return name == NameDynamic
}

// TableMiss is the priority-0 rule sending unmatched traffic to the
// controller, unbuffered.
func TableMiss() openflow.FlowMod {
	return openflow.FlowMod{
		Priority: openflow.PriorityCatchAll,
		Actions:  []openflow.Action{openflow.ToController(openflow.ControllerMaxLenNoBuffer)},
		BufferID: openflow.NoBuffer,
	}
}

// videoRedirect returns the two rules punting video UDP to the controller
// so that video frames keep generating packet-ins.
func videoRedirect() []openflow.FlowMod {
	toController := []openflow.Action{openflow.ToController(openflow.ControllerMaxLenNoBuffer)}
	return []openflow.FlowMod{
		{
			Match: openflow.Match{
				EthType: openflow.EthTypeIPv4,
				IPProto: openflow.IPProtoUDP,
				UDPDst:  classifier.VideoPort,
			},
			Priority: openflow.PriorityVideoRedirect,
			Actions:  toController,
			BufferID: openflow.NoBuffer,
		},
		{
			Match: openflow.Match{
				EthType: openflow.EthTypeIPv4,
				IPProto: openflow.IPProtoUDP,
				UDPSrc:  classifier.VideoPort,
			},
			Priority: openflow.PriorityVideoRedirect,
			Actions:  toController,
			BufferID: openflow.NoBuffer,
		},
	}
}

// pairMatch keys a rule on (in_port, src, dst).
func pairMatch(pctx *classifier.Context) openflow.Match {
	return openflow.Match{InPort: pctx.InPort, EthSrc: pctx.Src, EthDst: pctx.Dst}
}

// packetOut re-injects the frame, referencing the switch buffer when one
// holds it.
func packetOut(pctx *classifier.Context, actions []openflow.Action) *openflow.PacketOut {
	po := &openflow.PacketOut{
		InPort:   pctx.InPort,
		Actions:  actions,
		BufferID: pctx.BufferID,
	}
	if !pctx.Buffered() {
		po.BufferID = openflow.NoBuffer
		po.Data = pctx.Data
	}
	return po
}

// install returns a forward decision with a persistent rule. A buffered
// frame is released by the rule itself; otherwise the rule is followed by
// a packet-out carrying the frame.
func install(pctx *classifier.Context, match openflow.Match, priority uint16, actions []openflow.Action, reason string) *Decision {
	fm := openflow.FlowMod{Match: match, Priority: priority, Actions: actions, BufferID: openflow.NoBuffer}
	if pctx.Buffered() {
		fm.BufferID = pctx.BufferID
		return &Decision{Verdict: VerdictForward, Reason: reason, Flows: []openflow.FlowMod{fm}}
	}
	return &Decision{
		Verdict:   VerdictForward,
		Reason:    reason,
		Flows:     []openflow.FlowMod{fm},
		PacketOut: packetOut(pctx, actions),
	}
}

// drop returns a terminal decision installing an empty-action rule.
func drop(match openflow.Match, reason string) *Decision {
	return &Decision{
		Verdict: VerdictDrop,
		Reason:  reason,
		Flows: []openflow.FlowMod{{
			Match:    match,
			Priority: openflow.PriorityDeny,
			BufferID: openflow.NoBuffer,
		}},
	}
}

func outputs(ports ...uint32) []openflow.Action {
	actions := make([]openflow.Action, 0, len(ports))
	for _, p := range ports {
		actions = append(actions, openflow.Output(p))
	}
	return actions
}
