package policy

import (
	"github.com/newtron-network/newtslice/pkg/classifier"
	"github.com/newtron-network/newtslice/pkg/openflow"
	"github.com/newtron-network/newtslice/pkg/topology"
)

// Dynamic always queues video high and everything else low. Video is
// pinned to the primary backbone path; non-video shares it only while the
// traffic monitor reports video load below threshold.
type Dynamic struct{}

func (p *Dynamic) Name() string { return NameDynamic }

func (p *Dynamic) Baseline() []openflow.FlowMod { return videoRedirect() }

func (p *Dynamic) Decide(pctx *classifier.Context, env *Env) *Decision {
	queue, priority := openflow.QueueLow, openflow.PriorityDefault
	if pctx.IsVideo() {
		queue, priority = openflow.QueueHigh, openflow.PriorityVideo
	}
	setQueue := []openflow.Action{openflow.SetQueue(queue)}

	sw, ok := env.Topology.Switch(pctx.DPID)
	if !ok || !sw.IsAccess() {
		return learnedForward(pctx, env, priority, setQueue)
	}

	uplink := p.uplink(pctx, sw, env)
	port, known := env.Table.Lookup(pctx.DPID, pctx.Dst)
	if !known {
		ports := append(append([]uint32(nil), sw.HostPorts...), uplink)
		return &Decision{
			Verdict:   VerdictFlood,
			Reason:    "unknown destination",
			PacketOut: packetOut(pctx, append(setQueue, outputs(ports...)...)),
		}
	}

	reason := "local host"
	if !sw.IsHostPort(port) {
		port, reason = uplink, "backbone"
	}
	return &Decision{
		Verdict:   VerdictForward,
		Reason:    reason,
		PacketOut: packetOut(pctx, append(setQueue, openflow.Output(port))),
	}
}

// uplink selects the backbone port for traffic leaving an access switch.
func (p *Dynamic) uplink(pctx *classifier.Context, sw *topology.Switch, env *Env) uint32 {
	if pctx.IsVideo() {
		return sw.PrimaryPort
	}
	if env.Adaptive == nil || env.Adaptive.AllowNonVideoOnPrimary() {
		return sw.PrimaryPort
	}
	return sw.SecondaryPort
}
