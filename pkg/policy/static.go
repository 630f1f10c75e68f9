package policy

import (
	"github.com/newtron-network/newtslice/pkg/classifier"
	"github.com/newtron-network/newtslice/pkg/openflow"
)

// Static binds each host to the backbone switch of its slice and only
// forwards between allow-listed host pairs. Violations install drop rules.
type Static struct{}

func (p *Static) Name() string { return NameStatic }

// Baseline is empty: static isolation relies on the table-miss rule alone.
func (p *Static) Baseline() []openflow.FlowMod { return nil }

func (p *Static) Decide(pctx *classifier.Context, env *Env) *Decision {
	topo := env.Topology

	if pctx.Class == classifier.ClassARP {
		if topo.ViolatesSlice(pctx.Src, pctx.DPID) {
			return drop(openflow.Match{
				InPort:  pctx.InPort,
				EthSrc:  pctx.Src,
				EthType: openflow.EthTypeARP,
			}, "arp slice violation")
		}
		return &Decision{
			Verdict:   VerdictFlood,
			Reason:    "arp",
			PacketOut: packetOut(pctx, []openflow.Action{openflow.Flood()}),
		}
	}

	if topo.ViolatesSlice(pctx.Src, pctx.DPID) {
		return drop(openflow.Match{InPort: pctx.InPort, EthSrc: pctx.Src}, "slice violation")
	}

	if !topo.Allowed(pctx.Src, pctx.Dst) {
		return drop(pairMatch(pctx), "pair not allowed")
	}

	port, ok := env.Table.Lookup(pctx.DPID, pctx.Dst)
	if !ok {
		return &Decision{
			Verdict:   VerdictFlood,
			Reason:    "unknown destination",
			PacketOut: packetOut(pctx, []openflow.Action{openflow.Flood()}),
		}
	}
	return install(pctx, pairMatch(pctx), openflow.PriorityDefault, outputs(port), "learned")
}
