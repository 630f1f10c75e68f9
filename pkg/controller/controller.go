// Package controller is the event entry point: it installs baseline rules
// when a switch connects and runs every packet-in through learning,
// classification and the active slice policy, then emits the resulting
// flow-mods and packet-outs on the control channel.
package controller

import (
	"fmt"
	"net"
	"time"

	"github.com/newtron-network/newtslice/pkg/adaptive"
	"github.com/newtron-network/newtslice/pkg/audit"
	"github.com/newtron-network/newtslice/pkg/classifier"
	"github.com/newtron-network/newtslice/pkg/fdb"
	"github.com/newtron-network/newtslice/pkg/metrics"
	"github.com/newtron-network/newtslice/pkg/openflow"
	"github.com/newtron-network/newtslice/pkg/policy"
	"github.com/newtron-network/newtslice/pkg/statedb"
	"github.com/newtron-network/newtslice/pkg/topology"
	"github.com/newtron-network/newtslice/pkg/util"
)

// DefaultQueueDepth is the per-switch event queue length.
const DefaultQueueDepth = 256

// Config wires a Controller. Topology, Policy and Channel are required;
// the rest are optional.
type Config struct {
	Topology *topology.Map
	Policy   policy.Policy
	Channel  openflow.Channel

	Table     *fdb.Table
	Adaptive  *adaptive.State
	Publisher statedb.Publisher
	Audit     audit.Logger
	Metrics   *metrics.Metrics

	QueueDepth int
}

// PacketIn is a frame punted to the controller by a switch.
type PacketIn struct {
	DPID     uint64
	InPort   uint32
	BufferID uint32
	Data     []byte
}

// Controller owns the learning table and drives the policy. HandleConnect
// and HandlePacketIn may be called concurrently for different switches;
// calls for the same switch must be serialized, which Submit does.
type Controller struct {
	topo      *topology.Map
	policy    policy.Policy
	channel   openflow.Channel
	table     *fdb.Table
	adaptive  *adaptive.State
	publisher statedb.Publisher
	audit     audit.Logger
	metrics   *metrics.Metrics
	env       *policy.Env

	*dispatcher
}

// New validates cfg and builds a Controller.
func New(cfg Config) (*Controller, error) {
	v := &util.ValidationBuilder{}
	v.Add(cfg.Topology != nil, "topology is required")
	v.Add(cfg.Policy != nil, "policy is required")
	v.Add(cfg.Channel != nil, "control channel is required")
	v.Add(cfg.QueueDepth >= 0, "queue depth must not be negative")
	if err := v.Build(); err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrInvalidConfig, err)
	}

	c := &Controller{
		topo:      cfg.Topology,
		policy:    cfg.Policy,
		channel:   cfg.Channel,
		table:     cfg.Table,
		adaptive:  cfg.Adaptive,
		publisher: cfg.Publisher,
		audit:     cfg.Audit,
		metrics:   cfg.Metrics,
	}
	if c.table == nil {
		c.table = fdb.New()
	}
	if c.publisher == nil {
		c.publisher = statedb.Nop{}
	}
	c.env = &policy.Env{Table: c.table, Topology: c.topo, Adaptive: c.adaptive}

	depth := cfg.QueueDepth
	if depth == 0 {
		depth = DefaultQueueDepth
	}
	c.dispatcher = newDispatcher(c, depth)
	return c, nil
}

// Table returns the learning table.
func (c *Controller) Table() *fdb.Table { return c.table }

// Policy returns the active policy.
func (c *Controller) Policy() policy.Policy { return c.policy }

// HandleConnect installs the table-miss rule and the policy baseline.
func (c *Controller) HandleConnect(dpid uint64) {
	log := util.WithSwitch(dpid).WithField("policy", c.policy.Name())

	if sw, ok := c.topo.Switch(dpid); ok {
		log.Infof("switch %s connected (%s)", sw.Name, sw.Role)
	} else {
		log.WithError(&util.UnknownSwitchError{DPID: dpid}).Warn("installing baseline on unknown switch")
	}

	rules := append([]openflow.FlowMod{policy.TableMiss()}, c.policy.Baseline()...)
	for i := range rules {
		c.installFlow(dpid, &rules[i])
	}
}

// HandlePacketIn processes one frame and returns the decision taken, or
// nil when the frame was ignored.
func (c *Controller) HandlePacketIn(pi PacketIn) *policy.Decision {
	start := time.Now()
	pctx := classifier.Classify(pi.DPID, pi.InPort, pi.BufferID, pi.Data)
	if c.metrics != nil {
		c.metrics.PacketIn(pi.DPID, pctx.Class.String())
	}

	switch pctx.Class {
	case classifier.ClassUnparseable, classifier.ClassLLDP:
		return nil
	}

	if c.table.Record(pi.DPID, pctx.Src, pi.InPort) {
		c.publisher.PublishFDB(pi.DPID, pctx.Src, pi.InPort)
		if c.metrics != nil {
			c.metrics.SetFDBEntries(c.table.Len())
		}
	}
	if pctx.IsVideo() && c.adaptive != nil {
		c.adaptive.AddVideoBytes(pctx.Length)
	}

	d := c.policy.Decide(pctx, c.env)

	util.WithSwitch(pi.DPID).WithFields(map[string]interface{}{
		"in_port": pi.InPort,
		"src":     pctx.Src.String(),
		"dst":     pctx.Dst.String(),
		"class":   pctx.Class.String(),
	}).Debugf("%s: %s", d.Verdict, d.Reason)

	var sendErr error
	for i := range d.Flows {
		if err := c.installFlow(pi.DPID, &d.Flows[i]); err != nil && sendErr == nil {
			sendErr = err
		}
	}
	if d.PacketOut != nil {
		if err := c.channel.SendPacketOut(pi.DPID, d.PacketOut); err != nil {
			c.sendFailed(pi.DPID, "packet_out", err)
			if sendErr == nil {
				sendErr = err
			}
		}
	}

	if d.Verdict == policy.VerdictDrop {
		c.auditDrop(pctx, d, sendErr)
	}
	if c.metrics != nil {
		c.metrics.Decision(c.policy.Name(), string(d.Verdict))
		c.metrics.ObserveLatency(time.Since(start))
	}
	return d
}

func (c *Controller) installFlow(dpid uint64, fm *openflow.FlowMod) error {
	if err := c.channel.InstallFlow(dpid, fm); err != nil {
		c.sendFailed(dpid, "flow_mod", err)
		return err
	}
	return nil
}

// sendFailed logs a delivery failure. Sends are not retried.
func (c *Controller) sendFailed(dpid uint64, message string, err error) {
	util.WithSwitch(dpid).WithField("message", message).Warnf("send failed: %v", err)
	if c.metrics != nil {
		c.metrics.SendError(dpid, message)
	}
}

func (c *Controller) auditDrop(pctx *classifier.Context, d *policy.Decision, sendErr error) {
	if c.audit == nil {
		return
	}
	var match string
	if len(d.Flows) > 0 {
		match = d.Flows[0].Match.String()
	}
	event := audit.NewEvent(pctx.DPID, c.policy.Name(), string(d.Verdict)).
		WithFrame(pctx.InPort, pctx.Src, pctx.Dst).
		WithClass(pctx.Class.String()).
		WithReason(d.Reason).
		WithRule(d.Priority(), match).
		WithError(sendErr)
	if err := c.audit.Log(event); err != nil {
		util.Warnf("audit: %v", err)
	}
}

// Lookup is a convenience for inspecting the learning table.
func (c *Controller) Lookup(dpid uint64, mac net.HardwareAddr) (uint32, bool) {
	return c.table.Lookup(dpid, mac)
}
