package main

import (
	"context"
	"errors"
	"io"
	"net"
	"path/filepath"
	"testing"

	"github.com/newtron-network/newtslice/pkg/audit"
	"github.com/newtron-network/newtslice/pkg/openflow"
	"github.com/newtron-network/newtslice/pkg/settings"
	"github.com/newtron-network/newtslice/pkg/topology"
	"github.com/newtron-network/newtslice/pkg/util"
)

func init() {
	util.SetLogOutput(io.Discard)
}

func TestResolveTopologyPath(t *testing.T) {
	prevFlag, prevSettings := topologyPath, userSettings
	defer func() { topologyPath, userSettings = prevFlag, prevSettings }()

	userSettings = &settings.Settings{Topology: "from-settings.yaml"}
	topologyPath = ""
	t.Setenv(topologyEnv, "")
	if got := resolveTopologyPath(); got != "from-settings.yaml" {
		t.Errorf("settings only: got %q", got)
	}

	t.Setenv(topologyEnv, "from-env.yaml")
	if got := resolveTopologyPath(); got != "from-env.yaml" {
		t.Errorf("env over settings: got %q", got)
	}

	topologyPath = "from-flag.yaml"
	if got := resolveTopologyPath(); got != "from-flag.yaml" {
		t.Errorf("flag over env: got %q", got)
	}

	topologyPath = ""
	t.Setenv(topologyEnv, "")
	userSettings = &settings.Settings{}
	if got := resolveTopologyPath(); got != "" {
		t.Errorf("nothing set: got %q, want built-in", got)
	}
	topo, err := loadTopology()
	if err != nil || topo.Name() != "two-slice" {
		t.Errorf("loadTopology() = %v, %v", topo, err)
	}
}

func TestReplay_Static(t *testing.T) {
	auditPath := filepath.Join(t.TempDir(), "audit.log")

	res, err := replay(context.Background(), topology.Default(), replayOptions{
		Policy:    "static",
		Trace:     "testdata/static-isolation.yaml",
		AuditFile: auditPath,
	})
	if err != nil {
		t.Fatalf("replay() error = %v", err)
	}
	if res.Adaptive != nil {
		t.Error("static replay should not run the traffic monitor")
	}

	// Table-miss only, plus the violation drop on s2.
	for _, dpid := range []uint64{1, 4} {
		if got := len(res.Recorder.Flows(dpid)); got != 1 {
			t.Errorf("switch %d flows = %d, want 1", dpid, got)
		}
	}
	flows := res.Recorder.Flows(2)
	if len(flows) != 2 {
		t.Fatalf("switch 2 flows = %d, want 2", len(flows))
	}
	if d := flows[0]; !d.IsDrop() || d.Priority != openflow.PriorityDeny {
		t.Errorf("switch 2 first rule = %s, want priority %d drop", d.String(), openflow.PriorityDeny)
	}
	if flows[1].Priority != openflow.PriorityCatchAll {
		t.Errorf("switch 2 last rule = %s, want table-miss", flows[1].String())
	}

	// The leaked datagram itself must now hit the drop, not the table-miss.
	leak := openflow.Match{
		InPort:  4,
		EthSrc:  mustHost(t, res.Topology, "h2"),
		EthDst:  mustHost(t, res.Topology, "h4"),
		EthType: openflow.EthTypeIPv4,
		IPProto: openflow.IPProtoUDP,
		UDPSrc:  4000,
		UDPDst:  5000,
	}
	if d, ok := res.Recorder.Effective(2, leak); !ok || !d.IsDrop() || d.Priority != openflow.PriorityDeny {
		t.Errorf("Effective(2, h2->h4) = %s, %v, want priority %d drop", d.String(), ok, openflow.PriorityDeny)
	}

	if got := len(res.Recorder.PacketOuts(1)); got != 1 {
		t.Errorf("switch 1 packet-outs = %d, want 1 (arp flood)", got)
	}

	logger, err := audit.Open(auditPath, audit.Retention{})
	if err != nil {
		t.Fatal(err)
	}
	defer logger.Close()
	events, err := logger.Query(audit.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	// h2 on the upper backbone and h1 on the lower one.
	if len(events) != 2 {
		t.Fatalf("audit events = %d, want 2", len(events))
	}
	counts := audit.CountBy(events, func(e *audit.Event) string { return e.Reason })
	if counts["slice violation"] != 2 {
		t.Errorf("reasons = %v", counts)
	}

	onUpper, err := logger.Query(audit.Filter{DPID: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(onUpper) != 1 || onUpper[0].Policy != "static" || onUpper[0].Verdict != "drop" {
		t.Errorf("switch 2 events = %+v", onUpper)
	}
}

func TestReplay_Dynamic(t *testing.T) {
	res, err := replay(context.Background(), topology.Default(), replayOptions{
		Policy: "dynamic",
		Trace:  "testdata/video-burst.yaml",
	})
	if err != nil {
		t.Fatalf("replay() error = %v", err)
	}
	if res.Adaptive == nil {
		t.Fatal("dynamic replay should run the traffic monitor")
	}

	// Access switches only ever get packet-outs after the baseline.
	if got := len(res.Recorder.Flows(1)); got != 3 {
		t.Errorf("switch 1 flows = %d, want 3 (table-miss + video redirects)", got)
	}
	if got := len(res.Recorder.PacketOuts(1)); got != 21 {
		t.Errorf("switch 1 packet-outs = %d, want 21", got)
	}
	for _, po := range res.Recorder.PacketOuts(1) {
		if _, ok := openflow.QueueOf(po.Actions); !ok {
			t.Errorf("packet-out %s has no set_queue", po.String())
		}
	}

	if _, ok := res.Controller.Lookup(1, mustHost(t, res.Topology, "h1")); !ok {
		t.Error("h1 should be learned on s1")
	}
}

func TestReplay_Errors(t *testing.T) {
	topo := topology.Default()

	if _, err := replay(context.Background(), topo, replayOptions{Policy: "static"}); !errors.Is(err, errNoTrace) {
		t.Errorf("missing trace: err = %v", err)
	}

	_, err := replay(context.Background(), topo, replayOptions{
		Policy: "round-robin",
		Trace:  "testdata/static-isolation.yaml",
	})
	if !errors.Is(err, util.ErrUnknownPolicy) {
		t.Errorf("unknown policy: err = %v", err)
	}

	_, err = replay(context.Background(), topo, replayOptions{
		Policy: "static",
		Trace:  "testdata/missing.yaml",
	})
	if err == nil {
		t.Error("missing trace file should fail")
	}
}

func mustHost(t *testing.T, topo *topology.Map, name string) net.HardwareAddr {
	t.Helper()
	h, ok := topo.Host(name)
	if !ok {
		t.Fatalf("host %s not found", name)
	}
	return h.MAC
}
