package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtslice/pkg/adaptive"
	"github.com/newtron-network/newtslice/pkg/audit"
	"github.com/newtron-network/newtslice/pkg/cli"
	"github.com/newtron-network/newtslice/pkg/controller"
	"github.com/newtron-network/newtslice/pkg/metrics"
	"github.com/newtron-network/newtslice/pkg/openflow"
	"github.com/newtron-network/newtslice/pkg/policy"
	"github.com/newtron-network/newtslice/pkg/statedb"
	"github.com/newtron-network/newtslice/pkg/topology"
	"github.com/newtron-network/newtslice/pkg/trace"
	"github.com/newtron-network/newtslice/pkg/util"
)

var (
	runPolicy      string
	runTrace       string
	runRedis       string
	runAudit       string
	runMetricsAddr string
	runHold        time.Duration
	runInterval    time.Duration
	runThreshold   float64
)

var errNoTrace = errors.New("trace required: use --trace <file>")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay a switch event trace through a slice policy",
	Long: `Replay a switch event trace through a slice policy.

The trace's connect and packet_in events are submitted to the controller
in order; sleep events pause the replay, which lets the traffic monitor
take samples under the dynamic policy. When the trace ends the rules and
packet-outs sent to every switch are printed.

Examples:
  newtslice run --policy static --trace testdata/static-isolation.yaml
  newtslice run --policy dynamic --trace video-burst.yaml --redis localhost:6379
  newtslice run --trace video-burst.yaml --metrics-addr :9100 --hold 1m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		opts := replayOptions{
			Policy:      runPolicy,
			Trace:       runTrace,
			RedisAddr:   runRedis,
			AuditFile:   runAudit,
			MetricsAddr: runMetricsAddr,
			Hold:        runHold,
			Interval:    runInterval,
			Threshold:   runThreshold,
		}
		if opts.Policy == "" {
			opts.Policy = userSettings.GetPolicy()
		}
		if opts.RedisAddr == "" {
			opts.RedisAddr = userSettings.RedisAddr
		}
		if opts.AuditFile == "" {
			opts.AuditFile = userSettings.GetAuditFile()
		}
		if opts.MetricsAddr == "" {
			opts.MetricsAddr = userSettings.MetricsAddr
		}

		topo, err := loadTopology()
		if err != nil {
			return err
		}

		res, err := replay(ctx, topo, opts)
		if err != nil {
			return err
		}
		printReplay(res)
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runPolicy, "policy", "", "Slice policy (static, service, dynamic)")
	runCmd.Flags().StringVar(&runTrace, "trace", "", "Event trace YAML file")
	runCmd.Flags().StringVar(&runRedis, "redis", "", "Publish learned addresses and samples to this Redis server")
	runCmd.Flags().StringVar(&runAudit, "audit", "", "Enforcement log file")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	runCmd.Flags().DurationVar(&runHold, "hold", 0, "Keep serving metrics this long after the replay")
	runCmd.Flags().DurationVar(&runInterval, "interval", adaptive.DefaultInterval, "Traffic monitor sampling interval")
	runCmd.Flags().Float64Var(&runThreshold, "threshold", adaptive.DefaultThresholdMbps, "Video rate (Mbit/s) that pushes non-video off the primary path")
}

// replayOptions configures one replay. Empty optional fields disable the
// corresponding integration.
type replayOptions struct {
	Policy      string
	Trace       string
	RedisAddr   string
	AuditFile   string
	MetricsAddr string
	Hold        time.Duration
	Interval    time.Duration
	Threshold   float64
}

// replayResult is what a replay left behind.
type replayResult struct {
	Topology   *topology.Map
	Trace      *trace.Trace
	Policy     string
	Recorder   *openflow.Recorder
	Controller *controller.Controller
	Adaptive   *adaptive.State
	Metrics    *metrics.Metrics
}

func replay(ctx context.Context, topo *topology.Map, opts replayOptions) (*replayResult, error) {
	if opts.Trace == "" {
		return nil, errNoTrace
	}
	pol, err := policy.New(opts.Policy)
	if err != nil {
		return nil, err
	}

	tr, err := trace.Load(opts.Trace, topo)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	res := &replayResult{
		Topology: topo,
		Trace:    tr,
		Policy:   pol.Name(),
		Recorder: openflow.NewRecorder(),
		Metrics:  metrics.New(),
	}
	cfg := controller.Config{
		Topology: topo,
		Policy:   pol,
		Channel:  res.Recorder,
		Metrics:  res.Metrics,
	}
	monitorOpts := []adaptive.MonitorOption{
		adaptive.WithSink(res.Metrics),
	}
	if opts.Interval > 0 {
		monitorOpts = append(monitorOpts, adaptive.WithInterval(opts.Interval))
	}
	if opts.Threshold > 0 {
		monitorOpts = append(monitorOpts, adaptive.WithThreshold(opts.Threshold))
	}

	if opts.RedisAddr != "" {
		client := statedb.NewClient(opts.RedisAddr, statedb.DefaultDB)
		if err := client.Connect(); err != nil {
			client.Close()
			return nil, err
		}
		defer func() {
			if n := client.Dropped(); n > 0 {
				util.Warnf("statedb: %d updates dropped", n)
			}
			client.Close()
		}()
		cfg.Publisher = client
		monitorOpts = append(monitorOpts, adaptive.WithSink(client))
	}

	if opts.AuditFile != "" {
		logger, err := audit.Open(opts.AuditFile, audit.Retention{
			MaxEvents:   50000,
			Generations: 10,
		})
		if err != nil {
			util.Warnf("Could not initialize audit logging: %v", err)
		} else {
			defer logger.Close()
			cfg.Audit = logger
		}
	}

	if policy.UsesAdaptive(pol.Name()) {
		res.Adaptive = adaptive.NewState(time.Now())
		cfg.Adaptive = res.Adaptive
		mon := adaptive.NewMonitor(res.Adaptive, monitorOpts...)
		mon.Start(ctx)
		defer mon.Stop()
	}

	if opts.MetricsAddr != "" {
		go func() {
			if err := res.Metrics.Serve(ctx, opts.MetricsAddr); err != nil {
				util.Errorf("metrics server: %v", err)
			}
		}()
	}

	ctrl, err := controller.New(cfg)
	if err != nil {
		return nil, err
	}
	res.Controller = ctrl

	util.WithPolicy(pol.Name()).Infof("replaying %q (%d packet-ins)", tr.Name, tr.PacketIns())

	ctrl.Start(ctx)
	err = submitSteps(ctx, ctrl, tr.Steps)
	ctrl.Stop()
	if err != nil {
		return nil, err
	}

	if opts.MetricsAddr != "" && opts.Hold > 0 {
		fmt.Printf("Serving metrics on %s for %s\n", opts.MetricsAddr, opts.Hold)
		select {
		case <-time.After(opts.Hold):
		case <-ctx.Done():
		}
	}
	return res, nil
}

func submitSteps(ctx context.Context, ctrl *controller.Controller, steps []trace.Step) error {
	for _, step := range steps {
		switch step.Kind {
		case trace.StepConnect:
			for _, dpid := range step.DPIDs {
				if err := ctrl.Submit(controller.Event{Kind: controller.EventConnect, DPID: dpid}); err != nil {
					return err
				}
			}

		case trace.StepPacketIn:
			for i := 0; i < step.Count; i++ {
				ev := controller.Event{
					Kind: controller.EventPacketIn,
					DPID: step.DPID,
					PacketIn: &controller.PacketIn{
						DPID:     step.DPID,
						InPort:   step.InPort,
						BufferID: step.BufferID,
						Data:     step.Frame,
					},
				}
				if err := ctrl.Submit(ev); err != nil {
					return err
				}
			}

		case trace.StepSleep:
			select {
			case <-time.After(step.Sleep):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

func printReplay(res *replayResult) {
	fmt.Printf("Trace: %s  Policy: %s  Topology: %s\n\n", bold(res.Trace.Name), bold(res.Policy), res.Topology.Name())

	for _, dpid := range res.Recorder.Switches() {
		name := "dpid " + strconv.FormatUint(dpid, 10)
		if sw, ok := res.Topology.Switch(dpid); ok {
			name = sw.Name
		}
		flows := res.Recorder.Flows(dpid)
		outs := res.Recorder.PacketOuts(dpid)
		fmt.Printf("%s %d flows, %d packet-outs\n", bold(cli.DotPad(name, 24)), len(flows), len(outs))

		if len(flows) > 0 {
			t := cli.NewTable("PRIORITY", "MATCH", "ACTIONS", "BUFFER").WithPrefix("  ")
			for i := range flows {
				f := &flows[i]
				actions := openflow.FormatActions(f.Actions)
				if f.IsDrop() {
					actions = red(actions)
				}
				buffer := "-"
				if f.CommitsBuffer() {
					buffer = strconv.FormatUint(uint64(f.BufferID), 10)
				}
				t.Row(strconv.Itoa(int(f.Priority)), matchString(f.Match), actions, buffer)
			}
			t.Flush()
		}

		if len(outs) > 0 {
			t := cli.NewTable("IN_PORT", "ACTIONS", "PAYLOAD").WithPrefix("  ")
			for i := range outs {
				po := &outs[i]
				payload := fmt.Sprintf("%dB", len(po.Data))
				if po.BufferID != openflow.NoBuffer {
					payload = "buffer " + strconv.FormatUint(uint64(po.BufferID), 10)
				}
				t.Row(strconv.FormatUint(uint64(po.InPort), 10), openflow.FormatActions(po.Actions), payload)
			}
			t.Flush()
		}
		fmt.Println()
	}

	entries := res.Controller.Table().Snapshot()
	if len(entries) > 0 {
		fmt.Println(bold("Learned addresses:"))
		t := cli.NewTable("DPID", "MAC", "PORT").WithPrefix("  ")
		for _, e := range entries {
			t.Row(strconv.FormatUint(e.DPID, 10), e.MAC, strconv.FormatUint(uint64(e.Port), 10))
		}
		t.Flush()
		fmt.Println()
	}

	if res.Adaptive != nil {
		allow := green("allowed")
		if !res.Adaptive.AllowNonVideoOnPrimary() {
			allow = yellow("diverted")
		}
		fmt.Printf("Non-video on primary path: %s\n", allow)
	}
}

func matchString(m openflow.Match) string {
	if s := m.String(); s != "" {
		return s
	}
	return dim("*")
}
