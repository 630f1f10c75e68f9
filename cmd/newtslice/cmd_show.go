package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtslice/pkg/cli"
	"github.com/newtron-network/newtslice/pkg/policy"
	"github.com/newtron-network/newtslice/pkg/statedb"
	"github.com/newtron-network/newtslice/pkg/util"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show topology, policies or published state",
	Long: `Show the active topology, the available slice policies, or the state a
running controller published to Redis.

Examples:
  newtslice show topology
  newtslice -S lab.yaml show topology
  newtslice show policies
  newtslice show state --redis localhost:6379`,
}

var showTopologyCmd = &cobra.Command{
	Use:   "topology",
	Short: "Show switches, hosts and the allow-list",
	RunE: func(cmd *cobra.Command, args []string) error {
		topo, err := loadTopology()
		if err != nil {
			return err
		}

		source := resolveTopologyPath()
		if source == "" {
			source = "built-in"
		}
		fmt.Printf("Topology: %s (%s)\n\n", bold(topo.Name()), source)

		t := cli.NewTable("DPID", "SWITCH", "ROLE", "SLICE", "HOST PORTS", "PRIMARY", "SECONDARY")
		for _, sw := range topo.Switches() {
			t.Row(
				strconv.FormatUint(sw.DPID, 10),
				sw.Name,
				string(sw.Role),
				orDash(string(sw.Slice)),
				orDash(util.FormatPortList(sw.HostPorts)),
				portOrDash(sw.PrimaryPort),
				portOrDash(sw.SecondaryPort),
			)
		}
		t.Flush()
		fmt.Println()

		if hosts := topo.Hosts(); len(hosts) > 0 {
			t := cli.NewTable("HOST", "MAC", "IP", "SLICE", "BACKBONE")
			for _, h := range hosts {
				ip := "-"
				if h.IP != nil {
					ip = h.IP.String()
				}
				backbone := "-"
				if sw, ok := topo.BackboneFor(h.Slice); ok {
					backbone = sw.Name
				}
				t.Row(h.Name, h.MAC.String(), ip, orDash(string(h.Slice)), backbone)
			}
			t.Flush()
			fmt.Println()
		}

		pairs := topo.AllowedPairs()
		if len(pairs) == 0 {
			fmt.Println("Allow-list: " + dim("(empty)"))
			return nil
		}
		fmt.Println("Allow-list:")
		for _, p := range pairs {
			fmt.Printf("  %s -> %s\n", p[0], p[1])
		}
		return nil
	},
}

var showPoliciesCmd = &cobra.Command{
	Use:   "policies",
	Short: "List the available slice policies",
	RunE: func(cmd *cobra.Command, args []string) error {
		t := cli.NewTable("POLICY", "MONITOR", "BASELINE RULES", "DESCRIPTION")
		for _, name := range policy.Names() {
			pol, err := policy.New(name)
			if err != nil {
				return err
			}
			monitor := "no"
			if policy.UsesAdaptive(name) {
				monitor = green("yes")
			}
			// +1 for the table-miss rule
			t.Row(name, monitor, strconv.Itoa(len(pol.Baseline())+1), policy.Describe(name))
		}
		t.Flush()
		return nil
	},
}

var showStateRedis string

var showStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Show learned addresses and the last monitor sample from Redis",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := showStateRedis
		if addr == "" {
			addr = userSettings.RedisAddr
		}
		if addr == "" {
			return fmt.Errorf("redis address required: use --redis or 'newtslice settings set redis_addr <addr>'")
		}

		topo, err := loadTopology()
		if err != nil {
			return err
		}

		client := statedb.NewClient(addr, statedb.DefaultDB)
		defer client.Close()
		if err := client.Connect(); err != nil {
			return err
		}

		t := cli.NewTable("SWITCH", "MAC", "PORT")
		for _, sw := range topo.Switches() {
			entries, err := client.GetFDB(sw.DPID)
			if err != nil {
				return err
			}
			for _, e := range entries {
				t.Row(sw.Name, e.MAC, strconv.FormatUint(uint64(e.Port), 10))
			}
		}
		t.Flush()

		mon, err := client.GetMonitor()
		if err != nil {
			fmt.Println("\nMonitor: " + dim("(no sample published)"))
			return nil
		}
		allow := green("allowed")
		if !mon.AllowNonVideoOnPrimary {
			allow = yellow("diverted")
		}
		fmt.Printf("\nMonitor: video %.2f Mbps, non-video on primary %s (at %s)\n",
			mon.VideoMbps, allow, mon.Timestamp.Format("2006-01-02 15:04:05"))
		return nil
	},
}

func init() {
	showStateCmd.Flags().StringVar(&showStateRedis, "redis", "", "Redis server address")

	showCmd.AddCommand(showTopologyCmd)
	showCmd.AddCommand(showPoliciesCmd)
	showCmd.AddCommand(showStateCmd)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func portOrDash(p uint32) string {
	if p == 0 {
		return "-"
	}
	return strconv.FormatUint(uint64(p), 10)
}
