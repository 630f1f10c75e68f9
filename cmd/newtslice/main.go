// Newtslice - SDN Slicing Controller
//
// Replays switch events through a slice policy and reports the rules the
// controller would install:
//   - static:  host-to-backbone isolation with an allow-list of host pairs
//   - service: per-flow slicing, video on the primary backbone
//   - dynamic: queue-based slicing driven by the measured video rate
//
// Enforcement drops are written to an audit log; learned addresses and
// monitor samples can be published to Redis and Prometheus.
//
// Examples:
//
//	newtslice show topology                                  # Switches, hosts, allow-list
//	newtslice show policies                                  # Available policies
//	newtslice run --policy dynamic --trace video-burst.yaml  # Replay a trace
//	newtslice -S lab.yaml run --policy static --trace t.yaml --audit drops.log
//	newtslice audit list --dpid 2                            # Drops on s2
//	newtslice settings set policy service
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtslice/pkg/cli"
	"github.com/newtron-network/newtslice/pkg/settings"
	"github.com/newtron-network/newtslice/pkg/topology"
	"github.com/newtron-network/newtslice/pkg/util"
	"github.com/newtron-network/newtslice/pkg/version"
)

// topologyEnv overrides the settings file when -S is not given.
const topologyEnv = "NEWTSLICE_TOPOLOGY"

var (
	// Global option flags
	topologyPath string // -S, --topology
	verbose      bool
	logJSON      bool

	// Global state
	userSettings *settings.Settings
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "newtslice",
	Short:             "SDN Slicing Controller",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Newtslice decides how OpenFlow switches forward traffic so that two
isolated slices share one network.

The topology comes from -S, $NEWTSLICE_TOPOLOGY, the settings file, or the
built-in four-switch layout, in that order.

  newtslice [-S topology.yaml] <command> [args]`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		userSettings, err = settings.Load()
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			userSettings = &settings.Settings{}
		}

		// Quiet by default, verbose on -v
		if verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("warn")
		}
		if logJSON {
			util.SetJSONFormat()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&topologyPath, "topology", "S", "", "Topology YAML file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Log in JSON format")

	rootCmd.AddGroup(
		&cobra.Group{ID: "control", Title: "Controller:"},
		&cobra.Group{ID: "query", Title: "Inspection:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	runCmd.GroupID = "control"
	rootCmd.AddCommand(runCmd)

	for _, cmd := range []*cobra.Command{showCmd, auditCmd} {
		cmd.GroupID = "query"
		rootCmd.AddCommand(cmd)
	}

	for _, cmd := range []*cobra.Command{settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion("newtslice")
	},
}

func printVersion(tool string) {
	if version.Version == "dev" {
		fmt.Printf("%s dev build (use 'make build' for version info)\n", tool)
	} else {
		fmt.Printf("%s %s (%s)\n", tool, version.Version, version.GitCommit)
	}
}

// resolveTopologyPath applies flag > env > settings precedence. An empty
// result selects the built-in topology.
func resolveTopologyPath() string {
	if topologyPath != "" {
		return topologyPath
	}
	if p := os.Getenv(topologyEnv); p != "" {
		return p
	}
	if userSettings != nil {
		return userSettings.Topology
	}
	return ""
}

func loadTopology() (*topology.Map, error) {
	path := resolveTopologyPath()
	if path == "" {
		return topology.Default(), nil
	}
	return topology.Load(path)
}

func green(s string) string  { return cli.Green(s) }
func yellow(s string) string { return cli.Yellow(s) }
func red(s string) string    { return cli.Red(s) }
func bold(s string) string   { return cli.Bold(s) }
func dim(s string) string    { return cli.Dim(s) }
