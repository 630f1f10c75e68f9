package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/newtron-network/newtslice/pkg/audit"
	"github.com/newtron-network/newtslice/pkg/cli"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View the enforcement log",
	Long: `View the enforcement log written by 'newtslice run'.

Every drop rule the controller installs is logged with:
  - Timestamp
  - Switch and ingress port
  - Source and destination MAC
  - Reason and installed rule

Examples:
  newtslice audit list --dpid 2
  newtslice audit list --last 1h --policy static
  newtslice audit list --class video --reason "pair not allowed"
  newtslice audit summary`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		path := auditFile
		if path == "" {
			path = userSettings.GetAuditFile()
		}
		journal, err := audit.Open(path, audit.Retention{})
		if err != nil {
			return err
		}
		auditJournal = journal
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return auditJournal.Close()
	},
}

var (
	auditJournal *audit.Journal

	auditFile   string
	auditDPID   uint64
	auditPolicy string
	auditSrc    string
	auditClass  string
	auditReason string
	auditLast   string
	auditLimit  int
	auditJSON   bool
)

func auditFilter() (audit.Filter, error) {
	filter := audit.Filter{
		DPID:   auditDPID,
		Policy: auditPolicy,
		Src:    auditSrc,
		Class:  auditClass,
		Reason: auditReason,
		Limit:  auditLimit,
	}
	if auditLast != "" {
		duration, err := time.ParseDuration(auditLast)
		if err != nil {
			return filter, fmt.Errorf("invalid duration: %s", auditLast)
		}
		filter.Since = time.Now().Add(-duration)
	}
	return filter, nil
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List enforcement events",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := auditFilter()
		if err != nil {
			return err
		}

		events, err := auditJournal.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		if auditJSON {
			return json.NewEncoder(os.Stdout).Encode(events)
		}

		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		t := cli.NewTable("TIMESTAMP", "DPID", "IN_PORT", "SRC", "DST", "VERDICT", "REASON")
		for _, event := range events {
			verdict := cli.Verdict(event.Verdict)
			if event.Error != "" {
				verdict = red(event.Verdict + " (send failed)")
			}
			t.Row(
				event.Timestamp.Format("2006-01-02 15:04:05"),
				strconv.FormatUint(event.DPID, 10),
				strconv.FormatUint(uint64(event.InPort), 10),
				orDash(event.Src),
				orDash(event.Dst),
				verdict,
				event.Reason,
			)
		}
		t.Flush()
		return nil
	},
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Count enforcement events per switch and reason",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := auditFilter()
		if err != nil {
			return err
		}
		filter.Limit = 0

		events, err := auditJournal.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		fmt.Printf("%d events\n\n", len(events))
		printCounts("SWITCH", audit.CountBy(events, func(e *audit.Event) string {
			return strconv.FormatUint(e.DPID, 10)
		}))
		fmt.Println()
		printCounts("REASON", audit.CountBy(events, func(e *audit.Event) string {
			return e.Reason
		}))
		return nil
	},
}

func printCounts(header string, counts map[string]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := cli.NewTable(header, "EVENTS")
	for _, k := range keys {
		t.Row(orDash(k), strconv.Itoa(counts[k]))
	}
	t.Flush()
}

func init() {
	auditCmd.PersistentFlags().StringVar(&auditFile, "file", "", "Enforcement log file")
	auditCmd.PersistentFlags().Uint64Var(&auditDPID, "dpid", 0, "Filter by switch")
	auditCmd.PersistentFlags().StringVar(&auditPolicy, "policy", "", "Filter by policy")
	auditCmd.PersistentFlags().StringVar(&auditSrc, "src", "", "Filter by source MAC")
	auditCmd.PersistentFlags().StringVar(&auditClass, "class", "", "Filter by traffic class (default, video, arp, lldp)")
	auditCmd.PersistentFlags().StringVar(&auditReason, "reason", "", "Filter by drop reason")
	auditCmd.PersistentFlags().StringVar(&auditLast, "last", "", "Show events from last duration (e.g., 1h)")

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Show only the most recent events")
	auditListCmd.Flags().BoolVar(&auditJSON, "json", false, "Output as JSON")

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditSummaryCmd)
}
