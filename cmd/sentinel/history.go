package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/sentinel/pkg/types"
	"github.com/cuemby/sentinel/pkg/upgrade"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past upgrade attempts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		limit, _ := cmd.Flags().GetInt("limit")

		history, err := upgrade.OpenHistory(cfg.HistoryPath())
		if err != nil {
			return err
		}
		records := history.Recent(limit)

		switch format {
		case "json":
			if records == nil {
				records = []types.UpgradeRecord{}
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(records)
		case "text":
			printHistory(records, time.Now())
			return nil
		default:
			return fmt.Errorf("unknown format %q (expected json or text)", format)
		}
	},
}

func init() {
	historyCmd.Flags().String("format", "text", "Output format (json, text)")
	historyCmd.Flags().Int("limit", 20, "Number of most recent records to show (0 for all)")
}

func printHistory(records []types.UpgradeRecord, now time.Time) {
	if len(records) == 0 {
		fmt.Println("No upgrades recorded")
		return
	}

	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		kind := ""
		if r.DryRun {
			kind = " (dry run)"
		}
		fmt.Printf("%s %s %s → %s%s\n", mark(r.Success), r.Component, r.FromVersion, r.ToVersion, kind)
		fmt.Printf("    %s, %s, took %s\n",
			r.StartTime.UTC().Format("2006-01-02 15:04 UTC"),
			humanize.RelTime(r.StartTime, now, "ago", "from now"),
			r.Duration().Round(time.Second))
		fmt.Printf("    %s\n", r.Outcome.Description())
		if r.Error != "" {
			fmt.Printf("    Error: %s\n", r.Error)
		}
	}
}
