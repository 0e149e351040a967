package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/cuemby/sentinel/pkg/types"
	"github.com/cuemby/sentinel/pkg/upgrade"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Probe both node services and the host once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		snapshot := a.prober.ProbeAll(ctx, a.services)
		found := a.detector.Detect(ctx, snapshot)

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Snapshot types.Snapshot    `json:"snapshot"`
				Issues   []types.IssueKind `json:"issues"`
			}{snapshot, found.Active()})
		}

		printSnapshot(snapshot)
		fmt.Println()
		if found.Any() {
			fmt.Printf("⚠ Issues detected: %s\n", found)
		} else {
			fmt.Println("✓ No issues detected")
		}

		if !snapshot.Healthy() {
			return fmt.Errorf("node is unhealthy")
		}
		return nil
	},
}

var checkUpdatesCmd = &cobra.Command{
	Use:   "check-updates",
	Short: "Compare installed versions with the latest upstream releases",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		showNotes, _ := cmd.Flags().GetBool("notes")

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		available := 0
		for _, svc := range a.services {
			if svc.ReleaseRepo == "" {
				continue
			}
			current := a.orchestrator.InstalledVersion(ctx, svc)

			latest, err := a.releases.Latest(ctx, svc.ReleaseRepo)
			if err != nil {
				fmt.Printf("✗ %s: release check failed: %v\n", svc.Name, err)
				continue
			}
			if latest == nil {
				fmt.Printf("  %s: no releases published\n", svc.Name)
				continue
			}

			if current == upgrade.UnknownVersion || !latest.NewerThan(current) {
				fmt.Printf("✓ %s: %s (latest %s)\n", svc.Name, current, latest.Number)
				continue
			}

			available++
			published := ""
			if !latest.PublishedAt.IsZero() {
				published = fmt.Sprintf(", released %s", humanize.Time(latest.PublishedAt))
			}
			fmt.Printf("↑ %s: %s → %s%s\n", svc.Name, current, latest.Number, published)
			if showNotes {
				printChangelog(ctx, a, svc, current, latest.Number)
			}
		}

		if available == 0 {
			fmt.Println("\nAll components up to date")
		} else {
			fmt.Printf("\n%d update(s) available. Run 'sentinel schedule add <component> <version>' to plan one.\n", available)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "Print the snapshot as JSON")
	checkUpdatesCmd.Flags().Bool("notes", false, "Print release notes between the installed and latest version")
}

func printChangelog(ctx context.Context, a *app, svc types.ServiceIdentity, from, to string) {
	notes, err := a.releases.Changelog(ctx, svc.ReleaseRepo, from, to)
	if err != nil {
		fmt.Printf("    (release notes unavailable: %v)\n", err)
		return
	}
	for _, line := range strings.Split(strings.TrimSpace(notes), "\n") {
		fmt.Printf("    %s\n", line)
	}
}

func printSnapshot(snapshot types.Snapshot) {
	components := make([]types.Component, 0, len(snapshot.Reports))
	for c := range snapshot.Reports {
		components = append(components, c)
	}
	sort.Slice(components, func(i, j int) bool { return components[i] < components[j] })

	for _, c := range components {
		report := snapshot.Reports[c]
		fmt.Printf("%s %s (%s)\n", mark(report.Healthy), report.Service, c)
		for _, check := range report.Checks() {
			fmt.Printf("    %-20s %v\n", check.Name, check.Value)
		}
		if report.Message != "" {
			fmt.Printf("    %s\n", report.Message)
		}
	}

	sys := snapshot.System
	fmt.Printf("%s host\n", mark(sys.Healthy))
	fmt.Printf("    %-20s %.1f%%\n", "cpu", sys.CPUPercent)
	fmt.Printf("    %-20s %s of %s\n", "memory available",
		humanize.IBytes(gbToBytes(sys.MemoryAvailableGB)), humanize.IBytes(gbToBytes(sys.MemoryTotalGB)))
	fmt.Printf("    %-20s %s of %s\n", "disk free",
		humanize.IBytes(gbToBytes(sys.DiskFreeGB)), humanize.IBytes(gbToBytes(sys.DiskTotalGB)))
	if sys.Message != "" {
		fmt.Printf("    %s\n", sys.Message)
	}
}

func mark(ok bool) string {
	if ok {
		return "✓"
	}
	return "✗"
}

func gbToBytes(gb float64) uint64 {
	if gb <= 0 {
		return 0
	}
	return uint64(gb * (1 << 30))
}
