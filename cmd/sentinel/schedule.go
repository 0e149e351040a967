package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage planned upgrades",
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled upgrades",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		fmt.Print(a.schedule.Summary())
		return nil
	},
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <component> <version>",
	Short: "Schedule an upgrade in the next maintenance window",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		atFlag, _ := cmd.Flags().GetString("at")
		approve, _ := cmd.Flags().GetBool("approve")

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		svc, err := a.service(args[0])
		if err != nil {
			return err
		}

		var at *time.Time
		if atFlag != "" {
			t, err := parseScheduleTime(atFlag)
			if err != nil {
				return err
			}
			at = &t
		}

		current := a.orchestrator.InstalledVersion(ctx, svc)
		entry, err := a.schedule.Schedule(svc.Component, current, args[1], at, approve)
		if err != nil {
			return fmt.Errorf("failed to schedule upgrade: %w", err)
		}

		fmt.Printf("✓ Scheduled %s %s → %s at %s\n",
			svc.Name, entry.CurrentVersion, entry.TargetVersion, entry.ScheduledTime.Format("2006-01-02 15:04 UTC"))
		if entry.ApprovalRequired {
			fmt.Printf("  Approve with: sentinel schedule approve %d\n", a.schedule.IndexOf(entry.ID))
		}
		return nil
	},
}

var scheduleApproveCmd = &cobra.Command{
	Use:   "approve <index>",
	Short: "Approve a pending upgrade",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transition(cmd, args[0], "approve")
	},
}

var scheduleCancelCmd = &cobra.Command{
	Use:   "cancel <index>",
	Short: "Cancel a pending or approved upgrade",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transition(cmd, args[0], "cancel")
	},
}

var schedulePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove completed and cancelled entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		olderThan, _ := cmd.Flags().GetDuration("older-than")

		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		removed := a.schedule.PruneOld(olderThan)
		fmt.Printf("✓ Removed %d entr%s\n", removed, plural(removed, "y", "ies"))
		return nil
	},
}

func init() {
	scheduleAddCmd.Flags().String("at", "", "Time in UTC (RFC3339 or \"2006-01-02 15:04\"); default is the next maintenance window")
	scheduleAddCmd.Flags().Bool("approve", false, "Approve the upgrade immediately")
	schedulePruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Only remove entries scheduled before this long ago")

	scheduleCmd.AddCommand(scheduleListCmd)
	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleApproveCmd)
	scheduleCmd.AddCommand(scheduleCancelCmd)
	scheduleCmd.AddCommand(schedulePruneCmd)
}

func transition(cmd *cobra.Command, arg, action string) error {
	index, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("invalid index %q", arg)
	}

	a, err := newApp(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.close()

	var ok bool
	switch action {
	case "approve":
		ok = a.schedule.Approve(index)
	case "cancel":
		ok = a.schedule.Cancel(index)
	}
	if !ok {
		return fmt.Errorf("cannot %s entry %d: no such entry or wrong state", action, index)
	}

	entry := a.schedule.List()[index]
	fmt.Printf("✓ %s %s → %s is now %s\n", entry.Component, entry.CurrentVersion, entry.TargetVersion, entry.Status)
	return nil
}

// parseScheduleTime accepts RFC3339 or a bare "2006-01-02 15:04" in UTC
func parseScheduleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range []string{"2006-01-02 15:04", "2006-01-02T15:04"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q (use RFC3339 or \"2006-01-02 15:04\")", s)
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
