package main

import (
	"fmt"
	"time"

	"github.com/cuemby/sentinel/pkg/upgrade"
	"github.com/spf13/cobra"
)

var upgradeCmd = &cobra.Command{
	Use:   "upgrade <component> <version>",
	Short: "Upgrade one node component now",
	Long: `Upgrade the consensus (story) or execution (story-geth) client to the given
version. The service is stopped, its binary and configuration are backed up,
the new binary is installed and the service is restarted. Any failure after
the service was stopped rolls back to the backup.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		force, _ := cmd.Flags().GetBool("force")

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
		target := a.resolveTarget(ctx, svc, args[1])

		if dryRun {
			fmt.Printf("Dry run: %s → %s\n", svc.Name, target.Number)
		} else {
			fmt.Printf("Upgrading %s to %s...\n", svc.Name, target.Number)
		}

		result := a.orchestrator.Upgrade(ctx, upgrade.Request{
			Service: svc,
			Target:  target,
			DryRun:  dryRun,
			Force:   force,
		})
		printResult(result)

		if !result.Success() {
			return fmt.Errorf("upgrade of %s failed: %s", svc.Name, result.Outcome.Description())
		}
		return nil
	},
}

func init() {
	upgradeCmd.Flags().Bool("dry-run", false, "Run preflight checks only")
	upgradeCmd.Flags().Bool("force", false, "Skip the host health gate (the disk floor still applies)")
}

func printResult(result *upgrade.Result) {
	record := result.Record
	fmt.Printf("%s %s\n", mark(result.Success()), result.Outcome.Description())
	if result.Message != "" {
		fmt.Printf("  Message: %s\n", result.Message)
	}
	fmt.Printf("  Final state: %s\n", result.State)
	if record.FromVersion != "" {
		fmt.Printf("  Version: %s → %s\n", record.FromVersion, record.ToVersion)
	}
	if record.BackupPath != "" {
		fmt.Printf("  Backup: %s\n", record.BackupPath)
	}
	if d := record.Duration(); d > 0 {
		fmt.Printf("  Duration: %s\n", d.Round(time.Second))
	}
}
