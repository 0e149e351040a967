package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cuemby/sentinel/pkg/notify"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration and check the host",
	Long: `Write the configuration file (merged with any environment overrides) to
the --config path, create the data directory and report node paths that do
not exist yet.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		testNotify, _ := cmd.Flags().GetBool("test-notify")

		if _, err := os.Stat(configPath); err == nil && !force {
			fmt.Printf("Configuration already exists at %s (use --force to overwrite)\n", configPath)
		} else {
			if err := cfg.Save(configPath); err != nil {
				return err
			}
			fmt.Printf("✓ Configuration written to %s\n", configPath)
		}

		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		fmt.Printf("✓ Data directory %s\n", cfg.DataDir)

		if err := cfg.Validate(); err != nil {
			fmt.Printf("✗ %v\n", err)
		} else {
			fmt.Println("✓ Configuration is valid")
		}
		for _, warning := range cfg.CheckPaths() {
			fmt.Printf("⚠ %s\n", warning)
		}

		notifier := notify.FromConfig(cfg.Notifications)
		if !notifier.Enabled() {
			fmt.Println("  Notifications: none configured")
			return nil
		}
		fmt.Printf("  Notifications: %v\n", notifier.Channels())
		if testNotify {
			if err := notifier.Send(cmd.Context(), notify.Ping(time.Now())); err != nil {
				return fmt.Errorf("test notification failed: %w", err)
			}
			fmt.Println("✓ Test notification sent")
		}
		return nil
	},
}

func init() {
	initCmd.Flags().Bool("force", false, "Overwrite an existing configuration file")
	initCmd.Flags().Bool("test-notify", false, "Send a test notification to every configured channel")
}
