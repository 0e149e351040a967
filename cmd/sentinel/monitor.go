package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/sentinel/pkg/api"
	"github.com/cuemby/sentinel/pkg/log"
	"github.com/cuemby/sentinel/pkg/metrics"
	"github.com/cuemby/sentinel/pkg/monitor"
	"github.com/cuemby/sentinel/pkg/notify"
	"github.com/cuemby/sentinel/pkg/scheduler"
	"github.com/cuemby/sentinel/pkg/storage"
	"github.com/spf13/cobra"
)

// estimatorWindow is how many observed heights feed the block time average
const estimatorWindow = 120

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the monitoring loop",
	Long: `Probe the node every interval, detect issues, check for new releases,
notify configured channels and run approved upgrades when their maintenance
window arrives. With --api the HTTP status surface is served as well.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		once, _ := cmd.Flags().GetBool("once")
		serveAPI, _ := cmd.Flags().GetBool("api")
		if interval <= 0 {
			interval = cfg.CheckInterval
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.close()

		store, err := storage.NewBoltStore(cfg.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()

		policy, err := monitor.PolicyFor(cfg.Mode, cfg.AutoPolicy)
		if err != nil {
			return err
		}

		notifier := notify.FromConfig(cfg.Notifications).WithDeduper(store, time.Hour)
		metrics.RegisterComponent(metrics.ComponentNotifier, true, "")
		go notifier.Run(ctx, a.broker)

		runner := monitor.NewRunner(runnerConfig(), a.prober, a.detector, a.releases, a.schedule, a.orchestrator).
			WithStore(store).
			WithEvents(a.broker).
			WithPolicy(policy).
			WithGovernance(monitor.NoGovernance{}, scheduler.NewSampledEstimator(cfg.Maintenance.BlockTime, estimatorWindow)).
			OnFirstTick(func(st *monitor.Status) {
				if !notifier.Enabled() {
					return
				}
				if err := notifier.Send(ctx, notify.Startup(st.Snapshot, st.Updates, time.Now())); err != nil {
					log.Logger.Warn().Err(err).Msg("Startup notification failed")
				}
			})

		if !once {
			metrics.ExpectHeartbeat(metrics.ComponentMonitor, 3*interval)
		}

		collector := metrics.NewCollector(runner)
		collector.Start()
		defer collector.Stop()

		if serveAPI && !once {
			srv, err := api.NewServer(runner).
				WithSchedule(a.schedule, cfg.CalendarName).
				WithHistory(a.history).
				WithEvents(a.broker).
				WithBuildInfo(api.BuildInfo{Version: Version, Commit: Commit, BuildTime: BuildTime}).
				WithAccess(cfg.APIAllow, cfg.APIRateLimit)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Start(cfg.APIAddr()); err != nil {
					log.Logger.Error().Err(err).Msg("HTTP API stopped")
				}
			}()
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			fmt.Printf("✓ HTTP API on %s\n", cfg.APIAddr())
		}

		fmt.Printf("✓ Monitoring every %s (mode %s, policy %s)\n", interval, cfg.Mode, policy.Name())
		if err := runner.Run(ctx, interval, once); err != nil {
			return err
		}

		if once {
			st := runner.Status()
			printSnapshot(st.Snapshot)
			if !st.Snapshot.Healthy() {
				return fmt.Errorf("node is unhealthy")
			}
			return nil
		}
		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

func init() {
	monitorCmd.Flags().Duration("interval", 0, "Time between checks (default: check_interval from the configuration)")
	monitorCmd.Flags().Bool("once", false, "Run a single check and exit")
	monitorCmd.Flags().Bool("api", true, "Serve the HTTP status API")
}

func runnerConfig() monitor.Config {
	rc := monitor.DefaultConfig()
	rc.Services = cfg.Services()
	rc.UpdateCheckInterval = cfg.UpdateCheckInterval
	rc.BackupDir = cfg.BackupDir
	rc.BackupRetention = cfg.BackupRetention()
	return rc
}
