package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cascade-sh/cascade/pkg/maintenance"
	"github.com/cascade-sh/cascade/pkg/metrics"
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Run the maintenance process",
	Long: `Maintain runs in the foreground, pruning snapshot and backup
history on a cron schedule and serving Prometheus metrics and health
endpoints over HTTP.

Examples:
  cascade maintain
  cascade maintain --schedule "@every 6h" --listen :9090`,
	RunE: runMaintain,
}

func init() {
	maintainCmd.Flags().String("schedule", maintenance.DefaultSchedule, "Cron schedule for retention pruning")
	maintainCmd.Flags().String("listen", ":9090", "Address for the metrics and health endpoints")

	rootCmd.AddCommand(maintainCmd)
}

func runMaintain(cmd *cobra.Command, args []string) error {
	schedule, _ := cmd.Flags().GetString("schedule")
	listen, _ := cmd.Flags().GetString("listen")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	runner, err := maintenance.NewRunner(store, cfg, schedule)
	if err != nil {
		return err
	}

	metrics.SetVersion(Version)
	metrics.RegisterComponent("statestore", true, "open")

	runner.Start()
	fmt.Println("✓ Maintenance loop started")

	server := maintenance.NewServer(listen)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()
	fmt.Printf("✓ Serving /metrics and /healthz on %s\n", listen)
	fmt.Println()
	fmt.Println("Maintenance is running. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case err := <-errCh:
		if err != nil {
			runner.Stop()
			return fmt.Errorf("metrics server error: %w", err)
		}
	}

	runner.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop metrics server: %w", err)
	}

	fmt.Println("✓ Shutdown complete")
	return nil
}
