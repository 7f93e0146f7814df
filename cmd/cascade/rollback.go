package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cascade-sh/cascade/pkg/deployer"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback ENVIRONMENT",
	Short: "Roll an environment back to a previous state",
	Long: `Rollback restores the environment to its most recent snapshot, or
pins every service to an explicit version with --to-version.

Emergency mode recovers as fast as possible: pods are recreated instead of
surged, health timeouts shrink to warnings, and the deploy lease is taken
by force so recovery never queues behind a crashed deploy.

Examples:
  cascade rollback staging
  cascade rollback production --to-version 2.13.1 --yes
  cascade rollback production --emergency --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().String("to-version", "", "Roll back to this version instead of the latest snapshot")
	rollbackCmd.Flags().Bool("emergency", false, "Recover at maximum speed, demoting health failures to warnings")
	rollbackCmd.Flags().BoolP("yes", "y", false, "Approve protected-environment prompts")

	rootCmd.AddCommand(rollbackCmd)
}

func runRollback(cmd *cobra.Command, args []string) error {
	environment := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := deployer.RollbackOptions{}
	opts.ToVersion, _ = cmd.Flags().GetString("to-version")
	opts.Emergency, _ = cmd.Flags().GetBool("emergency")

	approved, err := confirmProtected(cmd, cfg, environment, "Rollback")
	if err != nil {
		return err
	}
	opts.AutoApprove = approved

	coordinator, cleanup, err := buildCoordinator(cmd, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := coordinator.Rollback(cmd.Context(), environment, opts)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Rolled back %s (%s mode, %d services)\n", environment, result.Mode, len(result.Services))
	if result.StateID != "" {
		fmt.Printf("  Snapshot: %s\n", result.StateID)
	}
	for _, warning := range result.Warnings {
		fmt.Printf("  ! %s\n", warning)
	}
	return nil
}
