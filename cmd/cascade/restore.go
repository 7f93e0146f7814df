package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore ENVIRONMENT",
	Short: "Restore the environment's database from its latest backup",
	Long: `Restore replays the most recent database backup. A fresh safety
backup is taken first, so a failed restore can fall back to the state the
database was in just before.

Database restores never run automatically; this command is the only path.`,
	Args: cobra.ExactArgs(1),
	RunE: runRestore,
}

func init() {
	restoreCmd.Flags().BoolP("yes", "y", false, "Approve protected-environment prompts")

	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	environment := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	approved, err := confirmProtected(cmd, cfg, environment, "Database restore")
	if err != nil {
		return err
	}

	coordinator, cleanup, err := buildCoordinator(cmd, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	record, err := coordinator.RestoreDatabase(cmd.Context(), environment, approved)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Database restored to backup %s\n", record.ID)
	fmt.Printf("  Created:  %s\n", record.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("  Location: %s\n", record.LocationRef)
	return nil
}
