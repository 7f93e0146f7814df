package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var backupCmd = &cobra.Command{
	Use:   "backup ENVIRONMENT",
	Short: "Take a database backup now",
	Long: `Backup dumps the environment's database and records it in the
backup history, independent of any deploy.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackup,
}

func init() {
	rootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	environment := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	coordinator, cleanup, err := buildCoordinator(cmd, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	record, err := coordinator.TakeBackup(cmd.Context(), environment)
	if err != nil {
		return err
	}

	fmt.Printf("✓ Backup %s created\n", record.ID)
	fmt.Printf("  Location: %s\n", record.LocationRef)
	return nil
}
