package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune ENVIRONMENT",
	Short: "Trim snapshot and backup history",
	Long: `Prune removes the oldest snapshots and backup records beyond the
retention limits. Defaults come from the configuration; flags override
them for one run.`,
	Args: cobra.ExactArgs(1),
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().Int("keep-states", -1, "Snapshots to keep (default from config)")
	pruneCmd.Flags().Int("keep-backups", -1, "Backup records to keep (default from config)")

	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	environment := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if _, err := cfg.Environment(environment); err != nil {
		return err
	}

	keepStates, _ := cmd.Flags().GetInt("keep-states")
	if keepStates < 0 {
		keepStates = cfg.Defaults.KeepStates
	}
	keepBackups, _ := cmd.Flags().GetInt("keep-backups")
	if keepBackups < 0 {
		keepBackups = cfg.Defaults.KeepBackups
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	states, err := store.PruneStates(environment, keepStates)
	if err != nil {
		return fmt.Errorf("pruning snapshots: %w", err)
	}
	backups, err := store.PruneBackups(environment, keepBackups)
	if err != nil {
		return fmt.Errorf("pruning backup records: %w", err)
	}

	fmt.Printf("✓ Pruned %d snapshots and %d backup records from %s\n", states, backups, environment)
	return nil
}
