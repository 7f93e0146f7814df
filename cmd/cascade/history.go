package main

import (
	"fmt"
	"strings"

	"github.com/cheynewallace/tabby"
	"github.com/spf13/cobra"

	"github.com/cascade-sh/cascade/pkg/statestore"
	"github.com/cascade-sh/cascade/pkg/types"
)

var historyCmd = &cobra.Command{
	Use:   "history ENVIRONMENT",
	Short: "Show snapshot and backup history",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func init() {
	historyCmd.Flags().Int("limit", 10, "Newest records to show per table (0 for all)")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	environment := args[0]
	limit, _ := cmd.Flags().GetInt("limit")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if _, err := cfg.Environment(environment); err != nil {
		return err
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	if err := printStateHistory(store, environment, limit); err != nil {
		return err
	}
	fmt.Println()
	return printBackupHistory(store, environment, limit)
}

func printStateHistory(store statestore.Store, environment string, limit int) error {
	states, err := store.StateHistory(environment, limit)
	if err != nil {
		return err
	}

	fmt.Printf("Snapshots (%s):\n", environment)
	if len(states) == 0 {
		fmt.Println("  none")
		return nil
	}

	t := tabby.New()
	t.AddHeader("ID", "CAPTURED", "SERVICES", "VERSIONS")
	for _, state := range states {
		t.AddLine(state.ID,
			state.CapturedAt.Format("2006-01-02 15:04:05"),
			len(state.Services),
			versionSummary(state.Services))
	}
	t.Print()
	return nil
}

func printBackupHistory(store statestore.Store, environment string, limit int) error {
	records, err := store.BackupHistory(environment, limit)
	if err != nil {
		return err
	}

	fmt.Printf("Backups (%s):\n", environment)
	if len(records) == 0 {
		fmt.Println("  none")
		return nil
	}

	t := tabby.New()
	t.AddHeader("ID", "CREATED", "LOCATION")
	for _, record := range records {
		t.AddLine(record.ID, record.CreatedAt.Format("2006-01-02 15:04:05"), record.LocationRef)
	}
	t.Print()
	return nil
}

// versionSummary renders the distinct image tags in a snapshot
func versionSummary(services []types.ServiceRecord) string {
	seen := make(map[string]bool)
	var tags []string
	for _, svc := range services {
		tag := svc.Image
		if i := strings.LastIndex(tag, ":"); i >= 0 {
			tag = tag[i+1:]
		}
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return strings.Join(tags, ", ")
}
