package main

import (
	"fmt"

	"github.com/cheynewallace/tabby"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status ENVIRONMENT",
	Short: "Show the live topology of an environment",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
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

	status, err := coordinator.Status(cmd.Context(), environment)
	if err != nil {
		return err
	}

	fmt.Printf("Environment: %s\n\n", status.Environment)

	t := tabby.New()
	t.AddHeader("SERVICE", "IMAGE", "READY")
	for _, svc := range status.Services {
		t.AddLine(svc.Name, svc.Image, fmt.Sprintf("%d/%d", svc.ReadyReplicas, svc.DesiredReplicas))
	}
	t.Print()
	fmt.Println()

	if status.LatestState != nil {
		fmt.Printf("Latest snapshot: %s (captured %s)\n",
			status.LatestState.ID, status.LatestState.CapturedAt.Format("2006-01-02 15:04:05 MST"))
	} else {
		fmt.Println("Latest snapshot: none")
	}
	if status.LatestBackup != nil {
		fmt.Printf("Latest backup:   %s (created %s)\n",
			status.LatestBackup.ID, status.LatestBackup.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	} else {
		fmt.Println("Latest backup:   none")
	}
	return nil
}
