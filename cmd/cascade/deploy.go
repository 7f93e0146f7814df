package main

import (
	"fmt"

	"github.com/cheynewallace/tabby"
	"github.com/spf13/cobra"

	"github.com/cascade-sh/cascade/pkg/deployer"
)

var deployCmd = &cobra.Command{
	Use:   "deploy ENVIRONMENT VERSION",
	Short: "Deploy a version to an environment",
	Long: `Deploy moves every managed service in an environment to the given
version. A state snapshot is captured before anything changes; if the
deploy fails, the environment is rolled back to it automatically.

Examples:
  # Rolling deploy to staging
  cascade deploy staging 2.14.0

  # Blue-green deploy to production, pre-approved
  cascade deploy production 2.14.0 --strategy blue-green --yes

  # Show what would change without touching anything
  cascade deploy production 2.14.0 --dry-run`,
	Args: cobra.ExactArgs(2),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().String("strategy", "rolling", "Deployment strategy: blue-green, rolling or canary")
	deployCmd.Flags().Bool("skip-tests", false, "Skip the smoke-test suite")
	deployCmd.Flags().Bool("skip-backup", false, "Skip the pre-deploy database backup")
	deployCmd.Flags().Bool("dry-run", false, "Validate and print the plan without changing anything")
	deployCmd.Flags().Bool("force", false, "Continue past test failures and skip automatic rollback")
	deployCmd.Flags().BoolP("yes", "y", false, "Approve protected-environment prompts")

	rootCmd.AddCommand(deployCmd)
}

func runDeploy(cmd *cobra.Command, args []string) error {
	environment, version := args[0], args[1]
	strategyName, _ := cmd.Flags().GetString("strategy")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := deployer.Options{}
	opts.SkipTests, _ = cmd.Flags().GetBool("skip-tests")
	opts.SkipBackup, _ = cmd.Flags().GetBool("skip-backup")
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	opts.Force, _ = cmd.Flags().GetBool("force")

	if !opts.DryRun {
		approved, err := confirmProtected(cmd, cfg, environment, fmt.Sprintf("Deploy of %s", version))
		if err != nil {
			return err
		}
		opts.AutoApprove = approved
	}

	coordinator, cleanup, err := buildCoordinator(cmd, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := coordinator.Deploy(cmd.Context(), environment, version, strategyName, opts)
	if err != nil {
		return err
	}

	if opts.DryRun {
		fmt.Printf("Dry run for %s -> %s (%s strategy):\n\n", environment, version, strategyName)
		printPlan(result.Plan)
		fmt.Println("\nNo changes made.")
		return nil
	}

	fmt.Printf("✓ Deployed %s to %s (%s strategy)\n", version, environment, strategyName)
	fmt.Printf("  Attempt:  %s\n", result.Attempt.ID)
	fmt.Printf("  Snapshot: %s\n", result.StateID)
	if result.BackupID != "" {
		fmt.Printf("  Backup:   %s\n", result.BackupID)
	}
	return nil
}

func printPlan(plan []deployer.PlanEntry) {
	t := tabby.New()
	t.AddHeader("SERVICE", "CURRENT", "TARGET", "REPLICAS")
	for _, entry := range plan {
		t.AddLine(entry.Service, entry.CurrentImage, entry.TargetImage, entry.Replicas)
	}
	t.Print()
}
