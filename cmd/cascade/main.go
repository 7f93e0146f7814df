package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/cascade-sh/cascade/pkg/backup"
	"github.com/cascade-sh/cascade/pkg/canary"
	"github.com/cascade-sh/cascade/pkg/cluster"
	"github.com/cascade-sh/cascade/pkg/config"
	"github.com/cascade-sh/cascade/pkg/deployer"
	"github.com/cascade-sh/cascade/pkg/health"
	"github.com/cascade-sh/cascade/pkg/log"
	"github.com/cascade-sh/cascade/pkg/notify"
	"github.com/cascade-sh/cascade/pkg/registry"
	"github.com/cascade-sh/cascade/pkg/rollback"
	"github.com/cascade-sh/cascade/pkg/statestore"
	"github.com/cascade-sh/cascade/pkg/strategy"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cascade",
	Short: "Cascade - deployment and rollback orchestration",
	Long: `Cascade deploys a fixed set of services to Kubernetes environments
using blue-green, rolling or canary strategies, captures a state snapshot
before every attempt, and rolls back automatically when a deploy fails.

Every environment keeps an append-only history of snapshots and database
backups, so any deploy can be undone and any database restored.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Cascade version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "cascade.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().String("kubeconfig", "", "Path to a kubeconfig (defaults to $KUBECONFIG, then in-cluster)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
}

// loadConfig reads the configuration file and initializes logging
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if flagLevel, _ := cmd.Flags().GetString("log-level"); flagLevel != "" {
		level = flagLevel
	}
	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})
	return cfg, nil
}

// openStore opens the local state database declared in the config
func openStore(cfg *config.Config) (statestore.Store, func(), error) {
	store, err := statestore.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}

// loadRestConfig resolves cluster credentials: explicit flag, then
// $KUBECONFIG, then ~/.kube/config, then in-cluster
func loadRestConfig(cmd *cobra.Command) (*rest.Config, error) {
	kubeconfig, _ := cmd.Flags().GetString("kubeconfig")
	if kubeconfig == "" {
		kubeconfig = os.Getenv("KUBECONFIG")
	}
	if kubeconfig == "" {
		if home, err := os.UserHomeDir(); err == nil {
			candidate := filepath.Join(home, ".kube", "config")
			if _, err := os.Stat(candidate); err == nil {
				kubeconfig = candidate
			}
		}
	}
	if kubeconfig != "" {
		restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
		if err != nil {
			return nil, fmt.Errorf("failed to load kubeconfig %s: %w", kubeconfig, err)
		}
		return restConfig, nil
	}

	restConfig, err := rest.InClusterConfig()
	if err != nil {
		return nil, fmt.Errorf("no kubeconfig found and not running in-cluster: %w", err)
	}
	return restConfig, nil
}

// buildCoordinator wires the full deployment pipeline. The returned cleanup
// closes the state store and the registry client.
func buildCoordinator(cmd *cobra.Command, cfg *config.Config) (*deployer.Coordinator, func(), error) {
	restConfig, err := loadRestConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	clients, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create kubernetes client: %w", err)
	}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	backend := cluster.NewKubeBackendFromClient(clients, restConfig, cfg.Defaults.ReadinessInterval.Std())
	locker := cluster.NewLeaseLocker(clients, cfg.Defaults.LeaseDuration.Std())
	checker := health.NewChecker(backend, health.Config{
		ReadinessInterval: cfg.Defaults.ReadinessInterval.Std(),
		ProbeAttempts:     cfg.Defaults.ProbeAttempts,
		ProbeInterval:     cfg.Defaults.ProbeInterval.Std(),
	})

	var analyzer *canary.Analyzer
	if cfg.Integrations.Prometheus != "" {
		probe, err := canary.NewPromProbe(cfg.Integrations.Prometheus)
		if err != nil {
			closeStore()
			return nil, nil, fmt.Errorf("failed to build metrics probe: %w", err)
		}
		policy := canary.DefaultPolicy()
		policy.Window = cfg.Defaults.MetricsWindow.Std()
		analyzer = canary.NewAnalyzer(probe, policy)
	}

	notifiers := notify.Multi{notify.NewLogNotifier()}
	if cfg.Integrations.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhookNotifier(cfg.Integrations.WebhookURL))
	}

	registryClient := registry.NewClient(cfg.Integrations.Registry)
	backups := backup.NewCoordinator(backup.NewPostgresService(backend, backend), store)

	coordinator := deployer.NewCoordinator(deployer.Deps{
		Config:     cfg,
		Backend:    backend,
		Locker:     locker,
		Registry:   registryClient,
		Strategies: strategy.NewEngine(backend, checker, analyzer, cfg.Defaults),
		Rollback:   rollback.NewEngine(backend, checker, store, backups, cfg),
		Checker:    checker,
		Backups:    backups,
		Store:      store,
		Tests:      deployer.NewCommandRunner(cfg.Integrations.TestCommand),
		Notifier:   notifiers,
	})

	cleanup := func() {
		_ = registryClient.Close()
		closeStore()
	}
	return coordinator, cleanup, nil
}

// confirmProtected prompts before touching a protected environment. It
// returns true when the operation may proceed with auto-approval set.
func confirmProtected(cmd *cobra.Command, cfg *config.Config, environment, action string) (bool, error) {
	env, err := cfg.Environment(environment)
	if err != nil || !env.Protected {
		// unknown environments fail later with a proper precondition error
		return false, nil
	}
	if yes, _ := cmd.Flags().GetBool("yes"); yes {
		return true, nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s targets protected environment %q. Continue? [y/N]: ", action, environment)
	line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	if err != nil {
		return false, fmt.Errorf("confirmation aborted: %w", err)
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	if answer != "y" && answer != "yes" {
		return false, fmt.Errorf("aborted")
	}
	return true, nil
}
