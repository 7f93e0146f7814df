package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML values can be written as "300s" or "5m"
type Duration time.Duration

// UnmarshalYAML parses a Go duration string
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Database describes the environment's database, used for pre-deploy backups
// and explicit database rollback. Credentials come from a Kubernetes secret
// with keys "username", "password" and "dbname".
type Database struct {
	Deployment        string `yaml:"deployment"`
	Container         string `yaml:"container"`
	CredentialsSecret string `yaml:"credentialsSecret"`
	BackupDir         string `yaml:"backupDir"`
}

// Configured reports whether a database is declared for the environment
func (d Database) Configured() bool {
	return d.Deployment != ""
}

// Environment is a deployment target with its own namespace and service set
type Environment struct {
	Name      string   `yaml:"name"`
	Namespace string   `yaml:"namespace"`
	Protected bool     `yaml:"protected"`
	Database  Database `yaml:"database"`
}

// Service is one managed service of the platform. Every deploy moves all
// managed services to the same version. The deployment object, its container
// and the image repository share the service name by convention unless
// overridden here.
type Service struct {
	Name       string `yaml:"name"`
	Repository string `yaml:"repository"`
	Container  string `yaml:"container"`
	Port       int    `yaml:"port"`
	HealthPath string `yaml:"healthPath"`
}

// Defaults carries the tunable timeouts, intervals and policy knobs.
// Zero values are filled in by Load.
type Defaults struct {
	RolloutTimeout         Duration `yaml:"rolloutTimeout"`
	HealthTimeout          Duration `yaml:"healthTimeout"`
	EmergencyHealthTimeout Duration `yaml:"emergencyHealthTimeout"`
	ReadinessInterval      Duration `yaml:"readinessInterval"`
	ProbeAttempts          int      `yaml:"probeAttempts"`
	ProbeInterval          Duration `yaml:"probeInterval"`
	CanaryFraction         float64  `yaml:"canaryFraction"`
	CanaryObservation      Duration `yaml:"canaryObservation"`
	MetricsWindow          Duration `yaml:"metricsWindow"`
	MaxUnavailable         string   `yaml:"maxUnavailable"`
	MaxSurge               string   `yaml:"maxSurge"`
	KeepStates             int      `yaml:"keepStates"`
	KeepBackups            int      `yaml:"keepBackups"`
	LeaseDuration          Duration `yaml:"leaseDuration"`
}

// Registry holds the image registry used for preflight existence checks
type Registry struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Integrations binds the external collaborators to concrete endpoints
type Integrations struct {
	Registry    Registry `yaml:"registry"`
	Prometheus  string   `yaml:"prometheus"`
	WebhookURL  string   `yaml:"webhookURL"`
	TestCommand []string `yaml:"testCommand"`
}

// Log holds logging configuration
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the full platform configuration loaded from YAML
type Config struct {
	DataDir      string        `yaml:"dataDir"`
	Log          Log           `yaml:"log"`
	Environments []Environment `yaml:"environments"`
	Services     []Service     `yaml:"services"`
	Defaults     Defaults      `yaml:"defaults"`
	Integrations Integrations  `yaml:"integrations"`
}

// Load reads, defaults and validates a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	d := &c.Defaults
	if d.RolloutTimeout == 0 {
		d.RolloutTimeout = Duration(300 * time.Second)
	}
	if d.HealthTimeout == 0 {
		d.HealthTimeout = Duration(300 * time.Second)
	}
	if d.EmergencyHealthTimeout == 0 {
		d.EmergencyHealthTimeout = Duration(60 * time.Second)
	}
	if d.ReadinessInterval == 0 {
		d.ReadinessInterval = Duration(10 * time.Second)
	}
	if d.ProbeAttempts == 0 {
		d.ProbeAttempts = 10
	}
	if d.ProbeInterval == 0 {
		d.ProbeInterval = Duration(15 * time.Second)
	}
	if d.CanaryFraction == 0 {
		d.CanaryFraction = 0.1
	}
	if d.CanaryObservation == 0 {
		d.CanaryObservation = Duration(5 * time.Minute)
	}
	if d.MetricsWindow == 0 {
		d.MetricsWindow = Duration(5 * time.Minute)
	}
	if d.MaxUnavailable == "" {
		d.MaxUnavailable = "25%"
	}
	if d.MaxSurge == "" {
		d.MaxSurge = "25%"
	}
	if d.KeepStates == 0 {
		d.KeepStates = 10
	}
	if d.KeepBackups == 0 {
		d.KeepBackups = 10
	}
	if d.LeaseDuration == 0 {
		d.LeaseDuration = Duration(15 * time.Minute)
	}

	if c.DataDir == "" {
		c.DataDir = "/var/lib/cascade"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}

	for i := range c.Services {
		svc := &c.Services[i]
		if svc.Container == "" {
			svc.Container = svc.Name
		}
		if svc.HealthPath == "" {
			svc.HealthPath = "/healthz"
		}
	}
	for i := range c.Environments {
		env := &c.Environments[i]
		if env.Database.Configured() {
			if env.Database.Container == "" {
				env.Database.Container = env.Database.Deployment
			}
			if env.Database.BackupDir == "" {
				env.Database.BackupDir = "/var/backups"
			}
		}
	}
}

// Validate checks structural invariants of the loaded configuration
func (c *Config) Validate() error {
	if len(c.Environments) == 0 {
		return fmt.Errorf("config declares no environments")
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("config declares no services")
	}

	envs := make(map[string]bool, len(c.Environments))
	for _, env := range c.Environments {
		if env.Name == "" {
			return fmt.Errorf("environment with empty name")
		}
		if env.Namespace == "" {
			return fmt.Errorf("environment %q has no namespace", env.Name)
		}
		if envs[env.Name] {
			return fmt.Errorf("duplicate environment %q", env.Name)
		}
		envs[env.Name] = true
	}

	svcs := make(map[string]bool, len(c.Services))
	for _, svc := range c.Services {
		if svc.Name == "" {
			return fmt.Errorf("service with empty name")
		}
		if svc.Repository == "" {
			return fmt.Errorf("service %q has no image repository", svc.Name)
		}
		if svc.Port <= 0 || svc.Port > 65535 {
			return fmt.Errorf("service %q has invalid port %d", svc.Name, svc.Port)
		}
		if svcs[svc.Name] {
			return fmt.Errorf("duplicate service %q", svc.Name)
		}
		svcs[svc.Name] = true
	}

	if c.Defaults.CanaryFraction <= 0 || c.Defaults.CanaryFraction >= 1 {
		return fmt.Errorf("canaryFraction must be in (0, 1), got %v", c.Defaults.CanaryFraction)
	}
	return nil
}

// Environment looks up a deployment target by name
func (c *Config) Environment(name string) (Environment, error) {
	for _, env := range c.Environments {
		if env.Name == name {
			return env, nil
		}
	}
	return Environment{}, fmt.Errorf("unknown environment %q", name)
}

// Service looks up a managed service by name
func (c *Config) Service(name string) (Service, error) {
	for _, svc := range c.Services {
		if svc.Name == name {
			return svc, nil
		}
	}
	return Service{}, fmt.Errorf("unknown service %q", name)
}

// ServiceNames returns the managed service names in declared order
func (c *Config) ServiceNames() []string {
	names := make([]string, len(c.Services))
	for i, svc := range c.Services {
		names[i] = svc.Name
	}
	return names
}
