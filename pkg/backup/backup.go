package backup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cascade-sh/cascade/pkg/cluster"
	"github.com/cascade-sh/cascade/pkg/config"
	"github.com/cascade-sh/cascade/pkg/log"
)

// Service produces and restores database backups for one environment.
// The location reference returned by Backup is opaque to callers; only the
// Service that produced it can interpret it.
type Service interface {
	Backup(ctx context.Context, env config.Environment) (locationRef string, err error)
	Restore(ctx context.Context, env config.Environment, locationRef string) error
}

// Executor runs commands inside a deployment's pods. Satisfied by
// cluster.Backend.
type Executor interface {
	ExecInDeployment(ctx context.Context, namespace, deployment, container string, command []string) (stdout, stderr string, err error)
}

// PostgresService backs up Postgres databases by running pg_dump inside
// the database pod itself. Dumps use the custom format and land on the
// pod's backup volume; the returned location is the dump path.
type PostgresService struct {
	exec    Executor
	secrets cluster.SecretSource
	logger  zerolog.Logger
}

func NewPostgresService(exec Executor, secrets cluster.SecretSource) *PostgresService {
	return &PostgresService{
		exec:    exec,
		secrets: secrets,
		logger:  log.WithComponent("backup"),
	}
}

type credentials struct {
	username string
	password string
	dbname   string
}

func (s *PostgresService) credentials(ctx context.Context, env config.Environment) (credentials, error) {
	data, err := s.secrets.Secret(ctx, env.Namespace, env.Database.CredentialsSecret)
	if err != nil {
		return credentials{}, fmt.Errorf("failed to read database credentials: %w", err)
	}
	creds := credentials{
		username: string(data["username"]),
		password: string(data["password"]),
		dbname:   string(data["dbname"]),
	}
	if creds.username == "" {
		return credentials{}, fmt.Errorf("secret %s has no username key", env.Database.CredentialsSecret)
	}
	if creds.password == "" {
		return credentials{}, fmt.Errorf("secret %s has no password key", env.Database.CredentialsSecret)
	}
	if creds.dbname == "" {
		creds.dbname = creds.username
	}
	return creds, nil
}

func (s *PostgresService) Backup(ctx context.Context, env config.Environment) (string, error) {
	if !env.Database.Configured() {
		return "", fmt.Errorf("environment %s has no database configured", env.Name)
	}
	creds, err := s.credentials(ctx, env)
	if err != nil {
		return "", err
	}

	dir := strings.TrimSuffix(env.Database.BackupDir, "/")
	path := fmt.Sprintf("%s/%s-%s.dump", dir, env.Name, time.Now().UTC().Format("20060102T150405Z"))

	cmd := fmt.Sprintf("mkdir -p %s && PGPASSWORD=%s pg_dump -U %s -F c -f %s %s",
		shellQuote(dir), shellQuote(creds.password), shellQuote(creds.username),
		shellQuote(path), shellQuote(creds.dbname))

	_, stderr, err := s.exec.ExecInDeployment(ctx, env.Namespace, env.Database.Deployment, env.Database.Container, []string{"sh", "-c", cmd})
	if err != nil {
		return "", fmt.Errorf("pg_dump failed: %w (stderr: %s)", err, strings.TrimSpace(stderr))
	}
	if stderr != "" {
		s.logger.Debug().Str("stderr", strings.TrimSpace(stderr)).Msg("pg_dump warnings")
	}

	s.logger.Info().Str("environment", env.Name).Str("path", path).Msg("Database backup complete")
	return path, nil
}

func (s *PostgresService) Restore(ctx context.Context, env config.Environment, locationRef string) error {
	if !env.Database.Configured() {
		return fmt.Errorf("environment %s has no database configured", env.Name)
	}
	if locationRef == "" {
		return fmt.Errorf("backup record has no location")
	}
	creds, err := s.credentials(ctx, env)
	if err != nil {
		return err
	}

	cmd := fmt.Sprintf("PGPASSWORD=%s pg_restore --clean --if-exists -U %s -d %s %s",
		shellQuote(creds.password), shellQuote(creds.username),
		shellQuote(creds.dbname), shellQuote(locationRef))

	_, stderr, err := s.exec.ExecInDeployment(ctx, env.Namespace, env.Database.Deployment, env.Database.Container, []string{"sh", "-c", cmd})
	if err != nil {
		return fmt.Errorf("pg_restore failed: %w (stderr: %s)", err, strings.TrimSpace(stderr))
	}
	if stderr != "" {
		s.logger.Debug().Str("stderr", strings.TrimSpace(stderr)).Msg("pg_restore warnings")
	}

	s.logger.Info().Str("environment", env.Name).Str("path", locationRef).Msg("Database restore complete")
	return nil
}

// shellQuote single-quotes a value for sh -c interpolation
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
