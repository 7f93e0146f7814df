package deployer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cascade-sh/cascade/pkg/config"
	"github.com/cascade-sh/cascade/pkg/log"
)

// TestRunner gates a deploy on an external test suite
type TestRunner interface {
	Run(ctx context.Context, env config.Environment, version string) error
}

// CommandRunner executes a configured command and treats a non-zero exit
// as failure. The target environment and version are exported to the
// command through CASCADE_ENVIRONMENT and CASCADE_VERSION.
type CommandRunner struct {
	command []string
	logger  zerolog.Logger
}

func NewCommandRunner(command []string) *CommandRunner {
	return &CommandRunner{
		command: command,
		logger:  log.WithComponent("tests"),
	}
}

func (r *CommandRunner) Run(ctx context.Context, env config.Environment, version string) error {
	if len(r.command) == 0 {
		r.logger.Debug().Msg("No test command configured, skipping")
		return nil
	}
	r.logger.Info().Str("command", strings.Join(r.command, " ")).Msg("Running test suite")

	cmd := exec.CommandContext(ctx, r.command[0], r.command[1:]...)
	cmd.Env = append(os.Environ(),
		"CASCADE_ENVIRONMENT="+env.Name,
		"CASCADE_VERSION="+version,
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("test command failed: %w (output: %s)", err, tail(string(out), 400))
	}
	r.logger.Info().Msg("Test suite passed")
	return nil
}

// tail keeps the end of the output, where test failures usually say what
// went wrong
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
