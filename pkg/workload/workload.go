package workload

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cuemby/karapace-operator/pkg/log"
	"github.com/cuemby/karapace-operator/pkg/retry"
	"github.com/cuemby/karapace-operator/pkg/types"
	"github.com/rs/zerolog"
)

// State distinguishes "runtime unreachable" from "reachable but stopped"
type State string

const (
	StateUnreachable State = "unreachable"
	StateStopped     State = "stopped"
	StateRunning     State = "running"
)

// DefaultActivePolicy is the liveness probe bound: 5 attempts, 1s apart
var DefaultActivePolicy = retry.Policy{Delay: time.Second, Attempts: 5}

var versionSeparator = regexp.MustCompile(`[\s\-]`)

// Workload is the command surface over the managed Karapace process
type Workload struct {
	runtime      Runtime
	logger       zerolog.Logger
	activePolicy retry.Policy
}

// New creates a workload controller over the given runtime
func New(rt Runtime) *Workload {
	return &Workload{
		runtime:      rt,
		logger:       log.WithComponent("workload"),
		activePolicy: DefaultActivePolicy,
	}
}

// WithActivePolicy overrides the liveness retry bound
func (w *Workload) WithActivePolicy(p retry.Policy) *Workload {
	w.activePolicy = p
	return w
}

// Start starts the managed service
func (w *Workload) Start(ctx context.Context) error {
	if err := w.runtime.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s: %w", types.ServiceName, err)
	}
	return nil
}

// Stop stops the managed service
func (w *Workload) Stop(ctx context.Context) error {
	if err := w.runtime.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop %s: %w", types.ServiceName, err)
	}
	return nil
}

// Restart restarts the managed service
func (w *Workload) Restart(ctx context.Context) error {
	w.logger.Info().Msg("restarting service")
	if err := w.runtime.Restart(ctx); err != nil {
		return fmt.Errorf("failed to restart %s: %w", types.ServiceName, err)
	}
	return nil
}

// Exec runs a whitespace separated command inside the workload
func (w *Workload) Exec(ctx context.Context, command string, env map[string]string, cwd string) (string, error) {
	return w.exec(ctx, strings.Fields(command), env, cwd, nil)
}

// exec runs args and masks secrets in any error it returns or logs
func (w *Workload) exec(ctx context.Context, args []string, env map[string]string, cwd string, secrets []string) (string, error) {
	if len(args) == 0 {
		return "", &ExecError{Command: args, Err: errors.New("empty command")}
	}

	out, err := w.runtime.Exec(ctx, args, env, cwd)
	if err != nil {
		var execErr *ExecError
		if !errors.As(err, &execErr) {
			execErr = &ExecError{Command: args, Output: out, Err: err}
		}
		execErr = execErr.scrub(secrets)
		w.logger.Debug().Err(execErr).Str("command", args[0]).Msg("exec failed")
		return out, execErr
	}
	return out, nil
}

// Read returns the file split into lines, or nil if it does not exist
func (w *Workload) Read(ctx context.Context, path string) []string {
	exists, err := w.runtime.Exists(ctx, path)
	if err != nil || !exists {
		return nil
	}

	data, err := w.runtime.ReadFile(ctx, path)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", path).Msg("failed to read file")
		return nil
	}
	return strings.Split(string(data), "\n")
}

// Write pushes content to path, creating parent directories
func (w *Workload) Write(ctx context.Context, content, path string) error {
	if err := w.runtime.WriteFile(ctx, path, []byte(content)); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Reachable reports whether the runtime answers at all
func (w *Workload) Reachable(ctx context.Context) bool {
	return w.runtime.CanConnect(ctx)
}

// State probes once and tells unreachable and stopped apart
func (w *Workload) State(ctx context.Context) State {
	if !w.runtime.CanConnect(ctx) {
		return StateUnreachable
	}
	running, err := w.runtime.Running(ctx)
	if err != nil || !running {
		return StateStopped
	}
	return StateRunning
}

// Active reports whether the service is running, retrying within the
// configured bound. Indeterminate results count as not active.
func (w *Workload) Active(ctx context.Context) bool {
	return retry.Bool(ctx, w.activePolicy, func(ctx context.Context) (bool, error) {
		return w.State(ctx) == StateRunning, nil
	}, false)
}

// Version returns the Karapace version, or "" if it cannot be determined
func (w *Workload) Version(ctx context.Context) string {
	if !w.runtime.CanConnect(ctx) {
		return ""
	}
	out, err := w.Exec(ctx, "karapace --version", nil, "")
	if err != nil {
		return ""
	}
	return versionSeparator.Split(strings.TrimSpace(out), -1)[0]
}

// Mkpasswd hashes a password with the registry's own tool and returns the
// JSON user entry it prints. The password never appears in the error.
func (w *Workload) Mkpasswd(ctx context.Context, username, password, salt string) (string, error) {
	args := []string{"karapace_mkpasswd", "-u", username, "-a", "sha512", "-s", salt, password}
	out, err := w.exec(ctx, args, nil, "", []string{password})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
