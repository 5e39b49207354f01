package workload

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// redacted replaces secret arguments in exec errors
const redacted = "***"

// Runtime is the process/container substrate the managed service runs on.
// Implementations block until the operation completes.
type Runtime interface {
	// CanConnect reports whether the runtime itself answers
	CanConnect(ctx context.Context) bool

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Restart(ctx context.Context) error

	// Running reports whether the managed service process is up
	Running(ctx context.Context) (bool, error)

	// Exec runs args inside the workload and returns combined output. A
	// non-zero exit is reported as *ExecError.
	Exec(ctx context.Context, args []string, env map[string]string, cwd string) (string, error)

	Exists(ctx context.Context, path string) (bool, error)
	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
}

// ExecError is returned when a command inside the workload fails
type ExecError struct {
	Command  []string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExecError) Error() string {
	cmd := strings.Join(e.Command, " ")
	if e.Err != nil {
		return fmt.Sprintf("exec %q failed: %v", cmd, e.Err)
	}
	return fmt.Sprintf("exec %q exited with code %d: %s", cmd, e.ExitCode, strings.TrimSpace(e.Output))
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// scrub returns a copy of e with every occurrence of secrets masked in the
// command, the output and the cause
func (e *ExecError) scrub(secrets []string) *ExecError {
	if len(secrets) == 0 {
		return e
	}
	mask := func(s string) string {
		for _, secret := range secrets {
			if secret != "" {
				s = strings.ReplaceAll(s, secret, redacted)
			}
		}
		return s
	}

	out := &ExecError{
		Command:  make([]string, len(e.Command)),
		ExitCode: e.ExitCode,
		Output:   mask(e.Output),
		Err:      e.Err,
	}
	for i, arg := range e.Command {
		out.Command[i] = mask(arg)
	}
	if e.Err != nil {
		if msg := mask(e.Err.Error()); msg != e.Err.Error() {
			out.Err = errors.New(msg)
		}
	}
	return out
}
