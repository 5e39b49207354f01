package health

import (
	"context"
	"strings"
	"time"
)

// Execer runs a command inside the workload
type Execer interface {
	Exec(ctx context.Context, command string, env map[string]string, cwd string) (string, error)
}

// maxOutput caps the command output kept in a Result message
const maxOutput = 100

// ExecChecker runs a command in the registry container and is healthy when
// it exits zero
type ExecChecker struct {
	Command string

	timeout time.Duration
	execer  Execer
}

// NewExecChecker creates a checker running command through execer
func NewExecChecker(execer Execer, command string) *ExecChecker {
	return &ExecChecker{
		Command: command,
		timeout: DefaultConfig().Timeout,
		execer:  execer,
	}
}

// Check implements Checker
func (e *ExecChecker) Check(ctx context.Context) Result {
	start := time.Now()
	if strings.TrimSpace(e.Command) == "" {
		return finish(start, false, "no command configured")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	out, err := e.execer.Exec(ctx, e.Command, nil, "")
	if err != nil {
		return finish(start, false, "%q failed: %v", e.Command, err)
	}

	out = strings.TrimSpace(out)
	if len(out) > maxOutput {
		out = out[:maxOutput] + "..."
	}
	if out == "" {
		return finish(start, true, "%q succeeded", e.Command)
	}
	return finish(start, true, "%q: %s", e.Command, out)
}

// Type implements Checker
func (e *ExecChecker) Type() CheckType {
	return CheckTypeExec
}

// WithTimeout bounds each run
func (e *ExecChecker) WithTimeout(timeout time.Duration) *ExecChecker {
	e.timeout = timeout
	return e
}
