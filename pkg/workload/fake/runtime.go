// Package fake provides an in-memory workload runtime for tests.
package fake

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"

	"github.com/cuemby/karapace-operator/pkg/workload"
)

// ExecFunc answers a command run inside the fake workload
type ExecFunc func(args []string, env map[string]string) (string, error)

// Runtime is an in-memory workload.Runtime. The zero value is not usable;
// call NewRuntime.
type Runtime struct {
	mu sync.Mutex

	Connected bool
	Up        bool

	files    map[string][]byte
	execs    map[string]ExecFunc
	Commands [][]string

	restartErr error

	Starts   int
	Stops    int
	Restarts int
}

// NewRuntime returns a reachable, running runtime with no files
func NewRuntime() *Runtime {
	r := &Runtime{
		Connected: true,
		Up:        true,
		files:     make(map[string][]byte),
		execs:     make(map[string]ExecFunc),
	}
	r.OnExec("karapace", func([]string, map[string]string) (string, error) {
		return "3.4.6 (Karapace)\n", nil
	})
	r.OnExec("karapace_mkpasswd", Mkpasswd)
	return r
}

// Mkpasswd fakes karapace_mkpasswd deterministically from its arguments
func Mkpasswd(args []string, _ map[string]string) (string, error) {
	var user, salt, password string
	for i := 1; i < len(args); i++ {
		switch args[i] {
		case "-u":
			i++
			user = args[i]
		case "-s":
			i++
			salt = args[i]
		case "-a":
			i++
		default:
			password = args[i]
		}
	}
	return `{"username": "` + user + `", "algorithm": "sha512", "salt": "` + salt +
		`", "password_hash": "hash(` + password + `)"}` + "\n", nil
}

// OnExec registers a handler for commands whose first argument is name
func (r *Runtime) OnExec(name string, fn ExecFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.execs[name] = fn
}

// SetConnected toggles runtime reachability
func (r *Runtime) SetConnected(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Connected = v
}

// SetUp toggles whether the service runs
func (r *Runtime) SetUp(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Up = v
}

// File returns the stored content of path
func (r *Runtime) File(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.files[path]
	return string(data), ok
}

// PutFile stores content without counting as an operator write
func (r *Runtime) PutFile(path, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[path] = []byte(content)
}

// CommandCount counts executed commands starting with name
func (r *Runtime) CommandCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.Commands {
		if len(c) > 0 && c[0] == name {
			n++
		}
	}
	return n
}

func (r *Runtime) CanConnect(context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Connected
}

func (r *Runtime) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Connected {
		return errors.New("runtime unreachable")
	}
	r.Starts++
	r.Up = true
	return nil
}

func (r *Runtime) Stop(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Connected {
		return errors.New("runtime unreachable")
	}
	r.Stops++
	r.Up = false
	return nil
}

// FailRestarts makes every Restart return err until called with nil
func (r *Runtime) FailRestarts(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restartErr = err
}

func (r *Runtime) Restart(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Connected {
		return errors.New("runtime unreachable")
	}
	if r.restartErr != nil {
		return r.restartErr
	}
	r.Restarts++
	r.Up = true
	return nil
}

func (r *Runtime) Running(context.Context) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Connected {
		return false, errors.New("runtime unreachable")
	}
	return r.Up, nil
}

func (r *Runtime) Exec(_ context.Context, args []string, env map[string]string, _ string) (string, error) {
	r.mu.Lock()
	if !r.Connected {
		r.mu.Unlock()
		return "", errors.New("runtime unreachable")
	}
	r.Commands = append(r.Commands, args)
	fn, ok := r.execs[args[0]]
	r.mu.Unlock()

	if !ok {
		return "", &workload.ExecError{Command: args, ExitCode: 127,
			Output: args[0] + ": command not found"}
	}
	return fn(args, env)
}

func (r *Runtime) Exists(_ context.Context, path string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.files[path]
	return ok, nil
}

func (r *Runtime) ReadFile(_ context.Context, path string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

func (r *Runtime) WriteFile(_ context.Context, path string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.Connected {
		return errors.New("runtime unreachable")
	}
	r.files[path] = append([]byte(nil), data...)
	return nil
}

// Paths lists stored paths under prefix
func (r *Runtime) Paths(prefix string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var paths []string
	for p := range r.files {
		if strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	return paths
}
