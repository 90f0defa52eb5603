// Package orchestrator starts and stops the processes and container
// stack a harness run depends on, and guarantees best-effort teardown on
// every exit path.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

// ServiceHandle tracks one child process from start until cleanup. It is
// owned exclusively by the session that started it.
type ServiceHandle struct {
	Name      string
	StartedAt time.Time

	cmd  *exec.Cmd
	done chan error
}

// Exited reports whether the process has already terminated.
func (h *ServiceHandle) Exited() bool {
	select {
	case err := <-h.done:
		// Put it back so Stop still observes the exit.
		h.done <- err
		return true
	default:
		return false
	}
}

// Options tunes session behavior.
type Options struct {
	// GracePeriod is how long Stop waits after SIGTERM before SIGKILL.
	GracePeriod time.Duration

	// Output receives child stdout/stderr. Nil discards it.
	Output io.Writer

	// StackHealthAttempts and StackHealthInterval bound the compose
	// stack health polling after `compose up`.
	StackHealthAttempts int
	StackHealthInterval time.Duration

	// runner executes external tool commands, swapped out in tests.
	runner commandRunner
}

// Session owns every service handle of one orchestrated run, plus the
// run's monotonic start time. It replaces any ambient process-tracking
// state: callers hold the session and pass it where it is needed.
type Session struct {
	ID        string
	StartedAt time.Time

	log           hclog.Logger
	grace         time.Duration
	output        io.Writer
	runner        commandRunner
	stackAttempts int
	stackInterval time.Duration

	mu          sync.Mutex
	handles     []*ServiceHandle
	composeFile string

	cleanupOnce sync.Once
}

// NewSession acquires a session. The caller must arrange for Cleanup to
// run on every exit path, normally via defer in main and a signal-aware
// context.
func NewSession(log hclog.Logger, opts Options) *Session {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 5 * time.Second
	}
	if opts.Output == nil {
		opts.Output = io.Discard
	}
	if opts.StackHealthAttempts <= 0 {
		opts.StackHealthAttempts = defaultStackHealthAttempts
	}
	if opts.StackHealthInterval <= 0 {
		opts.StackHealthInterval = defaultStackHealthInterval
	}
	if opts.runner == nil {
		opts.runner = execRunner{}
	}
	return &Session{
		ID:            uuid.NewString(),
		StartedAt:     time.Now(),
		log:           log,
		grace:         opts.GracePeriod,
		output:        opts.Output,
		runner:        opts.runner,
		stackAttempts: opts.StackHealthAttempts,
		stackInterval: opts.StackHealthInterval,
	}
}

// Uptime returns how long the session has been running.
func (s *Session) Uptime() time.Duration {
	return time.Since(s.StartedAt)
}

// Start launches a child process with the inherited environment merged
// with env (overrides win) and records its handle for later cleanup.
func (s *Session) Start(name, command string, args []string, dir string, env map[string]string) (*ServiceHandle, error) {
	cmd := exec.Command(command, args...)
	cmd.Dir = dir
	cmd.Env = mergeEnv(os.Environ(), env)
	cmd.Stdout = s.output
	cmd.Stderr = s.output

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", name, err)
	}

	h := &ServiceHandle{
		Name:      name,
		StartedAt: time.Now(),
		cmd:       cmd,
		done:      make(chan error, 1),
	}
	go func() {
		h.done <- cmd.Wait()
	}()

	s.mu.Lock()
	s.handles = append(s.handles, h)
	s.mu.Unlock()

	s.log.Info("service started", "service", name, "pid", cmd.Process.Pid)
	return h, nil
}

// Stop requests graceful termination and escalates to SIGKILL after the
// grace period. Stopping a service that already exited is not an error.
func (s *Session) Stop(h *ServiceHandle) error {
	if h == nil || h.cmd == nil || h.cmd.Process == nil {
		return nil
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone.
		s.log.Debug("service already exited", "service", h.Name)
		return nil
	}

	select {
	case <-h.done:
		s.log.Info("service stopped", "service", h.Name)
	case <-time.After(s.grace):
		s.log.Warn("service ignored SIGTERM, killing", "service", h.Name)
		h.cmd.Process.Kill()
		<-h.done
	}
	return nil
}

// Cleanup stops every tracked service in reverse-start order, then tears
// down the container stack if one was started. It runs exactly once per
// session no matter how many times it is called or how the run ended.
func (s *Session) Cleanup(ctx context.Context) error {
	var result error

	s.cleanupOnce.Do(func() {
		s.mu.Lock()
		handles := make([]*ServiceHandle, len(s.handles))
		copy(handles, s.handles)
		composeFile := s.composeFile
		s.mu.Unlock()

		for i := len(handles) - 1; i >= 0; i-- {
			if err := s.Stop(handles[i]); err != nil {
				result = multierror.Append(result, err)
			}
		}

		if composeFile != "" {
			if err := s.composeDown(ctx, composeFile); err != nil {
				result = multierror.Append(result, err)
			}
		}

		s.log.Info("session cleanup complete", "session", s.ID, "uptime", s.Uptime())
	})

	return result
}

// mergeEnv overlays overrides onto base. Later entries win in exec.Cmd,
// so overrides are appended after the inherited environment.
func mergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	env = append(env, base...)

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+overrides[k])
	}
	return env
}
