package orchestrator

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const (
	// defaultStackHealthAttempts bounds how long we poll
	// `docker compose ps` for a healthy marker after bringing the
	// stack up.
	defaultStackHealthAttempts = 15
	defaultStackHealthInterval = 2 * time.Second
)

// commandRunner executes external tool commands. The default shells out;
// tests substitute a stub.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// EngineAvailable checks that the container engine answers at all. An
// unreachable engine is fatal to the whole session: nothing else should
// be started after this fails.
func (s *Session) EngineAvailable(ctx context.Context) error {
	if _, err := s.runner.Run(ctx, "docker", "info"); err != nil {
		return fmt.Errorf("container engine unreachable: %w", err)
	}
	return nil
}

// StartComposeStack tears down any stale stack with the same definition,
// brings the declared services up detached, and polls the stack status
// for a healthy marker.
//
// A false healthy return with a nil error means the stack is up but the
// health marker never appeared within the polling budget; callers should
// treat that as a soft warning, not a failure.
func (s *Session) StartComposeStack(ctx context.Context, composeFile string) (healthy bool, err error) {
	// Stale stacks with the same definition would collide on ports.
	if out, err := s.runner.Run(ctx, "docker", "compose", "-f", composeFile, "down", "--remove-orphans"); err != nil {
		s.log.Debug("compose down before up", "output", strings.TrimSpace(string(out)), "error", err)
	}

	out, err := s.runner.Run(ctx, "docker", "compose", "-f", composeFile, "up", "-d")
	if err != nil {
		return false, fmt.Errorf("compose up failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	s.mu.Lock()
	s.composeFile = composeFile
	s.mu.Unlock()
	s.log.Info("container stack started", "compose_file", composeFile)

	for attempt := 1; attempt <= s.stackAttempts; attempt++ {
		out, err := s.runner.Run(ctx, "docker", "compose", "-f", composeFile, "ps")
		if err == nil && stackLooksHealthy(string(out)) {
			s.log.Info("container stack healthy", "attempts", attempt)
			return true, nil
		}
		if attempt < s.stackAttempts {
			select {
			case <-time.After(s.stackInterval):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}

	s.log.Warn("container stack up but health marker not seen",
		"compose_file", composeFile, "attempts", s.stackAttempts)
	return false, nil
}

func (s *Session) composeDown(ctx context.Context, composeFile string) error {
	out, err := s.runner.Run(ctx, "docker", "compose", "-f", composeFile, "down", "--remove-orphans")
	if err != nil {
		return fmt.Errorf("compose down failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	s.log.Info("container stack stopped", "compose_file", composeFile)
	return nil
}

// stackLooksHealthy scans `docker compose ps` output for health markers.
// Any service reporting (unhealthy) makes the whole stack unhealthy. A
// (healthy) marker or a plain running state is accepted otherwise, since
// services without a healthcheck never report (healthy).
func stackLooksHealthy(psOutput string) bool {
	lower := strings.ToLower(psOutput)
	if strings.Contains(lower, "(unhealthy)") {
		return false
	}
	return strings.Contains(lower, "(healthy)") ||
		strings.Contains(lower, "running")
}
