package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubRunner records tool invocations and scripts their results.
type stubRunner struct {
	calls   []string
	results map[string]stubResult
}

type stubResult struct {
	out []byte
	err error
}

func (r *stubRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	call := strings.Join(append([]string{name}, args...), " ")
	r.calls = append(r.calls, call)
	for prefix, res := range r.results {
		if strings.HasPrefix(call, prefix) {
			return res.out, res.err
		}
	}
	return nil, nil
}

func newTestSession(t *testing.T, runner commandRunner) *Session {
	t.Helper()
	return NewSession(nil, Options{
		GracePeriod:         2 * time.Second,
		StackHealthAttempts: 3,
		StackHealthInterval: time.Millisecond,
		runner:              runner,
	})
}

func TestStartMergesEnvironment(t *testing.T) {
	base := []string{"PATH=/usr/bin", "HOME=/home/ci"}
	merged := mergeEnv(base, map[string]string{
		"FIR_API_KEY": "k",
		"HOME":        "/tmp/override",
	})

	// Overrides come after the inherited environment so they win.
	require.Len(t, merged, 4)
	assert.Equal(t, "PATH=/usr/bin", merged[0])
	assert.Equal(t, "HOME=/home/ci", merged[1])
	assert.Contains(t, merged[2:], "FIR_API_KEY=k")
	assert.Equal(t, "HOME=/tmp/override", merged[3])
}

func TestStartAndStopProcess(t *testing.T) {
	s := newTestSession(t, &stubRunner{})

	h, err := s.Start("sleeper", "sleep", []string{"30"}, "", nil)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "sleeper", h.Name)
	assert.False(t, h.Exited())

	start := time.Now()
	require.NoError(t, s.Stop(h))
	// sleep exits on SIGTERM, well inside the grace period.
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.True(t, h.Exited())
}

func TestStopAlreadyExitedProcessIsNotAnError(t *testing.T) {
	s := newTestSession(t, &stubRunner{})

	h, err := s.Start("oneshot", "true", nil, "", nil)
	require.NoError(t, err)

	// Let it exit on its own first.
	deadline := time.Now().Add(3 * time.Second)
	for !h.Exited() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, h.Exited())

	assert.NoError(t, s.Stop(h))
	assert.NoError(t, s.Stop(h))
}

func TestStartUnknownBinary(t *testing.T) {
	s := newTestSession(t, &stubRunner{})

	_, err := s.Start("ghost", "/nonexistent/preflight-test-binary", nil, "", nil)
	assert.Error(t, err)
}

func TestEngineAvailable(t *testing.T) {
	t.Run("engine answers", func(t *testing.T) {
		runner := &stubRunner{}
		s := newTestSession(t, runner)
		assert.NoError(t, s.EngineAvailable(context.Background()))
		assert.Equal(t, []string{"docker info"}, runner.calls)
	})

	t.Run("engine unreachable is fatal", func(t *testing.T) {
		runner := &stubRunner{results: map[string]stubResult{
			"docker info": {err: errors.New("cannot connect to the Docker daemon")},
		}}
		s := newTestSession(t, runner)
		err := s.EngineAvailable(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "container engine unreachable")
	})
}

func TestStartComposeStack(t *testing.T) {
	t.Run("healthy stack", func(t *testing.T) {
		runner := &stubRunner{results: map[string]stubResult{
			"docker compose -f deploy.yml ps": {out: []byte("backend-db   Up (healthy)")},
		}}
		s := newTestSession(t, runner)

		healthy, err := s.StartComposeStack(context.Background(), "deploy.yml")
		require.NoError(t, err)
		assert.True(t, healthy)

		// Stale stack is torn down before up.
		require.GreaterOrEqual(t, len(runner.calls), 2)
		assert.Contains(t, runner.calls[0], "down")
		assert.Contains(t, runner.calls[1], "up -d")
	})

	t.Run("unhealthy service is not healthy", func(t *testing.T) {
		runner := &stubRunner{results: map[string]stubResult{
			"docker compose -f deploy.yml ps": {out: []byte("backend-db   Up 10 seconds (unhealthy)")},
		}}
		s := newTestSession(t, runner)

		healthy, err := s.StartComposeStack(context.Background(), "deploy.yml")
		assert.NoError(t, err)
		assert.False(t, healthy)
	})

	t.Run("health marker timeout is soft", func(t *testing.T) {
		runner := &stubRunner{results: map[string]stubResult{
			"docker compose -f deploy.yml ps": {out: []byte("backend-db   Created")},
		}}
		s := newTestSession(t, runner)

		healthy, err := s.StartComposeStack(context.Background(), "deploy.yml")
		assert.NoError(t, err)
		assert.False(t, healthy)
	})

	t.Run("compose up failure is hard", func(t *testing.T) {
		runner := &stubRunner{results: map[string]stubResult{
			"docker compose -f deploy.yml up": {out: []byte("port already allocated"), err: errors.New("exit status 1")},
		}}
		s := newTestSession(t, runner)

		_, err := s.StartComposeStack(context.Background(), "deploy.yml")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "port already allocated")
	})
}

func TestStackLooksHealthy(t *testing.T) {
	cases := []struct {
		name     string
		psOutput string
		want     bool
	}{
		{"healthy marker", "backend-db   Up 10 seconds (healthy)", true},
		{"running without healthcheck", "backend-cache   running", true},
		{"unhealthy marker", "backend-db   Up 10 seconds (unhealthy)", false},
		{"unhealthy alongside running", "backend-db   running (unhealthy)\nbackend-cache   running", false},
		{"created only", "backend-db   Created", false},
		{"empty output", "", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, stackLooksHealthy(tc.psOutput))
		})
	}
}

func TestCleanupRunsOnceAndTearsDownStack(t *testing.T) {
	runner := &stubRunner{results: map[string]stubResult{
		"docker compose -f deploy.yml ps": {out: []byte("Up (healthy)")},
	}}
	s := newTestSession(t, runner)

	_, err := s.StartComposeStack(context.Background(), "deploy.yml")
	require.NoError(t, err)

	_, err = s.Start("a", "sleep", []string{"30"}, "", nil)
	require.NoError(t, err)
	_, err = s.Start("b", "sleep", []string{"30"}, "", nil)
	require.NoError(t, err)

	require.NoError(t, s.Cleanup(context.Background()))

	downCalls := 0
	for _, c := range runner.calls {
		if strings.Contains(c, "down") {
			downCalls++
		}
	}
	// One pre-up teardown, one cleanup teardown.
	assert.Equal(t, 2, downCalls)

	// Second call is a no-op.
	before := len(runner.calls)
	require.NoError(t, s.Cleanup(context.Background()))
	assert.Equal(t, before, len(runner.calls))
}

func TestSessionIdentity(t *testing.T) {
	a := NewSession(nil, Options{})
	b := NewSession(nil, Options{})
	assert.NotEqual(t, a.ID, b.ID)
	assert.GreaterOrEqual(t, a.Uptime(), time.Duration(0))
}

func ExampleSession_Start() {
	s := NewSession(nil, Options{})
	defer s.Cleanup(context.Background())

	h, err := s.Start("backend", "sleep", []string{"1"}, "", map[string]string{
		"ENVIRONMENT": "testing",
	})
	if err != nil {
		fmt.Println("start failed:", err)
		return
	}
	fmt.Println(h.Name)
	// Output: backend
}
