// Package harness drives one deployment-readiness session end to end:
// container stack, stand-in inference services, the backend under test,
// readiness gates, the probe battery, and the final report.
package harness

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/firstack/preflight/internal/config"
	"github.com/firstack/preflight/pkg/checks"
	"github.com/firstack/preflight/pkg/orchestrator"
	"github.com/firstack/preflight/pkg/probe"
	"github.com/firstack/preflight/pkg/report"
	"github.com/firstack/preflight/pkg/standin"
)

// cleanupBudget bounds teardown after the run context is already gone.
const cleanupBudget = 30 * time.Second

// Runner owns one orchestrated session.
type Runner struct {
	cfg *config.Config
	log hclog.Logger
	out io.Writer
}

// New builds a runner. out receives the human-readable report.
func New(cfg *config.Config, log hclog.Logger, out io.Writer) *Runner {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Runner{cfg: cfg, log: log, out: out}
}

// Run executes the full session. A non-nil error means an orchestration
// precondition failed and the run was aborted; probe and readiness
// results are never errors, they land in the report.
//
// Cleanup is guaranteed on every exit path, including cancellation of
// ctx by an interrupt: teardown runs on a fresh context with its own
// budget.
func (r *Runner) Run(ctx context.Context) (report.RunReport, error) {
	rec := report.NewRecorder(r.log, r.out)

	session := orchestrator.NewSession(r.log.Named("orchestrator"), orchestrator.Options{
		Output: r.out,
	})
	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupBudget)
		defer cancel()
		if err := session.Cleanup(cleanupCtx); err != nil {
			r.log.Error("cleanup finished with errors", "error", err)
		}
	}()

	checker := checks.New(nil, r.log.Named("checks"))
	if len(r.cfg.RequiredFiles) > 0 {
		checker.RequiredFiles(rec, r.cfg.RequiredFiles)
	}

	if r.cfg.ComposeFile != "" {
		checker.ComposeServices(rec, r.cfg.ComposeFile, r.cfg.StackServices)

		if err := session.EngineAvailable(ctx); err != nil {
			return rec.Summarize(), err
		}
		healthy, err := session.StartComposeStack(ctx, r.cfg.ComposeFile)
		if err != nil {
			return rec.Summarize(), fmt.Errorf("starting container stack: %w", err)
		}
		if !healthy {
			rec.Record(report.StatusWarn, "stack.health",
				"container stack is up but the health marker never appeared")
		}
	}

	if err := r.startStandins(ctx, session); err != nil {
		return rec.Summarize(), err
	}
	if err := r.startBackend(session); err != nil {
		return rec.Summarize(), err
	}

	r.awaitReadiness(ctx, rec)

	pc := probe.NewContext(r.cfg.BaseURL, r.cfg.APIKey, r.cfg.Probes.Timeout())
	battery := probe.NewBattery(pc, r.log.Named("probe"))
	if r.cfg.Probes.Concurrent {
		battery.RunConcurrent(ctx, rec)
	} else {
		battery.Run(ctx, rec)
	}

	return rec.PrintSummary(), nil
}

// startStandins brings up the two inference stand-ins, either as child
// processes or served in-process when no command is configured.
func (r *Runner) startStandins(ctx context.Context, session *orchestrator.Session) error {
	type standinService struct {
		name   string
		cfg    *config.ServiceConfig
		inProc func(ctx context.Context, addr string) error
	}

	services := []standinService{
		{"model_server", r.cfg.ModelServer, func(ctx context.Context, addr string) error {
			return standin.NewModelServer(0).Serve(ctx, addr)
		}},
		{"asr_ocr_server", r.cfg.ASROCRServer, func(ctx context.Context, addr string) error {
			return standin.NewASROCRServer(0).Serve(ctx, addr)
		}},
	}

	for _, svc := range services {
		if svc.cfg.Command != "" {
			if _, err := session.Start(svc.name, svc.cfg.Command, svc.cfg.Args, svc.cfg.Dir, nil); err != nil {
				return fmt.Errorf("starting %s: %w", svc.name, err)
			}
			continue
		}

		name, serveFn, addr := svc.name, svc.inProc, svc.cfg.Listen
		r.log.Info("serving stand-in in-process", "service", name, "addr", addr)
		go func() {
			if err := serveFn(ctx, addr); err != nil {
				r.log.Error("stand-in server stopped", "service", name, "error", err)
			}
		}()
	}
	return nil
}

// startBackend launches the backend under test with the injected flat
// environment. An unset command means the backend is managed outside the
// harness and only probed.
func (r *Runner) startBackend(session *orchestrator.Session) error {
	if r.cfg.Backend == nil || r.cfg.Backend.Command == "" {
		r.log.Info("no backend command configured, probing externally managed backend",
			"base_url", r.cfg.BaseURL)
		return nil
	}

	env, err := r.cfg.BackendEnv.Map()
	if err != nil {
		return err
	}

	_, err = session.Start("backend", r.cfg.Backend.Command, r.cfg.Backend.Args, r.cfg.Backend.Dir, env)
	if err != nil {
		return fmt.Errorf("starting backend: %w", err)
	}
	return nil
}

// awaitReadiness gates on all three services. A service that never
// becomes ready is reported and the others are still attempted; the
// overall decision is deferred to the report.
func (r *Runner) awaitReadiness(ctx context.Context, rec *report.Recorder) {
	opts := probe.ReadinessOptions{
		MaxAttempts:    r.cfg.Readiness.MaxAttempts,
		Interval:       r.cfg.Readiness.Interval(),
		AttemptTimeout: r.cfg.Readiness.AttemptTimeout(),
	}

	targets := []struct {
		name string
		url  string
	}{
		{"model_server", r.cfg.ModelServer.URL + "/health"},
		{"asr_ocr_server", r.cfg.ASROCRServer.URL + "/health"},
		{"backend", r.cfg.BaseURL + "/health"},
	}

	for _, target := range targets {
		ready, attempts := probe.WaitReady(ctx, r.log.Named("readiness"), target.name, target.url, opts)
		name := "readiness." + target.name
		if ready {
			rec.Record(report.StatusPass, name,
				fmt.Sprintf("ready after %d attempt(s)", attempts))
		} else {
			rec.Record(report.StatusWarn, name,
				fmt.Sprintf("not ready after %d attempt(s)", attempts))
		}
	}
}
