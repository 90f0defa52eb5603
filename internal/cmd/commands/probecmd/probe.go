// Package probecmd implements the battery-only command for probing an
// already running backend.
package probecmd

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/firstack/preflight/internal/cmd/base"
	"github.com/firstack/preflight/pkg/probe"
	"github.com/firstack/preflight/pkg/report"
)

type Command struct {
	*base.Command

	flagBaseURL    string
	flagAPIKey     string
	flagTimeout    time.Duration
	flagConcurrent bool
}

func (c *Command) Synopsis() string {
	return "Run only the probe battery against a running backend"
}

func (c *Command) Help() string {
	return `Usage: preflight probe -base-url=http://localhost:8000

  Runs the black-box probe battery against an already running backend
  and prints the readiness report. No services are started or stopped.

  A backend that is not reachable produces warnings, not failures: a
  probe that never received a response has nothing to assert.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("probe", flag.ExitOnError))

	f.StringVar(
		&c.flagBaseURL, "base-url", "http://localhost:8000",
		"Backend base URL",
	)
	f.StringVar(
		&c.flagAPIKey, "api-key", "",
		"[PREFLIGHT_API_KEY] API key for authenticated probes",
	)
	f.DurationVar(
		&c.flagTimeout, "timeout", 10*time.Second,
		"Per-probe request timeout",
	)
	f.BoolVar(
		&c.flagConcurrent, "concurrent", false,
		"Run the probes concurrently",
	)

	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	apiKey := c.flagAPIKey
	if val, ok := os.LookupEnv("PREFLIGHT_API_KEY"); ok && apiKey == "" {
		apiKey = val
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := report.NewRecorder(c.Log, os.Stdout)
	battery := probe.NewBattery(probe.NewContext(c.flagBaseURL, apiKey, c.flagTimeout), c.Log)

	if c.flagConcurrent {
		battery.RunConcurrent(ctx, rec)
	} else {
		battery.Run(ctx, rec)
	}

	return rec.PrintSummary().ExitCode()
}
