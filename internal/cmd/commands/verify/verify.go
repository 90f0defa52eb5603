package verify

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"

	"github.com/firstack/preflight/internal/cmd/base"
	"github.com/firstack/preflight/internal/config"
	"github.com/firstack/preflight/pkg/harness"
)

type Command struct {
	*base.Command

	flagConfig   string
	flagBaseURL  string
	flagAPIKey   string
	flagLogLevel string
}

func (c *Command) Synopsis() string {
	return "Run the full deployment-readiness session"
}

func (c *Command) Help() string {
	return `Usage: preflight verify -config=preflight.hcl

  Brings up the container stack and the stand-in inference services,
  starts the backend under test with its injected environment, waits
  for everything to become ready, runs the probe battery, and prints
  the readiness report.

  Exit code is 0 for a READY or REVIEW verdict and non-zero when the
  verdict is BLOCKED or a startup precondition fails. An interrupt
  during the session still runs the full cleanup path.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("verify", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "",
		"[PREFLIGHT_CONFIG] Path to the harness HCL config file",
	)
	f.StringVar(
		&c.flagBaseURL, "base-url", "",
		"Backend base URL, overrides the config file",
	)
	f.StringVar(
		&c.flagAPIKey, "api-key", "",
		"[PREFLIGHT_API_KEY] API key for authenticated probes",
	)
	f.StringVar(
		&c.flagLogLevel, "log-level", "",
		"[PREFLIGHT_LOG_LEVEL] Log level (trace, debug, info, warn, error)",
	)

	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	configPath := c.flagConfig
	if val, ok := os.LookupEnv("PREFLIGHT_CONFIG"); ok && configPath == "" {
		configPath = val
	}

	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.NewConfig(configPath)
		if err != nil {
			c.UI.Error(fmt.Sprintf("error loading config: %v", err))
			return 1
		}
	} else {
		cfg = config.Default()
	}

	if c.flagBaseURL != "" {
		cfg.BaseURL = c.flagBaseURL
	}
	if c.flagAPIKey != "" {
		cfg.APIKey = c.flagAPIKey
	}
	if val, ok := os.LookupEnv("PREFLIGHT_API_KEY"); ok && cfg.APIKey == "" {
		cfg.APIKey = val
	}
	if c.flagLogLevel != "" {
		cfg.LogLevel = c.flagLogLevel
	}

	log := c.Log
	if cfg.LogLevel != "" {
		log = hclog.New(&hclog.LoggerOptions{
			Name:  "preflight",
			Level: hclog.LevelFromString(cfg.LogLevel),
		})
	}

	// An external interrupt cancels the run context; the runner's
	// deferred cleanup still executes before we exit.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rep, err := harness.New(cfg, log, os.Stdout).Run(ctx)
	if err != nil {
		c.UI.Error(fmt.Sprintf("session aborted: %v", err))
		return 1
	}

	return rep.ExitCode()
}
