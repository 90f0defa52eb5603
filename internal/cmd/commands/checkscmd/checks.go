// Package checkscmd implements the static preflight checks command.
package checkscmd

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/firstack/preflight/internal/cmd/base"
	"github.com/firstack/preflight/internal/config"
	"github.com/firstack/preflight/pkg/checks"
	"github.com/firstack/preflight/pkg/report"
)

type Command struct {
	*base.Command

	flagConfig   string
	flagCompose  string
	flagFiles    string
	flagServices string
}

func (c *Command) Synopsis() string {
	return "Run the static preflight checks"
}

func (c *Command) Help() string {
	return `Usage: preflight checks -compose-file=docker-compose.yml

  Asserts that the expected files exist and that the compose file
  declares the dependency services the harness orchestrates. No
  services are started.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("checks", flag.ExitOnError))

	f.StringVar(
		&c.flagConfig, "config", "",
		"[PREFLIGHT_CONFIG] Path to the harness HCL config file",
	)
	f.StringVar(
		&c.flagCompose, "compose-file", "",
		"Compose file to inspect, overrides the config file",
	)
	f.StringVar(
		&c.flagFiles, "files", "",
		"Comma-separated list of paths that must exist",
	)
	f.StringVar(
		&c.flagServices, "services", "",
		"Comma-separated list of services the compose file must declare",
	)

	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	cfg := config.Default()
	if c.flagConfig != "" {
		loaded, err := config.NewConfig(c.flagConfig)
		if err != nil {
			c.UI.Error(fmt.Sprintf("error loading config: %v", err))
			return 1
		}
		cfg = loaded
	}

	if c.flagCompose != "" {
		cfg.ComposeFile = c.flagCompose
	}
	if c.flagFiles != "" {
		cfg.RequiredFiles = splitList(c.flagFiles)
	}
	if c.flagServices != "" {
		cfg.StackServices = splitList(c.flagServices)
	}

	rec := report.NewRecorder(c.Log, os.Stdout)
	checker := checks.New(nil, c.Log)

	if len(cfg.RequiredFiles) > 0 {
		checker.RequiredFiles(rec, cfg.RequiredFiles)
	}
	if cfg.ComposeFile != "" {
		checker.ComposeServices(rec, cfg.ComposeFile, cfg.StackServices)
	}
	if rec.Summarize().Total == 0 {
		c.UI.Warn("nothing to check: no required files or compose file configured")
		return 0
	}

	return rec.PrintSummary().ExitCode()
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
