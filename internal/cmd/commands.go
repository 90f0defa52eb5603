package cmd

import (
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"

	"github.com/firstack/preflight/internal/cmd/base"
	"github.com/firstack/preflight/internal/cmd/commands/checkscmd"
	"github.com/firstack/preflight/internal/cmd/commands/probecmd"
	"github.com/firstack/preflight/internal/cmd/commands/standin"
	"github.com/firstack/preflight/internal/cmd/commands/verify"
	"github.com/firstack/preflight/internal/cmd/commands/version"
)

// Commands is the mapping of all available CLI commands.
var Commands map[string]cli.CommandFactory

func initCommands(log hclog.Logger, ui cli.Ui) {
	baseCommand := &base.Command{
		UI:  ui,
		Log: log,
	}

	Commands = map[string]cli.CommandFactory{
		"verify": func() (cli.Command, error) {
			return &verify.Command{Command: baseCommand}, nil
		},
		"probe": func() (cli.Command, error) {
			return &probecmd.Command{Command: baseCommand}, nil
		},
		"standin": func() (cli.Command, error) {
			return &standin.Command{Command: baseCommand}, nil
		},
		"checks": func() (cli.Command, error) {
			return &checkscmd.Command{Command: baseCommand}, nil
		},
		"version": func() (cli.Command, error) {
			return &version.Command{Command: baseCommand}, nil
		},
	}
}
