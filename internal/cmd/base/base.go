// Package base carries the pieces shared by every CLI command.
package base

import (
	"flag"
	"fmt"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/cli"
)

// Command is embedded by all commands to provide the UI and logger.
type Command struct {
	// UI is the command line interface for user-facing output.
	UI cli.Ui

	// Log is the logger for diagnostics.
	Log hclog.Logger
}

// FlagSet wraps flag.FlagSet with help rendering.
type FlagSet struct {
	*flag.FlagSet
}

// NewFlagSet returns a FlagSet wrapping f.
func NewFlagSet(f *flag.FlagSet) *FlagSet {
	return &FlagSet{FlagSet: f}
}

// Help renders the flag usage block appended to command help text.
func (f *FlagSet) Help() string {
	var b strings.Builder
	b.WriteString("\n\nOptions:\n")

	f.VisitAll(func(fl *flag.Flag) {
		fmt.Fprintf(&b, "  -%s\n", fl.Name)
		usage := fl.Usage
		if fl.DefValue != "" && fl.DefValue != "false" {
			usage = fmt.Sprintf("%s (default: %s)", usage, fl.DefValue)
		}
		fmt.Fprintf(&b, "      %s\n\n", usage)
	})

	return strings.TrimRight(b.String(), "\n") + "\n"
}
