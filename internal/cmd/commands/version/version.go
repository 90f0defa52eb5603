package version

import (
	"fmt"

	"github.com/firstack/preflight/internal/cmd/base"
	"github.com/firstack/preflight/internal/version"
)

type Command struct {
	*base.Command
}

func (c *Command) Synopsis() string {
	return "Print the version"
}

func (c *Command) Help() string {
	return "Usage: preflight version"
}

func (c *Command) Run(args []string) int {
	c.UI.Output(fmt.Sprintf("preflight %s", version.Version))
	return 0
}
