// Package standin implements the command that runs both stand-in
// inference servers in the foreground.
package standin

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/firstack/preflight/internal/cmd/base"
	"github.com/firstack/preflight/pkg/standin"
)

type Command struct {
	*base.Command

	flagModelAddr string
	flagASRAddr   string
	flagLatency   time.Duration
}

func (c *Command) Synopsis() string {
	return "Run the stand-in inference servers"
}

func (c *Command) Help() string {
	return `Usage: preflight standin

  Serves the model and ASR/OCR stand-in servers until interrupted.
  Both answer /health plus one domain endpoint with deterministic
  synthetic payloads after an artificial inference latency.` + c.Flags().Help()
}

func (c *Command) Flags() *base.FlagSet {
	f := base.NewFlagSet(flag.NewFlagSet("standin", flag.ExitOnError))

	f.StringVar(
		&c.flagModelAddr, "model-addr", "127.0.0.1:8100",
		"Bind address for the model stand-in",
	)
	f.StringVar(
		&c.flagASRAddr, "asr-addr", "127.0.0.1:8200",
		"Bind address for the ASR/OCR stand-in",
	)
	f.DurationVar(
		&c.flagLatency, "latency", 150*time.Millisecond,
		"Artificial inference latency",
	)

	return f
}

func (c *Command) Run(args []string) int {
	f := c.Flags()
	if err := f.Parse(args); err != nil {
		c.UI.Error(fmt.Sprintf("error parsing flags: %v", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c.UI.Info(fmt.Sprintf("model stand-in listening on %s", c.flagModelAddr))
	c.UI.Info(fmt.Sprintf("asr/ocr stand-in listening on %s", c.flagASRAddr))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return standin.NewModelServer(c.flagLatency).Serve(ctx, c.flagModelAddr)
	})
	g.Go(func() error {
		return standin.NewASROCRServer(c.flagLatency).Serve(ctx, c.flagASRAddr)
	})

	if err := g.Wait(); err != nil {
		c.UI.Error(fmt.Sprintf("stand-in server failed: %v", err))
		return 1
	}
	return 0
}
