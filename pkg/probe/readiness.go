package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
)

// ReadinessOptions bounds a readiness polling loop.
type ReadinessOptions struct {
	// ExpectedStatus is the HTTP status that marks the service ready.
	ExpectedStatus int

	// MaxAttempts is the total number of GETs before giving up.
	MaxAttempts int

	// Interval is the pause between attempts. Zero polls back-to-back;
	// there is never a pause after the final attempt.
	Interval time.Duration

	// AttemptTimeout bounds each individual request.
	AttemptTimeout time.Duration

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

func (o *ReadinessOptions) applyDefaults() {
	if o.ExpectedStatus == 0 {
		o.ExpectedStatus = http.StatusOK
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 30
	}
	if o.Interval < 0 {
		o.Interval = 0
	}
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = 5 * time.Second
	}
	if o.Client == nil {
		o.Client = http.DefaultClient
	}
}

// WaitReady polls url with GETs until it answers with the expected status
// or the attempt budget runs out. Transport-level failures (connection
// refused, DNS, timeout) are swallowed and retried; they mean "not yet
// ready", not an error. Cancelling ctx aborts the loop early.
//
// The layer is transport-only: it makes no distinction between services
// backed by local processes and services backed by containers.
//
// Returns whether the service became ready and how many attempts were used.
func WaitReady(ctx context.Context, log hclog.Logger, name, url string, opts ReadinessOptions) (bool, int) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	opts.applyDefaults()

	attempts := 0
	operation := func() error {
		attempts++

		reqCtx, cancel := context.WithTimeout(ctx, opts.AttemptTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("building readiness request: %w", err))
		}

		resp, err := opts.Client.Do(req)
		if err != nil {
			log.Debug("service not yet ready", "service", name, "attempt", attempts, "error", err)
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)

		if resp.StatusCode != opts.ExpectedStatus {
			log.Debug("unexpected readiness status",
				"service", name, "attempt", attempts,
				"status", resp.StatusCode, "expected", opts.ExpectedStatus)
			return fmt.Errorf("status %d, expected %d", resp.StatusCode, opts.ExpectedStatus)
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(opts.Interval),
			uint64(opts.MaxAttempts-1),
		),
		ctx,
	)

	if err := backoff.Retry(operation, policy); err != nil {
		log.Error("service failed to become ready",
			"service", name, "url", url, "attempts", attempts, "error", err)
		return false, attempts
	}

	log.Info("service ready", "service", name, "url", url, "attempts", attempts)
	return true, attempts
}
