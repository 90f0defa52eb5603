package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/firstack/preflight/pkg/report"
)

const (
	// rateLimitBurst is how many rapid health requests the rate-limit
	// probe fires before deciding whether a 429 was ever returned.
	rateLimitBurst = 105

	// oversizedBodyBytes is the size of the text field in the oversized
	// input probe, roughly 1MB.
	oversizedBodyBytes = 1 << 20

	maliciousOrigin = "http://malicious-site.com"

	perfPassThreshold = 1 * time.Second
	perfWarnThreshold = 3 * time.Second
)

// securityHeaders are checked by substring, case-insensitive. This is a
// cheap signal, not RFC-compliant header parsing: a present header with
// the wrong value is a warning, an absent header is a failure.
var securityHeaders = []struct {
	header   string
	expected string
}{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "deny"},
	{"Strict-Transport-Security", "max-age"},
}

// Battery is the full set of black-box probes for one backend. Probes
// are independent, idempotent, and single-shot: no probe retries once
// the target answered.
type Battery struct {
	pc  Context
	log hclog.Logger
}

// NewBattery returns a battery bound to one immutable probe context.
func NewBattery(pc Context, log hclog.Logger) *Battery {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Battery{pc: pc, log: log}
}

type namedProbe struct {
	name string
	run  func(ctx context.Context, rec *report.Recorder)
}

func (b *Battery) probes() []namedProbe {
	return []namedProbe{
		{"health", b.probeHealth},
		{"auth.missing_key", b.probeAuthMissingKey},
		{"auth.invalid_key", b.probeAuthInvalidKey},
		{"rate_limit", b.probeRateLimit},
		{"cors", b.probeCORS},
		{"security_headers", b.probeSecurityHeaders},
		{"validation.empty_body", b.probeValidationEmpty},
		{"validation.oversized_body", b.probeValidationOversized},
		{"error_handling", b.probeErrorHandling},
		{"performance", b.probePerformance},
	}
}

// Run executes every probe sequentially in declaration order.
func (b *Battery) Run(ctx context.Context, rec *report.Recorder) {
	for _, p := range b.probes() {
		b.log.Debug("running probe", "probe", p.name)
		p.run(ctx, rec)
	}
}

// RunConcurrent executes all probes concurrently. Probes share no state
// beyond the recorder, which serializes its own writes; there is no
// ordering requirement among probes.
func (b *Battery) RunConcurrent(ctx context.Context, rec *report.Recorder) {
	g := new(errgroup.Group)
	for _, p := range b.probes() {
		p := p
		g.Go(func() error {
			b.log.Debug("running probe", "probe", p.name)
			p.run(ctx, rec)
			return nil
		})
	}
	g.Wait()
}

// warnUnreachable records the one outcome an unanswered probe is allowed
// to produce. A probe that never received a response cannot have failed
// an assertion, so this is never a FAIL.
func warnUnreachable(rec *report.Recorder, name string, err error) {
	rec.Record(report.StatusWarn, name, fmt.Sprintf("service not running: %v", err))
}

func (b *Battery) probeHealth(ctx context.Context, rec *report.Recorder) {
	resp, err := b.pc.get(ctx, "/health", false)
	if err != nil {
		warnUnreachable(rec, "health", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		rec.RecordCritical(report.StatusFail, "health",
			fmt.Sprintf("expected 200, got %d", resp.StatusCode))
		return
	}

	var body struct {
		Status      string `json:"status"`
		ModelServer *struct {
			Status string `json:"status"`
		} `json:"model_server"`
		ASROCRServer *struct {
			Status string `json:"status"`
		} `json:"asr_ocr_server"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		rec.RecordCritical(report.StatusFail, "health",
			fmt.Sprintf("invalid health response body: %v", err))
		return
	}

	if body.Status == "healthy" {
		rec.Record(report.StatusPass, "health", "backend reports healthy")
	} else {
		rec.RecordCritical(report.StatusFail, "health",
			fmt.Sprintf("backend status is %q, expected \"healthy\"", body.Status))
	}

	checkSubsystem := func(name string, sub *struct {
		Status string `json:"status"`
	}) {
		outcome := "health." + name
		switch {
		case sub == nil:
			rec.RecordCritical(report.StatusFail, outcome, "missing from health response")
		case sub.Status == "healthy":
			rec.Record(report.StatusPass, outcome, "reports healthy")
		default:
			rec.RecordCritical(report.StatusFail, outcome,
				fmt.Sprintf("status is %q, expected \"healthy\"", sub.Status))
		}
	}
	checkSubsystem("model_server", body.ModelServer)
	checkSubsystem("asr_ocr_server", body.ASROCRServer)
}

func (b *Battery) probeAuthMissingKey(ctx context.Context, rec *report.Recorder) {
	resp, err := b.pc.post(ctx, "/process", []byte(`{"text":"test"}`), nil)
	if err != nil {
		warnUnreachable(rec, "auth.missing_key", err)
		return
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusUnauthorized {
		rec.Record(report.StatusPass, "auth.missing_key", "request without API key rejected with 401")
	} else {
		rec.RecordCritical(report.StatusFail, "auth.missing_key",
			fmt.Sprintf("request without API key got %d, expected 401", resp.StatusCode))
	}
}

func (b *Battery) probeAuthInvalidKey(ctx context.Context, rec *report.Recorder) {
	headers := map[string]string{APIKeyHeader: "definitely-not-a-valid-key"}
	resp, err := b.pc.post(ctx, "/process", []byte(`{"text":"test"}`), headers)
	if err != nil {
		warnUnreachable(rec, "auth.invalid_key", err)
		return
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusUnauthorized {
		rec.Record(report.StatusPass, "auth.invalid_key", "request with bogus API key rejected with 401")
	} else {
		rec.RecordCritical(report.StatusFail, "auth.invalid_key",
			fmt.Sprintf("request with bogus API key got %d, expected 401", resp.StatusCode))
	}
}

// probeRateLimit fires the full fixed burst of health requests and looks
// for at least one 429. The burst always runs to completion so the load
// the backend sees is the same on every run. Absence of rate limiting is
// a soft signal only: it may be enforced upstream of the backend.
func (b *Battery) probeRateLimit(ctx context.Context, rec *report.Recorder) {
	var (
		answered     bool
		lastErr      error
		firstLimited int
	)
	for i := 0; i < rateLimitBurst; i++ {
		resp, err := b.pc.get(ctx, "/health", true)
		if err != nil {
			lastErr = err
			continue
		}
		answered = true
		if resp.StatusCode == http.StatusTooManyRequests && firstLimited == 0 {
			firstLimited = i + 1
		}
		drain(resp)
	}

	switch {
	case firstLimited > 0:
		rec.Record(report.StatusPass, "rate_limit",
			fmt.Sprintf("429 observed after %d rapid requests", firstLimited))
	case answered:
		rec.Record(report.StatusWarn, "rate_limit",
			fmt.Sprintf("no 429 in %d rapid requests, rate limiting may be absent", rateLimitBurst))
	default:
		warnUnreachable(rec, "rate_limit", lastErr)
	}
}

func (b *Battery) probeCORS(ctx context.Context, rec *report.Recorder) {
	headers := map[string]string{
		"Origin":                        maliciousOrigin,
		"Access-Control-Request-Method": http.MethodPost,
	}
	resp, err := b.pc.do(ctx, http.MethodOptions, "/process", nil, headers)
	if err != nil {
		warnUnreachable(rec, "cors", err)
		return
	}
	defer drain(resp)

	allowOrigin := resp.Header.Get("Access-Control-Allow-Origin")
	switch {
	case allowOrigin == "":
		rec.Record(report.StatusWarn, "cors", "no Access-Control-Allow-Origin header on preflight response")
	case allowOrigin == "*":
		rec.RecordCritical(report.StatusFail, "cors", "wildcard Access-Control-Allow-Origin")
	case allowOrigin == maliciousOrigin:
		rec.RecordCritical(report.StatusFail, "cors",
			fmt.Sprintf("Access-Control-Allow-Origin echoes untrusted origin %s", maliciousOrigin))
	default:
		rec.Record(report.StatusPass, "cors",
			fmt.Sprintf("allowed origin restricted to %s", allowOrigin))
	}
}

func (b *Battery) probeSecurityHeaders(ctx context.Context, rec *report.Recorder) {
	resp, err := b.pc.get(ctx, "/health", false)
	if err != nil {
		warnUnreachable(rec, "security_headers", err)
		return
	}
	defer drain(resp)

	for _, sh := range securityHeaders {
		outcome := "security." + strings.ToLower(sh.header)
		value := resp.Header.Get(sh.header)
		switch {
		case value == "":
			rec.Record(report.StatusFail, outcome, "header absent")
		case strings.Contains(strings.ToLower(value), sh.expected):
			rec.Record(report.StatusPass, outcome, fmt.Sprintf("set to %q", value))
		default:
			rec.Record(report.StatusWarn, outcome,
				fmt.Sprintf("present but unexpected value %q", value))
		}
	}
}

func (b *Battery) probeValidationEmpty(ctx context.Context, rec *report.Recorder) {
	headers := map[string]string{APIKeyHeader: b.pc.APIKey}
	resp, err := b.pc.post(ctx, "/process", []byte(`{}`), headers)
	if err != nil {
		warnUnreachable(rec, "validation.empty_body", err)
		return
	}
	defer drain(resp)

	if resp.StatusCode == http.StatusBadRequest {
		rec.Record(report.StatusPass, "validation.empty_body", "empty body rejected with 400")
	} else {
		rec.Record(report.StatusFail, "validation.empty_body",
			fmt.Sprintf("empty body got %d, expected 400", resp.StatusCode))
	}
}

// probeValidationOversized is soft: payload size limits are commonly
// enforced by a reverse proxy in front of the backend, so anything other
// than a 400/413 is only a warning.
func (b *Battery) probeValidationOversized(ctx context.Context, rec *report.Recorder) {
	body := fmt.Sprintf(`{"text":%q}`, strings.Repeat("A", oversizedBodyBytes))
	headers := map[string]string{APIKeyHeader: b.pc.APIKey}
	resp, err := b.pc.post(ctx, "/process", []byte(body), headers)
	if err != nil {
		warnUnreachable(rec, "validation.oversized_body", err)
		return
	}
	defer drain(resp)

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		rec.Record(report.StatusPass, "validation.oversized_body",
			fmt.Sprintf("oversized body rejected with %d", resp.StatusCode))
	default:
		rec.Record(report.StatusWarn, "validation.oversized_body",
			fmt.Sprintf("oversized body got %d, expected 400 or 413", resp.StatusCode))
	}
}

func (b *Battery) probeErrorHandling(ctx context.Context, rec *report.Recorder) {
	resp, err := b.pc.get(ctx, "/session/invalid-id/status", true)
	if err != nil {
		warnUnreachable(rec, "error_handling", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		rec.Record(report.StatusWarn, "error_handling",
			fmt.Sprintf("unknown session got %d, expected 404", resp.StatusCode))
		return
	}

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		rec.Record(report.StatusWarn, "error_handling", "404 body is not JSON")
		return
	}
	if _, ok := body["detail"]; !ok {
		rec.Record(report.StatusWarn, "error_handling", "404 body has no detail field")
		return
	}
	rec.Record(report.StatusPass, "error_handling", "unknown session answered 404 with detail")
}

func (b *Battery) probePerformance(ctx context.Context, rec *report.Recorder) {
	start := time.Now()
	resp, err := b.pc.get(ctx, "/health", false)
	elapsed := time.Since(start)
	if err != nil {
		warnUnreachable(rec, "performance", err)
		return
	}
	drain(resp)

	switch {
	case elapsed < perfPassThreshold:
		rec.Record(report.StatusPass, "performance",
			fmt.Sprintf("health answered in %s", elapsed.Round(time.Millisecond)))
	case elapsed <= perfWarnThreshold:
		rec.Record(report.StatusWarn, "performance",
			fmt.Sprintf("health answered slowly in %s", elapsed.Round(time.Millisecond)))
	default:
		rec.Record(report.StatusFail, "performance",
			fmt.Sprintf("health took %s, over the %s budget", elapsed.Round(time.Millisecond), perfWarnThreshold))
	}
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
