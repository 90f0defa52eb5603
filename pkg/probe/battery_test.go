package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firstack/preflight/pkg/report"
)

const testKey = "preflight-test-key"

func newBattery(url string) *Battery {
	return NewBattery(NewContext(url, testKey, 5*time.Second), nil)
}

func findOutcome(t *testing.T, outcomes []report.Outcome, name string) report.Outcome {
	t.Helper()
	for _, o := range outcomes {
		if o.Name == name {
			return o
		}
	}
	t.Fatalf("no outcome named %q in %v", name, outcomes)
	return report.Outcome{}
}

// compliantBackend imitates a backend that passes every probe.
func compliantBackend() http.Handler {
	mux := http.NewServeMux()

	secure := func(w http.ResponseWriter) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		secure(w)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"healthy","model_server":{"status":"healthy"},"asr_ocr_server":{"status":"healthy"}}`)
	})

	mux.HandleFunc("/process", func(w http.ResponseWriter, r *http.Request) {
		secure(w)
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Origin", "https://trusted.example")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if r.Header.Get(APIKeyHeader) != testKey {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Text == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if len(body.Text) > 256*1024 {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/session/", func(w http.ResponseWriter, r *http.Request) {
		secure(w)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"detail":"session not found"}`)
	})

	return mux
}

func TestBatteryUnreachableTargetOnlyWarns(t *testing.T) {
	b := newBattery(unreachableURL(t))
	rec := report.NewRecorder(nil, nil)

	b.Run(context.Background(), rec)

	outcomes := rec.Outcomes()
	require.NotEmpty(t, outcomes)
	for _, o := range outcomes {
		assert.Equal(t, report.StatusWarn, o.Status, "probe %s against a closed port must warn, not fail", o.Name)
		assert.Contains(t, o.Message, "service not running")
	}

	// A torn-down environment is untested, not broken.
	assert.Equal(t, report.VerdictReady, rec.Summarize().Verdict)
}

func TestBatteryAgainstCompliantBackend(t *testing.T) {
	srv := httptest.NewServer(compliantBackend())
	defer srv.Close()

	b := newBattery(srv.URL)
	rec := report.NewRecorder(nil, nil)
	b.Run(context.Background(), rec)

	rep := rec.Summarize()
	assert.Zero(t, rep.Failed)
	assert.Equal(t, report.VerdictReady, rep.Verdict)

	// Absence of rate limiting stays a soft signal.
	assert.Equal(t, report.StatusWarn, findOutcome(t, rec.Outcomes(), "rate_limit").Status)
}

func TestProbeHealthDegradedSubsystem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"healthy","model_server":{"status":"degraded"},"asr_ocr_server":{"status":"healthy"}}`)
	}))
	defer srv.Close()

	rec := report.NewRecorder(nil, nil)
	newBattery(srv.URL).probeHealth(context.Background(), rec)

	outcomes := rec.Outcomes()
	assert.Equal(t, report.StatusPass, findOutcome(t, outcomes, "health").Status)
	assert.Equal(t, report.StatusPass, findOutcome(t, outcomes, "health.asr_ocr_server").Status)

	model := findOutcome(t, outcomes, "health.model_server")
	assert.Equal(t, report.StatusFail, model.Status)
	assert.True(t, model.Critical)
	assert.Contains(t, model.Message, "degraded")
}

func TestProbeHealthMissingSubsystem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"healthy","model_server":{"status":"healthy"}}`)
	}))
	defer srv.Close()

	rec := report.NewRecorder(nil, nil)
	newBattery(srv.URL).probeHealth(context.Background(), rec)

	asr := findOutcome(t, rec.Outcomes(), "health.asr_ocr_server")
	assert.Equal(t, report.StatusFail, asr.Status)
	assert.Contains(t, asr.Message, "missing")
}

func TestProbeAuth(t *testing.T) {
	t.Run("401 passes", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer srv.Close()

		rec := report.NewRecorder(nil, nil)
		b := newBattery(srv.URL)
		b.probeAuthMissingKey(context.Background(), rec)
		b.probeAuthInvalidKey(context.Background(), rec)

		for _, o := range rec.Outcomes() {
			assert.Equal(t, report.StatusPass, o.Status)
		}
	})

	t.Run("200 is a critical failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		rec := report.NewRecorder(nil, nil)
		newBattery(srv.URL).probeAuthMissingKey(context.Background(), rec)

		o := findOutcome(t, rec.Outcomes(), "auth.missing_key")
		assert.Equal(t, report.StatusFail, o.Status)
		assert.True(t, o.Critical)
		assert.Equal(t, report.VerdictBlocked, rec.Summarize().Verdict)
	})
}

func TestProbeRateLimit(t *testing.T) {
	t.Run("429 observed passes", func(t *testing.T) {
		var calls int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			if calls > 100 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		rec := report.NewRecorder(nil, nil)
		newBattery(srv.URL).probeRateLimit(context.Background(), rec)

		o := findOutcome(t, rec.Outcomes(), "rate_limit")
		assert.Equal(t, report.StatusPass, o.Status)
		assert.Contains(t, o.Message, "after 101")
		// The full burst is always sent, even after the first 429.
		assert.Equal(t, 105, calls)
	})

	t.Run("no 429 warns", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		rec := report.NewRecorder(nil, nil)
		newBattery(srv.URL).probeRateLimit(context.Background(), rec)

		o := findOutcome(t, rec.Outcomes(), "rate_limit")
		assert.Equal(t, report.StatusWarn, o.Status)
		assert.Contains(t, o.Message, "105")
	})
}

func TestProbeCORS(t *testing.T) {
	corsServer := func(origin string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.WriteHeader(http.StatusNoContent)
		}))
	}

	tests := []struct {
		name     string
		origin   string
		status   report.Status
		critical bool
	}{
		{"restricted origin passes", "https://trusted.example", report.StatusPass, false},
		{"wildcard fails", "*", report.StatusFail, true},
		{"echoed malicious origin fails", maliciousOrigin, report.StatusFail, true},
		{"absent header warns", "", report.StatusWarn, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := corsServer(tt.origin)
			defer srv.Close()

			rec := report.NewRecorder(nil, nil)
			newBattery(srv.URL).probeCORS(context.Background(), rec)

			o := findOutcome(t, rec.Outcomes(), "cors")
			assert.Equal(t, tt.status, o.Status)
			assert.Equal(t, tt.critical, o.Critical)
		})
	}
}

func TestProbeSecurityHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// nosniff correct, frame-options wrong value, HSTS absent.
		w.Header().Set("X-Content-Type-Options", "NOSNIFF")
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := report.NewRecorder(nil, nil)
	newBattery(srv.URL).probeSecurityHeaders(context.Background(), rec)

	outcomes := rec.Outcomes()
	// Value matching is case-insensitive substring matching.
	assert.Equal(t, report.StatusPass, findOutcome(t, outcomes, "security.x-content-type-options").Status)
	assert.Equal(t, report.StatusWarn, findOutcome(t, outcomes, "security.x-frame-options").Status)
	assert.Equal(t, report.StatusFail, findOutcome(t, outcomes, "security.strict-transport-security").Status)
}

func TestProbeValidation(t *testing.T) {
	t.Run("empty body not rejected fails", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		rec := report.NewRecorder(nil, nil)
		newBattery(srv.URL).probeValidationEmpty(context.Background(), rec)

		assert.Equal(t, report.StatusFail, findOutcome(t, rec.Outcomes(), "validation.empty_body").Status)
	})

	t.Run("oversized body accepted only warns", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		rec := report.NewRecorder(nil, nil)
		newBattery(srv.URL).probeValidationOversized(context.Background(), rec)

		assert.Equal(t, report.StatusWarn, findOutcome(t, rec.Outcomes(), "validation.oversized_body").Status)
	})

	t.Run("413 passes oversized", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
		}))
		defer srv.Close()

		rec := report.NewRecorder(nil, nil)
		newBattery(srv.URL).probeValidationOversized(context.Background(), rec)

		assert.Equal(t, report.StatusPass, findOutcome(t, rec.Outcomes(), "validation.oversized_body").Status)
	})
}

func TestProbeErrorHandling(t *testing.T) {
	handler := func(status int, body string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			fmt.Fprint(w, body)
		})
	}

	tests := []struct {
		name   string
		status int
		body   string
		want   report.Status
	}{
		{"404 with detail passes", http.StatusNotFound, `{"detail":"not found"}`, report.StatusPass},
		{"404 without detail warns", http.StatusNotFound, `{"error":"not found"}`, report.StatusWarn},
		{"non-404 warns", http.StatusInternalServerError, `{}`, report.StatusWarn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(handler(tt.status, tt.body))
			defer srv.Close()

			rec := report.NewRecorder(nil, nil)
			newBattery(srv.URL).probeErrorHandling(context.Background(), rec)

			assert.Equal(t, tt.want, findOutcome(t, rec.Outcomes(), "error_handling").Status)
		})
	}
}

func TestProbePerformanceFastHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rec := report.NewRecorder(nil, nil)
	newBattery(srv.URL).probePerformance(context.Background(), rec)

	assert.Equal(t, report.StatusPass, findOutcome(t, rec.Outcomes(), "performance").Status)
}

func TestRunConcurrentRecordsEveryProbe(t *testing.T) {
	srv := httptest.NewServer(compliantBackend())
	defer srv.Close()

	b := newBattery(srv.URL)

	seqRec := report.NewRecorder(nil, nil)
	b.Run(context.Background(), seqRec)

	concRec := report.NewRecorder(nil, nil)
	b.RunConcurrent(context.Background(), concRec)

	assert.Equal(t, seqRec.Summarize().Total, concRec.Summarize().Total)
	assert.Equal(t, seqRec.Summarize().Verdict, concRec.Summarize().Verdict)
}
