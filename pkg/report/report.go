// Package report accumulates check outcomes for a single harness run and
// rolls them up into a deployment-readiness verdict.
package report

import (
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/hashicorp/go-hclog"
)

// Status classifies a single check outcome.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
	StatusWarn Status = "WARN"
)

// Verdict is the session-level classification derived from all outcomes.
type Verdict string

const (
	// VerdictReady means no check failed. Warnings never block readiness
	// on their own.
	VerdictReady Verdict = "READY"

	// VerdictReview means at least one check failed, but none of the
	// failures were critical.
	VerdictReview Verdict = "REVIEW"

	// VerdictBlocked means at least one critical check failed and the
	// deployment must not proceed.
	VerdictBlocked Verdict = "BLOCKED"
)

// Outcome is the immutable result of one check. A later check that covers
// the same ground appends a new Outcome; nothing is ever reclassified.
type Outcome struct {
	Status   Status
	Name     string
	Message  string
	Critical bool
}

// RunReport is the aggregate view over all outcomes of a run. It is
// recomputed from the outcome sequence at summary time, never stored.
type RunReport struct {
	Total            int
	Passed           int
	Failed           int
	Warnings         int
	CriticalFailures []Outcome
	Verdict          Verdict
}

// ExitCode maps the verdict to a process exit code: READY and REVIEW
// exit zero, BLOCKED exits non-zero.
func (r RunReport) ExitCode() int {
	if r.Verdict == VerdictBlocked {
		return 1
	}
	return 0
}

// Recorder collects outcomes in insertion order. Record is safe to call
// from concurrent probes; all other methods are read-only snapshots.
type Recorder struct {
	mu       sync.Mutex
	outcomes []Outcome

	log hclog.Logger
	out io.Writer
}

// NewRecorder returns a Recorder that logs each outcome through log and
// writes colorized result lines to out.
func NewRecorder(log hclog.Logger, out io.Writer) *Recorder {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if out == nil {
		out = io.Discard
	}
	return &Recorder{
		log: log,
		out: out,
	}
}

// Record appends a non-critical outcome.
func (r *Recorder) Record(status Status, name, message string) {
	r.record(Outcome{Status: status, Name: name, Message: message})
}

// RecordCritical appends an outcome whose failure alone blocks the
// deployment verdict.
func (r *Recorder) RecordCritical(status Status, name, message string) {
	r.record(Outcome{Status: status, Name: name, Message: message, Critical: true})
}

func (r *Recorder) record(o Outcome) {
	r.mu.Lock()
	r.outcomes = append(r.outcomes, o)
	r.mu.Unlock()

	switch o.Status {
	case StatusPass:
		r.log.Debug("check passed", "name", o.Name, "message", o.Message)
	case StatusWarn:
		r.log.Warn("check warning", "name", o.Name, "message", o.Message)
	case StatusFail:
		r.log.Error("check failed", "name", o.Name, "message", o.Message, "critical", o.Critical)
	}

	fmt.Fprintf(r.out, "%s %s: %s\n", statusBadge(o.Status), o.Name, o.Message)
}

// Outcomes returns a copy of all recorded outcomes in insertion order.
func (r *Recorder) Outcomes() []Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Outcome, len(r.outcomes))
	copy(out, r.outcomes)
	return out
}

// Summarize computes the run report from the outcome sequence.
//
// Verdict policy:
//  1. No failures at all: READY, regardless of warnings.
//  2. Failures present and at least one is critical: BLOCKED.
//  3. Failures present, none critical: REVIEW.
func (r *Recorder) Summarize() RunReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := RunReport{Total: len(r.outcomes)}
	for _, o := range r.outcomes {
		switch o.Status {
		case StatusPass:
			rep.Passed++
		case StatusFail:
			rep.Failed++
			if o.Critical {
				rep.CriticalFailures = append(rep.CriticalFailures, o)
			}
		case StatusWarn:
			rep.Warnings++
		}
	}

	switch {
	case rep.Failed == 0:
		rep.Verdict = VerdictReady
	case len(rep.CriticalFailures) > 0:
		rep.Verdict = VerdictBlocked
	default:
		rep.Verdict = VerdictReview
	}

	return rep
}

// PrintSummary writes the final human-readable report, ending in exactly
// one verdict banner.
func (r *Recorder) PrintSummary() RunReport {
	rep := r.Summarize()

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "=== Run Summary ===")
	fmt.Fprintf(r.out, "Total:    %d\n", rep.Total)
	fmt.Fprintf(r.out, "Passed:   %d\n", rep.Passed)
	fmt.Fprintf(r.out, "Failed:   %d\n", rep.Failed)
	fmt.Fprintf(r.out, "Warnings: %d\n", rep.Warnings)

	if len(rep.CriticalFailures) > 0 {
		fmt.Fprintln(r.out)
		fmt.Fprintln(r.out, "Critical failures:")
		for _, o := range rep.CriticalFailures {
			fmt.Fprintf(r.out, "  - %s: %s\n", o.Name, o.Message)
		}
	}

	fmt.Fprintln(r.out)
	switch rep.Verdict {
	case VerdictReady:
		fmt.Fprintf(r.out, "Verdict: %s\n", color.New(color.FgGreen, color.Bold).Sprint(rep.Verdict))
	case VerdictReview:
		fmt.Fprintf(r.out, "Verdict: %s\n", color.New(color.FgYellow, color.Bold).Sprint(rep.Verdict))
	case VerdictBlocked:
		fmt.Fprintf(r.out, "Verdict: %s\n", color.New(color.FgRed, color.Bold).Sprint(rep.Verdict))
	}

	return rep
}

func statusBadge(s Status) string {
	switch s {
	case StatusPass:
		return color.GreenString("✓ PASS")
	case StatusWarn:
		return color.YellowString("⚠ WARN")
	case StatusFail:
		return color.RedString("✗ FAIL")
	default:
		return string(s)
	}
}
