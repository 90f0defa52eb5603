// Package checks runs the static preflight assertions: files the
// deployment expects must exist, and the compose file must declare the
// dependency services the harness is about to orchestrate.
package checks

import (
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/firstack/preflight/pkg/report"
)

// Checker evaluates static checks against a filesystem. The filesystem
// is abstracted so tests run against an in-memory one.
type Checker struct {
	fs  afero.Fs
	log hclog.Logger
}

// New returns a Checker over fs. A nil fs means the host filesystem.
func New(fs afero.Fs, log hclog.Logger) *Checker {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &Checker{fs: fs, log: log}
}

// RequiredFiles records one outcome per expected path.
func (c *Checker) RequiredFiles(rec *report.Recorder, paths []string) {
	for _, p := range paths {
		ok, err := afero.Exists(c.fs, p)
		name := "file." + p
		switch {
		case err != nil:
			rec.Record(report.StatusWarn, name, fmt.Sprintf("cannot stat: %v", err))
		case ok:
			rec.Record(report.StatusPass, name, "present")
		default:
			rec.Record(report.StatusFail, name, "missing")
		}
	}
}

// composeDoc is the slice of a compose file the checker cares about.
type composeDoc struct {
	Services map[string]any `yaml:"services"`
}

// ComposeServices asserts that the compose file exists, parses, and
// declares every expected dependency service. A missing compose file is
// critical: the orchestrator cannot bring up the stack without it.
func (c *Checker) ComposeServices(rec *report.Recorder, composePath string, expected []string) {
	data, err := afero.ReadFile(c.fs, composePath)
	if err != nil {
		rec.RecordCritical(report.StatusFail, "compose.file", fmt.Sprintf("cannot read %s: %v", composePath, err))
		return
	}

	var doc composeDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		rec.RecordCritical(report.StatusFail, "compose.file", fmt.Sprintf("invalid YAML in %s: %v", composePath, err))
		return
	}
	if len(doc.Services) == 0 {
		rec.RecordCritical(report.StatusFail, "compose.file", "no services declared")
		return
	}
	rec.Record(report.StatusPass, "compose.file", fmt.Sprintf("%d services declared", len(doc.Services)))

	var missing []string
	for _, svc := range expected {
		if _, ok := doc.Services[svc]; !ok {
			missing = append(missing, svc)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		rec.Record(report.StatusFail, "compose.services",
			fmt.Sprintf("missing declared services: %s", strings.Join(missing, ", ")))
		return
	}
	rec.Record(report.StatusPass, "compose.services",
		fmt.Sprintf("all expected services declared: %s", strings.Join(expected, ", ")))
}
