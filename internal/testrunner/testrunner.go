// Package testrunner implements the test runner: the
// same execution plan as a build, run with failures tolerated, emitting a
// JUnit-style XML report.
package testrunner

import (
	"context"
	"encoding/xml"
	"os"
	"path/filepath"

	"github.com/sworg/swbuild/internal/filetable"
	"github.com/sworg/swbuild/internal/plan"
	"github.com/sworg/swbuild/internal/swlog"
)

// Case names one test command and the suite (typically the owning
// target's name) it belongs to.
type Case struct {
	Suite   string
	Name    string
	Command *plan.Command
}

// Options configures a test run.
type Options struct {
	BuildDir string
	Jobs     int
	Log      *swlog.Logger
}

// Run builds a plan over every case's command, executes it with
// throw_on_errors=false and skip_errors=len(cmds) so there is no early
// bail-out: every test runs regardless of earlier failures. It also
// assigns each case its own per-target test directory, and returns the
// aggregated JUnit-style report.
func Run(ctx context.Context, cases []Case, opts Options) (*Report, error) {
	if opts.Log == nil {
		opts.Log = swlog.Nop()
	}

	cmds := make([]*plan.Command, len(cases))
	byName := make(map[string]Case, len(cases))
	for i, c := range cases {
		dir := filepath.Join(opts.BuildDir, "test", sanitize(c.Suite), sanitize(c.Name))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		cmd := *c.Command
		cmd.Dir = dir
		cmds[i] = &cmd
		byName[cmd.Name] = c
	}

	p, err := plan.New(opts.BuildDir, cmds)
	if err != nil {
		return nil, err
	}

	execOpts := plan.ExecuteOptions{
		BuildJobs:         opts.Jobs,
		SkipErrors:        len(cmds),
		ThrowOnErrors:     false,
		WriteOutputToFile: true,
		BuildDir:          opts.BuildDir,
	}
	if execOpts.BuildJobs <= 0 {
		execOpts.BuildJobs = 1
	}

	result, err := p.Execute(ctx, filetable.New(), execOpts, opts.Log)
	if err != nil {
		return nil, err
	}

	return buildReport(cases, byName, result), nil
}

func sanitize(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Report is the parsed, aggregated JUnit form of a test run, serializable
// via ToXML.
type Report struct {
	XMLName xml.Name `xml:"testsuites"`
	Tests   int      `xml:"tests,attr"`
	Skipped int      `xml:"skipped,attr"`
	Failed  int      `xml:"failures,attr"`
	Errors  int      `xml:"errors,attr"`
	Time    float64  `xml:"time,attr"`
	Suites  []Suite  `xml:"testsuite"`
}

// Suite aggregates every case sharing one Case.Suite name.
type Suite struct {
	Name    string  `xml:"name,attr"`
	Tests   int     `xml:"tests,attr"`
	Skipped int     `xml:"skipped,attr"`
	Failed  int     `xml:"failures,attr"`
	Errors  int     `xml:"errors,attr"`
	Time    float64 `xml:"time,attr"`
	Cases   []CaseResult `xml:"testcase"`
}

// CaseResult is one test command's recorded outcome.
type CaseResult struct {
	Name    string   `xml:"name,attr"`
	Time    float64  `xml:"time,attr"`
	Skipped *struct{} `xml:"skipped,omitempty"`
	Failure *Failure  `xml:"failure,omitempty"`
}

// Failure carries a failed case's error message.
type Failure struct {
	Message string `xml:"message,attr"`
}

func buildReport(cases []Case, byName map[string]Case, result *plan.Result) *Report {
	bySuite := map[string]*Suite{}
	var order []string

	rep := &Report{}
	for _, c := range cases {
		s, ok := bySuite[c.Suite]
		if !ok {
			s = &Suite{Name: c.Suite}
			bySuite[c.Suite] = s
			order = append(order, c.Suite)
		}

		status := result.Statuses[c.Command.Name]
		cr := CaseResult{Name: c.Name}
		if status != nil {
			cr.Time = status.Duration.Seconds()
			s.Time += cr.Time
			if status.Skipped {
				cr.Skipped = &struct{}{}
				s.Skipped++
				rep.Skipped++
			} else if status.Err != nil {
				cr.Failure = &Failure{Message: status.Err.Error()}
				s.Failed++
				rep.Failed++
			}
		} else {
			s.Errors++
			rep.Errors++
		}
		s.Tests++
		s.Cases = append(s.Cases, cr)
	}

	for _, name := range order {
		s := bySuite[name]
		rep.Tests += s.Tests
		rep.Time += s.Time
		rep.Suites = append(rep.Suites, *s)
	}
	return rep
}

// ToXML renders the report as an indented JUnit XML document.
func (r *Report) ToXML() ([]byte, error) {
	out, err := xml.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), out...), nil
}

// WriteXML renders and writes the report to path.
func (r *Report) WriteXML(path string) error {
	data, err := r.ToXML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
