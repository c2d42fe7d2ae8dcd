// Package report formats suite results as per-test lines and as a JSON run
// report.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/MeKo-Tech/renderdiff/internal/runner"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
)

// Totals counts results by outcome.
type Totals struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
}

// Report is the record of one suite run.
type Report struct {
	RunID    string          `json:"runId"`
	Started  time.Time       `json:"started"`
	Elapsed  time.Duration   `json:"elapsed"`
	Backend  string          `json:"backend,omitempty"`
	Shuffled bool            `json:"shuffled,omitempty"`
	Seed     uint64          `json:"seed,omitempty"`
	Totals   Totals          `json:"totals"`
	Results  []runner.Result `json:"results"`
}

// Options describe the run a report covers.
type Options struct {
	Started  time.Time
	Elapsed  time.Duration
	Backend  string
	Shuffled bool
	Seed     uint64
}

// New builds a report with a fresh run id.
func New(results []runner.Result, opts Options) *Report {
	r := &Report{
		RunID:    uuid.NewString(),
		Started:  opts.Started,
		Elapsed:  opts.Elapsed,
		Backend:  opts.Backend,
		Shuffled: opts.Shuffled,
		Seed:     opts.Seed,
		Results:  results,
	}
	for _, res := range results {
		switch res.Outcome {
		case runner.Passed:
			r.Totals.Passed++
		case runner.Failed:
			r.Totals.Failed++
		case runner.Skipped:
			r.Totals.Skipped++
		default:
			r.Totals.Errored++
		}
	}
	return r
}

// Failed reports whether any test failed or errored.
func (r *Report) Failed() bool {
	return r.Totals.Failed+r.Totals.Errored > 0
}

// Line formats one result. Compared tests read
// "Test <name> [<score> <= <allowed>]: pass|fail".
func Line(res runner.Result) string {
	switch res.Outcome {
	case runner.Skipped:
		return fmt.Sprintf("Test %s: skip (%s)", res.Name, res.Reason)
	case runner.Passed:
		return fmt.Sprintf("Test %s [%f <= %f]: pass", res.Name, res.Score, res.Allowed)
	}
	line := fmt.Sprintf("Test %s [%f <= %f]: fail", res.Name, res.Score, res.Allowed)
	if res.Reason != "" {
		line += " (" + res.Reason + ")"
	}
	return line
}

// Printer writes result lines, coloured when w is a terminal.
type Printer struct {
	w    io.Writer
	pass lipgloss.Style
	fail lipgloss.Style
	skip lipgloss.Style
}

// NewPrinter creates a printer for w.
func NewPrinter(w io.Writer) *Printer {
	re := lipgloss.NewRenderer(w)
	return &Printer{
		w:    w,
		pass: re.NewStyle().Foreground(lipgloss.Color("42")),
		fail: re.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		skip: re.NewStyle().Foreground(lipgloss.Color("220")),
	}
}

// Print writes the line of one result.
func (p *Printer) Print(res runner.Result) {
	style := p.fail
	switch res.Outcome {
	case runner.Passed:
		style = p.pass
	case runner.Skipped:
		style = p.skip
	}
	fmt.Fprintln(p.w, style.Render(Line(res)))
}

// PrintAll writes every result line followed by the totals.
func (p *Printer) PrintAll(r *Report) {
	for _, res := range r.Results {
		p.Print(res)
	}
	fmt.Fprintf(p.w, "%d passed, %d failed, %d errored, %d skipped\n",
		r.Totals.Passed, r.Totals.Failed, r.Totals.Errored, r.Totals.Skipped)
}

// WriteJSON writes the report to path.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

// Load reads a report written by WriteJSON. Infinite scores are stored as
// null and read back as +Inf.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return &r, nil
}
