package worker

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Progress tracks and displays test suite progress.
type Progress struct {
	clock     clockwork.Clock
	startTime time.Time
	output    io.Writer
	tally     Tally
	mu        sync.RWMutex
	enabled   bool
}

// NewProgress creates a new progress tracker writing to stderr.
func NewProgress(total int, enabled bool) *Progress {
	return newProgress(total, enabled, os.Stderr, clockwork.NewRealClock())
}

func newProgress(total int, enabled bool, output io.Writer, clock clockwork.Clock) *Progress {
	return &Progress{
		clock:     clock,
		tally:     Tally{Total: total},
		startTime: clock.Now(),
		output:    output,
		enabled:   enabled,
	}
}

// Update records the latest tally.
func (p *Progress) Update(t Tally) {
	p.mu.Lock()
	p.tally = t
	p.mu.Unlock()

	if p.enabled {
		p.Print()
	}
}

// Callback returns a ProgressFunc suitable for use with Pool.Config.
func (p *Progress) Callback() ProgressFunc {
	return p.Update
}

// Print displays the current progress to output.
func (p *Progress) Print() {
	p.mu.RLock()
	tally := p.tally
	startTime := p.startTime
	p.mu.RUnlock()

	completed, total := tally.Completed(), tally.Total
	elapsed := p.clock.Since(startTime)

	var rate float64
	var eta time.Duration
	if completed > 0 && elapsed > 0 {
		rate = float64(completed) / elapsed.Seconds()
		remaining := total - completed
		eta = time.Duration(float64(remaining)/rate) * time.Second
	}

	barWidth := 30
	filledWidth := 0
	if total > 0 {
		filledWidth = min(barWidth, completed*barWidth/total)
	}
	bar := strings.Repeat("█", filledWidth) + strings.Repeat("░", barWidth-filledWidth)

	line := fmt.Sprintf("\r[%s] %d/%d tests", bar, completed, total)
	if s := tally.problems(); s != "" {
		line += " (" + s + ")"
	}
	line += fmt.Sprintf(" - %.1f tests/sec", rate)
	if eta > 0 && completed < total {
		line += fmt.Sprintf(" - ETA: %s", formatDuration(eta))
	}
	if completed == total {
		line += fmt.Sprintf(" - Done in %s", formatDuration(elapsed))
	}

	// Pad to clear previous line content
	line += "          "

	fmt.Fprint(p.output, line)
}

// Done prints the final progress and a newline.
func (p *Progress) Done() {
	if p.enabled {
		p.Print()
		fmt.Fprintln(p.output)
	}
}

// Summary returns a summary string of the completed work.
func (p *Progress) Summary() string {
	p.mu.RLock()
	tally := p.tally
	startTime := p.startTime
	p.mu.RUnlock()

	elapsed := p.clock.Since(startTime)

	var rate float64
	if elapsed.Seconds() > 0 {
		rate = float64(tally.Completed()) / elapsed.Seconds()
	}

	return fmt.Sprintf("Passed %d/%d tests (%d failed, %d errored, %d skipped) in %s (%.1f tests/sec)",
		tally.Passed, tally.Total, tally.Failed, tally.Errored, tally.Skipped, formatDuration(elapsed), rate)
}

// problems lists the non-zero non-passing counts, e.g. "1 failed, 2 skipped".
func (t Tally) problems() string {
	var parts []string
	for _, c := range []struct {
		n    int
		verb string
	}{{t.Failed, "failed"}, {t.Errored, "errored"}, {t.Skipped, "skipped"}} {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.verb))
		}
	}
	return strings.Join(parts, ", ")
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm%ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh%dm", hours, mins)
}
