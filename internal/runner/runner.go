// Package runner executes one render test: it builds a scene for the
// descriptor, loads its style, drains the operation queue, renders until the
// scene converges and compares the frame with the expected image.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/MeKo-Tech/renderdiff/internal/compare"
	"github.com/MeKo-Tech/renderdiff/internal/converge"
	"github.com/MeKo-Tech/renderdiff/internal/descriptor"
	"github.com/MeKo-Tech/renderdiff/internal/interp"
	"github.com/MeKo-Tech/renderdiff/internal/localize"
	"github.com/MeKo-Tech/renderdiff/internal/runloop"
	"github.com/MeKo-Tech/renderdiff/internal/scene"
	"github.com/MeKo-Tech/renderdiff/internal/style"
	"github.com/jonboulle/clockwork"
)

// Outcome classifies a test result.
type Outcome string

const (
	Passed  Outcome = "pass"
	Failed  Outcome = "fail"
	Skipped Outcome = "skip"
	// Errored means the test could not produce a frame to compare.
	Errored Outcome = "error"
)

// Result is the outcome of one test.
type Result struct {
	Name    string         `json:"name"`
	Dir     string         `json:"dir"`
	Outcome Outcome        `json:"outcome"`
	Score   float64        `json:"score"`
	Allowed float64        `json:"allowed"`
	Status  compare.Status `json:"status,omitempty"`
	// Reason explains skips and errors.
	Reason     string        `json:"reason,omitempty"`
	DiffPixels int           `json:"diffPixels,omitempty"`
	Iterations int           `json:"iterations,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}

// MarshalJSON encodes an infinite score as null.
func (r Result) MarshalJSON() ([]byte, error) {
	type plain Result
	out := struct {
		plain
		Score *float64 `json:"score"`
	}{plain: plain(r)}
	if !math.IsInf(r.Score, 0) && !math.IsNaN(r.Score) {
		out.Score = &r.Score
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a null score as +Inf.
func (r *Result) UnmarshalJSON(data []byte) error {
	type plain Result
	in := struct {
		*plain
		Score *float64 `json:"score"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	r.Score = math.Inf(1)
	if in.Score != nil {
		r.Score = *in.Score
	}
	return nil
}

// Skip returns the result of a test that never ran.
func Skip(name, dir, reason string) Result {
	return Result{Name: name, Dir: dir, Outcome: Skipped, Score: math.Inf(1), Reason: reason}
}

// Config wires a Runner.
type Config struct {
	// Root is the suite root test names are relative to.
	Root       string
	Paths      localize.Paths
	Factory    scene.Factory
	Comparator *compare.Comparator
	Policy     converge.Policy
	// Clock drives Sleep timers and the convergence timeout. Nil uses the real clock.
	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Runner runs tests. It is safe for concurrent use; every Run builds its own scene.
type Runner struct {
	cfg Config
}

// New creates a runner.
func New(cfg Config) *Runner {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Comparator == nil {
		cfg.Comparator = compare.New(false, false, cfg.Logger)
	}
	return &Runner{cfg: cfg}
}

func (r *Runner) log() *slog.Logger {
	if r.cfg.Logger != nil {
		return r.cfg.Logger
	}
	return slog.Default()
}

// Run executes the test described by d. Failures inside the test are
// reported in the result, never returned.
func (r *Runner) Run(ctx context.Context, d *descriptor.Descriptor) Result {
	start := r.cfg.Clock.Now()
	res := Result{
		Name:    d.Name(r.cfg.Root),
		Dir:     d.Dir(),
		Allowed: d.Allowed,
		Score:   math.Inf(1),
	}
	logger := r.log().With("test", res.Name)
	logger.Debug("Running test")

	iterations, err := r.execute(ctx, d, logger, &res)
	res.Iterations = iterations
	res.Elapsed = r.cfg.Clock.Since(start)
	if err != nil {
		res.Outcome = Errored
		res.Reason = err.Error()
		logger.Warn("Test did not produce a frame", "error", err)
	}
	return res
}

func (r *Runner) execute(ctx context.Context, d *descriptor.Descriptor, logger *slog.Logger, res *Result) (int, error) {
	if r.cfg.Factory == nil {
		return 0, errors.New("no scene factory configured")
	}
	s, err := r.cfg.Factory(d.SceneOptions())
	if err != nil {
		return 0, fmt.Errorf("create scene: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			logger.Warn("Failed to close scene", "error", err)
		}
	}()

	data, err := json.Marshal(d.Document)
	if err != nil {
		return 0, fmt.Errorf("encode style: %w", err)
	}
	if err := s.LoadStyle(data); err != nil {
		return 0, fmt.Errorf("load style: %w", err)
	}
	// Static and tile frames never wait for transitions.
	s.SetTransition(style.Transition{})

	loop := runloop.New(r.cfg.Clock)
	conv := converge.New(s, r.cfg.Policy, r.cfg.Clock, logger)
	in := interp.New(d, interp.Config{
		Scene:     s,
		Loop:      loop,
		Converger: conv,
		Paths:     r.cfg.Paths,
		Logger:    logger,
	})
	if err := in.Run(ctx); err != nil {
		return conv.Iterations(), fmt.Errorf("operations: %w", err)
	}

	frame, err := conv.Converge(ctx)
	if err != nil {
		return conv.Iterations(), err
	}

	cmp := r.cfg.Comparator.Compare(frame, d.Dir())
	res.Score = cmp.Score
	res.Status = cmp.Status
	res.DiffPixels = cmp.DiffPixels
	if cmp.Err != nil {
		res.Reason = cmp.Err.Error()
	}
	if cmp.Pass(d.Allowed) {
		res.Outcome = Passed
	} else {
		res.Outcome = Failed
	}
	return conv.Iterations(), nil
}
