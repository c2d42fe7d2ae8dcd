// Package converge drives a scene until it reports itself fully loaded and
// returns the frame captured at that point.
package converge

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/MeKo-Tech/renderdiff/internal/scene"
	"github.com/jonboulle/clockwork"
)

// ErrNotConverged is returned when the scene did not finish loading within the policy budget.
var ErrNotConverged = errors.New("scene did not converge")

const (
	DefaultMaxIterations = 10000
	DefaultTimeout       = 60 * time.Second
)

// Policy bounds a convergence pass. Zero values disable the respective limit.
type Policy struct {
	MaxIterations int
	Timeout       time.Duration
}

// DefaultPolicy returns the default budget.
func DefaultPolicy() Policy {
	return Policy{MaxIterations: DefaultMaxIterations, Timeout: DefaultTimeout}
}

// Converger renders a scene until it is fully loaded.
type Converger struct {
	scene  scene.Scene
	policy Policy
	clock  clockwork.Clock
	logger *slog.Logger

	iterations int
}

// New creates a converger. A nil clock uses the real clock.
func New(s scene.Scene, policy Policy, clock clockwork.Clock, logger *slog.Logger) *Converger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Converger{scene: s, policy: policy, clock: clock, logger: logger}
}

func (c *Converger) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	return slog.Default()
}

// Iterations returns the number of render passes of the last Converge call.
func (c *Converger) Iterations() int {
	return c.iterations
}

// Converge pumps and renders the scene until it is fully loaded and returns the
// last captured frame. At least one frame is always captured.
func (c *Converger) Converge(ctx context.Context) (*image.RGBA, error) {
	start := c.clock.Now()
	c.iterations = 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.scene.RunOnce()
		frame, err := c.scene.Render()
		c.iterations++
		if err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}

		if c.scene.IsFullyLoaded() {
			c.log().Debug("Scene converged", "iterations", c.iterations, "elapsed", c.clock.Since(start))
			return frame, nil
		}

		if c.policy.MaxIterations > 0 && c.iterations >= c.policy.MaxIterations {
			return nil, fmt.Errorf("%w after %d iterations", ErrNotConverged, c.iterations)
		}
		if c.policy.Timeout > 0 && c.clock.Since(start) >= c.policy.Timeout {
			return nil, fmt.Errorf("%w after %s", ErrNotConverged, c.policy.Timeout)
		}
	}
}
