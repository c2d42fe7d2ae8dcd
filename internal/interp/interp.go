// Package interp executes the scripted operation queue of a test against a
// scene. The interpreter is a small state machine: each Step applies at most
// one operation, and a Sleep parks the machine until a timer fires on the run
// loop.
package interp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"time"

	// Registered for image.Decode.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/MeKo-Tech/renderdiff/internal/compare"
	"github.com/MeKo-Tech/renderdiff/internal/descriptor"
	"github.com/MeKo-Tech/renderdiff/internal/localize"
	"github.com/MeKo-Tech/renderdiff/internal/runloop"
	"github.com/MeKo-Tech/renderdiff/internal/scene"
	"github.com/MeKo-Tech/renderdiff/internal/style"
	"github.com/jonboulle/clockwork"
)

// State is the interpreter's position in the queue lifecycle.
type State int

const (
	// Idle: nothing has been executed yet.
	Idle State = iota
	// Draining: operations are being applied.
	Draining
	// Armed: a Sleep timer is pending and the queue is paused.
	Armed
	// Done: the queue is empty.
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Draining:
		return "draining"
	case Armed:
		return "armed"
	case Done:
		return "done"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Converger renders the scene until it is fully loaded.
type Converger interface {
	Converge(ctx context.Context) (*image.RGBA, error)
}

// Config wires the interpreter's collaborators.
type Config struct {
	Scene     scene.Scene
	Loop      *runloop.Loop
	Converger Converger
	Paths     localize.Paths
	Logger    *slog.Logger
}

// Interpreter drains a descriptor's operation queue.
type Interpreter struct {
	desc *descriptor.Descriptor
	cfg  Config

	state State
	timer clockwork.Timer
	fired bool
}

// New creates an interpreter for d. The interpreter consumes d.Operations.
func New(d *descriptor.Descriptor, cfg Config) *Interpreter {
	if cfg.Loop == nil {
		cfg.Loop = runloop.New(nil)
	}
	return &Interpreter{desc: d, cfg: cfg}
}

func (i *Interpreter) log() *slog.Logger {
	if i.cfg.Logger != nil {
		return i.cfg.Logger
	}
	return slog.Default()
}

// State returns the current state.
func (i *Interpreter) State() State {
	return i.state
}

// Step performs one transition. While Armed and before the timer fires it is a no-op.
func (i *Interpreter) Step(ctx context.Context) State {
	queue := i.desc.Operations

	switch i.state {
	case Done:
		return Done
	case Armed:
		if !i.fired {
			return Armed
		}
		i.fired = false
		i.timer = nil
		i.log().Debug("Sleep finished", "remaining", queue.Len()-1)
		queue.Pop()
		i.state = Draining
		return i.state
	}

	if queue.Len() == 0 {
		i.state = Done
		i.desc.HasOperations = false
		return Done
	}
	i.state = Draining

	op := queue.Front()
	if s, ok := op.(descriptor.Sleep); ok {
		i.arm(ctx, s.Duration)
		return i.state
	}

	i.apply(ctx, op)
	queue.Pop()
	i.log().Debug("Applied operation", "op", op.Tag(), "remaining", queue.Len())
	return i.state
}

func (i *Interpreter) arm(ctx context.Context, dur time.Duration) {
	i.state = Armed
	i.fired = false
	i.log().Debug("Sleep armed", "duration", dur)
	i.timer = i.cfg.Loop.AfterFunc(dur, func() {
		if i.state != Armed {
			return
		}
		i.fired = true
		i.Step(ctx)
	})
}

// Run steps until the queue is drained, waiting on the run loop while a Sleep is armed.
func (i *Interpreter) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			i.Stop()
			return err
		}
		switch i.Step(ctx) {
		case Done:
			return nil
		case Armed:
			for i.state == Armed {
				if err := i.cfg.Loop.Wait(ctx); err != nil {
					i.Stop()
					return err
				}
			}
		}
	}
}

// Stop disarms a pending Sleep timer.
func (i *Interpreter) Stop() {
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
}

func (i *Interpreter) apply(ctx context.Context, op descriptor.Op) {
	s := i.cfg.Scene
	logger := i.log()

	switch o := op.(type) {
	case descriptor.Wait:
		if i.cfg.Converger == nil {
			return
		}
		if _, err := i.cfg.Converger.Converge(ctx); err != nil {
			logger.Warn("Wait did not converge", "error", err)
		}

	case descriptor.AddImage:
		img, err := loadImage(o.Path)
		if err != nil {
			logger.Error("Failed to load image", "path", o.Path, "error", err)
			return
		}
		s.AddImage(scene.Image{Name: o.Name, Pixels: img, PixelRatio: o.PixelRatio, SDF: o.SDF})

	case descriptor.SetStyle:
		doc := o.Inline
		if doc == nil {
			path := i.cfg.Paths.URL(o.URL)
			var err error
			if doc, err = localize.ReadJSON(path); err != nil {
				logger.Error("Failed to read style", "url", o.URL, "error", err)
				return
			}
		}
		i.cfg.Paths.StyleURLs(doc)
		data, err := json.Marshal(doc)
		if err != nil {
			logger.Error("Failed to serialize style", "error", err)
			return
		}
		if err := s.LoadStyle(data); err != nil {
			logger.Error("Failed to load style", "error", err)
		}

	case descriptor.SetCenter:
		s.JumpTo(scene.CenterAt(o.Lng, o.Lat))
	case descriptor.SetZoom:
		s.JumpTo(scene.ZoomTo(o.Zoom))
	case descriptor.SetBearing:
		s.JumpTo(scene.RotateTo(o.Bearing))

	case descriptor.SetFilter:
		filter, err := style.ConvertFilter(o.Filter)
		if err != nil {
			logger.Error("Unable to convert filter", "layer", o.Layer, "error", err)
			return
		}
		i.report(o, o.Layer, s.SetFilter(o.Layer, filter))

	case descriptor.AddLayer:
		layer, err := style.ConvertLayer(o.Spec)
		if err != nil {
			logger.Error("Unable to convert layer", "error", err)
			return
		}
		i.report(o, layer.ID, s.AddLayer(layer, o.Before))

	case descriptor.RemoveLayer:
		i.report(o, o.ID, s.RemoveLayer(o.ID))

	case descriptor.AddSource:
		i.cfg.Paths.SourceURLs(o.Spec)
		src, err := style.ConvertSource(o.ID, o.Spec)
		if err != nil {
			logger.Error("Unable to convert source", "source", o.ID, "error", err)
			return
		}
		i.report(o, o.ID, s.AddSource(src))

	case descriptor.RemoveSource:
		i.report(o, o.ID, s.RemoveSource(o.ID))

	case descriptor.SetPaintProperty:
		i.report(o, o.Layer, s.SetPaintProperty(o.Layer, o.Name, o.Value))
	case descriptor.SetLayoutProperty:
		i.report(o, o.Layer, s.SetLayoutProperty(o.Layer, o.Name, o.Value))

	case descriptor.Unknown:
		logger.Error("Unsupported operation", "op", o.Name)
	case descriptor.Invalid:
		logger.Error("Invalid operation", "op", o.Name, "error", o.Err)
	}
}

func (i *Interpreter) report(op descriptor.Op, target string, err error) {
	if err == nil {
		return
	}
	var ce *style.ConversionError
	switch {
	case errors.Is(err, scene.ErrLayerNotFound):
		i.log().Warn("Layer not found", "op", op.Tag(), "layer", target)
	case errors.Is(err, scene.ErrSourceNotFound):
		i.log().Warn("Source not found", "op", op.Tag(), "source", target)
	case errors.As(err, &ce):
		i.log().Error("Unable to convert value", "op", op.Tag(), "target", target, "error", err)
	default:
		i.log().Warn("Operation failed", "op", op.Tag(), "target", target, "error", err)
	}
}

func loadImage(path string) (*image.RGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return compare.Normalize(img), nil
}
