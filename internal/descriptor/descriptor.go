// Package descriptor parses render test descriptors: a style document whose
// metadata.test object configures the scene, the tolerance and the scripted
// operation queue.
package descriptor

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"

	"github.com/MeKo-Tech/renderdiff/internal/localize"
	"github.com/MeKo-Tech/renderdiff/internal/scene"
)

var (
	// ErrSkip marks descriptors that produce no comparison.
	ErrSkip = errors.New("test skipped")
	// ErrUnsupported is returned for descriptors using features the harness does not support.
	ErrUnsupported = fmt.Errorf("unsupported test: %w", ErrSkip)
	// ErrMalformed is returned for descriptors with wrongly typed or out of range fields.
	ErrMalformed = fmt.Errorf("malformed test: %w", ErrSkip)
)

const (
	DefaultWidth      = 512
	DefaultHeight     = 512
	DefaultPixelRatio = 1.0
	DefaultAllowed    = 0.00015
)

// Descriptor is one parsed render test.
type Descriptor struct {
	// Path is the style.json the descriptor was read from.
	Path     string
	Document map[string]any

	Size                  scene.Size
	PixelRatio            float64
	Allowed               float64
	Description           string
	Mode                  scene.Mode
	Debug                 scene.DebugFlags
	CrossSourceCollisions bool
	Axonometric           bool
	XSkew                 float64
	YSkew                 float64

	// HasOperations is true when the test declares an operations array and
	// it has not been fully drained yet.
	HasOperations bool
	Operations    *OpQueue
}

// Defaults returns a descriptor with every field at its default value.
func Defaults(path string, doc map[string]any) *Descriptor {
	return &Descriptor{
		Path:                  path,
		Document:              doc,
		Size:                  scene.Size{Width: DefaultWidth, Height: DefaultHeight},
		PixelRatio:            DefaultPixelRatio,
		Allowed:               DefaultAllowed,
		Mode:                  scene.ModeStatic,
		CrossSourceCollisions: true,
		XSkew:                 0,
		YSkew:                 1,
		Operations:            &OpQueue{},
	}
}

// Dir returns the test directory holding expected.png and the artifacts.
func (d *Descriptor) Dir() string {
	return filepath.Dir(d.Path)
}

// Name returns the test name relative to the suite root, using forward slashes.
func (d *Descriptor) Name(root string) string {
	rel, err := filepath.Rel(root, d.Dir())
	if err != nil {
		return d.Dir()
	}
	return filepath.ToSlash(rel)
}

// SceneOptions returns the construction options of the scene for this test.
func (d *Descriptor) SceneOptions() scene.Options {
	return scene.Options{
		Size:                  d.Size,
		PixelRatio:            d.PixelRatio,
		Mode:                  d.Mode,
		Debug:                 d.Debug,
		CrossSourceCollisions: d.CrossSourceCollisions,
		Axonometric:           d.Axonometric,
		XSkew:                 d.XSkew,
		YSkew:                 d.YSkew,
	}
}

// Parse reads a style.json, localizes its resource URLs and builds the descriptor.
func Parse(path string, paths localize.Paths, logger *slog.Logger) (*Descriptor, error) {
	doc, err := localize.ReadJSON(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	paths.StyleURLs(doc)
	return FromDocument(path, doc, paths, logger)
}

// FromDocument builds a descriptor from an already decoded document. Image
// operation paths are resolved against the integration directory of paths.
func FromDocument(path string, doc map[string]any, paths localize.Paths, logger *slog.Logger) (*Descriptor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d := Defaults(path, doc)

	meta, ok := doc["metadata"].(map[string]any)
	if !ok {
		logger.Warn("Style has no 'metadata'", "path", path)
		return d, nil
	}
	test, ok := meta["test"].(map[string]any)
	if !ok {
		logger.Warn("Style has no 'metadata.test'", "path", path)
		return d, nil
	}

	for _, key := range []string{"fadeDuration", "addFakeCanvas"} {
		if _, ok := test[key]; ok {
			return nil, fmt.Errorf("%w: %s", ErrUnsupported, key)
		}
	}

	if err := d.applyTest(test); err != nil {
		return nil, err
	}

	if raw, ok := test["operations"]; ok {
		ops, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: operations must be an array", ErrMalformed)
		}
		d.HasOperations = true
		d.Operations = NewOpQueue(parseOperations(ops, d.PixelRatio, paths))
	}
	return d, nil
}

func (d *Descriptor) applyTest(test map[string]any) error {
	number := func(key string) (float64, bool, error) {
		raw, ok := test[key]
		if !ok {
			return 0, false, nil
		}
		f, ok := raw.(float64)
		if !ok {
			return 0, false, fmt.Errorf("%w: %s must be a number", ErrMalformed, key)
		}
		return f, true, nil
	}
	boolean := func(key string) (bool, bool, error) {
		raw, ok := test[key]
		if !ok {
			return false, false, nil
		}
		b, ok := raw.(bool)
		if !ok {
			return false, false, fmt.Errorf("%w: %s must be a boolean", ErrMalformed, key)
		}
		return b, true, nil
	}

	if w, ok, err := number("width"); err != nil {
		return err
	} else if ok {
		if w < 1 || w != math.Trunc(w) {
			return fmt.Errorf("%w: width must be a positive integer", ErrMalformed)
		}
		d.Size.Width = int(w)
	}
	if h, ok, err := number("height"); err != nil {
		return err
	} else if ok {
		if h < 1 || h != math.Trunc(h) {
			return fmt.Errorf("%w: height must be a positive integer", ErrMalformed)
		}
		d.Size.Height = int(h)
	}
	if pr, ok, err := number("pixelRatio"); err != nil {
		return err
	} else if ok {
		if pr <= 0 {
			return fmt.Errorf("%w: pixelRatio must be positive", ErrMalformed)
		}
		d.PixelRatio = pr
	}
	if a, ok, err := number("allowed"); err != nil {
		return err
	} else if ok {
		if a < 0 {
			return fmt.Errorf("%w: allowed must not be negative", ErrMalformed)
		}
		d.Allowed = a
	}

	if raw, ok := test["description"]; ok {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: description must be a string", ErrMalformed)
		}
		d.Description = s
	}

	if raw, ok := test["mapMode"]; ok {
		s, ok := raw.(string)
		if !ok {
			return fmt.Errorf("%w: mapMode must be a string", ErrMalformed)
		}
		switch s {
		case "tile":
			d.Mode = scene.ModeTile
		case "continuous":
			d.Mode = scene.ModeContinuous
		default:
			d.Mode = scene.ModeStatic
		}
	}

	for key, flag := range map[string]scene.DebugFlags{
		"debug":                 scene.DebugTileBorders,
		"collisionDebug":        scene.DebugCollision,
		"showOverdrawInspector": scene.DebugOverdraw,
	} {
		// Presence alone enables the flag, whatever the value.
		if _, ok := test[key]; ok {
			d.Debug |= flag
		}
	}

	if b, ok, err := boolean("crossSourceCollisions"); err != nil {
		return err
	} else if ok {
		d.CrossSourceCollisions = b
	}
	if b, ok, err := boolean("axonometric"); err != nil {
		return err
	} else if ok {
		d.Axonometric = b
	}

	if raw, ok := test["skew"]; ok {
		arr, ok := raw.([]any)
		if !ok || len(arr) != 2 {
			return fmt.Errorf("%w: skew must be an array of two numbers", ErrMalformed)
		}
		x, okX := arr[0].(float64)
		y, okY := arr[1].(float64)
		if !okX || !okY {
			return fmt.Errorf("%w: skew must be an array of two numbers", ErrMalformed)
		}
		d.XSkew, d.YSkew = x, y
	}
	return nil
}
