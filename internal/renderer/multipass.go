//go:build mapnik

package renderer

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/MeKo-Tech/renderdiff/internal/composite"
	"github.com/MeKo-Tech/renderdiff/internal/engine"
	"github.com/MeKo-Tech/renderdiff/internal/scene"
	"github.com/MeKo-Tech/renderdiff/internal/style"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func init() {
	engine.RegisterBackend(BackendName, func(opts scene.Options, logger *slog.Logger) (scene.Scene, error) {
		s, err := NewScene(opts, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

// Scene renders with Mapnik, one pass per layer. Style state, resource
// loading and transitions stay with the embedded engine map.
type Scene struct {
	*engine.Map
	logger  *slog.Logger
	tempDir string
	warned  map[string]bool
}

// NewScene creates a Mapnik-backed scene.
func NewScene(opts scene.Options, logger *slog.Logger) (*Scene, error) {
	m, err := engine.New(opts, engine.Config{Logger: logger})
	if err != nil {
		return nil, err
	}
	tempDir, err := os.MkdirTemp("", "renderdiff-mapnik-*")
	if err != nil {
		m.Close() // nolint:errcheck // Already returning an error
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	return &Scene{Map: m, logger: logger, tempDir: tempDir, warned: map[string]bool{}}, nil
}

func (s *Scene) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

func (s *Scene) warnOnce(key, msg string, args ...any) {
	if s.warned[key] {
		return
	}
	s.warned[key] = true
	s.log().Warn(msg, args...)
}

// Render draws every visible layer in its own Mapnik pass and composites the
// passes bottom to top.
func (s *Scene) Render() (*image.RGBA, error) {
	f, err := s.Map.Frame()
	if err != nil {
		return nil, err
	}
	if f.Width <= 0 || f.Height <= 0 {
		return nil, fmt.Errorf("render %dx%d: %w", f.Width, f.Height, scene.ErrInvalidImageSize)
	}
	if f.Bearing != 0 {
		s.warnOnce("bearing", "Mapnik backend ignores bearing", "bearing", f.Bearing)
	}

	frame := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	extent := Extent(f)
	for i, fl := range f.Layers {
		if !fl.Loaded || (fl.Layer.Type != style.LayerBackground && len(fl.Features) == 0) {
			continue
		}
		pass, err := s.renderLayer(i, fl, f, extent)
		if errors.Is(err, ErrUnsupportedLayer) {
			s.warnOnce(fl.Layer.ID, "Skipping layer", "layer", fl.Layer.ID, "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("layer %s: %w", fl.Layer.ID, err)
		}
		composite.Over(frame, pass, 1)
	}
	return frame, nil
}

func (s *Scene) renderLayer(i int, fl engine.FrameLayer, f engine.Frame, extent orb.Bound) (*image.RGBA, error) {
	dataFile := filepath.Join(s.tempDir, fmt.Sprintf("layer-%03d.geojson", i))
	doc, err := LayerMap(fl, dataFile, f.PixelRatio)
	if err != nil {
		return nil, err
	}

	if fl.Layer.Type != style.LayerBackground {
		fc := geojson.NewFeatureCollection()
		fc.Features = fl.Features
		data, err := fc.MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("failed to encode features: %w", err)
		}
		if err := os.WriteFile(dataFile, data, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write features: %w", err)
		}
		defer os.Remove(dataFile) // nolint:errcheck // Best-effort cleanup
	}

	r, err := NewMapnikRenderer(f.Width, f.Height)
	if err != nil {
		return nil, err
	}
	defer r.Close() // nolint:errcheck // Close never fails

	if err := r.LoadXML(doc); err != nil {
		return nil, err
	}
	r.SetExtent(extent)
	s.log().Debug("Rendering layer with Mapnik", "layer", fl.Layer.ID, "features", len(fl.Features))
	return r.RenderImage()
}

// Close releases the scene and removes its temporary files.
func (s *Scene) Close() error {
	err := s.Map.Close()
	if rmErr := os.RemoveAll(s.tempDir); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}
