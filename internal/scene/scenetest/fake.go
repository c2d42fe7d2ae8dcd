// Package scenetest provides a recording Scene for tests.
package scenetest

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"slices"
	"strings"

	"github.com/MeKo-Tech/renderdiff/internal/scene"
	"github.com/MeKo-Tech/renderdiff/internal/style"
)

// Fake is an in-memory Scene that records every call as a line of text.
type Fake struct {
	Opts scene.Options

	// Calls is the ordered call log.
	Calls []string

	Layers  []string
	Sources map[string]bool
	Images  map[string]scene.Image

	// LoadingFrames is the number of RunOnce calls after a mutation before the
	// scene reports itself fully loaded. A negative value never loads.
	LoadingFrames int
	// Fill is the color of rendered frames.
	Fill color.RGBA
	// RenderErr, when set, is returned by Render.
	RenderErr error

	pending int
	runs    int
	renders int
	closed  bool
}

var _ scene.Scene = (*Fake)(nil)

// New returns a Fake sized by opts.
func New(opts scene.Options) *Fake {
	return &Fake{
		Opts:    opts,
		Sources: map[string]bool{},
		Images:  map[string]scene.Image{},
		Fill:    color.RGBA{255, 255, 255, 255},
	}
}

// Factory returns a scene.Factory that records the built fakes into out.
func Factory(out *[]*Fake) scene.Factory {
	return func(opts scene.Options) (scene.Scene, error) {
		f := New(opts)
		if out != nil {
			*out = append(*out, f)
		}
		return f, nil
	}
}

func (f *Fake) record(format string, args ...any) {
	f.Calls = append(f.Calls, fmt.Sprintf(format, args...))
}

func (f *Fake) touch() { f.pending = f.LoadingFrames }

func (f *Fake) LoadStyle(data []byte) error {
	s, err := style.Parse(data)
	if err != nil {
		f.record("loadStyle error")
		return err
	}
	f.Layers = f.Layers[:0]
	for _, l := range s.Layers {
		f.Layers = append(f.Layers, l.ID)
	}
	f.Sources = map[string]bool{}
	for id := range s.Sources {
		f.Sources[id] = true
	}
	f.record("loadStyle layers=%s", strings.Join(f.Layers, ","))
	f.touch()
	return nil
}

func (f *Fake) SetTransition(t style.Transition) {
	f.record("setTransition duration=%s delay=%s", t.Duration, t.Delay)
}

func (f *Fake) JumpTo(c scene.Camera) {
	var parts []string
	if c.Center != nil {
		parts = append(parts, fmt.Sprintf("center=%g,%g", c.Center.Lon(), c.Center.Lat()))
	}
	if c.Zoom != nil {
		parts = append(parts, fmt.Sprintf("zoom=%g", *c.Zoom))
	}
	if c.Bearing != nil {
		parts = append(parts, fmt.Sprintf("bearing=%g", *c.Bearing))
	}
	f.record("jumpTo %s", strings.Join(parts, " "))
	f.touch()
}

func (f *Fake) AddImage(img scene.Image) {
	b := img.Pixels.Bounds()
	f.Images[img.Name] = img
	f.record("addImage %s %dx%d@%g sdf=%t", img.Name, b.Dx(), b.Dy(), img.PixelRatio, img.SDF)
}

func (f *Fake) AddLayer(l *style.Layer, before string) error {
	if slices.Contains(f.Layers, l.ID) {
		f.record("addLayer %s duplicate", l.ID)
		return scene.ErrDuplicateLayer
	}
	idx := len(f.Layers)
	if before != "" {
		if i := slices.Index(f.Layers, before); i >= 0 {
			idx = i
		}
	}
	f.Layers = slices.Insert(f.Layers, idx, l.ID)
	f.record("addLayer %s type=%s before=%q", l.ID, l.Type, before)
	f.touch()
	return nil
}

func (f *Fake) RemoveLayer(id string) error {
	i := slices.Index(f.Layers, id)
	if i < 0 {
		f.record("removeLayer %s missing", id)
		return scene.ErrLayerNotFound
	}
	f.Layers = slices.Delete(f.Layers, i, i+1)
	f.record("removeLayer %s", id)
	return nil
}

func (f *Fake) AddSource(src *style.Source) error {
	if f.Sources[src.ID] {
		f.record("addSource %s duplicate", src.ID)
		return scene.ErrDuplicateSource
	}
	f.Sources[src.ID] = true
	f.record("addSource %s type=%s", src.ID, src.Type)
	f.touch()
	return nil
}

func (f *Fake) RemoveSource(id string) error {
	if !f.Sources[id] {
		f.record("removeSource %s missing", id)
		return scene.ErrSourceNotFound
	}
	delete(f.Sources, id)
	f.record("removeSource %s", id)
	return nil
}

func (f *Fake) SetFilter(layerID string, filter *style.Filter) error {
	if !slices.Contains(f.Layers, layerID) {
		f.record("setFilter %s missing", layerID)
		return scene.ErrLayerNotFound
	}
	f.record("setFilter %s %s", layerID, filter.Source())
	f.touch()
	return nil
}

func (f *Fake) SetPaintProperty(layerID, name string, value any) error {
	if !slices.Contains(f.Layers, layerID) {
		f.record("setPaintProperty %s missing", layerID)
		return scene.ErrLayerNotFound
	}
	f.record("setPaintProperty %s %s=%v", layerID, name, value)
	f.touch()
	return nil
}

func (f *Fake) SetLayoutProperty(layerID, name string, value any) error {
	if !slices.Contains(f.Layers, layerID) {
		f.record("setLayoutProperty %s missing", layerID)
		return scene.ErrLayerNotFound
	}
	f.record("setLayoutProperty %s %s=%v", layerID, name, value)
	f.touch()
	return nil
}

func (f *Fake) RunOnce() {
	f.runs++
	if f.pending > 0 {
		f.pending--
	}
}

func (f *Fake) IsFullyLoaded() bool {
	if f.LoadingFrames < 0 {
		return false
	}
	return f.pending == 0
}

func (f *Fake) Render() (*image.RGBA, error) {
	f.renders++
	if f.RenderErr != nil {
		return nil, f.RenderErr
	}
	w, h := f.Opts.PhysicalSize()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(f.Fill), image.Point{}, draw.Src)
	return img, nil
}

func (f *Fake) Close() error {
	f.closed = true
	f.record("close")
	return nil
}

// Runs returns the number of RunOnce calls.
func (f *Fake) Runs() int { return f.runs }

// Renders returns the number of Render calls.
func (f *Fake) Renders() int { return f.renders }

// Closed reports whether Close was called.
func (f *Fake) Closed() bool { return f.closed }

// Trace returns the call log joined by newlines.
func (f *Fake) Trace() string {
	return strings.Join(f.Calls, "\n") + "\n"
}
