// Package scene defines the capability surface the harness drives: a live,
// stateful map scene that can be mutated, pumped and rendered to pixels.
package scene

import (
	"errors"
	"image"

	"github.com/MeKo-Tech/renderdiff/internal/style"
	"github.com/paulmach/orb"
)

var (
	ErrLayerNotFound    = errors.New("layer not found")
	ErrSourceNotFound   = errors.New("source not found")
	ErrDuplicateLayer   = errors.New("layer already exists")
	ErrDuplicateSource  = errors.New("source already exists")
	ErrSourceInUse      = errors.New("source is referenced by a layer")
	ErrStyleNotLoaded   = errors.New("no style loaded")
	ErrUnknownBackend   = errors.New("unknown backend")
	ErrSceneClosed      = errors.New("scene closed")
	ErrInvalidImageSize = errors.New("image has no pixels")
)

// Mode selects how the scene produces frames.
type Mode int

const (
	// ModeStatic renders a single still frame once everything is loaded.
	ModeStatic Mode = iota
	// ModeTile renders one tile-sized frame; symbols must not cross the frame edge.
	ModeTile
	// ModeContinuous renders frames continuously.
	ModeContinuous
)

func (m Mode) String() string {
	switch m {
	case ModeTile:
		return "tile"
	case ModeContinuous:
		return "continuous"
	default:
		return "static"
	}
}

// DebugFlags toggle diagnostic overlays.
type DebugFlags uint8

const (
	DebugTileBorders DebugFlags = 1 << iota
	DebugCollision
	DebugOverdraw
)

// Has reports whether all bits of f are set.
func (d DebugFlags) Has(f DebugFlags) bool { return d&f == f }

// Size is a logical frame size in points.
type Size struct {
	Width  int
	Height int
}

// Options configure a scene at construction time.
type Options struct {
	Size                  Size
	PixelRatio            float64
	Mode                  Mode
	Debug                 DebugFlags
	CrossSourceCollisions bool
	Axonometric           bool
	XSkew                 float64
	YSkew                 float64
}

// PhysicalSize returns the frame size in device pixels.
func (o Options) PhysicalSize() (int, int) {
	return int(float64(o.Size.Width)*o.PixelRatio + 0.5), int(float64(o.Size.Height)*o.PixelRatio + 0.5)
}

// Camera is a partial camera update; nil fields are left untouched.
type Camera struct {
	Center  *orb.Point
	Zoom    *float64
	Bearing *float64
}

// CenterAt returns a camera update moving the center to lng/lat.
func CenterAt(lng, lat float64) Camera {
	p := orb.Point{lng, lat}
	return Camera{Center: &p}
}

// ZoomTo returns a camera update setting the zoom.
func ZoomTo(z float64) Camera { return Camera{Zoom: &z} }

// RotateTo returns a camera update setting the bearing in degrees.
func RotateTo(b float64) Camera { return Camera{Bearing: &b} }

// Image is a named raster registered with the scene.
// Pixels are premultiplied RGBA.
type Image struct {
	Name       string
	Pixels     *image.RGBA
	PixelRatio float64
	SDF        bool
}

// Scene is a live map scene. Implementations are not safe for concurrent use;
// the harness drives each scene from a single goroutine.
type Scene interface {
	// LoadStyle replaces the current style with a serialized style document.
	LoadStyle(data []byte) error
	// SetTransition sets the default transition for property changes.
	SetTransition(t style.Transition)
	JumpTo(c Camera)
	// AddImage adds or replaces a named image.
	AddImage(img Image)
	// AddLayer inserts a layer below the layer named before, or on top when before is empty.
	AddLayer(layer *style.Layer, before string) error
	RemoveLayer(id string) error
	AddSource(src *style.Source) error
	RemoveSource(id string) error
	// SetFilter replaces the layer filter; a nil filter clears it.
	SetFilter(layerID string, filter *style.Filter) error
	SetPaintProperty(layerID, name string, value any) error
	SetLayoutProperty(layerID, name string, value any) error

	// RunOnce processes pending asynchronous work without blocking for long.
	RunOnce()
	// IsFullyLoaded reports whether every resource is loaded and no transition is running.
	IsFullyLoaded() bool
	// Render captures the current frame at physical size.
	Render() (*image.RGBA, error)
	Close() error
}

// Factory builds a fresh scene for one test.
type Factory func(opts Options) (Scene, error)
