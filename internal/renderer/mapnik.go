//go:build mapnik

package renderer

// #cgo LDFLAGS: -lmapnik
// #cgo CXXFLAGS: -std=c++14
import "C"

import (
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/MeKo-Tech/renderdiff/internal/compare"
	"github.com/paulmach/orb"
	mapnik "github.com/omniscale/go-mapnik/v2"
)

// DatasourcesDir holds the Mapnik input plugins. It is read once, when the
// first renderer is created.
var DatasourcesDir = "/usr/lib/mapnik/3.1/input"

var (
	registerOnce sync.Once
	registerErr  error
)

// MapnikRenderer wraps one Mapnik map object.
type MapnikRenderer struct {
	mapObject *mapnik.Map
}

// NewMapnikRenderer creates a renderer drawing width x height pixel images.
func NewMapnikRenderer(width, height int) (*MapnikRenderer, error) {
	registerOnce.Do(func() {
		registerErr = mapnik.RegisterDatasources(DatasourcesDir)
	})
	if registerErr != nil {
		return nil, fmt.Errorf("failed to register datasources: %w", registerErr)
	}
	return &MapnikRenderer{mapObject: mapnik.NewSized(width, height)}, nil
}

// LoadXML loads a map file from memory. Mapnik only reads map files from
// disk, so the document goes through a temporary file.
func (r *MapnikRenderer) LoadXML(doc []byte) error {
	tmpFile, err := os.CreateTemp("", "renderdiff-map-*.xml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		os.Remove(tmpPath) // nolint:errcheck // Best-effort cleanup
	}()

	if _, err := tmpFile.Write(doc); err != nil {
		tmpFile.Close() // nolint:errcheck // Already returning an error
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := r.mapObject.Load(tmpPath); err != nil {
		return fmt.Errorf("failed to load XML: %w", err)
	}
	return nil
}

// SetExtent sets the visible web mercator extent in meters.
func (r *MapnikRenderer) SetExtent(b orb.Bound) {
	r.mapObject.SetSRS(mercatorSRS)
	r.mapObject.ZoomTo(b.Min[0], b.Min[1], b.Max[0], b.Max[1])
}

// RenderImage draws the loaded map.
func (r *MapnikRenderer) RenderImage() (*image.RGBA, error) {
	img, err := r.mapObject.RenderImage(mapnik.RenderOpts{Format: "png32"})
	if err != nil {
		return nil, fmt.Errorf("failed to render map: %w", err)
	}
	return compare.Normalize(img), nil
}

// Close releases Mapnik resources.
func (r *MapnikRenderer) Close() error {
	if r.mapObject != nil {
		r.mapObject.Free()
		r.mapObject = nil
	}
	return nil
}
