package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"math"
	"os"
	"strings"

	// Registered for image.Decode.
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"github.com/MeKo-Tech/renderdiff/internal/compare"
	"github.com/MeKo-Tech/renderdiff/internal/mbtiles"
	"github.com/MeKo-Tech/renderdiff/internal/style"
	"github.com/MeKo-Tech/renderdiff/internal/tile"
	"github.com/paulmach/orb/geojson"
)

// sourceState is the runtime state of one style source.
type sourceState struct {
	spec *style.Source
	gen  uint64

	loaded bool
	err    error

	features []*geojson.Feature

	reader  *mbtiles.Reader
	tiles   map[tile.Coords]*image.RGBA // nil image: tile does not exist
	pending map[tile.Coords]bool
	wanted  []tile.Coords
}

func newSourceState(spec *style.Source, gen uint64) *sourceState {
	return &sourceState{
		spec:    spec,
		gen:     gen,
		tiles:   map[tile.Coords]*image.RGBA{},
		pending: map[tile.Coords]bool{},
	}
}

func (s *sourceState) close() {
	if s.reader != nil {
		s.reader.Close()
		s.reader = nil
	}
}

// complete reports whether the source and every wanted tile have loaded.
func (s *sourceState) complete() bool {
	if !s.loaded {
		return false
	}
	for _, c := range s.wanted {
		if _, ok := s.tiles[c]; !ok {
			return false
		}
	}
	return true
}

func filePath(url string) string {
	return strings.TrimPrefix(url, "file://")
}

// loadSourceFunc returns the background load for a source, or nil when the
// source needs no I/O before its tiles are requested.
func loadSourceFunc(spec *style.Source) func(ctx context.Context) (any, error) {
	switch spec.Type {
	case style.SourceGeoJSON:
		data := spec.Data
		return func(context.Context) (any, error) {
			return loadGeoJSON(data)
		}
	case style.SourceRaster:
		if path, ok := strings.CutPrefix(spec.URL, "mbtiles://"); ok && len(spec.Tiles) == 0 {
			return func(context.Context) (any, error) {
				return mbtiles.OpenReader(path)
			}
		}
		if spec.URL != "" && len(spec.Tiles) == 0 {
			url := spec.URL
			return func(context.Context) (any, error) {
				return loadTileJSON(url)
			}
		}
	}
	return nil
}

func loadGeoJSON(data any) ([]*geojson.Feature, error) {
	var raw []byte
	switch d := data.(type) {
	case string:
		b, err := os.ReadFile(filePath(d))
		if err != nil {
			return nil, fmt.Errorf("read geojson: %w", err)
		}
		raw = b
	case map[string]any:
		b, err := json.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("encode geojson: %w", err)
		}
		raw = b
	default:
		return nil, fmt.Errorf("unsupported geojson data %T", data)
	}
	return decodeGeoJSON(raw)
}

// decodeGeoJSON accepts a FeatureCollection, a Feature or a bare geometry.
func decodeGeoJSON(raw []byte) ([]*geojson.Feature, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode geojson: %w", err)
	}

	switch probe.Type {
	case "FeatureCollection":
		fc, err := geojson.UnmarshalFeatureCollection(raw)
		if err != nil {
			return nil, fmt.Errorf("decode feature collection: %w", err)
		}
		return fc.Features, nil
	case "Feature":
		f, err := geojson.UnmarshalFeature(raw)
		if err != nil {
			return nil, fmt.Errorf("decode feature: %w", err)
		}
		return []*geojson.Feature{f}, nil
	default:
		g, err := geojson.UnmarshalGeometry(raw)
		if err != nil {
			return nil, fmt.Errorf("decode geometry: %w", err)
		}
		return []*geojson.Feature{geojson.NewFeature(g.Geometry())}, nil
	}
}

// tileJSON is the subset of a TileJSON document a raster source uses.
type tileJSON struct {
	Tiles   []string `json:"tiles"`
	MinZoom *int     `json:"minzoom"`
	MaxZoom *int     `json:"maxzoom"`
	Scheme  string   `json:"scheme"`
}

func loadTileJSON(url string) (*tileJSON, error) {
	if !strings.HasPrefix(url, "file://") && strings.Contains(url, "://") {
		return nil, fmt.Errorf("tileset %s is not local", url)
	}
	b, err := os.ReadFile(filePath(url))
	if err != nil {
		return nil, fmt.Errorf("read tileset: %w", err)
	}
	var tj tileJSON
	if err := json.Unmarshal(b, &tj); err != nil {
		return nil, fmt.Errorf("decode tileset: %w", err)
	}
	if len(tj.Tiles) == 0 {
		return nil, fmt.Errorf("tileset %s has no tiles", url)
	}
	return &tj, nil
}

// rasterZoom returns the tile zoom covering the camera zoom for a source.
func rasterZoom(spec *style.Source, zoom float64) uint32 {
	size := spec.TileSize
	if size <= 0 {
		size = tile.Size
	}
	z := math.Round(zoom + math.Log2(float64(tile.Size)/float64(size)))
	z = math.Max(z, float64(spec.MinZoom))
	z = math.Min(z, float64(spec.MaxZoom))
	return uint32(math.Max(0, z))
}

// loadTileFunc returns the background load of one raster tile. Missing tiles
// load as nil.
func loadTileFunc(spec *style.Source, reader *mbtiles.Reader, c tile.Coords) func(ctx context.Context) (any, error) {
	templates := spec.Tiles
	tms := spec.TMS
	return func(ctx context.Context) (any, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var data []byte
		var err error
		if reader != nil {
			data, err = reader.ReadTile(c)
			if errors.Is(err, mbtiles.ErrTileNotFound) {
				return (*image.RGBA)(nil), nil
			}
		} else {
			addr := c
			if tms {
				addr.Y = c.TMSRow()
			}
			tmpl := templates[int(c.X+c.Y)%len(templates)]
			data, err = os.ReadFile(filePath(tile.Expand(tmpl, addr)))
			if errors.Is(err, fs.ErrNotExist) {
				return (*image.RGBA)(nil), nil
			}
		}
		if err != nil {
			return nil, err
		}

		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode tile %s: %w", c, err)
		}
		return compare.Normalize(img), nil
	}
}
