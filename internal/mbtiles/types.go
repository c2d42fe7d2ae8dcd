// Package mbtiles reads and writes MBTiles tile databases. The harness uses
// them as raster sources (mbtiles:// URLs), as the packed form of tile
// fixtures and for serving tiles over HTTP.
package mbtiles

import (
	"errors"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

// ErrTileNotFound is returned when the database holds no tile at the address.
var ErrTileNotFound = errors.New("tile not found")

// Metadata contains MBTiles metadata fields.
type Metadata struct {
	Name        string
	Format      string // png, jpg, webp
	Description string
	Type        string // "baselayer" or "overlay"
	Version     string
	Bounds      orb.Bound
	Center      orb.Point
	CenterZoom  int
	MinZoom     int
	MaxZoom     int
}

// ToMap converts Metadata to name/value rows. Zero fields are omitted.
func (m Metadata) ToMap() map[string]string {
	result := make(map[string]string)
	set := func(k, v string) {
		if v != "" {
			result[k] = v
		}
	}

	set("name", m.Name)
	set("format", m.Format)
	set("description", m.Description)
	set("type", m.Type)
	set("version", m.Version)
	if m.MinZoom > 0 {
		result["minzoom"] = strconv.Itoa(m.MinZoom)
	}
	if m.MaxZoom > 0 {
		result["maxzoom"] = strconv.Itoa(m.MaxZoom)
	}
	if m.Bounds != (orb.Bound{}) {
		result["bounds"] = joinFloats(m.Bounds.Min.Lon(), m.Bounds.Min.Lat(), m.Bounds.Max.Lon(), m.Bounds.Max.Lat())
	}
	if m.Center != (orb.Point{}) || m.CenterZoom != 0 {
		result["center"] = joinFloats(m.Center.Lon(), m.Center.Lat()) + "," + strconv.Itoa(m.CenterZoom)
	}
	return result
}

func joinFloats(vs ...float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'f', 6, 64)
	}
	return strings.Join(parts, ",")
}

// metadataFromMap parses metadata rows. Malformed numeric fields are ignored.
func metadataFromMap(rows map[string]string) Metadata {
	meta := Metadata{
		Name:        rows["name"],
		Format:      rows["format"],
		Description: rows["description"],
		Type:        rows["type"],
		Version:     rows["version"],
	}

	if i, err := strconv.Atoi(rows["minzoom"]); err == nil {
		meta.MinZoom = i
	}
	if i, err := strconv.Atoi(rows["maxzoom"]); err == nil {
		meta.MaxZoom = i
	}

	// "minLon,minLat,maxLon,maxLat"
	if f, ok := splitFloats(rows["bounds"], 4); ok {
		meta.Bounds = orb.Bound{Min: orb.Point{f[0], f[1]}, Max: orb.Point{f[2], f[3]}}
	}
	// "lon,lat,zoom"
	if f, ok := splitFloats(rows["center"], 3); ok {
		meta.Center = orb.Point{f[0], f[1]}
		meta.CenterZoom = int(f[2])
	}
	return meta
}

func splitFloats(s string, n int) ([]float64, bool) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, false
	}
	out := make([]float64, n)
	for i, part := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}
