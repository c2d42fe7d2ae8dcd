package tile

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// Size is the edge length of a world tile in CSS pixels.
const Size = 512

// MaxLatitude is the latitude limit of the web mercator projection.
const MaxLatitude = 85.0511287798066

// Coords represents a tile coordinate in the XYZ tile scheme (z/x/y, Y grows southward)
type Coords struct {
	Z uint32 // Zoom level
	X uint32 // Column
	Y uint32 // Row
}

// NewCoords creates a new Coords from zoom, x, y values
func NewCoords(z, x, y uint32) Coords {
	return Coords{Z: z, X: x, Y: y}
}

// String returns the tile coordinate as "z/x/y"
func (c Coords) String() string {
	return fmt.Sprintf("%d/%d/%d", c.Z, c.X, c.Y)
}

// Path returns the slash separated file path of this tile, e.g. "3/4/2.png"
func (c Coords) Path(extension string) string {
	return fmt.Sprintf("%s.%s", c.String(), extension)
}

// Tile returns the maptile.Tile for this coordinate
func (c Coords) Tile() maptile.Tile {
	return maptile.New(c.X, c.Y, maptile.Zoom(c.Z))
}

// Bound returns the geographic extent of the tile in WGS84.
func (c Coords) Bound() orb.Bound {
	return c.Tile().Bound()
}

// Center returns the center of the tile in WGS84.
func (c Coords) Center() orb.Point {
	return c.Bound().Center()
}

// Valid reports whether X and Y lie inside the grid of the zoom level.
func (c Coords) Valid() bool {
	n := uint64(1) << c.Z
	return c.Z <= 30 && uint64(c.X) < n && uint64(c.Y) < n
}

// TMSRow returns the row in the TMS scheme, where Y grows northward.
func (c Coords) TMSRow() uint32 {
	return (uint32(1) << c.Z) - 1 - c.Y
}

// ParseCoords parses "z/x/y" with an optional "@2x" marker and file extension,
// e.g. "13/4297/2754@2x.png".
func ParseCoords(s string) (Coords, error) {
	var c Coords
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return c, fmt.Errorf("invalid tile coordinate format: %s", s)
	}
	last := parts[2]
	if i := strings.IndexByte(last, '.'); i >= 0 {
		last = last[:i]
	}
	last = strings.TrimSuffix(last, "@2x")

	values := [3]uint32{}
	for i, p := range []string{parts[0], parts[1], last} {
		v, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return c, fmt.Errorf("invalid tile coordinate format: %s", s)
		}
		values[i] = uint32(v)
	}
	c = NewCoords(values[0], values[1], values[2])
	if !c.Valid() {
		return c, fmt.Errorf("tile %s outside the grid", c)
	}
	return c, nil
}

// Expand fills a tile URL template. Supported tokens are {z}, {x}, {y},
// {-y} (TMS row) and {quadkey}.
func Expand(template string, c Coords) string {
	r := strings.NewReplacer(
		"{z}", strconv.FormatUint(uint64(c.Z), 10),
		"{x}", strconv.FormatUint(uint64(c.X), 10),
		"{y}", strconv.FormatUint(uint64(c.Y), 10),
		"{-y}", strconv.FormatUint(uint64(c.TMSRow()), 10),
		"{quadkey}", quadkey(c),
	)
	return r.Replace(template)
}

func quadkey(c Coords) string {
	var b strings.Builder
	for i := c.Z; i > 0; i-- {
		digit := byte('0')
		mask := uint32(1) << (i - 1)
		if c.X&mask != 0 {
			digit++
		}
		if c.Y&mask != 0 {
			digit += 2
		}
		b.WriteByte(digit)
	}
	return b.String()
}

// Cover returns all tiles at zoom z that intersect the bound, row-major.
// Latitudes are clamped to the mercator limit.
func Cover(b orb.Bound, z uint32) []Coords {
	minX, minY, maxX, maxY := coverRange(b, z)

	tiles := make([]Coords, 0, int(maxX-minX+1)*int(maxY-minY+1))
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			tiles = append(tiles, NewCoords(z, x, y))
		}
	}
	return tiles
}

// TileCount returns the number of tiles in a bound across a zoom range.
// This is useful for progress estimation without allocating the full tile list.
func TileCount(b orb.Bound, zoomMin, zoomMax uint32) int {
	count := 0
	for z := zoomMin; z <= zoomMax; z++ {
		minX, minY, maxX, maxY := coverRange(b, z)
		count += int(maxX-minX+1) * int(maxY-minY+1)
	}
	return count
}

func coverRange(b orb.Bound, z uint32) (minX, minY, maxX, maxY uint32) {
	zoom := maptile.Zoom(z)
	minTile := maptile.At(clampPoint(orb.Point{b.Min.Lon(), b.Max.Lat()}), zoom)
	maxTile := maptile.At(clampPoint(orb.Point{b.Max.Lon(), b.Min.Lat()}), zoom)

	// Ensure min/max are correctly ordered
	minX, maxX = minTile.X, maxTile.X
	if minX > maxX {
		minX, maxX = maxX, minX
	}
	minY, maxY = minTile.Y, maxTile.Y
	if minY > maxY {
		minY, maxY = maxY, minY
	}

	last := (uint32(1) << z) - 1
	return min(minX, last), min(minY, last), min(maxX, last), min(maxY, last)
}

func clampPoint(p orb.Point) orb.Point {
	lon := math.Max(-180, math.Min(180-1e-9, p.Lon()))
	lat := math.Max(-MaxLatitude, math.Min(MaxLatitude, p.Lat()))
	return orb.Point{lon, lat}
}

// WorldSize returns the edge length in device pixels of the whole world at a
// fractional zoom level.
func WorldSize(zoom, pixelRatio float64) float64 {
	return Size * math.Exp2(zoom) * pixelRatio
}

// Project converts a WGS84 point to world pixel coordinates, origin at the
// north-west corner.
func Project(p orb.Point, worldSize float64) (float64, float64) {
	lat := math.Max(-MaxLatitude, math.Min(MaxLatitude, p.Lat()))
	x := (p.Lon() + 180) / 360 * worldSize
	y := (180 - 180/math.Pi*math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))) / 360 * worldSize
	return x, y
}

// Unproject converts world pixel coordinates back to WGS84.
func Unproject(x, y, worldSize float64) orb.Point {
	lon := x/worldSize*360 - 180
	y2 := 180 - y/worldSize*360
	lat := 360/math.Pi*math.Atan(math.Exp(y2*math.Pi/180)) - 90
	return orb.Point{lon, lat}
}
