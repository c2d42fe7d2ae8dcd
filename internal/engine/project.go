package engine

import (
	"math"

	"github.com/MeKo-Tech/renderdiff/internal/tile"
	"github.com/paulmach/orb"
	"golang.org/x/image/math/f64"
)

// transform maps WGS84 coordinates onto the physical frame. The camera center
// sits in the middle of the frame; bearing rotates the map clockwise from north
// and the optional axonometric skew is applied after rotation.
type transform struct {
	width, height float64
	pixelRatio    float64
	center        orb.Point
	zoom          float64
	bearing       float64

	axonometric  bool
	xSkew, ySkew float64
}

func (t *transform) worldSize() float64 {
	return tile.WorldSize(t.zoom, t.pixelRatio)
}

// matrix returns the linear part of the world-to-screen mapping as
// [a00 a01 a10 a11].
func (t *transform) matrix() [4]float64 {
	sin, cos := math.Sincos(t.bearing * math.Pi / 180)
	m := [4]float64{cos, sin, -sin, cos}
	if t.axonometric {
		m = [4]float64{
			m[0] + t.xSkew*m[2], m[1] + t.xSkew*m[3],
			t.ySkew * m[2], t.ySkew * m[3],
		}
	}
	return m
}

func (t *transform) centerWorld() (float64, float64) {
	return tile.Project(t.center, t.worldSize())
}

// worldToScreen maps world pixel coordinates to frame pixels.
func (t *transform) worldToScreen(wx, wy float64) (float64, float64) {
	cx, cy := t.centerWorld()
	m := t.matrix()
	dx, dy := wx-cx, wy-cy
	return m[0]*dx + m[1]*dy + t.width/2, m[2]*dx + m[3]*dy + t.height/2
}

func (t *transform) toScreen(p orb.Point) (float64, float64) {
	wx, wy := tile.Project(p, t.worldSize())
	return t.worldToScreen(wx, wy)
}

// fromScreen inverts toScreen. A degenerate skew maps everything to the center.
func (t *transform) fromScreen(x, y float64) orb.Point {
	m := t.matrix()
	det := m[0]*m[3] - m[1]*m[2]
	if det == 0 {
		return t.center
	}
	sx, sy := x-t.width/2, y-t.height/2
	dx := (m[3]*sx - m[1]*sy) / det
	dy := (-m[2]*sx + m[0]*sy) / det
	cx, cy := t.centerWorld()
	return tile.Unproject(cx+dx, cy+dy, t.worldSize())
}

// visibleBound returns the geographic bound of the frame corners.
func (t *transform) visibleBound() orb.Bound {
	corners := []orb.Point{
		t.fromScreen(0, 0),
		t.fromScreen(t.width, 0),
		t.fromScreen(t.width, t.height),
		t.fromScreen(0, t.height),
	}
	b := corners[0].Bound()
	for _, c := range corners[1:] {
		b = b.Extend(c)
	}
	return b
}

// tileAffine returns the affine transform drawing a tile image of imgSize
// pixels for tile c onto the frame.
func (t *transform) tileAffine(c tile.Coords, imgSize int) f64.Aff3 {
	tileWorld := t.worldSize() / math.Exp2(float64(c.Z))
	scale := tileWorld / float64(imgSize)
	ox, oy := t.worldToScreen(float64(c.X)*tileWorld, float64(c.Y)*tileWorld)
	m := t.matrix()
	return f64.Aff3{
		m[0] * scale, m[1] * scale, ox,
		m[2] * scale, m[3] * scale, oy,
	}
}
