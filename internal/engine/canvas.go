package engine

import (
	"image"
	"math"
	"slices"

	"golang.org/x/image/vector"
)

type pt [2]float64

// canvas accumulates paths on a vector rasterizer and draws them onto dst.
// Every shape is added with the same orientation so that overlapping shapes
// union instead of cancelling; holes are added reversed.
type canvas struct {
	dst *image.RGBA
	ras *vector.Rasterizer
	w   int
	h   int
}

func newCanvas(dst *image.RGBA) *canvas {
	b := dst.Bounds()
	return &canvas{dst: dst, ras: vector.NewRasterizer(b.Dx(), b.Dy()), w: b.Dx(), h: b.Dy()}
}

func signedArea(pts []pt) float64 {
	var a float64
	for i := range pts {
		j := (i + 1) % len(pts)
		a += pts[i][0]*pts[j][1] - pts[j][0]*pts[i][1]
	}
	return a / 2
}

// path adds a closed path. outer selects the orientation.
func (c *canvas) path(pts []pt, outer bool) {
	if len(pts) < 3 {
		return
	}
	if (signedArea(pts) >= 0) != outer {
		pts = slices.Clone(pts)
		slices.Reverse(pts)
	}
	c.ras.MoveTo(float32(pts[0][0]), float32(pts[0][1]))
	for _, p := range pts[1:] {
		c.ras.LineTo(float32(p[0]), float32(p[1]))
	}
	c.ras.ClosePath()
}

// polygon adds rings in GeoJSON order: the first is the outline, the rest are holes.
func (c *canvas) polygon(rings [][]pt) {
	for i, r := range rings {
		c.path(r, i == 0)
	}
}

func circlePoints(cx, cy, r float64) []pt {
	n := int(math.Ceil(r * 1.5))
	n = max(8, min(n, 96))
	pts := make([]pt, n)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = pt{cx + r*math.Cos(a), cy + r*math.Sin(a)}
	}
	return pts
}

func (c *canvas) disc(cx, cy, r float64) {
	if r <= 0 {
		return
	}
	c.path(circlePoints(cx, cy, r), true)
}

// annulus adds the ring between r0 and r1.
func (c *canvas) annulus(cx, cy, r0, r1 float64) {
	if r1 <= r0 {
		return
	}
	c.path(circlePoints(cx, cy, r1), true)
	if r0 > 0 {
		c.path(circlePoints(cx, cy, r0), false)
	}
}

func (c *canvas) rect(r image.Rectangle) {
	c.path([]pt{
		{float64(r.Min.X), float64(r.Min.Y)},
		{float64(r.Max.X), float64(r.Min.Y)},
		{float64(r.Max.X), float64(r.Max.Y)},
		{float64(r.Min.X), float64(r.Max.Y)},
	}, true)
}

// strokeStyle describes line geometry.
type strokeStyle struct {
	width  float64
	cap    string // butt, round, square
	join   string // miter, round, bevel
	closed bool
}

const miterLimit = 2.0

func dedupe(line []pt) []pt {
	out := make([]pt, 0, len(line))
	for _, p := range line {
		if len(out) > 0 && out[len(out)-1] == p {
			continue
		}
		out = append(out, p)
	}
	return out
}

func unitNormal(a, b pt) (pt, pt) {
	dx, dy := b[0]-a[0], b[1]-a[1]
	l := math.Hypot(dx, dy)
	d := pt{dx / l, dy / l}
	return d, pt{-d[1], d[0]}
}

// stroke adds the outline of a polyline of the given style.
func (c *canvas) stroke(line []pt, s strokeStyle) {
	hw := s.width / 2
	line = dedupe(line)
	if hw <= 0 || len(line) == 0 {
		return
	}
	if len(line) == 1 {
		if s.cap == "round" {
			c.disc(line[0][0], line[0][1], hw)
		}
		return
	}
	if s.closed && line[0] != line[len(line)-1] {
		line = append(slices.Clone(line), line[0])
	}

	if !s.closed && s.cap == "square" {
		line = slices.Clone(line)
		d, _ := unitNormal(line[1], line[0])
		line[0] = pt{line[0][0] + d[0]*hw, line[0][1] + d[1]*hw}
		n := len(line) - 1
		d, _ = unitNormal(line[n-1], line[n])
		line[n] = pt{line[n][0] + d[0]*hw, line[n][1] + d[1]*hw}
	}

	for i := 0; i+1 < len(line); i++ {
		a, b := line[i], line[i+1]
		_, n := unitNormal(a, b)
		c.path([]pt{
			{a[0] + n[0]*hw, a[1] + n[1]*hw},
			{b[0] + n[0]*hw, b[1] + n[1]*hw},
			{b[0] - n[0]*hw, b[1] - n[1]*hw},
			{a[0] - n[0]*hw, a[1] - n[1]*hw},
		}, true)
	}

	last := len(line) - 1
	for i := 1; i < last || (s.closed && i <= last); i++ {
		prev := line[i-1]
		p := line[i]
		next := line[(i+1)%len(line)]
		if i == last {
			next = line[1]
		}
		c.join(prev, p, next, hw, s.join)
	}

	if !s.closed && s.cap == "round" {
		c.disc(line[0][0], line[0][1], hw)
		c.disc(line[last][0], line[last][1], hw)
	}
}

func (c *canvas) join(prev, p, next pt, hw float64, kind string) {
	if next == p {
		return
	}
	if kind == "round" {
		c.disc(p[0], p[1], hw)
		return
	}
	_, n0 := unitNormal(prev, p)
	_, n1 := unitNormal(p, next)
	dot := n0[0]*n1[0] + n0[1]*n1[1]
	for _, side := range []float64{1, -1} {
		a := pt{p[0] + side*n0[0]*hw, p[1] + side*n0[1]*hw}
		b := pt{p[0] + side*n1[0]*hw, p[1] + side*n1[1]*hw}
		if kind == "miter" && 1+dot > 2/(miterLimit*miterLimit) {
			k := side * hw / (1 + dot)
			m := pt{p[0] + (n0[0]+n1[0])*k, p[1] + (n0[1]+n1[1])*k}
			c.path([]pt{p, a, m, b}, true)
			continue
		}
		c.path([]pt{p, a, b}, true)
	}
}

// offsetLine shifts every vertex along its averaged normal.
func offsetLine(line []pt, off float64) []pt {
	line = dedupe(line)
	if off == 0 || len(line) < 2 {
		return line
	}
	out := make([]pt, len(line))
	for i := range line {
		var n pt
		if i > 0 {
			_, n0 := unitNormal(line[i-1], line[i])
			n = pt{n[0] + n0[0], n[1] + n0[1]}
		}
		if i+1 < len(line) {
			_, n1 := unitNormal(line[i], line[i+1])
			n = pt{n[0] + n1[0], n[1] + n1[1]}
		}
		l := math.Hypot(n[0], n[1])
		if l == 0 {
			out[i] = line[i]
			continue
		}
		out[i] = pt{line[i][0] + n[0]/l*off, line[i][1] + n[1]/l*off}
	}
	return out
}

// draw paints the accumulated paths with src and resets the rasterizer.
func (c *canvas) draw(src image.Image) {
	c.ras.Draw(c.dst, c.dst.Bounds(), src, image.Point{})
	c.ras.Reset(c.w, c.h)
}
