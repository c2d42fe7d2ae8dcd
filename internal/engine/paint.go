package engine

import (
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/renderdiff/internal/style"
	"github.com/disintegration/gift"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	xdraw "golang.org/x/image/draw"
)

func geometryType(g orb.Geometry) string {
	switch g.(type) {
	case orb.Point, orb.MultiPoint:
		return "Point"
	case orb.LineString, orb.MultiLineString:
		return "LineString"
	case orb.Polygon, orb.MultiPolygon, orb.Ring, orb.Bound:
		return "Polygon"
	}
	return "Unknown"
}

func polygons(g orb.Geometry) []orb.Polygon {
	switch v := g.(type) {
	case orb.Polygon:
		return []orb.Polygon{v}
	case orb.MultiPolygon:
		return v
	case orb.Ring:
		return []orb.Polygon{{v}}
	case orb.Bound:
		return []orb.Polygon{v.ToPolygon()}
	case orb.Collection:
		var out []orb.Polygon
		for _, c := range v {
			out = append(out, polygons(c)...)
		}
		return out
	}
	return nil
}

// lines returns line strings and, for polygons, their rings with a flag
// marking closed paths.
func lines(g orb.Geometry) ([]orb.LineString, []bool) {
	var out []orb.LineString
	var closed []bool
	switch v := g.(type) {
	case orb.LineString:
		out, closed = append(out, v), append(closed, false)
	case orb.MultiLineString:
		for _, ls := range v {
			out, closed = append(out, ls), append(closed, false)
		}
	case orb.Collection:
		for _, c := range v {
			l, cl := lines(c)
			out, closed = append(out, l...), append(closed, cl...)
		}
	default:
		for _, p := range polygons(g) {
			for _, r := range p {
				out, closed = append(out, orb.LineString(r)), append(closed, true)
			}
		}
	}
	return out, closed
}

func points(g orb.Geometry) []orb.Point {
	switch v := g.(type) {
	case orb.Point:
		return []orb.Point{v}
	case orb.MultiPoint:
		return v
	case orb.Collection:
		var out []orb.Point
		for _, c := range v {
			out = append(out, points(c)...)
		}
		return out
	}
	return nil
}

func screenLine(tr *transform, ls []orb.Point, dx, dy float64) []pt {
	out := make([]pt, len(ls))
	for i, p := range ls {
		x, y := tr.toScreen(p)
		out[i] = pt{x + dx, y + dy}
	}
	return out
}

func screenPolygon(tr *transform, poly orb.Polygon, dx, dy float64) [][]pt {
	rings := make([][]pt, len(poly))
	for i, r := range poly {
		rings[i] = screenLine(tr, r, dx, dy)
	}
	return rings
}

func matches(l *style.Layer, f *geojson.Feature) bool {
	return l.Filter.Match(f.Properties, geometryType(f.Geometry), f.ID)
}

func uniform(c color.NRGBA) *image.Uniform {
	return image.NewUniform(c)
}

// translate returns a "<prefix>-translate" paint offset in device pixels.
func (m *Map) translate(ls *layerState, name string) (float64, float64) {
	x, y := ls.layer.Pair(name)
	return x * m.opts.PixelRatio, y * m.opts.PixelRatio
}

// paintLayer paints one layer into dst and returns the opacity it is
// composited with.
func (m *Map) paintLayer(dst *image.RGBA, ls *layerState, tr *transform, pl *placer) float64 {
	l := ls.layer
	if l.Type == style.LayerBackground {
		return m.paintBackground(dst, ls, tr)
	}

	src, ok := m.sources[l.Source]
	if !ok || !src.loaded || src.err != nil {
		return 0
	}

	cv := newCanvas(dst)
	switch l.Type {
	case style.LayerFill:
		return m.paintFill(cv, ls, src, tr)
	case style.LayerLine:
		m.paintLine(cv, ls, src, tr)
	case style.LayerCircle:
		m.paintCircle(cv, ls, src, tr)
	case style.LayerRaster:
		m.paintRaster(dst, src, tr)
		return m.paintNumber(ls, "raster-opacity")
	case style.LayerSymbol:
		m.paintSymbol(dst, ls, src, tr, pl)
	}
	return 1
}

func (m *Map) paintBackground(dst *image.RGBA, ls *layerState, tr *transform) float64 {
	opacity := m.paintNumber(ls, "background-opacity")
	if name := ls.layer.String("background-pattern"); name != "" {
		if img, ok := m.image(name); ok {
			fillPattern(dst, m.scaledPattern(img), tr)
			return opacity
		}
		m.missingImage(name)
	}
	c, _ := m.paintColor(ls, "background-color")
	fillUniform(dst, style.WithOpacity(c, opacity))
	return 1
}

func fillUniform(dst *image.RGBA, c color.NRGBA) {
	xdraw.Draw(dst, dst.Bounds(), uniform(c), image.Point{}, xdraw.Src)
}

func (m *Map) paintFill(cv *canvas, ls *layerState, src *sourceState, tr *transform) float64 {
	l := ls.layer
	dx, dy := m.translate(ls, "fill-translate")
	opacity := m.paintNumber(ls, "fill-opacity")

	var polys []orb.Polygon
	for _, f := range src.features {
		if matches(l, f) {
			polys = append(polys, polygons(f.Geometry)...)
		}
	}
	if len(polys) == 0 {
		return 1
	}
	for _, p := range polys {
		cv.polygon(screenPolygon(tr, p, dx, dy))
	}

	if name := l.String("fill-pattern"); name != "" {
		if img, ok := m.image(name); ok {
			pattern := image.NewRGBA(cv.dst.Bounds())
			fillPattern(pattern, m.scaledPattern(img), tr)
			cv.draw(pattern)
			return opacity
		}
		m.missingImage(name)
	}

	c, _ := m.paintColor(ls, "fill-color")
	cv.draw(uniform(style.WithOpacity(c, opacity)))

	if outline, ok := m.paintColor(ls, "fill-outline-color"); ok && l.Bool("fill-antialias") {
		for _, p := range polys {
			for _, ring := range screenPolygon(tr, p, dx, dy) {
				cv.stroke(ring, strokeStyle{width: m.opts.PixelRatio, join: "miter", closed: true})
			}
		}
		cv.draw(uniform(style.WithOpacity(outline, opacity)))
	}
	return 1
}

func (m *Map) paintLine(cv *canvas, ls *layerState, src *sourceState, tr *transform) {
	l := ls.layer
	dx, dy := m.translate(ls, "line-translate")
	st := strokeStyle{
		width: m.paintNumber(ls, "line-width") * m.opts.PixelRatio,
		cap:   l.String("line-cap"),
		join:  l.String("line-join"),
	}
	offset := m.paintNumber(ls, "line-offset") * m.opts.PixelRatio

	drawn := false
	for _, f := range src.features {
		if !matches(l, f) {
			continue
		}
		paths, closed := lines(f.Geometry)
		for i, line := range paths {
			s := st
			s.closed = closed[i]
			cv.stroke(offsetLine(screenLine(tr, line, dx, dy), offset), s)
			drawn = true
		}
	}
	if !drawn {
		return
	}
	c, _ := m.paintColor(ls, "line-color")
	cv.draw(uniform(style.WithOpacity(c, m.paintNumber(ls, "line-opacity"))))
}

func (m *Map) paintCircle(cv *canvas, ls *layerState, src *sourceState, tr *transform) {
	l := ls.layer
	dx, dy := m.translate(ls, "circle-translate")
	pr := m.opts.PixelRatio
	radius := m.paintNumber(ls, "circle-radius") * pr
	strokeWidth := m.paintNumber(ls, "circle-stroke-width") * pr

	var centers []pt
	for _, f := range src.features {
		if !matches(l, f) {
			continue
		}
		for _, p := range points(f.Geometry) {
			x, y := tr.toScreen(p)
			centers = append(centers, pt{x + dx, y + dy})
		}
	}
	if len(centers) == 0 {
		return
	}

	for _, c := range centers {
		cv.disc(c[0], c[1], radius)
	}
	fill, _ := m.paintColor(ls, "circle-color")
	cv.draw(uniform(style.WithOpacity(fill, m.paintNumber(ls, "circle-opacity"))))

	if strokeWidth > 0 {
		for _, c := range centers {
			cv.annulus(c[0], c[1], radius, radius+strokeWidth)
		}
		stroke, _ := m.paintColor(ls, "circle-stroke-color")
		cv.draw(uniform(style.WithOpacity(stroke, m.paintNumber(ls, "circle-stroke-opacity"))))
	}
}

func (m *Map) paintRaster(dst *image.RGBA, src *sourceState, tr *transform) {
	for _, c := range src.wanted {
		img := src.tiles[c]
		if img == nil {
			continue
		}
		aff := tr.tileAffine(c, img.Bounds().Dx())
		xdraw.BiLinear.Transform(dst, aff, img, img.Bounds(), xdraw.Over, nil)
	}
}

// scaledPattern resizes a pattern image from its own pixel ratio to the scene's.
func (m *Map) scaledPattern(img imageRef) *image.RGBA {
	scale := m.opts.PixelRatio / img.pixelRatio
	if scale == 1 {
		return img.pixels
	}
	b := img.pixels.Bounds()
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	g := gift.New(gift.Resize(w, h, gift.LinearResampling))
	out := image.NewRGBA(g.Bounds(b))
	g.Draw(out, img.pixels)
	return out
}

// fillPattern repeats src over dst, aligned to the world pixel grid so the
// pattern stays put when the camera pans by whole pattern cells.
func fillPattern(dst *image.RGBA, src *image.RGBA, tr *transform) {
	sb := src.Bounds()
	width, height := sb.Dx(), sb.Dy()
	if width == 0 || height == 0 {
		return
	}

	cx, cy := tr.centerWorld()
	offsetX := int(math.Floor(cx - tr.width/2))
	offsetY := int(math.Floor(cy - tr.height/2))

	mod := func(a, b int) int {
		r := a % b
		if r < 0 {
			r += b
		}
		return r
	}

	db := dst.Bounds()
	for y := db.Min.Y; y < db.Max.Y; y++ {
		sy := sb.Min.Y + mod(offsetY+y, height)
		for x := db.Min.X; x < db.Max.X; x++ {
			sx := sb.Min.X + mod(offsetX+x, width)
			dst.SetRGBA(x, y, src.RGBAAt(sx, sy))
		}
	}
}
