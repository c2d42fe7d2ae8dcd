package engine

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"regexp"
	"slices"

	"github.com/MeKo-Tech/renderdiff/internal/composite"
	"github.com/MeKo-Tech/renderdiff/internal/scene"
	"github.com/disintegration/gift"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// placer is the collision index of one frame. Boxes are grouped per source
// unless collisions are shared across sources.
type placer struct {
	groups   map[string][]image.Rectangle
	placed   []image.Rectangle
	rejected []image.Rectangle
}

func newPlacer() *placer {
	return &placer{groups: map[string][]image.Rectangle{}}
}

func (p *placer) collides(group string, r image.Rectangle) bool {
	for _, b := range p.groups[group] {
		if b.Overlaps(r) {
			return true
		}
	}
	return false
}

func (p *placer) insert(group string, r image.Rectangle) {
	p.groups[group] = append(p.groups[group], r)
}

var tokenPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// resolveTokens replaces {property} tokens with feature property values.
func resolveTokens(s string, props geojson.Properties) string {
	return tokenPattern.ReplaceAllStringFunc(s, func(tok string) string {
		v, ok := props[tok[1:len(tok)-1]]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

// anchorOffset returns the top-left corner of a w*h box relative to its anchor.
func anchorOffset(anchor string, w, h int) image.Point {
	x, y := -w/2, -h/2
	switch anchor {
	case "left", "top-left", "bottom-left":
		x = 0
	case "right", "top-right", "bottom-right":
		x = -w
	}
	switch anchor {
	case "top", "top-left", "top-right":
		y = 0
	case "bottom", "bottom-left", "bottom-right":
		y = -h
	}
	return image.Pt(x, y)
}

// symbolAnchors returns the placement points of a feature.
func symbolAnchors(g orb.Geometry, placement string) []orb.Point {
	if pts := points(g); len(pts) > 0 {
		return pts
	}
	if placement == "point" {
		return nil
	}
	var out []orb.Point
	paths, _ := lines(g)
	for _, ls := range paths {
		if mid, ok := midpoint(ls); ok {
			out = append(out, mid)
		}
	}
	return out
}

// midpoint returns the point halfway along a line in geographic distance.
func midpoint(ls orb.LineString) (orb.Point, bool) {
	if len(ls) == 0 {
		return orb.Point{}, false
	}
	var total float64
	for i := 1; i < len(ls); i++ {
		total += math.Hypot(ls[i][0]-ls[i-1][0], ls[i][1]-ls[i-1][1])
	}
	half := total / 2
	for i := 1; i < len(ls); i++ {
		seg := math.Hypot(ls[i][0]-ls[i-1][0], ls[i][1]-ls[i-1][1])
		if seg > 0 && half <= seg {
			t := half / seg
			return orb.Point{ls[i-1][0] + (ls[i][0]-ls[i-1][0])*t, ls[i-1][1] + (ls[i][1]-ls[i-1][1])*t}, true
		}
		half -= seg
	}
	return ls[0], true
}

type iconKey struct {
	name   string
	scale  float64
	rotate float64
}

// iconBitmap scales and rotates an icon for the frame.
func (m *Map) iconBitmap(name string, img imageRef, size, rotate float64) *image.RGBA {
	scale := size * m.opts.PixelRatio / img.pixelRatio
	key := iconKey{name: name, scale: scale, rotate: rotate}
	if bmp, ok := m.icons[key]; ok {
		return bmp
	}

	var filters []gift.Filter
	b := img.pixels.Bounds()
	if scale != 1 {
		w := max(1, int(math.Round(float64(b.Dx())*scale)))
		h := max(1, int(math.Round(float64(b.Dy())*scale)))
		filters = append(filters, gift.Resize(w, h, gift.LinearResampling))
	}
	if r := math.Mod(rotate, 360); r != 0 {
		// gift rotates counter-clockwise.
		filters = append(filters, gift.Rotate(float32(-r), color.Transparent, gift.LinearInterpolation))
	}

	bmp := img.pixels
	if len(filters) > 0 {
		g := gift.New(filters...)
		bmp = image.NewRGBA(g.Bounds(b))
		g.Draw(bmp, img.pixels)
	}
	m.icons[key] = bmp
	return bmp
}

func smoothstep(e0, e1, x float64) float64 {
	t := math.Max(0, math.Min(1, (x-e0)/(e1-e0)))
	return t * t * (3 - 2*t)
}

// sdfIcon colors a signed distance field icon. The field's alpha encodes the
// distance, with the glyph edge at 0.75.
func sdfIcon(field *image.RGBA, fill, halo color.NRGBA, haloWidth float64) *image.RGBA {
	const edge, gamma = 0.75, 0.05
	haloEdge := math.Max(gamma, edge-haloWidth/8)

	out := image.NewRGBA(field.Bounds())
	for y := field.Rect.Min.Y; y < field.Rect.Max.Y; y++ {
		for x := field.Rect.Min.X; x < field.Rect.Max.X; x++ {
			d := float64(field.RGBAAt(x, y).A) / 255
			inner := smoothstep(edge-gamma, edge+gamma, d)
			var haloCov float64
			if haloWidth > 0 {
				haloCov = smoothstep(haloEdge-gamma, haloEdge+gamma, d)
			}
			c := blendCoverage(halo, haloCov, fill, inner)
			out.SetRGBA(x, y, c)
		}
	}
	return out
}

// blendCoverage composites fill (with coverage fc) over halo (with coverage hc).
func blendCoverage(halo color.NRGBA, hc float64, fill color.NRGBA, fc float64) color.RGBA {
	premul := func(c color.NRGBA, cov float64) [4]float64 {
		a := float64(c.A) / 255 * cov
		return [4]float64{float64(c.R) * a, float64(c.G) * a, float64(c.B) * a, a * 255}
	}
	h := premul(halo, hc)
	f := premul(fill, fc)
	fa := f[3] / 255
	var out [4]uint8
	for i := range out {
		out[i] = uint8(math.Round(math.Min(255, f[i]+h[i]*(1-fa))))
	}
	return color.RGBA{out[0], out[1], out[2], out[3]}
}

type symbolCandidate struct {
	feature *geojson.Feature
	anchor  orb.Point
	sortKey float64
	order   int
}

func (m *Map) paintSymbol(dst *image.RGBA, ls *layerState, src *sourceState, tr *transform, pl *placer) {
	l := ls.layer
	iconName := l.String("icon-image")
	if iconName == "" {
		if l.String("text-field") != "" {
			m.log().Debug("Text labels are not rendered", "layer", l.ID)
		}
		return
	}

	placement := l.String("symbol-placement")
	var candidates []symbolCandidate
	for _, f := range src.features {
		if !matches(l, f) {
			continue
		}
		key := l.Number("symbol-sort-key")
		if v, ok := f.Properties["sort-key"].(float64); ok {
			key = v
		}
		for _, a := range symbolAnchors(f.Geometry, placement) {
			candidates = append(candidates, symbolCandidate{feature: f, anchor: a, sortKey: key, order: len(candidates)})
		}
	}
	slices.SortStableFunc(candidates, func(a, b symbolCandidate) int {
		switch {
		case a.sortKey < b.sortKey:
			return -1
		case a.sortKey > b.sortKey:
			return 1
		}
		return 0
	})

	size := l.Number("icon-size")
	rotate := l.Number("icon-rotate")
	if l.String("icon-rotation-alignment") == "map" {
		rotate -= tr.bearing
	}
	anchor := l.String("icon-anchor")
	allowOverlap := l.Bool("icon-allow-overlap")
	ignorePlacement := l.Bool("icon-ignore-placement")
	avoidEdges := l.Bool("symbol-avoid-edges") || m.opts.Mode == scene.ModeTile
	opacity := m.paintNumber(ls, "icon-opacity")
	dx, dy := m.translate(ls, "icon-translate")

	group := ""
	if !m.opts.CrossSourceCollisions {
		group = l.Source
	}

	for _, c := range candidates {
		name := resolveTokens(iconName, c.feature.Properties)
		img, ok := m.image(name)
		if !ok {
			m.missingImage(name)
			continue
		}
		bmp := m.iconBitmap(name, img, size, rotate)
		if img.sdf {
			fill, _ := m.paintColor(ls, "icon-color")
			halo, _ := m.paintColor(ls, "icon-halo-color")
			bmp = sdfIcon(bmp, fill, halo, m.paintNumber(ls, "icon-halo-width")*m.opts.PixelRatio)
		}

		x, y := tr.toScreen(c.anchor)
		at := image.Pt(int(math.Round(x+dx)), int(math.Round(y+dy)))
		box := bmp.Bounds().Sub(bmp.Bounds().Min).Add(at).Add(anchorOffset(anchor, bmp.Bounds().Dx(), bmp.Bounds().Dy()))

		if avoidEdges && !box.In(dst.Bounds()) {
			pl.rejected = append(pl.rejected, box)
			continue
		}
		if !allowOverlap && pl.collides(group, box) {
			pl.rejected = append(pl.rejected, box)
			continue
		}
		if !ignorePlacement {
			pl.insert(group, box)
		}
		pl.placed = append(pl.placed, box)
		composite.OverAt(dst, bmp, box.Min, opacity)
	}
}

func (m *Map) missingImage(name string) {
	if m.warned[name] {
		return
	}
	m.warned[name] = true
	m.log().Warn("Image not found", "image", name)
}
