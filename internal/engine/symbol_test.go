package engine

import (
	"fmt"
	"image"
	"image/color"
	"testing"

	"github.com/MeKo-Tech/renderdiff/internal/scene"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pin = scene.Image{Name: "pin", Pixels: solidImage(8, color.RGBA{R: 255, A: 255}), PixelRatio: 1}

func symbolStyle(layout string, sources map[string]string, layers ...string) string {
	src := ""
	for id, data := range sources {
		if src != "" {
			src += ","
		}
		src += fmt.Sprintf(`%q: {"type": "geojson", "data": %s}`, id, data)
	}
	lyr := ""
	for i, id := range layers {
		if i > 0 {
			lyr += ","
		}
		lyr += fmt.Sprintf(`{"id": %q, "type": "symbol", "source": %q, "layout": {%s}, "paint": {"icon-opacity": 0.5}}`, id, id, layout)
	}
	return fmt.Sprintf(`{"version": 8, "center": [0, 0], "zoom": 0, "sources": {%s}, "layers": [%s]}`, src, lyr)
}

func TestSymbolCollision(t *testing.T) {
	twoPins := pointCollection([2]float64{0, 0}, [2]float64{0, 0})
	tests := []struct {
		name   string
		layout string
		alpha  int
	}{
		{"second icon is rejected", `"icon-image": "pin"`, 128},
		{"overlap allowed", `"icon-image": "pin", "icon-allow-overlap": true`, 191},
		{"ignore placement does not block", `"icon-image": "pin", "icon-ignore-placement": true`, 191},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestMap(t, scene.Options{})
			loadStyle(t, m, symbolStyle(tt.layout, map[string]string{"pins": twoPins}, "pins"))
			m.AddImage(pin)

			px := settle(t, m).RGBAAt(32, 32)
			assert.InDelta(t, tt.alpha, int(px.A), 2)
			assert.Equal(t, px.A, px.R)
		})
	}
}

func TestCrossSourceCollisions(t *testing.T) {
	one := pointCollection([2]float64{0, 0})
	for _, cross := range []bool{false, true} {
		m, _ := newTestMap(t, scene.Options{CrossSourceCollisions: cross})
		loadStyle(t, m, symbolStyle(`"icon-image": "pin"`, map[string]string{"a": one, "b": one}, "a", "b"))
		m.AddImage(pin)

		px := settle(t, m).RGBAAt(32, 32)
		if cross {
			assert.InDelta(t, 128, int(px.A), 2, "shared index rejects the second source")
		} else {
			assert.InDelta(t, 191, int(px.A), 2, "per-source index places both")
		}
	}
}

func TestSymbolTokensAndMissingImages(t *testing.T) {
	m, _ := newTestMap(t, scene.Options{})
	loadStyle(t, m, symbolStyle(`"icon-image": "{kind}"`, map[string]string{
		"pts": pointCollection([2]float64{0, 0}, [2]float64{-10, 0}),
	}, "pts"))
	m.AddImage(scene.Image{Name: "k0", Pixels: pin.Pixels, PixelRatio: 1})

	img := settle(t, m)
	assert.NotZero(t, img.RGBAAt(32, 32).A)
	assert.Zero(t, img.RGBAAt(32-14, 32).A, "k1 has no image")
	assert.True(t, m.warned["k1"])
}

func TestTileModeAvoidsEdges(t *testing.T) {
	edge := pointCollection([2]float64{21.09, 0})
	for _, mode := range []scene.Mode{scene.ModeStatic, scene.ModeTile} {
		m, _ := newTestMap(t, scene.Options{Mode: mode})
		loadStyle(t, m, symbolStyle(`"icon-image": "pin"`, map[string]string{"edge": edge}, "edge"))
		m.AddImage(pin)

		a := settle(t, m).RGBAAt(60, 32).A
		if mode == scene.ModeTile {
			assert.Zero(t, a, "icons crossing the tile edge are dropped")
		} else {
			assert.NotZero(t, a)
		}
	}
}

func TestCollisionOverlay(t *testing.T) {
	m, _ := newTestMap(t, scene.Options{Debug: scene.DebugCollision})
	loadStyle(t, m, symbolStyle(`"icon-image": "pin"`, map[string]string{"pins": pointCollection([2]float64{0, 0})}, "pins"))
	m.AddImage(pin)

	img := settle(t, m)
	// Box outline around the placed 8x8 icon.
	assert.Equal(t, color.RGBA{G: 255, A: 255}, img.RGBAAt(28, 28))
}

func TestIconBitmapScalesByPixelRatio(t *testing.T) {
	m, _ := newTestMap(t, scene.Options{PixelRatio: 2})
	ref := imageRef{pixels: pin.Pixels, pixelRatio: 1}

	assert.Equal(t, image.Rect(0, 0, 16, 16), m.iconBitmap("pin", ref, 1, 0).Bounds())
	assert.Equal(t, image.Rect(0, 0, 8, 8), m.iconBitmap("pin", ref, 0.5, 0).Bounds())
	assert.Same(t, m.iconBitmap("pin", ref, 1, 0), m.iconBitmap("pin", ref, 1, 0))

	hd := imageRef{pixels: solidImage(16, color.White), pixelRatio: 2}
	assert.Same(t, hd.pixels, m.iconBitmap("hd", hd, 1, 0))

	rotated := m.iconBitmap("pin", ref, 1, 45)
	assert.Greater(t, rotated.Bounds().Dx(), 16)
}

func TestSDFIcon(t *testing.T) {
	field := image.NewRGBA(image.Rect(0, 0, 3, 1))
	field.SetRGBA(0, 0, color.RGBA{A: 255})
	field.SetRGBA(1, 0, color.RGBA{A: 150})
	field.SetRGBA(2, 0, color.RGBA{A: 0})

	fill := color.NRGBA{B: 255, A: 255}
	halo := color.NRGBA{R: 255, A: 255}

	out := sdfIcon(field, fill, halo, 0)
	assert.Equal(t, color.RGBA{B: 255, A: 255}, out.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{}, out.RGBAAt(1, 0))
	assert.Equal(t, color.RGBA{}, out.RGBAAt(2, 0))

	out = sdfIcon(field, fill, halo, 4)
	assert.Equal(t, color.RGBA{B: 255, A: 255}, out.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 255, A: 255}, out.RGBAAt(1, 0), "halo rings the glyph")
	assert.Equal(t, color.RGBA{}, out.RGBAAt(2, 0))
}

func TestResolveTokens(t *testing.T) {
	props := geojson.Properties{"kind": "cafe", "rank": 3.0}
	assert.Equal(t, "icon-cafe-3", resolveTokens("icon-{kind}-{rank}", props))
	assert.Equal(t, "icon-", resolveTokens("icon-{missing}", props))
	assert.Equal(t, "plain", resolveTokens("plain", props))
}

func TestAnchorOffset(t *testing.T) {
	assert.Equal(t, image.Pt(-5, -3), anchorOffset("center", 10, 6))
	assert.Equal(t, image.Pt(0, -6), anchorOffset("bottom-left", 10, 6))
	assert.Equal(t, image.Pt(-10, 0), anchorOffset("top-right", 10, 6))
	assert.Equal(t, image.Pt(-5, 0), anchorOffset("top", 10, 6))
}

func TestSymbolAnchors(t *testing.T) {
	line := orb.LineString{{0, 0}, {2, 0}, {2, 2}}
	require.Empty(t, symbolAnchors(line, "point"))
	assert.Equal(t, []orb.Point{{2, 0}}, symbolAnchors(line, "line"))
	assert.Equal(t, []orb.Point{{1, 1}}, symbolAnchors(orb.MultiPoint{{1, 1}}, "line"))
}
