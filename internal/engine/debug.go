package engine

import (
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/renderdiff/internal/composite"
	"github.com/MeKo-Tech/renderdiff/internal/scene"
	"github.com/MeKo-Tech/renderdiff/internal/tile"
)

var (
	tileBorderColor = color.NRGBA{R: 255, A: 255}
	placedBoxColor  = color.NRGBA{G: 255, A: 255}
	rejectBoxColor  = color.NRGBA{R: 255, A: 160}
)

// drawDebug applies the enabled debug overlays. The overdraw inspector
// replaces the frame with its heat map; the other overlays draw on top.
func (m *Map) drawDebug(frame *image.RGBA, tr *transform, pl *placer, overdraw *composite.Overdraw) *image.RGBA {
	if overdraw != nil {
		frame = overdraw.Heat()
	}
	if m.opts.Debug.Has(scene.DebugTileBorders) {
		m.drawTileBorders(frame, tr)
	}
	if m.opts.Debug.Has(scene.DebugCollision) {
		drawBoxes(frame, pl.placed, placedBoxColor, m.opts.PixelRatio)
		drawBoxes(frame, pl.rejected, rejectBoxColor, m.opts.PixelRatio)
	}
	return frame
}

func (m *Map) drawTileBorders(frame *image.RGBA, tr *transform) {
	z := uint32(math.Max(0, math.Floor(m.zoom)))
	cv := newCanvas(frame)
	drawn := false
	for _, c := range tile.Cover(tr.visibleBound(), z) {
		b := c.Bound()
		ring := []pt{}
		for _, p := range b.ToRing() {
			x, y := tr.toScreen(p)
			ring = append(ring, pt{x, y})
		}
		cv.stroke(ring, strokeStyle{width: m.opts.PixelRatio, join: "miter", closed: true})
		drawn = true
	}
	if drawn {
		cv.draw(uniform(tileBorderColor))
	}
}

func drawBoxes(frame *image.RGBA, boxes []image.Rectangle, c color.NRGBA, pixelRatio float64) {
	if len(boxes) == 0 {
		return
	}
	w := max(1, int(math.Round(pixelRatio)))
	cv := newCanvas(frame)
	for _, b := range boxes {
		cv.rect(image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+w))
		cv.rect(image.Rect(b.Min.X, b.Max.Y-w, b.Max.X, b.Max.Y))
		cv.rect(image.Rect(b.Min.X, b.Min.Y+w, b.Min.X+w, b.Max.Y-w))
		cv.rect(image.Rect(b.Max.X-w, b.Min.Y+w, b.Max.X, b.Max.Y-w))
	}
	cv.draw(uniform(c))
}
