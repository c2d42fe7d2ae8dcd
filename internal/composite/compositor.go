// Package composite stacks per-layer paint buffers into a frame and keeps the
// overdraw statistics shown by the overdraw inspector.
package composite

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
)

// Layer is one painted buffer in a stack.
type Layer struct {
	Name    string
	Image   *image.RGBA
	Opacity float64
}

// Stack composites layers bottom-to-top over base using source-over blending.
// Every layer must cover exactly bounds.
func Stack(base color.Color, layers []Layer, bounds image.Rectangle) (*image.RGBA, error) {
	if bounds.Empty() {
		return nil, fmt.Errorf("bounds must not be empty")
	}

	dst := image.NewRGBA(bounds)
	if base != nil {
		draw.Draw(dst, bounds, image.NewUniform(base), image.Point{}, draw.Src)
	}

	for _, layer := range layers {
		if layer.Image == nil {
			continue
		}
		if layer.Image.Bounds() != bounds {
			return nil, fmt.Errorf("layer %s bounds %v do not match expected %v", layer.Name, layer.Image.Bounds(), bounds)
		}
		Over(dst, layer.Image, layer.Opacity)
	}
	return dst, nil
}

// Over blends src onto dst with a uniform opacity in [0, 1].
func Over(dst *image.RGBA, src image.Image, opacity float64) {
	OverAt(dst, src, src.Bounds().Min, opacity)
}

// OverAt blends src onto dst with its top-left corner placed at at.
func OverAt(dst *image.RGBA, src image.Image, at image.Point, opacity float64) {
	if opacity <= 0 {
		return
	}
	sb := src.Bounds()
	r := dst.Bounds().Intersect(sb.Add(at.Sub(sb.Min)))
	if r.Empty() {
		return
	}
	sp := r.Min.Sub(at).Add(sb.Min)
	if opacity >= 1 {
		draw.Draw(dst, r, src, sp, draw.Over)
		return
	}
	mask := image.NewUniform(color.Alpha{A: uint8(math.Round(opacity * 255))})
	draw.DrawMask(dst, r, src, sp, mask, image.Point{}, draw.Over)
}

// Overdraw counts, per pixel, how many layers painted it.
type Overdraw struct {
	bounds image.Rectangle
	counts []uint16
}

// NewOverdraw returns a counter covering bounds.
func NewOverdraw(bounds image.Rectangle) *Overdraw {
	return &Overdraw{bounds: bounds, counts: make([]uint16, bounds.Dx()*bounds.Dy())}
}

// Add records every non-transparent pixel of img.
func (o *Overdraw) Add(img *image.RGBA) {
	r := o.bounds.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			if img.Pix[img.PixOffset(x, y)+3] == 0 {
				continue
			}
			i := (y-o.bounds.Min.Y)*o.bounds.Dx() + (x - o.bounds.Min.X)
			if o.counts[i] < math.MaxUint16 {
				o.counts[i]++
			}
		}
	}
}

// At returns the count at (x, y).
func (o *Overdraw) At(x, y int) int {
	if !(image.Point{x, y}).In(o.bounds) {
		return 0
	}
	return int(o.counts[(y-o.bounds.Min.Y)*o.bounds.Dx()+(x-o.bounds.Min.X)])
}

// heatRamp maps overdraw counts to colors; counts past the end use the last stop.
var heatRamp = []color.RGBA{
	{0, 0, 0, 255},
	{0, 0, 128, 255},
	{0, 96, 255, 255},
	{0, 200, 96, 255},
	{255, 230, 0, 255},
	{255, 128, 0, 255},
	{255, 0, 0, 255},
}

// Heat renders the counts as an opaque heat map.
func (o *Overdraw) Heat() *image.RGBA {
	out := image.NewRGBA(o.bounds)
	for y := o.bounds.Min.Y; y < o.bounds.Max.Y; y++ {
		for x := o.bounds.Min.X; x < o.bounds.Max.X; x++ {
			c := o.At(x, y)
			if c >= len(heatRamp) {
				c = len(heatRamp) - 1
			}
			out.SetRGBA(x, y, heatRamp[c])
		}
	}
	return out
}
