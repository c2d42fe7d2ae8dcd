// Package fixture generates test fixtures: noise images for image
// operations, GeoJSON captured from OpenStreetMap and MBTiles packed from
// tile folders.
package fixture

import (
	"errors"
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/renderdiff/internal/style"
	"github.com/aquilax/go-perlin"
	"github.com/disintegration/gift"
)

// PatternOptions configure a noise pattern.
type PatternOptions struct {
	Width, Height int
	// Scale is the noise wavelength in pixels; larger is smoother.
	Scale float64
	Seed  int64
	// Blur is the Gaussian blur sigma applied to the noise. Zero disables it.
	Blur float32
	// Low and High are the colors at the noise minimum and maximum.
	Low, High color.NRGBA
}

// DefaultPatternOptions returns a 64x64 grey-to-white pattern.
func DefaultPatternOptions() PatternOptions {
	return PatternOptions{
		Width:  64,
		Height: 64,
		Scale:  16,
		Seed:   1,
		Low:    color.NRGBA{R: 40, G: 40, B: 40, A: 255},
		High:   color.NRGBA{R: 255, G: 255, B: 255, A: 255},
	}
}

// Pattern renders deterministic Perlin noise mapped onto a color ramp.
// The same options always produce the same pixels.
func Pattern(opts PatternOptions) (*image.RGBA, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, errors.New("pattern size must be positive")
	}
	if opts.Scale <= 0 {
		opts.Scale = 1
	}

	noise := perlinNoise(opts.Width, opts.Height, opts.Scale, opts.Seed)
	if opts.Blur > 0 {
		g := gift.New(gift.GaussianBlur(opts.Blur))
		blurred := image.NewGray(g.Bounds(noise.Bounds()))
		g.Draw(blurred, noise)
		noise = blurred
	}

	out := image.NewRGBA(noise.Bounds())
	for y := 0; y < opts.Height; y++ {
		for x := 0; x < opts.Width; x++ {
			t := float64(noise.GrayAt(x, y).Y) / 255
			out.Set(x, y, style.LerpColor(opts.Low, opts.High, t))
		}
	}
	return out, nil
}

// perlinNoise samples three octaves of noise into a grayscale image.
func perlinNoise(width, height int, scale float64, seed int64) *image.Gray {
	p := perlin.NewPerlin(2.0, 2.0, 3, seed)
	noise := image.NewGray(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			val := p.Noise2D(float64(x)/scale, float64(y)/scale)
			normalized := (val + 1.0) / 2.0
			noise.SetGray(x, y, color.Gray{Y: uint8(math.Max(0, math.Min(255, normalized*255)))})
		}
	}
	return noise
}
