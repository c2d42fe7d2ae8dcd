// Package compare scores a rendered frame against the expected fixture image
// of a test and writes the actual and diff artifacts next to it.
package compare

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/orisano/pixelmatch"
)

// DefaultThreshold is the per-pixel color distance threshold.
const DefaultThreshold = 0.13

const (
	ExpectedFile = "expected.png"
	ActualFile   = "actual.png"
	DiffFile     = "diff.png"
)

// Status classifies a comparison outcome.
type Status string

const (
	StatusCompared       Status = "compared"
	StatusUpdated        Status = "updated"
	StatusMissingFixture Status = "missing-fixture"
	StatusSizeMismatch   Status = "size-mismatch"
	StatusError          Status = "error"
)

// Result is the outcome of one comparison.
type Result struct {
	// Score is the fraction of differing pixels, or +Inf when no comparison happened.
	Score      float64
	Status     Status
	DiffPixels int
	Err        error
}

// Pass reports whether the score is within the allowed tolerance.
func (r Result) Pass(allowed float64) bool {
	return r.Score <= allowed
}

// Comparator compares frames against fixtures.
type Comparator struct {
	Threshold float64
	// Update rewrites expected.png with the actual frame instead of comparing.
	Update bool
	// ReadOnly forbids every filesystem write.
	ReadOnly bool
	Logger   *slog.Logger
}

// New returns a comparator with the default threshold.
func New(update, readOnly bool, logger *slog.Logger) *Comparator {
	return &Comparator{Threshold: DefaultThreshold, Update: update, ReadOnly: readOnly, Logger: logger}
}

func (c *Comparator) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Comparator) readOnly() bool {
	return c.ReadOnly || readOnlyBuild
}

func (c *Comparator) threshold() float64 {
	if c.Threshold > 0 {
		return c.Threshold
	}
	return DefaultThreshold
}

func failed(status Status, err error) Result {
	return Result{Score: math.Inf(1), Status: status, Err: err}
}

// Compare scores actual against <dir>/expected.png.
func (c *Comparator) Compare(actual *image.RGBA, dir string) Result {
	expectedPath := filepath.Join(dir, ExpectedFile)

	if c.Update {
		if c.readOnly() {
			c.log().Warn("Update mode ignored in read-only mode", "dir", dir)
		} else {
			if err := WritePNG(expectedPath, actual); err != nil {
				c.log().Error("Failed to update expected image", "path", expectedPath, "error", err)
				return failed(StatusError, err)
			}
			return Result{Status: StatusUpdated}
		}
	}

	expected, err := ReadPNG(expectedPath)
	if err != nil {
		c.log().Error("Failed to load expected image", "path", expectedPath, "error", err)
		return failed(StatusMissingFixture, err)
	}

	if !c.readOnly() {
		c.writeArtifact(filepath.Join(dir, ActualFile), actual)
	}

	if expected.Bounds().Size() != actual.Bounds().Size() {
		err := fmt.Errorf("expected %v, actual %v", expected.Bounds().Size(), actual.Bounds().Size())
		c.log().Error("Expected and actual image sizes differ", "dir", dir, "error", err)
		return failed(StatusSizeMismatch, err)
	}

	var diff image.Image
	pixels, err := pixelmatch.MatchPixel(expected, actual,
		pixelmatch.Threshold(c.threshold()),
		pixelmatch.WriteTo(&diff),
	)
	if err != nil {
		return failed(StatusError, fmt.Errorf("pixelmatch: %w", err))
	}

	if !c.readOnly() {
		// Identical images skip the diff raster entirely.
		if diff == nil {
			diff = fadedGray(expected)
		}
		c.writeArtifact(filepath.Join(dir, DiffFile), Normalize(diff))
	}

	area := actual.Bounds().Dx() * actual.Bounds().Dy()
	if area == 0 {
		return Result{Status: StatusCompared}
	}
	return Result{
		Score:      float64(pixels) / float64(area),
		Status:     StatusCompared,
		DiffPixels: pixels,
	}
}

// fadedGray renders img the way pixelmatch draws unchanged pixels: its luma
// blended towards white at 10% strength.
func fadedGray(img *image.RGBA) *image.RGBA {
	out := image.NewRGBA(img.Bounds())
	for i := 0; i+3 < len(img.Pix); i += 4 {
		r, g, b, a := float64(img.Pix[i]), float64(img.Pix[i+1]), float64(img.Pix[i+2]), float64(img.Pix[i+3])
		luma := r*0.29889531 + g*0.58662247 + b*0.11448223
		v := uint8(math.Round(255 + (luma-255)*0.1*a/255))
		out.Pix[i], out.Pix[i+1], out.Pix[i+2], out.Pix[i+3] = v, v, v, 255
	}
	return out
}

func (c *Comparator) writeArtifact(path string, img image.Image) {
	if err := WritePNG(path, img); err != nil {
		c.log().Warn("Failed to write artifact", "path", path, "error", err)
	}
}

// Exists reports whether dir holds an expected image.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ExpectedFile))
	return err == nil
}
