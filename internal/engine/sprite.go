package engine

import (
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"os"

	"github.com/MeKo-Tech/renderdiff/internal/compare"
	"github.com/MeKo-Tech/renderdiff/internal/scene"
)

type spriteEntry struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	PixelRatio float64 `json:"pixelRatio"`
	SDF        bool    `json:"sdf"`
}

// loadSprite reads <base>[@2x].json and .png and slices the sheet into images.
// The @2x sheet is preferred for pixel ratios above one when it exists.
func loadSprite(base string, pixelRatio float64) (map[string]scene.Image, error) {
	base = filePath(base)
	prefix := base
	if pixelRatio > 1 {
		if _, err := os.Stat(base + "@2x.json"); err == nil {
			prefix = base + "@2x"
		}
	}

	index, err := os.ReadFile(prefix + ".json")
	if err != nil {
		return nil, fmt.Errorf("read sprite index: %w", err)
	}
	var entries map[string]spriteEntry
	if err := json.Unmarshal(index, &entries); err != nil {
		return nil, fmt.Errorf("decode sprite index: %w", err)
	}

	sheet, err := compare.ReadPNG(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("read sprite sheet: %w", err)
	}

	images := make(map[string]scene.Image, len(entries))
	for name, e := range entries {
		r := image.Rect(e.X, e.Y, e.X+e.Width, e.Y+e.Height)
		if r.Empty() || !r.In(sheet.Bounds()) {
			continue
		}
		px := image.NewRGBA(image.Rect(0, 0, e.Width, e.Height))
		draw.Draw(px, px.Bounds(), sheet, r.Min, draw.Src)

		pr := e.PixelRatio
		if pr <= 0 {
			pr = 1
		}
		images[name] = scene.Image{Name: name, Pixels: px, PixelRatio: pr, SDF: e.SDF}
	}
	return images, nil
}
