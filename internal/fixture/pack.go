package fixture

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MeKo-Tech/renderdiff/internal/mbtiles"
	"github.com/MeKo-Tech/renderdiff/internal/tile"
	"github.com/paulmach/orb"
)

// tileFormats maps tile file extensions to MBTiles formats.
var tileFormats = map[string]string{
	".png":  "png",
	".jpg":  "jpg",
	".jpeg": "jpg",
	".webp": "webp",
}

// Pack writes every {z}/{x}/{y}.<ext> tile below dir into a new MBTiles file
// at out. Zoom range, bounds and format are filled in from the tiles when
// meta leaves them empty. It returns the number of tiles written.
func Pack(dir, out string, meta mbtiles.Metadata) (int, error) {
	type found struct {
		coords tile.Coords
		path   string
	}
	var tiles []found
	format := ""

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		f, ok := tileFormats[ext]
		if !ok {
			return nil
		}
		rel, err := filepath.Rel(dir, strings.TrimSuffix(path, filepath.Ext(path)))
		if err != nil {
			return err
		}
		c, err := tile.ParseCoords(filepath.ToSlash(rel))
		if err != nil {
			return nil
		}
		if format != "" && format != f {
			return fmt.Errorf("mixed tile formats %s and %s", format, f)
		}
		format = f
		tiles = append(tiles, found{coords: c, path: path})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", dir, err)
	}
	if len(tiles) == 0 {
		return 0, fmt.Errorf("no z/x/y tiles found in %s", dir)
	}

	if meta.Format == "" {
		meta.Format = format
	}
	if meta.Name == "" {
		meta.Name = filepath.Base(dir)
	}
	if meta.Type == "" {
		meta.Type = "baselayer"
	}
	if meta.MinZoom == 0 && meta.MaxZoom == 0 {
		meta.MinZoom, meta.MaxZoom = int(tiles[0].coords.Z), int(tiles[0].coords.Z)
		for _, t := range tiles {
			meta.MinZoom = min(meta.MinZoom, int(t.coords.Z))
			meta.MaxZoom = max(meta.MaxZoom, int(t.coords.Z))
		}
	}
	if meta.Bounds == (orb.Bound{}) {
		meta.Bounds = tiles[0].coords.Bound()
		for _, t := range tiles[1:] {
			meta.Bounds = meta.Bounds.Union(t.coords.Bound())
		}
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory: %w", err)
	}
	w, err := mbtiles.Create(out, meta)
	if err != nil {
		return 0, err
	}
	for _, t := range tiles {
		data, err := os.ReadFile(t.path)
		if err != nil {
			w.Close() // nolint:errcheck // Already returning an error
			return 0, fmt.Errorf("read tile %s: %w", t.coords, err)
		}
		if err := w.WriteTile(t.coords, data); err != nil {
			w.Close() // nolint:errcheck // Already returning an error
			return 0, err
		}
	}
	if err := w.Close(); err != nil {
		return 0, err
	}
	return len(tiles), nil
}
