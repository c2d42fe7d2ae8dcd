package engine

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/renderdiff/internal/compare"
	"github.com/MeKo-Tech/renderdiff/internal/mbtiles"
	"github.com/MeKo-Tech/renderdiff/internal/style"
	"github.com/MeKo-Tech/renderdiff/internal/tile"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(size int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeGeoJSONShapes(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want int
	}{
		{"collection", `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{}}]}`, 1},
		{"feature", `{"type":"Feature","geometry":{"type":"LineString","coordinates":[[0,0],[1,1]]},"properties":{"k":"v"}}`, 1},
		{"geometry", `{"type":"Polygon","coordinates":[[[0,0],[1,0],[1,1],[0,0]]]}`, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			features, err := decodeGeoJSON([]byte(tt.doc))
			require.NoError(t, err)
			assert.Len(t, features, tt.want)
		})
	}

	_, err := decodeGeoJSON([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestLoadGeoJSONFromFileAndObject(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.geojson")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"Point","coordinates":[5,6]}`), 0o644))

	features, err := loadGeoJSON("file://" + path)
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.Equal(t, orb.Point{5, 6}, features[0].Geometry)

	features, err = loadGeoJSON(map[string]any{"type": "FeatureCollection", "features": []any{}})
	require.NoError(t, err)
	assert.Empty(t, features)

	_, err = loadGeoJSON(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
	_, err = loadGeoJSON(12.0)
	assert.Error(t, err)
}

func TestRasterZoom(t *testing.T) {
	spec := &style.Source{TileSize: 512, MaxZoom: 22}
	assert.Equal(t, uint32(3), rasterZoom(spec, 3.2))
	assert.Equal(t, uint32(4), rasterZoom(spec, 3.6))

	// 256px tiles are one level deeper for the same camera.
	spec = &style.Source{TileSize: 256, MaxZoom: 5}
	assert.Equal(t, uint32(4), rasterZoom(spec, 3))
	assert.Equal(t, uint32(5), rasterZoom(spec, 9))

	spec = &style.Source{TileSize: 512, MinZoom: 2, MaxZoom: 22}
	assert.Equal(t, uint32(2), rasterZoom(spec, 0))
}

func TestLoadTileFromTemplate(t *testing.T) {
	dir := t.TempDir()
	c := tile.NewCoords(1, 1, 0)
	tilePath := filepath.Join(dir, "1", "1", "0.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(tilePath), 0o755))
	require.NoError(t, compare.WritePNG(tilePath, solidImage(4, color.RGBA{G: 255, A: 255})))

	spec := &style.Source{Tiles: []string{"file://" + dir + "/{z}/{x}/{y}.png"}}
	v, err := loadTileFunc(spec, nil, c)(context.Background())
	require.NoError(t, err)
	img := v.(*image.RGBA)
	assert.Equal(t, color.RGBA{G: 255, A: 255}, img.RGBAAt(1, 1))

	v, err = loadTileFunc(spec, nil, tile.NewCoords(1, 0, 0))(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v.(*image.RGBA), "missing tiles load empty")
}

func TestLoadTileTMSRow(t *testing.T) {
	dir := t.TempDir()
	// z1 row 0 is TMS row 1.
	tilePath := filepath.Join(dir, "1", "0", "1.png")
	require.NoError(t, os.MkdirAll(filepath.Dir(tilePath), 0o755))
	require.NoError(t, compare.WritePNG(tilePath, solidImage(2, color.RGBA{B: 255, A: 255})))

	spec := &style.Source{Tiles: []string{dir + "/{z}/{x}/{y}.png"}, TMS: true}
	v, err := loadTileFunc(spec, nil, tile.NewCoords(1, 0, 0))(context.Background())
	require.NoError(t, err)
	require.NotNil(t, v.(*image.RGBA))
}

func TestLoadTileFromMBTiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.mbtiles")
	w, err := mbtiles.Create(path, mbtiles.Metadata{Name: "t", Format: "png"})
	require.NoError(t, err)
	c := tile.NewCoords(2, 1, 3)
	require.NoError(t, w.WriteTile(c, encodePNG(t, solidImage(8, color.RGBA{R: 255, A: 255}))))
	require.NoError(t, w.Close())

	r, err := mbtiles.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	spec := &style.Source{URL: "mbtiles://" + path}
	v, err := loadTileFunc(spec, r, c)(context.Background())
	require.NoError(t, err)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, v.(*image.RGBA).RGBAAt(0, 0))

	v, err = loadTileFunc(spec, r, tile.NewCoords(2, 0, 0))(context.Background())
	require.NoError(t, err)
	assert.Nil(t, v.(*image.RGBA))
}

func TestLoadTileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiles.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"tiles":["file:///x/{z}/{x}/{y}.png"],"maxzoom":4,"scheme":"tms"}`), 0o644))

	tj, err := loadTileJSON("file://" + path)
	require.NoError(t, err)
	assert.Equal(t, []string{"file:///x/{z}/{x}/{y}.png"}, tj.Tiles)
	require.NotNil(t, tj.MaxZoom)
	assert.Equal(t, 4, *tj.MaxZoom)
	assert.Nil(t, tj.MinZoom)

	_, err = loadTileJSON("https://example.com/tiles.json")
	assert.ErrorContains(t, err, "not local")
}

func TestLoadSourceFuncSelection(t *testing.T) {
	assert.NotNil(t, loadSourceFunc(&style.Source{Type: style.SourceGeoJSON}))
	assert.NotNil(t, loadSourceFunc(&style.Source{Type: style.SourceRaster, URL: "mbtiles:///a.mbtiles"}))
	assert.NotNil(t, loadSourceFunc(&style.Source{Type: style.SourceRaster, URL: "file:///a.json"}))
	assert.Nil(t, loadSourceFunc(&style.Source{Type: style.SourceRaster, Tiles: []string{"/t/{z}/{x}/{y}.png"}}))
	assert.Nil(t, loadSourceFunc(&style.Source{Type: style.SourceVector, URL: "file:///v.json"}))
}

func TestLoadSpritePrefersHighDensity(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "sprite")

	sheet := image.NewRGBA(image.Rect(0, 0, 4, 2))
	draw.Draw(sheet, image.Rect(0, 0, 2, 2), image.NewUniform(color.RGBA{R: 255, A: 255}), image.Point{}, draw.Src)
	draw.Draw(sheet, image.Rect(2, 0, 4, 2), image.NewUniform(color.RGBA{B: 255, A: 255}), image.Point{}, draw.Src)
	require.NoError(t, compare.WritePNG(base+".png", sheet))
	require.NoError(t, os.WriteFile(base+".json", []byte(`{
		"red": {"x":0,"y":0,"width":2,"height":2,"pixelRatio":1},
		"blue": {"x":2,"y":0,"width":2,"height":2,"pixelRatio":1,"sdf":true},
		"outside": {"x":3,"y":0,"width":4,"height":4,"pixelRatio":1}
	}`), 0o644))

	images, err := loadSprite("file://"+base, 1)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, color.RGBA{R: 255, A: 255}, images["red"].Pixels.RGBAAt(1, 1))
	assert.True(t, images["blue"].SDF)

	require.NoError(t, compare.WritePNG(base+"@2x.png", solidImage(4, color.RGBA{G: 255, A: 255})))
	require.NoError(t, os.WriteFile(base+"@2x.json", []byte(`{"red": {"x":0,"y":0,"width":4,"height":4,"pixelRatio":2}}`), 0o644))

	images, err = loadSprite(base, 2)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, 2.0, images["red"].PixelRatio)
	assert.Equal(t, 4, images["red"].Pixels.Bounds().Dx())
}
