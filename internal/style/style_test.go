package style

import (
	"errors"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	doc := []byte(`{
		"version": 8,
		"center": [13.4, 52.5],
		"zoom": 3,
		"sprite": "file:///tmp/sprite",
		"transition": {"duration": 0},
		"sources": {
			"points": {"type": "geojson", "data": {"type": "FeatureCollection", "features": []}},
			"broken": {"type": "video"}
		},
		"layers": [
			{"id": "bg", "type": "background", "paint": {"background-color": "#fff"}},
			{"id": "dots", "type": "circle", "source": "points", "paint": {"circle-radius": 4}},
			{"id": "dots", "type": "circle", "source": "points"},
			{"id": "nosource", "type": "fill"}
		]
	}`)

	s, err := Parse(doc)
	require.NoError(t, err)

	assert.Equal(t, 8, s.Version)
	require.NotNil(t, s.Center)
	assert.InDelta(t, 13.4, s.Center.Lon(), 1e-9)
	require.NotNil(t, s.Zoom)
	assert.Equal(t, 3.0, *s.Zoom)
	assert.True(t, s.Transition.Immediate())

	require.Len(t, s.Sources, 1)
	assert.Equal(t, SourceGeoJSON, s.Sources["points"].Type)

	require.Len(t, s.Layers, 2)
	assert.Equal(t, "bg", s.Layers[0].ID)
	assert.Equal(t, 4.0, s.Layers[1].Number("circle-radius"))

	// video source, duplicate layer, fill without source
	assert.Len(t, s.Warnings, 3)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"version": 7}`))
	var ce *ConversionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "version", ce.Path)
}

func TestConvertLayer(t *testing.T) {
	tests := []struct {
		name    string
		input   any
		wantErr bool
	}{
		{name: "fill", input: map[string]any{"id": "a", "type": "fill", "source": "s"}},
		{name: "background needs no source", input: map[string]any{"id": "a", "type": "background"}},
		{name: "not an object", input: []any{"id"}, wantErr: true},
		{name: "missing id", input: map[string]any{"type": "fill", "source": "s"}, wantErr: true},
		{name: "unsupported type", input: map[string]any{"id": "a", "type": "heatmap", "source": "s"}, wantErr: true},
		{name: "bad paint", input: map[string]any{"id": "a", "type": "line", "source": "s",
			"paint": map[string]any{"line-width": "wide"}}, wantErr: true},
		{name: "paint in layout", input: map[string]any{"id": "a", "type": "line", "source": "s",
			"layout": map[string]any{"line-color": "red"}}, wantErr: true},
		{name: "bad filter", input: map[string]any{"id": "a", "type": "fill", "source": "s",
			"filter": []any{"within", "x"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := ConvertLayer(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				var ce *ConversionError
				assert.True(t, errors.As(err, &ce), "want ConversionError, got %T", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "a", l.ID)
			assert.True(t, l.Visible())
		})
	}
}

func TestLayerDefaultsAndClone(t *testing.T) {
	l, err := ConvertLayer(map[string]any{
		"id": "roads", "type": "line", "source": "s",
		"layout": map[string]any{"visibility": "none"},
	})
	require.NoError(t, err)

	assert.False(t, l.Visible())
	assert.Equal(t, 1.0, l.Number("line-width"))
	c, ok := l.Color("line-color")
	require.True(t, ok)
	assert.Equal(t, color.NRGBA{0, 0, 0, 255}, c)

	clone := l.Clone()
	clone.Layout["visibility"] = "visible"
	assert.False(t, l.Visible())
	assert.True(t, clone.Visible())
}

func TestConvertSource(t *testing.T) {
	s, err := ConvertSource("sat", map[string]any{
		"type": "raster", "tiles": []any{"file:///tiles/{z}/{x}/{y}.png"}, "tileSize": 256.0, "scheme": "tms",
	})
	require.NoError(t, err)
	assert.Equal(t, 256, s.TileSize)
	assert.True(t, s.TMS)
	assert.Equal(t, 22, s.MaxZoom)

	_, err = ConvertSource("sat", map[string]any{"type": "raster"})
	require.Error(t, err)

	_, err = ConvertSource("pts", map[string]any{"type": "geojson"})
	require.Error(t, err)

	_, err = ConvertSource("", map[string]any{"type": "geojson", "data": "x"})
	require.Error(t, err)
}

func TestValidateProperty(t *testing.T) {
	require.NoError(t, ValidateProperty(LayerFill, "fill-color", "rgba(10, 20, 30, 0.5)", false))
	require.NoError(t, ValidateProperty(LayerFill, "fill-color", nil, false))
	require.NoError(t, ValidateProperty(LayerFill, "fill-color-transition", map[string]any{"duration": 100.0}, false))
	require.NoError(t, ValidateProperty(LayerLine, "line-join", "round", true))

	require.Error(t, ValidateProperty(LayerFill, "fill-colour", "red", false))
	require.Error(t, ValidateProperty(LayerFill, "fill-color", "nope", false))
	require.Error(t, ValidateProperty(LayerFill, "fill-opacity", -1.0, false))
	require.Error(t, ValidateProperty(LayerLine, "line-join", "curly", true))
	require.Error(t, ValidateProperty(LayerCircle, "circle-radius-transition", "fast", false))

	assert.True(t, IsLayoutProperty(LayerSymbol, "icon-image"))
	assert.False(t, IsLayoutProperty(LayerSymbol, "icon-opacity"))
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		in   string
		want color.NRGBA
	}{
		{"#f00", color.NRGBA{255, 0, 0, 255}},
		{"#00ff0080", color.NRGBA{0, 255, 0, 128}},
		{"rgb(1, 2, 3)", color.NRGBA{1, 2, 3, 255}},
		{"rgba(255,255,255,0.5)", color.NRGBA{255, 255, 255, 128}},
		{"Transparent", color.NRGBA{}},
	}
	for _, tt := range tests {
		got, err := ParseColor(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"", "#12", "rgb(1,2)", "hsl(0, 0%, 0%)", "#zzzzzz"} {
		_, err := ParseColor(bad)
		assert.Error(t, err, bad)
	}

	c := color.NRGBA{12, 200, 7, 99}
	back, err := ParseColor(FormatColor(c))
	require.NoError(t, err)
	assert.Equal(t, c, back)
}

func TestParseTransition(t *testing.T) {
	tr, err := ParseTransition(map[string]any{"duration": 250.0, "delay": 50.0})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, tr.Duration)
	assert.Equal(t, 300*time.Millisecond, tr.Total())

	_, err = ParseTransition(map[string]any{"duration": -1.0})
	require.Error(t, err)
	_, err = ParseTransition(map[string]any{"speed": 1.0})
	require.Error(t, err)
}
