// Package renderer is an optional scene backend that rasterizes layers with
// Mapnik. The Mapnik bindings need cgo and libmapnik and are only compiled
// with the "mapnik" build tag; the map file generation here is pure Go.
package renderer

import (
	"encoding/xml"
	"errors"
	"fmt"
	"image/color"
	"math"

	"github.com/MeKo-Tech/renderdiff/internal/engine"
	"github.com/MeKo-Tech/renderdiff/internal/style"
	"github.com/MeKo-Tech/renderdiff/internal/tile"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// BackendName selects this backend.
const BackendName = "mapnik"

// ErrUnsupportedLayer is returned for layers Mapnik cannot draw from a frame.
var ErrUnsupportedLayer = errors.New("layer type not supported by the mapnik backend")

const (
	mercatorSRS = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs +over"
	wgs84SRS    = "+init=epsg:4326"
)

type mapXML struct {
	XMLName    xml.Name   `xml:"Map"`
	SRS        string     `xml:"srs,attr"`
	Background string     `xml:"background-color,attr,omitempty"`
	Styles     []styleXML `xml:"Style"`
	Layers     []layerXML `xml:"Layer"`
}

type styleXML struct {
	Name string  `xml:"name,attr"`
	Rule ruleXML `xml:"Rule"`
}

type ruleXML struct {
	Polygon *polygonSymbolizer `xml:"PolygonSymbolizer,omitempty"`
	Lines   []lineSymbolizer   `xml:"LineSymbolizer"`
	Markers *markersSymbolizer `xml:"MarkersSymbolizer,omitempty"`
}

type polygonSymbolizer struct {
	Fill    string  `xml:"fill,attr"`
	Opacity float64 `xml:"fill-opacity,attr"`
}

type lineSymbolizer struct {
	Stroke  string  `xml:"stroke,attr"`
	Width   float64 `xml:"stroke-width,attr"`
	Opacity float64 `xml:"stroke-opacity,attr"`
	Cap     string  `xml:"stroke-linecap,attr,omitempty"`
	Join    string  `xml:"stroke-linejoin,attr,omitempty"`
	Offset  float64 `xml:"offset,attr,omitempty"`
}

type markersSymbolizer struct {
	Type            string  `xml:"marker-type,attr"`
	Width           float64 `xml:"width,attr"`
	Height          float64 `xml:"height,attr"`
	Fill            string  `xml:"fill,attr"`
	FillOpacity     float64 `xml:"fill-opacity,attr"`
	Stroke          string  `xml:"stroke,attr,omitempty"`
	StrokeWidth     float64 `xml:"stroke-width,attr,omitempty"`
	StrokeOpacity   float64 `xml:"stroke-opacity,attr,omitempty"`
	AllowOverlap    bool    `xml:"allow-overlap,attr"`
	IgnorePlacement bool    `xml:"ignore-placement,attr"`
}

type layerXML struct {
	Name       string        `xml:"name,attr"`
	SRS        string        `xml:"srs,attr"`
	StyleName  string        `xml:"StyleName"`
	Datasource datasourceXML `xml:"Datasource"`
}

type datasourceXML struct {
	Params []paramXML `xml:"Parameter"`
}

type paramXML struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

func hexColor(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// colorAlpha folds the color's own alpha into an opacity.
func colorAlpha(c color.NRGBA, opacity float64) float64 {
	return math.Round(float64(c.A)/255*opacity*1000) / 1000
}

// LayerMap builds the Mapnik map file drawing one frame layer. Features are
// read from dataFile, which the caller writes as GeoJSON.
func LayerMap(fl engine.FrameLayer, dataFile string, pixelRatio float64) ([]byte, error) {
	l := fl.Layer
	doc := mapXML{SRS: mercatorSRS}

	var rule ruleXML
	switch l.Type {
	case style.LayerBackground:
		if l.String("background-pattern") != "" {
			return nil, fmt.Errorf("%s: background-pattern: %w", l.ID, ErrUnsupportedLayer)
		}
		c, _ := l.Color("background-color")
		c = style.WithOpacity(c, l.Number("background-opacity"))
		doc.Background = fmt.Sprintf("rgba(%d,%d,%d,%.3f)", c.R, c.G, c.B, float64(c.A)/255)
		return marshalMap(doc)

	case style.LayerFill:
		if l.String("fill-pattern") != "" {
			return nil, fmt.Errorf("%s: fill-pattern: %w", l.ID, ErrUnsupportedLayer)
		}
		opacity := l.Number("fill-opacity")
		c, _ := l.Color("fill-color")
		rule.Polygon = &polygonSymbolizer{Fill: hexColor(c), Opacity: colorAlpha(c, opacity)}
		if outline, ok := l.Color("fill-outline-color"); ok && l.Bool("fill-antialias") {
			rule.Lines = append(rule.Lines, lineSymbolizer{
				Stroke:  hexColor(outline),
				Width:   pixelRatio,
				Opacity: colorAlpha(outline, opacity),
			})
		}

	case style.LayerLine:
		c, _ := l.Color("line-color")
		rule.Lines = append(rule.Lines, lineSymbolizer{
			Stroke:  hexColor(c),
			Width:   l.Number("line-width") * pixelRatio,
			Opacity: colorAlpha(c, l.Number("line-opacity")),
			Cap:     l.String("line-cap"),
			Join:    l.String("line-join"),
			// Mapnik offsets to the left of the line direction.
			Offset: -l.Number("line-offset") * pixelRatio,
		})

	case style.LayerCircle:
		fill, _ := l.Color("circle-color")
		size := 2 * l.Number("circle-radius") * pixelRatio
		m := &markersSymbolizer{
			Type:            "ellipse",
			Width:           size,
			Height:          size,
			Fill:            hexColor(fill),
			FillOpacity:     colorAlpha(fill, l.Number("circle-opacity")),
			AllowOverlap:    true,
			IgnorePlacement: true,
		}
		if w := l.Number("circle-stroke-width"); w > 0 {
			stroke, _ := l.Color("circle-stroke-color")
			m.Stroke = hexColor(stroke)
			m.StrokeWidth = w * pixelRatio
			m.StrokeOpacity = colorAlpha(stroke, l.Number("circle-stroke-opacity"))
			m.Width += m.StrokeWidth
			m.Height += m.StrokeWidth
		}
		rule.Markers = m

	default:
		return nil, fmt.Errorf("%s: %s: %w", l.ID, l.Type, ErrUnsupportedLayer)
	}

	doc.Styles = []styleXML{{Name: l.ID, Rule: rule}}
	doc.Layers = []layerXML{{
		Name:      l.ID,
		SRS:       wgs84SRS,
		StyleName: l.ID,
		Datasource: datasourceXML{Params: []paramXML{
			{Name: "type", Value: "geojson"},
			{Name: "file", Value: dataFile},
		}},
	}}
	return marshalMap(doc)
}

func marshalMap(doc mapXML) ([]byte, error) {
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode map file: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

// Extent returns the web mercator extent of a frame in meters.
func Extent(f engine.Frame) orb.Bound {
	c := project.WGS84.ToMercator(f.Center)
	metersPerPixel := 2 * math.Pi * orb.EarthRadius / tile.WorldSize(f.Zoom, f.PixelRatio)
	hw := float64(f.Width) / 2 * metersPerPixel
	hh := float64(f.Height) / 2 * metersPerPixel
	return orb.Bound{
		Min: orb.Point{c[0] - hw, c[1] - hh},
		Max: orb.Point{c[0] + hw, c[1] + hh},
	}
}
