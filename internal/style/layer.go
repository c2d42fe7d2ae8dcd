package style

import (
	"fmt"
	"maps"
)

// LayerType names a style layer kind.
type LayerType string

const (
	LayerBackground LayerType = "background"
	LayerFill       LayerType = "fill"
	LayerLine       LayerType = "line"
	LayerCircle     LayerType = "circle"
	LayerRaster     LayerType = "raster"
	LayerSymbol     LayerType = "symbol"
)

// Layer is a converted style layer.
type Layer struct {
	ID          string
	Type        LayerType
	Source      string
	SourceLayer string
	MinZoom     float64
	MaxZoom     float64
	Filter      *Filter
	Paint       map[string]any
	Layout      map[string]any
}

// ConvertLayer validates and converts a layer object.
func ConvertLayer(v any) (*Layer, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ConversionError{Path: "layer", Msg: "layer must be an object"}
	}
	id, _ := obj["id"].(string)
	path := "layers." + id
	if id == "" {
		path = "layer"
	}
	if err := validate("layer", path, obj); err != nil {
		return nil, err
	}

	l := &Layer{
		ID:      id,
		Type:    LayerType(obj["type"].(string)),
		MaxZoom: 24,
		Paint:   map[string]any{},
		Layout:  map[string]any{},
	}
	l.Source, _ = obj["source"].(string)
	l.SourceLayer, _ = obj["source-layer"].(string)
	if z, ok := obj["minzoom"].(float64); ok {
		l.MinZoom = z
	}
	if z, ok := obj["maxzoom"].(float64); ok {
		l.MaxZoom = z
	}

	if f, ok := obj["filter"]; ok {
		filter, err := ConvertFilter(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		l.Filter = filter
	}

	if paint, ok := obj["paint"].(map[string]any); ok {
		for name, value := range paint {
			if err := ValidateProperty(l.Type, name, value, false); err != nil {
				return nil, err
			}
			l.Paint[name] = value
		}
	}
	if layout, ok := obj["layout"].(map[string]any); ok {
		for name, value := range layout {
			if err := ValidateProperty(l.Type, name, value, true); err != nil {
				return nil, err
			}
			l.Layout[name] = value
		}
	}
	return l, nil
}

// Visible reports whether the layer's visibility layout property is not "none".
func (l *Layer) Visible() bool {
	return l.String("visibility") != "none"
}

// InZoomRange reports whether the layer renders at zoom z.
func (l *Layer) InZoomRange(z float64) bool {
	return z >= l.MinZoom && z < l.MaxZoom
}

// Clone returns a copy whose property maps can be mutated independently.
func (l *Layer) Clone() *Layer {
	c := *l
	c.Paint = maps.Clone(l.Paint)
	c.Layout = maps.Clone(l.Layout)
	return &c
}
