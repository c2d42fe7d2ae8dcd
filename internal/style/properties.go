package style

import (
	"fmt"
	"image/color"
	"strings"
)

type propKind int

const (
	kindNumber propKind = iota
	kindColor
	kindString
	kindEnum
	kindBool
	kindNumberPair
)

type propSpec struct {
	kind   propKind
	layout bool
	def    any
	enum   []string
	min    float64
	hasMin bool
}

func num(def float64) propSpec    { return propSpec{kind: kindNumber, def: def} }
func nonNeg(def float64) propSpec { return propSpec{kind: kindNumber, def: def, hasMin: true} }
func opacity() propSpec           { return propSpec{kind: kindNumber, def: 1.0, hasMin: true} }
func col(def string) propSpec     { return propSpec{kind: kindColor, def: def} }
func str(def string) propSpec     { return propSpec{kind: kindString, def: def} }

func layoutEnum(def string, values ...string) propSpec {
	return propSpec{kind: kindEnum, layout: true, def: def, enum: values}
}

func layoutBool(def bool) propSpec {
	return propSpec{kind: kindBool, layout: true, def: def}
}

func layoutNum(def float64) propSpec {
	return propSpec{kind: kindNumber, layout: true, def: def, hasMin: true}
}

func layoutStr(def string) propSpec {
	return propSpec{kind: kindString, layout: true, def: def}
}

var visibility = layoutEnum("visible", "visible", "none")

var properties = map[LayerType]map[string]propSpec{
	LayerBackground: {
		"visibility":         visibility,
		"background-color":   col("#000000"),
		"background-opacity": opacity(),
		"background-pattern": str(""),
	},
	LayerFill: {
		"visibility":         visibility,
		"fill-color":         col("#000000"),
		"fill-opacity":       opacity(),
		"fill-outline-color": col(""),
		"fill-pattern":       str(""),
		"fill-antialias":     {kind: kindBool, def: true},
		"fill-translate":     {kind: kindNumberPair, def: []any{0.0, 0.0}},
	},
	LayerLine: {
		"visibility":     visibility,
		"line-cap":       layoutEnum("butt", "butt", "round", "square"),
		"line-join":      layoutEnum("miter", "miter", "round", "bevel"),
		"line-color":     col("#000000"),
		"line-opacity":   opacity(),
		"line-width":     nonNeg(1),
		"line-offset":    num(0),
		"line-translate": {kind: kindNumberPair, def: []any{0.0, 0.0}},
	},
	LayerCircle: {
		"visibility":            visibility,
		"circle-radius":         nonNeg(5),
		"circle-color":          col("#000000"),
		"circle-opacity":        opacity(),
		"circle-stroke-width":   nonNeg(0),
		"circle-stroke-color":   col("#000000"),
		"circle-stroke-opacity": opacity(),
		"circle-translate":      {kind: kindNumberPair, def: []any{0.0, 0.0}},
	},
	LayerRaster: {
		"visibility":     visibility,
		"raster-opacity": opacity(),
	},
	LayerSymbol: {
		"visibility":              visibility,
		"icon-image":              layoutStr(""),
		"icon-size":               layoutNum(1),
		"icon-allow-overlap":      layoutBool(false),
		"icon-ignore-placement":   layoutBool(false),
		"icon-rotate":             {kind: kindNumber, layout: true, def: 0.0},
		"icon-anchor":             layoutEnum("center", "center", "left", "right", "top", "bottom", "top-left", "top-right", "bottom-left", "bottom-right"),
		"icon-opacity":            opacity(),
		"text-field":              layoutStr(""),
		"symbol-placement":        layoutEnum("point", "point", "line", "line-center"),
		"symbol-avoid-edges":      layoutBool(false),
		"icon-translate":          {kind: kindNumberPair, def: []any{0.0, 0.0}},
		"icon-color":              col("#000000"),
		"icon-halo-color":         col("rgba(0, 0, 0, 0)"),
		"icon-halo-width":         nonNeg(0),
		"symbol-sort-key":         {kind: kindNumber, layout: true, def: 0.0},
		"icon-keep-upright":       layoutBool(false),
		"icon-rotation-alignment": layoutEnum("auto", "auto", "map", "viewport"),
	},
}

// IsLayoutProperty reports whether name is a layout property of layer type t.
func IsLayoutProperty(t LayerType, name string) bool {
	spec, ok := properties[t][name]
	return ok && spec.layout
}

// ValidateProperty checks a paint or layout value for layer type t.
// A nil value resets the property and is always valid.
func ValidateProperty(t LayerType, name string, value any, layout bool) error {
	path := fmt.Sprintf("%s.%s", t, name)

	if base, ok := strings.CutSuffix(name, "-transition"); ok && !layout {
		if _, known := properties[t][base]; !known {
			return &ConversionError{Path: path, Msg: "unknown property"}
		}
		if value == nil {
			return nil
		}
		if _, err := ParseTransition(value); err != nil {
			return &ConversionError{Path: path, Msg: "invalid transition", Err: err}
		}
		return nil
	}

	spec, ok := properties[t][name]
	if !ok {
		return &ConversionError{Path: path, Msg: "unknown property"}
	}
	if spec.layout != layout {
		kind := "paint"
		if spec.layout {
			kind = "layout"
		}
		return &ConversionError{Path: path, Msg: "is a " + kind + " property"}
	}
	if value == nil {
		return nil
	}

	switch spec.kind {
	case kindNumber:
		f, ok := value.(float64)
		if !ok {
			return &ConversionError{Path: path, Msg: "expected a number"}
		}
		if spec.hasMin && f < spec.min {
			return &ConversionError{Path: path, Msg: fmt.Sprintf("must be >= %g", spec.min)}
		}
	case kindColor:
		s, ok := value.(string)
		if !ok {
			return &ConversionError{Path: path, Msg: "expected a color string"}
		}
		if _, err := ParseColor(s); err != nil {
			return &ConversionError{Path: path, Msg: "invalid color", Err: err}
		}
	case kindString:
		if _, ok := value.(string); !ok {
			return &ConversionError{Path: path, Msg: "expected a string"}
		}
	case kindEnum:
		s, ok := value.(string)
		if !ok {
			return &ConversionError{Path: path, Msg: "expected a string"}
		}
		for _, e := range spec.enum {
			if e == s {
				return nil
			}
		}
		return &ConversionError{Path: path, Msg: fmt.Sprintf("expected one of %s", strings.Join(spec.enum, ", "))}
	case kindBool:
		if _, ok := value.(bool); !ok {
			return &ConversionError{Path: path, Msg: "expected a boolean"}
		}
	case kindNumberPair:
		arr, ok := value.([]any)
		if !ok || len(arr) != 2 {
			return &ConversionError{Path: path, Msg: "expected two numbers"}
		}
		for _, v := range arr {
			if _, ok := v.(float64); !ok {
				return &ConversionError{Path: path, Msg: "expected two numbers"}
			}
		}
	}
	return nil
}

func (l *Layer) lookup(name string) (any, propSpec) {
	spec := properties[l.Type][name]
	if spec.layout {
		if v, ok := l.Layout[name]; ok && v != nil {
			return v, spec
		}
	} else if v, ok := l.Paint[name]; ok && v != nil {
		return v, spec
	}
	return spec.def, spec
}

// Number returns a numeric property value or its default.
func (l *Layer) Number(name string) float64 {
	v, _ := l.lookup(name)
	f, _ := v.(float64)
	return f
}

// Color returns a color property value or its default. The second result is
// false when the property has no value and no default.
func (l *Layer) Color(name string) (color.NRGBA, bool) {
	v, _ := l.lookup(name)
	s, _ := v.(string)
	if s == "" {
		return color.NRGBA{}, false
	}
	c, err := ParseColor(s)
	if err != nil {
		return color.NRGBA{}, false
	}
	return c, true
}

// String returns a string or enum property value or its default.
func (l *Layer) String(name string) string {
	v, _ := l.lookup(name)
	s, _ := v.(string)
	return s
}

// Bool returns a boolean property value or its default.
func (l *Layer) Bool(name string) bool {
	v, _ := l.lookup(name)
	b, _ := v.(bool)
	return b
}

// Pair returns a two-number property value or its default.
func (l *Layer) Pair(name string) (float64, float64) {
	v, _ := l.lookup(name)
	arr, _ := v.([]any)
	if len(arr) != 2 {
		return 0, 0
	}
	x, _ := arr[0].(float64)
	y, _ := arr[1].(float64)
	return x, y
}

// Value returns the effective value of a paint or layout property, falling
// back to its default.
func (l *Layer) Value(name string) any {
	v, _ := l.lookup(name)
	return v
}

// IsColorProperty reports whether name holds a color for layer type t.
func IsColorProperty(t LayerType, name string) bool {
	spec, ok := properties[t][name]
	return ok && spec.kind == kindColor
}
