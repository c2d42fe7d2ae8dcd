package descriptor

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/renderdiff/internal/localize"
)

// DefaultSleep is the Sleep duration when the operation carries none.
const DefaultSleep = 20 * time.Second

// Op is one scripted operation. The set of implementations is closed.
type Op interface {
	Tag() string
	isOp()
}

type (
	// Wait renders until the scene converges.
	Wait struct{}
	// Sleep pauses the queue for Duration.
	Sleep struct{ Duration time.Duration }
	// AddImage registers (or, with Update set, replaces) a named image.
	AddImage struct {
		Name       string
		Path       string
		PixelRatio float64
		SDF        bool
		Update     bool
	}
	// SetStyle replaces the style with a file (URL) or an inline document.
	SetStyle struct {
		URL    string
		Inline map[string]any
	}
	SetCenter struct{ Lng, Lat float64 }
	SetZoom   struct{ Zoom float64 }
	// SetBearing rotates the camera, in degrees.
	SetBearing struct{ Bearing float64 }
	// SetFilter replaces a layer's filter; a nil Filter clears it.
	SetFilter struct {
		Layer  string
		Filter any
	}
	AddLayer struct {
		Spec   map[string]any
		Before string
	}
	RemoveLayer struct{ ID string }
	AddSource   struct {
		ID   string
		Spec map[string]any
	}
	RemoveSource     struct{ ID string }
	SetPaintProperty struct {
		Layer string
		Name  string
		Value any
	}
	SetLayoutProperty struct {
		Layer string
		Name  string
		Value any
	}
	// Unknown is an operation whose tag is not recognized.
	Unknown struct{ Name string }
	// Invalid is a recognized operation with a malformed payload.
	Invalid struct {
		Name string
		Err  error
	}
)

func (Wait) Tag() string              { return "wait" }
func (Sleep) Tag() string             { return "sleep" }
func (SetStyle) Tag() string          { return "setStyle" }
func (SetCenter) Tag() string         { return "setCenter" }
func (SetZoom) Tag() string           { return "setZoom" }
func (SetBearing) Tag() string        { return "setBearing" }
func (SetFilter) Tag() string         { return "setFilter" }
func (AddLayer) Tag() string          { return "addLayer" }
func (RemoveLayer) Tag() string       { return "removeLayer" }
func (AddSource) Tag() string         { return "addSource" }
func (RemoveSource) Tag() string      { return "removeSource" }
func (SetPaintProperty) Tag() string  { return "setPaintProperty" }
func (SetLayoutProperty) Tag() string { return "setLayoutProperty" }
func (o Unknown) Tag() string         { return o.Name }
func (o Invalid) Tag() string         { return o.Name }

func (o AddImage) Tag() string {
	if o.Update {
		return "updateImage"
	}
	return "addImage"
}

func (Wait) isOp()              {}
func (Sleep) isOp()             {}
func (AddImage) isOp()          {}
func (SetStyle) isOp()          {}
func (SetCenter) isOp()         {}
func (SetZoom) isOp()           {}
func (SetBearing) isOp()        {}
func (SetFilter) isOp()         {}
func (AddLayer) isOp()          {}
func (RemoveLayer) isOp()       {}
func (AddSource) isOp()         {}
func (RemoveSource) isOp()      {}
func (SetPaintProperty) isOp()  {}
func (SetLayoutProperty) isOp() {}
func (Unknown) isOp()           {}
func (Invalid) isOp()           {}

// PayloadError describes an operation whose payload does not match its tag.
type PayloadError struct {
	Op  string
	Msg string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("operation %q: %s", e.Op, e.Msg)
}

func parseOperations(raw []any, pixelRatio float64, paths localize.Paths) []Op {
	ops := make([]Op, 0, len(raw))
	for i, entry := range raw {
		ops = append(ops, parseOperation(i, entry, pixelRatio, paths))
	}
	return ops
}

func parseOperation(index int, entry any, pixelRatio float64, paths localize.Paths) Op {
	arr, ok := entry.([]any)
	if !ok || len(arr) == 0 {
		name := fmt.Sprintf("#%d", index)
		return Invalid{Name: name, Err: &PayloadError{Op: name, Msg: "operation must be a non-empty array"}}
	}
	tag, ok := arr[0].(string)
	if !ok {
		name := fmt.Sprintf("#%d", index)
		return Invalid{Name: name, Err: &PayloadError{Op: name, Msg: "operation name must be a string"}}
	}

	op, err := decode(tag, arr[1:], pixelRatio, paths)
	if err != nil {
		return Invalid{Name: tag, Err: &PayloadError{Op: tag, Msg: err.Error()}}
	}
	return op
}

func decode(tag string, args []any, pixelRatio float64, paths localize.Paths) (Op, error) {
	switch tag {
	case "wait":
		return Wait{}, nil

	case "sleep":
		if len(args) == 0 {
			return Sleep{Duration: DefaultSleep}, nil
		}
		ms, err := milliseconds(args[0])
		if err != nil {
			return nil, err
		}
		return Sleep{Duration: time.Duration(ms) * time.Millisecond}, nil

	case "addImage", "updateImage":
		if len(args) < 2 {
			return nil, fmt.Errorf("expected name and path")
		}
		name, okName := args[0].(string)
		path, okPath := args[1].(string)
		if !okName || !okPath {
			return nil, fmt.Errorf("name and path must be strings")
		}
		op := AddImage{
			Name:       strings.ReplaceAll(name, `"`, ""),
			Path:       paths.IntegrationFile(strings.ReplaceAll(path, `"`, "")),
			PixelRatio: pixelRatio,
			Update:     tag == "updateImage",
		}
		if len(args) >= 3 {
			opts, ok := args[2].(map[string]any)
			if !ok {
				return nil, fmt.Errorf("options must be an object")
			}
			if pr, ok := opts["pixelRatio"]; ok {
				f, ok := pr.(float64)
				if !ok || f <= 0 {
					return nil, fmt.Errorf("pixelRatio must be a positive number")
				}
				op.PixelRatio = f
			}
			if sdf, ok := opts["sdf"]; ok {
				b, ok := sdf.(bool)
				if !ok {
					return nil, fmt.Errorf("sdf must be a boolean")
				}
				op.SDF = b
			}
		}
		return op, nil

	case "setStyle":
		if len(args) < 1 {
			return nil, fmt.Errorf("expected a style")
		}
		switch s := args[0].(type) {
		case string:
			return SetStyle{URL: s}, nil
		case map[string]any:
			return SetStyle{Inline: s}, nil
		}
		return nil, fmt.Errorf("style must be a URL or an object")

	case "setCenter":
		if len(args) < 1 {
			return nil, fmt.Errorf("expected [lng, lat]")
		}
		pair, ok := args[0].([]any)
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("center must be [lng, lat]")
		}
		lng, okLng := pair[0].(float64)
		lat, okLat := pair[1].(float64)
		if !okLng || !okLat {
			return nil, fmt.Errorf("center must be [lng, lat]")
		}
		return SetCenter{Lng: lng, Lat: lat}, nil

	case "setZoom", "setBearing":
		if len(args) < 1 {
			return nil, fmt.Errorf("expected a number")
		}
		f, ok := args[0].(float64)
		if !ok {
			return nil, fmt.Errorf("expected a number")
		}
		if tag == "setZoom" {
			return SetZoom{Zoom: f}, nil
		}
		return SetBearing{Bearing: f}, nil

	case "setFilter":
		if len(args) < 1 {
			return nil, fmt.Errorf("expected a layer id")
		}
		layer, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("layer id must be a string")
		}
		var filter any
		if len(args) >= 2 {
			filter = args[1]
		}
		return SetFilter{Layer: layer, Filter: filter}, nil

	case "addLayer":
		if len(args) < 1 {
			return nil, fmt.Errorf("expected a layer object")
		}
		spec, ok := args[0].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("layer must be an object")
		}
		op := AddLayer{Spec: spec}
		if len(args) >= 2 {
			if before, ok := args[1].(string); ok {
				op.Before = before
			}
		}
		return op, nil

	case "removeLayer", "removeSource":
		if len(args) < 1 {
			return nil, fmt.Errorf("expected an id")
		}
		id, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("id must be a string")
		}
		if tag == "removeLayer" {
			return RemoveLayer{ID: id}, nil
		}
		return RemoveSource{ID: id}, nil

	case "addSource":
		if len(args) < 2 {
			return nil, fmt.Errorf("expected an id and a source object")
		}
		id, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("id must be a string")
		}
		spec, ok := args[1].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("source must be an object")
		}
		return AddSource{ID: id, Spec: spec}, nil

	case "setPaintProperty", "setLayoutProperty":
		if len(args) < 2 {
			return nil, fmt.Errorf("expected a layer id and a property name")
		}
		layer, okLayer := args[0].(string)
		name, okName := args[1].(string)
		if !okLayer || !okName {
			return nil, fmt.Errorf("layer id and property name must be strings")
		}
		var value any
		if len(args) >= 3 {
			value = args[2]
		}
		if tag == "setPaintProperty" {
			return SetPaintProperty{Layer: layer, Name: name, Value: value}, nil
		}
		return SetLayoutProperty{Layer: layer, Name: name, Value: value}, nil
	}

	return Unknown{Name: tag}, nil
}

// milliseconds accepts a number or a numeric string.
// maxMillis is the largest millisecond count a time.Duration can hold.
const maxMillis = math.MaxInt64 / int64(time.Millisecond)

func milliseconds(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		if t < 0 {
			return 0, fmt.Errorf("duration must not be negative")
		}
		if t > float64(maxMillis) {
			return 0, fmt.Errorf("duration %v ms out of range", t)
		}
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", t)
		}
		if n < 0 {
			return 0, fmt.Errorf("duration must not be negative")
		}
		if n > maxMillis {
			return 0, fmt.Errorf("duration %d ms out of range", n)
		}
		return n, nil
	}
	return 0, fmt.Errorf("duration must be a number")
}
