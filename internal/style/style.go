// Package style converts style documents and style fragments (layers, sources,
// filters, property values) into the typed model the scene consumes.
package style

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
)

// Style is a parsed style document.
type Style struct {
	Version    int
	Name       string
	Center     *orb.Point
	Zoom       *float64
	Bearing    *float64
	Sprite     string
	Glyphs     string
	Transition Transition
	Sources    map[string]*Source
	Layers     []*Layer

	// Warnings collects layers and sources that were skipped during conversion.
	Warnings []error
}

// Parse decodes a serialized style document. Invalid layers and sources are
// skipped and reported in Warnings; only an unreadable document is an error.
func Parse(data []byte) (*Style, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode style: %w", err)
	}
	return FromDocument(doc)
}

// FromDocument converts an already decoded style document.
func FromDocument(doc map[string]any) (*Style, error) {
	s := &Style{
		Transition: DefaultTransition,
		Sources:    map[string]*Source{},
	}

	if v, ok := doc["version"].(float64); ok {
		s.Version = int(v)
	}
	if s.Version != 0 && s.Version != 8 {
		return nil, &ConversionError{Path: "version", Msg: fmt.Sprintf("unsupported style version %d", s.Version)}
	}
	s.Name, _ = doc["name"].(string)
	s.Sprite, _ = doc["sprite"].(string)
	s.Glyphs, _ = doc["glyphs"].(string)

	if c, ok := doc["center"].([]any); ok && len(c) == 2 {
		lng, okLng := c[0].(float64)
		lat, okLat := c[1].(float64)
		if okLng && okLat {
			s.Center = &orb.Point{lng, lat}
		}
	}
	if z, ok := doc["zoom"].(float64); ok {
		s.Zoom = &z
	}
	if b, ok := doc["bearing"].(float64); ok {
		s.Bearing = &b
	}
	if t, ok := doc["transition"]; ok {
		tr, err := ParseTransition(t)
		if err != nil {
			s.Warnings = append(s.Warnings, &ConversionError{Path: "transition", Msg: err.Error()})
		} else {
			s.Transition = tr
		}
	}

	if sources, ok := doc["sources"].(map[string]any); ok {
		ids := make([]string, 0, len(sources))
		for id := range sources {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			src, err := ConvertSource(id, sources[id])
			if err != nil {
				s.Warnings = append(s.Warnings, err)
				continue
			}
			s.Sources[id] = src
		}
	}

	if layers, ok := doc["layers"].([]any); ok {
		seen := map[string]bool{}
		for _, raw := range layers {
			l, err := ConvertLayer(raw)
			if err != nil {
				s.Warnings = append(s.Warnings, err)
				continue
			}
			if seen[l.ID] {
				s.Warnings = append(s.Warnings, &ConversionError{Path: "layers." + l.ID, Msg: "duplicate layer id"})
				continue
			}
			seen[l.ID] = true
			s.Layers = append(s.Layers, l)
		}
	}
	return s, nil
}
