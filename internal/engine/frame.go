package engine

import (
	"github.com/MeKo-Tech/renderdiff/internal/scene"
	"github.com/MeKo-Tech/renderdiff/internal/style"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Frame is what the scene would draw right now. Backends that rasterize
// layers themselves render from it while the Map keeps owning style state,
// resource loading and transitions.
type Frame struct {
	Width, Height int
	PixelRatio    float64
	Center        orb.Point
	Zoom          float64
	Bearing       float64
	Layers        []FrameLayer
}

// FrameLayer is a visible layer with running transitions resolved into its
// paint values and its source features already filtered.
type FrameLayer struct {
	Layer    *style.Layer
	Features []*geojson.Feature
	// Loaded is false while the layer's source is missing, loading or failed.
	Loaded bool
}

// Frame snapshots the visible layers bottom to top.
func (m *Map) Frame() (Frame, error) {
	if m.closed {
		return Frame{}, scene.ErrSceneClosed
	}
	w, h := m.opts.PhysicalSize()
	f := Frame{
		Width:      w,
		Height:     h,
		PixelRatio: m.opts.PixelRatio,
		Center:     m.center,
		Zoom:       m.zoom,
		Bearing:    m.bearing,
	}

	for _, ls := range m.layers {
		if !ls.layer.Visible() || !ls.layer.InZoomRange(m.zoom) {
			continue
		}
		l := ls.layer.Clone()
		for name := range ls.anims {
			if style.IsColorProperty(l.Type, name) {
				if c, ok := m.paintColor(ls, name); ok {
					l.Paint[name] = style.FormatColor(c)
				}
				continue
			}
			l.Paint[name] = m.paintNumber(ls, name)
		}

		fl := FrameLayer{Layer: l, Loaded: l.Type == style.LayerBackground}
		if src, ok := m.sources[l.Source]; ok && src.loaded && src.err == nil {
			fl.Loaded = true
			for _, feat := range src.features {
				if matches(l, feat) {
					fl.Features = append(fl.Features, feat)
				}
			}
		}
		f.Layers = append(f.Layers, fl)
	}
	return f, nil
}
