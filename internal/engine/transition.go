package engine

import (
	"image/color"
	"time"

	"github.com/MeKo-Tech/renderdiff/internal/style"
)

// propAnim animates a paint property from its previous value to the layer's
// current value.
type propAnim struct {
	from  any // float64 or color.NRGBA
	start time.Time
	tr    style.Transition
}

// progress returns the interpolation factor at now.
func (a *propAnim) progress(now time.Time) float64 {
	elapsed := now.Sub(a.start) - a.tr.Delay
	if elapsed <= 0 {
		return 0
	}
	if a.tr.Duration <= 0 || elapsed >= a.tr.Duration {
		return 1
	}
	return float64(elapsed) / float64(a.tr.Duration)
}

func (a *propAnim) done(now time.Time) bool {
	return !now.Before(a.start.Add(a.tr.Total()))
}

// layerState is a style layer plus its running paint transitions.
type layerState struct {
	layer *style.Layer
	anims map[string]*propAnim
}

func newLayerState(l *style.Layer) *layerState {
	return &layerState{layer: l, anims: map[string]*propAnim{}}
}

// propertyTransition returns the transition for a paint property: the layer's
// "<name>-transition" value, else the scene default.
func (m *Map) propertyTransition(ls *layerState, name string) style.Transition {
	if v, ok := ls.layer.Paint[name+"-transition"]; ok {
		if tr, err := style.ParseTransition(v); err == nil {
			return tr
		}
	}
	return m.transition()
}

// startTransition snapshots the current value of name before it changes.
func (m *Map) startTransition(ls *layerState, name string) {
	tr := m.propertyTransition(ls, name)
	if tr.Immediate() {
		delete(ls.anims, name)
		return
	}

	var from any
	switch {
	case style.IsColorProperty(ls.layer.Type, name):
		c, ok := m.paintColor(ls, name)
		if !ok {
			return
		}
		from = c
	default:
		if _, ok := ls.layer.Value(name).(float64); !ok {
			return
		}
		from = m.paintNumber(ls, name)
	}
	ls.anims[name] = &propAnim{from: from, start: m.clock.Now(), tr: tr}
}

func (m *Map) paintNumber(ls *layerState, name string) float64 {
	v := ls.layer.Number(name)
	if a, ok := ls.anims[name]; ok {
		if from, ok := a.from.(float64); ok {
			return from + (v-from)*a.progress(m.clock.Now())
		}
	}
	return v
}

func (m *Map) paintColor(ls *layerState, name string) (color.NRGBA, bool) {
	c, ok := ls.layer.Color(name)
	if a, running := ls.anims[name]; running && ok {
		if from, isColor := a.from.(color.NRGBA); isColor {
			return style.LerpColor(from, c, a.progress(m.clock.Now())), true
		}
	}
	return c, ok
}

// transitioning reports whether any paint transition is still running and
// drops the finished ones.
func (m *Map) transitioning() bool {
	now := m.clock.Now()
	running := false
	for _, ls := range m.layers {
		for name, a := range ls.anims {
			if a.done(now) {
				delete(ls.anims, name)
				continue
			}
			running = true
		}
	}
	return running
}
