package style

import (
	"fmt"
	"time"
)

// Transition controls how property changes animate.
type Transition struct {
	Duration time.Duration
	Delay    time.Duration
}

// DefaultTransition is the style-spec default of 300ms without delay.
var DefaultTransition = Transition{Duration: 300 * time.Millisecond}

// Immediate reports whether changes apply without animation.
func (t Transition) Immediate() bool {
	return t.Duration <= 0 && t.Delay <= 0
}

// Total returns delay plus duration.
func (t Transition) Total() time.Duration {
	return t.Delay + t.Duration
}

// ParseTransition decodes {"duration": ms, "delay": ms}.
func ParseTransition(v any) (Transition, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return Transition{}, fmt.Errorf("transition must be an object")
	}
	var t Transition
	for key, raw := range obj {
		ms, ok := raw.(float64)
		if !ok || ms < 0 {
			return Transition{}, fmt.Errorf("transition %s must be a non-negative number", key)
		}
		d := time.Duration(ms * float64(time.Millisecond))
		switch key {
		case "duration":
			t.Duration = d
		case "delay":
			t.Delay = d
		default:
			return Transition{}, fmt.Errorf("unknown transition key %q", key)
		}
	}
	return t, nil
}
