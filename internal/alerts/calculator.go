// Package alerts turns a milestone's alert rules into concrete fire instants.
package alerts

import (
	"cmp"
	"slices"
	"time"

	"schedtrack/internal/schedule"
)

// Timing is one concrete alert fire.
type Timing struct {
	Window     schedule.WindowName `json:"window"`
	AlertIndex int                 `json:"alert_index"`
	Occurrence int                 `json:"occurrence"`
	At         time.Time           `json:"at"`
}

// Calculate lists every fire instant of every alert of m for a milestone
// that started at reference. Each instant is
//
//	base + offset + i*interval, i in [0, count]
//
// where base is the window start for relative alerts and reference
// otherwise, with the time of day replaced by preferred. The result is
// ordered by instant, then window order, alert declaration order and
// occurrence. Calculate has no side effects.
func Calculate(m *schedule.Milestone, reference time.Time, preferred schedule.Time) []Timing {
	if m == nil || !m.HasAlerts() {
		return nil
	}
	var out []Timing
	for _, w := range schedule.Windows {
		windowStart := m.WindowStart(w).AddTo(reference)
		for idx, a := range m.Alerts(w) {
			base := reference
			if a.RelativeToWindowStart {
				base = windowStart
			}
			for i := 0; i <= a.Count; i++ {
				at := a.Offset.Add(a.Interval.Times(i)).AddTo(base)
				out = append(out, Timing{
					Window:     w,
					AlertIndex: idx,
					Occurrence: i,
					At:         preferred.On(at),
				})
			}
		}
	}
	slices.SortStableFunc(out, compare)
	return out
}

func compare(a, b Timing) int {
	if c := a.At.Compare(b.At); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Window.Index(), b.Window.Index()); c != 0 {
		return c
	}
	if c := cmp.Compare(a.AlertIndex, b.AlertIndex); c != 0 {
		return c
	}
	return cmp.Compare(a.Occurrence, b.Occurrence)
}
