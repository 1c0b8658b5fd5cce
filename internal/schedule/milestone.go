package schedule

import (
	"maps"
	"slices"
	"time"
)

// Alert is a repeating notification rule inside a window. It fires Count+1
// times, Interval apart, starting Offset after either the window start
// (RelativeToWindowStart) or the milestone start.
type Alert struct {
	Offset                Period `json:"offset"`
	Interval              Period `json:"interval"`
	Count                 int    `json:"count"`
	RelativeToWindowStart bool   `json:"relative"`
}

// Fires is the number of instants the alert produces.
func (a Alert) Fires() int { return a.Count + 1 }

// Milestone is one step of a schedule. Each window is stored as a length;
// a window begins where the previous one ends, so the windows can never
// overlap or go out of order.
type Milestone struct {
	name    string
	lengths [len(Windows)]Period
	alerts  [len(Windows)][]Alert
	data    map[string]string
}

// NewMilestone builds a milestone from the lengths of its four windows.
// Use the With* helpers to attach alerts and data before handing the
// milestone to NewSchedule.
func NewMilestone(name string, earliest, due, late, max Period) *Milestone {
	return &Milestone{
		name:    name,
		lengths: [len(Windows)]Period{earliest, due, late, max},
		data:    map[string]string{},
	}
}

// WithAlert appends an alert to window w. Unknown windows are ignored.
func (m *Milestone) WithAlert(w WindowName, a Alert) *Milestone {
	if i := w.Index(); i >= 0 {
		m.alerts[i] = append(m.alerts[i], a)
	}
	return m
}

func (m *Milestone) WithData(data map[string]string) *Milestone {
	for k, v := range data {
		m.data[k] = v
	}
	return m
}

func (m *Milestone) Name() string { return m.name }

// Length is the length of window w.
func (m *Milestone) Length(w WindowName) Period {
	i := w.Index()
	if i < 0 {
		return Period{}
	}
	return m.lengths[i]
}

// WindowStart is the offset of window w from the milestone start.
func (m *Milestone) WindowStart(w WindowName) Period {
	i := w.Index()
	var p Period
	for j := 0; j < i; j++ {
		p = p.Add(m.lengths[j])
	}
	return p
}

func (m *Milestone) WindowEnd(w WindowName) Period {
	return m.WindowStart(w).Add(m.Length(w))
}

// MaxEnd is the end of the max window, i.e. the whole milestone length.
func (m *Milestone) MaxEnd() Period { return m.WindowEnd(WindowMax) }

// WindowAt reports which window the instant at falls in for a milestone
// that started at start. Instants before start count as earliest and
// instants past the max window count as max.
func (m *Milestone) WindowAt(start, at time.Time) WindowName {
	for _, w := range Windows {
		if at.Before(m.WindowEnd(w).AddTo(start)) {
			return w
		}
	}
	return WindowMax
}

// Alerts returns a copy of the alerts declared for window w.
func (m *Milestone) Alerts(w WindowName) []Alert {
	i := w.Index()
	if i < 0 {
		return nil
	}
	return slices.Clone(m.alerts[i])
}

func (m *Milestone) HasAlerts() bool {
	for _, as := range m.alerts {
		if len(as) > 0 {
			return true
		}
	}
	return false
}

func (m *Milestone) Data() map[string]string { return maps.Clone(m.data) }

func (m *Milestone) clone() *Milestone {
	c := &Milestone{name: m.name, lengths: m.lengths, data: maps.Clone(m.data)}
	if c.data == nil {
		c.data = map[string]string{}
	}
	for i := range m.alerts {
		c.alerts[i] = slices.Clone(m.alerts[i])
	}
	return c
}
