package schedule

import (
	"fmt"
	"maps"
	"strings"
)

// Schedule is an ordered, immutable sequence of milestones.
type Schedule struct {
	name         string
	milestones   []*Milestone
	index        map[string]int
	translations map[string]string
}

// NewSchedule copies its inputs; later changes to the milestones passed in
// do not affect the schedule.
func NewSchedule(name string, milestones []*Milestone, translations map[string]string) (*Schedule, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: schedule name required", ErrMalformedDefinition)
	}
	s := &Schedule{
		name:         name,
		milestones:   make([]*Milestone, 0, len(milestones)),
		index:        make(map[string]int, len(milestones)),
		translations: maps.Clone(translations),
	}
	for i, m := range milestones {
		if m == nil || strings.TrimSpace(m.name) == "" {
			return nil, fmt.Errorf("%w: milestone %d has no name", ErrMalformedDefinition, i)
		}
		if _, dup := s.index[m.name]; dup {
			return nil, fmt.Errorf("%w: duplicate milestone %q", ErrMalformedDefinition, m.name)
		}
		s.index[m.name] = len(s.milestones)
		s.milestones = append(s.milestones, m.clone())
	}
	return s, nil
}

func (s *Schedule) Name() string { return s.name }

// DisplayName returns the translation for lang, falling back to the name.
func (s *Schedule) DisplayName(lang string) string {
	if v := s.translations[lang]; v != "" {
		return v
	}
	return s.name
}

func (s *Schedule) Translations() map[string]string { return maps.Clone(s.translations) }

// Milestones returns the milestones in declared order. The slice is a copy;
// the milestones themselves are read-only.
func (s *Schedule) Milestones() []*Milestone {
	out := make([]*Milestone, len(s.milestones))
	copy(out, s.milestones)
	return out
}

func (s *Schedule) FirstMilestone() (*Milestone, bool) {
	if len(s.milestones) == 0 {
		return nil, false
	}
	return s.milestones[0], true
}

func (s *Schedule) Milestone(name string) (*Milestone, bool) {
	i, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return s.milestones[i], true
}

// NextMilestone returns the milestone declared after name. ok is false when
// name is the last milestone or unknown.
func (s *Schedule) NextMilestone(name string) (*Milestone, bool) {
	i, ok := s.index[name]
	if !ok || i+1 >= len(s.milestones) {
		return nil, false
	}
	return s.milestones[i+1], true
}
