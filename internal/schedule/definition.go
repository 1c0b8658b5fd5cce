package schedule

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	yaml "go.yaml.in/yaml/v3"
)

// ErrMalformedDefinition wraps every structural or semantic problem found
// while loading a schedule definition.
var ErrMalformedDefinition = errors.New("schedule: malformed definition")

//go:embed definition.schema.json
var definitionSchema string

const definitionSchemaURL = "schedtrack://schedule-definition.json"

var (
	schemaOnce sync.Once
	schemaC    *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(definitionSchemaURL, strings.NewReader(definitionSchema)); err != nil {
			schemaErr = fmt.Errorf("schedule: add schema: %w", err)
			return
		}
		schemaC, schemaErr = c.Compile(definitionSchemaURL)
	})
	return schemaC, schemaErr
}

// Definition is the document form of a schedule.
type Definition struct {
	Name         string                `json:"name"`
	Translations map[string]string     `json:"translations,omitempty"`
	Milestones   []MilestoneDefinition `json:"milestones"`
}

// MilestoneDefinition is one milestone of a Definition. Windows holds the
// length of each window, not its offset: earliest starts at the milestone
// start and every later window starts where the previous one ends.
type MilestoneDefinition struct {
	Name    string                `json:"name"`
	Data    map[string]string     `json:"data,omitempty"`
	Windows map[WindowName]Period `json:"windows"`
	Alerts  []AlertDefinition     `json:"alerts,omitempty"`
}

type AlertDefinition struct {
	Window   WindowName `json:"window"`
	Offset   Period     `json:"offset"`
	Interval Period     `json:"interval"`
	Count    int        `json:"count"`
	Relative bool       `json:"relative,omitempty"`
}

// ParseDefinition decodes a YAML or JSON definition, checks it against the
// embedded JSON Schema and builds the schedule. Every failure wraps
// ErrMalformedDefinition.
//
// Window values are lengths. With earliest "13 weeks" and due "1 week" the
// due window covers weeks 13 to 14 of the milestone; writing due as
// "14 weeks" would make it end at week 27.
func ParseDefinition(src []byte) (*Schedule, error) {
	if len(bytes.TrimSpace(src)) == 0 {
		return nil, fmt.Errorf("%w: empty document", ErrMalformedDefinition)
	}

	// YAML is a superset of JSON, so one decoder serves both formats.
	var raw any
	if err := yaml.Unmarshal(src, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}
	jb, err := json.Marshal(normalizeYAML(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}

	var doc any
	if err := json.Unmarshal(jb, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := sch.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}

	var def Definition
	dec := json.NewDecoder(bytes.NewReader(jb))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDefinition, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedDefinition)
	}
	return def.Build()
}

// Build checks the semantic rules the schema cannot express and returns
// the schedule.
func (d Definition) Build() (*Schedule, error) {
	if len(d.Milestones) == 0 {
		return nil, fmt.Errorf("%w: no milestones", ErrMalformedDefinition)
	}
	ms := make([]*Milestone, 0, len(d.Milestones))
	for _, md := range d.Milestones {
		for w := range md.Windows {
			if !w.Valid() {
				return nil, fmt.Errorf("%w: milestone %q: unknown window %q", ErrMalformedDefinition, md.Name, w)
			}
		}
		if len(md.Windows) == 0 {
			return nil, fmt.Errorf("%w: milestone %q: no windows", ErrMalformedDefinition, md.Name)
		}
		m := NewMilestone(md.Name,
			md.Windows[WindowEarliest], md.Windows[WindowDue],
			md.Windows[WindowLate], md.Windows[WindowMax]).
			WithData(md.Data)
		for i, ad := range md.Alerts {
			if !ad.Window.Valid() {
				return nil, fmt.Errorf("%w: milestone %q alert %d: unknown window %q", ErrMalformedDefinition, md.Name, i, ad.Window)
			}
			if ad.Count < 0 {
				return nil, fmt.Errorf("%w: milestone %q alert %d: negative count", ErrMalformedDefinition, md.Name, i)
			}
			if ad.Count > 0 && ad.Interval.IsZero() {
				return nil, fmt.Errorf("%w: milestone %q alert %d: repeating alert needs an interval", ErrMalformedDefinition, md.Name, i)
			}
			m.WithAlert(ad.Window, Alert{
				Offset:                ad.Offset,
				Interval:              ad.Interval,
				Count:                 ad.Count,
				RelativeToWindowStart: ad.Relative,
			})
		}
		ms = append(ms, m)
	}
	return NewSchedule(d.Name, ms, d.Translations)
}

// Definition converts a schedule back into its document form.
func (s *Schedule) Definition() Definition {
	d := Definition{Name: s.name, Translations: s.Translations()}
	for _, m := range s.milestones {
		md := MilestoneDefinition{
			Name:    m.name,
			Data:    m.Data(),
			Windows: make(map[WindowName]Period, len(Windows)),
		}
		for i, w := range Windows {
			md.Windows[w] = m.lengths[i]
			for _, a := range m.alerts[i] {
				md.Alerts = append(md.Alerts, AlertDefinition{
					Window:   w,
					Offset:   a.Offset,
					Interval: a.Interval,
					Count:    a.Count,
					Relative: a.RelativeToWindowStart,
				})
			}
		}
		d.Milestones = append(d.Milestones, md)
	}
	return d
}

// Marshal renders s as a JSON definition that ParseDefinition accepts.
func Marshal(s *Schedule) ([]byte, error) {
	return json.Marshal(s.Definition())
}

// normalizeYAML turns map keys into strings so the value can be re-encoded as JSON.
func normalizeYAML(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = normalizeYAML(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = normalizeYAML(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = normalizeYAML(x[i])
		}
		return x
	default:
		return in
	}
}
