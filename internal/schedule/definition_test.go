package schedule

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func mustRead(t *testing.T, name string) []byte {
	t.Helper()
	b, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return b
}

func TestParseDefinitionJSON(t *testing.T) {
	t.Parallel()

	s, err := ParseDefinition(mustRead(t, "simple-schedule.json"))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	if s.Name() != "IPTI Schedule" || s.DisplayName("fr") != "Calendrier TPI" {
		t.Fatalf("name=%q fr=%q", s.Name(), s.DisplayName("fr"))
	}
	ms := s.Milestones()
	if len(ms) != 2 || ms[0].Name() != "IPTI 1" || ms[1].Name() != "IPTI 2" {
		t.Fatalf("milestones=%v", ms)
	}
	m := ms[0]
	if m.Length(WindowEarliest) != Weeks(13) || m.MaxEnd() != Weeks(17) {
		t.Fatalf("earliest=%v maxEnd=%v", m.Length(WindowEarliest), m.MaxEnd())
	}
	if m.Data()["Foo"] != "Bar" {
		t.Fatalf("data=%v", m.Data())
	}
	due := m.Alerts(WindowDue)
	want := Alert{Offset: Period{}, Interval: Days(1), Count: 3, RelativeToWindowStart: true}
	if len(due) != 1 || due[0] != want {
		t.Fatalf("due alerts=%+v", due)
	}
	if got := m.Alerts(WindowEarliest); len(got) != 1 || got[0].RelativeToWindowStart {
		t.Fatalf("earliest alerts=%+v", got)
	}
}

func TestParseDefinitionYAML(t *testing.T) {
	t.Parallel()

	s, err := ParseDefinition(mustRead(t, "simple-schedule.yaml"))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	m, ok := s.Milestone("IPTI 1")
	if !ok {
		t.Fatalf("missing IPTI 1")
	}
	if m.Length(WindowDue) != Weeks(1) || m.Length(WindowLate) != Days(7) {
		t.Fatalf("due=%v late=%v", m.Length(WindowDue), m.Length(WindowLate))
	}
	m2, _ := s.Milestone("IPTI 2")
	if m2.MaxEnd() != Weeks(14) || m2.HasAlerts() {
		t.Fatalf("IPTI 2 maxEnd=%v alerts=%v", m2.MaxEnd(), m2.HasAlerts())
	}
}

func TestDefinitionWindowsAreLengths(t *testing.T) {
	t.Parallel()

	src := []byte(`{"name":"Lengths","milestones":[{"name":"M",
		"windows":{"earliest":"2 weeks","due":"1 week","late":"1 week","max":"3 days"}}]}`)
	s, err := ParseDefinition(src)
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	m, _ := s.Milestone("M")
	starts := map[WindowName]Period{
		WindowEarliest: {},
		WindowDue:      Weeks(2),
		WindowLate:     Weeks(3),
		WindowMax:      Weeks(4),
	}
	for w, want := range starts {
		if got := m.WindowStart(w); got != want {
			t.Fatalf("start of %s = %v, want %v", w, got, want)
		}
	}
	if m.MaxEnd() != Days(31) {
		t.Fatalf("maxEnd=%v", m.MaxEnd())
	}
	if !strings.Contains(definitionSchema, "Length of each window") {
		t.Fatalf("schema does not describe window lengths")
	}
}

func TestParseDefinitionRejectsMalformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":           ``,
		"not a document":  `[1, 2`,
		"no milestones":   `{"name":"S","milestones":[]}`,
		"no name":         `{"milestones":[{"name":"M","windows":{"due":"1 day"}}]}`,
		"unknown field":   `{"name":"S","owner":"x","milestones":[{"name":"M","windows":{"due":"1 day"}}]}`,
		"unknown window":  `{"name":"S","milestones":[{"name":"M","windows":{"soon":"1 day"}}]}`,
		"no windows":      `{"name":"S","milestones":[{"name":"M","windows":{}}]}`,
		"bad period":      `{"name":"S","milestones":[{"name":"M","windows":{"due":"1 fortnight"}}]}`,
		"negative count":  `{"name":"S","milestones":[{"name":"M","windows":{"due":"1 day"},"alerts":[{"window":"due","offset":0,"interval":1,"count":-1}]}]}`,
		"alert window":    `{"name":"S","milestones":[{"name":"M","windows":{"due":"1 day"},"alerts":[{"window":"later","offset":0,"interval":1,"count":0}]}]}`,
		"zero interval":   `{"name":"S","milestones":[{"name":"M","windows":{"due":"1 day"},"alerts":[{"window":"due","offset":0,"interval":0,"count":2}]}]}`,
		"dup milestone":   `{"name":"S","milestones":[{"name":"M","windows":{"due":"1 day"}},{"name":"M","windows":{"due":"1 day"}}]}`,
		"missing offset":  `{"name":"S","milestones":[{"name":"M","windows":{"due":"1 day"},"alerts":[{"window":"due","interval":1,"count":0}]}]}`,
		"fractional days": `{"name":"S","milestones":[{"name":"M","windows":{"due":1.5}}]}`,
	}
	for name, src := range cases {
		if _, err := ParseDefinition([]byte(src)); !errors.Is(err, ErrMalformedDefinition) {
			t.Fatalf("%s: err=%v want ErrMalformedDefinition", name, err)
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	t.Parallel()

	s, err := ParseDefinition(mustRead(t, "simple-schedule.json"))
	if err != nil {
		t.Fatalf("ParseDefinition: %v", err)
	}
	b, err := Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := ParseDefinition(b)
	if err != nil {
		t.Fatalf("re-parse: %v\n%s", err, b)
	}
	if back.Name() != s.Name() || len(back.Milestones()) != len(s.Milestones()) {
		t.Fatalf("round trip mismatch: %s", b)
	}
	for i, m := range s.Milestones() {
		bm := back.Milestones()[i]
		for _, w := range Windows {
			if m.Length(w) != bm.Length(w) || len(m.Alerts(w)) != len(bm.Alerts(w)) {
				t.Fatalf("milestone %s window %s differs after round trip", m.Name(), w)
			}
		}
	}
}
