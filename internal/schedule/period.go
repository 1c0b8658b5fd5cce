package schedule

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Period is a non-negative calendar length counted in days.
// Weeks are stored as 7 days.
type Period struct {
	Days int
}

func Days(n int) Period  { return Period{Days: n} }
func Weeks(n int) Period { return Period{Days: 7 * n} }

func (p Period) IsZero() bool { return p.Days == 0 }

func (p Period) Add(q Period) Period { return Period{Days: p.Days + q.Days} }

func (p Period) Times(n int) Period { return Period{Days: p.Days * n} }

// AddTo offsets t by p using calendar arithmetic, so the wall-clock time
// survives DST transitions.
func (p Period) AddTo(t time.Time) time.Time {
	if p.Days == 0 {
		return t
	}
	return t.AddDate(0, 0, p.Days)
}

func (p Period) String() string {
	switch {
	case p.Days == 7:
		return "1 week"
	case p.Days > 0 && p.Days%7 == 0:
		return strconv.Itoa(p.Days/7) + " weeks"
	case p.Days == 1:
		return "1 day"
	default:
		return strconv.Itoa(p.Days) + " days"
	}
}

// MaxPeriodDays bounds parsed periods.
const MaxPeriodDays = 1 << 24

var (
	rePeriodWords = regexp.MustCompile(`^(\d+)\s*(d|day|days|w|week|weeks)?$`)
	rePeriodISO   = regexp.MustCompile(`^p(?:(\d+)w)?(?:(\d+)d)?$`)
)

// ParsePeriod accepts "3 days", "1 week", "2 weeks", ISO-8601 "P3D"/"P2W"/"P1W2D"
// and bare integers (days).
func ParsePeriod(raw string) (Period, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return Period{}, fmt.Errorf("schedule: period required")
	}
	if m := rePeriodISO.FindStringSubmatch(s); m != nil && s != "p" {
		w, err := strconv.Atoi(orZero(m[1]))
		if err != nil {
			return Period{}, fmt.Errorf("schedule: invalid period %q: %w", raw, err)
		}
		d, err := strconv.Atoi(orZero(m[2]))
		if err != nil {
			return Period{}, fmt.Errorf("schedule: invalid period %q: %w", raw, err)
		}
		if w > MaxPeriodDays/7 || d > MaxPeriodDays-7*w {
			return Period{}, fmt.Errorf("schedule: invalid period %q: %w", raw, strconv.ErrRange)
		}
		return Period{Days: 7*w + d}, nil
	}
	m := rePeriodWords.FindStringSubmatch(s)
	if m == nil {
		return Period{}, fmt.Errorf("schedule: invalid period %q (use '3 days', '2 weeks' or 'P2W')", raw)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return Period{}, fmt.Errorf("schedule: invalid period %q: %w", raw, err)
	}
	switch m[2] {
	case "w", "week", "weeks":
		if n > MaxPeriodDays/7 {
			return Period{}, fmt.Errorf("schedule: invalid period %q: %w", raw, strconv.ErrRange)
		}
		return Weeks(n), nil
	default:
		if n > MaxPeriodDays {
			return Period{}, fmt.Errorf("schedule: invalid period %q: %w", raw, strconv.ErrRange)
		}
		return Days(n), nil
	}
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}

func (p Period) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

// UnmarshalJSON accepts either a period string or a non-negative integer (days).
func (p *Period) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		v, err := ParsePeriod(s)
		if err != nil {
			return err
		}
		*p = v
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("schedule: invalid period %s", string(b))
	}
	if n < 0 {
		return fmt.Errorf("schedule: negative period %d", n)
	}
	if n > MaxPeriodDays {
		return fmt.Errorf("schedule: period %d days: %w", n, strconv.ErrRange)
	}
	*p = Days(n)
	return nil
}
