package model

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// DateLayout is the rendering used for resolved start/end dates
const DateLayout = "2006-01-02"

// ErrIntervalFormat is returned for dataset dates that are not "[start TO end]"
var ErrIntervalFormat = errors.New("unrecognized interval format")

// dateLayouts are tried in order; only the calendar date of the result is kept
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	DateLayout,
	"2006",
}

// ParseDate parses an ISO-8601 date, date-time or bare year into a UTC date
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return truncateDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as an ISO-8601 date", s)
}

// DateValue parses a row value (string, or a numeric year) into a UTC date
func DateValue(v interface{}) (time.Time, error) {
	switch val := v.(type) {
	case string:
		return ParseDate(val)
	case float64:
		if val != math.Trunc(val) || val < 1000 || val > 9999 {
			return time.Time{}, fmt.Errorf("numeric date %v is not a year", val)
		}
		return time.Date(int(val), time.January, 1, 0, 0, 0, 0, time.UTC), nil
	case int:
		return DateValue(float64(val))
	case int64:
		return DateValue(float64(val))
	case time.Time:
		return truncateDate(val), nil
	case nil:
		return time.Time{}, errors.New("missing date")
	default:
		return time.Time{}, fmt.Errorf("unsupported date value of type %T", v)
	}
}

func truncateDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Interval is a date range whose bounds may be open (zero time)
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewInterval builds a closed interval from two dates
func NewInterval(start, end time.Time) Interval {
	return Interval{Start: truncateDate(start), End: truncateDate(end)}
}

// OpenStart is true when the interval has no lower bound
func (i Interval) OpenStart() bool { return i.Start.IsZero() }

// OpenEnd is true when the interval has no upper bound
func (i Interval) OpenEnd() bool { return i.End.IsZero() }

// IsEmpty is true when neither bound is known
func (i Interval) IsEmpty() bool { return i.OpenStart() && i.OpenEnd() }

// StartString renders the start date, or "" when open
func (i Interval) StartString() string {
	if i.OpenStart() {
		return ""
	}
	return i.Start.Format(DateLayout)
}

// EndString renders the end date, or "" when open
func (i Interval) EndString() string {
	if i.OpenEnd() {
		return ""
	}
	return i.End.Format(DateLayout)
}

// Union widens i to cover o. Open bounds on either side are treated as unknown, not infinite.
func (i Interval) Union(o Interval) Interval {
	out := i
	if !o.OpenStart() && (out.OpenStart() || o.Start.Before(out.Start)) {
		out.Start = o.Start
	}
	if !o.OpenEnd() && (out.OpenEnd() || o.End.After(out.End)) {
		out.End = o.End
	}
	return out
}

// String renders the catalog form "[2020-01-01T00:00:00 TO 2023-10-17T23:59:59]"
func (i Interval) String() string {
	start, end := "*", "*"
	if !i.OpenStart() {
		start = i.Start.Format(DateLayout) + "T00:00:00"
	}
	if !i.OpenEnd() {
		end = i.End.Format(DateLayout) + "T23:59:59"
	}
	return fmt.Sprintf("[%s TO %s]", start, end)
}

// ParseInterval parses a catalog dataset date. Either bound may be "*" or empty.
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return Interval{}, fmt.Errorf("%w: %q", ErrIntervalFormat, s)
	}
	parts := strings.Split(s[1:len(s)-1], " TO ")
	if len(parts) != 2 {
		return Interval{}, fmt.Errorf("%w: %q", ErrIntervalFormat, s)
	}

	var out Interval
	bounds := []*time.Time{&out.Start, &out.End}
	for n, raw := range parts {
		raw = strings.TrimSpace(raw)
		if raw == "" || raw == "*" {
			continue
		}
		t, err := ParseDate(raw)
		if err != nil {
			return Interval{}, fmt.Errorf("%w: %q: %v", ErrIntervalFormat, s, err)
		}
		*bounds[n] = t
	}
	if !out.OpenStart() && !out.OpenEnd() && out.End.Before(out.Start) {
		return Interval{}, fmt.Errorf("%w: %q ends before it starts", ErrIntervalFormat, s)
	}
	return out, nil
}
