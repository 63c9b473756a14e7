package models

import "time"

const DayLayout = "2006-01-02"

// DayWindow is the half-open range [Start, End) covering one facility-local
// calendar day.
type DayWindow struct {
	Start time.Time
	End   time.Time
}

// DayWindowAt returns the window of the calendar day containing t in loc.
// End is computed with time.Date so days shortened or lengthened by a DST
// switch keep their real length.
func DayWindowAt(t time.Time, loc *time.Location) DayWindow {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	y, m, d := local.Date()
	return DayWindow{
		Start: time.Date(y, m, d, 0, 0, 0, 0, loc),
		End:   time.Date(y, m, d+1, 0, 0, 0, 0, loc),
	}
}

// ParseDay parses a YYYY-MM-DD value as a facility-local day.
func ParseDay(value string, loc *time.Location) (DayWindow, error) {
	if loc == nil {
		loc = time.UTC
	}
	day, err := time.ParseInLocation(DayLayout, value, loc)
	if err != nil {
		return DayWindow{}, err
	}
	return DayWindowAt(day, loc), nil
}

func (w DayWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Key identifies the day, e.g. "2026-10-16". It is the partition value for
// token numbering.
func (w DayWindow) Key() string {
	return w.Start.Format(DayLayout)
}

func (w DayWindow) Next() DayWindow {
	return DayWindowAt(w.End, w.Start.Location())
}
