// Package calendar holds the event model shared by the parser, the generator
// and the conflict detector.
package calendar

import (
	"encoding/json"
	"strings"
	"time"
)

// Event is a titled time range. A usable event has Start strictly before End.
type Event struct {
	Title string
	Start time.Time
	End   time.Time
	Notes string
}

// Valid reports whether both instants are set and Start < End.
func (e Event) Valid() bool {
	return !e.Start.IsZero() && !e.End.IsZero() && e.Start.Before(e.End)
}

// Range is the wire form of an Event. Instants stay unparsed until the
// caller knows which zone offsetless values belong to.
type Range struct {
	Title    string `json:"title,omitempty"`
	StartISO string `json:"startISO"`
	EndISO   string `json:"endISO"`
	Notes    string `json:"notes,omitempty"`
}

// In parses the range, reading offsetless instants in loc. Unparseable
// instants become the zero time, so the result is simply not Valid.
func (r Range) In(loc *time.Location) Event {
	e := Event{Title: r.Title, Notes: r.Notes}
	e.Start, _ = ParseISO(r.StartISO, loc)
	e.End, _ = ParseISO(r.EndISO, loc)
	return e
}

// Anchor parses every range in loc.
func Anchor(ranges []Range, loc *time.Location) []Event {
	if len(ranges) == 0 {
		return nil
	}
	out := make([]Event, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, r.In(loc))
	}
	return out
}

// MarshalJSON encodes the instants as RFC 3339 strings.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(Range{
		Title:    e.Title,
		StartISO: formatISO(e.Start),
		EndISO:   formatISO(e.End),
		Notes:    e.Notes,
	})
}

// UnmarshalJSON is lenient: unparseable instants decode to the zero time so
// callers can skip the event instead of failing the whole payload. Offsetless
// instants are read as UTC; use Range to pick the zone.
func (e *Event) UnmarshalJSON(b []byte) error {
	var raw Range
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = raw.In(time.UTC)
	return nil
}

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseISO parses an ISO-8601 instant. Values without an offset are read in loc.
func ParseISO(s string, loc *time.Location) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range isoLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func formatISO(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
