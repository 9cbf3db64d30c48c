package calendar

import (
	"encoding/json"
	"time"
)

// Source tells where a prior event came from.
type Source string

const (
	SourceAssistant Source = "assistant"
	SourceDevice    Source = "device"
)

const (
	maxOverlapsPerEvent = 3
	maxConflicts        = 10
)

// Prior is an already-planned event the proposals are checked against.
type Prior struct {
	Event
	Source Source
}

// Overlap is one prior range colliding with a proposed event.
type Overlap struct {
	Start  time.Time
	End    time.Time
	Source Source
}

type overlapJSON struct {
	StartISO string `json:"startISO"`
	EndISO   string `json:"endISO"`
	Source   Source `json:"source"`
}

func (o Overlap) MarshalJSON() ([]byte, error) {
	return json.Marshal(overlapJSON{StartISO: formatISO(o.Start), EndISO: formatISO(o.End), Source: o.Source})
}

func (o *Overlap) UnmarshalJSON(b []byte) error {
	var raw overlapJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	o.Source = raw.Source
	o.Start, _ = ParseISO(raw.StartISO, time.UTC)
	o.End, _ = ParseISO(raw.EndISO, time.UTC)
	return nil
}

// Conflict lists the prior ranges overlapping proposed[EventIndex].
type Conflict struct {
	EventIndex int       `json:"eventIndex"`
	Conflicts  []Overlap `json:"conflicts"`
}

// DetectConflicts flags half-open overlaps between proposed and prior events.
// Results follow the order of proposed, and within one event the order of prior.
// Each event keeps at most 3 overlaps and at most 10 events are reported.
// Events with missing or inverted instants are skipped on either side.
func DetectConflicts(proposed []Event, prior []Prior) []Conflict {
	var out []Conflict
	for i, p := range proposed {
		if len(out) >= maxConflicts {
			break
		}
		if !p.Valid() {
			continue
		}
		var overlaps []Overlap
		for _, q := range prior {
			if !q.Valid() {
				continue
			}
			if p.Start.Before(q.End) && q.Start.Before(p.End) {
				overlaps = append(overlaps, Overlap{Start: q.Start, End: q.End, Source: q.Source})
				if len(overlaps) == maxOverlapsPerEvent {
					break
				}
			}
		}
		if len(overlaps) > 0 {
			out = append(out, Conflict{EventIndex: i, Conflicts: overlaps})
		}
	}
	return out
}

const (
	deviceWarning    = "Heads up: this overlaps with existing events on your calendar."
	assistantWarning = "Heads up: this overlaps with earlier plans."
)

// Warning returns the sentence appended to a reply carrying conflicts, or ""
// when there are none. Device-sourced overlaps take precedence.
func Warning(conflicts []Conflict) string {
	if len(conflicts) == 0 {
		return ""
	}
	for _, c := range conflicts {
		for _, o := range c.Conflicts {
			if o.Source == SourceDevice {
				return deviceWarning
			}
		}
	}
	return assistantWarning
}
