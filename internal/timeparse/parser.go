// Package timeparse turns short natural-language plans ("tomorrow 6-7am park")
// into calendar events. It is deterministic and never fails: text it cannot
// read yields no events.
package timeparse

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/comigor/huddle/internal/calendar"
)

const (
	// MaxEvents caps how many events one message can produce.
	MaxEvents = 10
	// MaxTitleLen caps event titles, in runes.
	MaxTitleLen = 80

	defaultTitle    = "Plan"
	defaultDuration = time.Hour
)

var (
	commandPrefix = regexp.MustCompile(`(?i)^\s*(?:@?(?:assistant|huddle)\b[\s,:]*)?(?:please\s+)?(?:plan|schedule|add|book|set up|remind me(?:\s+to)?)\b[\s,:]*`)
	dayColon      = regexp.MustCompile(`(?i)\b(today|tonight|tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\s*:\s*`)
	dayToken      = regexp.MustCompile(`(?i)\b(?:(?:on|this|next)\s+)?(today|tonight|tomorrow|monday|tuesday|wednesday|thursday|friday|saturday|sunday)\b`)

	range12  = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)?\s*(?:-|–|—|to|until)\s*(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	range24  = regexp.MustCompile(`(?i)\b([01]?\d|2[0-3]):([0-5]\d)\s*(?:-|–|—|to|until)\s*([01]?\d|2[0-3]):([0-5]\d)\b`)
	single12 = regexp.MustCompile(`(?i)\b(\d{1,2})(?::(\d{2}))?\s*(am|pm)\b`)
	single24 = regexp.MustCompile(`\b([01]?\d|2[0-3]):([0-5]\d)\b`)
	noon     = regexp.MustCompile(`(?i)\b(noon|midday)\b`)

	leadingSeparators  = regexp.MustCompile(`^[\s\-–—:,.;@|>]+`)
	trailingConnectors = regexp.MustCompile(`(?i)(?:[\s\-–—:,.;@|]+|\b(?:at|from|around)\b)+$`)
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseEvents extracts up to MaxEvents events from text, resolving relative
// days against now (and in now's location). Every returned event has Start < End.
func ParseEvents(text string, now time.Time) []calendar.Event {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	for _, rewrite := range rewrites(text) {
		if events := scan(rewrite, now); len(events) > 0 {
			return events
		}
	}
	return lastResort(text, now)
}

// rewrites returns normalized variants of text, most normalized first, without duplicates.
func rewrites(text string) []string {
	stripped := strings.TrimSpace(commandPrefix.ReplaceAllString(text, ""))
	collapsed := strings.TrimSpace(dayColon.ReplaceAllString(stripped, "$1 "))

	out := make([]string, 0, 3)
	seen := make(map[string]struct{}, 3)
	for _, r := range []string{collapsed, stripped, text} {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

func scan(text string, now time.Time) []calendar.Event {
	day, rest := resolveDay(text, now)

	var events []calendar.Event
	for _, seg := range segments(rest) {
		if len(events) >= MaxEvents {
			break
		}
		if e, ok := parseSegment(seg, day); ok {
			events = append(events, e)
		}
	}
	return events
}

// lastResort walks every time-like token of the raw text and keeps the first
// one that reads as an event, so "13pm or 9am park" still yields 9am.
func lastResort(text string, now time.Time) []calendar.Event {
	day, rest := resolveDay(text, now)
	for off := 0; off < len(rest); {
		m, ok := findTime(rest[off:])
		if !ok {
			return nil
		}
		if e, ok := m.event(day, rest[off+m.end:], ""); ok {
			return []calendar.Event{e}
		}
		off += m.end
	}
	return nil
}

// resolveDay finds the first day token and returns the midnight it names plus
// the text with that token removed. Weekdays always resolve forward: the
// current weekday means a week from today.
func resolveDay(text string, now time.Time) (time.Time, string) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	loc := dayToken.FindStringSubmatchIndex(text)
	if loc == nil {
		return today, text
	}
	token := strings.ToLower(text[loc[2]:loc[3]])
	rest := strings.TrimSpace(text[:loc[0]] + " " + text[loc[1]:])

	offset := 0
	switch token {
	case "today", "tonight":
	case "tomorrow":
		offset = 1
	default:
		target := weekdays[token]
		offset = (int(target) - int(now.Weekday()) + 7) % 7
		if offset == 0 {
			offset = 7
		}
	}
	return today.AddDate(0, 0, offset), rest
}

// segments splits on ';' and then on commas that introduce another timed item,
// so "9am park, 12pm lunch" yields two segments while "6-7am park, bring snacks" stays whole.
func segments(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ";") {
		var (
			current string
			timed   bool
		)
		for _, piece := range strings.Split(part, ",") {
			piece = strings.TrimSpace(piece)
			if piece == "" {
				continue
			}
			_, hasTime := findTime(piece)
			switch {
			case current == "":
				current, timed = piece, hasTime
			case hasTime && timed:
				out = append(out, current)
				current, timed = piece, true
			default:
				current += ", " + piece
				timed = timed || hasTime
			}
		}
		if current != "" {
			out = append(out, current)
		}
	}
	return out
}

func parseSegment(seg string, day time.Time) (calendar.Event, bool) {
	m, ok := findTime(seg)
	if !ok {
		return calendar.Event{}, false
	}
	return m.event(day, seg[m.end:], seg[:m.start])
}

// timeMatch is a located time expression with resolved 24-hour clock values.
type timeMatch struct {
	start, end int
	sh, sm     int
	eh, em     int
	ranged     bool
	valid      bool
}

func (m timeMatch) event(day time.Time, after, before string) (calendar.Event, bool) {
	if !m.valid {
		return calendar.Event{}, false
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), m.sh, m.sm, 0, 0, day.Location())
	end := start.Add(defaultDuration)
	if m.ranged {
		end = time.Date(day.Year(), day.Month(), day.Day(), m.eh, m.em, 0, 0, day.Location())
	}
	if !start.Before(end) {
		return calendar.Event{}, false
	}
	return calendar.Event{Title: title(after, before), Start: start, End: end}, true
}

// findTime locates the earliest time expression. At equal positions ranges win
// over single times and meridiem forms win over 24-hour forms.
func findTime(s string) (timeMatch, bool) {
	var (
		best  timeMatch
		found bool
	)
	consider := func(m timeMatch) {
		if !found || m.start < best.start {
			best, found = m, true
		}
	}
	if loc := range12.FindStringSubmatchIndex(s); loc != nil {
		consider(matchRange12(s, loc))
	}
	if loc := range24.FindStringSubmatchIndex(s); loc != nil {
		consider(matchRange24(s, loc))
	}
	if loc := single12.FindStringSubmatchIndex(s); loc != nil {
		consider(matchSingle12(s, loc))
	}
	if loc := single24.FindStringSubmatchIndex(s); loc != nil {
		consider(matchSingle24(s, loc))
	}
	if loc := noon.FindStringIndex(s); loc != nil {
		consider(timeMatch{start: loc[0], end: loc[1], sh: 12, valid: true})
	}
	return best, found
}

func group(s string, loc []int, n int) string {
	if loc[2*n] < 0 {
		return ""
	}
	return s[loc[2*n]:loc[2*n+1]]
}

func matchRange12(s string, loc []int) timeMatch {
	m := timeMatch{start: loc[0], end: loc[1], ranged: true}
	endMer := strings.ToLower(group(s, loc, 6))
	eh, em, ok := clock12(group(s, loc, 4), group(s, loc, 5), endMer)
	if !ok {
		return m
	}
	startMer := strings.ToLower(group(s, loc, 3))
	var sh, sm int
	if startMer != "" {
		if sh, sm, ok = clock12(group(s, loc, 1), group(s, loc, 2), startMer); !ok {
			return m
		}
	} else {
		// Shared meridiem; "11-1pm" means 11am.
		if sh, sm, ok = clock12(group(s, loc, 1), group(s, loc, 2), endMer); !ok {
			return m
		}
		if sh*60+sm >= eh*60+em {
			if sh, sm, ok = clock12(group(s, loc, 1), group(s, loc, 2), opposite(endMer)); !ok {
				return m
			}
		}
	}
	m.sh, m.sm, m.eh, m.em, m.valid = sh, sm, eh, em, true
	return m
}

func matchRange24(s string, loc []int) timeMatch {
	m := timeMatch{start: loc[0], end: loc[1], ranged: true}
	sh, sm, ok1 := clock24(group(s, loc, 1), group(s, loc, 2))
	eh, em, ok2 := clock24(group(s, loc, 3), group(s, loc, 4))
	if ok1 && ok2 {
		m.sh, m.sm, m.eh, m.em, m.valid = sh, sm, eh, em, true
	}
	return m
}

func matchSingle12(s string, loc []int) timeMatch {
	m := timeMatch{start: loc[0], end: loc[1]}
	if h, mi, ok := clock12(group(s, loc, 1), group(s, loc, 2), strings.ToLower(group(s, loc, 3))); ok {
		m.sh, m.sm, m.valid = h, mi, true
	}
	return m
}

func matchSingle24(s string, loc []int) timeMatch {
	m := timeMatch{start: loc[0], end: loc[1]}
	if h, mi, ok := clock24(group(s, loc, 1), group(s, loc, 2)); ok {
		m.sh, m.sm, m.valid = h, mi, true
	}
	return m
}

// clock12 converts a 12-hour reading to 24-hour values. hour must be in [1,12].
func clock12(hour, minute, meridiem string) (int, int, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil || h < 1 || h > 12 {
		return 0, 0, false
	}
	mi, ok := minutes(minute)
	if !ok {
		return 0, 0, false
	}
	switch meridiem {
	case "pm":
		if h != 12 {
			h += 12
		}
	case "am":
		if h == 12 {
			h = 0
		}
	default:
		return 0, 0, false
	}
	return h, mi, true
}

func clock24(hour, minute string) (int, int, bool) {
	h, err := strconv.Atoi(hour)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, false
	}
	mi, ok := minutes(minute)
	if !ok {
		return 0, 0, false
	}
	return h, mi, true
}

func minutes(s string) (int, bool) {
	if s == "" {
		return 0, true
	}
	mi, err := strconv.Atoi(s)
	if err != nil || mi < 0 || mi > 59 {
		return 0, false
	}
	return mi, true
}

func opposite(meridiem string) string {
	if meridiem == "pm" {
		return "am"
	}
	return "pm"
}

// title prefers the text following the time; "park at 9am" falls back to the text before it.
func title(after, before string) string {
	t := strings.TrimSpace(leadingSeparators.ReplaceAllString(after, ""))
	if t == "" {
		t = strings.TrimSpace(trailingConnectors.ReplaceAllString(before, ""))
		t = strings.TrimSpace(leadingSeparators.ReplaceAllString(t, ""))
	}
	if t == "" {
		return defaultTitle
	}
	return truncate(t, MaxTitleLen)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
