package memory

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/comigor/huddle/internal/decision"
)

var (
	setPreferences = regexp.MustCompile(`(?is)^\s*set\s+(?:preferences|preference|prefs)\s*[:\-]?\s*(.*)$`)
	decisionAck    = regexp.MustCompile(`(?m)^Decision recorded: (.+)$`)
)

// ParsePreferenceCommand reads "set preferences: budget=50, vegetarian: true".
// ok is false when text is not such a command or names no pairs.
func ParsePreferenceCommand(text string) (map[string]string, bool) {
	m := setPreferences.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	prefs := ParsePairs(m[1])
	return prefs, len(prefs) > 0
}

// ParsePairs splits "k=v, k2: v2; k3" into a map. Keys are lower-cased; a bare key means "true".
func ParsePairs(s string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '\n' }) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, "=")
		if !found {
			key, value, found = strings.Cut(part, ":")
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}
		if !found {
			value = "true"
		}
		out[key] = value
	}
	return out
}

// FormatPreferences renders prefs as "k=v, k2=v2" in key order.
func FormatPreferences(prefs map[string]string) string {
	keys := make([]string, 0, len(prefs))
	for k := range prefs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+prefs[k])
	}
	return strings.Join(parts, ", ")
}

// DecisionAck is the acknowledgement line written when a decision is recorded.
// Readers fall back to matching it when no encoded payload survives.
func DecisionAck(d decision.Decision) string {
	return fmt.Sprintf("Decision recorded: %s", d.Title)
}

func parseDecisionAcks(content string) []string {
	var titles []string
	for _, m := range decisionAck.FindAllStringSubmatch(content, -1) {
		if t := strings.TrimSpace(m[1]); t != "" {
			titles = append(titles, t)
		}
	}
	return titles
}
