package memory

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/comigor/huddle/internal/calendar"
	"github.com/comigor/huddle/internal/decision"
)

// Kind identifies what a bookkeeping record stores.
type Kind string

const (
	KindPreferences Kind = "preferences"
	KindList        Kind = "list"
	KindDecisions   Kind = "decisions"
)

// List write operations. Reads union the newest save with later adds.
const (
	OpSave = "save"
	OpAdd  = "add"
)

const maxListIDLen = 60

// Record is the payload of a bookkeeping (System) message.
type Record struct {
	Type      Kind                `json:"type,omitempty"`
	Owner     string              `json:"owner,omitempty"`
	ID        string              `json:"id,omitempty"`
	Title     string              `json:"title,omitempty"`
	Op        string              `json:"op,omitempty"`
	Items     []string            `json:"items,omitempty"`
	Data      map[string]string   `json:"data,omitempty"`
	Decisions []decision.Decision `json:"decisions,omitempty"`
}

// Sentinel returns the marker used for this record's kind.
func (r Record) Sentinel() Sentinel {
	switch r.Type {
	case KindPreferences:
		return SentinelPreferences
	case KindList:
		return SentinelList
	default:
		return SentinelDecisions
	}
}

// Reply is the metadata attached to an ordinary assistant reply.
type Reply struct {
	RequestID string              `json:"requestId,omitempty"`
	Events    []calendar.Event    `json:"events,omitempty"`
	Conflicts []calendar.Conflict `json:"conflicts,omitempty"`
	Priority  string              `json:"priority,omitempty"`
	Source    string              `json:"source,omitempty"`
}

// Empty reports whether there is nothing worth encoding.
func (r Reply) Empty() bool {
	return len(r.Events) == 0 && len(r.Conflicts) == 0 && r.Priority == ""
}

// ListView is the merged state of a named list.
type ListView struct {
	ID    string   `json:"id"`
	Title string   `json:"title"`
	Items []string `json:"items"`
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// NormalizeListID lower-cases name, turns whitespace runs into hyphens and truncates to 60 characters.
func NormalizeListID(name string) string {
	id := whitespaceRun.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	if utf8.RuneCountInString(id) > maxListIDLen {
		id = string([]rune(id)[:maxListIDLen])
	}
	return id
}

// union appends the items of b missing from a, comparing case-insensitively.
func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, item := range list {
			key := strings.ToLower(strings.TrimSpace(item))
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, strings.TrimSpace(item))
		}
	}
	return out
}
