// Package decision mines recent conversation messages for phrases that signal
// group agreement. It favors recall: false positives are acceptable.
package decision

import (
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/comigor/huddle/internal/history"
)

const (
	MaxResults    = 3
	MaxTitleLen   = 60
	MaxSummaryLen = 200
	// window is how many messages on each side of a hit count as participants.
	window = 5
)

// Decision is an agreement found in (or explicitly added to) a conversation.
// Participants are inferred and not authoritative.
type Decision struct {
	Title        string    `json:"title"`
	Summary      string    `json:"summary"`
	Participants []string  `json:"participants"`
	DecidedAt    time.Time `json:"decidedAtISO"`
}

var (
	agreement     = regexp.MustCompile(`(?i)\b(?:we\s+decided|decided\s+to|let'?s\s+go\s+with|we\s+agreed|agreed\s+to|settled\s+on|we\s+will\s+go\s+with|we'll\s+go\s+with|we\s+cho(?:o)?se)\b`)
	speakerPrefix = regexp.MustCompile(`^\s*[\p{L}\p{N}_.' -]{1,40}:\s+`)
)

// Extract scans messages (in either order) and returns up to MaxResults
// decisions. Bookkeeping messages and the assistant's own replies are ignored.
func Extract(messages []history.Message, currentUserID, assistantID string) []Decision {
	var out []Decision
	for i, m := range messages {
		if len(out) >= MaxResults {
			break
		}
		if m.MessageType == history.TypeSystem || m.SenderID == assistantID {
			continue
		}
		if !agreement.MatchString(m.Content) {
			continue
		}
		text := strings.TrimSpace(m.Content)
		out = append(out, Decision{
			Title:        Truncate(speakerPrefix.ReplaceAllString(text, ""), MaxTitleLen),
			Summary:      Truncate(text, MaxSummaryLen),
			Participants: participants(messages, i, currentUserID, assistantID),
			DecidedAt:    m.CreatedAt,
		})
	}
	return out
}

// participants collects distinct senders within ±window of messages[i].
func participants(messages []history.Message, i int, currentUserID, assistantID string) []string {
	lo := max(0, i-window)
	hi := min(len(messages)-1, i+window)

	seen := make(map[string]struct{})
	var out []string
	for j := lo; j <= hi; j++ {
		id := messages[j].SenderID
		if id == "" || id == assistantID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 && currentUserID != "" {
		return []string{currentUserID}
	}
	slices.Sort(out)
	return out
}

// Truncate cuts s to n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}
