package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/huddle/internal/calendar"
	"github.com/comigor/huddle/internal/history"
	"github.com/comigor/huddle/internal/logger"
	"github.com/comigor/huddle/internal/memory"
	"github.com/comigor/huddle/internal/timeparse"
)

const (
	maxReplyLen    = 800
	maxBusyDigest  = 10
	digestTimeFmt  = "Mon Jan 2 15:04"
	systemTemplate = `You are a friendly planning assistant taking part in a group chat.
Respond with a single JSON object and nothing else, shaped as:
{"text": "<reply shown to the group, required>", "events": [{"title": "<short title>", "startISO": "<ISO-8601>", "endISO": "<ISO-8601>", "notes": "<optional>"}], "priority": "low|normal|high"}
"events" and "priority" are optional. Only include events the user asked to plan; every event must end after it starts.
The current time is %s (timezone %s).`
)

var priorities = map[string]bool{"low": true, "normal": true, "high": true}

// errInvalidOutput marks completion output that failed validation.
var errInvalidOutput = errors.New("invalid completion output")

// generation is the validated form of a completion response.
type generation struct {
	Text     string
	Events   []calendar.Event
	Priority string
}

type rawGeneration struct {
	Text     string           `json:"text"`
	Events   []calendar.Range `json:"events"`
	Priority string           `json:"priority"`
}

// generate asks the completion service for a reply. Errors, timeouts and
// output that fails validation pass to the fallback.
func (a *Agent) generate(ctx context.Context, t *turn) *draft {
	if a.llmClient == nil {
		return nil
	}
	log := logger.FromContext(ctx)

	req := openai.ChatCompletionRequest{
		Model:       a.llmCfg.Model,
		Messages:    a.prompt(ctx, t),
		Temperature: a.llmCfg.Temperature,
		MaxTokens:   a.llmCfg.MaxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	cctx, cancel := context.WithTimeout(ctx, a.llmCfg.Timeout)
	defer cancel()
	resp, err := a.llmClient.CreateChatCompletion(cctx, req)
	if err != nil {
		log.Warn("LLM call failed, falling back", "error", err)
		return nil
	}
	if len(resp.Choices) == 0 {
		log.Warn("LLM returned no choices, falling back")
		return nil
	}

	gen, err := decodeGeneration(resp.Choices[0].Message.Content, t.loc)
	if err != nil {
		log.Warn("LLM output rejected, falling back", "error", err)
		return nil
	}
	return &draft{content: gen.Text, events: gen.Events, priority: gen.Priority, source: "llm"}
}

// decodeGeneration strictly validates completion output. Events that fail
// validation are dropped; a missing or empty text rejects the whole output.
func decodeGeneration(content string, loc *time.Location) (generation, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return generation{}, fmt.Errorf("%w: no JSON object", errInvalidOutput)
	}
	var raw rawGeneration
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &raw); err != nil {
		return generation{}, fmt.Errorf("%w: %v", errInvalidOutput, err)
	}

	text := strings.TrimSpace(raw.Text)
	if text == "" {
		return generation{}, fmt.Errorf("%w: empty text", errInvalidOutput)
	}
	gen := generation{Text: truncateRunes(text, maxReplyLen)}

	for _, re := range raw.Events {
		if len(gen.Events) == timeparse.MaxEvents {
			break
		}
		title := strings.TrimSpace(re.Title)
		if title == "" {
			continue
		}
		s, okS := calendar.ParseISO(re.StartISO, loc)
		e, okE := calendar.ParseISO(re.EndISO, loc)
		if !okS || !okE || !s.Before(e) {
			continue
		}
		gen.Events = append(gen.Events, calendar.Event{
			Title: truncateRunes(title, timeparse.MaxTitleLen),
			Start: s,
			End:   e,
			Notes: strings.TrimSpace(re.Notes),
		})
	}

	if p := strings.ToLower(strings.TrimSpace(raw.Priority)); priorities[p] {
		gen.Priority = p
	}
	return gen, nil
}

// prompt builds the system instruction, the recent turns and the new user message.
func (a *Agent) prompt(ctx context.Context, t *turn) []openai.ChatCompletionMessage {
	var sys strings.Builder
	fmt.Fprintf(&sys, systemTemplate, t.now.Format(time.RFC3339), t.loc.String())

	sctx, cancel := a.storeCtx(ctx)
	prefs, err := a.store.Preferences(sctx, t.req.ConversationID, t.req.UserID)
	cancel()
	if err != nil {
		logger.FromContext(ctx).Warn("failed to load preferences for prompt", "error", err)
	}
	if len(prefs) > 0 {
		sys.WriteString("\nThe user's saved preferences: " + memory.FormatPreferences(prefs) + ".")
	}
	if digest := busyDigest(t.device, t.loc); digest != "" {
		sys.WriteString("\nThe user is busy at: " + digest + ".")
	}

	msgs := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: sys.String()}}
	msgs = append(msgs, a.contextTurns(ctx, t)...)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: t.req.Text})
	return msgs
}

// contextTurns returns the last ContextTurns chat messages, oldest first.
// Bookkeeping messages and the message being answered are left out.
func (a *Agent) contextTurns(ctx context.Context, t *turn) []openai.ChatCompletionMessage {
	recent := a.history(ctx, t)
	picked := make([]history.Message, 0, a.cfg.ContextTurns)
	for i, m := range recent {
		if len(picked) == a.cfg.ContextTurns {
			break
		}
		if m.MessageType == history.TypeSystem || strings.TrimSpace(m.Content) == "" {
			continue
		}
		if i == 0 && m.SenderID == t.req.UserID && strings.TrimSpace(m.Content) == strings.TrimSpace(t.req.Text) {
			continue
		}
		picked = append(picked, m)
	}

	out := make([]openai.ChatCompletionMessage, 0, len(picked))
	for i := len(picked) - 1; i >= 0; i-- {
		m := picked[i]
		if m.SenderID == a.cfg.SenderID {
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: m.Content})
			continue
		}
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: m.SenderID + ": " + m.Content})
	}
	return out
}

// busyDigest renders device busy slots without titles.
func busyDigest(events []calendar.Event, loc *time.Location) string {
	var parts []string
	for _, e := range events {
		if !e.Valid() {
			continue
		}
		parts = append(parts, e.Start.In(loc).Format(digestTimeFmt)+"-"+e.End.In(loc).Format("15:04"))
		if len(parts) == maxBusyDigest {
			break
		}
	}
	return strings.Join(parts, "; ")
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
