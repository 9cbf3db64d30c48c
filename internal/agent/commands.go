package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/comigor/huddle/internal/decision"
	"github.com/comigor/huddle/internal/history"
	"github.com/comigor/huddle/internal/logger"
	"github.com/comigor/huddle/internal/memory"
)

const noDecisions = "No recent decisions found."

type command struct {
	name    string
	pattern *regexp.Regexp
	handle  func(a *Agent, ctx context.Context, t *turn, m []string) (*draft, error)
}

var commands = []command{
	{"set_preferences", regexp.MustCompile(`(?is)^set\s+(?:preferences|preference|prefs)\b\s*[:\-]?\s*(.*)$`), (*Agent).setPreferences},
	{"show_preferences", regexp.MustCompile(`(?i)^(?:(?:show|list)\s+(?:my\s+)?|my\s+)(?:preferences|prefs)$`), (*Agent).showPreferences},
	{"save_list", regexp.MustCompile(`(?is)^save\s+list\s+(.+?)\s*:\s*(.*)$`), (*Agent).saveList},
	{"add_to_list", regexp.MustCompile(`(?is)^add\s+to\s+(?:the\s+)?list\s+(.+?)\s*:\s*(.*)$`), (*Agent).addToList},
	{"show_list", regexp.MustCompile(`(?i)^show\s+(?:the\s+)?list\s+(.+)$`), (*Agent).showList},
	{"list_lists", regexp.MustCompile(`(?i)^(?:list|show)\s+(?:my\s+|all\s+)?lists$`), (*Agent).listLists},
	{"add_decision", regexp.MustCompile(`(?is)^(?:add|record)\s+decision\s*[:\-]?\s*(.+)$`), (*Agent).addDecision},
	{"show_decisions", regexp.MustCompile(`(?i)^(?:show|list)\s+(?:recent\s+)?decisions$`), (*Agent).showDecisions},
}

// dispatchCommand matches the trimmed text against the fixed command set. A
// command that fails still short-circuits with a neutral acknowledgement.
func (a *Agent) dispatchCommand(ctx context.Context, t *turn) *draft {
	text := strings.TrimSpace(t.req.Text)
	text = strings.TrimRight(text, ".!?")
	for _, c := range commands {
		m := c.pattern.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		log := logger.FromContext(ctx).With("command", c.name)
		log.Debug("command matched")
		d, err := c.handle(a, ctx, t, m)
		if err != nil {
			log.Error("command failed", "error", err)
			return &draft{content: "Sorry, I couldn't save that right now. Please try again.", source: "command"}
		}
		d.source = "command"
		return d
	}
	return nil
}

func posted(msg history.Message) *draft {
	return &draft{content: msg.Content, posted: &msg}
}

func splitItems(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == '\n' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (a *Agent) setPreferences(ctx context.Context, t *turn, m []string) (*draft, error) {
	prefs := memory.ParsePairs(m[1])
	if len(prefs) == 0 {
		return &draft{content: "Tell me what to remember, for example: set preferences: budget=50, vegetarian=true"}, nil
	}
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	_, msg, err := a.store.SavePreferences(sctx, t.req.ConversationID, t.req.UserID, prefs)
	if err != nil {
		return nil, err
	}
	return posted(msg), nil
}

func (a *Agent) showPreferences(ctx context.Context, t *turn, _ []string) (*draft, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	prefs, err := a.store.Preferences(sctx, t.req.ConversationID, t.req.UserID)
	if err != nil {
		return nil, err
	}
	if len(prefs) == 0 {
		return &draft{content: "No preferences saved yet."}, nil
	}
	return &draft{content: "Your preferences: " + memory.FormatPreferences(prefs)}, nil
}

func (a *Agent) saveList(ctx context.Context, t *turn, m []string) (*draft, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	_, msg, err := a.store.SaveList(sctx, t.req.ConversationID, m[1], splitItems(m[2]))
	if err != nil {
		return nil, err
	}
	return posted(msg), nil
}

func (a *Agent) addToList(ctx context.Context, t *turn, m []string) (*draft, error) {
	items := splitItems(m[2])
	if len(items) == 0 {
		return &draft{content: fmt.Sprintf("What should I add to %q?", strings.TrimSpace(m[1]))}, nil
	}
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	_, msg, err := a.store.AddToList(sctx, t.req.ConversationID, m[1], items)
	if err != nil {
		return nil, err
	}
	return posted(msg), nil
}

func (a *Agent) showList(ctx context.Context, t *turn, m []string) (*draft, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	view, ok, err := a.store.List(sctx, t.req.ConversationID, m[1])
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(m[1])
	if !ok {
		return &draft{content: fmt.Sprintf("No list named %q yet.", name)}, nil
	}
	if view.Title != "" {
		name = view.Title
	}
	if len(view.Items) == 0 {
		return &draft{content: fmt.Sprintf("List %q is empty.", name)}, nil
	}
	return &draft{content: fmt.Sprintf("List %q: %s", name, strings.Join(view.Items, ", "))}, nil
}

func (a *Agent) listLists(ctx context.Context, t *turn, _ []string) (*draft, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	lists, err := a.store.Lists(sctx, t.req.ConversationID)
	if err != nil {
		return nil, err
	}
	if len(lists) == 0 {
		return &draft{content: "No lists saved yet."}, nil
	}
	parts := make([]string, 0, len(lists))
	for _, l := range lists {
		title := l.Title
		if title == "" {
			title = l.ID
		}
		parts = append(parts, fmt.Sprintf("%s (%d)", title, len(l.Items)))
	}
	return &draft{content: "Lists: " + strings.Join(parts, ", ")}, nil
}

func (a *Agent) addDecision(ctx context.Context, t *turn, m []string) (*draft, error) {
	text := strings.TrimSpace(m[1])
	d := decision.Decision{
		Title:        decision.Truncate(text, decision.MaxTitleLen),
		Summary:      decision.Truncate(text, decision.MaxSummaryLen),
		Participants: []string{t.req.UserID},
		DecidedAt:    t.now,
	}
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	msg, err := a.store.SaveDecisions(sctx, t.req.ConversationID, []decision.Decision{d}, "")
	if err != nil {
		return nil, err
	}
	return posted(msg), nil
}

// showDecisions lists stored decisions. When none are stored it mines the
// recent window and records whatever it finds.
func (a *Agent) showDecisions(ctx context.Context, t *turn, _ []string) (*draft, error) {
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	stored, err := a.store.Decisions(sctx, t.req.ConversationID)
	if err != nil {
		return nil, err
	}
	if len(stored) > 0 {
		return &draft{content: formatDecisions(stored, t)}, nil
	}

	recent := a.history(ctx, t)
	if len(recent) > a.cfg.DecisionWindow {
		recent = recent[:a.cfg.DecisionWindow]
	}
	found := decision.Extract(recent, t.req.UserID, a.cfg.SenderID)
	if len(found) == 0 {
		return &draft{content: noDecisions}, nil
	}
	lines := []string{"Recent decisions:"}
	for _, d := range found {
		lines = append(lines, memory.DecisionAck(d))
	}
	msg, err := a.store.SaveDecisions(sctx, t.req.ConversationID, found, strings.Join(lines, "\n"))
	if err != nil {
		logger.FromContext(ctx).Warn("failed to record extracted decisions", "error", err)
		return &draft{content: formatDecisions(found, t)}, nil
	}
	return posted(msg), nil
}

func formatDecisions(ds []decision.Decision, t *turn) string {
	lines := []string{"Recent decisions:"}
	for _, d := range ds {
		line := "- " + d.Title
		if !d.DecidedAt.IsZero() {
			line += " (" + d.DecidedAt.In(t.loc).Format("Jan 2") + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
