package agent

import (
	"context"
	"strings"

	"github.com/comigor/huddle/internal/logger"
	"github.com/comigor/huddle/internal/timeparse"
)

// cannedPlan is used when nothing structured can be recovered from the text.
const cannedPlan = `Got it! Here's a simple plan to start from:
- Morning: pick an activity everyone enjoys
- Midday: lunch together
- Evening: something relaxed to wrap up the day
Tell me times (like "tomorrow 9am park") and I'll put them on the calendar.`

// fallback always produces a reply: events parsed from the user's own text
// when there are any, the canned plan otherwise.
func (a *Agent) fallback(ctx context.Context, t *turn) *draft {
	events := timeparse.ParseEvents(t.req.Text, t.now)
	if len(events) == 0 {
		logger.FromContext(ctx).Debug("no events recovered, using template")
		return &draft{content: cannedPlan, source: "template"}
	}

	var b strings.Builder
	b.WriteString("Here's the plan:")
	for _, e := range events {
		b.WriteString("\n- ")
		b.WriteString(e.Start.Format("Mon Jan 2, 15:04"))
		b.WriteString("-")
		b.WriteString(e.End.Format("15:04"))
		b.WriteString(" ")
		b.WriteString(e.Title)
	}
	return &draft{content: b.String(), events: events, source: "parser"}
}
