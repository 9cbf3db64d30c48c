// Package memory keeps preferences, named lists and decisions inside the
// conversation log itself. Every write is one bookkeeping message carrying the
// payload three times (metadata, sentinel attachment, sentinel content token);
// reads replay recent history newest first, so the newest write always wins.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/comigor/huddle/internal/calendar"
	"github.com/comigor/huddle/internal/decision"
	"github.com/comigor/huddle/internal/history"
	"github.com/comigor/huddle/internal/logger"
)

const defaultWindow = 200

// Store reads and writes structured state through a history.Repository.
type Store struct {
	repo        history.Repository
	cache       *Cache
	assistantID string
	window      int
}

// NewStore builds a Store scanning at most window messages per read. cache may be nil.
func NewStore(repo history.Repository, cache *Cache, assistantID string, window int) *Store {
	if window <= 0 {
		window = defaultWindow
	}
	return &Store{repo: repo, cache: cache, assistantID: assistantID, window: window}
}

// Write persists rec as a System message whose visible content starts with summary.
func (s *Store) Write(ctx context.Context, conversationID string, rec Record, summary string) (history.Message, error) {
	enc, err := Encode(rec.Sentinel(), rec)
	if err != nil {
		return history.Message{}, err
	}
	msg := history.Message{
		ConversationID: conversationID,
		SenderID:       s.assistantID,
		MessageType:    history.TypeSystem,
	}
	enc.Apply(&msg, summary)

	created, err := s.create(ctx, msg)
	if err != nil {
		return history.Message{}, err
	}
	s.remember(conversationID, rec)
	return created, nil
}

// PostReply persists an ordinary assistant reply, duplicating reply metadata
// into an events: attachment when there is any.
func (s *Store) PostReply(ctx context.Context, conversationID, content string, reply Reply) (history.Message, error) {
	msg := history.Message{
		ConversationID: conversationID,
		SenderID:       s.assistantID,
		Content:        content,
		MessageType:    history.TypeText,
	}
	if !reply.Empty() || reply.RequestID != "" {
		enc, err := Encode(SentinelEvents, reply)
		if err != nil {
			return history.Message{}, err
		}
		msg.Metadata = enc.Metadata
		if !reply.Empty() {
			msg.Attachments = []string{enc.Attachment}
		}
	}
	return s.create(ctx, msg)
}

// create stores msg and, if the backend dropped its type or metadata, patches
// them back once. A failed patch is logged and ignored.
func (s *Store) create(ctx context.Context, msg history.Message) (history.Message, error) {
	created, err := s.repo.Create(ctx, msg)
	if err != nil {
		return history.Message{}, fmt.Errorf("create message: %w", err)
	}
	lostType := msg.MessageType != "" && created.MessageType != msg.MessageType
	lostMeta := len(msg.Metadata) > 0 && len(created.Metadata) == 0
	if !lostType && !lostMeta || created.ID == "" {
		return created, nil
	}
	patch := history.Patch{}
	if lostType {
		patch.MessageType = msg.MessageType
	}
	if lostMeta {
		patch.Metadata = msg.Metadata
	}
	patched, err := s.repo.Update(ctx, created.ID, patch)
	if err != nil {
		logger.FromContext(ctx).Warn("message backfill failed", "id", created.ID, "error", err)
		return created, nil
	}
	return patched, nil
}

// remember keeps the cache consistent with a write that may not be readable yet.
func (s *Store) remember(conversationID string, rec Record) {
	switch rec.Type {
	case KindPreferences:
		s.cache.put(cacheKey{conversationID, KindPreferences, rec.Owner}, maps.Clone(rec.Data))
	case KindList:
		key := cacheKey{conversationID, KindList, rec.ID}
		if rec.Op == OpAdd {
			cached, ok := s.cache.get(key)
			if !ok {
				s.cache.forget(key)
				return
			}
			view := cached.(ListView)
			view.Items = union(view.Items, rec.Items)
			s.cache.put(key, view)
			return
		}
		s.cache.put(key, ListView{ID: rec.ID, Title: rec.Title, Items: slices.Clone(rec.Items)})
	case KindDecisions:
		key := cacheKey{conversationID, KindDecisions, ""}
		cached, ok := s.cache.get(key)
		if !ok {
			return
		}
		s.cache.put(key, mergeDecisions(rec.Decisions, cached.([]decision.Decision)))
	}
}

func (s *Store) recent(ctx context.Context, conversationID string) ([]history.Message, error) {
	msgs, err := s.repo.Recent(ctx, conversationID, s.window)
	if err != nil {
		return nil, fmt.Errorf("load recent messages: %w", err)
	}
	return msgs, nil
}

// isCarrier reports whether m may hold bookkeeping. The type check alone is not
// enough because a backend may drop messageType.
func isCarrier(m history.Message, assistantID string) bool {
	return m.SenderID == assistantID || m.MessageType == history.TypeSystem
}

// SavePreferences merges prefs over the user's current preferences and writes the result.
func (s *Store) SavePreferences(ctx context.Context, conversationID, userID string, prefs map[string]string) (map[string]string, history.Message, error) {
	current, err := s.Preferences(ctx, conversationID, userID)
	if err != nil {
		logger.FromContext(ctx).Warn("reading preferences before save failed", "error", err)
		current = nil
	}
	merged := make(map[string]string, len(current)+len(prefs))
	maps.Copy(merged, current)
	maps.Copy(merged, prefs)

	rec := Record{Type: KindPreferences, Owner: userID, Data: merged}
	msg, err := s.Write(ctx, conversationID, rec, "Preferences saved: "+FormatPreferences(merged))
	if err != nil {
		return nil, history.Message{}, err
	}
	return merged, msg, nil
}

// Preferences returns the newest preferences written for userID, or nil.
func (s *Store) Preferences(ctx context.Context, conversationID, userID string) (map[string]string, error) {
	key := cacheKey{conversationID, KindPreferences, userID}
	if v, ok := s.cache.get(key); ok {
		return maps.Clone(v.(map[string]string)), nil
	}
	msgs, err := s.recent(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	prefs := PreferencesFrom(msgs, userID, s.assistantID)
	if prefs != nil {
		s.cache.put(key, maps.Clone(prefs))
	}
	return prefs, nil
}

// PreferencesFrom replays newest-first msgs. Encoded payloads are tried first;
// failing those, the user's own latest "set preferences" command is re-parsed.
func PreferencesFrom(msgs []history.Message, userID, assistantID string) map[string]string {
	accept := func(r Record) bool {
		return r.Type == KindPreferences && (r.Owner == "" || r.Owner == userID) && len(r.Data) > 0
	}
	for _, m := range msgs {
		if !isCarrier(m, assistantID) {
			continue
		}
		if rec, _, ok := Decode(m, SentinelPreferences, accept); ok {
			return rec.Data
		}
	}
	for _, m := range msgs {
		if m.SenderID != userID {
			continue
		}
		if prefs, ok := ParsePreferenceCommand(m.Content); ok {
			return prefs
		}
	}
	return nil
}

// SaveList replaces the items of the named list.
func (s *Store) SaveList(ctx context.Context, conversationID, name string, items []string) (ListView, history.Message, error) {
	id := NormalizeListID(name)
	if id == "" {
		return ListView{}, history.Message{}, fmt.Errorf("list name is required")
	}
	items = union(nil, items)
	rec := Record{Type: KindList, ID: id, Title: strings.TrimSpace(name), Op: OpSave, Items: items}
	msg, err := s.Write(ctx, conversationID, rec, fmt.Sprintf("Saved list %q: %s", rec.Title, strings.Join(items, ", ")))
	if err != nil {
		return ListView{}, history.Message{}, err
	}
	return ListView{ID: id, Title: rec.Title, Items: items}, msg, nil
}

// AddToList appends items to the named list and returns the merged list.
func (s *Store) AddToList(ctx context.Context, conversationID, name string, items []string) (ListView, history.Message, error) {
	id := NormalizeListID(name)
	if id == "" {
		return ListView{}, history.Message{}, fmt.Errorf("list name is required")
	}
	current, found, err := s.List(ctx, conversationID, name)
	if err != nil {
		logger.FromContext(ctx).Warn("reading list before add failed", "list", id, "error", err)
	}
	title := strings.TrimSpace(name)
	if found && current.Title != "" {
		title = current.Title
	}
	rec := Record{Type: KindList, ID: id, Title: title, Op: OpAdd, Items: union(nil, items)}
	msg, err := s.Write(ctx, conversationID, rec, fmt.Sprintf("Added to list %q: %s", title, strings.Join(rec.Items, ", ")))
	if err != nil {
		return ListView{}, history.Message{}, err
	}
	merged := ListView{ID: id, Title: title, Items: union(current.Items, rec.Items)}
	return merged, msg, nil
}

// List returns the named list: the newest save unioned with any later adds.
func (s *Store) List(ctx context.Context, conversationID, name string) (ListView, bool, error) {
	id := NormalizeListID(name)
	key := cacheKey{conversationID, KindList, id}
	if v, ok := s.cache.get(key); ok {
		view := v.(ListView)
		view.Items = slices.Clone(view.Items)
		return view, true, nil
	}
	msgs, err := s.recent(ctx, conversationID)
	if err != nil {
		return ListView{}, false, err
	}
	view, ok := ListFrom(msgs, id, s.assistantID)
	if ok {
		s.cache.put(key, view)
	}
	return view, ok, nil
}

// ListFrom replays newest-first msgs for list id.
func ListFrom(msgs []history.Message, id, assistantID string) (ListView, bool) {
	accept := func(r Record) bool { return r.Type == KindList && r.ID == id }

	var (
		adds  [][]string
		view  ListView
		found bool
	)
	for _, m := range msgs {
		if !isCarrier(m, assistantID) {
			continue
		}
		rec, _, ok := Decode(m, SentinelList, accept)
		if !ok {
			continue
		}
		if !found {
			view = ListView{ID: rec.ID, Title: rec.Title}
			found = true
		}
		if rec.Op == OpAdd {
			adds = append(adds, rec.Items)
			continue
		}
		view.Items = slices.Clone(rec.Items)
		break
	}
	// adds were collected newest first; apply them oldest first.
	for i := len(adds) - 1; i >= 0; i-- {
		view.Items = union(view.Items, adds[i])
	}
	return view, found
}

// Lists returns every list seen in the window, most recently written first.
func (s *Store) Lists(ctx context.Context, conversationID string) ([]ListView, error) {
	msgs, err := s.recent(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	accept := func(r Record) bool { return r.Type == KindList && r.ID != "" }
	seen := make(map[string]struct{})
	var out []ListView
	for _, m := range msgs {
		if !isCarrier(m, s.assistantID) {
			continue
		}
		rec, _, ok := Decode(m, SentinelList, accept)
		if !ok {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		if view, ok := ListFrom(msgs, rec.ID, s.assistantID); ok {
			out = append(out, view)
		}
	}
	return out, nil
}

// SaveDecisions writes a decisions record. summary defaults to one ack line per decision.
func (s *Store) SaveDecisions(ctx context.Context, conversationID string, decisions []decision.Decision, summary string) (history.Message, error) {
	if len(decisions) == 0 {
		return history.Message{}, fmt.Errorf("no decisions to save")
	}
	if summary == "" {
		lines := make([]string, 0, len(decisions))
		for _, d := range decisions {
			lines = append(lines, DecisionAck(d))
		}
		summary = strings.Join(lines, "\n")
	}
	rec := Record{Type: KindDecisions, Decisions: decisions}
	return s.Write(ctx, conversationID, rec, summary)
}

// Decisions returns the union of every decision record in the window, newest first.
func (s *Store) Decisions(ctx context.Context, conversationID string) ([]decision.Decision, error) {
	key := cacheKey{conversationID, KindDecisions, ""}
	if v, ok := s.cache.get(key); ok {
		return slices.Clone(v.([]decision.Decision)), nil
	}
	msgs, err := s.recent(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	out := DecisionsFrom(msgs, s.assistantID)
	s.cache.put(key, slices.Clone(out))
	return out, nil
}

// DecisionsFrom replays newest-first msgs. When no encoded record survives it
// falls back to the assistant's own "Decision recorded:" acknowledgements.
func DecisionsFrom(msgs []history.Message, assistantID string) []decision.Decision {
	accept := func(r Record) bool { return len(r.Decisions) > 0 && (r.Type == "" || r.Type == KindDecisions) }

	var out []decision.Decision
	for _, m := range msgs {
		if !isCarrier(m, assistantID) {
			continue
		}
		if rec, _, ok := Decode(m, SentinelDecisions, accept); ok {
			out = mergeDecisions(out, rec.Decisions)
		}
	}
	if len(out) > 0 {
		return out
	}
	// Acks carry no timestamp of their own, so they dedupe on title alone.
	seen := make(map[string]struct{})
	for _, m := range msgs {
		if m.SenderID != assistantID {
			continue
		}
		for _, title := range parseDecisionAcks(m.Content) {
			key := strings.ToLower(title)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, decision.Decision{Title: title, Summary: title, DecidedAt: m.CreatedAt})
		}
	}
	return out
}

// mergeDecisions appends the decisions of b not already in a.
func mergeDecisions(a, b []decision.Decision) []decision.Decision {
	out := slices.Clone(a)
	for _, d := range b {
		dup := slices.ContainsFunc(out, func(o decision.Decision) bool {
			return strings.EqualFold(o.Title, d.Title) && o.DecidedAt.Equal(d.DecidedAt)
		})
		if !dup {
			out = append(out, d)
		}
	}
	return out
}

// EventsFrom collects the events of earlier assistant replies in msgs.
func EventsFrom(msgs []history.Message, assistantID string) []calendar.Event {
	accept := func(r Reply) bool { return len(r.Events) > 0 }
	var out []calendar.Event
	for _, m := range msgs {
		if m.SenderID != assistantID {
			continue
		}
		if reply, _, ok := Decode(m, SentinelEvents, accept); ok {
			out = append(out, reply.Events...)
		}
	}
	return out
}
