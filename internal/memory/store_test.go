package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/huddle/internal/decision"
	"github.com/comigor/huddle/internal/history"
)

// lossyRepo simulates a transport that drops encodings or lags behind writes.
type lossyRepo struct {
	inner *history.DB

	onCreate  func(history.Message) history.Message
	onRead    func(history.Message) history.Message
	hideAfter time.Time // messages created after this are invisible to Recent
	updates   int
	updateErr error
}

func (r *lossyRepo) Create(ctx context.Context, msg history.Message) (history.Message, error) {
	if r.onCreate != nil {
		msg = r.onCreate(msg)
	}
	return r.inner.Create(ctx, msg)
}

func (r *lossyRepo) Recent(ctx context.Context, conversationID string, limit int) ([]history.Message, error) {
	msgs, err := r.inner.Recent(ctx, conversationID, limit)
	if err != nil {
		return nil, err
	}
	out := msgs[:0]
	for _, m := range msgs {
		if !r.hideAfter.IsZero() && m.CreatedAt.After(r.hideAfter) {
			continue
		}
		if r.onRead != nil {
			m = r.onRead(m)
		}
		out = append(out, m)
	}
	return out, nil
}

func (r *lossyRepo) Update(ctx context.Context, id string, patch history.Patch) (history.Message, error) {
	r.updates++
	if r.updateErr != nil {
		return history.Message{}, r.updateErr
	}
	return r.inner.Update(ctx, id, patch)
}

func newStore(repo history.Repository, cache *Cache) *Store {
	return NewStore(repo, cache, "assistant", 200)
}

func TestPreferences_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newStore(history.NewMemory(), nil)

	want := map[string]string{"budget": "50", "vegetarian": "true"}
	saved, msg, err := s.SavePreferences(ctx, "c1", "u1", want)
	require.NoError(t, err)
	require.Equal(t, want, saved)
	require.Equal(t, history.TypeSystem, msg.MessageType)
	require.Contains(t, msg.Content, "budget=50, vegetarian=true")

	got, err := s.Preferences(ctx, "c1", "u1")
	require.NoError(t, err)
	require.Equal(t, want, got)

	other, err := s.Preferences(ctx, "c1", "u2")
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestPreferences_SurvivesWithEachEncodingAlone(t *testing.T) {
	strip := map[Encoding]func(history.Message) history.Message{
		EncodingMetadata: func(m history.Message) history.Message {
			m.Attachments, m.Content = nil, ""
			return m
		},
		EncodingAttachment: func(m history.Message) history.Message {
			m.Metadata, m.Content = nil, ""
			return m
		},
		EncodingContent: func(m history.Message) history.Message {
			m.Metadata, m.Attachments = nil, nil
			return m
		},
	}
	want := map[string]string{"budget": "50", "vegetarian": "true"}
	for enc, onRead := range strip {
		t.Run(string(enc), func(t *testing.T) {
			ctx := context.Background()
			repo := &lossyRepo{inner: history.NewMemory(), onRead: onRead}
			_, _, err := newStore(repo, nil).SavePreferences(ctx, "c1", "u1", want)
			require.NoError(t, err)

			got, err := newStore(repo, nil).Preferences(ctx, "c1", "u1")
			require.NoError(t, err)
			require.Equal(t, want, got)
		})
	}
}

func TestPreferences_NewestWinsAndMerges(t *testing.T) {
	ctx := context.Background()
	repo := history.NewMemory()
	s := newStore(repo, nil)

	_, _, err := s.SavePreferences(ctx, "c1", "u1", map[string]string{"budget": "50"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, _, err = s.SavePreferences(ctx, "c1", "u1", map[string]string{"budget": "80", "vegan": "true"})
	require.NoError(t, err)

	got, err := newStore(repo, nil).Preferences(ctx, "c1", "u1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"budget": "80", "vegan": "true"}, got)
}

func TestPreferences_FallsBackToCommandText(t *testing.T) {
	ctx := context.Background()
	repo := history.NewMemory()
	_, err := repo.Create(ctx, history.Message{ConversationID: "c1", SenderID: "u1", Content: "set preferences: budget=30"})
	require.NoError(t, err)

	got, err := newStore(repo, nil).Preferences(ctx, "c1", "u1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"budget": "30"}, got)
}

func TestPreferences_CacheCoversEventualConsistency(t *testing.T) {
	ctx := context.Background()
	repo := &lossyRepo{inner: history.NewMemory(), hideAfter: time.Now().Add(-time.Hour)}
	s := newStore(repo, NewCache(time.Minute, 10))

	_, _, err := s.SavePreferences(ctx, "c1", "u1", map[string]string{"budget": "50"})
	require.NoError(t, err)

	got, err := s.Preferences(ctx, "c1", "u1")
	require.NoError(t, err)
	require.Equal(t, map[string]string{"budget": "50"}, got)

	uncached, err := newStore(repo, nil).Preferences(ctx, "c1", "u1")
	require.NoError(t, err)
	require.Nil(t, uncached)
}

func TestWrite_BackfillsDroppedFieldsOnce(t *testing.T) {
	ctx := context.Background()
	repo := &lossyRepo{
		inner: history.NewMemory(),
		onCreate: func(m history.Message) history.Message {
			m.MessageType = history.TypeText
			m.Metadata = nil
			return m
		},
	}
	msg, err := newStore(repo, nil).Write(ctx, "c1", Record{Type: KindList, ID: "x", Op: OpSave, Items: []string{"a"}}, "Saved")
	require.NoError(t, err)
	require.Equal(t, 1, repo.updates)
	require.Equal(t, history.TypeSystem, msg.MessageType)
	require.NotEmpty(t, msg.Metadata)
}

func TestWrite_BackfillFailureIsIgnored(t *testing.T) {
	ctx := context.Background()
	repo := &lossyRepo{
		inner:     history.NewMemory(),
		onCreate:  func(m history.Message) history.Message { m.MessageType = history.TypeText; return m },
		updateErr: errors.New("boom"),
	}
	msg, err := newStore(repo, nil).Write(ctx, "c1", Record{Type: KindDecisions, Decisions: []decision.Decision{{Title: "x"}}}, "")
	require.NoError(t, err)
	require.Equal(t, 1, repo.updates)
	require.NotEmpty(t, msg.ID)
}

func TestLists_SaveThenAddUnion(t *testing.T) {
	ctx := context.Background()
	repo := history.NewMemory()
	s := newStore(repo, NewCache(time.Minute, 10))

	_, _, err := s.AddToList(ctx, "c1", "Groceries", []string{"stale"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, _, err = s.SaveList(ctx, "c1", "Groceries", []string{"eggs", "milk"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	merged, _, err := s.AddToList(ctx, "c1", "groceries", []string{"Milk", "bread"})
	require.NoError(t, err)
	require.Equal(t, []string{"eggs", "milk", "bread"}, merged.Items)

	for _, store := range []*Store{s, newStore(repo, nil)} {
		view, ok, err := store.List(ctx, "c1", "GROCERIES")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "groceries", view.ID)
		require.Equal(t, []string{"eggs", "milk", "bread"}, view.Items)
	}

	_, ok, err := s.List(ctx, "c1", "nope")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLists_ListsNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := newStore(history.NewMemory(), nil)
	_, _, err := s.SaveList(ctx, "c1", "camping", []string{"tent"})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, _, err = s.SaveList(ctx, "c1", "road trip", []string{"snacks"})
	require.NoError(t, err)

	lists, err := s.Lists(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, lists, 2)
	require.Equal(t, "road-trip", lists[0].ID)
	require.Equal(t, "camping", lists[1].ID)
}

func TestDecisions_UnionAndAckFallback(t *testing.T) {
	ctx := context.Background()
	repo := history.NewMemory()
	s := newStore(repo, NewCache(time.Minute, 10))

	d1 := decision.Decision{Title: "hiking", DecidedAt: time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC)}
	d2 := decision.Decision{Title: "pizza", DecidedAt: time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)}
	_, err := s.SaveDecisions(ctx, "c1", []decision.Decision{d1}, "")
	require.NoError(t, err)

	got, err := s.Decisions(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)

	time.Sleep(time.Millisecond)
	_, err = s.SaveDecisions(ctx, "c1", []decision.Decision{d2, d1}, "")
	require.NoError(t, err)

	for _, store := range []*Store{s, newStore(repo, nil)} {
		got, err = store.Decisions(ctx, "c1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, "pizza", got[0].Title)
	}

	// Only the acknowledgement text survives.
	acks := &lossyRepo{inner: repo, onRead: func(m history.Message) history.Message {
		m.Metadata, m.Attachments = nil, nil
		m.MessageType = history.TypeText
		if i := strings.Index(m.Content, "\n"+string(SentinelDecisions)); i >= 0 {
			m.Content = m.Content[:i]
		}
		return m
	}}
	got, err = newStore(acks, nil).Decisions(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "pizza", got[0].Title)
}

func TestPostReply_EncodesEvents(t *testing.T) {
	ctx := context.Background()
	repo := history.NewMemory()
	s := newStore(repo, nil)

	plain, err := s.PostReply(ctx, "c1", "hi", Reply{})
	require.NoError(t, err)
	require.Empty(t, plain.Metadata)
	require.Empty(t, plain.Attachments)

	msg, err := s.PostReply(ctx, "c1", "plan", Reply{Priority: "high"})
	require.NoError(t, err)
	require.Equal(t, history.TypeText, msg.MessageType)
	require.Len(t, msg.Attachments, 1)
	require.Contains(t, msg.Attachments[0], string(SentinelEvents))
}

func TestCache_BoundedAndExpiring(t *testing.T) {
	c := NewCache(time.Minute, 2)
	now := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	c.put(cacheKey{"c", KindList, "a"}, 1)
	c.put(cacheKey{"c", KindList, "b"}, 2)
	require.Equal(t, 2, c.Len())
	c.put(cacheKey{"c", KindList, "c"}, 3)
	require.Equal(t, 1, c.Len())

	now = now.Add(2 * time.Minute)
	_, ok := c.get(cacheKey{"c", KindList, "c"})
	require.False(t, ok)

	var nilCache *Cache
	nilCache.put(cacheKey{}, 1)
	_, ok = nilCache.get(cacheKey{})
	require.False(t, ok)
}
