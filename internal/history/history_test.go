package history

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func stores(t *testing.T) map[string]*DB {
	t.Helper()
	sqlite := Open(filepath.Join(t.TempDir(), "history.db"))
	t.Cleanup(func() { _ = sqlite.Close() })
	require.NotNil(t, sqlite.db, "sqlite should open in a temp dir")

	out := map[string]*DB{"sqlite": sqlite, "memory": NewMemory()}
	for _, s := range out {
		s.now = fixedClock(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	}
	return out
}

func TestCreateAndRecent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, text := range []string{"one", "two", "three"} {
				_, err := s.Create(ctx, Message{ConversationID: "c1", SenderID: "u1", Content: text})
				require.NoError(t, err)
			}
			_, err := s.Create(ctx, Message{ConversationID: "c2", SenderID: "u1", Content: "elsewhere"})
			require.NoError(t, err)

			got, err := s.Recent(ctx, "c1", 2)
			require.NoError(t, err)
			require.Len(t, got, 2)
			require.Equal(t, "three", got[0].Content)
			require.Equal(t, "two", got[1].Content)
			require.Equal(t, TypeText, got[0].MessageType)
			require.NotEmpty(t, got[0].ID)
		})
	}
}

func TestMetadataAndAttachmentsRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.Create(ctx, Message{
				ConversationID: "c1",
				SenderID:       "assistant",
				Content:        "saved",
				MessageType:    TypeSystem,
				Metadata:       json.RawMessage(`{"type":"preferences"}`),
				Attachments:    []string{`pref:{"type":"preferences"}`},
			})
			require.NoError(t, err)

			got, err := s.Recent(ctx, "c1", 10)
			require.NoError(t, err)
			require.Len(t, got, 1)
			require.Equal(t, created.ID, got[0].ID)
			require.Equal(t, TypeSystem, got[0].MessageType)
			require.JSONEq(t, `{"type":"preferences"}`, string(got[0].Metadata))
			require.Equal(t, []string{`pref:{"type":"preferences"}`}, got[0].Attachments)
		})
	}
}

func TestUpdate(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			created, err := s.Create(ctx, Message{ConversationID: "c1", SenderID: "assistant", Content: "x"})
			require.NoError(t, err)

			updated, err := s.Update(ctx, created.ID, Patch{MessageType: TypeSystem, Metadata: json.RawMessage(`{"a":1}`)})
			require.NoError(t, err)
			require.Equal(t, TypeSystem, updated.MessageType)
			require.True(t, updated.UpdatedAt.After(created.UpdatedAt))

			got, err := s.Recent(ctx, "c1", 1)
			require.NoError(t, err)
			require.Equal(t, TypeSystem, got[0].MessageType)
			require.JSONEq(t, `{"a":1}`, string(got[0].Metadata))
			require.Equal(t, "x", got[0].Content)

			_, err = s.Update(ctx, "missing", Patch{MessageType: TypeSystem})
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestCreateRequiresConversation(t *testing.T) {
	_, err := NewMemory().Create(context.Background(), Message{SenderID: "u1"})
	require.Error(t, err)
}

func TestOpenFallsBackToMemory(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "missing-dir", "nested", "history.db"))
	ctx := context.Background()
	_, err := s.Create(ctx, Message{ConversationID: "c1", SenderID: "u1", Content: "kept"})
	require.NoError(t, err)
	got, err := s.Recent(ctx, "c1", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "kept", got[0].Content)
}
