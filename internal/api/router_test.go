package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/huddle/internal/agent"
	"github.com/comigor/huddle/internal/config"
	"github.com/comigor/huddle/internal/history"
	"github.com/comigor/huddle/internal/idempotency"
)

type mockProcessor struct {
	ProcessFunc func(ctx context.Context, req agent.Request) (agent.Response, error)
}

func (m *mockProcessor) Process(ctx context.Context, req agent.Request) (agent.Response, error) {
	return m.ProcessFunc(ctx, req)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := do(t, NewRouter(&mockProcessor{}, history.NewMemory()), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAssistant_StatusMapping(t *testing.T) {
	var got agent.Request
	proc := &mockProcessor{ProcessFunc: func(ctx context.Context, req agent.Request) (agent.Response, error) {
		got = req
		switch req.Text {
		case "missing":
			return agent.Response{}, agent.ErrMissingUser
		case "boom":
			return agent.Response{}, errors.New("boom")
		}
		return agent.Response{Status: agent.StatusDuplicate}, nil
	}}
	h := NewRouter(proc, history.NewMemory())

	rec := do(t, h, http.MethodPost, "/v1/assistant", `{"requestId":"r1","conversationId":"c1","userId":"u1","text":"hi","calendarEvents":[{"startISO":"2026-10-20T09:00:00Z","endISO":"2026-10-20T10:00:00Z"}]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"duplicate"}`, rec.Body.String())
	require.Equal(t, "r1", got.RequestID)
	require.Len(t, got.CalendarEvents, 1)
	require.True(t, got.CalendarEvents[0].In(time.UTC).Valid())

	rec = do(t, h, http.MethodPost, "/v1/assistant", `{"text":"missing"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "userId is required")

	rec = do(t, h, http.MethodPost, "/v1/assistant", `{"text":"boom"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotContains(t, rec.Body.String(), "boom")

	rec = do(t, h, http.MethodPost, "/v1/assistant", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssistant_EndToEnd(t *testing.T) {
	repo := history.NewMemory()
	cfg := config.Config{Assistant: config.AssistantConfig{SenderID: "assistant", Timezone: "UTC", StoreTimeout: time.Second}}
	a := agent.New(agent.Deps{Messages: repo, Guard: idempotency.New(10)}, cfg)
	h := NewRouter(a, repo)

	rec := do(t, h, http.MethodPost, "/v1/messages", `{"conversationId":"c1","senderId":"u1","content":"save list snacks: chips"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := `{"requestId":"r1","conversationId":"c1","userId":"u1","text":"save list snacks: chips"}`
	rec = do(t, h, http.MethodPost, "/v1/assistant", body)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Status string          `json:"status"`
		Reply  history.Message `json:"reply"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "replied", resp.Status)
	require.Equal(t, history.TypeSystem, resp.Reply.MessageType)
	require.Equal(t, "assistant", resp.Reply.SenderID)

	rec = do(t, h, http.MethodPost, "/v1/assistant", body)
	require.JSONEq(t, `{"status":"duplicate"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/v1/conversations/c1/messages?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Messages []history.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Messages, 2)
	require.Equal(t, "assistant", list.Messages[0].SenderID)
	require.Equal(t, "u1", list.Messages[1].SenderID)
}

func TestMessages_Validation(t *testing.T) {
	h := NewRouter(&mockProcessor{}, history.NewMemory())

	for _, body := range []string{
		`{"senderId":"u1","content":"x"}`,
		`{"conversationId":"c1","content":"x"}`,
		`{"conversationId":"c1","senderId":"u1","content":"  "}`,
		`[]`,
	} {
		rec := do(t, h, http.MethodPost, "/v1/messages", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}

	rec := do(t, h, http.MethodGet, "/v1/conversations/c1/messages?limit=zero", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/conversations/empty/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"messages":[]}`, rec.Body.String())
}
