// Package api exposes the assistant and the message log over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/comigor/huddle/internal/agent"
	"github.com/comigor/huddle/internal/history"
	"github.com/comigor/huddle/internal/logger"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
	maxBodyBytes     = 1 << 20
)

// Processor handles assistant requests; *agent.Agent implements it.
type Processor interface {
	Process(ctx context.Context, req agent.Request) (agent.Response, error)
}

// Handler serves the HTTP surface.
type Handler struct {
	assistant Processor
	messages  history.Repository
}

// NewRouter wires HTTP routes to the assistant and the message store.
func NewRouter(assistant Processor, messages history.Repository) http.Handler {
	h := &Handler{assistant: assistant, messages: messages}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/assistant", h.handleAssistant)
		v1.Post("/messages", h.handleCreateMessage)
		v1.Get("/conversations/{id}/messages", h.handleListMessages)
	})

	return r
}

func (h *Handler) handleAssistant(w http.ResponseWriter, r *http.Request) {
	var req agent.Request
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.assistant.Process(r.Context(), req)
	if err != nil {
		if errors.Is(err, agent.ErrMissingConversation) || errors.Is(err, agent.ErrMissingUser) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.FromContext(r.Context()).Error("assistant request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to process request")
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		ConversationID string `json:"conversationId"`
		SenderID       string `json:"senderId"`
		Content        string `json:"content"`
	}
	if err := decodeBody(w, r, &payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if payload.ConversationID == "" {
		respondError(w, http.StatusBadRequest, "conversationId is required")
		return
	}
	if payload.SenderID == "" {
		respondError(w, http.StatusBadRequest, "senderId is required")
		return
	}
	if strings.TrimSpace(payload.Content) == "" {
		respondError(w, http.StatusBadRequest, "content is required")
		return
	}

	msg, err := h.messages.Create(r.Context(), history.Message{
		ConversationID: payload.ConversationID,
		SenderID:       payload.SenderID,
		Content:        payload.Content,
		MessageType:    history.TypeText,
	})
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to store message", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to store message")
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}

func (h *Handler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	msgs, err := h.messages.Recent(r.Context(), conversationID, limit)
	if err != nil {
		logger.FromContext(r.Context()).Error("failed to list messages", "error", err)
		respondError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []history.Message{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// requestLogger logs one line per request through the structured logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			logger.FromContext(r.Context()).Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L.Warn("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
