package history

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// MessageType distinguishes chat content from bookkeeping messages.
type MessageType string

const (
	TypeText   MessageType = "TEXT"
	TypeSystem MessageType = "SYSTEM"
)

// ErrNotFound is returned by Update when no message has the given id.
var ErrNotFound = errors.New("message not found")

// Message is a single entry of a conversation's append-only log.
type Message struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	SenderID       string          `json:"senderId"`
	Content        string          `json:"content"`
	MessageType    MessageType     `json:"messageType,omitempty"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Attachments    []string        `json:"attachments,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Patch carries the fields Update may change. Zero-valued fields are left untouched.
type Patch struct {
	MessageType MessageType
	Metadata    json.RawMessage
	Attachments []string
}

// Repository is the subset of the backend message store the assistant relies on.
type Repository interface {
	Create(ctx context.Context, msg Message) (Message, error)
	// Recent returns up to limit messages of a conversation, newest first.
	Recent(ctx context.Context, conversationID string, limit int) ([]Message, error)
	Update(ctx context.Context, id string, patch Patch) (Message, error)
}

func (p Patch) apply(m *Message, now time.Time) {
	if p.MessageType != "" {
		m.MessageType = p.MessageType
	}
	if len(p.Metadata) > 0 {
		m.Metadata = p.Metadata
	}
	if p.Attachments != nil {
		m.Attachments = p.Attachments
	}
	m.UpdatedAt = now
}
