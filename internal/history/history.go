// Package history provides SQLite-based persistence for conversation messages.
// If opening the DB or executing queries fails, the store falls back to in-memory storage.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/google/uuid"

	"github.com/comigor/huddle/internal/logger"
)

const schema = `CREATE TABLE IF NOT EXISTS messages (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    conversation_id TEXT NOT NULL,
    sender_id TEXT NOT NULL,
    content TEXT NOT NULL,
    message_type TEXT NOT NULL,
    metadata TEXT,
    attachments TEXT,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);`

// DB is a Repository backed by SQLite, with an in-memory fallback.
type DB struct {
	db  *sql.DB
	now func() time.Time

	mu       sync.Mutex
	messages []Message // in-memory fallback
}

var _ Repository = (*DB)(nil)

// Open opens (or creates) the SQLite database at path. It never fails: when the
// database is unusable the returned store keeps messages in memory.
func Open(path string) *DB {
	s := &DB{now: time.Now}
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		logger.L.Warn("sqlite open failed; using in-memory history", "error", err)
		return s
	}
	if _, err := db.Exec(schema); err != nil {
		logger.L.Warn("sqlite table creation failed; using in-memory history", "error", err)
		_ = db.Close()
		return s
	}
	s.db = db
	logger.L.Info("sqlite history DB initialized", "path", path)
	return s
}

// NewMemory returns a store that only keeps messages in memory.
func NewMemory() *DB {
	return &DB{now: time.Now}
}

// Close releases the underlying database, if any.
func (s *DB) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create persists msg, assigning its id and timestamps when missing.
func (s *DB) Create(ctx context.Context, msg Message) (Message, error) {
	if msg.ConversationID == "" {
		return Message{}, errors.New("conversation id is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.MessageType == "" {
		msg.MessageType = TypeText
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	msg.UpdatedAt = msg.CreatedAt

	if s.db != nil {
		attachments, err := encodeAttachments(msg.Attachments)
		if err != nil {
			return Message{}, err
		}
		_, err = s.db.ExecContext(ctx, `INSERT INTO messages (id, conversation_id, sender_id, content, message_type, metadata, attachments, created_at, updated_at) VALUES (?,?,?,?,?,?,?,?,?);`,
			msg.ID, msg.ConversationID, msg.SenderID, msg.Content, string(msg.MessageType),
			nullableJSON(msg.Metadata), attachments, msg.CreatedAt.UnixNano(), msg.UpdatedAt.UnixNano())
		if err == nil {
			return msg, nil
		}
		logger.L.Error("failed to store message in sqlite; falling back to memory", "error", err)
	}

	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	return msg, nil
}

// Recent returns up to limit messages of a conversation, newest first.
func (s *DB) Recent(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	if s.db != nil {
		out, err := s.queryRecent(ctx, conversationID, limit)
		if err == nil {
			return s.mergeMemory(out, conversationID, limit), nil
		}
		logger.L.Warn("sqlite query failed; reading in-memory history", "error", err)
	}
	return s.mergeMemory(nil, conversationID, limit), nil
}

func (s *DB) queryRecent(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, sender_id, content, message_type, metadata, attachments, created_at, updated_at FROM messages WHERE conversation_id = ? ORDER BY created_at DESC, seq DESC LIMIT ?;`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// mergeMemory folds fallback messages into a newest-first slice.
func (s *DB) mergeMemory(out []Message, conversationID string, limit int) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return out
	}
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ConversationID == conversationID {
			out = append(out, s.messages[i])
		}
	}
	slices.SortStableFunc(out, func(a, b Message) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Update applies patch to the message with the given id.
func (s *DB) Update(ctx context.Context, id string, patch Patch) (Message, error) {
	if s.db != nil {
		row := s.db.QueryRowContext(ctx, `SELECT id, conversation_id, sender_id, content, message_type, metadata, attachments, created_at, updated_at FROM messages WHERE id = ?;`, id)
		m, err := scanMessage(row)
		switch {
		case err == nil:
			patch.apply(&m, s.now().UTC())
			attachments, err := encodeAttachments(m.Attachments)
			if err != nil {
				return Message{}, err
			}
			_, err = s.db.ExecContext(ctx, `UPDATE messages SET message_type = ?, metadata = ?, attachments = ?, updated_at = ? WHERE id = ?;`,
				string(m.MessageType), nullableJSON(m.Metadata), attachments, m.UpdatedAt.UnixNano(), id)
			if err != nil {
				return Message{}, fmt.Errorf("update message %s: %w", id, err)
			}
			return m, nil
		case !errors.Is(err, sql.ErrNoRows):
			return Message{}, fmt.Errorf("load message %s: %w", id, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.messages {
		if s.messages[i].ID == id {
			patch.apply(&s.messages[i], s.now().UTC())
			return s.messages[i], nil
		}
	}
	return Message{}, ErrNotFound
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (Message, error) {
	var (
		m                     Message
		msgType               string
		metadata, attachments sql.NullString
		created, updated      int64
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Content, &msgType, &metadata, &attachments, &created, &updated); err != nil {
		return Message{}, err
	}
	m.MessageType = MessageType(msgType)
	if metadata.Valid && metadata.String != "" {
		m.Metadata = json.RawMessage(metadata.String)
	}
	if attachments.Valid && attachments.String != "" {
		if err := json.Unmarshal([]byte(attachments.String), &m.Attachments); err != nil {
			logger.L.Warn("dropping undecodable attachments", "id", m.ID, "error", err)
		}
	}
	m.CreatedAt = time.Unix(0, created).UTC()
	m.UpdatedAt = time.Unix(0, updated).UTC()
	return m, nil
}

func encodeAttachments(a []string) (any, error) {
	if len(a) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
