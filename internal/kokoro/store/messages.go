package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role values for message turns. The set is closed: anything else is
// rejected before a row is written.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrInvalidRole is returned when a message role is outside the closed
// user/assistant set.
var ErrInvalidRole = errors.New("store: invalid message role")

// Message is one immutable turn in a conversation transcript.
type Message struct {
	ID             string
	ConversationID string
	UserID         string
	Role           string
	Content        Content
	CreatedAt      time.Time
}

// SaveMessage appends a turn to the transcript. Messages are never updated
// or reordered after this point.
func (s *Store) SaveMessage(ctx context.Context, conversationID, userID, role string, content Content) (Message, error) {
	if role != RoleUser && role != RoleAssistant {
		return Message{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	payload, err := json.Marshal(content)
	if err != nil {
		return Message{}, fmt.Errorf("store: marshal message content: %w", err)
	}

	msg := Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, user_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.UserID, msg.Role, string(payload), formatTime(msg.CreatedAt),
	)
	if err != nil {
		return Message{}, fmt.Errorf("store: save message: %w", err)
	}
	return msg, nil
}

// MessageHistory returns the full transcript of a conversation in
// creation-time order.
func (s *Store) MessageHistory(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, user_id, role, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: message history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate messages: %w", err)
	}
	return out, nil
}

// LastUserMessageTime returns when the user last sent a message (any
// conversation), or nil when they never have. This drives the inactivity
// detector.
func (s *Store) LastUserMessageTime(ctx context.Context, userID string) (*time.Time, error) {
	var raw sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(created_at)
		FROM messages
		WHERE user_id = ? AND role = 'user'`,
		userID,
	).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("store: last user message time: %w", err)
	}
	if !raw.Valid {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, fmt.Errorf("store: last user message time: %w", err)
	}
	return &t, nil
}

// RecentUserMessages returns up to limit of the user's most recent message
// texts across all conversations, newest first. Empty texts are skipped.
// Greeting personalization uses these as paraphrase material.
func (s *Store) RecentUserMessages(ctx context.Context, userID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT content
		FROM messages
		WHERE user_id = ? AND role = 'user'
		ORDER BY created_at DESC
		LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("store: recent user messages: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("store: scan recent message: %w", err)
		}
		var content Content
		if err := json.Unmarshal([]byte(raw), &content); err != nil {
			// A malformed historical row is skipped, not fatal.
			continue
		}
		if text := strings.TrimSpace(content.DisplayText()); text != "" {
			out = append(out, text)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate recent messages: %w", err)
	}
	return out, nil
}

// PurgeArchivedTranscripts deletes message rows belonging to archived,
// already-summarized conversations whose last activity predates olderThan.
// Summaries are the durable memory and are never touched. Returns the
// number of deleted messages.
func (s *Store) PurgeArchivedTranscripts(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE conversation_id IN (
			SELECT id FROM conversations
			WHERE status = 'archived'
			  AND conversation_summary IS NOT NULL
			  AND last_message_at IS NOT NULL
			  AND last_message_at < ?
		)`,
		formatTime(olderThan),
	)
	if err != nil {
		return 0, fmt.Errorf("store: purge archived transcripts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: purge archived transcripts: %w", err)
	}
	return n, nil
}

func scanMessage(rows *sql.Rows) (Message, error) {
	var (
		msg       Message
		raw       string
		createdAt string
	)
	if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.UserID, &msg.Role, &raw, &createdAt); err != nil {
		return Message{}, err
	}
	if err := json.Unmarshal([]byte(raw), &msg.Content); err != nil {
		// Tolerate rows written before payloads were normalized.
		msg.Content = TextContent(raw)
	}
	t, err := parseTime(createdAt)
	if err != nil {
		return Message{}, err
	}
	msg.CreatedAt = t
	return msg, nil
}
