package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	// StatusActive marks a freshly created conversation with no user
	// round-trip yet.
	StatusActive Status = "active"
	// StatusInProgress marks a conversation with at least one round-trip.
	StatusInProgress Status = "in-progress"
	// StatusArchived is terminal. Archived conversations are never reopened;
	// a later message from the same user starts a new conversation.
	StatusArchived Status = "archived"
)

var (
	// ErrInvalidStatus is returned when a caller supplies a status outside
	// the recognized set, or attempts a transition out of the terminal
	// archived state. No mutation happens in either case.
	ErrInvalidStatus = errors.New("store: invalid conversation status")

	// ErrNotEligible is returned by ArchiveAndSummarize when the guarded
	// preconditions (status still active/in-progress, summary still absent)
	// no longer hold, typically because a concurrent worker already
	// processed the conversation.
	ErrNotEligible = errors.New("store: conversation no longer eligible")

	// ErrConversationNotFound is returned when a conversation id does not
	// exist for the given user.
	ErrConversationNotFound = errors.New("store: conversation not found")
)

// Valid reports whether s is one of the three recognized status values.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusInProgress, StatusArchived:
		return true
	}
	return false
}

// TokenUsage is the cumulative provider-reported token accounting for a
// conversation. Counters never go negative.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add returns the element-wise sum of u and delta. Negative fields on either
// side are treated as zero, so historical garbage can never drag a counter
// below zero.
func (u TokenUsage) Add(delta TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     clampNonNegative(u.PromptTokens) + clampNonNegative(delta.PromptTokens),
		CompletionTokens: clampNonNegative(u.CompletionTokens) + clampNonNegative(delta.CompletionTokens),
		TotalTokens:      clampNonNegative(u.TotalTokens) + clampNonNegative(delta.TotalTokens),
	}
}

func clampNonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Conversation is one registry row: a single chat session with its lifecycle
// status and at most one summary.
type Conversation struct {
	ID            string
	UserID        string
	Title         string
	Status        Status
	LastMessageAt *time.Time // nil until the first message lands
	CreatedAt     time.Time
	Summary       *string // nil until background summarization completes
	Model         string  // generation backend that produced the summary
	TokenUsage    TokenUsage
	Archived      bool
}

const conversationColumns = `id, user_id, title, status, last_message_at, created_at,
	conversation_summary, model, token_usage, archived`

// CreateConversation inserts a new conversation in the active state and
// returns it.
func (s *Store) CreateConversation(ctx context.Context, userID, title string) (Conversation, error) {
	conv := Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Status:    StatusActive,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, user_id, title, status, created_at, archived)
		VALUES (?, ?, ?, ?, ?, 0)`,
		conv.ID, conv.UserID, conv.Title, string(conv.Status), formatTime(conv.CreatedAt),
	)
	if err != nil {
		return Conversation{}, fmt.Errorf("store: create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation fetches a conversation owned by the given user. Returns
// ErrConversationNotFound when no such row exists.
func (s *Store) GetConversation(ctx context.Context, conversationID, userID string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = ? AND user_id = ?`,
		conversationID, userID,
	)
	conv, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Conversation{}, ErrConversationNotFound
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("store: get conversation: %w", err)
	}
	return conv, nil
}

// TouchConversation bumps last_message_at, keeping the inactivity clock in
// step with the transcript.
func (s *Store) TouchConversation(ctx context.Context, conversationID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET last_message_at = ? WHERE id = ?`,
		formatTime(at), conversationID,
	)
	if err != nil {
		return fmt.Errorf("store: touch conversation: %w", err)
	}
	return nil
}

// UpdateConversationTitle sets the display title.
func (s *Store) UpdateConversationTitle(ctx context.Context, conversationID, title string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET title = ? WHERE id = ?`,
		title, conversationID,
	)
	if err != nil {
		return fmt.Errorf("store: update title: %w", err)
	}
	return nil
}

// UpdateConversationStatus transitions a conversation to the given status.
// The status value is validated before any write, and archived is terminal:
// attempting to transition an archived conversation (including re-archiving
// it) fails with ErrInvalidStatus. Re-entering the current non-terminal
// status is a no-op.
func (s *Store) UpdateConversationStatus(ctx context.Context, conversationID string, status Status) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = ?, archived = ?
		WHERE id = ? AND status != 'archived'`,
		string(status), boolToInt(status == StatusArchived), conversationID,
	)
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update status: %w", err)
	}
	if n == 0 {
		var current string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM conversations WHERE id = ?`, conversationID,
		).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrConversationNotFound
		}
		if err != nil {
			return fmt.Errorf("store: update status: %w", err)
		}
		return fmt.Errorf("%w: conversation is archived", ErrInvalidStatus)
	}
	return nil
}

// ArchiveConversation idempotently moves a conversation to archived. Used by
// the summarization pipeline's short-circuit branch, where re-archiving a
// conversation another worker already closed is benign.
func (s *Store) ArchiveConversation(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = 'archived', archived = 1
		WHERE id = ? AND status != 'archived'`,
		conversationID,
	)
	if err != nil {
		return fmt.Errorf("store: archive conversation: %w", err)
	}
	return nil
}

// ArchiveAndSummarize commits a completed summarization in a single guarded
// update: status becomes archived and the summary, backend model, and token
// usage are recorded together. The guard only fires while the conversation
// is still active/in-progress and unsummarized, so two racing scheduler
// ticks cannot summarize the same conversation twice; the loser gets
// ErrNotEligible and nothing is written.
func (s *Store) ArchiveAndSummarize(ctx context.Context, conversationID, summary, model string, usage TokenUsage) error {
	usageJSON, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("store: marshal token usage: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET status = 'archived',
		    archived = 1,
		    conversation_summary = ?,
		    model = ?,
		    token_usage = ?
		WHERE id = ?
		  AND status IN ('active', 'in-progress')
		  AND conversation_summary IS NULL`,
		summary, model, string(usageJSON), conversationID,
	)
	if err != nil {
		return fmt.Errorf("store: archive and summarize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: archive and summarize: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotEligible, conversationID)
	}
	return nil
}

// UpdateConversationSummary overwrites the summary, model, and usage without
// touching the status. Exposed for administrative re-summarization.
func (s *Store) UpdateConversationSummary(ctx context.Context, conversationID, summary, model string, usage TokenUsage) error {
	usageJSON, err := json.Marshal(usage)
	if err != nil {
		return fmt.Errorf("store: marshal token usage: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations
		SET conversation_summary = ?, model = ?, token_usage = ?
		WHERE id = ?`,
		summary, model, string(usageJSON), conversationID,
	)
	if err != nil {
		return fmt.Errorf("store: update summary: %w", err)
	}
	return nil
}

// IncrementTokenUsage adds delta to the conversation's cumulative token
// counters. A missing or malformed stored record is treated as all zeros,
// and negative fields are clamped, so the call is safe against partially
// missing historical data. When model is non-empty it is recorded alongside.
func (s *Store) IncrementTokenUsage(ctx context.Context, conversationID string, delta TokenUsage, model string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: increment usage: %w", err)
	}
	defer tx.Rollback()

	var raw sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT token_usage FROM conversations WHERE id = ?`, conversationID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrConversationNotFound
	}
	if err != nil {
		return fmt.Errorf("store: increment usage: read current: %w", err)
	}

	current := decodeUsage(raw)
	combined := current.Add(delta)
	usageJSON, err := json.Marshal(combined)
	if err != nil {
		return fmt.Errorf("store: increment usage: marshal: %w", err)
	}

	if model != "" {
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET token_usage = ?, model = ? WHERE id = ?`,
			string(usageJSON), model, conversationID,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE conversations SET token_usage = ? WHERE id = ?`,
			string(usageJSON), conversationID,
		)
	}
	if err != nil {
		return fmt.Errorf("store: increment usage: write: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: increment usage: commit: %w", err)
	}
	return nil
}

// decodeUsage parses a stored token_usage record, treating NULL, malformed
// JSON, or non-numeric fields as a zero record.
func decodeUsage(raw sql.NullString) TokenUsage {
	if !raw.Valid || raw.String == "" {
		return TokenUsage{}
	}
	var u TokenUsage
	if err := json.Unmarshal([]byte(raw.String), &u); err != nil {
		return TokenUsage{}
	}
	return TokenUsage{}.Add(u) // clamp negatives from old rows
}

// EligibleForArchival returns conversations ready for the background
// pipeline: still active or in-progress, quiet for longer than the
// inactivity window, and not yet summarized. Conversations that never
// received a message are excluded: they have no transcript to summarize
// and no inactivity clock to expire.
func (s *Store) EligibleForArchival(ctx context.Context, now time.Time, window time.Duration) ([]Conversation, error) {
	cutoff := formatTime(now.Add(-window))
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE status IN ('active', 'in-progress')
		  AND last_message_at IS NOT NULL
		  AND last_message_at < ?
		  AND conversation_summary IS NULL
		ORDER BY last_message_at ASC`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("store: eligible for archival: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// ConversationsWithSummary returns the user's summarized conversations,
// oldest first by creation time. This is the source feed for the cumulative
// context builder.
func (s *Store) ConversationsWithSummary(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_id = ? AND conversation_summary IS NOT NULL
		ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("store: conversations with summary: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// ConversationsByStatus returns the user's conversations in the given
// status, newest first.
func (s *Store) ConversationsByStatus(ctx context.Context, userID string, status Status) ([]Conversation, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE user_id = ? AND status = ?
		ORDER BY created_at DESC`,
		userID, string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("store: conversations by status: %w", err)
	}
	defer rows.Close()
	return collectConversations(rows)
}

// ActiveConversationCount counts the user's conversations still in the
// active or in-progress state.
func (s *Store) ActiveConversationCount(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM conversations
		WHERE user_id = ? AND status IN ('active', 'in-progress')`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: active conversation count: %w", err)
	}
	return n, nil
}

// LatestSummary returns the most recent non-null summary for a user, or
// ok=false when the user has none.
func (s *Store) LatestSummary(ctx context.Context, userID string) (summary string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT conversation_summary
		FROM conversations
		WHERE user_id = ? AND conversation_summary IS NOT NULL
		ORDER BY created_at DESC
		LIMIT 1`,
		userID,
	).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: latest summary: %w", err)
	}
	return summary, true, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanConversation.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(r rowScanner) (Conversation, error) {
	var (
		conv          Conversation
		status        string
		lastMessageAt sql.NullString
		createdAt     string
		summary       sql.NullString
		usage         sql.NullString
		archived      int
	)
	err := r.Scan(
		&conv.ID, &conv.UserID, &conv.Title, &status, &lastMessageAt,
		&createdAt, &summary, &conv.Model, &usage, &archived,
	)
	if err != nil {
		return Conversation{}, err
	}

	conv.Status = Status(status)
	conv.Archived = archived != 0
	if lastMessageAt.Valid {
		t, err := parseTime(lastMessageAt.String)
		if err != nil {
			return Conversation{}, err
		}
		conv.LastMessageAt = &t
	}
	if conv.CreatedAt, err = parseTime(createdAt); err != nil {
		return Conversation{}, err
	}
	if summary.Valid {
		s := summary.String
		conv.Summary = &s
	}
	conv.TokenUsage = decodeUsage(usage)
	return conv, nil
}

func collectConversations(rows *sql.Rows) ([]Conversation, error) {
	var out []Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate conversations: %w", err)
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
