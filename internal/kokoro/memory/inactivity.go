package memory

import (
	"context"
	"fmt"
	"time"
)

// DefaultInactivityWindow is the quiet period after which a conversation is
// considered finished and becomes eligible for archival and summarization.
const DefaultInactivityWindow = 15 * time.Minute

// LastActivitySource reports when a user last sent a message, nil if never.
type LastActivitySource interface {
	LastUserMessageTime(ctx context.Context, userID string) (*time.Time, error)
}

// ActiveCounter counts a user's conversations still in the active or
// in-progress state.
type ActiveCounter interface {
	ActiveConversationCount(ctx context.Context, userID string) (int, error)
}

// InactivityStatus describes how quiet a user has been. IdleFor is nil when
// the user has never sent a message.
type InactivityStatus struct {
	UserID              string
	LastMessageAt       *time.Time
	Inactive            bool
	IdleFor             *time.Duration
	ActiveConversations int
}

// Detector answers "has this user gone quiet?" from the transcript and the
// registry. It is read-only and has no side effects.
type Detector struct {
	transcripts LastActivitySource
	registry    ActiveCounter
	window      time.Duration
}

// NewDetector creates a Detector. A non-positive window falls back to
// DefaultInactivityWindow.
func NewDetector(transcripts LastActivitySource, registry ActiveCounter, window time.Duration) *Detector {
	if window <= 0 {
		window = DefaultInactivityWindow
	}
	return &Detector{transcripts: transcripts, registry: registry, window: window}
}

// Status reports whether the user is inactive as of now: either they have
// never sent a message, or their last user-role message is older than the
// inactivity window.
func (d *Detector) Status(ctx context.Context, userID string, now time.Time) (InactivityStatus, error) {
	last, err := d.transcripts.LastUserMessageTime(ctx, userID)
	if err != nil {
		return InactivityStatus{}, fmt.Errorf("memory: inactivity status: %w", err)
	}

	active, err := d.registry.ActiveConversationCount(ctx, userID)
	if err != nil {
		return InactivityStatus{}, fmt.Errorf("memory: inactivity status: %w", err)
	}

	status := InactivityStatus{
		UserID:              userID,
		LastMessageAt:       last,
		ActiveConversations: active,
	}
	if last == nil {
		status.Inactive = true
		return status, nil
	}

	idle := now.Sub(*last)
	status.IdleFor = &idle
	status.Inactive = idle > d.window
	return status, nil
}
