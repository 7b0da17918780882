// Package memory implements Kokoro's long-term conversation memory: the
// cumulative context builder, the inactivity detector, the background
// summarization pipeline, and the lifecycle scheduler that drives it.
//
// The engine's job is to notice when a conversation has gone quiet, archive
// it, distill the transcript into a durable summary, and fold all of a
// user's past summaries into one bounded context block for future
// generation calls. Everything coordinates through the database; there is
// no shared in-process state between the scheduler and the request path.
package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bdobrica/Kokoro/internal/kokoro/store"
)

// NoPriorHistory is the fixed sentinel returned when a user has no
// summarized conversations yet. Downstream generation calls key off this
// exact string to distinguish first-ever contact from an empty history, so
// the builder never returns "".
const NoPriorHistory = "No previous conversation history available."

const (
	// DefaultMaxSummaries bounds how many past summaries the context block
	// includes. Oldest entries are dropped first; the stated totals always
	// reflect the full history.
	DefaultMaxSummaries = 40

	// DefaultMaxContextChars bounds the assembled block's size so it stays
	// safe to hand to a generation backend with a finite input window.
	DefaultMaxContextChars = 8000

	// minSummaryExcerpt is the shortest a lone oversized summary line is
	// trimmed to before the character cap yields.
	minSummaryExcerpt = 80
)

// SummaryLister is the registry read the builder needs: a user's summarized
// conversations, oldest first.
type SummaryLister interface {
	ConversationsWithSummary(ctx context.Context, userID string) ([]store.Conversation, error)
}

// ContextBuilderConfig bounds the assembled context block.
type ContextBuilderConfig struct {
	// MaxSummaries caps the number of included summaries. Zero or negative
	// means DefaultMaxSummaries.
	MaxSummaries int
	// MaxChars caps the total character length of the block. Zero or
	// negative means DefaultMaxContextChars. The intro line, the closing
	// line, and a minimal excerpt of one summary always survive, so caps
	// smaller than that floor are exceeded by the floor itself.
	MaxChars int
}

// ContextBuilder assembles the rolling textual digest of a user's past
// conversations. It is recomputed on every call and never cached: a summary
// committed by the scheduler between two calls must show up in the second.
type ContextBuilder struct {
	registry SummaryLister
	cfg      ContextBuilderConfig
}

// NewContextBuilder creates a builder over the given registry.
func NewContextBuilder(registry SummaryLister, cfg ContextBuilderConfig) *ContextBuilder {
	if cfg.MaxSummaries <= 0 {
		cfg.MaxSummaries = DefaultMaxSummaries
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = DefaultMaxContextChars
	}
	return &ContextBuilder{registry: registry, cfg: cfg}
}

// Build returns the cumulative context block for a user: an intro line with
// the count of prior conversations, one dated line per summary (oldest
// first), and a closing line naming the upcoming conversation number. Users
// with no summarized conversations get the NoPriorHistory sentinel.
//
// Only summaries committed before this call are visible; a summary being
// committed concurrently may or may not appear, and callers must tolerate
// that.
func (b *ContextBuilder) Build(ctx context.Context, userID string) (string, error) {
	conversations, err := b.registry.ConversationsWithSummary(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("memory: build context: %w", err)
	}

	lines := make([]string, 0, len(conversations))
	for _, conv := range conversations {
		if conv.Summary == nil || *conv.Summary == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("Conversation %d (from %s): %s",
			len(lines)+1, conv.CreatedAt.Format(time.DateOnly), *conv.Summary))
	}

	total := len(lines)
	if total == 0 {
		return NoPriorHistory, nil
	}

	intro := fmt.Sprintf("User has had %d previous conversations. Here's the cumulative memory:", total)
	closing := fmt.Sprintf("This is conversation #%d for this user. Use the above context to provide personalized, continuous care.", total+1)

	// Drop oldest entries beyond the count cap, then keep dropping while the
	// assembled block exceeds the character cap. At least one summary always
	// survives; the intro and closing keep the true totals either way.
	if len(lines) > b.cfg.MaxSummaries {
		lines = lines[len(lines)-b.cfg.MaxSummaries:]
	}
	block := assembleContext(intro, lines, closing)
	for len(block) > b.cfg.MaxChars && len(lines) > 1 {
		lines = lines[1:]
		block = assembleContext(intro, lines, closing)
	}

	// A single summary that still overflows is trimmed rather than dropped,
	// down to minSummaryExcerpt, keeping the cap a hard bound for any
	// realistic configuration.
	if over := len(block) - b.cfg.MaxChars; over > 0 {
		line := lines[0]
		keep := len(line) - over
		if keep < minSummaryExcerpt {
			keep = minSummaryExcerpt
		}
		if keep < len(line) {
			lines[0] = strings.TrimSpace(line[:keep])
			block = assembleContext(intro, lines, closing)
		}
	}
	return block, nil
}

func assembleContext(intro string, lines []string, closing string) string {
	parts := make([]string, 0, len(lines)+2)
	parts = append(parts, intro)
	parts = append(parts, lines...)
	parts = append(parts, closing)
	return strings.Join(parts, "\n\n")
}
