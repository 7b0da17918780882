package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bdobrica/Kokoro/internal/kokoro/store"
)

// minSummarizableMessages is the smallest transcript worth sending to the
// generation backend. Anything shorter is archived without a summary so the
// scheduler never picks it up again.
const minSummarizableMessages = 2

// Summarizer is the single generation operation the pipeline needs. The
// boundary never fails: on internal errors implementations return a fixed
// fallback text with zeroed usage.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []store.Message, contextBlock string) (text string, usage store.TokenUsage, model string)
}

// PipelineStore is the persistence surface of the summarization pipeline.
type PipelineStore interface {
	MessageHistory(ctx context.Context, conversationID string) ([]store.Message, error)
	ArchiveConversation(ctx context.Context, conversationID string) error
	ArchiveAndSummarize(ctx context.Context, conversationID, summary, model string, usage store.TokenUsage) error
}

// ContextSource builds the cumulative context block for a user.
type ContextSource interface {
	Build(ctx context.Context, userID string) (string, error)
}

// Pipeline turns a finished conversation into a durable memory fragment:
// fetch the transcript, build the user's cumulative context, ask the
// generation backend for a summary, and commit summary + archival together.
//
// Each invocation owns its transaction boundary. A failure anywhere before
// the commit leaves the conversation exactly as it was: still
// active/in-progress and eligible for a retry on a later tick.
type Pipeline struct {
	store      PipelineStore
	contexts   ContextSource
	summarizer Summarizer
	logger     *slog.Logger
}

// NewPipeline creates a Pipeline. If logger is nil, the default slog logger
// is used.
func NewPipeline(s PipelineStore, contexts ContextSource, summarizer Summarizer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{store: s, contexts: contexts, summarizer: summarizer, logger: logger}
}

// SummarizeConversation processes one conversation end to end.
//
// Transcripts with fewer than two messages are not worth summarizing: the
// conversation is archived (preventing endless reprocessing), the generation
// backend is never called, and the call returns nil. That branch is a
// deliberate short-circuit, not an error.
//
// Callers must not invoke this twice concurrently for the same conversation;
// the scheduler's eligibility filter plus the guarded commit make duplicate
// work benign, but the pipeline itself does not re-check eligibility.
func (p *Pipeline) SummarizeConversation(ctx context.Context, conv store.Conversation) error {
	start := time.Now()

	messages, err := p.store.MessageHistory(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("memory: pipeline: fetch transcript for %s: %w", conv.ID, err)
	}

	if len(messages) < minSummarizableMessages {
		p.logger.Warn("pipeline: transcript too short, archiving without summary",
			"conversation_id", conv.ID,
			"user_id", conv.UserID,
			"messages", len(messages),
		)
		if err := p.store.ArchiveConversation(ctx, conv.ID); err != nil {
			return fmt.Errorf("memory: pipeline: archive short conversation %s: %w", conv.ID, err)
		}
		return nil
	}

	contextBlock, err := p.contexts.Build(ctx, conv.UserID)
	if err != nil {
		return fmt.Errorf("memory: pipeline: build context for %s: %w", conv.ID, err)
	}

	summary, usage, model := p.summarizer.Summarize(ctx, messages, contextBlock)

	err = p.store.ArchiveAndSummarize(ctx, conv.ID, summary, model, usage)
	if errors.Is(err, store.ErrNotEligible) {
		// Another worker archived or summarized this conversation between the
		// eligibility scan and our commit. Its result stands; ours is dropped.
		p.logger.Warn("pipeline: lost commit race, conversation already processed",
			"conversation_id", conv.ID,
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("memory: pipeline: persist summary for %s: %w", conv.ID, err)
	}

	p.logger.Info("pipeline: conversation summarized",
		"conversation_id", conv.ID,
		"user_id", conv.UserID,
		"messages", len(messages),
		"summary_len", len(summary),
		"model", model,
		"total_tokens", usage.TotalTokens,
		"elapsed", time.Since(start).String(),
	)
	return nil
}
