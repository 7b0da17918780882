// Package chat implements the conversational request path: opening
// conversations with a personalized greeting and exchanging turns, with the
// registry and transcript kept in step on every call.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bdobrica/Kokoro/common/trace"
	"github.com/bdobrica/Kokoro/internal/kokoro/genai"
	"github.com/bdobrica/Kokoro/internal/kokoro/store"
)

const (
	// titleMaxChars is how much of the opening text becomes the display title.
	titleMaxChars = 60

	// historyLimit caps how many transcript turns are replayed to the
	// generation backend per reply.
	historyLimit = 20

	// recentPhraseLimit caps how many of the user's latest messages feed
	// greeting personalization.
	recentPhraseLimit = 5
)

// Generator is the generation surface the service needs. Implementations
// never return errors; failures surface as fallback texts with zero usage.
type Generator interface {
	Reply(ctx context.Context, p genai.ReplyParams) (text string, usage store.TokenUsage, model string)
	Greet(ctx context.Context, p genai.GreetParams) (text string, usage store.TokenUsage, model string)
}

// ContextSource builds the cumulative context block for a user.
type ContextSource interface {
	Build(ctx context.Context, userID string) (string, error)
}

var _ Generator = (*genai.Client)(nil)

// TurnResult is the outcome of one request-path operation.
type TurnResult struct {
	ConversationID string
	// Text is the assistant's greeting or reply.
	Text string
	// NewConversation is true when the turn landed in a conversation other
	// than the one addressed, because the addressed one was archived.
	NewConversation bool
	Usage           store.TokenUsage
	Model           string
}

// Service wires the registry, the transcript, the context builder, and the
// generation backend into the two user-facing operations.
type Service struct {
	store    *store.Store
	gen      Generator
	contexts ContextSource
	logger   *slog.Logger
}

// NewService creates a Service. If logger is nil, the default slog logger is
// used.
func NewService(s *store.Store, gen Generator, contexts ContextSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, gen: gen, contexts: contexts, logger: logger.With("component", "chat")}
}

// StartConversation opens a fresh conversation for the user, creating the
// user on first contact, and returns the assistant's opening greeting. The
// greeting is generated from the user's cumulative memory, stored as the
// first transcript turn, and its prefix becomes the conversation title.
func (s *Service) StartConversation(ctx context.Context, userID, email, firstName string) (TurnResult, error) {
	ctx = trace.Ensure(ctx)

	user, err := s.store.GetOrCreateUser(ctx, userID, email)
	if err != nil {
		return TurnResult{}, fmt.Errorf("chat: start conversation: %w", err)
	}

	contextBlock, err := s.contexts.Build(ctx, user.ID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("chat: start conversation: %w", err)
	}
	latest, _, err := s.store.LatestSummary(ctx, user.ID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("chat: start conversation: %w", err)
	}
	phrases, err := s.store.RecentUserMessages(ctx, user.ID, recentPhraseLimit)
	if err != nil {
		return TurnResult{}, fmt.Errorf("chat: start conversation: %w", err)
	}

	conv, err := s.store.CreateConversation(ctx, user.ID, "")
	if err != nil {
		return TurnResult{}, fmt.Errorf("chat: start conversation: %w", err)
	}

	greeting, usage, model := s.gen.Greet(ctx, genai.GreetParams{
		ContextBlock:  contextBlock,
		FirstName:     firstName,
		LatestSummary: latest,
		RecentPhrases: phrases,
	})

	if _, err := s.store.SaveMessage(ctx, conv.ID, user.ID, store.RoleAssistant, store.TextContent(greeting)); err != nil {
		return TurnResult{}, fmt.Errorf("chat: save greeting: %w", err)
	}
	if err := s.store.UpdateConversationTitle(ctx, conv.ID, titleFrom(greeting)); err != nil {
		return TurnResult{}, fmt.Errorf("chat: set title: %w", err)
	}
	if err := s.store.TouchConversation(ctx, conv.ID, time.Now().UTC()); err != nil {
		return TurnResult{}, fmt.Errorf("chat: touch conversation: %w", err)
	}
	if err := s.store.IncrementTokenUsage(ctx, conv.ID, usage, model); err != nil {
		return TurnResult{}, fmt.Errorf("chat: record usage: %w", err)
	}

	s.logger.Info("conversation started",
		"trace_id", trace.FromContext(ctx),
		"conversation_id", conv.ID,
		"user_id", user.ID,
		"total_tokens", usage.TotalTokens,
	)
	return TurnResult{ConversationID: conv.ID, Text: greeting, Usage: usage, Model: model}, nil
}

// SendMessage records a user turn and returns the assistant's reply.
//
// Archived conversations are terminal: a message addressed to one silently
// starts a replacement conversation for the same user, reported via
// NewConversation on the result. The first user round-trip moves a
// conversation from active to in-progress; later turns leave the status
// alone.
func (s *Service) SendMessage(ctx context.Context, conversationID, userID, text string) (TurnResult, error) {
	ctx = trace.Ensure(ctx)

	conv, err := s.store.GetConversation(ctx, conversationID, userID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("chat: send message: %w", err)
	}

	newConversation := false
	if conv.Status == store.StatusArchived {
		replacement, err := s.store.CreateConversation(ctx, userID, titleFrom(text))
		if err != nil {
			return TurnResult{}, fmt.Errorf("chat: send message: replace archived: %w", err)
		}
		s.logger.Info("archived conversation addressed, replacement started",
			"trace_id", trace.FromContext(ctx),
			"archived_id", conv.ID,
			"conversation_id", replacement.ID,
		)
		conv = replacement
		newConversation = true
	}

	// History is captured before the new turn so the backend sees the
	// message exactly once, as the current user message.
	history, err := s.store.MessageHistory(ctx, conv.ID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("chat: send message: %w", err)
	}
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}

	if _, err := s.store.SaveMessage(ctx, conv.ID, userID, store.RoleUser, store.TextContent(text)); err != nil {
		return TurnResult{}, fmt.Errorf("chat: save user message: %w", err)
	}

	contextBlock, err := s.contexts.Build(ctx, userID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("chat: send message: %w", err)
	}

	reply, usage, model := s.gen.Reply(ctx, genai.ReplyParams{
		History:          history,
		UserMessage:      text,
		ContextBlock:     contextBlock,
		SuppressGreeting: true,
	})

	if _, err := s.store.SaveMessage(ctx, conv.ID, userID, store.RoleAssistant, store.TextContent(reply)); err != nil {
		return TurnResult{}, fmt.Errorf("chat: save reply: %w", err)
	}
	if err := s.store.TouchConversation(ctx, conv.ID, time.Now().UTC()); err != nil {
		return TurnResult{}, fmt.Errorf("chat: touch conversation: %w", err)
	}
	if conv.Status == store.StatusActive {
		if err := s.store.UpdateConversationStatus(ctx, conv.ID, store.StatusInProgress); err != nil {
			return TurnResult{}, fmt.Errorf("chat: advance status: %w", err)
		}
	}
	if err := s.store.IncrementTokenUsage(ctx, conv.ID, usage, model); err != nil {
		return TurnResult{}, fmt.Errorf("chat: record usage: %w", err)
	}

	s.logger.Info("turn completed",
		"trace_id", trace.FromContext(ctx),
		"conversation_id", conv.ID,
		"user_id", userID,
		"new_conversation", newConversation,
		"total_tokens", usage.TotalTokens,
	)
	return TurnResult{
		ConversationID:  conv.ID,
		Text:            reply,
		NewConversation: newConversation,
		Usage:           usage,
		Model:           model,
	}, nil
}

// titleFrom derives a display title from the opening text: the first
// titleMaxChars characters, cut at a rune boundary, whitespace-trimmed.
func titleFrom(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > titleMaxChars {
		text = strings.TrimSpace(string(runes[:titleMaxChars]))
	}
	return text
}
