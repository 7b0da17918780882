// Package genai wraps the generation backend behind three operations the
// rest of Kokoro needs: conversational replies, transcript summaries, and
// personalized greetings.
//
// The boundary is deliberately infallible. Backend failures never propagate
// as errors; each operation falls back to a fixed safe text with zeroed
// token usage, so a flaky or misconfigured backend degrades the experience
// instead of breaking the request path or the archival pipeline.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bdobrica/Kokoro/common/retry"
	"github.com/bdobrica/Kokoro/internal/kokoro/memory"
	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
	"github.com/bdobrica/Kokoro/internal/kokoro/store"
)

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	api     *openai.Client
	model   string
	temp    *float64
	maxTok  int
	timeout time.Duration

	systemPrompt   string
	summaryPrompt  string
	greetingPrompt string
	retryCfg       retry.Config
	logger         *slog.Logger
}

var _ memory.Summarizer = (*Client)(nil)

// NewClient builds a Client from an API key and a persona. If logger is nil,
// the default slog logger is used.
func NewClient(apiKey string, spec *persona.Spec, logger *slog.Logger) *Client {
	if spec == nil {
		spec = persona.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg := openai.DefaultConfig(apiKey)
	if spec.Backend.BaseURL != "" {
		cfg.BaseURL = spec.Backend.BaseURL
	}

	c := &Client{
		api:            openai.NewClientWithConfig(cfg),
		model:          spec.Backend.Model,
		temp:           spec.Backend.Temperature,
		maxTok:         spec.Backend.MaxTokens,
		timeout:        spec.Backend.RequestTimeout(),
		systemPrompt:   spec.Prompts.System,
		summaryPrompt:  spec.Prompts.Summarization,
		greetingPrompt: spec.Prompts.Greeting,
		retryCfg: retry.Config{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     5 * time.Second,
			ShouldRetry:  retryableError,
		},
		logger: logger.With("component", "genai"),
	}
	if c.systemPrompt == "" {
		c.systemPrompt = defaultSystemPrompt
	}
	if c.summaryPrompt == "" {
		c.summaryPrompt = defaultSummarizationPrompt
	}
	if c.greetingPrompt == "" {
		c.greetingPrompt = defaultGreetingPrompt
	}
	return c
}

// ReplyParams carries the inputs for one conversational turn.
type ReplyParams struct {
	// History is the transcript so far, oldest first, excluding the message
	// being answered.
	History []store.Message
	// UserMessage is the message to answer.
	UserMessage string
	// ContextBlock is the cumulative memory block for the user.
	ContextBlock string
	// FirstName is used when a greeting is wanted. Empty means "there".
	FirstName string
	// SuppressGreeting skips the "Hi <name>," opener on ordinary turns.
	SuppressGreeting bool
}

// Reply generates a conversational reply. It never returns an error: on
// backend failure the fixed fallback text is returned with zeroed usage.
func (c *Client) Reply(ctx context.Context, p ReplyParams) (string, store.TokenUsage, string) {
	instructions := []string{c.systemPrompt}
	if p.ContextBlock != "" && p.ContextBlock != memory.NoPriorHistory {
		instructions = append(instructions,
			"Previous conversation context:\n"+p.ContextBlock+"\n\nUse this context to provide personalized, continuous care.")
	} else {
		instructions = append(instructions,
			"No prior conversation context is available. Do not claim to remember previous chats. Treat this as the first conversation.")
	}
	if p.SuppressGreeting {
		instructions = append(instructions,
			"Do not include any greeting or pleasantries. Respond directly to the user's message.")
	} else {
		name := p.FirstName
		if strings.TrimSpace(name) == "" {
			name = "there"
		}
		instructions = append(instructions,
			fmt.Sprintf("Start your reply with: 'Hi %s,' then continue.", strings.TrimSpace(name)))
	}
	instructions = append(instructions,
		"Avoid repeating phrases. Provide a complete response that ends with a full sentence.")

	msgs := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: strings.Join(instructions, "\n\n"),
	}}
	for _, m := range p.History {
		role := openai.ChatMessageRoleUser
		if m.Role == store.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Content.DisplayText()})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: p.UserMessage,
	})

	text, usage, err := c.complete(ctx, msgs)
	if err != nil {
		c.logger.Error("reply generation failed, using fallback", "err", err)
		if isContentFiltered(err) {
			return fallbackFiltered, store.TokenUsage{}, c.model
		}
		return fallbackReply, store.TokenUsage{}, c.model
	}
	return text, usage, c.model
}

// Summarize distills a finished transcript into a durable summary. It
// satisfies the pipeline's summarizer contract and never returns an error:
// on backend failure the fixed fallback summary is returned with zeroed
// usage, which still lets the conversation archive cleanly.
func (c *Client) Summarize(ctx context.Context, transcript []store.Message, contextBlock string) (string, store.TokenUsage, string) {
	var sb strings.Builder
	for _, m := range transcript {
		sb.WriteString(string(m.Role))
		sb.WriteString(": ")
		sb.WriteString(m.Content.DisplayText())
		sb.WriteString("\n")
	}

	msgs := []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: c.summaryPrompt,
	}}
	if contextBlock != "" && contextBlock != memory.NoPriorHistory {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Previous conversation context to consider:\n" + contextBlock + "\n\nUse this context to identify patterns and continuity.",
		})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: "Please summarize this conversation:\n\n" + sb.String(),
	})

	text, usage, err := c.complete(ctx, msgs)
	if err != nil {
		c.logger.Error("summarization failed, using fallback", "err", err)
		return fallbackSummary, store.TokenUsage{}, c.model
	}
	return text, usage, c.model
}

// GreetParams carries the inputs for a new-conversation greeting.
type GreetParams struct {
	// ContextBlock is the cumulative memory block for the user.
	ContextBlock string
	// FirstName is the user's first name. Empty means "there".
	FirstName string
	// LatestSummary is the most recent conversation summary, if any. The
	// greeting references it in preference to the full context block.
	LatestSummary string
	// RecentPhrases are the user's latest messages, newest first, used as a
	// topic hint when no real summary exists.
	RecentPhrases []string
}

// Greet opens a new conversation with a personalized greeting. It never
// returns an error: on backend failure a fixed neutral greeting is returned
// with zeroed usage.
func (c *Client) Greet(ctx context.Context, p GreetParams) (string, store.TokenUsage, string) {
	name := strings.TrimSpace(p.FirstName)
	if name == "" {
		name = "there"
	}

	prompt := c.greetingPrompt
	if s := strings.TrimSpace(p.LatestSummary); s != "" && !strings.EqualFold(s, fallbackSummary) {
		prompt += "\n\nLATEST CONVERSATION SUMMARY (reference one or two key topics, paraphrased):\n" + truncateTail(s, 800)
	} else if hint := topicHint(p.RecentPhrases); hint != "" {
		prompt += "\n\nGIST FROM RECENT MESSAGES (paraphrase, no quotes): " + hint
	}

	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: prompt},
		{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(
			"Generate a warm, personalized greeting that begins with 'Hi %s,' for a user with this conversation history:\n\n%s",
			name, truncateTail(p.ContextBlock, 4000))},
	}

	text, usage, err := c.complete(ctx, msgs)
	if err != nil {
		c.logger.Error("greeting generation failed, using fallback", "err", err)
		return fallbackGreeting, store.TokenUsage{}, c.model
	}
	return text, usage, c.model
}

// complete runs one chat completion with the configured timeout and retry
// policy, returning the first choice's text and the reported usage.
func (c *Client) complete(ctx context.Context, msgs []openai.ChatCompletionMessage) (string, store.TokenUsage, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  msgs,
		MaxTokens: c.maxTok,
	}
	if c.temp != nil {
		req.Temperature = float32(*c.temp)
	}

	var resp openai.ChatCompletionResponse
	err := retry.Do(callCtx, c.retryCfg, func() error {
		var callErr error
		resp, callErr = c.api.CreateChatCompletion(callCtx, req)
		return callErr
	})
	if err != nil {
		return "", store.TokenUsage{}, err
	}
	if len(resp.Choices) == 0 {
		return "", store.TokenUsage{}, errors.New("genai: backend returned no choices")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return "", store.TokenUsage{}, errFiltered
	}

	usage := store.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	return strings.TrimSpace(choice.Message.Content), usage, nil
}

// errFiltered marks a completion rejected by the backend's content filter.
var errFiltered = errors.New("genai: content filtered")

func isContentFiltered(err error) bool {
	if errors.Is(err, errFiltered) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if code, ok := apiErr.Code.(string); ok && code == "content_filter" {
			return true
		}
	}
	return false
}

// retryableError classifies backend errors: rate limits and server-side
// failures are retried, everything else (auth, bad request, filter) is not.
func retryableError(err error) bool {
	if errors.Is(err, errFiltered) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	// Transport-level failures (timeouts, connection resets) are retryable.
	return true
}

// truncateTail keeps the last max characters so the most recent context
// survives truncation.
func truncateTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

// topicHint distills the newest user phrase into a short neutral hint.
func topicHint(phrases []string) string {
	if len(phrases) == 0 {
		return ""
	}
	candidate := strings.TrimSpace(phrases[0])
	if candidate == "" {
		return ""
	}
	words := strings.Fields(candidate)
	if len(words) > 10 {
		words = words[:10]
	}
	return strings.TrimRight(strings.Join(words, " "), " .!?")
}
