package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bdobrica/Kokoro/internal/kokoro/memory"
	"github.com/bdobrica/Kokoro/internal/kokoro/persona"
	"github.com/bdobrica/Kokoro/internal/kokoro/store"
)

// newTestClient wires a Client against a fake completion endpoint. Retry
// delays are shrunk so failure-path tests stay fast.
func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	spec := persona.Default()
	spec.Backend.BaseURL = srv.URL + "/v1"
	spec.Backend.Model = "test-model"

	c := NewClient("test-key", spec, nil)
	c.retryCfg.InitialDelay = time.Millisecond
	c.retryCfg.MaxDelay = 5 * time.Millisecond
	return c, srv
}

func completionResponse(text, finishReason string) string {
	msg, _ := json.Marshal(text)
	return fmt.Sprintf(`{
		"id": "cmpl-1",
		"object": "chat.completion",
		"created": 1,
		"model": "test-model",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": %s}, "finish_reason": %q}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`, msg, finishReason)
}

func TestReplySuccess(t *testing.T) {
	var gotReq openai.ChatCompletionRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionResponse("I hear you. That sounds heavy.", "stop"))
	})

	history := []store.Message{
		{Role: store.RoleUser, Content: store.TextContent("hello")},
		{Role: store.RoleAssistant, Content: store.TextContent("hi, how are you?")},
	}
	text, usage, model := c.Reply(context.Background(), ReplyParams{
		History:          history,
		UserMessage:      "I feel stuck",
		ContextBlock:     "User has had 1 previous conversations.",
		SuppressGreeting: true,
	})

	if text != "I hear you. That sounds heavy." {
		t.Errorf("text = %q", text)
	}
	if usage.TotalTokens != 15 || usage.PromptTokens != 10 || usage.CompletionTokens != 5 {
		t.Errorf("usage = %+v", usage)
	}
	if model != "test-model" {
		t.Errorf("model = %q", model)
	}

	// System prompt, two history turns, current message.
	if len(gotReq.Messages) != 4 {
		t.Fatalf("request carried %d messages, want 4", len(gotReq.Messages))
	}
	if gotReq.Messages[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("first message role = %q", gotReq.Messages[0].Role)
	}
	if !strings.Contains(gotReq.Messages[0].Content, "Previous conversation context") {
		t.Error("context block not injected into the system prompt")
	}
	if !strings.Contains(gotReq.Messages[0].Content, "Do not include any greeting") {
		t.Error("greeting suppression not injected")
	}
	last := gotReq.Messages[len(gotReq.Messages)-1]
	if last.Role != openai.ChatMessageRoleUser || last.Content != "I feel stuck" {
		t.Errorf("last message = %+v", last)
	}
}

func TestReplyNoHistorySentinel(t *testing.T) {
	var gotReq openai.ChatCompletionRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionResponse("welcome", "stop"))
	})

	c.Reply(context.Background(), ReplyParams{UserMessage: "hi", ContextBlock: memory.NoPriorHistory})

	if strings.Contains(gotReq.Messages[0].Content, memory.NoPriorHistory) {
		t.Error("sentinel leaked into the prompt as context")
	}
	if !strings.Contains(gotReq.Messages[0].Content, "Do not claim to remember previous chats") {
		t.Error("first-conversation instruction missing")
	}
}

func TestReplyServerErrorFallsBack(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": {"message": "boom"}}`, http.StatusInternalServerError)
	})

	text, usage, model := c.Reply(context.Background(), ReplyParams{UserMessage: "hi"})
	if text != fallbackReply {
		t.Errorf("text = %q, want the fixed fallback", text)
	}
	if usage != (store.TokenUsage{}) {
		t.Errorf("usage = %+v, want zeros", usage)
	}
	if model != "test-model" {
		t.Errorf("model = %q", model)
	}
	// Server errors are retried before giving up.
	if calls.Load() != 3 {
		t.Errorf("backend called %d times, want 3", calls.Load())
	}
}

func TestReplyContentFilterFallsBack(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionResponse("", "content_filter"))
	})

	text, _, _ := c.Reply(context.Background(), ReplyParams{UserMessage: "hi"})
	if text != fallbackFiltered {
		t.Errorf("text = %q, want the content-filter fallback", text)
	}
}

func TestRetryOn429ThenSuccess(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, `{"error": {"message": "rate limited", "type": "rate_limit_exceeded"}}`, http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionResponse("recovered", "stop"))
	})

	text, usage, _ := c.Reply(context.Background(), ReplyParams{UserMessage: "hi"})
	if text != "recovered" {
		t.Errorf("text = %q", text)
	}
	if usage.TotalTokens != 15 {
		t.Errorf("usage lost across the retry: %+v", usage)
	}
	if calls.Load() != 2 {
		t.Errorf("backend called %d times, want 2", calls.Load())
	}
}

func TestNoRetryOnAuthFailure(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, `{"error": {"message": "bad key"}}`, http.StatusUnauthorized)
	})

	text, _, _ := c.Reply(context.Background(), ReplyParams{UserMessage: "hi"})
	if text != fallbackReply {
		t.Errorf("text = %q", text)
	}
	if calls.Load() != 1 {
		t.Errorf("auth failure retried %d times", calls.Load())
	}
}

func TestSummarize(t *testing.T) {
	var gotReq openai.ChatCompletionRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionResponse("EMOTIONAL STATE: steady.", "stop"))
	})

	transcript := []store.Message{
		{Role: store.RoleUser, Content: store.TextContent("rough week")},
		{Role: store.RoleAssistant, Content: store.TextContent("tell me more")},
	}
	text, usage, model := c.Summarize(context.Background(), transcript, "User has had 2 previous conversations.")

	if text != "EMOTIONAL STATE: steady." {
		t.Errorf("text = %q", text)
	}
	if usage.TotalTokens != 15 || model != "test-model" {
		t.Errorf("usage/model = %+v / %q", usage, model)
	}

	body := gotReq.Messages[len(gotReq.Messages)-1].Content
	if !strings.Contains(body, "user: rough week") || !strings.Contains(body, "assistant: tell me more") {
		t.Errorf("transcript not rendered into the prompt:\n%s", body)
	}
	foundContext := false
	for _, m := range gotReq.Messages {
		if strings.Contains(m.Content, "Previous conversation context to consider") {
			foundContext = true
		}
	}
	if !foundContext {
		t.Error("cumulative context not passed to the summarizer")
	}
}

func TestSummarizeFallsBack(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "boom"}}`, http.StatusInternalServerError)
	})

	text, usage, _ := c.Summarize(context.Background(), []store.Message{
		{Role: store.RoleUser, Content: store.TextContent("hello")},
	}, memory.NoPriorHistory)

	if text != fallbackSummary {
		t.Errorf("text = %q, want the fixed fallback summary", text)
	}
	if usage != (store.TokenUsage{}) {
		t.Errorf("usage = %+v, want zeros", usage)
	}
}

func TestGreet(t *testing.T) {
	var gotReq openai.ChatCompletionRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionResponse("Hi Alice, good to see you again.", "stop"))
	})

	text, _, _ := c.Greet(context.Background(), GreetParams{
		ContextBlock:  "User has had 2 previous conversations.",
		FirstName:     "Alice",
		LatestSummary: "KEY TOPICS: sleep trouble and work stress.",
	})

	if text != "Hi Alice, good to see you again." {
		t.Errorf("text = %q", text)
	}
	if !strings.Contains(gotReq.Messages[0].Content, "sleep trouble") {
		t.Error("latest summary not injected into the greeting prompt")
	}
	if !strings.Contains(gotReq.Messages[1].Content, "'Hi Alice,'") {
		t.Errorf("greeting instruction missing the name:\n%s", gotReq.Messages[1].Content)
	}
}

func TestGreetIgnoresFallbackSummary(t *testing.T) {
	var gotReq openai.ChatCompletionRequest
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, completionResponse("Hi there.", "stop"))
	})

	// A placeholder summary from an earlier backend failure must not be
	// treated as personalization material; the recent phrases take over.
	c.Greet(context.Background(), GreetParams{
		LatestSummary: fallbackSummary,
		RecentPhrases: []string{"I have been sleeping badly lately and it shows"},
	})

	prompt := gotReq.Messages[0].Content
	if strings.Contains(prompt, fallbackSummary) {
		t.Error("placeholder summary leaked into the prompt")
	}
	if !strings.Contains(prompt, "I have been sleeping badly") {
		t.Error("recent-phrase hint missing from the prompt")
	}
}

func TestGreetFallsBack(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"message": "boom"}}`, http.StatusInternalServerError)
	})

	text, usage, _ := c.Greet(context.Background(), GreetParams{FirstName: "Alice"})
	if text != fallbackGreeting {
		t.Errorf("text = %q, want the neutral fallback greeting", text)
	}
	if usage != (store.TokenUsage{}) {
		t.Errorf("usage = %+v, want zeros", usage)
	}
}

func TestTopicHint(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{""}, ""},
		{[]string{"short phrase"}, "short phrase"},
		{[]string{"one two three four five six seven eight nine ten eleven twelve"}, "one two three four five six seven eight nine ten"},
		{[]string{"trailing punctuation goes away!"}, "trailing punctuation goes away"},
	}
	for _, tc := range tests {
		if got := topicHint(tc.in); got != tc.want {
			t.Errorf("topicHint(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
