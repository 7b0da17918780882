// Package persona defines types for the Kokoro persona configuration
// schema (v1).
//
// A persona is the versioned YAML file that configures one Kokoro
// deployment: which generation backend to talk to, how the assistant
// introduces itself, and how long archived transcripts are retained.
package persona

import "time"

// SpecVersion is the API version string required in every persona config.
const SpecVersion = "kokoro/v1"

// Defaults applied by Normalize when the corresponding field is absent.
const (
	DefaultModel          = "gpt-4o-mini"
	DefaultMaxTokens      = 1024
	DefaultRequestTimeout = 30 * time.Second
	DefaultAssistantName  = "Kokoro"
)

// Spec is the root type for a persona configuration.
type Spec struct {
	// APIVersion must be "kokoro/v1".
	APIVersion string `yaml:"apiVersion" json:"apiVersion"`

	// Metadata holds descriptive metadata.
	Metadata Metadata `yaml:"metadata" json:"metadata"`

	// Backend configures the generation backend.
	Backend Backend `yaml:"backend,omitempty" json:"backend,omitempty"`

	// Prompts holds the system prompts for each generation operation.
	Prompts Prompts `yaml:"prompts,omitempty" json:"prompts,omitempty"`

	// Retention configures transcript retention for archived conversations.
	Retention Retention `yaml:"retention,omitempty" json:"retention,omitempty"`
}

// Metadata holds descriptive information about a persona.
type Metadata struct {
	// Name is the assistant's display name, used in greetings.
	Name string `yaml:"name" json:"name"`

	// Description is a human-readable description of the deployment.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Backend configures the generation backend connection and sampling.
type Backend struct {
	// Model is the model name (e.g. "gpt-4o-mini"). Empty means DefaultModel.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// BaseURL overrides the backend endpoint. Empty means the provider
	// default. Useful for proxies and self-hosted compatible servers.
	BaseURL string `yaml:"baseURL,omitempty" json:"baseURL,omitempty"`

	// Temperature controls output randomness. Valid range: 0.0-2.0.
	// A nil pointer means "not specified" (provider default); a non-nil
	// pointer to 0.0 means "explicitly deterministic".
	Temperature *float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`

	// MaxTokens caps the completion length per call. 0 means DefaultMaxTokens.
	MaxTokens int `yaml:"maxTokens,omitempty" json:"maxTokens,omitempty"`

	// RequestTimeoutSeconds bounds each backend call. 0 means the
	// DefaultRequestTimeout.
	RequestTimeoutSeconds int `yaml:"requestTimeoutSeconds,omitempty" json:"requestTimeoutSeconds,omitempty"`
}

// Prompts holds the system prompts injected into generation calls.
// Empty fields fall back to built-in prompts.
type Prompts struct {
	// System is the base system prompt for reply generation.
	System string `yaml:"system,omitempty" json:"system,omitempty"`

	// Summarization is the system prompt for transcript summarization.
	Summarization string `yaml:"summarization,omitempty" json:"summarization,omitempty"`

	// Greeting is the system prompt for opening a new conversation.
	Greeting string `yaml:"greeting,omitempty" json:"greeting,omitempty"`
}

// Retention configures how long archived conversation transcripts are kept
// before the janitor purges them. The summary always survives a purge.
type Retention struct {
	// TranscriptDays is the age in days past which archived, summarized
	// transcripts are deleted. 0 disables purging entirely.
	TranscriptDays int `yaml:"transcriptDays,omitempty" json:"transcriptDays,omitempty"`

	// Schedule is the cron expression for the purge sweep. Empty means
	// "@daily".
	Schedule string `yaml:"schedule,omitempty" json:"schedule,omitempty"`
}

// RequestTimeout returns the backend per-call timeout as a duration.
func (b Backend) RequestTimeout() time.Duration {
	if b.RequestTimeoutSeconds <= 0 {
		return DefaultRequestTimeout
	}
	return time.Duration(b.RequestTimeoutSeconds) * time.Second
}

// Default returns a minimal valid persona with built-in defaults applied.
func Default() *Spec {
	s := &Spec{
		APIVersion: SpecVersion,
		Metadata:   Metadata{Name: DefaultAssistantName},
	}
	s.Normalize()
	return s
}

// Normalize fills in defaulted fields in place. Parse calls this after
// validation, so loaded specs are always fully populated.
func (s *Spec) Normalize() {
	if s.Metadata.Name == "" {
		s.Metadata.Name = DefaultAssistantName
	}
	if s.Backend.Model == "" {
		s.Backend.Model = DefaultModel
	}
	if s.Backend.MaxTokens <= 0 {
		s.Backend.MaxTokens = DefaultMaxTokens
	}
	if s.Retention.Schedule == "" {
		s.Retention.Schedule = "@daily"
	}
}
