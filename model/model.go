package model

import (
	"context"
	"time"

	"github.com/hupe1980/evalmesh/core"
	"github.com/hupe1980/evalmesh/tool"
)

// Provider tags select the adapter family for a configured model.
const (
	ProviderOpenAI          = "openai"
	ProviderOpenAIResponses = "openai_responses"
	ProviderAzure           = "azure"
	ProviderXAI             = "xai"
	ProviderFireworks       = "fireworks"
	ProviderCerebras        = "cerebras"
	ProviderAnthropic       = "anthropic"
	ProviderVertexAnthropic = "vertexai_anthropic"
	ProviderGemini          = "gemini"
	ProviderBedrock         = "bedrock"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Part converts the call into its transcript representation.
func (c ToolCall) Part() core.ToolCallPart {
	return core.ToolCallPart{ID: c.ID, Name: c.Name, Arguments: c.Arguments}
}

// Request captures the normalized model input.
type Request struct {
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Messages     []core.Message `json:"messages"`
	Tools        *tool.Set      `json:"-"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	Input     int `json:"input_tokens"`
	Output    int `json:"output_tokens"`
	Reasoning int `json:"reasoning_tokens"`
}

// Add accumulates other into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.Input += other.Input
	u.Output += other.Output
	u.Reasoning += other.Reasoning
}

// Response is the normalized result of one model call. Content and Thoughts
// are nil when the provider returned no text of that kind.
type Response struct {
	Content   *string    `json:"content"`
	Thoughts  *string    `json:"thoughts"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Usage     TokenUsage `json:"usage"`
}

// Text returns the answer text or "" when absent.
func (r *Response) Text() string {
	if r == nil || r.Content == nil {
		return ""
	}
	return *r.Content
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by the dispatcher to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// Poller is implemented by adapters whose Generate call polls a long running
// job. For these the caller bounds each HTTP request through
// WithRequestTimeout rather than the whole call.
type Poller interface {
	Polls() bool
}

type requestTimeoutKey struct{}

// WithRequestTimeout attaches a per HTTP request bound to ctx.
func WithRequestTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, requestTimeoutKey{}, d)
}

// RequestTimeout returns the bound set by WithRequestTimeout, or 0.
func RequestTimeout(ctx context.Context) time.Duration {
	d, _ := ctx.Value(requestTimeoutKey{}).(time.Duration)
	return d
}

// Config describes one catalog entry. Fields that do not apply to the
// selected provider are ignored.
type Config struct {
	Name            string        `yaml:"name" json:"name"`
	Provider        string        `yaml:"provider" json:"provider"`
	ModelID         string        `yaml:"model_id" json:"model_id"`
	MaxTokens       int64         `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	Temperature     *float64      `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	ReasoningEffort string        `yaml:"reasoning_effort,omitempty" json:"reasoning_effort,omitempty"`
	Thinking        bool          `yaml:"thinking,omitempty" json:"thinking,omitempty"`
	BaseURL         string        `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	SystemRole      string        `yaml:"system_role,omitempty" json:"system_role,omitempty"`
	SkipSystem      bool          `yaml:"skip_system,omitempty" json:"skip_system,omitempty"`
	ExtractThink    bool          `yaml:"extract_think,omitempty" json:"extract_think,omitempty"`
	Background      bool          `yaml:"background,omitempty" json:"background,omitempty"`
	PollInterval    time.Duration `yaml:"poll_interval,omitempty" json:"poll_interval,omitempty"`
	Region          string        `yaml:"region,omitempty" json:"region,omitempty"`
	Project         string        `yaml:"project,omitempty" json:"project,omitempty"`
	APIKeyEnv       string        `yaml:"api_key_env,omitempty" json:"api_key_env,omitempty"`
}

// UsesModelRole reports whether assistant turns are recorded with the
// "model" role for this provider.
func UsesModelRole(provider string) bool { return provider == ProviderGemini }

// Ptr returns a pointer to s, or nil when s is empty.
func Ptr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
