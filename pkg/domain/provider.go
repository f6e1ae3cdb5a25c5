package domain

import (
	"context"
)

type ProviderType string

const (
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeAnthropic ProviderType = "anthropic"
	ProviderTypeGemini    ProviderType = "gemini"
	ProviderTypeOllama    ProviderType = "ollama"
	ProviderTypeClaudeCLI ProviderType = "claude-cli"
)

// ProviderConfig names an external generation backend plus its settings as
// carried by an agent node.
type ProviderConfig struct {
	Type        ProviderType `json:"type" yaml:"type"`
	Model       string       `json:"model,omitempty" yaml:"model,omitempty"`
	BaseURL     string       `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`
	Temperature float32      `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int          `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
}

// Credentials as resolved by the provider manager before an adapter call.
type Credentials struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Binary  string `json:"binary,omitempty"`
}

type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u TokenUsage) Add(other TokenUsage) TokenUsage {
	return TokenUsage{
		PromptTokens:     u.PromptTokens + other.PromptTokens,
		CompletionTokens: u.CompletionTokens + other.CompletionTokens,
		TotalTokens:      u.TotalTokens + other.TotalTokens,
	}
}

// LLMRequest is the uniform request every adapter consumes.
type LLMRequest struct {
	Provider     ProviderConfig `json:"provider"`
	Credentials  Credentials    `json:"-"`
	Prompt       string         `json:"prompt"`
	SystemPrompt string         `json:"system_prompt,omitempty"`
	Context      string         `json:"context,omitempty"`
}

// LLMResponse is the uniform response every adapter produces. Failures are
// carried as data, never as panics past the manager boundary.
type LLMResponse struct {
	Success bool        `json:"success"`
	Output  string      `json:"output,omitempty"`
	Model   string      `json:"model,omitempty"`
	Usage   *TokenUsage `json:"usage,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type ValidationResult struct {
	Valid bool   `json:"valid"`
	Model string `json:"model,omitempty"`
	Error string `json:"error,omitempty"`
}

// ProviderAdapter translates engine requests into one backend's protocol.
// Adapters hold no shared state; each call is independent.
type ProviderAdapter interface {
	Type() ProviderType
	StreamSupport() bool
	Execute(ctx context.Context, req LLMRequest) LLMResponse
	ValidateCredentials(ctx context.Context, creds Credentials) ValidationResult
}

type ExecutePromptParams struct {
	Provider     ProviderConfig
	Prompt       string
	SystemPrompt string
	Context      string
}

// PromptExecutor is the provider manager surface node handlers depend on.
// Failures come back as data inside the response.
type PromptExecutor interface {
	ExecutePrompt(ctx context.Context, params ExecutePromptParams) LLMResponse
}

// SubWorkflowRunner executes a nested workflow on behalf of a sub-workflow
// node. The graph walker supplies the implementation since nested traversal
// is its responsibility.
type SubWorkflowRunner interface {
	RunSubWorkflow(ctx context.Context, params RunSubWorkflowParams) (SubWorkflowResult, error)
}

type RunSubWorkflowParams struct {
	WorkflowID    string
	Variables     map[string]any
	ProjectFolder string
	UserID        string
}

type SubWorkflowResult struct {
	Output    any
	Variables map[string]any
}

type ProviderEventType string

const (
	ProviderEventExecutionComplete ProviderEventType = "execution-complete"
	ProviderEventExecutionError    ProviderEventType = "execution-error"
)

type ProviderEvent struct {
	Type     ProviderEventType `json:"type"`
	Provider ProviderType      `json:"provider"`
	Success  bool              `json:"success"`
	Usage    *TokenUsage       `json:"usage,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// ProviderObserver receives completion and error notifications from the
// provider manager. It is supplied at construction; there is no process-wide
// listener registration.
type ProviderObserver interface {
	HandleProviderEvent(ctx context.Context, event ProviderEvent)
}
