package providers

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyloom/storyloom/pkg/domain"
)

type fakeAdapter struct {
	providerType domain.ProviderType
	response     domain.LLMResponse
	validation   domain.ValidationResult
	panicWith    any
	requests     []domain.LLMRequest
}

func (f *fakeAdapter) Type() domain.ProviderType { return f.providerType }

func (f *fakeAdapter) StreamSupport() bool { return false }

func (f *fakeAdapter) Execute(ctx context.Context, req domain.LLMRequest) domain.LLMResponse {
	f.requests = append(f.requests, req)

	if f.panicWith != nil {
		panic(f.panicWith)
	}

	return f.response
}

func (f *fakeAdapter) ValidateCredentials(ctx context.Context, creds domain.Credentials) domain.ValidationResult {
	return f.validation
}

type recordingObserver struct {
	events []domain.ProviderEvent
}

func (o *recordingObserver) HandleProviderEvent(ctx context.Context, event domain.ProviderEvent) {
	o.events = append(o.events, event)
}

func newTestManager(observer domain.ProviderObserver, credentials map[domain.ProviderType]domain.Credentials) *ProviderManager {
	return NewProviderManager(ProviderManagerDeps{
		Observer:    observer,
		Credentials: credentials,
		Logger:      zerolog.Nop(),
	})
}

func TestProviderManager_Register(t *testing.T) {
	manager := newTestManager(nil, nil)

	adapter := &fakeAdapter{providerType: domain.ProviderTypeOpenAI}
	manager.Register(adapter)

	got, exists := manager.GetAdapter(domain.ProviderTypeOpenAI)
	require.True(t, exists)
	assert.Equal(t, adapter, got)

	_, exists = manager.GetAdapter(domain.ProviderTypeGemini)
	assert.False(t, exists)
}

func TestProviderManager_ExecutePrompt(t *testing.T) {
	observer := &recordingObserver{}

	manager := newTestManager(observer, map[domain.ProviderType]domain.Credentials{
		domain.ProviderTypeOpenAI: {APIKey: "sk-test"},
	})

	adapter := &fakeAdapter{
		providerType: domain.ProviderTypeOpenAI,
		response: domain.LLMResponse{
			Success: true,
			Output:  "draft text",
			Usage:   &domain.TokenUsage{TotalTokens: 42},
		},
	}
	manager.Register(adapter)

	response := manager.ExecutePrompt(context.Background(), domain.ExecutePromptParams{
		Provider: domain.ProviderConfig{Type: domain.ProviderTypeOpenAI},
		Prompt:   "write a draft",
	})

	require.True(t, response.Success)
	assert.Equal(t, "draft text", response.Output)

	// Credentials reach the adapter resolved.
	require.Len(t, adapter.requests, 1)
	assert.Equal(t, "sk-test", adapter.requests[0].Credentials.APIKey)

	require.Len(t, observer.events, 1)
	assert.Equal(t, domain.ProviderEventExecutionComplete, observer.events[0].Type)
	assert.Equal(t, 42, observer.events[0].Usage.TotalTokens)
}

func TestProviderManager_ExecutePrompt_NoAdapter(t *testing.T) {
	observer := &recordingObserver{}
	manager := newTestManager(observer, nil)

	response := manager.ExecutePrompt(context.Background(), domain.ExecutePromptParams{
		Provider: domain.ProviderConfig{Type: domain.ProviderTypeGemini},
	})

	require.False(t, response.Success)
	assert.Contains(t, response.Error, "no adapter registered")

	require.Len(t, observer.events, 1)
	assert.Equal(t, domain.ProviderEventExecutionError, observer.events[0].Type)
}

func TestProviderManager_ExecutePrompt_MissingCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	manager := newTestManager(nil, nil)
	adapter := &fakeAdapter{providerType: domain.ProviderTypeOpenAI}
	manager.Register(adapter)

	response := manager.ExecutePrompt(context.Background(), domain.ExecutePromptParams{
		Provider: domain.ProviderConfig{Type: domain.ProviderTypeOpenAI},
	})

	require.False(t, response.Success)
	assert.Contains(t, response.Error, "no credential supplied")

	// The failure is detected before the adapter is called.
	assert.Empty(t, adapter.requests)
}

func TestProviderManager_ExecutePrompt_PanicBecomesFailure(t *testing.T) {
	observer := &recordingObserver{}

	manager := newTestManager(observer, map[domain.ProviderType]domain.Credentials{
		domain.ProviderTypeAnthropic: {APIKey: "sk-test"},
	})

	adapter := &fakeAdapter{
		providerType: domain.ProviderTypeAnthropic,
		panicWith:    "nil pointer somewhere deep",
	}
	manager.Register(adapter)

	response := manager.ExecutePrompt(context.Background(), domain.ExecutePromptParams{
		Provider: domain.ProviderConfig{Type: domain.ProviderTypeAnthropic},
	})

	require.False(t, response.Success)
	assert.Contains(t, response.Error, "backend error")

	require.Len(t, observer.events, 1)
	assert.Equal(t, domain.ProviderEventExecutionError, observer.events[0].Type)
}

func TestProviderManager_ResolveCredentials(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("GEMINI_API_KEY", "")

	manager := newTestManager(nil, map[domain.ProviderType]domain.Credentials{
		domain.ProviderTypeAnthropic: {APIKey: "sk-configured"},
		domain.ProviderTypeOllama:    {BaseURL: "http://models.local:11434"},
	})

	t.Run("manager configuration wins over environment", func(t *testing.T) {
		creds, err := manager.ResolveCredentials(domain.ProviderConfig{Type: domain.ProviderTypeAnthropic})
		require.NoError(t, err)
		assert.Equal(t, "sk-configured", creds.APIKey)
	})

	t.Run("environment fallback", func(t *testing.T) {
		creds, err := manager.ResolveCredentials(domain.ProviderConfig{Type: domain.ProviderTypeOpenAI})
		require.NoError(t, err)
		assert.Equal(t, "sk-from-env", creds.APIKey)
	})

	t.Run("node-level base URL overrides", func(t *testing.T) {
		creds, err := manager.ResolveCredentials(domain.ProviderConfig{
			Type:    domain.ProviderTypeOllama,
			BaseURL: "http://override:11434",
		})
		require.NoError(t, err)
		assert.Equal(t, "http://override:11434", creds.BaseURL)
	})

	t.Run("missing key fails fast for cloud providers", func(t *testing.T) {
		_, err := manager.ResolveCredentials(domain.ProviderConfig{Type: domain.ProviderTypeGemini})
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrConfiguration)
	})

	t.Run("local providers need no key", func(t *testing.T) {
		_, err := manager.ResolveCredentials(domain.ProviderConfig{Type: domain.ProviderTypeClaudeCLI})
		assert.NoError(t, err)
	})
}

func TestProviderManager_ValidateCredentials(t *testing.T) {
	manager := newTestManager(nil, nil)

	adapter := &fakeAdapter{
		providerType: domain.ProviderTypeOpenAI,
		validation:   domain.ValidationResult{Valid: true, Model: "gpt-4o"},
	}
	manager.Register(adapter)

	result := manager.ValidateCredentials(context.Background(), domain.ProviderTypeOpenAI, domain.Credentials{APIKey: "sk"})
	assert.True(t, result.Valid)
	assert.Equal(t, "gpt-4o", result.Model)

	// Validation is side-effect-free: repeating it yields the same verdict.
	again := manager.ValidateCredentials(context.Background(), domain.ProviderTypeOpenAI, domain.Credentials{APIKey: "sk"})
	assert.Equal(t, result, again)

	missing := manager.ValidateCredentials(context.Background(), domain.ProviderTypeGemini, domain.Credentials{})
	assert.False(t, missing.Valid)
	assert.Contains(t, missing.Error, "no adapter registered")
}
