package providers

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/storyloom/storyloom/pkg/domain"
)

// ProviderManager is the registry of provider adapters keyed by type tag. It
// resolves requests to adapters, normalizes credentials, and converts every
// failure mode into response data so callers never handle exceptions for
// provider faults.
//
// The manager performs no cross-provider fallback. Switching providers after
// a failure is the caller's explicit decision; this is a deliberate design
// limitation, not an oversight.
type ProviderManager struct {
	adapters    map[domain.ProviderType]domain.ProviderAdapter
	credentials map[domain.ProviderType]domain.Credentials
	observer    domain.ProviderObserver
	logger      zerolog.Logger
	mutex       sync.RWMutex
}

type ProviderManagerDeps struct {
	// Observer receives execution-complete and execution-error events. It is
	// supplied here instead of a process-wide emitter; nil disables
	// notifications.
	Observer    domain.ProviderObserver
	Credentials map[domain.ProviderType]domain.Credentials
	Logger      zerolog.Logger
}

func NewProviderManager(deps ProviderManagerDeps) *ProviderManager {
	credentials := deps.Credentials
	if credentials == nil {
		credentials = map[domain.ProviderType]domain.Credentials{}
	}

	return &ProviderManager{
		adapters:    map[domain.ProviderType]domain.ProviderAdapter{},
		credentials: credentials,
		observer:    deps.Observer,
		logger:      deps.Logger,
	}
}

func (m *ProviderManager) Register(adapter domain.ProviderAdapter) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.adapters[adapter.Type()] = adapter
}

func (m *ProviderManager) GetAdapter(providerType domain.ProviderType) (domain.ProviderAdapter, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	adapter, exists := m.adapters[providerType]

	return adapter, exists
}

// ExecutePrompt resolves the provider to an adapter and executes the prompt.
// Missing adapters and missing credentials are detected before any external
// call; adapter panics and errors come back as failed responses.
func (m *ProviderManager) ExecutePrompt(ctx context.Context, params domain.ExecutePromptParams) domain.LLMResponse {
	adapter, exists := m.GetAdapter(params.Provider.Type)
	if !exists {
		return m.failure(ctx, params.Provider.Type, fmt.Sprintf("no adapter registered for provider %q", params.Provider.Type))
	}

	credentials, err := m.ResolveCredentials(params.Provider)
	if err != nil {
		return m.failure(ctx, params.Provider.Type, err.Error())
	}

	request := domain.LLMRequest{
		Provider:     params.Provider,
		Credentials:  credentials,
		Prompt:       params.Prompt,
		SystemPrompt: params.SystemPrompt,
		Context:      params.Context,
	}

	response := m.executeSafely(ctx, adapter, request)

	if response.Success {
		m.notify(ctx, domain.ProviderEvent{
			Type:     domain.ProviderEventExecutionComplete,
			Provider: params.Provider.Type,
			Success:  true,
			Usage:    response.Usage,
		})
	} else {
		m.notify(ctx, domain.ProviderEvent{
			Type:     domain.ProviderEventExecutionError,
			Provider: params.Provider.Type,
			Success:  false,
			Error:    response.Error,
		})
	}

	return response
}

// ValidateCredentials checks credentials against the live backend. The call
// is side-effect-free; repeating it with the same input yields the same
// verdict absent backend-side changes.
func (m *ProviderManager) ValidateCredentials(ctx context.Context, providerType domain.ProviderType, credentials domain.Credentials) domain.ValidationResult {
	adapter, exists := m.GetAdapter(providerType)
	if !exists {
		return domain.ValidationResult{
			Valid: false,
			Error: fmt.Sprintf("no adapter registered for provider %q", providerType),
		}
	}

	return adapter.ValidateCredentials(ctx, credentials)
}

// ResolveCredentials normalizes credentials for a provider: node-level
// configuration wins, then manager-level configuration, then environment
// variables. Providers that require a key fail fast without one.
func (m *ProviderManager) ResolveCredentials(config domain.ProviderConfig) (domain.Credentials, error) {
	m.mutex.RLock()
	credentials := m.credentials[config.Type]
	m.mutex.RUnlock()

	if config.BaseURL != "" {
		credentials.BaseURL = config.BaseURL
	}

	if credentials.APIKey == "" {
		credentials.APIKey = os.Getenv(apiKeyEnvVar(config.Type))
	}

	if credentials.APIKey == "" && requiresAPIKey(config.Type) {
		return domain.Credentials{}, domain.NewConfigurationError("no credential supplied for provider %q", config.Type)
	}

	return credentials, nil
}

func (m *ProviderManager) executeSafely(ctx context.Context, adapter domain.ProviderAdapter, request domain.LLMRequest) (response domain.LLMResponse) {
	defer func() {
		if recovered := recover(); recovered != nil {
			m.logger.Error().
				Str("provider", string(adapter.Type())).
				Interface("panic", recovered).
				Msg("provider adapter panicked")

			response = domain.LLMResponse{
				Success: false,
				Error:   fmt.Sprintf("%s provider backend error: %v", adapter.Type(), recovered),
			}
		}
	}()

	return adapter.Execute(ctx, request)
}

func (m *ProviderManager) failure(ctx context.Context, providerType domain.ProviderType, message string) domain.LLMResponse {
	m.notify(ctx, domain.ProviderEvent{
		Type:     domain.ProviderEventExecutionError,
		Provider: providerType,
		Success:  false,
		Error:    message,
	})

	return domain.LLMResponse{
		Success: false,
		Error:   message,
	}
}

func (m *ProviderManager) notify(ctx context.Context, event domain.ProviderEvent) {
	if m.observer == nil {
		return
	}

	m.observer.HandleProviderEvent(ctx, event)
}

func apiKeyEnvVar(providerType domain.ProviderType) string {
	switch providerType {
	case domain.ProviderTypeOpenAI:
		return "OPENAI_API_KEY"
	case domain.ProviderTypeAnthropic:
		return "ANTHROPIC_API_KEY"
	case domain.ProviderTypeGemini:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// requiresAPIKey reports whether a provider refuses to run without a key.
// Local model servers and the CLI adapter authenticate out of band.
func requiresAPIKey(providerType domain.ProviderType) bool {
	switch providerType {
	case domain.ProviderTypeOllama, domain.ProviderTypeClaudeCLI:
		return false
	default:
		return true
	}
}
