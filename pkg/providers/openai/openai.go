package openai

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/storyloom/storyloom/pkg/domain"
)

const defaultModel = "gpt-4o"

// Adapter implements the provider contract for OpenAI chat completions.
type Adapter struct {
	timeout time.Duration
}

type Config struct {
	// Timeout bounds a single completion call. Cloud calls are expected to
	// finish within minutes.
	Timeout time.Duration
}

func New(config Config) *Adapter {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Minute
	}

	return &Adapter{
		timeout: config.Timeout,
	}
}

func (a *Adapter) Type() domain.ProviderType {
	return domain.ProviderTypeOpenAI
}

func (a *Adapter) StreamSupport() bool {
	return true
}

func (a *Adapter) Execute(ctx context.Context, req domain.LLMRequest) domain.LLMResponse {
	client := a.newClient(req.Credentials)

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	model := req.Provider.Model
	if model == "" {
		model = defaultModel
	}

	messages := []openai.ChatCompletionMessage{}

	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}

	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Provider.Temperature,
	}

	if req.Provider.MaxTokens > 0 {
		chatReq.MaxTokens = req.Provider.MaxTokens
	}

	resp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return errorResponse(a.Type(), err)
	}

	if len(resp.Choices) == 0 {
		return domain.LLMResponse{
			Success: false,
			Error:   domain.NewProviderError(a.Type(), domain.ProviderErrorBackend, "empty response from backend").Error(),
		}
	}

	return domain.LLMResponse{
		Success: true,
		Output:  resp.Choices[0].Message.Content,
		Model:   resp.Model,
		Usage: &domain.TokenUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
}

func (a *Adapter) ValidateCredentials(ctx context.Context, creds domain.Credentials) domain.ValidationResult {
	client := a.newClient(creds)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	models, err := client.ListModels(ctx)
	if err != nil {
		providerErr := categorize(a.Type(), err)

		return domain.ValidationResult{
			Valid: false,
			Error: providerErr.Error(),
		}
	}

	result := domain.ValidationResult{Valid: true}

	if len(models.Models) > 0 {
		result.Model = models.Models[0].ID
	}

	return result
}

func (a *Adapter) newClient(creds domain.Credentials) *openai.Client {
	clientConfig := openai.DefaultConfig(creds.APIKey)

	if creds.BaseURL != "" {
		clientConfig.BaseURL = creds.BaseURL
	}

	return openai.NewClientWithConfig(clientConfig)
}

func errorResponse(providerType domain.ProviderType, err error) domain.LLMResponse {
	providerErr := categorize(providerType, err)

	log.Debug().Err(err).Str("provider", string(providerType)).Msg("openai call failed")

	return domain.LLMResponse{
		Success: false,
		Error:   providerErr.Error(),
	}
}

// categorize maps backend-specific failures onto the engine's error
// taxonomy instead of surfacing raw transport errors.
func categorize(providerType domain.ProviderType, err error) *domain.ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 401 || apiErr.HTTPStatusCode == 403:
			return domain.NewProviderError(providerType, domain.ProviderErrorAuthentication, "invalid or missing API key")
		case apiErr.HTTPStatusCode == 429:
			return domain.NewProviderError(providerType, domain.ProviderErrorRateLimit, "rate limit exceeded")
		case apiErr.HTTPStatusCode >= 500:
			return domain.NewProviderError(providerType, domain.ProviderErrorBackend, "backend fault: %v", apiErr.Message)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.NewProviderError(providerType, domain.ProviderErrorNetwork, "backend unreachable: %v", err)
	}

	return domain.NewProviderError(providerType, domain.ProviderErrorBackend, "%v", err)
}
