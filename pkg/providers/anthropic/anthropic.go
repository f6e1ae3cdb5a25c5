package anthropic

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rs/zerolog/log"

	"github.com/storyloom/storyloom/pkg/domain"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
)

// Adapter implements the provider contract for the Anthropic Messages API.
type Adapter struct {
	timeout time.Duration
}

type Config struct {
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
	return domain.ProviderTypeAnthropic
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

	maxTokens := req.Provider.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	msgReq := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}

	if req.SystemPrompt != "" {
		msgReq.System = []anthropic.TextBlockParam{
			{Text: req.SystemPrompt},
		}
	}

	if req.Provider.Temperature > 0 {
		msgReq.Temperature = anthropic.Float(float64(req.Provider.Temperature))
	}

	message, err := client.Messages.New(ctx, msgReq)
	if err != nil {
		providerErr := categorize(a.Type(), err)

		log.Debug().Err(err).Str("provider", string(a.Type())).Msg("anthropic call failed")

		return domain.LLMResponse{
			Success: false,
			Error:   providerErr.Error(),
		}
	}

	output := ""

	for _, block := range message.Content {
		if block.Type == "text" {
			output += block.Text
		}
	}

	return domain.LLMResponse{
		Success: true,
		Output:  output,
		Model:   string(message.Model),
		Usage: &domain.TokenUsage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}
}

func (a *Adapter) ValidateCredentials(ctx context.Context, creds domain.Credentials) domain.ValidationResult {
	client := a.newClient(creds)

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	models, err := client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		providerErr := categorize(a.Type(), err)

		return domain.ValidationResult{
			Valid: false,
			Error: providerErr.Error(),
		}
	}

	result := domain.ValidationResult{Valid: true}

	if len(models.Data) > 0 {
		result.Model = string(models.Data[0].ID)
	}

	return result
}

func (a *Adapter) newClient(creds domain.Credentials) anthropic.Client {
	opts := []option.RequestOption{option.WithAPIKey(creds.APIKey)}

	if creds.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(creds.BaseURL))
	}

	return anthropic.NewClient(opts...)
}

func categorize(providerType domain.ProviderType, err error) *domain.ProviderError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return domain.NewProviderError(providerType, domain.ProviderErrorAuthentication, "invalid or missing API key")
		case apiErr.StatusCode == 429:
			return domain.NewProviderError(providerType, domain.ProviderErrorRateLimit, "rate limit exceeded")
		case apiErr.StatusCode >= 500:
			return domain.NewProviderError(providerType, domain.ProviderErrorBackend, "backend fault: %v", err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return domain.NewProviderError(providerType, domain.ProviderErrorNetwork, "backend unreachable: %v", err)
	}

	return domain.NewProviderError(providerType, domain.ProviderErrorBackend, "%v", err)
}
