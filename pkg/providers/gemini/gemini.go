package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/storyloom/storyloom/pkg/domain"
)

const defaultModel = "gemini-2.0-flash"

// Adapter implements the provider contract for the Gemini API.
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
	return domain.ProviderTypeGemini
}

func (a *Adapter) StreamSupport() bool {
	return true
}

func (a *Adapter) Execute(ctx context.Context, req domain.LLMRequest) domain.LLMResponse {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  req.Credentials.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return domain.LLMResponse{
			Success: false,
			Error:   domain.NewProviderError(a.Type(), domain.ProviderErrorBackend, "failed to create client: %v", err).Error(),
		}
	}

	model := req.Provider.Model
	if model == "" {
		model = defaultModel
	}

	config := &genai.GenerateContentConfig{}

	if req.Provider.Temperature > 0 {
		config.Temperature = genai.Ptr(req.Provider.Temperature)
	}

	if req.Provider.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.Provider.MaxTokens)
	}

	if req.SystemPrompt != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(req.SystemPrompt)},
		}
	}

	contents := []*genai.Content{
		genai.NewContentFromText(req.Prompt, genai.RoleUser),
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		providerErr := categorize(a.Type(), err)

		log.Debug().Err(err).Str("provider", string(a.Type())).Msg("gemini call failed")

		return domain.LLMResponse{
			Success: false,
			Error:   providerErr.Error(),
		}
	}

	if len(resp.Candidates) == 0 {
		return domain.LLMResponse{
			Success: false,
			Error:   domain.NewProviderError(a.Type(), domain.ProviderErrorBackend, "backend returned no candidates").Error(),
		}
	}

	output := ""

	if content := resp.Candidates[0].Content; content != nil {
		for _, part := range content.Parts {
			output += part.Text
		}
	}

	response := domain.LLMResponse{
		Success: true,
		Output:  output,
		Model:   model,
	}

	if resp.UsageMetadata != nil {
		response.Usage = &domain.TokenUsage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return response
}

// ValidateCredentials issues a minimal one-token generation. The call is
// stateless on the backend, so repeating it returns the same verdict.
func (a *Adapter) ValidateCredentials(ctx context.Context, creds domain.Credentials) domain.ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  creds.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return domain.ValidationResult{
			Valid: false,
			Error: fmt.Sprintf("failed to create client: %v", err),
		}
	}

	contents := []*genai.Content{
		genai.NewContentFromText("ping", genai.RoleUser),
	}

	_, err = client.Models.GenerateContent(ctx, defaultModel, contents, &genai.GenerateContentConfig{
		MaxOutputTokens: 1,
	})
	if err != nil {
		providerErr := categorize(a.Type(), err)

		return domain.ValidationResult{
			Valid: false,
			Error: providerErr.Error(),
		}
	}

	return domain.ValidationResult{
		Valid: true,
		Model: defaultModel,
	}
}

func categorize(providerType domain.ProviderType, err error) *domain.ProviderError {
	message := err.Error()

	switch {
	case strings.Contains(message, "API key") || strings.Contains(message, "401") || strings.Contains(message, "PERMISSION_DENIED"):
		return domain.NewProviderError(providerType, domain.ProviderErrorAuthentication, "invalid or missing API key")
	case strings.Contains(message, "429") || strings.Contains(message, "RESOURCE_EXHAUSTED"):
		return domain.NewProviderError(providerType, domain.ProviderErrorRateLimit, "rate limit exceeded")
	case strings.Contains(message, "connection") || strings.Contains(message, "no such host"):
		return domain.NewProviderError(providerType, domain.ProviderErrorNetwork, "backend unreachable: %v", err)
	default:
		return domain.NewProviderError(providerType, domain.ProviderErrorBackend, "%v", err)
	}
}
