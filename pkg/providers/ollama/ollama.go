package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sashabaranov/go-openai"

	"github.com/storyloom/storyloom/pkg/domain"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.1"
)

// Adapter implements the provider contract for a local Ollama server. The
// native /api/generate surface is the default; servers fronting an
// OpenAI-compatible endpoint can be addressed through CompatibilityMode.
type Adapter struct {
	timeout           time.Duration
	compatibilityMode bool
	httpClient        *http.Client
}

type Config struct {
	// Timeout bounds one generation. Local models may run far longer than
	// cloud calls, so the default is generous.
	Timeout time.Duration

	// CompatibilityMode routes requests through the server's
	// OpenAI-compatible /v1 endpoint instead of the native API.
	CompatibilityMode bool
}

func New(config Config) *Adapter {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Minute
	}

	return &Adapter{
		timeout:           config.Timeout,
		compatibilityMode: config.CompatibilityMode,
		httpClient:        &http.Client{},
	}
}

func (a *Adapter) Type() domain.ProviderType {
	return domain.ProviderTypeOllama
}

func (a *Adapter) StreamSupport() bool {
	return true
}

func (a *Adapter) Execute(ctx context.Context, req domain.LLMRequest) domain.LLMResponse {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if a.compatibilityMode {
		return a.executeCompatible(ctx, req)
	}

	return a.executeNative(ctx, req)
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	Error           string `json:"error,omitempty"`
}

func (a *Adapter) executeNative(ctx context.Context, req domain.LLMRequest) domain.LLMResponse {
	model := req.Provider.Model
	if model == "" {
		model = defaultModel
	}

	body, err := json.Marshal(generateRequest{
		Model:  model,
		Prompt: req.Prompt,
		System: req.SystemPrompt,
		Stream: false,
	})
	if err != nil {
		return failure(a.Type(), domain.ProviderErrorBackend, "failed to encode request: %v", err)
	}

	url := strings.TrimSuffix(a.baseURL(req.Credentials), "/") + "/api/generate"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return failure(a.Type(), domain.ProviderErrorBackend, "failed to build request: %v", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		log.Debug().Err(err).Str("url", url).Msg("ollama call failed")

		return failure(a.Type(), domain.ProviderErrorNetwork, "local model server unreachable: %v", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(a.Type(), domain.ProviderErrorNetwork, "failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return failure(a.Type(), domain.ProviderErrorBackend, "local model server returned status %d: %s", resp.StatusCode, payload)
	}

	var generated generateResponse
	if err := json.Unmarshal(payload, &generated); err != nil {
		return failure(a.Type(), domain.ProviderErrorBackend, "failed to decode response: %v", err)
	}

	if generated.Error != "" {
		return failure(a.Type(), domain.ProviderErrorBackend, "%s", generated.Error)
	}

	return domain.LLMResponse{
		Success: true,
		Output:  generated.Response,
		Model:   generated.Model,
		Usage: &domain.TokenUsage{
			PromptTokens:     generated.PromptEvalCount,
			CompletionTokens: generated.EvalCount,
			TotalTokens:      generated.PromptEvalCount + generated.EvalCount,
		},
	}
}

func (a *Adapter) executeCompatible(ctx context.Context, req domain.LLMRequest) domain.LLMResponse {
	clientConfig := openai.DefaultConfig("")
	clientConfig.BaseURL = strings.TrimSuffix(a.baseURL(req.Credentials), "/") + "/v1"

	client := openai.NewClientWithConfig(clientConfig)

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

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return failure(a.Type(), domain.ProviderErrorNetwork, "local model server unreachable: %v", err)
	}

	if len(resp.Choices) == 0 {
		return failure(a.Type(), domain.ProviderErrorBackend, "empty response from local model server")
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

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// ValidateCredentials checks server reachability by listing installed
// models. Ollama needs no API key; a reachable server is a valid one.
func (a *Adapter) ValidateCredentials(ctx context.Context, creds domain.Credentials) domain.ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	url := strings.TrimSuffix(a.baseURL(creds), "/") + "/api/tags"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.ValidationResult{Valid: false, Error: err.Error()}
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return domain.ValidationResult{
			Valid: false,
			Error: fmt.Sprintf("local model server unreachable: %v", err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ValidationResult{
			Valid: false,
			Error: fmt.Sprintf("local model server returned status %d", resp.StatusCode),
		}
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return domain.ValidationResult{
			Valid: false,
			Error: fmt.Sprintf("failed to decode model list: %v", err),
		}
	}

	result := domain.ValidationResult{Valid: true}

	if len(tags.Models) > 0 {
		result.Model = tags.Models[0].Name
	}

	return result
}

func (a *Adapter) baseURL(creds domain.Credentials) string {
	if creds.BaseURL != "" {
		return creds.BaseURL
	}

	return defaultBaseURL
}

func failure(providerType domain.ProviderType, category domain.ProviderErrorCategory, format string, args ...any) domain.LLMResponse {
	providerErr := domain.NewProviderError(providerType, category, format, args...)

	return domain.LLMResponse{
		Success: false,
		Error:   providerErr.Error(),
	}
}
