package claudecli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/storyloom/storyloom/pkg/domain"
)

const defaultBinary = "claude"

// Adapter shells out to a local CLI for generation. The subprocess inherits
// the call's context, so cancelling an execution kills the child process.
type Adapter struct {
	timeout time.Duration
}

type Config struct {
	Timeout time.Duration
}

func New(config Config) *Adapter {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Minute
	}

	return &Adapter{timeout: config.Timeout}
}

func (a *Adapter) Type() domain.ProviderType {
	return domain.ProviderTypeClaudeCLI
}

func (a *Adapter) StreamSupport() bool {
	return false
}

func (a *Adapter) Execute(ctx context.Context, req domain.LLMRequest) domain.LLMResponse {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	binary := a.binary(req.Credentials)

	args := []string{"-p"}

	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}

	if req.Provider.Model != "" {
		args = append(args, "--model", req.Provider.Model)
	}

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("binary", binary).Str("model", req.Provider.Model).Msg("invoking cli subprocess")

	if err := cmd.Run(); err != nil {
		return failure(a.Type(), categorize(ctx, err, stderr.String()),
			"cli execution failed: %v: %s", err, strings.TrimSpace(stderr.String()))
	}

	output := strings.TrimSpace(stdout.String())
	if output == "" {
		return failure(a.Type(), domain.ProviderErrorBackend, "cli produced no output: %s", strings.TrimSpace(stderr.String()))
	}

	// The CLI reports no token accounting, so usage stays nil.
	return domain.LLMResponse{
		Success: true,
		Output:  output,
		Model:   req.Provider.Model,
	}
}

// ValidateCredentials checks that the binary exists on PATH and answers
// --version. There is no API key; the binary's own login state is the
// credential.
func (a *Adapter) ValidateCredentials(ctx context.Context, creds domain.Credentials) domain.ValidationResult {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	binary := defaultBinary
	if creds.Binary != "" {
		binary = creds.Binary
	}

	if _, err := exec.LookPath(binary); err != nil {
		return domain.ValidationResult{
			Valid: false,
			Error: fmt.Sprintf("binary %q not found on PATH", binary),
		}
	}

	out, err := exec.CommandContext(ctx, binary, "--version").CombinedOutput()
	if err != nil {
		return domain.ValidationResult{
			Valid: false,
			Error: fmt.Sprintf("%s --version failed: %v", binary, err),
		}
	}

	return domain.ValidationResult{
		Valid: true,
		Model: strings.TrimSpace(string(out)),
	}
}

func (a *Adapter) binary(creds domain.Credentials) string {
	if creds.Binary != "" {
		return creds.Binary
	}

	return defaultBinary
}

func categorize(ctx context.Context, err error, stderr string) domain.ProviderErrorCategory {
	if ctx.Err() != nil {
		return domain.ProviderErrorNetwork
	}

	var execErr *exec.Error
	if errors.As(err, &execErr) {
		// Binary missing or not executable.
		return domain.ProviderErrorAuthentication
	}

	lower := strings.ToLower(stderr)

	switch {
	case strings.Contains(lower, "not logged in"), strings.Contains(lower, "authentication"), strings.Contains(lower, "api key"):
		return domain.ProviderErrorAuthentication
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "overloaded"):
		return domain.ProviderErrorRateLimit
	default:
		return domain.ProviderErrorBackend
	}
}

func failure(providerType domain.ProviderType, category domain.ProviderErrorCategory, format string, args ...any) domain.LLMResponse {
	providerErr := domain.NewProviderError(providerType, category, format, args...)

	return domain.LLMResponse{
		Success: false,
		Error:   providerErr.Error(),
	}
}
