package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/pkg/domain"
)

func NewStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show engine configuration status",
		Long:  `Display the loaded configuration: project folder, default provider and which providers have credentials configured.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus()
		},
	}

	return cmd
}

func runStatus() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Println("Storyloom engine configuration")
	fmt.Printf("   Default provider: %s\n", cfg.DefaultProvider)

	if cfg.ProjectFolder != "" {
		fmt.Printf("   Project folder: %s\n", cfg.ProjectFolder)
	} else {
		fmt.Println("   Project folder: (not set, file nodes need --project-folder)")
	}

	for _, providerType := range []domain.ProviderType{
		domain.ProviderTypeOpenAI,
		domain.ProviderTypeAnthropic,
		domain.ProviderTypeGemini,
		domain.ProviderTypeOllama,
		domain.ProviderTypeClaudeCLI,
	} {
		fmt.Printf("   %s: %s\n", providerType, credentialSource(cfg, providerType))
	}

	return nil
}

func credentialSource(cfg *config.Config, providerType domain.ProviderType) string {
	if settings, exists := cfg.Providers[string(providerType)]; exists {
		if settings.APIKey != "" || settings.BaseURL != "" || settings.Binary != "" {
			return "configured"
		}
	}

	switch providerType {
	case domain.ProviderTypeOpenAI:
		if os.Getenv("OPENAI_API_KEY") != "" {
			return "from environment"
		}
	case domain.ProviderTypeAnthropic:
		if os.Getenv("ANTHROPIC_API_KEY") != "" {
			return "from environment"
		}
	case domain.ProviderTypeGemini:
		if os.Getenv("GEMINI_API_KEY") != "" {
			return "from environment"
		}
	case domain.ProviderTypeOllama, domain.ProviderTypeClaudeCLI:
		// No API key needed, defaults apply.
		return "defaults"
	}

	return "not configured"
}
