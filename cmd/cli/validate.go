package cli

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/pkg/domain"
	"github.com/storyloom/storyloom/pkg/providers"
	"github.com/storyloom/storyloom/pkg/providers/anthropic"
	"github.com/storyloom/storyloom/pkg/providers/claudecli"
	"github.com/storyloom/storyloom/pkg/providers/gemini"
	"github.com/storyloom/storyloom/pkg/providers/ollama"
	"github.com/storyloom/storyloom/pkg/providers/openai"
)

func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Validate a workflow definition",
		Long: `Check a workflow definition against the schema and its structural
invariants. With --providers, also verify credentials for every provider the
workflow's agent nodes reference.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			checkProviders, _ := cmd.Flags().GetBool("providers")

			return validateWorkflow(cmd.Context(), args[0], checkProviders)
		},
	}

	cmd.Flags().Bool("providers", false, "Also validate credentials for referenced providers")

	return cmd
}

func validateWorkflow(ctx context.Context, path string, checkProviders bool) error {
	workflow, err := loadDefinition(path)
	if err != nil {
		return err
	}

	fmt.Printf("✅ %s is valid (%d nodes, %d edges)\n", path, len(workflow.Nodes), len(workflow.Edges))

	if !checkProviders {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	manager := providers.NewProviderManager(providers.ProviderManagerDeps{
		Credentials: cfg.ProviderCredentials(),
		Logger:      log.Logger,
	})

	manager.Register(openai.New(openai.Config{}))
	manager.Register(anthropic.New(anthropic.Config{}))
	manager.Register(gemini.New(gemini.Config{}))
	manager.Register(ollama.New(ollama.Config{}))
	manager.Register(claudecli.New(claudecli.Config{}))

	failed := false

	for _, providerConfig := range referencedProviders(workflow) {
		credentials, err := manager.ResolveCredentials(providerConfig)
		if err != nil {
			fmt.Printf("❌ %s: %v\n", providerConfig.Type, err)

			failed = true

			continue
		}

		result := manager.ValidateCredentials(ctx, providerConfig.Type, credentials)
		if !result.Valid {
			fmt.Printf("❌ %s: %s\n", providerConfig.Type, result.Error)

			failed = true

			continue
		}

		if result.Model != "" {
			fmt.Printf("✅ %s (%s)\n", providerConfig.Type, result.Model)
		} else {
			fmt.Printf("✅ %s\n", providerConfig.Type)
		}
	}

	if failed {
		return fmt.Errorf("credential validation failed")
	}

	return nil
}

// referencedProviders collects each distinct provider used by the workflow's
// agent nodes, first occurrence wins.
func referencedProviders(workflow *domain.WorkflowDefinition) []domain.ProviderConfig {
	seen := map[domain.ProviderType]struct{}{}

	var configs []domain.ProviderConfig

	for _, node := range workflow.Nodes {
		spec, ok := node.Spec.(domain.AgentSpec)
		if !ok {
			continue
		}

		if _, exists := seen[spec.Provider.Type]; exists {
			continue
		}

		seen[spec.Provider.Type] = struct{}{}
		configs = append(configs, spec.Provider)
	}

	return configs
}
