package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/storyloom/storyloom/internal/config"
	"github.com/storyloom/storyloom/internal/runner"
	"github.com/storyloom/storyloom/pkg/domain"
	"github.com/storyloom/storyloom/pkg/providers"
	"github.com/storyloom/storyloom/pkg/providers/anthropic"
	"github.com/storyloom/storyloom/pkg/providers/claudecli"
	"github.com/storyloom/storyloom/pkg/providers/gemini"
	"github.com/storyloom/storyloom/pkg/providers/ollama"
	"github.com/storyloom/storyloom/pkg/providers/openai"
)

func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Run a workflow definition",
		Long: `Load a workflow definition (JSON or YAML), walk its graph and execute
every node until the workflow completes, fails, or pauses for user input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vars, _ := cmd.Flags().GetStringArray("var")
			projectFolder, _ := cmd.Flags().GetString("project-folder")
			userID, _ := cmd.Flags().GetString("user")
			includes, _ := cmd.Flags().GetStringArray("include")

			return runWorkflow(cmd.Context(), args[0], includes, vars, projectFolder, userID)
		},
	}

	cmd.Flags().StringArray("var", nil, "Initial variable as key=value (repeatable)")
	cmd.Flags().String("project-folder", "", "Project folder file operations are sandboxed to")
	cmd.Flags().String("user", "", "User ID recorded on the execution context")
	cmd.Flags().StringArray("include", nil, "Additional definition file available to sub-workflow nodes (repeatable)")

	return cmd
}

func runWorkflow(ctx context.Context, path string, includes, varFlags []string, projectFolder, userID string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if projectFolder == "" {
		projectFolder = cfg.ProjectFolder
	}

	workflow, err := loadDefinition(path)
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

	engine := runner.New(runner.Deps{
		Providers: manager,
		Logger:    log.Logger,
	})

	engine.RegisterWorkflow(workflow)

	for _, include := range includes {
		sub, err := loadDefinition(include)
		if err != nil {
			return err
		}

		engine.RegisterWorkflow(sub)
	}

	variables, err := parseVarFlags(varFlags)
	if err != nil {
		return err
	}

	if cfg.ExecutionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ExecutionTimeout)
		defer cancel()
	}

	log.Info().Str("workflow", workflow.Name).Str("workflow_id", workflow.ID).Msg("Starting workflow run")

	result, err := engine.Run(ctx, runner.RunParams{
		Workflow:      workflow,
		Variables:     variables,
		ProjectFolder: projectFolder,
		UserID:        userID,
	})
	if err != nil {
		return err
	}

	printRunResult(result)

	switch result.Status {
	case runner.RunStatusFailed:
		if result.Err != nil {
			return result.Err
		}

		return fmt.Errorf("workflow %s failed at node %s", workflow.ID, result.FailedNodeID)
	case runner.RunStatusWaiting:
		fmt.Printf("\n⏸  Workflow paused: node %s is waiting for user input\n", result.WaitingNodeID)
		fmt.Printf("Re-run with --var to supply it\n")
	}

	return nil
}

func printRunResult(result runner.RunResult) {
	fmt.Printf("\nExecution %s: %s\n", result.Context.ID, result.Status)

	for _, entry := range result.History {
		marker := "✅"
		if entry.Status == domain.NodeOutputStatusFailed {
			marker = "❌"
		}

		fmt.Printf("  %s %s (%s) at %s\n", marker, entry.NodeName, entry.NodeID, entry.Timestamp.Format(time.TimeOnly))
	}

	if result.Usage.TotalTokens > 0 {
		fmt.Printf("\nToken usage: %d prompt + %d completion = %d total\n",
			result.Usage.PromptTokens, result.Usage.CompletionTokens, result.Usage.TotalTokens)
	}
}

func loadDefinition(path string) (*domain.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	workflow, err := domain.ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return &workflow, nil
}

func parseVarFlags(flags []string) (map[string]any, error) {
	variables := map[string]any{}

	for _, flag := range flags {
		key, value, found := strings.Cut(flag, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --var %q, expected key=value", flag)
		}

		variables[key] = value
	}

	return variables, nil
}
