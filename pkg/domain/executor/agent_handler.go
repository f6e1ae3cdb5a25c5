package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/storyloom/storyloom/pkg/domain"
)

// executeAgentNode handles the generative node kinds: agent, planning,
// writing and gate. The effective prompt is the node's static description
// plus whatever the binding mode injects.
func (e *WorkflowExecutor) executeAgentNode(ctx context.Context, node domain.WorkflowNode, spec domain.AgentSpec, execCtx *domain.ExecutionContext) NodeResult {
	if e.providers == nil {
		return failedResult(node, execCtx, domain.NewConfigurationError("no provider manager configured"))
	}

	prompt, err := e.buildPrompt(node, execCtx)
	if err != nil {
		return failedResult(node, execCtx, err)
	}

	systemPrompt := buildSystemPrompt(spec)

	log.Debug().
		Str("node_id", node.ID).
		Str("provider", string(spec.Provider.Type)).
		Msg("executing agent node")

	response := e.providers.ExecutePrompt(ctx, domain.ExecutePromptParams{
		Provider:     spec.Provider,
		Prompt:       prompt,
		SystemPrompt: systemPrompt,
	})

	if !response.Success {
		return failedResult(node, execCtx, domain.NewProviderError(
			spec.Provider.Type,
			domain.ProviderErrorBackend,
			"%s",
			response.Error,
		))
	}

	output := parseAgentOutput(response.Output)

	if spec.Gate {
		met, err := e.evaluateGateCondition(ctx, spec.GateCondition, output, execCtx)
		if err != nil {
			return failedResult(node, execCtx, err)
		}

		if !met {
			return failedResult(node, execCtx, &domain.GateConditionError{
				NodeID:    node.ID,
				Condition: spec.GateCondition,
				Output:    output,
			})
		}
	}

	now := time.Now()

	execCtx.SetNodeOutput(domain.NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Status:    domain.NodeOutputStatusSuccess,
		Output:    output,
		Timestamp: now,
	})

	e.usageCollector.Record(spec.Provider.Type, response.Usage)

	return NodeResult{
		NodeID: node.ID,
		Status: NodeStatusSuccess,
		Output: output,
	}
}

func (e *WorkflowExecutor) buildPrompt(node domain.WorkflowNode, execCtx *domain.ExecutionContext) (string, error) {
	var builder strings.Builder

	builder.WriteString(node.Description)

	switch node.ContextConfig.Mode {
	case domain.BindingModeAdvanced:
		// Only explicitly mapped inputs are visible to the node.
		mapped := map[string]any{}

		for _, mapping := range node.ContextConfig.Inputs {
			if value, exists := execCtx.Variables[mapping.Target]; exists {
				mapped[mapping.Target] = value
			}
		}

		if len(mapped) > 0 {
			serialized, err := json.MarshalIndent(mapped, "", "  ")
			if err != nil {
				return "", fmt.Errorf("failed to serialize mapped inputs: %w", err)
			}

			builder.WriteString("\n\n## Inputs\n")
			builder.Write(serialized)
		}
	default:
		ambient, err := e.binder.AmbientContext(execCtx)
		if err != nil {
			return "", err
		}

		builder.WriteString("\n\n## Context\n")
		builder.WriteString(ambient)
	}

	return builder.String(), nil
}

func buildSystemPrompt(spec domain.AgentSpec) string {
	if spec.Agent == "" {
		return ""
	}

	systemPrompt := fmt.Sprintf("You are the %s agent.", spec.Agent)

	if spec.Skill != "" {
		systemPrompt += fmt.Sprintf(" Apply your %s skill.", spec.Skill)
	}

	return systemPrompt
}

// evaluateGateCondition runs the gate predicate over the node's own output.
// Structured outputs expose their fields directly in the predicate scope, so
// "score >= 80" works against an output of {"score": 85}.
func (e *WorkflowExecutor) evaluateGateCondition(ctx context.Context, condition string, output any, execCtx *domain.ExecutionContext) (bool, error) {
	scope := map[string]any{
		"output":    output,
		"variables": execCtx.Variables,
	}

	if fields, ok := output.(map[string]any); ok {
		for name, value := range fields {
			if _, taken := scope[name]; !taken {
				scope[name] = value
			}
		}
	}

	return e.conditions.EvaluateBool(ctx, condition, scope)
}

// parseAgentOutput decodes JSON outputs into structured values so gate
// predicates and output mappings can address fields; everything else stays
// raw text.
func parseAgentOutput(output string) any {
	trimmed := strings.TrimSpace(output)

	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var structured any
		if err := json.Unmarshal([]byte(trimmed), &structured); err == nil {
			return structured
		}
	}

	return output
}
