package executor

import (
	"context"
	"time"

	"github.com/storyloom/storyloom/pkg/domain"
	"github.com/storyloom/storyloom/pkg/expressions"
)

// executeConditionalNode evaluates the node's condition over the run state
// and records the verdict in variables.conditionResult. The node itself
// always succeeds; only an expression that fails to resolve is an error,
// and that is a configuration problem, not a runtime one.
func (e *WorkflowExecutor) executeConditionalNode(ctx context.Context, node domain.WorkflowNode, spec domain.ConditionalSpec, execCtx *domain.ExecutionContext) NodeResult {
	scope, err := e.conditionScope(execCtx)
	if err != nil {
		return failedResult(node, execCtx, err)
	}

	verdict, err := e.conditions.EvaluateBool(ctx, spec.Condition, scope)
	if err != nil {
		return failedResult(node, execCtx, err)
	}

	execCtx.Variables[domain.VariableConditionResult] = verdict

	execCtx.SetNodeOutput(domain.NodeOutput{
		NodeID:   node.ID,
		NodeName: node.Name,
		Status:   domain.NodeOutputStatusSuccess,
		Output: map[string]any{
			"condition": spec.Condition,
			"result":    verdict,
		},
		Timestamp: time.Now(),
	})

	return NodeResult{
		NodeID:          node.ID,
		Status:          NodeStatusSuccess,
		Output:          verdict,
		ConditionResult: &verdict,
	}
}

// conditionScope exposes variables both under the "variables" key and at the
// top level, together with completed node outputs, so conditions can say
// either "variables.draftReady" or just "draftReady".
func (e *WorkflowExecutor) conditionScope(execCtx *domain.ExecutionContext) (map[string]any, error) {
	view, err := e.binder.Resolver().BuildContextView(execCtx)
	if err != nil {
		return nil, err
	}

	scope, err := expressions.ScopeFromView(view)
	if err != nil {
		return nil, err
	}

	for name, value := range execCtx.Variables {
		if _, taken := scope[name]; !taken {
			scope[name] = value
		}
	}

	return scope, nil
}
