package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/storyloom/storyloom/pkg/domain"
)

// executeSubWorkflowNode resolves the declared input mappings into a child
// variable set and hands the nested run to the caller-supplied runner. The
// runner owns traversal of the nested graph; this handler only moves data
// across the boundary.
func (e *WorkflowExecutor) executeSubWorkflowNode(ctx context.Context, node domain.WorkflowNode, spec domain.SubWorkflowSpec, execCtx *domain.ExecutionContext) NodeResult {
	if e.subWorkflows == nil {
		return failedResult(node, execCtx, domain.NewConfigurationError("node %s needs a sub-workflow runner but none is configured", node.ID))
	}

	childVariables := map[string]any{}

	if len(spec.InputMappings) > 0 {
		view, err := e.binder.Resolver().BuildContextView(execCtx)
		if err != nil {
			return failedResult(node, execCtx, err)
		}

		for _, mapping := range spec.InputMappings {
			value, err := e.binder.Resolver().Resolve(view, mapping.Source)
			if err != nil {
				return failedResult(node, execCtx, err)
			}

			childVariables[mapping.Target] = value
		}
	}

	result, err := e.subWorkflows.RunSubWorkflow(ctx, domain.RunSubWorkflowParams{
		WorkflowID:    spec.WorkflowID,
		Variables:     childVariables,
		ProjectFolder: execCtx.ProjectFolder,
		UserID:        execCtx.UserID,
	})
	if err != nil {
		return failedResult(node, execCtx, fmt.Errorf("sub-workflow %s failed: %w", spec.WorkflowID, err))
	}

	if err := e.binder.ApplyOutputMappings(execCtx, result.Output, spec.OutputMappings); err != nil {
		return failedResult(node, execCtx, err)
	}

	execCtx.SetNodeOutput(domain.NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Status:    domain.NodeOutputStatusSuccess,
		Output:    result.Output,
		Timestamp: time.Now(),
	})

	return NodeResult{
		NodeID: node.ID,
		Status: NodeStatusSuccess,
		Output: result.Output,
	}
}
