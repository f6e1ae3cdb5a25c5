package executor

import (
	"time"

	"github.com/storyloom/storyloom/pkg/domain"
)

// UserInputRequest is recorded as the pending output of a user-input node so
// the host knows what to ask for before resuming the run.
type UserInputRequest struct {
	Prompt    string `json:"prompt"`
	InputType string `json:"input_type,omitempty"`
	Variable  string `json:"variable"`
}

// executeUserInputNode resolves immediately when the awaited variable is
// already present (pre-supplied by the host or filled in before re-entry).
// Otherwise it parks a pending output and reports waiting status; the engine
// itself never blocks on a human.
func (e *WorkflowExecutor) executeUserInputNode(node domain.WorkflowNode, spec domain.UserInputSpec, execCtx *domain.ExecutionContext) NodeResult {
	if value, exists := execCtx.Variables[spec.Variable]; exists {
		execCtx.SetNodeOutput(domain.NodeOutput{
			NodeID:    node.ID,
			NodeName:  node.Name,
			Status:    domain.NodeOutputStatusSuccess,
			Output:    value,
			Timestamp: time.Now(),
		})

		return NodeResult{
			NodeID: node.ID,
			Status: NodeStatusSuccess,
			Output: value,
		}
	}

	if spec.DefaultValue != nil {
		execCtx.Variables[spec.Variable] = spec.DefaultValue

		execCtx.SetNodeOutput(domain.NodeOutput{
			NodeID:    node.ID,
			NodeName:  node.Name,
			Status:    domain.NodeOutputStatusSuccess,
			Output:    spec.DefaultValue,
			Timestamp: time.Now(),
		})

		return NodeResult{
			NodeID: node.ID,
			Status: NodeStatusSuccess,
			Output: spec.DefaultValue,
		}
	}

	request := UserInputRequest{
		Prompt:    spec.Prompt,
		InputType: spec.InputType,
		Variable:  spec.Variable,
	}

	execCtx.SetNodeOutput(domain.NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Status:    domain.NodeOutputStatusPending,
		Output:    request,
		Timestamp: time.Now(),
	})

	return NodeResult{
		NodeID: node.ID,
		Status: NodeStatusWaiting,
		Output: request,
	}
}
