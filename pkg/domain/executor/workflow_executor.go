package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/storyloom/storyloom/pkg/domain"
	"github.com/storyloom/storyloom/pkg/expressions"
)

type NodeStatus string

const (
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusFailed  NodeStatus = "failed"
	NodeStatusWaiting NodeStatus = "waiting"
)

// NodeResult is the structured outcome of executing one node. Ordinary
// failure modes (provider faults, gate misses, loop limits, sandbox
// violations, configuration gaps) surface here as data; Execute returns a
// non-nil error only for malformed input it cannot turn into a result.
type NodeResult struct {
	NodeID          string         `json:"node_id"`
	Status          NodeStatus     `json:"status"`
	Output          any            `json:"output,omitempty"`
	Variables       map[string]any `json:"variables,omitempty"`
	ConditionResult *bool          `json:"condition_result,omitempty"`
	Error           string         `json:"error,omitempty"`

	// Failure carries the typed error behind Error for errors.Is checks.
	Failure error `json:"-"`
}

func (r NodeResult) Failed() bool {
	return r.Status == NodeStatusFailed
}

// WorkflowExecutor executes exactly one node per invocation and reports the
// outcome back to the caller. Graph traversal is the caller's job; the
// executor never reads edges and never retries.
type WorkflowExecutor struct {
	providers    domain.PromptExecutor
	subWorkflows domain.SubWorkflowRunner

	binder     *expressions.Binder
	conditions *expressions.ConditionEvaluator

	observer        *domain.ExecutionObserver
	historyRecorder *HistoryRecorder
	usageCollector  *UsageCollector

	logger zerolog.Logger
}

type WorkflowExecutorDeps struct {
	Providers         domain.PromptExecutor
	SubWorkflowRunner domain.SubWorkflowRunner
	Logger            zerolog.Logger
}

func NewWorkflowExecutor(deps WorkflowExecutorDeps) *WorkflowExecutor {
	observer := domain.NewExecutionObserver()

	historyRecorder := NewHistoryRecorder()
	usageCollector := NewUsageCollector()

	observer.Subscribe(historyRecorder)

	return &WorkflowExecutor{
		providers:       deps.Providers,
		subWorkflows:    deps.SubWorkflowRunner,
		binder:          expressions.NewBinder(expressions.BinderOptions{Logger: deps.Logger}),
		conditions:      expressions.NewConditionEvaluator(expressions.ConditionEvaluatorOptions{Logger: deps.Logger}),
		observer:        observer,
		historyRecorder: historyRecorder,
		usageCollector:  usageCollector,
		logger:          deps.Logger,
	}
}

// Observer exposes the run's execution observer so hosts can subscribe
// additional handlers before the first node executes.
func (e *WorkflowExecutor) Observer() *domain.ExecutionObserver {
	return e.observer
}

func (e *WorkflowExecutor) History() []domain.NodeOutput {
	return e.historyRecorder.Entries()
}

func (e *WorkflowExecutor) Usage() domain.TokenUsage {
	return e.usageCollector.Total()
}

// Execute runs a single node against the run's execution context. The
// context is mutated in place; the returned result carries a copy of the
// variable delta for the caller's convenience.
func (e *WorkflowExecutor) Execute(ctx context.Context, node domain.WorkflowNode, execCtx *domain.ExecutionContext) (NodeResult, error) {
	if node.Spec == nil {
		return NodeResult{}, domain.NewConfigurationError("node %s has no kind-specific configuration", node.ID)
	}

	execCtx.CurrentNodeID = node.ID

	startedAt := time.Now()

	e.notify(ctx, domain.NodeExecutionStartedEvent{
		ExecutionID: execCtx.ID,
		NodeID:      node.ID,
		NodeType:    node.Type,
		Timestamp:   startedAt,
	})

	before := snapshotVariables(execCtx.Variables)

	result := e.executeNode(ctx, node, execCtx)
	result.NodeID = node.ID
	result.Variables = variableDelta(before, execCtx.Variables)

	endedAt := time.Now()

	switch result.Status {
	case NodeStatusFailed:
		e.notify(ctx, domain.NodeExecutionFailedEvent{
			ExecutionID: execCtx.ID,
			NodeID:      node.ID,
			NodeType:    node.Type,
			Error:       result.Failure,
			Timestamp:   endedAt,
		})
	case NodeStatusWaiting:
		// The node has not run; the host re-invokes it after collecting the
		// awaited input. No completion event until then.
	default:
		output := domain.NodeOutput{
			NodeID:    node.ID,
			NodeName:  node.Name,
			Status:    domain.NodeOutputStatusSuccess,
			Output:    result.Output,
			Timestamp: endedAt,
		}

		// Reuse the recorded output only when it reflects a success; a stale
		// pending or failed entry must not masquerade as this completion.
		if existing, exists := execCtx.NodeOutputs[node.ID]; exists && existing.Status == domain.NodeOutputStatusSuccess {
			output = existing
		}

		e.notify(ctx, domain.NodeExecutionCompletedEvent{
			ExecutionID: execCtx.ID,
			NodeID:      node.ID,
			NodeType:    node.Type,
			Output:      output,
			StartedAt:   startedAt,
			EndedAt:     endedAt,
		})
	}

	return result, nil
}

func (e *WorkflowExecutor) executeNode(ctx context.Context, node domain.WorkflowNode, execCtx *domain.ExecutionContext) NodeResult {
	// Advanced-mode input mappings resolve before the handler sees the node.
	if node.ContextConfig.Mode == domain.BindingModeAdvanced {
		if err := e.binder.ApplyInputMappings(execCtx, node.ContextConfig.Inputs); err != nil {
			return failedResult(node, execCtx, err)
		}
	}

	var result NodeResult

	switch spec := node.Spec.(type) {
	case domain.AgentSpec:
		result = e.executeAgentNode(ctx, node, spec, execCtx)
	case domain.ConditionalSpec:
		result = e.executeConditionalNode(ctx, node, spec, execCtx)
	case domain.LoopSpec:
		result = e.executeLoopNode(ctx, node, spec, execCtx)
	case domain.FileSpec:
		result = e.executeFileNode(ctx, node, spec, execCtx)
	case domain.UserInputSpec:
		result = e.executeUserInputNode(node, spec, execCtx)
	case domain.SubWorkflowSpec:
		result = e.executeSubWorkflowNode(ctx, node, spec, execCtx)
	default:
		result = failedResult(node, execCtx, domain.NewConfigurationError("no handler for node type %q", node.Type))
	}

	if result.Status == NodeStatusSuccess && node.ContextConfig.Mode == domain.BindingModeAdvanced {
		if err := e.binder.ApplyOutputMappings(execCtx, result.Output, node.ContextConfig.Outputs); err != nil {
			return failedResult(node, execCtx, err)
		}
	}

	if result.Status == NodeStatusSuccess {
		execCtx.MarkCompleted(node.ID)
	}

	return result
}

func (e *WorkflowExecutor) notify(ctx context.Context, event domain.ExecutionEvent) {
	if err := e.observer.Notify(ctx, event); err != nil {
		log.Error().Err(err).Str("event_type", string(event.GetEventType())).Msg("executor: failed to notify execution event")
	}
}

// failedResult records a failed NodeOutput and wraps the error as data.
func failedResult(node domain.WorkflowNode, execCtx *domain.ExecutionContext, err error) NodeResult {
	execCtx.SetNodeOutput(domain.NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Status:    domain.NodeOutputStatusFailed,
		Output:    err.Error(),
		Timestamp: time.Now(),
	})

	return NodeResult{
		NodeID:  node.ID,
		Status:  NodeStatusFailed,
		Error:   err.Error(),
		Failure: err,
	}
}

func snapshotVariables(variables map[string]any) map[string]any {
	snapshot := make(map[string]any, len(variables))

	for key, value := range variables {
		snapshot[key] = value
	}

	return snapshot
}

// variableDelta returns the variables added or replaced since the snapshot.
// Values are compared by identity of the stored reference, which is enough
// because handlers assign fresh values rather than mutating in place.
func variableDelta(before, after map[string]any) map[string]any {
	delta := map[string]any{}

	for key, value := range after {
		previous, existed := before[key]
		if !existed || !shallowEqual(previous, value) {
			delta[key] = value
		}
	}

	return delta
}

func shallowEqual(a, b any) bool {
	switch a.(type) {
	case string, bool, int, int64, float32, float64, nil:
		return a == b
	default:
		return false
	}
}
