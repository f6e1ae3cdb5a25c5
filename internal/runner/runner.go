package runner

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/storyloom/storyloom/pkg/domain"
	"github.com/storyloom/storyloom/pkg/domain/executor"
)

const (
	defaultMaxSteps    = 1000
	defaultGateRetries = 3
)

type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusWaiting   RunStatus = "waiting"
)

// Runner walks a workflow graph edge by edge, delegating each node to the
// executor. It owns the traversal policy the executor deliberately does not
// have: start-node selection, branch choice after conditionals, loop-back
// retries after gate misses, and the overall step cap.
type Runner struct {
	providers domain.PromptExecutor
	workflows map[string]*domain.WorkflowDefinition

	maxSteps    int
	gateRetries int
	logger      zerolog.Logger
}

type Deps struct {
	Providers domain.PromptExecutor
	Logger    zerolog.Logger

	// MaxSteps caps node executions per traversal, retries included.
	// Zero means the default.
	MaxSteps int

	// GateRetries bounds how often a loop-back edge is followed after a gate
	// condition fails. Zero means the default.
	GateRetries int
}

func New(deps Deps) *Runner {
	r := &Runner{
		providers:   deps.Providers,
		workflows:   map[string]*domain.WorkflowDefinition{},
		maxSteps:    deps.MaxSteps,
		gateRetries: deps.GateRetries,
		logger:      deps.Logger,
	}

	if r.maxSteps == 0 {
		r.maxSteps = defaultMaxSteps
	}

	if r.gateRetries == 0 {
		r.gateRetries = defaultGateRetries
	}

	return r
}

// newExecutor builds the executor for a single traversal. Every run gets its
// own history and usage state; nothing carries over between runs or between
// a parent and its sub-workflows.
func (r *Runner) newExecutor() *executor.WorkflowExecutor {
	return executor.NewWorkflowExecutor(executor.WorkflowExecutorDeps{
		Providers:         r.providers,
		SubWorkflowRunner: r,
		Logger:            r.logger,
	})
}

// RegisterWorkflow makes a definition addressable by sub-workflow nodes.
func (r *Runner) RegisterWorkflow(def *domain.WorkflowDefinition) {
	r.workflows[def.ID] = def
}

type RunParams struct {
	Workflow      *domain.WorkflowDefinition
	Variables     map[string]any
	ProjectFolder string
	UserID        string
}

type RunResult struct {
	Status        RunStatus
	Context       *domain.ExecutionContext
	History       []domain.NodeOutput
	Usage         domain.TokenUsage
	WaitingNodeID string
	FailedNodeID  string
	Err           error
}

// Run executes a workflow from its start node until the graph is exhausted,
// a node fails without a loop-back retry, or a node starts waiting for user
// input. The workflow must already be structurally valid.
func (r *Runner) Run(ctx context.Context, params RunParams) (RunResult, error) {
	workflow := params.Workflow
	if workflow == nil {
		return RunResult{}, domain.NewConfigurationError("no workflow to run")
	}

	if err := workflow.Validate(); err != nil {
		return RunResult{}, err
	}

	execCtx := domain.NewExecutionContext(domain.NewExecutionContextParams{
		WorkflowID:    workflow.ID,
		ProjectFolder: params.ProjectFolder,
		UserID:        params.UserID,
		Variables:     params.Variables,
	})

	return r.walk(ctx, r.newExecutor(), workflow, execCtx)
}

func (r *Runner) walk(ctx context.Context, exec *executor.WorkflowExecutor, workflow *domain.WorkflowDefinition, execCtx *domain.ExecutionContext) (RunResult, error) {
	node, err := startNode(workflow)
	if err != nil {
		return RunResult{}, err
	}

	steps := 0
	gateAttempts := map[string]int{}

	for {
		if ctx.Err() != nil {
			return r.finish(exec, execCtx, RunResult{Status: RunStatusFailed, Err: ctx.Err()}), nil
		}

		steps++
		if steps > r.maxSteps {
			return r.finish(exec, execCtx, RunResult{
				Status: RunStatusFailed,
				Err:    fmt.Errorf("run exceeded the step cap of %d node executions", r.maxSteps),
			}), nil
		}

		result, err := exec.Execute(ctx, node, execCtx)
		if err != nil {
			return RunResult{}, err
		}

		r.logger.Debug().
			Str("execution_id", execCtx.ID).
			Str("node_id", node.ID).
			Str("status", string(result.Status)).
			Msg("node executed")

		switch result.Status {
		case executor.NodeStatusWaiting:
			return r.finish(exec, execCtx, RunResult{Status: RunStatusWaiting, WaitingNodeID: node.ID}), nil

		case executor.NodeStatusFailed:
			if errors.Is(result.Failure, domain.ErrGateConditionFailed) {
				if retry, ok := r.gateRetryTarget(workflow, node.ID, gateAttempts); ok {
					node = retry
					continue
				}
			}

			return r.finish(exec, execCtx, RunResult{
				Status:       RunStatusFailed,
				FailedNodeID: node.ID,
				Err:          result.Failure,
			}), nil
		}

		next, found := r.nextNode(workflow, node, result)
		if !found {
			return r.finish(exec, execCtx, RunResult{Status: RunStatusCompleted}), nil
		}

		node = next
	}
}

func (r *Runner) finish(exec *executor.WorkflowExecutor, execCtx *domain.ExecutionContext, result RunResult) RunResult {
	result.Context = execCtx
	result.History = exec.History()
	result.Usage = exec.Usage()

	return result
}

// startNode is the node no non-loop-back edge points to. Exactly one is
// required for a runnable graph.
func startNode(workflow *domain.WorkflowDefinition) (domain.WorkflowNode, error) {
	incoming := map[string]bool{}

	for _, edge := range workflow.Edges {
		if edge.Type == domain.EdgeTypeLoopBack {
			continue
		}

		incoming[edge.Target] = true
	}

	var starts []domain.WorkflowNode

	for _, node := range workflow.Nodes {
		if !incoming[node.ID] {
			starts = append(starts, node)
		}
	}

	switch len(starts) {
	case 1:
		return starts[0], nil
	case 0:
		return domain.WorkflowNode{}, domain.NewConfigurationError("workflow %s has no start node", workflow.ID)
	default:
		return domain.WorkflowNode{}, domain.NewConfigurationError("workflow %s has %d start nodes, expected one", workflow.ID, len(starts))
	}
}

// nextNode picks the edge to follow after a successful node. Conditional
// nodes follow the edge whose label matches the evaluated boolean; everything
// else follows the first forward edge.
func (r *Runner) nextNode(workflow *domain.WorkflowDefinition, node domain.WorkflowNode, result executor.NodeResult) (domain.WorkflowNode, bool) {
	edges := forwardEdges(workflow, node.ID)
	if len(edges) == 0 {
		return domain.WorkflowNode{}, false
	}

	chosen := edges[0]

	if result.ConditionResult != nil {
		want := strconv.FormatBool(*result.ConditionResult)

		matched := false

		for _, edge := range edges {
			if strings.EqualFold(edge.Label, want) {
				chosen = edge
				matched = true

				break
			}
		}

		if !matched && len(edges) > 1 {
			r.logger.Warn().
				Str("node_id", node.ID).
				Str("condition", want).
				Msg("no edge label matches the condition result, following the first edge")
		}
	}

	next, found := workflow.GetNodeByID(chosen.Target)
	if !found {
		return domain.WorkflowNode{}, false
	}

	return next, true
}

// gateRetryTarget follows a loop-back edge from a failed gate, bounded by
// the retry cap so a never-passing gate cannot spin forever.
func (r *Runner) gateRetryTarget(workflow *domain.WorkflowDefinition, nodeID string, attempts map[string]int) (domain.WorkflowNode, bool) {
	for _, edge := range workflow.GetEdgesFrom(nodeID) {
		if edge.Type != domain.EdgeTypeLoopBack {
			continue
		}

		if attempts[nodeID] >= r.gateRetries {
			r.logger.Warn().
				Str("node_id", nodeID).
				Int("attempts", attempts[nodeID]).
				Msg("gate retry cap reached")

			return domain.WorkflowNode{}, false
		}

		attempts[nodeID]++

		target, found := workflow.GetNodeByID(edge.Target)
		if !found {
			return domain.WorkflowNode{}, false
		}

		return target, true
	}

	return domain.WorkflowNode{}, false
}

func forwardEdges(workflow *domain.WorkflowDefinition, nodeID string) []domain.Edge {
	var edges []domain.Edge

	for _, edge := range workflow.GetEdgesFrom(nodeID) {
		if edge.Type == domain.EdgeTypeLoopBack {
			continue
		}

		edges = append(edges, edge)
	}

	return edges
}

// RunSubWorkflow executes a registered workflow on behalf of a sub-workflow
// node. The child gets its own execution context seeded with the mapped
// variables; the parent's context is never shared.
func (r *Runner) RunSubWorkflow(ctx context.Context, params domain.RunSubWorkflowParams) (domain.SubWorkflowResult, error) {
	workflow, exists := r.workflows[params.WorkflowID]
	if !exists {
		return domain.SubWorkflowResult{}, fmt.Errorf("%w: %s", domain.ErrWorkflowNotFound, params.WorkflowID)
	}

	execCtx := domain.NewExecutionContext(domain.NewExecutionContextParams{
		WorkflowID:    workflow.ID,
		ProjectFolder: params.ProjectFolder,
		UserID:        params.UserID,
		Variables:     params.Variables,
	})

	result, err := r.walk(ctx, r.newExecutor(), workflow, execCtx)
	if err != nil {
		return domain.SubWorkflowResult{}, err
	}

	if result.Status != RunStatusCompleted {
		if result.Err != nil {
			return domain.SubWorkflowResult{}, fmt.Errorf("sub-workflow %s did not complete: %w", workflow.ID, result.Err)
		}

		return domain.SubWorkflowResult{}, fmt.Errorf("sub-workflow %s did not complete: status %s", workflow.ID, result.Status)
	}

	return domain.SubWorkflowResult{
		Output:    lastOutput(execCtx),
		Variables: execCtx.Variables,
	}, nil
}

func lastOutput(execCtx *domain.ExecutionContext) any {
	if len(execCtx.CompletedNodes) == 0 {
		return nil
	}

	last := execCtx.CompletedNodes[len(execCtx.CompletedNodes)-1]

	if output, exists := execCtx.NodeOutputs[last]; exists {
		return output.Output
	}

	return nil
}
