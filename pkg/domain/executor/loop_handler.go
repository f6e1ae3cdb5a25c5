package executor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/storyloom/storyloom/pkg/domain"
)

const (
	loopTerminatedByCollection = "collection"
	loopTerminatedByCount      = "count"
	loopTerminatedByCondition  = "condition"
	loopTerminatedByLimit      = "max_iterations"
)

// LoopOutput summarizes a loop node's bookkeeping for the graph walker that
// re-enters the loop body.
type LoopOutput struct {
	LoopType       domain.LoopType `json:"loop_type"`
	IterationCount int             `json:"iteration_count"`
	TerminatedBy   string          `json:"terminated_by"`
}

// executeLoopNode manages iteration bookkeeping for the three loop
// strategies. Iterations run strictly sequentially; later iterations may
// depend on state earlier ones produced. The handler never invokes other
// node handlers; re-entering the loop body is the walker's job.
func (e *WorkflowExecutor) executeLoopNode(ctx context.Context, node domain.WorkflowNode, spec domain.LoopSpec, execCtx *domain.ExecutionContext) NodeResult {
	if err := spec.Validate(); err != nil {
		return failedResult(node, execCtx, err)
	}

	execCtx.ResetIterations()

	execCtx.PushLoopFrame(domain.LoopFrame{
		NodeID:        node.ID,
		LoopType:      spec.LoopType,
		MaxIterations: spec.MaxIterations,
	})
	defer execCtx.PopLoopFrame()

	var output LoopOutput
	var err error

	switch spec.LoopType {
	case domain.LoopTypeForEach:
		output, err = e.runForEachLoop(node, spec, execCtx)
	case domain.LoopTypeCount:
		output, err = e.runCountLoop(node, spec, execCtx)
	case domain.LoopTypeWhile:
		output, err = e.runWhileLoop(ctx, node, spec, execCtx)
	}

	if err != nil {
		return failedResult(node, execCtx, err)
	}

	execCtx.SetNodeOutput(domain.NodeOutput{
		NodeID:    node.ID,
		NodeName:  node.Name,
		Status:    domain.NodeOutputStatusSuccess,
		Output:    output,
		Timestamp: time.Now(),
	})

	return NodeResult{
		NodeID: node.ID,
		Status: NodeStatusSuccess,
		Output: output,
	}
}

func (e *WorkflowExecutor) runForEachLoop(node domain.WorkflowNode, spec domain.LoopSpec, execCtx *domain.ExecutionContext) (LoopOutput, error) {
	view, err := e.binder.Resolver().BuildContextView(execCtx)
	if err != nil {
		return LoopOutput{}, err
	}

	collection, err := e.binder.Resolver().ResolveCollection(view, spec.Collection)
	if err != nil {
		return LoopOutput{}, err
	}

	for index, element := range collection {
		e.bindIterationVariables(spec, execCtx, index, element)

		execCtx.AppendIteration(domain.IterationRecord{
			Index:     index,
			Value:     element,
			Timestamp: time.Now(),
		})

		e.advanceLoopFrame(execCtx, index+1)
	}

	return LoopOutput{
		LoopType:       spec.LoopType,
		IterationCount: len(collection),
		TerminatedBy:   loopTerminatedByCollection,
	}, nil
}

func (e *WorkflowExecutor) runCountLoop(node domain.WorkflowNode, spec domain.LoopSpec, execCtx *domain.ExecutionContext) (LoopOutput, error) {
	for index := 0; index < spec.Count; index++ {
		e.bindIterationVariables(spec, execCtx, index, index)

		execCtx.AppendIteration(domain.IterationRecord{
			Index:     index,
			Value:     index,
			Timestamp: time.Now(),
		})

		e.advanceLoopFrame(execCtx, index+1)
	}

	return LoopOutput{
		LoopType:       spec.LoopType,
		IterationCount: spec.Count,
		TerminatedBy:   loopTerminatedByCount,
	}, nil
}

func (e *WorkflowExecutor) runWhileLoop(ctx context.Context, node domain.WorkflowNode, spec domain.LoopSpec, execCtx *domain.ExecutionContext) (LoopOutput, error) {
	iterations := 0

	for {
		scope, err := e.conditionScope(execCtx)
		if err != nil {
			return LoopOutput{}, err
		}

		proceed, err := e.conditions.EvaluateBool(ctx, spec.WhileCondition, scope)
		if err != nil {
			return LoopOutput{}, err
		}

		if !proceed {
			return LoopOutput{
				LoopType:       spec.LoopType,
				IterationCount: iterations,
				TerminatedBy:   loopTerminatedByCondition,
			}, nil
		}

		if iterations >= spec.MaxIterations {
			log.Warn().
				Str("node_id", node.ID).
				Int("max_iterations", spec.MaxIterations).
				Msg("while loop hit its safety limit")

			return LoopOutput{}, &domain.LoopSafetyLimitError{
				NodeID:        node.ID,
				MaxIterations: spec.MaxIterations,
			}
		}

		e.bindIterationVariables(spec, execCtx, iterations, iterations)

		execCtx.AppendIteration(domain.IterationRecord{
			Index:     iterations,
			Value:     iterations,
			Timestamp: time.Now(),
		})

		iterations++

		e.advanceLoopFrame(execCtx, iterations)
	}
}

func (e *WorkflowExecutor) bindIterationVariables(spec domain.LoopSpec, execCtx *domain.ExecutionContext, index int, value any) {
	if spec.IteratorVariable != "" {
		execCtx.Variables[spec.IteratorVariable] = value
	}

	if spec.IndexVariable != "" {
		execCtx.Variables[spec.IndexVariable] = index
	}
}

func (e *WorkflowExecutor) advanceLoopFrame(execCtx *domain.ExecutionContext, iteration int) {
	if len(execCtx.LoopStack) == 0 {
		return
	}

	execCtx.LoopStack[len(execCtx.LoopStack)-1].Iteration = iteration
}
