package domain

import (
	"time"

	"github.com/rs/xid"
)

type NodeOutputStatus string

const (
	NodeOutputStatusPending NodeOutputStatus = "pending"
	NodeOutputStatusSuccess NodeOutputStatus = "success"
	NodeOutputStatusFailed  NodeOutputStatus = "failed"
)

// NodeOutput is the recorded result of one node execution. Outputs are
// append-only: each node id is written at most once per run, loop iterations
// aggregate into the iterations variable instead.
type NodeOutput struct {
	NodeID    string           `json:"node_id"`
	NodeName  string           `json:"node_name"`
	Status    NodeOutputStatus `json:"status"`
	Output    any              `json:"output,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// LoopFrame tracks one active loop for nested-loop bookkeeping.
type LoopFrame struct {
	NodeID        string   `json:"node_id"`
	LoopType      LoopType `json:"loop_type"`
	Iteration     int      `json:"iteration"`
	TotalPlanned  int      `json:"total_planned,omitempty"`
	MaxIterations int      `json:"max_iterations,omitempty"`
}

// ExecutionContext is the mutable state bag threaded through one workflow
// run. It has exactly one writer for its whole lifetime: the executor acting
// on behalf of that run. It is created at run start and discarded at run end,
// never shared between concurrent runs.
type ExecutionContext struct {
	ID            string                `json:"id"`
	WorkflowID    string                `json:"workflow_id"`
	ProjectFolder string                `json:"project_folder,omitempty"`
	Variables     map[string]any        `json:"variables"`
	NodeOutputs   map[string]NodeOutput `json:"node_outputs"`
	CompletedNodes []string             `json:"completed_nodes"`
	LoopStack     []LoopFrame           `json:"loop_stack,omitempty"`
	CurrentNodeID string                `json:"current_node_id,omitempty"`
	StartedAt     time.Time             `json:"started_at"`
	UserID        string                `json:"user_id,omitempty"`
}

type NewExecutionContextParams struct {
	WorkflowID    string
	ProjectFolder string
	UserID        string
	Variables     map[string]any
}

func NewExecutionContext(params NewExecutionContextParams) *ExecutionContext {
	variables := params.Variables
	if variables == nil {
		variables = map[string]any{}
	}

	return &ExecutionContext{
		ID:             xid.New().String(),
		WorkflowID:     params.WorkflowID,
		ProjectFolder:  params.ProjectFolder,
		Variables:      variables,
		NodeOutputs:    map[string]NodeOutput{},
		CompletedNodes: []string{},
		LoopStack:      []LoopFrame{},
		StartedAt:      time.Now(),
		UserID:         params.UserID,
	}
}

// SetNodeOutput records the output of a node. The first write for a node id
// wins except that a pending output may be finalized.
// SetNodeOutput records a node's output. A success entry is final and never
// overwritten; pending and failed entries may be superseded by a later
// attempt (input supplied, gate passed after a loop-back retry).
func (c *ExecutionContext) SetNodeOutput(output NodeOutput) {
	if existing, exists := c.NodeOutputs[output.NodeID]; exists {
		if existing.Status == NodeOutputStatusSuccess {
			return
		}
	}

	c.NodeOutputs[output.NodeID] = output
}

func (c *ExecutionContext) MarkCompleted(nodeID string) {
	for _, completed := range c.CompletedNodes {
		if completed == nodeID {
			return
		}
	}

	c.CompletedNodes = append(c.CompletedNodes, nodeID)
}

func (c *ExecutionContext) PushLoopFrame(frame LoopFrame) {
	c.LoopStack = append(c.LoopStack, frame)
}

func (c *ExecutionContext) PopLoopFrame() (LoopFrame, bool) {
	if len(c.LoopStack) == 0 {
		return LoopFrame{}, false
	}

	frame := c.LoopStack[len(c.LoopStack)-1]
	c.LoopStack = c.LoopStack[:len(c.LoopStack)-1]

	return frame, true
}

func (c *ExecutionContext) CurrentLoopFrame() (LoopFrame, bool) {
	if len(c.LoopStack) == 0 {
		return LoopFrame{}, false
	}

	return c.LoopStack[len(c.LoopStack)-1], true
}

// IterationRecord is one entry of the iterations variable a loop node
// maintains for the graph walker re-entering the loop body.
type IterationRecord struct {
	Index     int       `json:"index"`
	Value     any       `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	VariableIterations      = "iterations"
	VariableIterationCount  = "iterationCount"
	VariableConditionResult = "conditionResult"
)

// AppendIteration records one loop pass and keeps iterationCount in sync.
func (c *ExecutionContext) AppendIteration(record IterationRecord) {
	iterations, _ := c.Variables[VariableIterations].([]IterationRecord)
	iterations = append(iterations, record)

	c.Variables[VariableIterations] = iterations
	c.Variables[VariableIterationCount] = len(iterations)
}

// ResetIterations clears loop bookkeeping before a loop node starts a fresh
// iteration plan.
func (c *ExecutionContext) ResetIterations() {
	c.Variables[VariableIterations] = []IterationRecord{}
	c.Variables[VariableIterationCount] = 0
}
