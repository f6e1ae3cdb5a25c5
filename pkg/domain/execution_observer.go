package domain

import (
	"context"
	"time"
)

type ExecutionEventType string

const (
	ExecutionEventTypeNodeExecutionStarted       ExecutionEventType = "node_execution_started"
	ExecutionEventTypeNodeExecutionCompleted     ExecutionEventType = "node_execution_completed"
	ExecutionEventTypeNodeExecutionFailed        ExecutionEventType = "node_execution_failed"
	ExecutionEventTypeWorkflowExecutionCompleted ExecutionEventType = "workflow_execution_completed"
)

type ExecutionEvent interface {
	GetEventType() ExecutionEventType
}

type NodeExecutionStartedEvent struct {
	ExecutionID string
	NodeID      string
	NodeType    NodeType
	Timestamp   time.Time
}

func (NodeExecutionStartedEvent) GetEventType() ExecutionEventType {
	return ExecutionEventTypeNodeExecutionStarted
}

type NodeExecutionCompletedEvent struct {
	ExecutionID string
	NodeID      string
	NodeType    NodeType
	Output      NodeOutput
	StartedAt   time.Time
	EndedAt     time.Time
}

func (NodeExecutionCompletedEvent) GetEventType() ExecutionEventType {
	return ExecutionEventTypeNodeExecutionCompleted
}

type NodeExecutionFailedEvent struct {
	ExecutionID string
	NodeID      string
	NodeType    NodeType
	Error       error
	Timestamp   time.Time
}

func (NodeExecutionFailedEvent) GetEventType() ExecutionEventType {
	return ExecutionEventTypeNodeExecutionFailed
}

type WorkflowExecutionCompletedEvent struct {
	ExecutionID string
	WorkflowID  string
	Timestamp   time.Time
}

func (WorkflowExecutionCompletedEvent) GetEventType() ExecutionEventType {
	return ExecutionEventTypeWorkflowExecutionCompleted
}

type ExecutionEventHandler interface {
	HandleEvent(ctx context.Context, event ExecutionEvent) error
}

// ExecutionObserver fans execution events out to subscribed handlers. The
// executor owns one observer per run; handlers subscribe at construction.
type ExecutionObserver struct {
	handlers []ExecutionEventHandler
}

func NewExecutionObserver() *ExecutionObserver {
	return &ExecutionObserver{
		handlers: []ExecutionEventHandler{},
	}
}

func (o *ExecutionObserver) Subscribe(handler ExecutionEventHandler) {
	o.handlers = append(o.handlers, handler)
}

func (o *ExecutionObserver) Notify(ctx context.Context, event ExecutionEvent) error {
	for _, handler := range o.handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			return err
		}
	}

	return nil
}
