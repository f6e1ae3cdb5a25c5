package domain

import (
	"encoding/json"
	"fmt"
)

type NodeType string

const (
	NodeTypeAgent       NodeType = "agent"
	NodeTypePlanning    NodeType = "planning"
	NodeTypeWriting     NodeType = "writing"
	NodeTypeGate        NodeType = "gate"
	NodeTypeConditional NodeType = "conditional"
	NodeTypeLoop        NodeType = "loop"
	NodeTypeFile        NodeType = "file"
	NodeTypeUserInput   NodeType = "user-input"
	NodeTypeSubWorkflow NodeType = "sub-workflow"
)

type BindingMode string

const (
	BindingModeSimple   BindingMode = "simple"
	BindingModeAdvanced BindingMode = "advanced"
)

// InputMapping resolves a path query against the execution context and writes
// the result into a variable before the node executes.
type InputMapping struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// OutputMapping extracts a field from the node's own output into a variable
// after the node executes.
type OutputMapping struct {
	Source string `json:"source" yaml:"source"`
	Target string `json:"target" yaml:"target"`
}

// ContextConfig selects how much upstream state a node sees. Simple mode
// serializes everything; advanced mode wires explicit mappings.
type ContextConfig struct {
	Mode    BindingMode     `json:"mode" yaml:"mode"`
	Inputs  []InputMapping  `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs []OutputMapping `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

type NodePosition struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// WorkflowNode is the envelope shared by all node kinds. Kind-specific
// configuration lives in Spec, so a handler only ever sees the fields valid
// for its kind.
type WorkflowNode struct {
	ID               string        `json:"id" yaml:"id"`
	Name             string        `json:"name" yaml:"name"`
	Description      string        `json:"description,omitempty" yaml:"description,omitempty"`
	Type             NodeType      `json:"type" yaml:"type"`
	Position         NodePosition  `json:"position" yaml:"position"`
	RequiresApproval bool          `json:"requiresApproval,omitempty" yaml:"requiresApproval,omitempty"`
	ContextConfig    ContextConfig `json:"contextConfig" yaml:"contextConfig"`

	Spec NodeSpec `json:"-" yaml:"-"`
}

// NodeSpec is the sealed sum over node kinds.
type NodeSpec interface {
	Kind() NodeType
	Validate() error
}

// AgentSpec configures the generative node kinds (agent, planning, writing,
// gate). A gate additionally carries a predicate over its own output.
type AgentSpec struct {
	Provider      ProviderConfig `json:"provider" yaml:"provider"`
	Agent         string         `json:"agent,omitempty" yaml:"agent,omitempty"`
	Skill         string         `json:"skill,omitempty" yaml:"skill,omitempty"`
	Gate          bool           `json:"gate,omitempty" yaml:"gate,omitempty"`
	GateCondition string         `json:"gateCondition,omitempty" yaml:"gateCondition,omitempty"`

	nodeType NodeType
}

func (s AgentSpec) Kind() NodeType {
	if s.nodeType == "" {
		return NodeTypeAgent
	}

	return s.nodeType
}

func (s AgentSpec) Validate() error {
	if s.Provider.Type == "" {
		return NewConfigurationError("agent node has no provider type")
	}

	if s.Gate && s.GateCondition == "" {
		return NewConfigurationError("gate node has no gate condition")
	}

	return nil
}

type ConditionType string

const (
	ConditionTypeExpression ConditionType = "expression"
	ConditionTypeVariable   ConditionType = "variable"
)

type ConditionalSpec struct {
	Condition     string        `json:"condition" yaml:"condition"`
	ConditionType ConditionType `json:"conditionType,omitempty" yaml:"conditionType,omitempty"`
}

func (s ConditionalSpec) Kind() NodeType { return NodeTypeConditional }

func (s ConditionalSpec) Validate() error {
	if s.Condition == "" {
		return NewConfigurationError("conditional node has no condition")
	}

	return nil
}

type LoopType string

const (
	LoopTypeForEach LoopType = "forEach"
	LoopTypeCount   LoopType = "count"
	LoopTypeWhile   LoopType = "while"
)

type LoopSpec struct {
	LoopType         LoopType `json:"loopType" yaml:"loopType"`
	Collection       string   `json:"collection,omitempty" yaml:"collection,omitempty"`
	Count            int      `json:"count,omitempty" yaml:"count,omitempty"`
	WhileCondition   string   `json:"whileCondition,omitempty" yaml:"whileCondition,omitempty"`
	IteratorVariable string   `json:"iteratorVariable,omitempty" yaml:"iteratorVariable,omitempty"`
	IndexVariable    string   `json:"indexVariable,omitempty" yaml:"indexVariable,omitempty"`
	MaxIterations    int      `json:"maxIterations,omitempty" yaml:"maxIterations,omitempty"`
}

func (s LoopSpec) Kind() NodeType { return NodeTypeLoop }

func (s LoopSpec) Validate() error {
	switch s.LoopType {
	case LoopTypeForEach:
		if s.Collection == "" {
			return NewConfigurationError("forEach loop has no collection")
		}
	case LoopTypeCount:
		if s.Count <= 0 {
			return NewConfigurationError("count loop has non-positive count %d", s.Count)
		}
	case LoopTypeWhile:
		if s.WhileCondition == "" {
			return NewConfigurationError("while loop has no condition")
		}

		// An unbounded while loop is refused outright.
		if s.MaxIterations <= 0 {
			return NewConfigurationError("while loop requires a positive maxIterations")
		}
	default:
		return NewConfigurationError("unknown loop type %q", s.LoopType)
	}

	return nil
}

type FileOperation string

const (
	FileOperationRead  FileOperation = "read"
	FileOperationWrite FileOperation = "write"
	FileOperationCopy  FileOperation = "copy"
)

type FileSpec struct {
	Operation            FileOperation `json:"operation" yaml:"operation"`
	SourcePath           string        `json:"sourcePath,omitempty" yaml:"sourcePath,omitempty"`
	TargetPath           string        `json:"targetPath,omitempty" yaml:"targetPath,omitempty"`
	Content              string        `json:"content,omitempty" yaml:"content,omitempty"`
	RequireProjectFolder bool          `json:"requireProjectFolder,omitempty" yaml:"requireProjectFolder,omitempty"`
}

func (s FileSpec) Kind() NodeType { return NodeTypeFile }

func (s FileSpec) Validate() error {
	switch s.Operation {
	case FileOperationRead:
		if s.SourcePath == "" {
			return NewConfigurationError("file read has no sourcePath")
		}
	case FileOperationWrite:
		if s.TargetPath == "" {
			return NewConfigurationError("file write has no targetPath")
		}
	case FileOperationCopy:
		if s.SourcePath == "" || s.TargetPath == "" {
			return NewConfigurationError("file copy requires sourcePath and targetPath")
		}
	default:
		return NewConfigurationError("unknown file operation %q", s.Operation)
	}

	return nil
}

type UserInputSpec struct {
	Prompt       string `json:"prompt" yaml:"prompt"`
	InputType    string `json:"inputType,omitempty" yaml:"inputType,omitempty"`
	Variable     string `json:"variable" yaml:"variable"`
	DefaultValue any    `json:"defaultValue,omitempty" yaml:"defaultValue,omitempty"`
}

func (s UserInputSpec) Kind() NodeType { return NodeTypeUserInput }

func (s UserInputSpec) Validate() error {
	if s.Variable == "" {
		return NewConfigurationError("user-input node has no target variable")
	}

	return nil
}

type SubWorkflowSpec struct {
	WorkflowID     string          `json:"workflowId" yaml:"workflowId"`
	InputMappings  []InputMapping  `json:"inputMappings,omitempty" yaml:"inputMappings,omitempty"`
	OutputMappings []OutputMapping `json:"outputMappings,omitempty" yaml:"outputMappings,omitempty"`
}

func (s SubWorkflowSpec) Kind() NodeType { return NodeTypeSubWorkflow }

func (s SubWorkflowSpec) Validate() error {
	if s.WorkflowID == "" {
		return NewConfigurationError("sub-workflow node has no workflowId")
	}

	return nil
}

// nodeEnvelope is the raw wire shape of a node. The kind-specific fields are
// captured once and decoded into the matching NodeSpec variant.
type nodeEnvelope struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Type             NodeType        `json:"type"`
	Position         NodePosition    `json:"position"`
	RequiresApproval bool            `json:"requiresApproval,omitempty"`
	ContextConfig    ContextConfig   `json:"contextConfig"`
	Data             json.RawMessage `json:"data,omitempty"`
}

func (n *WorkflowNode) UnmarshalJSON(data []byte) error {
	var envelope nodeEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to decode node envelope: %w", err)
	}

	n.ID = envelope.ID
	n.Name = envelope.Name
	n.Description = envelope.Description
	n.Type = envelope.Type
	n.Position = envelope.Position
	n.RequiresApproval = envelope.RequiresApproval
	n.ContextConfig = envelope.ContextConfig

	if n.ContextConfig.Mode == "" {
		n.ContextConfig.Mode = BindingModeSimple
	}

	spec, err := decodeNodeSpec(envelope.Type, envelope.Data)
	if err != nil {
		return fmt.Errorf("node %s: %w", envelope.ID, err)
	}

	n.Spec = spec

	return nil
}

func (n WorkflowNode) MarshalJSON() ([]byte, error) {
	var data json.RawMessage

	if n.Spec != nil {
		encoded, err := json.Marshal(n.Spec)
		if err != nil {
			return nil, fmt.Errorf("node %s: failed to encode spec: %w", n.ID, err)
		}

		data = encoded
	}

	return json.Marshal(nodeEnvelope{
		ID:               n.ID,
		Name:             n.Name,
		Description:      n.Description,
		Type:             n.Type,
		Position:         n.Position,
		RequiresApproval: n.RequiresApproval,
		ContextConfig:    n.ContextConfig,
		Data:             data,
	})
}

func decodeNodeSpec(nodeType NodeType, data json.RawMessage) (NodeSpec, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	switch nodeType {
	case NodeTypeAgent, NodeTypePlanning, NodeTypeWriting, NodeTypeGate:
		var spec AgentSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("failed to decode agent spec: %w", err)
		}

		spec.nodeType = nodeType

		// The gate node type implies gate behavior even without the flag.
		if nodeType == NodeTypeGate {
			spec.Gate = true
		}

		return spec, nil
	case NodeTypeConditional:
		var spec ConditionalSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("failed to decode conditional spec: %w", err)
		}

		return spec, nil
	case NodeTypeLoop:
		var spec LoopSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("failed to decode loop spec: %w", err)
		}

		return spec, nil
	case NodeTypeFile:
		var spec FileSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("failed to decode file spec: %w", err)
		}

		return spec, nil
	case NodeTypeUserInput:
		var spec UserInputSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("failed to decode user-input spec: %w", err)
		}

		return spec, nil
	case NodeTypeSubWorkflow:
		var spec SubWorkflowSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			return nil, fmt.Errorf("failed to decode sub-workflow spec: %w", err)
		}

		return spec, nil
	default:
		return nil, NewConfigurationError("unknown node type %q", nodeType)
	}
}
