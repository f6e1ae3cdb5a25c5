package domain

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

//go:embed workflow_schema.json
var workflowSchemaJSON string

var workflowSchema = jsonschema.MustCompileString(
	"workflow-definition.json",
	workflowSchemaJSON,
)

// ParseDefinition decodes a workflow definition from JSON or YAML, validates
// the raw document against the embedded schema, then checks the structural
// invariants. Malformed definitions are the one truly exceptional input the
// engine rejects with an error instead of a structured node result.
func ParseDefinition(data []byte) (WorkflowDefinition, error) {
	jsonData := data

	if !looksLikeJSON(data) {
		var raw any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return WorkflowDefinition{}, NewConfigurationError("failed to parse workflow definition: %v", err)
		}

		converted, err := json.Marshal(normalizeYAML(raw))
		if err != nil {
			return WorkflowDefinition{}, fmt.Errorf("failed to convert definition to json: %w", err)
		}

		jsonData = converted
	}

	var document any
	if err := json.Unmarshal(jsonData, &document); err != nil {
		return WorkflowDefinition{}, NewConfigurationError("failed to parse workflow definition: %v", err)
	}

	if err := workflowSchema.Validate(document); err != nil {
		return WorkflowDefinition{}, NewConfigurationError("workflow definition failed schema validation: %v", err)
	}

	var definition WorkflowDefinition

	decoder := json.NewDecoder(bytes.NewReader(jsonData))
	if err := decoder.Decode(&definition); err != nil {
		return WorkflowDefinition{}, NewConfigurationError("failed to decode workflow definition: %v", err)
	}

	// Authoring tools may omit edge ids; assign them so every edge is
	// addressable.
	for i := range definition.Edges {
		if definition.Edges[i].ID == "" {
			definition.Edges[i].ID = uuid.NewString()
		}
	}

	if err := definition.Validate(); err != nil {
		return WorkflowDefinition{}, err
	}

	return definition, nil
}

func looksLikeJSON(data []byte) bool {
	trimmed := strings.TrimLeft(string(data), " \t\r\n")

	return strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
}

// normalizeYAML converts map[any]any trees produced by the YAML decoder into
// map[string]any trees the JSON encoder accepts.
func normalizeYAML(value any) any {
	switch v := value.(type) {
	case map[any]any:
		normalized := map[string]any{}
		for key, item := range v {
			normalized[fmt.Sprintf("%v", key)] = normalizeYAML(item)
		}

		return normalized
	case map[string]any:
		normalized := map[string]any{}
		for key, item := range v {
			normalized[key] = normalizeYAML(item)
		}

		return normalized
	case []any:
		normalized := make([]any, len(v))
		for i, item := range v {
			normalized[i] = normalizeYAML(item)
		}

		return normalized
	default:
		return v
	}
}
