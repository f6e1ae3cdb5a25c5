package expressions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/storyloom/storyloom/pkg/domain"
)

// Binder implements the two context binding modes: simple mode hands a node
// the full ambient state, advanced mode wires explicit input and output
// mappings through path queries.
type Binder struct {
	resolver *ContextResolver
	logger   zerolog.Logger
}

type BinderOptions struct {
	Logger zerolog.Logger
}

func NewBinder(opts BinderOptions) *Binder {
	return &Binder{
		resolver: NewContextResolver(ContextResolverOptions{Logger: opts.Logger}),
		logger:   opts.Logger,
	}
}

func (b *Binder) Resolver() *ContextResolver {
	return b.resolver
}

// AmbientContext serializes every completed node output plus the global
// variables for simple-mode prompt injection.
func (b *Binder) AmbientContext(execCtx *domain.ExecutionContext) (string, error) {
	ambient := map[string]any{
		"variables": execCtx.Variables,
	}

	outputs := map[string]any{}

	for _, nodeID := range execCtx.CompletedNodes {
		if output, exists := execCtx.NodeOutputs[nodeID]; exists {
			outputs[nodeID] = output.Output
		}
	}

	ambient["nodeOutputs"] = outputs

	serialized, err := json.MarshalIndent(ambient, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize ambient context: %w", err)
	}

	return string(serialized), nil
}

// ApplyInputMappings resolves each mapping's source path against the context
// view and writes the value into the target variable before the node runs.
// Sources may be scoped to a prior node ("chapter-1.output.title") or address
// globals ("variables.theme").
func (b *Binder) ApplyInputMappings(execCtx *domain.ExecutionContext, mappings []domain.InputMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	view, err := b.resolver.BuildContextView(execCtx)
	if err != nil {
		return err
	}

	for _, mapping := range mappings {
		if mapping.Target == "" {
			return domain.NewConfigurationError("input mapping for %q has no target variable", mapping.Source)
		}

		value, err := b.resolver.Resolve(view, rewriteNodeScopedPath(mapping.Source))
		if err != nil {
			return err
		}

		execCtx.Variables[mapping.Target] = value
	}

	return nil
}

// ApplyOutputMappings extracts fields from a node's own result into variables
// for downstream consumption.
func (b *Binder) ApplyOutputMappings(execCtx *domain.ExecutionContext, output any, mappings []domain.OutputMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	view, err := b.resolver.BuildOutputView(output)
	if err != nil {
		return err
	}

	for _, mapping := range mappings {
		if mapping.Target == "" {
			return domain.NewConfigurationError("output mapping for %q has no target variable", mapping.Source)
		}

		path := mapping.Source
		if !strings.HasPrefix(path, "output") {
			path = "output." + path
		}

		value, err := b.resolver.Resolve(view, path)
		if err != nil {
			return err
		}

		execCtx.Variables[mapping.Target] = value
	}

	return nil
}

// rewriteNodeScopedPath maps "nodeId.output.x" onto the context view shape
// "nodeOutputs.nodeId.output.x". Paths already rooted at variables or
// nodeOutputs pass through untouched.
func rewriteNodeScopedPath(path string) string {
	if strings.HasPrefix(path, "variables.") || strings.HasPrefix(path, "nodeOutputs.") {
		return path
	}

	return "nodeOutputs." + path
}

var placeholderRegex = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_.\-]+)\s*\}\}`)

// SubstitutePlaceholders replaces {{variableName}} markers with values from
// the run's variables. Unknown placeholders are left in place.
func SubstitutePlaceholders(content string, variables map[string]any) string {
	return placeholderRegex.ReplaceAllStringFunc(content, func(match string) string {
		name := placeholderRegex.FindStringSubmatch(match)[1]

		value, exists := variables[name]
		if !exists {
			return match
		}

		switch v := value.(type) {
		case string:
			return v
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return match
			}

			return string(encoded)
		}
	})
}
