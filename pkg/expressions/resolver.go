package expressions

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/storyloom/storyloom/pkg/domain"
)

// ContextResolver evaluates path queries against serialized views of the
// execution context. Paths use dot notation with optional bracket indices
// ("output.characters[0].name"); brackets are rewritten to gjson's dotted
// index form before lookup.
type ContextResolver struct {
	logger zerolog.Logger
}

type ContextResolverOptions struct {
	Logger zerolog.Logger
}

func NewContextResolver(opts ContextResolverOptions) *ContextResolver {
	return &ContextResolver{
		logger: opts.Logger,
	}
}

var bracketIndexRegex = regexp.MustCompile(`\[(\d+)\]`)

// NormalizePath rewrites bracket indices to gjson's dotted form.
func NormalizePath(path string) string {
	return bracketIndexRegex.ReplaceAllString(path, ".$1")
}

// BuildContextView serializes the variables and node outputs of a run into a
// single JSON document for path queries and predicate scopes.
func (r *ContextResolver) BuildContextView(execCtx *domain.ExecutionContext) (string, error) {
	view := "{}"

	var err error

	view, err = sjson.Set(view, "variables", execCtx.Variables)
	if err != nil {
		return "", fmt.Errorf("failed to serialize variables: %w", err)
	}

	view, err = sjson.Set(view, "nodeOutputs", execCtx.NodeOutputs)
	if err != nil {
		return "", fmt.Errorf("failed to serialize node outputs: %w", err)
	}

	return view, nil
}

// BuildOutputView serializes one node output under the "output" key so gate
// predicates and output mappings can address it.
func (r *ContextResolver) BuildOutputView(output any) (string, error) {
	view, err := sjson.Set("{}", "output", output)
	if err != nil {
		return "", fmt.Errorf("failed to serialize output: %w", err)
	}

	return view, nil
}

// Resolve evaluates a path query against a view. A path that resolves to no
// value is a configuration error, not a default.
func (r *ContextResolver) Resolve(view string, path string) (any, error) {
	if path == "" {
		return nil, domain.NewConfigurationError("empty path query")
	}

	result := gjson.Get(view, NormalizePath(path))
	if !result.Exists() {
		r.logger.Debug().Str("path", path).Msg("path query resolved to no value")

		return nil, domain.NewConfigurationError("path query %q resolved to no value", path)
	}

	return result.Value(), nil
}

// ResolveCollection evaluates a path query expecting a sequence.
func (r *ContextResolver) ResolveCollection(view string, path string) ([]any, error) {
	value, err := r.Resolve(view, path)
	if err != nil {
		return nil, err
	}

	collection, ok := value.([]any)
	if !ok {
		return nil, domain.NewConfigurationError("path query %q did not resolve to a collection", path)
	}

	return collection, nil
}

// ScopeFromView decodes a view into a map usable as a predicate scope.
func ScopeFromView(view string) (map[string]any, error) {
	scope := map[string]any{}

	if err := json.Unmarshal([]byte(view), &scope); err != nil {
		return nil, fmt.Errorf("failed to decode context view: %w", err)
	}

	return scope, nil
}
