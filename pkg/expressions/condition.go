package expressions

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/rs/zerolog"

	"github.com/storyloom/storyloom/pkg/domain"
)

// ConditionEvaluator evaluates boolean predicate expressions against a scope
// built from the execution context. Expressions are JavaScript; a handful of
// prose comparison phrasings produced by the authoring UI are rewritten to
// operators before evaluation.
type ConditionEvaluator struct {
	logger         zerolog.Logger
	defaultTimeout time.Duration
}

type ConditionEvaluatorOptions struct {
	Logger         zerolog.Logger
	DefaultTimeout time.Duration
}

func DefaultConditionEvaluatorOptions() ConditionEvaluatorOptions {
	return ConditionEvaluatorOptions{
		Logger:         zerolog.Nop(),
		DefaultTimeout: 5 * time.Second,
	}
}

func NewConditionEvaluator(opts ConditionEvaluatorOptions) *ConditionEvaluator {
	if opts.DefaultTimeout == 0 {
		opts.DefaultTimeout = 5 * time.Second
	}

	return &ConditionEvaluator{
		logger:         opts.Logger,
		defaultTimeout: opts.DefaultTimeout,
	}
}

var prosePhrasings = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`\bis at least\b`), ">="},
	{regexp.MustCompile(`\bis at most\b`), "<="},
	{regexp.MustCompile(`\bis greater than\b`), ">"},
	{regexp.MustCompile(`\bis less than\b`), "<"},
	{regexp.MustCompile(`\bis not\b`), "!=="},
	{regexp.MustCompile(`\bequals\b`), "==="},
	{regexp.MustCompile(`\bis\b`), "==="},
}

// NormalizeExpression rewrites prose comparisons ("score is at least 80")
// into JavaScript operators. String literals pass through untouched so an
// expression like `status === "is done"` keeps its comparand.
func NormalizeExpression(expr string) string {
	var out strings.Builder

	for len(expr) > 0 {
		quote := strings.IndexAny(expr, `"'`)
		if quote < 0 {
			out.WriteString(rewriteProse(expr))
			break
		}

		out.WriteString(rewriteProse(expr[:quote]))

		literal := expr[quote:]
		end := literalLength(literal)
		out.WriteString(literal[:end])
		expr = literal[end:]
	}

	return out.String()
}

func rewriteProse(segment string) string {
	for _, phrasing := range prosePhrasings {
		segment = phrasing.pattern.ReplaceAllString(segment, phrasing.replacement)
	}

	return segment
}

// literalLength returns the length of the quoted literal at the start of s,
// honoring backslash escapes. An unterminated literal runs to the end; the
// VM reports the syntax error.
func literalLength(s string) int {
	quote := s[0]

	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case quote:
			return i + 1
		}
	}

	return len(s)
}

// EvaluateBool evaluates a predicate and coerces the result to boolean.
// Parse failures and runtime failures are configuration errors; the engine
// never guesses a default verdict.
func (e *ConditionEvaluator) EvaluateBool(ctx context.Context, expr string, scope map[string]any) (bool, error) {
	value, err := e.Evaluate(ctx, expr, scope)
	if err != nil {
		return false, err
	}

	return coerceBool(value), nil
}

// Evaluate runs an expression in a fresh VM seeded with the scope. Each
// evaluation gets its own VM; nothing leaks between nodes.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, expr string, scope map[string]any) (any, error) {
	if expr == "" {
		return nil, domain.NewConfigurationError("empty condition expression")
	}

	normalized := NormalizeExpression(expr)

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	for name, value := range scope {
		if err := vm.Set(name, value); err != nil {
			return nil, fmt.Errorf("failed to seed scope variable %s: %w", name, err)
		}
	}

	timeout := e.defaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	timer := time.AfterFunc(timeout, func() {
		vm.Interrupt("condition evaluation timed out")
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() {
		vm.Interrupt("condition evaluation canceled")
	})
	defer stop()

	result, err := vm.RunString(normalized)
	if err != nil {
		e.logger.Debug().Err(err).Str("expression", expr).Msg("condition evaluation failed")

		return nil, domain.NewConfigurationError("failed to evaluate condition %q: %v", expr, err)
	}

	if result == nil {
		return nil, domain.NewConfigurationError("condition %q resolved to no value", expr)
	}

	return result.Export(), nil
}

func coerceBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return v != "" && v != "false" && v != "0"
	case int64:
		return v != 0
	case float64:
		return v != 0
	case nil:
		return false
	default:
		return true
	}
}
