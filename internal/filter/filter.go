// Package filter decides which GraphQL operations are tracked, using a
// configurable CEL predicate evaluated once per operation.
package filter

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/avolkov/gqlscope/internal/observability"
)

// Operation carries the attributes the predicate may reference.
type Operation struct {
	// Type is the operation type: query, mutation, or subscription.
	Type string

	// Name is the operation name; empty for anonymous operations.
	Name string

	// Depth is the analyzed selection depth.
	Depth int

	// Introspection reports whether the operation reads schema metadata.
	Introspection bool
}

// Filter evaluates a compiled CEL expression per operation.
type Filter struct {
	program cel.Program
	logger  observability.Logger
}

// New compiles the expression into a reusable filter. An empty expression
// returns a nil filter, which tracks everything. Compilation errors are
// surfaced immediately so misconfiguration fails at startup rather than on
// the hot path.
func New(expression string, logger observability.Logger) (*Filter, error) {
	if expression == "" {
		return nil, nil
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	env, err := cel.NewEnv(
		cel.Variable("operationType", cel.StringType),
		cel.Variable("operationName", cel.StringType),
		cel.Variable("depth", cel.IntType),
		cel.Variable("introspection", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile filter expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must evaluate to bool, got %s", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build filter program: %w", err)
	}

	return &Filter{program: program, logger: logger}, nil
}

// Match reports whether the operation should be tracked. A nil filter
// matches everything, and evaluation errors fail open so a bad expression
// can never silently disable observability.
func (f *Filter) Match(op Operation) bool {
	if f == nil {
		return true
	}

	out, _, err := f.program.Eval(map[string]any{
		"operationType": op.Type,
		"operationName": op.Name,
		"depth":         op.Depth,
		"introspection": op.Introspection,
	})
	if err != nil {
		f.logger.Warn("filter evaluation failed, tracking operation",
			observability.Error(err),
		)
		return true
	}

	return out == types.True
}
