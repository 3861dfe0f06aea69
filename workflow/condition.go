package workflow

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// ConditionEvaluator compiles and evaluates the boolean expressions used by
// condition nodes. It is a thin, sandboxed wrapper around cel-go: the
// environment exposes only "input" and "variables" as dynamic maps, so a
// condition can inspect execution state but cannot reach outside it.
type ConditionEvaluator struct {
	env *cel.Env
}

// NewConditionEvaluator builds the restricted CEL environment.
func NewConditionEvaluator() (*ConditionEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("variables", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("build condition environment: %w", err)
	}
	return &ConditionEvaluator{env: env}, nil
}

// Evaluate compiles expr and runs it against input/variables, requiring a
// boolean result.
func (ce *ConditionEvaluator) Evaluate(expr string, input, variables map[string]any) (bool, error) {
	ast, issues := ce.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, &Error{Code: CodeInvalidDefinition, Message: "invalid condition expression", Cause: issues.Err()}
	}
	if ast.OutputType() != cel.BoolType {
		return false, &Error{Code: CodeInvalidDefinition, Message: "condition expression must evaluate to bool"}
	}

	program, err := ce.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("build condition program: %w", err)
	}

	out, _, err := program.Eval(map[string]any{
		"input":     input,
		"variables": variables,
	})
	if err != nil {
		return false, &Error{Code: CodeNodeFailed, Message: "condition evaluation failed", Cause: err}
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, &Error{Code: CodeInvalidDefinition, Message: "condition expression did not produce a bool"}
	}
	return result, nil
}
