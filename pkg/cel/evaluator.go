package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"ddsrecorder/pkg/models"
)

// Evaluator compiles and evaluates CEL expressions over topic descriptors.
// Expressions see the variables `name`, `type_name`, and `qos`.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("type_name", cel.StringType),
		cel.Variable("qos", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

func (e *Evaluator) ValidateFilterExpression(expression string) error {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	return nil
}

// Compile prepares an expression for repeated evaluation.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return program, nil
}

// EvaluateFilter runs a compiled filter program against a topic.
func EvaluateFilter(ctx context.Context, program cel.Program, topic models.DdsTopic) (bool, error) {
	vars := map[string]interface{}{
		"name":      topic.Name,
		"type_name": topic.TypeName,
		"qos": map[string]interface{}{
			"reliability":   topic.QoS.Reliability,
			"durability":    topic.QoS.Durability,
			"ownership":     topic.QoS.Ownership,
			"history_depth": int64(topic.QoS.HistoryDepth),
			"keyed":         topic.QoS.Keyed,
		},
	}

	result, _, err := program.ContextEval(ctx, vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}
