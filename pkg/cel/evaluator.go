package cel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"
)

// Vars is the activation a filter expression is evaluated against.
type Vars struct {
	Topic   string
	Channel string
	Event   string
	Key     string
	Data    json.RawMessage
}

// Filter is a compiled boolean expression deciding whether a routed message
// is delivered, e.g. `channel.startsWith("orders") && data.amount > 100.0`.
type Filter struct {
	expression string
	program    cel.Program
}

func newEnv() (*cel.Env, error) {
	env, err := cel.NewEnv(
		cel.Variable("topic", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("event", cel.StringType),
		cel.Variable("key", cel.StringType),
		cel.Variable("data", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
}

func ValidateFilterExpression(expression string) error {
	_, err := NewFilter(expression)
	return err
}

func NewFilter(expression string) (*Filter, error) {
	env, err := newEnv()
	if err != nil {
		return nil, err
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("filter expression must return bool, got %v", ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Filter{expression: expression, program: program}, nil
}

func (f *Filter) Expression() string {
	return f.expression
}

func (f *Filter) Match(ctx context.Context, v Vars) (bool, error) {
	var data interface{} = map[string]interface{}{}
	if len(v.Data) > 0 {
		if err := json.Unmarshal(v.Data, &data); err != nil {
			return false, fmt.Errorf("failed to decode data for CEL: %w", err)
		}
	}

	result, _, err := f.program.ContextEval(ctx, map[string]interface{}{
		"topic":   v.Topic,
		"channel": v.Channel,
		"event":   v.Event,
		"key":     v.Key,
		"data":    data,
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}
	return matched, nil
}
