package snsgw

import (
	"fmt"
	"os"
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"
)

// FilterEnv provides a CEL environment configured for evaluating forward
// rules against webhook results.
type FilterEnv struct {
	env *cel.Env
}

// NewFilterEnv creates a new CEL environment with the webhook types
// registered. Field names in CEL expressions use lowerCamelCase (matching
// JSON tags), except the payload fields which keep the backend's wire casing
// (payload.TopicArn, payload.Subject).
func NewFilterEnv() (*FilterEnv, error) {
	env, err := cel.NewEnv(
		ext.NativeTypes(
			ext.ParseStructTag("json"),
			reflect.TypeOf(&WebhookResult{}),
			reflect.TypeOf(&WebhookPayload{}),
		),
		cel.Variable("result", cel.ObjectType("snsgw.WebhookResult")),
		cel.Variable("payload", cel.ObjectType("snsgw.WebhookPayload")),
		cel.Variable("kind", cel.StringType),
		cel.Variable("topicArn", cel.StringType),
		cel.Variable("subject", cel.StringType),
		ext.Strings(),
		cel.Function("env",
			cel.Overload("env_string",
				[]*cel.Type{cel.StringType},
				cel.StringType,
				cel.UnaryBinding(func(arg ref.Val) ref.Val {
					name, ok := arg.Value().(string)
					if !ok {
						return types.NewErr("env() requires a string argument")
					}
					return types.String(os.Getenv(name))
				}),
			),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &FilterEnv{env: env}, nil
}

// Filter is a compiled boolean CEL expression.
type Filter struct {
	program cel.Program
}

// Compile compiles a CEL expression string. The expression must return bool.
func (e *FilterEnv) Compile(expr string) (*Filter, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile CEL expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("CEL expression must return bool, got %s", ast.OutputType())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}
	return &Filter{program: prg}, nil
}

// Eval evaluates the filter against the given webhook result.
func (f *Filter) Eval(result *WebhookResult) (bool, error) {
	if result == nil {
		return false, nil
	}
	payload := result.Payload
	if payload == nil {
		payload = &WebhookPayload{}
	}
	vars := map[string]any{
		"result":   result,
		"payload":  payload,
		"kind":     result.Kind,
		"topicArn": payload.TopicARN,
		"subject":  payload.Subject,
	}
	out, _, err := f.program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression returned non-bool value: %T", out.Value())
	}
	return b, nil
}
