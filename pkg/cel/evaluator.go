package cel

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"natsgate/pkg/models"
)

// Evaluator compiles step conditions against the envelope variables:
// subject, method, requestHeaders, cookies, queryParams, extendedProperties,
// responseStatusCode and shouldTerminateRequest.
type Evaluator struct {
	env *cel.Env
}

func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("subject", cel.StringType),
		cel.Variable("method", cel.StringType),
		cel.Variable("requestHeaders", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("cookies", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("queryParams", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("extendedProperties", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("responseStatusCode", cel.IntType),
		cel.Variable("shouldTerminateRequest", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Evaluator{env: env}, nil
}

// Condition is a compiled boolean expression.
type Condition struct {
	expression string
	program    cel.Program
}

func (c *Condition) String() string {
	return c.expression
}

// Compile checks that expression type-checks to bool and prepares it for
// repeated evaluation.
func (e *Evaluator) Compile(expression string) (*Condition, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL expression validation failed: %w", issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("condition must return bool, got %v", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	return &Condition{expression: expression, program: program}, nil
}

func (e *Evaluator) ValidateExpression(expression string) error {
	_, err := e.Compile(expression)
	return err
}

// Evaluate runs the condition against env.
func (c *Condition) Evaluate(ctx context.Context, env *models.Envelope) (bool, error) {
	result, _, err := c.program.ContextEval(ctx, Vars(env))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate CEL expression: %w", err)
	}

	boolVal, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression did not return bool, got %T", result.Value())
	}

	return boolVal, nil
}

// Vars exposes env to expressions. method is the first subject token.
func Vars(env *models.Envelope) map[string]interface{} {
	return map[string]interface{}{
		"subject":                env.Subject,
		"method":                 env.Method(),
		"requestHeaders":         nonNil(env.RequestHeaders),
		"cookies":                nonNil(env.Cookies),
		"queryParams":            nonNil(env.QueryParams),
		"extendedProperties":     nonNil(env.ExtendedProperties),
		"responseStatusCode":     int64(env.ResponseStatusCode),
		"shouldTerminateRequest": env.ShouldTerminateRequest,
	}
}

func nonNil(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}
