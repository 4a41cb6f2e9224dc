package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/credential-engine/go-core/pkg/types"
)

// CELEngine compiles and evaluates CEL expressions used by condition nodes
// of kind "cel". Compiled programs are cached by expression string.
type CELEngine struct {
	env      *cel.Env
	programs sync.Map // map[string]cel.Program
}

// NewCELEngine creates a CEL engine exposing the request context as the
// variable "context"
func NewCELEngine() (*CELEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("context", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env}, nil
}

// Compile compiles an expression and caches the result
func (e *CELEngine) Compile(expr string) (cel.Program, error) {
	if prog, ok := e.programs.Load(expr); ok {
		return prog.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compilation failed: %w", issues.Err())
	}

	prog, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program creation failed: %w", err)
	}

	e.programs.Store(expr, prog)
	return prog, nil
}

// EvaluateBool evaluates an expression against the request context.
// Any compile/eval error or non-bool result evaluates false, keeping
// condition evaluation total.
func (e *CELEngine) EvaluateBool(expr string, ctx types.RequestContext) bool {
	prog, err := e.Compile(expr)
	if err != nil {
		return false
	}

	out, _, err := prog.Eval(map[string]interface{}{
		"context": map[string]interface{}(ctx),
	})
	if err != nil {
		return false
	}

	result, ok := out.Value().(bool)
	return ok && result
}
