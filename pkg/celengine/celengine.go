package celengine

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"go.uber.org/zap"
)

// Variables exposed to eligibility expressions.
const (
	VarPayload    = "payload"
	VarMembership = "membership"
	VarEvent      = "event"
)

var (
	envOnce sync.Once
	env     *cel.Env
	envErr  error

	programCache = sync.Map{}
)

// Env returns the shared CEL environment. Every variable is a string-keyed map
// so expressions can use has() for optional attributes.
func Env() (*cel.Env, error) {
	envOnce.Do(func() {
		mapType := cel.MapType(cel.StringType, cel.DynType)
		env, envErr = cel.NewEnv(
			cel.Variable(VarPayload, mapType),
			cel.Variable(VarMembership, mapType),
			cel.Variable(VarEvent, mapType),
		)
	})
	return env, envErr
}

// Compile type-checks expr and caches the resulting program.
func Compile(expr string) (cel.Program, error) {
	if v, ok := programCache.Load(expr); ok {
		return v.(cel.Program), nil
	}

	e, err := Env()
	if err != nil {
		return nil, err
	}

	ast, issues := e.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	if !ast.OutputType().IsExactType(cel.BoolType) && !ast.OutputType().IsExactType(cel.DynType) {
		return nil, fmt.Errorf("expression must return bool, got %s", ast.OutputType())
	}

	prg, err := e.Program(ast)
	if err != nil {
		return nil, err
	}

	programCache.Store(expr, prg)
	return prg, nil
}

func ValidateExpression(expr string) error {
	_, err := Compile(expr)
	return err
}

func Evaluate(expr string, attrs map[string]any) (bool, error) {
	prg, err := Compile(expr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(attrs)
	if err != nil {
		return false, err
	}

	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool from expression, got %T (%v)", out.Value(), out.Value())
	}

	return b, nil
}

// StructToMap round-trips s through JSON so CEL sees plain maps and lists.
func StructToMap(s any) map[string]any {
	if s == nil {
		return map[string]any{}
	}

	b, err := json.Marshal(s)
	if err != nil {
		zap.L().Debug("failed StructToMap Marshal", zap.Error(err))
		return map[string]any{}
	}

	var result map[string]any
	if err := json.Unmarshal(b, &result); err != nil {
		zap.L().Debug("failed StructToMap Unmarshal", zap.Error(err))
		return map[string]any{}
	}

	return result
}
