package filter

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// CompileExpr turns a boolean expr-lang expression into a Predicate. The
// candidate is bound to the variable `name`, e.g.
//
//	name startsWith "com/acme/" && !(name contains "/internal/")
func CompileExpr(src string) (Predicate, error) {
	program, err := expr.Compile(src, expr.Env(scriptEnv("")), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compiling filter script: %w", err)
	}
	return exprPredicate(program), nil
}

func exprPredicate(program *vm.Program) Predicate {
	return func(name string) (bool, error) {
		out, err := expr.Run(program, scriptEnv(name))
		if err != nil {
			return false, err
		}
		ok, isBool := out.(bool)
		if !isBool {
			return false, fmt.Errorf("filter script returned %T, want bool", out)
		}
		return ok, nil
	}
}

func scriptEnv(name string) map[string]any {
	return map[string]any{"name": name}
}
