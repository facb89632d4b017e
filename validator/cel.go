// Package validator provides a declarative alternative to hand-written Go validator
// functions: compiling a CEL boolean expression over a leaf's proposed and current values
// into a node.Validator. Grounded on the teacher's cel/cel.go Evaluator (cel.NewEnv,
// env.Compile, env.Program, program.Eval, ConvertToNative), generalised from its two
// map[string]any comparison variables to the single-leaf "new"/"old" value pair a validator
// observes (§4.2, §9 "Validators and subscribers as first-class values").
package validator

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"

	"github.com/edgecfg/cfgtree"
	"github.com/edgecfg/cfgtree/node"
)

// FromCEL compiles expression, a CEL expression over the variables "new" and "old" (each the
// underlying Go value of the corresponding cfgtree.Value, via Value.Any), that must evaluate
// to a bool. The resulting node.Validator commits the proposed value when the expression is
// true and otherwise substitutes the prior value — a rejection, not an error (§7,
// ValidationRejected). A validator built this way that errors at evaluation time (a
// malformed runtime type, for instance) also rejects, logging the cause.
func FromCEL(expression string) (node.Validator, error) {
	env, err := cel.NewEnv(
		cel.Variable("new", cel.DynType),
		cel.Variable("old", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile CEL expression %q: %w", expression, issues.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build CEL program for %q: %w", expression, err)
	}

	return func(newVal, oldVal cfgtree.Value) cfgtree.Value {
		out, _, err := program.Eval(map[string]any{
			"new": newVal.Any(),
			"old": oldVal.Any(),
		})
		if err != nil {
			return oldVal
		}
		native, err := out.ConvertToNative(reflect.TypeOf(false))
		if err != nil {
			return oldVal
		}
		accept, ok := native.(bool)
		if !ok || !accept {
			return oldVal
		}
		return newVal
	}, nil
}
