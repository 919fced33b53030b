// Package expr implements the register Expression overlay (spec.md §4.3):
// a small hand-rolled recursive-descent parser and interpreter for the
// four-operator arithmetic grammar with a whitelisted function set, built
// once at load time and evaluated once per tick against a Resolver.
//
// This is deliberately not a generic eval: the grammar, the identifier
// set, and the function table are all fixed and validated at Compile
// time, so a compiled Expr can never reference anything outside the
// simulation's own namespace.
package expr

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Resolver looks up the current value of an identifier (a register name
// or a global variable name) during Eval. It is built fresh for every
// tick from a frozen snapshot of the Value Store and Global Variable
// Table (spec.md §9, cyclic-reference resolution).
type Resolver func(name string) (float64, bool)

// EvalError reports a runtime arithmetic failure — division by zero or a
// function domain error. Compile already rejects unresolved identifiers
// and unknown functions, so EvalError is reserved for failures that can
// only be detected with live values.
type EvalError struct {
	Expr   string
	Reason string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("expr: %s: %s", e.Expr, e.Reason)
}

type function func(args []float64) (float64, error)

func arity(n int, fn func(args []float64) float64) function {
	return func(args []float64) (float64, error) {
		if len(args) != n {
			return 0, fmt.Errorf("expects %d argument(s), got %d", n, len(args))
		}
		return fn(args), nil
	}
}

var functions = map[string]function{
	"min": arity(2, func(a []float64) float64 { return math.Min(a[0], a[1]) }),
	"max": arity(2, func(a []float64) float64 { return math.Max(a[0], a[1]) }),
	"sin": arity(1, func(a []float64) float64 { return math.Sin(a[0]) }),
	"cos": arity(1, func(a []float64) float64 { return math.Cos(a[0]) }),
	"abs": arity(1, func(a []float64) float64 { return math.Abs(a[0]) }),
	"pow": arity(2, func(a []float64) float64 { return math.Pow(a[0], a[1]) }),
	"sqrt": func(a []float64) (float64, error) {
		if len(a) != 1 {
			return 0, fmt.Errorf("expects 1 argument(s), got %d", len(a))
		}
		if a[0] < 0 {
			return 0, fmt.Errorf("sqrt of negative value %g", a[0])
		}
		return math.Sqrt(a[0]), nil
	},
	"exp": arity(1, func(a []float64) float64 { return math.Exp(a[0]) }),
	"log": func(a []float64) (float64, error) {
		if len(a) != 1 {
			return 0, fmt.Errorf("expects 1 argument(s), got %d", len(a))
		}
		if a[0] <= 0 {
			return 0, fmt.Errorf("log of non-positive value %g", a[0])
		}
		return math.Log(a[0]), nil
	},
}

var constants = map[string]float64{
	"pi": math.Pi,
}

// Expr is a compiled expression, ready for repeated Eval calls.
type Expr struct {
	source string
	root   node
}

// String returns the original expression text.
func (e *Expr) String() string { return e.source }

// Eval interprets the compiled tree against r. A leaf, operator or
// function failure is returned as an *EvalError, wrapped in an error whose
// message is prefixed with the source expression. A failed Eval yields 0
// for the register's derived value,
// with the error logged by the caller (spec.md §4.6, derive phase).
func (e *Expr) Eval(r Resolver) (float64, error) {
	v, err := e.root.eval(r)
	if err != nil {
		if ee, ok := err.(*EvalError); ok && ee.Expr == "" {
			ee.Expr = e.source
		}
		return 0, fmt.Errorf("%s: %w", e.source, err)
	}
	return v, nil
}

// Compile parses expression and validates every free identifier against
// known, the set of names the register model and global variable table
// will actually be able to resolve at tick time. An identifier that
// isn't in known is a load-time error (spec.md §9, Open Question 2) —
// Compile never defers that failure to Eval.
func Compile(expression string, known map[string]struct{}) (*Expr, error) {
	root, err := parse(expression)
	if err != nil {
		return nil, fmt.Errorf("expr: parse %q: %w", expression, err)
	}
	var missing []string
	collectIdents(root, func(name string) {
		if _, ok := known[name]; !ok {
			missing = append(missing, name)
		}
	})
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("expr: %q references unresolved identifier(s): %s", expression, strings.Join(missing, ", "))
	}
	return &Expr{source: expression, root: root}, nil
}

func collectIdents(n node, visit func(name string)) {
	switch v := n.(type) {
	case identNode:
		visit(v.name)
	case unaryNode:
		collectIdents(v.operand, visit)
	case binaryNode:
		collectIdents(v.left, visit)
		collectIdents(v.right, visit)
	case callNode:
		for _, a := range v.args {
			collectIdents(a, visit)
		}
	}
}
