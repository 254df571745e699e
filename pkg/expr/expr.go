// Package expr evaluates user expressions against a row's bindings.
//
// Expressions are CEL programs compiled once per operation and evaluated
// once per unit. The bindings expose the base column's value as `value`,
// the full row as `cells` (a map from column name to value) and the row
// position as `row_index`.
package expr

import (
	"errors"
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/gridwell/gridwell/pkg/grid"
)

var (
	// ErrEmptyExpression is returned when an expression source is blank.
	ErrEmptyExpression = errors.New("expression cannot be empty")
)

// EvalError is the typed failure indicator an evaluation can produce. It is
// a value, not a control-flow error: callers may store it in a cell.
type EvalError struct {
	Message string
}

func (e *EvalError) Error() string { return fmt.Sprintf("eval error: %s", e.Message) }

// CompiledExpr is a compiled expression ready for repeated evaluation.
// Programs are safe for concurrent use across goroutines.
type CompiledExpr struct {
	source  string
	program cel.Program
}

// Source returns the original expression text.
func (c *CompiledExpr) Source() string { return c.source }

// Compiler compiles expression sources against the row environment.
type Compiler struct {
	env *cel.Env
}

// NewCompiler builds a compiler with the row bindings declared.
func NewCompiler() (*Compiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("value", cel.DynType),
		cel.Variable("cells", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("row_index", cel.IntType),
		ext.Strings(),
		ext.Encoders(),
	)
	if err != nil {
		return nil, fmt.Errorf("build env: %w", err)
	}
	return &Compiler{env: env}, nil
}

// Compile compiles an expression source.
func (c *Compiler) Compile(source string) (*CompiledExpr, error) {
	if source == "" {
		return nil, ErrEmptyExpression
	}
	ast, issues := c.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile: %w", issues.Err())
	}
	prog, err := c.env.Program(ast, cel.EvalOptions(cel.OptOptimize))
	if err != nil {
		return nil, fmt.Errorf("program: %w", err)
	}
	return &CompiledExpr{source: source, program: prog}, nil
}

// Bindings builds the activation map for one unit. baseIndex selects the
// column whose value is exposed as `value`; a missing or error cell binds
// `value` to nil.
func Bindings(u grid.Unit, model *grid.ColumnModel, baseIndex int) map[string]any {
	cells := make(map[string]any, model.ColumnCount())
	for i, col := range model.Columns() {
		c := u.Row.Cell(i)
		if c == nil || c.IsError() {
			cells[col.Name] = nil
			continue
		}
		cells[col.Name] = c.Value
	}

	var value any
	if c := u.Row.Cell(baseIndex); c != nil && !c.IsError() {
		value = c.Value
	}

	return map[string]any{
		"value":     value,
		"cells":     cells,
		"row_index": int64(u.Index),
	}
}

// Eval evaluates a compiled expression against one unit's bindings. The
// outcome is either a concrete value, nil (legitimately empty), or an
// *EvalError value when the program itself fails.
func Eval(expr *CompiledExpr, vars map[string]any) any {
	out, _, err := expr.program.Eval(vars)
	if err != nil {
		return &EvalError{Message: err.Error()}
	}
	v := out.Value()
	if v == nil {
		return nil
	}
	return v
}
