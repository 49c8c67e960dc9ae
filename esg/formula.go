/*
formula.go - Sandboxed arithmetic expression evaluator for computed fields

PURPOSE:
  Computed fields carry a formula string such as "SCOPE1 + SCOPE2" or
  "(ENERGY - RENEWABLE) / HEADCOUNT". This file parses those expressions into
  an AST and evaluates them against resolved variable values. The grammar is
  arithmetic only: + - * /, parentheses, unary minus, decimal literals and
  named variables. Nothing else parses, so a formula can never reach the host
  language.

GRAMMAR (declarative, via participle):
  expr   = term   (("+" | "-") term)*
  term   = factor (("*" | "/") factor)*
  factor = NUMBER | IDENT | "-" factor | "(" expr ")"

EVALUATION:
  Decimal arithmetic throughout. Unknown variables and division by zero are
  reported as errors; the aggregation engine degrades those to a nil result
  plus a logged diagnostic rather than failing the surrounding request.

EXAMPLE:
  f, _ := esg.ParseFormula("A + B")
  v, _ := f.Eval(map[string]decimal.Decimal{
      "A": decimal.NewFromFloat(10.5),
      "B": decimal.NewFromInt(-2),
  })
  // v = 8.5

SEE ALSO:
  - field.go: VariableMapping binds formula variables to raw fields
  - aggregation.go: Substitutes reduced dependency values and evaluates
*/
package esg

import (
	"fmt"

	"github.com/alecthomas/participle/v2"
	"github.com/shopspring/decimal"
)

// =============================================================================
// GRAMMAR - Standard precedence-layered arithmetic
// =============================================================================

type formulaExpr struct {
	Left  *formulaTerm     `parser:"@@"`
	Right []*formulaOpTerm `parser:"@@*"`
}

type formulaOpTerm struct {
	Op   string       `parser:"@(\"+\" | \"-\")"`
	Term *formulaTerm `parser:"@@"`
}

type formulaTerm struct {
	Left  *formulaFactor     `parser:"@@"`
	Right []*formulaOpFactor `parser:"@@*"`
}

type formulaOpFactor struct {
	Op     string         `parser:"@(\"*\" | \"/\")"`
	Factor *formulaFactor `parser:"@@"`
}

type formulaFactor struct {
	Number   *string        `parser:"  (@Float | @Int)"`
	Variable *string        `parser:"| @Ident"`
	Negated  *formulaFactor `parser:"| \"-\" @@"`
	Sub      *formulaExpr   `parser:"| \"(\" @@ \")\""`
}

var formulaParser = participle.MustBuild[formulaExpr]()

// =============================================================================
// FORMULA - Parsed, reusable expression
// =============================================================================

// Formula is a parsed arithmetic expression. Parse once, evaluate many times.
type Formula struct {
	Source string
	ast    *formulaExpr
}

// ParseFormula parses an expression or fails with ErrMalformedFormula.
func ParseFormula(src string) (*Formula, error) {
	ast, err := formulaParser.ParseString("", src)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrMalformedFormula, src, err)
	}
	return &Formula{Source: src, ast: ast}, nil
}

// Variables returns the distinct variable names the formula references.
func (f *Formula) Variables() []string {
	seen := make(map[string]bool)
	var names []string
	var walkExpr func(e *formulaExpr)
	var walkFactor func(fa *formulaFactor)

	walkFactor = func(fa *formulaFactor) {
		switch {
		case fa.Variable != nil:
			if !seen[*fa.Variable] {
				seen[*fa.Variable] = true
				names = append(names, *fa.Variable)
			}
		case fa.Negated != nil:
			walkFactor(fa.Negated)
		case fa.Sub != nil:
			walkExpr(fa.Sub)
		}
	}
	walkExpr = func(e *formulaExpr) {
		walkTermVars(e.Left, walkFactor)
		for _, op := range e.Right {
			walkTermVars(op.Term, walkFactor)
		}
	}

	walkExpr(f.ast)
	return names
}

func walkTermVars(t *formulaTerm, visit func(*formulaFactor)) {
	visit(t.Left)
	for _, op := range t.Right {
		visit(op.Factor)
	}
}

// Eval evaluates the formula against the variable values.
func (f *Formula) Eval(vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	return evalExpr(f.ast, vars)
}

// =============================================================================
// EVALUATION - Decimal arithmetic over the AST
// =============================================================================

func evalExpr(e *formulaExpr, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	result, err := evalTerm(e.Left, vars)
	if err != nil {
		return decimal.Zero, err
	}
	for _, op := range e.Right {
		rhs, err := evalTerm(op.Term, vars)
		if err != nil {
			return decimal.Zero, err
		}
		switch op.Op {
		case "+":
			result = result.Add(rhs)
		case "-":
			result = result.Sub(rhs)
		}
	}
	return result, nil
}

func evalTerm(t *formulaTerm, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	result, err := evalFactor(t.Left, vars)
	if err != nil {
		return decimal.Zero, err
	}
	for _, op := range t.Right {
		rhs, err := evalFactor(op.Factor, vars)
		if err != nil {
			return decimal.Zero, err
		}
		switch op.Op {
		case "*":
			result = result.Mul(rhs)
		case "/":
			if rhs.IsZero() {
				return decimal.Zero, ErrDivisionByZero
			}
			result = result.Div(rhs)
		}
	}
	return result, nil
}

func evalFactor(fa *formulaFactor, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	switch {
	case fa.Number != nil:
		d, err := decimal.NewFromString(*fa.Number)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: bad literal %q", ErrMalformedFormula, *fa.Number)
		}
		return d, nil

	case fa.Variable != nil:
		v, ok := vars[*fa.Variable]
		if !ok {
			return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownVariable, *fa.Variable)
		}
		return v, nil

	case fa.Negated != nil:
		v, err := evalFactor(fa.Negated, vars)
		if err != nil {
			return decimal.Zero, err
		}
		return v.Neg(), nil

	case fa.Sub != nil:
		return evalExpr(fa.Sub, vars)

	default:
		return decimal.Zero, ErrMalformedFormula
	}
}
