package cube

import (
	"fmt"
	"math"
	"strings"

	goeval "github.com/edisonguo/govaluate"
)

// BandExpr is a compiled per-pixel arithmetic expression over named
// bands. Referenced band names are validated at construction, before
// any read can happen; evaluation failures at read time degrade to
// no-data instead of aborting a chunk.
type BandExpr struct {
	Text string
	Vars []string

	expr *goeval.EvaluableExpression
}

// NewBandExpr compiles expression and checks every variable it
// references against the available band set.
func NewBandExpr(expression string, bands []string) (*BandExpr, error) {
	if len(strings.TrimSpace(expression)) == 0 {
		return nil, &ConfigError{Field: "expression", Reason: "empty expression"}
	}

	expr, err := goeval.NewEvaluableExpression(expression)
	if err != nil {
		return nil, &ConfigError{Field: "expression", Reason: fmt.Sprintf("%q: %v", expression, err)}
	}

	validVars := make(map[string]struct{})
	for _, b := range bands {
		validVars[b] = struct{}{}
	}

	be := &BandExpr{Text: expression, expr: expr}
	seen := make(map[string]bool)
	for _, token := range expr.Tokens() {
		if token.Kind != goeval.VARIABLE {
			continue
		}
		varName, ok := token.Value.(string)
		if !ok {
			return nil, &ConfigError{Field: "expression", Reason: fmt.Sprintf("variable token '%v' failed to cast string", token.Value)}
		}
		if _, found := validVars[varName]; !found {
			return nil, &ConfigError{Field: "expression", Reason: fmt.Sprintf("band %q is not in the upstream band set %v", varName, bands)}
		}
		if !seen[varName] {
			seen[varName] = true
			be.Vars = append(be.Vars, varName)
		}
	}

	return be, nil
}

// Eval computes the expression for one pixel. Any no-data input, an
// evaluation error, or a non-finite result yields no-data.
func (be *BandExpr) Eval(params map[string]interface{}) float32 {
	for _, name := range be.Vars {
		v, ok := params[name].(float64)
		if !ok || math.IsNaN(v) {
			return NoData()
		}
	}

	res, err := be.expr.Evaluate(params)
	if err != nil {
		return NoData()
	}

	out, ok := res.(float64)
	if !ok || math.IsNaN(out) || math.IsInf(out, 0) {
		return NoData()
	}
	return float32(out)
}
