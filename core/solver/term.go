package solver

import "fmt"

// Sense is the direction of a constraint against zero.
type Sense int

const (
	senseLE Sense = iota
	senseGE
	senseEQ
)

// Constraint is a vector constraint expr <= 0, expr >= 0 or expr == 0.
type Constraint struct {
	expr  Expr
	sense Sense
}

// LessEq returns the constraint a <= b.
func LessEq(a, b Expr) Constraint { return Constraint{Sub(a, b), senseLE} }

// GreaterEq returns the constraint a >= b.
func GreaterEq(a, b Expr) Constraint { return Constraint{Sub(a, b), senseGE} }

// Equal returns the constraint a == b.
func Equal(a, b Expr) Constraint { return Constraint{Sub(a, b), senseEQ} }

// UpperBound returns the scalar bound a <= ub applied elementwise.
func UpperBound(a Expr, ub float64) Constraint {
	return LessEq(a, ConstScalar(ub, a.Len()))
}

// LowerBound returns the scalar bound a >= lb applied elementwise.
func LowerBound(a Expr, lb float64) Constraint {
	return GreaterEq(a, ConstScalar(lb, a.Len()))
}

// AbsUpperBound returns |a| <= ub as the pair of linear constraints.
func AbsUpperBound(a Expr, ub float64) []Constraint {
	return []Constraint{UpperBound(a, ub), LowerBound(a, -ub)}
}

type termKind int

const (
	kindSumSquares termKind = iota
	kindLinear
	kindMaxAbs
)

// Term is one convex scalar contribution to the minimised objective.
type Term struct {
	kind    termKind
	expr    Expr
	weights []float64
	scale   float64
}

// SumSquares returns the term w * sum_i e_i^2.
func SumSquares(e Expr, w float64) Term {
	if w < 0 {
		panic("solver: SumSquares weight must be nonnegative")
	}
	return Term{kind: kindSumSquares, expr: e, scale: w}
}

// WeightedSumSquares returns the term sum_i w_i * e_i^2 with w_i >= 0.
func WeightedSumSquares(e Expr, w []float64) Term {
	if e.Len() != len(w) {
		panic(fmt.Sprintf("solver: WeightedSumSquares dimension mismatch %d vs %d", e.Len(), len(w)))
	}
	for _, wi := range w {
		if wi < 0 {
			panic("solver: WeightedSumSquares weights must be nonnegative")
		}
	}
	ws := make([]float64, len(w))
	copy(ws, w)
	return Term{kind: kindSumSquares, expr: e, weights: ws, scale: 1}
}

// Linear returns the term c^T e.
func Linear(c []float64, e Expr) Term {
	if e.Len() != len(c) {
		panic(fmt.Sprintf("solver: Linear dimension mismatch %d vs %d", e.Len(), len(c)))
	}
	cs := make([]float64, len(c))
	copy(cs, c)
	return Term{kind: kindLinear, expr: e, weights: cs, scale: 1}
}

// MaxAbs returns the term scale * max_i w_i*|e_i|, encoded via an epigraph
// variable at compile time. Weights must be nonnegative.
func MaxAbs(e Expr, w []float64, scale float64) Term {
	if e.Len() != len(w) {
		panic(fmt.Sprintf("solver: MaxAbs dimension mismatch %d vs %d", e.Len(), len(w)))
	}
	for _, wi := range w {
		if wi < 0 {
			panic("solver: MaxAbs weights must be nonnegative")
		}
	}
	ws := make([]float64, len(w))
	copy(ws, w)
	return Term{kind: kindMaxAbs, expr: e, weights: ws, scale: scale}
}
