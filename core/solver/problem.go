package solver

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Problem accumulates objective terms and constraints over one model and
// compiles them into standard form
//
//	minimise 1/2 x'Px + q'x  subject to  l <= Ax <= u
//
// with binary variables relaxed to [0,1] and restored by the dive search.
type Problem struct {
	model *Model
	terms []Term
	cons  []Constraint
}

// NewProblem creates an empty problem over the model.
func NewProblem(m *Model) *Problem {
	return &Problem{model: m}
}

// AddTerm appends objective terms.
func (p *Problem) AddTerm(ts ...Term) { p.terms = append(p.terms, ts...) }

// AddConstraint appends constraints.
func (p *Problem) AddConstraint(cs ...Constraint) { p.cons = append(p.cons, cs...) }

// binRef ties a binary variable entry to its box-bound row.
type binRef struct {
	row int
	col int
}

type qpData struct {
	n    int
	P    *mat.SymDense
	q    []float64
	rows [][]float64
	l, u []float64
	bins []binRef
}

// flattenRow expands one entry of an expression into a dense coefficient
// row over the full variable vector.
func flattenRow(e Expr, i, n int) []float64 {
	row := make([]float64, n)
	for v, m := range e.coeffs {
		for k := 0; k < v.Len(); k++ {
			if val := m.At(i, k); val != 0 {
				row[v.offset+k] = val
			}
		}
	}
	return row
}

func (p *Problem) compile() (*qpData, error) {
	// Epigraph variables for max-norm terms are registered before offsets
	// are assigned.
	epi := make(map[int]*Variable)
	for ti, t := range p.terms {
		if t.kind == kindMaxAbs {
			epi[ti] = p.model.Vec(fmt.Sprintf("_epigraph_%d", ti), 1)
		}
	}

	n := 0
	for _, v := range p.model.vars {
		v.offset = n
		n += v.Len()
	}

	d := &qpData{n: n, P: mat.NewSymDense(n, nil), q: make([]float64, n)}

	addQuadRow := func(row []float64, c, w float64) {
		// J += w * (row.x + c)^2
		for i, ri := range row {
			if ri == 0 {
				continue
			}
			for j := i; j < n; j++ {
				if rj := row[j]; rj != 0 {
					d.P.SetSym(i, j, d.P.At(i, j)+2*w*ri*rj)
				}
			}
			d.q[i] += 2 * w * c * ri
		}
	}

	addRow := func(row []float64, lo, hi float64) {
		d.rows = append(d.rows, row)
		d.l = append(d.l, lo)
		d.u = append(d.u, hi)
	}

	for ti, t := range p.terms {
		switch t.kind {
		case kindSumSquares:
			for i := 0; i < t.expr.Len(); i++ {
				w := t.scale
				if t.weights != nil {
					w = t.scale * t.weights[i]
				}
				if w == 0 {
					continue
				}
				addQuadRow(flattenRow(t.expr, i, n), t.expr.c[i], w)
			}
		case kindLinear:
			for i := 0; i < t.expr.Len(); i++ {
				ci := t.weights[i]
				if ci == 0 {
					continue
				}
				row := flattenRow(t.expr, i, n)
				for j, rj := range row {
					d.q[j] += ci * rj
				}
				// Constant offsets do not influence the minimiser.
			}
		case kindMaxAbs:
			tv := epi[ti]
			d.q[tv.offset] += t.scale
			for i := 0; i < t.expr.Len(); i++ {
				w := t.weights[i]
				if w == 0 {
					continue
				}
				row := flattenRow(t.expr, i, n)
				// w*(row.x + c) - t <= 0 and -w*(row.x + c) - t <= 0.
				pos := make([]float64, n)
				neg := make([]float64, n)
				for j, rj := range row {
					pos[j] = w * rj
					neg[j] = -w * rj
				}
				pos[tv.offset] -= 1
				neg[tv.offset] -= 1
				addRow(pos, math.Inf(-1), -w*t.expr.c[i])
				addRow(neg, math.Inf(-1), w*t.expr.c[i])
			}
			// The epigraph value itself is nonnegative.
			row := make([]float64, n)
			row[tv.offset] = 1
			addRow(row, 0, math.Inf(1))
		}
	}

	for _, c := range p.cons {
		for i := 0; i < c.expr.Len(); i++ {
			row := flattenRow(c.expr, i, n)
			rhs := -c.expr.c[i]
			switch c.sense {
			case senseLE:
				addRow(row, math.Inf(-1), rhs)
			case senseGE:
				addRow(row, rhs, math.Inf(1))
			case senseEQ:
				addRow(row, rhs, rhs)
			}
		}
	}

	// Variable bounds as identity rows.
	for _, v := range p.model.vars {
		if !v.nonneg && !v.binary {
			continue
		}
		hi := math.Inf(1)
		if v.binary {
			hi = 1
		}
		for k := 0; k < v.Len(); k++ {
			row := make([]float64, n)
			row[v.offset+k] = 1
			addRow(row, 0, hi)
			if v.binary {
				d.bins = append(d.bins, binRef{row: len(d.rows) - 1, col: v.offset + k})
			}
		}
	}

	return d, nil
}

// Solve compiles and solves the problem. The returned solution carries the
// solver status; callers decide how to react to non optimal statuses.
func (p *Problem) Solve(opts ...Option) (*Solution, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d, err := p.compile()
	if err != nil {
		return nil, err
	}
	res := solveWithBinaries(d, o)
	sol := &Solution{
		Status:     res.status,
		Objective:  res.objective,
		Iterations: res.iterations,
		Runtime:    res.runtime,
		x:          res.x,
		model:      p.model,
	}
	return sol, nil
}
