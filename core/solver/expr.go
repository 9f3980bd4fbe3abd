package solver

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Variable is a matrix valued decision variable. Entries are stored column
// major, so a (zones x K) variable stacks one time step after another.
type Variable struct {
	name   string
	rows   int
	cols   int
	nonneg bool
	binary bool
	offset int // column offset in the assembled problem, set at compile time
}

// Name returns the logical variable name used for result lookup.
func (v *Variable) Name() string { return v.name }

// Rows returns the row dimension.
func (v *Variable) Rows() int { return v.rows }

// Cols returns the column dimension.
func (v *Variable) Cols() int { return v.cols }

// Len returns the total number of scalar entries.
func (v *Variable) Len() int { return v.rows * v.cols }

// VarOption configures a variable at creation.
type VarOption func(*Variable)

// NonNeg constrains every entry of the variable to be >= 0.
func NonNeg() VarOption { return func(v *Variable) { v.nonneg = true } }

// Binary marks the variable as {0,1} valued. The relaxation is solved with
// box bounds and integrality is restored by the dive search.
func Binary() VarOption { return func(v *Variable) { v.binary = true } }

// Model is the variable registry shared by all device formulations that
// take part in one problem.
type Model struct {
	vars   []*Variable
	byName map[string]*Variable
}

// NewModel creates an empty model.
func NewModel() *Model {
	return &Model{byName: make(map[string]*Variable)}
}

// Var registers a rows x cols variable. Variable names must be unique
// within a model; the interpreter locates solved values by name.
func (m *Model) Var(name string, rows, cols int, opts ...VarOption) *Variable {
	if _, ok := m.byName[name]; ok {
		panic(fmt.Sprintf("solver: duplicate variable %q", name))
	}
	v := &Variable{name: name, rows: rows, cols: cols}
	for _, opt := range opts {
		opt(v)
	}
	m.vars = append(m.vars, v)
	m.byName[name] = v
	return v
}

// Vec registers a length n vector variable.
func (m *Model) Vec(name string, n int, opts ...VarOption) *Variable {
	return m.Var(name, 1, n, opts...)
}

// Expr is a vector valued affine expression C*x + d over the model's
// variables. Operations panic on dimension mismatch, matching the
// convention of gonum/mat.
type Expr struct {
	n      int
	coeffs map[*Variable]*mat.Dense // each n x var.Len()
	c      []float64                // length n
}

func newExpr(n int) Expr {
	return Expr{n: n, coeffs: make(map[*Variable]*mat.Dense), c: make([]float64, n)}
}

// Len returns the vector length of the expression.
func (e Expr) Len() int { return e.n }

func (e Expr) clone() Expr {
	out := newExpr(e.n)
	copy(out.c, e.c)
	for v, m := range e.coeffs {
		out.coeffs[v] = mat.DenseCopyOf(m)
	}
	return out
}

func (e Expr) coeff(v *Variable) *mat.Dense {
	if m, ok := e.coeffs[v]; ok {
		return m
	}
	m := mat.NewDense(e.n, v.Len(), nil)
	e.coeffs[v] = m
	return m
}

// Expr returns the identity expression over all entries of the variable,
// column major.
func (v *Variable) Expr() Expr {
	return v.Slice(0, v.Len())
}

// Slice returns the identity expression over flat entries [a, b).
func (v *Variable) Slice(a, b int) Expr {
	if a < 0 || b > v.Len() || a > b {
		panic("solver: slice out of range")
	}
	e := newExpr(b - a)
	m := e.coeff(v)
	for i := 0; i < b-a; i++ {
		m.Set(i, a+i, 1)
	}
	return e
}

// Col returns column j of the variable as a length rows expression.
func (v *Variable) Col(j int) Expr {
	return v.Slice(j*v.rows, (j+1)*v.rows)
}

// ColRange returns columns [a, b) stacked column major.
func (v *Variable) ColRange(a, b int) Expr {
	return v.Slice(a*v.rows, b*v.rows)
}

// Entry returns the single entry (r, c).
func (v *Variable) Entry(r, c int) Expr {
	return v.Slice(c*v.rows+r, c*v.rows+r+1)
}

// ColSums returns the length cols expression whose entry j sums column j.
func (v *Variable) ColSums() Expr {
	e := newExpr(v.cols)
	m := e.coeff(v)
	for j := 0; j < v.cols; j++ {
		for r := 0; r < v.rows; r++ {
			m.Set(j, j*v.rows+r, 1)
		}
	}
	return e
}

// Const builds a constant expression from the given values.
func Const(vals []float64) Expr {
	e := newExpr(len(vals))
	copy(e.c, vals)
	return e
}

// ConstScalar builds a length n constant expression filled with s.
func ConstScalar(s float64, n int) Expr {
	e := newExpr(n)
	for i := range e.c {
		e.c[i] = s
	}
	return e
}

// Add returns a + b.
func Add(a, b Expr) Expr {
	if a.n != b.n {
		panic(fmt.Sprintf("solver: Add dimension mismatch %d vs %d", a.n, b.n))
	}
	out := a.clone()
	for i := range out.c {
		out.c[i] += b.c[i]
	}
	for v, m := range b.coeffs {
		dst := out.coeff(v)
		dst.Add(dst, m)
	}
	return out
}

// Sub returns a - b.
func Sub(a, b Expr) Expr {
	return Add(a, Scale(b, -1))
}

// Scale returns s * a.
func Scale(a Expr, s float64) Expr {
	out := a.clone()
	for i := range out.c {
		out.c[i] *= s
	}
	for _, m := range out.coeffs {
		m.Scale(s, m)
	}
	return out
}

// MulElem returns the elementwise product of a with the data vector w.
func MulElem(a Expr, w []float64) Expr {
	if a.n != len(w) {
		panic(fmt.Sprintf("solver: MulElem dimension mismatch %d vs %d", a.n, len(w)))
	}
	out := a.clone()
	for i := range out.c {
		out.c[i] *= w[i]
	}
	for _, m := range out.coeffs {
		r, c := m.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				if val := m.At(i, j); val != 0 {
					m.Set(i, j, val*w[i])
				}
			}
		}
	}
	return out
}

// MatMulEach applies the constant matrix M to every step block of a. The
// expression a must stack steps blocks of M's column count; the result
// stacks steps blocks of M's row count.
func MatMulEach(M *mat.Dense, a Expr, steps int) Expr {
	mr, mc := M.Dims()
	if a.n != mc*steps {
		panic(fmt.Sprintf("solver: MatMulEach dimension mismatch %d vs %d*%d", a.n, mc, steps))
	}
	out := newExpr(mr * steps)
	for s := 0; s < steps; s++ {
		for i := 0; i < mr; i++ {
			row := s*mr + i
			for j := 0; j < mc; j++ {
				coef := M.At(i, j)
				if coef == 0 {
					continue
				}
				src := s*mc + j
				out.c[row] += coef * a.c[src]
				for v, m := range a.coeffs {
					dst := out.coeff(v)
					for k := 0; k < v.Len(); k++ {
						if val := m.At(src, k); val != 0 {
							dst.Set(row, k, dst.At(row, k)+coef*val)
						}
					}
				}
			}
		}
	}
	return out
}

// SumExprs returns the elementwise sum of the given expressions.
func SumExprs(exprs ...Expr) Expr {
	if len(exprs) == 0 {
		panic("solver: SumExprs needs at least one expression")
	}
	out := exprs[0].clone()
	for _, e := range exprs[1:] {
		out = Add(out, e)
	}
	return out
}
