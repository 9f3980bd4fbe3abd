package solver

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Status is the outcome of a solve.
type Status int

const (
	StatusOptimal Status = iota
	StatusInfeasible
	StatusUnbounded
	StatusMaxIterations
	StatusSolverError
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusMaxIterations:
		return "max_iterations"
	default:
		return "solver_error"
	}
}

// SolutionPresent reports whether the status carries usable variable values.
func (s Status) SolutionPresent() bool { return s == StatusOptimal }

// ErrInfeasible indicates the problem admitted no feasible point.
var ErrInfeasible = errors.New("problem infeasible")

// Solution holds the solved variable values keyed by name.
type Solution struct {
	Status     Status
	Objective  float64
	Iterations int
	Runtime    time.Duration

	x     []float64
	model *Model
}

// Value returns the solved value of the named variable as a rows x cols
// matrix, or nil when the variable is unknown or no solution is present.
func (s *Solution) Value(name string) *mat.Dense {
	v, ok := s.model.byName[name]
	if !ok || s.x == nil {
		return nil
	}
	out := mat.NewDense(v.rows, v.cols, nil)
	for c := 0; c < v.cols; c++ {
		for r := 0; r < v.rows; r++ {
			out.Set(r, c, s.x[v.offset+c*v.rows+r])
		}
	}
	return out
}

// VecValue returns a vector variable's solved values in step order.
func (s *Solution) VecValue(name string) []float64 {
	v, ok := s.model.byName[name]
	if !ok || s.x == nil {
		return nil
	}
	out := make([]float64, v.Len())
	copy(out, s.x[v.offset:v.offset+v.Len()])
	return out
}

// Eval evaluates an affine expression at the solution point.
func (s *Solution) Eval(e Expr) []float64 {
	out := make([]float64, e.Len())
	copy(out, e.c)
	if s.x == nil {
		return out
	}
	for v, m := range e.coeffs {
		for i := 0; i < e.Len(); i++ {
			for k := 0; k < v.Len(); k++ {
				if val := m.At(i, k); val != 0 {
					out[i] += val * s.x[v.offset+k]
				}
			}
		}
	}
	return out
}

// solveFn runs one continuous QP; tests override it to simulate failures.
var solveFn = solveQP

// solveWithBinaries solves the relaxation and restores integrality on the
// binary entries by a dive and fix search: repeatedly round the most
// fractional binary, pinning its box row, and re-solve. An infeasible fix
// is flipped once before giving up.
func solveWithBinaries(d *qpData, o Options) qpResult {
	start := time.Now()
	normalizeRows(d)

	res := solveFn(d, o)
	totalIters := res.iterations
	if res.status != StatusOptimal || len(d.bins) == 0 {
		res.iterations = totalIters
		res.runtime = time.Since(start)
		return res
	}

	const intTol = 1e-5
	maxNodes := 3*len(d.bins) + 10
	for node := 0; node < maxNodes; node++ {
		// Most fractional unfixed binary.
		best := -1
		bestFrac := intTol
		for _, b := range d.bins {
			if d.l[b.row] == d.u[b.row] {
				continue
			}
			frac := math.Min(res.x[b.col], 1-res.x[b.col])
			if frac > bestFrac {
				bestFrac = frac
				best = b.row
			}
		}
		if best == -1 {
			break
		}
		var ref binRef
		for _, b := range d.bins {
			if b.row == best {
				ref = b
			}
		}
		fix := math.Round(res.x[ref.col])
		d.l[ref.row], d.u[ref.row] = fix, fix
		next := solveFn(d, o)
		totalIters += next.iterations
		if next.status != StatusOptimal {
			// Flip once before declaring the node dead.
			fix = 1 - fix
			d.l[ref.row], d.u[ref.row] = fix, fix
			next = solveFn(d, o)
			totalIters += next.iterations
			if next.status != StatusOptimal {
				next.iterations = totalIters
				next.runtime = time.Since(start)
				return next
			}
		}
		res = next
	}

	// Snap near integral values exactly.
	for _, b := range d.bins {
		res.x[b.col] = math.Round(res.x[b.col])
	}
	res.iterations = totalIters
	res.runtime = time.Since(start)
	return res
}
