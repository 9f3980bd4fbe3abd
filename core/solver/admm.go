package solver

import (
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
)

// Options tunes the ADMM iteration.
type Options struct {
	MaxIter   int
	EpsAbs    float64
	EpsRel    float64
	EpsInfeas float64
	Rho       float64
	RhoEq     float64
	Sigma     float64
	Alpha     float64
	CheckEach int
}

func defaultOptions() Options {
	return Options{
		MaxIter:   50000,
		EpsAbs:    1e-7,
		EpsRel:    1e-7,
		EpsInfeas: 1e-5,
		Rho:       0.1,
		RhoEq:     100,
		Sigma:     1e-6,
		Alpha:     1.6,
		CheckEach: 25,
	}
}

// Option overrides a solver option.
type Option func(*Options)

// WithMaxIter caps the ADMM iteration count.
func WithMaxIter(n int) Option { return func(o *Options) { o.MaxIter = n } }

// WithTolerance sets the absolute and relative convergence tolerances.
func WithTolerance(abs, rel float64) Option {
	return func(o *Options) { o.EpsAbs = abs; o.EpsRel = rel }
}

type qpResult struct {
	status     Status
	x          []float64
	objective  float64
	iterations int
	runtime    time.Duration
}

func infNorm(v []float64) float64 {
	m := 0.0
	for _, x := range v {
		if a := math.Abs(x); a > m {
			m = a
		}
	}
	return m
}

// normalizeRows scales each constraint row and its bounds to unit inf-norm
// so the fixed step size behaves across mixed physical units.
func normalizeRows(d *qpData) {
	for i, row := range d.rows {
		m := infNorm(row)
		if m == 0 || m == 1 {
			continue
		}
		inv := 1 / m
		for j := range row {
			row[j] *= inv
		}
		if !math.IsInf(d.l[i], -1) {
			d.l[i] *= inv
		}
		if !math.IsInf(d.u[i], 1) {
			d.u[i] *= inv
		}
	}
}

// solveQP runs the OSQP style ADMM iteration on the compiled data.
func solveQP(d *qpData, o Options) qpResult {
	n := d.n
	m := len(d.rows)

	if m == 0 {
		return solveUnconstrained(d, o)
	}

	rho := make([]float64, m)
	for i := range rho {
		if d.l[i] == d.u[i] {
			rho[i] = o.Rho * o.RhoEq
		} else {
			rho[i] = o.Rho
		}
	}

	// KKT matrix M = P + sigma*I + A' diag(rho) A, factorised once.
	kkt := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			kkt.SetSym(i, j, d.P.At(i, j))
		}
		kkt.SetSym(i, i, kkt.At(i, i)+o.Sigma)
	}
	for r, row := range d.rows {
		w := rho[r]
		for i, ri := range row {
			if ri == 0 {
				continue
			}
			for j := i; j < n; j++ {
				if rj := row[j]; rj != 0 {
					kkt.SetSym(i, j, kkt.At(i, j)+w*ri*rj)
				}
			}
		}
	}
	var chol mat.Cholesky
	if !chol.Factorize(kkt) {
		return qpResult{status: StatusSolverError}
	}

	x := make([]float64, n)
	z := make([]float64, m)
	y := make([]float64, m)
	ax := make([]float64, m)
	rhs := mat.NewVecDense(n, nil)
	xv := mat.NewVecDense(n, nil)
	dy := make([]float64, m)
	dx := make([]float64, n)

	matVec := func(dst []float64, xs []float64) {
		for r, row := range d.rows {
			s := 0.0
			for j, rj := range row {
				if rj != 0 {
					s += rj * xs[j]
				}
			}
			dst[r] = s
		}
	}
	matTVec := func(dst []float64, ys []float64) {
		for j := range dst {
			dst[j] = 0
		}
		for r, row := range d.rows {
			yr := ys[r]
			if yr == 0 {
				continue
			}
			for j, rj := range row {
				if rj != 0 {
					dst[j] += rj * yr
				}
			}
		}
	}

	aty := make([]float64, n)
	px := make([]float64, n)
	pMul := func(dst, xs []float64) {
		for i := 0; i < n; i++ {
			s := 0.0
			for j := 0; j < n; j++ {
				if p := d.P.At(i, j); p != 0 {
					s += p * xs[j]
				}
			}
			dst[i] = s
		}
	}

	iters := 0
	status := StatusMaxIterations
	tmp := make([]float64, m)
	for it := 1; it <= o.MaxIter; it++ {
		iters = it

		// x update: (P + sigma I + A'RA) x = sigma x - q + A'(rho z - y)
		for r := 0; r < m; r++ {
			tmp[r] = rho[r]*z[r] - y[r]
		}
		matTVec(aty, tmp)
		for j := 0; j < n; j++ {
			rhs.SetVec(j, o.Sigma*x[j]-d.q[j]+aty[j])
		}
		if err := chol.SolveVecTo(xv, rhs); err != nil {
			return qpResult{status: StatusSolverError, iterations: iters}
		}
		for j := 0; j < n; j++ {
			dx[j] = xv.AtVec(j) - x[j]
			x[j] = xv.AtVec(j)
		}

		matVec(ax, x)

		// z and y updates with relaxation.
		for r := 0; r < m; r++ {
			zt := o.Alpha*ax[r] + (1-o.Alpha)*z[r]
			zn := zt + y[r]/rho[r]
			if zn < d.l[r] {
				zn = d.l[r]
			} else if zn > d.u[r] {
				zn = d.u[r]
			}
			yn := y[r] + rho[r]*(zt-zn)
			dy[r] = yn - y[r]
			y[r] = yn
			z[r] = zn
		}

		if it%o.CheckEach != 0 {
			continue
		}

		// Residuals.
		rp := 0.0
		for r := 0; r < m; r++ {
			if a := math.Abs(ax[r] - z[r]); a > rp {
				rp = a
			}
		}
		pMul(px, x)
		matTVec(aty, y)
		rd := 0.0
		for j := 0; j < n; j++ {
			if a := math.Abs(px[j] + d.q[j] + aty[j]); a > rd {
				rd = a
			}
		}
		epsPrim := o.EpsAbs + o.EpsRel*math.Max(infNorm(ax), infNorm(z))
		epsDual := o.EpsAbs + o.EpsRel*math.Max(math.Max(infNorm(px), infNorm(d.q)), infNorm(aty))
		if rp <= epsPrim && rd <= epsDual {
			status = StatusOptimal
			break
		}
		if primalInfeasible(d, dy, o.EpsInfeas) {
			return qpResult{status: StatusInfeasible, iterations: iters}
		}
		if dualInfeasible(d, dx, o.EpsInfeas) {
			return qpResult{status: StatusUnbounded, iterations: iters}
		}
	}

	if status == StatusOptimal {
		if xp, ok := polish(d, x, z, y); ok {
			x = xp
		}
	}

	return qpResult{status: status, x: x, objective: objective(d, x), iterations: iters}
}

func solveUnconstrained(d *qpData, o Options) qpResult {
	n := d.n
	kkt := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			kkt.SetSym(i, j, d.P.At(i, j))
		}
		kkt.SetSym(i, i, kkt.At(i, i)+o.Sigma)
	}
	var chol mat.Cholesky
	if !chol.Factorize(kkt) {
		return qpResult{status: StatusSolverError}
	}
	rhs := mat.NewVecDense(n, nil)
	for j := 0; j < n; j++ {
		rhs.SetVec(j, -d.q[j])
	}
	xv := mat.NewVecDense(n, nil)
	if err := chol.SolveVecTo(xv, rhs); err != nil {
		return qpResult{status: StatusSolverError}
	}
	x := make([]float64, n)
	for j := 0; j < n; j++ {
		x[j] = xv.AtVec(j)
	}
	return qpResult{status: StatusOptimal, x: x, objective: objective(d, x), iterations: 1}
}

func objective(d *qpData, x []float64) float64 {
	n := d.n
	obj := 0.0
	for i := 0; i < n; i++ {
		s := 0.0
		for j := 0; j < n; j++ {
			if p := d.P.At(i, j); p != 0 {
				s += p * x[j]
			}
		}
		obj += 0.5*x[i]*s + d.q[i]*x[i]
	}
	return obj
}

// primalInfeasible tests the OSQP certificate on the dual step dy.
func primalInfeasible(d *qpData, dy []float64, eps float64) bool {
	nrm := infNorm(dy)
	if nrm < 1e-12 {
		return false
	}
	// A' dy must vanish.
	aty := make([]float64, d.n)
	for r, row := range d.rows {
		v := dy[r]
		if v == 0 {
			continue
		}
		for j, rj := range row {
			if rj != 0 {
				aty[j] += rj * v
			}
		}
	}
	if infNorm(aty) > eps*nrm {
		return false
	}
	// Support function must be negative; infinite bounds void the
	// certificate when pushed in their direction.
	support := 0.0
	for r, v := range dy {
		if v > 0 {
			if math.IsInf(d.u[r], 1) {
				if v > eps*nrm {
					return false
				}
				continue
			}
			support += d.u[r] * v
		} else if v < 0 {
			if math.IsInf(d.l[r], -1) {
				if -v > eps*nrm {
					return false
				}
				continue
			}
			support += d.l[r] * v
		}
	}
	return support < -eps*nrm
}

// dualInfeasible tests the unboundedness certificate on the primal step dx.
func dualInfeasible(d *qpData, dx []float64, eps float64) bool {
	nrm := infNorm(dx)
	if nrm < 1e-12 {
		return false
	}
	qd := 0.0
	for j, v := range dx {
		qd += d.q[j] * v
	}
	if qd > -eps*nrm {
		return false
	}
	for i := 0; i < d.n; i++ {
		s := 0.0
		for j := 0; j < d.n; j++ {
			if p := d.P.At(i, j); p != 0 {
				s += p * dx[j]
			}
		}
		if math.Abs(s) > eps*nrm {
			return false
		}
	}
	for r, row := range d.rows {
		s := 0.0
		for j, rj := range row {
			if rj != 0 {
				s += rj * dx[j]
			}
		}
		if !math.IsInf(d.u[r], 1) && s > eps*nrm {
			return false
		}
		if !math.IsInf(d.l[r], -1) && s < -eps*nrm {
			return false
		}
	}
	return true
}

// polish re-solves the KKT system on the detected active set for a high
// accuracy solution, rejecting the result if it violates inactive rows.
func polish(d *qpData, x, z, y []float64) ([]float64, bool) {
	const actTol = 1e-6
	const reg = 1e-9

	type actRow struct {
		idx int
		rhs float64
	}
	var act []actRow
	for r := range d.rows {
		switch {
		case d.l[r] == d.u[r]:
			act = append(act, actRow{r, d.u[r]})
		case !math.IsInf(d.u[r], 1) && (d.u[r]-z[r] <= actTol || y[r] > actTol):
			act = append(act, actRow{r, d.u[r]})
		case !math.IsInf(d.l[r], -1) && (z[r]-d.l[r] <= actTol || y[r] < -actTol):
			act = append(act, actRow{r, d.l[r]})
		}
	}

	n := d.n
	ma := len(act)
	dim := n + ma
	K := mat.NewDense(dim, dim, nil)
	rhs := mat.NewVecDense(dim, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			K.Set(i, j, d.P.At(i, j))
		}
		K.Set(i, i, K.At(i, i)+reg)
		rhs.SetVec(i, -d.q[i])
	}
	for a, ar := range act {
		row := d.rows[ar.idx]
		for j, rj := range row {
			K.Set(n+a, j, rj)
			K.Set(j, n+a, rj)
		}
		K.Set(n+a, n+a, -reg)
		rhs.SetVec(n+a, ar.rhs)
	}

	var sol mat.VecDense
	if err := sol.SolveVec(K, rhs); err != nil {
		return nil, false
	}
	xp := make([]float64, n)
	for j := 0; j < n; j++ {
		xp[j] = sol.AtVec(j)
	}

	// The polished point must not leave the feasible set.
	const feasTol = 1e-7
	for r, row := range d.rows {
		s := 0.0
		for j, rj := range row {
			if rj != 0 {
				s += rj * xp[j]
			}
		}
		if s > d.u[r]+feasTol || s < d.l[r]-feasTol {
			return nil, false
		}
	}
	if ob, op := objective(d, x), objective(d, xp); op > ob+1e-6*(1+math.Abs(ob)) {
		return nil, false
	}
	return xp, true
}
