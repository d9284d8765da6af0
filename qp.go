package hylord

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// qpStatus reports the outcome of a quadratic-program solve.
type qpStatus int

const (
	qpSuccess qpStatus = iota
	qpInfeasible
	qpDegenerate
)

func (s qpStatus) String() string {
	switch s {
	case qpSuccess:
		return "success"
	case qpInfeasible:
		return "infeasible"
	default:
		return "numerically degenerate"
	}
}

const solverEps = 2.220446049250313e-16

// qpSolve minimizes 0.5*xᵀGx + g0ᵀx subject to ceᵀx + ce0 = 0 and
// ciᵀx + ci0 >= 0, where the columns of ce (n x p) and ci (n x m) hold
// the constraint normals. G must be symmetric positive definite.
//
// This is the dual active-set method of Goldfarb and Idnani: start
// from the unconstrained minimizer (dual-feasible by construction),
// then add the most violated primal constraint at a time, maintaining
// a QR factorization of the active-constraint normals in Cholesky
// coordinates via Givens rotations. It suits this problem because the
// Gram-matrix Hessian is positive definite after regularization and
// the constraint count is tiny.
func qpSolve(g *mat.SymDense, g0 []float64, ce *mat.Dense, ce0 []float64, ci *mat.Dense, ci0 []float64) ([]float64, qpStatus) {
	n := len(g0)
	p := 0
	if ce != nil {
		_, p = ce.Dims()
	}
	m := 0
	if ci != nil {
		_, m = ci.Dims()
	}

	var (
		i, j, k, l, ip, iq, iter int
		f, psi, c1, c2, sum, ss  float64
		rNorm, t, t1, t2         float64
	)
	inf := math.Inf(1)
	maxIter := 50 * (n + m + p + 1)

	var chol mat.Cholesky
	if !chol.Factorize(g) {
		return nil, qpDegenerate
	}

	// Unconstrained minimizer x = -G⁻¹ g0, the dual-feasible start.
	negG0 := mat.NewVecDense(n, nil)
	for i = 0; i < n; i++ {
		negG0.SetVec(i, -g0[i])
	}
	var xVec mat.VecDense
	if err := chol.SolveVecTo(&xVec, negG0); err != nil {
		return nil, qpDegenerate
	}
	x := make([]float64, n)
	for i = 0; i < n; i++ {
		x[i] = xVec.AtVec(i)
	}
	for i = 0; i < n; i++ {
		f += 0.5 * g0[i] * x[i]
	}

	// J = L⁻ᵀ from the Cholesky factor, by forward substitution.
	var lTri mat.TriDense
	chol.LTo(&lTri)
	bigJ := make([][]float64, n)
	for i = 0; i < n; i++ {
		bigJ[i] = make([]float64, n)
	}
	for col := 0; col < n; col++ {
		for i = col; i < n; i++ {
			sum = 0
			if i == col {
				sum = 1
			}
			for k = col; k < i; k++ {
				sum -= lTri.At(i, k) * bigJ[col][k]
			}
			bigJ[col][i] = sum / lTri.At(i, i)
		}
	}
	for i = 0; i < n; i++ {
		c1 += g.At(i, i)
		c2 += bigJ[i][i]
	}

	bigR := make([][]float64, n)
	for i = 0; i < n; i++ {
		bigR[i] = make([]float64, n)
	}
	rNorm = 1

	d := make([]float64, n)
	z := make([]float64, n)
	np := make([]float64, n)
	r := make([]float64, m+p+1)
	u := make([]float64, m+p+1)
	s := make([]float64, m+p+1)
	xOld := make([]float64, n)
	uOld := make([]float64, m+p+1)
	active := make([]int, m+p+1)
	activeOld := make([]int, m+p+1)
	iai := make([]int, m+p+1)
	iaexcl := make([]bool, m+p+1)

	computeD := func() {
		for i := 0; i < n; i++ {
			d[i] = 0
			for j := 0; j < n; j++ {
				d[i] += bigJ[j][i] * np[j]
			}
		}
	}
	updateZ := func() {
		for i := 0; i < n; i++ {
			z[i] = 0
			for j := iq; j < n; j++ {
				z[i] += bigJ[i][j] * d[j]
			}
		}
	}
	updateR := func() {
		for i := iq - 1; i >= 0; i-- {
			sum := d[i]
			for j := i + 1; j < iq; j++ {
				sum -= bigR[i][j] * r[j]
			}
			r[i] = sum / bigR[i][i]
		}
	}
	addConstraint := func() bool {
		for j := n - 1; j >= iq+1; j-- {
			cc, sv := d[j-1], d[j]
			h := math.Hypot(cc, sv)
			if h == 0 {
				continue
			}
			d[j] = 0
			sv /= h
			cc /= h
			if cc < 0 {
				cc, sv = -cc, -sv
				d[j-1] = -h
			} else {
				d[j-1] = h
			}
			xny := sv / (1 + cc)
			for k := 0; k < n; k++ {
				t1, t2 := bigJ[k][j-1], bigJ[k][j]
				bigJ[k][j-1] = t1*cc + t2*sv
				bigJ[k][j] = xny*(t1+bigJ[k][j-1]) - t2
			}
		}
		iq++
		for i := 0; i < iq; i++ {
			bigR[i][iq-1] = d[i]
		}
		if math.Abs(d[iq-1]) <= solverEps*rNorm {
			return false
		}
		rNorm = math.Max(rNorm, math.Abs(d[iq-1]))
		return true
	}
	deleteConstraint := func(l int) {
		qq := -1
		for i := p; i < iq; i++ {
			if active[i] == l {
				qq = i
				break
			}
		}
		for i := qq; i < iq-1; i++ {
			active[i] = active[i+1]
			u[i] = u[i+1]
			for j := 0; j < n; j++ {
				bigR[j][i] = bigR[j][i+1]
			}
		}
		active[iq-1] = active[iq]
		u[iq-1] = u[iq]
		active[iq] = 0
		u[iq] = 0
		for j := 0; j < iq; j++ {
			bigR[j][iq-1] = 0
		}
		iq--
		if iq == 0 {
			return
		}
		for j := qq; j < iq; j++ {
			cc, sv := bigR[j][j], bigR[j+1][j]
			h := math.Hypot(cc, sv)
			if h == 0 {
				continue
			}
			cc /= h
			sv /= h
			bigR[j+1][j] = 0
			if cc < 0 {
				bigR[j][j] = -h
				cc, sv = -cc, -sv
			} else {
				bigR[j][j] = h
			}
			xny := sv / (1 + cc)
			for k := j + 1; k < iq; k++ {
				t1, t2 := bigR[j][k], bigR[j+1][k]
				bigR[j][k] = t1*cc + t2*sv
				bigR[j+1][k] = xny*(t1+bigR[j][k]) - t2
			}
			for k := 0; k < n; k++ {
				t1, t2 := bigJ[k][j], bigJ[k][j+1]
				bigJ[k][j] = t1*cc + t2*sv
				bigJ[k][j+1] = xny*(bigJ[k][j]+t1) - t2
			}
		}
	}

	// Add the equality constraints to the active set unconditionally;
	// their multipliers may take any sign and they are never removed.
	for i = 0; i < p; i++ {
		for j = 0; j < n; j++ {
			np[j] = ce.At(j, i)
		}
		computeD()
		updateZ()
		updateR()
		t2 = 0
		zz := 0.0
		for k = 0; k < n; k++ {
			zz += z[k] * z[k]
		}
		if math.Abs(zz) > solverEps {
			zn, nx := 0.0, 0.0
			for k = 0; k < n; k++ {
				zn += z[k] * np[k]
				nx += np[k] * x[k]
			}
			t2 = (-nx - ce0[i]) / zn
		}
		for k = 0; k < n; k++ {
			x[k] += t2 * z[k]
		}
		u[iq] = t2
		for k = 0; k < iq; k++ {
			u[k] -= t2 * r[k]
		}
		zn := 0.0
		for k = 0; k < n; k++ {
			zn += z[k] * np[k]
		}
		f += 0.5 * t2 * t2 * zn
		active[i] = -i - 1
		if !addConstraint() {
			// equality constraints are linearly dependent
			return x, qpDegenerate
		}
	}

	for i = 0; i < m; i++ {
		iai[i] = i
	}

l1:
	iter++
	if iter > maxIter {
		return x, qpDegenerate
	}
	for i = p; i < iq; i++ {
		ip = active[i]
		iai[ip] = -1
	}
	ss = 0
	psi = 0
	ip = 0
	for i = 0; i < m; i++ {
		iaexcl[i] = true
		sum = ci0[i]
		for j = 0; j < n; j++ {
			sum += ci.At(j, i) * x[j]
		}
		s[i] = sum
		psi += math.Min(0, sum)
	}
	if math.Abs(psi) <= float64(m)*solverEps*c1*c2*100 {
		return x, qpSuccess
	}
	for i = 0; i < iq; i++ {
		uOld[i] = u[i]
		activeOld[i] = active[i]
	}
	copy(xOld, x)

l2:
	for i = 0; i < m; i++ {
		if s[i] < ss && iai[i] != -1 && iaexcl[i] {
			ss = s[i]
			ip = i
		}
	}
	if ss >= 0 {
		return x, qpSuccess
	}
	for i = 0; i < n; i++ {
		np[i] = ci.At(i, ip)
	}
	u[iq] = 0
	active[iq] = ip

l2a:
	iter++
	if iter > maxIter {
		return x, qpDegenerate
	}
	computeD()
	updateZ()
	updateR()

	// t1: largest step in dual space keeping all multipliers
	// non-negative; t2: step to primal feasibility of constraint ip.
	l = 0
	t1 = inf
	for k = p; k < iq; k++ {
		if r[k] > 0 && u[k]/r[k] < t1 {
			t1 = u[k] / r[k]
			l = active[k]
		}
	}
	zz := 0.0
	zn := 0.0
	for k = 0; k < n; k++ {
		zz += z[k] * z[k]
		zn += z[k] * np[k]
	}
	if math.Abs(zz) > solverEps {
		t2 = -s[ip] / zn
	} else {
		t2 = inf
	}
	t = math.Min(t1, t2)

	if t >= inf {
		// no step possible in primal or dual space
		return x, qpInfeasible
	}
	if t2 >= inf {
		// dual-only step: drop the blocking constraint and retry
		for k = 0; k < iq; k++ {
			u[k] -= t * r[k]
		}
		u[iq] += t
		iai[l] = l
		deleteConstraint(l)
		goto l2a
	}

	for k = 0; k < n; k++ {
		x[k] += t * z[k]
	}
	f += t * zn * (0.5*t + u[iq])
	for k = 0; k < iq; k++ {
		u[k] -= t * r[k]
	}
	u[iq] += t

	if math.Abs(t-t2) < solverEps {
		// full step: constraint ip becomes active
		if !addConstraint() {
			// ip is linearly dependent on the active set; exclude it
			// and restore the previous iterate
			iaexcl[ip] = false
			deleteConstraint(ip)
			for i = 0; i < m; i++ {
				iai[i] = i
			}
			for i = p; i < iq; i++ {
				active[i] = activeOld[i]
				u[i] = uOld[i]
				iai[active[i]] = -1
			}
			copy(x, xOld)
			goto l2
		}
		iai[ip] = -1
		goto l1
	}

	// partial step: drop the blocking constraint, refresh s[ip]
	iai[l] = l
	deleteConstraint(l)
	sum = ci0[ip]
	for k = 0; k < n; k++ {
		sum += ci.At(k, ip) * x[k]
	}
	s[ip] = sum
	goto l2a
}
