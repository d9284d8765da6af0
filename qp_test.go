package hylord

import (
	"math"

	"gopkg.in/check.v1"
	"gonum.org/v1/gonum/mat"
)

type qpSuite struct{}

var _ = check.Suite(&qpSuite{})

func identitySym(n int) *mat.SymDense {
	g := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		g.SetSym(i, i, 1)
	}
	return g
}

// simplexConstraints builds the sum-to-one equality and componentwise
// [0,1] bound inequalities for an n-dimensional problem.
func simplexConstraints(n int) (ce *mat.Dense, ce0 []float64, ci *mat.Dense, ci0 []float64) {
	ce = mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		ce.Set(i, 0, 1)
	}
	ce0 = []float64{-1}
	ci = mat.NewDense(n, 2*n, nil)
	ci0 = make([]float64, 2*n)
	for i := 0; i < n; i++ {
		ci.Set(i, i, 1)
		ci.Set(i, n+i, -1)
		ci0[n+i] = 1
	}
	return ce, ce0, ci, ci0
}

func (s *qpSuite) TestUnconstrainedMinimum(c *check.C) {
	// minimize 0.5*||x||^2 - x1 - x2, minimum at (1, 1)
	solution, status := qpSolve(identitySym(2), []float64{-1, -1}, nil, nil, nil, nil)
	c.Assert(status, check.Equals, qpSuccess)
	c.Assert(solution, check.HasLen, 2)
	c.Check(math.Abs(solution[0]-1) < 1e-10, check.Equals, true)
	c.Check(math.Abs(solution[1]-1) < 1e-10, check.Equals, true)
}

func (s *qpSuite) TestEqualityOnly(c *check.C) {
	// minimize 0.5*||x||^2 subject to x1 + x2 = 1, minimum at (0.5, 0.5)
	ce := mat.NewDense(2, 1, []float64{1, 1})
	solution, status := qpSolve(identitySym(2), []float64{0, 0}, ce, []float64{-1}, nil, nil)
	c.Assert(status, check.Equals, qpSuccess)
	c.Check(math.Abs(solution[0]-0.5) < 1e-10, check.Equals, true)
	c.Check(math.Abs(solution[1]-0.5) < 1e-10, check.Equals, true)
}

func (s *qpSuite) TestSimplexProjectionInterior(c *check.C) {
	// projecting a point already on the simplex returns it unchanged
	target := []float64{0.6, 0.3, 0.1}
	g0 := make([]float64, len(target))
	for i, v := range target {
		g0[i] = -v
	}
	ce, ce0, ci, ci0 := simplexConstraints(3)
	solution, status := qpSolve(identitySym(3), g0, ce, ce0, ci, ci0)
	c.Assert(status, check.Equals, qpSuccess)
	for i := range target {
		c.Check(math.Abs(solution[i]-target[i]) < 1e-8, check.Equals, true, check.Commentf("component %d: %v", i, solution[i]))
	}
}

func (s *qpSuite) TestSimplexProjectionActivatesBounds(c *check.C) {
	// projecting (2, 0, 0) onto the simplex pins x1 at its upper bound
	ce, ce0, ci, ci0 := simplexConstraints(3)
	solution, status := qpSolve(identitySym(3), []float64{-2, 0, 0}, ce, ce0, ci, ci0)
	c.Assert(status, check.Equals, qpSuccess)
	c.Check(math.Abs(solution[0]-1) < 1e-8, check.Equals, true)
	c.Check(math.Abs(solution[1]) < 1e-8, check.Equals, true)
	c.Check(math.Abs(solution[2]) < 1e-8, check.Equals, true)
}

func (s *qpSuite) TestSimplexProjectionSplitsExcess(c *check.C) {
	// projecting (0.8, 0.8) onto the 2-simplex lands at (0.5, 0.5)
	ce, ce0, ci, ci0 := simplexConstraints(2)
	solution, status := qpSolve(identitySym(2), []float64{-0.8, -0.8}, ce, ce0, ci, ci0)
	c.Assert(status, check.Equals, qpSuccess)
	c.Check(math.Abs(solution[0]-0.5) < 1e-8, check.Equals, true)
	c.Check(math.Abs(solution[1]-0.5) < 1e-8, check.Equals, true)
}

func (s *qpSuite) TestInfeasibleProblem(c *check.C) {
	// x = 1 (equality) conflicts with x >= 2 (inequality)
	ce := mat.NewDense(1, 1, []float64{1})
	ci := mat.NewDense(1, 1, []float64{1})
	_, status := qpSolve(identitySym(1), []float64{0}, ce, []float64{-1}, ci, []float64{-2})
	c.Check(status, check.Equals, qpInfeasible)
}

func (s *qpSuite) TestDependentEqualitiesAreDegenerate(c *check.C) {
	// the same equality twice cannot both enter the active set
	ce := mat.NewDense(2, 2, []float64{
		1, 1,
		1, 1,
	})
	_, status := qpSolve(identitySym(2), []float64{0, 0}, ce, []float64{-1, -1}, nil, nil)
	c.Check(status, check.Equals, qpDegenerate)
}

func (s *qpSuite) TestStatusString(c *check.C) {
	c.Check(qpSuccess.String(), check.Equals, "success")
	c.Check(qpInfeasible.String(), check.Equals, "infeasible")
	c.Check(qpDegenerate.String(), check.Equals, "numerically degenerate")
}
