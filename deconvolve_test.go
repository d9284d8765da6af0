package hylord

import (
	"errors"
	"math"

	"gopkg.in/check.v1"
	"gonum.org/v1/gonum/mat"
)

type deconvolveSuite struct{}

var _ = check.Suite(&deconvolveSuite{})

// testReference is a well-conditioned 6x3 reference matrix used by the
// mixture-recovery tests.
func testReference() *mat.Dense {
	return mat.NewDense(6, 3, []float64{
		1.0, 0.0, 0.5,
		0.0, 1.0, 0.5,
		0.2, 0.8, 0.1,
		0.9, 0.1, 0.3,
		0.4, 0.6, 0.7,
		0.1, 0.3, 0.8,
	})
}

func mixBulk(reference *mat.Dense, proportions []float64) *mat.VecDense {
	rows, _ := reference.Dims()
	bulk := mat.NewVecDense(rows, nil)
	bulk.MulVec(reference, mat.NewVecDense(len(proportions), proportions))
	return bulk
}

func (s *deconvolveSuite) TestGramMatrix(c *check.C) {
	reference := mat.NewDense(2, 2, []float64{
		1, 2,
		3, 4,
	})
	gram := gramMatrix(reference)
	// MᵀM = [[10, 14], [14, 20]] plus the ridge on the diagonal
	c.Check(math.Abs(gram.At(0, 0)-(10+regularizationEpsilon)) < 1e-15, check.Equals, true)
	c.Check(gram.At(0, 1), check.Equals, 14.0)
	c.Check(gram.At(1, 0), check.Equals, 14.0)
	c.Check(math.Abs(gram.At(1, 1)-(20+regularizationEpsilon)) < 1e-15, check.Equals, true)
}

func (s *deconvolveSuite) TestCoefficientVector(c *check.C) {
	reference := mat.NewDense(2, 2, []float64{
		1, 2,
		3, 4,
	})
	bulk := mat.NewVecDense(2, []float64{1, 1})
	coefficients, err := coefficientVector(reference, bulk)
	c.Assert(err, check.IsNil)
	c.Check(coefficients, check.DeepEquals, []float64{-4, -6})

	_, err = coefficientVector(reference, mat.NewVecDense(3, nil))
	c.Check(err, check.ErrorMatches, `deconvolution failed at coefficient vector generation: .*`)
}

func (s *deconvolveSuite) TestPseudoInverse(c *check.C) {
	inverse, err := pseudoInverse([]float64{0.2})
	c.Assert(err, check.IsNil)
	c.Check(math.Abs(inverse[0]-5) < 1e-12, check.Equals, true)

	inverse, err = pseudoInverse([]float64{3, 4})
	c.Assert(err, check.IsNil)
	c.Check(math.Abs(inverse[0]-3.0/25) < 1e-12, check.Equals, true)
	c.Check(math.Abs(inverse[1]-4.0/25) < 1e-12, check.Equals, true)

	_, err = pseudoInverse([]float64{1e-8})
	c.Check(errors.Is(err, errUnstableNorm), check.Equals, true)
	_, err = pseudoInverse(nil)
	c.Check(errors.Is(err, errUnstableNorm), check.Equals, true)
}

func (s *deconvolveSuite) TestPerfectMixtureRecovery(c *check.C) {
	reference := testReference()
	truth := []float64{0.5, 0.3, 0.2}
	dec := newDeconvolver(3, mixBulk(reference, truth))

	status, err := dec.solve(reference)
	c.Assert(err, check.IsNil)
	c.Assert(status, check.Equals, qpSuccess)

	proportions := dec.cellProportions()
	sum := 0.0
	for i, proportion := range proportions {
		c.Check(math.Abs(proportion-truth[i]) < 1e-4, check.Equals, true, check.Commentf("component %d: %v", i, proportion))
		c.Check(proportion >= -1e-10, check.Equals, true)
		sum += proportion
	}
	c.Check(math.Abs(sum-1) < 1e-6, check.Equals, true, check.Commentf("sum %v", sum))
	c.Check(dec.residualNorm(reference) < 1e-4, check.Equals, true)
}

func (s *deconvolveSuite) TestRepeatedSolveConverges(c *check.C) {
	reference := testReference()
	dec := newDeconvolver(3, mixBulk(reference, []float64{0.5, 0.3, 0.2}))

	_, err := dec.solve(reference)
	c.Assert(err, check.IsNil)
	_, err = dec.solve(reference)
	c.Assert(err, check.IsNil)
	c.Check(dec.changeInProportions() < 1e-20, check.Equals, true)
}

func (s *deconvolveSuite) TestCellProportionsReturnsCopy(c *check.C) {
	dec := newDeconvolver(2, mat.NewVecDense(2, []float64{0.5, 0.5}))
	proportions := dec.cellProportions()
	proportions[0] = 99
	c.Check(dec.proportions[0], check.Equals, 0.0)
}

func (s *deconvolveSuite) TestUpdateReferenceMatrix(c *check.C) {
	reference := mat.NewDense(2, 3, []float64{
		0.8, 0.2, 0,
		0.1, 0.9, 0,
	})
	bulk := mat.NewVecDense(2, []float64{0.6, 0.5})
	proportions := []float64{0.5, 0.3, 0.2}
	c.Assert(updateReferenceMatrix(reference, proportions, bulk, 1), check.IsNil)

	// residual_i = bulk_i - 0.5*ref_i0 - 0.3*ref_i1, new column is
	// residual * pinv(0.2) = residual * 5
	c.Check(math.Abs(reference.At(0, 2)-(0.6-0.5*0.8-0.3*0.2)*5) < 1e-12, check.Equals, true)
	c.Check(math.Abs(reference.At(1, 2)-(0.5-0.5*0.1-0.3*0.9)*5) < 1e-12, check.Equals, true)
	// base columns are untouched
	c.Check(reference.At(0, 0), check.Equals, 0.8)
	c.Check(reference.At(1, 1), check.Equals, 0.9)
}

func (s *deconvolveSuite) TestUpdateReferenceMatrixErrors(c *check.C) {
	reference := mat.NewDense(2, 2, nil)
	bulk := mat.NewVecDense(2, nil)

	err := updateReferenceMatrix(reference, []float64{1, 0}, bulk, 0)
	c.Check(err, check.NotNil)
	err = updateReferenceMatrix(reference, []float64{1, 0}, bulk, 3)
	c.Check(err, check.NotNil)

	// unknown proportions collapsed to zero
	err = updateReferenceMatrix(reference, []float64{1, 1e-9}, bulk, 1)
	c.Check(errors.Is(err, errUnstableNorm), check.Equals, true)
}

func (s *deconvolveSuite) TestRefinementRecoversUnknownProfile(c *check.C) {
	// two known cell types plus one unknown: alternating solves and
	// reference updates should reduce the residual
	fullReference := testReference()
	truth := []float64{0.5, 0.3, 0.2}
	bulk := mixBulk(fullReference, truth)

	rows, _ := fullReference.Dims()
	working := mat.NewDense(rows, 3, nil)
	for i := 0; i < rows; i++ {
		working.Set(i, 0, fullReference.At(i, 0))
		working.Set(i, 1, fullReference.At(i, 1))
		working.Set(i, 2, 0.5)
	}

	dec := newDeconvolver(3, bulk)
	var first, last float64
	for iteration := 1; iteration <= 5; iteration++ {
		status, err := dec.solve(working)
		c.Assert(err, check.IsNil)
		c.Assert(status, check.Equals, qpSuccess)
		last = dec.residualNorm(working)
		if iteration == 1 {
			first = last
		}
		if err := updateReferenceMatrix(working, dec.proportions, bulk, 1); err != nil {
			break
		}
	}
	c.Check(last <= first, check.Equals, true, check.Commentf("residual went from %v to %v", first, last))
}
