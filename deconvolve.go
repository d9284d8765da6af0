package hylord

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

const (
	// Diagonal regularization added to the Gram matrix. The columns of
	// the reference matrix are almost surely linearly independent
	// (many rows, few columns), but a rank-deficient reference must
	// not break the Cholesky factorization.
	regularizationEpsilon = 1e-8

	// Below this squared norm the pseudo-inverse back-solve is
	// ill-conditioned and the reference update is aborted.
	minStableSquaredNorm = 1e-10
)

var errUnstableNorm = errors.New("norm of unknown-proportions vector is too small for numerical stability")

// gramMatrix returns MᵀM + εI. The Gram matrix is symmetric positive
// semi-definite; the ridge makes it positive definite.
func gramMatrix(m *mat.Dense) *mat.SymDense {
	_, cols := m.Dims()
	var gram mat.Dense
	gram.Mul(m.T(), m)
	sym := mat.NewSymDense(cols, nil)
	for i := 0; i < cols; i++ {
		for j := i; j < cols; j++ {
			value := gram.At(i, j)
			if i == j {
				value += regularizationEpsilon
			}
			sym.SetSym(i, j, value)
		}
	}
	return sym
}

// coefficientVector returns the linear term c = -(bulkᵀ · reference)
// of the quadratic program, so that minimizing 0.5*xᵀ(RᵀR)x + cᵀx is
// minimizing the squared residual ‖Rx - bulk‖².
func coefficientVector(reference *mat.Dense, bulk *mat.VecDense) ([]float64, error) {
	rows, cols := reference.Dims()
	if rows != bulk.Len() {
		return nil, fmt.Errorf("deconvolution failed at coefficient vector generation: reference has %d rows, bulk profile has %d", rows, bulk.Len())
	}
	coefficients := make([]float64, cols)
	for j := 0; j < cols; j++ {
		sum := 0.0
		for i := 0; i < rows; i++ {
			sum += bulk.AtVec(i) * reference.At(i, j)
		}
		coefficients[j] = -sum
	}
	return coefficients, nil
}

// pseudoInverse returns the Moore-Penrose pseudo-inverse of a column
// vector, vᵀ/‖v‖². It fails when the squared norm is below the
// stability threshold.
func pseudoInverse(v []float64) ([]float64, error) {
	squaredNorm := 0.0
	for _, value := range v {
		squaredNorm += value * value
	}
	if squaredNorm < minStableSquaredNorm {
		return nil, errUnstableNorm
	}
	inverse := make([]float64, len(v))
	for i, value := range v {
		inverse[i] = value / squaredNorm
	}
	return inverse, nil
}

func squaredDistance(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		diff := a[i] - b[i]
		sum += diff * diff
	}
	return sum
}

// deconvolver estimates cell-type proportions from a bulk methylation
// profile and a reference matrix by constrained least squares:
// minimize ‖Rx - bulk‖² subject to 0 <= x <= 1 componentwise and
// sum(x) = 1.
type deconvolver struct {
	numCellTypes int
	bulkProfile  *mat.VecDense

	proportions     []float64
	prevProportions []float64

	// Fixed constraint data for the QP: the sum-to-one equality row
	// and the componentwise [0,1] bounds as inequality columns.
	sumConstraint   *mat.Dense
	sumOffset       []float64
	boundConstraint *mat.Dense
	boundOffset     []float64
}

func newDeconvolver(numCellTypes int, bulkProfile *mat.VecDense) *deconvolver {
	d := &deconvolver{
		numCellTypes:    numCellTypes,
		bulkProfile:     bulkProfile,
		proportions:     make([]float64, numCellTypes),
		prevProportions: make([]float64, numCellTypes),
	}

	sum := mat.NewDense(numCellTypes, 1, nil)
	for i := 0; i < numCellTypes; i++ {
		sum.Set(i, 0, 1)
	}
	d.sumConstraint = sum
	d.sumOffset = []float64{-1}

	bounds := mat.NewDense(numCellTypes, 2*numCellTypes, nil)
	offsets := make([]float64, 2*numCellTypes)
	for i := 0; i < numCellTypes; i++ {
		bounds.Set(i, i, 1)               // x_i >= 0
		bounds.Set(i, numCellTypes+i, -1) // -x_i + 1 >= 0
		offsets[numCellTypes+i] = 1
	}
	d.boundConstraint = bounds
	d.boundOffset = offsets
	return d
}

// solve runs the constrained QP against the given reference matrix and
// stores the resulting proportions, keeping the previous solution for
// convergence checks.
func (d *deconvolver) solve(reference *mat.Dense) (qpStatus, error) {
	hessian := gramMatrix(reference)
	linear, err := coefficientVector(reference, d.bulkProfile)
	if err != nil {
		return qpDegenerate, err
	}
	copy(d.prevProportions, d.proportions)
	solution, status := qpSolve(hessian, linear, d.sumConstraint, d.sumOffset, d.boundConstraint, d.boundOffset)
	if solution != nil {
		copy(d.proportions, solution)
	}
	return status, nil
}

// changeInProportions is the squared Euclidean distance between the
// current and previous solutions. Before a second solve there is no
// meaningful previous solution; callers skip the convergence check on
// the first iteration.
func (d *deconvolver) changeInProportions() float64 {
	return squaredDistance(d.proportions, d.prevProportions)
}

// cellProportions returns a copy of the current solution.
func (d *deconvolver) cellProportions() []float64 {
	return append([]float64(nil), d.proportions...)
}

// residualNorm reports ‖bulk - R·x‖ for the current proportions,
// useful as a progress diagnostic across refinement iterations.
func (d *deconvolver) residualNorm(reference *mat.Dense) float64 {
	var fitted mat.VecDense
	fitted.MulVec(reference, mat.NewVecDense(len(d.proportions), d.cellProportions()))
	var residual mat.VecDense
	residual.SubVec(d.bulkProfile, &fitted)
	return mat.Norm(&residual, 2)
}

// updateReferenceMatrix re-estimates the profiles of the additional
// (novel) cell types from the bulk signal left unexplained by the
// known types: unknownRef = (bulk - knownRef·knownProps) · pinv(p_u).
// The rightmost additionalCellTypes columns of reference are
// overwritten in place; reference must not be aliased elsewhere during
// the refinement loop. Fails when the unknown proportions have
// collapsed toward zero.
func updateReferenceMatrix(reference *mat.Dense, proportions []float64, bulk *mat.VecDense, additionalCellTypes int) error {
	rows, totalCellTypes := reference.Dims()
	if additionalCellTypes < 1 || additionalCellTypes > totalCellTypes {
		return fmt.Errorf("deconvolution failed at reference update: %d additional cell types of %d total", additionalCellTypes, totalCellTypes)
	}
	numBase := totalCellTypes - additionalCellTypes

	unknownInverse, err := pseudoInverse(proportions[numBase:])
	if err != nil {
		return fmt.Errorf("deconvolution failed at reference update: %w", err)
	}

	for i := 0; i < rows; i++ {
		residual := bulk.AtVec(i)
		for j := 0; j < numBase; j++ {
			residual -= reference.At(i, j) * proportions[j]
		}
		for j := 0; j < additionalCellTypes; j++ {
			reference.Set(i, numBase+j, residual*unknownInverse[j])
		}
	}
	return nil
}
