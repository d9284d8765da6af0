package hylord

import (
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"
)

// bedmethylColumns projects a modkit bedMethyl row onto the six
// logical fields the pipeline needs: chrom, start, end, name, valid
// read depth, and fraction modified (see the modkit README for the
// full column list).
var bedmethylColumns = []int{0, 1, 2, 3, 4, 10}

// readDataset loads one file through the parallel TSV reader. An
// empty path yields an empty dataset, used for the optional inputs.
func readDataset[T any](path string, parse parseFunc[T], columns []int, filter rowFilter, threads int) ([]T, error) {
	if path == "" {
		return nil, nil
	}
	reader, err := newTSVReader(path, parse, columns, filter, threads)
	if err != nil {
		return nil, err
	}
	if err := reader.load(); err != nil {
		return nil, err
	}
	return reader.extractRecords()
}

// preprocessInputData restricts all datasets to a common, ordered set
// of genomic sites and extends the reference matrix with sampled
// columns for any requested additional cell types. Afterwards the
// reference rows and bedmethyl rows are aligned 1:1 by site key, the
// invariant everything downstream assumes.
func preprocessInputData(bedmethyl *bedMethylData, reference *referenceMatrixData, cpgList *cpgData, additionalCellTypes int, sampler *profileSampler) error {
	if reference.empty() {
		if additionalCellTypes < 1 {
			return errors.New("if no reference matrix is provided, additional cell types must be set (>0)")
		}
		reference.records = newReferenceFromBedmethyl(bedmethyl).records
	}

	if !cpgList.empty() {
		refIndexes, err := findIndexesInCpGList(cpgList, reference.records)
		if err != nil {
			return fmt.Errorf("%w between CpG list and reference matrix", err)
		}
		if err := reference.subsetRows(refIndexes); err != nil {
			return err
		}
		bedIndexes, err := findIndexesInCpGList(cpgList, bedmethyl.records)
		if err != nil {
			return fmt.Errorf("%w between CpG list and bedmethyl file", err)
		}
		if err := bedmethyl.subsetRows(bedIndexes); err != nil {
			return err
		}
	}

	refIndexes, bedIndexes := findOverlappingIndexes(reference.records, bedmethyl.records)
	if len(refIndexes) == 0 {
		return fmt.Errorf("%w between reference matrix and bedmethyl file", errNoOverlap)
	}
	if err := reference.subsetRows(refIndexes); err != nil {
		return err
	}
	if err := bedmethyl.subsetRows(bedIndexes); err != nil {
		return err
	}

	reference.addCellTypes(additionalCellTypes, sampler)
	return nil
}

// runDeconvolution is the whole pipeline: load the three input files,
// align them, run the (possibly iterative) deconvolution, and write
// the estimated proportions. Output is only written after everything
// has succeeded.
func runDeconvolution(config *config, stdout io.Writer) error {
	if config.referenceMatrixFile == "" && config.additionalCellTypes < 1 {
		return errors.New("if no reference matrix is provided, -additional-cell-types must be set (>0)")
	}

	cpgRecords, err := readDataset(config.cpgListFile, parseBed4, nil, nil, config.threads)
	if err != nil {
		return err
	}
	cpgList := &cpgData{records: cpgRecords}

	refRecords, err := readDataset(config.referenceMatrixFile, parseBed4PlusX, nil, nil, config.threads)
	if err != nil {
		return err
	}
	reference := &referenceMatrixData{records: refRecords}

	bedRecords, err := readDataset(config.bedmethylFile, parseBed9Plus9, bedmethylColumns, bedmethylRowFilter(config), config.threads)
	if err != nil {
		return err
	}
	if len(bedRecords) == 0 {
		return fmt.Errorf("no usable records in bedmethyl file %q", config.bedmethylFile)
	}
	bedmethyl := &bedMethylData{records: bedRecords}
	log.Infof("loaded %d bedmethyl rows, %d reference rows, %d CpG list rows", len(bedmethyl.records), len(reference.records), len(cpgList.records))

	sampler := newProfileSampler(config.seed)
	if err := preprocessInputData(bedmethyl, reference, cpgList, config.additionalCellTypes, sampler); err != nil {
		return err
	}
	log.Infof("%d sites retained after alignment", len(bedmethyl.records))

	refMatrix, err := reference.matrix()
	if err != nil {
		return err
	}
	bulk := bedmethyl.vector()
	dec := newDeconvolver(reference.numberOfCellTypes(), bulk)

	if config.additionalCellTypes < 1 {
		// Nothing to refine: one solve against the fixed reference.
		status, err := dec.solve(refMatrix)
		if err != nil {
			return err
		}
		if status != qpSuccess {
			return fmt.Errorf("deconvolution failed: QP solver returned %s", status)
		}
	} else {
		for iteration := 1; iteration <= config.maxIterations; iteration++ {
			status, err := dec.solve(refMatrix)
			if err != nil {
				return err
			}
			if status != qpSuccess {
				return fmt.Errorf("deconvolution failed: QP solver returned %s", status)
			}
			log.Debugf("iteration %d: residual norm %.6g", iteration, dec.residualNorm(refMatrix))
			if iteration > 1 && dec.changeInProportions() < config.loopTolerance {
				log.Infof("converged after %d iterations", iteration)
				break
			}
			if iteration == config.maxIterations {
				log.Infof("stopping after %d iterations without convergence", iteration)
				break
			}
			if err := updateReferenceMatrix(refMatrix, dec.proportions, bulk, config.additionalCellTypes); err != nil {
				// The last solved proportions are still usable; give
				// up on refinement rather than the whole run.
				log.Warnf("stopping refinement early: %s", err)
				break
			}
		}
	}

	if config.dumpReferenceFile != "" {
		if err := writeReferenceMatrix(config.dumpReferenceFile, refMatrix); err != nil {
			return err
		}
	}
	return writeMetrics(config, dec.cellProportions(), stdout)
}
