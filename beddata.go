package hylord

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// subsetRecords returns the records at the given indexes, in the given
// order. Callers use this to restrict datasets to a common set of
// sites, so the index order (not necessarily sorted) is preserved.
func subsetRecords[T any](records []T, rows []int) ([]T, error) {
	subset := make([]T, 0, len(rows))
	for _, row := range rows {
		if row < 0 || row >= len(records) {
			return nil, fmt.Errorf("invalid row index %d (dataset has %d rows)", row, len(records))
		}
		subset = append(subset, records[row])
	}
	return subset, nil
}

// cpgData owns the parsed rows of a CpG allow-list file.
type cpgData struct {
	records []bed4
}

func (d *cpgData) empty() bool { return len(d.records) == 0 }

func (d *cpgData) subsetRows(rows []int) error {
	subset, err := subsetRecords(d.records, rows)
	if err != nil {
		return err
	}
	d.records = subset
	return nil
}

// bedMethylData owns the parsed rows of a bedmethyl (bulk signal)
// file.
type bedMethylData struct {
	records []bed9Plus9
}

func (d *bedMethylData) empty() bool { return len(d.records) == 0 }

func (d *bedMethylData) subsetRows(rows []int) error {
	subset, err := subsetRecords(d.records, rows)
	if err != nil {
		return err
	}
	d.records = subset
	return nil
}

// vector materializes the bulk methylation proportions as a dense
// column vector, row-aligned with the records.
func (d *bedMethylData) vector() *mat.VecDense {
	values := make([]float64, len(d.records))
	for i, record := range d.records {
		values[i] = record.MethylationProportion
	}
	return mat.NewVecDense(len(values), values)
}

// referenceMatrixData owns the parsed rows of a reference matrix file:
// one row per site, one proportion column per cell type.
type referenceMatrixData struct {
	records []bed4PlusX
}

// newReferenceFromBedmethyl derives an empty reference matrix (one row
// per bulk record, zero cell-type columns) for runs without a
// reference file, where every cell type is estimated from scratch.
func newReferenceFromBedmethyl(bedmethyl *bedMethylData) *referenceMatrixData {
	records := make([]bed4PlusX, 0, len(bedmethyl.records))
	for _, row := range bedmethyl.records {
		records = append(records, bed4PlusX{siteKey: row.siteKey})
	}
	return &referenceMatrixData{records: records}
}

func (d *referenceMatrixData) empty() bool { return len(d.records) == 0 }

func (d *referenceMatrixData) subsetRows(rows []int) error {
	subset, err := subsetRecords(d.records, rows)
	if err != nil {
		return err
	}
	d.records = subset
	return nil
}

func (d *referenceMatrixData) numberOfCellTypes() int {
	if len(d.records) == 0 {
		return 0
	}
	return len(d.records[0].MethylationProportions)
}

// addCellTypes appends numCellTypes columns of sampled methylation
// values to every row. Rows named 'h' draw from the
// hydroxymethylation distribution, all others from the methylation
// distribution.
func (d *referenceMatrixData) addCellTypes(numCellTypes int, sampler *profileSampler) {
	if numCellTypes < 1 {
		return
	}
	for i := range d.records {
		record := &d.records[i]
		for j := 0; j < numCellTypes; j++ {
			if record.Name == 'h' {
				record.MethylationProportions = append(record.MethylationProportions, sampler.hydroxymethylation())
			} else {
				record.MethylationProportions = append(record.MethylationProportions, sampler.methylation())
			}
		}
	}
}

// matrix materializes the reference as a dense rows x cellTypes
// matrix. Every row must carry the same number of proportions.
func (d *referenceMatrixData) matrix() (*mat.Dense, error) {
	rows := len(d.records)
	if rows == 0 {
		return nil, fmt.Errorf("reference matrix has no rows")
	}
	cols := len(d.records[0].MethylationProportions)
	if cols == 0 {
		return nil, fmt.Errorf("reference matrix has no cell type columns")
	}
	values := make([]float64, 0, rows*cols)
	for _, record := range d.records {
		if len(record.MethylationProportions) != cols {
			return nil, fmt.Errorf("inconsistent number of entries in reference matrix (%d != %d)", len(record.MethylationProportions), cols)
		}
		values = append(values, record.MethylationProportions...)
	}
	return mat.NewDense(rows, cols, values), nil
}
