package hylord

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// siteKey identifies one measured genomic location: chromosome (1-22
// autosomes, 23=X, 24=Y, 25=M), 0-based start position, and the signal
// name from the fourth BED column ('m' for methylation, 'h' for
// hydroxymethylation). Records from different input files are matched
// on siteKey equality, and files are expected to be sorted ascending
// by this key.
type siteKey struct {
	Chromosome int
	Start      int
	Name       byte
}

// compare returns -1, 0, or 1 ordering keys lexicographically by
// (chromosome, start, name).
func (k siteKey) compare(other siteKey) int {
	switch {
	case k.Chromosome != other.Chromosome:
		if k.Chromosome < other.Chromosome {
			return -1
		}
		return 1
	case k.Start != other.Start:
		if k.Start < other.Start {
			return -1
		}
		return 1
	case k.Name != other.Name:
		if k.Name < other.Name {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// bed4 is one row of a CpG allow-list file (chrom, start, end, name).
// The end position is never used.
type bed4 struct {
	siteKey
}

// bed4PlusX is one row of a reference matrix file: BED4 plus one
// methylation percentage column per cell type, stored as proportions.
type bed4PlusX struct {
	siteKey
	MethylationProportions []float64
}

// bed9Plus9 is one row of a modkit bedMethyl file after column
// projection: BED4 plus read depth plus fraction modified, the latter
// stored as a proportion.
type bed9Plus9 struct {
	siteKey
	MethylationProportion float64
}

// cellType is one row of a cell-type list file.
type cellType struct {
	Name string
}

// parseChromosomeNumber handles both plain ("1", "22") and prefixed
// ("chr1") chromosome tokens, case-insensitively, mapping X to 23, Y
// to 24, and M to 25.
func parseChromosomeNumber(chrom string) (int, error) {
	numberPart := chrom
	if len(chrom) >= 3 && strings.EqualFold(chrom[:3], "chr") {
		numberPart = chrom[3:]
	}
	if n, err := strconv.Atoi(numberPart); err == nil && numberPart != "" && numberPart[0] != '-' && numberPart[0] != '+' {
		return n, nil
	}
	if len(numberPart) == 1 {
		switch numberPart[0] | 0x20 {
		case 'x':
			return 23, nil
		case 'y':
			return 24, nil
		case 'm':
			return 25, nil
		}
	}
	return 0, fmt.Errorf("failed to glean chromosome number for %q", chrom)
}

func validateFields(fields []string, minExpected int) error {
	if len(fields) < minExpected {
		return fmt.Errorf("too few fields (expected >=%d, got %d)", minExpected, len(fields))
	}
	return nil
}

// parseSiteKey parses the shared BED4 prefix (chrom, start, end,
// name). End is accepted but ignored.
func parseSiteKey(fields []string) (siteKey, error) {
	if err := validateFields(fields, 4); err != nil {
		return siteKey{}, err
	}
	chrom, err := parseChromosomeNumber(fields[0])
	if err != nil {
		return siteKey{}, err
	}
	start, err := strconv.Atoi(fields[1])
	if err != nil {
		return siteKey{}, fmt.Errorf("bad start position %q", fields[1])
	}
	if fields[3] == "" {
		return siteKey{}, fmt.Errorf("empty name field")
	}
	return siteKey{Chromosome: chrom, Start: start, Name: fields[3][0]}, nil
}

func parseBed4(fields []string) (bed4, error) {
	key, err := parseSiteKey(fields)
	if err != nil {
		return bed4{}, err
	}
	return bed4{siteKey: key}, nil
}

func parseBed4PlusX(fields []string) (bed4PlusX, error) {
	if err := validateFields(fields, 5); err != nil {
		return bed4PlusX{}, err
	}
	key, err := parseSiteKey(fields)
	if err != nil {
		return bed4PlusX{}, err
	}
	proportions := make([]float64, 0, len(fields)-4)
	for _, field := range fields[4:] {
		percent, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return bed4PlusX{}, fmt.Errorf("bad methylation percentage %q", field)
		}
		proportions = append(proportions, convertToProportion(percent))
	}
	return bed4PlusX{siteKey: key, MethylationProportions: proportions}, nil
}

func parseBed9Plus9(fields []string) (bed9Plus9, error) {
	if err := validateFields(fields, 6); err != nil {
		return bed9Plus9{}, err
	}
	key, err := parseSiteKey(fields)
	if err != nil {
		return bed9Plus9{}, err
	}
	percent, err := strconv.ParseFloat(fields[5], 64)
	if err != nil {
		return bed9Plus9{}, fmt.Errorf("bad fraction modified %q", fields[5])
	}
	return bed9Plus9{siteKey: key, MethylationProportion: convertToProportion(percent)}, nil
}

func parseCellType(fields []string) (cellType, error) {
	if err := validateFields(fields, 1); err != nil {
		return cellType{}, err
	}
	if fields[0] == "" {
		return cellType{}, fmt.Errorf("empty cell type name")
	}
	return cellType{Name: fields[0]}, nil
}

func convertToProportion(percent float64) float64 {
	return percent * 0.01
}

// convertToPercent rounds to two decimal places and clamps at zero.
// The deconvolution can produce tiny negative proportions; without the
// clamp those would print as "-0".
func convertToPercent(proportion float64) float64 {
	percent := math.Round(proportion*100*100) / 100
	return math.Abs(math.Max(percent, 0))
}
