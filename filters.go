package hylord

import (
	"fmt"
	"strconv"
)

// rowFilter decides whether a row (after column projection) should be
// kept. An error means the filter could not be applied, typically
// because a required field is missing; the reader treats that the same
// as a malformed line.
type rowFilter func(fields []string) (bool, error)

// filterCombiner aggregates filters with short-circuiting AND.
type filterCombiner struct {
	filters []rowFilter
}

func (fc *filterCombiner) addFilter(filter rowFilter) {
	fc.filters = append(fc.filters, filter)
}

func (fc *filterCombiner) empty() bool { return len(fc.filters) == 0 }

// combinedFilter returns a filter accepting rows every added filter
// accepts, or nil when no filters were added (accept everything
// without the indirection).
func (fc *filterCombiner) combinedFilter() rowFilter {
	if fc.empty() {
		return nil
	}
	filters := append([]rowFilter(nil), fc.filters...)
	return func(fields []string) (bool, error) {
		for _, filter := range filters {
			keep, err := filter(fields)
			if err != nil || !keep {
				return false, err
			}
		}
		return true, nil
	}
}

func readDepth(fields []string) (int, error) {
	if len(fields) < 5 {
		return 0, fmt.Errorf("could not apply row filter: need read depth in field 5, row has %d fields", len(fields))
	}
	depth, err := strconv.Atoi(fields[4])
	if err != nil {
		return 0, fmt.Errorf("could not apply row filter: bad read depth %q", fields[4])
	}
	return depth, nil
}

// minReadFilter keeps rows whose read depth is strictly greater than
// minReads.
func minReadFilter(minReads int) rowFilter {
	return func(fields []string) (bool, error) {
		depth, err := readDepth(fields)
		if err != nil {
			return false, err
		}
		return depth > minReads, nil
	}
}

// maxReadFilter keeps rows whose read depth is strictly less than
// maxReads.
func maxReadFilter(maxReads int) rowFilter {
	return func(fields []string) (bool, error) {
		depth, err := readDepth(fields)
		if err != nil {
			return false, err
		}
		return depth < maxReads, nil
	}
}

func signalName(fields []string) (byte, error) {
	if len(fields) < 4 {
		return 0, fmt.Errorf("could not apply row filter: need name in field 4, row has %d fields", len(fields))
	}
	if fields[3] == "" {
		return 0, fmt.Errorf("could not apply row filter: empty name field")
	}
	return fields[3][0], nil
}

// isMethylRead keeps only methylation ('m') rows.
func isMethylRead(fields []string) (bool, error) {
	name, err := signalName(fields)
	if err != nil {
		return false, err
	}
	return name == 'm', nil
}

// isHydroxyRead keeps only hydroxymethylation ('h') rows.
func isHydroxyRead(fields []string) (bool, error) {
	name, err := signalName(fields)
	if err != nil {
		return false, err
	}
	return name == 'h', nil
}

// bedmethylRowFilter builds the combined filter for bedmethyl loads
// from the configured read-depth bounds and signal selection.
func bedmethylRowFilter(config *config) rowFilter {
	var fc filterCombiner
	if config.minReadDepth > 0 {
		fc.addFilter(minReadFilter(config.minReadDepth))
	}
	if config.maxReadDepth > 0 {
		fc.addFilter(maxReadFilter(config.maxReadDepth))
	}
	if config.onlyMethyl {
		fc.addFilter(isMethylRead)
	}
	if config.onlyHydroxy {
		fc.addFilter(isHydroxyRead)
	}
	return fc.combinedFilter()
}
