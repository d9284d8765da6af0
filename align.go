package hylord

import (
	"errors"
	"sort"
)

var errNoOverlap = errors.New("no overlapping sites found")

// keyed is satisfied by every record type embedding a siteKey.
type keyed interface {
	key() siteKey
}

func (k siteKey) key() siteKey { return k }

// findOverlappingIndexes locates the rows common to two datasets using
// a two-pointer merge: both inputs must be sorted ascending by site
// key (standard tooling emits sorted files; this is not re-checked).
// The returned index slices have equal length and pair up matching
// rows, so subsetting each dataset by its slice leaves the two
// row-aligned.
func findOverlappingIndexes[A keyed, B keyed](one []A, two []B) ([]int, []int) {
	capacity := len(one)
	if len(two) < capacity {
		capacity = len(two)
	}
	oneIndexes := make([]int, 0, capacity)
	twoIndexes := make([]int, 0, capacity)

	oneRow, twoRow := 0, 0
	for oneRow < len(one) && twoRow < len(two) {
		switch one[oneRow].key().compare(two[twoRow].key()) {
		case 0:
			oneIndexes = append(oneIndexes, oneRow)
			twoIndexes = append(twoIndexes, twoRow)
			oneRow++
			twoRow++
		case -1:
			oneRow++
		default:
			twoRow++
		}
	}
	return oneIndexes, twoIndexes
}

// findIndexesInCpGList returns, for each allow-list site present in
// records, the matching index into records. records must be sorted
// ascending by site key; each allow-list entry is located by binary
// search, which beats a linear merge when the allow-list is much
// smaller than the dataset. A completely disjoint pair is an error:
// it signals mismatched inputs, not a meaningful empty selection.
func findIndexesInCpGList[T keyed](cpgList *cpgData, records []T) ([]int, error) {
	indexes := make([]int, 0, len(cpgList.records))
	for _, cpg := range cpgList.records {
		target := cpg.key()
		candidate := sort.Search(len(records), func(i int) bool {
			return records[i].key().compare(target) >= 0
		})
		if candidate < len(records) && records[candidate].key() == target {
			indexes = append(indexes, candidate)
		}
	}
	if len(indexes) == 0 {
		return nil, errNoOverlap
	}
	return indexes, nil
}
