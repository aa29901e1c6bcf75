package report

import "slices"

// Merge combines two row sequences, each sorted by Compare, into one sorted
// sequence in linear time. Rows that compare equal keep a before b. If either
// input is empty the other is returned unchanged.
func Merge(a, b []Row) []Row {
	if len(a) == 0 {
		return b
	}
	if len(b) == 0 {
		return a
	}

	out := make([]Row, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if Compare(b[j], a[i]) < 0 {
			out = append(out, b[j])
			j++
		} else {
			out = append(out, a[i])
			i++
		}
	}
	out = append(out, a[i:]...)
	return append(out, b[j:]...)
}

// MergeAll folds Merge over seqs from left to right.
func MergeAll(seqs ...[]Row) []Row {
	var merged []Row
	for _, s := range seqs {
		merged = Merge(merged, s)
	}
	return merged
}

// Compare orders rows by value, then date, then the remaining dimensions.
// The upstream API sorts by value and date; the dimension tiebreak makes a fold
// over sub-range results produce the same sequence whatever the pairing order.
func Compare(a, b Row) int {
	switch {
	case a.Value < b.Value:
		return -1
	case a.Value > b.Value:
		return 1
	}
	if c := compareStrings(a.Date(), b.Date()); c != 0 {
		return c
	}
	return slices.Compare(a.Dimensions, b.Dimensions)
}

// SortRows sorts rows in place with Compare, keeping equal rows in input order.
func SortRows(rows []Row) {
	slices.SortStableFunc(rows, Compare)
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
