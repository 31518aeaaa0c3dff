package chunker

import (
	"errors"
	"fmt"
	"slices"
	"sort"
)

var ErrOrder = errors.New("chunk sequence is not contiguous")

// OrderError lists the indices that break the 0..n-1 sequence. OutOfRange
// holds indices that cannot belong to a sequence of that length.
type OrderError struct {
	Missing    []int
	Duplicates []int
	OutOfRange []int
}

func (e *OrderError) Error() string {
	if len(e.OutOfRange) > 0 {
		return fmt.Sprintf("%v: missing %v, duplicated %v, out of range %v", ErrOrder, e.Missing, e.Duplicates, e.OutOfRange)
	}
	return fmt.Sprintf("%v: missing %v, duplicated %v", ErrOrder, e.Missing, e.Duplicates)
}

func (e *OrderError) Unwrap() error { return ErrOrder }

// maxReported caps each index list of an OrderError.
const maxReported = 32

// CheckOrder verifies that indices, in any order, are exactly 0..len-1.
// Memory use is bounded by len(indices), whatever the values.
func CheckOrder(indices []int) error {
	n := len(indices)
	seen := make([]bool, n)
	var missing, dups, outOfRange []int

	for _, idx := range indices {
		switch {
		case idx < 0 || idx >= n:
			outOfRange = appendCapped(outOfRange, idx)
		case seen[idx]:
			if !slices.Contains(dups, idx) {
				dups = appendCapped(dups, idx)
			}
		default:
			seen[idx] = true
		}
	}
	for idx, ok := range seen {
		if !ok {
			missing = appendCapped(missing, idx)
		}
	}

	if len(missing) > 0 || len(dups) > 0 || len(outOfRange) > 0 {
		slices.Sort(dups)
		slices.Sort(outOfRange)
		return &OrderError{Missing: missing, Duplicates: dups, OutOfRange: outOfRange}
	}
	return nil
}

func appendCapped(list []int, v int) []int {
	if len(list) >= maxReported {
		return list
	}
	return append(list, v)
}

// Join concatenates chunks in ascending index order. The input may be
// unordered but must hold every index from 0 to n-1 exactly once.
func Join(chunks []Chunk) ([]byte, error) {
	indices := make([]int, len(chunks))
	total := 0
	for i, c := range chunks {
		indices[i] = c.Index
		total += len(c.Data)
	}
	if err := CheckOrder(indices); err != nil {
		return nil, err
	}

	ordered := slices.Clone(chunks)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	out := make([]byte, 0, total)
	for _, c := range ordered {
		out = append(out, c.Data...)
	}
	return out, nil
}
