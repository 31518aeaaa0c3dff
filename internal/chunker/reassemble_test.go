package chunker

import (
	"errors"
	"reflect"
	"testing"
)

func chunksWithIndices(indices ...int) []Chunk {
	out := make([]Chunk, len(indices))
	for i, idx := range indices {
		out[i] = Chunk{Index: idx, Data: []byte{byte('a' + idx)}}
	}
	return out
}

func TestJoinOrderErrors(t *testing.T) {
	tests := []struct {
		name    string
		indices []int
		missing []int
		dups    []int
		out     []int
	}{
		{"gap", []int{0, 1, 3}, []int{2}, nil, []int{3}},
		{"duplicate", []int{0, 1, 1}, []int{2}, []int{1}, nil},
		{"no zero", []int{1, 2}, []int{0}, nil, []int{2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Join(chunksWithIndices(tt.indices...))
			if !errors.Is(err, ErrOrder) {
				t.Fatalf("Join(%v) error = %v, want ErrOrder", tt.indices, err)
			}
			var orderErr *OrderError
			if !errors.As(err, &orderErr) {
				t.Fatalf("error is not *OrderError: %T", err)
			}
			if !reflect.DeepEqual(orderErr.Missing, tt.missing) {
				t.Errorf("Missing = %v, want %v", orderErr.Missing, tt.missing)
			}
			if !reflect.DeepEqual(orderErr.Duplicates, tt.dups) {
				t.Errorf("Duplicates = %v, want %v", orderErr.Duplicates, tt.dups)
			}
			if !reflect.DeepEqual(orderErr.OutOfRange, tt.out) {
				t.Errorf("OutOfRange = %v, want %v", orderErr.OutOfRange, tt.out)
			}
		})
	}
}

func TestJoinSortsByIndex(t *testing.T) {
	got, err := Join(chunksWithIndices(2, 0, 1))
	if err != nil {
		t.Fatalf("Join error: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("Join = %q, want %q", got, "abc")
	}

	empty, err := Join(nil)
	if err != nil || len(empty) != 0 {
		t.Errorf("Join(nil) = %q, %v", empty, err)
	}
}

func TestCheckOrderNegative(t *testing.T) {
	if err := CheckOrder([]int{-1, 0}); !errors.Is(err, ErrOrder) {
		t.Errorf("CheckOrder with negative index = %v, want ErrOrder", err)
	}
}

func TestCheckOrderHugeIndex(t *testing.T) {
	err := CheckOrder([]int{0, 300_000_000})
	var orderErr *OrderError
	if !errors.As(err, &orderErr) {
		t.Fatalf("CheckOrder = %v, want *OrderError", err)
	}
	if !reflect.DeepEqual(orderErr.OutOfRange, []int{300_000_000}) {
		t.Errorf("OutOfRange = %v", orderErr.OutOfRange)
	}
	if !reflect.DeepEqual(orderErr.Missing, []int{1}) {
		t.Errorf("Missing = %v, want [1]", orderErr.Missing)
	}
}

func TestCheckOrderCapsReport(t *testing.T) {
	indices := make([]int, 100)
	for i := range indices {
		indices[i] = 1000 + i
	}
	var orderErr *OrderError
	if !errors.As(CheckOrder(indices), &orderErr) {
		t.Fatal("expected *OrderError")
	}
	if len(orderErr.Missing) != maxReported || len(orderErr.OutOfRange) != maxReported {
		t.Errorf("report not capped: %d missing, %d out of range", len(orderErr.Missing), len(orderErr.OutOfRange))
	}
}
