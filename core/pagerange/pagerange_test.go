package pagerange

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		expr  string
		count int
		want  []int
	}{
		{"1", 3, []int{0}},
		{"1-3", 5, []int{0, 1, 2}},
		{"2-", 4, []int{1, 2, 3}},
		{"-2", 4, []int{0, 1}},
		{"all", 3, []int{0, 1, 2}},
		{"ALL", 2, []int{0, 1}},
		{"*", 2, []int{0, 1}},
		{"1-3, 7, 10-", 11, []int{0, 1, 2, 6, 9, 10}},
		{"3,1,2,3", 3, []int{0, 1, 2}},
		{" 4 - 5 ", 5, []int{3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := Parse(tt.expr, tt.count)
			if err != nil {
				t.Fatalf("Parse(%q, %d) error = %v", tt.expr, tt.count, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.expr, diff)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		expr  string
		count int
		want  error
	}{
		{"", 3, pderrors.ErrInvalidInput},
		{"1", 0, pderrors.ErrInvalidInput},
		{"0", 3, pderrors.ErrInvalidInput},
		{"3-1", 3, pderrors.ErrInvalidInput},
		{"1,,2", 3, pderrors.ErrInvalidInput},
		{"first", 3, pderrors.ErrInvalidInput},
		{"5", 3, pderrors.ErrOutOfRange},
		{"2-9", 3, pderrors.ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := Parse(tt.expr, tt.count)
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse(%q, %d) error = %v, want %v", tt.expr, tt.count, err, tt.want)
			}
		})
	}
}

func TestParseRanges(t *testing.T) {
	got, err := ParseRanges("7-8,2", 10)
	if err != nil {
		t.Fatal(err)
	}
	want := []Range{{First: 6, Last: 7}, {First: 1, Last: 1}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ParseRanges mismatch (-want +got):\n%s", diff)
	}
}

func TestAround(t *testing.T) {
	tests := []struct {
		current, radius, count int
		want                   []int
	}{
		{5, 3, 20, []int{6, 4, 7, 3, 8, 2}},
		{0, 3, 20, []int{1, 2, 3}},
		{9, 2, 10, []int{8, 7}},
		{0, 3, 1, nil},
	}
	for _, tt := range tests {
		got := Around(tt.current, tt.radius, tt.count)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Around(%d, %d, %d) mismatch (-want +got):\n%s", tt.current, tt.radius, tt.count, diff)
		}
	}
}
