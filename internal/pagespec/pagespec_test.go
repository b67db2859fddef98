package pagespec

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestParseRanges(t *testing.T) {
	cases := []struct {
		expr string
		want []int
		segs int
	}{
		{expr: "1-3,7,10-12", want: []int{1, 2, 3, 7, 10, 11, 12}, segs: 3},
		{expr: " 1 - 3 , 7 ", want: []int{1, 2, 3, 7}, segs: 2},
		{expr: "3,1-2", want: []int{3, 1, 2}, segs: 2},
		{expr: "1-2,2-3", want: []int{1, 2, 2, 3}, segs: 2},
		{expr: "5", want: []int{5}, segs: 1},
		{expr: "4-4", want: []int{4}, segs: 1},
	}
	for _, tc := range cases {
		spec, err := Parse(tc.expr, Ranges)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", tc.expr, err)
		}
		if got := spec.Pages(); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Parse(%q).Pages() = %v, want %v", tc.expr, got, tc.want)
		}
		if len(spec.Segments) != tc.segs {
			t.Fatalf("Parse(%q) segments = %d, want %d", tc.expr, len(spec.Segments), tc.segs)
		}
	}
}

func TestParseOrder(t *testing.T) {
	cases := []struct {
		expr string
		want []int
	}{
		{expr: "3,1,2", want: []int{3, 1, 2}},
		{expr: "1,1", want: []int{1, 1}},
		{expr: " 2 ", want: []int{2}},
	}
	for _, tc := range cases {
		spec, err := Parse(tc.expr, Order)
		if err != nil {
			t.Fatalf("Parse(%q) returned error: %v", tc.expr, err)
		}
		if got := spec.Pages(); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("Parse(%q).Pages() = %v, want %v", tc.expr, got, tc.want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		expr string
		mode Mode
	}{
		{expr: "", mode: Ranges},
		{expr: "   ", mode: Order},
		{expr: "0-2", mode: Ranges},
		{expr: "5-3", mode: Ranges},
		{expr: "0", mode: Ranges},
		{expr: "a", mode: Ranges},
		{expr: "1,,2", mode: Ranges},
		{expr: "1,2,", mode: Order},
		{expr: "1-", mode: Ranges},
		{expr: "-3", mode: Ranges},
		{expr: "+3", mode: Ranges},
		{expr: "1-3", mode: Order},
		{expr: "1.5", mode: Order},
		{expr: "1-2-3", mode: Ranges},
	}
	for _, tc := range cases {
		_, err := Parse(tc.expr, tc.mode)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("Parse(%q, %s) error = %v, want *ParseError", tc.expr, tc.mode, err)
		}
	}
}

func TestParseDeterministic(t *testing.T) {
	first, err := ParseRanges("2-4, 9, 1-1, 6-8")
	if err != nil {
		t.Fatalf("ParseRanges returned error: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := ParseRanges("2-4, 9, 1-1, 6-8")
		if err != nil {
			t.Fatalf("ParseRanges returned error: %v", err)
		}
		if !reflect.DeepEqual(first.Pages(), again.Pages()) {
			t.Fatalf("run %d: %v != %v", i, again.Pages(), first.Pages())
		}
	}
}

func TestSpecValidate(t *testing.T) {
	spec, err := ParseRanges("1-3,7")
	if err != nil {
		t.Fatalf("ParseRanges returned error: %v", err)
	}
	if err := spec.Validate(7); err != nil {
		t.Fatalf("Validate(7) returned error: %v", err)
	}
	if err := spec.Validate(6); !errors.Is(err, ErrPageOutOfRange) {
		t.Fatalf("Validate(6) error = %v, want ErrPageOutOfRange", err)
	}
	if spec.Max() != 7 {
		t.Fatalf("Max() = %d, want 7", spec.Max())
	}
}

func TestSpecUniqueAndString(t *testing.T) {
	spec, err := ParseRanges("5, 1-3, 2")
	if err != nil {
		t.Fatalf("ParseRanges returned error: %v", err)
	}
	if got := spec.Unique(); !reflect.DeepEqual(got, []int{1, 2, 3, 5}) {
		t.Fatalf("Unique() = %v", got)
	}
	if got := spec.String(); got != "5,1-3,2" {
		t.Fatalf("String() = %q", got)
	}
}

func TestParseRejectsHugeRanges(t *testing.T) {
	for _, expr := range []string{
		"2-9223372036854775807",
		"99999999999999999999999",
		"1-2000000000",
		"100001",
	} {
		spec, err := ParseRanges(expr)
		var perr *ParseError
		if !errors.As(err, &perr) {
			t.Fatalf("ParseRanges(%q) = %v, %v; want *ParseError", expr, spec, err)
		}
	}

	// 各トークンは上限内でも展開後の長さが上限を超える
	tokens := make([]string, MaxSequence/MaxPage+1)
	for i := range tokens {
		tokens[i] = "1-100000"
	}
	if _, err := ParseRanges(strings.Join(tokens, ",")); err == nil {
		t.Fatal("expected error for oversized expansion")
	}

	spec, err := ParseRanges("99999-100000")
	if err != nil {
		t.Fatalf("ParseRanges at the bound: %v", err)
	}
	if got := spec.Pages(); !reflect.DeepEqual(got, []int{99999, 100000}) {
		t.Fatalf("Pages() = %v", got)
	}
}

func TestSegmentLenOfMalformedSegment(t *testing.T) {
	for _, seg := range []Segment{{Start: 5, End: 1}, {Start: 0, End: 3}, {Start: -1 << 62, End: 1 << 62}} {
		if seg.Len() != 0 || len(seg.Pages()) != 0 {
			t.Fatalf("%+v: Len = %d, Pages = %v", seg, seg.Len(), seg.Pages())
		}
	}
	spec := &Spec{Segments: []Segment{{Start: 9, End: 2}, {Start: 1, End: 2}}}
	if got := spec.Pages(); !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("Pages() = %v", got)
	}
}
