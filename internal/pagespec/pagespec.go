// Package pagespec はページ範囲・ページ順序の指定文字列を解析します。
//
// 解析は文書を参照しません。実際のページ数との突き合わせは Spec.Validate で
// 実行時に行います。
package pagespec

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Mode は指定文字列の解釈方法を表します。
type Mode int

const (
	// Ranges は "1-3, 7, 10-12" のような範囲指定です。
	Ranges Mode = iota
	// Order は "3,1,2" のような単一ページ番号の並びです。
	Order
)

func (m Mode) String() string {
	switch m {
	case Ranges:
		return "ranges"
	case Order:
		return "order"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

const (
	// MaxPage は受け付けるページ番号の上限です。
	MaxPage = 100000
	// MaxSequence は展開後のページ列の長さの上限です。
	MaxSequence = 1 << 20
)

// ErrPageOutOfRange はページ番号が文書のページ数を超えている場合に返されます。
var ErrPageOutOfRange = errors.New("page out of range")

// ParseError は指定文字列が文法に合わない場合のエラーです。
type ParseError struct {
	Input  string
	Token  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("invalid page spec %q: %s", e.Input, e.Reason)
	}
	return fmt.Sprintf("invalid page spec %q: token %q: %s", e.Input, e.Token, e.Reason)
}

// Segment はトークン1つ分の連続したページ範囲です（1始まり、Start <= End）。
type Segment struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len はセグメントに含まれるページ数を返します。不正なセグメントは 0 です。
func (s Segment) Len() int {
	if s.Start < 1 || s.End < s.Start {
		return 0
	}
	return s.End - s.Start + 1
}

// Pages はセグメントを昇順のページ番号列に展開します。
func (s Segment) Pages() []int {
	if s.Len() == 0 {
		return nil
	}
	pages := make([]int, 0, min(s.Len(), MaxSequence))
	for p := s.Start; p <= s.End; p++ {
		pages = append(pages, p)
	}
	return pages
}

func (s Segment) String() string {
	if s.Start == s.End {
		return strconv.Itoa(s.Start)
	}
	return fmt.Sprintf("%d-%d", s.Start, s.End)
}

// Spec は解析済みの指定です。Segments はトークンの出現順を保持します。
type Spec struct {
	Mode     Mode
	Segments []Segment
}

// Pages はトークン順に連結したページ番号列を返します。重複や重なりはそのまま残ります。
func (s *Spec) Pages() []int {
	if s == nil {
		return nil
	}
	pages := make([]int, 0, min(s.total(), MaxSequence))
	for _, seg := range s.Segments {
		pages = append(pages, seg.Pages()...)
	}
	return pages
}

// total は展開後の長さです。MaxSequence を超えた時点で打ち切ります。
func (s *Spec) total() int {
	total := 0
	for _, seg := range s.Segments {
		total += seg.Len()
		if total > MaxSequence {
			return MaxSequence + 1
		}
	}
	return total
}

// Unique は参照されているページを重複なしの昇順で返します。
func (s *Spec) Unique() []int {
	seen := make(map[int]struct{})
	var pages []int
	for _, p := range s.Pages() {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// Max は参照されている最大のページ番号を返します。
func (s *Spec) Max() int {
	max := 0
	if s == nil {
		return max
	}
	for _, seg := range s.Segments {
		if seg.End > max {
			max = seg.End
		}
	}
	return max
}

// Validate は全ての参照ページが pageCount 以内であることを確認します。
func (s *Spec) Validate(pageCount int) error {
	for _, seg := range s.Segments {
		if seg.End > pageCount {
			return fmt.Errorf("%w: page %d exceeds page count %d", ErrPageOutOfRange, seg.End, pageCount)
		}
	}
	return nil
}

// String は正規化した指定文字列を返します。
func (s *Spec) String() string {
	if s == nil {
		return ""
	}
	parts := make([]string, len(s.Segments))
	for i, seg := range s.Segments {
		parts[i] = seg.String()
	}
	return strings.Join(parts, ",")
}

// ParseRanges は Parse(expr, Ranges) の省略形です。
func ParseRanges(expr string) (*Spec, error) {
	return Parse(expr, Ranges)
}

// ParseOrder は Parse(expr, Order) の省略形です。
func ParseOrder(expr string) (*Spec, error) {
	return Parse(expr, Order)
}

// Parse は指定文字列をカンマで区切り、各トークンを解析します。
func Parse(expr string, mode Mode) (*Spec, error) {
	if strings.TrimSpace(expr) == "" {
		return nil, &ParseError{Input: expr, Reason: "empty expression"}
	}
	if mode != Ranges && mode != Order {
		return nil, &ParseError{Input: expr, Reason: "unknown mode " + mode.String()}
	}

	tokens := strings.Split(expr, ",")
	spec := &Spec{Mode: mode, Segments: make([]Segment, 0, len(tokens))}
	for _, raw := range tokens {
		token := strings.TrimSpace(raw)
		if token == "" {
			return nil, &ParseError{Input: expr, Token: raw, Reason: "empty token"}
		}
		seg, reason := parseToken(token, mode)
		if reason != "" {
			return nil, &ParseError{Input: expr, Token: token, Reason: reason}
		}
		spec.Segments = append(spec.Segments, seg)
	}
	if spec.total() > MaxSequence {
		return nil, &ParseError{Input: expr, Reason: fmt.Sprintf("expands to more than %d pages", MaxSequence)}
	}
	return spec, nil
}

func parseToken(token string, mode Mode) (Segment, string) {
	if mode == Ranges && strings.Contains(token, "-") {
		parts := strings.SplitN(token, "-", 2)
		start, ok := parsePage(parts[0])
		if !ok {
			return Segment{}, "range start is not a page number between 1 and " + strconv.Itoa(MaxPage)
		}
		end, ok := parsePage(parts[1])
		if !ok {
			return Segment{}, "range end is not a page number between 1 and " + strconv.Itoa(MaxPage)
		}
		if start > end {
			return Segment{}, "range start is greater than range end"
		}
		return Segment{Start: start, End: end}, ""
	}

	page, ok := parsePage(token)
	if !ok {
		return Segment{}, "not a page number between 1 and " + strconv.Itoa(MaxPage)
	}
	return Segment{Start: page, End: page}, ""
}

// parsePage は 1 以上 MaxPage 以下の符号なし10進数のみを受け付けます。
func parsePage(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 || n > MaxPage {
		return 0, false
	}
	return n, true
}
