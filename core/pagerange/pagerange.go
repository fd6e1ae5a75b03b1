// Package pagerange parses page selections such as "1-3, 7, 10-".
//
// Expressions use one-based page numbers as shown to users; Parse returns
// sorted, de-duplicated zero-based indices.
package pagerange

import (
	"sort"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	pderrors "github.com/FocuswithJustin/PageDesk/core/errors"
)

// rangeExpr is the participle grammar for page selections.
// Examples: "all", "*", "5", "2-4", "10-", "-3", "1-3,7,10-"
//
//nolint:govet // participle grammar tags are not standard struct tags
type rangeExpr struct {
	All   bool         `  @( "all" | "*" )`
	Items []*rangeItem `| @@ ( "," @@ )*`
}

//nolint:govet // participle grammar tags are not standard struct tags
type rangeItem struct {
	Span *span `  @@`
	Head *int  `| "-" @Int`
}

//nolint:govet // participle grammar tags are not standard struct tags
type span struct {
	From int   `@Int`
	Tail *tail `@@?`
}

//nolint:govet // participle grammar tags are not standard struct tags
type tail struct {
	Dash bool `@"-"`
	To   *int `@Int?`
}

var rangeLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Keyword", Pattern: `[a-z]+`},
	{Name: "Punct", Pattern: `[-,*]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var rangeParser = participle.MustBuild[rangeExpr](
	participle.Lexer(rangeLexer),
	participle.Elide("Whitespace"),
)

// Range is an inclusive span of zero-based page indices.
type Range struct {
	First, Last int
}

// Parse resolves expr against a document of count pages.
func Parse(expr string, count int) ([]int, error) {
	ranges, err := ParseRanges(expr, count)
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var pages []int
	for _, r := range ranges {
		for p := r.First; p <= r.Last; p++ {
			if !seen[p] {
				seen[p] = true
				pages = append(pages, p)
			}
		}
	}
	sort.Ints(pages)
	return pages, nil
}

// ParseRanges resolves expr into zero-based ranges in expression order.
func ParseRanges(expr string, count int) ([]Range, error) {
	expr = strings.ToLower(strings.TrimSpace(expr))
	if expr == "" {
		return nil, pderrors.NewValidation("pages", "empty page selection")
	}
	if count <= 0 {
		return nil, pderrors.NewValidation("pages", "document has no pages")
	}

	parsed, err := rangeParser.ParseString("", expr)
	if err != nil {
		return nil, &pderrors.ValidationError{Field: "pages", Value: expr, Message: err.Error(), Err: err}
	}
	if parsed.All {
		return []Range{{First: 0, Last: count - 1}}, nil
	}

	var out []Range
	for _, item := range parsed.Items {
		first, last := 1, count
		switch {
		case item.Head != nil:
			last = *item.Head
		case item.Span.Tail == nil:
			first, last = item.Span.From, item.Span.From
		case item.Span.Tail.To == nil:
			first = item.Span.From
		default:
			first, last = item.Span.From, *item.Span.Tail.To
		}

		if first < 1 || last < 1 {
			return nil, &pderrors.ValidationError{Field: "pages", Value: expr, Message: "page numbers start at 1"}
		}
		if first > last {
			return nil, &pderrors.ValidationError{Field: "pages", Value: expr, Message: "range end precedes start"}
		}
		if last > count {
			return nil, pderrors.NewRange(last-1, count)
		}
		out = append(out, Range{First: first - 1, Last: last - 1})
	}
	return out, nil
}

// Around returns the indices within radius of current, clipped to
// [0, count), excluding current itself. Nearer pages come first.
func Around(current, radius, count int) []int {
	var out []int
	for d := 1; d <= radius; d++ {
		if p := current + d; p >= 0 && p < count {
			out = append(out, p)
		}
		if p := current - d; p >= 0 && p < count {
			out = append(out, p)
		}
	}
	return out
}
