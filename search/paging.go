// Package search holds the REST search helpers of the service; paging
// is the part the core needs (bundle link building after validation).
package search

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/erp-fd/erp-processing-context/model"
)

// Paging query keys. The double-underscore offset key is deliberate:
// it is not a FHIR search parameter.
const (
	CountKey  = "_count"
	OffsetKey = "__offset"
	IDKey     = "_id"
)

// DefaultCount limits pages to 50 entries.
const DefaultCount = 50

// BadRequestError marks syntactically invalid paging input; handlers
// map it to a 400 response.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return e.Msg }

// PagingArgument collects the paging state of one search request.
type PagingArgument struct {
	count              int
	offset             int
	totalSearchMatches int

	entryRange *[2]model.Timestamp
}

// NewPagingArgument returns the defaults: count 50, offset 0.
func NewPagingArgument() PagingArgument {
	return PagingArgument{count: DefaultCount}
}

// parseNonNegative accepts a numeric string; trailing characters and
// negative values are rejected per the FHIR search error rules.
func parseNonNegative(numberString, fieldName string, zeroAllowed bool) (int, error) {
	n, err := strconv.Atoi(numberString)
	if err != nil {
		return 0, &BadRequestError{Msg: "invalid numeric format in " + fieldName}
	}
	if n < 0 {
		return 0, &BadRequestError{Msg: fieldName + " can not be negative"}
	}
	if n == 0 && !zeroAllowed {
		return 0, &BadRequestError{Msg: fieldName + " zero is not supported"}
	}
	return n, nil
}

// SetCount parses the _count argument; values above the default page
// size are capped at it.
func (p *PagingArgument) SetCount(countString string) error {
	n, err := parseNonNegative(countString, CountKey, false)
	if err != nil {
		return err
	}
	if n > DefaultCount {
		n = DefaultCount
	}
	p.count = n
	return nil
}

// SetOffset parses the __offset argument.
func (p *PagingArgument) SetOffset(offsetString string) error {
	n, err := parseNonNegative(offsetString, OffsetKey, true)
	if err != nil {
		return err
	}
	p.offset = n
	return nil
}

// Count returns the page size.
func (p *PagingArgument) Count() int { return p.count }

// Offset returns the page offset.
func (p *PagingArgument) Offset() int { return p.offset }

// HasDefaultCount reports whether _count was left at the default.
func (p *PagingArgument) HasDefaultCount() bool { return p.count == DefaultCount }

// IsSet reports whether either argument has a non-default value.
func (p *PagingArgument) IsSet() bool { return p.count != DefaultCount || p.offset > 0 }

// SetTotalSearchMatches records the total match count from the query.
func (p *PagingArgument) SetTotalSearchMatches(total int) { p.totalSearchMatches = total }

// TotalSearchMatches returns the recorded total.
func (p *PagingArgument) TotalSearchMatches() int { return p.totalSearchMatches }

// HasPreviousPage is true whenever the offset is positive.
func (p *PagingArgument) HasPreviousPage() bool { return p.offset > 0 }

// HasNextPage reports whether matches exist beyond the current page.
func (p *PagingArgument) HasNextPage(totalSearchMatches int) bool {
	return totalSearchMatches > p.offset+p.count
}

// OffsetLastPage computes the offset of the final page.
func (p *PagingArgument) OffsetLastPage() int {
	if p.count == 0 || p.totalSearchMatches == 0 {
		return 0
	}
	last := ((p.totalSearchMatches - 1) / p.count) * p.count
	if last < 0 {
		return 0
	}
	return last
}

// SetEntryTimestampRange records the first/last entry timestamps used
// for timestamp-bounded next links.
func (p *PagingArgument) SetEntryTimestampRange(first, last model.Timestamp) {
	p.entryRange = &[2]model.Timestamp{first, last}
}

// EntryTimestampRange returns the recorded range, if any.
func (p *PagingArgument) EntryTimestampRange() (first, last model.Timestamp, ok bool) {
	if p.entryRange == nil {
		return model.Timestamp{}, model.Timestamp{}, false
	}
	return p.entryRange[0], p.entryRange[1], true
}

// LinkOffset renders the link URL for the page at the given offset,
// preserving the base query.
func (p *PagingArgument) LinkOffset(base *url.URL, offset int) string {
	link := *base
	query := link.Query()
	query.Set(CountKey, strconv.Itoa(p.count))
	query.Set(OffsetKey, strconv.Itoa(offset))
	link.RawQuery = query.Encode()
	return link.String()
}

// NextLink returns the next-page URL, or "" when the current page is
// the last one.
func (p *PagingArgument) NextLink(base *url.URL) string {
	if !p.HasNextPage(p.totalSearchMatches) {
		return ""
	}
	return p.LinkOffset(base, p.offset+p.count)
}

// PrevLink returns the previous-page URL, or "" on the first page.
func (p *PagingArgument) PrevLink(base *url.URL) string {
	if !p.HasPreviousPage() {
		return ""
	}
	prev := p.offset - p.count
	if prev < 0 {
		prev = 0
	}
	return p.LinkOffset(base, prev)
}

// String aids request logging.
func (p *PagingArgument) String() string {
	return fmt.Sprintf("paging{count=%d offset=%d total=%d}", p.count, p.offset, p.totalSearchMatches)
}
