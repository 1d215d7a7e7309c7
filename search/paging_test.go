package search

import (
	"net/url"
	"strings"
	"testing"
)

func TestCountParsing(t *testing.T) {
	p := NewPagingArgument()
	if err := p.SetCount("25"); err != nil || p.Count() != 25 {
		t.Errorf("SetCount(25): %v, count=%d", err, p.Count())
	}
	// values above the page limit are capped
	if err := p.SetCount("500"); err != nil || p.Count() != DefaultCount {
		t.Errorf("SetCount(500): %v, count=%d", err, p.Count())
	}
	for _, bad := range []string{"0", "-1", "12x", "abc"} {
		if err := p.SetCount(bad); err == nil {
			t.Errorf("SetCount(%q) must fail", bad)
		}
	}
}

func TestOffsetParsing(t *testing.T) {
	p := NewPagingArgument()
	if err := p.SetOffset("0"); err != nil || p.Offset() != 0 {
		t.Errorf("SetOffset(0): %v", err)
	}
	if err := p.SetOffset("100"); err != nil || p.Offset() != 100 {
		t.Errorf("SetOffset(100): %v", err)
	}
	if err := p.SetOffset("-1"); err == nil {
		t.Error("negative offset must fail")
	}
}

func TestPagingBoundary(t *testing.T) {
	base, _ := url.Parse("https://erp.test/Task")

	// _count=50 with exactly 50 results: a single page, no next link
	p := NewPagingArgument()
	if err := p.SetCount("50"); err != nil {
		t.Fatal(err)
	}
	p.SetTotalSearchMatches(50)
	if p.HasNextPage(50) {
		t.Error("50 results must not produce a next page")
	}
	if link := p.NextLink(base); link != "" {
		t.Errorf("NextLink = %q; want empty", link)
	}

	// 51 results: one full page plus a next link at __offset=50
	p.SetTotalSearchMatches(51)
	if !p.HasNextPage(51) {
		t.Error("51 results must produce a next page")
	}
	link := p.NextLink(base)
	if !strings.Contains(link, "__offset=50") {
		t.Errorf("NextLink = %q; want __offset=50", link)
	}
	if !strings.Contains(link, "_count=50") {
		t.Errorf("NextLink = %q; want _count=50", link)
	}
}

func TestPrevLink(t *testing.T) {
	base, _ := url.Parse("https://erp.test/Task?status=ready")
	p := NewPagingArgument()
	if p.PrevLink(base) != "" {
		t.Error("first page has no prev link")
	}
	if err := p.SetOffset("70"); err != nil {
		t.Fatal(err)
	}
	link := p.PrevLink(base)
	if !strings.Contains(link, "__offset=20") {
		t.Errorf("PrevLink = %q; want __offset=20", link)
	}
	if !strings.Contains(link, "status=ready") {
		t.Errorf("PrevLink must keep the query: %q", link)
	}
}

func TestOffsetLastPage(t *testing.T) {
	p := NewPagingArgument()
	p.SetTotalSearchMatches(120)
	if got := p.OffsetLastPage(); got != 100 {
		t.Errorf("OffsetLastPage = %d; want 100", got)
	}
	p.SetTotalSearchMatches(100)
	if got := p.OffsetLastPage(); got != 50 {
		t.Errorf("OffsetLastPage(100) = %d; want 50", got)
	}
	p.SetTotalSearchMatches(0)
	if got := p.OffsetLastPage(); got != 0 {
		t.Errorf("OffsetLastPage(0) = %d; want 0", got)
	}
}

func TestIsSet(t *testing.T) {
	p := NewPagingArgument()
	if p.IsSet() {
		t.Error("defaults are not 'set'")
	}
	if err := p.SetOffset("10"); err != nil {
		t.Fatal(err)
	}
	if !p.IsSet() {
		t.Error("offset makes paging set")
	}
}
