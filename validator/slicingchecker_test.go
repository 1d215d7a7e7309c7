package validator

import (
	"strings"
	"testing"

	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/repository"
)

func checkerWith(rules repository.SlicingRules, ordered bool, override *repository.SlicingRules) (*slicingChecker, []*repository.Slice) {
	sliceA := &repository.Slice{Name: "sliceA", Profile: &repository.StructureDefinition{
		URL: "http://erp.test/s", Version: "1", Name: "sliceA", Kind: repository.KindSlice,
		Elements: []*repository.ElementDefinition{{Name: "X.f", Cardinality: repository.Cardinality{Min: 0, Max: repository.Unbounded}}},
	}}
	sliceB := &repository.Slice{Name: "sliceB", Profile: &repository.StructureDefinition{
		URL: "http://erp.test/s", Version: "1", Name: "sliceB", Kind: repository.KindSlice,
		Elements: []*repository.ElementDefinition{{Name: "X.f", Cardinality: repository.Cardinality{Min: 0, Max: repository.Unbounded}}},
	}}
	slicing := &repository.Slicing{
		Ordered: ordered,
		Rules:   rules,
		Slices:  []*repository.Slice{sliceA, sliceB},
	}
	base := &repository.StructureDefinition{URL: "http://erp.test/base", Version: "1"}
	return newSlicingChecker(base, slicing, override), slicing.Slices
}

func severityCount(c *slicingChecker, severity erpcore.Severity, substr string) int {
	n := 0
	for _, f := range c.results.Findings() {
		if f.Severity == severity && strings.Contains(f.Message, substr) {
			n++
		}
	}
	return n
}

func TestSlicingCheckerReportOther(t *testing.T) {
	c, _ := checkerWith(repository.SlicingReportOther, false, nil)
	c.foundUnsliced("X.f[0]")
	if severityCount(c, erpcore.SeverityUnslicedWarning, "element doesn't belong to any slice.") != 1 {
		t.Errorf("reportOther must yield unslicedWarning: %v", c.results.Findings())
	}
}

func TestSlicingCheckerRuleOverride(t *testing.T) {
	reportOther := repository.SlicingReportOther
	c, _ := checkerWith(repository.SlicingOpen, false, &reportOther)
	c.foundUnsliced("X.f[0]")
	if severityCount(c, erpcore.SeverityUnslicedWarning, "element doesn't belong to any slice.") != 1 {
		t.Errorf("override to reportOther must apply: %v", c.results.Findings())
	}
}

func TestSlicingCheckerOpenAtEndSequence(t *testing.T) {
	c, slices := checkerWith(repository.SlicingOpenAtEnd, false, nil)
	c.foundSliced(slices[0], "X.f[0]")
	c.foundUnsliced("X.f[1]")
	c.foundSliced(slices[1], "X.f[2]")
	if severityCount(c, erpcore.SeverityError, "after unmatched element X.f[1] in Slicing with rule openAtEnd") != 1 {
		t.Errorf("openAtEnd sequence not detected: %v", c.results.Findings())
	}
}

func TestSlicingCheckerOrdered(t *testing.T) {
	c, slices := checkerWith(repository.SlicingOpen, true, nil)
	c.foundSliced(slices[1], "X.f[0]")
	c.foundSliced(slices[0], "X.f[1]")
	if severityCount(c, erpcore.SeverityError, "slicing out of order") != 1 {
		t.Errorf("ordered violation not detected: %v", c.results.Findings())
	}
}

func TestSlicingCheckerSliceCardinality(t *testing.T) {
	c, _ := checkerWith(repository.SlicingOpen, false, nil)
	// sliceA min is 0 here, so finalize yields nothing
	c.finalize("X")
	if len(c.results.Findings()) != 0 {
		t.Errorf("no cardinality findings expected: %v", c.results.Findings())
	}
}
