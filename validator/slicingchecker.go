package validator

import (
	"fmt"

	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/repository"
)

// slicingChecker enforces the slicing rules (open, closed, openAtEnd,
// reportOther) and the ordered flag across the repeated occurrences of
// one sliced field. The owning ProfileSetValidator calls foundSliced or
// foundUnsliced for every processed child, then finalize once.
type slicingChecker struct {
	ordered     bool
	rules       repository.SlicingRules
	baseProfile *repository.StructureDefinition

	slices  []sliceData
	lastIdx int
	done    bool

	unmatchedFullName string
	results           Results
	affected          map[repository.MapKey]struct{}
}

type sliceData struct {
	slice *repository.Slice
	count uint32
}

func newSlicingChecker(baseProfile *repository.StructureDefinition, slicing *repository.Slicing, ruleOverride *repository.SlicingRules) *slicingChecker {
	rules := slicing.Rules
	if ruleOverride != nil {
		rules = *ruleOverride
	}
	c := &slicingChecker{
		ordered:     slicing.Ordered,
		rules:       rules,
		baseProfile: baseProfile,
		affected:    make(map[repository.MapKey]struct{}),
	}
	for _, slice := range slicing.Slices {
		c.slices = append(c.slices, sliceData{slice: slice})
	}
	return c
}

// foundSliced records a child that matched the given slice.
func (c *slicingChecker) foundSliced(slice *repository.Slice, fullElementName string) {
	idx := -1
	for i := range c.slices {
		if c.slices[i].slice == slice {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	c.slices[idx].count++
	if c.rules == repository.SlicingOpenAtEnd && c.done {
		c.results.Add(erpcore.SeverityError,
			fmt.Sprintf("element matching slice %s after unmatched element %s in Slicing with rule openAtEnd",
				slice.Profile.GetName(), c.unmatchedFullName),
			fullElementName, slice.Profile)
	}
	if c.ordered && idx < c.lastIdx {
		c.results.Add(erpcore.SeverityError, "slicing out of order", fullElementName, c.baseProfile)
	}
	c.lastIdx = idx
}

// foundUnsliced records a child that matched no slice.
func (c *slicingChecker) foundUnsliced(fullElementName string) {
	c.unmatchedFullName = fullElementName
	switch c.rules {
	case repository.SlicingOpen:
		return
	case repository.SlicingReportOther:
		c.results.Add(erpcore.SeverityUnslicedWarning, "element doesn't belong to any slice.",
			fullElementName, c.baseProfile)
	case repository.SlicingClosed:
		c.results.Add(erpcore.SeverityError, "element doesn't match any slice in closed slicing",
			fullElementName, c.baseProfile)
	case repository.SlicingOpenAtEnd:
	}
	c.done = true
}

// finalize checks every slice's own cardinality against its assignment
// count.
func (c *slicingChecker) finalize(elementFullPath string) {
	for _, data := range c.slices {
		root := data.slice.Profile.RootElement()
		if root == nil {
			continue
		}
		name := elementFullPath + "." + root.FieldName()
		for _, finding := range root.Cardinality.Check(data.count, name, data.slice.Profile) {
			c.results.Add(finding.Severity, finding.Message, name, data.slice.Profile)
		}
	}
}

// addAffectedValidator subscribes a profile validator to this checker's
// results.
func (c *slicingChecker) addAffectedValidator(key repository.MapKey) {
	c.affected[key] = struct{}{}
}

func (c *slicingChecker) affectedValidators() []repository.MapKey {
	return sortedKeySet(c.affected)
}

func sortedKeySet(m map[repository.MapKey]struct{}) []repository.MapKey {
	keys := make([]repository.MapKey, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sortMapKeys(keys)
	return keys
}
