package validator

import (
	"strings"
	"testing"

	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/element"
)

func identity(url string) element.Identity {
	return element.Identity{URL: url}
}

func TestAnchorPropagationIsTransitive(t *testing.T) {
	// composition -> A -> B; C unreferenced
	composition := &resourceInfo{
		identity:        identity("Composition/c"),
		elementFullPath: "Bundle.entry[0]",
		anchor:          anchorComposite,
		referenceTargets: []*referenceInfo{
			{identity: identity("Patient/a"), elementFullPath: "Bundle.entry[0].subject"},
		},
	}
	a := &resourceInfo{
		identity:             identity("Patient/a"),
		elementFullPath:      "Bundle.entry[1]",
		referenceRequirement: anchorComposite,
		referenceTargets: []*referenceInfo{
			{identity: identity("Organization/b"), elementFullPath: "Bundle.entry[1].managingOrganization"},
		},
	}
	b := &resourceInfo{
		identity:             identity("Organization/b"),
		elementFullPath:      "Bundle.entry[2]",
		referenceRequirement: anchorComposite,
	}
	c := &resourceInfo{
		identity:             identity("Medication/c"),
		elementFullPath:      "Bundle.entry[3]",
		referenceRequirement: anchorComposite,
	}
	ctx := &referenceContext{resources: []*resourceInfo{composition, a, b, c}}
	results := ctx.finalize(DefaultOptions())

	if a.referencedByAnchor&anchorComposite == 0 {
		t.Error("A must be composition-reachable")
	}
	if b.referencedByAnchor&anchorComposite == 0 {
		t.Error("B must be composition-reachable transitively")
	}
	if c.referencedByAnchor&anchorComposite != 0 {
		t.Error("C must not be reachable")
	}
	found := false
	for _, f := range results.Findings() {
		if f.Severity == erpcore.SeverityWarning &&
			strings.Contains(f.Message, "Missing reference chain from Composition") &&
			strings.Contains(f.Message, "Medication/c") {
			found = true
		}
	}
	if !found {
		t.Errorf("unreferenced resource not reported: %s", results.Summary(erpcore.SeverityDebug))
	}
}

func TestContainedAnchorMarking(t *testing.T) {
	contained := &resourceInfo{
		identity:             element.Identity{ContainedID: "med1"},
		elementFullPath:      "MedicationRequest.contained[0]",
		referenceRequirement: anchorContained,
	}
	container := &resourceInfo{
		identity:        identity("MedicationRequest/m"),
		elementFullPath: "MedicationRequest",
		contained:       []*resourceInfo{contained},
		referenceTargets: []*referenceInfo{
			{identity: element.Identity{ContainedID: "med1"}, elementFullPath: "MedicationRequest.medicationReference"},
		},
	}
	ctx := &referenceContext{resources: []*resourceInfo{container, contained}}
	results := ctx.finalize(DefaultOptions())
	if contained.anchor&anchorContained == 0 {
		t.Error("contained resource referenced by its container must be a contained anchor")
	}
	for _, f := range results.Findings() {
		if strings.Contains(f.Message, "Missing reference chain") {
			t.Errorf("no missing-reference finding expected: %s", f.Message)
		}
	}
}

func TestUnreferencedContainedReported(t *testing.T) {
	orphan := &resourceInfo{
		identity:             element.Identity{ContainedID: "unused"},
		elementFullPath:      "MedicationRequest.contained[0]",
		referenceRequirement: anchorContained,
	}
	container := &resourceInfo{
		identity:        identity("MedicationRequest/m"),
		elementFullPath: "MedicationRequest",
		contained:       []*resourceInfo{orphan},
	}
	ctx := &referenceContext{resources: []*resourceInfo{container, orphan}}
	results := ctx.finalize(DefaultOptions())
	found := false
	for _, f := range results.Findings() {
		if strings.Contains(f.Message, "Missing reference chain from Container") {
			found = true
		}
	}
	if !found {
		t.Errorf("orphan contained resource not reported: %s", results.Summary(erpcore.SeverityDebug))
	}
}

func TestResultsSummaryFormat(t *testing.T) {
	var results Results
	results.Add(erpcore.SeverityError, "some message", "Bundle.entry[0]", nil)
	summary := results.Summary(erpcore.SeverityError)
	if !strings.Contains(summary, "Bundle.entry[0]: error: some message") {
		t.Errorf("summary format: %q", summary)
	}
	if results.HighestSeverity() != erpcore.SeverityError {
		t.Error("highest severity")
	}
	if results.Valid() {
		t.Error("error results must be invalid")
	}
}
