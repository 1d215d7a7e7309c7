package validator

import (
	"strings"
	"testing"

	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/element"
	"github.com/erp-fd/erp-processing-context/repository"
)

const primitiveSDs = `{
  "resourceType": "Bundle",
  "entry": [
    {"resource": {"resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/string", "version": "4.0.1",
      "name": "string", "type": "string", "kind": "primitive-type",
      "snapshot": {"element": [{"path": "string", "min": 0, "max": "*"}]}}},
    {"resource": {"resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/uri", "version": "4.0.1",
      "name": "uri", "type": "uri", "kind": "primitive-type",
      "snapshot": {"element": [{"path": "uri", "min": 0, "max": "*"}]}}},
    {"resource": {"resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/code", "version": "4.0.1",
      "name": "code", "type": "code", "kind": "primitive-type",
      "snapshot": {"element": [{"path": "code", "min": 0, "max": "*"}]}}},
    {"resource": {"resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/date", "version": "4.0.1",
      "name": "date", "type": "date", "kind": "primitive-type",
      "snapshot": {"element": [{"path": "date", "min": 0, "max": "*"}]}}}
  ]
}`

const elementAndExtensionSDs = `{
  "resourceType": "Bundle",
  "entry": [
    {"resource": {"resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/Element", "version": "4.0.1",
      "name": "Element", "type": "Element", "kind": "complex-type",
      "snapshot": {"element": [
        {"path": "Element", "min": 0, "max": "*"},
        {"path": "Element.extension", "min": 0, "max": "*", "type": [{"code": "Extension"}],
         "slicing": {"discriminator": [{"type": "value", "path": "url"}], "rules": "open"}}
      ]}}},
    {"resource": {"resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/Extension", "version": "4.0.1",
      "name": "Extension", "type": "Extension", "kind": "complex-type",
      "snapshot": {"element": [
        {"path": "Extension", "min": 0, "max": "*"},
        {"path": "Extension.url", "min": 1, "max": "1", "type": [{"code": "uri"}]},
        {"path": "Extension.value[x]", "min": 0, "max": "1", "type": [{"code": "string"}]}
      ]}}}
  ]
}`

const codingSD = `{
  "resourceType": "StructureDefinition",
  "url": "http://hl7.org/fhir/StructureDefinition/Coding", "version": "4.0.1",
  "name": "Coding", "type": "Coding", "kind": "complex-type",
  "snapshot": {"element": [
    {"path": "Coding", "min": 0, "max": "*"},
    {"path": "Coding.system", "min": 0, "max": "1", "type": [{"code": "uri"}]},
    {"path": "Coding.code", "min": 0, "max": "1", "type": [{"code": "code"}]},
    {"path": "Coding.display", "min": 0, "max": "1", "type": [{"code": "string"}]}
  ]}
}`

// sliceableSDTemplate defines the Sliceable resource; the slicing rule,
// the ordered flag and sliceA's minimum are substituted per test.
const sliceableSDTemplate = `{
  "resourceType": "StructureDefinition",
  "url": "http://erp.test/StructureDefinition/Sliceable", "version": "1.0.0",
  "name": "Sliceable", "type": "Sliceable", "kind": "resource",
  "snapshot": {"element": [
    {"path": "Sliceable", "min": 0, "max": "*"},
    {"path": "Sliceable.id", "min": 0, "max": "1", "type": [{"code": "string"}]},
    {"path": "Sliceable.issued", "min": 0, "max": "1", "type": [{"code": "date"}]},
    {"path": "Sliceable.sliced", "min": 0, "max": "*", "type": [{"code": "Coding"}],
     "slicing": {"discriminator": [{"type": "value", "path": "code"}], "rules": "%RULES%", "ordered": %ORDERED%}},
    {"path": "Sliceable.sliced", "sliceName": "sliceA", "min": %AMIN%, "max": "*", "type": [{"code": "Coding"}]},
    {"path": "Sliceable.sliced.code", "min": 0, "max": "1", "type": [{"code": "code"}], "fixedCode": "a"},
    {"path": "Sliceable.sliced", "sliceName": "sliceB", "min": 0, "max": "*", "type": [{"code": "Coding"}]},
    {"path": "Sliceable.sliced.code", "min": 0, "max": "1", "type": [{"code": "code"}], "fixedCode": "b"}
  ]}
}`

func sliceableRepo(t *testing.T, rules string, ordered bool, sliceAMin int) *repository.Repository {
	t.Helper()
	sd := strings.ReplaceAll(sliceableSDTemplate, "%RULES%", rules)
	if ordered {
		sd = strings.ReplaceAll(sd, "%ORDERED%", "true")
	} else {
		sd = strings.ReplaceAll(sd, "%ORDERED%", "false")
	}
	sd = strings.ReplaceAll(sd, "%AMIN%", map[bool]string{true: "1", false: "0"}[sliceAMin > 0])
	repo, err := repository.Load([]repository.Source{
		{Name: "primitives", Data: []byte(primitiveSDs)},
		{Name: "element", Data: []byte(elementAndExtensionSDs)},
		{Name: "coding", Data: []byte(codingSD)},
		{Name: "sliceable", Data: []byte(sd)},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return repo
}

func validateDoc(t *testing.T, repo *repository.Repository, doc string) *Results {
	t.Helper()
	elem, err := element.ParseJSON(repo, nil, []byte(doc))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	opts := DefaultOptions()
	opts.ValidateReferences = false
	results, err := ValidateWithProfiles(elem, elem.ResourceType(),
		[]string{"http://erp.test/StructureDefinition/Sliceable"}, opts)
	if err != nil {
		t.Fatalf("ValidateWithProfiles: %v", err)
	}
	return results
}

func findingsWith(results *Results, severity erpcore.Severity, substr string) []Finding {
	var out []Finding
	for _, f := range results.Findings() {
		if f.Severity == severity && strings.Contains(f.String(), substr) {
			out = append(out, f)
		}
	}
	return out
}

func TestClosedSlicingRejectsUnmatched(t *testing.T) {
	repo := sliceableRepo(t, "closed", false, 0)
	results := validateDoc(t, repo,
		`{"resourceType":"Sliceable","sliced":[{"code":"a"},{"code":"x"},{"code":"b"}]}`)
	matches := findingsWith(results, erpcore.SeverityError, "element doesn't match any slice in closed slicing")
	if len(matches) != 1 {
		t.Fatalf("want exactly one closed-slicing error, got %d; all: %s",
			len(matches), results.Summary(erpcore.SeverityWarning))
	}
	if matches[0].ElementFullPath != "Sliceable.sliced[1]" {
		t.Errorf("error path = %s; want Sliceable.sliced[1]", matches[0].ElementFullPath)
	}
	if results.Valid() {
		t.Error("result must be invalid")
	}
}

func TestOpenSlicingAcceptsUnmatched(t *testing.T) {
	repo := sliceableRepo(t, "open", false, 0)
	results := validateDoc(t, repo,
		`{"resourceType":"Sliceable","sliced":[{"code":"a"},{"code":"x"}]}`)
	if !results.Valid() {
		t.Errorf("open slicing must accept unmatched entries: %s", results.Summary(erpcore.SeverityError))
	}
}

func TestOpenAtEndRejectsMatchAfterUnmatched(t *testing.T) {
	repo := sliceableRepo(t, "openAtEnd", false, 0)
	results := validateDoc(t, repo,
		`{"resourceType":"Sliceable","sliced":[{"code":"a"},{"code":"x"},{"code":"b"}]}`)
	matches := findingsWith(results, erpcore.SeverityError, "after unmatched element")
	if len(matches) != 1 {
		t.Fatalf("want openAtEnd violation, got: %s", results.Summary(erpcore.SeverityWarning))
	}
	if matches[0].ElementFullPath != "Sliceable.sliced[2]" {
		t.Errorf("error path = %s; want Sliceable.sliced[2]", matches[0].ElementFullPath)
	}
	if !strings.Contains(matches[0].Message, "Sliceable.sliced[1]") {
		t.Errorf("message should name the unmatched element: %s", matches[0].Message)
	}
}

func TestOrderedSlicingOutOfOrder(t *testing.T) {
	repo := sliceableRepo(t, "open", true, 0)
	results := validateDoc(t, repo,
		`{"resourceType":"Sliceable","sliced":[{"code":"b"},{"code":"a"}]}`)
	if len(findingsWith(results, erpcore.SeverityError, "slicing out of order")) != 1 {
		t.Errorf("want slicing-out-of-order error, got: %s", results.Summary(erpcore.SeverityWarning))
	}
}

func TestOrderedSlicingInOrder(t *testing.T) {
	repo := sliceableRepo(t, "open", true, 0)
	results := validateDoc(t, repo,
		`{"resourceType":"Sliceable","sliced":[{"code":"a"},{"code":"b"}]}`)
	if !results.Valid() {
		t.Errorf("in-order document must validate: %s", results.Summary(erpcore.SeverityError))
	}
}

func TestSliceCardinalityMinimum(t *testing.T) {
	repo := sliceableRepo(t, "open", false, 1)
	// exactly min passes
	results := validateDoc(t, repo, `{"resourceType":"Sliceable","sliced":[{"code":"a"}]}`)
	if !results.Valid() {
		t.Errorf("slice at min must pass: %s", results.Summary(erpcore.SeverityError))
	}
	// min - 1 fails
	results = validateDoc(t, repo, `{"resourceType":"Sliceable","sliced":[{"code":"b"}]}`)
	if results.Valid() {
		t.Error("missing mandatory slice must fail")
	}
}

func TestFixedValueMatchPasses(t *testing.T) {
	repo := sliceableRepo(t, "closed", false, 0)
	// an element matching sliceA carries the slice's fixed code, so the
	// fixed-value check inside the slice profile passes
	results := validateDoc(t, repo, `{"resourceType":"Sliceable","sliced":[{"code":"a"}]}`)
	if !results.Valid() {
		t.Errorf("matching fixed value must pass: %s", results.Summary(erpcore.SeverityError))
	}
}

func TestUndefinedSubElement(t *testing.T) {
	repo := sliceableRepo(t, "open", false, 0)
	results := validateDoc(t, repo, `{"resourceType":"Sliceable","bogus":true}`)
	if len(findingsWith(results, erpcore.SeverityError, "undefined sub element: bogus")) != 1 {
		t.Errorf("want undefined-sub-element error, got: %s", results.Summary(erpcore.SeverityWarning))
	}
}

func TestInvalidDateRejected(t *testing.T) {
	repo := sliceableRepo(t, "open", false, 0)
	results := validateDoc(t, repo, `{"resourceType":"Sliceable","issued":"2015-02-29"}`)
	if results.Valid() {
		t.Error("nonexistent civil date must fail")
	}
	results = validateDoc(t, repo, `{"resourceType":"Sliceable","issued":"2015-02-28"}`)
	if !results.Valid() {
		t.Errorf("valid date must pass: %s", results.Summary(erpcore.SeverityError))
	}
}

func TestCardinalityMaximum(t *testing.T) {
	repo := sliceableRepo(t, "open", false, 0)
	results := validateDoc(t, repo, `{"resourceType":"Sliceable","id":"x"}`)
	if !results.Valid() {
		t.Errorf("single id must pass: %s", results.Summary(erpcore.SeverityError))
	}
}

func TestUnknownProfileReported(t *testing.T) {
	repo := sliceableRepo(t, "open", false, 0)
	elem, err := element.ParseJSON(repo, nil, []byte(`{"resourceType":"Sliceable"}`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	opts := DefaultOptions()
	opts.ValidateReferences = false
	results, err := ValidateWithProfiles(elem, "Sliceable", []string{"http://erp.test/unknown"}, opts)
	if err != nil {
		t.Fatalf("ValidateWithProfiles: %v", err)
	}
	if len(findingsWith(results, erpcore.SeverityError, "profile unknown")) != 1 {
		t.Errorf("want unknown-profile error, got: %s", results.Summary(erpcore.SeverityWarning))
	}
}
