package validator

import (
	"strings"
	"testing"

	erpcore "github.com/erp-fd/erp-processing-context"
	"github.com/erp-fd/erp-processing-context/element"
	"github.com/erp-fd/erp-processing-context/repository"
)

const boundResourceSD = `{
  "resourceType": "StructureDefinition",
  "url": "http://erp.test/StructureDefinition/Bound", "version": "1.0.0",
  "name": "Bound", "type": "Bound", "kind": "resource",
  "snapshot": {"element": [
    {"path": "Bound", "min": 0, "max": "*"},
    {"path": "Bound.status", "min": 0, "max": "1", "type": [{"code": "code"}],
     "binding": {"strength": "required", "valueSet": "http://erp.test/vs/status"}},
    {"path": "Bound.loose", "min": 0, "max": "1", "type": [{"code": "code"}],
     "binding": {"strength": "required", "valueSet": "http://erp.test/vs/unresolvable"}}
  ]}
}`

const statusTerminology = `{
  "resourceType": "Bundle",
  "entry": [
    {"resource": {"resourceType": "CodeSystem", "url": "http://erp.test/cs/status", "version": "1",
      "concept": [{"code": "ready"}, {"code": "completed"}]}},
    {"resource": {"resourceType": "ValueSet", "url": "http://erp.test/vs/status", "version": "1",
      "compose": {"include": [{"system": "http://erp.test/cs/status"}]}}},
    {"resource": {"resourceType": "ValueSet", "url": "http://erp.test/vs/unresolvable", "version": "1",
      "compose": {"include": [{"system": "http://nowhere.test/cs"}]}}}
  ]
}`

func boundRepo(t *testing.T) *repository.Repository {
	t.Helper()
	repo, err := repository.Load([]repository.Source{
		{Name: "primitives", Data: []byte(primitiveSDs)},
		{Name: "element", Data: []byte(elementAndExtensionSDs)},
		{Name: "bound", Data: []byte(boundResourceSD)},
		{Name: "terminology", Data: []byte(statusTerminology)},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return repo
}

func validateBound(t *testing.T, repo *repository.Repository, doc string) *Results {
	t.Helper()
	elem, err := element.ParseJSON(repo, nil, []byte(doc))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	opts := DefaultOptions()
	opts.ValidateReferences = false
	results, err := ValidateWithProfiles(elem, "Bound",
		[]string{"http://erp.test/StructureDefinition/Bound"}, opts)
	if err != nil {
		t.Fatalf("ValidateWithProfiles: %v", err)
	}
	return results
}

func TestRequiredBindingAcceptsMember(t *testing.T) {
	repo := boundRepo(t)
	results := validateBound(t, repo, `{"resourceType":"Bound","status":"ready"}`)
	if !results.Valid() {
		t.Errorf("member code must pass: %s", results.Summary(erpcore.SeverityError))
	}
}

func TestRequiredBindingRejectsNonMember(t *testing.T) {
	repo := boundRepo(t)
	results := validateBound(t, repo, `{"resourceType":"Bound","status":"bogus"}`)
	if results.Valid() {
		t.Error("non-member code must fail the required binding")
	}
	found := false
	for _, f := range results.Findings() {
		if f.Severity == erpcore.SeverityError && strings.Contains(f.Message, "not allowed for ValueSet binding") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing binding error: %s", results.Summary(erpcore.SeverityWarning))
	}
}

func TestUnresolvableValueSetDegradesToWarning(t *testing.T) {
	repo := boundRepo(t)
	results := validateBound(t, repo, `{"resourceType":"Bound","loose":"anything"}`)
	if !results.Valid() {
		t.Errorf("unresolvable value set must not fail validation: %s", results.Summary(erpcore.SeverityError))
	}
	found := false
	for _, f := range results.Findings() {
		if f.Severity == erpcore.SeverityWarning && strings.Contains(f.Message, "Cannot validate ValueSet binding") {
			found = true
		}
	}
	if !found {
		t.Errorf("missing degradation warning: %s", results.Summary(erpcore.SeverityDebug))
	}
}
