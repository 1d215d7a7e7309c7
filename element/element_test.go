package element

import (
	"testing"

	"github.com/erp-fd/erp-processing-context/repository"
)

const baseSDs = `{
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
      "url": "http://hl7.org/fhir/StructureDefinition/Extension", "version": "4.0.1",
      "name": "Extension", "type": "Extension", "kind": "complex-type",
      "snapshot": {"element": [
        {"path": "Extension", "min": 0, "max": "*"},
        {"path": "Extension.url", "min": 1, "max": "1", "type": [{"code": "uri"}]},
        {"path": "Extension.value[x]", "min": 0, "max": "1", "type": [{"code": "string"}]}
      ]}}},
    {"resource": {"resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/HumanName", "version": "4.0.1",
      "name": "HumanName", "type": "HumanName", "kind": "complex-type",
      "snapshot": {"element": [
        {"path": "HumanName", "min": 0, "max": "*"},
        {"path": "HumanName.family", "min": 0, "max": "1", "type": [{"code": "string"}]},
        {"path": "HumanName.given", "min": 0, "max": "*", "type": [{"code": "string"}]}
      ]}}},
    {"resource": {"resourceType": "StructureDefinition",
      "url": "http://hl7.org/fhir/StructureDefinition/Patient", "version": "4.0.1",
      "name": "Patient", "type": "Patient", "kind": "resource",
      "snapshot": {"element": [
        {"path": "Patient", "min": 0, "max": "*"},
        {"path": "Patient.id", "min": 0, "max": "1", "type": [{"code": "string"}]},
        {"path": "Patient.name", "min": 0, "max": "*", "type": [{"code": "HumanName"}]},
        {"path": "Patient.birthDate", "min": 0, "max": "1", "type": [{"code": "date"}]}
      ]}}}
  ]
}`

func testRepo(t *testing.T) *repository.Repository {
	t.Helper()
	repo, err := repository.Load([]repository.Source{{Name: "base", Data: []byte(baseSDs)}})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return repo
}

func TestParseJSONNavigation(t *testing.T) {
	repo := testRepo(t)
	doc := `{"resourceType":"Patient","id":"p1","name":[{"family":"Meier","given":["Anna","B"]}]}`
	elem, err := ParseJSON(repo, nil, []byte(doc))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if elem.ResourceType() != "Patient" {
		t.Errorf("ResourceType = %q", elem.ResourceType())
	}
	names := elem.SubElements("name")
	if len(names) != 1 {
		t.Fatalf("name count = %d", len(names))
	}
	given := names[0].SubElements("given")
	if len(given) != 2 || given[0].AsString() != "Anna" {
		t.Errorf("given = %v", given)
	}
	if got := given[0].DefinitionPointer().Element.TypeID(); got != "string" {
		t.Errorf("given type = %q", got)
	}
}

func TestPrimitiveExtensionSibling(t *testing.T) {
	repo := testRepo(t)
	doc := `{"resourceType":"Patient",
	  "birthDate":"1980-01-01",
	  "_birthDate":{"extension":[{"url":"http://erp.test/ext","valueString":"x"}]}}`
	elem, err := ParseJSON(repo, nil, []byte(doc))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	names := elem.SubElementNames()
	for _, n := range names {
		if n == "_birthDate" {
			t.Error("underscore sibling must merge into birthDate")
		}
	}
	birthDates := elem.SubElements("birthDate")
	if len(birthDates) != 1 {
		t.Fatalf("birthDate count = %d", len(birthDates))
	}
	bd := birthDates[0]
	if !bd.HasValue() || bd.AsString() != "1980-01-01" {
		t.Errorf("birthDate value = %q", bd.AsString())
	}
	exts := bd.SubElements("extension")
	if len(exts) != 1 {
		t.Fatalf("extension count = %d", len(exts))
	}
}

func TestIdentities(t *testing.T) {
	repo := testRepo(t)
	doc := `{"resourceType":"Patient","id":"p1"}`
	elem, err := ParseJSON(repo, nil, []byte(doc))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	identity := elem.ResourceIdentity()
	if identity.String() != "Patient/p1" {
		t.Errorf("identity = %s", identity)
	}
	if got := normalizeURL("https://erp.test/fhir/Patient/p1"); got != "Patient/p1" {
		t.Errorf("normalizeURL = %q", got)
	}
	if got := normalizeURL("urn:uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"); got != "urn:uuid:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee" {
		t.Errorf("urn must stay verbatim, got %q", got)
	}
}

func TestValidatePrimitive(t *testing.T) {
	cases := []struct {
		typeID, value string
		wantErr       bool
	}{
		{"date", "2015-02-28", false},
		{"date", "2015-02-29", true},
		{"date", "2015", false},
		{"date", "2015-13", true},
		{"date", "", true},
		{"dateTime", "2021-06-01T08:00:00+02:00", false},
		{"dateTime", "2021-02-30T08:00:00Z", true},
		{"time", "13:30:00", false},
		{"time", "25:00:00", true},
		{"string", "", true},
		{"string", "x", false},
		{"id", "abc-123.DEF", false},
		{"id", "with space", true},
		{"code", "a b", false},
		{"code", " leading", true},
	}
	for _, tc := range cases {
		err := ValidatePrimitive(tc.typeID, tc.value)
		if (err != nil) != tc.wantErr {
			t.Errorf("ValidatePrimitive(%s, %q) = %v; wantErr=%v", tc.typeID, tc.value, err, tc.wantErr)
		}
	}
}

func TestXMLMatchesJSON(t *testing.T) {
	repo := testRepo(t)
	xmlDoc := `<Patient xmlns="http://hl7.org/fhir">
	  <id value="p1"/>
	  <name>
	    <family value="Meier"/>
	    <given value="Anna"/>
	    <given value="B"/>
	  </name>
	</Patient>`
	fromXML, err := ParseXML(repo, nil, []byte(xmlDoc))
	if err != nil {
		t.Fatalf("ParseXML: %v", err)
	}
	jsonDoc := `{"resourceType":"Patient","id":"p1","name":[{"family":"Meier","given":["Anna","B"]}]}`
	fromJSON, err := ParseJSON(repo, nil, []byte(jsonDoc))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if fromXML.ResourceType() != fromJSON.ResourceType() {
		t.Fatalf("resource types differ")
	}
	xmlGiven := fromXML.SubElements("name")[0].SubElements("given")
	jsonGiven := fromJSON.SubElements("name")[0].SubElements("given")
	if len(xmlGiven) != len(jsonGiven) {
		t.Fatalf("given count: xml=%d json=%d", len(xmlGiven), len(jsonGiven))
	}
	for i := range xmlGiven {
		if xmlGiven[i].AsString() != jsonGiven[i].AsString() {
			t.Errorf("given[%d]: xml=%q json=%q", i, xmlGiven[i].AsString(), jsonGiven[i].AsString())
		}
	}
}

func TestMutableElement(t *testing.T) {
	repo := testRepo(t)
	doc := `{"resourceType":"Patient","id":"p1"}`
	elem, err := ParseJSON(repo, nil, []byte(doc))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	id := elem.SubElements("id")[0]
	if err := AsMutable(id).SetString("p2"); err != nil {
		t.Fatalf("SetString: %v", err)
	}
	if got := elem.SubElements("id")[0].AsString(); got != "p2" {
		t.Errorf("id after SetString = %q", got)
	}
	if err := AsMutable(elem.SubElements("id")[0]).SetDataAbsentExtension("masked"); err != nil {
		t.Fatalf("SetDataAbsentExtension: %v", err)
	}
	ids := elem.SubElements("id")
	if len(ids) != 1 || ids[0].HasValue() {
		t.Errorf("id should be value-less after data-absent, got %v", ids)
	}
	if exts := ids[0].SubElements("extension"); len(exts) != 1 {
		t.Errorf("data-absent extension missing")
	}
	if err := AsMutable(elem.SubElements("id")[0]).RemoveFromParent(); err != nil {
		t.Fatalf("RemoveFromParent: %v", err)
	}
	if got := elem.SubElements("id"); got != nil {
		t.Errorf("id should be removed, got %v", got)
	}
}
