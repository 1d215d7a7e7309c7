package repository

import (
	"strings"
	"testing"
	"time"
)

func src(name, data string) Source {
	return Source{Name: name, Data: []byte(data)}
}

const stringSD = `{
  "resourceType": "StructureDefinition",
  "url": "http://hl7.org/fhir/StructureDefinition/string",
  "version": "4.0.1",
  "name": "string",
  "type": "string",
  "kind": "primitive-type",
  "snapshot": {"element": [{"path": "string", "min": 0, "max": "*"}]}
}`

const uriSD = `{
  "resourceType": "StructureDefinition",
  "url": "http://hl7.org/fhir/StructureDefinition/uri",
  "version": "4.0.1",
  "name": "uri",
  "type": "uri",
  "kind": "primitive-type",
  "snapshot": {"element": [{"path": "uri", "min": 0, "max": "*"}]}
}`

const codeSD = `{
  "resourceType": "StructureDefinition",
  "url": "http://hl7.org/fhir/StructureDefinition/code",
  "version": "4.0.1",
  "name": "code",
  "type": "code",
  "kind": "primitive-type",
  "snapshot": {"element": [{"path": "code", "min": 0, "max": "*"}]}
}`

const codingSD = `{
  "resourceType": "StructureDefinition",
  "url": "http://hl7.org/fhir/StructureDefinition/Coding",
  "version": "4.0.1",
  "name": "Coding",
  "type": "Coding",
  "kind": "complex-type",
  "snapshot": {"element": [
    {"path": "Coding", "min": 0, "max": "*"},
    {"path": "Coding.system", "min": 0, "max": "1", "type": [{"code": "uri"}]},
    {"path": "Coding.code", "min": 0, "max": "1", "type": [{"code": "code"}]},
    {"path": "Coding.display", "min": 0, "max": "1", "type": [{"code": "string"}]}
  ]}
}`

const patientSD = `{
  "resourceType": "StructureDefinition",
  "url": "http://hl7.org/fhir/StructureDefinition/Patient",
  "version": "4.0.1",
  "name": "Patient",
  "type": "Patient",
  "kind": "resource",
  "snapshot": {"element": [
    {"path": "Patient", "min": 0, "max": "*"},
    {"path": "Patient.id", "min": 0, "max": "1", "type": [{"code": "string"}]},
    {"path": "Patient.active", "min": 0, "max": "1", "type": [{"code": "boolean"}],
     "constraint": [{"key": "pat-t1", "severity": "error", "human": "always true", "expression": "exists()"}]},
    {"path": "Patient.deceased[x]", "min": 0, "max": "1",
     "type": [{"code": "boolean"}, {"code": "dateTime"}]}
  ]}
}`

const patientProfileSD = `{
  "resourceType": "StructureDefinition",
  "url": "http://erp.test/StructureDefinition/TestPatient",
  "version": "1.0.0",
  "name": "TestPatient",
  "type": "Patient",
  "kind": "resource",
  "derivation": "constraint",
  "baseDefinition": "http://hl7.org/fhir/StructureDefinition/Patient",
  "snapshot": {"element": [
    {"path": "Patient", "min": 0, "max": "*"},
    {"path": "Patient.id", "min": 1, "max": "1", "type": [{"code": "string"}]}
  ]}
}`

func baseSources() []Source {
	return []Source{
		src("string.json", stringSD),
		src("uri.json", uriSD),
		src("code.json", codeSD),
		src("coding.json", codingSD),
		src("patient.json", patientSD),
		src("testpatient.json", patientProfileSD),
	}
}

func TestLoadResolvesAndIndexes(t *testing.T) {
	repo, err := Load(baseSources())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if def := repo.FindTypeByID("Patient"); def == nil || def.URL != "http://hl7.org/fhir/StructureDefinition/Patient" {
		t.Fatalf("FindTypeByID(Patient) = %v", def)
	}
	profile := repo.FindDefinitionByURL("http://erp.test/StructureDefinition/TestPatient", nil)
	if profile == nil {
		t.Fatal("profile not found")
	}
	if profile.Base() == nil || profile.Base().TypeID != "Patient" {
		t.Errorf("base not resolved: %v", profile.Base())
	}
	if !profile.IsDerivedFrom("http://hl7.org/fhir/StructureDefinition/Patient") {
		t.Error("IsDerivedFrom failed")
	}
}

func TestLoadOrderIndependent(t *testing.T) {
	sources := baseSources()
	reversed := make([]Source, 0, len(sources))
	for i := len(sources) - 1; i >= 0; i-- {
		reversed = append(reversed, sources[i])
	}
	if _, err := Load(reversed); err != nil {
		t.Fatalf("Load (reversed): %v", err)
	}
}

func TestLoadDuplicateFatal(t *testing.T) {
	sources := append(baseSources(), src("dup.json", patientSD))
	if _, err := Load(sources); err == nil || !strings.Contains(err.Error(), "duplicate StructureDefinition") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestLoadCycleFatal(t *testing.T) {
	a := `{"resourceType":"StructureDefinition","url":"http://x/a","version":"1","name":"A","type":"A","kind":"logical",
	  "baseDefinition":"http://x/b","snapshot":{"element":[{"path":"A"}]}}`
	b := `{"resourceType":"StructureDefinition","url":"http://x/b","version":"1","name":"B","type":"B","kind":"logical",
	  "baseDefinition":"http://x/a","snapshot":{"element":[{"path":"B"}]}}`
	_, err := Load([]Source{src("a.json", a), src("b.json", b)})
	if err == nil || !strings.Contains(err.Error(), "cycle") {
		t.Fatalf("expected cycle error, got %v", err)
	}
}

func TestLoadBadConstraintFatal(t *testing.T) {
	bad := `{"resourceType":"StructureDefinition","url":"http://x/bad","version":"1","name":"Bad","type":"Bad","kind":"logical",
	  "snapshot":{"element":[{"path":"Bad","constraint":[{"key":"k1","severity":"error","human":"h","expression":"a..b"}]}]}}`
	_, err := Load([]Source{src("bad.json", bad)})
	if err == nil {
		t.Fatal("expected constraint parse failure")
	}
}

func TestChoiceExpansion(t *testing.T) {
	repo, err := Load(baseSources())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	patient := repo.FindTypeByID("Patient")
	if e := patient.FindElement("Patient.deceasedBoolean"); e == nil || e.TypeID() != "boolean" {
		t.Errorf("deceasedBoolean not expanded: %v", e)
	}
	if e := patient.FindElement("Patient.deceasedDateTime"); e == nil || e.TypeID() != "dateTime" {
		t.Errorf("deceasedDateTime not expanded: %v", e)
	}
	if e := patient.FindElement("Patient.deceased[x]"); e != nil {
		t.Error("unexpanded choice element present")
	}
}

func TestPETNavigation(t *testing.T) {
	repo, err := Load(baseSources())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	patient := repo.FindTypeByID("Patient")
	pet := NewPET(patient)
	sub, ok := pet.SubField(repo, "id")
	if !ok || sub.Element.TypeID() != "string" {
		t.Fatalf("SubField(id) = %v %v", sub, ok)
	}
	defs := pet.SubDefinitions(repo, "id")
	if len(defs) != 2 {
		t.Fatalf("SubDefinitions(id) = %d entries; want own + type root", len(defs))
	}
	last := defs[len(defs)-1]
	if last.Profile.TypeID != "string" || !last.Element.IsRoot() {
		t.Errorf("final sub definition must be the string root, got %v", last)
	}
}

func TestViewSelection(t *testing.T) {
	cut := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	repo, err := Load(baseSources(),
		WithView("v_2022_01_01", time.Time{}, cut, nil),
		WithView("v_2023_07_01", cut.Add(-24*time.Hour), time.Time{}, nil),
		WithDefaultView("v_2023_07_01"),
	)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := repo.ViewFor(cut.Add(-time.Hour * 48)).Name; got != "v_2022_01_01" {
		t.Errorf("ViewFor(before cut) = %s", got)
	}
	// inside the overlap window the later view wins
	if got := repo.ViewFor(cut.Add(-time.Hour)).Name; got != "v_2023_07_01" {
		t.Errorf("ViewFor(overlap) = %s", got)
	}
	if got := repo.ViewFor(cut.Add(time.Hour)).Name; got != "v_2023_07_01" {
		t.Errorf("ViewFor(after cut) = %s", got)
	}
}

func TestValueSetExpansion(t *testing.T) {
	cs := `{"resourceType":"CodeSystem","url":"http://erp.test/cs","version":"1",
	  "concept":[{"code":"parent","concept":[{"code":"child"}]},{"code":"other"}]}`
	vs := `{"resourceType":"ValueSet","url":"http://erp.test/vs","version":"1",
	  "compose":{"include":[{"system":"http://erp.test/cs","filter":[{"property":"concept","op":"is-a","value":"parent"}]}]}}`
	vsMissing := `{"resourceType":"ValueSet","url":"http://erp.test/vs-missing","version":"1",
	  "compose":{"include":[{"system":"http://nowhere.test/cs"}]}}`
	repo, err := Load([]Source{src("cs.json", cs), src("vs.json", vs), src("vsm.json", vsMissing)})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	set := repo.FindValueSet("http://erp.test/vs", "")
	if set == nil {
		t.Fatal("value set not found")
	}
	if !set.CanValidate() {
		t.Fatalf("CanValidate = false: %s", set.Warnings())
	}
	if !set.ContainsSystemCode("child", "http://erp.test/cs") {
		t.Error("is-a filter missed child")
	}
	if set.ContainsSystemCode("other", "http://erp.test/cs") {
		t.Error("is-a filter included unrelated code")
	}
	missing := repo.FindValueSet("http://erp.test/vs-missing", "")
	if missing.CanValidate() {
		t.Error("missing code system must disable validation")
	}
}
