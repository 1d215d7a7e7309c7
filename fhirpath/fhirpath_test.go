package fhirpath

import (
	"testing"
)

// fakeNode is a minimal Node implementation over nested maps.
type fakeNode struct {
	typeID   string
	resource string
	value    Value
	children map[string][]*fakeNode
	order    []string
}

func (f *fakeNode) ChildNames() []string { return f.order }

func (f *fakeNode) Children(name string) []Node {
	var out []Node
	for _, c := range f.children[name] {
		out = append(out, c)
	}
	return out
}

func (f *fakeNode) Value() Value         { return f.value }
func (f *fakeNode) TypeID() string       { return f.typeID }
func (f *fakeNode) ResourceType() string { return f.resource }

func leaf(typeID string, v Value) *fakeNode {
	return &fakeNode{typeID: typeID, value: v}
}

func obj(typeID string, fields map[string][]*fakeNode, order ...string) *fakeNode {
	return &fakeNode{typeID: typeID, children: fields, order: order}
}

func patient() *fakeNode {
	official := obj("HumanName", map[string][]*fakeNode{
		"use":    {leaf("code", String("official"))},
		"family": {leaf("string", String("Meier"))},
	}, "use", "family")
	nickname := obj("HumanName", map[string][]*fakeNode{
		"use": {leaf("code", String("nickname"))},
	}, "use")
	p := obj("Patient", map[string][]*fakeNode{
		"name":   {official, nickname},
		"active": {leaf("boolean", Boolean(true))},
		"extension": {
			obj("Extension", map[string][]*fakeNode{
				"url":         {leaf("uri", String("http://example.org/ext"))},
				"valueString": {leaf("string", String("x"))},
			}, "url", "valueString"),
		},
	}, "name", "active", "extension")
	p.resource = "Patient"
	return p
}

func evalOn(t *testing.T, src string, root Node) Collection {
	t.Helper()
	expr, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	got, err := expr.Evaluate(&Env{}, Collection{ItemOfNode(root)})
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", src, err)
	}
	return got
}

func TestParseErrors(t *testing.T) {
	for _, src := range []string{"", "a..b", "a.where(", "'unterminated", "a ! b", "1 +"} {
		if _, err := Parse(src); err == nil {
			t.Errorf("Parse(%q) expected error", src)
		}
	}
}

func TestNavigation(t *testing.T) {
	got := evalOn(t, "name.family", patient())
	if len(got) != 1 || got[0].PrimitiveValue().AsString() != "Meier" {
		t.Errorf("name.family = %v; want [Meier]", got)
	}
}

func TestRootTypeName(t *testing.T) {
	got := evalOn(t, "Patient.name", patient())
	if len(got) != 2 {
		t.Errorf("Patient.name returned %d items; want 2", len(got))
	}
}

func TestWhere(t *testing.T) {
	got := evalOn(t, "name.where(use = 'official').family", patient())
	if len(got) != 1 || got[0].PrimitiveValue().AsString() != "Meier" {
		t.Errorf("filtered family = %v; want [Meier]", got)
	}
	got = evalOn(t, "name.where(use = 'maiden')", patient())
	if !got.Empty() {
		t.Errorf("expected empty, got %d items", len(got))
	}
}

func TestExistsAndEmpty(t *testing.T) {
	cases := []struct {
		src  string
		want bool
	}{
		{"name.exists()", true},
		{"name.empty()", false},
		{"telecom.exists()", false},
		{"telecom.empty()", true},
		{"name.exists(use = 'nickname')", true},
		{"active and name.exists()", true},
		{"active.not()", false},
	}
	for _, tc := range cases {
		got := evalOn(t, tc.src, patient())
		b := got.BooleanOrNil()
		if b == nil || *b != tc.want {
			t.Errorf("%s = %v; want %v", tc.src, got, tc.want)
		}
	}
}

func TestExtensionHelper(t *testing.T) {
	got := evalOn(t, "extension('http://example.org/ext').valueString", patient())
	if len(got) != 1 || got[0].PrimitiveValue().AsString() != "x" {
		t.Errorf("extension lookup = %v; want [x]", got)
	}
	got = evalOn(t, "extension('http://example.org/other')", patient())
	if !got.Empty() {
		t.Errorf("unexpected extension match: %v", got)
	}
}

func TestArithmeticAndComparison(t *testing.T) {
	cases := []struct {
		src  string
		want string
	}{
		{"1 + 2", "3"},
		{"6 div 4", "1"},
		{"7 mod 4", "3"},
		{"1.5 * 2", "3"},
		{"'a' & 'b'", "ab"},
	}
	for _, tc := range cases {
		got := evalOn(t, tc.src, patient())
		single, ok := got.Singleton()
		if !ok || single.PrimitiveValue().AsString() != tc.want {
			t.Errorf("%s = %v; want %s", tc.src, got, tc.want)
		}
	}
	got := evalOn(t, "3 > 2 and 2 >= 2 and 1 < 2 and 1 <= 1", patient())
	if b := got.BooleanOrNil(); b == nil || !*b {
		t.Errorf("comparison chain failed: %v", got)
	}
}

func TestMembership(t *testing.T) {
	got := evalOn(t, "'official' in name.use", patient())
	if b := got.BooleanOrNil(); b == nil || !*b {
		t.Errorf("membership failed: %v", got)
	}
	got = evalOn(t, "name.use contains 'nickname'", patient())
	if b := got.BooleanOrNil(); b == nil || !*b {
		t.Errorf("contains failed: %v", got)
	}
}

func TestOfType(t *testing.T) {
	got := evalOn(t, "name.ofType(HumanName).count()", patient())
	single, _ := got.Singleton()
	if n, ok := single.PrimitiveValue().(Integer); !ok || n != 2 {
		t.Errorf("ofType count = %v; want 2", got)
	}
}

func TestEmptyPropagation(t *testing.T) {
	got := evalOn(t, "telecom.value = 'x'", patient())
	if !got.Empty() {
		t.Errorf("equality with empty operand must be empty, got %v", got)
	}
	if b := got.BooleanOrNil(); b != nil {
		t.Errorf("BooleanOrNil of empty must be nil")
	}
}

func TestIndexer(t *testing.T) {
	got := evalOn(t, "name[1].use", patient())
	if len(got) != 1 || got[0].PrimitiveValue().AsString() != "nickname" {
		t.Errorf("name[1].use = %v; want [nickname]", got)
	}
	got = evalOn(t, "name[5]", patient())
	if !got.Empty() {
		t.Errorf("out of range index must be empty")
	}
}

func TestImplies(t *testing.T) {
	cases := []struct {
		src  string
		want *bool
	}{
		{"true implies true", boolPtr(true)},
		{"true implies false", boolPtr(false)},
		{"false implies false", boolPtr(true)},
		{"telecom.exists() implies false", boolPtr(true)},
	}
	for _, tc := range cases {
		got := evalOn(t, tc.src, patient()).BooleanOrNil()
		if (got == nil) != (tc.want == nil) || (got != nil && *got != *tc.want) {
			t.Errorf("%s = %v; want %v", tc.src, got, tc.want)
		}
	}
}

func boolPtr(b bool) *bool { return &b }

type fakeResolver struct{ targets map[string]Node }

func (r fakeResolver) Resolve(ref string) Node { return r.targets[ref] }

func TestResolve(t *testing.T) {
	target := patient()
	ref := obj("Reference", map[string][]*fakeNode{
		"reference": {leaf("string", String("Patient/1"))},
	}, "reference")
	root := obj("Observation", map[string][]*fakeNode{
		"subject": {ref},
	}, "subject")
	root.resource = "Observation"

	expr := MustParse("subject.resolve().name.family")
	env := &Env{Resolver: fakeResolver{targets: map[string]Node{"Patient/1": target}}}
	got, err := expr.Evaluate(env, Collection{ItemOfNode(root)})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(got) != 1 || got[0].PrimitiveValue().AsString() != "Meier" {
		t.Errorf("resolve().name.family = %v; want [Meier]", got)
	}
}

func TestStringFunctions(t *testing.T) {
	got := evalOn(t, "name.family.matches('^Me')", patient())
	if b := got.BooleanOrNil(); b == nil || !*b {
		t.Errorf("matches failed: %v", got)
	}
	got = evalOn(t, "name.family.substring(0, 2)", patient())
	if single, ok := got.Singleton(); !ok || single.PrimitiveValue().AsString() != "Me" {
		t.Errorf("substring = %v; want Me", got)
	}
}
