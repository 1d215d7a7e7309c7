package repository

import (
	"fmt"
	"strings"
	"sync"

	"github.com/erp-fd/erp-processing-context/fhirpath"
)

// SlicingRules is ElementDefinition.slicing.rules plus the reportOther
// override used for unknown-extension reporting.
type SlicingRules int

const (
	SlicingOpen SlicingRules = iota
	SlicingClosed
	SlicingOpenAtEnd
	SlicingReportOther
)

// ParseSlicingRules maps the slicing.rules code.
func ParseSlicingRules(code string) (SlicingRules, error) {
	switch code {
	case "open":
		return SlicingOpen, nil
	case "closed":
		return SlicingClosed, nil
	case "openAtEnd":
		return SlicingOpenAtEnd, nil
	}
	return 0, fmt.Errorf("unknown slicing rules: %q", code)
}

// Discriminator tells how slice membership is decided.
type Discriminator struct {
	Type DiscriminatorType
	Path string
}

// DiscriminatorType enumerates discriminator kinds.
type DiscriminatorType int

const (
	DiscriminatorValue DiscriminatorType = iota
	DiscriminatorPattern
	DiscriminatorExists
	DiscriminatorType_
	DiscriminatorProfile
)

// ParseDiscriminatorType maps the discriminator.type code.
func ParseDiscriminatorType(code string) (DiscriminatorType, error) {
	switch code {
	case "value":
		return DiscriminatorValue, nil
	case "pattern":
		return DiscriminatorPattern, nil
	case "exists":
		return DiscriminatorExists, nil
	case "type":
		return DiscriminatorType_, nil
	case "profile":
		return DiscriminatorProfile, nil
	}
	return 0, fmt.Errorf("unknown discriminator type: %q", code)
}

// Slicing is the slicing descriptor of an element.
type Slicing struct {
	Ordered        bool
	Rules          SlicingRules
	Discriminators []Discriminator
	Slices         []*Slice
}

// Slice is one named slice. Profile is a synthesized StructureDefinition
// whose root element carries the slice's constraints; sub-elements of
// the slice live in that profile.
type Slice struct {
	Name    string
	Profile *StructureDefinition

	condOnce  sync.Once
	condition *sliceCondition
	condErr   error
}

// Condition builds (once) and returns the membership test derived from
// the slicing discriminators and this slice's constrained elements.
func (s *Slice) Condition(discriminators []Discriminator) (SliceCondition, error) {
	s.condOnce.Do(func() {
		s.condition, s.condErr = buildSliceCondition(s, discriminators)
	})
	if s.condErr != nil {
		return nil, s.condErr
	}
	return s.condition, nil
}

// SliceCondition tests whether an element instance belongs to a slice.
type SliceCondition interface {
	Test(env *fhirpath.Env, node fhirpath.Node) bool
}

type discriminatorTest struct {
	path     *fhirpath.Expression
	// exactly one of the following applies
	wantFixed   any
	wantPattern any
	wantExists  *bool
	wantType    string
	wantProfile *StructureDefinition
}

type sliceCondition struct {
	tests []discriminatorTest
}

func (c *sliceCondition) Test(env *fhirpath.Env, node fhirpath.Node) bool {
	input := fhirpath.Collection{fhirpath.ItemOfNode(node)}
	for _, test := range c.tests {
		result, err := test.path.Evaluate(env, input)
		if err != nil {
			return false
		}
		if !test.testResult(env, result) {
			return false
		}
	}
	return true
}

func (t *discriminatorTest) testResult(env *fhirpath.Env, result fhirpath.Collection) bool {
	switch {
	case t.wantExists != nil:
		return *t.wantExists == !result.Empty()
	case t.wantType != "":
		for _, item := range result {
			if item.TypeID() == t.wantType {
				return true
			}
		}
		return false
	case t.wantFixed != nil:
		for _, item := range result {
			if valueMatches(item, t.wantFixed, true) {
				return true
			}
		}
		return false
	case t.wantPattern != nil:
		for _, item := range result {
			if valueMatches(item, t.wantPattern, false) {
				return true
			}
		}
		return false
	case t.wantProfile != nil:
		// profile discriminators need full validation; treated as
		// non-matching here, the require-one solver reports the result.
		return false
	}
	return false
}

// valueMatches compares a result item against a fixed (exact) or
// pattern (subset) literal taken from the profile JSON.
func valueMatches(item fhirpath.Item, want any, exact bool) bool {
	if v := item.PrimitiveValue(); v != nil {
		s, ok := scalarString(want)
		return ok && v.AsString() == s
	}
	node := item.Node
	if node == nil {
		return false
	}
	obj, ok := want.(map[string]any)
	if !ok {
		return false
	}
	if exact {
		names := node.ChildNames()
		if len(names) != len(obj) {
			return false
		}
	}
	for field, wantChild := range obj {
		children := node.Children(field)
		switch wantList := wantChild.(type) {
		case []any:
			if len(children) < len(wantList) {
				return false
			}
			for i, w := range wantList {
				if !valueMatches(fhirpath.ItemOfNode(children[i]), w, exact) {
					return false
				}
			}
		default:
			if len(children) != 1 {
				return false
			}
			if !valueMatches(fhirpath.ItemOfNode(children[0]), wantChild, exact) {
				return false
			}
		}
	}
	return true
}

func scalarString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		if s {
			return "true", true
		}
		return "false", true
	case float64:
		return trimFloat(s), true
	case int:
		return fmt.Sprintf("%d", s), true
	case int64:
		return fmt.Sprintf("%d", s), true
	}
	return "", false
}

func trimFloat(f float64) string {
	s := fmt.Sprintf("%v", f)
	return s
}

// buildSliceCondition derives the membership test: for every
// discriminator, locate the constrained element inside the slice profile
// at the discriminator path and turn its fixed/pattern/cardinality into
// a test.
func buildSliceCondition(s *Slice, discriminators []Discriminator) (*sliceCondition, error) {
	if len(discriminators) == 0 {
		return nil, fmt.Errorf("slice %s: slicing without discriminators", s.Name)
	}
	root := s.Profile.RootElement()
	if root == nil {
		return nil, fmt.Errorf("slice %s: empty slice profile", s.Name)
	}
	cond := &sliceCondition{}
	for _, disc := range discriminators {
		pathExpr, target, err := resolveDiscriminatorTarget(s.Profile, root, disc.Path)
		if err != nil {
			return nil, fmt.Errorf("slice %s: %w", s.Name, err)
		}
		test := discriminatorTest{path: pathExpr}
		switch disc.Type {
		case DiscriminatorValue, DiscriminatorPattern:
			switch {
			case target != nil && target.Fixed != nil:
				test.wantFixed = target.Fixed
			case target != nil && target.Pattern != nil:
				test.wantPattern = target.Pattern
			default:
				return nil, fmt.Errorf("no fixed or pattern value at discriminator path %q", disc.Path)
			}
		case DiscriminatorExists:
			if target == nil {
				return nil, fmt.Errorf("no element at discriminator path %q", disc.Path)
			}
			exists := target.Cardinality.Min > 0 || target.Cardinality.Max != 0
			test.wantExists = &exists
		case DiscriminatorType_:
			if target == nil || target.TypeID() == "" {
				return nil, fmt.Errorf("no typed element at discriminator path %q", disc.Path)
			}
			test.wantType = target.TypeID()
		case DiscriminatorProfile:
			test.wantProfile = s.Profile
		}
		cond.tests = append(cond.tests, test)
	}
	return cond, nil
}

// resolveDiscriminatorTarget compiles the discriminator path and finds
// the element definition it addresses inside the slice profile.
func resolveDiscriminatorTarget(profile *StructureDefinition, root *ElementDefinition, discPath string) (*fhirpath.Expression, *ElementDefinition, error) {
	exprSrc := discPath
	if exprSrc == "$this" || exprSrc == "" {
		exprSrc = "$this"
	}
	expr, err := fhirpath.Parse(exprSrc)
	if err != nil {
		return nil, nil, err
	}
	if discPath == "$this" || discPath == "" {
		return expr, root, nil
	}
	// element lookup only supports plain dotted names; a condition path
	// with a function or variable segment is rejected with an error
	name := root.Name
	target := root
	for _, seg := range strings.Split(discPath, ".") {
		if strings.ContainsAny(seg, "()$") {
			return expr, nil, fmt.Errorf("unsupported discriminator path %q", discPath)
		}
		name = name + "." + seg
		if e := profile.FindElement(name); e != nil {
			target = e
		} else {
			return expr, nil, fmt.Errorf("discriminator path %q not found in slice profile", discPath)
		}
	}
	return expr, target, nil
}
