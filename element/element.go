package element

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/erp-fd/erp-processing-context/fhirpath"
	"github.com/erp-fd/erp-processing-context/repository"
	"github.com/shopspring/decimal"
)

// Element is one node of a parsed FHIR document. It implements
// fhirpath.Node. Elements are immutable; see MutableElement for the
// transformer's mutation surface.
type Element struct {
	repo *repository.Repository
	view *repository.View
	pet  repository.ProfiledElementTypeInfo

	parent *Element
	name   string // field name in parent

	// exactly one of value/object is set for leaves/objects; primitives
	// with sibling extensions carry both.
	value  any
	object map[string]any
}

// ParseJSON parses a resource document and roots it at its type's
// definition.
func ParseJSON(repo *repository.Repository, view *repository.View, data []byte) (*Element, error) {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("element: invalid JSON document: %w", err)
	}
	return FromObject(repo, view, obj)
}

// FromObject roots an already parsed document.
func FromObject(repo *repository.Repository, view *repository.View, obj map[string]any) (*Element, error) {
	resourceType, _ := obj["resourceType"].(string)
	if resourceType == "" {
		return nil, fmt.Errorf("element: document without resourceType")
	}
	def := repo.FindTypeByID(resourceType)
	if def == nil {
		return nil, fmt.Errorf("element: unknown resourceType %q", resourceType)
	}
	return &Element{
		repo:   repo,
		view:   view,
		pet:    repository.NewPET(def),
		object: obj,
	}, nil
}

// Repository returns the backing profile repository.
func (e *Element) Repository() *repository.Repository { return e.repo }

// View returns the profile view the document is validated under.
func (e *Element) View() *repository.View { return e.view }

// DefinitionPointer returns the PET naming this element's position.
func (e *Element) DefinitionPointer() repository.ProfiledElementTypeInfo { return e.pet }

// Parent returns the containing element, nil at the root.
func (e *Element) Parent() *Element { return e.parent }

// Name returns the field name within the parent.
func (e *Element) Name() string { return e.name }

// IsResource reports whether the node is a resource root.
func (e *Element) IsResource() bool {
	return e.object != nil && e.object["resourceType"] != nil
}

// ResourceType implements fhirpath.Node.
func (e *Element) ResourceType() string {
	if e.object == nil {
		return ""
	}
	rt, _ := e.object["resourceType"].(string)
	return rt
}

// Profiles returns meta.profile entries.
func (e *Element) Profiles() []string {
	if e.object == nil {
		return nil
	}
	meta, _ := e.object["meta"].(map[string]any)
	if meta == nil {
		return nil
	}
	list, _ := meta["profile"].([]any)
	var out []string
	for _, p := range list {
		if url, ok := p.(string); ok && url != "" {
			out = append(out, url)
		}
	}
	return out
}

// TypeID implements fhirpath.Node.
func (e *Element) TypeID() string {
	if rt := e.ResourceType(); rt != "" {
		return rt
	}
	if e.pet.Valid() {
		if t := e.pet.Element.TypeID(); t != "" {
			return t
		}
		return e.pet.Profile.TypeID
	}
	return ""
}

// HasValue reports whether the node carries a primitive value.
func (e *Element) HasValue() bool { return e.value != nil }

// SubElementNames lists present sub-fields, primitive-extension
// siblings ("_field") merged in, resourceType excluded. Order is
// deterministic (sorted) — the validator visits fields in definition
// order anyway.
func (e *Element) SubElementNames() []string {
	if e.object == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(e.object))
	var names []string
	for key := range e.object {
		name := strings.TrimPrefix(key, "_")
		if name == "resourceType" && e.IsResource() {
			continue
		}
		if _, dup := seen[name]; !dup {
			seen[name] = struct{}{}
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// SubElements returns the children for a field, primitive values merged
// with their "_field" extension siblings. A missing field yields nil.
func (e *Element) SubElements(name string) []*Element {
	if e.object == nil {
		return nil
	}
	raw, hasValue := e.object[name]
	ext, hasExt := e.object["_"+name]
	if !hasValue && !hasExt {
		return nil
	}
	childPET, ok := e.pet.SubField(e.repo, name)
	if !ok {
		childPET = repository.ProfiledElementTypeInfo{}
	}
	build := func(val any, extVal any) *Element {
		child := &Element{
			repo:   e.repo,
			view:   e.view,
			pet:    childPET,
			parent: e,
			name:   name,
		}
		switch v := val.(type) {
		case map[string]any:
			child.object = v
		default:
			child.value = v
		}
		if extObj, ok := extVal.(map[string]any); ok {
			child.object = extObj
		}
		return child
	}
	values, valueIsList := raw.([]any)
	exts, extIsList := ext.([]any)
	if valueIsList || extIsList {
		n := len(values)
		if len(exts) > n {
			n = len(exts)
		}
		out := make([]*Element, 0, n)
		for i := 0; i < n; i++ {
			var v, x any
			if i < len(values) {
				v = values[i]
			}
			if i < len(exts) {
				x = exts[i]
			}
			out = append(out, build(v, x))
		}
		return out
	}
	if !hasValue {
		return []*Element{build(nil, ext)}
	}
	return []*Element{build(raw, ext)}
}

// --- fhirpath.Node ---

// ChildNames implements fhirpath.Node.
func (e *Element) ChildNames() []string { return e.SubElementNames() }

// Children implements fhirpath.Node.
func (e *Element) Children(name string) []fhirpath.Node {
	subs := e.SubElements(name)
	if len(subs) == 0 {
		return nil
	}
	out := make([]fhirpath.Node, len(subs))
	for i, s := range subs {
		out[i] = s
	}
	return out
}

// Value implements fhirpath.Node: the primitive value converted by the
// declared element type.
func (e *Element) Value() fhirpath.Value {
	if e.value == nil {
		return nil
	}
	typeID := ""
	if e.pet.Valid() {
		typeID = e.pet.Element.TypeID()
	}
	switch v := e.value.(type) {
	case bool:
		return fhirpath.Boolean(v)
	case string:
		switch typeID {
		case "date":
			return fhirpath.Date(v)
		case "dateTime", "instant":
			return fhirpath.DateTime(v)
		case "time":
			return fhirpath.Time(v)
		default:
			return fhirpath.String(v)
		}
	case json.Number:
		return numberValue(v.String(), typeID)
	case float64:
		return numberValue(decimal.NewFromFloat(v).String(), typeID)
	case int:
		return fhirpath.Integer(v)
	case int64:
		return fhirpath.Integer(v)
	}
	return fhirpath.String(fmt.Sprintf("%v", e.value))
}

func numberValue(s, typeID string) fhirpath.Value {
	switch typeID {
	case "integer", "positiveInt", "unsignedInt":
		d, err := decimal.NewFromString(s)
		if err == nil && d.IsInteger() {
			return fhirpath.Integer(d.IntPart())
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fhirpath.String(s)
	}
	if !strings.ContainsAny(s, ".eE") && d.IsInteger() {
		return fhirpath.Integer(d.IntPart())
	}
	return fhirpath.Decimal(d)
}

// --- typed accessors ---

// AsString returns the value's canonical string form.
func (e *Element) AsString() string {
	if v := e.Value(); v != nil {
		return v.AsString()
	}
	return ""
}

// AsBool converts a boolean value.
func (e *Element) AsBool() (bool, error) {
	if b, ok := e.Value().(fhirpath.Boolean); ok {
		return bool(b), nil
	}
	return false, fmt.Errorf("element: not a boolean: %v", e.value)
}

// AsInt converts an integer value.
func (e *Element) AsInt() (int64, error) {
	switch v := e.Value().(type) {
	case fhirpath.Integer:
		return int64(v), nil
	case fhirpath.Decimal:
		d := decimal.Decimal(v)
		if d.IsInteger() {
			return d.IntPart(), nil
		}
	}
	return 0, fmt.Errorf("element: not an integer: %v", e.value)
}

// AsDecimal converts a decimal value.
func (e *Element) AsDecimal() (decimal.Decimal, error) {
	switch v := e.Value().(type) {
	case fhirpath.Decimal:
		return decimal.Decimal(v), nil
	case fhirpath.Integer:
		return decimal.NewFromInt(int64(v)), nil
	}
	return decimal.Decimal{}, fmt.Errorf("element: not a decimal: %v", e.value)
}

// AsQuantity reads a Quantity-typed structured element.
func (e *Element) AsQuantity() (fhirpath.Quantity, error) {
	if e.object == nil {
		return fhirpath.Quantity{}, fmt.Errorf("element: not a Quantity")
	}
	var q fhirpath.Quantity
	if v, ok := e.object["value"]; ok {
		s := fmt.Sprintf("%v", v)
		if n, ok := v.(json.Number); ok {
			s = n.String()
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return q, fmt.Errorf("element: invalid Quantity.value: %w", err)
		}
		q.Value = d
	}
	if u, ok := e.object["unit"].(string); ok {
		q.Unit = u
	}
	if c, ok := e.object["code"].(string); ok && q.Unit == "" {
		q.Unit = c
	}
	return q, nil
}

// JSON renders the element's content for messages.
func (e *Element) JSON() string {
	if e.object != nil {
		data, err := json.Marshal(e.object)
		if err == nil {
			return string(data)
		}
	}
	if e.value != nil {
		data, err := json.Marshal(e.value)
		if err == nil {
			return string(data)
		}
	}
	return "null"
}

// Equal is structural equality, used for fixed-value checks.
func (e *Element) Equal(want any) bool {
	return matchValue(e, want, true)
}

// Matches is the pattern check: every field present in want must be
// present and equal, extra fields are allowed.
func (e *Element) Matches(want any) bool {
	return matchValue(e, want, false)
}

func matchValue(e *Element, want any, exact bool) bool {
	switch w := want.(type) {
	case map[string]any:
		if e.object == nil {
			return false
		}
		if exact {
			keys := 0
			for key := range e.object {
				if !(key == "resourceType" && e.IsResource()) {
					keys++
				}
			}
			if keys != len(w) {
				return false
			}
		}
		for field, wantChild := range w {
			children := e.SubElements(field)
			wantList, isList := wantChild.([]any)
			if isList {
				if exact && len(children) != len(wantList) {
					return false
				}
				if len(children) < len(wantList) {
					return false
				}
				for i, wc := range wantList {
					if !matchValue(children[i], wc, exact) {
						return false
					}
				}
				continue
			}
			if len(children) != 1 {
				return false
			}
			if !matchValue(children[0], wantChild, exact) {
				return false
			}
		}
		return true
	default:
		if e.value == nil {
			return false
		}
		return scalarEqual(e.value, want)
	}
}

func scalarEqual(a, b any) bool {
	as, aok := scalarToString(a)
	bs, bok := scalarToString(b)
	return aok && bok && as == bs
}

func scalarToString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case bool:
		if s {
			return "true", true
		}
		return "false", true
	case json.Number:
		return s.String(), true
	case float64:
		return decimal.NewFromFloat(s).String(), true
	case int:
		return fmt.Sprintf("%d", s), true
	case int64:
		return fmt.Sprintf("%d", s), true
	}
	return "", false
}
