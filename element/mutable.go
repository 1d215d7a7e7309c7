package element

import (
	"fmt"
)

// dataAbsentReasonURL marks values removed by the profile transformer.
const dataAbsentReasonURL = "http://hl7.org/fhir/StructureDefinition/data-absent-reason"

// MutableElement adds the mutation surface used by the resource-profile
// transformer. Mutations write through to the underlying parsed
// document, so a subsequent re-validation sees the changes.
type MutableElement struct {
	*Element
}

// AsMutable wraps an element. The element must be backed by a parent
// object (the root is always mutable through its own object).
func AsMutable(e *Element) *MutableElement {
	return &MutableElement{Element: e}
}

// SetString replaces the element's primitive value.
func (m *MutableElement) SetString(value string) error {
	if m.parent == nil || m.parent.object == nil {
		return fmt.Errorf("element: cannot mutate detached element")
	}
	return m.replaceInParent(value)
}

// SetDataAbsentExtension removes the primitive value and attaches a
// data-absent-reason extension in the "_field" sibling.
func (m *MutableElement) SetDataAbsentExtension(reason string) error {
	if m.parent == nil || m.parent.object == nil {
		return fmt.Errorf("element: cannot mutate detached element")
	}
	ext := map[string]any{
		"extension": []any{
			map[string]any{
				"url":       dataAbsentReasonURL,
				"valueCode": reason,
			},
		},
	}
	delete(m.parent.object, m.name)
	m.parent.object["_"+m.name] = ext
	m.value = nil
	m.object = ext
	return nil
}

// RemoveFromParent deletes the element (and a primitive-extension
// sibling) from the containing object.
func (m *MutableElement) RemoveFromParent() error {
	if m.parent == nil || m.parent.object == nil {
		return fmt.Errorf("element: cannot remove detached element")
	}
	raw, ok := m.parent.object[m.name]
	if !ok {
		delete(m.parent.object, "_"+m.name)
		return nil
	}
	if list, isList := raw.([]any); isList {
		// drop the entry matching this element's value/object
		kept := make([]any, 0, len(list))
		for _, item := range list {
			if m.object != nil {
				if obj, isObj := item.(map[string]any); isObj && sameObject(obj, m.object) {
					continue
				}
			} else if scalarEqual(item, m.value) {
				continue
			}
			kept = append(kept, item)
		}
		if len(kept) == 0 {
			delete(m.parent.object, m.name)
		} else {
			m.parent.object[m.name] = kept
		}
	} else {
		delete(m.parent.object, m.name)
	}
	delete(m.parent.object, "_"+m.name)
	return nil
}

func (m *MutableElement) replaceInParent(value any) error {
	raw, ok := m.parent.object[m.name]
	if list, isList := raw.([]any); ok && isList {
		for i, item := range list {
			if m.object != nil {
				if obj, isObj := item.(map[string]any); isObj && sameObject(obj, m.object) {
					list[i] = value
					m.value = value
					return nil
				}
			} else if scalarEqual(item, m.value) {
				list[i] = value
				m.value = value
				return nil
			}
		}
		return fmt.Errorf("element: value not found in parent array")
	}
	m.parent.object[m.name] = value
	m.value = value
	return nil
}

// sameObject compares structurally: same key count, scalar values
// equal, nested objects compared recursively, arrays by length only.
func sameObject(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for key := range a {
		av, bv := a[key], b[key]
		switch avt := av.(type) {
		case map[string]any:
			bvt, ok := bv.(map[string]any)
			if !ok || !sameObject(avt, bvt) {
				return false
			}
		case []any:
			bvt, ok := bv.([]any)
			if !ok || len(avt) != len(bvt) {
				return false
			}
		default:
			if !scalarEqual(av, bv) {
				return false
			}
		}
	}
	return true
}
