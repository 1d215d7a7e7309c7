package repository

import (
	"strings"
)

// ElementDefinition describes one position in a StructureDefinition.
// Choice elements ("value[x]") are expanded at load into one definition
// per allowed type, so Type is always a single reference; OriginalName
// preserves the declared path.
type ElementDefinition struct {
	// Name is the dotted path within the owning profile, starting with
	// the type id ("Patient.name.given"). The root element's Name equals
	// the type id.
	Name string

	// OriginalName is the declared path before choice expansion and
	// slice renaming ("Observation.value[x]").
	OriginalName string

	// SliceName is set on the root element of a synthesized slice
	// profile.
	SliceName string

	Type             ElementTypeRef
	ContentReference string
	Cardinality      Cardinality
	IsArray          bool

	Fixed   any
	Pattern any

	Binding     *Binding
	Constraints []Constraint
	Slicing     *Slicing

	// hasChildren is true when the owning profile defines sub-elements
	// under this element (backbone-style nesting).
	hasChildren bool
}

// FieldName is the last path segment.
func (e *ElementDefinition) FieldName() string {
	if i := strings.LastIndexByte(e.Name, '.'); i >= 0 {
		return e.Name[i+1:]
	}
	return e.Name
}

// OriginalFieldName is the last segment of the declared path.
func (e *ElementDefinition) OriginalFieldName() string {
	name := e.OriginalName
	if name == "" {
		name = e.Name
	}
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// IsRoot reports whether this is the profile's root element.
func (e *ElementDefinition) IsRoot() bool {
	return !strings.ContainsRune(e.Name, '.')
}

// IsBackbone reports whether sub-elements are defined inline in the
// owning profile rather than through the element's type.
func (e *ElementDefinition) IsBackbone() bool {
	if !e.hasChildren {
		return false
	}
	switch e.TypeID() {
	case "", "BackboneElement", "Element":
		return true
	}
	return false
}

// TypeID is the single type code after choice expansion; empty for
// content-reference and root elements.
func (e *ElementDefinition) TypeID() string { return e.Type.Code }

// Profiles lists the type.profile URLs (require-one semantics).
func (e *ElementDefinition) Profiles() []string { return e.Type.Profiles }

// ReferenceTargetProfiles lists allowed targetProfile URLs for
// Reference-typed elements.
func (e *ElementDefinition) ReferenceTargetProfiles() []string { return e.Type.TargetProfiles }

// HasSlices reports whether a slicing with at least one slice applies.
func (e *ElementDefinition) HasSlices() bool {
	return e.Slicing != nil && len(e.Slicing.Slices) > 0
}

// HasBinding reports whether a terminology binding is declared.
func (e *ElementDefinition) HasBinding() bool { return e.Binding != nil }

// clone returns a shallow copy; used for choice expansion and the
// synthesized zero-cardinality definitions of the validator.
func (e *ElementDefinition) clone() *ElementDefinition {
	cp := *e
	return &cp
}

// WithCardinality returns a copy with the given bounds; the validator
// uses it to synthesize prohibited elements for abandoned sub-fields.
func (e *ElementDefinition) WithCardinality(min, max uint32) *ElementDefinition {
	cp := e.clone()
	cp.Cardinality = Cardinality{Min: min, Max: max}
	return cp
}

// WithOriginalName returns a copy carrying a different declared path.
func (e *ElementDefinition) WithOriginalName(name string) *ElementDefinition {
	cp := e.clone()
	cp.OriginalName = name
	return cp
}
