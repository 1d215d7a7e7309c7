package repository

import (
	"strings"
)

// StructureDefinition is a parsed FHIR profile or type definition,
// identified by (URL, Version).
type StructureDefinition struct {
	URL            string
	Version        string
	Name           string
	TypeID         string
	Kind           Kind
	Derivation     Derivation
	Abstract       bool
	BaseDefinition string

	// Elements is the ordered snapshot after choice expansion. The
	// first entry is the root.
	Elements []*ElementDefinition

	byName map[string]*ElementDefinition
	base   *StructureDefinition
}

// Key identifies a profile in maps and messages.
func (sd *StructureDefinition) Key() string {
	return sd.URL + "|" + sd.Version
}

// GetName returns the declared name, falling back to the type id. Slice
// profiles carry the slice name here.
func (sd *StructureDefinition) GetName() string {
	if sd.Name != "" {
		return sd.Name
	}
	return sd.TypeID
}

// RootElement returns the first element.
func (sd *StructureDefinition) RootElement() *ElementDefinition {
	if len(sd.Elements) == 0 {
		return nil
	}
	return sd.Elements[0]
}

// FindElement looks up an element by its full dotted name.
func (sd *StructureDefinition) FindElement(name string) *ElementDefinition {
	return sd.byName[name]
}

// ChildrenOf lists the direct children of the element with the given
// name, in definition order.
func (sd *StructureDefinition) ChildrenOf(name string) []*ElementDefinition {
	prefix := name + "."
	var out []*ElementDefinition
	for _, e := range sd.Elements {
		if !strings.HasPrefix(e.Name, prefix) {
			continue
		}
		if strings.ContainsRune(e.Name[len(prefix):], '.') {
			continue
		}
		if e.SliceName != "" && e.Name != name {
			// slice entries are reachable through the slicing descriptor
			continue
		}
		out = append(out, e)
	}
	return out
}

// Base returns the resolved base definition, nil for root types.
func (sd *StructureDefinition) Base() *StructureDefinition { return sd.base }

// IsDerivedFrom walks the baseDefinition chain; a definition is derived
// from itself and from any transitive base, matched by URL.
func (sd *StructureDefinition) IsDerivedFrom(url string) bool {
	for cur := sd; cur != nil; cur = cur.base {
		if cur.URL == url {
			return true
		}
	}
	return false
}

// IsDerivedFromDefinition matches by identity or (url, version).
func (sd *StructureDefinition) IsDerivedFromDefinition(ancestor *StructureDefinition) bool {
	if ancestor == nil {
		return false
	}
	for cur := sd; cur != nil; cur = cur.base {
		if cur == ancestor || (cur.URL == ancestor.URL && cur.Version == ancestor.Version) {
			return true
		}
	}
	return false
}

// buildIndex populates the name lookup; called by the loader after
// choice expansion.
func (sd *StructureDefinition) buildIndex() {
	sd.byName = make(map[string]*ElementDefinition, len(sd.Elements))
	for _, e := range sd.Elements {
		if _, dup := sd.byName[e.Name]; !dup {
			sd.byName[e.Name] = e
		}
	}
	// mark backbone elements
	for _, e := range sd.Elements {
		if i := strings.LastIndexByte(e.Name, '.'); i >= 0 {
			if parent, ok := sd.byName[e.Name[:i]]; ok {
				parent.hasChildren = true
			}
		}
	}
}
