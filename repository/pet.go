package repository

import (
	"fmt"
	"strings"
)

// ProfiledElementTypeInfo (PET) names which profile's view of which
// element applies at a position in the document tree. PETs are value
// types; composing along sub-field navigation produces new PETs.
type ProfiledElementTypeInfo struct {
	Profile *StructureDefinition
	Element *ElementDefinition
}

// NewPET points at a profile's root element.
func NewPET(profile *StructureDefinition) ProfiledElementTypeInfo {
	return ProfiledElementTypeInfo{Profile: profile, Element: profile.RootElement()}
}

// Valid reports whether both members are set.
func (p ProfiledElementTypeInfo) Valid() bool {
	return p.Profile != nil && p.Element != nil
}

// String renders "(url|version@element)" for messages and map keys.
func (p ProfiledElementTypeInfo) String() string {
	if !p.Valid() {
		return "(invalid)"
	}
	return fmt.Sprintf("(%s|%s@%s)", p.Profile.URL, p.Profile.Version, p.Element.Name)
}

// MapKey is the comparable identity of a PET.
type MapKey struct {
	ProfileKey  string
	ElementName string
	SliceName   string
}

// Key returns the comparable identity.
func (p ProfiledElementTypeInfo) Key() MapKey {
	if !p.Valid() {
		return MapKey{}
	}
	return MapKey{
		ProfileKey:  p.Profile.Key(),
		ElementName: p.Element.Name,
		SliceName:   p.Element.SliceName,
	}
}

func (k MapKey) String() string {
	s := "(" + k.ProfileKey + "@" + k.ElementName
	if k.SliceName != "" {
		s += ":" + k.SliceName
	}
	return s + ")"
}

// ElementPath is the element name relative to the profile root
// ("" for the root element itself).
func (p ProfiledElementTypeInfo) ElementPath() string {
	root := p.Profile.RootElement()
	if root == nil || p.Element.Name == root.Name {
		return ""
	}
	return strings.TrimPrefix(p.Element.Name, root.Name+".")
}

// IsResource reports whether the position holds a resource: the root of
// a resource profile or an element typed as a resource.
func (p ProfiledElementTypeInfo) IsResource(repo *Repository) bool {
	if !p.Valid() {
		return false
	}
	if p.Element.IsRoot() {
		return p.Profile.Kind == KindResource
	}
	if typeID := p.Element.TypeID(); typeID != "" {
		if def := repo.FindTypeByID(typeID); def != nil {
			return def.Kind == KindResource
		}
	}
	return false
}

// IsArray reports whether the element repeats.
func (p ProfiledElementTypeInfo) IsArray() bool {
	return p.Valid() && p.Element.IsArray
}

// TypeCast re-roots the PET to the given definition; used when a
// polymorphic position's actual resource type is observed.
func (p ProfiledElementTypeInfo) TypeCast(def *StructureDefinition) ProfiledElementTypeInfo {
	return NewPET(def)
}

// SubField resolves the definition for a named sub-field, first inside
// the own profile, then through the element's type.
func (p ProfiledElementTypeInfo) SubField(repo *Repository, name string) (ProfiledElementTypeInfo, bool) {
	if !p.Valid() {
		return ProfiledElementTypeInfo{}, false
	}
	if e := p.Profile.FindElement(p.Element.Name + "." + name); e != nil {
		e = repo.resolveContentReference(p.Profile, e)
		return ProfiledElementTypeInfo{Profile: p.Profile, Element: e}, true
	}
	if p.Element.IsBackbone() {
		return ProfiledElementTypeInfo{}, false
	}
	typeID := p.Element.TypeID()
	if typeID == "" {
		return ProfiledElementTypeInfo{}, false
	}
	typeDef := repo.FindTypeByID(typeID)
	if typeDef == nil || typeDef == p.Profile {
		return ProfiledElementTypeInfo{}, false
	}
	return NewPET(typeDef).SubField(repo, name)
}

// SubDefinitions returns the chain of definitions applying to a named
// sub-field: the owning profile's own constrained element first, the
// field type's root definition last. The final entry is the generic
// root pointer for the child position.
func (p ProfiledElementTypeInfo) SubDefinitions(repo *Repository, name string) []ProfiledElementTypeInfo {
	if !p.Valid() {
		return nil
	}
	if e := p.Profile.FindElement(p.Element.Name + "." + name); e != nil {
		e = repo.resolveContentReference(p.Profile, e)
		out := []ProfiledElementTypeInfo{{Profile: p.Profile, Element: e}}
		if !e.IsBackbone() {
			if typeID := e.TypeID(); typeID != "" {
				if typeDef := repo.FindTypeByID(typeID); typeDef != nil && typeDef != p.Profile {
					out = append(out, NewPET(typeDef))
				}
			}
		}
		return out
	}
	if p.Element.IsBackbone() {
		return nil
	}
	typeID := p.Element.TypeID()
	if typeID == "" {
		return nil
	}
	typeDef := repo.FindTypeByID(typeID)
	if typeDef == nil || typeDef == p.Profile {
		return nil
	}
	return NewPET(typeDef).SubDefinitions(repo, name)
}

// SubFieldNames lists the field names defined under the current
// position, merging own-profile children with the type's children.
func (p ProfiledElementTypeInfo) SubFieldNames(repo *Repository) []string {
	if !p.Valid() {
		return nil
	}
	seen := make(map[string]struct{})
	var names []string
	add := func(defs []*ElementDefinition) {
		for _, d := range defs {
			fn := d.FieldName()
			if _, dup := seen[fn]; !dup {
				seen[fn] = struct{}{}
				names = append(names, fn)
			}
		}
	}
	add(p.Profile.ChildrenOf(p.Element.Name))
	if !p.Element.IsBackbone() {
		if typeID := p.Element.TypeID(); typeID != "" {
			if typeDef := repo.FindTypeByID(typeID); typeDef != nil && typeDef != p.Profile {
				add(typeDef.ChildrenOf(typeDef.RootElement().Name))
			}
		}
	}
	return names
}
