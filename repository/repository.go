package repository

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Repository is the immutable store of conformance resources. All
// methods are read-only and safe for concurrent use.
type Repository struct {
	definitionsByURL map[string][]*StructureDefinition // sorted by version
	definitionsByKey map[string]*StructureDefinition   // url|version
	typesByID        map[string]*StructureDefinition
	codeSystems      map[string][]*CodeSystem
	valueSets        map[string][]*ValueSet
	views            []*View
	defaultView      *View
}

// View filters the (url, version) space by a validity window. Views are
// configured at load; the zero window accepts everything.
type View struct {
	Name  string
	Start time.Time
	End   time.Time
	// Pins maps url -> version for profiles whose applicable version
	// differs from the repository-wide latest within the window.
	Pins map[string]string
}

// Contains reports whether the reference timestamp falls into the view's
// validity window.
func (v *View) Contains(ref time.Time) bool {
	if !v.Start.IsZero() && ref.Before(v.Start) {
		return false
	}
	if !v.End.IsZero() && !ref.Before(v.End) {
		return false
	}
	return true
}

// DefaultView returns the configured default view.
func (r *Repository) DefaultView() *View { return r.defaultView }

// Views lists all configured views.
func (r *Repository) Views() []*View { return r.views }

// ViewFor selects the view applicable at the reference timestamp. With
// overlapping windows the latest matching view wins; without a match the
// default view applies.
func (r *Repository) ViewFor(ref time.Time) *View {
	var chosen *View
	for _, v := range r.views {
		if v.Contains(ref) {
			chosen = v
		}
	}
	if chosen == nil {
		return r.defaultView
	}
	return chosen
}

// FindDefinitionByURL resolves a profile URL under the given view; nil
// view means "latest version". URLs may carry an explicit version as
// "url|version".
func (r *Repository) FindDefinitionByURL(url string, view *View) *StructureDefinition {
	if base, version, found := strings.Cut(url, "|"); found {
		return r.definitionsByKey[base+"|"+version]
	}
	versions := r.definitionsByURL[url]
	if len(versions) == 0 {
		return nil
	}
	if view != nil {
		if pinned, ok := view.Pins[url]; ok {
			if def := r.definitionsByKey[url+"|"+pinned]; def != nil {
				return def
			}
		}
	}
	return versions[len(versions)-1]
}

// FindTypeByID resolves a type id ("Patient", "HumanName", "string").
func (r *Repository) FindTypeByID(typeID string) *StructureDefinition {
	return r.typesByID[typeID]
}

// FindCodeSystem resolves a code system by URL and optional version.
func (r *Repository) FindCodeSystem(url, version string) *CodeSystem {
	versions := r.codeSystems[url]
	if len(versions) == 0 {
		return nil
	}
	if version != "" {
		for _, cs := range versions {
			if cs.Version == version {
				return cs
			}
		}
		return nil
	}
	return versions[len(versions)-1]
}

// FindValueSet resolves a value set by URL and optional version.
func (r *Repository) FindValueSet(url, version string) *ValueSet {
	if base, ver, found := strings.Cut(url, "|"); found && version == "" {
		url, version = base, ver
	}
	versions := r.valueSets[url]
	if len(versions) == 0 {
		return nil
	}
	if version != "" {
		for _, vs := range versions {
			if vs.Version == version {
				return vs
			}
		}
		return nil
	}
	return versions[len(versions)-1]
}

// IsDerivedFrom answers whether child transitively derives from
// ancestorURL via baseDefinition.
func (r *Repository) IsDerivedFrom(child *StructureDefinition, ancestorURL string) bool {
	return child != nil && child.IsDerivedFrom(ancestorURL)
}

// IsTypeDerivedFrom implements fhirpath.TypeChecker over type ids.
func (r *Repository) IsTypeDerivedFrom(typeID, ancestorTypeID string) bool {
	if typeID == ancestorTypeID {
		return true
	}
	def := r.typesByID[typeID]
	ancestor := r.typesByID[ancestorTypeID]
	if def == nil || ancestor == nil {
		return false
	}
	return def.IsDerivedFromDefinition(ancestor)
}

// ResolveBaseContentReference resolves references like
// "#Element.extension" into the PET of the base type's element. Used
// for generic element-extension slicing.
func (r *Repository) ResolveBaseContentReference(ref string) (ProfiledElementTypeInfo, error) {
	name := strings.TrimPrefix(ref, "#")
	typeID, _, _ := strings.Cut(name, ".")
	def := r.FindTypeByID(typeID)
	if def == nil {
		return ProfiledElementTypeInfo{}, fmt.Errorf("content reference to unknown type: %s", ref)
	}
	elem := def.FindElement(name)
	if elem == nil {
		return ProfiledElementTypeInfo{}, fmt.Errorf("content reference to unknown element: %s", ref)
	}
	return ProfiledElementTypeInfo{Profile: def, Element: elem}, nil
}

// resolveContentReference follows an in-profile contentReference.
func (r *Repository) resolveContentReference(profile *StructureDefinition, e *ElementDefinition) *ElementDefinition {
	if e.ContentReference == "" {
		return e
	}
	name := strings.TrimPrefix(e.ContentReference, "#")
	if target := profile.FindElement(name); target != nil {
		// keep the referencing element's name and cardinality
		resolved := target.clone()
		resolved.Name = e.Name
		resolved.OriginalName = e.OriginalName
		resolved.Cardinality = e.Cardinality
		resolved.IsArray = e.IsArray
		return resolved
	}
	if pet, err := r.ResolveBaseContentReference(e.ContentReference); err == nil {
		resolved := pet.Element.clone()
		resolved.Name = e.Name
		resolved.OriginalName = e.OriginalName
		resolved.Cardinality = e.Cardinality
		resolved.IsArray = e.IsArray
		return resolved
	}
	return e
}

// Definitions lists all loaded structure definitions sorted by key;
// intended for diagnostics.
func (r *Repository) Definitions() []*StructureDefinition {
	out := make([]*StructureDefinition, 0, len(r.definitionsByKey))
	for _, def := range r.definitionsByKey {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}
