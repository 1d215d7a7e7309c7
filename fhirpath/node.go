package fhirpath

// Node is the view of a FHIR element the evaluator navigates over.
// It is implemented by element.Element; tests may supply fakes.
type Node interface {
	// ChildNames lists the names of present sub-elements in document order.
	ChildNames() []string

	// Children returns the sub-elements for the given field name, in
	// document order. Missing fields return an empty slice.
	Children(name string) []Node

	// Value returns the node's primitive value, or nil for structured
	// elements.
	Value() Value

	// TypeID is the declared FHIR type of the node ("string", "Coding",
	// "Patient", ...). Used by ofType/is/as.
	TypeID() string

	// ResourceType returns the resource type when the node is a resource
	// root, otherwise the empty string.
	ResourceType() string
}

// Resolver resolves a Reference.reference string to the referenced node
// within the current document context. A nil result means unresolved.
type Resolver interface {
	Resolve(reference string) Node
}

// TypeChecker answers type-derivation questions for ofType/is against
// resource hierarchies (e.g. is a Patient a DomainResource?). It is
// implemented by the profile repository.
type TypeChecker interface {
	IsTypeDerivedFrom(typeID, ancestorTypeID string) bool
}

// Env carries the evaluation environment. The zero value works: resolve()
// then yields empty and type checks fall back to exact name matching.
type Env struct {
	Resolver    Resolver
	TypeChecker TypeChecker
}

func (e *Env) isType(typeID, wanted string) bool {
	if typeID == wanted {
		return true
	}
	if e != nil && e.TypeChecker != nil {
		return e.TypeChecker.IsTypeDerivedFrom(typeID, wanted)
	}
	return false
}
