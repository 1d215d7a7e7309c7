// Package element provides the polymorphic view over parsed FHIR
// documents that the validator and the FHIRPath evaluator navigate.
//
// Elements are created from JSON (ParseJSON) or XML (ParseXML, which
// maps onto the identical in-memory form, so both serializations
// validate the same way). An Element carries its position's
// ProfiledElementTypeInfo so navigation stays type-aware; elements are
// shared by reference and the tree is acyclic.
//
// A MutableElement wraps an Element with the mutation capabilities the
// resource-profile transformer needs (SetString, SetDataAbsentExtension,
// RemoveFromParent); plain Elements are read-only.
package element
