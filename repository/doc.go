// Package repository holds the FHIR conformance resources the validator
// works from: StructureDefinitions, CodeSystems and ValueSets.
//
// A Repository is built once at startup by Load and is immutable
// afterwards; all lookup methods are safe for concurrent use without
// locking. Loading performs a second resolution pass so source ordering
// is irrelevant, detects baseDefinition cycles and duplicate
// (url, version) pairs, and compiles every constraint expression —
// a FHIRPath parse error is fatal to the load.
//
// Profile versioning is exposed through views: a View filters the
// (url, version) space by a validity window so that a document's
// authored-on timestamp selects the applicable profile set.
package repository
