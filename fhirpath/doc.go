// Package fhirpath implements the subset of the FHIRPath expression
// language needed for profile constraint checking, slicing discriminator
// resolution, and reference-integrity analysis.
//
// Expressions are compiled once — at profile load time — and evaluated
// many times. Compiled expressions are immutable and safe for concurrent
// evaluation. Evaluation is pure: it never mutates the element tree and
// missing fields yield empty collections instead of errors.
//
//	expr, err := fhirpath.Parse("name.where(use = 'official').family.exists()")
//	if err != nil { ... }           // fatal at profile load
//	got, err := expr.Evaluate(env, fhirpath.Collection{root})
//
// The element model is decoupled through the Node interface so that the
// element package (and test fakes) can plug in without an import cycle.
package fhirpath
