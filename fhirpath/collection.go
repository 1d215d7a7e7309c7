package fhirpath

// Item is a single evaluation result: either a Node from the document
// tree or a computed primitive Value.
type Item struct {
	Node  Node
	Value Value
}

// ItemOfNode wraps a document node as an item.
func ItemOfNode(n Node) Item { return Item{Node: n} }

// ItemOfValue wraps a computed primitive as an item.
func ItemOfValue(v Value) Item { return Item{Value: v} }

// PrimitiveValue returns the primitive behind the item: the computed
// value, or the node's value for primitive-typed nodes. Nil for
// structured nodes.
func (it Item) PrimitiveValue() Value {
	if it.Value != nil {
		return it.Value
	}
	if it.Node != nil {
		return it.Node.Value()
	}
	return nil
}

// TypeID returns the FHIR/FHIRPath type name of the item.
func (it Item) TypeID() string {
	if it.Node != nil {
		if rt := it.Node.ResourceType(); rt != "" {
			return rt
		}
		return it.Node.TypeID()
	}
	if it.Value != nil {
		return it.Value.TypeName()
	}
	return ""
}

// Collection is an ordered, possibly empty list of items. The empty
// collection stands in for "no value" throughout the evaluator.
type Collection []Item

// Empty reports whether the collection has no items.
func (c Collection) Empty() bool { return len(c) == 0 }

// Singleton returns the only item; ok is false unless len == 1.
func (c Collection) Singleton() (Item, bool) {
	if len(c) == 1 {
		return c[0], true
	}
	return Item{}, false
}

// BooleanOrNil converts the collection to a three-valued boolean:
// nil for empty, the value for a singleton boolean, and otherwise the
// existence semantics (all boolean items true, non-booleans count as
// present-and-true). Constraint checking treats nil as "not violated".
func (c Collection) BooleanOrNil() *bool {
	if len(c) == 0 {
		return nil
	}
	result := true
	for _, it := range c {
		if b, ok := it.PrimitiveValue().(Boolean); ok && !bool(b) {
			result = false
			break
		}
	}
	return &result
}

// equalItems implements FHIRPath `=` on two items. The second return is
// false when the pair is incomparable (result empty).
func equalItems(env *Env, a, b Item) (bool, bool) {
	av, bv := a.PrimitiveValue(), b.PrimitiveValue()
	if av != nil && bv != nil {
		return av.Equal(bv)
	}
	if a.Node != nil && b.Node != nil {
		return nodesEqual(env, a.Node, b.Node), true
	}
	return false, true
}

// nodesEqual compares structured nodes field by field, in order.
func nodesEqual(env *Env, a, b Node) bool {
	av, bv := a.Value(), b.Value()
	if (av == nil) != (bv == nil) {
		return false
	}
	if av != nil {
		eq, ok := av.Equal(bv)
		return ok && eq
	}
	an, bn := a.ChildNames(), b.ChildNames()
	if len(an) != len(bn) {
		return false
	}
	for i, name := range an {
		if bn[i] != name {
			return false
		}
		ac, bc := a.Children(name), b.Children(name)
		if len(ac) != len(bc) {
			return false
		}
		for j := range ac {
			if !nodesEqual(env, ac[j], bc[j]) {
				return false
			}
		}
	}
	return true
}

// collectionsEqual implements `=` between collections: empty operands
// propagate empty; differing lengths are false; items compare pairwise.
func collectionsEqual(env *Env, a, b Collection) (bool, bool) {
	if a.Empty() || b.Empty() {
		return false, false
	}
	if len(a) != len(b) {
		return false, true
	}
	for i := range a {
		eq, ok := equalItems(env, a[i], b[i])
		if !ok {
			return false, false
		}
		if !eq {
			return false, true
		}
	}
	return true, true
}

// union appends b to a, dropping duplicates of primitives.
func union(env *Env, a, b Collection) Collection {
	out := make(Collection, 0, len(a)+len(b))
	out = append(out, a...)
	for _, item := range b {
		dup := false
		for _, have := range out {
			if eq, ok := equalItems(env, have, item); ok && eq {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, item)
		}
	}
	return out
}
