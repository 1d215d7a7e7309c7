package fhirpath

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Expression is a compiled FHIRPath expression. Compiled expressions are
// immutable and safe for concurrent evaluation.
type Expression struct {
	source string
	root   exprNode
}

// Source returns the original expression text.
func (e *Expression) Source() string { return e.source }

// Evaluate runs the expression against the input collection.
func (e *Expression) Evaluate(env *Env, input Collection) (Collection, error) {
	return e.root.eval(env, input)
}

// EvaluateBool evaluates and converts per the constraint semantics:
// nil means the expression yielded empty (not a violation).
func (e *Expression) EvaluateBool(env *Env, input Collection) (*bool, error) {
	result, err := e.root.eval(env, input)
	if err != nil {
		return nil, err
	}
	return result.BooleanOrNil(), nil
}

type exprNode interface {
	eval(env *Env, focus Collection) (Collection, error)
}

// thisExpr is $this.
type thisExpr struct{}

func (thisExpr) eval(_ *Env, focus Collection) (Collection, error) {
	return focus, nil
}

// literalExpr is a constant.
type literalExpr struct{ val Value }

func (l literalExpr) eval(_ *Env, _ Collection) (Collection, error) {
	return Collection{ItemOfValue(l.val)}, nil
}

// emptyExpr is the `{}` literal.
type emptyExpr struct{}

func (emptyExpr) eval(_ *Env, _ Collection) (Collection, error) {
	return nil, nil
}

// identExpr navigates a field name. At a resource root the type name
// selects the node itself (e.g. `Bundle.type` starting from a Bundle).
type identExpr struct{ name string }

func (id identExpr) eval(env *Env, focus Collection) (Collection, error) {
	var out Collection
	for _, item := range focus {
		if item.Node == nil {
			continue
		}
		if rt := item.Node.ResourceType(); rt != "" && rt == id.name {
			out = append(out, item)
			continue
		}
		for _, child := range item.Node.Children(id.name) {
			out = append(out, ItemOfNode(child))
		}
	}
	return out, nil
}

// indexExpr selects focus[index].
type indexExpr struct {
	operand exprNode
	index   exprNode
}

func (ix indexExpr) eval(env *Env, focus Collection) (Collection, error) {
	base, err := ix.operand.eval(env, focus)
	if err != nil {
		return nil, err
	}
	idxCol, err := ix.index.eval(env, focus)
	if err != nil {
		return nil, err
	}
	single, ok := idxCol.Singleton()
	if !ok {
		return nil, nil
	}
	i, ok := single.PrimitiveValue().(Integer)
	if !ok {
		return nil, fmt.Errorf("fhirpath: indexer requires an integer")
	}
	if i < 0 || int(i) >= len(base) {
		return nil, nil
	}
	return Collection{base[i]}, nil
}

// pathExpr evaluates left, then right with the result as focus.
type pathExpr struct{ left, right exprNode }

func (p pathExpr) eval(env *Env, focus Collection) (Collection, error) {
	base, err := p.left.eval(env, focus)
	if err != nil {
		return nil, err
	}
	return p.right.eval(env, base)
}

// unaryExpr is numeric negation.
type unaryExpr struct {
	op      string
	operand exprNode
}

func (u unaryExpr) eval(env *Env, focus Collection) (Collection, error) {
	result, err := u.operand.eval(env, focus)
	if err != nil {
		return nil, err
	}
	if result.Empty() {
		return nil, nil
	}
	single, ok := result.Singleton()
	if !ok {
		return nil, fmt.Errorf("fhirpath: unary %s requires a singleton", u.op)
	}
	if u.op == "+" {
		return result, nil
	}
	switch v := single.PrimitiveValue().(type) {
	case Integer:
		return Collection{ItemOfValue(Integer(-v))}, nil
	case Decimal:
		return Collection{ItemOfValue(Decimal(decimal.Decimal(v).Neg()))}, nil
	}
	return nil, fmt.Errorf("fhirpath: unary %s requires a number", u.op)
}

// typeOpExpr is `is` / `as` in operator form.
type typeOpExpr struct {
	op       string
	operand  exprNode
	typeName string
}

func (t typeOpExpr) eval(env *Env, focus Collection) (Collection, error) {
	base, err := t.operand.eval(env, focus)
	if err != nil {
		return nil, err
	}
	switch t.op {
	case "is":
		if base.Empty() {
			return nil, nil
		}
		single, ok := base.Singleton()
		if !ok {
			return nil, fmt.Errorf("fhirpath: is requires a singleton")
		}
		return Collection{ItemOfValue(Boolean(itemIsType(env, single, t.typeName)))}, nil
	case "as":
		var out Collection
		for _, item := range base {
			if itemIsType(env, item, t.typeName) {
				out = append(out, item)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("fhirpath: unknown type operator %q", t.op)
}

// itemIsType checks an item against a FHIR or System type name.
func itemIsType(env *Env, item Item, typeName string) bool {
	typeName = strings.TrimPrefix(typeName, "System.")
	typeName = strings.TrimPrefix(typeName, "FHIR.")
	id := item.TypeID()
	if env.isType(id, typeName) {
		return true
	}
	// Primitive element types map onto system types (string -> String...).
	if v := item.PrimitiveValue(); v != nil {
		if strings.EqualFold(v.TypeName(), typeName) || strings.EqualFold(id, typeName) {
			return true
		}
	}
	return false
}

// binaryExpr covers arithmetic, comparison, equality, membership and
// boolean operators.
type binaryExpr struct {
	op   string
	l, r exprNode
}

func (b binaryExpr) eval(env *Env, focus Collection) (Collection, error) {
	switch b.op {
	case "and", "or", "xor", "implies":
		return b.evalLogical(env, focus)
	}
	lv, err := b.l.eval(env, focus)
	if err != nil {
		return nil, err
	}
	rv, err := b.r.eval(env, focus)
	if err != nil {
		return nil, err
	}
	switch b.op {
	case "|":
		return union(env, lv, rv), nil
	case "=", "!=":
		eq, ok := collectionsEqual(env, lv, rv)
		if !ok {
			return nil, nil
		}
		if b.op == "!=" {
			eq = !eq
		}
		return Collection{ItemOfValue(Boolean(eq))}, nil
	case "~", "!~":
		eq := equivalent(env, lv, rv)
		if b.op == "!~" {
			eq = !eq
		}
		return Collection{ItemOfValue(Boolean(eq))}, nil
	case "in":
		return evalMembership(env, lv, rv)
	case "contains":
		return evalMembership(env, rv, lv)
	case "<", "<=", ">", ">=":
		return evalComparison(b.op, lv, rv)
	case "&":
		return evalConcat(lv, rv)
	case "+", "-", "*", "/", "div", "mod":
		return evalArithmetic(b.op, lv, rv)
	}
	return nil, fmt.Errorf("fhirpath: unknown operator %q", b.op)
}

func (b binaryExpr) evalLogical(env *Env, focus Collection) (Collection, error) {
	lc, err := b.l.eval(env, focus)
	if err != nil {
		return nil, err
	}
	rc, err := b.r.eval(env, focus)
	if err != nil {
		return nil, err
	}
	lb, rb := lc.BooleanOrNil(), rc.BooleanOrNil()
	boolOrEmpty := func(v *bool) Collection {
		if v == nil {
			return nil
		}
		return Collection{ItemOfValue(Boolean(*v))}
	}
	t, f := true, false
	switch b.op {
	case "and":
		if (lb != nil && !*lb) || (rb != nil && !*rb) {
			return boolOrEmpty(&f), nil
		}
		if lb != nil && rb != nil {
			return boolOrEmpty(&t), nil
		}
		return nil, nil
	case "or":
		if (lb != nil && *lb) || (rb != nil && *rb) {
			return boolOrEmpty(&t), nil
		}
		if lb != nil && rb != nil {
			return boolOrEmpty(&f), nil
		}
		return nil, nil
	case "xor":
		if lb == nil || rb == nil {
			return nil, nil
		}
		v := *lb != *rb
		return boolOrEmpty(&v), nil
	case "implies":
		if lb != nil && !*lb {
			return boolOrEmpty(&t), nil
		}
		if lb != nil && *lb {
			return boolOrEmpty(rb), nil
		}
		// left empty: true when right is true, else empty
		if rb != nil && *rb {
			return boolOrEmpty(&t), nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("fhirpath: unknown logical operator %q", b.op)
}

// equivalent implements `~`: empty ~ empty is true, comparison is
// case-insensitive for strings and order-insensitive for collections.
func equivalent(env *Env, a, b Collection) bool {
	if a.Empty() && b.Empty() {
		return true
	}
	if len(a) != len(b) {
		return false
	}
	used := make([]bool, len(b))
	for _, ai := range a {
		found := false
		for j, bi := range b {
			if used[j] {
				continue
			}
			if itemsEquivalent(env, ai, bi) {
				used[j] = true
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func itemsEquivalent(env *Env, a, b Item) bool {
	av, bv := a.PrimitiveValue(), b.PrimitiveValue()
	if as, ok := av.(String); ok {
		if bs, ok := bv.(String); ok {
			return strings.EqualFold(
				strings.Join(strings.Fields(string(as)), " "),
				strings.Join(strings.Fields(string(bs)), " "))
		}
	}
	eq, ok := equalItems(env, a, b)
	return ok && eq
}

func evalMembership(env *Env, needle, haystack Collection) (Collection, error) {
	if needle.Empty() {
		return nil, nil
	}
	single, ok := needle.Singleton()
	if !ok {
		return nil, fmt.Errorf("fhirpath: 'in' requires a singleton left operand")
	}
	for _, item := range haystack {
		if eq, ok := equalItems(env, single, item); ok && eq {
			return Collection{ItemOfValue(Boolean(true))}, nil
		}
	}
	return Collection{ItemOfValue(Boolean(false))}, nil
}

func evalComparison(op string, lv, rv Collection) (Collection, error) {
	if lv.Empty() || rv.Empty() {
		return nil, nil
	}
	ls, lok := lv.Singleton()
	rs, rok := rv.Singleton()
	if !lok || !rok {
		return nil, fmt.Errorf("fhirpath: %s requires singletons", op)
	}
	cmp, err := compareValues(ls.PrimitiveValue(), rs.PrimitiveValue())
	if err != nil {
		return nil, err
	}
	var result bool
	switch op {
	case "<":
		result = cmp < 0
	case "<=":
		result = cmp <= 0
	case ">":
		result = cmp > 0
	case ">=":
		result = cmp >= 0
	}
	return Collection{ItemOfValue(Boolean(result))}, nil
}

func compareValues(a, b Value) (int, error) {
	switch av := a.(type) {
	case Integer:
		switch bv := b.(type) {
		case Integer:
			return decimal.NewFromInt(int64(av)).Cmp(decimal.NewFromInt(int64(bv))), nil
		case Decimal:
			return decimal.NewFromInt(int64(av)).Cmp(decimal.Decimal(bv)), nil
		}
	case Decimal:
		switch bv := b.(type) {
		case Integer:
			return decimal.Decimal(av).Cmp(decimal.NewFromInt(int64(bv))), nil
		case Decimal:
			return decimal.Decimal(av).Cmp(decimal.Decimal(bv)), nil
		}
	case String:
		if bv, ok := b.(String); ok {
			return strings.Compare(string(av), string(bv)), nil
		}
	case Date:
		if bv, ok := b.(Date); ok {
			return strings.Compare(string(av), string(bv)), nil
		}
	case DateTime:
		if bv, ok := b.(DateTime); ok {
			return strings.Compare(string(av), string(bv)), nil
		}
	case Time:
		if bv, ok := b.(Time); ok {
			return strings.Compare(string(av), string(bv)), nil
		}
	case Quantity:
		if bv, ok := b.(Quantity); ok && av.Unit == bv.Unit {
			return av.Value.Cmp(bv.Value), nil
		}
	}
	return 0, fmt.Errorf("fhirpath: cannot compare %T and %T", a, b)
}

func evalConcat(lv, rv Collection) (Collection, error) {
	str := func(c Collection) (string, error) {
		if c.Empty() {
			return "", nil
		}
		single, ok := c.Singleton()
		if !ok {
			return "", fmt.Errorf("fhirpath: & requires singletons")
		}
		v := single.PrimitiveValue()
		if v == nil {
			return "", fmt.Errorf("fhirpath: & requires primitives")
		}
		return v.AsString(), nil
	}
	l, err := str(lv)
	if err != nil {
		return nil, err
	}
	r, err := str(rv)
	if err != nil {
		return nil, err
	}
	return Collection{ItemOfValue(String(l + r))}, nil
}

func evalArithmetic(op string, lv, rv Collection) (Collection, error) {
	if lv.Empty() || rv.Empty() {
		return nil, nil
	}
	ls, lok := lv.Singleton()
	rs, rok := rv.Singleton()
	if !lok || !rok {
		return nil, fmt.Errorf("fhirpath: %s requires singletons", op)
	}
	if op == "+" {
		if a, ok := ls.PrimitiveValue().(String); ok {
			if b, ok := rs.PrimitiveValue().(String); ok {
				return Collection{ItemOfValue(a + b)}, nil
			}
		}
	}
	a, aok := toDecimal(ls.PrimitiveValue())
	b, bok := toDecimal(rs.PrimitiveValue())
	if !aok || !bok {
		return nil, fmt.Errorf("fhirpath: %s requires numbers", op)
	}
	bothInt := isInteger(ls.PrimitiveValue()) && isInteger(rs.PrimitiveValue())
	var out decimal.Decimal
	switch op {
	case "+":
		out = a.Add(b)
	case "-":
		out = a.Sub(b)
	case "*":
		out = a.Mul(b)
	case "/":
		if b.IsZero() {
			return nil, nil
		}
		return Collection{ItemOfValue(Decimal(a.DivRound(b, 8)))}, nil
	case "div":
		if b.IsZero() {
			return nil, nil
		}
		return Collection{ItemOfValue(Integer(a.Div(b).IntPart()))}, nil
	case "mod":
		if b.IsZero() {
			return nil, nil
		}
		out = a.Mod(b)
	}
	if bothInt {
		return Collection{ItemOfValue(Integer(out.IntPart()))}, nil
	}
	return Collection{ItemOfValue(Decimal(out))}, nil
}

func toDecimal(v Value) (decimal.Decimal, bool) {
	switch n := v.(type) {
	case Integer:
		return decimal.NewFromInt(int64(n)), true
	case Decimal:
		return decimal.Decimal(n), true
	}
	return decimal.Decimal{}, false
}

func isInteger(v Value) bool {
	_, ok := v.(Integer)
	return ok
}
