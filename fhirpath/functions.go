package fhirpath

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// funcExpr is a function invocation on the current focus.
type funcExpr struct {
	name string
	args []exprNode
}

// regexCache holds compiled patterns for matches(); append-only under a
// single mutex, lookups take the read path.
var regexCache = struct {
	sync.RWMutex
	m map[string]*regexp.Regexp
}{m: make(map[string]*regexp.Regexp)}

func compiledRegex(pattern string) (*regexp.Regexp, error) {
	regexCache.RLock()
	re, ok := regexCache.m[pattern]
	regexCache.RUnlock()
	if ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: invalid regex %q: %w", pattern, err)
	}
	regexCache.Lock()
	regexCache.m[pattern] = re
	regexCache.Unlock()
	return re, nil
}

func (f funcExpr) eval(env *Env, focus Collection) (Collection, error) {
	switch f.name {
	case "empty":
		return boolCol(focus.Empty()), nil
	case "exists":
		if len(f.args) == 0 {
			return boolCol(!focus.Empty()), nil
		}
		matched, err := f.filter(env, focus)
		if err != nil {
			return nil, err
		}
		return boolCol(!matched.Empty()), nil
	case "all":
		if len(f.args) != 1 {
			return nil, fmt.Errorf("fhirpath: all() takes one criteria")
		}
		for _, item := range focus {
			ok, err := f.testItem(env, item)
			if err != nil {
				return nil, err
			}
			if !ok {
				return boolCol(false), nil
			}
		}
		return boolCol(true), nil
	case "where":
		return f.filter(env, focus)
	case "select":
		if len(f.args) != 1 {
			return nil, fmt.Errorf("fhirpath: select() takes one projection")
		}
		var out Collection
		for _, item := range focus {
			projected, err := f.args[0].eval(env, Collection{item})
			if err != nil {
				return nil, err
			}
			out = append(out, projected...)
		}
		return out, nil
	case "count":
		return Collection{ItemOfValue(Integer(len(focus)))}, nil
	case "distinct":
		return union(env, nil, focus), nil
	case "isDistinct":
		return boolCol(len(union(env, nil, focus)) == len(focus)), nil
	case "first":
		if focus.Empty() {
			return nil, nil
		}
		return Collection{focus[0]}, nil
	case "last":
		if focus.Empty() {
			return nil, nil
		}
		return Collection{focus[len(focus)-1]}, nil
	case "tail":
		if len(focus) <= 1 {
			return nil, nil
		}
		return focus[1:], nil
	case "single":
		if focus.Empty() {
			return nil, nil
		}
		single, ok := focus.Singleton()
		if !ok {
			return nil, fmt.Errorf("fhirpath: single() on collection of %d", len(focus))
		}
		return Collection{single}, nil
	case "not":
		b := focus.BooleanOrNil()
		if b == nil {
			return nil, nil
		}
		return boolCol(!*b), nil
	case "allTrue":
		for _, item := range focus {
			if b, ok := item.PrimitiveValue().(Boolean); !ok || !bool(b) {
				return boolCol(false), nil
			}
		}
		return boolCol(true), nil
	case "anyTrue":
		for _, item := range focus {
			if b, ok := item.PrimitiveValue().(Boolean); ok && bool(b) {
				return boolCol(true), nil
			}
		}
		return boolCol(false), nil
	case "ofType":
		typeName, err := f.typeArg()
		if err != nil {
			return nil, err
		}
		var out Collection
		for _, item := range focus {
			if itemIsType(env, item, typeName) {
				out = append(out, item)
			}
		}
		return out, nil
	case "is":
		typeName, err := f.typeArg()
		if err != nil {
			return nil, err
		}
		if focus.Empty() {
			return nil, nil
		}
		single, ok := focus.Singleton()
		if !ok {
			return nil, fmt.Errorf("fhirpath: is() requires a singleton")
		}
		return boolCol(itemIsType(env, single, typeName)), nil
	case "as":
		typeName, err := f.typeArg()
		if err != nil {
			return nil, err
		}
		var out Collection
		for _, item := range focus {
			if itemIsType(env, item, typeName) {
				out = append(out, item)
			}
		}
		return out, nil
	case "extension":
		url, err := f.stringArg(env, focus)
		if err != nil {
			return nil, err
		}
		var out Collection
		for _, item := range focus {
			if item.Node == nil {
				continue
			}
			for _, ext := range item.Node.Children("extension") {
				for _, u := range ext.Children("url") {
					if v := u.Value(); v != nil && v.AsString() == url {
						out = append(out, ItemOfNode(ext))
					}
				}
			}
		}
		return out, nil
	case "resolve":
		if env == nil || env.Resolver == nil {
			return nil, nil
		}
		var out Collection
		for _, item := range focus {
			ref := referenceString(item)
			if ref == "" {
				continue
			}
			if target := env.Resolver.Resolve(ref); target != nil {
				out = append(out, ItemOfNode(target))
			}
		}
		return out, nil
	case "children":
		var out Collection
		for _, item := range focus {
			if item.Node == nil {
				continue
			}
			for _, name := range item.Node.ChildNames() {
				for _, child := range item.Node.Children(name) {
					out = append(out, ItemOfNode(child))
				}
			}
		}
		return out, nil
	case "descendants":
		descend := funcExpr{name: "children"}
		out, err := descend.eval(env, focus)
		if err != nil {
			return nil, err
		}
		level := out
		for !level.Empty() {
			next, err := descend.eval(env, level)
			if err != nil {
				return nil, err
			}
			out = append(out, next...)
			level = next
		}
		return out, nil
	case "hasValue":
		single, ok := focus.Singleton()
		return boolCol(ok && single.PrimitiveValue() != nil), nil
	case "trace":
		return focus, nil
	case "toString":
		single, ok := focus.Singleton()
		if !ok {
			return nil, nil
		}
		if v := single.PrimitiveValue(); v != nil {
			return Collection{ItemOfValue(String(v.AsString()))}, nil
		}
		return nil, nil
	case "toInteger":
		single, ok := focus.Singleton()
		if !ok {
			return nil, nil
		}
		switch v := single.PrimitiveValue().(type) {
		case Integer:
			return Collection{single}, nil
		case String:
			if n, err := strconv.ParseInt(string(v), 10, 64); err == nil {
				return Collection{ItemOfValue(Integer(n))}, nil
			}
			return nil, nil
		case Boolean:
			if v {
				return Collection{ItemOfValue(Integer(1))}, nil
			}
			return Collection{ItemOfValue(Integer(0))}, nil
		}
		return nil, nil
	case "length":
		s, ok, err := focusString(focus)
		if err != nil || !ok {
			return nil, err
		}
		return Collection{ItemOfValue(Integer(len(s)))}, nil
	case "matches":
		s, ok, err := focusString(focus)
		if err != nil || !ok {
			return nil, err
		}
		pattern, err := f.stringArg(env, focus)
		if err != nil {
			return nil, err
		}
		re, err := compiledRegex(pattern)
		if err != nil {
			return nil, err
		}
		return boolCol(re.MatchString(s)), nil
	case "startsWith", "endsWith", "contains":
		s, ok, err := focusString(focus)
		if err != nil || !ok {
			return nil, err
		}
		arg, err := f.stringArg(env, focus)
		if err != nil {
			return nil, err
		}
		switch f.name {
		case "startsWith":
			return boolCol(strings.HasPrefix(s, arg)), nil
		case "endsWith":
			return boolCol(strings.HasSuffix(s, arg)), nil
		default:
			return boolCol(strings.Contains(s, arg)), nil
		}
	case "substring":
		s, ok, err := focusString(focus)
		if err != nil || !ok {
			return nil, err
		}
		if len(f.args) < 1 || len(f.args) > 2 {
			return nil, fmt.Errorf("fhirpath: substring takes 1 or 2 arguments")
		}
		start, err := f.intArgAt(env, focus, 0)
		if err != nil {
			return nil, err
		}
		if start < 0 || int(start) >= len(s) {
			return nil, nil
		}
		end := len(s)
		if len(f.args) == 2 {
			n, err := f.intArgAt(env, focus, 1)
			if err != nil {
				return nil, err
			}
			if int(start)+int(n) < end {
				end = int(start) + int(n)
			}
		}
		return Collection{ItemOfValue(String(s[start:end]))}, nil
	case "union", "combine":
		if len(f.args) != 1 {
			return nil, fmt.Errorf("fhirpath: %s takes one argument", f.name)
		}
		other, err := f.args[0].eval(env, focus)
		if err != nil {
			return nil, err
		}
		if f.name == "combine" {
			return append(append(Collection{}, focus...), other...), nil
		}
		return union(env, focus, other), nil
	case "iif":
		if len(f.args) != 2 && len(f.args) != 3 {
			return nil, fmt.Errorf("fhirpath: iif takes 2 or 3 arguments")
		}
		cond, err := f.args[0].eval(env, focus)
		if err != nil {
			return nil, err
		}
		if b := cond.BooleanOrNil(); b != nil && *b {
			return f.args[1].eval(env, focus)
		}
		if len(f.args) == 3 {
			return f.args[2].eval(env, focus)
		}
		return nil, nil
	}
	return nil, fmt.Errorf("fhirpath: unknown function %q", f.name)
}

func (f funcExpr) filter(env *Env, focus Collection) (Collection, error) {
	if len(f.args) != 1 {
		return nil, fmt.Errorf("fhirpath: %s() takes one criteria", f.name)
	}
	var out Collection
	for _, item := range focus {
		ok, err := f.testItem(env, item)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f funcExpr) testItem(env *Env, item Item) (bool, error) {
	result, err := f.args[0].eval(env, Collection{item})
	if err != nil {
		return false, err
	}
	b := result.BooleanOrNil()
	return b != nil && *b, nil
}

// typeArg extracts the type-name argument of ofType/is/as, which parses
// as a bare (possibly dotted) identifier.
func (f funcExpr) typeArg() (string, error) {
	if len(f.args) != 1 {
		return "", fmt.Errorf("fhirpath: %s() takes one type argument", f.name)
	}
	return typeNameOf(f.args[0])
}

func typeNameOf(n exprNode) (string, error) {
	switch arg := n.(type) {
	case identExpr:
		return arg.name, nil
	case pathExpr:
		l, err := typeNameOf(arg.left)
		if err != nil {
			return "", err
		}
		r, err := typeNameOf(arg.right)
		if err != nil {
			return "", err
		}
		return l + "." + r, nil
	}
	return "", fmt.Errorf("fhirpath: type name expected")
}

func (f funcExpr) stringArg(env *Env, focus Collection) (string, error) {
	if len(f.args) < 1 {
		return "", fmt.Errorf("fhirpath: %s() requires an argument", f.name)
	}
	col, err := f.args[0].eval(env, focus)
	if err != nil {
		return "", err
	}
	single, ok := col.Singleton()
	if !ok {
		return "", fmt.Errorf("fhirpath: %s() requires a string argument", f.name)
	}
	v := single.PrimitiveValue()
	if v == nil {
		return "", fmt.Errorf("fhirpath: %s() requires a string argument", f.name)
	}
	return v.AsString(), nil
}

func (f funcExpr) intArgAt(env *Env, focus Collection, i int) (Integer, error) {
	col, err := f.args[i].eval(env, focus)
	if err != nil {
		return 0, err
	}
	single, ok := col.Singleton()
	if !ok {
		return 0, fmt.Errorf("fhirpath: %s() requires an integer argument", f.name)
	}
	n, ok := single.PrimitiveValue().(Integer)
	if !ok {
		return 0, fmt.Errorf("fhirpath: %s() requires an integer argument", f.name)
	}
	return n, nil
}

func boolCol(b bool) Collection {
	return Collection{ItemOfValue(Boolean(b))}
}

func focusString(focus Collection) (string, bool, error) {
	if focus.Empty() {
		return "", false, nil
	}
	single, ok := focus.Singleton()
	if !ok {
		return "", false, fmt.Errorf("fhirpath: string function requires a singleton")
	}
	v := single.PrimitiveValue()
	if v == nil {
		return "", false, nil
	}
	return v.AsString(), true, nil
}

// referenceString extracts Reference.reference from a Reference node or
// accepts a plain string item.
func referenceString(item Item) string {
	if v := item.PrimitiveValue(); v != nil {
		return v.AsString()
	}
	if item.Node == nil {
		return ""
	}
	for _, ref := range item.Node.Children("reference") {
		if v := ref.Value(); v != nil {
			return v.AsString()
		}
	}
	return ""
}
