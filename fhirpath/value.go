package fhirpath

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Value is a FHIRPath primitive value.
type Value interface {
	// TypeName is the FHIRPath system type ("String", "Integer", ...).
	TypeName() string
	// AsString is the canonical string form used for messages and
	// code-binding checks.
	AsString() string
	// Equal implements FHIRPath equality (=) between primitives of
	// compatible types. Returns (result, comparable); incomparable pairs
	// yield (false, false) which propagates as empty.
	Equal(other Value) (bool, bool)
}

// String is a FHIRPath string value.
type String string

func (s String) TypeName() string { return "String" }
func (s String) AsString() string { return string(s) }
func (s String) Equal(other Value) (bool, bool) {
	o, ok := other.(String)
	return ok && s == o, ok
}

// Boolean is a FHIRPath boolean value.
type Boolean bool

func (b Boolean) TypeName() string { return "Boolean" }
func (b Boolean) AsString() string {
	if b {
		return "true"
	}
	return "false"
}
func (b Boolean) Equal(other Value) (bool, bool) {
	o, ok := other.(Boolean)
	return ok && b == o, ok
}

// Integer is a FHIRPath integer value.
type Integer int64

func (i Integer) TypeName() string { return "Integer" }
func (i Integer) AsString() string { return decimal.NewFromInt(int64(i)).String() }
func (i Integer) Equal(other Value) (bool, bool) {
	switch o := other.(type) {
	case Integer:
		return i == o, true
	case Decimal:
		return decimal.NewFromInt(int64(i)).Equal(decimal.Decimal(o)), true
	}
	return false, false
}

// Decimal is a FHIRPath decimal value backed by arbitrary-precision
// arithmetic.
type Decimal decimal.Decimal

func (d Decimal) TypeName() string { return "Decimal" }
func (d Decimal) AsString() string { return decimal.Decimal(d).String() }
func (d Decimal) Equal(other Value) (bool, bool) {
	switch o := other.(type) {
	case Decimal:
		return decimal.Decimal(d).Equal(decimal.Decimal(o)), true
	case Integer:
		return decimal.Decimal(d).Equal(decimal.NewFromInt(int64(o))), true
	}
	return false, false
}

// Date, DateTime and Time keep the lexical form; comparison works on the
// lexical strings as given, without timezone or precision normalization;
// partial dates compare by prefix.
type Date string

func (d Date) TypeName() string { return "Date" }
func (d Date) AsString() string { return string(d) }
func (d Date) Equal(other Value) (bool, bool) {
	o, ok := other.(Date)
	if !ok {
		return false, false
	}
	return temporalEqual(string(d), string(o))
}

// DateTime is a FHIRPath dateTime value.
type DateTime string

func (d DateTime) TypeName() string { return "DateTime" }
func (d DateTime) AsString() string { return string(d) }
func (d DateTime) Equal(other Value) (bool, bool) {
	o, ok := other.(DateTime)
	if !ok {
		return false, false
	}
	return temporalEqual(string(d), string(o))
}

// Time is a FHIRPath time value.
type Time string

func (t Time) TypeName() string { return "Time" }
func (t Time) AsString() string { return string(t) }
func (t Time) Equal(other Value) (bool, bool) {
	o, ok := other.(Time)
	if !ok {
		return false, false
	}
	return string(t) == string(o), true
}

// temporalEqual compares two temporal lexical forms. Differing precision
// yields incomparable (empty result) per the FHIRPath specification.
func temporalEqual(a, b string) (bool, bool) {
	if len(a) == len(b) {
		return a == b, true
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	if strings.HasPrefix(long, short) {
		return false, false
	}
	return false, true
}

// Quantity is a FHIRPath quantity: a decimal value with a unit.
type Quantity struct {
	Value decimal.Decimal
	Unit  string
}

func (q Quantity) TypeName() string { return "Quantity" }
func (q Quantity) AsString() string { return q.Value.String() + " '" + q.Unit + "'" }
func (q Quantity) Equal(other Value) (bool, bool) {
	o, ok := other.(Quantity)
	if !ok {
		return false, false
	}
	if q.Unit != o.Unit {
		return false, false
	}
	return q.Value.Equal(o.Value), true
}
