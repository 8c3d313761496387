// Package value implements the tagged Value union shared by the compiler,
// the virtual machine, and the environment: an Empty unit, a Flat string, or
// a Long ordered sequence of Values.
package value

import "strings"

// Kind tags the active variant of a Value.
type Kind int

// The three Value variants.
const (
	Empty Kind = iota
	Flat
	Long
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "Empty"
	case Flat:
		return "Flat"
	case Long:
		return "Long"
	default:
		return "Kind(?)"
	}
}

// Value is an immutable tagged union: Empty carries nothing, Flat carries a
// string, Long carries an ordered list of Values.
type Value struct {
	kind Kind
	text string
	list []Value
}

// NewEmpty returns the Empty value.
func NewEmpty() Value { return Value{kind: Empty} }

// NewFlat returns a Flat value wrapping s.
func NewFlat(s string) Value { return Value{kind: Flat, text: s} }

// NewLong returns a Long value wrapping vs. The slice is copied.
func NewLong(vs ...Value) Value {
	list := make([]Value, len(vs))
	copy(list, vs)
	return Value{kind: Long, list: list}
}

// Kind returns v's active variant.
func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether v is the Empty variant.
func (v Value) IsEmpty() bool { return v.kind == Empty }

// Text returns v's string payload; it is only meaningful when Kind() == Flat.
func (v Value) Text() string { return v.text }

// List returns v's element payload; it is only meaningful when Kind() == Long.
// The returned slice must not be mutated by the caller.
func (v Value) List() []Value { return v.list }

// Len returns the number of elements for Long, 0 otherwise.
func (v Value) Len() int { return len(v.list) }

// Equal reports structural equality between v and o.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case Empty:
		return true
	case Flat:
		return v.text == o.text
	case Long:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Flatten joins the pre-order traversal of Flats in v with sep, contributing
// nothing for Empty values.
func (v Value) Flatten(sep string) string {
	var b strings.Builder
	first := true
	v.flattenInto(&b, sep, &first)
	return b.String()
}

func (v Value) flattenInto(b *strings.Builder, sep string, first *bool) {
	switch v.kind {
	case Empty:
	case Flat:
		if !*first {
			b.WriteString(sep)
		}
		*first = false
		b.WriteString(v.text)
	case Long:
		for _, e := range v.list {
			e.flattenInto(b, sep, first)
		}
	}
}

// FlattenPairs flattens a Long of two-element Longs (key/value pairs) using
// outer to join pairs and inner to join each pair's two components. Non-pair
// elements are flattened with inner alone.
func FlattenPairs(v Value, outer, inner string) string {
	if v.kind != Long {
		return v.Flatten(inner)
	}
	var b strings.Builder
	for _, e := range v.list {
		if b.Len() > 0 {
			b.WriteString(outer)
		}
		if e.kind == Long && len(e.list) == 2 {
			b.WriteString(e.list[0].Flatten(inner))
			b.WriteString(inner)
			b.WriteString(e.list[1].Flatten(inner))
		} else {
			b.WriteString(e.Flatten(inner))
		}
	}
	return b.String()
}

// Append implements the §4.1.1 Get/append value-combination rule: combine
// top-of-stack y onto current front value x, returning the new CFV.
func Append(x, y Value) Value {
	switch y.kind {
	case Empty:
		return x
	case Long:
		switch x.kind {
		case Long:
			return NewLong(append(append([]Value{}, x.list...), y.list...)...)
		case Flat:
			return NewLong(append([]Value{x}, y.list...)...)
		default: // Empty
			return NewLong(y.list...)
		}
	case Flat:
		switch x.kind {
		case Long:
			return NewLong(append(append([]Value{}, x.list...), y)...)
		case Flat:
			return NewLong(x, y)
		default: // Empty
			return y
		}
	}
	return x
}
