// Package machine implements Feline's runtime: the tagged Value
// representation, the heap-object model, the module registry, the
// dispatch-loop virtual machine, and its tracing mark-sweep garbage
// collector. It consumes *compiler.Function/Chunk values produced by
// lang/compiler and never the reverse, which is what lets the compiler
// package stay free of any machine import.
package machine

import "fmt"

// Kind distinguishes the four Value variants of spec.md §3: null, boolean,
// number, and object (a heap reference).
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindObject
)

// Value is Feline's tagged union. Rather than an interface (the teacher's
// own value model is a set of small capability interfaces — Callable,
// Ordered, HasEqual, and so on, with Go's own GC managing storage), Feline
// needs a concrete representation so the garbage collector can walk a
// uniform heap-object header; a tagged struct is the idiomatic Go shape for
// that, and is how the rest of this package treats Value throughout.
type Value struct {
	kind Kind
	num  float64
	obj  Obj
}

var Null = Value{kind: KindNull}

func Bool(b bool) Value {
	n := 0.0
	if b {
		n = 1
	}
	return Value{kind: KindBool, num: n}
}

func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

func FromObject(o Obj) Value { return Value{kind: KindObject, obj: o} }

func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) IsBool() bool   { return v.kind == KindBool }
func (v Value) IsNumber() bool { return v.kind == KindNumber }
func (v Value) IsObject() bool { return v.kind == KindObject }

func (v Value) AsBool() bool      { return v.num != 0 }
func (v Value) AsNumber() float64 { return v.num }
func (v Value) AsObject() Obj     { return v.obj }

// Truthy implements Feline's truthiness rule: null and false are falsey,
// everything else (including 0 and the empty string) is truthy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.num != 0
	default:
		return true
	}
}

// Equal implements Value equality: numbers and booleans compare by value,
// null equals only null, and objects compare by reference identity — which,
// because every String is interned, makes string equality a pointer
// comparison (Invariant 1).
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool, KindNumber:
		return v.num == o.num
	case KindObject:
		return v.obj == o.obj
	}
	return false
}

// TypeName returns the Feline-level type name used in diagnostics.
func (v Value) TypeName() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindObject:
		return v.obj.objType()
	}
	return "unknown"
}

func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return fmt.Sprintf("%v", v.num != 0)
	case KindNumber:
		return formatNumber(v.num)
	case KindObject:
		return v.obj.String()
	}
	return "<invalid value>"
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) && n < 1e15 && n > -1e15 {
		return fmt.Sprintf("%d", int64(n))
	}
	return fmt.Sprintf("%g", n)
}
