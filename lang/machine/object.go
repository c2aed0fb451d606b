package machine

import (
	"fmt"

	"github.com/dolthub/swiss"

	"github.com/felinelang/feline/lang/compiler"
)

// ObjKind enumerates the heap object kinds. The header carries a kind field
// of this type, but nothing in this package sets or reads it: the collector's
// blacken and sweep dispatch on the Go type of each object instead.
type ObjKind uint8

const (
	ObjString ObjKind = iota
	ObjFunction
	ObjClosure
	ObjUpvalue
	ObjNative
	ObjClass
	ObjInstance
	ObjBoundMethod
	ObjList
	ObjNativeLibrary
)

// Obj is implemented by every heap object kind. header() exposes the shared
// allocator bookkeeping (kind tag, mark bit, intrusive next pointer) that
// spec.md §3 requires every heap object to carry.
type Obj interface {
	fmt.Stringer
	objType() string
	header() *objHeader
}

type objHeader struct {
	kind   ObjKind
	marked bool
	next   Obj
}

func (h *objHeader) header() *objHeader { return h }

// String is an immutable, interned byte sequence with a cached FNV-1a hash.
type String struct {
	objHeader
	Value string
	Hash  uint32
}

func (s *String) String() string  { return s.Value }
func (s *String) objType() string { return "string" }

// Function is the heap wrapper around a compiler.Function: the compiled
// bytecode is pure compile-time data (so lang/compiler never imports this
// package); the VM wraps it in a new Function object each time a CLOSURE
// instruction loads the constant (and once for a top-level script).
type Function struct {
	objHeader
	Proto *compiler.Function
	Name  *String
}

func (f *Function) String() string {
	if f.Proto.Name == "" {
		return "<function>"
	}
	return "<function " + f.Proto.Name + ">"
}
func (f *Function) objType() string { return "function" }

// Upvalue is either open (Position indexes a live operand-stack slot) or
// closed (Open is false and Closed owns the value). Indexing by position
// rather than holding a *Value lets the VM's operand stack grow by
// reallocation without invalidating any outstanding upvalue. Open upvalues
// form a singly linked list through Next, kept sorted by descending stack
// position by the VM (Invariant 3).
type Upvalue struct {
	objHeader
	Position int
	Open     bool
	Closed   Value
	Next     *Upvalue
}

func (u *Upvalue) String() string  { return "<upvalue>" }
func (u *Upvalue) objType() string { return "upvalue" }

// Closure pairs a Function with its captured upvalues and the module it was
// created in, so global reads inside it resolve against that module's
// table even when invoked from a different module's frame (e.g. an
// imported function called by the importer).
type Closure struct {
	objHeader
	Fn       *Function
	Upvalues []*Upvalue
	Module   *Module
}

func (c *Closure) String() string  { return c.Fn.String() }
func (c *Closure) objType() string { return "function" }

// NativeFn is a host-implemented callable resolved via the FFI loader.
type NativeFn func(vm *VM, argc int, argv []Value) (Value, error)

// Native wraps a host-implemented callable: a dynamic-library symbol resolved
// by NATIVE/CLASS_NATIVE, or one of the Go built-ins (clock, len, list and
// object methods). It carries no receiver of its own; a method receiver
// reaches it through the call window's slot 0 when IsMethod is set.
type Native struct {
	objHeader
	Name     string
	Arity    int
	Fn       NativeFn
	IsMethod bool // resolved via CLASS_NATIVE: the call window's receiver slot is passed as argv[0]
}

func (n *Native) String() string  { return "<native " + n.Name + ">" }
func (n *Native) objType() string { return "native" }

// Class has a name, an inherited-then-overridden method table (string name
// to a Closure or Native Value), and an optional superclass link for
// instanceof chain walking.
type Class struct {
	objHeader
	Name       *String
	Methods    *swiss.Map[string, Value]
	Superclass *Class
}

func (c *Class) String() string  { return "<class " + c.Name.Value + ">" }
func (c *Class) objType() string { return "class" }

func newClass(name *String) *Class {
	return &Class{Name: name, Methods: swiss.NewMap[string, Value](8)}
}

// Instance is a class-bound field table. NativeData is the opaque handle FFI
// native methods may attach via the host's instance-data contract
// (spec.md §6 "attach/fetch opaque instance data").
type Instance struct {
	objHeader
	Class      *Class
	Fields     *swiss.Map[string, Value]
	NativeData any
}

func (i *Instance) String() string  { return "<" + i.Class.Name.Value + " instance>" }
func (i *Instance) objType() string { return i.Class.Name.Value }

func newInstance(class *Class) *Instance {
	return &Instance{Class: class, Fields: swiss.NewMap[string, Value](4)}
}

// BoundMethod pairs a receiver with the Closure or Native it was read off
// of, produced by GET_PROP/GET_SUPER when a name resolves to a method
// rather than a field.
type BoundMethod struct {
	objHeader
	Receiver Value
	Method   Value
}

func (b *BoundMethod) String() string  { return "<bound method>" }
func (b *BoundMethod) objType() string { return "function" }

// List is Feline's single growable sequence type.
type List struct {
	objHeader
	Items []Value
}

func (l *List) String() string {
	s := "["
	for i, v := range l.Items {
		if i > 0 {
			s += ", "
		}
		s += v.String()
	}
	return s + "]"
}
func (l *List) objType() string { return "list" }

// NativeLibrary is an opaque handle to a dynamic library opened by the FFI
// loader. It is closed during sweep once it becomes unreachable
// (spec.md §6 "scoped acquisition").
type NativeLibrary struct {
	objHeader
	Path   string
	Handle uintptr
	Closed bool
}

func (n *NativeLibrary) String() string  { return "<library " + n.Path + ">" }
func (n *NativeLibrary) objType() string { return "library" }
