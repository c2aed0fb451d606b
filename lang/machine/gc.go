package machine

import (
	"fmt"
	"os"

	"github.com/felinelang/feline/lang/intern"
)

// collectGarbage runs one tri-color mark-sweep cycle (spec.md §4.5):
// mark every root, trace (blacken) reachable objects from a grey worklist,
// drop interned strings whose backing object didn't survive, then sweep
// the all-objects list freeing anything left unmarked.
func (vm *VM) collectGarbage() {
	var grey []Obj

	mark := func(o Obj) {
		if o == nil {
			return
		}
		h := o.header()
		if h.marked {
			return
		}
		h.marked = true
		grey = append(grey, o)
	}
	markValue := func(v Value) {
		if v.IsObject() {
			mark(v.AsObject())
		}
	}

	// Roots: operand stack, frame closures, open upvalues, every module's
	// globals/exports/name data, the native-library table, interned
	// internal classes, and the in-flight exception value.
	for _, v := range vm.stack {
		markValue(v)
	}
	for i := range vm.frames {
		mark(vm.frames[i].closure)
	}
	for u := vm.openUpvalues; u != nil; u = u.Next {
		mark(u)
	}
	for m := vm.modules; m != nil; m = m.Next {
		m.Globals.Iter(func(_ string, v Value) bool { markValue(v); return false })
		m.Exports.Iter(func(_ string, v Value) bool { markValue(v); return false })
	}
	for _, lib := range vm.libraries {
		mark(lib)
	}
	markValue(vm.exception)
	if vm.b != nil {
		mark(vm.b.object)
		mark(vm.b.importClass)
		mark(vm.b.exception)
		mark(vm.b.typeException)
		mark(vm.b.arityException)
		mark(vm.b.propertyException)
		mark(vm.b.indexRangeException)
		mark(vm.b.undefinedVariableException)
		mark(vm.b.stackOverflowException)
		mark(vm.b.linkFailureException)
		mark(vm.b.valueException)
	}

	// Trace: blacken each grey object by marking what it references.
	for len(grey) > 0 {
		o := grey[len(grey)-1]
		grey = grey[:len(grey)-1]
		vm.blacken(o, mark, markValue)
	}

	// Weak strings: drop any interned entry whose backing String object
	// wasn't marked live, so it can be swept below, and forget our own
	// Entry→String handle for it.
	var dead []*intern.Entry
	vm.strings.RemoveIf(func(e *intern.Entry) bool {
		s, ok := vm.stringObjects[e]
		live := ok && s.header().marked
		if !live {
			dead = append(dead, e)
		}
		return live
	})
	for _, e := range dead {
		delete(vm.stringObjects, e)
	}

	vm.sweep()
	if vm.bytesAllocated > vm.nextGC {
		vm.nextGC = vm.bytesAllocated * 2
	} else {
		vm.nextGC *= 2
	}
	if vm.cfg.LogGC {
		fmt.Fprintf(os.Stderr, "gc: %d bytes live, next collection at %d\n", vm.bytesAllocated, vm.nextGC)
	}
}

func (vm *VM) blacken(o Obj, mark func(Obj), markValue func(Value)) {
	switch t := o.(type) {
	case *String:
		// no references
	case *Function:
		if t.Name != nil {
			mark(t.Name)
		}
	case *Closure:
		mark(t.Fn)
		for _, u := range t.Upvalues {
			if u != nil {
				mark(u)
			}
		}
	case *Upvalue:
		if !t.Open {
			markValue(t.Closed)
		}
	case *Native:
		// no Go-level references worth tracing
	case *Class:
		mark(t.Name)
		if t.Superclass != nil {
			mark(t.Superclass)
		}
		t.Methods.Iter(func(_ string, v Value) bool { markValue(v); return false })
	case *Instance:
		mark(t.Class)
		t.Fields.Iter(func(_ string, v Value) bool { markValue(v); return false })
	case *BoundMethod:
		markValue(t.Receiver)
		markValue(t.Method)
	case *List:
		for _, v := range t.Items {
			markValue(v)
		}
	case *NativeLibrary:
		// no object references
	}
}

// sweep traverses the allocator's intrusive object list, freeing anything
// left unmarked (closing dynamic libraries for NativeLibrary, per spec.md
// §4.5) and clearing marks on survivors.
func (vm *VM) sweep() {
	var prev Obj
	cur := vm.allObjects
	for cur != nil {
		h := cur.header()
		next := h.next
		if h.marked {
			h.marked = false
			prev = cur
		} else {
			if lib, ok := cur.(*NativeLibrary); ok && !lib.Closed {
				if l, ok := vm.ffiLibs[lib.Path]; ok {
					l.Close()
				}
				lib.Closed = true
				delete(vm.libraries, lib.Path)
				delete(vm.ffiLibs, lib.Path)
			}
			if prev == nil {
				vm.allObjects = next
			} else {
				prev.header().next = next
			}
			vm.bytesAllocated -= objectSize(cur)
		}
		cur = next
	}
}
