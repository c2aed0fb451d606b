package machine

import (
	"sort"
	"time"
)

// seedBuiltinFunctions installs the handful of always-available global
// natives every fresh module needs (`clock`, `len`), ported from
// original_source/src/vm.c's clockNative/lenNative. Unlike FFI-resolved
// natives these are implemented directly in Go — there is no sibling
// dynamic library for the language's own built-ins.
func (vm *VM) seedBuiltinFunctions(m *Module) {
	install := func(name string, arity int, fn NativeFn) {
		n := &Native{Name: name, Arity: arity, Fn: fn}
		vm.registerObject(n)
		m.Globals.Put(name, FromObject(n))
	}
	install("clock", 0, nativeClock)
	install("len", 1, nativeLen)
}

var vmStart = time.Now()

// nativeClock returns elapsed seconds as a float, mirroring clockNative's
// `(double)clock() / 1000` (seconds, not the original's truncated
// CLOCKS_PER_SEC/1000 approximation — Go has no direct clock() analogue, so
// wall-clock elapsed time since process start is the faithful substitute).
func nativeClock(vm *VM, argc int, argv []Value) (Value, error) {
	return Number(time.Since(vmStart).Seconds()), nil
}

// nativeLen mirrors lenNative: length of a list or a string, null for
// anything else (the original never raises for a wrong-typed argument
// either — spec.md §9 carries this forward unchanged).
func nativeLen(vm *VM, argc int, argv []Value) (Value, error) {
	if argc == 0 {
		return Null, nil
	}
	switch o := argv[0].AsObject().(type) {
	case *List:
		return Number(float64(len(o.Items))), nil
	case *String:
		return Number(float64(len(o.Value))), nil
	default:
		return Null, nil
	}
}

// callCallback invokes fn (a Closure, Native, or BoundMethod) with args
// already evaluated, the way original_source/src/builtin/listnatives.c's
// callFromNative drives a user-supplied callback from inside a native. A
// Closure needs a fresh frame driven to completion by vm.run(); a Native
// (or a BoundMethod wrapping one) already leaves its result on the stack
// when vm.call returns, so run() is only invoked when a frame was actually
// pushed.
func (vm *VM) callCallback(fn Value, args ...Value) (Value, error) {
	if !fn.IsObject() {
		return Value{}, vm.raiseType("expected function as callback")
	}
	switch fn.AsObject().(type) {
	case *Closure, *Native, *BoundMethod:
	default:
		return Value{}, vm.raiseType("expected function as callback")
	}
	framesBefore := len(vm.frames)
	vm.push(fn)
	for _, a := range args {
		vm.push(a)
	}
	if err := vm.call(fn, len(args)); err != nil {
		return Value{}, err
	}
	if len(vm.frames) > framesBefore {
		if err := vm.run(); err != nil {
			return Value{}, err
		}
	}
	return vm.pop(), nil
}

// listMethods are the built-in methods available on every List value,
// ported from original_source/src/builtin/listnatives.c's 18 natives
// (defineListClass). Unlike FFI natives, these are plain Go closures —
// lists have no sibling dynamic library to resolve symbols against.
var listMethods = map[string]func(vm *VM, l *List, args []Value) (Value, error){
	"length": func(vm *VM, l *List, args []Value) (Value, error) {
		return Number(float64(len(l.Items))), nil
	},
	"push": func(vm *VM, l *List, args []Value) (Value, error) {
		l.Items = append(l.Items, args...)
		return Null, nil
	},
	"pop": func(vm *VM, l *List, args []Value) (Value, error) {
		if len(l.Items) == 0 {
			return Null, vm.raiseIndexRange("pop from empty list")
		}
		v := l.Items[len(l.Items)-1]
		l.Items = l.Items[:len(l.Items)-1]
		return v, nil
	},
	"clear": func(vm *VM, l *List, args []Value) (Value, error) {
		l.Items = l.Items[:0]
		return Null, nil
	},
	"concat": func(vm *VM, l *List, args []Value) (Value, error) {
		other, ok := args[0].AsObject().(*List)
		if !args[0].IsObject() || !ok {
			return Null, vm.raiseType("expected list to concat")
		}
		out := &List{Items: append(append([]Value{}, l.Items...), other.Items...)}
		vm.registerObject(out)
		return FromObject(out), nil
	},
	"extend": func(vm *VM, l *List, args []Value) (Value, error) {
		other, ok := args[0].AsObject().(*List)
		if !args[0].IsObject() || !ok {
			return Null, vm.raiseType("expected list to extend from")
		}
		l.Items = append(l.Items, other.Items...)
		return Null, nil
	},
	"fill": func(vm *VM, l *List, args []Value) (Value, error) {
		for i := range l.Items {
			l.Items[i] = args[0]
		}
		return FromObject(l), nil
	},
	// ofLength mirrors listOfLengthNative's two-tier validation: a
	// non-number first argument is a TypeException, a non-integer one
	// (e.g. 2.5) is a ValueException.
	"ofLength": func(vm *VM, l *List, args []Value) (Value, error) {
		if !args[0].IsNumber() {
			return Null, vm.raiseType("expected number as first argument in ofLength")
		}
		if f := args[0].AsNumber(); f != float64(int64(f)) {
			return Null, vm.raiseValue("expected integer as first argument in ofLength")
		}
		n := int(args[0].AsNumber())
		if n < 0 {
			n = len(l.Items) + n
			if n < 0 {
				n = 0
			}
		}
		items := make([]Value, n)
		for i := range items {
			if i < len(l.Items) {
				items[i] = l.Items[i]
			} else {
				items[i] = Null
			}
		}
		out := &List{Items: items}
		vm.registerObject(out)
		return FromObject(out), nil
	},
	"indexOf": func(vm *VM, l *List, args []Value) (Value, error) {
		for i, item := range l.Items {
			if item.Equal(args[0]) {
				return Number(float64(i)), nil
			}
		}
		return Number(-1), nil
	},
	"lastIndexOf": func(vm *VM, l *List, args []Value) (Value, error) {
		for i := len(l.Items) - 1; i >= 0; i-- {
			if l.Items[i].Equal(args[0]) {
				return Number(float64(i)), nil
			}
		}
		return Number(-1), nil
	},
	"reverse": func(vm *VM, l *List, args []Value) (Value, error) {
		items := make([]Value, len(l.Items))
		for i, v := range l.Items {
			items[len(items)-1-i] = v
		}
		out := &List{Items: items}
		vm.registerObject(out)
		return FromObject(out), nil
	},
	"any": func(vm *VM, l *List, args []Value) (Value, error) {
		for i, item := range l.Items {
			pass, err := vm.callCallback(args[0], item, Number(float64(i)), FromObject(l))
			if err != nil {
				return Null, err
			}
			if pass.Truthy() {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	},
	"every": func(vm *VM, l *List, args []Value) (Value, error) {
		for i, item := range l.Items {
			pass, err := vm.callCallback(args[0], item, Number(float64(i)), FromObject(l))
			if err != nil {
				return Null, err
			}
			if !pass.Truthy() {
				return Bool(false), nil
			}
		}
		return Bool(true), nil
	},
	"filter": func(vm *VM, l *List, args []Value) (Value, error) {
		out := &List{}
		vm.registerObject(out)
		for i, item := range l.Items {
			pass, err := vm.callCallback(args[0], item, Number(float64(i)), FromObject(l))
			if err != nil {
				return Null, err
			}
			if pass.Truthy() {
				out.Items = append(out.Items, item)
			}
		}
		return FromObject(out), nil
	},
	"map": func(vm *VM, l *List, args []Value) (Value, error) {
		out := &List{Items: make([]Value, 0, len(l.Items))}
		vm.registerObject(out)
		for i, item := range l.Items {
			mapped, err := vm.callCallback(args[0], item, Number(float64(i)), FromObject(l))
			if err != nil {
				return Null, err
			}
			out.Items = append(out.Items, mapped)
		}
		return FromObject(out), nil
	},
	"forEach": func(vm *VM, l *List, args []Value) (Value, error) {
		for i, item := range l.Items {
			if _, err := vm.callCallback(args[0], item, Number(float64(i)), FromObject(l)); err != nil {
				return Null, err
			}
		}
		return Null, nil
	},
	"reduce": func(vm *VM, l *List, args []Value) (Value, error) {
		if len(l.Items) == 0 {
			return Null, nil
		}
		acc := l.Items[0]
		for i := 1; i < len(l.Items); i++ {
			next, err := vm.callCallback(args[0], acc, l.Items[i], Number(float64(i)), FromObject(l))
			if err != nil {
				return Null, err
			}
			acc = next
		}
		return acc, nil
	},
	// sort mutates in place using Go's stable sort (sort.SliceStable)
	// rather than the original C implementation's hand-rolled,
	// documented-buggy mergeSort (spec.md §9). An optional comparator
	// callback, matching original_source's listSortNative, overrides the
	// default numeric/lexical ordering.
	"sort": func(vm *VM, l *List, args []Value) (Value, error) {
		items := l.Items
		if len(args) > 0 && args[0].IsObject() {
			var sortErr error
			sort.SliceStable(items, func(i, j int) bool {
				if sortErr != nil {
					return false
				}
				result, err := vm.callCallback(args[0], items[i], items[j])
				if err != nil {
					sortErr = err
					return false
				}
				return result.IsNumber() && result.AsNumber() < 0
			})
			if sortErr != nil {
				return Null, sortErr
			}
			return Null, nil
		}
		sort.SliceStable(items, func(i, j int) bool {
			return lessValue(items[i], items[j])
		})
		return Null, nil
	},
}

// lessValue orders numbers by magnitude and strings lexically; values of
// differing or unorderable kinds compare false both ways (a stable sort
// then leaves their relative order unchanged).
func lessValue(a, b Value) bool {
	if a.IsNumber() && b.IsNumber() {
		return a.AsNumber() < b.AsNumber()
	}
	as, aok := a.AsObject().(*String)
	bs, bok := b.AsObject().(*String)
	if a.IsObject() && aok && b.IsObject() && bok {
		return as.Value < bs.Value
	}
	return false
}

// bindListMethod produces a Native-wrapped bound method for GET_PROP/INVOKE
// on a List receiver, or ok=false if name isn't a recognized list method.
func (vm *VM) bindListMethod(l *List, name string) (Value, bool) {
	fn, ok := listMethods[name]
	if !ok {
		return Value{}, false
	}
	native := &Native{Name: name, Arity: -1, IsMethod: true, Fn: func(vm *VM, argc int, argv []Value) (Value, error) {
		return fn(vm, l, argv[1:])
	}}
	vm.registerObject(native)
	return FromObject(native), true
}

// objectMethods are the built-in methods available on object-literal
// instances (Class == vm.b.object), ported from
// original_source/src/builtin/objectclass.c's objectKeys/objectValues.
var objectMethods = map[string]func(vm *VM, inst *Instance, args []Value) (Value, error){
	"keys": func(vm *VM, inst *Instance, args []Value) (Value, error) {
		out := &List{}
		vm.registerObject(out)
		inst.Fields.Iter(func(key string, _ Value) bool {
			out.Items = append(out.Items, FromObject(vm.internString(key)))
			return false
		})
		return FromObject(out), nil
	},
	"values": func(vm *VM, inst *Instance, args []Value) (Value, error) {
		out := &List{}
		vm.registerObject(out)
		inst.Fields.Iter(func(_ string, v Value) bool {
			out.Items = append(out.Items, v)
			return false
		})
		return FromObject(out), nil
	},
}

// bindObjectMethod produces a Native-wrapped bound method for `keys`/`values`
// on an Object-literal instance (and anything that subclasses it), or
// ok=false otherwise — user-defined classes that don't extend Object aren't
// eligible, matching the original's method being defined only on the Object
// class and inherited through `extends`.
func (vm *VM) bindObjectMethod(inst *Instance, name string) (Value, bool) {
	isObject := false
	for c := inst.Class; c != nil; c = c.Superclass {
		if c == vm.b.object {
			isObject = true
			break
		}
	}
	if !isObject {
		return Value{}, false
	}
	fn, ok := objectMethods[name]
	if !ok {
		return Value{}, false
	}
	native := &Native{Name: name, Arity: -1, IsMethod: true, Fn: func(vm *VM, argc int, argv []Value) (Value, error) {
		return fn(vm, inst, argv[1:])
	}}
	vm.registerObject(native)
	return FromObject(native), true
}
