package machine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/felinelang/feline/lang/compiler"
	"github.com/felinelang/feline/lang/ffi"
	"github.com/felinelang/feline/lang/intern"
)

// MaxFrames is the logical call-depth cap; deeper calls throw
// StackOverflowException even though the backing slice could grow further
// (spec.md §4.4).
const MaxFrames = 1024

// errException is the sentinel returned by any VM helper that raised a
// Feline-level exception (vm.exception is already populated); the dispatch
// loop reacts to it by entering the UNWINDING state machine. Any other
// non-nil error indicates an unrecoverable host-level failure (e.g. a compile
// error in an imported module, or a cancelled Ctx) and aborts the run
// immediately.
var errException = errors.New("feline: exception raised")

// Config carries the tunables read from the environment by internal/config.
type Config struct {
	StressGC          bool
	LogGC             bool
	TraceInstructions bool
	MaxCallDepth      int

	// ModuleRoots are additional directories IMPORT searches, after the
	// importing module's own directory, when a relative import doesn't
	// resolve there.
	ModuleRoots []string
}

// VM is Feline's stack-based virtual machine: one growable operand stack,
// one growable (logically capped) frame stack, the intern table, the module
// list, the open-upvalue list, and the GC's allocation bookkeeping.
type VM struct {
	cfg Config

	// Ctx, when non-nil, is checked once per dispatched instruction so a
	// long-running script can be cancelled (e.g. by Ctrl-C via
	// mainer.CancelOnSignal in cmd/feline).
	Ctx context.Context

	stack  []Value
	frames []frame

	modules    *Module // head of the VM-wide module list (for GC roots)
	importCache map[string]Value

	openUpvalues *Upvalue // descending by stack position (Invariant 3)

	strings *intern.Table
	b       *builtins

	exception     Value
	hasException  bool
	stackTrace    *List // accumulated while unwinding; nil once handled or printed

	libraries map[string]*NativeLibrary
	ffiLibs   map[string]*ffi.Library

	handles    map[uint64]Obj
	handleIDs  map[Obj]uint64
	nextHandle uint64

	stringObjects map[*intern.Entry]*String

	// GC bookkeeping
	allObjects    Obj
	bytesAllocated int64
	nextGC         int64

	Out io.Writer
}

// New constructs a VM ready to run top-level modules.
func New(cfg Config) *VM {
	vm := &VM{
		cfg:         cfg,
		importCache: make(map[string]Value),
		strings:     intern.New(64),
		libraries:   make(map[string]*NativeLibrary),
		ffiLibs:     make(map[string]*ffi.Library),
		nextGC:      1024 * 1024,
		Out:         os.Stdout,
	}
	vm.b = newBuiltins(vm)
	return vm
}

// internString returns the canonical *String for s, creating and heap
// registering one if this is the first time s has been seen.
func (vm *VM) internString(s string) *String {
	e := vm.strings.Intern(s, func(s string) *intern.Entry {
		return &intern.Entry{Value: s, Hash: intern.FNV1a32(s)}
	})
	// The intern.Entry is a GC-agnostic handle; wrap it with a heap object
	// the first time through by stashing the *String on a side table keyed
	// by identity. Since Go string values with equal content always compare
	// equal, a direct map suffices here without re-touching the intern
	// table's own bookkeeping.
	if s2, ok := vm.stringObjects[e]; ok {
		return s2
	}
	str := &String{Value: s, Hash: e.Hash}
	vm.registerObject(str)
	if vm.stringObjects == nil {
		vm.stringObjects = make(map[*intern.Entry]*String)
	}
	vm.stringObjects[e] = str
	return str
}

// Run compiles and executes a top-level script as the main module. A
// non-nil error from compiler.Compile is returned unwrapped, so callers can
// distinguish a compile-time failure (spec.md §6 exit code 2) from a runtime
// *UncaughtException (exit code 4) with a single type assertion.
func (vm *VM) Run(source []byte, path, dir string) error {
	fn, err := compiler.Compile(source, path)
	if err != nil {
		return err
	}
	return vm.RunCompiled(fn, path, dir)
}

// RunCompiled executes an already-compiled top-level script as the main
// module, for callers (like cmd/feline) that need the compiled form before
// deciding whether to run it.
func (vm *VM) RunCompiled(fn *compiler.Function, path, dir string) error {
	mod := vm.newMainModule(path, dir)
	mod.Base = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	closure := vm.wrapFunction(fn, mod)
	vm.push(FromObject(closure))
	if err := vm.call(FromObject(closure), 0); err != nil {
		return err
	}
	if err := vm.run(); err != nil {
		if errors.Is(err, errException) {
			return vm.uncaughtError()
		}
		return err
	}
	return nil
}

func (vm *VM) newMainModule(name, dir string) *Module {
	m := newModule(name, dir)
	vm.seedGlobals(m)
	m.Next = vm.modules
	vm.modules = m
	return m
}

func (vm *VM) wrapFunction(fn *compiler.Function, mod *Module) *Closure {
	heapFn := &Function{Proto: fn}
	if fn.Name != "" {
		heapFn.Name = vm.internString(fn.Name)
	}
	vm.registerObject(heapFn)
	closure := &Closure{Fn: heapFn, Module: mod, Upvalues: make([]*Upvalue, fn.UpvalueCount)}
	vm.registerObject(closure)
	return closure
}

// --- operand stack ---

func (vm *VM) push(v Value)  { vm.stack = append(vm.stack, v) }
func (vm *VM) pop() Value {
	v := vm.stack[len(vm.stack)-1]
	vm.stack = vm.stack[:len(vm.stack)-1]
	return v
}
func (vm *VM) peek(distance int) Value { return vm.stack[len(vm.stack)-1-distance] }
func (vm *VM) truncate(n int)          { vm.stack = vm.stack[:n] }

func (vm *VM) curFrame() *frame { return &vm.frames[len(vm.frames)-1] }

// raise constructs an exception of class and begins unwinding.
func (vm *VM) raise(class *Class, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	vm.exception = vm.newException(class, msg)
	vm.hasException = true
	return errException
}

// throwValue begins unwinding with an arbitrary already-constructed value
// (used by the THROW opcode, which may throw any Value, not only
// Exception instances).
func (vm *VM) throwValue(v Value) error {
	vm.exception = v
	vm.hasException = true
	return errException
}

// call implements the calling convention of spec.md §4.4: callee followed by
// argc arguments sit on top of the stack.
func (vm *VM) call(callee Value, argc int) error {
	if !callee.IsObject() {
		return vm.raiseType("Non-callable type")
	}
	switch c := callee.AsObject().(type) {
	case *Closure:
		return vm.callClosure(c, argc)
	case *Class:
		inst := newInstance(c)
		vm.registerObject(inst)
		vm.stack[len(vm.stack)-argc-1] = FromObject(inst)
		if ctor, ok := lookupMethod(c, "new"); ok {
			return vm.callValueAsMethod(ctor, argc)
		}
		if argc != 0 {
			return vm.raiseArity("expected 0 arguments but got %d", argc)
		}
		return nil
	case *BoundMethod:
		vm.stack[len(vm.stack)-argc-1] = c.Receiver
		return vm.callValueAsMethod(c.Method, argc)
	case *Native:
		return vm.callNative(c, argc)
	default:
		return vm.raiseType("Non-callable type")
	}
}

// callValueAsMethod dispatches a resolved method Value (Closure or Native)
// once its receiver is already installed at the call window's slot 0.
func (vm *VM) callValueAsMethod(v Value, argc int) error {
	obj := v.AsObject()
	switch m := obj.(type) {
	case *Closure:
		return vm.callClosure(m, argc)
	case *Native:
		return vm.callNative(m, argc)
	default:
		return vm.raiseType("Non-callable type")
	}
}

func (vm *VM) callClosure(c *Closure, argc int) error {
	if argc != c.Fn.Proto.Arity {
		return vm.raiseArity("expected %d arguments but got %d", c.Fn.Proto.Arity, argc)
	}
	maxFrames := vm.cfg.MaxCallDepth
	if maxFrames <= 0 {
		maxFrames = MaxFrames
	}
	if len(vm.frames) >= maxFrames {
		return vm.raiseStackOverflow("stack overflow")
	}
	vm.frames = append(vm.frames, frame{
		closure:     c,
		slotsOffset: len(vm.stack) - argc - 1,
	})
	return nil
}

func (vm *VM) callNative(n *Native, argc int) error {
	// The call window's slot 0 holds either the Native callable itself
	// (plain module-level native) or the bound receiver (CLASS_NATIVE
	// method, installed there the same way callClosure's "this" slot is).
	// Only the method case feeds it to argv.
	windowBase := len(vm.stack) - argc - 1
	var argv []Value
	if n.IsMethod {
		argv = make([]Value, argc+1)
		copy(argv, vm.stack[windowBase:])
	} else {
		argv = make([]Value, argc)
		copy(argv, vm.stack[windowBase+1:])
	}
	base := windowBase
	if n.Arity >= 0 && argc != n.Arity {
		return vm.raiseArity("expected %d arguments but got %d", n.Arity, argc)
	}
	result, err := n.Fn(vm, len(argv), argv)
	if err != nil {
		if errors.Is(err, errException) {
			return err
		}
		return vm.raiseType("%s", err.Error())
	}
	vm.truncate(base)
	vm.push(result)
	return nil
}

func lookupMethod(c *Class, name string) (Value, bool) {
	return c.Methods.Get(name)
}

// run is the dispatch loop. It returns nil on a clean top-level completion,
// or a non-nil error if an uncaught exception reached the base frame of this
// invocation (mirroring executeVM's RUNTIME_ERROR return in the original
// source).
func (vm *VM) run() error {
	baseFrameDepth := len(vm.frames) - 1

	for {
		if vm.Ctx != nil {
			select {
			case <-vm.Ctx.Done():
				return vm.Ctx.Err()
			default:
			}
		}

		if vm.cfg.StressGC {
			vm.collectGarbage()
		} else if vm.bytesAllocated > vm.nextGC {
			vm.collectGarbage()
		}

		f := vm.curFrame()
		op := compiler.Opcode(f.readByte())
		if vm.cfg.TraceInstructions {
			fmt.Fprintf(os.Stderr, "%04d %s\n", f.ip-1, op)
		}

		var err error
		switch op {
		case compiler.CONST:
			idx := f.readU16()
			err = vm.pushConstant(f, idx)
		case compiler.NULL:
			vm.push(Null)
		case compiler.TRUE:
			vm.push(Bool(true))
		case compiler.FALSE:
			vm.push(Bool(false))
		case compiler.POP:
			vm.pop()
		case compiler.DEF_GLOBAL:
			idx := f.readU16()
			name := vm.constantString(f, idx)
			f.closure.Module.Globals.Put(name, vm.pop())
		case compiler.GET_GLOBAL:
			idx := f.readU16()
			name := vm.constantString(f, idx)
			v, ok := f.closure.Module.Globals.Get(name)
			if !ok {
				err = vm.raiseUndefinedVariable("undefined variable '%s'", name)
			} else {
				vm.push(v)
			}
		case compiler.SET_GLOBAL:
			idx := f.readU16()
			name := vm.constantString(f, idx)
			if _, ok := f.closure.Module.Globals.Get(name); !ok {
				err = vm.raiseUndefinedVariable("undefined variable '%s'", name)
			} else {
				f.closure.Module.Globals.Put(name, vm.peek(0))
			}
		case compiler.GET_LOCAL:
			slot := f.readU16()
			vm.push(vm.stack[f.slotsOffset+int(slot)])
		case compiler.SET_LOCAL:
			slot := f.readU16()
			vm.stack[f.slotsOffset+int(slot)] = vm.peek(0)
		case compiler.GET_UPVAL:
			idx := f.readU16()
			vm.push(vm.upvalueGet(f.closure.Upvalues[idx]))
		case compiler.SET_UPVAL:
			idx := f.readU16()
			vm.upvalueSet(f.closure.Upvalues[idx], vm.peek(0))
		case compiler.CLOSE_UPVAL:
			vm.closeUpvalues(len(vm.stack) - 1)
			vm.pop()
		case compiler.JUMP:
			off := f.readU16()
			f.ip += int(off)
		case compiler.LOOP:
			off := f.readU16()
			f.ip -= int(off)
		case compiler.JUMP_FALSE:
			off := f.readU16()
			v := vm.pop()
			if !v.Truthy() {
				f.ip += int(off)
			}
		case compiler.JUMP_FALSE_SC:
			off := f.readU16()
			if !vm.peek(0).Truthy() {
				f.ip += int(off)
			}
		case compiler.JUMP_TRUE_SC:
			off := f.readU16()
			if vm.peek(0).Truthy() {
				f.ip += int(off)
			}
		case compiler.ADD:
			err = vm.add()
		case compiler.SUB:
			err = vm.numericBinop(func(a, b float64) float64 { return a - b })
		case compiler.MUL:
			err = vm.numericBinop(func(a, b float64) float64 { return a * b })
		case compiler.DIV:
			err = vm.numericBinop(func(a, b float64) float64 { return a / b })
		case compiler.NEG:
			err = vm.negate()
		case compiler.NOT:
			vm.push(Bool(!vm.pop().Truthy()))
		case compiler.EQ:
			b, a := vm.pop(), vm.pop()
			vm.push(Bool(a.Equal(b)))
		case compiler.NE:
			b, a := vm.pop(), vm.pop()
			vm.push(Bool(!a.Equal(b)))
		case compiler.LT:
			err = vm.comparison(func(a, b float64) bool { return a < b })
		case compiler.LE:
			err = vm.comparison(func(a, b float64) bool { return a <= b })
		case compiler.GT:
			err = vm.comparison(func(a, b float64) bool { return a > b })
		case compiler.GE:
			err = vm.comparison(func(a, b float64) bool { return a >= b })
		case compiler.CLOSURE:
			err = vm.makeClosure(f)
		case compiler.CALL:
			argc := int(f.readByte())
			callee := vm.peek(argc)
			err = vm.call(callee, argc)
		case compiler.RETURN:
			err = vm.doReturn()
			if err == nil && len(vm.frames) == baseFrameDepth {
				return nil
			}
		case compiler.CLASS:
			idx := f.readU16()
			name := vm.constantString(f, idx)
			c := newClass(vm.internString(name))
			vm.registerObject(c)
			vm.push(FromObject(c))
		case compiler.INHERIT:
			err = vm.inherit()
		case compiler.METHOD:
			idx := f.readU16()
			name := vm.constantString(f, idx)
			method := vm.pop()
			class := vm.peek(0).AsObject().(*Class)
			class.Methods.Put(name, method)
		case compiler.GET_PROP:
			idx := f.readU16()
			err = vm.getProperty(vm.constantString(f, idx))
		case compiler.SET_PROP:
			idx := f.readU16()
			err = vm.setProperty(vm.constantString(f, idx))
		case compiler.SET_PROP_KV:
			idx := f.readU16()
			err = vm.setPropKV(vm.constantString(f, idx))
		case compiler.GET_SUPER:
			idx := f.readU16()
			err = vm.getSuper(vm.constantString(f, idx))
		case compiler.INVOKE:
			idx := f.readU16()
			argc := int(f.readByte())
			err = vm.invoke(vm.constantString(f, idx), argc)
		case compiler.SUPER_INVOKE:
			idx := f.readU16()
			argc := int(f.readByte())
			err = vm.superInvoke(vm.constantString(f, idx), argc)
		case compiler.OBJECT:
			vm.push(FromObject(vm.b.object))
		case compiler.CREATE_OBJECT:
			inst := newInstance(vm.b.object)
			vm.registerObject(inst)
			vm.push(FromObject(inst))
		case compiler.INSTANCEOF:
			err = vm.instanceofOp()
		case compiler.LIST:
			n := int(f.readU16())
			err = vm.makeList(n)
		case compiler.GET_SUBSCRIPT:
			err = vm.getSubscript()
		case compiler.SET_SUBSCRIPT:
			err = vm.setSubscript()
		case compiler.NATIVE:
			idx := f.readU16()
			arity := int(f.readByte())
			err = vm.resolveModuleNative(f, vm.constantString(f, idx), arity, false)
		case compiler.CLASS_NATIVE:
			idx := f.readU16()
			arity := int(f.readByte())
			err = vm.resolveModuleNative(f, vm.constantString(f, idx), arity, true)
		case compiler.THROW:
			err = vm.throwValue(vm.pop())
		case compiler.TRY_BEGIN:
			off := f.readU16()
			f.try = tryRecord{active: true, catchLocation: f.ip + int(off), stackOffset: len(vm.stack)}
		case compiler.TRY_END:
			f.try.active = false
		case compiler.BOUND_EXCEPTION:
			vm.push(vm.exception)
		case compiler.IMPORT:
			idx := f.readU16()
			err = vm.doImport(f, vm.constantString(f, idx))
		case compiler.EXPORT:
			idx := f.readU16()
			name := vm.constantString(f, idx)
			f.closure.Module.Exports.Put(name, vm.pop())
		case compiler.PRINT:
			fmt.Fprintln(vm.Out, vm.pop().String())
		default:
			return fmt.Errorf("feline: unhandled opcode %s", op)
		}

		if err != nil {
			if !errors.Is(err, errException) {
				return err
			}
			done, rerr := vm.unwind(baseFrameDepth)
			if rerr != nil {
				return rerr
			}
			if done {
				return nil
			}
		}
	}
}

func (vm *VM) pushConstant(f *frame, idx uint16) error {
	c := f.closure.Fn.Proto.Chunk.Constants[idx]
	switch v := c.(type) {
	case float64:
		vm.push(Number(v))
	case string:
		vm.push(FromObject(vm.internString(v)))
	case *compiler.Function:
		// Functions are only ever loaded via CLOSURE, never CONST.
		return fmt.Errorf("feline: function constant loaded via CONST")
	default:
		_ = v
		return fmt.Errorf("feline: unknown constant kind")
	}
	return nil
}

func (vm *VM) constantString(f *frame, idx uint16) string {
	return f.closure.Fn.Proto.Chunk.Constants[idx].(string)
}

func (vm *VM) add() error {
	b, a := vm.pop(), vm.pop()
	if a.IsNumber() && b.IsNumber() {
		vm.push(Number(a.AsNumber() + b.AsNumber()))
		return nil
	}
	if as, ok := a.AsObject().(*String); a.IsObject() && ok {
		if bs, ok := b.AsObject().(*String); b.IsObject() && ok {
			s := as.Value + bs.Value
			vm.push(FromObject(vm.internString(s)))
			return nil
		}
	}
	return vm.raiseType("operands to '+' must both be numbers or both be strings")
}

func (vm *VM) numericBinop(f func(a, b float64) float64) error {
	b, a := vm.pop(), vm.pop()
	if !a.IsNumber() || !b.IsNumber() {
		return vm.raiseType("operands must be numbers")
	}
	vm.push(Number(f(a.AsNumber(), b.AsNumber())))
	return nil
}

func (vm *VM) comparison(f func(a, b float64) bool) error {
	b, a := vm.pop(), vm.pop()
	if !a.IsNumber() || !b.IsNumber() {
		return vm.raiseType("operands must be numbers")
	}
	vm.push(Bool(f(a.AsNumber(), b.AsNumber())))
	return nil
}

func (vm *VM) negate() error {
	v := vm.pop()
	if !v.IsNumber() {
		return vm.raiseType("operand to unary '-' must be a number")
	}
	vm.push(Number(-v.AsNumber()))
	return nil
}

func (vm *VM) instanceofOp() error {
	classV, instV := vm.pop(), vm.pop()
	class, ok := classV.AsObject().(*Class)
	if !classV.IsObject() || !ok {
		return vm.raiseType("right-hand side of 'instanceof' must be a class")
	}
	inst, ok := instV.AsObject().(*Instance)
	if !instV.IsObject() || !ok {
		vm.push(Bool(false))
		return nil
	}
	for c := inst.Class; c != nil; c = c.Superclass {
		if c == class {
			vm.push(Bool(true))
			return nil
		}
	}
	vm.push(Bool(false))
	return nil
}

func (vm *VM) makeList(n int) error {
	items := make([]Value, n)
	copy(items, vm.stack[len(vm.stack)-n:])
	vm.truncate(len(vm.stack) - n)
	l := &List{Items: items}
	vm.registerObject(l)
	vm.push(FromObject(l))
	return nil
}

// validateIndex resolves a possibly-negative numeric index against length,
// exactly matching original_source/src/vm.c's validateIndex (including
// rejecting non-integer indices via a floor check).
func validateIndex(length int, index float64) (int, bool) {
	if math.Floor(index) != index {
		return 0, false
	}
	signed := int64(index)
	var abs int64
	if signed < 0 {
		abs = int64(length) + signed
	} else {
		abs = signed
	}
	if abs < 0 || abs >= int64(length) {
		return 0, false
	}
	return int(abs), true
}

func (vm *VM) getSubscript() error {
	idx, recv := vm.pop(), vm.pop()
	switch o := recv.AsObject().(type) {
	case *List:
		if !idx.IsNumber() {
			return vm.raiseType("list index must be a number")
		}
		i, ok := validateIndex(len(o.Items), idx.AsNumber())
		if !ok {
			return vm.raiseIndexRange("list index '%g' out of range for list of length '%d'", idx.AsNumber(), len(o.Items))
		}
		vm.push(o.Items[i])
		return nil
	case *Instance:
		s, ok := idx.AsObject().(*String)
		if !idx.IsObject() || !ok {
			return vm.raiseType("instance subscript index must be a string")
		}
		return vm.getInstanceProperty(o, s.Value)
	default:
		return vm.raiseType("subscript target must be a list or instance")
	}
}

func (vm *VM) setSubscript() error {
	val, idx, recv := vm.pop(), vm.pop(), vm.pop()
	switch o := recv.AsObject().(type) {
	case *List:
		if !idx.IsNumber() {
			return vm.raiseType("list index must be a number")
		}
		i, ok := validateIndex(len(o.Items), idx.AsNumber())
		if !ok {
			return vm.raiseIndexRange("list index '%g' out of range for list of length '%d'", idx.AsNumber(), len(o.Items))
		}
		o.Items[i] = val
		vm.push(val)
		return nil
	case *Instance:
		s, ok := idx.AsObject().(*String)
		if !idx.IsObject() || !ok {
			return vm.raiseType("instance subscript index must be a string")
		}
		o.Fields.Put(s.Value, val)
		vm.push(val)
		return nil
	default:
		return vm.raiseType("subscript target must be a list or instance")
	}
}

func (vm *VM) inherit() error {
	sub := vm.peek(0).AsObject().(*Class)
	superV := vm.peek(1)
	super, ok := superV.AsObject().(*Class)
	if !superV.IsObject() || !ok {
		return vm.raiseType("superclass must be a class")
	}
	super.Methods.Iter(func(name string, m Value) bool {
		sub.Methods.Put(name, m)
		return false
	})
	sub.Superclass = super
	vm.pop() // discard the duplicate subclass reference; superclass remains as `super` local
	return nil
}

func (vm *VM) getInstanceProperty(inst *Instance, name string) error {
	if v, ok := inst.Fields.Get(name); ok {
		vm.push(v)
		return nil
	}
	if m, ok := lookupMethod(inst.Class, name); ok {
		vm.push(bindMethod(FromObject(inst), m))
		return nil
	}
	if m, ok := superMethod(inst.Class, name); ok {
		vm.push(bindMethod(FromObject(inst), m))
		return nil
	}
	if bound, ok := vm.bindObjectMethod(inst, name); ok {
		vm.push(bound)
		return nil
	}
	return vm.raiseProperty("undefined property '%s'", name)
}

func superMethod(class *Class, name string) (Value, bool) {
	for c := class.Superclass; c != nil; c = c.Superclass {
		if m, ok := c.Methods.Get(name); ok {
			return m, true
		}
	}
	return Value{}, false
}

func bindMethod(receiver Value, method Value) Value {
	bound := &BoundMethod{Receiver: receiver, Method: method}
	return FromObject(bound)
}

// getProperty implements GET_PROP: pop the instance, push the field value or
// a bound method in its place (net stack effect zero either way).
func (vm *VM) getProperty(name string) error {
	v := vm.pop()
	if v.IsObject() {
		if l, ok := v.AsObject().(*List); ok {
			if bound, ok := vm.bindListMethod(l, name); ok {
				vm.push(bound)
				return nil
			}
			return vm.raiseProperty("undefined property '%s'", name)
		}
	}
	inst, ok := v.AsObject().(*Instance)
	if !v.IsObject() || !ok {
		return vm.raiseType("only instances have properties")
	}
	return vm.getInstanceProperty(inst, name)
}

// setProperty implements SET_PROP: pop the value, pop the instance, push the
// value back (net -1), matching original_source/src/vm.c's OP_SET_PROPERTY.
func (vm *VM) setProperty(name string) error {
	value := vm.pop()
	recv := vm.pop()
	inst, ok := recv.AsObject().(*Instance)
	if !recv.IsObject() || !ok {
		return vm.raiseType("only instances have properties")
	}
	inst.Fields.Put(name, value)
	vm.push(value)
	return nil
}

// setPropKV implements one entry of an object-literal expansion: the value
// is on top, the object being built sits just under it, and unlike SET_PROP
// the object is left in place (not popped) so successive SET_PROP_KV
// instructions can keep writing into it.
func (vm *VM) setPropKV(name string) error {
	value := vm.pop()
	recv := vm.peek(0)
	inst, ok := recv.AsObject().(*Instance)
	if !recv.IsObject() || !ok {
		return vm.raiseType("only instances have properties")
	}
	inst.Fields.Put(name, value)
	return nil
}

// getSuper implements GET_SUPER. The compiler emits `this` before the
// superclass, so the stack is [..., this, superclass] on entry; this pops
// both and pushes the resolved method bound to that `this`, net stack
// effect -1.
func (vm *VM) getSuper(name string) error {
	superV := vm.pop()
	super, ok := superV.AsObject().(*Class)
	if !superV.IsObject() || !ok {
		return vm.raiseType("superclass reference must be a class")
	}
	receiver := vm.pop()
	m, ok := super.Methods.Get(name)
	if !ok {
		m, ok = superMethod(super, name)
	}
	if !ok {
		return vm.raiseProperty("undefined property '%s'", name)
	}
	vm.push(bindMethod(receiver, m))
	return nil
}

// invoke implements INVOKE: receiver and argc arguments are already pushed.
// It fast-paths a field holding a callable (matching original_source/src/vm.c's
// invoke(), which checks fields before methods so a field can shadow a
// method of the same name), else resolves the method on the class chain and
// calls it directly without materializing a BoundMethod.
func (vm *VM) invoke(name string, argc int) error {
	recv := vm.peek(argc)
	if recv.IsObject() {
		if l, ok := recv.AsObject().(*List); ok {
			bound, ok := vm.bindListMethod(l, name)
			if !ok {
				return vm.raiseProperty("undefined property '%s'", name)
			}
			return vm.call(bound, argc)
		}
	}
	inst, ok := recv.AsObject().(*Instance)
	if !recv.IsObject() || !ok {
		return vm.raiseType("only instances have methods")
	}
	if v, ok := inst.Fields.Get(name); ok {
		vm.stack[len(vm.stack)-argc-1] = v
		return vm.call(v, argc)
	}
	m, ok := lookupMethod(inst.Class, name)
	if !ok {
		m, ok = superMethod(inst.Class, name)
	}
	if !ok {
		if bound, ok := vm.bindObjectMethod(inst, name); ok {
			return vm.call(bound, argc)
		}
		return vm.raiseProperty("undefined property '%s'", name)
	}
	return vm.callValueAsMethod(m, argc)
}

// superInvoke implements SUPER_INVOKE: `this`, argc arguments, then the
// superclass are pushed, in that order. It pops only the superclass,
// reusing the `this`+args window already on the stack as the call's window
// (mirroring how invoke()/CALL reuse the callee slot).
func (vm *VM) superInvoke(name string, argc int) error {
	superV := vm.pop()
	super, ok := superV.AsObject().(*Class)
	if !superV.IsObject() || !ok {
		return vm.raiseType("superclass reference must be a class")
	}
	m, ok := super.Methods.Get(name)
	if !ok {
		m, ok = superMethod(super, name)
	}
	if !ok {
		return vm.raiseProperty("undefined property '%s'", name)
	}
	return vm.callValueAsMethod(m, argc)
}

// makeClosure implements CLOSURE: read the Function constant, wrap it in a
// new heap Function (one per executed CLOSURE), then capture each upvalue
// descriptor either from the enclosing frame's live stack slot (isLocal) or
// from the enclosing closure's own upvalue list.
func (vm *VM) makeClosure(f *frame) error {
	idx := f.readU16()
	proto, ok := f.closure.Fn.Proto.Chunk.Constants[idx].(*compiler.Function)
	if !ok {
		return fmt.Errorf("feline: CLOSURE constant is not a function")
	}
	heapFn := &Function{Proto: proto}
	if proto.Name != "" {
		heapFn.Name = vm.internString(proto.Name)
	}
	vm.registerObject(heapFn)
	closure := &Closure{Fn: heapFn, Module: f.closure.Module, Upvalues: make([]*Upvalue, proto.UpvalueCount)}
	for i := 0; i < proto.UpvalueCount; i++ {
		isLocal := f.readByte() == 1
		index := f.readU16()
		if isLocal {
			closure.Upvalues[i] = vm.captureUpvalue(f.slotsOffset + int(index))
		} else {
			closure.Upvalues[i] = f.closure.Upvalues[index]
		}
	}
	vm.registerObject(closure)
	vm.push(FromObject(closure))
	return nil
}

// upvalueGet/upvalueSet route through the VM's live stack for an open
// upvalue (by position, which stays valid across stack reallocation) or the
// Closed field once it's been closed.
func (vm *VM) upvalueGet(u *Upvalue) Value {
	if u.Open {
		return vm.stack[u.Position]
	}
	return u.Closed
}

func (vm *VM) upvalueSet(u *Upvalue, v Value) {
	if u.Open {
		vm.stack[u.Position] = v
		return
	}
	u.Closed = v
}

// captureUpvalue finds an existing open upvalue for stack position pos or
// creates one, keeping the VM's open-upvalue list sorted by descending
// position (Invariant 3) so closing a range is a simple prefix walk.
func (vm *VM) captureUpvalue(pos int) *Upvalue {
	var prev *Upvalue
	cur := vm.openUpvalues
	for cur != nil && cur.Position > pos {
		prev = cur
		cur = cur.Next
	}
	if cur != nil && cur.Position == pos {
		return cur
	}
	created := &Upvalue{Position: pos, Open: true, Next: cur}
	vm.registerObject(created)
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues closes every open upvalue at or above stack position from,
// copying the live value out of the stack and marking it closed so future
// reads/writes go through Closed instead of the (possibly reused) slot.
func (vm *VM) closeUpvalues(from int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Position >= from {
		u := vm.openUpvalues
		u.Closed = vm.stack[u.Position]
		u.Open = false
		vm.openUpvalues = u.Next
	}
}

// doReturn implements RETURN: close any upvalues captured from the
// returning frame's window, pop the frame, truncate the stack back to the
// call site, and leave the return value on top.
func (vm *VM) doReturn() error {
	result := vm.pop()
	f := vm.curFrame()
	vm.closeUpvalues(f.slotsOffset)
	base := f.slotsOffset
	vm.frames = vm.frames[:len(vm.frames)-1]
	vm.truncate(base)
	vm.push(result)
	return nil
}

// registerObject links a freshly allocated object into the VM's all-objects
// list and charges its allocation against the GC's byte budget. Every heap
// constructor in this package must route through here exactly once.
func (vm *VM) registerObject(o Obj) {
	h := o.header()
	h.next = vm.allObjects
	vm.allObjects = o
	vm.bytesAllocated += objectSize(o)
}

func objectSize(o Obj) int64 {
	switch o.(type) {
	case *String:
		return 64
	case *Instance:
		return 96
	case *Closure:
		return 96
	default:
		return 48
	}
}

// unwind runs the exception-unwinding state machine (spec.md §4.4 step 1):
// walk frames from the top looking for one with an active try record,
// recording a "[<dir>/<name>.fn:<line>] in <fn>" trace line for every frame
// propagated through along the way. If a handler is found, truncate the
// stack to that try's recorded depth, attach the accumulated trace to the
// exception's `stackTrace` field (step 2), and jump to its catch location.
// If no frame in this invocation handles it, the exception propagates past
// baseFrameDepth: the caller treats that as an uncaught top-level exception,
// with the trace left on vm.stackTrace for uncaughtError to render.
func (vm *VM) unwind(baseFrameDepth int) (done bool, err error) {
	trace := &List{}
	vm.registerObject(trace)

	for len(vm.frames)-1 >= baseFrameDepth {
		f := vm.curFrame()
		if f.try.active {
			vm.truncate(f.try.stackOffset)
			f.try.active = false
			f.ip = f.try.catchLocation
			vm.hasException = false
			vm.attachStackTrace(trace)
			return false, nil
		}
		trace.Items = append(trace.Items, FromObject(vm.internString(vm.traceLine(f))))
		if len(vm.frames)-1 == baseFrameDepth {
			break
		}
		vm.frames = vm.frames[:len(vm.frames)-1]
	}
	// No handler within this invocation's frame range. Leave vm.exception
	// and vm.hasException set and return errException rather than
	// formatting an UncaughtException here: a nested invocation (e.g. an
	// IMPORT body) must let the exception keep propagating into whatever
	// called it, which may itself be inside a try block. Only the
	// outermost Run call, seeing errException with no enclosing run()
	// left to return to, formats the final uncaught-exception message.
	vm.stackTrace = trace
	return true, errException
}

// traceLine renders one stack-trace entry for f, in the spec.md §7 format
// "[<dir>/<name>.fn:<line>] in <fn>".
func (vm *VM) traceLine(f *frame) string {
	name := "<script>"
	if f.closure.Fn.Name != nil {
		name = f.closure.Fn.Name.Value
	}
	mod := f.closure.Module
	return fmt.Sprintf("[%s/%s.fn:%d] in %s", mod.Dir, mod.Base, f.currentLine(), name)
}

// attachStackTrace records trace onto the current exception's `stackTrace`
// field, if it is an Instance (an arbitrary thrown non-instance value has no
// field to carry it on).
func (vm *VM) attachStackTrace(trace *List) {
	inst, ok := vm.exception.AsObject().(*Instance)
	if vm.exception.IsObject() && ok {
		inst.Fields.Put("stackTrace", FromObject(trace))
	}
}

// uncaughtError formats the current exception the way the top-level runner
// prints an uncaught exception reaching the base of the call stack: this
// returns a Go error; cmd/feline is responsible for exit code 4 (spec.md §7
// "Uncaught exceptions").
func (vm *VM) uncaughtError() error {
	v := vm.exception
	vm.hasException = false
	var trace []string
	if vm.stackTrace != nil {
		trace = make([]string, len(vm.stackTrace.Items))
		for i, item := range vm.stackTrace.Items {
			trace[i] = item.String()
		}
		vm.stackTrace = nil
	}
	inst, ok := v.AsObject().(*Instance)
	if v.IsObject() && ok {
		reason, _ := inst.Fields.Get("reason")
		return &UncaughtException{ClassName: inst.Class.Name.Value, Message: reason.String(), StackTrace: trace}
	}
	return &UncaughtException{ClassName: "Exception", Message: v.String(), StackTrace: trace}
}

// UncaughtException is returned by Run when a thrown value is never caught;
// cmd/feline renders Error() (which already includes the "<ClassName>:
// <reason>" header and one "[<dir>/<name>.fn:<line>] in <fn>" trace line per
// frame, per spec.md §7) and exits with status 4.
type UncaughtException struct {
	ClassName  string
	Message    string
	StackTrace []string
}

func (e *UncaughtException) Error() string {
	s := e.ClassName + ": " + e.Message
	for _, line := range e.StackTrace {
		s += "\n" + line
	}
	return s
}
