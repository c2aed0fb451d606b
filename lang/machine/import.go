package machine

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/felinelang/feline/lang/compiler"
	"github.com/felinelang/feline/lang/ffi"
)

// doImport implements IMPORT (spec.md §4.4 "Modules and imports"): resolve
// the path constant against the importing module's directory, serve a
// cached Import instance on a hit, or compile-and-run the file and cache
// its exports on a miss.
func (vm *VM) doImport(f *frame, relPath string) error {
	resolved, source, readErr := vm.resolveImportFile(f.closure.Module.Dir, relPath)
	if readErr != nil {
		// Not a LinkFailureException: that class is reserved for FFI
		// dlopen/dlsym failures (original_source/src/ffi/ffi.c). Failing to
		// resolve a .fn module path is a plain Exception — vm.b.importClass
		// is the wrong choice here since Import instances carry a module's
		// exports, not a reason/stackTrace pair, and have no Superclass.
		return vm.raise(vm.b.exception, "cannot import '%s': %s", relPath, readErr.Error())
	}
	if cached, ok := vm.importCache[resolved]; ok {
		vm.push(cached)
		return nil
	}

	dir := filepath.Dir(resolved)
	base := strings.TrimSuffix(filepath.Base(resolved), filepath.Ext(resolved))
	mod := newModule(relPath, dir)
	mod.Base = base
	vm.seedGlobals(mod)
	mod.Next = vm.modules
	vm.modules = mod

	fn, err := compiler.Compile(source, resolved)
	if err != nil {
		return fmt.Errorf("feline: compile error importing %s: %w", relPath, err)
	}
	closure := vm.wrapFunction(fn, mod)

	// run()'s own base-frame index is computed from len(vm.frames) at the
	// moment it's entered, so pushing and calling here before recursing
	// gives the import exactly the "nested executeVM run" semantics
	// spec.md §4.4 step 2 describes: unwinding stops at this boundary.
	vm.push(FromObject(closure))
	if err := vm.call(FromObject(closure), 0); err != nil {
		return err
	}
	if err := vm.run(); err != nil {
		return err
	}
	vm.pop() // the module body's own return value; IMPORT leaves only the Import instance

	imp := newInstance(vm.b.importClass)
	vm.registerObject(imp)
	mod.Exports.Iter(func(name string, v Value) bool {
		imp.Fields.Put(name, v)
		return false
	})
	result := FromObject(imp)
	vm.importCache[resolved] = result
	vm.push(result)
	return nil
}

// resolveImportFile tries importerDir first, then each of the VM's
// configured ModuleRoots in order, returning the first candidate whose
// "<root>/<relPath>.fn" file exists. If none exist, the last candidate's
// path and read error are returned (the importer's own directory only when
// no ModuleRoots are configured).
func (vm *VM) resolveImportFile(importerDir, relPath string) (resolvedPath string, source []byte, err error) {
	candidates := make([]string, 0, 1+len(vm.cfg.ModuleRoots))
	candidates = append(candidates, importerDir)
	candidates = append(candidates, vm.cfg.ModuleRoots...)

	for _, root := range candidates {
		p := filepath.Join(root, relPath+".fn")
		data, readErr := os.ReadFile(p)
		if readErr == nil {
			return p, data, nil
		}
		err = readErr
		resolvedPath = p
	}
	return resolvedPath, nil, err
}

// resolveModuleNative implements NATIVE/CLASS_NATIVE: resolve feline_<name>
// in the importing module's sibling dynamic library (opening and caching
// the library handle on first use) and push a Native wrapping it.
func (vm *VM) resolveModuleNative(f *frame, name string, arity int, isMethod bool) error {
	mod := f.closure.Module
	libPath := ffi.LibPath(mod.Dir, mod.Base)
	lib, ok := vm.libraries[libPath]
	if !ok {
		opened, err := ffi.Open(libPath)
		if err != nil {
			return vm.raiseLinkFailure("%s", err.Error())
		}
		lib = &NativeLibrary{Path: libPath, Handle: opened.Handle()}
		vm.registerObject(lib)
		vm.libraries[libPath] = lib
		vm.ffiLibs[libPath] = opened
	}
	cfn, err := vm.ffiLibs[libPath].Symbol(name)
	if err != nil {
		return vm.raiseLinkFailure("%s", err.Error())
	}
	n := &Native{Name: name, Arity: arity, IsMethod: isMethod, Fn: vm.wrapNative(cfn)}
	vm.registerObject(n)
	vm.push(FromObject(n))
	return nil
}

// wrapNative adapts an ffi.NativeFn (the flat CValue C ABI) into the
// NativeFn shape the calling convention invokes (Value-typed argv/result),
// converting across the boundary with toC/fromC.
func (vm *VM) wrapNative(cfn ffi.NativeFn) NativeFn {
	return func(vm2 *VM, argc int, argv []Value) (Value, error) {
		cargv := make([]ffi.CValue, argc)
		for i, v := range argv {
			cargv[i] = vm2.toC(v)
		}
		var cresult ffi.CValue
		handle := vm2.handleFor(nil)
		if argc > 0 {
			cfn(handle, uint8(argc), &cargv[0], &cresult)
		} else {
			cfn(handle, 0, nil, &cresult)
		}
		if vm2.hasException {
			return Value{}, errException
		}
		return vm2.fromC(cresult), nil
	}
}

func (vm *VM) toC(v Value) ffi.CValue {
	switch {
	case v.IsNull():
		return ffi.CValue{Kind: ffi.KindNull}
	case v.IsBool():
		var p uint64
		if v.AsBool() {
			p = 1
		}
		return ffi.CValue{Kind: ffi.KindBool, Payload: p}
	case v.IsNumber():
		return ffi.CValue{Kind: ffi.KindNumber, Payload: math.Float64bits(v.AsNumber())}
	default:
		return ffi.CValue{Kind: ffi.KindObject, Payload: vm.handleFor(v.AsObject())}
	}
}

func (vm *VM) fromC(c ffi.CValue) Value {
	switch c.Kind {
	case ffi.KindNull:
		return Null
	case ffi.KindBool:
		return Bool(c.Payload != 0)
	case ffi.KindNumber:
		return Number(math.Float64frombits(c.Payload))
	case ffi.KindObject:
		if o, ok := vm.handles[c.Payload]; ok {
			return FromObject(o)
		}
		return Null
	default:
		return Null
	}
}

// handleFor returns a stable opaque id for o (creating one on first use),
// letting native libraries hold a handle instead of a raw Go pointer across
// the FFI boundary. A nil o (used for the vm-handle argument passed into
// every native call) yields 0.
func (vm *VM) handleFor(o Obj) uint64 {
	if o == nil {
		return 0
	}
	if id, ok := vm.handleIDs[o]; ok {
		return id
	}
	vm.nextHandle++
	id := vm.nextHandle
	if vm.handleIDs == nil {
		vm.handleIDs = make(map[Obj]uint64)
	}
	if vm.handles == nil {
		vm.handles = make(map[uint64]Obj)
	}
	vm.handleIDs[o] = id
	vm.handles[id] = o
	return id
}
