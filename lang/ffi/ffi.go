// Package ffi loads the dynamic libraries Feline's NATIVE/CLASS_NATIVE
// opcodes resolve symbols against (spec.md §4.4 "Native functions (FFI)").
// It never imports lang/machine: the C ABI it exchanges values over is
// expressed in terms of CValue, a flat struct independent of the VM's own
// heap representation, and lang/machine does the CValue<->Value conversion
// at the call boundary.
package ffi

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// Kind mirrors the tagged-union Value kinds exchanged across the FFI
// boundary: null, bool, number, or an opaque handle onto a host object.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindObject
)

// CValue is the fixed C-ABI layout a feline_<name> symbol reads its
// arguments from and writes its result into: a one-byte kind tag plus an
// 8-byte payload (the bit pattern of a float64 for KindNumber, 0/1 for
// KindBool, or an opaque host-object handle for KindObject).
type CValue struct {
	Kind    Kind
	_       [7]byte
	Payload uint64
}

// NativeFn is the Go-side shape every resolved feline_<name> symbol is
// invoked through. argv points to a contiguous array of argc CValues;
// result points to a single caller-allocated CValue the callee must
// populate. purego cannot marshal a C struct returned by value, so the ABI
// uses an out-parameter pointer instead of a return value — the same
// reason libc-style APIs that return aggregates often take an output
// pointer instead.
type NativeFn func(vmHandle uintptr, argc uint8, argv *CValue, result *CValue)

// Ext overrides the platform-default dynamic library extension when
// non-empty, set from internal/config's FELINE_LIB_EXT for cross-compiling a
// native library ahead of time for a different host than the one running
// the compiler.
var Ext string

// libExt is the platform's dynamic library extension, used to derive a
// module's sibling library path from its source path.
func libExt() string {
	if Ext != "" {
		return Ext
	}
	switch runtime.GOOS {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	default:
		return ".so"
	}
}

// LibPath returns the dynamic library path expected to sit next to a
// module's source file at dir/base<ext>.
func LibPath(dir, base string) string {
	return dir + "/" + base + libExt()
}

// Library is one dynamic library opened for a module's native symbols,
// cached by the VM so repeated NATIVE/CLASS_NATIVE resolutions against the
// same module don't reopen the handle.
type Library struct {
	Path   string
	handle uintptr
}

// Open loads the dynamic library at path.
func Open(path string) (*Library, error) {
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("ffi: open %s: %w", path, err)
	}
	return &Library{Path: path, handle: h}, nil
}

// Close releases the library handle. Called from the GC's sweep phase once
// a NativeLibrary object becomes unreachable (spec.md §4.5 "Sweep").
func (l *Library) Close() error {
	return purego.Dlclose(l.handle)
}

// Handle exposes the raw OS handle, stored on the machine package's
// NativeLibrary object for diagnostics.
func (l *Library) Handle() uintptr { return l.handle }

// Symbol resolves feline_<name> in the library and returns it wrapped as a
// callable NativeFn.
func (l *Library) Symbol(name string) (NativeFn, error) {
	addr, err := purego.Dlsym(l.handle, "feline_"+name)
	if err != nil {
		return nil, fmt.Errorf("ffi: symbol feline_%s not found in %s: %w", name, l.Path, err)
	}
	var cfn func(vmHandle uintptr, argc uint8, argv uintptr, result uintptr)
	purego.RegisterFunc(&cfn, addr)
	return func(vmHandle uintptr, argc uint8, argv *CValue, result *CValue) {
		cfn(vmHandle, argc, uintptr(unsafe.Pointer(argv)), uintptr(unsafe.Pointer(result)))
	}, nil
}
