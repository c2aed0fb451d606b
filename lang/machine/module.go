package machine

import "github.com/dolthub/swiss"

// Module is one source file's unit of globals and exports (spec.md §3). The
// VM keeps every Module reachable through a linked list (via Next) purely so
// the garbage collector can walk all of them as roots, mirroring the
// original source's module list.
type Module struct {
	Name    string
	Dir     string
	Base    string // source file's basename without extension, for NATIVE's sibling-library path
	Globals *swiss.Map[string, Value]
	Exports *swiss.Map[string, Value]
	Next    *Module
}

func newModule(name, dir string) *Module {
	return &Module{
		Name:    name,
		Dir:     dir,
		Globals: swiss.NewMap[string, Value](16),
		Exports: swiss.NewMap[string, Value](4),
	}
}
