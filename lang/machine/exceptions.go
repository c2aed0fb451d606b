package machine

// builtins holds the internal classes every module's globals table is
// pre-seeded with (spec.md §4.4 "Modules and imports", step 1): the generic
// Object class backing object literals, the Import class whose instances
// carry an imported module's exports, and the Exception hierarchy raised by
// both user `throw` statements and VM-internal faults.
type builtins struct {
	object                     *Class
	importClass                *Class
	exception                  *Class
	typeException              *Class
	arityException             *Class
	propertyException          *Class
	indexRangeException        *Class
	undefinedVariableException *Class
	stackOverflowException     *Class
	linkFailureException       *Class
	valueException             *Class
}

func newBuiltins(vm *VM) *builtins {
	b := &builtins{}
	b.object = newClass(vm.internString("Object"))
	b.importClass = newClass(vm.internString("Import"))
	b.exception = newClass(vm.internString("Exception"))

	sub := func(name string) *Class {
		c := newClass(vm.internString(name))
		c.Superclass = b.exception
		return c
	}
	b.typeException = sub("TypeException")
	b.arityException = sub("ArityException")
	b.propertyException = sub("PropertyException")
	b.indexRangeException = sub("IndexRangeException")
	b.undefinedVariableException = sub("UndefinedVariableException")
	b.stackOverflowException = sub("StackOverflowException")
	b.linkFailureException = sub("LinkFailureException")
	b.valueException = sub("ValueException")
	return b
}

// seedGlobals installs every internal class into a fresh module's globals
// table, so user code can reference `Object`, `Exception`, `TypeException`,
// and so on as ordinary globals without an import.
func (vm *VM) seedGlobals(m *Module) {
	install := func(c *Class) { m.Globals.Put(c.Name.Value, FromObject(c)) }
	install(vm.b.object)
	install(vm.b.importClass)
	install(vm.b.exception)
	install(vm.b.typeException)
	install(vm.b.arityException)
	install(vm.b.propertyException)
	install(vm.b.indexRangeException)
	install(vm.b.undefinedVariableException)
	install(vm.b.stackOverflowException)
	install(vm.b.linkFailureException)
	install(vm.b.valueException)
	vm.seedBuiltinFunctions(m)
}

// newException builds an instance of class with its reason field set,
// ready to be thrown via vm.throwValue (spec.md §7: VM-raised exceptions
// carry "a formatted reason field").
func (vm *VM) newException(class *Class, reason string) Value {
	inst := newInstance(class)
	inst.Fields.Put("reason", FromObject(vm.internString(reason)))
	inst.Fields.Put("stackTrace", Null)
	return FromObject(inst)
}

func (vm *VM) raiseType(format string, args ...any) error    { return vm.raise(vm.b.typeException, format, args...) }
func (vm *VM) raiseArity(format string, args ...any) error   { return vm.raise(vm.b.arityException, format, args...) }
func (vm *VM) raiseProperty(format string, args ...any) error {
	return vm.raise(vm.b.propertyException, format, args...)
}
func (vm *VM) raiseIndexRange(format string, args ...any) error {
	return vm.raise(vm.b.indexRangeException, format, args...)
}
func (vm *VM) raiseUndefinedVariable(format string, args ...any) error {
	return vm.raise(vm.b.undefinedVariableException, format, args...)
}
func (vm *VM) raiseStackOverflow(format string, args ...any) error {
	return vm.raise(vm.b.stackOverflowException, format, args...)
}
func (vm *VM) raiseLinkFailure(format string, args ...any) error {
	return vm.raise(vm.b.linkFailureException, format, args...)
}
func (vm *VM) raiseValue(format string, args ...any) error {
	return vm.raise(vm.b.valueException, format, args...)
}
