package compiler

import "github.com/felinelang/feline/lang/token"

// declareLocal registers previous (the name token just consumed) as a new
// local in the current scope. A duplicate name in the same scope is a
// compile error, matching clox's "Already a variable with this name in this
// scope" diagnostic.
func (p *Parser) declareLocal(name string) {
	c := p.cur
	if c.scopeDepth == 0 {
		return // globals are resolved dynamically, not declared as locals
	}
	for i := len(c.locals) - 1; i >= 0; i-- {
		l := c.locals[i]
		if l.depth != -1 && l.depth < c.scopeDepth {
			break
		}
		if l.name == name {
			p.error("duplicate local '" + name + "' in same scope")
			return
		}
	}
	if len(c.locals) >= MaxLocals {
		p.error("too many locals in one function")
		return
	}
	c.locals = append(c.locals, local{name: name, depth: -1})
}

// markInitialized completes the declaration of the most recently added
// local, making it visible to subsequent reads (guards against `var x = x;`).
func (p *Parser) markInitialized() {
	c := p.cur
	if c.scopeDepth == 0 {
		return
	}
	c.locals[len(c.locals)-1].depth = c.scopeDepth
}

// resolveLocal returns the slot index of name among c's own locals, or -1.
func resolveLocal(c *compFn, name string) int {
	for i := len(c.locals) - 1; i >= 0; i-- {
		if c.locals[i].name == name {
			if c.locals[i].depth == -1 {
				c.p.error("cannot read local '" + name + "' in its own initializer")
			}
			return i
		}
	}
	return -1
}

// resolveUpvalue recursively asks c's enclosing compiler whether name is
// reachable as a local or upvalue there, adding (and marking captured) as
// needed. Returns -1 if name is not lexically in scope anywhere outward.
func resolveUpvalue(c *compFn, name string) int {
	if c.enclosing == nil {
		return -1
	}
	if slot := resolveLocal(c.enclosing, name); slot != -1 {
		c.enclosing.locals[slot].isCaptured = true
		return addUpvalue(c, uint16(slot), true)
	}
	if idx := resolveUpvalue(c.enclosing, name); idx != -1 {
		return addUpvalue(c, uint16(idx), false)
	}
	return -1
}

// addUpvalue records a new upvalue descriptor on c, reusing an identical
// existing one (spec.md §4.2: "reuse of an identical upvalue descriptor is
// coalesced").
func addUpvalue(c *compFn, index uint16, isLocal bool) int {
	for i, uv := range c.upvalues {
		if uv.index == index && uv.isLocal == isLocal {
			return i
		}
	}
	if len(c.upvalues) >= MaxUpvalues {
		c.p.error("too many closure variables captured in one function")
		return 0
	}
	c.upvalues = append(c.upvalues, upvalueDesc{index: index, isLocal: isLocal})
	return len(c.upvalues) - 1
}

// namedVariable compiles a read (or, if canAssign and a following '=' is
// present, a write) of an identifier, resolving it as a local, an upvalue, or
// a module global in that order.
func (p *Parser) namedVariable(name string, canAssign bool) {
	var getOp, setOp Opcode
	var arg int

	if slot := resolveLocal(p.cur, name); slot != -1 {
		getOp, setOp, arg = GET_LOCAL, SET_LOCAL, slot
	} else if idx := resolveUpvalue(p.cur, name); idx != -1 {
		getOp, setOp, arg = GET_UPVAL, SET_UPVAL, idx
	} else {
		getOp, setOp, arg = GET_GLOBAL, SET_GLOBAL, int(p.identifierConstant(name))
	}

	if canAssign && p.match(token.EQ) {
		p.expression(PrecAssignment)
		p.emitOpU16(setOp, uint16(arg))
		return
	}
	p.emitOpU16(getOp, uint16(arg))
}
