package compiler

import "github.com/felinelang/feline/lang/token"

// function compiles a nested function or method body into its own compFn,
// then emits a CLOSURE instruction (plus one descriptor per captured
// upvalue) into the *enclosing* chunk, exactly mirroring clox's
// function()/OP_CLOSURE split.
func (p *Parser) function(name string, ft fnType) {
	child := &compFn{
		enclosing: p.cur,
		p:         p,
		fnType:    ft,
		fn:        &Function{Name: name, IsMethod: ft == fnMethod || ft == fnConstructor},
		class:     p.cur.class,
	}
	if ft == fnMethod || ft == fnConstructor {
		child.locals = append(child.locals, local{name: "this", depth: 0})
	} else {
		child.locals = append(child.locals, local{name: "", depth: 0})
	}
	p.cur = child

	p.beginScope()
	p.consume(token.LPAREN, "expected '(' after function name")
	if !p.check(token.RPAREN) {
		for {
			child.fn.Arity++
			if child.fn.Arity > 255 {
				p.error("too many parameters (max 255)")
			}
			p.consume(token.IDENT, "expected parameter name")
			p.declareLocal(p.previous.Text)
			p.markInitialized()
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RPAREN, "expected ')' after parameters")
	p.consume(token.LBRACE, "expected '{' before function body")
	p.block()

	fn := p.endCompiler() // p.cur now back to the enclosing frame

	idx, err := p.chunk().addConstant(fn)
	if err != nil {
		p.error(err.Error())
		return
	}
	p.emitOpU16(CLOSURE, idx)
	for _, uv := range child.upvalues {
		if uv.isLocal {
			p.emitByte(1)
		} else {
			p.emitByte(0)
		}
		p.emitU16(uv.index)
	}
}

// addSyntheticLocal declares a compiler-introduced local (used for the
// implicit `super` binding) without consuming a name token.
func (p *Parser) addSyntheticLocal(name string) {
	c := p.cur
	if len(c.locals) >= MaxLocals {
		p.error("too many locals in one function")
		return
	}
	c.locals = append(c.locals, local{name: name, depth: c.scopeDepth})
}

// classDeclaration compiles `class Name [: Superclass] { members }`.
func (p *Parser) classDeclaration() {
	p.consume(token.IDENT, "expected class name")
	name := p.previous.Text
	nameConst := p.identifierConstant(name)
	p.declareLocal(name)

	p.emitOpU16(CLASS, nameConst)
	p.defineVariable(name, nameConst)

	cs := &classState{enclosing: p.cur.class}
	p.cur.class = cs

	if p.match(token.COLON) {
		p.consume(token.IDENT, "expected superclass name")
		superName := p.previous.Text
		if superName == name {
			p.error("a class cannot inherit from itself")
		}
		p.namedVariable(superName, false) // pushes the superclass value

		p.beginScope()
		p.addSyntheticLocal("super")
		cs.hasSuperclass = true

		p.namedVariable(name, false) // pushes the subclass (duplicate)
		p.emitOp(INHERIT)            // merges methods, pops the duplicate
	}

	p.namedVariable(name, false) // class reference used while installing methods
	p.consume(token.LBRACE, "expected '{' before class body")
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		p.method()
	}
	p.consume(token.RBRACE, "expected '}' after class body")
	p.emitOp(POP) // discard the class reference

	if cs.hasSuperclass {
		p.endScope()
	}
	p.cur.class = cs.enclosing
}

func (p *Parser) method() {
	if p.match(token.NATIVE) {
		p.consume(token.IDENT, "expected method name")
		name := p.previous.Text
		nameConst := p.identifierConstant(name)
		arity := p.paramArityList()
		p.consume(token.SEMI, "expected ';' after native method declaration")

		p.emitOp(CLASS_NATIVE)
		p.emitU16(nameConst)
		p.emitByte(arity)
		p.emitOpU16(METHOD, nameConst)
		return
	}

	p.consume(token.IDENT, "expected method name")
	name := p.previous.Text
	nameConst := p.identifierConstant(name)

	ft := fnMethod
	if name == "new" {
		ft = fnConstructor
	}
	p.function(name, ft)
	p.emitOpU16(METHOD, nameConst)
}
