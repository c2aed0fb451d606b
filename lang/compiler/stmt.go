package compiler

import "github.com/felinelang/feline/lang/token"

// declaration parses one top-level-or-block declaration, recovering at the
// next statement boundary if a syntax error was raised anywhere inside it.
func (p *Parser) declaration() {
	switch {
	case p.match(token.CLASS):
		p.classDeclaration()
	case p.match(token.FUNCTION):
		p.funDeclaration()
	case p.match(token.VAR):
		p.varDeclaration()
	case p.match(token.NATIVE):
		p.nativeDeclaration()
	case p.match(token.IMPORT):
		p.importDeclaration()
	case p.match(token.EXPORT):
		p.exportDeclaration()
	default:
		p.statement()
	}
	if p.panicMode {
		p.synchronize()
	}
}

func (p *Parser) statement() {
	switch {
	case p.match(token.PRINT):
		p.printStatement()
	case p.match(token.LBRACE):
		p.beginScope()
		p.block()
		p.endScope()
	case p.match(token.IF):
		p.ifStatement()
	case p.match(token.WHILE):
		p.whileStatement()
	case p.match(token.FOR):
		p.forStatement()
	case p.match(token.RETURN):
		p.returnStatement()
	case p.match(token.THROW):
		p.throwStatement()
	case p.match(token.TRY):
		p.tryStatement()
	case p.match(token.BREAK):
		p.breakStatement()
	case p.match(token.CONTINUE):
		p.continueStatement()
	default:
		p.expressionStatement()
	}
}

func (p *Parser) block() {
	for !p.check(token.RBRACE) && !p.check(token.EOF) {
		p.declaration()
	}
	p.consume(token.RBRACE, "expected '}' after block")
}

func (p *Parser) printStatement() {
	p.expr()
	p.consume(token.SEMI, "expected ';' after print statement")
	p.emitOp(PRINT)
}

func (p *Parser) expressionStatement() {
	p.expr()
	p.consume(token.SEMI, "expected ';' after expression")
	p.emitOp(POP)
}

func (p *Parser) ifStatement() {
	p.consume(token.LPAREN, "expected '(' after 'if'")
	p.expr()
	p.consume(token.RPAREN, "expected ')' after condition")

	thenJump := p.emitJump(JUMP_FALSE)
	p.statement()
	elseJump := p.emitJump(JUMP)

	p.patchJump(thenJump)
	if p.match(token.ELSE) {
		p.statement()
	}
	p.patchJump(elseJump)
}

func (p *Parser) whileStatement() {
	loopStart := len(p.chunk().Code)
	p.consume(token.LPAREN, "expected '(' after 'while'")
	p.expr()
	p.consume(token.RPAREN, "expected ')' after condition")

	exitJump := p.emitJump(JUMP_FALSE)

	prevLoop := p.cur.loop
	p.cur.loop = &loopState{enclosing: prevLoop, continueTarget: loopStart}

	p.statement()
	p.emitLoop(loopStart)

	p.patchJump(exitJump)
	for _, j := range p.cur.loop.breakJumps {
		p.patchJump(j)
	}
	p.cur.loop = prevLoop
}

// forStatement desugars the classic three-clause C-style loop into the
// while-loop primitives above, the textbook Pratt-compiler approach: the
// increment clause (if present) is compiled once and looped back into.
func (p *Parser) forStatement() {
	p.beginScope()
	p.consume(token.LPAREN, "expected '(' after 'for'")

	switch {
	case p.match(token.SEMI):
		// no initializer
	case p.match(token.VAR):
		p.varDeclaration()
	default:
		p.expressionStatement()
	}

	loopStart := len(p.chunk().Code)
	exitJump := -1
	if !p.match(token.SEMI) {
		p.expr()
		p.consume(token.SEMI, "expected ';' after loop condition")
		exitJump = p.emitJump(JUMP_FALSE)
	}

	if !p.check(token.RPAREN) {
		bodyJump := p.emitJump(JUMP)
		incrStart := len(p.chunk().Code)
		p.expr()
		p.emitOp(POP)
		p.consume(token.RPAREN, "expected ')' after for clauses")
		p.emitLoop(loopStart)
		loopStart = incrStart
		p.patchJump(bodyJump)
	} else {
		p.consume(token.RPAREN, "expected ')' after for clauses")
	}

	prevLoop := p.cur.loop
	p.cur.loop = &loopState{enclosing: prevLoop, continueTarget: loopStart}

	p.statement()
	p.emitLoop(loopStart)

	if exitJump != -1 {
		p.patchJump(exitJump)
	}
	for _, j := range p.cur.loop.breakJumps {
		p.patchJump(j)
	}
	p.cur.loop = prevLoop

	p.endScope()
}

func (p *Parser) breakStatement() {
	if p.cur.loop == nil {
		p.error("'break' used outside of a loop")
	}
	p.consume(token.SEMI, "expected ';' after 'break'")
	if p.cur.loop != nil {
		j := p.emitJump(JUMP)
		p.cur.loop.breakJumps = append(p.cur.loop.breakJumps, j)
	}
}

func (p *Parser) continueStatement() {
	if p.cur.loop == nil {
		p.error("'continue' used outside of a loop")
	}
	p.consume(token.SEMI, "expected ';' after 'continue'")
	if p.cur.loop != nil {
		p.emitLoop(p.cur.loop.continueTarget)
	}
}

func (p *Parser) returnStatement() {
	if p.cur.fnType == fnScript {
		p.error("cannot return from top-level code")
	}
	if p.match(token.SEMI) {
		p.emitImplicitReturn()
		return
	}
	if p.cur.fnType == fnConstructor {
		p.error("cannot return a value from a constructor")
	}
	p.expr()
	p.consume(token.SEMI, "expected ';' after return value")
	p.emitOp(RETURN)
}

func (p *Parser) throwStatement() {
	p.expr()
	p.consume(token.SEMI, "expected ';' after throw statement")
	p.emitOp(THROW)
}

// tryStatement compiles `try { ... } catch ("(" name ")")? { ... } [finally
// { ... }]` — the parenthesized binding is optional (spec.md §6 grammar:
// `"catch" ("(" IDENT ")")? stmt`). TRY_BEGIN's u16 operand is patched
// exactly like a jump: the VM computes the catch location as the offset
// just past the operand, plus that patched value, landing on the first
// instruction of the catch handling below. BOUND_EXCEPTION always pushes
// the caught exception (Invariant 3: every catch entry leaves the stack at
// the same depth); when the source omits the binding, it's popped again
// immediately instead of being bound to a local.
//
// finally is emitted as a plain statement following the catch block, so
// (per spec.md's open question, resolved in the "preferred" direction) it
// does not run if the catch block itself throws or returns.
func (p *Parser) tryStatement() {
	if p.cur.inTry {
		p.error("nested try is not allowed")
	}
	p.cur.inTry = true

	tryBegin := p.emitJump(TRY_BEGIN)

	p.consume(token.LBRACE, "expected '{' after 'try'")
	p.beginScope()
	p.block()
	p.endScope()
	p.emitOp(TRY_END)

	endJump := p.emitJump(JUMP)
	p.patchJump(tryBegin)

	p.consume(token.CATCH, "expected 'catch' after try block")

	hasBinding := p.match(token.LPAREN)
	var excName string
	if hasBinding {
		p.consume(token.IDENT, "expected exception variable name")
		excName = p.previous.Text
		p.consume(token.RPAREN, "expected ')' after catch parameter")
	}
	p.consume(token.LBRACE, "expected '{' before catch body")

	p.beginScope()
	if hasBinding {
		p.declareLocal(excName)
		p.markInitialized()
		p.emitOp(BOUND_EXCEPTION)
	} else {
		p.emitOp(BOUND_EXCEPTION)
		p.emitOp(POP)
	}
	p.block()
	p.endScope()

	p.patchJump(endJump)
	p.cur.inTry = false

	if p.match(token.FINALLY) {
		p.consume(token.LBRACE, "expected '{' after 'finally'")
		p.beginScope()
		p.block()
		p.endScope()
	}
}

func (p *Parser) varDeclaration() {
	p.consume(token.IDENT, "expected variable name")
	name := p.previous.Text
	nameConst := p.identifierConstant(name)
	p.declareLocal(name)

	if p.match(token.EQ) {
		p.expr()
	} else {
		p.emitOp(NULL)
	}
	p.consume(token.SEMI, "expected ';' after variable declaration")
	p.defineVariable(name, nameConst)
}

func (p *Parser) funDeclaration() {
	p.consume(token.IDENT, "expected function name")
	name := p.previous.Text
	nameConst := p.identifierConstant(name)
	p.declareLocal(name)
	if p.cur.scopeDepth > 0 {
		p.markInitialized() // allows the function to call itself recursively
	}
	p.function(name, fnFunction)
	p.defineVariable(name, nameConst)
}

// nativeDeclaration compiles a module-level `native name(params);` stub,
// resolved at runtime against the module's sibling dynamic library.
func (p *Parser) nativeDeclaration() {
	p.consume(token.IDENT, "expected native function name")
	name := p.previous.Text
	nameConst := p.identifierConstant(name)
	p.declareLocal(name)

	arity := p.paramArityList()
	p.consume(token.SEMI, "expected ';' after native declaration")

	p.emitOp(NATIVE)
	p.emitU16(nameConst)
	p.emitByte(arity)
	p.defineVariable(name, nameConst)
}

// paramArityList consumes `(ident, ident, ...)` and returns the parameter
// count, for native declarations that have no body to compile.
func (p *Parser) paramArityList() byte {
	p.consume(token.LPAREN, "expected '(' after name")
	arity := 0
	if !p.check(token.RPAREN) {
		for {
			p.consume(token.IDENT, "expected parameter name")
			if arity == 255 {
				p.error("too many parameters (max 255)")
			} else {
				arity++
			}
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RPAREN, "expected ')' after parameters")
	return byte(arity)
}

func (p *Parser) importDeclaration() {
	var path string
	if p.match(token.STRING) {
		path = p.previous.Text
	} else {
		p.consume(token.IDENT, "expected module path")
		path = p.previous.Text
		for p.match(token.DOT) {
			p.consume(token.IDENT, "expected identifier after '.' in module path")
			path += "/" + p.previous.Text
		}
	}
	p.consume(token.AS, "expected 'as' after import path")
	p.consume(token.IDENT, "expected binding name after 'as'")
	bindName := p.previous.Text
	bindConst := p.identifierConstant(bindName)
	p.declareLocal(bindName)

	pathIdx, err := p.chunk().addConstant(path)
	if err != nil {
		p.error(err.Error())
	}
	p.emitOpU16(IMPORT, pathIdx)
	p.consume(token.SEMI, "expected ';' after import declaration")
	p.defineVariable(bindName, bindConst)
}

func (p *Parser) exportDeclaration() {
	p.expr()
	p.consume(token.AS, "expected 'as' after export expression")
	p.consume(token.IDENT, "expected export name after 'as'")
	nameConst := p.identifierConstant(p.previous.Text)
	p.consume(token.SEMI, "expected ';' after export declaration")
	p.emitOpU16(EXPORT, nameConst)
}

// defineVariable completes a var/function/import/native declaration: for a
// local it just finishes initialization (the value is already sitting in its
// stack slot); for a global it emits DEF_GLOBAL to record it into the
// current module's table.
func (p *Parser) defineVariable(name string, nameConst uint16) {
	if p.cur.scopeDepth > 0 {
		p.markInitialized()
		return
	}
	p.emitOpU16(DEF_GLOBAL, nameConst)
}
