package compiler

import (
	"fmt"
	gotoken "go/token"

	"github.com/felinelang/feline/lang/scanner"
	"github.com/felinelang/feline/lang/token"
)

// MaxLocals is the number of named locals a single function frame may declare,
// matching the 256-slot limit of the byte-sized local count used by the
// teacher's own bytecode VMs.
const MaxLocals = 256

// MaxUpvalues is the number of upvalue descriptors a single function may
// capture.
const MaxUpvalues = 256

type fnType int

const (
	fnScript fnType = iota
	fnFunction
	fnMethod
	fnConstructor
)

type local struct {
	name       string
	depth      int // -1 until the initializer has fully evaluated
	isCaptured bool
}

type upvalueDesc struct {
	index   uint16
	isLocal bool
}

type loopState struct {
	enclosing      *loopState
	continueTarget int
	breakJumps     []int
}

type classState struct {
	enclosing     *classState
	hasSuperclass bool
}

// compFn holds the compilation state of one function body (the top-level
// script, or a nested function/method). It chains to its lexically enclosing
// compFn so that upvalue resolution can walk outward, exactly mirroring the
// "parent compiler link" spec.md §4.2 requires.
type compFn struct {
	enclosing *compFn
	p         *Parser

	fn     *Function
	fnType fnType

	locals     []local
	upvalues   []upvalueDesc
	scopeDepth int

	loop  *loopState
	inTry bool
	class *classState
}

// Parser drives the shared token stream for a whole compilation (the
// top-level script and every nested function/method share one Parser, one
// scanner, and one error list — only the compFn chain is per-function).
type Parser struct {
	sc scanner.Scanner

	chunkName string
	previous  token.Token
	current   token.Token

	hadError  bool
	panicMode bool
	errors    scanner.ErrorList

	cur *compFn // innermost compFn currently being built
}

// CompileError is returned by Compile when one or more syntax errors were
// reported; it carries every diagnostic accumulated across panic-mode
// recovery, not just the first, reusing scanner.ErrorList's Error()
// rendering (and Sort/RemoveMultiples, if callers want them) rather than a
// hand-rolled string slice.
type CompileError struct {
	Errors scanner.ErrorList
}

func (e *CompileError) Error() string { return e.Errors.Error() }

// Compile compiles source into a top-level Function ready to be wrapped in a
// closure and run. It returns a *CompileError (never a plain error) when
// compilation failed; the returned Function is nil in that case.
func Compile(source []byte, chunkName string) (*Function, error) {
	p := &Parser{chunkName: chunkName}
	p.sc.Init(source)

	top := &compFn{
		p:      p,
		fnType: fnScript,
		fn:     &Function{Name: chunkName},
	}
	// Slot 0 is reserved for the receiver / calling closure, matching
	// spec.md Invariant 2 ("a frame's first slot is the receiver, or an
	// unnamed placeholder for non-method calls").
	top.locals = append(top.locals, local{name: "", depth: 0})

	p.cur = top
	p.advance()

	for !p.check(token.EOF) {
		p.declaration()
	}

	fn := p.endCompiler()
	if p.hadError {
		return nil, &CompileError{Errors: p.errors}
	}
	return fn, nil
}

func (p *Parser) endCompiler() *Function {
	p.emitImplicitReturn()
	fn := p.cur.fn
	fn.UpvalueCount = len(p.cur.upvalues)
	p.cur = p.cur.enclosing
	return fn
}

// --- token stream plumbing ---

func (p *Parser) advance() {
	p.previous = p.current
	for {
		p.current = p.sc.Scan()
		if p.current.Kind != token.ILLEGAL {
			break
		}
		p.errorAtCurrent(p.current.Text)
	}
}

func (p *Parser) check(k token.Kind) bool { return p.current.Kind == k }

func (p *Parser) match(k token.Kind) bool {
	if !p.check(k) {
		return false
	}
	p.advance()
	return true
}

func (p *Parser) consume(k token.Kind, msg string) {
	if p.current.Kind == k {
		p.advance()
		return
	}
	p.errorAtCurrent(msg)
}

// --- error reporting & panic-mode recovery (spec.md §4.2 "Error recovery") ---

func (p *Parser) errorAtCurrent(msg string) { p.errorAt(p.current, msg) }
func (p *Parser) error(msg string)          { p.errorAt(p.previous, msg) }

func (p *Parser) errorAt(tok token.Token, msg string) {
	if p.panicMode {
		return
	}
	p.panicMode = true
	p.hadError = true

	lexeme := tok.Text
	if tok.Kind == token.EOF {
		lexeme = "EOF"
	}
	pos := gotoken.Position{Filename: p.chunkName, Line: tok.Line, Column: 1}
	p.errors.Add(pos, fmt.Sprintf("@ '%s': %s", lexeme, msg))
}

// synchronize skips tokens until a likely statement boundary, so a single
// syntax error doesn't cascade into a flood of spurious ones.
func (p *Parser) synchronize() {
	p.panicMode = false

	for p.current.Kind != token.EOF {
		if p.previous.Kind == token.SEMI {
			return
		}
		switch p.current.Kind {
		case token.CLASS, token.FUNCTION, token.VAR, token.FOR, token.IF,
			token.WHILE, token.PRINT, token.RETURN, token.TRY, token.THROW,
			token.IMPORT, token.NATIVE, token.EXPORT:
			return
		}
		p.advance()
	}
}

// --- bytecode emission helpers ---

func (p *Parser) chunk() *Chunk { return &p.cur.fn.Chunk }

func (p *Parser) emitByte(b byte) { p.chunk().write(b, p.previous.Line) }

func (p *Parser) emitOp(op Opcode) { p.emitByte(byte(op)) }

func (p *Parser) emitU16(v uint16) {
	p.emitByte(byte(v >> 8))
	p.emitByte(byte(v))
}

func (p *Parser) emitOpU16(op Opcode, v uint16) {
	p.emitOp(op)
	p.emitU16(v)
}

func (p *Parser) emitConstant(v any) {
	idx, err := p.chunk().addConstant(v)
	if err != nil {
		p.error(err.Error())
		return
	}
	p.emitOpU16(CONST, idx)
}

func (p *Parser) identifierConstant(name string) uint16 {
	idx, err := p.chunk().addConstant(name)
	if err != nil {
		p.error(err.Error())
	}
	return idx
}

// emitJump emits a jump opcode with a 16-bit placeholder operand and returns
// the offset of the placeholder's high byte, to be patched later.
func (p *Parser) emitJump(op Opcode) int {
	p.emitOp(op)
	p.emitU16(0xFFFF)
	return len(p.chunk().Code) - 2
}

// patchJump backfills the placeholder at offset with the distance from just
// after the placeholder to the current code position.
func (p *Parser) patchJump(offset int) {
	jump := len(p.chunk().Code) - offset - 2
	if jump > 0xFFFF {
		p.error("too much code to jump over")
		return
	}
	code := p.chunk().Code
	code[offset] = byte(jump >> 8)
	code[offset+1] = byte(jump)
}

// emitLoop emits a backward LOOP to loopStart.
func (p *Parser) emitLoop(loopStart int) {
	p.emitOp(LOOP)
	offset := len(p.chunk().Code) - loopStart + 2
	if offset > 0xFFFF {
		p.error("loop body too large")
	}
	p.emitU16(uint16(offset))
}

// emitImplicitReturn emits the return sequence for a bare `return;` or for
// falling off the end of a function body. A constructor implicitly returns
// its own receiver (slot 0) instead of null, so `new(...)` always yields the
// instance being built.
func (p *Parser) emitImplicitReturn() {
	if p.cur.fnType == fnConstructor {
		p.emitOpU16(GET_LOCAL, 0)
	} else {
		p.emitOp(NULL)
	}
	p.emitOp(RETURN)
}

// --- scope management ---

func (p *Parser) beginScope() { p.cur.scopeDepth++ }

func (p *Parser) endScope() {
	p.cur.scopeDepth--
	c := p.cur
	for len(c.locals) > 0 && c.locals[len(c.locals)-1].depth > c.scopeDepth {
		if c.locals[len(c.locals)-1].isCaptured {
			p.emitOp(CLOSE_UPVAL)
		} else {
			p.emitOp(POP)
		}
		c.locals = c.locals[:len(c.locals)-1]
	}
}
