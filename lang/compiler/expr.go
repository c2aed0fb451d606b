package compiler

import (
	"strconv"

	"github.com/felinelang/feline/lang/token"
)

// Precedence levels, lowest to highest, per spec.md §4.2.
type Precedence int

const (
	PrecNone Precedence = iota
	PrecAssignment
	PrecOr
	PrecAnd
	PrecEquality
	PrecComparison
	PrecTerm
	PrecFactor
	PrecUnary
	PrecCall
	PrecPrimary
)

type prefixFn func(p *Parser, canAssign bool)
type infixFn func(p *Parser, canAssign bool)

type parseRule struct {
	prefix infixFn
	infix  infixFn
	prec   Precedence
}

var rules map[token.Kind]parseRule

func init() {
	rules = map[token.Kind]parseRule{
		token.LPAREN:     {prefix: grouping, infix: call, prec: PrecCall},
		token.LBRACK:     {prefix: listLiteral, infix: subscript, prec: PrecCall},
		token.LBRACE:     {prefix: objectLiteral, prec: PrecNone},
		token.DOT:        {infix: dot, prec: PrecCall},
		token.MINUS:      {prefix: unary, infix: binary, prec: PrecTerm},
		token.PLUS:       {infix: binary, prec: PrecTerm},
		token.SLASH:      {infix: binary, prec: PrecFactor},
		token.STAR:       {infix: binary, prec: PrecFactor},
		token.BANG:       {prefix: unary},
		token.BANG_EQ:    {infix: binary, prec: PrecEquality},
		token.EQ_EQ:      {infix: binary, prec: PrecEquality},
		token.GT:         {infix: binary, prec: PrecComparison},
		token.GT_EQ:      {infix: binary, prec: PrecComparison},
		token.LT:         {infix: binary, prec: PrecComparison},
		token.LT_EQ:      {infix: binary, prec: PrecComparison},
		token.INSTANCEOF: {infix: instanceofExpr, prec: PrecComparison},
		token.AND_AND:    {infix: and_, prec: PrecAnd},
		token.OR_OR:      {infix: or_, prec: PrecOr},
		token.IDENT:      {prefix: variable},
		token.NUMBER:     {prefix: number},
		token.STRING:     {prefix: stringLit},
		token.TRUE:       {prefix: literal},
		token.FALSE:      {prefix: literal},
		token.NULL:       {prefix: literal},
		token.THIS:       {prefix: this_},
		token.SUPER:      {prefix: super_},
	}
}

func getRule(k token.Kind) parseRule {
	if r, ok := rules[k]; ok {
		return r
	}
	return parseRule{}
}

// expression parses an expression whose operators bind at least as tightly
// as minPrec, propagating assignability top-down: only a prefix rule invoked
// at ≤ assignment precedence may consume a trailing '='.
func (p *Parser) expression(minPrec Precedence) {
	p.advance()
	rule := getRule(p.previous.Kind)
	if rule.prefix == nil {
		p.error("expected expression")
		return
	}
	canAssign := minPrec <= PrecAssignment
	rule.prefix(p, canAssign)

	for {
		rule = getRule(p.current.Kind)
		if minPrec > rule.prec {
			break
		}
		p.advance()
		rule.infix(p, canAssign)
	}

	if canAssign && p.match(token.EQ) {
		p.error("Invalid assignment target")
	}
}

func (p *Parser) expr() { p.expression(PrecAssignment) }

// --- prefix rules ---

func number(p *Parser, _ bool) {
	v, err := strconv.ParseFloat(p.previous.Text, 64)
	if err != nil {
		p.error("invalid number literal '" + p.previous.Text + "'")
		return
	}
	p.emitConstant(v)
}

func stringLit(p *Parser, _ bool) { p.emitConstant(p.previous.Text) }

func literal(p *Parser, _ bool) {
	switch p.previous.Kind {
	case token.TRUE:
		p.emitOp(TRUE)
	case token.FALSE:
		p.emitOp(FALSE)
	case token.NULL:
		p.emitOp(NULL)
	}
}

func grouping(p *Parser, _ bool) {
	p.expr()
	p.consume(token.RPAREN, "expected ')' after expression")
}

func unary(p *Parser, _ bool) {
	op := p.previous.Kind
	p.expression(PrecUnary)
	switch op {
	case token.MINUS:
		p.emitOp(NEG)
	case token.BANG:
		p.emitOp(NOT)
	}
}

func variable(p *Parser, canAssign bool) {
	p.namedVariable(p.previous.Text, canAssign)
}

func this_(p *Parser, _ bool) {
	if p.cur.class == nil {
		p.error("'this' used outside of a class")
		return
	}
	p.namedVariable("this", false)
}

func super_(p *Parser, _ bool) {
	if p.cur.class == nil {
		p.error("'super' used outside of a class")
		return
	}
	if !p.cur.class.hasSuperclass {
		p.error("'super' used in a class with no superclass")
		return
	}
	p.consume(token.DOT, "expected '.' after 'super'")
	p.consume(token.IDENT, "expected superclass method name")
	name := p.identifierConstant(p.previous.Text)

	p.namedVariable("this", false)
	if p.match(token.LPAREN) {
		argc := p.argumentList()
		p.namedVariable("super", false)
		p.emitOp(SUPER_INVOKE)
		p.emitU16(name)
		p.emitByte(argc)
		return
	}
	p.namedVariable("super", false)
	p.emitOpU16(GET_SUPER, name)
}

// listLiteral compiles `[e1, e2, ...]`.
func listLiteral(p *Parser, _ bool) {
	count := 0
	if !p.check(token.RBRACK) {
		for {
			p.expr()
			count++
			if count > 0xFFFF {
				p.error("too many elements in list literal")
			}
			if !p.match(token.COMMA) {
				break
			}
			if p.check(token.RBRACK) {
				break
			}
		}
	}
	p.consume(token.RBRACK, "expected ']' after list elements")
	p.emitOpU16(LIST, uint16(count))
}

// objectLiteral compiles `{ key: value, ident, "lit": v, ... }` into a
// CREATE_OBJECT followed by a SET_PROP_KV per entry, per spec.md §4.2: a bare
// `ident` with no ':' expands to `ident: ident`.
func objectLiteral(p *Parser, _ bool) {
	p.emitOp(CREATE_OBJECT)
	if !p.check(token.RBRACE) {
		for {
			var name string
			switch {
			case p.match(token.STRING):
				name = p.previous.Text
			case p.match(token.IDENT):
				name = p.previous.Text
			default:
				p.errorAtCurrent("expected property name")
				return
			}
			key := p.identifierConstant(name)
			if p.match(token.COLON) {
				p.expr()
			} else {
				p.namedVariable(name, false)
			}
			p.emitOpU16(SET_PROP_KV, key)
			if !p.match(token.COMMA) {
				break
			}
			if p.check(token.RBRACE) {
				break
			}
		}
	}
	p.consume(token.RBRACE, "expected '}' after object literal")
}

// --- infix rules ---

func binary(p *Parser, _ bool) {
	op := p.previous.Kind
	rule := getRule(op)
	p.expression(rule.prec + 1)

	switch op {
	case token.PLUS:
		p.emitOp(ADD)
	case token.MINUS:
		p.emitOp(SUB)
	case token.STAR:
		p.emitOp(MUL)
	case token.SLASH:
		p.emitOp(DIV)
	case token.BANG_EQ:
		p.emitOp(NE)
	case token.EQ_EQ:
		p.emitOp(EQ)
	case token.GT:
		p.emitOp(GT)
	case token.GT_EQ:
		p.emitOp(GE)
	case token.LT:
		p.emitOp(LT)
	case token.LT_EQ:
		p.emitOp(LE)
	}
}

func instanceofExpr(p *Parser, _ bool) {
	p.expression(PrecComparison + 1)
	p.emitOp(INSTANCEOF)
}

// and_ / or_ implement short-circuit evaluation: the left operand's
// truthiness is peeked (not popped) to decide whether to skip the right
// operand entirely; otherwise the left value is discarded and the right
// operand becomes the expression's value.
func and_(p *Parser, _ bool) {
	endJump := p.emitJump(JUMP_FALSE_SC)
	p.emitOp(POP)
	p.expression(PrecAnd)
	p.patchJump(endJump)
}

func or_(p *Parser, _ bool) {
	endJump := p.emitJump(JUMP_TRUE_SC)
	p.emitOp(POP)
	p.expression(PrecOr)
	p.patchJump(endJump)
}

// argumentList compiles a parenthesized call argument list; the opening '('
// has already been consumed by the caller.
func (p *Parser) argumentList() byte {
	argc := 0
	if !p.check(token.RPAREN) {
		for {
			p.expr()
			if argc == 255 {
				p.error("too many call arguments (max 255)")
			} else {
				argc++
			}
			if !p.match(token.COMMA) {
				break
			}
		}
	}
	p.consume(token.RPAREN, "expected ')' after arguments")
	return byte(argc)
}

func call(p *Parser, _ bool) {
	argc := p.argumentList()
	p.emitOp(CALL)
	p.emitByte(argc)
}

// dot compiles `.name`, `.name(...)` or `.name = value`, fast-pathing the
// call form to INVOKE per spec.md §4.2.
func dot(p *Parser, canAssign bool) {
	p.consume(token.IDENT, "expected property name after '.'")
	name := p.identifierConstant(p.previous.Text)

	switch {
	case p.match(token.LPAREN):
		argc := p.argumentList()
		p.emitOp(INVOKE)
		p.emitU16(name)
		p.emitByte(argc)
	case canAssign && p.match(token.EQ):
		p.expr()
		p.emitOpU16(SET_PROP, name)
	default:
		p.emitOpU16(GET_PROP, name)
	}
}

// subscript compiles `[index]`, either as a read or, if followed by '=' at
// assignment precedence, as a write.
func subscript(p *Parser, canAssign bool) {
	p.expr()
	p.consume(token.RBRACK, "expected ']' after subscript index")
	if canAssign && p.match(token.EQ) {
		p.expr()
		p.emitOp(SET_SUBSCRIPT)
		return
	}
	p.emitOp(GET_SUBSCRIPT)
}
