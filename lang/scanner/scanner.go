// Some of the scanner package is adapted from the Go source code:
// https://cs.opensource.google/go/go/+/refs/tags/go1.22.1:src/go/scanner/scanner.go
//
// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package scanner implements the lexer that turns Feline source text into a
// lazy stream of tokens for the compiler.
package scanner

import (
	"fmt"
	"go/scanner"
	"unicode"
	"unicode/utf8"

	"github.com/felinelang/feline/lang/token"
)

// Error and ErrorList are reused from the standard library's go/scanner
// package rather than hand-rolled: a scan or parse error already has the
// shape go/scanner.Error models (a source position plus a message), and
// ErrorList gives callers sorting, deduplication, and a conventional
// "N errors" Error() rendering for free.
type (
	Error     = scanner.Error
	ErrorList = scanner.ErrorList
)

// Scanner produces a lazy token stream from a source string. Whitespace and
// "//" line comments are skipped. Scan never needs to be primed; the zero
// value is ready to use after a call to Init.
type Scanner struct {
	src []byte

	cur  rune // current character, -1 at end of file
	off  int  // byte offset of cur
	roff int  // byte offset right after cur
	line int  // 1-based line of cur
}

// Init prepares the scanner to tokenize src.
func (s *Scanner) Init(src []byte) {
	s.src = src
	s.cur = ' '
	s.off = 0
	s.roff = 0
	s.line = 1
	s.advance()
}

func (s *Scanner) peekByte() byte {
	if s.roff < len(s.src) {
		return s.src[s.roff]
	}
	return 0
}

func (s *Scanner) advance() {
	if s.cur == '\n' {
		s.line++
	}
	if s.roff >= len(s.src) {
		s.off = len(s.src)
		s.cur = -1
		return
	}
	s.off = s.roff
	r, w := rune(s.src[s.roff]), 1
	if r >= utf8.RuneSelf {
		r, w = utf8.DecodeRune(s.src[s.roff:])
	}
	s.roff += w
	s.cur = r
}

func (s *Scanner) advanceIf(b byte) bool {
	if s.cur == rune(b) {
		s.advance()
		return true
	}
	return false
}

// Scan returns the next token in the source. The terminal token is EOF; it
// is returned repeatedly on subsequent calls once reached. On an
// unrecognised character, Scan returns an ILLEGAL token whose Text is a
// human-readable diagnostic.
func (s *Scanner) Scan() token.Token {
	s.skipWhitespaceAndComments()

	start, line := s.off, s.line

	mk := func(kind token.Kind, text string) token.Token {
		return token.Token{Kind: kind, Start: start, Length: s.off - start, Line: line, Text: text}
	}

	switch cur := s.cur; {
	case isLetter(cur):
		lit := s.ident(start)
		kind := token.IDENT
		if kw, ok := token.Keywords[lit]; ok {
			kind = kw
		}
		return mk(kind, lit)

	case isDigit(cur):
		lit := s.number(start)
		return mk(token.NUMBER, lit)

	default:
		s.advance() // always make progress

		switch cur {
		case '(':
			return mk(token.LPAREN, "(")
		case ')':
			return mk(token.RPAREN, ")")
		case '{':
			return mk(token.LBRACE, "{")
		case '}':
			return mk(token.RBRACE, "}")
		case '[':
			return mk(token.LBRACK, "[")
		case ']':
			return mk(token.RBRACK, "]")
		case ',':
			return mk(token.COMMA, ",")
		case '.':
			return mk(token.DOT, ".")
		case '-':
			return mk(token.MINUS, "-")
		case '+':
			return mk(token.PLUS, "+")
		case ';':
			return mk(token.SEMI, ";")
		case '*':
			return mk(token.STAR, "*")
		case ':':
			return mk(token.COLON, ":")
		case '/':
			return mk(token.SLASH, "/")
		case '!':
			if s.advanceIf('=') {
				return mk(token.BANG_EQ, "!=")
			}
			return mk(token.BANG, "!")
		case '=':
			if s.advanceIf('=') {
				return mk(token.EQ_EQ, "==")
			}
			return mk(token.EQ, "=")
		case '<':
			if s.advanceIf('=') {
				return mk(token.LT_EQ, "<=")
			}
			return mk(token.LT, "<")
		case '>':
			if s.advanceIf('=') {
				return mk(token.GT_EQ, ">=")
			}
			return mk(token.GT, ">")
		case '"':
			lit, err := s.stringLiteral(start, line)
			if err != "" {
				return mk(token.ILLEGAL, err)
			}
			return mk(token.STRING, lit)
		case '&':
			if s.advanceIf('&') {
				return mk(token.AND_AND, "&&")
			}
			return mk(token.ILLEGAL, "unrecognised character '&'")
		case '|':
			if s.advanceIf('|') {
				return mk(token.OR_OR, "||")
			}
			return mk(token.ILLEGAL, "unrecognised character '|'")
		case -1:
			return mk(token.EOF, "")
		default:
			return mk(token.ILLEGAL, fmt.Sprintf("unrecognised character %q", cur))
		}
	}
}

func (s *Scanner) ident(start int) string {
	for isLetter(s.cur) || isDigit(s.cur) {
		s.advance()
	}
	return string(s.src[start:s.off])
}

func (s *Scanner) skipWhitespaceAndComments() {
	for {
		switch {
		case isWhitespace(s.cur):
			s.advance()
		case s.cur == '/' && s.peekByte() == '/':
			for s.cur != '\n' && s.cur != -1 {
				s.advance()
			}
		default:
			return
		}
	}
}

func isWhitespace(r rune) bool { return r == ' ' || r == '\t' || r == '\r' || r == '\n' }

func isLetter(r rune) bool {
	return 'a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || r == '_' ||
		r >= utf8.RuneSelf && unicode.IsLetter(r)
}

func isDigit(r rune) bool { return '0' <= r && r <= '9' }
