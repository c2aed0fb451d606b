package scanner_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/felinelang/feline/lang/scanner"
	"github.com/felinelang/feline/lang/token"
)

func scanAll(t *testing.T, src string) []token.Token {
	t.Helper()
	var s scanner.Scanner
	s.Init([]byte(src))
	var toks []token.Token
	for {
		tok := s.Scan()
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks
		}
	}
}

func kinds(toks []token.Token) []token.Kind {
	ks := make([]token.Kind, len(toks))
	for i, t := range toks {
		ks[i] = t.Kind
	}
	return ks
}

func TestScanPunctuationAndOperators(t *testing.T) {
	toks := scanAll(t, `(){}[] , . - + ; * : ! != = == < <= > >= && ||`)
	require.Equal(t, []token.Kind{
		token.LPAREN, token.RPAREN, token.LBRACE, token.RBRACE, token.LBRACK, token.RBRACK,
		token.COMMA, token.DOT, token.MINUS, token.PLUS, token.SEMI, token.STAR, token.COLON,
		token.BANG, token.BANG_EQ, token.EQ, token.EQ_EQ, token.LT, token.LT_EQ, token.GT, token.GT_EQ,
		token.AND_AND, token.OR_OR, token.EOF,
	}, kinds(toks))
}

func TestScanKeywordsVsIdentifiers(t *testing.T) {
	toks := scanAll(t, `class fnName function instanceof instanceofx`)
	require.Equal(t, []token.Kind{token.CLASS, token.IDENT, token.FUNCTION, token.INSTANCEOF, token.IDENT, token.EOF}, kinds(toks))
	require.Equal(t, "fnName", toks[1].Text)
	require.Equal(t, "instanceofx", toks[4].Text)
}

func TestScanNumberLiteral(t *testing.T) {
	toks := scanAll(t, `42 3.14 7.`)
	require.Equal(t, token.NUMBER, toks[0].Kind)
	require.Equal(t, "42", toks[0].Text)
	require.Equal(t, "3.14", toks[1].Text)
	// a trailing '.' with no following digit is not part of the number.
	require.Equal(t, "7", toks[2].Text)
	require.Equal(t, token.DOT, toks[3].Kind)
}

func TestScanStringLiteralEscapes(t *testing.T) {
	toks := scanAll(t, `"hello\nworld" "quote\"d" "back\\slash"`)
	require.Equal(t, token.STRING, toks[0].Kind)
	require.Equal(t, "hello\nworld", toks[0].Text)
	require.Equal(t, `quote"d`, toks[1].Text)
	require.Equal(t, `back\slash`, toks[2].Text)
}

func TestScanUnterminatedStringIsIllegal(t *testing.T) {
	toks := scanAll(t, `"never closes`)
	require.Equal(t, token.ILLEGAL, toks[0].Kind)
	require.Contains(t, toks[0].Text, "not terminated")
}

func TestScanInvalidEscapeIsIllegal(t *testing.T) {
	toks := scanAll(t, `"bad\qescape"`)
	require.Equal(t, token.ILLEGAL, toks[0].Kind)
	require.Contains(t, toks[0].Text, "invalid escape")
}

func TestScanSkipsLineComments(t *testing.T) {
	toks := scanAll(t, "var x = 1; // trailing comment\nvar y = 2;")
	require.Equal(t, []token.Kind{
		token.VAR, token.IDENT, token.EQ, token.NUMBER, token.SEMI,
		token.VAR, token.IDENT, token.EQ, token.NUMBER, token.SEMI, token.EOF,
	}, kinds(toks))
}

func TestScanLineNumbersAdvanceAcrossNewlines(t *testing.T) {
	toks := scanAll(t, "var x = 1;\n\nvar y = 2;")
	require.Equal(t, 1, toks[0].Line)
	lastVar := toks[5]
	require.Equal(t, token.VAR, lastVar.Kind)
	require.Equal(t, 3, lastVar.Line)
}

func TestScanEOFIsRepeatable(t *testing.T) {
	var s scanner.Scanner
	s.Init([]byte(""))
	first := s.Scan()
	second := s.Scan()
	require.Equal(t, token.EOF, first.Kind)
	require.Equal(t, token.EOF, second.Kind)
}
