package scanner

import "strings"

var simpleEscapes = map[rune]byte{
	'b':  '\b',
	'f':  '\f',
	'n':  '\n',
	'r':  '\r',
	't':  '\t',
	'v':  '\v',
	'\\': '\\',
	'\'': '\'',
	'"':  '"',
	'0':  0,
}

// stringLiteral scans a double-quoted string literal, which may span lines,
// and decodes its escapes. The opening quote has already been consumed by
// Scan; start is the offset of that opening quote. On success it returns the
// decoded value and an empty error string; otherwise it returns an empty
// value and a diagnostic message to be carried by an ILLEGAL token.
func (s *Scanner) stringLiteral(start, startLine int) (string, string) {
	var sb strings.Builder
	for {
		if s.cur == -1 {
			return "", "string literal not terminated"
		}
		if s.cur == '"' {
			s.advance()
			return sb.String(), ""
		}
		if s.cur == '\\' {
			s.advance()
			esc := s.cur
			b, ok := simpleEscapes[esc]
			if !ok {
				return "", "invalid escape sequence '\\" + string(esc) + "'"
			}
			s.advance()
			sb.WriteByte(b)
			continue
		}
		sb.WriteRune(s.cur)
		s.advance()
	}
}
