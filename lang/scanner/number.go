package scanner

// number scans a decimal number literal with an optional fractional part.
// Feline numbers have no sign and no exponent; the minus in "-1" is always
// the unary operator.
func (s *Scanner) number(start int) string {
	for isDigit(s.cur) {
		s.advance()
	}
	if s.cur == '.' && isDigit(rune(s.peekByte())) {
		s.advance() // consume '.'
		for isDigit(s.cur) {
			s.advance()
		}
	}
	return string(s.src[start:s.off])
}
