package optimizer

// A small lexer for PDF content streams. It produces just enough structure
// for the optimizer passes: operand tokens with their raw byte spans, operator
// keywords, and inline images as single opaque tokens.

type tokenKind int

const (
	tokOperator tokenKind = iota
	tokName
	tokNumber
	tokString
	tokArrayOpen
	tokArrayClose
	tokDictOpen
	tokDictClose
	tokInlineImage
)

type token struct {
	kind tokenKind
	// start and end delimit the token's raw bytes in the source stream.
	start, end int
	// op holds the keyword for operators, the decoded value for names.
	op string
	// str holds the decoded bytes of string tokens.
	str []byte
}

func isWhitespace(b byte) bool {
	switch b {
	case 0x00, 0x09, 0x0a, 0x0c, 0x0d, 0x20:
		return true
	}
	return false
}

func isDelimiter(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

type contentLexer struct {
	src []byte
	pos int
}

func (l *contentLexer) skipSpace() {
	for l.pos < len(l.src) {
		b := l.src[l.pos]
		if isWhitespace(b) {
			l.pos++
			continue
		}
		if b == '%' {
			for l.pos < len(l.src) && l.src[l.pos] != '\n' && l.src[l.pos] != '\r' {
				l.pos++
			}
			continue
		}
		return
	}
}

// next returns the next token, or false at end of stream. Malformed trailing
// bytes terminate the scan rather than erroring; content streams in the wild
// are routinely sloppy.
func (l *contentLexer) next() (token, bool) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return token{}, false
	}

	start := l.pos
	b := l.src[l.pos]

	switch {
	case b == '(':
		str := l.literalString()
		return token{kind: tokString, start: start, end: l.pos, str: str}, true
	case b == '<':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '<' {
			l.pos += 2
			return token{kind: tokDictOpen, start: start, end: l.pos}, true
		}
		str := l.hexString()
		return token{kind: tokString, start: start, end: l.pos, str: str}, true
	case b == '>':
		if l.pos+1 < len(l.src) && l.src[l.pos+1] == '>' {
			l.pos += 2
			return token{kind: tokDictClose, start: start, end: l.pos}, true
		}
		l.pos++ // stray delimiter, treat as operator noise
		return token{kind: tokOperator, start: start, end: l.pos, op: ">"}, true
	case b == '[':
		l.pos++
		return token{kind: tokArrayOpen, start: start, end: l.pos}, true
	case b == ']':
		l.pos++
		return token{kind: tokArrayClose, start: start, end: l.pos}, true
	case b == '/':
		l.pos++
		name := l.regularRun()
		return token{kind: tokName, start: start, end: l.pos, op: decodeName(name)}, true
	case b == '+' || b == '-' || b == '.' || (b >= '0' && b <= '9'):
		l.regularRun()
		return token{kind: tokNumber, start: start, end: l.pos}, true
	case b == '{' || b == '}':
		l.pos++
		return token{kind: tokOperator, start: start, end: l.pos, op: string(b)}, true
	default:
		kw := l.regularRun()
		if kw == "" {
			l.pos++ // unknown delimiter, skip it
			return l.next()
		}
		if kw == "BI" {
			end, ok := l.inlineImageEnd()
			if ok {
				l.pos = end
				return token{kind: tokInlineImage, start: start, end: end}, true
			}
		}
		return token{kind: tokOperator, start: start, end: l.pos, op: kw}, true
	}
}

// regularRun consumes a run of regular characters starting at the current
// position and returns it.
func (l *contentLexer) regularRun() string {
	start := l.pos
	for l.pos < len(l.src) {
		b := l.src[l.pos]
		if isWhitespace(b) || isDelimiter(b) {
			break
		}
		l.pos++
	}
	return string(l.src[start:l.pos])
}

// literalString consumes a ( ... ) string and returns its decoded bytes.
func (l *contentLexer) literalString() []byte {
	var out []byte
	depth := 0
	for l.pos < len(l.src) {
		b := l.src[l.pos]
		switch b {
		case '(':
			depth++
			if depth > 1 {
				out = append(out, b)
			}
			l.pos++
		case ')':
			depth--
			l.pos++
			if depth == 0 {
				return out
			}
			out = append(out, b)
		case '\\':
			l.pos++
			if l.pos >= len(l.src) {
				return out
			}
			e := l.src[l.pos]
			l.pos++
			switch e {
			case 'n':
				out = append(out, '\n')
			case 'r':
				out = append(out, '\r')
			case 't':
				out = append(out, '\t')
			case 'b':
				out = append(out, '\b')
			case 'f':
				out = append(out, '\f')
			case '\n':
				// line continuation
			case '\r':
				if l.pos < len(l.src) && l.src[l.pos] == '\n' {
					l.pos++
				}
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.src); i++ {
						c := l.src[l.pos]
						if c < '0' || c > '7' {
							break
						}
						v = v*8 + int(c-'0')
						l.pos++
					}
					out = append(out, byte(v))
				} else {
					out = append(out, e)
				}
			}
		default:
			out = append(out, b)
			l.pos++
		}
	}
	return out
}

// hexString consumes a < ... > string and returns its decoded bytes.
func (l *contentLexer) hexString() []byte {
	l.pos++ // consume '<'
	var out []byte
	var hi byte
	haveHi := false
	for l.pos < len(l.src) {
		b := l.src[l.pos]
		l.pos++
		if b == '>' {
			break
		}
		v, ok := hexVal(b)
		if !ok {
			continue
		}
		if haveHi {
			out = append(out, hi<<4|v)
			haveHi = false
		} else {
			hi = v
			haveHi = true
		}
	}
	if haveHi {
		out = append(out, hi<<4) // odd digit count, low nibble is zero
	}
	return out
}

func hexVal(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	}
	return 0, false
}

// decodeName resolves #xx escapes inside a name token.
func decodeName(s string) string {
	if len(s) == 0 {
		return s
	}
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '#' && i+2 < len(s) {
			hi, ok1 := hexVal(s[i+1])
			lo, ok2 := hexVal(s[i+2])
			if ok1 && ok2 {
				out = append(out, hi<<4|lo)
				i += 2
				continue
			}
		}
		out = append(out, s[i])
	}
	return string(out)
}

// inlineImageEnd scans forward from just past a BI keyword and returns the
// offset one past the closing EI, or false when no well-formed terminator is
// found.
func (l *contentLexer) inlineImageEnd() (int, bool) {
	// Skip the parameter dictionary up to the ID keyword.
	i := l.pos
	for i+1 < len(l.src) {
		if l.src[i] == 'I' && l.src[i+1] == 'D' &&
			(i == 0 || isWhitespace(l.src[i-1]) || isDelimiter(l.src[i-1])) {
			i += 2
			break
		}
		i++
	}
	if i+1 >= len(l.src) {
		return 0, false
	}
	// One whitespace byte separates ID from the binary data.
	if i < len(l.src) && isWhitespace(l.src[i]) {
		i++
	}
	// Find EI preceded by whitespace and followed by whitespace or EOF.
	for ; i+1 < len(l.src); i++ {
		if l.src[i] != 'E' || l.src[i+1] != 'I' {
			continue
		}
		if i > 0 && !isWhitespace(l.src[i-1]) {
			continue
		}
		if i+2 < len(l.src) && !isWhitespace(l.src[i+2]) && !isDelimiter(l.src[i+2]) {
			continue
		}
		return i + 2, true
	}
	return 0, false
}
