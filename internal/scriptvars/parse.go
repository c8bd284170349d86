package scriptvars

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Parse scans a script for top-level assignments (`var a = expr;`, `a = expr;`,
// `var a = 1, b = 2;`) whose right-hand side is a literal: a string, number, boolean,
// null, array, or object with quoted or bare keys. Any other statement is skipped.
func Parse(src string) map[string]any {
	p := &parser{src: src}
	vars := make(map[string]any)

	for {
		p.skipSpace()
		if p.eof() {
			return vars
		}
		if p.peek() == ';' {
			p.pos++
			continue
		}

		start := p.pos
		if !p.parseAssignments(vars) {
			p.pos = start
			p.skipStatement()
		}
	}
}

type parser struct {
	src string
	pos int
}

func (p *parser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *parser) peek() byte {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

// parseAssignments parses one assignment statement into vars.
// It returns false when the statement is not one; declarations before the
// failing one in a comma list are kept.
func (p *parser) parseAssignments(vars map[string]any) bool {
	name := p.identifier()
	if name == "" {
		return false
	}
	if name == "var" || name == "let" || name == "const" {
		p.skipSpace()
		name = p.identifier()
		if name == "" {
			return false
		}
	}

	for {
		p.skipSpace()
		if p.peek() != '=' || strings.HasPrefix(p.src[p.pos:], "==") {
			return false
		}
		p.pos++
		p.skipSpace()

		value, err := p.value()
		if err != nil {
			return false
		}

		p.skipSpace()
		switch {
		case p.eof():
			vars[name] = value
			return true
		case p.peek() == ';':
			p.pos++
			vars[name] = value
			return true
		case p.peek() == ',':
			p.pos++
			vars[name] = value
			p.skipSpace()
			if name = p.identifier(); name == "" {
				return false
			}
		default:
			// Statements may also end at a line break
			if strings.ContainsRune(p.src[p.lastNonSpace():p.pos], '\n') {
				vars[name] = value
				return true
			}
			return false
		}
	}
}

// lastNonSpace returns the offset just past the last non-space byte before pos
func (p *parser) lastNonSpace() int {
	i := p.pos
	for i > 0 && isSpace(p.src[i-1]) {
		i--
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// skipSpace skips whitespace and comments
func (p *parser) skipSpace() {
	for !p.eof() {
		c := p.src[p.pos]
		switch {
		case isSpace(c):
			p.pos++
		case strings.HasPrefix(p.src[p.pos:], "//"):
			if i := strings.IndexByte(p.src[p.pos:], '\n'); i >= 0 {
				p.pos += i + 1
			} else {
				p.pos = len(p.src)
			}
		case strings.HasPrefix(p.src[p.pos:], "/*"):
			if i := strings.Index(p.src[p.pos+2:], "*/"); i >= 0 {
				p.pos += i + 4
			} else {
				p.pos = len(p.src)
			}
		default:
			return
		}
	}
}

func (p *parser) identifier() string {
	if p.eof() || !isIdentStart(p.peek()) {
		return ""
	}
	start := p.pos
	for !p.eof() && isIdentPart(p.peek()) {
		p.pos++
	}
	return p.src[start:p.pos]
}

// skipStatement advances past the current statement: up to a ';' at nesting depth
// zero, or the '}' that closes a top-level block.
func (p *parser) skipStatement() {
	depth := 0
	for !p.eof() {
		p.skipSpace()
		if p.eof() {
			return
		}
		c := p.src[p.pos]
		switch c {
		case '"', '\'', '`':
			if _, err := p.str(); err != nil {
				p.pos = len(p.src)
			}
			continue
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
			if depth <= 0 && c == '}' {
				p.pos++
				return
			}
		case ';':
			if depth <= 0 {
				p.pos++
				return
			}
		}
		p.pos++
	}
}

// value parses a literal expression
func (p *parser) value() (any, error) {
	if p.eof() {
		return nil, fmt.Errorf("unexpected end of script at %d", p.pos)
	}
	switch c := p.peek(); {
	case c == '{':
		return p.object()
	case c == '[':
		return p.array()
	case c == '"' || c == '\'':
		return p.str()
	case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
		return p.number()
	case isIdentStart(c):
		switch word := p.identifier(); word {
		case "true":
			return true, nil
		case "false":
			return false, nil
		case "null", "undefined":
			return nil, nil
		default:
			return nil, fmt.Errorf("unsupported expression %q at %d", word, p.pos)
		}
	default:
		return nil, fmt.Errorf("unexpected %q at %d", c, p.pos)
	}
}

func (p *parser) object() (any, error) {
	p.pos++ // {
	obj := make(map[string]any)
	for {
		p.skipSpace()
		if p.peek() == '}' {
			p.pos++
			return obj, nil
		}

		var key string
		switch c := p.peek(); {
		case c == '"' || c == '\'':
			k, err := p.str()
			if err != nil {
				return nil, err
			}
			key = k
		case isIdentStart(c):
			key = p.identifier()
		case c >= '0' && c <= '9':
			start := p.pos
			for !p.eof() && p.peek() >= '0' && p.peek() <= '9' {
				p.pos++
			}
			key = p.src[start:p.pos]
		default:
			return nil, fmt.Errorf("invalid object key at %d", p.pos)
		}

		p.skipSpace()
		if p.peek() != ':' {
			return nil, fmt.Errorf("expected ':' at %d", p.pos)
		}
		p.pos++
		p.skipSpace()

		v, err := p.value()
		if err != nil {
			return nil, err
		}
		obj[key] = v

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '}':
			p.pos++
			return obj, nil
		default:
			return nil, fmt.Errorf("expected ',' or '}' at %d", p.pos)
		}
	}
}

func (p *parser) array() (any, error) {
	p.pos++ // [
	arr := make([]any, 0)
	for {
		p.skipSpace()
		if p.peek() == ']' {
			p.pos++
			return arr, nil
		}

		v, err := p.value()
		if err != nil {
			return nil, err
		}
		arr = append(arr, v)

		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case ']':
			p.pos++
			return arr, nil
		default:
			return nil, fmt.Errorf("expected ',' or ']' at %d", p.pos)
		}
	}
}

func (p *parser) number() (any, error) {
	start := p.pos
	for !p.eof() {
		c := p.peek()
		if (c >= '0' && c <= '9') || c == '.' || c == 'e' || c == 'E' || c == '-' || c == '+' {
			p.pos++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number at %d: %w", start, err)
	}
	return f, nil
}

// str parses a quoted string literal, decoding escapes
func (p *parser) str() (string, error) {
	quote := p.peek()
	start := p.pos
	p.pos++

	var b strings.Builder
	for !p.eof() {
		c := p.src[p.pos]
		switch {
		case c == quote:
			p.pos++
			return b.String(), nil
		case c == '\\':
			if p.pos+1 >= len(p.src) {
				return "", fmt.Errorf("unterminated string at %d", start)
			}
			p.pos++
			if err := p.escape(&b); err != nil {
				return "", err
			}
		default:
			r, size := utf8.DecodeRuneInString(p.src[p.pos:])
			b.WriteRune(r)
			p.pos += size
		}
	}
	return "", fmt.Errorf("unterminated string at %d", start)
}

// escape decodes the escape sequence at pos (just past the backslash)
func (p *parser) escape(b *strings.Builder) error {
	c := p.src[p.pos]
	p.pos++
	switch c {
	case 'n':
		b.WriteByte('\n')
	case 't':
		b.WriteByte('\t')
	case 'r':
		b.WriteByte('\r')
	case 'b':
		b.WriteByte('\b')
	case 'f':
		b.WriteByte('\f')
	case 'v':
		b.WriteByte('\v')
	case '0':
		b.WriteByte(0)
	case '\n':
		// Line continuation
	case 'u', 'x':
		n := 4
		if c == 'x' {
			n = 2
		}
		if p.pos+n > len(p.src) {
			return fmt.Errorf("truncated escape at %d", p.pos)
		}
		code, err := strconv.ParseUint(p.src[p.pos:p.pos+n], 16, 32)
		if err != nil {
			return fmt.Errorf("invalid escape at %d: %w", p.pos, err)
		}
		b.WriteRune(rune(code))
		p.pos += n
	default:
		// \\ \/ \" \' and unknown escapes stand for the character itself
		p.pos--
		r, size := utf8.DecodeRuneInString(p.src[p.pos:])
		b.WriteRune(r)
		p.pos += size
	}
	return nil
}
